package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultMaxEntries      = 10000
	DefaultIdleTimeout     = 30 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
)

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate per identifier
	RequestsPerSecond float64

	// Burst is the bucket size per identifier
	Burst int

	// MaxEntries bounds the number of tracked identifiers; the least recently
	// used one is evicted when full. 0 means DefaultMaxEntries.
	MaxEntries int

	// IdleTimeout drops identifiers not seen for this long. Default: 30m.
	IdleTimeout time.Duration

	// CleanupInterval is how often idle identifiers are swept. Default: 5m.
	CleanupInterval time.Duration

	Logger *slog.Logger

	// Now overrides time.Now, for tests
	Now func() time.Time
}

type limiterEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a per-identifier token bucket limiter (usually keyed by
// client IP) with LRU eviction so an attacker rotating addresses cannot
// grow it without bound.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*list.Element
	lru      *list.List

	limit       rate.Limit
	burst       int
	maxEntries  int
	idleTimeout time.Duration
	interval    time.Duration
	now         func() time.Time
	logger      *slog.Logger

	evictions int64

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewRateLimiter creates a limiter and starts its cleanup loop.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		limiters:    make(map[string]*list.Element),
		lru:         list.New(),
		limit:       rate.Limit(cfg.RequestsPerSecond),
		burst:       cfg.Burst,
		maxEntries:  cfg.MaxEntries,
		idleTimeout: cfg.IdleTimeout,
		interval:    cfg.CleanupInterval,
		now:         cfg.Now,
		logger:      cfg.Logger,
		stopCleanup: make(chan struct{}),
	}
	if rl.maxEntries <= 0 {
		rl.maxEntries = DefaultMaxEntries
	}
	if rl.idleTimeout <= 0 {
		rl.idleTimeout = DefaultIdleTimeout
	}
	if rl.interval <= 0 {
		rl.interval = DefaultCleanupInterval
	}
	if rl.burst <= 0 {
		rl.burst = 1
	}
	if rl.now == nil {
		rl.now = time.Now
	}
	if rl.logger == nil {
		rl.logger = slog.Default()
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether identifier may make another request now.
func (rl *RateLimiter) Allow(identifier string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.limiters[identifier]; ok {
		rl.lru.MoveToFront(elem)
		entry := elem.Value.(*limiterEntry)
		entry.lastAccess = now
		return entry.limiter.AllowN(now, 1)
	}

	if len(rl.limiters) >= rl.maxEntries {
		rl.evictOldest()
	}

	entry := &limiterEntry{
		identifier: identifier,
		limiter:    rate.NewLimiter(rl.limit, rl.burst),
		lastAccess: now,
	}
	rl.limiters[identifier] = rl.lru.PushFront(entry)

	return entry.limiter.AllowN(now, 1)
}

// must hold rl.mu
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*limiterEntry)
	delete(rl.limiters, entry.identifier)
	rl.lru.Remove(elem)
	rl.evictions++

	rl.logger.Debug("Rate limiter LRU eviction",
		"total_evictions", rl.evictions,
		"current_entries", len(rl.limiters))
}

// Len returns the number of tracked identifiers
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Evictions returns how many identifiers were dropped to stay under MaxEntries
func (rl *RateLimiter) Evictions() int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.evictions
}

// Stop ends the cleanup loop. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup walks from the least recently used end and stops at the first
// entry that is still active.
func (rl *RateLimiter) cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for elem := rl.lru.Back(); elem != nil; {
		entry := elem.Value.(*limiterEntry)
		if now.Sub(entry.lastAccess) <= rl.idleTimeout {
			break
		}
		prev := elem.Prev()
		delete(rl.limiters, entry.identifier)
		rl.lru.Remove(elem)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.limiters))
	}
	return removed
}
