package util

import "testing"

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "shorter than max", input: "short", maxLen: 10, want: "short"},
		{name: "exact length", input: "exact", maxLen: 5, want: "exact"},
		{name: "truncated", input: "https://very.long.example/path", maxLen: 12, want: "https://very"},
		{name: "zero", input: "anything", maxLen: 0, want: ""},
		{name: "negative", input: "anything", maxLen: -1, want: ""},
		{name: "empty", input: "", maxLen: 3, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestHashForLogging(t *testing.T) {
	if got := HashForLogging(""); got != "<empty>" {
		t.Errorf("HashForLogging(\"\") = %q, want <empty>", got)
	}

	a := HashForLogging("user-123")
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
	if a != HashForLogging("user-123") {
		t.Error("hash must be deterministic")
	}
	if a == HashForLogging("user-456") {
		t.Error("different inputs should hash differently")
	}
}

func TestIsLoopbackHostname(t *testing.T) {
	tests := []struct {
		hostname string
		want     bool
	}{
		{"localhost", true},
		{"LOCALHOST", true},
		{"127.0.0.1", true},
		{"127.10.0.1", true},
		{"::1", true},
		{"[::1]", true},
		{"0.0.0.0", false},
		{"10.0.0.1", false},
		{"example.com", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			if got := IsLoopbackHostname(tt.hostname); got != tt.want {
				t.Errorf("IsLoopbackHostname(%q) = %v, want %v", tt.hostname, got, tt.want)
			}
		})
	}
}

func TestIsPrivateHostname(t *testing.T) {
	tests := []struct {
		hostname string
		want     bool
	}{
		{"localhost", true},
		{"10.1.2.3", true},
		{"192.168.0.10", true},
		{"172.16.0.1", true},
		{"fd00::1", true},
		{"8.8.8.8", false},
		{"intranet", false},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			if got := IsPrivateHostname(tt.hostname); got != tt.want {
				t.Errorf("IsPrivateHostname(%q) = %v, want %v", tt.hostname, got, tt.want)
			}
		})
	}
}
