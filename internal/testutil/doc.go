// Package testutil provides testing utilities, fakes, and deterministic time and
// randomness sources for the portal packages.
package testutil
