// Package auth wraps a core.AuthProvider with the startup retry policy from
// spec.md §6: exponential backoff (1s, 4s, 16s, 64s, 256s) on a "connection
// failed" error, anything else fatal.
package auth

import (
	"fmt"
	"strings"
	"time"

	"pdsync/internal/core"
)

// backoffDelays is the literal delay sequence spec.md §6 names.
var backoffDelays = []time.Duration{
	1 * time.Second,
	4 * time.Second,
	16 * time.Second,
	64 * time.Second,
	256 * time.Second,
}

// RetryingProvider decorates a core.AuthProvider with the backoff policy.
// It is itself a core.AuthProvider, so callers can use it as a drop-in
// replacement for the underlying implementation.
type RetryingProvider struct {
	inner core.AuthProvider
	sleep func(time.Duration)
}

// New wraps inner with the standard backoff schedule.
func New(inner core.AuthProvider) *RetryingProvider {
	return &RetryingProvider{inner: inner, sleep: time.Sleep}
}

// Login attempts inner.Login, retrying on "connection failed" errors per
// the schedule above. Any other error is returned immediately as fatal.
func (p *RetryingProvider) Login() (core.Client, error) {
	client, err := p.inner.Login()
	if err == nil {
		return client, nil
	}

	for _, delay := range backoffDelays {
		if !isConnectionFailed(err) {
			return nil, err
		}
		p.sleep(delay)
		client, err = p.inner.Login()
		if err == nil {
			return client, nil
		}
	}
	return nil, fmt.Errorf("authentication failed after %d retries: %w", len(backoffDelays), err)
}

func isConnectionFailed(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "connection failed")
}
