// Package clock abstracts wall-clock and monotonic time so that queue,
// progress and cleanup behaviour can be tested without sleeping.
package clock

import "time"

// Clock provides the two time sources the core needs: wall-clock instants
// for persisted timestamps and monotonic measurements for intervals.
type Clock interface {
	// Now returns the current wall-clock time in UTC.
	Now() time.Time
	// Since returns the monotonic duration elapsed since t.
	Since(t time.Time) time.Duration
	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) *time.Ticker
}

// Real is the production clock backed by the time package.
type Real struct{}

// New returns the production clock.
func New() Real { return Real{} }

func (Real) Now() time.Time                          { return time.Now().UTC() }
func (Real) Since(t time.Time) time.Duration         { return time.Since(t) }
func (Real) NewTicker(d time.Duration) *time.Ticker  { return time.NewTicker(d) }
