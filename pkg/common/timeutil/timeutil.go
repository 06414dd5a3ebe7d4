// Package timeutil provides an injectable source of time and timers so that
// time-dependent components can be driven deterministically in tests.
package timeutil

import "time"

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was already stopped.
	Stop() bool
}

// Provider abstracts wall-clock time and timer scheduling.
type Provider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	AfterFunc(d time.Duration, f func()) Timer
}

type realProvider struct{}

// Default returns a Provider backed by the time package.
func Default() Provider { return realProvider{} }

func (realProvider) Now() time.Time                  { return time.Now() }
func (realProvider) Since(t time.Time) time.Duration { return time.Since(t) }
func (realProvider) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
