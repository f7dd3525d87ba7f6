// Package clockutil provides a Clock/Timer abstraction over the time
// package and the Backoff helper that restartpolicy uses. The debounce,
// sampling and snapshot timers elsewhere in the module use the time package
// directly, not Clock.
package clockutil

import "time"

// Clock abstracts time so that timing logic built on it can be driven by a
// fake clock in tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
}

// Timer mirrors the subset of time.Timer used by callers, so a fake clock
// can hand back a controllable channel.
type Timer interface {
	C() <-chan time.Time
	Reset(d time.Duration) bool
	Stop() bool
}

type realClock struct{}

// Real returns the production clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) Sleep(d time.Duration)                  { time.Sleep(d) }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) NewTimer(d time.Duration) Timer         { return &realTimer{t: time.NewTimer(d)} }

type realTimer struct{ t *time.Timer }

func (r *realTimer) C() <-chan time.Time      { return r.t.C }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }
func (r *realTimer) Stop() bool                 { return r.t.Stop() }

// Backoff computes the exponential restart delay: min(minDelay*2^attempts,
// maxDelay). attempts is the zero-based number of consecutive restarts
// already made since the last successful run.
func Backoff(minDelay, maxDelay time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 30 { // guard against overflow on the shift below
		attempts = 30
	}
	d := minDelay << attempts
	if d <= 0 || d > maxDelay {
		return maxDelay
	}
	return d
}
