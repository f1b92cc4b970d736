// Package scheduler abstracts delayed execution so polling and backoff logic
// can run against a deterministic clock in tests.
package scheduler

import (
	"sync"
	"time"
)

// Cancel stops a scheduled call. Cancelling after the call has fired is a
// no-op. Safe to call more than once.
type Cancel func()

// Scheduler runs a function once after a delay.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) Cancel
}

// Timer is the production Scheduler backed by the runtime timer heap.
type Timer struct{}

// NewTimer creates a Timer.
func NewTimer() *Timer {
	return &Timer{}
}

// Schedule runs fn once after delay on its own goroutine.
func (*Timer) Schedule(delay time.Duration, fn func()) Cancel {
	t := time.AfterFunc(delay, fn)
	return func() { t.Stop() }
}

// Fake is a manually advanced Scheduler for tests. Scheduled functions run
// synchronously inside Advance, in due order.
type Fake struct {
	mu      sync.Mutex
	now     time.Duration
	pending []*fakeEntry
}

type fakeEntry struct {
	at        time.Duration
	fn        func()
	cancelled bool
}

// NewFake creates a Fake at time zero.
func NewFake() *Fake {
	return &Fake{}
}

// Schedule registers fn to run when the fake clock reaches now+delay.
func (f *Fake) Schedule(delay time.Duration, fn func()) Cancel {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := &fakeEntry{at: f.now + delay, fn: fn}
	f.pending = append(f.pending, e)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		e.cancelled = true
	}
}

// Pending reports how many scheduled calls have not yet fired or been
// cancelled.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, e := range f.pending {
		if !e.cancelled {
			n++
		}
	}
	return n
}

// Advance moves the fake clock forward by d, firing every due call in order.
// Calls scheduled by a firing callback run in the same pass when they fall
// within the advanced window. Advance may be re-entered from a firing
// callback; the clock never moves backwards.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now + d
	f.mu.Unlock()

	for {
		f.mu.Lock()
		idx := -1
		for i, e := range f.pending {
			if e.cancelled || e.at > target {
				continue
			}
			if idx == -1 || e.at < f.pending[idx].at {
				idx = i
			}
		}
		if idx == -1 {
			if target > f.now {
				f.now = target
			}
			f.mu.Unlock()
			return
		}
		e := f.pending[idx]
		if e.at > f.now {
			f.now = e.at
		}
		f.pending = append(f.pending[:idx], f.pending[idx+1:]...)
		f.mu.Unlock()

		e.fn()
	}
}
