// Package clock provides the monotonic time source and periodic task
// scheduler shared by every module (§4.A component C, §5, §9 "replace
// coroutine-like async flows with an explicit scheduled wake-up").
//
// Every timer in the system — probe intervals, batch flush deadlines,
// dialog timeouts, cool-off expiries, canary windows — is submitted
// through a Clock so that tests can swap in a virtual clock instead of
// sleeping in real time.
package clock

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Clock is the time source every component reads through instead of
// calling time.Now()/time.After() directly.
type Clock interface {
	// Now returns the current monotonic-source-derived time (§3: event
	// envelope ts is monotonic-source-derived).
	Now() time.Time

	// After returns a channel that fires once, after d has elapsed on
	// this clock.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a ticker firing every d on this clock. Callers
	// must call Ticker.Stop() to release resources.
	NewTicker(d time.Duration) Ticker
}

// Ticker abstracts time.Ticker so the virtual clock can implement it too.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the production Clock, backed by the standard library.
type Real struct{}

func (Real) Now() time.Time                       { return time.Now().UTC() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (Real) NewTicker(d time.Duration) Ticker       { return &realTicker{t: time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// Jittered returns d plus a uniformly distributed random amount in
// [0, jitter), used by probe intervals and periodic task scheduling to
// avoid thundering herds (§5).
func Jittered(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(jitter)))
}

// Scheduler emits tick.1m (and any other registered cadence) onto a
// callback set, matching §4.A/§5's "central clock service".
type Scheduler struct {
	clk Clock
	mu  sync.Mutex
	subs []func(time.Time)
}

// NewScheduler creates a Scheduler driven by clk.
func NewScheduler(clk Clock) *Scheduler {
	if clk == nil {
		clk = Real{}
	}
	return &Scheduler{clk: clk}
}

// OnTick1m registers fn to be invoked on every clock.tick1m.
func (s *Scheduler) OnTick1m(fn func(time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Run drives the 1-minute cadence until ctx is cancelled. Intended to be
// started once, in its own goroutine, from main.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clk.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C():
			s.mu.Lock()
			subs := append([]func(time.Time){}, s.subs...)
			s.mu.Unlock()
			for _, fn := range subs {
				fn(t)
			}
		}
	}
}
