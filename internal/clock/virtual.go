package clock

import (
	"sync"
	"time"
)

// Virtual is a test Clock whose Now() only moves when Advance is called,
// letting cool-off expiries, dwell timers, and dialog timeouts be tested
// deterministically instead of with real sleeps.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []virtualWaiter
	tickers []*virtualTicker
}

type virtualWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewVirtual creates a Virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) After(d time.Duration) <-chan time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch := make(chan time.Time, 1)
	deadline := v.now.Add(d)
	if !deadline.After(v.now) {
		ch <- v.now
		return ch
	}
	v.waiters = append(v.waiters, virtualWaiter{deadline: deadline, ch: ch})
	return ch
}

func (v *Virtual) NewTicker(d time.Duration) Ticker {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := &virtualTicker{period: d, next: v.now.Add(d), ch: make(chan time.Time, 1)}
	v.tickers = append(v.tickers, t)
	return t
}

// Advance moves the virtual clock forward by d, firing any waiters whose
// deadlines have now passed (in registration order), then any tickers
// that are due.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = v.now.Add(d)

	remaining := v.waiters[:0]
	for _, w := range v.waiters {
		if !w.deadline.After(v.now) {
			select {
			case w.ch <- v.now:
			default:
			}
		} else {
			remaining = append(remaining, w)
		}
	}
	v.waiters = remaining

	for _, t := range v.tickers {
		if t.stopped {
			continue
		}
		for !t.next.After(v.now) {
			select {
			case t.ch <- v.now:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}
}

type virtualTicker struct {
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *virtualTicker) C() <-chan time.Time { return t.ch }
func (t *virtualTicker) Stop()               { t.stopped = true }
