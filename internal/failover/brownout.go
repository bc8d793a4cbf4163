package failover

import "time"

// Brownout is the optional gradual traffic-shift mechanism spec §4.H
// allows for and §9 (open question 2) leaves unspecified in detail. This
// implements it as a simple linear stepper: each StepSec, shift traffic
// by at most MaxStepPct until the full 100% has moved.
type Brownout struct {
	active     bool
	currentPct float64
	maxStepPct float64
	stepSec    int64
	lastStep   time.Time
}

// Start begins a brownout ramp from 0%.
func (b *Brownout) Start(now time.Time) {
	b.active = true
	b.currentPct = 0
	b.lastStep = now
}

// Active reports whether a brownout ramp is in progress.
func (b *Brownout) Active() bool { return b.active }

// Step advances the ramp if StepSec has elapsed since the last step,
// returning the new percentage and whether it actually stepped.
func (b *Brownout) Step(now time.Time) (pct float64, stepped bool) {
	if !b.active {
		return 0, false
	}
	if now.Sub(b.lastStep) < time.Duration(b.stepSec)*time.Second {
		return b.currentPct, false
	}
	b.currentPct += b.maxStepPct
	if b.currentPct >= 100 {
		b.currentPct = 100
		b.active = false
	}
	b.lastStep = now
	return b.currentPct, true
}
