package logrouter

import (
	"math/rand"
	"sync"
)

// sampler holds per-level sampling rates, adapting them under backpressure:
// when the in-flight count exceeds the threshold the router halves the info
// and debug rates (never below floor times the level's base rate) and logs a
// warning. After each stable window, recover moves every throttled level
// halfway back toward its base rate, not by a fixed step, until base is
// reached.
type sampler struct {
	mu       sync.Mutex
	base     map[string]float64 // configured defaults, percent in [0,100]
	current  map[string]float64
	floor    float64 // fraction of the level's base rate, e.g. 0.1 keeps at least 10% of base
	rng      *rand.Rand
	stableN  int // consecutive stable ticks observed since last halving
}

func newSampler(base map[string]float64, floorPct float64) *sampler {
	cur := make(map[string]float64, len(base))
	for k, v := range base {
		cur[k] = v
	}
	return &sampler{
		base:    base,
		current: cur,
		floor:   floorPct,
		rng:     rand.New(rand.NewSource(1)),
	}
}

// allow draws uniform in [0,100) and compares against the level's current
// sampling percentage (or a rule override when samplePct is non-nil).
func (s *sampler) allow(level string, override *float64) bool {
	pct := s.pctFor(level)
	if override != nil {
		pct = *override
	}
	if pct >= 100 {
		return true
	}
	if pct <= 0 {
		return false
	}
	s.mu.Lock()
	draw := s.rng.Float64() * 100
	s.mu.Unlock()
	return draw < pct
}

func (s *sampler) pctFor(level string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.current[level]; ok {
		return v
	}
	return 100
}

// throttle halves the info/debug sampling rates, down to floor, and
// resets the stable-window counter.
func (s *sampler) throttle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, level := range []string{"info", "debug"} {
		v := s.current[level]
		if v <= 0 {
			v = s.base[level]
		}
		half := v / 2
		if half < s.floor*s.base[level] {
			half = s.floor * s.base[level]
		}
		s.current[level] = half
	}
	s.stableN = 0
}

// recover is called once per stable tick (in-flight back under threshold);
// after stableTicksToRecover consecutive stable ticks it steps each
// throttled level halfway back toward its base rate.
func (s *sampler) recover(stableTicksToRecover int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stableN++
	if s.stableN < stableTicksToRecover {
		return
	}
	s.stableN = 0
	for level, base := range s.base {
		cur := s.current[level]
		if cur >= base {
			continue
		}
		step := cur + (base-cur)/2
		if base-step < 0.01 {
			step = base
		}
		s.current[level] = step
	}
}
