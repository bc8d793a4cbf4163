package logrouter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/laylaymen/vivo-opscore/internal/bus"
	"github.com/laylaymen/vivo-opscore/internal/clock"
	"github.com/laylaymen/vivo-opscore/internal/config"
	"github.com/laylaymen/vivo-opscore/internal/redact"
)

// Classifier is the subset of redact.Guard the router depends on, so
// tests can substitute a stub.
type Classifier interface {
	Redact(req redact.Request) redact.Result
}

// Metrics is the periodic {evaluated, flagged...} snapshot analogue for
// the router — reusing the name "Metrics" would collide with the
// observability package, so this is router-local and published as
// log.router.metrics.
type Metrics struct {
	Routed    int            `json:"routed"`
	Dropped   int            `json:"dropped"`
	Sampled   int            `json:"sampledOut"`
	BySink    map[string]int `json:"bySink"`
	InFlight  int            `json:"inFlight"`
	Throttled bool           `json:"throttled"`
}

// Router runs the §4.E decision pipeline for every incoming Record.
type Router struct {
	rules      *config.Reloadable[[]Rule]
	classifier Classifier
	sampler    *sampler
	sinks      map[string]*Sink
	sinksMu    sync.RWMutex

	backpressureHigh int
	inFlight         atomic.Int64
	throttled        atomic.Bool
	stableTicks      int

	clk clock.Clock
	log *zap.Logger

	routedTotal  atomic.Int64
	droppedTotal atomic.Int64
	sampledTotal atomic.Int64
}

// NewRouter constructs a Router. sinks must already be built and named to
// match the "sink" field values used by routing rules.
func NewRouter(rules *config.Reloadable[[]Rule], classifier Classifier, defaultSamplePct map[string]float64,
	sampleFloor float64, backpressureHigh int, sinks map[string]*Sink, clk clock.Clock, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		rules:            rules,
		classifier:       classifier,
		sampler:          newSampler(defaultSamplePct, sampleFloor),
		sinks:            sinks,
		backpressureHigh: backpressureHigh,
		clk:              clk,
		log:              log.Named("logrouter"),
	}
}

// Route runs the full pipeline for one record and returns the sink names
// it was delivered to (for observability/testing), or nil if it was
// dropped or sampled out.
func (r *Router) Route(ctx context.Context, rec Record) []string {
	r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	r.checkBackpressure()

	rules := *r.rules.Get()
	d := evaluate(rules, rec)
	if d.drop {
		r.droppedTotal.Add(1)
		return nil
	}

	if !r.sampler.allow(rec.Level, d.samplePct) {
		r.sampledTotal.Add(1)
		return nil
	}

	rec = r.normalizeTimestamp(rec)

	classResult := r.classifier.Redact(redact.Request{Profile: redact.ProfileGeneric, Content: rec.Message})
	enriched := EnrichedRecord{
		Record:         rec,
		Classification: string(classResult.Classification),
		Tags:           d.tags,
	}
	enriched.Message = classResult.MaskedContent

	var delivered []string
	r.sinksMu.RLock()
	for name := range d.sinks {
		if s, ok := r.sinks[name]; ok {
			s.Append(enriched)
			delivered = append(delivered, name)
		}
	}
	r.sinksMu.RUnlock()

	r.routedTotal.Add(1)
	return delivered
}

func (r *Router) normalizeTimestamp(rec Record) Record {
	if rec.Ts == "" {
		rec.Ts = r.clk.Now().UTC().Format(time.RFC3339Nano)
		return rec
	}
	if _, err := time.Parse(time.RFC3339Nano, rec.Ts); err != nil {
		rec.Ts = r.clk.Now().UTC().Format(time.RFC3339Nano)
	}
	return rec
}

// checkBackpressure throttles or recovers sampling based on in-flight
// count relative to backpressureHigh, per §4.E.
func (r *Router) checkBackpressure() {
	if int(r.inFlight.Load()) > r.backpressureHigh {
		if !r.throttled.Swap(true) {
			r.sampler.throttle()
			r.log.Warn("log router backpressure: sampling halved",
				zap.Int64("inFlight", r.inFlight.Load()))
		}
		return
	}
	if r.throttled.Load() {
		const stableTicksToRecover = 5
		r.sampler.recover(stableTicksToRecover)
		r.sampler.mu.Lock()
		recovered := true
		for level, base := range r.sampler.base {
			if r.sampler.current[level] < base {
				recovered = false
			}
		}
		r.sampler.mu.Unlock()
		if recovered {
			r.throttled.Store(false)
		}
	}
}

// SnapshotMetrics returns and resets the periodic counters (§4.E analogue
// of the anomaly detector's 60s metrics emission).
func (r *Router) SnapshotMetrics() Metrics {
	m := Metrics{
		Routed:    int(r.routedTotal.Swap(0)),
		Dropped:   int(r.droppedTotal.Swap(0)),
		Sampled:   int(r.sampledTotal.Swap(0)),
		InFlight:  int(r.inFlight.Load()),
		Throttled: r.throttled.Load(),
		BySink:    map[string]int{},
	}
	r.sinksMu.RLock()
	for name, s := range r.sinks {
		s.mu.Lock()
		m.BySink[name] = s.flushedTotal
		s.mu.Unlock()
	}
	r.sinksMu.RUnlock()
	return m
}

// FlushAgedBatches should be called periodically (driven by clock.tick1m
// or a finer ticker) so sinks below maxBatch still flush after maxWait.
func (r *Router) FlushAgedBatches() {
	r.sinksMu.RLock()
	defer r.sinksMu.RUnlock()
	for _, s := range r.sinks {
		s.TickAge()
	}
}

// Close stops every sink's retry worker.
func (r *Router) Close() error {
	r.sinksMu.RLock()
	defer r.sinksMu.RUnlock()
	for _, s := range r.sinks {
		s.Close()
	}
	return nil
}
