package anomaly

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/laylaymen/vivo-opscore/internal/bus"
	"github.com/laylaymen/vivo-opscore/internal/clock"
)

// MetricPoint is the telemetry.metrics payload this module consumes: one
// observed value for a named series at a point in time.
type MetricPoint struct {
	Series string
	Value  float64
	Burning bool // true when an SLO referencing this series is breaching
}

// PeriodicMetrics is the telemetry.anomaly.metrics payload emitted every
// 60s (§4.F), then reset.
type PeriodicMetrics struct {
	Evaluated int            `json:"evaluated"`
	Flagged   int            `json:"flagged"`
	Flatlines int            `json:"flatlines"`
	Gaps      int            `json:"gaps"`
	ByLevel   map[string]int `json:"byLevel"`
	WindowSec int            `json:"windowSec"`
}

// Module runs the Telemetry Anomaly Detector against telemetry.metrics,
// emitting telemetry.anomaly.signal for every flagged evaluation and
// telemetry.alert only for high-severity signals, with idempotent
// suppression per (series, kind, window).
type Module struct {
	cfg     Config
	windows []Window

	mu         sync.Mutex
	baselines  map[string]*Baseline // key: series|span/step
	suppressed map[string]int64     // key: suppressKey -> unix expiry

	retention   time.Duration
	suppressTTL time.Duration
	ewmaAlpha   float64

	counters struct {
		evaluated, flagged, flatlines, gaps int
		byLevel                             map[string]int
	}

	clk     clock.Clock
	log     *zap.Logger
	bus     *bus.Bus
	healthy atomic.Bool
}

// NewModule constructs an anomaly detector Module.
func NewModule(cfg Config, windows []Window, ewmaAlpha float64, retention, suppressTTL time.Duration, clk clock.Clock, log *zap.Logger) *Module {
	if log == nil {
		log = zap.NewNop()
	}
	if len(windows) == 0 {
		windows = DefaultWindows()
	}
	m := &Module{
		cfg:         cfg,
		windows:     windows,
		baselines:   map[string]*Baseline{},
		suppressed:  map[string]int64{},
		retention:   retention,
		suppressTTL: suppressTTL,
		ewmaAlpha:   ewmaAlpha,
		clk:         clk,
		log:         log.Named("anomaly"),
	}
	m.counters.byLevel = map[string]int{}
	m.healthy.Store(true)
	return m
}

func (m *Module) Name() string { return "anomaly" }

func (m *Module) Start(ctx context.Context, b *bus.Bus) error {
	m.bus = b
	if err := b.Subscribe(bus.TopicTelemetryMetrics, "anomaly", m.handlePoint, bus.SubscribeOptions{
		Ordered: false, Concurrency: 8, QueueSize: 20000,
	}); err != nil {
		return err
	}
	return b.Subscribe(bus.TopicClockTick1m, "anomaly", m.handleTick, bus.SubscribeOptions{
		Ordered: true, QueueSize: 8,
	})
}

func (m *Module) handlePoint(ctx context.Context, e bus.Envelope) error {
	mp, ok := e.Payload.(MetricPoint)
	if !ok {
		m.log.Warn("telemetry.metrics: unexpected payload type")
		return nil
	}

	now := m.clk.Now().Unix()
	for _, win := range m.windows {
		key := mp.Series + "|" + win.Span + "/" + win.Step
		m.mu.Lock()
		b, ok := m.baselines[key]
		if !ok {
			b = NewBaseline(m.ewmaAlpha, 4096)
			m.baselines[key] = b
		}
		b.Update(Point{V: mp.Value, T: now})
		m.mu.Unlock()

		sig := Evaluate(m.cfg, mp.Series, win, b, now, mp.Burning)
		m.recordCounters(sig)

		if sig.Kind == KindNone {
			continue
		}
		if m.suppressedNow(suppressKey(mp.Series, sig.Kind, win), now, win) {
			continue
		}

		out := e.Derive(bus.TopicTelemetryAnomalySignal, m.clk.Now(), "anomaly", sig, bus.Public)
		if err := m.bus.Publish(ctx, out); err != nil {
			return err
		}
		if sig.Severity == SeverityHigh {
			alertOut := e.Derive(bus.TopicTelemetryAlert, m.clk.Now(), "anomaly", sig, bus.Public)
			if err := m.bus.Publish(ctx, alertOut); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Module) recordCounters(sig Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.evaluated++
	if sig.Kind != KindNone {
		m.counters.flagged++
		m.counters.byLevel[string(sig.Severity)]++
	}
	switch sig.Kind {
	case KindFlatline:
		m.counters.flatlines++
	case KindGap:
		m.counters.gaps++
	}
}

// suppressedNow reports whether key is within its suppression window,
// marking it suppressed-until-expiry if not already active. Stale keys
// older than suppressTTL are swept on every call.
func (m *Module) suppressedNow(key string, now int64, win Window) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, expiry := range m.suppressed {
		if now-expiry > int64(m.suppressTTL.Seconds()) {
			delete(m.suppressed, k)
		}
	}

	if expiry, active := m.suppressed[key]; active && now < expiry {
		return true
	}
	m.suppressed[key] = now + windowSeconds(win)
	return false
}

func windowSeconds(win Window) int64 {
	d, err := time.ParseDuration(win.Span)
	if err != nil {
		return 60
	}
	return int64(d.Seconds())
}

func (m *Module) handleTick(ctx context.Context, e bus.Envelope) error {
	m.mu.Lock()
	snap := PeriodicMetrics{
		Evaluated: m.counters.evaluated,
		Flagged:   m.counters.flagged,
		Flatlines: m.counters.flatlines,
		Gaps:      m.counters.gaps,
		ByLevel:   m.counters.byLevel,
		WindowSec: 60,
	}
	m.counters.evaluated, m.counters.flagged, m.counters.flatlines, m.counters.gaps = 0, 0, 0, 0
	m.counters.byLevel = map[string]int{}
	m.mu.Unlock()

	out := e.Derive(bus.TopicTelemetryAnomalyMetrics, m.clk.Now(), "anomaly", snap, bus.Public)
	return m.bus.Publish(ctx, out)
}

func (m *Module) Shutdown(ctx context.Context) error {
	m.healthy.Store(false)
	return nil
}

func (m *Module) Health() bus.ModuleHealth {
	return bus.ModuleHealth{Name: m.Name(), Healthy: m.healthy.Load()}
}
