package failover

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/laylaymen/vivo-opscore/internal/bus"
	"github.com/laylaymen/vivo-opscore/internal/clock"
	"github.com/laylaymen/vivo-opscore/internal/model"
)

// Catalog is the endpoint.catalog payload: the ordered endpoint id list,
// with ids[0] treated as primary.
type Catalog struct {
	Endpoints []string `json:"endpoints"`
}

// ProbeResult is the endpoint.probe.result payload.
type ProbeResult struct {
	ID      string    `json:"id"`
	Success bool      `json:"success"`
	RttMs   float64   `json:"rttMs"`
	Ts      time.Time `json:"ts"`
}

// SwitchPlan is the endpoint.switch.plan payload.
type SwitchPlan struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	ReasonCodes []string `json:"reasonCodes"`
}

// Switched is the endpoint.switched payload.
type Switched struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	ReasonCodes []string `json:"reasonCodes"`
}

// BrownoutStep is the endpoint.brownout.step payload.
type BrownoutStep struct {
	From string  `json:"from"`
	To   string  `json:"to"`
	Pct  float64 `json:"pct"`
}

// Module runs the Endpoint Failover Orchestrator against endpoint.catalog
// and endpoint.probe.result, emitting endpoint.health.snapshot on every
// probe and endpoint.switch.plan / endpoint.switched / sentry.alert on
// FSM transitions.
type Module struct {
	orch *Orchestrator
	mu   sync.Mutex

	clk     clock.Clock
	log     *zap.Logger
	bus     *bus.Bus
	healthy atomic.Bool
}

// NewModule constructs an Endpoint Failover Orchestrator Module.
func NewModule(cfg Config, clk clock.Clock, log *zap.Logger) *Module {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Module{
		orch: NewOrchestrator(cfg),
		clk:  clk,
		log:  log.Named("failover"),
	}
	m.healthy.Store(true)
	return m
}

func (m *Module) Name() string { return "failover" }

func (m *Module) Start(ctx context.Context, b *bus.Bus) error {
	m.bus = b
	if err := b.Subscribe(bus.TopicEndpointCatalog, "failover", m.handleCatalog, bus.SubscribeOptions{Ordered: true}); err != nil {
		return err
	}
	if err := b.Subscribe(bus.TopicEndpointProbeResult, "failover", m.handleProbe, bus.SubscribeOptions{Ordered: true, QueueSize: 8192}); err != nil {
		return err
	}
	return b.Subscribe(bus.TopicClockTick1m, "failover", m.handleTick, bus.SubscribeOptions{Ordered: true})
}

func (m *Module) handleCatalog(ctx context.Context, e bus.Envelope) error {
	cat, ok := e.Payload.(Catalog)
	if !ok {
		m.log.Warn("endpoint.catalog: unexpected payload type")
		return nil
	}
	m.mu.Lock()
	m.orch.SetCatalog(cat.Endpoints)
	m.mu.Unlock()
	return nil
}

func (m *Module) handleProbe(ctx context.Context, e bus.Envelope) error {
	pr, ok := e.Payload.(ProbeResult)
	if !ok {
		m.log.Warn("endpoint.probe.result: unexpected payload type")
		return nil
	}

	now := m.clk.Now()
	m.mu.Lock()
	m.orch.ObserveProbe(pr.ID, pr.Success, pr.RttMs, now)
	snap, _ := m.orch.Snapshot(pr.ID)
	transitions := m.orch.Evaluate(now)
	m.mu.Unlock()

	snapOut := e.Derive(bus.TopicEndpointHealthSnapshot, now, "failover", model.EndpointHealth{
		ID: snap.ID, Score: snap.Score, RttMs: snap.RttMs, Failures: snap.Failures,
		ConsecutiveFailures: snap.ConsecutiveFailures, Status: snap.Status, LastProbe: snap.LastProbe,
	}, bus.Public)
	if err := m.bus.Publish(ctx, snapOut); err != nil {
		return err
	}
	return m.publishTransitions(ctx, e, now, transitions)
}

func (m *Module) handleTick(ctx context.Context, e bus.Envelope) error {
	now := m.clk.Now()
	m.mu.Lock()
	transitions := m.orch.Evaluate(now)
	m.mu.Unlock()
	return m.publishTransitions(ctx, e, now, transitions)
}

func (m *Module) publishTransitions(ctx context.Context, e bus.Envelope, now time.Time, transitions []Transition) error {
	for _, t := range transitions {
		var topic bus.Topic
		var payload any
		switch t.Kind {
		case "plan":
			topic = bus.TopicEndpointSwitchPlan
			payload = SwitchPlan{From: t.From, To: t.To, ReasonCodes: t.ReasonCodes}
		case "switched":
			topic = bus.TopicEndpointSwitched
			payload = Switched{From: t.From, To: t.To, ReasonCodes: t.ReasonCodes}
		case "alert":
			topic = bus.TopicSentryAlert
			payload = t.ReasonCodes
		case "brownout":
			topic = bus.TopicEndpointBrownoutStep
			payload = BrownoutStep{From: t.From, To: t.To, Pct: t.BrownoutPct}
		default:
			continue
		}
		out := e.Derive(topic, now, "failover", payload, bus.Public)
		if err := m.bus.Publish(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) Shutdown(ctx context.Context) error {
	m.healthy.Store(false)
	return nil
}

func (m *Module) Health() bus.ModuleHealth {
	return bus.ModuleHealth{Name: m.Name(), Healthy: m.healthy.Load()}
}
