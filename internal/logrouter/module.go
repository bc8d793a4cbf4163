package logrouter

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/laylaymen/vivo-opscore/internal/bus"
	"github.com/laylaymen/vivo-opscore/internal/clock"
)

// Module wires a Router onto the bus: consumes log.raw, publishes
// log.sink.batch acknowledgements and a periodic log.router.metrics
// snapshot on every clock.tick1m.
type Module struct {
	router  *Router
	clk     clock.Clock
	log     *zap.Logger
	bus     *bus.Bus
	healthy atomic.Bool
}

func NewModule(router *Router, clk clock.Clock, log *zap.Logger) *Module {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Module{router: router, clk: clk, log: log.Named("logrouter")}
	m.healthy.Store(true)
	return m
}

func (m *Module) Name() string { return "logrouter" }

func (m *Module) Start(ctx context.Context, b *bus.Bus) error {
	m.bus = b

	if err := b.Subscribe(bus.TopicLogRaw, "logrouter", m.handleRaw, bus.SubscribeOptions{
		Ordered: false, Concurrency: 8, QueueSize: 20000, Policy: bus.PolicyDropNew,
	}); err != nil {
		return err
	}

	return b.Subscribe(bus.TopicClockTick1m, "logrouter", m.handleTick, bus.SubscribeOptions{
		Ordered: true, QueueSize: 8,
	})
}

func (m *Module) handleRaw(ctx context.Context, e bus.Envelope) error {
	rec, ok := e.Payload.(Record)
	if !ok {
		m.log.Warn("log.raw: unexpected payload type")
		return nil
	}
	sinks := m.router.Route(ctx, rec)
	if len(sinks) == 0 {
		return nil
	}
	out := e.Derive(bus.TopicLogSinkBatch, m.clk.Now(), "logrouter", sinks, bus.Public)
	return m.bus.Publish(ctx, out)
}

func (m *Module) handleTick(ctx context.Context, e bus.Envelope) error {
	m.router.FlushAgedBatches()
	snap := m.router.SnapshotMetrics()
	out := e.Derive(bus.TopicLogRouterMetrics, m.clk.Now(), "logrouter", snap, bus.Public)
	return m.bus.Publish(ctx, out)
}

func (m *Module) Shutdown(ctx context.Context) error {
	m.healthy.Store(false)
	return m.router.Close()
}

func (m *Module) Health() bus.ModuleHealth {
	return bus.ModuleHealth{Name: m.Name(), Healthy: m.healthy.Load()}
}
