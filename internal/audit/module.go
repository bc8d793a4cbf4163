package audit

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/laylaymen/vivo-opscore/internal/bus"
	"github.com/laylaymen/vivo-opscore/internal/clock"
)

// Module wires a Sink onto the bus: every envelope published to
// audit.log (§5 "every module that decides or acts emits one audit.log
// entry") is appended as one JSONL line.
type Module struct {
	sink *Sink
	clk  clock.Clock
	log  *zap.Logger

	written atomic.Uint64
	healthy atomic.Bool
}

// NewModule wraps sink as a bus.Module. sink is closed by Shutdown.
func NewModule(sink *Sink, clk clock.Clock, log *zap.Logger) *Module {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Module{sink: sink, clk: clk, log: log.Named("audit")}
	m.healthy.Store(true)
	return m
}

func (m *Module) Name() string { return "audit" }

func (m *Module) Start(ctx context.Context, b *bus.Bus) error {
	return b.Subscribe(bus.TopicAuditLog, "audit", m.handle, bus.SubscribeOptions{
		Ordered: true, QueueSize: 20000, Policy: bus.PolicyBlock,
	})
}

func (m *Module) handle(ctx context.Context, e bus.Envelope) error {
	if err := m.sink.Write(Entry{
		Ts:      e.Ts,
		Src:     e.Producer,
		CorrID:  e.CorrelationID,
		Payload: e.Payload,
	}); err != nil {
		m.healthy.Store(false)
		return err
	}
	m.written.Add(1)
	return nil
}

func (m *Module) Shutdown(ctx context.Context) error {
	return m.sink.Close()
}

func (m *Module) Health() bus.ModuleHealth {
	return bus.ModuleHealth{
		Name:    "audit",
		Healthy: m.healthy.Load(),
	}
}
