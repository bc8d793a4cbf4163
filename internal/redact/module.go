package redact

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/laylaymen/vivo-opscore/internal/bus"
	"github.com/laylaymen/vivo-opscore/internal/clock"
)

// DictionaryUpdate is the payload of redact.dictionary.update.
type DictionaryUpdate struct {
	TickerAllow []string
	DomainAllow []string
}

// Module wires a Guard onto the bus: it consumes redact.request and
// redact.dictionary.update, and publishes redact.ready.
type Module struct {
	guard    *Guard
	clk      clock.Clock
	log      *zap.Logger
	bus      *bus.Bus
	healthy  atomic.Bool
}

// NewModule constructs a redact Module.
func NewModule(guard *Guard, clk clock.Clock, log *zap.Logger) *Module {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Module{guard: guard, clk: clk, log: log.Named("redact")}
	m.healthy.Store(true)
	return m
}

func (m *Module) Name() string { return "redact" }

func (m *Module) Start(ctx context.Context, b *bus.Bus) error {
	m.bus = b

	if err := b.Subscribe(bus.TopicRedactRequest, "redact", m.handleRequest, bus.SubscribeOptions{
		Ordered: false, Concurrency: 4, QueueSize: 2000,
	}); err != nil {
		return err
	}
	return b.Subscribe(bus.TopicRedactDictionaryUpdate, "redact", m.handleDictionaryUpdate, bus.SubscribeOptions{
		Ordered: true, QueueSize: 64,
	})
}

func (m *Module) handleRequest(ctx context.Context, e bus.Envelope) error {
	req, ok := e.Payload.(Request)
	if !ok {
		m.log.Warn("redact.request: unexpected payload type")
		return nil
	}
	result := m.guard.Redact(req)

	out := e.Derive(bus.TopicRedactReady, m.clk.Now(), "redact", result, result.Classification)
	return m.bus.Publish(ctx, out)
}

func (m *Module) handleDictionaryUpdate(ctx context.Context, e bus.Envelope) error {
	upd, ok := e.Payload.(DictionaryUpdate)
	if !ok {
		m.log.Warn("redact.dictionary.update: unexpected payload type")
		return nil
	}
	m.guard.SetDictionary(upd.TickerAllow, upd.DomainAllow)
	m.log.Info("dictionary updated", zap.Int("tickers", len(upd.TickerAllow)), zap.Int("domains", len(upd.DomainAllow)))
	return nil
}

func (m *Module) Shutdown(ctx context.Context) error {
	m.healthy.Store(false)
	return nil
}

func (m *Module) Health() bus.ModuleHealth {
	return bus.ModuleHealth{Name: m.Name(), Healthy: m.healthy.Load()}
}
