package spot

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/laylaymen/vivo-opscore/internal/bus"
	"github.com/laylaymen/vivo-opscore/internal/clock"
	"github.com/laylaymen/vivo-opscore/internal/model"
)

// MarketSignal is the market.* payload fields this module reads to
// build its candidate pool: per-symbol expected move, R-multiple, and
// dominance tilt feed BUY-leg eligibility and weighting.
type MarketSignal struct {
	Symbol          string  `json:"symbol"`
	ExpectedMovePct float64 `json:"expectedMovePct"`
	RMultiple       float64 `json:"rMultiple"`
	DominanceTilt   float64 `json:"dominanceTilt"`
	MinNotional     float64 `json:"minNotional"`
}

// Rebalance is the vivo.spot.rebalance payload.
type Rebalance struct {
	TargetSpotUsd float64 `json:"targetSpotUsd"`
	CurrentUsd    float64 `json:"currentUsd"`
	Legs          []Leg   `json:"legs"`
}

// Module runs the Spot Cash Allocator against account.exposure,
// market.* candidate signals, and risk.state, emitting a
// vivo.spot.rebalance plan on every clock.tick1m.
type Module struct {
	cfg Config

	mu       sync.Mutex
	equity   float64
	holdings []Holding
	pool     map[string]Candidate
	sentinel string
	riskAmber bool

	clk     clock.Clock
	log     *zap.Logger
	bus     *bus.Bus
	healthy atomic.Bool
}

// NewModule constructs a Spot Cash Allocator Module.
func NewModule(cfg Config, clk clock.Clock, log *zap.Logger) *Module {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Module{
		cfg:      cfg,
		pool:     make(map[string]Candidate),
		sentinel: "NORMAL",
		clk:      clk,
		log:      log.Named("spot"),
	}
	m.healthy.Store(true)
	return m
}

func (m *Module) Name() string { return "spot" }

func (m *Module) Start(ctx context.Context, b *bus.Bus) error {
	m.bus = b
	if err := b.Subscribe(bus.TopicAccountExposure, "spot", m.handleExposure, bus.SubscribeOptions{Ordered: true}); err != nil {
		return err
	}
	if err := b.Subscribe(bus.TopicMarketAny, "spot", m.handleMarket, bus.SubscribeOptions{Ordered: true}); err != nil {
		return err
	}
	if err := b.Subscribe(bus.TopicRiskState, "spot", m.handleRiskState, bus.SubscribeOptions{Ordered: true}); err != nil {
		return err
	}
	return b.Subscribe(bus.TopicClockTick1m, "spot", m.handleTick, bus.SubscribeOptions{Ordered: true})
}

func (m *Module) handleExposure(ctx context.Context, e bus.Envelope) error {
	exp, ok := e.Payload.(model.AccountExposure)
	if !ok {
		m.log.Warn("account.exposure: unexpected payload type")
		return nil
	}
	holdings := make([]Holding, 0, len(exp.BySymbol))
	for sym, usd := range exp.BySymbol {
		holdings = append(holdings, Holding{Symbol: sym, Usd: usd})
	}
	m.mu.Lock()
	m.equity = exp.Equity
	m.holdings = holdings
	m.mu.Unlock()
	return nil
}

func (m *Module) handleMarket(ctx context.Context, e bus.Envelope) error {
	sig, ok := e.Payload.(MarketSignal)
	if !ok {
		return nil
	}
	m.mu.Lock()
	m.pool[sig.Symbol] = Candidate{
		Symbol: sig.Symbol, DominanceTilt: sig.DominanceTilt,
		ExpectedMovePct: sig.ExpectedMovePct, RMultiple: sig.RMultiple, MinNotional: sig.MinNotional,
	}
	m.mu.Unlock()
	return nil
}

func (m *Module) handleRiskState(ctx context.Context, e bus.Envelope) error {
	rs, ok := e.Payload.(model.RiskState)
	if !ok {
		return nil
	}
	m.mu.Lock()
	m.sentinel = string(rs.Sentinel)
	m.riskAmber = rs.Level == model.RiskAmber
	m.mu.Unlock()
	return nil
}

func (m *Module) handleTick(ctx context.Context, e bus.Envelope) error {
	m.mu.Lock()
	equity := m.equity
	holdings := append([]Holding(nil), m.holdings...)
	pool := make([]Candidate, 0, len(m.pool))
	for _, c := range m.pool {
		pool = append(pool, c)
	}
	sentinel := m.sentinel
	riskAmber := m.riskAmber
	m.mu.Unlock()

	if equity <= 0 {
		return nil
	}

	legs := Plan(equity, holdings, pool, m.cfg, sentinel, riskAmber)
	out := e.Derive(bus.TopicVivoSpotRebalance, m.clk.Now(), "spot", Rebalance{
		TargetSpotUsd: TargetSpotUsd(equity, m.cfg),
		CurrentUsd:    currentSpotUsd(holdings),
		Legs:          legs,
	}, bus.Public)
	return m.bus.Publish(ctx, out)
}

func (m *Module) Shutdown(ctx context.Context) error {
	m.healthy.Store(false)
	return nil
}

func (m *Module) Health() bus.ModuleHealth {
	return bus.ModuleHealth{Name: m.Name(), Healthy: m.healthy.Load()}
}
