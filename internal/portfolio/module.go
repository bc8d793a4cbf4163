package portfolio

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

// ExecutionIntent is the execution.intent.accepted payload.
type ExecutionIntent struct {
	CorrID     string  `json:"corrId"`
	Symbol     string  `json:"symbol"`
	Cluster    string  `json:"cluster"`
	Factor     string  `json:"factor"`
	FactorBeta float64 `json:"factorBeta"`
	Side       string  `json:"side"`
	Variant    string  `json:"variant"`
	Confidence float64 `json:"confidence"`
}

// PolicyUpdate is the portfolio.policy payload.
type PolicyUpdate struct {
	TotalRiskPct          float64               `json:"totalRiskPct" yaml:"total_risk_pct"`
	PerSymbolPct          float64               `json:"perSymbolPct" yaml:"per_symbol_pct"`
	PerClusterPct         map[string]float64    `json:"perClusterPct" yaml:"per_cluster_pct"`
	PerFactorBetaAbs      map[string]float64    `json:"perFactorBetaAbs" yaml:"per_factor_beta_abs"`
	LongShortImbalancePct float64               `json:"longShortImbalancePct" yaml:"long_short_imbalance_pct"`
	Correlation           CorrelationThresholds `json:"correlation" yaml:"correlation"`
	Symbols               []string              `json:"symbols" yaml:"symbols"`
	CorrelationMatrix     [][]float64           `json:"correlationMatrix" yaml:"correlation_matrix"`
	OnHardBreach          string                `json:"onHardBreach" yaml:"on_hard_breach"`
	ScaleStep             float64               `json:"scaleStep" yaml:"scale_step"`
	MinFactor             float64               `json:"minFactor" yaml:"min_factor"`
}

// Module runs the Portfolio Exposure Balancer against execution intents,
// keeping the latest account.exposure and portfolio.policy snapshots.
type Module struct {
	exposureMaxAge time.Duration
	policyMaxAge   time.Duration
	deferWindow    time.Duration

	mu           sync.Mutex
	exposure     Exposure
	haveExposure bool
	policy       Policy
	havePolicy   bool

	clk     clock.Clock
	log     *zap.Logger
	bus     *bus.Bus
	healthy atomic.Bool
}

// NewModule constructs a Portfolio Exposure Balancer Module.
func NewModule(exposureMaxAge, policyMaxAge, deferWindow time.Duration, clk clock.Clock, log *zap.Logger) *Module {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Module{
		exposureMaxAge: exposureMaxAge,
		policyMaxAge:   policyMaxAge,
		deferWindow:    deferWindow,
		clk:            clk,
		log:            log.Named("portfolio"),
	}
	m.healthy.Store(true)
	return m
}

func (m *Module) Name() string { return "portfolio" }

func (m *Module) Start(ctx context.Context, b *bus.Bus) error {
	m.bus = b
	if err := b.Subscribe(bus.TopicAccountExposure, "portfolio", m.handleExposure, bus.SubscribeOptions{Ordered: true}); err != nil {
		return err
	}
	if err := b.Subscribe(bus.TopicPortfolioPolicy, "portfolio", m.handlePolicy, bus.SubscribeOptions{Ordered: true}); err != nil {
		return err
	}
	return b.Subscribe(bus.TopicExecutionIntent, "portfolio", m.handleIntent, bus.SubscribeOptions{Ordered: true})
}

func (m *Module) handleExposure(ctx context.Context, e bus.Envelope) error {
	exp, ok := e.Payload.(model.AccountExposure)
	if !ok {
		m.log.Warn("account.exposure: unexpected payload type")
		return nil
	}
	m.mu.Lock()
	m.exposure = Exposure{Equity: exp.Equity, Ts: exp.Ts, BySymbol: exp.BySymbol, ByCluster: exp.ByCluster, ByFactor: exp.ByFactor}
	m.haveExposure = true
	m.mu.Unlock()
	return nil
}

func (m *Module) handlePolicy(ctx context.Context, e bus.Envelope) error {
	p, ok := e.Payload.(PolicyUpdate)
	if !ok {
		m.log.Warn("portfolio.policy: unexpected payload type")
		return nil
	}
	m.mu.Lock()
	m.policy = Policy{
		TotalRiskPct:          p.TotalRiskPct,
		PerSymbolPct:          p.PerSymbolPct,
		PerClusterPct:         p.PerClusterPct,
		PerFactorBetaAbs:      p.PerFactorBetaAbs,
		LongShortImbalancePct: p.LongShortImbalancePct,
		Correlation:           p.Correlation,
		Symbols:               p.Symbols,
		CorrelationMatrix:     p.CorrelationMatrix,
		OnHardBreach:          p.OnHardBreach,
		ScaleStep:             p.ScaleStep,
		MinFactor:             p.MinFactor,
		Ts:                    e.Ts,
	}
	m.havePolicy = true
	m.mu.Unlock()
	return nil
}

func (m *Module) handleIntent(ctx context.Context, e bus.Envelope) error {
	in, ok := e.Payload.(ExecutionIntent)
	if !ok {
		m.log.Warn("execution.intent.accepted: unexpected payload type")
		return nil
	}

	now := m.clk.Now()
	intent := Intent{
		CorrID: in.CorrID, Symbol: in.Symbol, Cluster: in.Cluster, Factor: in.Factor,
		FactorBeta: in.FactorBeta, Side: Side(in.Side), Variant: Variant(in.Variant), Confidence: in.Confidence,
	}

	m.mu.Lock()
	haveExposure, exposure := m.haveExposure, m.exposure
	havePolicy, policy := m.havePolicy, m.policy
	m.mu.Unlock()

	if havePolicy && now.Sub(policy.Ts) > m.policyMaxAge {
		havePolicy = false
	}

	decision := Decide(intent, exposure, haveExposure, policy, havePolicy, now, m.exposureMaxAge, m.policyMaxAge, m.deferWindow)

	var topic bus.Topic
	switch decision.Outcome {
	case OutcomeApproved:
		topic = bus.TopicPortfolioIntentApproved
	case OutcomeAdjusted:
		topic = bus.TopicPortfolioIntentAdjusted
	case OutcomeDeferred:
		topic = bus.TopicPortfolioIntentDeferred
	default:
		topic = bus.TopicPortfolioIntentRejected
	}

	out := e.Derive(topic, now, "portfolio", decision, bus.Public)
	return m.bus.Publish(ctx, out)
}

func (m *Module) Shutdown(ctx context.Context) error {
	m.healthy.Store(false)
	return nil
}

func (m *Module) Health() bus.ModuleHealth {
	return bus.ModuleHealth{Name: m.Name(), Healthy: m.healthy.Load()}
}
