package drawdown

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

// Alert is the drawdown.alert payload.
type Alert struct {
	Level           Level             `json:"level"`
	CurrentDD       float64           `json:"currentDD"`
	MaxDD           float64           `json:"maxDD"`
	Recommendations []Recommendation  `json:"recommendations"`
	Recovery        RecoveryEstimate  `json:"recovery,omitempty"`
}

// Module runs the Drawdown Monitor against account.exposure and
// trade.summary.closed, emitting drawdown.alert on threshold crossings
// and risk.governance.recommendation for each recommendation.
type Module struct {
	th   Thresholds
	curve *Curve
	mu    sync.Mutex

	clk     clock.Clock
	log     *zap.Logger
	bus     *bus.Bus
	healthy atomic.Bool
}

// NewModule constructs a Drawdown Monitor Module.
func NewModule(th Thresholds, lookback time.Duration, recoveryBufferPct float64, clk clock.Clock, log *zap.Logger) *Module {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Module{
		th:    th,
		curve: NewCurve(lookback, recoveryBufferPct),
		clk:   clk,
		log:   log.Named("drawdown"),
	}
	m.healthy.Store(true)
	return m
}

func (m *Module) Name() string { return "drawdown" }

func (m *Module) Start(ctx context.Context, b *bus.Bus) error {
	m.bus = b
	if err := b.Subscribe(bus.TopicAccountExposure, "drawdown", m.handleExposure, bus.SubscribeOptions{
		Ordered: true, QueueSize: 4096,
	}); err != nil {
		return err
	}
	return b.Subscribe(bus.TopicTradeSummaryClosed, "drawdown", m.handleTradeSummary, bus.SubscribeOptions{
		Ordered: true, QueueSize: 4096,
	})
}

func (m *Module) handleExposure(ctx context.Context, e bus.Envelope) error {
	exp, ok := e.Payload.(model.AccountExposure)
	if !ok {
		m.log.Warn("account.exposure: unexpected payload type")
		return nil
	}
	if exp.Equity <= 0 {
		return nil
	}

	now := m.clk.Now()
	m.mu.Lock()
	m.curve.Observe(Snapshot{Value: exp.Equity, Ts: now, Source: string(exp.Source)})
	eval := Evaluate(m.curve, m.th, now)
	maxDD := m.curve.MaxDD()
	recovery := m.curve.Estimate(exp.Equity)
	m.mu.Unlock()

	if eval.Level == "" {
		return nil
	}

	alert := Alert{
		Level:           eval.Level,
		CurrentDD:       eval.CurrentDD,
		MaxDD:           maxDD,
		Recommendations: eval.Recommendations,
		Recovery:        recovery,
	}
	out := e.Derive(bus.TopicDrawdownAlert, now, "drawdown", alert, bus.Public)
	if err := m.bus.Publish(ctx, out); err != nil {
		return err
	}
	for _, rec := range eval.Recommendations {
		recOut := e.Derive(bus.TopicRiskGovernanceRecommendation, now, "drawdown", rec, bus.Public)
		if err := m.bus.Publish(ctx, recOut); err != nil {
			return err
		}
	}
	return nil
}

// TradeSummary is the trade.summary.closed payload this module reads:
// just the realized PnL of the closed trade, used by the recovery
// estimate's win-rate/Sharpe inputs.
type TradeSummary struct {
	PnL float64 `json:"pnl"`
}

func (m *Module) handleTradeSummary(ctx context.Context, e bus.Envelope) error {
	ts, ok := e.Payload.(TradeSummary)
	if !ok {
		m.log.Warn("trade.summary.closed: unexpected payload type")
		return nil
	}
	m.mu.Lock()
	m.curve.ObservePnL(ts.PnL)
	m.mu.Unlock()
	return nil
}

func (m *Module) Shutdown(ctx context.Context) error {
	m.healthy.Store(false)
	return nil
}

func (m *Module) Health() bus.ModuleHealth {
	return bus.ModuleHealth{Name: m.Name(), Healthy: m.healthy.Load()}
}
