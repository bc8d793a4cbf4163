package pacing

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

// SessionActivity is the session.activity payload: the liquidity, TCA,
// and rate-limit budget snapshot the planner recomputes a plan from.
type SessionActivity struct {
	Liquidity Liquidity
	TCA       struct {
		SlipBp    float64
		MarkOutBp float64
	}
	RateBudget RateBudget
}

// Module runs the Session Pacing Planner against session.activity and
// risk.state, producing a vivo.pacing.plan on every input event and on
// every clock.tick1m.
type Module struct {
	base   Base
	windows []Window
	tcaThresholds TCA

	mu        sync.Mutex
	liquidity Liquidity
	riskLevel RiskLevel
	sentinel  Sentinel
	tca       TCA
	budget    RateBudget

	clk     clock.Clock
	log     *zap.Logger
	bus     *bus.Bus
	healthy atomic.Bool
}

// NewModule constructs a Session Pacing Planner Module.
func NewModule(base Base, windows []Window, tcaThresholds TCA, clk clock.Clock, log *zap.Logger) *Module {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Module{
		base:          base,
		windows:       windows,
		tcaThresholds: tcaThresholds,
		liquidity:     Liquidity{SpreadFactor: 1, DepthFactor: 1, WsLagFactor: 1},
		riskLevel:     RiskGreen,
		sentinel:      SentinelNormal,
		clk:           clk,
		log:           log.Named("pacing"),
	}
	m.healthy.Store(true)
	return m
}

func (m *Module) Name() string { return "pacing" }

func (m *Module) Start(ctx context.Context, b *bus.Bus) error {
	m.bus = b
	if err := b.Subscribe(bus.TopicSessionActivity, "pacing", m.handleActivity, bus.SubscribeOptions{Ordered: true}); err != nil {
		return err
	}
	if err := b.Subscribe(bus.TopicRiskState, "pacing", m.handleRiskState, bus.SubscribeOptions{Ordered: true}); err != nil {
		return err
	}
	return b.Subscribe(bus.TopicClockTick1m, "pacing", m.handleTick, bus.SubscribeOptions{Ordered: true})
}

func (m *Module) handleActivity(ctx context.Context, e bus.Envelope) error {
	act, ok := e.Payload.(SessionActivity)
	if !ok {
		m.log.Warn("session.activity: unexpected payload type")
		return nil
	}
	m.mu.Lock()
	m.liquidity = act.Liquidity
	m.tca = TCA{
		SlipBp: act.TCA.SlipBp, MarkOutBp: act.TCA.MarkOutBp,
		SlipHardBp: m.tcaThresholds.SlipHardBp, SlipSoftBp: m.tcaThresholds.SlipSoftBp,
		MarkOutHardBp: m.tcaThresholds.MarkOutHardBp, MarkOutSoftBp: m.tcaThresholds.MarkOutSoftBp,
	}
	m.budget = act.RateBudget
	m.mu.Unlock()

	return m.publish(ctx, e)
}

func (m *Module) handleRiskState(ctx context.Context, e bus.Envelope) error {
	rs, ok := e.Payload.(model.RiskState)
	if !ok {
		m.log.Warn("risk.state: unexpected payload type")
		return nil
	}
	m.mu.Lock()
	m.riskLevel = RiskLevel(rs.Level)
	m.sentinel = Sentinel(rs.Sentinel)
	m.mu.Unlock()

	return m.publish(ctx, e)
}

func (m *Module) handleTick(ctx context.Context, e bus.Envelope) error {
	return m.publish(ctx, e)
}

func (m *Module) publish(ctx context.Context, e bus.Envelope) error {
	now := m.clk.Now()

	m.mu.Lock()
	fSession := FSession(m.windows, minuteOfDay(now))
	fLiq := FLiq(m.liquidity)
	fRisk, reduceOnly := FRisk(m.riskLevel, m.sentinel)
	fTca := FTca(m.tca)
	plan := Compute(m.base, fSession, fLiq, fRisk, fTca, reduceOnly, m.budget)
	m.mu.Unlock()

	out := e.Derive(bus.TopicVivoPacingPlan, now, "pacing", plan, bus.Public)
	return m.bus.Publish(ctx, out)
}

func minuteOfDay(t time.Time) int {
	u := t.UTC()
	return u.Hour()*60 + u.Minute()
}

func (m *Module) Shutdown(ctx context.Context) error {
	m.healthy.Store(false)
	return nil
}

func (m *Module) Health() bus.ModuleHealth {
	return bus.ModuleHealth{Name: m.Name(), Healthy: m.healthy.Load()}
}
