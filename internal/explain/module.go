package explain

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/laylaymen/vivo-opscore/internal/bus"
	"github.com/laylaymen/vivo-opscore/internal/clock"
	"github.com/laylaymen/vivo-opscore/internal/dialog"
	"github.com/laylaymen/vivo-opscore/internal/model"
)

// correlated is the running-memory snapshot this module accumulates per
// corrId as upstream events arrive, matching §4.N's "given corrId, read
// latest: memory snapshot, variants, feasibility, operator result, last
// emitted action bundle".
type correlated struct {
	posture      string
	sentinel     string
	decidedBy    string
	selectedPlan string
	weights      map[string]float64
	score        float64
	alternatives []AlternativeScore
	findings     []Finding
	whitelisted  bool
	eligible     bool
}

// Module builds one vivo.explain.card per corrId, idempotently, the
// moment that corrId's action bundle reaches ops.actions (the last
// thing the spec says the card needs).
type Module struct {
	mu    sync.Mutex
	byCorr map[string]*correlated

	clk     clock.Clock
	log     *zap.Logger
	bus     *bus.Bus
	healthy atomic.Bool
}

// NewModule constructs an Explainability Reporter Module.
func NewModule(clk clock.Clock, log *zap.Logger) *Module {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	m := &Module{byCorr: map[string]*correlated{}, clk: clk, log: log.Named("explain")}
	m.healthy.Store(true)
	return m
}

func (m *Module) Name() string { return "explain" }

func (m *Module) Start(ctx context.Context, b *bus.Bus) error {
	m.bus = b
	subs := []struct {
		topic   bus.Topic
		handler bus.Handler
	}{
		{bus.TopicRiskState, m.handleRiskState},
		{bus.TopicOperatorChoiceLog, m.handleOperatorChoice},
		{bus.TopicVivoFeasibility, m.handleFeasibility},
		{bus.TopicPortfolioIntentApproved, m.handlePortfolioOutcome},
		{bus.TopicPortfolioIntentAdjusted, m.handlePortfolioOutcome},
		{bus.TopicPortfolioIntentRejected, m.handlePortfolioOutcome},
		{bus.TopicPortfolioIntentDeferred, m.handlePortfolioOutcome},
	}
	for _, s := range subs {
		if err := b.Subscribe(s.topic, "explain", s.handler, bus.SubscribeOptions{Ordered: false, Concurrency: 4}); err != nil {
			return err
		}
	}
	// The final trigger: building the card is the one subscription that
	// must be at-most-once per corrId, so idempotency is delegated to
	// the bus the same way internal/guardrail does for rule 1.
	return b.Subscribe(bus.TopicOpsActions, "explain", m.handleActions, bus.SubscribeOptions{
		Ordered: false, Concurrency: 4, Idempotent: true, MemorySec: 3600,
	})
}

func (m *Module) entry(corrID string) *correlated {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byCorr[corrID]
	if !ok {
		c = &correlated{}
		m.byCorr[corrID] = c
	}
	return c
}

func (m *Module) handleRiskState(ctx context.Context, e bus.Envelope) error {
	rs, ok := e.Payload.(model.RiskState)
	if !ok {
		return nil
	}
	c := m.entry(e.CorrelationID)
	m.mu.Lock()
	c.posture, c.sentinel = string(rs.Level), string(rs.Sentinel)
	m.mu.Unlock()
	return nil
}

func (m *Module) handleOperatorChoice(ctx context.Context, e bus.Envelope) error {
	oc, ok := e.Payload.(dialog.OperatorChoice)
	if !ok {
		return nil
	}
	c := m.entry(e.CorrelationID)
	m.mu.Lock()
	c.decidedBy = oc.UserID
	m.mu.Unlock()
	return nil
}

// FeasibilityScore is the per-corrId selected-plan score plus the
// runner-up scores this module needs for the alternatives list. Hard
// is true for a DENY/WHITELIST/TARGET_PCT/SYMBOL_STATUS/REDUCE_ONLY
// style finding (reported as ERROR) and false for a soft finding like
// TRIM/PERCENT_PRICE/MIN_NOTIONAL (reported as WARN) — the same
// hard/soft split internal/guardrail uses, kept independent here so
// this module has no compile-time dependency on guardrail's internals.
type FeasibilityScore struct {
	SelectedPlanID string
	SelectedScore  float64
	Alternatives   []AlternativeScore
	Whitelisted    bool
	Eligible       bool
	Findings       []FeasibilityFinding
}

// FeasibilityFinding is one per-symbol finding as reported on the bus.
type FeasibilityFinding struct {
	Symbol string
	Code   string
	Hard   bool
}

func (m *Module) handleFeasibility(ctx context.Context, e bus.Envelope) error {
	fs, ok := e.Payload.(FeasibilityScore)
	if !ok {
		return nil
	}
	c := m.entry(e.CorrelationID)
	findings := make([]Finding, 0, len(fs.Findings))
	for _, f := range fs.Findings {
		sev := SevWarn
		if f.Hard {
			sev = SevError
		}
		findings = append(findings, Finding{Severity: sev, Symbol: f.Symbol, Message: f.Code})
	}
	m.mu.Lock()
	c.score = fs.SelectedScore
	c.alternatives = fs.Alternatives
	c.whitelisted = fs.Whitelisted
	c.eligible = fs.Eligible
	c.findings = findings
	c.selectedPlan = fs.SelectedPlanID
	m.mu.Unlock()
	return nil
}

// PortfolioOutcome carries the portfolio.intent.{approved,adjusted,
// rejected,deferred} weights used in the card.
type PortfolioOutcome struct {
	Weights map[string]float64
}

func (m *Module) handlePortfolioOutcome(ctx context.Context, e bus.Envelope) error {
	po, ok := e.Payload.(PortfolioOutcome)
	if !ok {
		return nil
	}
	c := m.entry(e.CorrelationID)
	m.mu.Lock()
	c.weights = po.Weights
	m.mu.Unlock()
	return nil
}

func (m *Module) handleActions(ctx context.Context, e bus.Envelope) error {
	bundle, ok := e.Payload.(model.ActionBundle)
	if !ok {
		return nil
	}

	m.mu.Lock()
	c, seen := m.byCorr[e.CorrelationID]
	if !seen {
		c = &correlated{}
	}
	snap := Snapshot{
		CorrID:            e.CorrelationID,
		Posture:           c.posture,
		Sentinel:          c.sentinel,
		DecidedBy:         c.decidedBy,
		SelectedPlan:      c.selectedPlan,
		Weights:           c.weights,
		SelectedScore:     c.score,
		AlternativeScores: c.alternatives,
		Findings:          c.findings,
		Whitelisted:       c.whitelisted,
		Eligible:          c.eligible,
		Children:          childSummaries(bundle.Children),
	}
	delete(m.byCorr, e.CorrelationID)
	m.mu.Unlock()

	if snap.DecidedBy == "" {
		snap.DecidedBy = "auto"
	}
	if snap.SelectedPlan == "" {
		snap.SelectedPlan = bundle.PlanID
	}

	card := Build(snap)
	out := e.Derive(bus.TopicVivoExplainCard, m.clk.Now(), "explain", card, bus.Public)
	return m.bus.Publish(ctx, out)
}

func childSummaries(children []model.ActionChild) []ActionChildSummary {
	out := make([]ActionChildSummary, 0, len(children))
	for _, c := range children {
		notional := c.Qty
		if c.Price > 0 {
			notional = c.Price * c.Qty
		}
		out = append(out, ActionChildSummary{ReduceOnly: c.ReduceOnly, PostOnly: c.PostOnly, NotionalUsd: notional})
	}
	return out
}

func (m *Module) Shutdown(ctx context.Context) error {
	m.healthy.Store(false)
	return nil
}

func (m *Module) Health() bus.ModuleHealth {
	return bus.ModuleHealth{Name: m.Name(), Healthy: m.healthy.Load()}
}
