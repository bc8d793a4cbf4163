package guardrail

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/laylaymen/vivo-opscore/internal/bus"
	"github.com/laylaymen/vivo-opscore/internal/clock"
	"github.com/laylaymen/vivo-opscore/internal/model"
)

// Report is the ops.guardrail.report payload.
type Report struct {
	Changes        []Change `json:"changes"`
	BlockedSymbols []string `json:"blockedSymbols"`
	Mode           Mode     `json:"mode"`
}

// AuditRecord is the audit.log payload this module emits: the first
// six diff lines, per §4.L rule 7.
type AuditRecord struct {
	PlanID  string   `json:"planId"`
	Changes []Change `json:"changes"`
	Mode    Mode     `json:"mode"`
}

const auditChangeCap = 6

// Module runs the Execution Guardrail Bridge against ops.actions.proposed,
// keeping the latest risk.state and vivo.feasibility snapshots. Bus-level
// idempotency (opted in on the ops.actions.proposed subscription) handles
// rule 1; this module implements rules 2-7.
type Module struct {
	cfg Config

	mu          sync.Mutex
	risk        model.RiskState
	feasibility Feasibility

	clk     clock.Clock
	log     *zap.Logger
	bus     *bus.Bus
	healthy atomic.Bool
}

// NewModule constructs an Execution Guardrail Bridge Module.
func NewModule(cfg Config, clk clock.Clock, log *zap.Logger) *Module {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Module{
		cfg:         cfg,
		feasibility: Feasibility{},
		clk:         clk,
		log:         log.Named("guardrail"),
	}
	m.healthy.Store(true)
	return m
}

func (m *Module) Name() string { return "guardrail" }

func (m *Module) Start(ctx context.Context, b *bus.Bus) error {
	m.bus = b
	if err := b.Subscribe(bus.TopicRiskState, "guardrail", m.handleRiskState, bus.SubscribeOptions{Ordered: true}); err != nil {
		return err
	}
	if err := b.Subscribe(bus.TopicVivoFeasibility, "guardrail", m.handleFeasibility, bus.SubscribeOptions{Ordered: true}); err != nil {
		return err
	}
	return b.Subscribe(bus.TopicOpsActionsProposed, "guardrail", m.handleProposed, bus.SubscribeOptions{
		Ordered: true, Idempotent: true, MemorySec: m.cfg.IdempotencyTTLSec,
	})
}

func (m *Module) handleRiskState(ctx context.Context, e bus.Envelope) error {
	rs, ok := e.Payload.(model.RiskState)
	if !ok {
		return nil
	}
	m.mu.Lock()
	m.risk = rs
	m.mu.Unlock()
	return nil
}

// FeasibilitySnapshot is the vivo.feasibility payload: a full
// replacement of the per-symbol findings map.
type FeasibilitySnapshot struct {
	Findings Feasibility
}

func (m *Module) handleFeasibility(ctx context.Context, e bus.Envelope) error {
	fs, ok := e.Payload.(FeasibilitySnapshot)
	if !ok {
		return nil
	}
	m.mu.Lock()
	m.feasibility = fs.Findings
	m.mu.Unlock()
	return nil
}

// ProposedBundle is the ops.actions.proposed payload.
type ProposedBundle struct {
	Bundle model.ActionBundle
	Plan   Plan
}

func (m *Module) handleProposed(ctx context.Context, e bus.Envelope) error {
	pb, ok := e.Payload.(ProposedBundle)
	if !ok {
		m.log.Warn("ops.actions.proposed: unexpected payload type")
		return nil
	}

	m.mu.Lock()
	risk := m.risk
	feasibility := m.feasibility
	m.mu.Unlock()

	result := Apply(pb.Bundle, risk, feasibility, pb.Plan, m.cfg)
	now := m.clk.Now()

	actionsOut := e.Derive(bus.TopicOpsActions, now, "guardrail", result.After, bus.Public)
	if err := m.bus.Publish(ctx, actionsOut); err != nil {
		return err
	}

	reportOut := e.Derive(bus.TopicOpsGuardrailReport, now, "guardrail", Report{
		Changes: result.Changes, BlockedSymbols: result.BlockedSymbols, Mode: result.Mode,
	}, bus.Public)
	if err := m.bus.Publish(ctx, reportOut); err != nil {
		return err
	}

	changes := result.Changes
	if len(changes) > auditChangeCap {
		changes = changes[:auditChangeCap]
	}
	auditOut := e.Derive(bus.TopicAuditLog, now, "guardrail", AuditRecord{
		PlanID: pb.Bundle.PlanID, Changes: changes, Mode: result.Mode,
	}, bus.SensitiveLow)
	return m.bus.Publish(ctx, auditOut)
}

func (m *Module) Shutdown(ctx context.Context) error {
	m.healthy.Store(false)
	return nil
}

func (m *Module) Health() bus.ModuleHealth {
	return bus.ModuleHealth{Name: m.Name(), Healthy: m.healthy.Load()}
}
