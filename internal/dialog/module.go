package dialog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/laylaymen/vivo-opscore/internal/bus"
	"github.com/laylaymen/vivo-opscore/internal/clock"
	"github.com/laylaymen/vivo-opscore/internal/drawdown"
	"github.com/laylaymen/vivo-opscore/internal/model"
)

// OperatorChoice is the operator.choice.log payload: one submitted
// response, keyed to the session it answers.
type OperatorChoice struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Roles     []string `json:"roles"`
	Choice    Choice `json:"choice"`
}

// actor owns one session's mutable state plus the channel its timeout
// goroutine and Submit both signal through, so overlapping sessions
// never share a lock.
type actor struct {
	mu      sync.Mutex
	session *Session
	done    chan struct{}
	once    sync.Once
}

func (a *actor) close() {
	a.once.Do(func() { close(a.done) })
}

// Module runs the Operator Dialog: one session per risk.governance.recommendation,
// rendered across the configured
// channels, resolved by the first authorized operator.choice.log
// response or by DefaultTimeout.
type Module struct {
	defaultTimeout     time.Duration
	autoFallback       Choice
	requiredPermission string
	channels           []ChannelConfig
	renders            map[string]Render

	mu       sync.Mutex
	sessions map[string]*actor

	clk     clock.Clock
	log     *zap.Logger
	bus     *bus.Bus
	healthy atomic.Bool
}

// NewModule constructs an Operator Dialog Module. renders maps channel
// name to its transport; a configured channel with no matching entry
// in renders is skipped with a warning at render time.
func NewModule(defaultTimeout time.Duration, autoFallback string, requiredPermission string, channels []ChannelConfig, renders map[string]Render, clk clock.Clock, log *zap.Logger) *Module {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	m := &Module{
		defaultTimeout:     defaultTimeout,
		autoFallback:       Choice(autoFallback),
		requiredPermission: requiredPermission,
		channels:           channels,
		renders:            renders,
		sessions:           map[string]*actor{},
		clk:                clk,
		log:                log.Named("dialog"),
	}
	m.healthy.Store(true)
	return m
}

func (m *Module) Name() string { return "dialog" }

func (m *Module) Start(ctx context.Context, b *bus.Bus) error {
	m.bus = b
	if err := b.Subscribe(bus.TopicRiskGovernanceRecommendation, "dialog", m.handleRecommendation, bus.SubscribeOptions{Ordered: false, Concurrency: 4}); err != nil {
		return err
	}
	if err := b.Subscribe(bus.TopicOperatorChoiceLog, "dialog", m.handleChoice, bus.SubscribeOptions{Ordered: false, Concurrency: 4}); err != nil {
		return err
	}
	return b.Subscribe(bus.TopicRiskState, "dialog", m.handleRiskState, bus.SubscribeOptions{Ordered: true})
}

func (m *Module) handleRiskState(ctx context.Context, e bus.Envelope) error {
	rs, ok := e.Payload.(model.RiskState)
	if !ok || rs.Sentinel != model.SentinelCircuitBreaker {
		return nil
	}
	return m.CancelAll(ctx)
}

// recommendationPlans turns a drawdown.Recommendation into the fixed
// A/B choice set this dialog always offers: apply the recommendation,
// or defer it. emergency_close bypasses prompting entirely per the
// spec's emergencyHalt rule, since there is no safe deferral for it.
func recommendationPlans(rec drawdown.Recommendation) (plans []PlanOption, emergencyHalt bool) {
	if rec.Kind == drawdown.RecEmergencyClose {
		return nil, true
	}
	apply := PlanOption{
		ID:          ChoiceA,
		Type:        string(rec.Kind),
		NotionalUsd: rec.TargetPct,
		RiskLevel:   "RED",
		Notes:       "apply governance recommendation",
	}
	defer_ := PlanOption{
		ID:        ChoiceB,
		Type:      "NO_OP",
		RiskLevel: "RED",
		Notes:     "defer: keep current risk posture",
	}
	return []PlanOption{apply, defer_}, false
}

func (m *Module) handleRecommendation(ctx context.Context, e bus.Envelope) error {
	rec, ok := e.Payload.(drawdown.Recommendation)
	if !ok {
		return nil
	}
	plans, emergencyHalt := recommendationPlans(rec)
	req := Request{
		SessionID:          e.CorrelationID,
		Plans:              plans,
		Channels:           m.channels,
		RequiredPermission: m.requiredPermission,
		DefaultTimeout:     m.defaultTimeout,
		AutoFallback:       m.autoFallback,
		EmergencyHalt:      emergencyHalt,
	}
	return m.startSession(ctx, e, req)
}

func (m *Module) startSession(ctx context.Context, e bus.Envelope, req Request) error {
	now := m.clk.Now()
	session := NewSession(req, now)

	a := &actor{session: session, done: make(chan struct{})}
	m.mu.Lock()
	m.sessions[req.SessionID] = a
	m.mu.Unlock()

	if session.State() == StateHalt {
		return m.publish(ctx, e, session.Result())
	}

	m.renderAll(ctx, req.SessionID, session.EnabledChannels(), req.Plans)

	deadline := session.Deadline()
	go m.awaitTimeout(e, a, deadline)
	return nil
}

// renderAll renders the prompt to every enabled channel. Each channel
// failure is logged as a warning; if all of them fail, one error is
// logged and the session is left waiting as usual.
func (m *Module) renderAll(ctx context.Context, sessionID string, channels []ChannelConfig, plans []PlanOption) {
	failures := 0
	for _, c := range channels {
		r, ok := m.renders[c.Name]
		if !ok {
			m.log.Warn("dialog: no renderer registered for channel", zap.String("channel", c.Name))
			failures++
			continue
		}
		if err := r.Render(ctx, sessionID, plans); err != nil {
			m.log.Warn("dialog: channel render failed", zap.String("channel", c.Name), zap.Error(err))
			failures++
		}
	}
	if len(channels) > 0 && failures == len(channels) {
		m.log.Error("dialog: every channel failed to render", zap.String("sessionId", sessionID))
	}
}

func (m *Module) awaitTimeout(e bus.Envelope, a *actor, deadline time.Time) {
	wait := deadline.Sub(m.clk.Now())
	if wait < 0 {
		wait = 0
	}
	select {
	case <-a.done:
		return
	case <-m.clk.After(wait):
	}

	a.mu.Lock()
	res, fired := a.session.CheckTimeout(m.clk.Now())
	a.mu.Unlock()
	if !fired {
		return
	}
	a.close()
	m.mu.Lock()
	delete(m.sessions, a.session.ID())
	m.mu.Unlock()
	_ = m.publish(context.Background(), e, res)
}

func (m *Module) handleChoice(ctx context.Context, e bus.Envelope) error {
	choice, ok := e.Payload.(OperatorChoice)
	if !ok {
		return nil
	}
	m.mu.Lock()
	a, ok := m.sessions[choice.SessionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	a.mu.Lock()
	res, err := a.session.Submit(User{ID: choice.UserID, Roles: choice.Roles}, choice.Choice, m.clk.Now())
	a.mu.Unlock()
	if err != nil {
		m.log.Warn("dialog: choice rejected", zap.String("sessionId", choice.SessionID), zap.Error(err))
		return nil
	}

	a.close()
	m.mu.Lock()
	delete(m.sessions, choice.SessionID)
	m.mu.Unlock()
	return m.publish(ctx, e, res)
}

// CancelAll moves every open session to HALT, used when risk.state
// reports CIRCUIT_BREAKER mid-dialog (spec §4.M cancellation rule).
func (m *Module) CancelAll(ctx context.Context) error {
	m.mu.Lock()
	actors := make([]*actor, 0, len(m.sessions))
	for id, a := range m.sessions {
		actors = append(actors, a)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, a := range actors {
		a.mu.Lock()
		res := a.session.Cancel(m.clk.Now())
		a.mu.Unlock()
		a.close()
		env := bus.NewEnvelope(bus.TopicVivoDialogComplete, m.clk.Now(), "dialog", res, bus.Public, "")
		if err := m.bus.Publish(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) publish(ctx context.Context, e bus.Envelope, res Result) error {
	out := e.Derive(bus.TopicVivoDialogComplete, m.clk.Now(), "dialog", res, bus.Public)
	return m.bus.Publish(ctx, out)
}

func (m *Module) Shutdown(ctx context.Context) error {
	m.healthy.Store(false)
	return nil
}

func (m *Module) Health() bus.ModuleHealth {
	return bus.ModuleHealth{Name: m.Name(), Healthy: m.healthy.Load()}
}
