// Package failover implements the Endpoint Failover Orchestrator (spec
// §4.H): per-endpoint health scoring from probe results, and a
// dwell/canary/revert state machine that switches the active endpoint
// away from an unhealthy one and back once the primary recovers.
package failover

import (
	"time"

	"github.com/laylaymen/vivo-opscore/internal/budget"
	"github.com/laylaymen/vivo-opscore/internal/model"
)

// switch costs more than reverting to primary: reverting is the
// steady-state-preferred direction and should not be budget-limited as
// aggressively as a departure from it.
const (
	actionSwitch  = "switch"
	actionRevert  = "revert"
)

// FSMState is one state of the switch-orchestration state machine.
type FSMState string

const (
	StateNormal         FSMState = "NORMAL"
	StateSeekingTarget  FSMState = "SEEKING_TARGET"
	StatePlanned        FSMState = "PLANNED"
	StateSwitched       FSMState = "SWITCHED"
	StateReverting      FSMState = "REVERTING"
	StateAlertNoHealthy FSMState = "ALERT_NO_HEALTHY"
)

// Endpoint is the per-endpoint health state (§3 "Endpoint health").
type Endpoint struct {
	ID                  string
	Score               float64
	RttMs               float64
	Failures            int
	ConsecutiveFailures int
	Status              model.EndpointStatus
	LastProbe           time.Time
	RttHistory          []float64
}

// Config bundles the thresholds read from config.FailoverConfig, kept
// local to this package to avoid an import cycle.
type Config struct {
	UnhealthyFailures   int
	UnhealthyScoreTheta float64
	MinDwellSec         int64
	CanaryDuration      time.Duration
	StableRevertAfter   time.Duration
	BrownoutMaxStepPct  float64
	BrownoutStepSec     int64

	// SwitchBudgetCapacity is the token bucket capacity gating actual
	// endpoint switches/reverts; 0 disables the limit.
	SwitchBudgetCapacity int
	SwitchBudgetRefill   time.Duration
}

// Orchestrator holds the full FSM + endpoint table for one logical
// service (e.g. the exchange REST/WS transport). Not safe for
// concurrent use — Module wraps it with a mutex.
type Orchestrator struct {
	cfg Config

	endpoints map[string]*Endpoint
	primary   string // the originally-designated endpoint; switches always try to revert here
	current   string

	state      FSMState
	dwellStart time.Time
	planTarget string
	planAt     time.Time
	switchedAt time.Time

	consecutiveSwitchFailures int
	brownout                  *Brownout

	// switchBudget rate-limits actual endpoint switches and reverts so a
	// flapping health signal cannot thrash the active endpoint; nil
	// disables the limit.
	switchBudget *budget.Bucket
}

// NewOrchestrator creates an empty Orchestrator in NORMAL state.
func NewOrchestrator(cfg Config) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		endpoints: map[string]*Endpoint{},
		state:     StateNormal,
		brownout: &Brownout{
			maxStepPct: cfg.BrownoutMaxStepPct,
			stepSec:    cfg.BrownoutStepSec,
		},
	}
	if cfg.SwitchBudgetCapacity > 0 {
		o.switchBudget = budget.New(cfg.SwitchBudgetCapacity, cfg.SwitchBudgetRefill, map[string]int{
			actionSwitch: 3,
			actionRevert: 1,
		})
	}
	return o
}

// Close releases the switch budget's refill goroutine, if one is
// running. Safe to call on an Orchestrator built without a budget.
func (o *Orchestrator) Close() {
	if o.switchBudget != nil {
		o.switchBudget.Close()
	}
}

// SetCatalog registers the known endpoint set. ids[0] becomes primary and
// current the first time it is called; subsequent calls only add
// endpoints that are not already tracked (losing an endpoint from the
// catalog does not remove its history — it simply stops receiving
// probes).
func (o *Orchestrator) SetCatalog(ids []string) {
	for i, id := range ids {
		if _, ok := o.endpoints[id]; !ok {
			o.endpoints[id] = &Endpoint{ID: id, Score: 1, Status: model.EndpointHealthy}
		}
		if o.primary == "" && i == 0 {
			o.primary = id
			o.current = id
		}
	}
}

// Current returns the currently active endpoint id.
func (o *Orchestrator) Current() string { return o.current }

// State returns the current FSM state.
func (o *Orchestrator) State() FSMState { return o.state }

// Snapshot returns a copy of one endpoint's health, or false if unknown.
func (o *Orchestrator) Snapshot(id string) (Endpoint, bool) {
	ep, ok := o.endpoints[id]
	if !ok {
		return Endpoint{}, false
	}
	return *ep, true
}

// CheckpointState is the restart-recovery-durable subset of an
// Orchestrator's state: which endpoint is primary/current, the FSM
// state, and each endpoint's score/status (not its rolling RTT
// history, which rebuilds from fresh probes).
type CheckpointState struct {
	Primary   string
	Current   string
	State     FSMState
	Endpoints map[string]Endpoint
}

// Checkpoint returns the durable subset of o's state.
func (o *Orchestrator) Checkpoint() CheckpointState {
	endpoints := make(map[string]Endpoint, len(o.endpoints))
	for id, ep := range o.endpoints {
		endpoints[id] = *ep
	}
	return CheckpointState{Primary: o.primary, Current: o.current, State: o.state, Endpoints: endpoints}
}

// Restore rehydrates o's primary/current endpoint, FSM state, and
// per-endpoint health from a prior Checkpoint, e.g. after a process
// restart. The FSM state is restored as checkpointed; the plan target,
// the dwell/canary/switch timestamps and the brownout progress are not
// part of a checkpoint and start from their zero values.
func (o *Orchestrator) Restore(cp CheckpointState) {
	o.primary = cp.Primary
	o.current = cp.Current
	o.state = cp.State
	o.endpoints = make(map[string]*Endpoint, len(cp.Endpoints))
	for id, ep := range cp.Endpoints {
		e := ep
		o.endpoints[id] = &e
	}
}

const timeoutScoreRttMs = 1000 // synthetic RTT recorded on probe failure, matching a 1000ms score-floor

// ObserveProbe updates one endpoint's score and status from a probe
// result, per §4.H's score-update rule.
func (o *Orchestrator) ObserveProbe(id string, success bool, rttMs float64, now time.Time) {
	ep, ok := o.endpoints[id]
	if !ok {
		ep = &Endpoint{ID: id, Score: 1, Status: model.EndpointHealthy}
		o.endpoints[id] = ep
	}
	ep.LastProbe = now

	if success {
		ep.ConsecutiveFailures = 0
		ep.RttMs = rttMs
		ep.RttHistory = append(ep.RttHistory, rttMs)
		if len(ep.RttHistory) > 20 {
			ep.RttHistory = ep.RttHistory[len(ep.RttHistory)-20:]
		}
		ep.Score = clamp(1-meanOf(ep.RttHistory)/1000, 0.1, 1)
	} else {
		ep.Failures++
		ep.ConsecutiveFailures++
		ep.RttMs = timeoutScoreRttMs
		ep.Score = maxf(0, ep.Score-0.2)
	}

	ep.Status = statusFor(ep, o.cfg)
}

// statusFor implements §3's unhealthy invariant exactly; degraded is a
// mid-band heuristic the spec leaves unconstrained.
func statusFor(ep *Endpoint, cfg Config) model.EndpointStatus {
	if ep.ConsecutiveFailures >= cfg.UnhealthyFailures || ep.Score < cfg.UnhealthyScoreTheta {
		return model.EndpointUnhealthy
	}
	if ep.Score < 0.6 {
		return model.EndpointDegraded
	}
	return model.EndpointHealthy
}

// Transition is one FSM-driven event to emit.
type Transition struct {
	Kind         string // "plan" | "switched" | "switch_deferred" | "alert" | "brownout"
	From, To     string
	ReasonCodes  []string
	BrownoutPct  float64
}

// Evaluate advances the FSM against now, returning any transition
// events produced. It must be called after every ObserveProbe and on
// every clock.tick1m so dwell/canary/revert timers make progress even
// between probe results.
func (o *Orchestrator) Evaluate(now time.Time) []Transition {
	var out []Transition

	switch o.state {
	case StateNormal:
		cur, ok := o.endpoints[o.current]
		if ok && cur.Status == model.EndpointUnhealthy {
			o.state = StateSeekingTarget
			o.dwellStart = now
		}

	case StateSeekingTarget:
		if now.Sub(o.dwellStart) < time.Duration(o.cfg.MinDwellSec)*time.Second {
			break
		}
		if o.brownout.Active() {
			break
		}
		best := o.bestCandidate()
		if best == "" {
			o.state = StateAlertNoHealthy
			out = append(out, Transition{Kind: "alert", ReasonCodes: []string{"NO_HEALTHY_ENDPOINT"}})
			break
		}
		o.state = StatePlanned
		o.planTarget = best
		o.planAt = now
		out = append(out, Transition{Kind: "plan", From: o.current, To: best, ReasonCodes: []string{"CURRENT_ENDPOINT_UNHEALTHY"}})

	case StatePlanned:
		if now.Sub(o.planAt) < o.cfg.CanaryDuration {
			break
		}
		target, ok := o.endpoints[o.planTarget]
		if !ok || target.Status == model.EndpointUnhealthy {
			o.state = StateNormal
			o.consecutiveSwitchFailures++
			o.planTarget = ""
			break
		}
		if o.switchBudget != nil && !o.switchBudget.ConsumeAction(actionSwitch) {
			// Budget exhausted: hold the plan and re-check next Evaluate
			// rather than switching or giving up on the target.
			out = append(out, Transition{Kind: "switch_deferred", From: o.current, To: o.planTarget, ReasonCodes: []string{"SWITCH_BUDGET_EXHAUSTED"}})
			break
		}
		from := o.current
		o.current = o.planTarget
		o.state = StateSwitched
		o.switchedAt = now
		o.planTarget = ""
		o.brownout.Start(now)
		out = append(out, Transition{Kind: "switched", From: from, To: o.current, ReasonCodes: []string{"CURRENT_ENDPOINT_UNHEALTHY"}})

	case StateSwitched:
		if pct, stepped := o.brownout.Step(now); stepped {
			out = append(out, Transition{Kind: "brownout", From: o.primary, To: o.current, BrownoutPct: pct})
		}
		primary, ok := o.endpoints[o.primary]
		if now.Sub(o.switchedAt) >= o.cfg.StableRevertAfter && ok && primary.Status == model.EndpointHealthy {
			o.state = StateReverting
		}

	case StateReverting:
		if o.switchBudget != nil && !o.switchBudget.ConsumeAction(actionRevert) {
			out = append(out, Transition{Kind: "switch_deferred", From: o.current, To: o.primary, ReasonCodes: []string{"SWITCH_BUDGET_EXHAUSTED"}})
			break
		}
		from := o.current
		o.current = o.primary
		o.state = StateNormal
		out = append(out, Transition{Kind: "switched", From: from, To: o.current, ReasonCodes: []string{"PREFER_PRIMARY_AFTER_STABLE"}})

	case StateAlertNoHealthy:
		cur, ok := o.endpoints[o.current]
		if ok && cur.Status != model.EndpointUnhealthy {
			o.state = StateNormal
		} else if o.bestCandidate() != "" {
			o.state = StateSeekingTarget
			o.dwellStart = now
		}
	}

	return out
}

// bestCandidate returns the highest-score endpoint other than current
// that is not unhealthy, or "" if none qualifies. Property #6 requires
// that an unhealthy endpoint is never a switch target.
func (o *Orchestrator) bestCandidate() string {
	best := ""
	var bestScore float64 = -1
	for id, ep := range o.endpoints {
		if id == o.current || ep.Status == model.EndpointUnhealthy {
			continue
		}
		if ep.Score > bestScore {
			best, bestScore = id, ep.Score
		}
	}
	return best
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
