// Package dialog implements the Operator Dialog (spec §4.M): a
// single-threaded-per-session state machine that prompts a human
// across one or more channels to pick between plan options, with a
// deadline-driven fallback when nobody answers in time.
package dialog

import "time"

// State is a dialog session's position in its state machine.
type State string

const (
	StateIdle      State = "IDLE"
	StatePrompting State = "PROMPTING"
	StateWaiting   State = "WAITING"
	StateCompleted State = "COMPLETED"
	StateTimeout   State = "TIMEOUT"
	StateHalt      State = "HALT"
)

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateTimeout, StateHalt:
		return true
	default:
		return false
	}
}

// Choice is one of the options a session can resolve to.
type Choice string

const (
	ChoiceA        Choice = "A"
	ChoiceB        Choice = "B"
	ChoiceC        Choice = "C"
	ChoiceHalt     Choice = "HALT"
	ChoicePostpone Choice = "POSTPONE"
)

// PlanOption is one candidate plan rendered to the operator.
type PlanOption struct {
	ID              Choice  `json:"id"` // A, B, or C
	Symbols         []string `json:"symbols"`
	NotionalUsd     float64  `json:"notionalUsd"`
	Type            string   `json:"type"` // e.g. LIMIT, TWAP
	Bps             float64  `json:"bps"`
	RiskLevel       string   `json:"riskLevel"`
	TwapMs          int      `json:"twapMs,omitempty"`
	ExpectedPnlUsd  float64  `json:"expectedPnlUsd"`
	Notes           string   `json:"notes,omitempty"`
}

// ChannelConfig declares one eligible delivery channel for a session.
type ChannelConfig struct {
	Name      string
	Enabled   bool
	TimeoutMs int // per-channel render timeout; 0 means no channel-local bound
}

// User identifies a responder and the roles they hold.
type User struct {
	ID    string
	Roles []string
}

func (u User) hasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Request is the input that starts a session.
type Request struct {
	SessionID          string
	Plans              []PlanOption
	Channels           []ChannelConfig
	RequiredPermission string
	DefaultTimeout     time.Duration
	AutoFallback       Choice // "" means none: expiry yields TIMEOUT
	EmergencyHalt      bool
}

// Result is the session outcome, matching the spec's result-event shape.
type Result struct {
	SessionID       string        `json:"sessionId"`
	SelectedPlan    Choice        `json:"selectedPlan"`
	UserResponse    string        `json:"userResponse,omitempty"`
	FallbackReason  string        `json:"fallbackReason,omitempty"`
	TotalDurationMs int64         `json:"totalDurationMs"`
}

// Session is the per-sessionId state machine. All mutation happens
// through its methods; callers serialize access per session (the
// module layer does this with a per-session actor).
type Session struct {
	id                 string
	plans              map[Choice]PlanOption
	channels           []ChannelConfig
	requiredPermission string
	autoFallback       Choice

	state      State
	startedAt  time.Time
	deadline   time.Time
	result     Result
}

// NewSession creates a session and immediately applies emergencyHalt or
// starts PROMPTING, per the spec's "emergencyHalt=true short-circuits
// to HALT without prompting" rule.
func NewSession(req Request, now time.Time) *Session {
	plans := make(map[Choice]PlanOption, len(req.Plans))
	for _, p := range req.Plans {
		plans[p.ID] = p
	}
	s := &Session{
		id:                 req.SessionID,
		plans:              plans,
		channels:           req.Channels,
		requiredPermission: req.RequiredPermission,
		autoFallback:       req.AutoFallback,
		startedAt:          now,
	}
	if req.EmergencyHalt {
		s.state = StateHalt
		s.result = Result{SessionID: s.id, SelectedPlan: ChoiceHalt, FallbackReason: "emergency_halt", TotalDurationMs: 0}
		return s
	}
	s.state = StatePrompting
	timeout := req.DefaultTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	s.deadline = now.Add(timeout)
	s.state = StateWaiting
	return s
}

func (s *Session) State() State        { return s.state }
func (s *Session) Deadline() time.Time { return s.deadline }
func (s *Session) ID() string          { return s.id }
func (s *Session) Result() Result      { return s.result }

// EnabledChannels returns the channels a PROMPTING session should
// render to; callers log channel errors, and even a failure of every
// channel leaves the session's state unchanged.
func (s *Session) EnabledChannels() []ChannelConfig {
	out := make([]ChannelConfig, 0, len(s.channels))
	for _, c := range s.channels {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out
}

func (s *Session) finish(now time.Time, res Result) Result {
	res.SessionID = s.id
	res.TotalDurationMs = now.Sub(s.startedAt).Milliseconds()
	s.result = res
	return res
}

// Submit records the first authorized response. Later submissions to a
// non-WAITING session are rejected with ErrNotWaiting; submissions from
// a user lacking requiredPermission are rejected with ErrUnauthorized
// and leave the session WAITING.
func (s *Session) Submit(user User, choice Choice, now time.Time) (Result, error) {
	if s.state != StateWaiting {
		return Result{}, ErrNotWaiting
	}
	if s.requiredPermission != "" && !user.hasRole(s.requiredPermission) {
		return Result{}, ErrUnauthorized
	}
	if choice == ChoiceHalt {
		s.state = StateHalt
		return s.finish(now, Result{SelectedPlan: ChoiceHalt, UserResponse: string(user.ID)}), nil
	}
	if choice == ChoicePostpone {
		return s.applyFallback(now, "postponed")
	}
	if _, ok := s.plans[choice]; !ok {
		return Result{}, ErrUnknownChoice
	}
	s.state = StateCompleted
	return s.finish(now, Result{SelectedPlan: choice, UserResponse: string(user.ID)}), nil
}

// CheckTimeout resolves a WAITING session whose deadline has passed,
// selecting autoFallback when configured or returning TIMEOUT
// otherwise. ok is false if the session is not WAITING or the deadline
// has not yet passed.
func (s *Session) CheckTimeout(now time.Time) (Result, bool) {
	if s.state != StateWaiting || now.Before(s.deadline) {
		return Result{}, false
	}
	res, _ := s.applyFallback(now, "timeout")
	return res, true
}

func (s *Session) applyFallback(now time.Time, reason string) (Result, error) {
	if s.autoFallback != "" {
		if _, ok := s.plans[s.autoFallback]; ok {
			s.state = StateCompleted
			return s.finish(now, Result{SelectedPlan: s.autoFallback, FallbackReason: reason}), nil
		}
	}
	s.state = StateTimeout
	return s.finish(now, Result{FallbackReason: reason}), nil
}

// Cancel moves a still-open session to HALT, for a mid-dialog
// emergencyHalt event (spec §4.M: "cancellation via a new
// emergencyHalt event").
func (s *Session) Cancel(now time.Time) Result {
	if s.state.Terminal() {
		return s.result
	}
	s.state = StateHalt
	return s.finish(now, Result{SelectedPlan: ChoiceHalt, FallbackReason: "emergency_halt"})
}
