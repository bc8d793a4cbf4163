package dialog

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testPlans() []PlanOption {
	return []PlanOption{
		{ID: ChoiceA, Symbols: []string{"BTCUSDT"}, NotionalUsd: 10000, Type: "TWAP", RiskLevel: "AMBER"},
		{ID: ChoiceB, Symbols: []string{"BTCUSDT"}, NotionalUsd: 5000, Type: "LIMIT", RiskLevel: "AMBER"},
	}
}

func baseRequest() Request {
	return Request{
		SessionID:          "s1",
		Plans:              testPlans(),
		Channels:           []ChannelConfig{{Name: "console", Enabled: true}},
		RequiredPermission: "risk_operator",
		DefaultTimeout:     time.Minute,
		AutoFallback:       "",
	}
}

func TestNewSession_EmergencyHaltSkipsPrompting(t *testing.T) {
	req := baseRequest()
	req.EmergencyHalt = true
	s := NewSession(req, t0)

	if s.State() != StateHalt {
		t.Fatalf("state = %v, want HALT", s.State())
	}
	if s.Result().SelectedPlan != ChoiceHalt || s.Result().FallbackReason != "emergency_halt" {
		t.Fatalf("result = %+v", s.Result())
	}
}

func TestNewSession_StartsWaitingWithDeadline(t *testing.T) {
	s := NewSession(baseRequest(), t0)
	if s.State() != StateWaiting {
		t.Fatalf("state = %v, want WAITING", s.State())
	}
	if !s.Deadline().Equal(t0.Add(time.Minute)) {
		t.Fatalf("deadline = %v, want %v", s.Deadline(), t0.Add(time.Minute))
	}
}

func TestSubmit_FirstAuthorizedResponseWins(t *testing.T) {
	s := NewSession(baseRequest(), t0)
	res, err := s.Submit(User{ID: "alice", Roles: []string{"risk_operator"}}, ChoiceB, t0.Add(10*time.Second))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.SelectedPlan != ChoiceB || res.UserResponse != "alice" {
		t.Fatalf("result = %+v", res)
	}
	if res.TotalDurationMs != 10_000 {
		t.Fatalf("duration = %d, want 10000", res.TotalDurationMs)
	}
	if s.State() != StateCompleted {
		t.Fatalf("state = %v, want COMPLETED", s.State())
	}

	if _, err := s.Submit(User{ID: "bob", Roles: []string{"risk_operator"}}, ChoiceA, t0.Add(20*time.Second)); err != ErrNotWaiting {
		t.Fatalf("second submit err = %v, want ErrNotWaiting", err)
	}
}

func TestSubmit_UnauthorizedRoleRejected(t *testing.T) {
	s := NewSession(baseRequest(), t0)
	_, err := s.Submit(User{ID: "eve", Roles: []string{"viewer"}}, ChoiceA, t0.Add(time.Second))
	if err != ErrUnauthorized {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if s.State() != StateWaiting {
		t.Fatalf("state = %v, want still WAITING", s.State())
	}
}

func TestSubmit_HaltChoiceMovesToHalt(t *testing.T) {
	s := NewSession(baseRequest(), t0)
	res, err := s.Submit(User{ID: "alice", Roles: []string{"risk_operator"}}, ChoiceHalt, t0.Add(time.Second))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if s.State() != StateHalt || res.SelectedPlan != ChoiceHalt {
		t.Fatalf("state=%v result=%+v", s.State(), res)
	}
}

func TestSubmit_UnknownChoiceRejected(t *testing.T) {
	s := NewSession(baseRequest(), t0)
	if _, err := s.Submit(User{ID: "alice", Roles: []string{"risk_operator"}}, Choice("D"), t0.Add(time.Second)); err != ErrUnknownChoice {
		t.Fatalf("err = %v, want ErrUnknownChoice", err)
	}
}

func TestCheckTimeout_NoAutoFallbackYieldsTimeout(t *testing.T) {
	s := NewSession(baseRequest(), t0)
	if _, fired := s.CheckTimeout(t0.Add(30 * time.Second)); fired {
		t.Fatalf("expected no timeout before deadline")
	}
	res, fired := s.CheckTimeout(t0.Add(time.Minute))
	if !fired {
		t.Fatalf("expected timeout to fire at deadline")
	}
	if s.State() != StateTimeout || res.FallbackReason != "timeout" || res.SelectedPlan != "" {
		t.Fatalf("state=%v result=%+v", s.State(), res)
	}
}

func TestCheckTimeout_AutoFallbackSelectsPlan(t *testing.T) {
	req := baseRequest()
	req.AutoFallback = ChoiceB
	s := NewSession(req, t0)

	res, fired := s.CheckTimeout(t0.Add(time.Minute))
	if !fired {
		t.Fatalf("expected timeout to fire")
	}
	if s.State() != StateCompleted || res.SelectedPlan != ChoiceB || res.FallbackReason != "timeout" {
		t.Fatalf("state=%v result=%+v", s.State(), res)
	}
}

func TestSubmit_PostponeAppliesFallback(t *testing.T) {
	req := baseRequest()
	req.AutoFallback = ChoiceA
	s := NewSession(req, t0)

	res, err := s.Submit(User{ID: "alice", Roles: []string{"risk_operator"}}, ChoicePostpone, t0.Add(5*time.Second))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.SelectedPlan != ChoiceA || res.FallbackReason != "postponed" {
		t.Fatalf("result = %+v", res)
	}
}

func TestCancel_MidDialogMovesToHalt(t *testing.T) {
	s := NewSession(baseRequest(), t0)
	res := s.Cancel(t0.Add(15 * time.Second))
	if s.State() != StateHalt || res.SelectedPlan != ChoiceHalt || res.FallbackReason != "emergency_halt" {
		t.Fatalf("state=%v result=%+v", s.State(), res)
	}

	again := s.Cancel(t0.Add(time.Minute))
	if again != res {
		t.Fatalf("cancelling a terminal session should be a no-op returning the same result, got %+v", again)
	}
}

func TestEnabledChannels_FiltersDisabled(t *testing.T) {
	req := baseRequest()
	req.Channels = []ChannelConfig{{Name: "console", Enabled: true}, {Name: "pager", Enabled: false}}
	s := NewSession(req, t0)
	enabled := s.EnabledChannels()
	if len(enabled) != 1 || enabled[0].Name != "console" {
		t.Fatalf("enabled = %+v, want only console", enabled)
	}
}
