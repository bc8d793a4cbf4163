package failover

import (
	"testing"
	"time"

	"github.com/laylaymen/vivo-opscore/internal/model"
)

func testConfig() Config {
	return Config{
		UnhealthyFailures:   3,
		UnhealthyScoreTheta: 0.3,
		MinDwellSec:         60,
		CanaryDuration:      10 * time.Second,
		StableRevertAfter:   10 * time.Minute,
		BrownoutMaxStepPct:  25,
		BrownoutStepSec:     10,
	}
}

// TestScenarioS4 matches the spec's literal S4 scenario: three endpoints
// scored 0.9/0.4/0.6 with A current; three consecutive failures on A make
// it unhealthy; after minDwellSec the orchestrator plans a switch to the
// best healthy alternative (C, score 0.6); once the canary window passes
// with C still healthy, it switches with reasonCodes=["CURRENT_ENDPOINT_UNHEALTHY"].
func TestScenarioS4(t *testing.T) {
	o := NewOrchestrator(testConfig())
	o.SetCatalog([]string{"A", "B", "C"})
	o.endpoints["A"].Score, o.endpoints["A"].Status = 0.9, model.EndpointHealthy
	o.endpoints["B"].Score, o.endpoints["B"].Status = 0.4, model.EndpointHealthy
	o.endpoints["C"].Score, o.endpoints["C"].Status = 0.6, model.EndpointHealthy

	start := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		o.ObserveProbe("A", false, 0, start.Add(time.Duration(i)*time.Second))
	}
	if o.endpoints["A"].Status != model.EndpointUnhealthy {
		t.Fatalf("expected A unhealthy after 3 consecutive failures, got %v", o.endpoints["A"].Status)
	}

	trs := o.Evaluate(start.Add(3 * time.Second))
	if o.state != StateSeekingTarget {
		t.Fatalf("state = %v, want SEEKING_TARGET", o.state)
	}
	if len(trs) != 0 {
		t.Fatalf("expected no transition before dwell elapses, got %v", trs)
	}

	// Before minDwellSec: no plan yet.
	trs = o.Evaluate(start.Add(30 * time.Second))
	if o.state != StateSeekingTarget || len(trs) != 0 {
		t.Fatalf("expected still seeking before dwell, got state=%v trs=%v", o.state, trs)
	}

	// After minDwellSec: plans switch to C (best healthy alternative).
	afterDwell := start.Add(64 * time.Second)
	trs = o.Evaluate(afterDwell)
	if o.state != StatePlanned {
		t.Fatalf("state = %v, want PLANNED", o.state)
	}
	if len(trs) != 1 || trs[0].Kind != "plan" || trs[0].To != "C" {
		t.Fatalf("expected plan to C, got %v", trs)
	}

	// Canary window elapses with C still healthy: switches.
	afterCanary := afterDwell.Add(11 * time.Second)
	trs = o.Evaluate(afterCanary)
	if o.state != StateSwitched {
		t.Fatalf("state = %v, want SWITCHED", o.state)
	}
	if len(trs) != 1 || trs[0].Kind != "switched" || trs[0].From != "A" || trs[0].To != "C" {
		t.Fatalf("expected switched A->C, got %v", trs)
	}
	if trs[0].ReasonCodes[0] != "CURRENT_ENDPOINT_UNHEALTHY" {
		t.Fatalf("reasonCodes = %v, want [CURRENT_ENDPOINT_UNHEALTHY]", trs[0].ReasonCodes)
	}
	if o.Current() != "C" {
		t.Fatalf("current = %v, want C", o.Current())
	}
}

// TestProperty_UnhealthyNeverTargeted is property #6: an unhealthy
// endpoint is never the target of an endpoint.switch.plan, and current
// is always a key of the endpoints map.
func TestProperty_UnhealthyNeverTargeted(t *testing.T) {
	o := NewOrchestrator(testConfig())
	o.SetCatalog([]string{"A", "B", "C"})
	o.endpoints["B"].Status = model.EndpointUnhealthy
	o.endpoints["B"].Score = 0.1
	o.endpoints["C"].Status = model.EndpointUnhealthy
	o.endpoints["C"].Score = 0.1

	start := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		o.ObserveProbe("A", false, 0, start.Add(time.Duration(i)*time.Second))
	}
	o.Evaluate(start.Add(3 * time.Second))
	trs := o.Evaluate(start.Add(64 * time.Second))

	if o.state != StateAlertNoHealthy {
		t.Fatalf("state = %v, want ALERT_NO_HEALTHY since every alternative is unhealthy", o.state)
	}
	for _, tr := range trs {
		if tr.Kind == "plan" && (tr.To == "B" || tr.To == "C") {
			t.Fatalf("plan must never target an unhealthy endpoint, got %v", tr)
		}
	}
	if _, ok := o.endpoints[o.Current()]; !ok {
		t.Fatalf("current endpoint %q must always be in the endpoints map", o.Current())
	}
}

func TestStatusFor_UnhealthyByScoreOrConsecutiveFailures(t *testing.T) {
	cfg := testConfig()
	ep := &Endpoint{Score: 0.9}
	ep.ConsecutiveFailures = cfg.UnhealthyFailures
	if statusFor(ep, cfg) != model.EndpointUnhealthy {
		t.Fatalf("expected unhealthy from consecutive failures alone")
	}

	ep2 := &Endpoint{Score: 0.1, ConsecutiveFailures: 0}
	if statusFor(ep2, cfg) != model.EndpointUnhealthy {
		t.Fatalf("expected unhealthy from score below theta alone")
	}
}

func TestEvaluate_ExhaustedSwitchBudgetDefersRatherThanSwitches(t *testing.T) {
	cfg := testConfig()
	cfg.SwitchBudgetCapacity = 2 // less than the "switch" cost of 3
	cfg.SwitchBudgetRefill = time.Hour
	o := NewOrchestrator(cfg)
	defer o.Close()
	o.SetCatalog([]string{"A", "B"})
	o.endpoints["B"].Score, o.endpoints["B"].Status = 0.8, model.EndpointHealthy

	start := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		o.ObserveProbe("A", false, 0, start.Add(time.Duration(i)*time.Second))
	}
	o.Evaluate(start.Add(3 * time.Second))
	o.Evaluate(start.Add(64 * time.Second))
	// Canary window elapses: the switch itself is what the budget defers.
	trs := o.Evaluate(start.Add(75 * time.Second))

	if o.state != StatePlanned {
		t.Fatalf("state = %v, want PLANNED (switch budget exhausted should hold the plan)", o.state)
	}
	if o.Current() != "A" {
		t.Fatalf("current = %q, want still A since the switch was deferred", o.Current())
	}
	found := false
	for _, tr := range trs {
		if tr.Kind == "switch_deferred" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a switch_deferred transition, got %+v", trs)
	}
}
