package drawdown

import (
	"testing"
	"time"
)

func testThresholds() Thresholds {
	return Thresholds{
		WarnPct: 2.0, ErrorPct: 3.5, EmergencyPct: 5.0,
		WarnCooloff: 2 * time.Hour, ErrorCooloff: 24 * time.Hour, EmergencyCooloff: 72 * time.Hour,
	}
}

// TestEvaluate_ScenarioS1 matches the spec's literal S1 scenario: equity
// [100, 100, 97, 96.5, 95] with peak 100 crosses emergency (DD=5.00) on
// the 5th snapshot, and a second call within the cool-off emits nothing.
func TestEvaluate_ScenarioS1(t *testing.T) {
	curve := NewCurve(60*24*time.Hour, 0.5)
	th := testThresholds()
	start := time.Unix(0, 0)

	values := []float64{100, 100, 97, 96.5, 95}
	var last Evaluation
	for i, v := range values {
		now := start.Add(time.Duration(i) * time.Minute)
		curve.Observe(Snapshot{Value: v, Ts: now})
		last = Evaluate(curve, th, now)
	}

	if last.Level != LevelEmergency {
		t.Fatalf("level = %v, want emergency", last.Level)
	}
	if last.CurrentDD != 5.0 {
		t.Fatalf("currentDD = %v, want 5.00", last.CurrentDD)
	}
	found := false
	for _, r := range last.Recommendations {
		if r.Kind == RecEmergencyClose {
			found = true
			if r.Duration < 72*time.Hour {
				t.Fatalf("emergency_close duration = %v, want >= 72h", r.Duration)
			}
		}
	}
	if !found {
		t.Fatalf("expected emergency_close recommendation, got %v", last.Recommendations)
	}

	// A second call at the same equity level, still within the cool-off,
	// must emit nothing new.
	again := Evaluate(curve, th, start.Add(5*time.Minute))
	if again.Level != "" {
		t.Fatalf("expected no new level within cool-off, got %v", again.Level)
	}
}

// TestPeakMonotonicity is property #3: after any sequence of equity
// snapshots, peak >= max(observed values).
func TestPeakMonotonicity(t *testing.T) {
	curve := NewCurve(60*24*time.Hour, 0.5)
	start := time.Unix(0, 0)
	values := []float64{100, 105, 98, 110, 90, 103}
	var maxSeen float64
	for i, v := range values {
		curve.Observe(Snapshot{Value: v, Ts: start.Add(time.Duration(i) * time.Minute)})
		if v > maxSeen {
			maxSeen = v
		}
		if curve.peak < maxSeen {
			t.Fatalf("peak %v fell below max observed %v after step %d", curve.peak, maxSeen, i)
		}
	}
}

func TestWarnCooloffExpires(t *testing.T) {
	curve := NewCurve(60*24*time.Hour, 0.5)
	th := testThresholds()
	start := time.Unix(0, 0)

	curve.Observe(Snapshot{Value: 100, Ts: start})
	Evaluate(curve, th, start)
	curve.Observe(Snapshot{Value: 97.5, Ts: start.Add(time.Minute)})
	eval := Evaluate(curve, th, start.Add(time.Minute))
	if eval.Level != LevelWarn {
		t.Fatalf("level = %v, want warn", eval.Level)
	}

	// Within cool-off: nothing new even though DD is still over threshold.
	repeat := Evaluate(curve, th, start.Add(time.Minute+time.Second))
	if repeat.Level != "" {
		t.Fatalf("expected suppressed during cool-off, got %v", repeat.Level)
	}

	// After cool-off expires, the same DD re-triggers warn.
	after := Evaluate(curve, th, start.Add(3*time.Hour))
	if after.Level != LevelWarn {
		t.Fatalf("level after cool-off expiry = %v, want warn", after.Level)
	}
}

func TestEstimate_RequiresTenPnLRows(t *testing.T) {
	curve := NewCurve(60*24*time.Hour, 0.5)
	curve.Observe(Snapshot{Value: 100, Ts: time.Unix(0, 0)})
	for i := 0; i < 9; i++ {
		curve.ObservePnL(1.0)
	}
	est := curve.Estimate(100)
	if est.Available {
		t.Fatalf("expected no recovery estimate below 10 PnL rows")
	}
	curve.ObservePnL(1.0)
	est = curve.Estimate(100)
	if !est.Available {
		t.Fatalf("expected recovery estimate available at 10 PnL rows")
	}
	if est.ProbabilityOfRecovery < 0.05 || est.ProbabilityOfRecovery > 0.95 {
		t.Fatalf("probabilityOfRecovery %v out of [0.05, 0.95]", est.ProbabilityOfRecovery)
	}
}
