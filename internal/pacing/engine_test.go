package pacing

import "testing"

// TestScenarioS5 matches the spec's literal S5 scenario: baseChildPerMin
// =120, factor=0.5, ordersPer10s=20, requestWeightPerMin=4800 yields
// rateCap=108 and maxChildPerMin=60.
func TestScenarioS5(t *testing.T) {
	base := Base{ChildPerMin: 120}
	budget := RateBudget{RequestWeightPerMin: 4800, OrdersPer10s: 20}

	if cap := budget.RateCap(); cap != 108 {
		t.Fatalf("rateCap = %v, want 108", cap)
	}

	plan := Compute(base, 1, 1, 0.5, 1, false, budget)
	if plan.RateCap != 108 {
		t.Fatalf("plan.RateCap = %v, want 108", plan.RateCap)
	}
	if plan.MaxChildPerMin != 60 {
		t.Fatalf("maxChildPerMin = %v, want 60", plan.MaxChildPerMin)
	}
}

// TestProperty_PacingMonotonicity is property #7: if all factors weakly
// decrease, maxNewPositions, maxChildPerMin, riskBudgetUsd weakly decrease.
func TestProperty_PacingMonotonicity(t *testing.T) {
	base := Base{MaxNewPositions: 20, ChildPerMin: 200, RiskBudgetUsd: 10000, ReduceOnlyRiskPct: 0.25}
	budget := RateBudget{RequestWeightPerMin: 100000, OrdersPer10s: 1000}

	before := Compute(base, 1, 1, 1, 1, false, budget)
	after := Compute(base, 0.9, 0.8, 0.7, 0.6, false, budget)

	if after.MaxNewPositions > before.MaxNewPositions {
		t.Fatalf("maxNewPositions increased: before=%d after=%d", before.MaxNewPositions, after.MaxNewPositions)
	}
	if after.MaxChildPerMin > before.MaxChildPerMin {
		t.Fatalf("maxChildPerMin increased: before=%d after=%d", before.MaxChildPerMin, after.MaxChildPerMin)
	}
	if after.RiskBudgetUsd > before.RiskBudgetUsd {
		t.Fatalf("riskBudgetUsd increased: before=%v after=%v", before.RiskBudgetUsd, after.RiskBudgetUsd)
	}
}

func TestFRisk_SentinelOverridesLevel(t *testing.T) {
	f, reduceOnly := FRisk(RiskGreen, "SLOWDOWN")
	if f != 0 || !reduceOnly {
		t.Fatalf("expected f=0, reduceOnly=true for non-NORMAL sentinel regardless of level")
	}
}

func TestFTca_Tiers(t *testing.T) {
	hard := TCA{SlipBp: 100, SlipHardBp: 12, SlipSoftBp: 5}
	if f := FTca(hard); f != 0.2 {
		t.Fatalf("FTca hard = %v, want 0.2", f)
	}
	soft := TCA{SlipBp: 8, SlipHardBp: 12, SlipSoftBp: 5}
	if f := FTca(soft); f != 0.6 {
		t.Fatalf("FTca soft = %v, want 0.6", f)
	}
	ok := TCA{SlipBp: 1, SlipHardBp: 12, SlipSoftBp: 5}
	if f := FTca(ok); f != 1 {
		t.Fatalf("FTca ok = %v, want 1", f)
	}
}

func TestFSession_CrossesMidnight(t *testing.T) {
	windows := []Window{{StartMin: 23 * 60, EndMin: 2 * 60, Weight: 0.8}}
	if f := FSession(windows, 23*60+30); f != 0.8 {
		t.Fatalf("FSession before midnight = %v, want 0.8", f)
	}
	if f := FSession(windows, 60); f != 0.8 {
		t.Fatalf("FSession after midnight = %v, want 0.8", f)
	}
	if f := FSession(windows, 12*60); f != 1 {
		t.Fatalf("FSession outside window = %v, want neutral 1", f)
	}
}
