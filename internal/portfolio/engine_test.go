package portfolio

import (
	"testing"
	"time"
)

func basePolicy() Policy {
	return Policy{
		TotalRiskPct:  10,
		PerSymbolPct:  5,
		PerClusterPct: map[string]float64{"crypto-majors": 6},
		PerFactorBetaAbs: map[string]float64{"momentum": 3},
		Correlation:   CorrelationThresholds{Hard: 100, Soft: 100},
		OnHardBreach:  "reject",
		ScaleStep:     0.1,
		MinFactor:     0.2,
		Ts:            time.Unix(0, 0),
	}
}

func TestDecide_Approved(t *testing.T) {
	now := time.Unix(1000, 0)
	intent := Intent{CorrID: "c1", Symbol: "BTCUSDT", Cluster: "crypto-majors", Factor: "momentum", FactorBeta: 1, Variant: VariantBase, Confidence: 0.5}
	exposure := Exposure{Equity: 10000, Ts: now, BySymbol: map[string]float64{}, ByCluster: map[string]float64{}, ByFactor: map[string]float64{}}
	policy := basePolicy()
	policy.Ts = now

	d := Decide(intent, exposure, true, policy, true, now, 30*time.Second, 5*time.Minute, 30*time.Second)
	if d.Outcome != OutcomeApproved {
		t.Fatalf("outcome = %v, want approved", d.Outcome)
	}
	if d.CandidateRiskPct != 0.3 {
		t.Fatalf("candidateRiskPct = %v, want 0.3 (0.6*0.5)", d.CandidateRiskPct)
	}
	if d.ScaleFactor != 1 {
		t.Fatalf("scaleFactor = %v, want 1", d.ScaleFactor)
	}
}

func TestDecide_HardCapSymbolRejected(t *testing.T) {
	now := time.Unix(1000, 0)
	intent := Intent{CorrID: "c2", Symbol: "BTCUSDT", Variant: VariantAggressive, Confidence: 1}
	exposure := Exposure{Equity: 10000, Ts: now, BySymbol: map[string]float64{"BTCUSDT": 4.5}}
	policy := basePolicy()
	policy.Ts = now

	d := Decide(intent, exposure, true, policy, true, now, 30*time.Second, 5*time.Minute, 30*time.Second)
	if d.Outcome != OutcomeRejected {
		t.Fatalf("outcome = %v, want rejected", d.Outcome)
	}
	if d.Reason != ReasonHardCapSymbol {
		t.Fatalf("reason = %v, want hard_cap_symbol", d.Reason)
	}
}

func TestDecide_HardCapDeferredWhenPolicySaysDefer(t *testing.T) {
	now := time.Unix(1000, 0)
	intent := Intent{CorrID: "c3", Symbol: "BTCUSDT", Variant: VariantAggressive, Confidence: 1}
	exposure := Exposure{Equity: 10000, Ts: now, BySymbol: map[string]float64{"BTCUSDT": 4.5}}
	policy := basePolicy()
	policy.Ts = now
	policy.OnHardBreach = "defer"

	d := Decide(intent, exposure, true, policy, true, now, 30*time.Second, 5*time.Minute, 30*time.Second)
	if d.Outcome != OutcomeDeferred {
		t.Fatalf("outcome = %v, want deferred", d.Outcome)
	}
	if !d.DeferUntil.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("deferUntil = %v, want now+30s", d.DeferUntil)
	}
}

func TestDecide_MissingExposureDeferredOrRejected(t *testing.T) {
	now := time.Unix(1000, 0)
	intent := Intent{CorrID: "c4", Symbol: "ETHUSDT", Variant: VariantBase, Confidence: 0.5}
	policy := basePolicy()
	policy.Ts = now

	d := Decide(intent, Exposure{}, false, policy, true, now, 30*time.Second, 5*time.Minute, 30*time.Second)
	if d.Outcome != OutcomeRejected || d.Reason != ReasonMissingExposure {
		t.Fatalf("got outcome=%v reason=%v, want rejected/missing_exposure", d.Outcome, d.Reason)
	}
}

func TestDecide_StaleExposure(t *testing.T) {
	now := time.Unix(1000, 0)
	intent := Intent{CorrID: "c5", Symbol: "ETHUSDT", Variant: VariantBase, Confidence: 0.5}
	exposure := Exposure{Equity: 10000, Ts: now.Add(-time.Minute)}
	policy := basePolicy()
	policy.Ts = now

	d := Decide(intent, exposure, true, policy, true, now, 30*time.Second, 5*time.Minute, 30*time.Second)
	if d.Outcome != OutcomeRejected || d.Reason != ReasonStaleExposure {
		t.Fatalf("got outcome=%v reason=%v, want rejected/stale_exposure", d.Outcome, d.Reason)
	}
}

func TestDecide_ScaleSearchAdjusts(t *testing.T) {
	now := time.Unix(1000, 0)
	intent := Intent{CorrID: "c6", Symbol: "BTCUSDT", Variant: VariantAggressive, Confidence: 1}
	exposure := Exposure{Equity: 10000, Ts: now, BySymbol: map[string]float64{}}
	policy := basePolicy()
	policy.Ts = now
	policy.Correlation.MarginalRiskMaxPct = 0.5 // forces the scale-down search

	d := Decide(intent, exposure, true, policy, true, now, 30*time.Second, 5*time.Minute, 30*time.Second)
	if d.Outcome != OutcomeAdjusted {
		t.Fatalf("outcome = %v, want adjusted", d.Outcome)
	}
	if d.ScaleFactor >= 1 {
		t.Fatalf("scaleFactor = %v, want < 1", d.ScaleFactor)
	}
	if d.ApprovedRiskPct > policy.Correlation.MarginalRiskMaxPct+1e-9 {
		t.Fatalf("approvedRiskPct = %v, exceeds marginal cap %v", d.ApprovedRiskPct, policy.Correlation.MarginalRiskMaxPct)
	}
}

// TestProperty_BalancerCaps is property #8: for any approved/adjusted
// intent, for each cap, sum(exposure including new) <= cap.
func TestProperty_BalancerCaps(t *testing.T) {
	now := time.Unix(1000, 0)
	cases := []struct {
		name       string
		confidence float64
		variant    Variant
	}{
		{"low", 0.1, VariantConservative},
		{"mid", 0.5, VariantBase},
		{"high", 1.0, VariantAggressive},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			intent := Intent{CorrID: "p-" + c.name, Symbol: "BTCUSDT", Cluster: "crypto-majors", Variant: c.variant, Confidence: c.confidence}
			exposure := Exposure{Equity: 10000, Ts: now, BySymbol: map[string]float64{"BTCUSDT": 1}, ByCluster: map[string]float64{"crypto-majors": 1}}
			policy := basePolicy()
			policy.Ts = now

			d := Decide(intent, exposure, true, policy, true, now, 30*time.Second, 5*time.Minute, 30*time.Second)
			if d.Outcome != OutcomeApproved && d.Outcome != OutcomeAdjusted {
				return
			}
			if exposure.BySymbol["BTCUSDT"]+d.ApprovedRiskPct > policy.PerSymbolPct+1e-9 {
				t.Fatalf("per-symbol cap violated: %v > %v", exposure.BySymbol["BTCUSDT"]+d.ApprovedRiskPct, policy.PerSymbolPct)
			}
			if exposure.ByCluster["crypto-majors"]+d.ApprovedRiskPct > policy.PerClusterPct["crypto-majors"]+1e-9 {
				t.Fatalf("per-cluster cap violated")
			}
		})
	}
}

func TestQuadraticForm_IdentityMatrixIsSquaredNorm(t *testing.T) {
	M := [][]float64{{1, 0}, {0, 1}}
	v := []float64{3, 4}
	if got := quadraticForm(v, M); got != 25 {
		t.Fatalf("quadraticForm = %v, want 25", got)
	}
}

func TestValidCorrelationMatrix_RejectsNonPSD(t *testing.T) {
	bad := [][]float64{{1, 2}, {2, 1}} // eigenvalues -1, 3: not PD
	if validCorrelationMatrix(bad) {
		t.Fatalf("expected non-PSD matrix to be rejected")
	}
	good := [][]float64{{1, 0.3}, {0.3, 1}}
	if !validCorrelationMatrix(good) {
		t.Fatalf("expected valid correlation matrix to pass")
	}
}
