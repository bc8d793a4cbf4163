// Package portfolio implements the Portfolio Exposure Balancer (spec
// §4.J): it scores an execution intent's candidate risk against a
// policy's hard and soft caps and the current exposure snapshot,
// producing an approve/adjust/reject/defer decision.
package portfolio

import "time"

// Variant is the execution intent's risk posture.
type Variant string

const (
	VariantConservative Variant = "conservative"
	VariantBase         Variant = "base"
	VariantAggressive   Variant = "aggressive"
)

// baseVariantRisk maps a Variant to its base risk fraction.
func baseVariantRisk(v Variant) float64 {
	switch v {
	case VariantConservative:
		return 0.4
	case VariantAggressive:
		return 0.8
	default:
		return 0.6
	}
}

// Side mirrors the order side on an intent.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Intent is the execution.intent.accepted payload this module balances
// against portfolio caps.
type Intent struct {
	CorrID     string
	Symbol     string
	Cluster    string
	Factor     string
	FactorBeta float64
	Side       Side
	Variant    Variant
	Confidence float64
}

// Exposure is the current account.exposure snapshot, keyed the same way
// as model.AccountExposure.
type Exposure struct {
	Equity    float64
	Ts        time.Time
	BySymbol  map[string]float64
	ByCluster map[string]float64
	ByFactor  map[string]float64
}

// CorrelationThresholds are the policy's pairwise-correlation limits.
type CorrelationThresholds struct {
	Hard               float64
	Soft               float64
	DefaultSameCluster float64
	MarginalRiskMaxPct float64
}

// Policy is the portfolio.policy payload: caps plus the correlation
// matrix used for the correlation-hard check.
type Policy struct {
	TotalRiskPct          float64
	PerSymbolPct          float64
	PerClusterPct         map[string]float64
	PerFactorBetaAbs      map[string]float64
	LongShortImbalancePct float64
	Correlation           CorrelationThresholds
	// CorrelationMatrix and Symbols describe the pairwise correlation
	// between the policy-tracked symbols; Symbols[i] names row/col i.
	Symbols           []string
	CorrelationMatrix [][]float64

	OnHardBreach string // reject|defer
	ScaleStep    float64
	MinFactor    float64

	Ts time.Time
}

// Outcome is the decision kind a Decide call resolves to.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeAdjusted Outcome = "adjusted"
	OutcomeRejected Outcome = "rejected"
	OutcomeDeferred Outcome = "deferred"
)

// RejectReason names why an intent was rejected or deferred.
type RejectReason string

const (
	ReasonMissingExposure RejectReason = "missing_exposure"
	ReasonMissingPolicy   RejectReason = "missing_policy"
	ReasonStaleExposure   RejectReason = "stale_exposure"
	ReasonHardCapTotal    RejectReason = "hard_cap_total"
	ReasonHardCapSymbol   RejectReason = "hard_cap_symbol"
	ReasonHardCapCluster  RejectReason = "hard_cap_cluster"
	ReasonHardCapBeta     RejectReason = "hard_cap_factor_beta"
	ReasonHardCapCorr     RejectReason = "hard_cap_correlation"
)

// Decision is the portfolio.intent.{approved,adjusted,rejected,deferred}
// payload.
type Decision struct {
	Outcome          Outcome      `json:"outcome"`
	CorrID           string       `json:"corrId"`
	Symbol           string       `json:"symbol"`
	CandidateRiskPct float64      `json:"candidateRiskPct"`
	ScaleFactor      float64      `json:"scaleFactor"`
	ApprovedRiskPct  float64      `json:"approvedRiskPct"`
	Reason           RejectReason `json:"reason,omitempty"`
	DeferUntil       time.Time    `json:"deferUntil,omitempty"`
}

// Decide runs the full §4.J pipeline: candidate risk calc, ordered
// hard-cap checks, and (if hard caps hold) a downward scale search
// until soft constraints hold or scaleFactor < policy.MinFactor.
func Decide(intent Intent, exposure Exposure, haveExposure bool, policy Policy, havePolicy bool, now time.Time, exposureMaxAge, policyMaxAge, deferWindow time.Duration) Decision {
	if !havePolicy {
		return deferOrReject(intent, policy, ReasonMissingPolicy, now, deferWindow)
	}
	if !haveExposure {
		return deferOrReject(intent, policy, ReasonMissingExposure, now, deferWindow)
	}
	if now.Sub(exposure.Ts) > exposureMaxAge {
		return deferOrReject(intent, policy, ReasonStaleExposure, now, deferWindow)
	}

	candidateRiskPct := baseVariantRisk(intent.Variant) * intent.Confidence

	if reason, ok := hardCapViolation(intent, exposure, policy, candidateRiskPct); ok {
		return deferOrReject(intent, policy, reason, now, deferWindow)
	}

	scaleFactor := 1.0
	step := policy.ScaleStep
	if step <= 0 {
		step = 0.1
	}
	minFactor := policy.MinFactor

	for softCapViolation(intent, exposure, policy, candidateRiskPct*scaleFactor) {
		scaleFactor -= step
		if scaleFactor < minFactor {
			return deferOrReject(intent, policy, ReasonHardCapTotal, now, deferWindow)
		}
	}

	approvedRiskPct := candidateRiskPct * scaleFactor
	outcome := OutcomeApproved
	if scaleFactor < 1 {
		outcome = OutcomeAdjusted
	}

	return Decision{
		Outcome:          outcome,
		CorrID:           intent.CorrID,
		Symbol:           intent.Symbol,
		CandidateRiskPct: candidateRiskPct,
		ScaleFactor:      scaleFactor,
		ApprovedRiskPct:  approvedRiskPct,
	}
}

func deferOrReject(intent Intent, policy Policy, reason RejectReason, now time.Time, deferWindow time.Duration) Decision {
	d := Decision{CorrID: intent.CorrID, Symbol: intent.Symbol, Reason: reason}
	if policy.OnHardBreach == "defer" {
		d.Outcome = OutcomeDeferred
		d.DeferUntil = now.Add(deferWindow)
	} else {
		d.Outcome = OutcomeRejected
	}
	return d
}

// hardCapViolation checks, in the spec's fixed order, whether including
// the candidate would breach any hard cap. The order is significant:
// the first violated cap determines the reported reason.
func hardCapViolation(intent Intent, exposure Exposure, policy Policy, candidateRiskPct float64) (RejectReason, bool) {
	total := sumMap(exposure.BySymbol) + candidateRiskPct
	if policy.TotalRiskPct > 0 && total > policy.TotalRiskPct {
		return ReasonHardCapTotal, true
	}
	if policy.PerSymbolPct > 0 {
		if exposure.BySymbol[intent.Symbol]+candidateRiskPct > policy.PerSymbolPct {
			return ReasonHardCapSymbol, true
		}
	}
	if cap, ok := policy.PerClusterPct[intent.Cluster]; ok && cap > 0 {
		if exposure.ByCluster[intent.Cluster]+candidateRiskPct > cap {
			return ReasonHardCapCluster, true
		}
	}
	if cap, ok := policy.PerFactorBetaAbs[intent.Factor]; ok && cap > 0 {
		projected := exposure.ByFactor[intent.Factor] + candidateRiskPct*intent.FactorBeta
		if abs(projected) > cap {
			return ReasonHardCapBeta, true
		}
	}
	if correlationExceeds(intent, exposure, policy, candidateRiskPct, policy.Correlation.Hard) {
		return ReasonHardCapCorr, true
	}
	return "", false
}

// softCapViolation checks the correlation soft threshold and the
// marginal-risk cap; these are the constraints the downward scale
// search relaxes.
func softCapViolation(intent Intent, exposure Exposure, policy Policy, candidateRiskPct float64) bool {
	if correlationExceeds(intent, exposure, policy, candidateRiskPct, policy.Correlation.Soft) {
		return true
	}
	if policy.Correlation.MarginalRiskMaxPct > 0 && candidateRiskPct > policy.Correlation.MarginalRiskMaxPct {
		return true
	}
	return false
}

// correlationExceeds builds the candidate-inclusive exposure-weight
// vector over policy.Symbols and reports whether wᵀCw exceeds
// threshold. A malformed (not positive-definite) correlation matrix is treated as a
// breach, since a hard-cap decision cannot be trusted against it.
func correlationExceeds(intent Intent, exposure Exposure, policy Policy, candidateRiskPct, threshold float64) bool {
	if threshold <= 0 || len(policy.Symbols) == 0 || len(policy.CorrelationMatrix) != len(policy.Symbols) {
		return false
	}
	if !validCorrelationMatrix(policy.CorrelationMatrix) {
		return true
	}
	w := make([]float64, len(policy.Symbols))
	for i, sym := range policy.Symbols {
		w[i] = exposure.BySymbol[sym]
		if sym == intent.Symbol {
			w[i] += candidateRiskPct
		}
	}
	return quadraticForm(w, policy.CorrelationMatrix) > threshold
}

func sumMap(m map[string]float64) float64 {
	var s float64
	for _, v := range m {
		s += v
	}
	return s
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
