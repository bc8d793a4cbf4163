// Package pacing implements the Session Pacing Planner (spec §4.I): a
// multi-factor quota engine that turns session timing, liquidity, risk
// state, and TCA feedback into a rate/risk plan for the execution layer.
package pacing

import "math"

// Window is one weighted UTC session window, in minutes since midnight.
// EndMin < StartMin denotes a window crossing midnight.
type Window struct {
	StartMin int
	EndMin   int
	Weight   float64
}

// contains reports whether minuteOfDay falls inside w.
func (w Window) contains(minuteOfDay int) bool {
	if w.StartMin <= w.EndMin {
		return minuteOfDay >= w.StartMin && minuteOfDay < w.EndMin
	}
	// crosses midnight
	return minuteOfDay >= w.StartMin || minuteOfDay < w.EndMin
}

// FSession returns the weight of the highest-weight window containing
// minuteOfDay, or 1 (neutral) if no window matches.
func FSession(windows []Window, minuteOfDay int) float64 {
	best := -1.0
	matched := false
	for _, w := range windows {
		if w.contains(minuteOfDay) {
			matched = true
			if w.Weight > best {
				best = w.Weight
			}
		}
	}
	if !matched {
		return 1
	}
	return best
}

// Liquidity holds the three [0,1]-ish input factors combined into fLiq.
type Liquidity struct {
	SpreadFactor float64
	DepthFactor  float64
	WsLagFactor  float64
}

// FLiq returns the liquidity factor, clamped to [0.4, 1].
func FLiq(l Liquidity) float64 {
	return clamp(l.SpreadFactor*l.DepthFactor*l.WsLagFactor, 0.4, 1)
}

// RiskLevel/Sentinel mirror model.RiskLevel/model.Sentinel as plain
// strings to avoid an import cycle with internal/model in this
// package's pure-function core.
type RiskLevel string
type Sentinel string

const (
	RiskGreen RiskLevel = "GREEN"
	RiskAmber RiskLevel = "AMBER"
	RiskRed   RiskLevel = "RED"

	SentinelNormal Sentinel = "NORMAL"
)

// FRisk returns the risk factor and whether it forces reduce-only mode.
func FRisk(level RiskLevel, sentinel Sentinel) (factor float64, reduceOnly bool) {
	if sentinel != SentinelNormal {
		return 0, true
	}
	switch level {
	case RiskRed:
		return 0.4, false
	case RiskAmber:
		return 0.7, false
	default:
		return 1, false
	}
}

// TCA holds the realized slippage/mark-out figures and the soft/hard
// thresholds they are checked against.
type TCA struct {
	SlipBp      float64
	MarkOutBp   float64
	SlipHardBp  float64
	SlipSoftBp  float64
	MarkOutHardBp float64
	MarkOutSoftBp float64
}

// FTca returns the TCA factor per §4.I.
func FTca(t TCA) float64 {
	if t.SlipBp > t.SlipHardBp || t.MarkOutBp > t.MarkOutHardBp {
		return 0.2
	}
	if t.SlipBp > t.SlipSoftBp || t.MarkOutBp > t.MarkOutSoftBp {
		return 0.6
	}
	return 1
}

// RateBudget is the rate-limit budget snapshot.
type RateBudget struct {
	RequestWeightPerMin float64
	OrdersPer10s        float64
}

// RateCap returns min(requestWeightPerMin*0.9, ordersPer10s*6*0.9).
func (r RateBudget) RateCap() float64 {
	return math.Min(r.RequestWeightPerMin*0.9, r.OrdersPer10s*6*0.9)
}

// Base holds the unscaled quotas and policy inputs read from
// config.PacingConfig.
type Base struct {
	MaxNewPositions   int
	ChildPerMin       int
	RiskBudgetUsd     float64
	SlipBpSoftPolicy  float64
	ReduceOnlyRiskPct float64
}

// Plan is the vivo.pacing.plan payload.
type Plan struct {
	Factor          float64 `json:"factor"`
	MaxNewPositions int     `json:"maxNewPositions"`
	MaxChildPerMin  int     `json:"maxChildPerMin"`
	RateCap         int     `json:"rateCap"`
	RiskBudgetUsd   float64 `json:"riskBudgetUsd"`
	SlipSoftBp      float64 `json:"slipSoftBp"`
	ReduceOnly      bool    `json:"reduceOnly"`
}

// Compute builds a Plan from the four factors and base quotas, per
// §4.I's arithmetic. fTca must be > 0 (it only ever takes values
// {0.2, 0.6, 1} from FTca).
func Compute(base Base, fSession, fLiq, fRisk, fTca float64, reduceOnly bool, budget RateBudget) Plan {
	factor := clamp(fSession*fLiq*fRisk*fTca, 0, 1)
	rateCap := budget.RateCap()

	maxNewPositions := int(math.Floor(float64(base.MaxNewPositions) * factor))
	if reduceOnly {
		maxNewPositions = 0
	}

	maxChildPerMin := int(math.Min(math.Floor(float64(base.ChildPerMin)*factor), rateCap))

	riskBudget := math.Floor(base.RiskBudgetUsd * factor)
	if reduceOnly {
		riskBudget = base.RiskBudgetUsd * base.ReduceOnlyRiskPct
	}

	slipSoftBp := base.SlipBpSoftPolicy
	if fTca > 0 {
		slipSoftBp = math.Round(base.SlipBpSoftPolicy * (1 / fTca))
	}

	return Plan{
		Factor:          factor,
		MaxNewPositions: maxNewPositions,
		MaxChildPerMin:  maxChildPerMin,
		RateCap:         int(rateCap),
		RiskBudgetUsd:   riskBudget,
		SlipSoftBp:      slipSoftBp,
		ReduceOnly:      reduceOnly,
	}
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
