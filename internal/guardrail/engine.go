// Package guardrail implements the Execution Guardrail Bridge (spec
// §4.L): the last-mile rule pipeline between a proposed action bundle
// and what actually reaches the exchange, constrained by sentinel state
// and per-symbol feasibility findings.
package guardrail

import "github.com/laylaymen/vivo-opscore/internal/model"

// Mode is the guardrail's overall posture for this bundle.
type Mode string

const (
	ModeNormal     Mode = "NORMAL"
	ModeSlowdown   Mode = "SLOWDOWN"
	ModeReduceOnly Mode = "REDUCE_ONLY"
)

// FindingKind distinguishes hard (qty-zeroing) from soft (adjusting)
// feasibility findings.
type FindingKind string

const (
	FindingHard FindingKind = "hard"
	FindingSoft FindingKind = "soft"
)

// FindingCode names the specific feasibility check that fired.
type FindingCode string

const (
	CodeDeny         FindingCode = "DENY"
	CodeWhitelist    FindingCode = "WHITELIST"
	CodeTargetPct    FindingCode = "TARGET_PCT"
	CodeSymbolStatus FindingCode = "SYMBOL_STATUS"
	CodeReduceOnly   FindingCode = "REDUCE_ONLY"
	CodeTrim         FindingCode = "TRIM"
	CodePercentPrice FindingCode = "PERCENT_PRICE"
	CodeMinNotional  FindingCode = "MIN_NOTIONAL"
)

func (c FindingCode) kind() FindingKind {
	switch c {
	case CodeTrim, CodePercentPrice, CodeMinNotional:
		return FindingSoft
	default:
		return FindingHard
	}
}

// Finding is one per-symbol feasibility result.
type Finding struct {
	Symbol string
	Code   FindingCode
}

// Feasibility is the vivo.feasibility snapshot, keyed by symbol; a
// symbol may carry more than one finding.
type Feasibility map[string][]Finding

// Plan carries the upstream recommendation this bundle was generated
// under; a REJECT recommendation forces every surviving child to
// reduce-only/post-only regardless of sentinel or feasibility.
type Plan struct {
	Recommend string // e.g. "REJECT"
}

// Change is one diff-line entry, keyed by (symbol, side, type) per the
// spec's diff format.
type Change string

// Result is the engine's full output: the guardrail-adjusted bundle,
// its diff, the blocked-symbol set, and the resolved mode.
type Result struct {
	After          model.ActionBundle
	Changes        []Change
	BlockedSymbols []string
	Mode           Mode
}

// Config holds the tunables read from config.GuardrailConfig.
type Config struct {
	IdempotencyTTLSec int
	TwapBumpMs        int
	IcebergBump       float64
	MaxIceberg        float64
	NotionalTrimRatio float64
}

const icebergFloor = 0.05

// Apply runs the ordered rule pipeline (spec §4.L rules 2-6; rule 1,
// idempotency, is the caller's concern since it needs a shared cache
// across calls) against the proposed bundle, given the current risk
// state, feasibility snapshot, and upstream plan recommendation.
func Apply(bundle model.ActionBundle, risk model.RiskState, feasibility Feasibility, plan Plan, cfg Config) Result {
	before := keyedClone(bundle.Children)
	children := append([]model.ActionChild(nil), bundle.Children...)

	mode := ModeNormal

	if risk.Sentinel == model.SentinelCircuitBreaker || risk.Sentinel == model.SentinelHaltPartial {
		mode = ModeReduceOnly
		children = applySentinelHardRules(children)
	}

	if risk.Sentinel == model.SentinelSlowdown {
		if mode == ModeNormal {
			mode = ModeSlowdown
		}
		children = applySlowdown(children, cfg)
	}

	blocked := map[string]bool{}
	children = applyFeasibility(children, feasibility, cfg, blocked)

	if plan.Recommend == "REJECT" {
		children = forceReduceOnly(children)
		if mode == ModeNormal {
			mode = ModeReduceOnly
		}
	}

	children = dropNonPositiveQty(children)

	blockedList := make([]string, 0, len(blocked))
	for sym := range blocked {
		blockedList = append(blockedList, sym)
	}

	return Result{
		After:          model.ActionBundle{PlanID: bundle.PlanID, CorrID: bundle.CorrID, Children: children},
		Changes:        diff(before, children),
		BlockedSymbols: blockedList,
		Mode:           mode,
	}
}

// applySentinelHardRules drops BUY openings and forces every surviving
// child to reduceOnly+postOnly (LIMIT becomes POST_ONLY).
func applySentinelHardRules(children []model.ActionChild) []model.ActionChild {
	out := make([]model.ActionChild, 0, len(children))
	for _, c := range children {
		if c.Side == "BUY" && !c.ReduceOnly {
			continue
		}
		c.ReduceOnly = true
		c.PostOnly = true
		if c.Type == "LIMIT" {
			c.Type = "POST_ONLY"
		}
		out = append(out, c)
	}
	return out
}

// applySlowdown enforces postOnly (LIMIT->POST_ONLY), bumps twap, and
// bumps iceberg clamped to [icebergFloor, cfg.MaxIceberg].
func applySlowdown(children []model.ActionChild, cfg Config) []model.ActionChild {
	for i := range children {
		c := &children[i]
		c.PostOnly = true
		if c.Type == "LIMIT" {
			c.Type = "POST_ONLY"
		}
		c.Meta.TwapMs += cfg.TwapBumpMs
		iceberg := c.Meta.Iceberg + cfg.IcebergBump
		c.Meta.Iceberg = clamp(iceberg, icebergFloor, cfg.MaxIceberg)
	}
	return children
}

// applyFeasibility applies per-symbol hard/soft findings. Hard findings
// zero qty (for non-reduce-only children) and mark postOnly; soft
// findings trim qty, add half-twap+postOnly, or zero qty for
// MIN_NOTIONAL.
func applyFeasibility(children []model.ActionChild, feasibility Feasibility, cfg Config, blocked map[string]bool) []model.ActionChild {
	for i := range children {
		c := &children[i]
		findings := feasibility[c.Symbol]
		for _, f := range findings {
			switch f.Code.kind() {
			case FindingHard:
				blocked[c.Symbol] = true
				if !c.ReduceOnly {
					c.Qty = 0
				}
				c.PostOnly = true
			case FindingSoft:
				switch f.Code {
				case CodeTrim:
					c.Qty *= cfg.NotionalTrimRatio
				case CodePercentPrice:
					c.Meta.TwapMs += c.Meta.TwapMs / 2
					c.PostOnly = true
				case CodeMinNotional:
					c.Qty = 0
				}
			}
		}
	}
	return children
}

func forceReduceOnly(children []model.ActionChild) []model.ActionChild {
	for i := range children {
		c := &children[i]
		c.ReduceOnly = true
		c.PostOnly = true
		if c.Type == "LIMIT" {
			c.Type = "POST_ONLY"
		}
	}
	return children
}

func dropNonPositiveQty(children []model.ActionChild) []model.ActionChild {
	out := make([]model.ActionChild, 0, len(children))
	for _, c := range children {
		if c.Qty > 0 {
			out = append(out, c)
		}
	}
	return out
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
