// Package explain implements the Explainability Reporter (spec §4.N):
// a "why chosen" card builder that reduces everything known about one
// corrId into a single bounded summary.
package explain

import "sort"

// Severity orders a Finding for the top-6 cut: ERROR > WARN > INFO.
type Severity string

const (
	SevError Severity = "ERROR"
	SevWarn  Severity = "WARN"
	SevInfo  Severity = "INFO"
)

func severityRank(s Severity) int {
	switch s {
	case SevError:
		return 0
	case SevWarn:
		return 1
	default:
		return 2
	}
}

// Finding is one reported observation feeding the card, sourced from a
// feasibility check, a guardrail change, or a policy decision.
type Finding struct {
	Severity Severity
	Symbol   string
	Message  string
}

// Header carries the decision's headline facts.
type Header struct {
	Posture      string // RiskLevel, e.g. "AMBER"
	Sentinel     string
	DecidedBy    string // "auto" or the operator userId
	SelectedPlan string
}

// AlternativeScore is one non-selected candidate's feasibility score.
type AlternativeScore struct {
	PlanID string
	Score  float64
}

// PolicyCompliance summarizes whether the selected plan cleared the
// portfolio whitelist/eligibility gates.
type PolicyCompliance struct {
	Whitelisted bool
	Eligible    bool
}

// ExecSummary summarizes the last emitted action bundle.
type ExecSummary struct {
	ChildCount      int
	ReduceOnlyRatio float64
	PostOnlyCount   int
	NotionalUsd     float64
}

// Card is the vivo.explain.card payload: everything known about one
// corrId, reduced to a bounded, human-readable summary.
type Card struct {
	CorrID                   string             `json:"corrId"`
	Header                   Header             `json:"header"`
	Weights                  map[string]float64 `json:"weights,omitempty"`
	SelectedFeasibilityScore float64            `json:"selectedFeasibilityScore"`
	AlternativeScores        []AlternativeScore `json:"alternativeScores"`
	Findings                 []Finding          `json:"findings"`
	PolicyCompliance         PolicyCompliance   `json:"policyCompliance"`
	ExecSummary              ExecSummary        `json:"execSummary"`
	WhyTree                  []string           `json:"whyTree"`
	NextSteps                []string           `json:"nextSteps"`
}

const (
	maxAlternatives = 4
	maxFindings     = 6
	maxNextSteps    = 6
)

// Snapshot is everything correlated-by-corrId this module has seen by
// the time the card is built: memory of variants, feasibility,
// operator result, and the last emitted action bundle, per the spec's
// "given corrId, read latest" contract.
type Snapshot struct {
	CorrID            string
	Posture           string
	Sentinel          string
	DecidedBy         string
	SelectedPlan      string
	Weights           map[string]float64
	SelectedScore     float64
	AlternativeScores []AlternativeScore
	Findings          []Finding
	Whitelisted       bool
	Eligible          bool
	Children          []ActionChildSummary
}

// ActionChildSummary is the minimal per-child shape this package needs
// out of model.ActionChild, to avoid coupling the card builder to the
// full action-bundle type.
type ActionChildSummary struct {
	ReduceOnly  bool
	PostOnly    bool
	NotionalUsd float64
}

// Build reduces a Snapshot into a Card: top-4 alternative scores, top-6
// findings ordered ERROR>WARN>INFO, an exec summary computed over the
// bundle's children, a why tree, and up to 6 suggested next steps.
func Build(s Snapshot) Card {
	alts := append([]AlternativeScore(nil), s.AlternativeScores...)
	sort.Slice(alts, func(i, j int) bool { return alts[i].Score > alts[j].Score })
	if len(alts) > maxAlternatives {
		alts = alts[:maxAlternatives]
	}

	findings := append([]Finding(nil), s.Findings...)
	sort.SliceStable(findings, func(i, j int) bool {
		return severityRank(findings[i].Severity) < severityRank(findings[j].Severity)
	})
	if len(findings) > maxFindings {
		findings = findings[:maxFindings]
	}

	exec := execSummary(s.Children)
	whyTree := buildWhyTree(s)
	nextSteps := suggestNextSteps(s, exec)

	return Card{
		CorrID:   s.CorrID,
		Header:   Header{Posture: s.Posture, Sentinel: s.Sentinel, DecidedBy: s.DecidedBy, SelectedPlan: s.SelectedPlan},
		Weights:  s.Weights,
		SelectedFeasibilityScore: s.SelectedScore,
		AlternativeScores:        alts,
		Findings:                 findings,
		PolicyCompliance:         PolicyCompliance{Whitelisted: s.Whitelisted, Eligible: s.Eligible},
		ExecSummary:              exec,
		WhyTree:                  whyTree,
		NextSteps:                nextSteps,
	}
}

func execSummary(children []ActionChildSummary) ExecSummary {
	if len(children) == 0 {
		return ExecSummary{}
	}
	reduceOnly, postOnly := 0, 0
	var notional float64
	for _, c := range children {
		if c.ReduceOnly {
			reduceOnly++
		}
		if c.PostOnly {
			postOnly++
		}
		notional += c.NotionalUsd
	}
	return ExecSummary{
		ChildCount:      len(children),
		ReduceOnlyRatio: float64(reduceOnly) / float64(len(children)),
		PostOnlyCount:   postOnly,
		NotionalUsd:     notional,
	}
}

// buildWhyTree renders a short chain of "because" lines: posture, then
// the decision maker, then whether the plan cleared policy.
func buildWhyTree(s Snapshot) []string {
	tree := []string{
		"posture=" + s.Posture + " sentinel=" + s.Sentinel,
		"decidedBy=" + s.DecidedBy + " selectedPlan=" + s.SelectedPlan,
	}
	if s.Whitelisted && s.Eligible {
		tree = append(tree, "cleared policy: whitelisted and eligible")
	} else {
		tree = append(tree, "policy gate not fully cleared: whitelisted="+boolStr(s.Whitelisted)+" eligible="+boolStr(s.Eligible))
	}
	return tree
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// suggestNextSteps derives up to 6 operator-facing follow-ups from the
// findings and exec summary: one step per ERROR/WARN finding (deduped
// by message), plus a reduce-only-ratio callout when it is not 0 or 1.
func suggestNextSteps(s Snapshot, exec ExecSummary) []string {
	seen := map[string]bool{}
	var steps []string
	for _, f := range s.Findings {
		if f.Severity == SevInfo {
			continue
		}
		if seen[f.Message] {
			continue
		}
		seen[f.Message] = true
		steps = append(steps, "review: "+f.Message)
		if len(steps) >= maxNextSteps {
			return steps
		}
	}
	if exec.ChildCount > 0 && exec.ReduceOnlyRatio > 0 && exec.ReduceOnlyRatio < 1 {
		steps = append(steps, "mixed reduce-only bundle: confirm remaining openings are intended")
	}
	if len(steps) > maxNextSteps {
		steps = steps[:maxNextSteps]
	}
	return steps
}
