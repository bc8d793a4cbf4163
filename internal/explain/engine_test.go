package explain

import "testing"

func TestBuild_CapsAlternativesAtFourSortedDescending(t *testing.T) {
	s := Snapshot{
		CorrID: "c1",
		AlternativeScores: []AlternativeScore{
			{PlanID: "B", Score: 0.5},
			{PlanID: "C", Score: 0.9},
			{PlanID: "D", Score: 0.2},
			{PlanID: "E", Score: 0.7},
			{PlanID: "F", Score: 0.1},
		},
	}
	card := Build(s)
	if len(card.AlternativeScores) != maxAlternatives {
		t.Fatalf("got %d alternatives, want %d", len(card.AlternativeScores), maxAlternatives)
	}
	for i := 1; i < len(card.AlternativeScores); i++ {
		if card.AlternativeScores[i].Score > card.AlternativeScores[i-1].Score {
			t.Fatalf("alternatives not descending: %+v", card.AlternativeScores)
		}
	}
	if card.AlternativeScores[0].PlanID != "C" {
		t.Fatalf("top alternative = %s, want C", card.AlternativeScores[0].PlanID)
	}
}

func TestBuild_FindingsCappedAtSixOrderedBySeverity(t *testing.T) {
	findings := []Finding{
		{Severity: SevInfo, Message: "i1"},
		{Severity: SevError, Message: "e1"},
		{Severity: SevWarn, Message: "w1"},
		{Severity: SevError, Message: "e2"},
		{Severity: SevInfo, Message: "i2"},
		{Severity: SevWarn, Message: "w2"},
		{Severity: SevError, Message: "e3"},
	}
	card := Build(Snapshot{CorrID: "c2", Findings: findings})
	if len(card.Findings) != maxFindings {
		t.Fatalf("got %d findings, want %d", len(card.Findings), maxFindings)
	}
	for i := 1; i < len(card.Findings); i++ {
		if severityRank(card.Findings[i].Severity) < severityRank(card.Findings[i-1].Severity) {
			t.Fatalf("findings not ordered ERROR>WARN>INFO: %+v", card.Findings)
		}
	}
	if card.Findings[0].Severity != SevError {
		t.Fatalf("first finding severity = %v, want ERROR", card.Findings[0].Severity)
	}
}

func TestBuild_ExecSummaryComputesReduceOnlyRatioAndNotional(t *testing.T) {
	s := Snapshot{
		CorrID: "c3",
		Children: []ActionChildSummary{
			{ReduceOnly: true, PostOnly: true, NotionalUsd: 100},
			{ReduceOnly: false, PostOnly: true, NotionalUsd: 300},
		},
	}
	card := Build(s)
	if card.ExecSummary.ChildCount != 2 {
		t.Fatalf("childCount = %d, want 2", card.ExecSummary.ChildCount)
	}
	if card.ExecSummary.ReduceOnlyRatio != 0.5 {
		t.Fatalf("reduceOnlyRatio = %v, want 0.5", card.ExecSummary.ReduceOnlyRatio)
	}
	if card.ExecSummary.PostOnlyCount != 2 {
		t.Fatalf("postOnlyCount = %d, want 2", card.ExecSummary.PostOnlyCount)
	}
	if card.ExecSummary.NotionalUsd != 400 {
		t.Fatalf("notional = %v, want 400", card.ExecSummary.NotionalUsd)
	}
}

func TestBuild_NextStepsDedupedAndCapped(t *testing.T) {
	findings := make([]Finding, 0, 8)
	for i := 0; i < 8; i++ {
		findings = append(findings, Finding{Severity: SevError, Message: "dup"})
	}
	card := Build(Snapshot{CorrID: "c4", Findings: findings})
	if len(card.NextSteps) != 1 {
		t.Fatalf("expected duplicate finding messages to collapse to one step, got %v", card.NextSteps)
	}
}

func TestBuild_NextStepsIgnoresInfoFindings(t *testing.T) {
	card := Build(Snapshot{CorrID: "c5", Findings: []Finding{{Severity: SevInfo, Message: "fyi"}}})
	if len(card.NextSteps) != 0 {
		t.Fatalf("expected no next steps from an INFO-only finding set, got %v", card.NextSteps)
	}
}

func TestBuild_MixedReduceOnlyBundleGetsACallout(t *testing.T) {
	s := Snapshot{
		CorrID: "c6",
		Children: []ActionChildSummary{
			{ReduceOnly: true},
			{ReduceOnly: false},
		},
	}
	card := Build(s)
	found := false
	for _, step := range card.NextSteps {
		if step == "mixed reduce-only bundle: confirm remaining openings are intended" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected mixed reduce-only callout, got %v", card.NextSteps)
	}
}

func TestBuild_HeaderAndPolicyCompliancePassThrough(t *testing.T) {
	s := Snapshot{
		CorrID:       "c7",
		Posture:      "AMBER",
		Sentinel:     "SLOWDOWN",
		DecidedBy:    "alice",
		SelectedPlan: "A",
		Whitelisted:  true,
		Eligible:     false,
	}
	card := Build(s)
	if card.Header != (Header{Posture: "AMBER", Sentinel: "SLOWDOWN", DecidedBy: "alice", SelectedPlan: "A"}) {
		t.Fatalf("header = %+v", card.Header)
	}
	if card.PolicyCompliance.Whitelisted != true || card.PolicyCompliance.Eligible != false {
		t.Fatalf("policyCompliance = %+v", card.PolicyCompliance)
	}
	if len(card.WhyTree) < 2 {
		t.Fatalf("expected a non-trivial why tree, got %v", card.WhyTree)
	}
}
