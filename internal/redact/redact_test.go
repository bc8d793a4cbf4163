package redact

import (
	"strings"
	"testing"
)

func newTestGuard() *Guard {
	return NewGuard(1<<20, 128, []string{"AVAX"}, nil, "00:00")
}

// TestRedact_ScenarioS6 matches the spec's literal S6 scenario: the fence
// syntax survives but the wallet address inside it is still masked, the
// ticker is allowlisted, the email is masked, and the result classifies
// SENSITIVE_HIGH due to the email and wallet.
func TestRedact_ScenarioS6(t *testing.T) {
	g := newTestGuard()
	input := "Ticker AVAX moved. Contact alice@example.com. ```\n0x1234567890123456789012345678901234567890\n```"

	res := g.Redact(Request{Profile: ProfileNotes, Content: input})

	if res.Classification != "SENSITIVE_HIGH" {
		t.Fatalf("classification = %v, want SENSITIVE_HIGH", res.Classification)
	}
	if res.Stats.ByKind["email"] != 1 {
		t.Fatalf("email count = %d, want 1", res.Stats.ByKind["email"])
	}
	if res.Stats.ByKind["wallet"] != 1 {
		t.Fatalf("wallet count = %d, want 1", res.Stats.ByKind["wallet"])
	}
	if res.Stats.FalsePositiveAvoided != 1 {
		t.Fatalf("falsePositiveAvoided = %d, want 1 (AVAX)", res.Stats.FalsePositiveAvoided)
	}
	if !strings.Contains(res.MaskedContent, "0x***masked***") {
		t.Fatalf("wallet inside fenced code block should be masked, got %q", res.MaskedContent)
	}
	if strings.Contains(res.MaskedContent, "0x1234567890123456789012345678901234567890") {
		t.Fatalf("raw wallet address must not survive, got %q", res.MaskedContent)
	}
	if !strings.Contains(res.MaskedContent, "```") {
		t.Fatalf("fence delimiters should survive, got %q", res.MaskedContent)
	}
	if !strings.Contains(res.MaskedContent, "AVAX") {
		t.Fatalf("allowlisted ticker should survive, got %q", res.MaskedContent)
	}
	if strings.Contains(res.MaskedContent, "alice@example.com") {
		t.Fatalf("email should be masked, got %q", res.MaskedContent)
	}
}

// TestRedact_RoundTripIdempotent is property #5: re-running redaction on
// maskedContent leaves it byte-identical and finds no new entities.
func TestRedact_RoundTripIdempotent(t *testing.T) {
	g := newTestGuard()
	first := g.Redact(Request{Profile: ProfileGeneric, Content: "Email bob@example.org and phone +1 415 555 0100"})

	second := g.Redact(Request{Profile: ProfileGeneric, Content: first.MaskedContent})

	if second.MaskedContent != first.MaskedContent {
		t.Fatalf("round trip not stable:\n  first:  %q\n  second: %q", first.MaskedContent, second.MaskedContent)
	}
	if second.Stats.EntitiesFound != 0 {
		t.Fatalf("second pass found %d new entities, want 0", second.Stats.EntitiesFound)
	}
}

func TestRedact_MaxBytesTruncation(t *testing.T) {
	g := NewGuard(10, 2, nil, nil, "00:00")
	res := g.Redact(Request{Profile: ProfileGeneric, Content: "this is much longer than ten bytes"})
	if !res.Stats.Truncated {
		t.Fatalf("expected Truncated=true for oversized input")
	}
}
