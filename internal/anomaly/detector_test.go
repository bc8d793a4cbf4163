package anomaly

import "testing"

// TestEvaluate_ScenarioS3 matches the spec's literal S3 scenario: 20
// points uniform at 100 then a 140 spike, zHi=3.5, MAD=0 guard falls back
// to stdev, kind=spike severity=high score>=14.
func TestEvaluate_ScenarioS3(t *testing.T) {
	b := NewBaseline(0.3, 100)
	for i := 0; i < 20; i++ {
		b.Update(Point{V: 100, T: int64(i)})
	}
	b.Update(Point{V: 140, T: 20})

	cfg := Config{MinPoints: 20, FlatlineStaleSec: 120, GapStaleSec: 60, ZHi: 3.5, ZWarn: 2.0}
	win := Window{Span: "1m", Step: "10s"}

	sig := Evaluate(cfg, "order_rate", win, b, 20, false)

	if sig.Kind != KindSpike {
		t.Fatalf("kind = %v, want spike", sig.Kind)
	}
	if sig.Severity != SeverityHigh {
		t.Fatalf("severity = %v, want high", sig.Severity)
	}
	if sig.Score < 14 {
		t.Fatalf("score = %v, want >= 14", sig.Score)
	}
}

func TestEvaluate_BelowMinPointsReturnsNone(t *testing.T) {
	b := NewBaseline(0.3, 100)
	b.Update(Point{V: 100, T: 0})
	cfg := Config{MinPoints: 20, ZHi: 3.5, ZWarn: 2.0, FlatlineStaleSec: 120, GapStaleSec: 60}
	sig := Evaluate(cfg, "s", Window{Span: "1m", Step: "10s"}, b, 0, false)
	if sig.Kind != KindNone {
		t.Fatalf("expected none below minPoints, got %v", sig.Kind)
	}
}

func TestEvaluate_Flatline(t *testing.T) {
	b := NewBaseline(0.3, 100)
	for i := 0; i < 25; i++ {
		b.Update(Point{V: 5, T: int64(i)})
	}
	cfg := Config{MinPoints: 20, ZHi: 3.5, ZWarn: 2.0, FlatlineStaleSec: 120, GapStaleSec: 6000}
	sig := Evaluate(cfg, "s", Window{Span: "1m", Step: "10s"}, b, 24, false)
	if sig.Kind != KindFlatline {
		t.Fatalf("kind = %v, want flatline", sig.Kind)
	}
	if sig.Severity != SeverityMedium {
		t.Fatalf("severity = %v, want medium", sig.Severity)
	}
}

func TestEvaluate_GapEscalatesSeverity(t *testing.T) {
	b := NewBaseline(0.3, 100)
	// Alternating values keep the series from being a flatline, which
	// Evaluate checks before gaps.
	for i := 0; i < 20; i++ {
		b.Update(Point{V: float64(100 + i%2), T: int64(i)})
	}
	cfg := Config{MinPoints: 20, ZHi: 3.5, ZWarn: 2.0, FlatlineStaleSec: 120, GapStaleSec: 60}

	near := Evaluate(cfg, "s", Window{Span: "1m", Step: "10s"}, b, 19+70, false)
	if near.Kind != KindGap || near.Severity != SeverityWarn {
		t.Fatalf("expected gap/warn at 70s stale, got %v/%v", near.Kind, near.Severity)
	}

	far := Evaluate(cfg, "s", Window{Span: "1m", Step: "10s"}, b, 19+400, false)
	if far.Kind != KindGap || far.Severity != SeverityHigh {
		t.Fatalf("expected gap/high at 400s stale, got %v/%v", far.Kind, far.Severity)
	}
}

func TestSuppressKey_DistinguishesWindows(t *testing.T) {
	k1 := suppressKey("s", KindSpike, Window{Span: "1m", Step: "10s"})
	k2 := suppressKey("s", KindSpike, Window{Span: "5m", Step: "30s"})
	if k1 == k2 {
		t.Fatalf("suppression keys for different windows must differ")
	}
}

// TestEvaluate_NamedScorerOverridesDefaultDistance matches the S3 scenario
// but routes through the registered "zscore" contrib.Scorer instead of the
// built-in median/MAD distance, and should land on the same verdict since
// both reduce to a z-score here (MAD==0 in S3 falls back to stdev anyway).
func TestEvaluate_NamedScorerOverridesDefaultDistance(t *testing.T) {
	b := NewBaseline(0.3, 100)
	for i := 0; i < 20; i++ {
		b.Update(Point{V: 100, T: int64(i)})
	}
	b.Update(Point{V: 140, T: 20})

	cfg := Config{MinPoints: 20, FlatlineStaleSec: 120, GapStaleSec: 60, ZHi: 3.5, ZWarn: 2.0, ScorerName: "zscore"}
	sig := Evaluate(cfg, "order_rate", Window{Span: "1m", Step: "10s"}, b, 20, false)

	if sig.Kind != KindSpike || sig.Severity != SeverityHigh {
		t.Fatalf("kind/severity = %v/%v, want spike/high", sig.Kind, sig.Severity)
	}
}

func TestEvaluate_UnknownScorerNameFallsBackToBuiltin(t *testing.T) {
	b := NewBaseline(0.3, 100)
	for i := 0; i < 20; i++ {
		b.Update(Point{V: 100, T: int64(i)})
	}
	b.Update(Point{V: 140, T: 20})

	cfg := Config{MinPoints: 20, FlatlineStaleSec: 120, GapStaleSec: 60, ZHi: 3.5, ZWarn: 2.0, ScorerName: "does-not-exist"}
	sig := Evaluate(cfg, "order_rate", Window{Span: "1m", Step: "10s"}, b, 20, false)

	if sig.Kind != KindSpike {
		t.Fatalf("expected fallback to builtin distance to still detect spike, got %v", sig.Kind)
	}
}
