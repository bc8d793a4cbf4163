package logrouter

import (
	"context"
	"testing"
	"time"

	"github.com/laylaymen/vivo-opscore/internal/clock"
	"github.com/laylaymen/vivo-opscore/internal/config"
	"github.com/laylaymen/vivo-opscore/internal/redact"
)

type stubClassifier struct{}

func (stubClassifier) Redact(req redact.Request) redact.Result {
	return redact.Result{Classification: "PUBLIC", MaskedContent: req.Content}
}

func TestEvaluate_DropShortCircuits(t *testing.T) {
	rules := []Rule{
		{Match: Match{Level: "debug"}, Action: Action{AddTags: []string{"noisy"}}},
		{Match: Match{Level: "debug"}, Action: Action{Drop: true}},
	}
	d := evaluate(rules, Record{Level: "debug"})
	if !d.drop {
		t.Fatalf("expected drop=true once a later rule sets drop")
	}
}

func TestEvaluate_AdditiveTagsScalarOverride(t *testing.T) {
	half := 50.0
	full := 100.0
	rules := []Rule{
		{Match: Match{Source: "api"}, Action: Action{AddTags: []string{"a"}, SamplePct: &half, Sinks: []string{"s1"}}},
		{Match: Match{Source: "api"}, Action: Action{AddTags: []string{"b"}, SamplePct: &full, Sinks: []string{"s2"}}},
	}
	d := evaluate(rules, Record{Source: "api"})
	if len(d.tags) != 2 {
		t.Fatalf("tags should be additive across rules, got %v", d.tags)
	}
	if *d.samplePct != full {
		t.Fatalf("samplePct should be overridden by the later rule, got %v", *d.samplePct)
	}
	if !d.sinks["s1"] || !d.sinks["s2"] {
		t.Fatalf("sinks should accumulate, got %v", d.sinks)
	}
}

func TestRouter_RouteDeliversToMatchingSinks(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	var delivered []EnrichedRecord
	sink := NewSink("test", CodecJSONL, 100, time.Hour, "", func(batch []EnrichedRecord) error {
		delivered = append(delivered, batch...)
		return nil
	})
	defer sink.Close()

	full := 100.0
	rules := config.NewReloadable(&[]Rule{
		{Match: Match{Level: "info"}, Action: Action{SamplePct: &full, Sinks: []string{"test"}}},
	})

	r := NewRouter(rules, stubClassifier{}, map[string]float64{"info": 100, "debug": 100}, 0.1, 1_000_000,
		map[string]*Sink{"test": sink}, clk, nil)

	sinks := r.Route(context.Background(), Record{Level: "info", Message: "hello"})
	if len(sinks) != 1 || sinks[0] != "test" {
		t.Fatalf("expected delivery to [test], got %v", sinks)
	}
}
