package guardrail

import (
	"testing"

	"github.com/laylaymen/vivo-opscore/internal/model"
)

func testConfig() Config {
	return Config{TwapBumpMs: 300, IcebergBump: 0.03, MaxIceberg: 0.5, NotionalTrimRatio: 0.5}
}

func btcChild(qty float64) model.ActionChild {
	c := model.ActionChild{Symbol: "BTCUSDT", Side: "BUY", Type: "LIMIT", Qty: qty}
	c.Meta.TwapMs = 500
	c.Meta.Iceberg = 0.10
	return c
}

// TestScenarioS2 matches the spec's literal S2 scenario.
func TestScenarioS2(t *testing.T) {
	bundle := model.ActionBundle{PlanID: "A", CorrID: "c1", Children: []model.ActionChild{btcChild(1)}}
	risk := model.RiskState{Level: model.RiskAmber, Sentinel: model.SentinelSlowdown}

	result := Apply(bundle, risk, Feasibility{}, Plan{}, testConfig())

	if result.Mode != ModeSlowdown {
		t.Fatalf("mode = %v, want SLOWDOWN", result.Mode)
	}
	if len(result.After.Children) != 1 {
		t.Fatalf("got %d children, want 1", len(result.After.Children))
	}
	c := result.After.Children[0]
	if c.Type != "POST_ONLY" || !c.PostOnly {
		t.Fatalf("child = %+v, want type=POST_ONLY postOnly=true", c)
	}
	if c.Meta.TwapMs != 800 {
		t.Fatalf("twapMs = %v, want 800", c.Meta.TwapMs)
	}
	if c.Meta.Iceberg != 0.13 {
		t.Fatalf("iceberg = %v, want 0.13", c.Meta.Iceberg)
	}
}

// TestProperty_ReduceOnlyClosure is property #4: whenever sentinel is
// HALT_PARTIAL or CIRCUIT_BREAKER, every surviving child satisfies
// reduceOnly && postOnly && type != LIMIT.
func TestProperty_ReduceOnlyClosure(t *testing.T) {
	for _, sentinel := range []model.Sentinel{model.SentinelHaltPartial, model.SentinelCircuitBreaker} {
		bundle := model.ActionBundle{PlanID: "A", CorrID: "c2", Children: []model.ActionChild{
			btcChild(1),
			{Symbol: "ETHUSDT", Side: "SELL", Type: "MARKET", Qty: 2, ReduceOnly: true},
		}}
		risk := model.RiskState{Sentinel: sentinel}
		result := Apply(bundle, risk, Feasibility{}, Plan{}, testConfig())

		for _, c := range result.After.Children {
			if !c.ReduceOnly || !c.PostOnly || c.Type == "LIMIT" {
				t.Fatalf("sentinel=%v child=%+v violates reduce-only closure", sentinel, c)
			}
		}
	}
}

func TestApply_SentinelDropsBuyOpenings(t *testing.T) {
	bundle := model.ActionBundle{Children: []model.ActionChild{
		btcChild(1), // BUY, not reduceOnly: dropped
		{Symbol: "ETHUSDT", Side: "SELL", Type: "MARKET", Qty: 1, ReduceOnly: true},
	}}
	risk := model.RiskState{Sentinel: model.SentinelCircuitBreaker}
	result := Apply(bundle, risk, Feasibility{}, Plan{}, testConfig())

	if len(result.After.Children) != 1 || result.After.Children[0].Symbol != "ETHUSDT" {
		t.Fatalf("expected BTCUSDT BUY opening dropped, got %+v", result.After.Children)
	}
}

func TestApply_HardFeasibilityZeroesQty(t *testing.T) {
	bundle := model.ActionBundle{Children: []model.ActionChild{btcChild(1)}}
	fes := Feasibility{"BTCUSDT": {{Symbol: "BTCUSDT", Code: CodeDeny}}}
	result := Apply(bundle, model.RiskState{}, fes, Plan{}, testConfig())

	if len(result.After.Children) != 0 {
		t.Fatalf("expected DENY to zero qty and drop the child, got %+v", result.After.Children)
	}
	if len(result.BlockedSymbols) != 1 || result.BlockedSymbols[0] != "BTCUSDT" {
		t.Fatalf("expected BTCUSDT blocked, got %v", result.BlockedSymbols)
	}
}

func TestApply_SoftTrimReducesQtyWithoutDropping(t *testing.T) {
	bundle := model.ActionBundle{Children: []model.ActionChild{btcChild(1)}}
	fes := Feasibility{"BTCUSDT": {{Symbol: "BTCUSDT", Code: CodeTrim}}}
	result := Apply(bundle, model.RiskState{}, fes, Plan{}, testConfig())

	if len(result.After.Children) != 1 {
		t.Fatalf("expected child to survive trim, got %+v", result.After.Children)
	}
	if result.After.Children[0].Qty != 0.5 {
		t.Fatalf("qty = %v, want 0.5 (1 * notionalTrimRatio)", result.After.Children[0].Qty)
	}
}

func TestApply_PlanRejectForcesReduceOnly(t *testing.T) {
	bundle := model.ActionBundle{Children: []model.ActionChild{btcChild(1)}}
	result := Apply(bundle, model.RiskState{}, Feasibility{}, Plan{Recommend: "REJECT"}, testConfig())

	if result.Mode != ModeReduceOnly {
		t.Fatalf("mode = %v, want REDUCE_ONLY", result.Mode)
	}
	c := result.After.Children[0]
	if !c.ReduceOnly || !c.PostOnly || c.Type != "POST_ONLY" {
		t.Fatalf("child = %+v, want reduceOnly+postOnly+type POST_ONLY", c)
	}
}

func TestDiff_CappedAtTwentyLines(t *testing.T) {
	before := map[string]model.ActionChild{}
	after := make([]model.ActionChild, 0, 25)
	for i := 0; i < 25; i++ {
		after = append(after, model.ActionChild{Symbol: string(rune('A' + i)), Side: "BUY", Type: "LIMIT", Qty: 1})
	}
	changes := diff(before, after)
	if len(changes) != maxDiffLines {
		t.Fatalf("got %d change lines, want capped at %d", len(changes), maxDiffLines)
	}
}
