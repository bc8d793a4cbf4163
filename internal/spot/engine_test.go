package spot

import "testing"

func testConfig() Config {
	return Config{BasePct: 0.1, EquityThreshold: 10000, MinTargetPct: 0.02, MinRMultiple: 1.2}
}

func TestTargetSpotUsd_AboveAndBelowThreshold(t *testing.T) {
	cfg := testConfig()
	if got := TargetSpotUsd(20000, cfg); got != 2000 {
		t.Fatalf("target above threshold = %v, want 2000", got)
	}
	if got := TargetSpotUsd(5000, cfg); got != 250 {
		t.Fatalf("target below threshold = %v, want 250 (basePct/2)", got)
	}
}

func TestPlan_BuyLegsWeightedByDominanceTilt(t *testing.T) {
	cfg := testConfig()
	holdings := []Holding{{Symbol: "USDT", Usd: 0}}
	pool := []Candidate{
		{Symbol: "BTCUSDT", DominanceTilt: 2, ExpectedMovePct: 0.03, RMultiple: 1.5, MinNotional: 10},
		{Symbol: "ETHUSDT", DominanceTilt: 1, ExpectedMovePct: 0.03, RMultiple: 1.5, MinNotional: 10},
	}
	legs := Plan(20000, holdings, pool, cfg, "NORMAL", false)
	if len(legs) != 2 {
		t.Fatalf("got %d legs, want 2", len(legs))
	}
	var btc, eth Leg
	for _, l := range legs {
		if l.Symbol == "BTCUSDT" {
			btc = l
		} else {
			eth = l
		}
		if l.Side != SideBuy || !l.PostOnly {
			t.Fatalf("leg %+v: want BUY + postOnly", l)
		}
	}
	if btc.Usd != 2*eth.Usd {
		t.Fatalf("btc.Usd=%v should be 2x eth.Usd=%v per dominance tilt", btc.Usd, eth.Usd)
	}
}

func TestPlan_BuyLegsRejectedOutsideNormalSentinel(t *testing.T) {
	cfg := testConfig()
	pool := []Candidate{{Symbol: "BTCUSDT", ExpectedMovePct: 0.03, RMultiple: 1.5, MinNotional: 10}}
	legs := Plan(20000, nil, pool, cfg, "SLOWDOWN", false)
	if legs != nil {
		t.Fatalf("expected no BUY legs outside NORMAL sentinel, got %v", legs)
	}
}

func TestPlan_BuyLegExcludedBelowMinTargetOrRMultiple(t *testing.T) {
	cfg := testConfig()
	pool := []Candidate{
		{Symbol: "LOWMOVE", ExpectedMovePct: 0.001, RMultiple: 2, MinNotional: 1},
		{Symbol: "LOWR", ExpectedMovePct: 0.05, RMultiple: 1.0, MinNotional: 1},
		{Symbol: "OK", ExpectedMovePct: 0.05, RMultiple: 2, MinNotional: 1},
	}
	legs := Plan(20000, nil, pool, cfg, "NORMAL", false)
	if len(legs) != 1 || legs[0].Symbol != "OK" {
		t.Fatalf("expected only OK to pass eligibility, got %+v", legs)
	}
}

func TestPlan_SellLegsLargestHoldingFirst(t *testing.T) {
	cfg := testConfig()
	holdings := []Holding{
		{Symbol: "SMALL", Usd: 100},
		{Symbol: "BIG", Usd: 5000},
		{Symbol: "MED", Usd: 1000},
	}
	// equity so low that target « current: forces a big SELL.
	legs := Plan(1000, holdings, nil, cfg, "NORMAL", false)
	if len(legs) == 0 {
		t.Fatalf("expected SELL legs")
	}
	if legs[0].Symbol != "BIG" || legs[0].Side != SideSell || !legs[0].ReduceOnly {
		t.Fatalf("expected BIG sold first as reduce-only, got %+v", legs[0])
	}
}

func TestPlan_NoLegsWhenBalanced(t *testing.T) {
	cfg := testConfig()
	holdings := []Holding{{Symbol: "BTCUSDT", Usd: 2000}}
	legs := Plan(20000, holdings, nil, cfg, "NORMAL", false)
	if legs != nil {
		t.Fatalf("expected no legs when current == target, got %v", legs)
	}
}

func TestExecHints_ElevateUnderAmber(t *testing.T) {
	twap, iceberg := execHints(true)
	baseTwap, baseIceberg := execHints(false)
	if twap <= baseTwap || iceberg <= baseIceberg {
		t.Fatalf("expected AMBER hints to elevate: amber=(%d,%v) base=(%d,%v)", twap, iceberg, baseTwap, baseIceberg)
	}
}
