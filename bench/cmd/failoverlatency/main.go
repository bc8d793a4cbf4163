// Package main — bench/cmd/failoverlatency/main.go
//
// Failover decision latency measurement tool.
//
// Measures the wall-clock time of internal/failover.Orchestrator.Evaluate
// from the probe that first marks the current endpoint unhealthy through
// the transition that actually switches away from it, across repeated
// synthetic failure injections.
//
// Method:
//  1. Builds an Orchestrator with a two-endpoint catalog and the given
//     dwell/canary durations.
//  2. Drives a healthy steady state, then injects a failure burst against
//     the current endpoint sufficient to cross the unhealthy threshold.
//  3. Times(CLOCK_MONOTONIC equivalent: time.Now) from the failure burst's
//     first ObserveProbe call to the Evaluate call that returns a
//     "switched" transition.
//  4. Repeats for -iterations runs, recording one CSV row per run.
//
// This does not measure transport-level endpoint switch time (the actual
// reconnect); it measures the orchestrator's own decision latency, which
// is the portion spec §4.H's dwell/canary timers control directly.
//
// Output CSV columns:
//
//	iteration, latency_us, switched
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/laylaymen/vivo-opscore/internal/failover"
)

func main() {
	iterations := flag.Int("iterations", 1000, "Number of failover cycles to measure")
	outputFile := flag.String("output", "latency_raw.csv", "Output CSV file path")
	unhealthyFailures := flag.Int("unhealthy-failures", 3, "Consecutive failures before an endpoint is unhealthy")
	minDwellSec := flag.Int64("min-dwell-sec", 0, "Minimum dwell before seeking a switch target")
	canaryMs := flag.Int("canary-ms", 0, "Canary duration before committing a planned switch")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "latency_us", "switched"})

	var (
		totalSwitched int
		p50Bucket     [100001]int // histogram buckets: 0-100000us
	)

	for i := 0; i < *iterations; i++ {
		latency, switched := measureOne(*unhealthyFailures, *minDwellSec, *canaryMs)

		if switched {
			totalSwitched++
		}
		latencyUs := int(latency.Microseconds())
		if latencyUs < len(p50Bucket) {
			p50Bucket[latencyUs]++
		}

		_ = w.Write([]string{
			strconv.Itoa(i),
			strconv.Itoa(latencyUs),
			strconv.FormatBool(switched),
		})
	}

	p50, p95, p99 := computePercentiles(p50Bucket[:], *iterations)

	fmt.Printf("Failover Decision Latency Results (%d iterations)\n", *iterations)
	fmt.Printf("  Switched: %d/%d (%.1f%%)\n", totalSwitched, *iterations,
		float64(totalSwitched)/float64(*iterations)*100)
	fmt.Printf("  p50: %dus\n", p50)
	fmt.Printf("  p95: %dus\n", p95)
	fmt.Printf("  p99: %dus\n", p99)
	fmt.Printf("  Output: %s\n", *outputFile)
}

// measureOne drives one orchestrator from a healthy steady state through
// an unhealthy burst on "A" until it switches to "B", returning the
// elapsed wall-clock time and whether a switch was observed within the
// simulated horizon.
func measureOne(unhealthyFailures int, minDwellSec int64, canaryMs int) (time.Duration, bool) {
	o := failover.NewOrchestrator(failover.Config{
		UnhealthyFailures:   unhealthyFailures,
		UnhealthyScoreTheta: 0.1,
		MinDwellSec:         minDwellSec,
		CanaryDuration:      time.Duration(canaryMs) * time.Millisecond,
		StableRevertAfter:   time.Hour,
	})
	defer o.Close()
	o.SetCatalog([]string{"A", "B"})

	now := time.Unix(0, 0)
	o.ObserveProbe("A", true, 10, now)
	o.ObserveProbe("B", true, 10, now)

	start := time.Now()

	for i := 0; i < unhealthyFailures; i++ {
		now = now.Add(100 * time.Millisecond)
		o.ObserveProbe("A", false, 0, now)
	}

	for step := 0; step < 10000; step++ {
		now = now.Add(time.Millisecond)
		for _, tr := range o.Evaluate(now) {
			if tr.Kind == "switched" && tr.To == "B" {
				return time.Since(start), true
			}
		}
	}
	return time.Since(start), false
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}
