package anomaly

import (
	"fmt"
	"math"

	"github.com/laylaymen/vivo-opscore/contrib"
)

// Kind classifies what an evaluation found.
type Kind string

const (
	KindNone     Kind = "none"
	KindFlatline Kind = "flatline"
	KindGap      Kind = "gap"
	KindSpike    Kind = "spike"
	KindDrop     Kind = "drop"
	KindDrift    Kind = "drift"
)

// Severity is the alert severity level.
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityMedium Severity = "medium"
	SeverityWarn   Severity = "warn"
	SeverityHigh   Severity = "high"
)

// Signal is the result of one evaluation, matching telemetry.anomaly.signal.
type Signal struct {
	Series   string
	Window   Window
	Kind     Kind
	Severity Severity
	Score    float64
}

// Config bundles the detector thresholds read from config.AnomalyConfig,
// kept local to this package to avoid a config.AnomalyConfig import cycle.
type Config struct {
	MinPoints        int
	FlatlineStaleSec int64
	GapStaleSec      int64
	ZHi              float64
	ZWarn            float64

	// ScorerName, if set, names a contrib.Scorer to use in place of the
	// built-in median/MAD (falling back to stdev) distance, e.g. for a
	// series whose noise profile the default doesn't fit. Empty uses the
	// built-in.
	ScorerName string
}

// Evaluate runs the detection algorithm (§4.F) for one new point against
// baseline, which has already been updated with p via baseline.Update.
// nowUnix is the current time in Unix seconds, used to compute point age.
// burning, when true, multiplies the resulting severity up by one level
// (an SLO referencing this series is breaching, burnRate>1).
func Evaluate(cfg Config, series string, win Window, baseline *Baseline, nowUnix int64, burning bool) Signal {
	none := Signal{Series: series, Window: win, Kind: KindNone, Severity: SeverityNone}

	if baseline.PointCount < cfg.MinPoints {
		return none
	}

	last := baseline.Last()
	age := nowUnix - last.T

	if isFlatline(baseline) && age <= cfg.FlatlineStaleSec {
		return bumpSeverity(Signal{Series: series, Window: win, Kind: KindFlatline, Severity: SeverityMedium, Score: 1.0}, burning)
	}

	if age > cfg.GapStaleSec {
		sev := SeverityWarn
		if age > 5*cfg.GapStaleSec {
			sev = SeverityHigh
		}
		return bumpSeverity(Signal{Series: series, Window: win, Kind: KindGap, Severity: sev, Score: float64(age) / float64(cfg.GapStaleSec)}, burning)
	}

	v := last.V
	z, sq, ok := scoreDistance(cfg, series, baseline, v, nowUnix)
	if !ok {
		return none
	}

	if z < cfg.ZWarn {
		return none
	}

	kind := KindDrift
	if baseline.Stdev > 0 && math.Abs(v-baseline.Mean) > 2*baseline.Stdev {
		if v > baseline.Mean {
			kind = KindSpike
		} else {
			kind = KindDrop
		}
	}

	sev := SeverityWarn
	if z >= cfg.ZHi {
		sev = SeverityHigh
	}
	// Score reports the squared distance, matching the teacher's squared-
	// Mahalanobis convention rather than the raw z used for thresholding.
	return bumpSeverity(Signal{Series: series, Window: win, Kind: kind, Severity: sev, Score: sq}, burning)
}

// scoreDistance computes the z-score (for threshold comparison) and the
// squared distance (for Signal.Score) used to decide whether a point is
// anomalous. ok is false when neither the baseline nor a configured
// contrib.Scorer produced a usable signal (e.g. a brand new series with
// zero variance).
func scoreDistance(cfg Config, series string, baseline *Baseline, v float64, nowUnix int64) (z, sq float64, ok bool) {
	if cfg.ScorerName != "" {
		if scorer, err := contrib.GetScorer(cfg.ScorerName); err == nil {
			req := contrib.ScoreRequest{
				Series: series,
				Value:  v,
				Baseline: contrib.BaselineSnapshot{
					Median: baseline.Median, MAD: baseline.MAD, Mean: baseline.Mean,
					Stdev: baseline.Stdev, EWMA: baseline.EWMA, PointCount: baseline.PointCount,
				},
				TimestampUnix: nowUnix,
			}
			if s, err := scorer.Score(req); err == nil {
				return math.Sqrt(s), s, true
			}
		}
	}

	if baseline.MAD != 0 {
		z = math.Abs(v-baseline.Median) / baseline.MAD
		return z, z * z, true
	}
	if baseline.Stdev != 0 {
		z = math.Abs(v-baseline.Mean) / baseline.Stdev
		return z, z * z, true
	}
	return 0, 0, false
}

func isFlatline(b *Baseline) bool {
	if len(b.History) < 10 {
		return false
	}
	tail := b.History[len(b.History)-10:]
	first := tail[0].V
	for _, p := range tail[1:] {
		if p.V != first {
			return false
		}
	}
	return true
}

// bumpSeverity raises sev by one level when burning is true, capped at high.
func bumpSeverity(s Signal, burning bool) Signal {
	if !burning || s.Severity == SeverityNone {
		return s
	}
	switch s.Severity {
	case SeverityMedium:
		s.Severity = SeverityWarn
	case SeverityWarn:
		s.Severity = SeverityHigh
	}
	return s
}

// suppressKey identifies a (series, kind, window) tuple for idempotent
// alert suppression.
func suppressKey(series string, kind Kind, win Window) string {
	return fmt.Sprintf("%s|%s|%s/%s", series, kind, win.Span, win.Step)
}
