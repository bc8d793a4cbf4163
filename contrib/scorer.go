// Package contrib — scorer.go
//
// Plugin interface for custom telemetry anomaly scorers.
//
// The primary extension point is the Scorer interface, which allows an
// operator to replace the detector's built-in median/MAD z-score with
// custom logic (a different distance metric, a model-backed score) for
// one or more series without touching internal/anomaly.
//
// Plugin registration:
//
//	Plugins register themselves in an init() function using RegisterScorer().
//	The detector selects the active scorer via config:
//
//	  anomaly:
//	    scorer_name: ""        # empty = built-in median/MAD
//	    # scorer_name: "zscore"
//
// Example plugin (contrib/scorers/ewmaratio/ewmaratio.go):
//
//	package ewmaratio
//
//	import "github.com/laylaymen/vivo-opscore/contrib"
//
//	func init() {
//	  contrib.RegisterScorer(&Scorer{})
//	}
//
//	type Scorer struct{}
//
//	func (s *Scorer) Name() string { return "ewmaratio" }
//
//	func (s *Scorer) Score(req contrib.ScoreRequest) (float64, error) {
//	  if req.Baseline.EWMA == 0 { return 0, nil }
//	  return math.Abs(req.Value-req.Baseline.EWMA) / req.Baseline.EWMA, nil
//	}
package contrib

import (
	"fmt"
	"sync"
)

// BaselineSnapshot is the read-only view of a series baseline passed to
// custom scorers.
type BaselineSnapshot struct {
	Median     float64
	MAD        float64
	Mean       float64
	Stdev      float64
	EWMA       float64
	PointCount int
}

// ScoreRequest is the input to Scorer.Score().
type ScoreRequest struct {
	// Series identifies the telemetry series being scored (e.g. a symbol
	// or metric name).
	Series string

	// Value is the latest observed point.
	Value float64

	// Baseline is the series' current rolling statistics.
	Baseline BaselineSnapshot

	// TimestampUnix is the observation time in Unix seconds.
	TimestampUnix int64
}

// Scorer is the interface custom anomaly scorers implement.
//
// Contract:
//   - Score must be goroutine-safe and side-effect free.
//   - Score must return in well under a millisecond; it runs on every
//     telemetry.metrics point.
//   - Score must not panic.
//   - Name must return a stable, unique string (used as the config key).
type Scorer interface {
	// Name returns the unique identifier for this scorer, matching
	// config.AnomalyConfig.ScorerName.
	Name() string

	// Score computes a distance-like anomaly score for req (larger means
	// more anomalous, on roughly the same scale as a squared z-score so
	// it can be compared against the detector's ZWarn/ZHi thresholds).
	Score(req ScoreRequest) (float64, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Scorer)
)

// RegisterScorer registers a custom anomaly scorer. Panics if a scorer
// with the same name is already registered. Call from init() functions
// in plugin packages.
func RegisterScorer(s Scorer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[s.Name()]; exists {
		panic(fmt.Sprintf("contrib: scorer %q already registered", s.Name()))
	}
	registry[s.Name()] = s
}

// GetScorer returns the registered scorer with the given name.
func GetScorer(name string) (Scorer, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("contrib: scorer %q not registered (available: %v)", name, listNames())
	}
	return s, nil
}

// ListScorers returns the names of all registered scorers.
func ListScorers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return listNames()
}

func listNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	return names
}

// ─── Example contrib scorer: Z-Score ────────────────────────────────────

// ZScoreScorer scores on mean/stdev rather than the detector's default
// median/MAD, useful for series whose noise is closer to Gaussian than
// heavy-tailed. Registered as "zscore".
type ZScoreScorer struct{}

func init() {
	RegisterScorer(&ZScoreScorer{})
}

func (z *ZScoreScorer) Name() string { return "zscore" }

func (z *ZScoreScorer) Score(req ScoreRequest) (float64, error) {
	if req.Baseline.Stdev == 0 {
		return 0, nil
	}
	zscore := (req.Value - req.Baseline.Mean) / req.Baseline.Stdev
	return zscore * zscore, nil
}
