// Package logrouter implements the Log Ingest Router (spec §4.E): a
// per-record decision pipeline of routing rules, sampling, PII
// classification, batching, and sink delivery with backpressure-adaptive
// sampling and a dead-letter spool on exhausted retries.
package logrouter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// rulesFile is the on-disk shape of the routing rules file (§6 "routing
// rules" hot-reload target).
type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRulesFile parses a routing-rules.yaml file into a Rule slice.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("logrouter: read rules %q: %w", path, err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("logrouter: parse rules %q: %w", path, err)
	}
	return f.Rules, nil
}

// Record is one incoming log line, matching the log.raw topic payload.
type Record struct {
	Ts      string         `json:"ts"`
	Source  string         `json:"source"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	KV      map[string]any `json:"kv,omitempty"`
}

// Match selects which records a rule applies to. A nil/empty field means
// "matches any".
type Match struct {
	Source   string `yaml:"source,omitempty"`
	Level    string `yaml:"level,omitempty"`
	Contains string `yaml:"contains,omitempty"`
}

// Action is what a matching rule does to a record.
type Action struct {
	Drop      bool     `yaml:"drop,omitempty"`
	SamplePct *float64 `yaml:"sample_pct,omitempty"`
	AddTags   []string `yaml:"add_tags,omitempty"`
	Sinks     []string `yaml:"sinks,omitempty"`
}

// Rule is one routing rule (data model §3: "Routing rule (log router)").
type Rule struct {
	Match  Match  `yaml:"match"`
	Action Action `yaml:"action"`
}

func (m Match) matches(r Record) bool {
	if m.Source != "" && m.Source != r.Source {
		return false
	}
	if m.Level != "" && m.Level != r.Level {
		return false
	}
	if m.Contains != "" && !containsFold(r.Message, m.Contains) {
		return false
	}
	return true
}

func containsFold(haystack, needle string) bool {
	hl, nl := len(haystack), len(needle)
	if nl == 0 {
		return true
	}
	for i := 0; i+nl <= hl; i++ {
		if equalFold(haystack[i:i+nl], needle) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// decision is the accumulated effect of evaluating every rule against a
// record, in declared order (§3: "later matching rules augment additive
// fields ... and override scalar fields ... except drop=true
// short-circuits").
type decision struct {
	drop      bool
	samplePct *float64
	tags      []string
	sinks     map[string]bool
}

func evaluate(rules []Rule, r Record) decision {
	d := decision{sinks: map[string]bool{}}
	for _, rule := range rules {
		if !rule.Match.matches(r) {
			continue
		}
		if rule.Action.Drop {
			d.drop = true
			return d
		}
		if rule.Action.SamplePct != nil {
			d.samplePct = rule.Action.SamplePct
		}
		d.tags = append(d.tags, rule.Action.AddTags...)
		for _, s := range rule.Action.Sinks {
			d.sinks[s] = true
		}
	}
	return d
}
