package portfolio

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPolicyFile parses a policy caps file (§6 "policy caps" hot-reload
// target) into the portfolio.policy bus payload.
func LoadPolicyFile(path string) (PolicyUpdate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyUpdate{}, fmt.Errorf("portfolio: read policy %q: %w", path, err)
	}
	var p PolicyUpdate
	if err := yaml.Unmarshal(data, &p); err != nil {
		return PolicyUpdate{}, fmt.Errorf("portfolio: parse policy %q: %w", path, err)
	}
	return p, nil
}
