package redact

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AllowLists is the on-disk shape of the privacy allowlist file (§6
// "privacy rules" hot-reload target).
type AllowLists struct {
	TickerAllow []string `yaml:"ticker_allowlist"`
	DomainAllow []string `yaml:"domain_allowlist"`
}

// LoadAllowListsFile parses a privacy allowlist file.
func LoadAllowListsFile(path string) (AllowLists, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AllowLists{}, fmt.Errorf("redact: read allowlists %q: %w", path, err)
	}
	var a AllowLists
	if err := yaml.Unmarshal(data, &a); err != nil {
		return AllowLists{}, fmt.Errorf("redact: parse allowlists %q: %w", path, err)
	}
	return a, nil
}
