package audit

import (
	"path/filepath"
	"sort"
)

// globErr lists rotated backup files matching pattern, sorted oldest
// first (the timestamp suffix sorts lexicographically).
func globErr(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
