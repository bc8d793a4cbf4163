package failover

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk shape of the endpoint catalog file (§6
// "endpoint catalog" hot-reload target).
type catalogFile struct {
	Endpoints []string `yaml:"endpoints"`
}

// LoadCatalogFile parses an endpoint catalog file into a Catalog. ids[0]
// is treated as primary, matching SetCatalog's convention.
func LoadCatalogFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failover: read catalog %q: %w", path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Catalog{}, fmt.Errorf("failover: parse catalog %q: %w", path, err)
	}
	return Catalog{Endpoints: f.Endpoints}, nil
}
