package ingest

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Dataset maps a table to its CSV file. File is relative to the source root
// (the data directory, or the key prefix for S3).
type Dataset struct {
	Table string `yaml:"table"`
	File  string `yaml:"file"`
}

type Manifest struct {
	Datasets []Dataset `yaml:"datasets"`
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DefaultManifest lists the retail datasets the assistant knows about.
func DefaultManifest() *Manifest {
	return &Manifest{Datasets: []Dataset{
		{Table: "amazon_sales", File: "Amazon Sale Report.csv"},
		{Table: "inventory", File: "Sale Report.csv"},
		{Table: "international_sales", File: "International sale Report.csv"},
		{Table: "may_2022", File: "May-2022.csv"},
		{Table: "pl_march_2021", File: "P  L March 2021.csv"},
	}}
}

// LoadManifest reads a YAML manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) Validate() error {
	if len(m.Datasets) == 0 {
		return fmt.Errorf("manifest has no datasets")
	}
	seen := make(map[string]struct{}, len(m.Datasets))
	for i, ds := range m.Datasets {
		if !tableNameRe.MatchString(ds.Table) {
			return fmt.Errorf("dataset %d: invalid table name %q", i, ds.Table)
		}
		if ds.File == "" {
			return fmt.Errorf("dataset %q: file is required", ds.Table)
		}
		if _, ok := seen[ds.Table]; ok {
			return fmt.Errorf("dataset %q: duplicate table", ds.Table)
		}
		seen[ds.Table] = struct{}{}
	}
	return nil
}
