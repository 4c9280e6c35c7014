package synth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// patternFile is the YAML layout for pattern overrides:
//
//	patterns:
//	  total_count: '\b(?:how many|headcount of)\s+(\w+)'
type patternFile struct {
	Patterns map[string]string `yaml:"patterns"`
}

// LoadPatterns reads pattern overrides keyed by template name.
func LoadPatterns(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading patterns file: %w", err)
	}
	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return pf.Patterns, nil
}
