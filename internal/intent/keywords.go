package intent

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var defaultKeywordsYAML []byte

// Keywords is the vocabulary the classifier matches against. Entries are
// single words or space-separated phrases, compared case-insensitively.
type Keywords struct {
	Structural   []string `yaml:"structural"`
	Unstructured []string `yaml:"unstructured"`
}

// DefaultKeywords returns the built-in vocabulary.
func DefaultKeywords() Keywords {
	kw, err := parseKeywords(defaultKeywordsYAML)
	if err != nil {
		panic(fmt.Sprintf("intent: embedded keywords.yaml is invalid: %v", err))
	}
	return kw
}

// LoadKeywords reads a YAML vocabulary file. Sets missing from the file keep
// their built-in values.
func LoadKeywords(path string) (Keywords, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Keywords{}, fmt.Errorf("reading keywords file: %w", err)
	}
	kw, err := parseKeywords(data)
	if err != nil {
		return Keywords{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	def := DefaultKeywords()
	if len(kw.Structural) == 0 {
		kw.Structural = def.Structural
	}
	if len(kw.Unstructured) == 0 {
		kw.Unstructured = def.Unstructured
	}
	return kw, nil
}

func parseKeywords(data []byte) (Keywords, error) {
	var kw Keywords
	if err := yaml.Unmarshal(data, &kw); err != nil {
		return Keywords{}, err
	}
	return kw, nil
}
