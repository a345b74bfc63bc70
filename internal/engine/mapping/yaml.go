package mapping

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type yamlDocument struct {
	Mappings []ConceptMapping `yaml:"mappings"`
}

// YAMLStore serves mappings from a seed file, for local runs and tests.
type YAMLStore struct {
	mappings []ConceptMapping
}

// LoadYAMLFile parses a mappings file.
func LoadYAMLFile(path string) (*YAMLStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mappings file: %w", err)
	}
	return ParseYAML(data)
}

func ParseYAML(data []byte) (*YAMLStore, error) {
	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse mappings: %w", err)
	}
	for i, m := range doc.Mappings {
		if m.Synonym == "" || m.Canonical == "" {
			return nil, fmt.Errorf("mappings[%d]: synonym and canonical are required", i)
		}
		switch m.Category {
		case CategoryMetric, CategoryDimension, CategoryEntity:
		default:
			return nil, fmt.Errorf("mappings[%d]: unknown category %q", i, m.Category)
		}
	}
	return &YAMLStore{mappings: doc.Mappings}, nil
}

func (s *YAMLStore) Load(_ context.Context, dbAlias string) ([]ConceptMapping, error) {
	var out []ConceptMapping
	for _, m := range s.mappings {
		if m.DBAlias == nil || *m.DBAlias == dbAlias {
			out = append(out, m)
		}
	}
	return out, nil
}
