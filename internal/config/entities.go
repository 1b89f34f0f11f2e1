package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nucleus/ucl-sync/pkg/entity"
)

// EntitySpec is the per-entity metadata of the entity file.
type EntitySpec struct {
	Kind       string   `yaml:"kind"`
	PrimaryKey []string `yaml:"primary_key"`
	DDL        string   `yaml:"ddl"`
}

// Catalog is the parsed entity file:
//
//	entities:
//	  customers:
//	    kind: dimension
//	    primary_key: [customer_id]
//	    ddl: |
//	      CREATE TABLE IF NOT EXISTS customers (...)
type Catalog struct {
	Entities map[string]EntitySpec `yaml:"entities"`
}

// LoadCatalog reads the entity file at path. An empty path yields an empty
// catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return &Catalog{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entity file: %w", err)
	}
	return ParseCatalog(b)
}

// ParseCatalog parses entity file contents.
func ParseCatalog(b []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse entity file: %w", err)
	}
	for name, spec := range c.Entities {
		if _, err := entity.ParseKind(spec.Kind); err != nil {
			return nil, fmt.Errorf("entity %s: %w", name, err)
		}
	}
	return &c, nil
}

// Classifier returns a classifier honouring the explicit kinds.
func (c *Catalog) Classifier() *entity.Classifier {
	overrides := map[string]entity.Kind{}
	if c != nil {
		for name, spec := range c.Entities {
			if strings.TrimSpace(spec.Kind) == "" {
				continue
			}
			k, _ := entity.ParseKind(spec.Kind)
			overrides[name] = k
		}
	}
	return entity.NewClassifier(overrides)
}

// DDL returns the configured CREATE statement of name, if any.
func (c *Catalog) DDL(name string) string {
	if c == nil {
		return ""
	}
	return c.Entities[name].DDL
}

// PrimaryKey returns the configured primary key of name, if any.
func (c *Catalog) PrimaryKey(name string) []string {
	if c == nil {
		return nil
	}
	return c.Entities[name].PrimaryKey
}
