// Package entity models the table-like datasets the sync engine tracks and
// orders them so that referential constraints hold on load.
package entity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nucleus/ucl-sync/pkg/watermark"
)

// Kind determines the load strategy of an entity.
type Kind int

const (
	KindUnknown Kind = iota
	KindDimension
	KindFact
)

const (
	DimensionPrefix = "dim_"
	FactPrefix      = "fact_"
)

func (k Kind) String() string {
	switch k {
	case KindDimension:
		return "dimension"
	case KindFact:
		return "fact"
	default:
		return "unknown"
	}
}

// ParseKind accepts the long and short forms used in metadata files.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dimension", "dim":
		return KindDimension, nil
	case "fact":
		return KindFact, nil
	case "unknown", "":
		return KindUnknown, nil
	}
	return KindUnknown, fmt.Errorf("unknown entity kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Entity is a tracked dataset.
type Entity struct {
	Name       string             `json:"name"`
	Kind       Kind               `json:"kind"`
	Columns    []watermark.Column `json:"columns,omitempty"`
	PrimaryKey []string           `json:"primaryKey,omitempty"`
}

// ColumnNames returns the declared column names in order.
func (e *Entity) ColumnNames() []string {
	names := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		names[i] = c.Name
	}
	return names
}

// Classifier resolves the kind of an entity by name.
type Classifier struct {
	overrides map[string]Kind
}

// NewClassifier builds a classifier. Overrides win over the name prefixes.
func NewClassifier(overrides map[string]Kind) *Classifier {
	c := &Classifier{overrides: make(map[string]Kind, len(overrides))}
	for name, kind := range overrides {
		c.overrides[name] = kind
	}
	return c
}

// Kind classifies name. A nil classifier uses prefixes only.
func (c *Classifier) Kind(name string) Kind {
	if c != nil {
		if k, ok := c.overrides[name]; ok {
			return k
		}
	}
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, DimensionPrefix):
		return KindDimension
	case strings.HasPrefix(lower, FactPrefix):
		return KindFact
	}
	return KindUnknown
}

// Order returns names with dimensions first, then facts, then unknown kinds,
// each group sorted lexicographically.
func Order(names []string, c *Classifier) []string {
	var out []string
	for _, tier := range Tiers(names, c) {
		out = append(out, tier...)
	}
	return out
}

// Tiers groups names by load tier. Empty tiers are omitted.
func Tiers(names []string, c *Classifier) [][]string {
	groups := map[Kind][]string{}
	seen := map[string]bool{}
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		k := c.Kind(n)
		groups[k] = append(groups[k], n)
	}

	var tiers [][]string
	for _, k := range []Kind{KindDimension, KindFact, KindUnknown} {
		g := groups[k]
		if len(g) == 0 {
			continue
		}
		sort.Strings(g)
		tiers = append(tiers, g)
	}
	return tiers
}
