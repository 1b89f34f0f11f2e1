// Package stage writes and reads the intermediate artifacts exchanged between
// extraction and load.
//
// Artifacts live at {entity}/{monotonic_id}.{format} in the staging bucket.
// Ids sort lexicographically in write order, so the newest artifact of an
// entity is also the last key.
package stage

import (
	"encoding/json"
	"sort"
	"time"
)

// Batch is an ordered set of rows of one entity.
type Batch struct {
	Entity    string
	Columns   []string
	Rows      []map[string]any
	Watermark string
	Ref       string
}

// Len returns the number of rows.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// ColumnNames returns the declared columns or, when absent, the sorted union
// of row keys.
func (b *Batch) ColumnNames() []string {
	if len(b.Columns) > 0 {
		return b.Columns
	}
	seen := map[string]bool{}
	var names []string
	for _, row := range b.Rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return names
}

// normalizeValue turns decoded JSON numbers into int64 or float64.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, inner := range t {
			t[k] = normalizeValue(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = normalizeValue(inner)
		}
		return t
	}
	return v
}

// encodableValue prepares a source value for serialization.
func encodableValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(t)
	}
	return v
}
