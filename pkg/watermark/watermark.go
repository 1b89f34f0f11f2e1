// Package watermark picks the change-tracking column of an entity.
//
// Two variants share one rule set:
//
//	InferSchema  - declared (name, type) pairs from source introspection
//	InferColumns - bare column names of a materialized batch
//
// Both are pure functions over an explicit Priority.
package watermark

import (
	"strings"
	"time"
)

// Kind describes what a watermark column holds.
type Kind string

const (
	KindNone      Kind = "none"
	KindTimestamp Kind = "timestamp"
	KindDate      Kind = "date"
	KindCombined  Kind = "combined"
)

// Confidence signals how precisely a watermark separates old rows from new.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	// ConfidenceLow marks date-only watermarks, which under-filter same-day changes.
	ConfidenceLow Confidence = "low"
)

// Column is a declared column of an entity.
type Column struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// Priority is the caller-supplied ranking used by inference.
type Priority struct {
	Names    []string
	DatePart string
	TimePart string
}

// DefaultPriority returns the ranking used when none is configured.
func DefaultPriority() Priority {
	return Priority{
		Names:    []string{"last_updated", "updated_at", "created_at", "modified_at"},
		DatePart: "last_updated_date",
		TimePart: "last_updated_time",
	}
}

// WithNames returns a copy of p using names as the preferred column list.
func (p Priority) WithNames(names []string) Priority {
	if len(names) == 0 {
		return p
	}
	p.Names = append([]string(nil), names...)
	return p
}

// Result is the outcome of inference.
type Result struct {
	Kind       Kind       `json:"kind"`
	Column     string     `json:"column,omitempty"`
	DatePart   string     `json:"datePart,omitempty"`
	TimePart   string     `json:"timePart,omitempty"`
	Confidence Confidence `json:"confidence,omitempty"`
}

// None is the result for entities without a usable watermark.
var None = Result{Kind: KindNone}

// Found reports whether a watermark was detected.
func (r Result) Found() bool { return r.Kind != KindNone && r.Kind != "" }

// Name is a display name; synthetic watermarks are named "date+time".
func (r Result) Name() string {
	switch r.Kind {
	case KindCombined:
		return r.DatePart + "+" + r.TimePart
	case KindNone, "":
		return ""
	default:
		return r.Column
	}
}

// Columns returns the physical columns backing the watermark, in sort order.
func (r Result) Columns() []string {
	switch r.Kind {
	case KindCombined:
		return []string{r.DatePart, r.TimePart}
	case KindTimestamp, KindDate:
		return []string{r.Column}
	}
	return nil
}

// Value extracts the UTC watermark of row. ok is false when the value is
// missing or unparseable.
func (r Result) Value(row map[string]any) (time.Time, bool) {
	switch r.Kind {
	case KindCombined:
		d, okD := row[r.DatePart]
		t, okT := row[r.TimePart]
		if !okD || !okT || d == nil || t == nil {
			return time.Time{}, false
		}
		return combine(d, t)
	case KindTimestamp, KindDate:
		v, ok := row[r.Column]
		if !ok {
			return time.Time{}, false
		}
		return ParseTime(v)
	}
	return time.Time{}, false
}

// TypeKind classifies a declared column type.
func TypeKind(declared string) Kind {
	t := strings.ToLower(declared)
	switch {
	case strings.Contains(t, "timestamp"), strings.Contains(t, "datetime"):
		return KindTimestamp
	case strings.Contains(t, "date"):
		return KindDate
	}
	return KindNone
}

// InferSchema applies the ranking to declared columns. First match wins:
// combined date+time parts, a preferred timestamp name, the first timestamp,
// the first date (low confidence), none.
func InferSchema(cols []Column, p Priority) Result {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	if r, ok := combined(names, p); ok {
		return r
	}

	var timestamps, dates []string
	for _, c := range cols {
		switch TypeKind(c.Type) {
		case KindTimestamp:
			timestamps = append(timestamps, c.Name)
		case KindDate:
			dates = append(dates, c.Name)
		}
	}

	if name, ok := preferred(timestamps, p.Names); ok {
		return Result{Kind: KindTimestamp, Column: name, Confidence: ConfidenceHigh}
	}
	if len(timestamps) > 0 {
		return Result{Kind: KindTimestamp, Column: timestamps[0], Confidence: ConfidenceHigh}
	}
	if len(dates) > 0 {
		return Result{Kind: KindDate, Column: dates[0], Confidence: ConfidenceLow}
	}
	return None
}

// InferColumns applies the ranking to untyped column names: combined
// date+time parts, then the first preferred name present.
func InferColumns(names []string, p Priority) Result {
	if r, ok := combined(names, p); ok {
		return r
	}
	if name, ok := preferred(names, p.Names); ok {
		return Result{Kind: KindTimestamp, Column: name, Confidence: ConfidenceHigh}
	}
	return None
}

// DetectBatch is InferColumns restricted to candidates for which at least one
// row holds a parseable timestamp.
func DetectBatch(names []string, rows []map[string]any, p Priority) Result {
	var candidates []Result
	if r, ok := combined(names, p); ok {
		candidates = append(candidates, r)
	}
	for _, pref := range p.Names {
		for _, name := range names {
			if strings.EqualFold(name, pref) {
				candidates = append(candidates, Result{Kind: KindTimestamp, Column: name, Confidence: ConfidenceHigh})
			}
		}
	}
	for _, c := range candidates {
		for _, row := range rows {
			if _, ok := c.Value(row); ok {
				return c
			}
		}
	}
	return None
}

// Recorded resolves a watermark name stored alongside a batch, as rendered by
// Result.Name, against the batch columns. It returns None unless at least one
// row holds a parseable value.
func Recorded(name string, names []string, rows []map[string]any) Result {
	var r Result
	if date, tm, ok := strings.Cut(name, "+"); ok {
		d, okD := lookup(names, date)
		t, okT := lookup(names, tm)
		if !okD || !okT {
			return None
		}
		r = Result{Kind: KindCombined, DatePart: d, TimePart: t, Confidence: ConfidenceHigh}
	} else {
		col, found := lookup(names, name)
		if name == "" || !found {
			return None
		}
		r = Result{Kind: KindTimestamp, Column: col, Confidence: ConfidenceHigh}
	}
	for _, row := range rows {
		if _, ok := r.Value(row); ok {
			return r
		}
	}
	return None
}

func combined(names []string, p Priority) (Result, bool) {
	if p.DatePart == "" || p.TimePart == "" {
		return Result{}, false
	}
	date, okD := lookup(names, p.DatePart)
	tm, okT := lookup(names, p.TimePart)
	if !okD || !okT {
		return Result{}, false
	}
	return Result{Kind: KindCombined, DatePart: date, TimePart: tm, Confidence: ConfidenceHigh}, true
}

// preferred returns the candidate matching the earliest entry of prefs.
func preferred(candidates, prefs []string) (string, bool) {
	for _, pref := range prefs {
		if name, ok := lookup(candidates, pref); ok {
			return name, true
		}
	}
	return "", false
}

func lookup(names []string, want string) (string, bool) {
	for _, n := range names {
		if strings.EqualFold(n, want) {
			return n, true
		}
	}
	return "", false
}
