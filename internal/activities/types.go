// Package activities provides Temporal activity implementations for the sync engine.
package activities

import "github.com/nucleus/ucl-sync/internal/orchestration"

// SyncRequest selects the entity of a run. An empty Entity runs every
// tracked entity.
type SyncRequest struct {
	Entity string `json:"entity,omitempty"`
}

// SyncResult is returned by RunExtraction and RunLoad.
type SyncResult struct {
	Report *orchestration.Report `json:"report"`
	Counts map[string]int        `json:"counts"`
	Logs   []LogEntry            `json:"logs,omitempty"`
}

// LogEntry for activity logging
type LogEntry struct {
	Level   string         `json:"level"`
	Message string         `json:"message,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// PreviewRequest asks for the first rows of a source entity.
type PreviewRequest struct {
	Entity string `json:"entity"`
	Limit  int    `json:"limit,omitempty"`
}

// PreviewResult carries sampled rows.
type PreviewResult struct {
	Entity    string           `json:"entity"`
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows,omitempty"`
	Watermark string           `json:"watermark,omitempty"`
	SampledAt string           `json:"sampledAt"`
}
