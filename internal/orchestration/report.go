// Package orchestration drives extraction and load across all tracked
// entities, isolating per-entity failures and persisting checkpoints only
// after the corresponding write succeeded.
package orchestration

import (
	"errors"
	"time"

	"github.com/nucleus/ucl-sync/pkg/checkpoint"
)

// Status is the outcome class of one entity.
type Status string

const (
	StatusLoaded    Status = "loaded"
	StatusExtracted Status = "extracted"
	StatusSkipped   Status = "skipped"
	StatusError     Status = "error"
)

// Skip and failure reasons.
const (
	ReasonNoArtifact    = "no_artifact"
	ReasonAlreadyLoaded = "already_loaded"
	ReasonNoData        = "no_data"
	ReasonNoChanges     = "no_changes"
	ReasonCanceled      = "canceled"
)

// ErrEntityFailed is returned when a single requested entity fails.
var ErrEntityFailed = errors.New("entity sync failed")

// CursorView is the JSON shape of a cursor in reports.
type CursorView struct {
	LastArtifactRef string     `json:"last_loaded_key,omitempty"`
	LastPosition    *time.Time `json:"last_loaded_ts,omitempty"`
}

func viewOf(c checkpoint.Cursor) *CursorView {
	return &CursorView{LastArtifactRef: c.LastArtifactRef, LastPosition: c.LastPosition}
}

// Result describes what happened to one entity.
type Result struct {
	Entity    string      `json:"entity"`
	Kind      string      `json:"kind"`
	Status    Status      `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	Mode      string      `json:"mode,omitempty"`
	Rows      int64       `json:"rows"`
	Batches   int         `json:"batches,omitempty"`
	Artifact  string      `json:"artifact,omitempty"`
	Watermark string      `json:"watermark,omitempty"`
	Cursor    *CursorView `json:"cursor,omitempty"`
	Error     string      `json:"error,omitempty"`

	err error
}

// Err returns the underlying failure of an error result.
func (r Result) Err() error { return r.err }

func failed(name, kind string, err error) Result {
	return Result{Entity: name, Kind: kind, Status: StatusError, Error: err.Error(), err: err}
}

// Report is the outcome of one invocation.
type Report struct {
	RunID      string    `json:"runId"`
	Operation  string    `json:"operation"`
	Bucket     string    `json:"bucket,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Results    []Result  `json:"results"`
}

// Counts tallies results by status.
func (r *Report) Counts() map[Status]int {
	out := map[Status]int{}
	for _, res := range r.Results {
		out[res.Status]++
	}
	return out
}

// Failed returns the error results.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status == StatusError {
			out = append(out, res)
		}
	}
	return out
}
