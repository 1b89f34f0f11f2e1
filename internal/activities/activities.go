package activities

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/nucleus/ucl-sync/internal/app"
	"github.com/nucleus/ucl-sync/internal/config"
	"github.com/nucleus/ucl-sync/internal/orchestration"
)

// Activities holds the sync Temporal activities. Each invocation opens its
// own connections and closes them before returning.
type Activities struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewActivities creates a new Activities instance.
func NewActivities(cfg *config.Config, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{cfg: cfg, logger: logger}
}

// =============================================================================
// ACTIVITY 1: RunExtraction
// =============================================================================

// RunExtraction stages changed source rows into the landing bucket.
func (a *Activities) RunExtraction(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("running extraction", "entity", req.Entity, "bucket", a.cfg.LandingBucket)

	engine, err := app.New(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	runner, err := engine.ExtractRunner(ctx)
	if err != nil {
		return nil, err
	}
	report, err := runner.Run(ctx, req.Entity)
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}

	result := summarize(report)
	logger.Info("extraction complete", "runId", report.RunID, "entities", len(report.Results))
	return result, nil
}

// =============================================================================
// ACTIVITY 2: RunLoad
// =============================================================================

// RunLoad loads staged batches from the processed bucket into the destination.
func (a *Activities) RunLoad(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("running load", "entity", req.Entity, "bucket", a.cfg.ProcessedBucket)

	engine, err := app.New(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	runner, err := engine.LoadRunner(ctx)
	if err != nil {
		return nil, err
	}
	report, err := runner.Run(ctx, req.Entity)
	if err != nil {
		return nil, fmt.Errorf("load failed: %w", err)
	}

	result := summarize(report)
	logger.Info("load complete", "runId", report.RunID, "entities", len(report.Results))
	return result, nil
}

// =============================================================================
// ACTIVITY 3: PreviewEntity
// =============================================================================

// PreviewEntity samples rows from a source entity.
func (a *Activities) PreviewEntity(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("previewing entity", "entity", req.Entity, "limit", req.Limit)

	if req.Entity == "" {
		return nil, fmt.Errorf("entity is required")
	}

	engine, err := app.New(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	x, err := engine.Extractor(ctx)
	if err != nil {
		return nil, err
	}
	batch, err := x.Preview(ctx, req.Entity, req.Limit)
	if err != nil {
		return nil, err
	}

	return &PreviewResult{
		Entity:    req.Entity,
		Columns:   batch.Columns,
		Rows:      batch.Rows,
		Watermark: batch.Watermark.Name(),
		SampledAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func summarize(report *orchestration.Report) *SyncResult {
	counts := map[string]int{}
	for status, n := range report.Counts() {
		counts[string(status)] = n
	}
	var logs []LogEntry
	for _, res := range report.Failed() {
		logs = append(logs, LogEntry{
			Level:   "ERROR",
			Message: res.Error,
			Fields:  map[string]any{"entity": res.Entity},
		})
	}
	logs = append(logs, LogEntry{
		Level:   "INFO",
		Message: fmt.Sprintf("%s processed %d entities", report.Operation, len(report.Results)),
	})
	return &SyncResult{Report: report, Counts: counts, Logs: logs}
}
