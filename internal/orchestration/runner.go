package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Catalog supplies per-entity metadata from configuration.
type Catalog interface {
	DDL(name string) string
	PrimaryKey(name string) []string
}

type noCatalog struct{}

func (noCatalog) DDL(string) string          { return "" }
func (noCatalog) PrimaryKey(string) []string { return nil }

// runFunc processes one entity.
type runFunc func(ctx context.Context, name string) Result

// runTiers processes tiers strictly in order. Within a tier up to
// parallelism entities run at once; result order follows the input.
func runTiers(ctx context.Context, tiers [][]string, parallelism int, kindOf func(string) string, fn runFunc) []Result {
	var results []Result
	for _, tier := range tiers {
		out := make([]Result, len(tier))
		run := func(i int) {
			name := tier[i]
			if err := ctx.Err(); err != nil {
				out[i] = Result{Entity: name, Kind: kindOf(name), Status: StatusError, Reason: ReasonCanceled, Error: err.Error(), err: err}
				return
			}
			out[i] = fn(ctx, name)
		}

		if parallelism <= 1 || len(tier) == 1 {
			for i := range tier {
				run(i)
			}
		} else {
			var g errgroup.Group
			g.SetLimit(parallelism)
			for i := range tier {
				g.Go(func() error {
					run(i)
					return nil
				})
			}
			_ = g.Wait()
		}
		results = append(results, out...)
	}
	return results
}

func newReport(operation, bucket string) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Operation: operation,
		Bucket:    bucket,
		StartedAt: time.Now().UTC(),
	}
}

// finish closes the report. In single-entity mode the entity failure becomes
// the invocation error.
func finish(report *Report, single string, logger *zap.Logger) (*Report, error) {
	report.FinishedAt = time.Now().UTC()
	counts := report.Counts()
	logger.Info("run finished",
		zap.String("run_id", report.RunID),
		zap.String("operation", report.Operation),
		zap.Int("entities", len(report.Results)),
		zap.Int("failed", counts[StatusError]),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))

	if single == "" {
		return report, nil
	}
	for _, res := range report.Results {
		if res.Entity == single && res.Status == StatusError {
			if res.err != nil {
				return report, fmt.Errorf("%w: %s: %w", ErrEntityFailed, single, res.err)
			}
			return report, fmt.Errorf("%w: %s: %s", ErrEntityFailed, single, res.Error)
		}
	}
	return report, nil
}
