package orchestration

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nucleus/ucl-sync/internal/extract"
	"github.com/nucleus/ucl-sync/internal/stage"
	"github.com/nucleus/ucl-sync/pkg/checkpoint"
	"github.com/nucleus/ucl-sync/pkg/entity"
)

// ExtractRunner stages the changed rows of each source entity.
type ExtractRunner struct {
	Extractor   *extract.Extractor
	Stager      *stage.Stager
	Checkpoints *checkpoint.Store
	Classifier  *entity.Classifier
	Catalog     Catalog
	SkipTables  []string
	Parallelism int
	Bucket      string
	Logger      *zap.Logger
}

func (r *ExtractRunner) init() {
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	if r.Catalog == nil {
		r.Catalog = noCatalog{}
	}
}

// Run extracts name, or every source entity outside the skip list when name
// is empty.
func (r *ExtractRunner) Run(ctx context.Context, name string) (*Report, error) {
	r.init()
	report := newReport("extract", r.Bucket)

	names := []string{name}
	if name == "" {
		discovered, err := r.Extractor.Source().ListEntities(ctx)
		if err != nil {
			return nil, fmt.Errorf("list source entities: %w", err)
		}
		names = r.filterSkipped(discovered)
	}
	r.Logger.Info("extract run started",
		zap.String("run_id", report.RunID),
		zap.Int("entities", len(names)))

	report.Results = runTiers(ctx, entity.Tiers(names, r.Classifier), r.Parallelism, r.kindOf, r.extractOne)
	return finish(report, name, r.Logger)
}

func (r *ExtractRunner) kindOf(name string) string { return r.Classifier.Kind(name).String() }

func (r *ExtractRunner) filterSkipped(names []string) []string {
	skip := make(map[string]bool, len(r.SkipTables))
	for _, s := range r.SkipTables {
		skip[s] = true
	}
	var out []string
	for _, n := range names {
		if skip[n] {
			r.Logger.Debug("skipping internal table", zap.String("entity", n))
			continue
		}
		out = append(out, n)
	}
	return out
}

func (r *ExtractRunner) extractOne(ctx context.Context, name string) Result {
	kind := r.Classifier.Kind(name)
	res := Result{Entity: name, Kind: kind.String()}
	log := r.Logger.With(zap.String("entity", name), zap.String("kind", kind.String()))

	e, err := r.Extractor.Source().Describe(ctx, name)
	if err != nil {
		return r.fail(log, res, err)
	}
	e.Kind = kind
	if len(e.PrimaryKey) == 0 {
		e.PrimaryKey = r.Catalog.PrimaryKey(name)
	}

	cursor, err := r.Checkpoints.Get(ctx, name)
	if err != nil {
		return r.fail(log, res, err)
	}

	batch, err := r.Extractor.Extract(ctx, e, cursor)
	if err != nil {
		return r.fail(log, res, err)
	}
	res.Mode, res.Watermark = batch.Mode, batch.Watermark.Name()

	if batch.Len() == 0 {
		res.Status, res.Reason = StatusSkipped, ReasonNoChanges
		res.Cursor = viewOf(cursor)
		log.Info("no changes", zap.String("mode", batch.Mode))
		return res
	}

	ref, err := r.Stager.Write(ctx, &stage.Batch{
		Entity:    name,
		Columns:   batch.Columns,
		Rows:      batch.Rows,
		Watermark: batch.Watermark.Name(),
	})
	if err != nil {
		return r.fail(log, res, err)
	}
	res.Artifact = ref

	next := checkpoint.Cursor{Entity: name, LastArtifactRef: ref}
	if kind != entity.KindDimension && batch.Watermark.Found() {
		next = cursor.Advance(ref, batch.MaxPosition)
	}
	saved, err := r.Checkpoints.Put(ctx, name, next)
	if err != nil {
		return r.fail(log, res, fmt.Errorf("batch staged but checkpoint not saved: %w", err))
	}

	res.Status, res.Rows, res.Cursor = StatusExtracted, int64(batch.Len()), viewOf(saved)
	log.Info("extracted",
		zap.String("mode", batch.Mode),
		zap.Int("rows", batch.Len()),
		zap.String("artifact", ref))
	return res
}

func (r *ExtractRunner) fail(log *zap.Logger, res Result, err error) Result {
	log.Error("extract failed", zap.Error(err))
	out := failed(res.Entity, res.Kind, err)
	out.Artifact = res.Artifact
	return out
}
