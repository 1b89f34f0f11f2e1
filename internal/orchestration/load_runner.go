package orchestration

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nucleus/ucl-sync/internal/destination"
	"github.com/nucleus/ucl-sync/internal/load"
	"github.com/nucleus/ucl-sync/internal/stage"
	"github.com/nucleus/ucl-sync/pkg/checkpoint"
	"github.com/nucleus/ucl-sync/pkg/entity"
	"github.com/nucleus/ucl-sync/pkg/watermark"
)

// LoadRunner loads staged artifacts into the destination: the newest one for
// dimensions, every artifact after the cursor for facts.
type LoadRunner struct {
	Stager      *stage.Stager
	Checkpoints *checkpoint.Store
	Destination destination.Destination
	Classifier  *entity.Classifier
	Catalog     Catalog
	Priority    watermark.Priority
	Parallelism int
	Bucket      string
	Logger      *zap.Logger

	snapshot *load.SnapshotLoader
	delta    *load.DeltaLoader
}

func (r *LoadRunner) init() {
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	if r.Catalog == nil {
		r.Catalog = noCatalog{}
	}
	if r.Priority.Names == nil {
		r.Priority = watermark.DefaultPriority()
	}
	if r.snapshot == nil {
		r.snapshot = load.NewSnapshotLoader(r.Destination, r.Logger)
	}
	if r.delta == nil {
		r.delta = load.NewDeltaLoader(r.Destination, r.Priority, r.Logger)
	}
}

// Run loads name, or every staged dimension and fact when name is empty.
// All-entities mode reports failures per entity; single-entity mode also
// returns the failure.
func (r *LoadRunner) Run(ctx context.Context, name string) (*Report, error) {
	r.init()
	report := newReport("load", r.Bucket)

	names := []string{name}
	if name == "" {
		discovered, err := r.discover(ctx)
		if err != nil {
			return nil, err
		}
		names = discovered
	}
	tiers := entity.Tiers(names, r.Classifier)
	r.Logger.Info("load run started",
		zap.String("run_id", report.RunID),
		zap.Strings("order", entity.Order(names, r.Classifier)))

	report.Results = runTiers(ctx, tiers, r.Parallelism, r.kindOf, r.loadOne)
	return finish(report, name, r.Logger)
}

func (r *LoadRunner) kindOf(name string) string { return r.Classifier.Kind(name).String() }

// discover lists staged entities classified as dimension or fact.
func (r *LoadRunner) discover(ctx context.Context) ([]string, error) {
	prefixes, err := r.Stager.Entities(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, p := range prefixes {
		if r.Classifier.Kind(p) != entity.KindUnknown {
			names = append(names, p)
		}
	}
	return names, nil
}

func (r *LoadRunner) loadOne(ctx context.Context, name string) Result {
	kind := r.Classifier.Kind(name)
	res := Result{Entity: name, Kind: kind.String()}
	log := r.Logger.With(zap.String("entity", name), zap.String("kind", kind.String()))

	if kind == entity.KindDimension {
		return r.loadSnapshot(ctx, log, res)
	}
	return r.loadDeltas(ctx, log, res)
}

// loadSnapshot replaces a dimension with its newest artifact. Every dimension
// artifact is a full extract, so older ones are never needed.
func (r *LoadRunner) loadSnapshot(ctx context.Context, log *zap.Logger, res Result) Result {
	latest, ok, err := r.Stager.Latest(ctx, res.Entity)
	if err != nil {
		return r.fail(log, res, err)
	}
	if !ok {
		res.Status, res.Reason = StatusSkipped, ReasonNoArtifact
		log.Info("no staged artifact")
		return res
	}
	res.Artifact = latest.Key

	batch, err := r.Stager.Read(ctx, latest.Key)
	if err != nil {
		return r.fail(log, res, err)
	}
	if batch.Len() == 0 {
		res.Status, res.Reason = StatusSkipped, ReasonNoData
		log.Info("artifact has no rows", zap.String("artifact", latest.Key))
		return res
	}
	if _, err := destination.EnsureTable(ctx, r.Destination, res.Entity, r.Catalog.DDL(res.Entity), batch.ColumnNames(), batch.Rows); err != nil {
		return r.fail(log, res, err)
	}
	n, err := r.snapshot.Replace(ctx, res.Entity, batch)
	if err != nil {
		return r.fail(log, res, err)
	}
	res.Status, res.Mode, res.Rows = StatusLoaded, load.ModeSnapshot, n
	return res
}

// loadDeltas applies every artifact staged after the cursor, oldest first,
// saving the cursor after each one so a failure resumes at the next artifact.
func (r *LoadRunner) loadDeltas(ctx context.Context, log *zap.Logger, res Result) Result {
	name := res.Entity
	cursor, err := r.Checkpoints.Get(ctx, name)
	if err != nil {
		return r.fail(log, res, err)
	}
	pending, err := r.Stager.Pending(ctx, name, cursor.LastArtifactRef)
	if err != nil {
		return r.fail(log, res, err)
	}
	if len(pending) == 0 {
		if cursor.LastArtifactRef == "" {
			res.Status, res.Reason = StatusSkipped, ReasonNoArtifact
			log.Info("no staged artifact")
			return res
		}
		res.Status, res.Reason = StatusSkipped, ReasonAlreadyLoaded
		res.Artifact, res.Cursor = cursor.LastArtifactRef, viewOf(cursor)
		log.Info("latest artifact already loaded", zap.String("artifact", cursor.LastArtifactRef))
		return res
	}

	applied := false
	for _, obj := range pending {
		if err := ctx.Err(); err != nil {
			return r.fail(log, res, err)
		}
		res.Artifact = obj.Key

		batch, err := r.Stager.Read(ctx, obj.Key)
		if err != nil {
			return r.fail(log, res, err)
		}
		if batch.Len() == 0 {
			if cursor, err = r.Checkpoints.Put(ctx, name, cursor.Advance(obj.Key, nil)); err != nil {
				return r.fail(log, res, err)
			}
			log.Info("artifact has no rows", zap.String("artifact", obj.Key))
			continue
		}

		if _, err := destination.EnsureTable(ctx, r.Destination, name, r.Catalog.DDL(name), batch.ColumnNames(), batch.Rows); err != nil {
			return r.fail(log, res, err)
		}
		out, err := r.delta.Apply(ctx, name, batch, cursor)
		if err != nil {
			return r.fail(log, res, err)
		}
		if cursor, err = r.Checkpoints.Put(ctx, name, out.Cursor); err != nil {
			return r.fail(log, res, fmt.Errorf("rows of %s applied but checkpoint not saved: %w", obj.Key, err))
		}
		applied = true
		res.Batches++
		res.Rows += out.Rows
		res.Mode = out.Mode
		if out.Watermark.Found() {
			res.Watermark = out.Watermark.Name()
		}
	}

	res.Cursor = viewOf(cursor)
	if !applied {
		res.Status, res.Reason = StatusSkipped, ReasonNoData
		return res
	}
	res.Status = StatusLoaded
	return res
}

func (r *LoadRunner) fail(log *zap.Logger, res Result, err error) Result {
	log.Error("load failed", zap.Error(err))
	out := failed(res.Entity, res.Kind, err)
	out.Artifact = res.Artifact
	return out
}
