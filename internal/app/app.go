// Package app assembles the sync engine from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.uber.org/zap"

	"github.com/nucleus/ucl-sync/internal/blob"
	"github.com/nucleus/ucl-sync/internal/config"
	"github.com/nucleus/ucl-sync/internal/destination"
	"github.com/nucleus/ucl-sync/internal/extract"
	"github.com/nucleus/ucl-sync/internal/orchestration"
	"github.com/nucleus/ucl-sync/internal/source"
	"github.com/nucleus/ucl-sync/internal/stage"
	"github.com/nucleus/ucl-sync/pkg/checkpoint"
	"github.com/nucleus/ucl-sync/pkg/entity"
)

// App holds the collaborators of one process. Source and destination
// connections are opened on first use.
type App struct {
	Config     *config.Config
	Catalog    *config.Catalog
	Classifier *entity.Classifier
	Landing    blob.Store
	Processed  blob.Store
	Logger     *zap.Logger

	codec stage.Codec
	src   source.Source
	dest  destination.Destination
}

// New opens the blob stores and reads the entity file named by cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	catalog, err := config.LoadCatalog(cfg.EntityFile)
	if err != nil {
		return nil, err
	}
	codec, err := stage.CodecFor(cfg.StageFormat)
	if err != nil {
		return nil, err
	}

	landing, err := blob.Open(ctx, cfg.BlobConfig(cfg.LandingBucket))
	if err != nil {
		return nil, fmt.Errorf("open landing bucket %s: %w", cfg.LandingBucket, err)
	}
	processed := landing
	if cfg.ProcessedBucket != cfg.LandingBucket {
		processed, err = blob.Open(ctx, cfg.BlobConfig(cfg.ProcessedBucket))
		if err != nil {
			return nil, fmt.Errorf("open processed bucket %s: %w", cfg.ProcessedBucket, err)
		}
	}
	log.Printf("[app] blob driver=%s landing=%s processed=%s format=%s",
		cfg.BlobDriver, cfg.LandingBucket, cfg.ProcessedBucket, codec.Format())

	return &App{
		Config:     cfg,
		Catalog:    catalog,
		Classifier: catalog.Classifier(),
		Landing:    landing,
		Processed:  processed,
		Logger:     logger,
		codec:      codec,
	}, nil
}

// Source returns the source connection, opening it on first use.
func (a *App) Source(ctx context.Context) (source.Source, error) {
	if a.src != nil {
		return a.src, nil
	}
	src, err := source.Open(ctx, a.Config.Source)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	log.Printf("[app] source driver=%s schema=%s", a.Config.Source.Driver, a.Config.Source.Schema)
	a.src = src
	return src, nil
}

// Destination returns the destination connection, opening it on first use.
func (a *App) Destination(ctx context.Context) (destination.Destination, error) {
	if a.dest != nil {
		return a.dest, nil
	}
	dest, err := destination.Open(ctx, a.Config.Destination)
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}
	log.Printf("[app] destination driver=%s", a.Config.Destination.Driver)
	a.dest = dest
	return dest, nil
}

// Extractor builds an extractor over the configured source.
func (a *App) Extractor(ctx context.Context) (*extract.Extractor, error) {
	src, err := a.Source(ctx)
	if err != nil {
		return nil, err
	}
	return extract.New(src,
		extract.WithPriority(a.Config.ExtractPriority()),
		extract.WithClassifier(a.Classifier),
		extract.WithRateLimit(a.Config.SourceQPS, 1),
		extract.WithLogger(a.Logger.Named("extract")),
	), nil
}

// ExtractRunner stages into the landing bucket.
func (a *App) ExtractRunner(ctx context.Context) (*orchestration.ExtractRunner, error) {
	x, err := a.Extractor(ctx)
	if err != nil {
		return nil, err
	}
	return &orchestration.ExtractRunner{
		Extractor:   x,
		Stager:      stage.NewStager(a.Landing, a.codec),
		Checkpoints: checkpoint.NewStore(a.Landing, a.Config.ExtractCheckpointPrefix, checkpoint.WithLogger(a.Logger.Named("checkpoint"))),
		Classifier:  a.Classifier,
		Catalog:     a.Catalog,
		SkipTables:  a.Config.SkipTables,
		Parallelism: a.Config.Parallelism,
		Bucket:      a.Config.LandingBucket,
		Logger:      a.Logger.Named("orchestration"),
	}, nil
}

// LoadRunner loads from the processed bucket.
func (a *App) LoadRunner(ctx context.Context) (*orchestration.LoadRunner, error) {
	dest, err := a.Destination(ctx)
	if err != nil {
		return nil, err
	}
	return &orchestration.LoadRunner{
		Stager:      stage.NewStager(a.Processed, a.codec),
		Checkpoints: checkpoint.NewStore(a.Processed, a.Config.LoadCheckpointPrefix, checkpoint.WithLogger(a.Logger.Named("checkpoint"))),
		Destination: dest,
		Classifier:  a.Classifier,
		Catalog:     a.Catalog,
		Priority:    a.Config.LoadPriority(),
		Parallelism: a.Config.Parallelism,
		Bucket:      a.Config.ProcessedBucket,
		Logger:      a.Logger.Named("orchestration"),
	}, nil
}

// Close releases the open connections.
func (a *App) Close() error {
	var errs []error
	if a.src != nil {
		errs = append(errs, a.src.Close())
	}
	if a.dest != nil {
		errs = append(errs, a.dest.Close())
	}
	return errors.Join(errs...)
}

// NewLogger builds the engine logger: development output when verbose,
// production JSON otherwise.
func NewLogger(verbose bool, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	if level != "" && !verbose {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = lvl
	}
	return cfg.Build()
}
