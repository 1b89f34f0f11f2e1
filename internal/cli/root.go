// Package cli implements the ucl-sync command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nucleus/ucl-sync/internal/app"
	"github.com/nucleus/ucl-sync/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	EntityFile string
	Format     string
}

// NewRootCommand creates the root command for the ucl-sync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ucl-sync",
		Short: "Incremental extract and load between relational stores",
		Long: `ucl-sync copies tables from a relational source into a relational
destination through a staging bucket. Extraction stages only the rows changed
since the previous run; loading applies staged batches in dimension-before-fact
order. Progress is tracked with per-entity checkpoints in the bucket.

Configuration is read from UCL_SYNC_* environment variables.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "development logging at debug level")
	cmd.PersistentFlags().StringVar(&opts.EntityFile, "entity-file", "", "entity metadata YAML (overrides UCL_SYNC_ENTITY_FILE)")
	cmd.PersistentFlags().StringVar(&opts.Format, "stage-format", "", "staged artifact format: jsonl.gz or parquet (overrides UCL_SYNC_STAGE_FORMAT)")

	cmd.AddCommand(NewExtractCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewPreviewCommand(opts))

	return cmd
}

// open builds the engine from environment configuration and flag overrides.
func (o *RootOptions) open(ctx context.Context) (*app.App, *zap.Logger, error) {
	cfg := config.Load()
	if o.EntityFile != "" {
		cfg.EntityFile = o.EntityFile
	}
	if o.Format != "" {
		cfg.StageFormat = o.Format
	}
	logger, err := app.NewLogger(o.Verbose, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	engine, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return engine, logger, nil
}

func writeJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
