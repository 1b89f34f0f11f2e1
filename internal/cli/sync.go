package cli

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/nucleus/ucl-sync/internal/app"
	"github.com/nucleus/ucl-sync/internal/orchestration"
)

// SyncOptions holds flags for the extract and load commands.
type SyncOptions struct {
	*RootOptions
	Entity string
}

// NewExtractCommand creates the extract command.
func NewExtractCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Stage changed source rows into the landing bucket",
		Long: `Extract every source table (or the one named by --entity) and stage
the rows changed since the last checkpoint. Dimensions and tables without a
watermark column are extracted in full.

Example:
  ucl-sync extract
  ucl-sync extract --entity fact_payment`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts, func(ctx context.Context, engine *app.App) (*orchestration.Report, error) {
				runner, err := engine.ExtractRunner(ctx)
				if err != nil {
					return nil, err
				}
				return runner.Run(ctx, opts.Entity)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Entity, "entity", "", "extract only this entity")
	return cmd
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Apply staged batches to the destination",
		Long: `Load staged artifacts of every dimension and fact (or the one named by
--entity). Dimensions are replaced by their newest artifact; facts apply every
artifact staged since their load checkpoint, oldest first, keeping only rows
newer than the checkpoint.

Example:
  ucl-sync load
  ucl-sync load --entity dim_customer --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts, func(ctx context.Context, engine *app.App) (*orchestration.Report, error) {
				runner, err := engine.LoadRunner(ctx)
				if err != nil {
					return nil, err
				}
				return runner.Run(ctx, opts.Entity)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Entity, "entity", "", "load only this entity")
	return cmd
}

type runFunc func(ctx context.Context, engine *app.App) (*orchestration.Report, error)

// runSync prints the report even when a single-entity run fails.
func runSync(cmd *cobra.Command, opts *SyncOptions, run runFunc) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	engine, logger, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer engine.Close()

	report, runErr := run(ctx, engine)
	if report != nil {
		counts := report.Counts()
		log.Printf("[%s] run=%s entities=%d failed=%d", report.Operation, report.RunID, len(report.Results), counts[orchestration.StatusError])
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	}
	return runErr
}
