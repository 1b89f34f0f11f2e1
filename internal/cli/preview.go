package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// PreviewOptions holds flags for the preview command.
type PreviewOptions struct {
	*RootOptions
	Limit int
}

// NewPreviewCommand creates the preview command.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PreviewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "preview <entity>",
		Short: "Print the first rows of a source table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd, opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "maximum rows to print")
	return cmd
}

func runPreview(cmd *cobra.Command, opts *PreviewOptions, name string) error {
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

	x, err := engine.Extractor(ctx)
	if err != nil {
		return err
	}
	batch, err := x.Preview(ctx, name, opts.Limit)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), map[string]any{
		"entity":    name,
		"columns":   batch.Columns,
		"watermark": batch.Watermark.Name(),
		"rows":      batch.Rows,
	})
}
