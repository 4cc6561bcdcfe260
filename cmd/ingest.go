// File: cmd/ingest.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vulncontext/vulncontext-cli/internal/config"
	"github.com/vulncontext/vulncontext-cli/internal/ingest"
	"github.com/vulncontext/vulncontext-cli/internal/observability"
)

// newIngestCmd creates the `ingest` command: bulk-load a scanner CSV export.
func newIngestCmd(provider storeProvider) *cobra.Command {
	var source string

	ingestCmd := &cobra.Command{
		Use:   "ingest <file.csv>",
		Short: "Score and store findings from a scanner CSV export",
		Long: `Parses a scanner-exported CSV, scores every row under the active weight
config and appends the batch to the store. The file either loads completely
or not at all.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runIngest(ctx, observability.GetLogger(), cfg, args[0], source, provider, cmd.OutOrStdout())
		},
	}

	ingestCmd.Flags().StringVar(&source, "source", "", "Scanner or feed name for the ingested findings (required)")
	_ = ingestCmd.MarkFlagRequired("source")

	return ingestCmd
}

// runIngest contains the core, testable logic for the ingest command.
func runIngest(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	path, source string,
	provider storeProvider,
	out io.Writer,
) error {
	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	ingester := ingest.NewIngester(storeService, logger, ingest.WithMaxBytes(cfg.Ingest().MaxBytes))
	inserted, err := ingester.IngestFile(ctx, path, source)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "Inserted %d findings from %s (source %q).\n", inserted, path, source)
	return err
}
