// File: cmd/sources.go
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

// newSourcesCmd groups the per-source dataset subcommands.
func newSourcesCmd(provider storeProvider) *cobra.Command {
	sourcesCmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect, rename or delete findings by source",
	}
	sourcesCmd.AddCommand(
		newSourcesListCmd(provider),
		newSourcesRenameCmd(provider),
		newSourcesDeleteCmd(provider),
	)
	return sourcesCmd
}

func newSourcesListCmd(provider storeProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print per-source rollups, largest source first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runSourcesList(ctx, cfg, provider, cmd.OutOrStdout())
		},
	}
}

// runSourcesList contains the core, testable logic for `sources list`.
func runSourcesList(ctx context.Context, cfg config.Interface, provider storeProvider, out io.Writer) error {
	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	summaries, err := storeService.SourceSummaries(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, summaries)
}

func newSourcesRenameCmd(provider storeProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Retag every finding of one source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runSourcesRename(ctx, cfg, args[0], args[1], provider, cmd.OutOrStdout())
		},
	}
}

// runSourcesRename contains the core, testable logic for `sources rename`.
func runSourcesRename(
	ctx context.Context,
	cfg config.Interface,
	oldName, newName string,
	provider storeProvider,
	out io.Writer,
) error {
	oldSource, err := ingest.ValidateSourceName(oldName)
	if err != nil {
		return err
	}
	newSource, err := ingest.ValidateSourceName(newName)
	if err != nil {
		return err
	}

	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	updated, err := storeService.RenameSource(ctx, oldSource, newSource)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "Renamed source %q to %q on %d findings.\n", oldSource, newSource, updated)
	return err
}

func newSourcesDeleteCmd(provider storeProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove every finding of one source",
		Long: `Deletes all findings carrying the given source tag. This is the only way
findings leave the store; individual rows cannot be deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runSourcesDelete(ctx, cfg, args[0], provider, cmd.OutOrStdout())
		},
	}
}

// runSourcesDelete contains the core, testable logic for `sources delete`.
func runSourcesDelete(
	ctx context.Context,
	cfg config.Interface,
	name string,
	provider storeProvider,
	out io.Writer,
) error {
	source, err := ingest.ValidateSourceName(name)
	if err != nil {
		return err
	}

	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	deleted, err := storeService.DeleteSource(ctx, source)
	if err != nil {
		return err
	}
	observability.GetLogger().Info("Source deleted.", zap.String("source", source), zap.Int64("findings", deleted))

	_, err = fmt.Fprintf(out, "Deleted %d findings from source %q.\n", deleted, source)
	return err
}
