// File: cmd/kev.go
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/vulncontext/vulncontext-cli/internal/config"
	"github.com/vulncontext/vulncontext-cli/internal/enrich"
	"github.com/vulncontext/vulncontext-cli/internal/kev"
	"github.com/vulncontext/vulncontext-cli/internal/observability"
)

// newKevCmd groups the KEV catalog subcommands.
func newKevCmd(provider storeProvider) *cobra.Command {
	kevCmd := &cobra.Command{
		Use:   "kev",
		Short: "Reconcile findings against a KEV catalog",
	}
	kevCmd.AddCommand(newKevReconcileCmd(provider))
	return kevCmd
}

func newKevReconcileCmd(provider storeProvider) *cobra.Command {
	var catalogPath string

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Apply a KEV catalog CSV to every stored finding",
		Long: `Loads a KEV catalog export and reconciles the store against it: findings
whose CVE is newly listed are marked and boosted, delisted ones are cleared
and demoted, and every touched finding is rescored under the active weight
config. The pass commits as one transaction.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runKevReconcile(ctx, cfg, catalogPath, provider, cmd.OutOrStdout())
		},
	}

	reconcileCmd.Flags().StringVar(&catalogPath, "catalog", "", "Path to the KEV catalog CSV (required)")
	_ = reconcileCmd.MarkFlagRequired("catalog")

	return reconcileCmd
}

// runKevReconcile contains the core, testable logic for `kev reconcile`.
func runKevReconcile(
	ctx context.Context,
	cfg config.Interface,
	catalogPath string,
	provider storeProvider,
	out io.Writer,
) error {
	logger := observability.GetLogger()

	catalog, err := kev.NewLoader().Load(catalogPath)
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

	result, err := enrich.NewReconciler(storeService, catalog, logger).Run(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, result)
}
