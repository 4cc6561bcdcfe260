// File: cmd/weights.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vulncontext/vulncontext-cli/api/schemas"
	"github.com/vulncontext/vulncontext-cli/internal/config"
	"github.com/vulncontext/vulncontext-cli/internal/observability"
	"github.com/vulncontext/vulncontext-cli/internal/scoring"
)

// newWeightsCmd groups the weight-config subcommands.
func newWeightsCmd(provider storeProvider) *cobra.Command {
	weightsCmd := &cobra.Command{
		Use:   "weights",
		Short: "Inspect or replace the risk weight config",
	}
	weightsCmd.AddCommand(newWeightsShowCmd(provider), newWeightsSetCmd(provider))
	return weightsCmd
}

func newWeightsShowCmd(provider storeProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the active weight config",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runWeightsShow(ctx, cfg, provider, cmd.OutOrStdout())
		},
	}
}

func runWeightsShow(ctx context.Context, cfg config.Interface, provider storeProvider, out io.Writer) error {
	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	weights, err := storeService.ActiveWeights(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, weights)
}

func newWeightsSetCmd(provider storeProvider) *cobra.Command {
	var weights schemas.WeightConfig

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the weight config and rescore every stored finding",
		Long: `Validates the new weight vector, replaces the active config and rescores
all stored findings against it in a single transaction. Concurrent rescores
are serialized on the config row; readers never see a half-applied config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runWeightsSet(ctx, observability.GetLogger(), cfg, weights, provider, cmd.OutOrStdout())
		},
	}

	defaults := scoring.DefaultWeights()
	setCmd.Flags().Float64Var(&weights.CVSSWeight, "cvss", defaults.CVSSWeight, "Weight of the normalized CVSS score")
	setCmd.Flags().Float64Var(&weights.EPSSWeight, "epss", defaults.EPSSWeight, "Weight of the EPSS probability")
	setCmd.Flags().Float64Var(&weights.ExposureWeight, "internet-exposed", defaults.ExposureWeight, "Weight of internet exposure")
	setCmd.Flags().Float64Var(&weights.CriticalityWeight, "criticality", defaults.CriticalityWeight, "Weight of asset criticality")
	setCmd.Flags().Float64Var(&weights.AgeWeight, "age", defaults.AgeWeight, "Weight of vulnerability age")
	setCmd.Flags().Float64Var(&weights.AuthWeight, "auth-required", defaults.AuthWeight, "Weight of the authentication requirement, zero or negative")

	return setCmd
}

// runWeightsSet contains the core, testable logic for `weights set`.
func runWeightsSet(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	weights schemas.WeightConfig,
	provider storeProvider,
	out io.Writer,
) error {
	if err := scoring.ValidateWeights(weights); err != nil {
		return err
	}

	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	rescored, err := storeService.UpdateWeights(ctx, weights, scoring.AssessFinding)
	if err != nil {
		return err
	}
	logger.Info("Weight config replaced.", zap.Int64("rescored", rescored))

	_, err = fmt.Fprintf(out, "Weight config replaced; %d findings rescored.\n", rescored)
	return err
}
