// File: cmd/report.go
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/vulncontext/vulncontext-cli/internal/config"
)

// newReportCmd groups the read-only reporting subcommands.
func newReportCmd(provider storeProvider) *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the scored findings",
	}
	reportCmd.AddCommand(newReportSummaryCmd(provider), newReportTopCmd(provider))
	return reportCmd
}

func newReportSummaryCmd(provider storeProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print the total finding count and per-band breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReportSummary(ctx, cfg, provider, cmd.OutOrStdout())
		},
	}
}

// runReportSummary contains the core, testable logic for `report summary`.
func runReportSummary(ctx context.Context, cfg config.Interface, provider storeProvider, out io.Writer) error {
	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	summary, err := storeService.Summary(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, summary)
}

func newReportTopCmd(provider storeProvider) *cobra.Command {
	var limit int

	topCmd := &cobra.Command{
		Use:   "top",
		Short: "Print the highest-risk findings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("limit") {
				limit = cfg.Report().TopN
			}
			return runReportTop(ctx, cfg, limit, provider, cmd.OutOrStdout())
		},
	}

	topCmd.Flags().IntVar(&limit, "limit", 0, "How many findings to print (default from report.top_n)")

	return topCmd
}

// runReportTop contains the core, testable logic for `report top`.
func runReportTop(ctx context.Context, cfg config.Interface, limit int, provider storeProvider, out io.Writer) error {
	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	findings, err := storeService.TopFindings(ctx, limit)
	if err != nil {
		return err
	}
	return printJSON(out, findings)
}
