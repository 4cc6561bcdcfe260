// File: cmd/epss.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/vulncontext/vulncontext-cli/internal/config"
	"github.com/vulncontext/vulncontext-cli/internal/epss"
	"github.com/vulncontext/vulncontext-cli/internal/observability"
)

// newEpssCmd groups the EPSS feed subcommands.
func newEpssCmd(provider storeProvider) *cobra.Command {
	epssCmd := &cobra.Command{
		Use:   "epss",
		Short: "Manage the stored EPSS probability table",
	}
	epssCmd.AddCommand(newEpssRefreshCmd(provider))
	return epssCmd
}

func newEpssRefreshCmd(provider storeProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the daily EPSS feed and replace the stored table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runEpssRefresh(ctx, cfg, provider, cmd.OutOrStdout())
		},
	}
}

// runEpssRefresh contains the core, testable logic for `epss refresh`.
func runEpssRefresh(ctx context.Context, cfg config.Interface, provider storeProvider, out io.Writer) error {
	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	opts := []epss.Option{
		epss.WithHTTPClient(&http.Client{Timeout: cfg.Epss().Timeout}),
	}
	if cfg.Epss().URL != "" {
		opts = append(opts, epss.WithURL(cfg.Epss().URL))
	}

	refresher := epss.NewRefresher(storeService, observability.GetLogger(), opts...)
	rows, err := refresher.Refresh(ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "EPSS table replaced with %d rows.\n", rows)
	return err
}
