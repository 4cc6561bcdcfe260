// File: cmd/disposition.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vulncontext/vulncontext-cli/api/schemas"
	"github.com/vulncontext/vulncontext-cli/internal/config"
	"github.com/vulncontext/vulncontext-cli/internal/disposition"
	"github.com/vulncontext/vulncontext-cli/internal/observability"
)

// newDispositionCmd groups the triage subcommands.
func newDispositionCmd(provider storeProvider) *cobra.Command {
	dispositionCmd := &cobra.Command{
		Use:   "disposition",
		Short: "Triage findings and inspect their audit trail",
	}
	dispositionCmd.AddCommand(
		newDispositionSetCmd(provider),
		newDispositionClearCmd(provider),
		newDispositionHistoryCmd(provider),
	)
	return dispositionCmd
}

func newDispositionSetCmd(provider storeProvider) *cobra.Command {
	var (
		findingKey string
		status     string
		reason     string
		comment    string
		expires    string
		actor      string
	)

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Set a finding's disposition",
		Long: `Moves a finding into a triage state (ignored, risk_accepted,
false_positive or not_applicable) and appends one audit event carrying the
before and after snapshots. The stored risk score is not changed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			req := disposition.SetRequest{
				Disposition: schemas.Disposition(status),
				Actor:       actor,
			}
			if reason != "" {
				req.Reason = &reason
			}
			if comment != "" {
				req.Comment = &comment
			}
			if expires != "" {
				t, err := time.Parse(time.RFC3339, expires)
				if err != nil {
					return fmt.Errorf("bad --expires value %q, want RFC 3339: %w", expires, err)
				}
				req.ExpiresAt = &t
			}

			return runDispositionSet(ctx, cfg, findingKey, req, provider, cmd.OutOrStdout())
		},
	}

	setCmd.Flags().StringVar(&findingKey, "finding", "", "Finding key to triage (required)")
	setCmd.Flags().StringVar(&status, "status", "", "Disposition: ignored, risk_accepted, false_positive or not_applicable (required)")
	setCmd.Flags().StringVar(&reason, "reason", "", "Why the disposition was chosen")
	setCmd.Flags().StringVar(&comment, "comment", "", "Free-form triage note")
	setCmd.Flags().StringVar(&expires, "expires", "", "RFC 3339 time after which the disposition should be revisited")
	setCmd.Flags().StringVar(&actor, "actor", "", "Who is triaging (required)")
	_ = setCmd.MarkFlagRequired("finding")
	_ = setCmd.MarkFlagRequired("status")
	_ = setCmd.MarkFlagRequired("actor")

	return setCmd
}

// runDispositionSet contains the core, testable logic for `disposition set`.
func runDispositionSet(
	ctx context.Context,
	cfg config.Interface,
	findingKey string,
	req disposition.SetRequest,
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

	finding, err := storeService.FindingByKey(ctx, findingKey)
	if err != nil {
		return err
	}

	updated, event, err := disposition.Set(finding, req, time.Now())
	if err != nil {
		return err
	}
	if err := storeService.SetDisposition(ctx, updated, event); err != nil {
		return err
	}

	observability.GetLogger().Info("Disposition set.",
		zap.String("finding_key", findingKey),
		zap.String("disposition", string(updated.Disposition)),
		zap.String("actor", req.Actor))
	return printJSON(out, updated)
}

func newDispositionClearCmd(provider storeProvider) *cobra.Command {
	var (
		findingKey string
		actor      string
	)

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Return a finding to the untriaged state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runDispositionClear(ctx, cfg, findingKey, actor, provider, cmd.OutOrStdout())
		},
	}

	clearCmd.Flags().StringVar(&findingKey, "finding", "", "Finding key to clear (required)")
	clearCmd.Flags().StringVar(&actor, "actor", "", "Who is clearing the disposition (required)")
	_ = clearCmd.MarkFlagRequired("finding")
	_ = clearCmd.MarkFlagRequired("actor")

	return clearCmd
}

// runDispositionClear contains the core, testable logic for `disposition clear`.
func runDispositionClear(
	ctx context.Context,
	cfg config.Interface,
	findingKey, actor string,
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

	finding, err := storeService.FindingByKey(ctx, findingKey)
	if err != nil {
		return err
	}

	updated, event, err := disposition.Clear(finding, actor, time.Now())
	if err != nil {
		return err
	}
	if err := storeService.SetDisposition(ctx, updated, event); err != nil {
		return err
	}

	observability.GetLogger().Info("Disposition cleared.",
		zap.String("finding_key", findingKey),
		zap.String("actor", actor))
	return printJSON(out, updated)
}

func newDispositionHistoryCmd(provider storeProvider) *cobra.Command {
	var findingKey string

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Print a finding's audit trail, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runDispositionHistory(ctx, cfg, findingKey, provider, cmd.OutOrStdout())
		},
	}

	historyCmd.Flags().StringVar(&findingKey, "finding", "", "Finding key to inspect (required)")
	_ = historyCmd.MarkFlagRequired("finding")

	return historyCmd
}

// runDispositionHistory contains the core, testable logic for `disposition history`.
func runDispositionHistory(
	ctx context.Context,
	cfg config.Interface,
	findingKey string,
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

	events, err := storeService.EventsForFinding(ctx, findingKey)
	if err != nil {
		return err
	}
	return printJSON(out, events)
}
