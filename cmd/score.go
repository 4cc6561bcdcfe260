// File: cmd/score.go
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vulncontext/vulncontext-cli/api/schemas"
	"github.com/vulncontext/vulncontext-cli/internal/config"
	"github.com/vulncontext/vulncontext-cli/internal/ingest"
	"github.com/vulncontext/vulncontext-cli/internal/observability"
	"github.com/vulncontext/vulncontext-cli/internal/scoring"
)

// scoreFlags carries the raw finding attributes from the command line.
type scoreFlags struct {
	source      string
	findingID   string
	assetID     string
	hostname    string
	ipAddress   string
	cveID       string
	description string

	cvss        float64
	epss        float64
	exposed     bool
	criticality int
	ageDays     int
	auth        bool

	dryRun bool
}

func (f scoreFlags) finding() schemas.Finding {
	optional := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}
	finding := schemas.Finding{
		Source:           f.source,
		FindingID:        f.findingID,
		AssetID:          f.assetID,
		Hostname:         optional(f.hostname),
		IPAddress:        optional(f.ipAddress),
		CVEID:            optional(f.cveID),
		Description:      optional(f.description),
		CVSSScore:        f.cvss,
		EPSSScore:        f.epss,
		InternetExposed:  f.exposed,
		AssetCriticality: f.criticality,
		VulnAgeDays:      f.ageDays,
		AuthRequired:     f.auth,
		Disposition:      schemas.DispositionNone,
	}
	finding.FindingKey = schemas.DeriveFindingKey(finding.Source, finding.AssetID, finding.FindingID, finding.CVEID)
	return finding
}

// newScoreCmd creates the `score` command: score one finding under the
// active weight config and persist it.
func newScoreCmd(provider storeProvider) *cobra.Command {
	var flags scoreFlags

	scoreCmd := &cobra.Command{
		Use:   "score",
		Short: "Score a single finding and store it",
		Long: `Normalizes the finding's raw attributes, applies the active weight
config, KEV override and EPSS floors, and appends the scored finding to the
store. With --dry-run the assessment is printed without persisting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if _, err := ingest.ValidateSourceName(flags.source); err != nil {
				return err
			}
			return runScore(ctx, observability.GetLogger(), cfg, flags, provider, cmd.OutOrStdout())
		},
	}

	scoreCmd.Flags().StringVar(&flags.source, "source", "manual", "Scanner or feed the finding came from")
	scoreCmd.Flags().StringVar(&flags.findingID, "finding-id", "", "Scanner-assigned finding identifier (required)")
	scoreCmd.Flags().StringVar(&flags.assetID, "asset-id", "", "Asset the vulnerability was observed on (required)")
	scoreCmd.Flags().StringVar(&flags.hostname, "hostname", "", "Asset hostname")
	scoreCmd.Flags().StringVar(&flags.ipAddress, "ip", "", "Asset IP address")
	scoreCmd.Flags().StringVar(&flags.cveID, "cve", "", "CVE identifier")
	scoreCmd.Flags().StringVar(&flags.description, "description", "", "Finding description")
	scoreCmd.Flags().Float64Var(&flags.cvss, "cvss", 0, "CVSS base score, 0 to 10")
	scoreCmd.Flags().Float64Var(&flags.epss, "epss", 0, "EPSS probability, 0 to 1")
	scoreCmd.Flags().BoolVar(&flags.exposed, "internet-exposed", false, "Asset is reachable from the internet")
	scoreCmd.Flags().IntVar(&flags.criticality, "criticality", 1, "Asset criticality, 1 to 4")
	scoreCmd.Flags().IntVar(&flags.ageDays, "age-days", 0, "Days since the vulnerability was published")
	scoreCmd.Flags().BoolVar(&flags.auth, "auth-required", false, "Exploitation requires authentication")
	scoreCmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print the assessment without persisting")
	_ = scoreCmd.MarkFlagRequired("finding-id")
	_ = scoreCmd.MarkFlagRequired("asset-id")

	return scoreCmd
}

// runScore contains the core, testable logic for the score command.
func runScore(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	flags scoreFlags,
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

	weights, err := storeService.ActiveWeights(ctx)
	if err != nil {
		return err
	}

	finding := flags.finding()
	scoring.ApplyAssessment(&finding, scoring.AssessFinding(finding, weights))

	if !flags.dryRun {
		if err := storeService.InsertFinding(ctx, &finding); err != nil {
			return err
		}
		logger.Info("Finding scored and stored.",
			zap.String("finding_key", finding.FindingKey),
			zap.Float64("risk_score", finding.RiskScore),
			zap.String("risk_band", finding.RiskBand.String()))
	}

	return printJSON(out, finding)
}
