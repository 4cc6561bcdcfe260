// Package ingest loads scanner-exported CSV findings, scores each row under
// the active weight config and appends the batch to the store in one shot.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/vulncontext/vulncontext-cli/api/schemas"
	"github.com/vulncontext/vulncontext-cli/internal/scoring"
)

// DefaultMaxBytes caps uploads at 10 MiB, matching the scanner exports this
// was built for.
const DefaultMaxBytes int64 = 10 << 20

const maxSourceNameLen = 80

var (
	ErrNotCSV        = errors.New("only .csv files are supported")
	ErrEmptyFile     = errors.New("file is empty")
	ErrTooLarge      = errors.New("file exceeds the size limit")
	ErrNoDataRows    = errors.New("file has no data rows")
	ErrSourceName    = errors.New("source name must be 1 to 80 characters")
	ErrMissingColumn = errors.New("missing required column")
)

// requiredColumns are the fields every scanner row must carry; the scoring
// inputs cannot be defaulted.
var requiredColumns = []string{
	"finding_id", "asset_id", "cvss_score", "epss_score",
	"internet_exposed", "asset_criticality", "vuln_age_days", "auth_required",
}

var criticalityLabels = map[string]int{
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

// findingInserter is the slice of the store the ingester needs.
type findingInserter interface {
	ActiveWeights(ctx context.Context) (schemas.WeightConfig, error)
	InsertFindings(ctx context.Context, findings []schemas.Finding) (int64, error)
}

// Ingester reads scanner CSV files from the filesystem and persists them.
type Ingester struct {
	store    findingInserter
	appFs    afero.Fs
	maxBytes int64
	log      *zap.Logger
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithAppFs substitutes the filesystem, used mainly for testing.
func WithAppFs(fs afero.Fs) Option {
	return func(i *Ingester) { i.appFs = fs }
}

// WithMaxBytes overrides the file size cap.
func WithMaxBytes(n int64) Option {
	return func(i *Ingester) { i.maxBytes = n }
}

func NewIngester(store findingInserter, logger *zap.Logger, opts ...Option) *Ingester {
	ing := &Ingester{
		store:    store,
		appFs:    afero.NewOsFs(),
		maxBytes: DefaultMaxBytes,
		log:      logger.Named("ingest"),
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// ValidateSourceName trims and bounds-checks a scanner source label.
func ValidateSourceName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || len(trimmed) > maxSourceNameLen {
		return "", ErrSourceName
	}
	return trimmed, nil
}

// IngestFile parses, scores and appends one CSV file. Rows never land
// partially: a bad row fails the whole file before anything is inserted.
func (i *Ingester) IngestFile(ctx context.Context, path, source string) (int64, error) {
	sourceName, err := ValidateSourceName(source)
	if err != nil {
		return 0, err
	}
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return 0, fmt.Errorf("%q: %w", path, ErrNotCSV)
	}

	info, err := i.appFs.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %q: %w", path, err)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%q: %w", path, ErrEmptyFile)
	}
	if info.Size() > i.maxBytes {
		return 0, fmt.Errorf("%q is %d bytes: %w", path, info.Size(), ErrTooLarge)
	}

	file, err := i.appFs.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	weights, err := i.store.ActiveWeights(ctx)
	if err != nil {
		return 0, err
	}

	findings, err := Parse(io.LimitReader(file, i.maxBytes+1), sourceName, weights)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %q: %w", path, err)
	}

	inserted, err := i.store.InsertFindings(ctx, findings)
	if err != nil {
		return 0, err
	}
	i.log.Info("Ingested findings.",
		zap.String("path", path),
		zap.String("source", sourceName),
		zap.Int64("inserted", inserted))
	return inserted, nil
}

// Parse decodes scanner CSV rows into scored findings. Criticality accepts
// the scanner's labels or the numeric 1..4 scale directly; boolean cells
// accept 1/true/yes, anything else is false.
func Parse(r io.Reader, source string, weights schemas.WeightConfig) ([]schemas.Finding, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: no header row", ErrNoDataRows)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}
	columns := make(map[string]int, len(header))
	for idx, name := range header {
		columns[strings.TrimSpace(name)] = idx
	}
	for _, required := range requiredColumns {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, required)
		}
	}

	now := time.Now().UTC()
	var findings []schemas.Finding
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}

		f, err := parseRow(record, columns, source)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		f.CreatedAt = now
		scoring.ApplyAssessment(&f, scoring.AssessFinding(f, weights))
		findings = append(findings, f)
	}
	if len(findings) == 0 {
		return nil, ErrNoDataRows
	}
	return findings, nil
}

func parseRow(record []string, columns map[string]int, source string) (schemas.Finding, error) {
	cell := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}
	optional := func(name string) *string {
		if v := cell(name); v != "" {
			return &v
		}
		return nil
	}

	f := schemas.Finding{
		Source:      source,
		FindingID:   cell("finding_id"),
		AssetID:     cell("asset_id"),
		Hostname:    optional("hostname"),
		IPAddress:   optional("ip_address"),
		CVEID:       optional("cve_id"),
		Description: optional("description"),
		Disposition: schemas.DispositionNone,
	}
	if f.FindingID == "" {
		return schemas.Finding{}, errors.New("finding_id is empty")
	}
	if f.AssetID == "" {
		return schemas.Finding{}, errors.New("asset_id is empty")
	}

	var err error
	if f.CVSSScore, err = strconv.ParseFloat(cell("cvss_score"), 64); err != nil {
		return schemas.Finding{}, fmt.Errorf("bad cvss_score: %w", err)
	}
	if f.EPSSScore, err = strconv.ParseFloat(cell("epss_score"), 64); err != nil {
		return schemas.Finding{}, fmt.Errorf("bad epss_score: %w", err)
	}
	if f.VulnAgeDays, err = strconv.Atoi(cell("vuln_age_days")); err != nil {
		return schemas.Finding{}, fmt.Errorf("bad vuln_age_days: %w", err)
	}
	if f.AssetCriticality, err = parseCriticality(cell("asset_criticality")); err != nil {
		return schemas.Finding{}, err
	}
	f.InternetExposed = parseBool(cell("internet_exposed"))
	f.AuthRequired = parseBool(cell("auth_required"))

	f.FindingKey = schemas.DeriveFindingKey(f.Source, f.AssetID, f.FindingID, f.CVEID)
	return f, nil
}

func parseCriticality(value string) (int, error) {
	if n, ok := criticalityLabels[strings.ToLower(value)]; ok {
		return n, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("unknown asset_criticality value %q", value)
	}
	return n, nil
}

func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
