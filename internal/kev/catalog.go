// Package kev loads the external known-exploited-vulnerabilities catalog
// into an identifier-keyed lookup table. Each load returns a fresh catalog;
// there is no incremental merge with a prior one.
package kev

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// ErrNoHeader reports a catalog file without a usable header row.
var ErrNoHeader = errors.New("kev catalog is empty or missing a header row")

// Catalog feeds are produced by several tools that disagree on column
// naming, so the loader accepts every variant seen in the wild.
var (
	idColumns        = []string{"cveID", "cveId", "CVE", "cve"}
	dateAddedColumns = []string{"dateAdded", "date_added"}
	dueDateColumns   = []string{"dueDate", "due_date"}

	// Dates come in either ISO or US form; anything else is recorded as
	// absent rather than failing the row.
	dateLayouts = []string{"2006-01-02", "01/02/2006"}
)

// Record is one immutable catalog entry, keyed by its uppercased CVE id.
type Record struct {
	CVEID             string
	DateAdded         *time.Time
	DueDate           *time.Time
	VendorProject     *string
	Product           *string
	VulnerabilityName *string
	ShortDescription  *string
	RequiredAction    *string
	RansomwareUse     *string
}

// Catalog maps uppercased CVE identifiers to their records.
type Catalog map[string]Record

// Lookup resolves a CVE identifier case-insensitively. A nil id or a miss
// returns nil.
func (c Catalog) Lookup(cveID *string) *Record {
	if len(c) == 0 || cveID == nil {
		return nil
	}
	rec, ok := c[strings.ToUpper(strings.TrimSpace(*cveID))]
	if !ok {
		return nil
	}
	return &rec
}

// Option configures a Loader.
type Option func(*Loader)

// WithAppFs swaps the filesystem, used by tests to load from memory.
func WithAppFs(fs afero.Fs) Option {
	return func(l *Loader) { l.appFs = fs }
}

// Loader parses KEV catalog CSV files.
type Loader struct {
	appFs afero.Fs
}

// NewLoader builds a Loader backed by the OS filesystem unless overridden.
func NewLoader(options ...Option) *Loader {
	l := &Loader{appFs: afero.NewOsFs()}
	for _, option := range options {
		option(l)
	}
	return l
}

// Load reads and parses a catalog file. A missing file surfaces as a
// not-found error (errors.Is(err, fs.ErrNotExist) holds); a file without a
// header row fails with ErrNoHeader. Rows without a usable CVE identifier
// are skipped, since third-party feeds are large and occasionally ragged.
func (l *Loader) Load(path string) (Catalog, error) {
	f, err := l.appFs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open kev catalog: %w", err)
	}
	defer f.Close()

	catalog, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse kev catalog %s: %w", path, err)
	}
	return catalog, nil
}

// Parse reads catalog rows from r into a fresh Catalog.
func Parse(r io.Reader) (Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoHeader
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		// Tolerate a UTF-8 BOM on the first header cell.
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}

	catalog := make(Catalog)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		cveID := strings.ToUpper(strings.TrimSpace(firstPresent(row, columns, idColumns...)))
		if cveID == "" {
			continue
		}

		catalog[cveID] = Record{
			CVEID:             cveID,
			DateAdded:         parseDate(firstPresent(row, columns, dateAddedColumns...)),
			DueDate:           parseDate(firstPresent(row, columns, dueDateColumns...)),
			VendorProject:     optionalField(row, columns, "vendorProject"),
			Product:           optionalField(row, columns, "product"),
			VulnerabilityName: optionalField(row, columns, "vulnerabilityName"),
			ShortDescription:  optionalField(row, columns, "shortDescription"),
			RequiredAction:    optionalField(row, columns, "requiredAction"),
			RansomwareUse:     optionalField(row, columns, "knownRansomwareCampaignUse"),
		}
	}
	return catalog, nil
}

// firstPresent returns the first non-empty value among the named columns.
func firstPresent(row []string, columns map[string]int, names ...string) string {
	for _, name := range names {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			continue
		}
		if value := strings.TrimSpace(row[idx]); value != "" {
			return value
		}
	}
	return ""
}

func optionalField(row []string, columns map[string]int, name string) *string {
	value := firstPresent(row, columns, name)
	if value == "" {
		return nil
	}
	return &value
}

// parseDate accepts the two known catalog date layouts; anything else means
// the date is absent, not that the row is broken.
func parseDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
