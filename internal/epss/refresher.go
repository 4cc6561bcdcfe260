// Package epss pulls the daily EPSS score table and wholesale-replaces the
// stored copy. The published feed is a gzip CSV with one leading metadata
// line, then a header of cve,epss,percentile.
package epss

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/vulncontext/vulncontext-cli/api/schemas"
)

// DefaultURL is the public daily feed.
const DefaultURL = "https://epss.empiricalsecurity.com/epss_scores-current.csv.gz"

// ErrNoHeader is returned when the feed ends before the CSV header.
var ErrNoHeader = errors.New("epss feed has no header row")

// scoreReplacer is the slice of the store the refresher needs.
type scoreReplacer interface {
	ReplaceEpssScores(ctx context.Context, scores []schemas.EpssScore) (int64, error)
}

// Refresher downloads and stores one day's EPSS table.
type Refresher struct {
	store  scoreReplacer
	client *http.Client
	url    string
	log    *zap.Logger
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithURL overrides the feed location.
func WithURL(url string) Option {
	return func(r *Refresher) { r.url = url }
}

// WithHTTPClient overrides the HTTP client, including its timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Refresher) { r.client = client }
}

func NewRefresher(store scoreReplacer, logger *zap.Logger, opts ...Option) *Refresher {
	r := &Refresher{
		store:  store,
		client: &http.Client{Timeout: 30 * time.Second},
		url:    DefaultURL,
		log:    logger.Named("epss"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh fetches the feed and replaces the stored table. The replace is
// atomic, so a failed download or parse leaves yesterday's scores intact.
func (r *Refresher) Refresh(ctx context.Context) (int64, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build epss request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch epss feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("epss feed returned status %d", resp.StatusCode)
	}

	scores, err := Parse(resp.Body)
	if err != nil {
		return 0, err
	}

	copied, err := r.store.ReplaceEpssScores(ctx, scores)
	if err != nil {
		return 0, err
	}

	r.log.Info("EPSS refresh complete.",
		zap.Int64("rows", copied),
		zap.Duration("elapsed", time.Since(start)))
	return copied, nil
}

// Parse decodes a gzip EPSS feed. Leading '#' metadata lines are skipped,
// rows with a malformed probability or percentile abort the parse.
func Parse(body io.Reader) ([]schemas.EpssScore, error) {
	gz, err := gzip.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()

	buffered := bufio.NewReader(gz)
	for {
		peeked, err := buffered.Peek(1)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoHeader, err)
		}
		if peeked[0] != '#' {
			break
		}
		if _, err := buffered.ReadString('\n'); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoHeader, err)
		}
	}

	reader := csv.NewReader(buffered)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoHeader, err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"cve", "epss", "percentile"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("epss feed is missing the %q column", required)
		}
	}

	var scores []schemas.EpssScore
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read epss feed line %d: %w", line, err)
		}
		if len(record) <= columns["cve"] || len(record) <= columns["epss"] || len(record) <= columns["percentile"] {
			continue
		}

		cve := strings.TrimSpace(record[columns["cve"]])
		if cve == "" {
			continue
		}
		probability, err := strconv.ParseFloat(record[columns["epss"]], 64)
		if err != nil {
			return nil, fmt.Errorf("epss feed line %d: bad probability: %w", line, err)
		}
		percentile, err := strconv.ParseFloat(record[columns["percentile"]], 64)
		if err != nil {
			return nil, fmt.Errorf("epss feed line %d: bad percentile: %w", line, err)
		}
		scores = append(scores, schemas.EpssScore{
			CVEID:       cve,
			Probability: probability,
			Percentile:  percentile,
		})
	}
	return scores, nil
}
