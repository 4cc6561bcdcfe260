package schemas

import "context"

// RescoreFunc recomputes a finding's risk assessment from its stored raw
// attributes and a weight vector. It must be a pure function: the store calls
// it for every row inside the rescore transaction.
type RescoreFunc func(Finding, WeightConfig) RiskAssessment

// ReconcileFunc maps a stored finding to its post-reconciliation state. The
// boolean reports whether anything changed; unchanged findings must not be
// written.
type ReconcileFunc func(Finding, WeightConfig) (Finding, bool)

// BandCounts holds per-band finding totals.
type BandCounts struct {
	Critical int64 `json:"critical"`
	High     int64 `json:"high"`
	Medium   int64 `json:"medium"`
	Low      int64 `json:"low"`
}

// ScoresSummary is the dataset-wide rollup served by the report command.
type ScoresSummary struct {
	TotalFindings int64      `json:"total_findings"`
	Bands         BandCounts `json:"risk_bands"`
}

// SourceSummary is the per-source rollup.
type SourceSummary struct {
	Source        string     `json:"source"`
	TotalFindings int64      `json:"total_findings"`
	Bands         BandCounts `json:"risk_bands"`
}

// EventLog is the append-only audit surface. There is deliberately no update
// or delete capability anywhere in the interface; events are written once and
// only ever read after that.
type EventLog interface {
	Append(ctx context.Context, ev FindingEvent) error
	EventsForFinding(ctx context.Context, findingKey string) ([]FindingEvent, error)
}

// Store is the persistence contract consumed by the CLI commands. Bulk
// mutations (UpdateWeights, ReconcileFindings, ReplaceEpssScores) are
// all-or-nothing: each runs in a single transaction and concurrent runs are
// serialized on the weight-config row.
type Store interface {
	EventLog

	// EnsureSchema creates missing tables and indexes.
	EnsureSchema(ctx context.Context) error

	// InsertFinding persists one scored finding and fills its row id.
	InsertFinding(ctx context.Context, f *Finding) error
	// InsertFindings bulk-inserts scored findings; none are written on error.
	InsertFindings(ctx context.Context, findings []Finding) (int64, error)
	FindingByKey(ctx context.Context, findingKey string) (Finding, error)

	// ActiveWeights returns the single weight config, creating it with the
	// documented defaults when none exists.
	ActiveWeights(ctx context.Context) (WeightConfig, error)
	// UpdateWeights replaces the weight config and rescores every stored
	// finding with it, atomically. Returns the number of rescored rows.
	UpdateWeights(ctx context.Context, w WeightConfig, rescore RescoreFunc) (int64, error)

	// ReconcileFindings applies fn to every finding under the active weight
	// config and writes back only the rows fn reports as changed. Returns the
	// number of updated rows.
	ReconcileFindings(ctx context.Context, fn ReconcileFunc) (int64, error)

	// SetDisposition writes a finding's updated disposition fields and
	// appends the matching audit event in one transaction.
	SetDisposition(ctx context.Context, f Finding, ev FindingEvent) error

	// ReplaceEpssScores wholesale-replaces the EPSS probability table.
	ReplaceEpssScores(ctx context.Context, scores []EpssScore) (int64, error)

	Summary(ctx context.Context) (ScoresSummary, error)
	TopFindings(ctx context.Context, limit int) ([]Finding, error)
	SourceSummaries(ctx context.Context) ([]SourceSummary, error)
	RenameSource(ctx context.Context, oldName, newName string) (int64, error)
	// DeleteSource is the only deletion path for findings; rows leave the
	// store in bulk or not at all.
	DeleteSource(ctx context.Context, name string) (int64, error)
}
