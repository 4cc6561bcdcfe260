// Package store is the PostgreSQL persistence layer. Every bulk mutation
// runs inside a single transaction and locks the weight-config row first, so
// concurrent rescores and re-enrichments are serialized and readers never
// observe scores paired with a weight vector that was not committed.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/vulncontext/vulncontext-cli/api/schemas"
	"github.com/vulncontext/vulncontext-cli/internal/scoring"
)

// ErrNotFound reports a lookup that matched no rows.
var ErrNotFound = errors.New("not found")

// DBPool abstracts pgxpool.Pool so the store can be exercised with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store implements schemas.Store on top of PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS findings (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL DEFAULT 'unknown',
		finding_id TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		finding_key TEXT NOT NULL,
		hostname TEXT,
		ip_address TEXT,
		cve_id TEXT,
		description TEXT,
		cvss_score DOUBLE PRECISION NOT NULL,
		epss_score DOUBLE PRECISION NOT NULL,
		internet_exposed BOOLEAN NOT NULL DEFAULT FALSE,
		asset_criticality INTEGER NOT NULL,
		vuln_age_days INTEGER NOT NULL DEFAULT 0,
		auth_required BOOLEAN NOT NULL DEFAULT FALSE,
		is_kev BOOLEAN NOT NULL DEFAULT FALSE,
		kev_date_added TIMESTAMPTZ,
		kev_due_date TIMESTAMPTZ,
		kev_vendor_project TEXT,
		kev_product TEXT,
		kev_vulnerability_name TEXT,
		kev_short_description TEXT,
		kev_required_action TEXT,
		kev_ransomware_use TEXT,
		risk_score DOUBLE PRECISION NOT NULL,
		risk_band TEXT NOT NULL,
		sla_hours INTEGER,
		disposition TEXT NOT NULL DEFAULT 'none',
		disposition_state TEXT,
		disposition_reason TEXT,
		disposition_comment TEXT,
		disposition_expires_at TIMESTAMPTZ,
		disposition_created_at TIMESTAMPTZ,
		disposition_created_by TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS ix_findings_finding_key ON findings (finding_key)`,
	`CREATE INDEX IF NOT EXISTS ix_findings_source ON findings (source)`,
	`CREATE INDEX IF NOT EXISTS ix_findings_is_kev ON findings (is_kev)`,
	`CREATE INDEX IF NOT EXISTS ix_findings_risk_band ON findings (risk_band)`,
	`CREATE TABLE IF NOT EXISTS risk_weight_config (
		id BIGSERIAL PRIMARY KEY,
		cvss_weight DOUBLE PRECISION NOT NULL,
		epss_weight DOUBLE PRECISION NOT NULL,
		internet_exposed_weight DOUBLE PRECISION NOT NULL,
		asset_criticality_weight DOUBLE PRECISION NOT NULL,
		vuln_age_weight DOUBLE PRECISION NOT NULL,
		auth_required_weight DOUBLE PRECISION NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS finding_events (
		id UUID PRIMARY KEY,
		finding_key TEXT NOT NULL,
		event_type TEXT NOT NULL,
		old_value JSONB NOT NULL,
		new_value JSONB NOT NULL,
		actor TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_finding_events_finding_key ON finding_events (finding_key)`,
	`CREATE TABLE IF NOT EXISTS epss_scores (
		cve_id TEXT PRIMARY KEY,
		probability DOUBLE PRECISION NOT NULL,
		percentile DOUBLE PRECISION NOT NULL
	)`,
}

// EnsureSchema creates missing tables and indexes. Statements are idempotent
// so startup can always run it.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// findingColumns is the canonical column list, shared by every select and
// insert so scan order can never drift.
const findingColumns = `source, finding_id, asset_id, finding_key, hostname, ip_address,
	cve_id, description, cvss_score, epss_score, internet_exposed, asset_criticality,
	vuln_age_days, auth_required, is_kev, kev_date_added, kev_due_date, kev_vendor_project,
	kev_product, kev_vulnerability_name, kev_short_description, kev_required_action,
	kev_ransomware_use, risk_score, risk_band, sla_hours, disposition, disposition_state,
	disposition_reason, disposition_comment, disposition_expires_at, disposition_created_at,
	disposition_created_by, created_at`

var findingColumnNames = []string{
	"source", "finding_id", "asset_id", "finding_key", "hostname", "ip_address",
	"cve_id", "description", "cvss_score", "epss_score", "internet_exposed", "asset_criticality",
	"vuln_age_days", "auth_required", "is_kev", "kev_date_added", "kev_due_date", "kev_vendor_project",
	"kev_product", "kev_vulnerability_name", "kev_short_description", "kev_required_action",
	"kev_ransomware_use", "risk_score", "risk_band", "sla_hours", "disposition", "disposition_state",
	"disposition_reason", "disposition_comment", "disposition_expires_at", "disposition_created_at",
	"disposition_created_by", "created_at",
}

func findingValues(f schemas.Finding) []any {
	return []any{
		f.Source, f.FindingID, f.AssetID, f.FindingKey, f.Hostname, f.IPAddress,
		f.CVEID, f.Description, f.CVSSScore, f.EPSSScore, f.InternetExposed, f.AssetCriticality,
		f.VulnAgeDays, f.AuthRequired, f.IsKEV, f.KEVDateAdded, f.KEVDueDate, f.KEVVendorProject,
		f.KEVProduct, f.KEVVulnerabilityName, f.KEVShortDescription, f.KEVRequiredAction,
		f.KEVRansomwareUse, f.RiskScore, f.RiskBand.String(), f.SLAHours, string(f.Disposition), f.DispositionState,
		f.DispositionReason, f.DispositionComment, f.DispositionExpiresAt, f.DispositionCreatedAt,
		f.DispositionCreatedBy, f.CreatedAt,
	}
}

// scannable covers pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanFinding(row scannable) (schemas.Finding, error) {
	var f schemas.Finding
	var band, dispo string
	err := row.Scan(
		&f.ID,
		&f.Source, &f.FindingID, &f.AssetID, &f.FindingKey, &f.Hostname, &f.IPAddress,
		&f.CVEID, &f.Description, &f.CVSSScore, &f.EPSSScore, &f.InternetExposed, &f.AssetCriticality,
		&f.VulnAgeDays, &f.AuthRequired, &f.IsKEV, &f.KEVDateAdded, &f.KEVDueDate, &f.KEVVendorProject,
		&f.KEVProduct, &f.KEVVulnerabilityName, &f.KEVShortDescription, &f.KEVRequiredAction,
		&f.KEVRansomwareUse, &f.RiskScore, &band, &f.SLAHours, &dispo, &f.DispositionState,
		&f.DispositionReason, &f.DispositionComment, &f.DispositionExpiresAt, &f.DispositionCreatedAt,
		&f.DispositionCreatedBy, &f.CreatedAt,
	)
	if err != nil {
		return schemas.Finding{}, err
	}
	if f.RiskBand, err = schemas.ParseRiskBand(band); err != nil {
		return schemas.Finding{}, fmt.Errorf("row %d: %w", f.ID, err)
	}
	f.Disposition = schemas.Disposition(dispo)
	return f, nil
}

// rollback discards a transaction, tolerating the commit-already-happened
// case so the deferred call stays quiet on the success path.
func (s *Store) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.log.Error("Failed to rollback transaction", zap.Error(err))
	}
}

// InsertFinding persists a single scored finding and fills its row id.
func (s *Store) InsertFinding(ctx context.Context, f *schemas.Finding) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	sql := `INSERT INTO findings (` + findingColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34)
		RETURNING id`
	if err := s.pool.QueryRow(ctx, sql, findingValues(*f)...).Scan(&f.ID); err != nil {
		return fmt.Errorf("failed to insert finding: %w", err)
	}
	return nil
}

// InsertFindings bulk-inserts scored findings inside one transaction; on any
// failure nothing is written.
func (s *Store) InsertFindings(ctx context.Context, findings []schemas.Finding) (int64, error) {
	if len(findings) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	now := time.Now().UTC()
	rows := make([][]any, len(findings))
	for i, f := range findings {
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		rows[i] = findingValues(f)
	}

	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"findings"}, findingColumnNames, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(copied) != len(findings) {
		return 0, fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), copied)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Inserted findings.", zap.Int64("count", copied))
	return copied, nil
}

// FindingByKey returns the most recent finding for a key.
func (s *Store) FindingByKey(ctx context.Context, findingKey string) (schemas.Finding, error) {
	sql := `SELECT id, ` + findingColumns + ` FROM findings WHERE finding_key = $1 ORDER BY id DESC LIMIT 1`
	f, err := scanFinding(s.pool.QueryRow(ctx, sql, findingKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schemas.Finding{}, fmt.Errorf("finding %q: %w", findingKey, ErrNotFound)
		}
		return schemas.Finding{}, fmt.Errorf("failed to query finding: %w", err)
	}
	return f, nil
}

const weightColumns = `cvss_weight, epss_weight, internet_exposed_weight, asset_criticality_weight, vuln_age_weight, auth_required_weight`

func scanWeights(row scannable, id *int64) (schemas.WeightConfig, error) {
	var w schemas.WeightConfig
	err := row.Scan(id, &w.CVSSWeight, &w.EPSSWeight, &w.ExposureWeight, &w.CriticalityWeight, &w.AgeWeight, &w.AuthWeight)
	return w, err
}

// ActiveWeights returns the single weight config, lazily creating it with
// the documented defaults when none exists.
func (s *Store) ActiveWeights(ctx context.Context) (schemas.WeightConfig, error) {
	var id int64
	w, err := scanWeights(s.pool.QueryRow(ctx, `SELECT id, `+weightColumns+` FROM risk_weight_config ORDER BY id ASC LIMIT 1`), &id)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return schemas.WeightConfig{}, fmt.Errorf("failed to query weight config: %w", err)
	}

	defaults := scoring.DefaultWeights()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO risk_weight_config (`+weightColumns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		defaults.CVSSWeight, defaults.EPSSWeight, defaults.ExposureWeight,
		defaults.CriticalityWeight, defaults.AgeWeight, defaults.AuthWeight)
	if err != nil {
		return schemas.WeightConfig{}, fmt.Errorf("failed to create default weight config: %w", err)
	}
	s.log.Info("Created default weight config.")
	return defaults, nil
}

// lockActiveWeights reads the config row under FOR UPDATE, creating the
// default row first when the table is empty. Holding this lock for the span
// of a transaction is what serializes concurrent bulk operations.
func (s *Store) lockActiveWeights(ctx context.Context, tx pgx.Tx) (int64, schemas.WeightConfig, error) {
	var id int64
	w, err := scanWeights(tx.QueryRow(ctx, `SELECT id, `+weightColumns+` FROM risk_weight_config ORDER BY id ASC LIMIT 1 FOR UPDATE`), &id)
	if err == nil {
		return id, w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, schemas.WeightConfig{}, fmt.Errorf("failed to lock weight config: %w", err)
	}

	defaults := scoring.DefaultWeights()
	err = tx.QueryRow(ctx,
		`INSERT INTO risk_weight_config (`+weightColumns+`) VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		defaults.CVSSWeight, defaults.EPSSWeight, defaults.ExposureWeight,
		defaults.CriticalityWeight, defaults.AgeWeight, defaults.AuthWeight).Scan(&id)
	if err != nil {
		return 0, schemas.WeightConfig{}, fmt.Errorf("failed to create default weight config: %w", err)
	}
	return id, defaults, nil
}

func (s *Store) selectAllFindings(ctx context.Context, tx pgx.Tx) ([]schemas.Finding, error) {
	rows, err := tx.Query(ctx, `SELECT id, `+findingColumns+` FROM findings ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []schemas.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// sendBatch executes a queued batch and surfaces the first per-statement
// error.
func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return errors.New("failed to send batch: batch results is nil")
	}
	defer func() { _ = br.Close() }()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch statement %d failed: %w", i, err)
		}
	}
	return br.Close()
}

// UpdateWeights replaces the weight config and rescores every stored finding
// against it, in one transaction. The config row is locked for the duration,
// so a concurrent rescore or re-enrichment waits rather than interleaving.
func (s *Store) UpdateWeights(ctx context.Context, w schemas.WeightConfig, rescore schemas.RescoreFunc) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	configID, _, err := s.lockActiveWeights(ctx, tx)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE risk_weight_config SET cvss_weight = $1, epss_weight = $2, internet_exposed_weight = $3,
			asset_criticality_weight = $4, vuln_age_weight = $5, auth_required_weight = $6 WHERE id = $7`,
		w.CVSSWeight, w.EPSSWeight, w.ExposureWeight, w.CriticalityWeight, w.AgeWeight, w.AuthWeight, configID)
	if err != nil {
		return 0, fmt.Errorf("failed to update weight config: %w", err)
	}

	findings, err := s.selectAllFindings(ctx, tx)
	if err != nil {
		return 0, err
	}

	batch := &pgx.Batch{}
	for _, f := range findings {
		a := rescore(f, w)
		batch.Queue(`UPDATE findings SET risk_score = $1, risk_band = $2, sla_hours = $3 WHERE id = $4`,
			a.RiskScore, a.RiskBand.String(), a.SLAHours, f.ID)
	}
	if err := sendBatch(ctx, tx, batch); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Weight config replaced, findings rescored.", zap.Int("count", len(findings)))
	return int64(len(findings)), nil
}

// ReconcileFindings applies fn to every finding under the active weight
// config and writes back only the rows fn reports as changed. The whole pass
// commits or rolls back as one unit.
func (s *Store) ReconcileFindings(ctx context.Context, fn schemas.ReconcileFunc) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	_, weights, err := s.lockActiveWeights(ctx, tx)
	if err != nil {
		return 0, err
	}

	findings, err := s.selectAllFindings(ctx, tx)
	if err != nil {
		return 0, err
	}

	var updated int64
	batch := &pgx.Batch{}
	for _, f := range findings {
		next, changed := fn(f, weights)
		if !changed {
			continue
		}
		batch.Queue(`UPDATE findings SET is_kev = $1, kev_date_added = $2, kev_due_date = $3,
				kev_vendor_project = $4, kev_product = $5, kev_vulnerability_name = $6,
				kev_short_description = $7, kev_required_action = $8, kev_ransomware_use = $9,
				risk_score = $10, risk_band = $11, sla_hours = $12 WHERE id = $13`,
			next.IsKEV, next.KEVDateAdded, next.KEVDueDate,
			next.KEVVendorProject, next.KEVProduct, next.KEVVulnerabilityName,
			next.KEVShortDescription, next.KEVRequiredAction, next.KEVRansomwareUse,
			next.RiskScore, next.RiskBand.String(), next.SLAHours, next.ID)
		updated++
	}
	if err := sendBatch(ctx, tx, batch); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Reconciled findings.", zap.Int64("updated", updated), zap.Int("total", len(findings)))
	return updated, nil
}

// SetDisposition writes the finding's disposition fields and appends the
// audit event atomically.
func (s *Store) SetDisposition(ctx context.Context, f schemas.Finding, ev schemas.FindingEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	tag, err := tx.Exec(ctx,
		`UPDATE findings SET disposition = $1, disposition_state = $2, disposition_reason = $3,
			disposition_comment = $4, disposition_expires_at = $5, disposition_created_at = $6,
			disposition_created_by = $7 WHERE id = $8`,
		string(f.Disposition), f.DispositionState, f.DispositionReason,
		f.DispositionComment, f.DispositionExpiresAt, f.DispositionCreatedAt,
		f.DispositionCreatedBy, f.ID)
	if err != nil {
		return fmt.Errorf("failed to update disposition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finding %d: %w", f.ID, ErrNotFound)
	}

	if err := appendEvent(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const insertEventSQL = `INSERT INTO finding_events (id, finding_key, event_type, old_value, new_value, actor, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func appendEvent(ctx context.Context, tx pgx.Tx, ev schemas.FindingEvent) error {
	_, err := tx.Exec(ctx, insertEventSQL,
		ev.ID, ev.FindingKey, string(ev.EventType), []byte(ev.OldValue), []byte(ev.NewValue), ev.Actor, ev.Source, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append finding event: %w", err)
	}
	return nil
}

// Append writes one audit event. The event log has no update or delete
// counterpart anywhere, by contract.
func (s *Store) Append(ctx context.Context, ev schemas.FindingEvent) error {
	_, err := s.pool.Exec(ctx, insertEventSQL,
		ev.ID, ev.FindingKey, string(ev.EventType), []byte(ev.OldValue), []byte(ev.NewValue), ev.Actor, ev.Source, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append finding event: %w", err)
	}
	return nil
}

// EventsForFinding returns a finding's audit trail, oldest first.
func (s *Store) EventsForFinding(ctx context.Context, findingKey string) ([]schemas.FindingEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, finding_key, event_type, old_value, new_value, actor, source, created_at
		 FROM finding_events WHERE finding_key = $1 ORDER BY created_at ASC, id ASC`, findingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query finding events: %w", err)
	}
	defer rows.Close()

	var events []schemas.FindingEvent
	for rows.Next() {
		var ev schemas.FindingEvent
		var eventType string
		var oldValue, newValue []byte
		if err := rows.Scan(&ev.ID, &ev.FindingKey, &eventType, &oldValue, &newValue, &ev.Actor, &ev.Source, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan finding event: %w", err)
		}
		ev.EventType = schemas.EventType(eventType)
		ev.OldValue = oldValue
		ev.NewValue = newValue
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ReplaceEpssScores wholesale-replaces the EPSS table: old rows are deleted
// and the new set copied in, all in one transaction.
func (s *Store) ReplaceEpssScores(ctx context.Context, scores []schemas.EpssScore) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if _, err := tx.Exec(ctx, `DELETE FROM epss_scores`); err != nil {
		return 0, fmt.Errorf("failed to clear epss scores: %w", err)
	}

	rows := make([][]any, len(scores))
	for i, sc := range scores {
		rows[i] = []any{sc.CVEID, sc.Probability, sc.Percentile}
	}
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"epss_scores"}, []string{"cve_id", "probability", "percentile"}, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("failed to copy epss scores: %w", err)
	}
	if int(copied) != len(scores) {
		return 0, fmt.Errorf("mismatch in copied epss count: expected %d, got %d", len(scores), copied)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("EPSS table replaced.", zap.Int64("rows", copied))
	return copied, nil
}

func bandCountsFromRows(rows pgx.Rows, fill func(band string, count int64)) error {
	defer rows.Close()
	for rows.Next() {
		var band string
		var count int64
		if err := rows.Scan(&band, &count); err != nil {
			return err
		}
		fill(band, count)
	}
	return rows.Err()
}

func addBandCount(bands *schemas.BandCounts, band string, count int64) {
	switch band {
	case "Critical":
		bands.Critical += count
	case "High":
		bands.High += count
	case "Medium":
		bands.Medium += count
	case "Low":
		bands.Low += count
	}
}

// Summary returns the dataset-wide total and per-band counts.
func (s *Store) Summary(ctx context.Context) (schemas.ScoresSummary, error) {
	rows, err := s.pool.Query(ctx, `SELECT risk_band, COUNT(*) FROM findings GROUP BY risk_band`)
	if err != nil {
		return schemas.ScoresSummary{}, fmt.Errorf("failed to query summary: %w", err)
	}

	var summary schemas.ScoresSummary
	err = bandCountsFromRows(rows, func(band string, count int64) {
		summary.TotalFindings += count
		addBandCount(&summary.Bands, band, count)
	})
	if err != nil {
		return schemas.ScoresSummary{}, fmt.Errorf("failed to scan summary: %w", err)
	}
	return summary, nil
}

// TopFindings returns the highest-risk findings, newest row winning ties.
func (s *Store) TopFindings(ctx context.Context, limit int) ([]schemas.Finding, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, `+findingColumns+` FROM findings ORDER BY risk_score DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top findings: %w", err)
	}
	defer rows.Close()

	var findings []schemas.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// SourceSummaries returns per-source rollups, largest source first.
func (s *Store) SourceSummaries(ctx context.Context) ([]schemas.SourceSummary, error) {
	rows, err := s.pool.Query(ctx, `SELECT source, risk_band, COUNT(*) FROM findings GROUP BY source, risk_band`)
	if err != nil {
		return nil, fmt.Errorf("failed to query source summaries: %w", err)
	}
	defer rows.Close()

	bySource := make(map[string]*schemas.SourceSummary)
	for rows.Next() {
		var source, band string
		var count int64
		if err := rows.Scan(&source, &band, &count); err != nil {
			return nil, fmt.Errorf("failed to scan source summary: %w", err)
		}
		summary, ok := bySource[source]
		if !ok {
			summary = &schemas.SourceSummary{Source: source}
			bySource[source] = summary
		}
		summary.TotalFindings += count
		addBandCount(&summary.Bands, band, count)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summaries := make([]schemas.SourceSummary, 0, len(bySource))
	for _, summary := range bySource {
		summaries = append(summaries, *summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].TotalFindings != summaries[j].TotalFindings {
			return summaries[i].TotalFindings > summaries[j].TotalFindings
		}
		return summaries[i].Source < summaries[j].Source
	})
	return summaries, nil
}

// RenameSource retags every finding of one source.
func (s *Store) RenameSource(ctx context.Context, oldName, newName string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE findings SET source = $1 WHERE source = $2`, newName, oldName)
	if err != nil {
		return 0, fmt.Errorf("failed to rename source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("source %q: %w", oldName, ErrNotFound)
	}
	return tag.RowsAffected(), nil
}

// DeleteSource removes every finding of one source. This is the only
// deletion path for findings: rows leave the store in bulk or not at all.
func (s *Store) DeleteSource(ctx context.Context, name string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM findings WHERE source = $1`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to delete source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("source %q: %w", name, ErrNotFound)
	}
	s.log.Info("Deleted source findings.", zap.String("source", name), zap.Int64("rows", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}
