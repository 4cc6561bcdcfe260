// File: cmd/helpers_test.go
package cmd

import (
	"context"
	"fmt"

	"github.com/vulncontext/vulncontext-cli/api/schemas"
	"github.com/vulncontext/vulncontext-cli/internal/config"
	"github.com/vulncontext/vulncontext-cli/internal/scoring"
)

// newTestConfig creates a default configuration struct for use in tests,
// providing a consistent baseline without parsing a file.
func newTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LoggerCfg.Level = "fatal"
	cfg.LoggerCfg.LogFile = ""
	return cfg
}

// memStore is an in-memory schemas.Store for command-level tests.
type memStore struct {
	findings []schemas.Finding
	weights  *schemas.WeightConfig
	events   []schemas.FindingEvent
	epss     []schemas.EpssScore
	nextID   int64
}

func newMemStore() *memStore {
	return &memStore{nextID: 1}
}

func (s *memStore) EnsureSchema(context.Context) error { return nil }

func (s *memStore) InsertFinding(_ context.Context, f *schemas.Finding) error {
	f.ID = s.nextID
	s.nextID++
	s.findings = append(s.findings, *f)
	return nil
}

func (s *memStore) InsertFindings(ctx context.Context, findings []schemas.Finding) (int64, error) {
	for i := range findings {
		if err := s.InsertFinding(ctx, &findings[i]); err != nil {
			return 0, err
		}
	}
	return int64(len(findings)), nil
}

func (s *memStore) FindingByKey(_ context.Context, findingKey string) (schemas.Finding, error) {
	for i := len(s.findings) - 1; i >= 0; i-- {
		if s.findings[i].FindingKey == findingKey {
			return s.findings[i], nil
		}
	}
	return schemas.Finding{}, fmt.Errorf("finding %q not found", findingKey)
}

func (s *memStore) ActiveWeights(context.Context) (schemas.WeightConfig, error) {
	if s.weights == nil {
		defaults := scoring.DefaultWeights()
		s.weights = &defaults
	}
	return *s.weights, nil
}

func (s *memStore) UpdateWeights(ctx context.Context, w schemas.WeightConfig, rescore schemas.RescoreFunc) (int64, error) {
	s.weights = &w
	for i, f := range s.findings {
		a := rescore(f, w)
		s.findings[i].RiskScore = a.RiskScore
		s.findings[i].RiskBand = a.RiskBand
		s.findings[i].SLAHours = a.SLAHours
	}
	return int64(len(s.findings)), nil
}

func (s *memStore) ReconcileFindings(ctx context.Context, fn schemas.ReconcileFunc) (int64, error) {
	weights, err := s.ActiveWeights(ctx)
	if err != nil {
		return 0, err
	}
	var updated int64
	for i, f := range s.findings {
		next, changed := fn(f, weights)
		if changed {
			s.findings[i] = next
			updated++
		}
	}
	return updated, nil
}

func (s *memStore) SetDisposition(ctx context.Context, f schemas.Finding, ev schemas.FindingEvent) error {
	for i := range s.findings {
		if s.findings[i].ID == f.ID {
			s.findings[i] = f
			return s.Append(ctx, ev)
		}
	}
	return fmt.Errorf("finding %d not found", f.ID)
}

func (s *memStore) Append(_ context.Context, ev schemas.FindingEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *memStore) EventsForFinding(_ context.Context, findingKey string) ([]schemas.FindingEvent, error) {
	var events []schemas.FindingEvent
	for _, ev := range s.events {
		if ev.FindingKey == findingKey {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (s *memStore) ReplaceEpssScores(_ context.Context, scores []schemas.EpssScore) (int64, error) {
	s.epss = scores
	return int64(len(scores)), nil
}

func (s *memStore) Summary(context.Context) (schemas.ScoresSummary, error) {
	var summary schemas.ScoresSummary
	for _, f := range s.findings {
		summary.TotalFindings++
		switch f.RiskBand {
		case schemas.BandCritical:
			summary.Bands.Critical++
		case schemas.BandHigh:
			summary.Bands.High++
		case schemas.BandMedium:
			summary.Bands.Medium++
		case schemas.BandLow:
			summary.Bands.Low++
		}
	}
	return summary, nil
}

func (s *memStore) TopFindings(_ context.Context, limit int) ([]schemas.Finding, error) {
	sorted := make([]schemas.Finding, len(s.findings))
	copy(sorted, s.findings)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].RiskScore > sorted[i].RiskScore {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	if limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

func (s *memStore) SourceSummaries(context.Context) ([]schemas.SourceSummary, error) {
	bySource := map[string]*schemas.SourceSummary{}
	for _, f := range s.findings {
		summary, ok := bySource[f.Source]
		if !ok {
			summary = &schemas.SourceSummary{Source: f.Source}
			bySource[f.Source] = summary
		}
		summary.TotalFindings++
	}
	var summaries []schemas.SourceSummary
	for _, summary := range bySource {
		summaries = append(summaries, *summary)
	}
	return summaries, nil
}

func (s *memStore) RenameSource(_ context.Context, oldName, newName string) (int64, error) {
	var updated int64
	for i := range s.findings {
		if s.findings[i].Source == oldName {
			s.findings[i].Source = newName
			updated++
		}
	}
	if updated == 0 {
		return 0, fmt.Errorf("source %q not found", oldName)
	}
	return updated, nil
}

func (s *memStore) DeleteSource(_ context.Context, name string) (int64, error) {
	var kept []schemas.Finding
	var deleted int64
	for _, f := range s.findings {
		if f.Source == name {
			deleted++
			continue
		}
		kept = append(kept, f)
	}
	if deleted == 0 {
		return 0, fmt.Errorf("source %q not found", name)
	}
	s.findings = kept
	return deleted, nil
}

// mockStoreProvider hands out a shared memStore without touching a database.
type mockStoreProvider struct {
	store *memStore
	err   error
}

func (p *mockStoreProvider) Create(context.Context, config.Interface) (schemas.Store, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.store, func() {}, nil
}
