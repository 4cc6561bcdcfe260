package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vulncontext/vulncontext-cli/api/schemas"
	"github.com/vulncontext/vulncontext-cli/internal/kev"
	"github.com/vulncontext/vulncontext-cli/internal/scoring"
)

// fakeStore replays the reconcile callback over an in-memory finding set the
// way the real store walks rows inside its transaction.
type fakeStore struct {
	weights  schemas.WeightConfig
	findings []schemas.Finding
}

func (s *fakeStore) ReconcileFindings(_ context.Context, fn schemas.ReconcileFunc) (int64, error) {
	var updated int64
	for i, f := range s.findings {
		next, changed := fn(f, s.weights)
		if changed {
			s.findings[i] = next
			updated++
		}
	}
	return updated, nil
}

func strPtr(s string) *string { return &s }

func scored(f schemas.Finding, w schemas.WeightConfig) schemas.Finding {
	scoring.ApplyAssessment(&f, scoring.AssessFinding(f, w))
	return f
}

func TestReconcilerRun(t *testing.T) {
	ctx := context.Background()
	weights := scoring.DefaultWeights()
	dateAdded := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	catalog := kev.Catalog{
		"CVE-2024-1000": {
			CVEID:         "CVE-2024-1000",
			DateAdded:     &dateAdded,
			VendorProject: strPtr("Acme"),
			Product:       strPtr("Widget"),
		},
	}

	t.Run("marks newly listed findings and boosts their score", func(t *testing.T) {
		plain := scored(schemas.Finding{
			ID: 1, CVEID: strPtr("CVE-2024-1000"),
			CVSSScore: 8.0, EPSSScore: 0.5, AssetCriticality: 2, VulnAgeDays: 100,
		}, weights)
		require.False(t, plain.IsKEV)
		store := &fakeStore{weights: weights, findings: []schemas.Finding{plain}}

		result, err := NewReconciler(store, catalog, zap.NewNop()).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, Result{Marked: 1, Cleared: 0, Updated: 1}, result)

		got := store.findings[0]
		assert.True(t, got.IsKEV)
		require.NotNil(t, got.KEVVendorProject)
		assert.Equal(t, "Acme", *got.KEVVendorProject)
		require.NotNil(t, got.KEVDateAdded)
		assert.True(t, dateAdded.Equal(*got.KEVDateAdded))
		assert.Equal(t, schemas.BandCritical, got.RiskBand)
		assert.Greater(t, got.RiskScore, plain.RiskScore, "boost should raise the score")
		require.NotNil(t, got.SLAHours)
		assert.Equal(t, 72, *got.SLAHours)
	})

	t.Run("clears delisted findings and demotes their score", func(t *testing.T) {
		listed := schemas.Finding{
			ID: 2, CVEID: strPtr("CVE-2020-9999"),
			CVSSScore: 5.0, EPSSScore: 0.1, AssetCriticality: 2, VulnAgeDays: 30,
			IsKEV: true, KEVDateAdded: &dateAdded, KEVVendorProject: strPtr("Old"),
		}
		listed = scored(listed, weights)
		require.Equal(t, schemas.BandCritical, listed.RiskBand)
		store := &fakeStore{weights: weights, findings: []schemas.Finding{listed}}

		result, err := NewReconciler(store, catalog, zap.NewNop()).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, Result{Marked: 0, Cleared: 1, Updated: 1}, result)

		got := store.findings[0]
		assert.False(t, got.IsKEV)
		assert.Nil(t, got.KEVDateAdded)
		assert.Nil(t, got.KEVVendorProject)
		assert.NotEqual(t, schemas.BandCritical, got.RiskBand)
		assert.Less(t, got.RiskScore, listed.RiskScore)
		assert.Nil(t, got.SLAHours)
	})

	t.Run("leaves unrelated findings untouched", func(t *testing.T) {
		other := scored(schemas.Finding{
			ID: 3, CVEID: strPtr("CVE-2023-5555"),
			CVSSScore: 4.0, EPSSScore: 0.05, AssetCriticality: 1, VulnAgeDays: 10,
		}, weights)
		noCVE := scored(schemas.Finding{
			ID: 4, CVSSScore: 4.0, EPSSScore: 0.05, AssetCriticality: 1,
		}, weights)
		store := &fakeStore{weights: weights, findings: []schemas.Finding{other, noCVE}}

		result, err := NewReconciler(store, catalog, zap.NewNop()).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, Result{}, result)
		assert.Equal(t, other, store.findings[0])
		assert.Equal(t, noCVE, store.findings[1])
	})

	t.Run("refreshes stale metadata on already marked findings without counting a mark", func(t *testing.T) {
		stale := schemas.Finding{
			ID: 5, CVEID: strPtr("cve-2024-1000"),
			CVSSScore: 8.0, EPSSScore: 0.5, AssetCriticality: 2, VulnAgeDays: 100,
			IsKEV: true, KEVVendorProject: strPtr("Acme Corp"),
		}
		stale = scored(stale, weights)
		store := &fakeStore{weights: weights, findings: []schemas.Finding{stale}}

		result, err := NewReconciler(store, catalog, zap.NewNop()).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, Result{Marked: 0, Cleared: 0, Updated: 1}, result)
		require.NotNil(t, store.findings[0].KEVVendorProject)
		assert.Equal(t, "Acme", *store.findings[0].KEVVendorProject)
	})

	t.Run("is a no-op when metadata already matches", func(t *testing.T) {
		current := schemas.Finding{
			ID: 6, CVEID: strPtr("CVE-2024-1000"),
			CVSSScore: 8.0, EPSSScore: 0.5, AssetCriticality: 2, VulnAgeDays: 100,
			IsKEV: true, KEVDateAdded: &dateAdded,
			KEVVendorProject: strPtr("Acme"), KEVProduct: strPtr("Widget"),
		}
		current = scored(current, weights)
		store := &fakeStore{weights: weights, findings: []schemas.Finding{current}}

		result, err := NewReconciler(store, catalog, zap.NewNop()).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, Result{}, result)
	})
}
