// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vulncontext/vulncontext-cli/api/schemas"
	"github.com/vulncontext/vulncontext-cli/internal/disposition"
	"github.com/vulncontext/vulncontext-cli/internal/scoring"
)

func seededFinding(t *testing.T, store *memStore, source, findingID, assetID string, cve string, cvss, epssScore float64) schemas.Finding {
	t.Helper()
	var cveID *string
	if cve != "" {
		cveID = &cve
	}
	f := schemas.Finding{
		Source:           source,
		FindingID:        findingID,
		AssetID:          assetID,
		CVEID:            cveID,
		CVSSScore:        cvss,
		EPSSScore:        epssScore,
		AssetCriticality: 2,
		VulnAgeDays:      30,
	}
	f.FindingKey = schemas.DeriveFindingKey(source, assetID, findingID, cveID)
	scoring.ApplyAssessment(&f, scoring.AssessFinding(f, scoring.DefaultWeights()))
	require.NoError(t, store.InsertFinding(context.Background(), &f))
	return f
}

func TestRunScore(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()

	t.Run("should score and persist a finding", func(t *testing.T) {
		store := newMemStore()
		provider := &mockStoreProvider{store: store}
		var out bytes.Buffer

		flags := scoreFlags{
			source:      "manual",
			findingID:   "F-100",
			assetID:     "srv-09",
			cveID:       "CVE-2024-1000",
			cvss:        9.8,
			epss:        0.97,
			exposed:     true,
			criticality: 4,
			ageDays:     200,
		}
		require.NoError(t, runScore(ctx, zap.NewNop(), cfg, flags, provider, &out))

		require.Len(t, store.findings, 1)
		got := store.findings[0]
		assert.Equal(t, schemas.BandCritical, got.RiskBand)
		assert.Greater(t, got.RiskScore, 80.0)
		assert.NotEmpty(t, got.FindingKey)
		assert.Equal(t, schemas.DispositionNone, got.Disposition)
		assert.Contains(t, out.String(), "risk_band")
		assert.Contains(t, out.String(), "Critical")
	})

	t.Run("dry run should not persist", func(t *testing.T) {
		store := newMemStore()
		provider := &mockStoreProvider{store: store}
		var out bytes.Buffer

		flags := scoreFlags{
			source: "manual", findingID: "F-101", assetID: "srv-09",
			cvss: 5.0, epss: 0.1, criticality: 2, dryRun: true,
		}
		require.NoError(t, runScore(ctx, zap.NewNop(), cfg, flags, provider, &out))
		assert.Empty(t, store.findings)
		assert.Contains(t, out.String(), "risk_score")
	})
}

func TestRunIngest(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()

	csvBody := "finding_id,asset_id,cve_id,cvss_score,epss_score,internet_exposed,asset_criticality,vuln_age_days,auth_required\n" +
		"F-1,a-1,CVE-2024-1,9.0,0.5,true,high,60,false\n" +
		"F-2,a-2,,3.0,0.01,false,low,10,true\n"

	t.Run("should load a csv file end to end", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "findings.csv")
		require.NoError(t, os.WriteFile(path, []byte(csvBody), 0o644))

		store := newMemStore()
		var out bytes.Buffer
		err := runIngest(ctx, zap.NewNop(), cfg, path, "qualys", &mockStoreProvider{store: store}, &out)
		require.NoError(t, err)

		require.Len(t, store.findings, 2)
		assert.Equal(t, "qualys", store.findings[0].Source)
		assert.NotZero(t, store.findings[0].RiskScore)
		assert.Contains(t, out.String(), "Inserted 2 findings")
	})

	t.Run("should surface parse failures", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "bad.csv")
		require.NoError(t, os.WriteFile(path, []byte("finding_id,asset_id\nF-1,a-1\n"), 0o644))

		store := newMemStore()
		err := runIngest(ctx, zap.NewNop(), cfg, path, "qualys", &mockStoreProvider{store: store}, &bytes.Buffer{})
		require.Error(t, err)
		assert.Empty(t, store.findings)
	})
}

func TestRunWeightsSet(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()

	t.Run("should reject an invalid weight vector before touching the store", func(t *testing.T) {
		bad := schemas.WeightConfig{CVSSWeight: 0.9, EPSSWeight: 0.9, AuthWeight: -0.1}
		err := runWeightsSet(ctx, zap.NewNop(), cfg, bad, &mockStoreProvider{}, &bytes.Buffer{})
		require.Error(t, err)
	})

	t.Run("should replace the config and rescore stored findings", func(t *testing.T) {
		store := newMemStore()
		f := seededFinding(t, store, "qualys", "F-1", "a-1", "", 8.0, 0.5)
		before := f.RiskScore

		heavyCVSS := schemas.WeightConfig{
			CVSSWeight: 0.60, EPSSWeight: 0.10, ExposureWeight: 0.10,
			CriticalityWeight: 0.10, AgeWeight: 0.10, AuthWeight: -0.10,
		}
		var out bytes.Buffer
		require.NoError(t, runWeightsSet(ctx, zap.NewNop(), cfg, heavyCVSS, &mockStoreProvider{store: store}, &out))

		assert.Equal(t, heavyCVSS, *store.weights)
		assert.NotEqual(t, before, store.findings[0].RiskScore)
		assert.Contains(t, out.String(), "1 findings rescored")
	})
}

func TestRunKevReconcile(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()

	t.Run("should mark stored findings listed in the catalog", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "kev.csv")
		catalog := "cveID,vendorProject,product,vulnerabilityName,dateAdded,shortDescription,requiredAction,dueDate,knownRansomwareCampaignUse\n" +
			"CVE-2024-1000,Acme,Widget,Acme RCE,2026-02-10,RCE,Patch,2026-03-03,Known\n"
		require.NoError(t, os.WriteFile(path, []byte(catalog), 0o644))

		store := newMemStore()
		seededFinding(t, store, "qualys", "F-1", "a-1", "CVE-2024-1000", 8.0, 0.5)
		seededFinding(t, store, "qualys", "F-2", "a-2", "CVE-2020-9999", 5.0, 0.1)

		var out bytes.Buffer
		require.NoError(t, runKevReconcile(ctx, cfg, path, &mockStoreProvider{store: store}, &out))

		assert.True(t, store.findings[0].IsKEV)
		assert.Equal(t, schemas.BandCritical, store.findings[0].RiskBand)
		assert.False(t, store.findings[1].IsKEV)
		assert.Contains(t, out.String(), `"marked": 1`)
	})

	t.Run("should fail on a missing catalog", func(t *testing.T) {
		err := runKevReconcile(ctx, cfg, "/nope/kev.csv", &mockStoreProvider{store: newMemStore()}, &bytes.Buffer{})
		require.Error(t, err)
	})
}

func TestRunDisposition(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()

	t.Run("set then clear should leave two audit events", func(t *testing.T) {
		store := newMemStore()
		f := seededFinding(t, store, "qualys", "F-1", "a-1", "CVE-2024-1000", 8.0, 0.5)
		provider := &mockStoreProvider{store: store}

		reason := "compensating control"
		req := disposition.SetRequest{
			Disposition: schemas.DispositionRiskAccepted,
			Reason:      &reason,
			Actor:       "alice",
		}
		var out bytes.Buffer
		require.NoError(t, runDispositionSet(ctx, cfg, f.FindingKey, req, provider, &out))
		assert.Equal(t, schemas.DispositionRiskAccepted, store.findings[0].Disposition)
		require.Len(t, store.events, 1)
		assert.Equal(t, schemas.EventDispositionSet, store.events[0].EventType)

		require.NoError(t, runDispositionClear(ctx, cfg, f.FindingKey, "bob", provider, &out))
		assert.Equal(t, schemas.DispositionNone, store.findings[0].Disposition)
		require.Len(t, store.events, 2)
		assert.Equal(t, schemas.EventDispositionCleared, store.events[1].EventType)

		var history bytes.Buffer
		require.NoError(t, runDispositionHistory(ctx, cfg, f.FindingKey, provider, &history))
		assert.Contains(t, history.String(), "disposition_set")
		assert.Contains(t, history.String(), "disposition_cleared")
	})

	t.Run("set should not change the stored risk score", func(t *testing.T) {
		store := newMemStore()
		f := seededFinding(t, store, "qualys", "F-9", "a-9", "", 9.0, 0.9)
		before := store.findings[0].RiskScore

		req := disposition.SetRequest{Disposition: schemas.DispositionIgnored, Actor: "alice"}
		require.NoError(t, runDispositionSet(ctx, cfg, f.FindingKey, req, &mockStoreProvider{store: store}, &bytes.Buffer{}))
		assert.Equal(t, before, store.findings[0].RiskScore)
	})

	t.Run("expired timestamps are stored but never acted on", func(t *testing.T) {
		store := newMemStore()
		f := seededFinding(t, store, "qualys", "F-5", "a-5", "", 4.0, 0.1)

		past := time.Now().Add(-24 * time.Hour).UTC()
		req := disposition.SetRequest{
			Disposition: schemas.DispositionIgnored,
			ExpiresAt:   &past,
			Actor:       "alice",
		}
		require.NoError(t, runDispositionSet(ctx, cfg, f.FindingKey, req, &mockStoreProvider{store: store}, &bytes.Buffer{}))

		got, err := store.FindingByKey(ctx, f.FindingKey)
		require.NoError(t, err)
		assert.Equal(t, schemas.DispositionIgnored, got.Disposition)
		require.NotNil(t, got.DispositionExpiresAt)
		assert.True(t, past.Equal(*got.DispositionExpiresAt))
	})
}

func TestRunReport(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()

	store := newMemStore()
	seededFinding(t, store, "qualys", "F-1", "a-1", "CVE-2024-1000", 10.0, 0.99)
	seededFinding(t, store, "nessus", "F-2", "a-2", "", 2.0, 0.01)
	provider := &mockStoreProvider{store: store}

	t.Run("summary should roll up band counts", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runReportSummary(ctx, cfg, provider, &out))
		assert.Contains(t, out.String(), `"total_findings": 2`)
	})

	t.Run("top should honor the limit", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runReportTop(ctx, cfg, 1, provider, &out))
		assert.Contains(t, out.String(), "F-1")
		assert.NotContains(t, out.String(), "F-2")
	})
}

func TestRunSources(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()

	t.Run("rename and delete should operate on whole sources", func(t *testing.T) {
		store := newMemStore()
		seededFinding(t, store, "qualys", "F-1", "a-1", "", 5.0, 0.1)
		seededFinding(t, store, "qualys", "F-2", "a-2", "", 5.0, 0.1)
		seededFinding(t, store, "nessus", "F-3", "a-3", "", 5.0, 0.1)
		provider := &mockStoreProvider{store: store}

		var out bytes.Buffer
		require.NoError(t, runSourcesRename(ctx, cfg, "qualys", "qualys-vmdr", provider, &out))
		assert.Contains(t, out.String(), "2 findings")
		assert.Equal(t, "qualys-vmdr", store.findings[0].Source)

		out.Reset()
		require.NoError(t, runSourcesDelete(ctx, cfg, "qualys-vmdr", provider, &out))
		assert.Contains(t, out.String(), "Deleted 2 findings")
		require.Len(t, store.findings, 1)
		assert.Equal(t, "nessus", store.findings[0].Source)
	})

	t.Run("rename should reject empty names", func(t *testing.T) {
		err := runSourcesRename(ctx, cfg, " ", "new", &mockStoreProvider{store: newMemStore()}, &bytes.Buffer{})
		require.Error(t, err)
	})

	t.Run("list should return one rollup per source", func(t *testing.T) {
		store := newMemStore()
		seededFinding(t, store, "qualys", "F-1", "a-1", "", 5.0, 0.1)
		var out bytes.Buffer
		require.NoError(t, runSourcesList(ctx, cfg, &mockStoreProvider{store: store}, &out))
		assert.Contains(t, out.String(), `"source": "qualys"`)
	})
}
