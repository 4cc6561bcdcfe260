package epss

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/vulncontext/vulncontext-cli/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type capturingStore struct {
	scores []schemas.EpssScore
	err    error
}

func (s *capturingStore) ReplaceEpssScores(_ context.Context, scores []schemas.EpssScore) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.scores = scores
	return int64(len(scores)), nil
}

func gzipFeed(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

const feedBody = "#model_version:v2025.03.14,score_date:2026-08-29\n" +
	"cve,epss,percentile\n" +
	"CVE-2024-1000,0.97452,0.99931\n" +
	"CVE-2021-44228,0.94418,0.99887\n" +
	"CVE-2019-0001,0.00042,0.05113\n"

func newFeedServer(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("should download, decode and replace the table", func(t *testing.T) {
		srv := newFeedServer(t, http.StatusOK, gzipFeed(t, feedBody))
		store := &capturingStore{}

		r := NewRefresher(store, zap.NewNop(), WithURL(srv.URL), WithHTTPClient(srv.Client()))
		copied, err := r.Refresh(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), copied)

		require.Len(t, store.scores, 3)
		assert.Equal(t, "CVE-2024-1000", store.scores[0].CVEID)
		assert.InDelta(t, 0.97452, store.scores[0].Probability, 1e-9)
		assert.InDelta(t, 0.99931, store.scores[0].Percentile, 1e-9)
		assert.Equal(t, "CVE-2019-0001", store.scores[2].CVEID)
	})

	t.Run("should fail on a non-200 response without touching the store", func(t *testing.T) {
		srv := newFeedServer(t, http.StatusServiceUnavailable, nil)
		store := &capturingStore{}

		r := NewRefresher(store, zap.NewNop(), WithURL(srv.URL), WithHTTPClient(srv.Client()))
		_, err := r.Refresh(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
		assert.Nil(t, store.scores)
	})

	t.Run("should fail on a body that is not gzip", func(t *testing.T) {
		srv := newFeedServer(t, http.StatusOK, []byte("cve,epss,percentile\n"))
		store := &capturingStore{}

		r := NewRefresher(store, zap.NewNop(), WithURL(srv.URL), WithHTTPClient(srv.Client()))
		_, err := r.Refresh(ctx)
		require.Error(t, err)
		assert.Nil(t, store.scores)
	})
}

func TestParse(t *testing.T) {
	t.Run("should skip multiple metadata lines", func(t *testing.T) {
		body := "#model_version:v2025.03.14\n#score_date:2026-08-29\n" +
			"cve,epss,percentile\nCVE-2024-1,0.5,0.9\n"
		scores, err := Parse(bytes.NewReader(gzipFeed(t, body)))
		require.NoError(t, err)
		require.Len(t, scores, 1)
		assert.Equal(t, "CVE-2024-1", scores[0].CVEID)
	})

	t.Run("should reject a feed missing a required column", func(t *testing.T) {
		body := "#meta\ncve,epss\nCVE-2024-1,0.5\n"
		_, err := Parse(bytes.NewReader(gzipFeed(t, body)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "percentile")
	})

	t.Run("should reject a feed that ends before the header", func(t *testing.T) {
		_, err := Parse(bytes.NewReader(gzipFeed(t, "#meta only\n")))
		assert.ErrorIs(t, err, ErrNoHeader)
	})

	t.Run("should reject an unparseable probability", func(t *testing.T) {
		body := "cve,epss,percentile\nCVE-2024-1,not-a-float,0.9\n"
		_, err := Parse(bytes.NewReader(gzipFeed(t, body)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad probability")
	})

	t.Run("should skip blank cve cells and short rows", func(t *testing.T) {
		body := "cve,epss,percentile\n,0.5,0.9\nCVE-2024-2,0.1,0.2\n"
		scores, err := Parse(bytes.NewReader(gzipFeed(t, body)))
		require.NoError(t, err)
		require.Len(t, scores, 1)
		assert.Equal(t, "CVE-2024-2", scores[0].CVEID)
	})

	t.Run("should skip ragged rows when the cve column sits past them", func(t *testing.T) {
		body := "epss,percentile,cve\n0.5,0.9\n0.1,0.2,CVE-2024-2\n"
		scores, err := Parse(bytes.NewReader(gzipFeed(t, body)))
		require.NoError(t, err)
		require.Len(t, scores, 1)
		assert.Equal(t, "CVE-2024-2", scores[0].CVEID)
	})
}
