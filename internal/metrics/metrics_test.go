package metrics

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babar-raza/tbcv-sub003/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, testLogger())
}

func TestObserveRecordsPerformanceSample(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	r.Observe(ctx, "validate_file", 12*time.Millisecond, "ok")

	var samples []*store.PerformanceSample
	require.NoError(t, r.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		samples, err = sess.ListPerformanceSamples(ctx, "1970-01-01T00:00:00Z", "")
		return err
	}))
	require.Len(t, samples, 1)
	assert.Equal(t, "validate_file", samples[0].Operation)
	assert.InDelta(t, 12.0, samples[0].DurationMs, 0.5)
}

func TestHandlerServesPrometheusExposition(t *testing.T) {
	r := newTestRecorder(t)
	r.Observe(context.Background(), "validate_file", 5*time.Millisecond, "ok")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "mdvalidate_rpc_duration_ms")
}
