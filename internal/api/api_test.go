package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grab/internal/collector"
	"github.com/roach88/grab/internal/ingest"
	"github.com/roach88/grab/internal/logging"
	"github.com/roach88/grab/internal/normalize"
	"github.com/roach88/grab/internal/store"
	"github.com/roach88/grab/internal/testutil"
)

// seededStore returns a store holding one successful run with a single Ozon order.
func seededStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	clock := testutil.NewDeterministicClock(time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC), time.Second)
	st, err := store.Open(filepath.Join(t.TempDir(), "grab.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	_, err = st.Migrate(ctx)
	require.NoError(t, err)

	sent := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	msg := normalize.Message{
		Source:    "gmail",
		Provider:  "gmail",
		Account:   "me@example.com",
		MessageID: "m-1",
		Subject:   "Ваш заказ 12345678 оформлен",
		Sender:    "Ozon <noreply@ozon.ru>",
		SentAt:    &sent,
		TextBody:  "- Наушники, 1 шт, 2 990 ₽\nИтого: 2 990 ₽\n",
	}
	c := collector.Func(func(context.Context, *time.Time) ([]normalize.Message, error) {
		return []normalize.Message{msg}, nil
	})
	o, err := ingest.New(st, c, ingest.WithLogger(logging.Discard()))
	require.NoError(t, err)
	_, err = o.Run(ctx, ingest.RunRequest{CorrelationID: "run-1"})
	require.NoError(t, err)
	return st
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealth(t *testing.T) {
	r := NewRouter(seededStore(t), logging.Discard(), Options{Mode: gin.TestMode})

	w := get(t, r, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestListRuns(t *testing.T) {
	r := NewRouter(seededStore(t), logging.Discard(), Options{Mode: gin.TestMode})

	w := get(t, r, "/api/runs")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Runs []store.SyncRun `json:"runs"`
	}
	decode(t, w, &body)
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "run-1", body.Runs[0].CorrelationID)
	assert.Equal(t, store.RunSuccess, body.Runs[0].Status)
	assert.Equal(t, int64(1), body.Runs[0].Stats["orders_upserted"])
}

func TestListRuns_BadLimit(t *testing.T) {
	r := NewRouter(seededStore(t), logging.Discard(), Options{Mode: gin.TestMode})

	for _, q := range []string{"abc", "-1"} {
		w := get(t, r, "/api/runs?limit="+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestGetRun(t *testing.T) {
	r := NewRouter(seededStore(t), logging.Discard(), Options{Mode: gin.TestMode})

	w := get(t, r, "/api/runs/run-1")
	require.Equal(t, http.StatusOK, w.Code)
	var run store.SyncRun
	decode(t, w, &run)
	assert.Equal(t, "run-1", run.CorrelationID)
	assert.NotNil(t, run.FinishedAt)

	w = get(t, r, "/api/runs/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExport(t *testing.T) {
	r := NewRouter(seededStore(t), logging.Discard(), Options{Mode: gin.TestMode})

	w := get(t, r, "/api/export")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Rows  []store.ExportRow `json:"rows"`
		Count int               `json:"count"`
	}
	decode(t, w, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, normalize.StoreOzon, body.Rows[0].StoreCode)
	assert.Equal(t, "12345678", body.Rows[0].ExternalOrderID)

	w = get(t, r, "/api/export?store=wb")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	assert.Equal(t, 0, body.Count)
	assert.NotNil(t, body.Rows)
}

func TestDuplicatesAndCounts(t *testing.T) {
	r := NewRouter(seededStore(t), logging.Discard(), Options{Mode: gin.TestMode})

	w := get(t, r, "/api/duplicates")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"orders":[],"items":[]}`, w.Body.String())

	w = get(t, r, "/api/counts")
	require.Equal(t, http.StatusOK, w.Code)
	var counts map[string]int64
	decode(t, w, &counts)
	assert.Equal(t, int64(1), counts["orders"])
	assert.Equal(t, int64(1), counts["order_items"])
	assert.Equal(t, int64(1), counts["sync_runs"])
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	st := seededStore(t)

	off := NewRouter(st, logging.Discard(), Options{Mode: gin.TestMode})
	assert.Equal(t, http.StatusNotFound, get(t, off, "/debug/pprof/cmdline").Code)

	on := NewRouter(st, logging.Discard(), Options{Mode: gin.TestMode, Pprof: true})
	assert.Equal(t, http.StatusOK, get(t, on, "/debug/pprof/cmdline").Code)
}

// failingReader errors on every call.
type failingReader struct{ err error }

func (f failingReader) ListSyncRuns(context.Context, int) ([]store.SyncRun, error) {
	return nil, f.err
}

func (f failingReader) GetSyncRun(context.Context, string) (store.SyncRun, error) {
	return store.SyncRun{}, f.err
}

func (f failingReader) ExportRows(context.Context) ([]store.ExportRow, error) {
	return nil, f.err
}

func (f failingReader) DuplicateDiagnostics(context.Context) (store.Duplicates, error) {
	return store.Duplicates{}, f.err
}

func (f failingReader) Counts(context.Context) (map[string]int64, error) {
	return nil, f.err
}

func TestReaderErrors(t *testing.T) {
	r := NewRouter(failingReader{err: errors.New("disk on fire")}, logging.Discard(), Options{Mode: gin.TestMode})

	for _, path := range []string{"/api/runs", "/api/runs/x", "/api/export", "/api/duplicates", "/api/counts"} {
		w := get(t, r, path)
		assert.Equal(t, http.StatusInternalServerError, w.Code, path)
		assert.JSONEq(t, `{"error":"disk on fire"}`, w.Body.String(), path)
	}
}
