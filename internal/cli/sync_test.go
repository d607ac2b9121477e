package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/roach88/grab/internal/ingest"
	"github.com/roach88/grab/internal/store"
)

const ozonDump = `message_id: m-1
source: gmail
provider: gmail
account: me@example.com
subject: Ваш заказ 12345678 оформлен
sender: Ozon <noreply@ozon.ru>
sent_at: 2026-02-01T10:00:00Z
text_body: |
  - Наушники, 1 шт, 2 990 ₽
  Итого: 2 990 ₽
`

// seedInbox writes one Ozon message into the default inbox of home.
func seedInbox(t *testing.T, home string) {
	t.Helper()
	inbox := filepath.Join(home, "data", "inbox")
	require.NoError(t, os.MkdirAll(inbox, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "ozon.yaml"), []byte(ozonDump), 0o644))
}

func TestSync_JSON(t *testing.T) {
	home := t.TempDir()
	seedInbox(t, home)

	out, _, err := execute(t, home, "--format", "json", "sync", "--media", "skip", "--correlation-id", "run-1")
	require.NoError(t, err)

	var stats ingest.Stats
	resp := decodeResponse(t, out, &stats)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.CorrelationID)
	assert.Equal(t, int64(1), stats.MessagesTotal)
	assert.Equal(t, int64(1), stats.OrdersUpserted)
	assert.Equal(t, int64(1), stats.ItemsUpserted)
	assert.Zero(t, stats.Errors)
}

func TestSync_RerunDoesNotDuplicate(t *testing.T) {
	home := t.TempDir()
	seedInbox(t, home)

	for _, id := range []string{"run-1", "run-2"} {
		out, _, err := execute(t, home, "sync", "--media", "skip", "--correlation-id", id)
		require.NoError(t, err)
		assert.Contains(t, out, "Sync finished: success. correlation_id="+id)
		assert.Contains(t, out, "- orders_upserted: 1")
	}

	out, _, err := execute(t, home, "--format", "json", "stats")
	require.NoError(t, err)
	var counts map[string]int64
	decodeResponse(t, out, &counts)
	assert.Equal(t, int64(1), counts["orders"])
	assert.Equal(t, int64(1), counts["order_items"])
	assert.Equal(t, int64(1), counts["raw_messages"])
	assert.Equal(t, int64(2), counts["sync_runs"])

	out, _, err = execute(t, home, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "sync_runs")
}

func TestSync_InvalidFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"source", []string{"sync", "--source", "ebay"}},
		{"media", []string{"sync", "--media", "maybe"}},
		{"since", []string{"sync", "--since", "last tuesday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, t.TempDir(), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestSync_CollectorFailureFailsRun(t *testing.T) {
	home := t.TempDir()

	_, _, err := execute(t, home, "sync", "--media", "skip", "--correlation-id", "run-x",
		"--inbox", filepath.Join(home, "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, _, err := execute(t, home, "--format", "json", "runs", "run-x")
	require.NoError(t, err)
	var detail RunDetail
	decodeResponse(t, out, &detail)
	assert.Equal(t, store.RunFailed, detail.Run.Status)
	assert.NotEmpty(t, detail.Run.Error)
}

func TestRuns(t *testing.T) {
	home := t.TempDir()

	out, _, err := execute(t, home, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "No sync runs.")

	seedInbox(t, home)
	_, _, err = execute(t, home, "sync", "--media", "skip", "--correlation-id", "run-1")
	require.NoError(t, err)

	out, _, err = execute(t, home, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "CORRELATION ID")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "success")

	out, _, err = execute(t, home, "runs", "run-1")
	require.NoError(t, err)
	assert.Contains(t, out, "- orders_upserted: 1")
	assert.Contains(t, out, "audit entries:")

	_, _, err = execute(t, home, "runs", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestDedupe(t *testing.T) {
	home := t.TempDir()
	seedInbox(t, home)
	_, _, err := execute(t, home, "sync", "--media", "skip")
	require.NoError(t, err)

	out, _, err := execute(t, home, "dedupe")
	require.NoError(t, err)
	assert.Contains(t, out, "- orders: 0")
	assert.Contains(t, out, "- items: 0")

	out, _, err = execute(t, home, "--format", "json", "dedupe")
	require.NoError(t, err)
	var report store.Duplicates
	decodeResponse(t, out, &report)
	assert.Empty(t, report.Orders)
	assert.Empty(t, report.Items)
}

func TestExport(t *testing.T) {
	home := t.TempDir()
	seedInbox(t, home)
	_, _, err := execute(t, home, "sync", "--media", "skip")
	require.NoError(t, err)

	out, _, err := execute(t, home, "--format", "json", "export", "--as", "xlsx,csv,json")
	require.NoError(t, err)
	var result ExportResult
	decodeResponse(t, out, &result)
	require.Len(t, result.Files, 3)
	assert.Equal(t, 1, result.Rows)

	csvPath := filepath.Join(home, "exports", "grab_export.csv")
	raw, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(raw, utf8BOM))

	records, err := csv.NewReader(bytes.NewReader(raw[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, exportColumns, records[0])
	row := map[string]string{}
	for i, col := range records[0] {
		row[col] = records[1][i]
	}
	assert.Equal(t, "ozon", row["store_code"])
	assert.Equal(t, "12345678", row["external_order_id"])
	assert.Equal(t, "Наушники", row["title_full"])

	jsonRaw, err := os.ReadFile(filepath.Join(home, "exports", "grab_export.json"))
	require.NoError(t, err)
	var rows []store.ExportRow
	require.NoError(t, json.Unmarshal(jsonRaw, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "ozon", rows[0].StoreCode)
}

func TestExport_XLSX(t *testing.T) {
	home := t.TempDir()
	seedInbox(t, home)
	_, _, err := execute(t, home, "sync", "--media", "skip")
	require.NoError(t, err)

	_, _, err = execute(t, home, "export")
	require.NoError(t, err)

	f, err := excelize.OpenFile(filepath.Join(home, "exports", "grab_export.xlsx"))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{ExportSheet}, f.GetSheetList())
	rows, err := f.GetRows(ExportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, exportColumns, rows[0])

	row := map[string]string{}
	for i, col := range rows[0] {
		if i < len(rows[1]) {
			row[col] = rows[1][i]
		}
	}
	assert.Equal(t, "ozon", row["store_code"])
	assert.Equal(t, "12345678", row["external_order_id"])
	assert.Equal(t, "Наушники", row["title_full"])

	_, err = os.Stat(filepath.Join(home, "exports", "grab_export.csv"))
	assert.NoError(t, err, "default export writes csv alongside xlsx")
}

func TestExport_InvalidFormat(t *testing.T) {
	_, _, err := execute(t, t.TempDir(), "export", "--as", "pdf")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestParseExportFormats(t *testing.T) {
	got, err := parseExportFormats(" CSV, json ,csv,XLSX")
	require.NoError(t, err)
	assert.Equal(t, []string{"csv", "json", "xlsx"}, got)

	_, err = parseExportFormats(" , ")
	assert.Error(t, err)
}

func TestParseSince(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-01-02", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"2026-01-02 15:04", time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)},
		{"2026-01-02T15:04:05+03:00", time.Date(2026, 1, 2, 12, 4, 5, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSince(tt.in)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %s", got)
		})
	}

	got, err := parseSince("  ")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseSince("01/02/2026")
	assert.Error(t, err)
}

func TestServe(t *testing.T) {
	home := t.TempDir()
	seedInbox(t, home)
	_, _, err := execute(t, home, "sync", "--media", "skip", "--correlation-id", "run-1")
	require.NoError(t, err)

	rootOpts := &RootOptions{Format: "text", Home: home, EnvFile: filepath.Join(home, "absent.env")}
	cmd := NewServeCommand(rootOpts)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd.SetContext(ctx)

	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- runServe(cmd, &ServeOptions{
			RootOptions: rootOpts,
			Addr:        "127.0.0.1:0",
			Ready:       func(addr string) { ready <- addr },
		})
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start")
	}

	resp, err := http.Get("http://" + addr + "/api/runs/run-1")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `"correlation_id":"run-1"`), string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not shut down")
	}
}
