package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grab/internal/normalize"
	"github.com/roach88/grab/internal/testutil"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const yamlDump = `message_id: m-1
source: gmail
provider: gmail
account: me@example.com
subject: Ваш заказ 12345678 оформлен
sender: Ozon <noreply@ozon.ru>
recipients: [me@example.com]
sent_at: 2026-02-01T10:00:00Z
text_body: |
  - Наушники, 1 шт, 2 990 ₽
  Подробнее https://ozon.ru/my/orderdetails
html_body: <img src="https://cdn.ozon.ru/p/1.jpg">
attachments:
  - filename: receipt.pdf
    content_type: application/pdf
    data: YXR0YWNobWVudC1ieXRlcw==
  - path: photo.png
    content_type: image/png
raw_payload:
  labels: [INBOX]
---
message_id: m-2
subject: Старое письмо про заказ
sent_at: "2025-12-31"
`

const jsonDump = `[
	{"message_id": "m-3", "subject": "DNS: заказ 99887766", "sent_at": "2026-02-03 08:30:00",
	 "links": ["https://dns-shop.ru/order/99887766"]},
	{"message_id": "m-4", "subject": "Новости магазина", "sent_at": "2026-02-04T00:00:00+03:00"}
]`

func TestDirCollector_Collect(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", yamlDump)
	writeFile(t, dir, "photo.png", "png-bytes")
	writeFile(t, dir, "nested/b.json", jsonDump)
	writeFile(t, dir, "notes.txt", "ignored")

	msgs, err := NewDirCollector(dir).Collect(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	first := msgs[0]
	assert.Equal(t, "m-1", first.MessageID)
	assert.Equal(t, "gmail", first.Source)
	assert.Equal(t, "me@example.com", first.Account)
	assert.Equal(t, []string{"me@example.com"}, first.Recipients)
	require.NotNil(t, first.SentAt)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), *first.SentAt)
	assert.Equal(t, []string{"https://ozon.ru/my/orderdetails", "https://cdn.ozon.ru/p/1.jpg"}, first.Links)
	require.Len(t, first.Attachments, 2)
	assert.Equal(t, []byte("attachment-bytes"), first.Attachments[0].Data)
	assert.Equal(t, "photo.png", first.Attachments[1].Filename)
	assert.Equal(t, []byte("png-bytes"), first.Attachments[1].Data)
	assert.Equal(t, []any{"INBOX"}, first.RawPayload["labels"])

	second := msgs[1]
	assert.Equal(t, DefaultSource, second.Source)
	assert.Equal(t, "file", second.Provider)

	third := msgs[2]
	assert.Equal(t, "m-3", third.MessageID)
	assert.Equal(t, []string{"https://dns-shop.ru/order/99887766"}, third.Links)
	assert.Equal(t, time.Date(2026, 2, 3, 8, 30, 0, 0, time.UTC), *third.SentAt)

	assert.Equal(t, time.Date(2026, 2, 3, 21, 0, 0, 0, time.UTC), *msgs[3].SentAt)
}

func TestDirCollector_Since(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", yamlDump)
	writeFile(t, dir, "photo.png", "png-bytes")

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs, err := NewDirCollector(dir).Collect(context.Background(), &since)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m-1", msgs[0].MessageID)
}

func TestDirCollector_Keywords(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.json", jsonDump)

	msgs, err := NewDirCollector(dir, WithKeywords([]string{" ЗАКАЗ ", ""})).Collect(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m-3", msgs[0].MessageID)
}

func TestDirCollector_MissingDir(t *testing.T) {
	_, err := NewDirCollector(filepath.Join(t.TempDir(), "missing")).Collect(context.Background(), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDirCollector_SkipsUndecodableFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"message_id": "good", "subject": "Заказ 1"}`)
	writeFile(t, dir, "b.yaml", "message_id: m\nsent_at: yesterday\n")
	writeFile(t, dir, "c.json", `{"subject": "no id"}`)

	logger, hook := logtest.NewNullLogger()
	msgs, err := NewDirCollector(dir, WithLogger(logrus.NewEntry(logger))).Collect(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "good", msgs[0].MessageID)

	var skipped []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			skipped = append(skipped, filepath.Base(e.Data["file"].(string)))
		}
	}
	assert.Equal(t, []string{"b.yaml", "c.json"}, skipped)
}

func TestDirCollector_DefaultLoggerIsSilent(t *testing.T) {
	std := testutil.CaptureStandardLogger(t)
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"subject": "no id"}`)

	msgs, err := NewDirCollector(dir).Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, std.String())
}

func TestReadMessageFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"unknown field", "bad.yaml", "message_id: m\nsubjct: typo\n", "subjct"},
		{"missing id", "noid.json", `{"subject": "x"}`, "message_id is required"},
		{"bad date", "baddate.yaml", "message_id: m\nsent_at: yesterday\n", "unrecognized sent_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, tt.file, tt.content)
			_, err := readMessageFile(filepath.Join(dir, tt.file))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestDirCollector_Canceled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.json", jsonDump)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDirCollector(dir).Collect(ctx, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFunc(t *testing.T) {
	want := []normalize.Message{{MessageID: "x"}}
	c := Func(func(context.Context, *time.Time) ([]normalize.Message, error) { return want, nil })
	got, err := c.Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
