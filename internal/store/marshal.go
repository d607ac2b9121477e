package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// marshalJSON encodes v for a TEXT column. HTML escaping is disabled so URLs
// and markup in payloads are stored verbatim. nil encodes to SQL NULL.
func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	// Encoder adds a trailing newline
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalJSON(data sql.NullString, v any) error {
	if !data.Valid || data.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data.String), v); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}
	return nil
}

// nullString writes "" (or whitespace) as NULL.
func nullString(s string) any {
	if !present(s) {
		return nil
	}
	return s
}

// utc stores every timestamp in UTC so TEXT ordering matches time ordering.
func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// optString scans a nullable TEXT column, NULL becoming "".
func optString(dst *string) sql.Scanner {
	return (*textColumn)(dst)
}

type textColumn string

func (c *textColumn) Scan(src any) error {
	var ns sql.NullString
	if err := ns.Scan(src); err != nil {
		return err
	}
	*c = textColumn(ns.String)
	return nil
}

// optDecimal scans a nullable TEXT money/quantity column.
func optDecimal(dst **decimal.Decimal) sql.Scanner {
	return decimalColumn{dst: dst}
}

type decimalColumn struct {
	dst **decimal.Decimal
}

func (c decimalColumn) Scan(src any) error {
	if src == nil {
		*c.dst = nil
		return nil
	}
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return err
	}
	*c.dst = &d
	return nil
}

// sqliteTimeLayouts are the layouts go-sqlite3 writes time.Time values in,
// tried when the driver hands back text instead of a parsed time.
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// optTime scans a nullable TIMESTAMP column into UTC.
func optTime(dst **time.Time) sql.Scanner {
	return timeColumn{dst: dst}
}

// reqTime scans a NOT NULL TIMESTAMP column into UTC.
func reqTime(dst *time.Time) sql.Scanner {
	return timeColumn{req: dst}
}

type timeColumn struct {
	dst **time.Time
	req *time.Time
}

func (c timeColumn) Scan(src any) error {
	var t time.Time
	switch v := src.(type) {
	case nil:
		if c.req != nil {
			return fmt.Errorf("scan time: unexpected NULL")
		}
		*c.dst = nil
		return nil
	case time.Time:
		t = v
	case string:
		parsed, err := parseSQLiteTime(v)
		if err != nil {
			return err
		}
		t = parsed
	case []byte:
		parsed, err := parseSQLiteTime(string(v))
		if err != nil {
			return err
		}
		t = parsed
	default:
		return fmt.Errorf("scan time: unsupported type %T", src)
	}

	t = t.UTC()
	if c.req != nil {
		*c.req = t
	} else {
		*c.dst = &t
	}
	return nil
}

func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("scan time: unrecognized format %q", s)
}
