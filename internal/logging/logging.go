// Package logging builds the process logger and the per-run log context.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Output formats for the console sink.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options configures New.
type Options struct {
	// Level is a logrus level name ("debug", "info", ...). Empty means info.
	Level string
	// Dir, when set, receives a JSON-lines copy of every entry in
	// grab-YYYY-MM-DD.jsonl.
	Dir string
	// Format of the console sink: FormatText (default) or FormatJSON.
	Format string
	// Out is the console sink. Nil means stderr.
	Out io.Writer
	// Now dates the log file. Nil means time.Now.
	Now func() time.Time
}

// New builds a logger from opts. The returned close function releases the
// log file, if one was opened.
func New(opts Options) (*logrus.Logger, func() error, error) {
	log := logrus.New()

	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	log.SetLevel(level)

	if opts.Out != nil {
		log.SetOutput(opts.Out)
	} else {
		log.SetOutput(os.Stderr)
	}

	switch strings.ToLower(opts.Format) {
	case "", FormatText:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	case FormatJSON:
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		return nil, nil, fmt.Errorf("log format: unknown %q", opts.Format)
	}

	closeFn := func() error { return nil }
	if opts.Dir != "" {
		now := opts.Now
		if now == nil {
			now = time.Now
		}
		hook, err := NewFileHook(opts.Dir, now)
		if err != nil {
			return nil, nil, err
		}
		log.AddHook(hook)
		closeFn = hook.Close
	}
	return log, closeFn, nil
}

// FileHook writes every entry as one JSON line to a dated file.
type FileHook struct {
	mu        sync.Mutex
	file      *os.File
	formatter logrus.Formatter
}

// NewFileHook opens <dir>/grab-YYYY-MM-DD.jsonl for appending.
func NewFileHook(dir string, now func() time.Time) (*FileHook, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}
	path := filepath.Join(dir, FileName(now()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileHook{
		file:      f,
		formatter: &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano},
	}, nil
}

// FileName is the log file name for the day of t (UTC).
func FileName(t time.Time) string {
	return "grab-" + t.UTC().Format("2006-01-02") + ".jsonl"
}

// Levels implements logrus.Hook.
func (h *FileHook) Levels() []logrus.Level { return logrus.AllLevels }

// Fire implements logrus.Hook.
func (h *FileHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	_, err = h.file.Write(line)
	return err
}

// Path returns the file the hook writes to.
func (h *FileHook) Path() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return ""
	}
	return h.file.Name()
}

// Close closes the log file. Later entries are dropped.
func (h *FileHook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	return err
}

// RunContext is the logging context of one ingestion run. Every entry logged
// through Log carries the correlation id.
type RunContext struct {
	CorrelationID string
	Log           *logrus.Entry
}

// NewRunContext binds log to correlationID.
func NewRunContext(log logrus.FieldLogger, correlationID string) RunContext {
	return RunContext{
		CorrelationID: correlationID,
		Log:           log.WithField("correlation_id", correlationID),
	}
}

// Discard returns a logger that writes nowhere. Components default to it
// until the caller supplies a logger.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
