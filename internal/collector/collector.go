// Package collector reads messages from mail sources into normalize.Message
// records.
//
// DirCollector reads an inbox directory: message dumps as YAML or JSON and raw
// RFC 822 messages as .eml files.
package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roach88/grab/internal/logging"
	"github.com/roach88/grab/internal/normalize"
)

// Collector produces the messages of one run. since, when non-nil, drops
// messages sent before it.
type Collector interface {
	Collect(ctx context.Context, since *time.Time) ([]normalize.Message, error)
}

// Func adapts a function to Collector.
type Func func(ctx context.Context, since *time.Time) ([]normalize.Message, error)

// Collect calls f.
func (f Func) Collect(ctx context.Context, since *time.Time) ([]normalize.Message, error) {
	return f(ctx, since)
}

// DefaultSource is the source name of messages that do not carry one.
const DefaultSource = "inbox_dir"

// DirCollector reads every *.yaml, *.yml, *.json and *.eml file under a
// directory, in path order.
type DirCollector struct {
	dir      string
	keywords []string
	log      *logrus.Entry
}

// Option configures a DirCollector.
type Option func(*DirCollector)

// WithKeywords keeps only messages whose subject, sender or bodies contain
// one of the keywords (case-insensitive). No keywords keeps everything.
func WithKeywords(keywords []string) Option {
	return func(c *DirCollector) {
		c.keywords = nil
		for _, k := range keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				c.keywords = append(c.keywords, k)
			}
		}
	}
}

// WithLogger sets the entry used to report skipped files.
func WithLogger(log *logrus.Entry) Option {
	return func(c *DirCollector) { c.log = log }
}

// NewDirCollector returns a collector over dir.
func NewDirCollector(dir string, opts ...Option) *DirCollector {
	c := &DirCollector{dir: dir, log: logrus.NewEntry(logging.Discard())}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect reads the directory. A missing directory is an error; a file that
// cannot be decoded is logged and skipped.
func (c *DirCollector) Collect(ctx context.Context, since *time.Time) ([]normalize.Message, error) {
	info, err := os.Stat(c.dir)
	if err != nil {
		return nil, fmt.Errorf("inbox directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("inbox directory: not a directory: %s", c.dir)
	}

	files, err := findMessageFiles(c.dir)
	if err != nil {
		return nil, fmt.Errorf("scan inbox directory: %w", err)
	}

	var out []normalize.Message
	skipped := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgs, err := readMessageFile(path)
		if err != nil {
			skipped++
			c.log.WithError(err).WithField("file", path).Warn("message file skipped")
			continue
		}
		for _, msg := range msgs {
			if !c.keep(msg, since) {
				continue
			}
			if len(msg.Links) == 0 {
				msg.Links = normalize.ExtractLinks(msg.TextBody, msg.HTMLBody)
			}
			out = append(out, msg)
		}
	}

	c.log.WithFields(logrus.Fields{
		"dir":      c.dir,
		"files":    len(files),
		"skipped":  skipped,
		"messages": len(out),
	}).Info("inbox collected")
	return out, nil
}

func (c *DirCollector) keep(msg normalize.Message, since *time.Time) bool {
	if since != nil && msg.SentAt != nil && msg.SentAt.Before(*since) {
		return false
	}
	if len(c.keywords) == 0 {
		return true
	}
	blob := strings.ToLower(strings.Join([]string{msg.Subject, msg.Sender, msg.TextBody, msg.HTMLBody}, " "))
	for _, k := range c.keywords {
		if strings.Contains(blob, k) {
			return true
		}
	}
	return false
}

func findMessageFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json", ".eml":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func readMessageFile(path string) ([]normalize.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".eml":
		msg, err := parseEML(data)
		if err != nil {
			return nil, err
		}
		if msg.MessageID == "" {
			msg.MessageID = filepath.Base(path)
		}
		return []normalize.Message{msg}, nil
	case ".json":
		return decodeJSONDump(data, filepath.Dir(path))
	default:
		return decodeYAMLDump(data, filepath.Dir(path))
	}
}
