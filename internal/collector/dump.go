package collector

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/grab/internal/normalize"
)

// messageDump is the on-disk form of one message. A YAML file may hold
// several documents; a JSON file holds one object or an array of them.
type messageDump struct {
	Source      string           `yaml:"source" json:"source"`
	Provider    string           `yaml:"provider" json:"provider"`
	Account     string           `yaml:"account" json:"account"`
	MessageID   string           `yaml:"message_id" json:"message_id"`
	ThreadID    string           `yaml:"thread_id" json:"thread_id"`
	Subject     string           `yaml:"subject" json:"subject"`
	Sender      string           `yaml:"sender" json:"sender"`
	Recipients  []string         `yaml:"recipients" json:"recipients"`
	SentAt      string           `yaml:"sent_at" json:"sent_at"`
	TextBody    string           `yaml:"text_body" json:"text_body"`
	HTMLBody    string           `yaml:"html_body" json:"html_body"`
	Links       []string         `yaml:"links" json:"links"`
	Attachments []attachmentDump `yaml:"attachments" json:"attachments"`
	RawPayload  map[string]any   `yaml:"raw_payload" json:"raw_payload"`
}

// attachmentDump carries its bytes either inline as base64 (Data) or as a
// file path relative to the dump (Path).
type attachmentDump struct {
	Filename    string `yaml:"filename" json:"filename"`
	ContentType string `yaml:"content_type" json:"content_type"`
	Data        string `yaml:"data" json:"data"`
	Path        string `yaml:"path" json:"path"`
	SourceURL   string `yaml:"source_url" json:"source_url"`
}

var sentAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func decodeYAMLDump(data []byte, baseDir string) ([]normalize.Message, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var out []normalize.Message
	for {
		var d messageDump
		err := dec.Decode(&d)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
		msg, err := d.message(baseDir)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func decodeJSONDump(data []byte, baseDir string) ([]normalize.Message, error) {
	var dumps []messageDump
	trimmed := bytes.TrimSpace(data)
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := dec.Decode(&dumps); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	} else {
		var d messageDump
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
		dumps = append(dumps, d)
	}

	out := make([]normalize.Message, 0, len(dumps))
	for _, d := range dumps {
		msg, err := d.message(baseDir)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (d messageDump) message(baseDir string) (normalize.Message, error) {
	if strings.TrimSpace(d.MessageID) == "" {
		return normalize.Message{}, errors.New("message_id is required")
	}
	msg := normalize.Message{
		Source:     d.Source,
		Provider:   d.Provider,
		Account:    d.Account,
		MessageID:  strings.TrimSpace(d.MessageID),
		ThreadID:   d.ThreadID,
		Subject:    d.Subject,
		Sender:     d.Sender,
		Recipients: d.Recipients,
		TextBody:   d.TextBody,
		HTMLBody:   d.HTMLBody,
		Links:      d.Links,
		RawPayload: d.RawPayload,
	}
	if msg.Source == "" {
		msg.Source = DefaultSource
	}
	if msg.Provider == "" {
		msg.Provider = "file"
	}
	if d.SentAt != "" {
		t, err := parseSentAt(d.SentAt)
		if err != nil {
			return normalize.Message{}, fmt.Errorf("message %s: %w", d.MessageID, err)
		}
		msg.SentAt = &t
	}
	for _, a := range d.Attachments {
		att, err := a.attachment(baseDir)
		if err != nil {
			return normalize.Message{}, fmt.Errorf("message %s: attachment %q: %w", d.MessageID, a.Filename, err)
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	return msg, nil
}

func (a attachmentDump) attachment(baseDir string) (normalize.Attachment, error) {
	att := normalize.Attachment{
		Filename:    a.Filename,
		ContentType: a.ContentType,
		SourceURL:   a.SourceURL,
	}
	switch {
	case a.Path != "":
		path := a.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return att, err
		}
		att.Data = data
		if att.Filename == "" {
			att.Filename = filepath.Base(path)
		}
	case a.Data != "":
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(a.Data))
		if err != nil {
			return att, fmt.Errorf("decode base64: %w", err)
		}
		att.Data = data
	default:
		return att, errors.New("either data or path is required")
	}
	return att, nil
}

// parseSentAt accepts RFC 3339 and a few looser layouts. Times without a zone
// are taken as UTC.
func parseSentAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range sentAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized sent_at %q", s)
}
