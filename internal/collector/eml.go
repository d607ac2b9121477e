package collector

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/roach88/grab/internal/normalize"
)

var headerDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// charsetReader decodes the legacy charsets Russian mail still uses
// (koi8-r, windows-1251) besides UTF-8.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

// decodeText converts a text part body to UTF-8. Unknown charsets are kept
// as is.
func decodeText(data []byte, charset string) string {
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset == "" || charset == "utf-8" || charset == "us-ascii" {
		return string(data)
	}
	r, err := charsetReader(charset, bytes.NewReader(data))
	if err != nil {
		return string(data)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return string(data)
	}
	return string(out)
}

// parseEML reads one RFC 822 message.
func parseEML(data []byte) (normalize.Message, error) {
	m, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return normalize.Message{}, fmt.Errorf("parse message: %w", err)
	}

	msg := normalize.Message{
		Source:     "eml",
		Provider:   "file",
		MessageID:  strings.TrimSpace(m.Header.Get("Message-Id")),
		Subject:    decodeHeader(m.Header.Get("Subject")),
		Sender:     decodeHeader(m.Header.Get("From")),
		RawPayload: map[string]any{"rfc822_size": len(data)},
	}
	if to, err := m.Header.AddressList("To"); err == nil {
		for _, addr := range to {
			msg.Recipients = append(msg.Recipients, addr.Address)
		}
	}
	if date, err := m.Header.Date(); err == nil {
		utc := date.UTC()
		msg.SentAt = &utc
	}

	if err := walkPart(&msg, m.Header, m.Body); err != nil {
		return normalize.Message{}, err
	}
	return msg, nil
}

// partHeader is the subset of MIME part headers walkPart reads.
type partHeader interface {
	Get(key string) string
}

func walkPart(msg *normalize.Message, h partHeader, body io.Reader) error {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read multipart: %w", err)
			}
			if err := walkPart(msg, part.Header, part); err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(transferDecoder(h.Get("Content-Transfer-Encoding"), body))
	if err != nil {
		return fmt.Errorf("read %s part: %w", mediaType, err)
	}

	disposition, dparams, _ := mime.ParseMediaType(h.Get("Content-Disposition"))
	filename := decodeHeader(dparams["filename"])
	if filename == "" {
		filename = decodeHeader(params["name"])
	}

	switch {
	case disposition != "attachment" && mediaType == "text/plain" && msg.TextBody == "":
		msg.TextBody = decodeText(data, params["charset"])
	case disposition != "attachment" && mediaType == "text/html" && msg.HTMLBody == "":
		msg.HTMLBody = decodeText(data, params["charset"])
	case filename != "" || disposition == "attachment":
		msg.Attachments = append(msg.Attachments, normalize.Attachment{
			Filename:    filename,
			ContentType: mediaType,
			Data:        data,
		})
	}
	return nil
}

func transferDecoder(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, newlineStripper{r})
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	}
	return r
}

// newlineStripper drops CR and LF so base64 bodies wrapped at 76 columns
// decode.
type newlineStripper struct{ r io.Reader }

func (n newlineStripper) Read(p []byte) (int, error) {
	for {
		count, err := n.r.Read(p)
		kept := 0
		for _, b := range p[:count] {
			if b != '\r' && b != '\n' {
				p[kept] = b
				kept++
			}
		}
		if kept > 0 || err != nil {
			return kept, err
		}
	}
}

func decodeHeader(v string) string {
	if v == "" {
		return ""
	}
	decoded, err := headerDecoder.DecodeHeader(v)
	if err != nil {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(decoded)
}
