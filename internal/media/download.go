package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrPayloadTooLarge is returned when a download exceeds its size limit.
// Retrying cannot succeed.
var ErrPayloadTooLarge = errors.New("media payload too large")

// HTTPStatusError is returned for a non-2xx download response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.StatusCode)
}

const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 50_000_000
)

type downloader struct {
	client  *http.Client
	limiter *rate.Limiter
}

func defaultDownloader() downloader {
	return downloader{
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
}

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) { s.dl.client = client }
}

// WithRateLimit caps downloads at perSecond with the given burst.
// perSecond <= 0 disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Store) {
		if perSecond <= 0 {
			s.dl.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.dl.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// DownloadRequest describes one payload to fetch and store for an item.
type DownloadRequest struct {
	ItemID    int64
	StoreCode string
	OrderRef  string
	URL       string
	Source    string
	Timeout   time.Duration
	MaxBytes  int64
}

// Download fetches req.URL and stores the body with Save.
//
// A non-2xx response yields *HTTPStatusError; a body larger than MaxBytes
// yields ErrPayloadTooLarge, detected while streaming.
func (s *Store) Download(ctx context.Context, req DownloadRequest) (string, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxBytes := req.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	if err := s.dl.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("download %s: rate limit: %w", req.URL, err)
	}

	// the timeout bounds the network fetch only; Save runs under ctx
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	data, contentType, err := s.fetch(fetchCtx, req.URL, maxBytes)
	cancel()
	if err != nil {
		return "", err
	}

	s.log.WithFields(logrus.Fields{
		"url":     req.URL,
		"bytes":   len(data),
		"item_id": req.ItemID,
	}).Debug("media downloaded")

	return s.Save(ctx, SaveRequest{
		ItemID:    req.ItemID,
		StoreCode: req.StoreCode,
		OrderRef:  req.OrderRef,
		Data:      data,
		Filename:  filenameFromURL(req.URL),
		MIME:      contentType,
		SourceURL: req.URL,
		Source:    req.Source,
	})
}

func (s *Store) fetch(ctx context.Context, rawURL string, maxBytes int64) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", rawURL, err)
	}

	resp, err := s.dl.client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &HTTPStatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > maxBytes {
		return nil, "", fmt.Errorf("download %s: %d bytes: %w", rawURL, resp.ContentLength, ErrPayloadTooLarge)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("download %s: read body: %w", rawURL, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("download %s: over %d bytes: %w", rawURL, maxBytes, ErrPayloadTooLarge)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
