package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roach88/grab/internal/logging"
	"github.com/roach88/grab/internal/store"
)

// Repository is the slice of the merge repository the media store needs.
type Repository interface {
	FindMediaBySHA256(ctx context.Context, sha256 string) (store.Media, bool, error)
	UpsertMedia(ctx context.Context, m store.Media) (int64, error)
}

// Store is the content-addressed media store.
type Store struct {
	repo   Repository
	root   string
	now    func() time.Time
	log    *logrus.Entry
	dl     downloader
	metaMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for meta.json timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the entry used for diagnostics.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Store) { s.log = log }
}

// New creates a media store rooted at root, creating the directory.
func New(repo Repository, root string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("media root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("media root: %w", err)
	}

	s := &Store{
		repo: repo,
		root: abs,
		now:  time.Now,
		log:  logrus.NewEntry(logging.Discard()),
		dl:   defaultDownloader(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute media root.
func (s *Store) Root() string {
	return s.root
}

// SaveRequest describes one payload to store for an item.
type SaveRequest struct {
	ItemID    int64
	StoreCode string
	OrderRef  string
	Data      []byte
	Filename  string
	MIME      string
	SourceURL string
	Source    string
}

// MetaEntry is one element of an item's meta.json.
type MetaEntry struct {
	Source       string `json:"source"`
	SourceURL    string `json:"source_url,omitempty"`
	Filename     string `json:"filename,omitempty"`
	DownloadedAt string `json:"downloaded_at"`
	SHA256       string `json:"sha256"`
	MIME         string `json:"mime,omitempty"`
	Size         int64  `json:"size_bytes"`
	LocalPath    string `json:"local_path_abs"`
}

func (e MetaEntry) sameObservation(o MetaEntry) bool {
	return e.SHA256 == o.SHA256 && e.SourceURL == o.SourceURL && e.Filename == o.Filename && e.Source == o.Source
}

// Save stores data for an item and returns the absolute path of the file
// holding it. A payload already stored under any item is reused when its file
// still exists.
func (s *Store) Save(ctx context.Context, req SaveRequest) (string, error) {
	if req.ItemID == 0 {
		return "", errors.New("save media: item id required")
	}

	sum := sha256.Sum256(req.Data)
	digest := hex.EncodeToString(sum[:])

	itemDir := s.itemDir(req.StoreCode, req.OrderRef, req.ItemID)
	bucket := Bucket(req.MIME, req.Filename, req.SourceURL)

	localPath, size, err := s.reuse(ctx, digest)
	if err != nil {
		return "", err
	}
	if localPath == "" {
		targetDir := filepath.Join(itemDir, bucket)
		if err := os.MkdirAll(targetDir, 0o755); err != nil {
			return "", fmt.Errorf("save media: %w", err)
		}
		localPath = filepath.Join(targetDir, digest[:20]+extension(req.Filename, req.MIME))
		if err := writeFileAtomic(localPath, req.Data); err != nil {
			return "", fmt.Errorf("save media: %w", err)
		}
		size = int64(len(req.Data))
	} else {
		s.log.WithFields(logrus.Fields{
			"sha256":  digest,
			"item_id": req.ItemID,
			"path":    localPath,
		}).Debug("media payload already stored")
	}

	entry := MetaEntry{
		Source:       req.Source,
		SourceURL:    req.SourceURL,
		Filename:     req.Filename,
		DownloadedAt: s.now().UTC().Format(time.RFC3339),
		SHA256:       digest,
		MIME:         req.MIME,
		Size:         size,
		LocalPath:    localPath,
	}
	if err := s.appendMeta(itemDir, entry); err != nil {
		return "", fmt.Errorf("save media: %w", err)
	}

	_, err = s.repo.UpsertMedia(ctx, store.Media{
		ItemID:    req.ItemID,
		SourceURL: req.SourceURL,
		LocalPath: localPath,
		MIME:      req.MIME,
		SHA256:    digest,
		Size:      size,
		Source:    req.Source,
		Meta: map[string]any{
			"source":        entry.Source,
			"source_url":    entry.SourceURL,
			"filename":      entry.Filename,
			"downloaded_at": entry.DownloadedAt,
			"sha256":        entry.SHA256,
			"mime":          entry.MIME,
			"size_bytes":    entry.Size,
		},
	})
	if err != nil {
		return "", fmt.Errorf("save media: %w", err)
	}
	return localPath, nil
}

// reuse returns the stored path and size for digest, or "" when the payload
// has no row or its file is gone.
func (s *Store) reuse(ctx context.Context, digest string) (string, int64, error) {
	existing, ok, err := s.repo.FindMediaBySHA256(ctx, digest)
	if err != nil {
		return "", 0, fmt.Errorf("save media: %w", err)
	}
	if !ok || existing.LocalPath == "" {
		return "", 0, nil
	}
	info, err := os.Stat(existing.LocalPath)
	if err != nil || info.IsDir() {
		return "", 0, nil
	}
	return existing.LocalPath, info.Size(), nil
}

func (s *Store) itemDir(storeCode, orderRef string, itemID int64) string {
	return filepath.Join(
		s.root,
		safeRef(storeCode, "unknown_store"),
		safeRef(orderRef, "unknown_order"),
		strconv.FormatInt(itemID, 10),
	)
}

// appendMeta adds entry to <itemDir>/meta.json unless an entry for the same
// observation is already there.
func (s *Store) appendMeta(itemDir string, entry MetaEntry) error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	if err := os.MkdirAll(itemDir, 0o755); err != nil {
		return err
	}
	metaPath := filepath.Join(itemDir, "meta.json")

	entries, err := readMeta(metaPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.sameObservation(entry) {
			return nil
		}
	}
	entries = append(entries, entry)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	return writeFileAtomic(metaPath, data)
}

// ReadMeta returns the meta.json entries of an item directory.
func (s *Store) ReadMeta(storeCode, orderRef string, itemID int64) ([]MetaEntry, error) {
	return readMeta(filepath.Join(s.itemDir(storeCode, orderRef, itemID), "meta.json"))
}

func readMeta(metaPath string) ([]MetaEntry, error) {
	data, err := os.ReadFile(metaPath)
	if errors.Is(err, os.ErrNotExist) {
		return []MetaEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}

	var entries []MetaEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		// Older files may hold a single object
		var single MetaEntry
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return nil, fmt.Errorf("decode meta %s: %w", metaPath, err)
		}
		entries = []MetaEntry{single}
	}
	return entries, nil
}

// writeFileAtomic writes through a temp file in the same directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
