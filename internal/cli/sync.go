package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/grab/internal/collector"
	"github.com/roach88/grab/internal/ingest"
	"github.com/roach88/grab/internal/media"
	"github.com/roach88/grab/internal/normalize"
	"github.com/roach88/grab/internal/store"
)

// Media modes accepted by --media.
const (
	MediaDownload = "download"
	MediaSkip     = "skip"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Source        string
	Since         string
	Media         string
	MaxMessages   int
	CorrelationID string
	Inbox         string

	// IDGenerator overrides the correlation id generator (for testing).
	IDGenerator ingest.IDGenerator
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Ingest purchase mail into the store",
		Long: fmt.Sprintf(`Read messages from the inbox directory, parse orders and merge them into
the store. Each run gets a correlation id recorded in the run ledger.

Sources: %s

Example:
  grab sync
  grab sync --source ozon --since 2026-01-01 --media skip`, strings.Join(normalize.Sources(), ", ")),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", ingest.DefaultSource, "store filter")
	cmd.Flags().StringVar(&opts.Since, "since", "", "skip messages sent before this date or RFC 3339 time")
	cmd.Flags().StringVar(&opts.Media, "media", MediaDownload, "media handling (download|skip)")
	cmd.Flags().IntVar(&opts.MaxMessages, "max-messages", -1, "messages per run (default from config)")
	cmd.Flags().StringVar(&opts.CorrelationID, "correlation-id", "", "reuse a run id (default a new UUIDv7)")
	cmd.Flags().StringVar(&opts.Inbox, "inbox", "", "inbox directory (default from config)")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	if _, err := normalize.StoreFilter(opts.Source); err != nil {
		return WrapExitError(ExitCommandError, "invalid --source", err)
	}
	if opts.Media != MediaDownload && opts.Media != MediaSkip {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --media %q: must be %s or %s", opts.Media, MediaDownload, MediaSkip))
	}
	since, err := parseSince(opts.Since)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --since", err)
	}

	env, err := openEnvironment(cmd, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer env.Close()
	s := env.settings

	maxMessages := opts.MaxMessages
	if maxMessages < 0 {
		maxMessages = s.MaxMessages
	}
	inbox := opts.Inbox
	if inbox == "" {
		inbox = s.InboxDir
	}

	mediaStore, err := media.New(env.store, s.MediaDir,
		media.WithLogger(env.log.WithField("component", "media")),
		media.WithRateLimit(s.MediaRateLimit, s.MediaRateBurst),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open media store", err)
	}

	src := collector.NewDirCollector(inbox,
		collector.WithKeywords(s.Keywords),
		collector.WithLogger(env.log.WithField("component", "collector")),
	)

	ingestOpts := []ingest.Option{
		ingest.WithMedia(mediaStore),
		ingest.WithLogger(env.log),
		ingest.WithMediaLimits(s.MediaTimeout, s.MediaMaxBytes),
	}
	if opts.IDGenerator != nil {
		ingestOpts = append(ingestOpts, ingest.WithIDGenerator(opts.IDGenerator))
	}
	orch, err := ingest.New(env.store, src, ingestOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build orchestrator", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newFormatter(cmd, opts.RootOptions)
	out.VerboseLog("inbox %s, source %s, media %s, max %d", inbox, opts.Source, opts.Media, maxMessages)

	stats, err := orch.Run(ctx, ingest.RunRequest{
		CorrelationID: opts.CorrelationID,
		Source:        opts.Source,
		Since:         since,
		MediaDownload: opts.Media == MediaDownload,
		MaxMessages:   maxMessages,
	})
	if err != nil {
		if stats.CorrelationID != "" {
			_ = out.Error(CodeSync, "sync run failed", map[string]string{"correlation_id": stats.CorrelationID})
		}
		return WrapExitError(ExitFailure, "sync failed", err)
	}

	return out.EmitRun(stats.CorrelationID, stats, func(w io.Writer) error {
		return renderStats(w, stats)
	})
}

func renderStats(w io.Writer, stats ingest.Stats) error {
	fmt.Fprintf(w, "Sync finished: %s. correlation_id=%s\n", stats.Status, stats.CorrelationID)
	rows := []struct {
		name  string
		value int64
	}{
		{"messages_total", stats.MessagesTotal},
		{"messages_processed", stats.MessagesProcessed},
		{"orders_upserted", stats.OrdersUpserted},
		{"items_upserted", stats.ItemsUpserted},
		{"media_saved", stats.MediaSaved},
		{"media_failed", stats.MediaFailed},
		{"errors", stats.Errors},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "- %s: %d\n", r.name, r.value)
	}
	for _, res := range stats.Results {
		if res.Err != nil {
			fmt.Fprintf(w, "  ! %s: %v\n", res.MessageID, res.Err)
		}
	}
	if stats.Status == store.RunCompletedWithErrors {
		_, err := fmt.Fprintln(w, "Some messages failed; see the log for details.")
		return err
	}
	return nil
}

var sinceLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseSince reads --since. Times without a zone are UTC.
func parseSince(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range sinceLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized time %q", value)
}
