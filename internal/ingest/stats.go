package ingest

import "github.com/roach88/grab/internal/store"

// Stats are the counters of one run. The JSON form is what the sync_runs row
// stores.
type Stats struct {
	MessagesTotal     int64 `json:"messages_total"`
	MessagesProcessed int64 `json:"messages_processed"`
	OrdersUpserted    int64 `json:"orders_upserted"`
	ItemsUpserted     int64 `json:"items_upserted"`
	MediaSaved        int64 `json:"media_saved"`
	MediaFailed       int64 `json:"media_failed"`
	Errors            int64 `json:"errors"`

	CorrelationID string          `json:"-"`
	Status        store.RunStatus `json:"-"`
	Results       []MessageResult `json:"-"`
}

// MessageResult is the outcome of one message. Err is nil on success.
type MessageResult struct {
	MessageID string
	Orders    int
	Skipped   int
	Err       error
}

// Failed returns the results that carry an error.
func (s Stats) Failed() []MessageResult {
	var out []MessageResult
	for _, r := range s.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

func (s Stats) status() store.RunStatus {
	if s.Errors == 0 {
		return store.RunSuccess
	}
	return store.RunCompletedWithErrors
}
