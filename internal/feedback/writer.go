// ABOUTME: Feedback writer with exactly-once per-voter semantics
// ABOUTME: Serializes records to JSON and persists them via a BlobStore

package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/relay-gateway/internal/event"
	"github.com/2389/relay-gateway/internal/store"
)

// Outcome reports what a Record call did.
type Outcome int

const (
	// Committed means this was the first vote by this voter on this message.
	Committed Outcome = iota
	// Overwritten means the voter had an earlier vote that was replaced.
	Overwritten
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Overwritten:
		return "overwritten"
	default:
		return "unknown"
	}
}

// Record is one vote by one voter on one agent reply.
type Record struct {
	ThreadID        string     `json:"thread_id"`
	TargetMessageID string     `json:"target_message_id"`
	VoterID         string     `json:"voter_id"`
	Vote            event.Vote `json:"vote"`
	Reaction        string     `json:"reaction"`
	RecordedAt      time.Time  `json:"recorded_at"`
}

// key is the storage key: one slot per (thread, message, voter).
func (r Record) key() string {
	return "feedback/" + r.ThreadID + "/" + r.TargetMessageID + "/" + r.VoterID
}

// Writer persists feedback records with a bounded retry on storage failure.
type Writer struct {
	blobs      store.BlobStore
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewWriter creates a writer over the given store.
func NewWriter(blobs store.BlobStore, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		blobs:      blobs,
		maxRetries: 3,
		retryDelay: 200 * time.Millisecond,
		logger:     logger.With("component", "feedback"),
	}
}

// Record persists the vote, replacing any earlier vote by the same voter
// on the same message. Storage failures are retried a bounded number of
// times; after that the error is returned and the vote is dropped.
func (w *Writer) Record(ctx context.Context, rec Record) (Outcome, error) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return Committed, fmt.Errorf("encoding feedback record: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Committed, ctx.Err()
			case <-time.After(w.retryDelay):
			}
		}

		existed, err := w.blobs.Put(ctx, rec.key(), data)
		if err == nil {
			outcome := Committed
			if existed {
				outcome = Overwritten
			}
			w.logger.Debug("feedback recorded",
				"thread_id", rec.ThreadID,
				"message_id", rec.TargetMessageID,
				"vote", rec.Vote,
				"outcome", outcome.String())
			return outcome, nil
		}
		lastErr = err
		w.logger.Warn("feedback write failed",
			"thread_id", rec.ThreadID,
			"attempt", attempt+1,
			"error", err)
	}

	return Committed, fmt.Errorf("recording feedback after %d attempts: %w", w.maxRetries+1, lastErr)
}
