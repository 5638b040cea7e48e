// ABOUTME: Tests for the feedback writer
// ABOUTME: Covers first-vote commit, vote change overwrite, and retry on storage failure

package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/event"
	"github.com/2389/relay-gateway/internal/store"
)

func newTestWriter(t *testing.T) (*Writer, *store.MemoryStore) {
	t.Helper()
	blobs := store.NewMemoryStore()
	w := NewWriter(blobs, nil)
	w.retryDelay = time.Millisecond
	return w, blobs
}

func TestWriter_FirstVoteCommits(t *testing.T) {
	w, blobs := newTestWriter(t)

	outcome, err := w.Record(context.Background(), Record{
		ThreadID:        "C1:100.0",
		TargetMessageID: "msg-1",
		VoterID:         "U1",
		Vote:            event.VoteUp,
		Reaction:        "+1",
	})
	require.NoError(t, err)
	assert.Equal(t, Committed, outcome)
	assert.Equal(t, 1, blobs.Len())
}

func TestWriter_VoteChangeOverwrites(t *testing.T) {
	w, blobs := newTestWriter(t)
	ctx := context.Background()

	_, err := w.Record(ctx, Record{
		ThreadID:        "C1:100.0",
		TargetMessageID: "msg-1",
		VoterID:         "U1",
		Vote:            event.VoteUp,
		Reaction:        "+1",
	})
	require.NoError(t, err)

	outcome, err := w.Record(ctx, Record{
		ThreadID:        "C1:100.0",
		TargetMessageID: "msg-1",
		VoterID:         "U1",
		Vote:            event.VoteDown,
		Reaction:        "-1",
	})
	require.NoError(t, err)
	assert.Equal(t, Overwritten, outcome)
	assert.Equal(t, 1, blobs.Len(), "vote change must not add a second record")

	data, err := blobs.Get(ctx, Record{
		ThreadID:        "C1:100.0",
		TargetMessageID: "msg-1",
		VoterID:         "U1",
	}.key())
	require.NoError(t, err)

	var stored Record
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, event.VoteDown, stored.Vote, "the later vote wins")
}

func TestWriter_DistinctVotersKeepSeparateRecords(t *testing.T) {
	w, blobs := newTestWriter(t)
	ctx := context.Background()

	for _, voter := range []string{"U1", "U2", "U3"} {
		outcome, err := w.Record(ctx, Record{
			ThreadID:        "C1:100.0",
			TargetMessageID: "msg-1",
			VoterID:         voter,
			Vote:            event.VoteUp,
		})
		require.NoError(t, err)
		assert.Equal(t, Committed, outcome)
	}
	assert.Equal(t, 3, blobs.Len())
}

// flakyStore fails the first n Puts, then delegates to a MemoryStore.
type flakyStore struct {
	*store.MemoryStore
	failures int
	calls    int
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte) (bool, error) {
	f.calls++
	if f.calls <= f.failures {
		return false, errors.New("disk on fire")
	}
	return f.MemoryStore.Put(ctx, key, data)
}

func TestWriter_RetriesTransientStorageFailure(t *testing.T) {
	blobs := &flakyStore{MemoryStore: store.NewMemoryStore(), failures: 2}
	w := NewWriter(blobs, nil)
	w.retryDelay = time.Millisecond

	outcome, err := w.Record(context.Background(), Record{
		ThreadID:        "C1:100.0",
		TargetMessageID: "msg-1",
		VoterID:         "U1",
		Vote:            event.VoteUp,
	})
	require.NoError(t, err)
	assert.Equal(t, Committed, outcome)
	assert.Equal(t, 3, blobs.calls)
}

func TestWriter_GivesUpAfterMaxRetries(t *testing.T) {
	blobs := &flakyStore{MemoryStore: store.NewMemoryStore(), failures: 100}
	w := NewWriter(blobs, nil)
	w.retryDelay = time.Millisecond

	_, err := w.Record(context.Background(), Record{
		ThreadID:        "C1:100.0",
		TargetMessageID: "msg-1",
		VoterID:         "U1",
		Vote:            event.VoteUp,
	})
	require.Error(t, err)
	assert.Equal(t, 4, blobs.calls, "one initial attempt plus three retries")
}

func TestWriter_ContextCancelStopsRetryLoop(t *testing.T) {
	blobs := &flakyStore{MemoryStore: store.NewMemoryStore(), failures: 100}
	w := NewWriter(blobs, nil)
	w.retryDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Record(ctx, Record{
		ThreadID:        "C1:100.0",
		TargetMessageID: "msg-1",
		VoterID:         "U1",
		Vote:            event.VoteUp,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, blobs.calls)
}
