// ABOUTME: Tests for the session registry
// ABOUTME: Validates reuse within TTL, lazy expiry, invalidation, and creation failures

package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCreator mints sequential session ids and can be set to fail.
type fakeCreator struct {
	calls int
	err   error
}

func (f *fakeCreator) CreateSession(ctx context.Context, threadID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.calls++
	return fmt.Sprintf("sess-%d", f.calls), nil
}

func TestRegistry_ResolveCreatesOnce(t *testing.T) {
	creator := &fakeCreator{}
	r := NewRegistry(creator, 30*time.Minute, nil)

	h1, err := r.Resolve(context.Background(), "t1")
	require.NoError(t, err)
	h2, err := r.Resolve(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, "sess-1", h1.RemoteSessionID)
	assert.Equal(t, h1.RemoteSessionID, h2.RemoteSessionID, "same thread reuses the handle within TTL")
	assert.Equal(t, 1, creator.calls)
}

func TestRegistry_ThreadsGetDistinctSessions(t *testing.T) {
	creator := &fakeCreator{}
	r := NewRegistry(creator, 30*time.Minute, nil)

	h1, err := r.Resolve(context.Background(), "t1")
	require.NoError(t, err)
	h2, err := r.Resolve(context.Background(), "t2")
	require.NoError(t, err)

	assert.NotEqual(t, h1.RemoteSessionID, h2.RemoteSessionID)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_TTLExpiryCreatesNewHandle(t *testing.T) {
	creator := &fakeCreator{}
	r := NewRegistry(creator, 30*time.Minute, nil)

	now := time.Now()
	r.now = func() time.Time { return now }

	h1, err := r.Resolve(context.Background(), "t1")
	require.NoError(t, err)

	// Shortly after: reused, last-used refreshed.
	now = now.Add(10 * time.Minute)
	h2, err := r.Resolve(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, h1.RemoteSessionID, h2.RemoteSessionID)

	// The refresh restarted the idle clock: 20 more minutes is still fine.
	now = now.Add(20 * time.Minute)
	h3, err := r.Resolve(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, h1.RemoteSessionID, h3.RemoteSessionID)

	// Past the TTL with no touches: a fresh handle.
	now = now.Add(31 * time.Minute)
	h4, err := r.Resolve(context.Background(), "t1")
	require.NoError(t, err)
	assert.NotEqual(t, h1.RemoteSessionID, h4.RemoteSessionID)
	assert.Equal(t, 2, creator.calls)
}

func TestRegistry_Invalidate(t *testing.T) {
	creator := &fakeCreator{}
	r := NewRegistry(creator, 30*time.Minute, nil)

	h1, err := r.Resolve(context.Background(), "t1")
	require.NoError(t, err)

	r.Invalidate("t1")
	assert.Equal(t, 0, r.Len())

	h2, err := r.Resolve(context.Background(), "t1")
	require.NoError(t, err)
	assert.NotEqual(t, h1.RemoteSessionID, h2.RemoteSessionID)
}

func TestRegistry_InvalidateUnknownThreadIsNoop(t *testing.T) {
	r := NewRegistry(&fakeCreator{}, 30*time.Minute, nil)
	r.Invalidate("never-seen")
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_CreateFailurePropagates(t *testing.T) {
	boom := errors.New("agent unavailable")
	creator := &fakeCreator{err: boom}
	r := NewRegistry(creator, 30*time.Minute, nil)

	_, err := r.Resolve(context.Background(), "t1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, r.Len(), "failed creation must not leave a handle behind")
}
