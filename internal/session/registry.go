// ABOUTME: Registry of thread-to-remote-session handles with lazy TTL expiry
// ABOUTME: At most one live handle per thread; invalidation on session-not-found

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Creator is what the registry needs from the agent layer to mint sessions.
type Creator interface {
	CreateSession(ctx context.Context, threadID string) (string, error)
}

// Handle is a live remote-agent session for one thread.
type Handle struct {
	RemoteSessionID string
	CreatedAt       time.Time
	LastUsedAt      time.Time
}

// Registry tracks one session handle per thread. The dispatcher's
// single-writer-per-thread lanes guarantee no two Resolve calls race on
// the same thread; the internal lock only guards the cross-thread map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Handle

	creator Creator
	ttl     time.Duration
	now     func() time.Time // injectable for tests
	logger  *slog.Logger
}

// NewRegistry creates a registry. Handles idle longer than ttl are
// invalidated on next access rather than swept in the background.
func NewRegistry(creator Creator, ttl time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Handle),
		creator:  creator,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With("component", "session-registry"),
	}
}

// Resolve returns the thread's session handle, creating one via the agent
// when none exists or the existing handle has idled past the TTL. The
// returned value is a copy; registry state is only mutated through Resolve
// and Invalidate.
func (r *Registry) Resolve(ctx context.Context, threadID string) (Handle, error) {
	now := r.now()

	r.mu.RLock()
	h, ok := r.sessions[threadID]
	r.mu.RUnlock()

	if ok && now.Sub(h.LastUsedAt) <= r.ttl {
		r.mu.Lock()
		h.LastUsedAt = now
		out := *h
		r.mu.Unlock()
		return out, nil
	}

	if ok {
		r.logger.Debug("session expired, recreating",
			"thread_id", threadID,
			"session_id", h.RemoteSessionID,
			"idle", now.Sub(h.LastUsedAt))
		r.Invalidate(threadID)
	}

	remoteID, err := r.creator.CreateSession(ctx, threadID)
	if err != nil {
		return Handle{}, fmt.Errorf("creating session for thread %s: %w", threadID, err)
	}

	h = &Handle{
		RemoteSessionID: remoteID,
		CreatedAt:       now,
		LastUsedAt:      now,
	}

	r.mu.Lock()
	r.sessions[threadID] = h
	r.mu.Unlock()

	r.logger.Info("session created", "thread_id", threadID, "session_id", remoteID)
	return *h, nil
}

// Invalidate drops the thread's handle. Called when the agent reports the
// session as gone; the next Resolve creates a fresh one.
func (r *Registry) Invalidate(threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.sessions[threadID]; ok {
		delete(r.sessions, threadID)
		r.logger.Debug("session invalidated", "thread_id", threadID, "session_id", h.RemoteSessionID)
	}
}

// Len returns the number of live handles, for health reporting.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
