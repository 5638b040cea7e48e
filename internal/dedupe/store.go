// ABOUTME: Thread-scoped dedup and ordering store for inbound events
// ABOUTME: Bounded per-thread id retention with monotone last-seen timestamps

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/2389/relay-gateway/internal/event"
)

// Decision is the outcome of offering an event to the store.
type Decision int

const (
	// Accepted means the event is new for its thread and advances the
	// thread's last-seen timestamp.
	Accepted Decision = iota

	// Duplicate means the event id was already recorded for this thread
	// within the retention window.
	Duplicate

	// Stale means the id is unseen but the timestamp is at or before the
	// thread's last accepted event; a late redelivery, never reprocessed.
	Stale
)

// String returns the lowercase name of the decision for logging.
func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// idEntry stores the record time and list element for a retained event id.
type idEntry struct {
	recordedAt time.Time
	element    *list.Element
}

// threadState holds the dedup state for one thread. The dispatcher's
// single-writer-per-thread lanes mean only one goroutine mutates a given
// threadState at a time; the mutex covers the background sweeper.
type threadState struct {
	mu            sync.Mutex
	seen          map[string]*idEntry
	order         *list.List // ids in record order, oldest at front
	lastSeenNanos int64
	lastTouched   time.Time
}

// Store is the process-wide dedup/ordering state, a concurrent map of
// per-thread states guarded individually so unrelated threads never
// serialize on a shared lock.
type Store struct {
	mu      sync.RWMutex
	threads map[string]*threadState

	retention time.Duration
	maxIDs    int
	done      chan struct{}
	closed    bool
}

// New creates a dedup store. Event ids are retained per thread until either
// the retention window elapses or the per-thread id cap is exceeded,
// whichever comes first. Forgetting very old ids is a deliberate tradeoff:
// it bounds memory at a small risk of re-accepting an ancient duplicate,
// which the timestamp check then classifies Stale anyway.
func New(retention time.Duration, maxIDsPerThread int) *Store {
	s := &Store{
		threads:   make(map[string]*threadState),
		retention: retention,
		maxIDs:    maxIDsPerThread,
		done:      make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Accept offers an event to the store and classifies it. Accepted events
// have their id recorded and advance the thread's last-seen timestamp.
func (s *Store) Accept(ev *event.ConversationEvent) Decision {
	ts := s.threadState(ev.ThreadID)

	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	ts.lastTouched = now

	if entry, ok := ts.seen[ev.DedupKey()]; ok {
		if now.Sub(entry.recordedAt) < s.retention {
			return Duplicate
		}
		// Expired entry; fall through and treat the id as unseen.
		ts.order.Remove(entry.element)
		delete(ts.seen, ev.DedupKey())
	}

	if ev.TimestampNanos <= ts.lastSeenNanos {
		return Stale
	}

	if len(ts.seen) >= s.maxIDs {
		if front := ts.order.Front(); front != nil {
			key, _ := front.Value.(string)
			ts.order.Remove(front)
			delete(ts.seen, key)
		}
	}

	elem := ts.order.PushBack(ev.DedupKey())
	ts.seen[ev.DedupKey()] = &idEntry{recordedAt: now, element: elem}
	ts.lastSeenNanos = ev.TimestampNanos
	return Accepted
}

// LastSeen returns the last accepted timestamp for a thread, zero if the
// thread is unknown.
func (s *Store) LastSeen(threadID string) int64 {
	s.mu.RLock()
	ts, ok := s.threads[threadID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastSeenNanos
}

// threadState returns the state for a thread, creating it lazily.
func (s *Store) threadState(threadID string) *threadState {
	s.mu.RLock()
	ts, ok := s.threads[threadID]
	s.mu.RUnlock()
	if ok {
		return ts
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok = s.threads[threadID]; ok {
		return ts
	}
	ts = &threadState{
		seen:        make(map[string]*idEntry),
		order:       list.New(),
		lastTouched: time.Now(),
	}
	s.threads[threadID] = ts
	return ts
}

// sweep runs in a background goroutine, periodically removing expired ids
// and evicting thread states idle past the retention window.
func (s *Store) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runSweep()
		case <-s.done:
			return
		}
	}
}

// runSweep removes expired ids and idle threads.
func (s *Store) runSweep() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for threadID, ts := range s.threads {
		ts.mu.Lock()
		for key, entry := range ts.seen {
			if now.Sub(entry.recordedAt) > s.retention {
				ts.order.Remove(entry.element)
				delete(ts.seen, key)
			}
		}
		idle := now.Sub(ts.lastTouched) > s.retention
		empty := len(ts.seen) == 0
		ts.mu.Unlock()

		// Quiet threads are forgotten entirely; their lastSeenNanos goes
		// with them, which is the documented retention tradeoff.
		if idle && empty {
			delete(s.threads, threadID)
		}
	}
}

// Close stops the background sweeper. Safe to call multiple times.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
