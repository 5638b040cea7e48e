// ABOUTME: Dispatcher with per-thread serial lanes and the event state machine
// ABOUTME: Gating, dedup, session resolution, agent calls, and reply delivery

package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/relay-gateway/internal/agent"
	"github.com/2389/relay-gateway/internal/dedupe"
	"github.com/2389/relay-gateway/internal/event"
	"github.com/2389/relay-gateway/internal/feedback"
	"github.com/2389/relay-gateway/internal/metrics"
	"github.com/2389/relay-gateway/internal/session"
)

// defaultErrorReply is posted into the thread when the agent call fails
// for good.
const defaultErrorReply = "Sorry, I ran into a problem answering that. Please try again in a moment."

// AgentCaller is the slice of the agent client the dispatcher needs.
type AgentCaller interface {
	Send(ctx context.Context, sessionID, message string) (*agent.Result, error)
}

// SessionResolver maps threads to remote agent sessions.
type SessionResolver interface {
	Resolve(ctx context.Context, threadID string) (session.Handle, error)
	Invalidate(threadID string)
}

// ReplySender posts replies back into platform threads.
type ReplySender interface {
	Post(ctx context.Context, channelID, threadTS, text string) error
}

// FeedbackRecorder persists feedback votes.
type FeedbackRecorder interface {
	Record(ctx context.Context, rec feedback.Record) (feedback.Outcome, error)
}

// Normalizer turns raw payloads into ConversationEvents.
type Normalizer interface {
	Normalize(raw map[string]any) (*event.ConversationEvent, error)
}

// MetricsRecorder appends one row per terminal outcome. Optional.
type MetricsRecorder interface {
	Record(row metrics.Row) error
}

// Config tunes dispatcher behavior.
type Config struct {
	// RespondToAll makes the bot answer every channel message, not just
	// mentions. Direct messages are always answered.
	RespondToAll bool
	// LaneBuffer is the per-thread queue depth. Zero means 32.
	LaneBuffer int
	// ErrorReply overrides the message posted when an agent call fails.
	ErrorReply string
}

// Dispatcher owns the lanes and the per-event state machine.
type Dispatcher struct {
	cfg        Config
	normalizer Normalizer
	dedupe     *dedupe.Store
	sessions   SessionResolver
	agent      AgentCaller
	sender     ReplySender
	feedback   FeedbackRecorder
	metrics    MetricsRecorder
	logger     *slog.Logger

	mu     sync.Mutex
	lanes  map[string]chan *event.ConversationEvent
	wg     sync.WaitGroup
	closed bool
}

// New creates a dispatcher. metrics may be nil.
func New(
	cfg Config,
	normalizer Normalizer,
	dedupeStore *dedupe.Store,
	sessions SessionResolver,
	agentClient AgentCaller,
	sender ReplySender,
	fb FeedbackRecorder,
	m MetricsRecorder,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.LaneBuffer <= 0 {
		cfg.LaneBuffer = 32
	}
	if cfg.ErrorReply == "" {
		cfg.ErrorReply = defaultErrorReply
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:        cfg,
		normalizer: normalizer,
		dedupe:     dedupeStore,
		sessions:   sessions,
		agent:      agentClient,
		sender:     sender,
		feedback:   fb,
		metrics:    m,
		logger:     logger.With("component", "dispatch"),
		lanes:      make(map[string]chan *event.ConversationEvent),
	}
}

// Submit accepts a raw webhook payload. The receiver has already acked
// it; everything from here on is best-effort with logging.
func (d *Dispatcher) Submit(raw map[string]any) {
	ev, err := d.normalizer.Normalize(raw)
	if err != nil {
		d.logger.Warn("dropping malformed event", "error", err)
		d.track("", "unknown", "malformed", 0)
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dropping event during shutdown", "event_id", ev.EventID)
		return
	}
	lane, ok := d.lanes[ev.ThreadID]
	if !ok {
		lane = make(chan *event.ConversationEvent, d.cfg.LaneBuffer)
		d.lanes[ev.ThreadID] = lane
		d.wg.Add(1)
		go d.runLane(lane)
	}
	// The send happens under the lock so Close cannot close the lane
	// between the closed check and the send. The default arm keeps it
	// non-blocking, so the lock is never held for long.
	var dropped bool
	select {
	case lane <- ev:
	default:
		dropped = true
	}
	d.mu.Unlock()

	if dropped {
		// A full lane means the thread is badly backed up. Dropping here
		// beats blocking the webhook path.
		d.logger.Warn("lane full, dropping event",
			"thread_id", ev.ThreadID, "event_id", ev.EventID)
		d.track(ev.ThreadID, ev.Kind.String(), "lane_full", 0)
	}
}

// Close stops accepting events, drains every lane, and waits for
// in-flight processing to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, lane := range d.lanes {
		close(lane)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) runLane(lane chan *event.ConversationEvent) {
	defer d.wg.Done()
	for ev := range lane {
		d.process(ev)
	}
}

func (d *Dispatcher) process(ev *event.ConversationEvent) {
	start := time.Now()
	outcome := d.step(ev)
	d.track(ev.ThreadID, ev.Kind.String(), outcome, time.Since(start))
}

// step runs one event through the state machine and returns the
// terminal outcome label.
func (d *Dispatcher) step(ev *event.ConversationEvent) string {
	// Loop guard comes before dedup so bot echoes never pollute the
	// per-thread ordering watermark.
	if ev.FromBot {
		return "bot_loop"
	}

	switch decision := d.dedupe.Accept(ev); decision {
	case dedupe.Duplicate:
		d.logger.Debug("suppressing duplicate",
			"thread_id", ev.ThreadID, "event_id", ev.EventID)
		return "duplicate"
	case dedupe.Stale:
		d.logger.Debug("suppressing stale event",
			"thread_id", ev.ThreadID, "event_id", ev.EventID)
		return "stale"
	}

	switch ev.Kind {
	case event.KindFeedbackVote:
		return d.recordVote(ev)
	case event.KindReaction:
		// Reactions outside the vote sets carry no signal.
		return "ignored"
	case event.KindMessage, event.KindMention:
		if !d.addressed(ev) {
			return "not_addressed"
		}
		return d.deliver(ev)
	default:
		return "ignored"
	}
}

// addressed reports whether the bot should answer this event.
func (d *Dispatcher) addressed(ev *event.ConversationEvent) bool {
	if ev.DirectMessage {
		return true
	}
	if ev.Kind == event.KindMention {
		return true
	}
	return d.cfg.RespondToAll
}

// deliver resolves the session, calls the agent, and posts the reply.
func (d *Dispatcher) deliver(ev *event.ConversationEvent) string {
	ctx := context.Background()

	handle, err := d.sessions.Resolve(ctx, ev.ThreadID)
	if err != nil {
		d.logger.Error("session resolve failed",
			"thread_id", ev.ThreadID, "error", err)
		d.postError(ctx, ev)
		return "session_error"
	}

	result, err := d.agent.Send(ctx, handle.RemoteSessionID, ev.Text)
	if err != nil && agent.IsSessionNotFound(err) {
		// The remote side expired the session out from under us. Mint a
		// fresh one and retry exactly once.
		d.logger.Info("remote session expired, recreating",
			"thread_id", ev.ThreadID)
		d.sessions.Invalidate(ev.ThreadID)
		handle, err = d.sessions.Resolve(ctx, ev.ThreadID)
		if err != nil {
			d.logger.Error("session recreate failed",
				"thread_id", ev.ThreadID, "error", err)
			d.postError(ctx, ev)
			return "session_error"
		}
		result, err = d.agent.Send(ctx, handle.RemoteSessionID, ev.Text)
	}
	if err != nil {
		d.logger.Error("agent call failed",
			"thread_id", ev.ThreadID, "event_id", ev.EventID, "error", err)
		d.postError(ctx, ev)
		return "agent_error"
	}

	if result.ReplyText == "" {
		d.logger.Info("agent returned empty reply", "thread_id", ev.ThreadID)
		return "empty_reply"
	}

	if err := d.sender.Post(ctx, ev.ChannelID, ev.ThreadTS, result.ReplyText); err != nil {
		d.logger.Error("reply delivery failed",
			"thread_id", ev.ThreadID, "error", err)
		return "send_error"
	}
	return "delivered"
}

func (d *Dispatcher) recordVote(ev *event.ConversationEvent) string {
	outcome, err := d.feedback.Record(context.Background(), feedback.Record{
		ThreadID:        ev.ThreadID,
		TargetMessageID: ev.TargetMessageID,
		VoterID:         ev.AuthorID,
		Vote:            ev.Vote,
		Reaction:        ev.Reaction,
	})
	if err != nil {
		d.logger.Error("feedback record failed",
			"thread_id", ev.ThreadID, "error", err)
		return "feedback_error"
	}
	return "feedback_" + outcome.String()
}

func (d *Dispatcher) postError(ctx context.Context, ev *event.ConversationEvent) {
	if err := d.sender.Post(ctx, ev.ChannelID, ev.ThreadTS, d.cfg.ErrorReply); err != nil {
		d.logger.Error("error reply delivery failed",
			"thread_id", ev.ThreadID, "error", err)
	}
}

func (d *Dispatcher) track(threadID, kind, outcome string, latency time.Duration) {
	if d.metrics == nil {
		return
	}
	if err := d.metrics.Record(metrics.Row{
		Kind:     kind,
		ThreadID: threadID,
		Outcome:  outcome,
		Latency:  latency,
	}); err != nil {
		d.logger.Warn("metrics record failed", "error", err)
	}
}
