// ABOUTME: Canonical ConversationEvent type shared by the whole pipeline
// ABOUTME: Immutable once produced by the normalizer; downstream code never sees raw payloads

package event

import "fmt"

// Kind classifies a normalized event. It is assigned exactly once by the
// normalizer; every downstream component switches on it instead of
// inspecting payload fields.
type Kind int

const (
	KindMessage Kind = iota
	KindMention
	KindReaction
	KindFeedbackVote
)

// String returns the lowercase name of the kind for logging.
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindMention:
		return "mention"
	case KindReaction:
		return "reaction"
	case KindFeedbackVote:
		return "feedback_vote"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Vote is the sentiment carried by a FeedbackVote event.
type Vote int

const (
	VoteNone Vote = iota
	VoteUp
	VoteDown
)

// String returns the lowercase name of the vote for logging and storage.
func (v Vote) String() string {
	switch v {
	case VoteUp:
		return "up"
	case VoteDown:
		return "down"
	default:
		return "none"
	}
}

// ConversationEvent is the canonical form of one inbound platform event.
// Fields are immutable after normalization.
type ConversationEvent struct {
	// EventID is the platform-assigned id. At-least-once delivery means it
	// may repeat; the dedupe store owns suppression.
	EventID string

	WorkspaceID string

	// ChannelID is the platform channel the event arrived in. Replies are
	// addressed to it alongside the thread root timestamp.
	ChannelID string

	// ThreadID is the stable conversation key: channel id joined with the
	// thread root timestamp. One remote-agent session exists per ThreadID.
	ThreadID string

	// ThreadTS is the thread root timestamp within ChannelID, kept separate
	// from ThreadID so outbound replies can address the platform directly.
	ThreadTS string

	AuthorID string
	Text     string

	// TimestampNanos orders events within a thread. Derived from the
	// platform's fractional-seconds timestamp.
	TimestampNanos int64

	Kind Kind

	// Reaction is the reaction name for KindReaction and KindFeedbackVote.
	Reaction string

	// Vote is the derived sentiment for KindFeedbackVote, VoteNone otherwise.
	Vote Vote

	// TargetMessageID identifies the message a reaction or vote applies to.
	TargetMessageID string

	// FromBot marks events authored by the bot itself (or any bot-typed
	// message). The dispatcher discards these before dedup to avoid loops.
	FromBot bool

	// DirectMessage marks events from a 1:1 conversation, where the bot
	// engages without being mentioned.
	DirectMessage bool
}

// DedupKey returns the key the dedupe store tracks for this event.
// Prefers the platform event id; falls back to the client message id the
// normalizer stored in EventID when the envelope lacked one.
func (e *ConversationEvent) DedupKey() string {
	return e.EventID
}
