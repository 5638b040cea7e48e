// ABOUTME: Normalizer converting raw platform event payloads into ConversationEvents
// ABOUTME: Pure function of the payload plus fixed classification config, no side effects

package event

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedEvent indicates a payload missing required fields or carrying
// fields of the wrong type. Malformed events are dropped and logged, never
// retried.
var ErrMalformedEvent = errors.New("malformed event")

// NormalizerConfig fixes how kinds and votes are classified. The sets are
// consulted only for reaction payloads.
type NormalizerConfig struct {
	// BotUserID is the platform identity of this bot. Events it authored
	// are tagged FromBot.
	BotUserID string

	// UpReactions and DownReactions map reaction names to feedback votes.
	// A reaction outside both sets stays KindReaction.
	UpReactions   []string
	DownReactions []string
}

// Normalizer turns raw event-callback envelopes into ConversationEvents.
type Normalizer struct {
	botUserID string
	up        map[string]bool
	down      map[string]bool
}

// DefaultUpReactions and DefaultDownReactions are the vote sets used when
// the config leaves them empty.
var (
	DefaultUpReactions   = []string{"+1", "thumbsup", "white_check_mark"}
	DefaultDownReactions = []string{"-1", "thumbsdown", "x"}
)

// NewNormalizer creates a Normalizer from the given config.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	up := cfg.UpReactions
	if len(up) == 0 {
		up = DefaultUpReactions
	}
	down := cfg.DownReactions
	if len(down) == 0 {
		down = DefaultDownReactions
	}
	n := &Normalizer{
		botUserID: cfg.BotUserID,
		up:        make(map[string]bool, len(up)),
		down:      make(map[string]bool, len(down)),
	}
	for _, r := range up {
		n.up[r] = true
	}
	for _, r := range down {
		n.down[r] = true
	}
	return n
}

// Normalize converts a raw event-callback envelope into a ConversationEvent.
// The envelope carries event_id and team_id at the top level and the inner
// event under "event". Unknown extra fields are ignored for forward
// compatibility. Returns an error wrapping ErrMalformedEvent when required
// fields are absent or of the wrong type.
func (n *Normalizer) Normalize(raw map[string]any) (*ConversationEvent, error) {
	inner, ok := getMap(raw, "event")
	if !ok {
		// Bare event payloads (no envelope) are accepted as-is.
		inner = raw
	}

	eventType, _ := getString(inner, "type")
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	}

	eventID, _ := getString(raw, "event_id")
	if eventID == "" {
		// The platform omits event_id on some retry paths; fall back to the
		// client-assigned message id so dedup still has a stable key.
		eventID, _ = getString(inner, "client_msg_id")
	}
	if eventID == "" {
		return nil, fmt.Errorf("%w: missing event_id and client_msg_id", ErrMalformedEvent)
	}

	workspaceID, _ := getString(raw, "team_id")

	switch eventType {
	case "message", "app_mention":
		return n.normalizeMessage(raw, inner, eventID, workspaceID, eventType)
	case "reaction_added":
		return n.normalizeReaction(inner, eventID, workspaceID)
	default:
		return nil, fmt.Errorf("%w: unsupported event type %q", ErrMalformedEvent, eventType)
	}
}

func (n *Normalizer) normalizeMessage(raw, inner map[string]any, eventID, workspaceID, eventType string) (*ConversationEvent, error) {
	channel, _ := getString(inner, "channel")
	if channel == "" {
		return nil, fmt.Errorf("%w: missing channel", ErrMalformedEvent)
	}

	ts, ok := getString(inner, "ts")
	if !ok {
		return nil, fmt.Errorf("%w: missing ts", ErrMalformedEvent)
	}
	nanos, err := parseTimestamp(ts)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ts %q: %v", ErrMalformedEvent, ts, err)
	}

	threadTS, _ := getString(inner, "thread_ts")
	if threadTS == "" {
		threadTS = ts
	}

	author, _ := getString(inner, "user")
	text, _ := getString(inner, "text")
	subtype, _ := getString(inner, "subtype")
	channelType, _ := getString(inner, "channel_type")
	_, hasBotID := getString(inner, "bot_id")

	fromBot := subtype == "bot_message" || hasBotID ||
		(n.botUserID != "" && author == n.botUserID)

	kind := KindMessage
	if eventType == "app_mention" || n.mentionsBot(text) {
		kind = KindMention
	}

	return &ConversationEvent{
		EventID:        eventID,
		WorkspaceID:    workspaceID,
		ChannelID:      channel,
		ThreadID:       threadKey(channel, threadTS),
		ThreadTS:       threadTS,
		AuthorID:       author,
		Text:           text,
		TimestampNanos: nanos,
		Kind:           kind,
		FromBot:        fromBot,
		DirectMessage:  channelType == "im",
	}, nil
}

func (n *Normalizer) normalizeReaction(inner map[string]any, eventID, workspaceID string) (*ConversationEvent, error) {
	item, ok := getMap(inner, "item")
	if !ok {
		return nil, fmt.Errorf("%w: reaction missing item", ErrMalformedEvent)
	}
	if itemType, _ := getString(item, "type"); itemType != "" && itemType != "message" {
		return nil, fmt.Errorf("%w: reaction on non-message item %q", ErrMalformedEvent, itemType)
	}

	channel, _ := getString(item, "channel")
	targetTS, _ := getString(item, "ts")
	if channel == "" || targetTS == "" {
		return nil, fmt.Errorf("%w: reaction item missing channel or ts", ErrMalformedEvent)
	}

	eventTS, ok := getString(inner, "event_ts")
	if !ok {
		return nil, fmt.Errorf("%w: reaction missing event_ts", ErrMalformedEvent)
	}
	nanos, err := parseTimestamp(eventTS)
	if err != nil {
		return nil, fmt.Errorf("%w: bad event_ts %q: %v", ErrMalformedEvent, eventTS, err)
	}

	reaction, _ := getString(inner, "reaction")
	if reaction == "" {
		return nil, fmt.Errorf("%w: reaction missing name", ErrMalformedEvent)
	}

	author, _ := getString(inner, "user")

	// The item ts is the reacted message; without a thread_ts on the item
	// the message is its own thread root.
	threadTS, _ := getString(item, "thread_ts")
	if threadTS == "" {
		threadTS = targetTS
	}

	ev := &ConversationEvent{
		EventID:         eventID,
		WorkspaceID:     workspaceID,
		ChannelID:       channel,
		ThreadID:        threadKey(channel, threadTS),
		ThreadTS:        threadTS,
		AuthorID:        author,
		TimestampNanos:  nanos,
		Kind:            KindReaction,
		Reaction:        reaction,
		TargetMessageID: targetTS,
		FromBot:         n.botUserID != "" && author == n.botUserID,
	}

	switch {
	case n.up[reaction]:
		ev.Kind = KindFeedbackVote
		ev.Vote = VoteUp
	case n.down[reaction]:
		ev.Kind = KindFeedbackVote
		ev.Vote = VoteDown
	}

	return ev, nil
}

// mentionsBot reports whether the text contains an explicit mention of the
// configured bot user.
func (n *Normalizer) mentionsBot(text string) bool {
	if n.botUserID == "" {
		return false
	}
	return strings.Contains(text, "<@"+n.botUserID+">")
}

// threadKey joins channel and thread root into the pipeline's thread id.
func threadKey(channel, threadTS string) string {
	return channel + ":" + threadTS
}

// parseTimestamp converts a platform "seconds.fraction" timestamp string
// into nanoseconds.
func parseTimestamp(ts string) (int64, error) {
	secStr, fracStr, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return 0, err
	}
	var frac int64
	if fracStr != "" {
		// Right-pad the fraction to nanosecond precision.
		if len(fracStr) > 9 {
			fracStr = fracStr[:9]
		}
		frac, err = strconv.ParseInt(fracStr+strings.Repeat("0", 9-len(fracStr)), 10, 64)
		if err != nil {
			return 0, err
		}
	}
	return sec*1_000_000_000 + frac, nil
}

// getString fetches a string field from a raw map, reporting presence.
func getString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// getMap fetches a nested object field from a raw map.
func getMap(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	mm, ok := v.(map[string]any)
	return mm, ok
}
