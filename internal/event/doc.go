// Package event defines the canonical ConversationEvent and the normalizer
// that produces it from raw platform payloads.
package event
