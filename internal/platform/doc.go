// Package platform speaks the chat platform's wire formats.
//
// The receiver accepts webhook deliveries and acknowledges them fast so
// the platform does not redeliver; actual processing happens downstream.
// The sender posts replies back into threads under an outbound rate
// limit. Markdown in agent replies is converted to the platform's
// mrkdwn dialect before sending.
package platform
