// Package agent is the client for the remote reasoning agent. It owns the
// per-call timeout, retry/backoff policy, failure classification, and the
// circuit breaker that sheds load from a degraded agent.
package agent
