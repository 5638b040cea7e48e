// ABOUTME: HTTP client for the remote reasoning agent's streaming query API
// ABOUTME: Wraps the transport with timeout, bounded retry, and the circuit breaker

package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Status is the terminal classification of an agent call after the client's
// own retry policy has run.
type Status int

const (
	StatusOk Status = iota
	StatusRetryable
	StatusFatal
)

// String returns the lowercase name of the status for logging.
func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusRetryable:
		return "retryable"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Send call.
type Result struct {
	ReplyText string
	Status    Status
}

// Config holds the remote agent endpoint and call discipline settings.
type Config struct {
	// BaseURL is the API root, e.g. "https://region-aiplatform.example.com/v1".
	BaseURL  string
	Project  string
	Location string
	EngineID string

	// Token is the bearer token presented on every call. Token rotation is
	// outside this component's scope.
	Token string

	// CallTimeout is the hard per-call deadline. Remote agents may do
	// multi-step reasoning, so the default is generous.
	CallTimeout time.Duration

	Retry RetryPolicy

	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Client invokes the remote agent. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	cfg        Config
	retry      RetryPolicy
	breaker    *Breaker
	logger     *slog.Logger
}

// NewClient creates an agent client from the given config, filling in
// defaults for unset call-discipline fields.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	// Fill retry fields individually so a config that sets only the
	// attempt count still gets working backoff bounds.
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Retry.BackoffBase <= 0 {
		cfg.Retry.BackoffBase = defaultBackoffBase
	}
	if cfg.Retry.BackoffCeiling <= 0 {
		cfg.Retry.BackoffCeiling = defaultBackoffCeiling
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Minute
	}
	return &Client{
		// No client-level timeout: the per-call context deadline governs,
		// including time spent reading the stream.
		httpClient: &http.Client{},
		cfg:        cfg,
		retry:      cfg.Retry,
		breaker:    NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, logger),
		logger:     logger.With("component", "agent-client"),
	}
}

// engineURL builds the reasoning-engine method URL.
func (c *Client) engineURL(method string) string {
	return fmt.Sprintf("%s/projects/%s/locations/%s/reasoningEngines/%s:%s",
		c.cfg.BaseURL, c.cfg.Project, c.cfg.Location, c.cfg.EngineID, method)
}

// CreateSession asks the remote agent for a new session scoped to a thread.
// It runs under the same call discipline as Send: while the breaker is open
// new-thread traffic is shed without touching the transport, and transient
// failures are retried with backoff.
func (c *Client) CreateSession(ctx context.Context, threadID string) (string, error) {
	if !c.breaker.Allow() {
		return "", ErrBreakerOpen
	}

	var sessionID string
	err := c.withRetry(ctx, "create_session", func() error {
		id, err := c.createSession(ctx, threadID)
		if err == nil {
			sessionID = id
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// createSession performs a single create_session call under the per-call
// timeout.
func (c *Client) createSession(ctx context.Context, threadID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	body := map[string]any{
		"class_method": "create_session",
		"input":        map[string]any{"user_id": threadID},
	}

	resp, err := c.post(ctx, c.engineURL("query"), body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.errorFromResponse(resp)
	}

	var out struct {
		Output struct {
			ID string `json:"id"`
		} `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &CallError{Kind: KindInvalidRequest, Err: fmt.Errorf("decoding create_session response: %w", err)}
	}
	if out.Output.ID == "" {
		return "", &CallError{Kind: KindInvalidRequest, Err: fmt.Errorf("create_session returned empty id")}
	}

	c.logger.Debug("session created", "thread_id", threadID, "session_id", out.Output.ID)
	return out.Output.ID, nil
}

// Send invokes the agent with a message on an existing session, applying
// the retry policy and circuit breaker. Session-not-found is returned
// immediately (Status Retryable) so the caller can invalidate the handle
// and retry once with a fresh session; it never consumes retry attempts
// and does not count against the breaker, since the downstream itself is
// healthy.
func (c *Client) Send(ctx context.Context, sessionID, message string) (*Result, error) {
	if !c.breaker.Allow() {
		return &Result{Status: StatusFatal}, ErrBreakerOpen
	}

	var reply string
	err := c.withRetry(ctx, "stream_query", func() error {
		text, err := c.invoke(ctx, sessionID, message)
		if err == nil {
			reply = text
		}
		return err
	})
	switch {
	case err == nil:
		return &Result{ReplyText: reply, Status: StatusOk}, nil
	case IsSessionNotFound(err):
		return &Result{Status: StatusRetryable}, err
	default:
		return &Result{Status: StatusFatal}, err
	}
}

// withRetry runs one logical agent call under the retry policy, recording
// the terminal outcome on the breaker. Session-not-found short-circuits
// without consuming attempts or recording a breaker failure.
func (c *Client) withRetry(ctx context.Context, name string, call func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		err := call()
		if err == nil {
			c.breaker.RecordSuccess()
			return nil
		}
		lastErr = err

		if IsSessionNotFound(err) {
			return err
		}
		if !IsRetryable(err) {
			c.breaker.RecordFailure()
			return err
		}

		if attempt < c.retry.MaxAttempts {
			delay := c.retry.Delay(attempt)
			c.logger.Warn("agent call failed, retrying",
				"call", name,
				"attempt", attempt,
				"delay", delay,
				"error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				c.breaker.RecordFailure()
				return fmt.Errorf("retry wait: %w", ctx.Err())
			}
		}
	}

	c.breaker.RecordFailure()
	return fmt.Errorf("retries exhausted after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

// invoke performs a single streaming query call under the per-call timeout
// and returns the agent's final reply text.
func (c *Client) invoke(ctx context.Context, sessionID, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	body := map[string]any{
		"class_method": "stream_query",
		"input": map[string]any{
			"message":    message,
			"session_id": sessionID,
		},
	}

	resp, err := c.post(ctx, c.engineURL("streamQuery")+"?alt=sse", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.errorFromResponse(resp)
	}

	reply, err := readStreamReply(resp.Body)
	if err != nil {
		return "", classifyTransportError(fmt.Errorf("reading stream: %w", err))
	}
	return reply, nil
}

// post issues a JSON POST with the bearer token, classifying transport
// failures.
func (c *Client) post(ctx context.Context, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &CallError{Kind: KindInvalidRequest, Err: fmt.Errorf("encoding request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &CallError{Kind: KindInvalidRequest, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return resp, nil
}

// errorFromResponse drains a non-200 response and classifies it. The body
// is read for error context before closing.
func (c *Client) errorFromResponse(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	kind := classifyStatus(resp.StatusCode)
	return &CallError{
		Kind: kind,
		Err:  fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(detail)),
	}
}

// streamLine is one line of the agent's line-delimited JSON stream.
type streamLine struct {
	Content struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"content"`
}

// readStreamReply consumes the streamed response and returns the last text
// chunk, which carries the agent's consolidated final reply. Unparseable
// lines are skipped; the agent interleaves keepalives and tool traces the
// relay does not consume.
func readStreamReply(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var final string
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		line = bytes.TrimPrefix(line, []byte("data: "))

		var sl streamLine
		if err := json.Unmarshal(line, &sl); err != nil {
			continue
		}
		if len(sl.Content.Parts) == 0 {
			continue
		}
		if text := sl.Content.Parts[0].Text; text != "" {
			final = text
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return final, nil
}
