// ABOUTME: Outbound reply sender posting into platform threads
// ABOUTME: Rate limited with x/time/rate, one retry on transient failure

package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// SenderConfig configures the outbound sender.
type SenderConfig struct {
	// BaseURL is the platform Web API root, e.g. https://slack.example.com/api.
	BaseURL string
	// Token authenticates outbound calls.
	Token string
	// MessagesPerSecond caps the outbound post rate. Zero means 1/s.
	MessagesPerSecond float64
	// Timeout bounds each HTTP call. Zero means 10s.
	Timeout time.Duration
}

// Sender posts replies into threads.
type Sender struct {
	cfg     SenderConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewSender creates a sender for the platform Web API.
func NewSender(cfg SenderConfig, logger *slog.Logger) *Sender {
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), 1),
		logger:  logger.With("component", "sender"),
	}
}

// rejectionError is a platform rejection carried in an ok:false body, e.g.
// invalid_auth or channel_not_found. Repeating the same request cannot
// succeed, so rejections are never retried.
type rejectionError struct {
	code string
}

func (e *rejectionError) Error() string {
	return "platform rejected message: " + e.code
}

// isTransient reports whether a post failure is worth one more attempt.
// Rejections and client-side HTTP statuses are permanent; transport
// failures, 429 and 5xx are transient.
func isTransient(err error) bool {
	var rej *rejectionError
	return !errors.As(err, &rej)
}

// Post sends text into the thread identified by channel and threadTS.
// Markdown is converted to mrkdwn before sending. A transient failure
// is retried once; platform rejections surface immediately.
func (s *Sender) Post(ctx context.Context, channelID, threadTS, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for send slot: %w", err)
	}

	body := map[string]string{
		"channel": channelID,
		"text":    ToMrkdwn(text),
	}
	if threadTS != "" {
		body["thread_ts"] = threadTS
	}

	err := s.post(ctx, body)
	if err == nil {
		return nil
	}
	if !isTransient(err) {
		return fmt.Errorf("posting reply: %w", err)
	}

	s.logger.Warn("reply post failed, retrying once",
		"channel", channelID, "error", err)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}
	if err := s.post(ctx, body); err != nil {
		return fmt.Errorf("posting reply: %w", err)
	}
	return nil
}

func (s *Sender) post(ctx context.Context, body map[string]string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.BaseURL+"/chat.postMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("platform returned status %d", resp.StatusCode)
		}
		return &rejectionError{code: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !result.OK {
		return &rejectionError{code: result.Error}
	}
	return nil
}
