// ABOUTME: Tests for the agent client against a fake reasoning-engine server
// ABOUTME: Covers streaming replies, failure classification, retry exhaustion, and breaker refusal

package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient builds a client pointed at the server with fast retry timing.
func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:  srv.URL,
		Project:  "p1",
		Location: "us-central1",
		EngineID: "eng-1",
		Token:    "test-token",
		Retry: RetryPolicy{
			MaxAttempts:    3,
			BackoffBase:    time.Millisecond,
			BackoffCeiling: 5 * time.Millisecond,
		},
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	}, nil)
}

func TestClient_SendStreamedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.Path, "reasoningEngines/eng-1:streamQuery")

		fmt.Fprintln(w, `{"content":{"parts":[{"text":"thinking..."}]}}`)
		fmt.Fprintln(w, `not-json-keepalive`)
		fmt.Fprintln(w, `{"content":{"parts":[{"text":"final answer"}]}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	res, err := c.Send(context.Background(), "sess-1", "hello")
	require.NoError(t, err)

	assert.Equal(t, StatusOk, res.Status)
	assert.Equal(t, "final answer", res.ReplyText)
}

func TestClient_CreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":query")
		fmt.Fprintln(w, `{"output":{"id":"remote-sess-9"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	id, err := c.CreateSession(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "remote-sess-9", id)
}

func TestClient_PartialRetryConfigGetsDefaultCeiling(t *testing.T) {
	// Built the way the server wires it: attempts and base from config,
	// ceiling left unset.
	c := NewClient(Config{
		BaseURL: "http://agent.invalid",
		Retry:   RetryPolicy{MaxAttempts: 3, BackoffBase: 500 * time.Millisecond},
	}, nil)

	assert.Equal(t, 3, c.retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, c.retry.BackoffBase)
	assert.Equal(t, defaultBackoffCeiling, c.retry.BackoffCeiling)

	d := c.retry.Delay(1)
	assert.Greater(t, d, time.Duration(0))
}

func TestClient_CreateSessionRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, `{"output":{"id":"remote-sess-2"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	id, err := c.CreateSession(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, "remote-sess-2", id)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_CreateSessionShedWhileBreakerOpen(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	c := testClient(t, srv)

	// Fatal create outcomes count toward the breaker threshold.
	for i := 0; i < 3; i++ {
		_, err := c.CreateSession(context.Background(), "t1")
		require.Error(t, err)
	}
	transportCalls := calls.Load()

	// New-thread traffic is shed without touching the transport.
	_, err := c.CreateSession(context.Background(), "t2")
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, transportCalls, calls.Load())
}

func TestClient_SessionNotFoundReturnsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "session not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	res, err := c.Send(context.Background(), "gone", "hello")

	assert.Equal(t, StatusRetryable, res.Status)
	assert.True(t, IsSessionNotFound(err))
	assert.Equal(t, int32(1), calls.Load(), "session-not-found must not consume retries")

	// Not a downstream degradation: the breaker stays closed.
	assert.True(t, c.breaker.Allow())
}

func TestClient_RetryableExhaustsToFatal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "downstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	res, err := c.Send(context.Background(), "sess-1", "hello")

	assert.Equal(t, StatusFatal, res.Status)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_RetryableThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, `{"content":{"parts":[{"text":"recovered"}]}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	res, err := c.Send(context.Background(), "sess-1", "hello")
	require.NoError(t, err)

	assert.Equal(t, StatusOk, res.Status)
	assert.Equal(t, "recovered", res.ReplyText)
}

func TestClient_FatalDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	res, err := c.Send(context.Background(), "sess-1", "hello")

	assert.Equal(t, StatusFatal, res.Status)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "invalid-request failures are not retried")
}

func TestClient_BreakerOpensAndShedsLoad(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	c := testClient(t, srv)

	// Three consecutive fatal outcomes open the breaker.
	for i := 0; i < 3; i++ {
		res, err := c.Send(context.Background(), "sess-1", "hello")
		assert.Equal(t, StatusFatal, res.Status)
		require.Error(t, err)
	}
	transportCalls := calls.Load()

	// The next call fails immediately without touching the transport.
	res, err := c.Send(context.Background(), "sess-1", "hello")
	assert.Equal(t, StatusFatal, res.Status)
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, transportCalls, calls.Load())
}

func TestClient_ErrorKindClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusGatewayTimeout, KindTimeout},
		{http.StatusRequestTimeout, KindTimeout},
		{http.StatusNotFound, KindSessionNotFound},
		{http.StatusUnauthorized, KindPermissionDenied},
		{http.StatusForbidden, KindPermissionDenied},
		{http.StatusTooManyRequests, KindUnavailable},
		{http.StatusInternalServerError, KindUnavailable},
		{http.StatusBadRequest, KindInvalidRequest},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.kind, classifyStatus(tc.status), "status %d", tc.status)
	}
}

func TestClient_PerCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client disconnect and
		// cancels the request context; otherwise Close deadlocks here.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:     srv.URL,
		Project:     "p1",
		Location:    "l1",
		EngineID:    "eng-1",
		CallTimeout: 20 * time.Millisecond,
		Retry:       RetryPolicy{MaxAttempts: 1, BackoffBase: time.Millisecond, BackoffCeiling: time.Millisecond},
	}, nil)

	start := time.Now()
	res, err := c.Send(context.Background(), "sess-1", "hello")
	assert.Equal(t, StatusFatal, res.Status)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "deadline must be enforced locally")
}
