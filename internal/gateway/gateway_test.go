// ABOUTME: Tests for gateway construction, health endpoints, and end-to-end flow
// ABOUTME: Uses httptest fakes for the remote agent and the chat platform API

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/config"
)

// fakeAgentServer mimics the reasoning-engine API: session creation plus
// streaming queries.
func fakeAgentServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	var sessions sync.Map
	var n int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ":query"):
			n++
			id := fmt.Sprintf("sess-%d", n)
			sessions.Store(id, true)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"output": map[string]any{"id": id},
			})
		case strings.HasSuffix(r.URL.Path, ":streamQuery"):
			fmt.Fprintf(w, `{"content":{"parts":[{"text":"thinking..."}]}}`+"\n")
			fmt.Fprintf(w, `{"content":{"parts":[{"text":%q}]}}`+"\n", reply)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// fakePlatformServer records chat.postMessage calls.
type fakePlatformServer struct {
	srv   *httptest.Server
	mu    sync.Mutex
	posts []map[string]string
}

func newFakePlatformServer(t *testing.T) *fakePlatformServer {
	t.Helper()
	f := &fakePlatformServer{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.posts = append(f.posts, body)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakePlatformServer) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

func testConfig(t *testing.T, agentURL, platformURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Platform: config.PlatformConfig{
			BotUserID:  "UBOT",
			BotToken:   "xoxb-test",
			APIBaseURL: platformURL,
			SendRate:   1000,
		},
		Agent: config.AgentConfig{
			BaseURL:  agentURL,
			Project:  "p1",
			Location: "us-central1",
			EngineID: "eng-1",
			Token:    "tok",
		},
		Pipeline: config.PipelineConfig{
			DedupRetention:   time.Hour,
			MaxIDsPerThread:  500,
			SessionTTL:       30 * time.Minute,
			RetryMaxAttempts: 1,
		},
		Database: config.DatabaseConfig{
			Path: filepath.Join(t.TempDir(), "relay.db"),
		},
	}
}

func newTestGateway(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()
	gw, err := New(cfg, nil)
	require.NoError(t, err)
	return gw
}

func TestGateway_HealthEndpoints(t *testing.T) {
	agentSrv := fakeAgentServer(t, "hi")
	platformSrv := newFakePlatformServer(t)
	gw := newTestGateway(t, testConfig(t, agentSrv.URL, platformSrv.srv.URL))
	defer func() { _ = gw.Shutdown(context.Background()) }()

	w := httptest.NewRecorder()
	gw.httpServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	gw.httpServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", w.Body.String())
}

func TestGateway_URLVerificationThroughServer(t *testing.T) {
	agentSrv := fakeAgentServer(t, "hi")
	platformSrv := newFakePlatformServer(t)
	gw := newTestGateway(t, testConfig(t, agentSrv.URL, platformSrv.srv.URL))
	defer func() { _ = gw.Shutdown(context.Background()) }()

	body := `{"type":"url_verification","challenge":"xyz"}`
	w := httptest.NewRecorder()
	gw.httpServer.Handler.ServeHTTP(w,
		httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "xyz", resp["challenge"])
}

func TestGateway_MentionFlowsEndToEnd(t *testing.T) {
	agentSrv := fakeAgentServer(t, "the answer is 42")
	platformSrv := newFakePlatformServer(t)
	gw := newTestGateway(t, testConfig(t, agentSrv.URL, platformSrv.srv.URL))
	defer func() { _ = gw.Shutdown(context.Background()) }()

	payload := `{
		"type": "event_callback",
		"event_id": "Ev1",
		"team_id": "T1",
		"event": {
			"type": "app_mention",
			"channel": "C1",
			"ts": "100.000100",
			"user": "U1",
			"text": "<@UBOT> what is the answer?"
		}
	}`
	w := httptest.NewRecorder()
	gw.httpServer.Handler.ServeHTTP(w,
		httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(payload)))
	require.Equal(t, http.StatusOK, w.Code, "webhook must be acked immediately")

	require.Eventually(t, func() bool {
		return platformSrv.postCount() == 1
	}, 5*time.Second, 10*time.Millisecond, "reply should reach the platform")

	platformSrv.mu.Lock()
	defer platformSrv.mu.Unlock()
	assert.Equal(t, "C1", platformSrv.posts[0]["channel"])
	assert.Equal(t, "100.000100", platformSrv.posts[0]["thread_ts"])
	assert.Equal(t, "the answer is 42", platformSrv.posts[0]["text"])
}

func TestGateway_DuplicateDeliveryPostsOnce(t *testing.T) {
	agentSrv := fakeAgentServer(t, "once")
	platformSrv := newFakePlatformServer(t)
	gw := newTestGateway(t, testConfig(t, agentSrv.URL, platformSrv.srv.URL))

	payload := `{
		"type": "event_callback",
		"event_id": "Ev1",
		"team_id": "T1",
		"event": {
			"type": "app_mention",
			"channel": "C1",
			"ts": "100.000100",
			"user": "U1",
			"text": "<@UBOT> hello"
		}
	}`
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		gw.httpServer.Handler.ServeHTTP(w,
			httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(payload)))
		require.Equal(t, http.StatusOK, w.Code)
	}

	require.NoError(t, gw.Shutdown(context.Background()))
	assert.Equal(t, 1, platformSrv.postCount(), "redeliveries must collapse to one reply")
}

func TestGateway_RunStopsOnContextCancel(t *testing.T) {
	agentSrv := fakeAgentServer(t, "hi")
	platformSrv := newFakePlatformServer(t)
	gw := newTestGateway(t, testConfig(t, agentSrv.URL, platformSrv.srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	// Give the server a moment to start before canceling.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "graceful shutdown should return nil")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}
