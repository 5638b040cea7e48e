// ABOUTME: Gateway construction, HTTP serving, and graceful shutdown
// ABOUTME: Builds the pipeline from config and supervises it with errgroup

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/relay-gateway/internal/agent"
	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/dedupe"
	"github.com/2389/relay-gateway/internal/dispatch"
	"github.com/2389/relay-gateway/internal/event"
	"github.com/2389/relay-gateway/internal/feedback"
	"github.com/2389/relay-gateway/internal/metrics"
	"github.com/2389/relay-gateway/internal/platform"
	"github.com/2389/relay-gateway/internal/session"
	"github.com/2389/relay-gateway/internal/store"
)

// shutdownTimeout bounds graceful shutdown after the run context ends.
const shutdownTimeout = 5 * time.Second

// Gateway owns every pipeline component and the HTTP server they hang off.
type Gateway struct {
	config     *config.Config
	logger     *slog.Logger
	store      store.BlobStore
	dedupe     *dedupe.Store
	sessions   *session.Registry
	agent      *agent.Client
	sender     *platform.Sender
	receiver   *platform.Receiver
	dispatcher *dispatch.Dispatcher
	tracker    *metrics.Tracker
	httpServer *http.Server
}

// New creates a Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	blobStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	var tracker *metrics.Tracker
	if cfg.Metrics.Enabled {
		tracker, err = metrics.NewTracker(cfg.Metrics.Path)
		if err != nil {
			blobStore.Close()
			return nil, fmt.Errorf("opening metrics tracker: %w", err)
		}
	}

	agentClient := agent.NewClient(agent.Config{
		BaseURL:     cfg.Agent.BaseURL,
		Project:     cfg.Agent.Project,
		Location:    cfg.Agent.Location,
		EngineID:    cfg.Agent.EngineID,
		Token:       cfg.Agent.Token,
		CallTimeout: cfg.Agent.CallTimeout,
		Retry: agent.RetryPolicy{
			MaxAttempts:    cfg.Pipeline.RetryMaxAttempts,
			BackoffBase:    cfg.Pipeline.RetryBackoff,
			BackoffCeiling: cfg.Pipeline.RetryBackoffCeiling,
		},
		BreakerThreshold: cfg.Pipeline.BreakerThreshold,
		BreakerCooldown:  cfg.Pipeline.BreakerCooldown,
	}, logger)

	normalizer := event.NewNormalizer(event.NormalizerConfig{
		BotUserID:     cfg.Platform.BotUserID,
		UpReactions:   cfg.Platform.UpReactions,
		DownReactions: cfg.Platform.DownReactions,
	})

	dedupeStore := dedupe.New(cfg.Pipeline.DedupRetention, cfg.Pipeline.MaxIDsPerThread)
	sessions := session.NewRegistry(agentClient, cfg.Pipeline.SessionTTL, logger)

	sender := platform.NewSender(platform.SenderConfig{
		BaseURL:           cfg.Platform.APIBaseURL,
		Token:             cfg.Platform.BotToken,
		MessagesPerSecond: cfg.Platform.SendRate,
	}, logger)

	fbWriter := feedback.NewWriter(blobStore, logger)

	var rec dispatch.MetricsRecorder
	if tracker != nil {
		rec = tracker
	}
	dispatcher := dispatch.New(dispatch.Config{
		RespondToAll: cfg.Platform.RespondToAll,
		LaneBuffer:   cfg.Pipeline.LaneBuffer,
		ErrorReply:   cfg.Pipeline.ErrorReply,
	}, normalizer, dedupeStore, sessions, agentClient, sender, fbWriter, rec, logger)

	gw := &Gateway{
		config:     cfg,
		logger:     logger.With("component", "gateway"),
		store:      blobStore,
		dedupe:     dedupeStore,
		sessions:   sessions,
		agent:      agentClient,
		sender:     sender,
		receiver:   platform.NewReceiver(dispatcher, logger),
		dispatcher: dispatcher,
		tracker:    tracker,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", gw.receiver.HandleEvents)
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run starts the HTTP server and blocks until the context is canceled
// or the server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		g.logger.Info("context canceled, initiating shutdown")

		// Fresh context: the run context is already canceled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return g.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// Shutdown stops the HTTP server, drains the dispatcher, and releases
// every component in reverse dependency order.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// No new events arrive once the server is down; drain what is queued.
	g.dispatcher.Close()
	g.dedupe.Close()

	if g.tracker != nil {
		errs = appendCloseError(errs, "metrics close", g.tracker.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the backing store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	_, err := g.store.Get(r.Context(), "health/probe")
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "store unavailable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
