// ABOUTME: Inbound webhook receiver for chat platform event deliveries
// ABOUTME: Answers url_verification challenges and fast-acks event callbacks

package platform

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// maxBodyBytes caps webhook payloads; platform events are small.
const maxBodyBytes = 1 << 20

// EventSink receives raw event payloads accepted by the receiver.
// Submit must not block; the webhook response is already committed.
type EventSink interface {
	Submit(raw map[string]any)
}

// Receiver handles the platform's webhook endpoint.
type Receiver struct {
	sink   EventSink
	logger *slog.Logger
}

// NewReceiver creates a receiver that forwards payloads to sink.
func NewReceiver(sink EventSink, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		sink:   sink,
		logger: logger.With("component", "receiver"),
	}
}

// HandleEvents is the webhook endpoint. It echoes url_verification
// challenges and acknowledges event callbacks with 200 before any
// downstream processing happens.
func (rc *Receiver) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	// Correlation id for tracing one delivery through the logs.
	deliveryID := uuid.NewString()

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		rc.logger.Warn("rejecting non-JSON webhook delivery",
			"delivery_id", deliveryID, "error", err)
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if typ, _ := payload["type"].(string); typ == "url_verification" {
		challenge, _ := payload["challenge"].(string)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"challenge": challenge})
		return
	}

	// Ack first. The platform redelivers on slow responses, which would
	// show up downstream as duplicates.
	w.WriteHeader(http.StatusOK)

	rc.logger.Debug("accepted webhook delivery", "delivery_id", deliveryID)
	rc.sink.Submit(payload)
}
