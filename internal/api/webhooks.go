package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/dcollison/hermes/internal/metrics"
	"github.com/dcollison/hermes/internal/notify"
)

// WebhookHandler receives ADO webhook events. It validates the shared
// secret, extracts the event type, and hands the payload to the pipeline on
// a background goroutine so ADO gets its 200 before any identity lookups or
// client deliveries happen — ADO retries aggressively on slow responses.
type WebhookHandler struct {
	formatter  *notify.Formatter
	dispatcher *notify.Dispatcher
	secret     string
	logger     *zap.Logger
}

// NewWebhookHandler creates a WebhookHandler. An empty secret disables
// signature verification.
func NewWebhookHandler(formatter *notify.Formatter, dispatcher *notify.Dispatcher, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		formatter:  formatter,
		dispatcher: dispatcher,
		secret:     secret,
		logger:     logger.Named("webhook_handler"),
	}
}

// Receive handles POST /webhooks/ado. Configure the ADO service hook to
// POST here; the optional shared secret arrives as an X-Hub-Signature
// header carrying "sha1=<hex HMAC of the body>".
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		ErrBadRequest(w, "failed to read request body")
		return
	}

	if !h.verifySignature(body, r.Header.Get("X-Hub-Signature")) {
		metrics.WebhooksRejected.WithLabelValues("bad_signature").Inc()
		h.logger.Warn("webhook received with invalid signature", zap.String("remote_addr", r.RemoteAddr))
		ErrUnauthorized(w, "invalid webhook secret")
		return
	}

	payload, err := notify.DecodePayload(body)
	if err != nil {
		metrics.WebhooksRejected.WithLabelValues("invalid_json").Inc()
		ErrBadRequest(w, "invalid JSON body")
		return
	}

	eventType, _ := payload["eventType"].(string)
	if eventType == "" {
		metrics.WebhooksRejected.WithLabelValues("missing_event_type").Inc()
		ErrBadRequest(w, "missing eventType")
		return
	}

	metrics.WebhooksReceived.WithLabelValues(eventType).Inc()
	h.logger.Info("received ADO webhook", zap.String("event_type", eventType))

	// The request context dies with the response; processing runs to
	// completion on its own.
	go h.process(context.Background(), eventType, payload)

	Ok(w, envelope{"status": "accepted", "eventType": eventType})
}

func (h *WebhookHandler) process(ctx context.Context, eventType string, payload map[string]any) {
	n := h.formatter.Format(ctx, eventType, payload)
	if n == nil {
		metrics.EventsDropped.WithLabelValues(eventType).Inc()
		h.logger.Debug("event produced no notification", zap.String("event_type", eventType))
		return
	}
	h.dispatcher.Dispatch(ctx, n)
}

// verifySignature checks the X-Hub-Signature header against an HMAC-SHA1 of
// the body. Comparison is constant-time. With no secret configured every
// request passes.
func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if h.secret == "" {
		return true
	}
	if signature == "" {
		return false
	}
	mac := hmac.New(sha1.New, []byte(h.secret))
	mac.Write(body)
	expected := "sha1=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
