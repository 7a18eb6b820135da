package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dcollison/hermes/internal/notify"
	"github.com/dcollison/hermes/internal/store"
)

// RouterConfig holds all dependencies needed to build the HTTP router.
// It is populated in main.go after all components are initialized and
// passed to NewRouter as a single struct.
type RouterConfig struct {
	Store      *store.Store
	Formatter  *notify.Formatter
	Dispatcher *notify.Dispatcher
	Logger     *zap.Logger

	// WebhookSecret enables X-Hub-Signature verification when non-empty.
	WebhookSecret string

	// PublicURL is the advertised base URL, reported by /health.
	PublicURL string
}

// NewRouter builds and returns the fully configured Chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// RequestID generates a unique ID for each request, used in logs and
	// response headers for tracing.
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or X-Real-IP
	// headers when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)

	// RequestLogger logs every request with method, path, status and latency.
	r.Use(RequestLogger(cfg.Logger))

	// Recoverer catches panics in handlers, logs them, and returns a 500
	// instead of crashing the server.
	r.Use(middleware.Recoverer)

	webhookHandler := NewWebhookHandler(cfg.Formatter, cfg.Dispatcher, cfg.WebhookSecret, cfg.Logger)
	clientHandler := NewClientHandler(cfg.Store, cfg.Logger)
	notificationHandler := NewNotificationHandler(cfg.Store, cfg.Dispatcher, cfg.Logger)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/ado", webhookHandler.Receive)
	})

	r.Route("/clients", func(r chi.Router) {
		r.Post("/register", clientHandler.Register)
		r.Get("/", clientHandler.List)
		r.Delete("/{id}", clientHandler.Delete)
		r.Put("/{id}/subscriptions", clientHandler.UpdateSubscriptions)
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Post("/send", notificationHandler.Send)
		r.Get("/logs", notificationHandler.Logs)
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		Ok(w, envelope{"status": "ok", "service": "Hermes", "public_url": cfg.PublicURL})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
