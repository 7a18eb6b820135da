package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dcollison/hermes/internal/metrics"
	"github.com/dcollison/hermes/internal/store"
)

// deliveryTimeout bounds each POST to a client callback.
const deliveryTimeout = 5 * time.Second

// Registry is the slice of the store the dispatcher needs.
type Registry interface {
	ListClients() ([]*store.Client, error)
	SaveClient(c *store.Client) error
	AppendLog(entry *store.LogEntry)
}

// Dispatcher fans a notification out to every relevant registered client.
// All per-client work — relevance evaluation and delivery — runs
// concurrently, and a failure toward one client never affects the others.
type Dispatcher struct {
	registry Registry
	router   *Router
	http     *http.Client
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(registry Registry, router *Router, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		router:   router,
		http:     &http.Client{Timeout: deliveryTimeout},
		logger:   logger.Named("dispatcher"),
	}
}

// Dispatch sends the notification to every active client the router deems
// relevant and returns how many clients were eligible. Each attempt appends
// exactly one delivery log entry; successful deliveries also bump the
// client's last_seen.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notification) int {
	clients, err := d.registry.ListClients()
	if err != nil {
		d.logger.Error("load clients failed", zap.Error(err))
		return 0
	}

	payload, err := json.Marshal(n)
	if err != nil {
		d.logger.Error("encode notification failed", zap.Error(err))
		return 0
	}

	var eligible atomic.Int64
	var g errgroup.Group
	for _, c := range clients {
		if !c.Active {
			continue
		}
		c := c
		g.Go(func() error {
			if !d.router.IsRelevant(ctx, c, n) {
				return nil
			}
			eligible.Add(1)
			d.deliver(ctx, c, n.EventType, payload)
			return nil
		})
	}
	g.Wait()

	return int(eligible.Load())
}

// deliver POSTs the notification to one client and records the outcome.
func (d *Dispatcher) deliver(ctx context.Context, c *store.Client, eventType string, payload []byte) {
	start := time.Now()
	err := d.post(ctx, c.CallbackURL, payload)
	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		metrics.Deliveries.WithLabelValues("failure").Inc()
		d.logger.Warn("delivery failed",
			zap.String("client", c.Name),
			zap.String("callback_url", c.CallbackURL),
			zap.Error(err),
		)
	} else {
		metrics.Deliveries.WithLabelValues("success").Inc()
		d.logger.Info("notified client",
			zap.String("client", c.Name),
			zap.String("callback_url", c.CallbackURL),
		)
		now := time.Now().UTC()
		c.LastSeen = &now
		if err := d.registry.SaveClient(c); err != nil {
			d.logger.Error("update last_seen failed", zap.String("client_id", c.ID), zap.Error(err))
		}
	}

	d.registry.AppendLog(store.NewLogEntry(c.ID, eventType, payload, err == nil, errMsg))
}

func (d *Dispatcher) post(ctx context.Context, callbackURL string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: client returned status %d", resp.StatusCode)
	}
	return nil
}
