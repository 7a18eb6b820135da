package api

import (
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/dcollison/hermes/internal/notify"
	"github.com/dcollison/hermes/internal/store"
)

// NotificationHandler serves manual notifications and the delivery log.
type NotificationHandler struct {
	store      *store.Store
	dispatcher *notify.Dispatcher
	logger     *zap.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(s *store.Store, dispatcher *notify.Dispatcher, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		store:      s,
		dispatcher: dispatcher,
		logger:     logger.Named("notification_handler"),
	}
}

// sendRequest is the JSON body expected by POST /notifications/send.
type sendRequest struct {
	Heading   string `json:"heading" validate:"required"`
	Body      string `json:"body" validate:"required"`
	URL       string `json:"url"`
	AvatarB64 string `json:"avatar_b64"`
}

// sendResponse reports how many clients a manual notification went to.
type sendResponse struct {
	DispatchedTo int    `json:"dispatched_to"`
	Message      string `json:"message"`
}

// Send handles POST /notifications/send. The notification is broadcast to
// every active client subscribed to manual events.
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		ErrBadRequest(w, "invalid notification: "+err.Error())
		return
	}

	n := notify.NewManualNotification(req.Heading, req.Body, req.URL, req.AvatarB64)
	count := h.dispatcher.Dispatch(r.Context(), n)

	message := fmt.Sprintf("Notification sent to %d client(s)", count)
	if count == 0 {
		message = "No clients subscribed to manual notifications"
	}
	Ok(w, sendResponse{DispatchedTo: count, Message: message})
}

// Logs handles GET /notifications/logs?limit=&event_type=&client_id=.
// Entries come back newest first.
func (h *NotificationHandler) Logs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			ErrBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries := h.store.ReadLogs(limit,
		r.URL.Query().Get("event_type"),
		r.URL.Query().Get("client_id"),
	)
	Ok(w, entries)
}
