package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dcollison/hermes/internal/notify"
	"github.com/dcollison/hermes/internal/store"
)

// validate checks request bodies. Subscription tags must come from the set
// of event types clients can subscribe to.
var validate = validator.New()

const subscriptionTags = "dive,oneof=pr workitem pipeline manual all"

// ClientHandler groups the client-registry HTTP handlers.
type ClientHandler struct {
	store  *store.Store
	logger *zap.Logger
}

// NewClientHandler creates a ClientHandler.
func NewClientHandler(s *store.Store, logger *zap.Logger) *ClientHandler {
	return &ClientHandler{
		store:  s,
		logger: logger.Named("client_handler"),
	}
}

// clientResponse is the JSON representation of a registered client.
type clientResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	CallbackURL   string   `json:"callback_url"`
	ADOUserID     string   `json:"ado_user_id"`
	DisplayName   string   `json:"display_name"`
	Subscriptions []string `json:"subscriptions"`
	Active        bool     `json:"active"`
	RegisteredAt  string   `json:"registered_at"`
	LastSeen      *string  `json:"last_seen"`
}

func clientToResponse(c *store.Client) clientResponse {
	resp := clientResponse{
		ID:            c.ID,
		Name:          c.Name,
		CallbackURL:   c.CallbackURL,
		ADOUserID:     c.ADOUserID,
		DisplayName:   c.DisplayName,
		Subscriptions: c.Subscriptions,
		Active:        c.Active,
		RegisteredAt:  c.RegisteredAt.UTC().Format(time.RFC3339),
	}
	if c.LastSeen != nil {
		s := c.LastSeen.UTC().Format(time.RFC3339)
		resp.LastSeen = &s
	}
	return resp
}

// registerRequest is the JSON body expected by POST /clients/register.
type registerRequest struct {
	Name          string   `json:"name" validate:"required"`
	CallbackURL   string   `json:"callback_url" validate:"required,url"`
	ADOUserID     string   `json:"ado_user_id" validate:"required"`
	DisplayName   string   `json:"display_name"`
	Subscriptions []string `json:"subscriptions" validate:"omitempty,dive,oneof=pr workitem pipeline manual all"`
}

// Register handles POST /clients/register.
//
// Registration is idempotent on callback_url: re-registering updates the
// existing record and reactivates it, so clients can safely call this on
// every startup.
func (h *ClientHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		ErrBadRequest(w, "invalid registration: "+err.Error())
		return
	}
	if req.Subscriptions == nil {
		req.Subscriptions = notify.DefaultSubscriptions()
	}

	existing, err := h.store.GetClientByCallback(req.CallbackURL)
	switch {
	case err == nil:
		existing.Name = req.Name
		existing.ADOUserID = req.ADOUserID
		existing.DisplayName = req.DisplayName
		existing.Subscriptions = req.Subscriptions
		existing.Active = true
		if err := h.store.SaveClient(existing); err != nil {
			h.logger.Error("failed to update client", zap.String("id", existing.ID), zap.Error(err))
			ErrInternal(w)
			return
		}
		h.logger.Info("updated client registration",
			zap.String("name", req.Name),
			zap.String("callback_url", req.CallbackURL),
		)
		Ok(w, clientToResponse(existing))

	case errors.Is(err, store.ErrNotFound):
		c := store.NewClient(req.Name, req.CallbackURL, req.ADOUserID, req.DisplayName, req.Subscriptions)
		if err := h.store.SaveClient(c); err != nil {
			h.logger.Error("failed to register client", zap.Error(err))
			ErrInternal(w)
			return
		}
		h.logger.Info("registered new client",
			zap.String("name", req.Name),
			zap.String("callback_url", req.CallbackURL),
		)
		Created(w, clientToResponse(c))

	default:
		h.logger.Error("failed to look up client", zap.Error(err))
		ErrInternal(w)
	}
}

// List handles GET /clients.
func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	clients, err := h.store.ListClients()
	if err != nil {
		h.logger.Error("failed to list clients", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]clientResponse, len(clients))
	for i, c := range clients {
		items[i] = clientToResponse(c)
	}
	Ok(w, items)
}

// Delete handles DELETE /clients/{id}. Soft-deletes the client — the record
// is retained so old delivery log entries still resolve.
func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.DeleteClient(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete client", zap.String("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, envelope{"status": "unregistered", "id": id})
}

// UpdateSubscriptions handles PUT /clients/{id}/subscriptions. The body is a
// bare JSON array of subscription tags.
func (h *ClientHandler) UpdateSubscriptions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var subs []string
	if !decodeJSON(w, r, &subs) {
		return
	}
	if err := validate.Var(subs, subscriptionTags); err != nil {
		ErrBadRequest(w, "invalid subscriptions: "+err.Error())
		return
	}

	c, err := h.store.GetClient(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get client", zap.String("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}

	c.Subscriptions = subs
	if err := h.store.SaveClient(c); err != nil {
		h.logger.Error("failed to update subscriptions", zap.String("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, clientToResponse(c))
}
