package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Client is a registered notification endpoint: a desktop daemon that
// accepts POSTed notifications on its callback URL.
//
// CallbackURL is unique across records — re-registering with the same URL
// updates the existing record instead of creating a duplicate. Records are
// soft-deleted (Active=false) and never physically removed, so delivery log
// entries keep a valid client reference.
type Client struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	CallbackURL   string     `json:"callback_url"`
	ADOUserID     string     `json:"ado_user_id"`
	DisplayName   string     `json:"display_name"`
	Subscriptions []string   `json:"subscriptions"`
	Active        bool       `json:"active"`
	RegisteredAt  time.Time  `json:"registered_at"`
	LastSeen      *time.Time `json:"last_seen"`
}

// LogEntry records one delivery attempt to one client. Payload holds the
// notification exactly as it was POSTed.
type LogEntry struct {
	ID        string          `json:"id"`
	ClientID  string          `json:"client_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Success   bool            `json:"success"`
	Error     string          `json:"error"`
	SentAt    time.Time       `json:"sent_at"`
}

// NewClient builds a Client with a fresh ID and registration timestamp.
// LastSeen stays nil until the first successful delivery.
func NewClient(name, callbackURL, adoUserID, displayName string, subscriptions []string) *Client {
	return &Client{
		ID:            uuid.NewString(),
		Name:          name,
		CallbackURL:   callbackURL,
		ADOUserID:     adoUserID,
		DisplayName:   displayName,
		Subscriptions: subscriptions,
		Active:        true,
		RegisteredAt:  time.Now().UTC(),
	}
}

// NewLogEntry builds a LogEntry stamped with the current time.
func NewLogEntry(clientID, eventType string, payload json.RawMessage, success bool, errMsg string) *LogEntry {
	return &LogEntry{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		EventType: eventType,
		Payload:   payload,
		Success:   success,
		Error:     errMsg,
		SentAt:    time.Now().UTC(),
	}
}
