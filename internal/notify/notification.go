// Package notify is the server's notification pipeline: the Formatter
// collapses raw ADO webhook payloads into normalized notifications carrying
// a mentions routing envelope, and the Dispatcher fans each notification
// out over HTTP to every registered client whose subscriptions, identity,
// or group membership make it a relevant recipient.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Normalized event type tags. Clients subscribe to these, not to raw ADO
// event types.
const (
	EventPR       = "pr"
	EventWorkitem = "workitem"
	EventPipeline = "pipeline"
	EventManual   = "manual"

	// SubscriptionAll in a client's subscription list matches every
	// event type.
	SubscriptionAll = "all"
)

// DefaultSubscriptions is what a client gets when it registers without an
// explicit subscription list.
func DefaultSubscriptions() []string {
	return []string{EventPR, EventWorkitem, EventPipeline, EventManual}
}

// Mentions is the routing envelope attached to every notification: the
// identity ids and display names the event concerns. Empty mentions mean a
// broadcast.
type Mentions struct {
	UserIDs []string `json:"user_ids"`
	Names   []string `json:"names"`
}

func newMentions() Mentions {
	return Mentions{UserIDs: []string{}, Names: []string{}}
}

// Notification is the normalized envelope POSTed to clients and stored
// verbatim in the delivery log. Every field is always present in the JSON
// encoding; optional values are empty strings.
type Notification struct {
	EventType   string         `json:"event_type"`
	Heading     string         `json:"heading"`
	Body        string         `json:"body"`
	URL         string         `json:"url"`
	Project     string         `json:"project"`
	AvatarB64   string         `json:"avatar_b64"`
	StatusImage string         `json:"status_image"`
	Actor       string         `json:"actor"`
	ActorID     string         `json:"actor_id"`
	Mentions    Mentions       `json:"mentions"`
	Meta        map[string]any `json:"meta"`
}

// NewManualNotification builds the broadcast notification behind the manual
// send API. Empty mentions deliver it to every client subscribed to manual
// events.
func NewManualNotification(heading, body, url, avatarB64 string) *Notification {
	return &Notification{
		EventType: EventManual,
		Heading:   heading,
		Body:      body,
		URL:       url,
		AvatarB64: avatarB64,
		Actor:     "Hermes",
		Mentions:  newMentions(),
		Meta:      map[string]any{},
	}
}

// IdentityResolver supplies avatars and group memberships from ADO. Both
// lookups degrade to empty results on failure rather than returning errors.
type IdentityResolver interface {
	Avatar(ctx context.Context, identityID string) string
	Groups(ctx context.Context, identityID string) (ids, names []string)
}

// DecodePayload parses a webhook body into a loosely-typed tree. Numbers
// are kept as json.Number so ids round-trip without float formatting.
func DecodePayload(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("notify: decode payload: %w", err)
	}
	return payload, nil
}
