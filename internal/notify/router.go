package notify

import (
	"context"
	"strings"

	"github.com/dcollison/hermes/internal/store"
)

// Router decides, per client, whether a notification is relevant. Group
// membership is resolved lazily through the identity service only when a
// notification mentions names and the client's user id did not already
// match.
type Router struct {
	identity IdentityResolver
}

// NewRouter creates a Router backed by the given identity service.
func NewRouter(identity IdentityResolver) *Router {
	return &Router{identity: identity}
}

// IsRelevant reports whether the client should receive the notification:
//
//  1. The event type must be in the client's subscriptions ("all" matches
//     everything).
//  2. Manual notifications go to every subscriber.
//  3. A client is not told about its own actions — unless it is explicitly
//     mentioned, which is how PR authors learn their own PR was merged.
//  4. Empty mentions are a broadcast to all subscribers.
//  5. Otherwise the client matches on its user id, or failing that on a
//     case-insensitive intersection between its ADO group names and the
//     mentioned names.
//
// The predicate never fails: an identity lookup error surfaces as "no
// groups" and the group branch simply does not match.
func (rt *Router) IsRelevant(ctx context.Context, c *store.Client, n *Notification) bool {
	if !subscribed(c.Subscriptions, n.EventType) {
		return false
	}
	if n.EventType == EventManual {
		return true
	}

	mentioned := contains(n.Mentions.UserIDs, c.ADOUserID)

	if n.ActorID != "" && c.ADOUserID != "" && n.ActorID == c.ADOUserID && !mentioned {
		return false
	}

	if len(n.Mentions.UserIDs) == 0 && len(n.Mentions.Names) == 0 {
		return true
	}
	if mentioned {
		return true
	}

	if c.ADOUserID != "" && len(n.Mentions.Names) > 0 {
		wanted := make(map[string]bool, len(n.Mentions.Names))
		for _, name := range n.Mentions.Names {
			wanted[strings.ToLower(name)] = true
		}
		_, groups := rt.identity.Groups(ctx, c.ADOUserID)
		for _, group := range groups {
			if wanted[strings.ToLower(group)] {
				return true
			}
		}
	}
	return false
}

func subscribed(subs []string, eventType string) bool {
	return contains(subs, eventType) || contains(subs, SubscriptionAll)
}

func contains(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
