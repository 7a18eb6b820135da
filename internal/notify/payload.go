package notify

import (
	"encoding/json"
	"fmt"
)

// identityRef is the slice of an ADO identity object the formatter cares
// about. ID falls back to uniqueName when the payload carries no GUID.
type identityRef struct {
	ID          string
	DisplayName string
}

// name returns the display name, or "Someone" when the payload offered none.
func (i identityRef) name() string {
	if i.DisplayName == "" {
		return "Someone"
	}
	return i.DisplayName
}

// identityFrom extracts an identityRef from a raw identity object.
func identityFrom(m map[string]any) identityRef {
	id := getString(m, "id")
	if id == "" {
		id = getString(m, "uniqueName")
	}
	return identityRef{ID: id, DisplayName: getString(m, "displayName")}
}

// identityAt extracts the identity object stored under key, or a zero ref.
func identityAt(m map[string]any, key string) identityRef {
	return identityFrom(getMap(m, key))
}

// identityList extracts a list of identity objects (e.g. PR reviewers).
func identityList(m map[string]any, key string) []identityRef {
	raw, _ := m[key].([]any)
	refs := make([]identityRef, 0, len(raw))
	for _, item := range raw {
		if obj, ok := item.(map[string]any); ok {
			refs = append(refs, identityFrom(obj))
		}
	}
	return refs
}

// flexIdentity reads a work-item field that is either an identity object or a
// bare display string, returning the ref (zero ID for strings) and the name.
func flexIdentity(fields map[string]any, key string) (identityRef, string) {
	switch v := fields[key].(type) {
	case map[string]any:
		ref := identityFrom(v)
		return ref, ref.DisplayName
	case string:
		return identityRef{}, v
	default:
		return identityRef{}, ""
	}
}

// buildMentions assembles the routing envelope from identity refs. Refs with
// no id, the actor, and duplicates are skipped; display names are collected
// alongside in insertion order.
func buildMentions(actorID string, idents ...identityRef) Mentions {
	m := newMentions()
	seen := make(map[string]bool, len(idents))
	for _, ident := range idents {
		if ident.ID == "" || ident.ID == actorID || seen[ident.ID] {
			continue
		}
		seen[ident.ID] = true
		m.UserIDs = append(m.UserIDs, ident.ID)
		if ident.DisplayName != "" {
			m.Names = append(m.Names, ident.DisplayName)
		}
	}
	return m
}

// add appends an identity regardless of who the actor is, skipping only
// duplicates. Used where an event must reach its own actor.
func (m *Mentions) add(ident identityRef) {
	if ident.ID == "" {
		return
	}
	for _, id := range m.UserIDs {
		if id == ident.ID {
			return
		}
	}
	m.UserIDs = append(m.UserIDs, ident.ID)
	if ident.DisplayName == "" {
		return
	}
	for _, n := range m.Names {
		if n == ident.DisplayName {
			return
		}
	}
	m.Names = append(m.Names, ident.DisplayName)
}

// getMap returns the object stored under key, or nil.
func getMap(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

// getString returns the string stored under key, or "".
func getString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// getStringDefault returns the string stored under key, or def when missing
// or empty.
func getStringDefault(m map[string]any, key, def string) string {
	if v := getString(m, key); v != "" {
		return v
	}
	return def
}

// getNumber renders a numeric or string field as a string. ADO ids arrive as
// JSON numbers; DecodePayload preserves them as json.Number so they format
// without a float exponent.
func getNumber(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case json.Number:
		return v.String()
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
