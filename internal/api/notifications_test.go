package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcollison/hermes/internal/notify"
	"github.com/dcollison/hermes/internal/store"
)

func TestNotifications_SendManual(t *testing.T) {
	ts := newTestServer(t, "")

	received := make(chan notify.Notification, 2)
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n notify.Notification
		require.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		received <- n
	}))
	t.Cleanup(callback.Close)

	subscribed := registerBody(callback.URL)
	subscribed["subscriptions"] = []string{"manual"}
	ts.do(t, http.MethodPost, "/clients/register", subscribed, nil)

	unsubscribed := registerBody(callback.URL + "/other")
	unsubscribed["subscriptions"] = []string{"pr"}
	ts.do(t, http.MethodPost, "/clients/register", unsubscribed, nil)

	var sent sendResponse
	resp := ts.do(t, http.MethodPost, "/notifications/send", map[string]any{
		"heading": "Maintenance",
		"body":    "Server reboot at 17:00",
	}, &sent)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, sent.DispatchedTo)

	n := <-received
	assert.Equal(t, "manual", n.EventType)
	assert.Equal(t, "Maintenance", n.Heading)

	entries := ts.store.ReadLogs(10, "manual", "")
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
}

func TestNotifications_SendRequiresHeadingAndBody(t *testing.T) {
	ts := newTestServer(t, "")
	resp := ts.do(t, http.MethodPost, "/notifications/send", map[string]any{"heading": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotifications_Logs(t *testing.T) {
	ts := newTestServer(t, "")

	for i, eventType := range []string{"pr", "pipeline", "pr"} {
		payload, _ := json.Marshal(map[string]any{"seq": i})
		ts.store.AppendLog(store.NewLogEntry("client-1", eventType, payload, true, ""))
	}

	var entries []store.LogEntry
	resp := ts.do(t, http.MethodGet, "/notifications/logs?limit=10", nil, &entries)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, entries, 3)

	ts.do(t, http.MethodGet, "/notifications/logs?limit=10&event_type=pr", nil, &entries)
	assert.Len(t, entries, 2)

	ts.do(t, http.MethodGet, "/notifications/logs?limit=1", nil, &entries)
	require.Len(t, entries, 1)

	resp = ts.do(t, http.MethodGet, "/notifications/logs?limit=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
