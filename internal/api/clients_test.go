package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerBody(callbackURL string) map[string]any {
	return map[string]any{
		"name":          "Alice's PC",
		"callback_url":  callbackURL,
		"ado_user_id":   "user-a",
		"display_name":  "Alice Smith",
		"subscriptions": []string{"pr", "manual"},
	}
}

func TestClients_Register(t *testing.T) {
	ts := newTestServer(t, "")

	var created clientResponse
	resp := ts.do(t, http.MethodPost, "/clients/register", registerBody("http://192.168.1.50:9000/notify"), &created)

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Alice's PC", created.Name)
	assert.Equal(t, []string{"pr", "manual"}, created.Subscriptions)
	assert.True(t, created.Active)
	assert.Nil(t, created.LastSeen)
}

func TestClients_RegisterIsIdempotentOnCallbackURL(t *testing.T) {
	ts := newTestServer(t, "")

	var first clientResponse
	ts.do(t, http.MethodPost, "/clients/register", registerBody("http://192.168.1.50:9000/notify"), &first)

	body := registerBody("http://192.168.1.50:9000/notify")
	body["name"] = "Alice's Laptop"
	var second clientResponse
	resp := ts.do(t, http.MethodPost, "/clients/register", body, &second)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Alice's Laptop", second.Name)

	var clients []clientResponse
	ts.do(t, http.MethodGet, "/clients/", nil, &clients)
	assert.Len(t, clients, 1)
}

func TestClients_RegisterReactivatesDeleted(t *testing.T) {
	ts := newTestServer(t, "")

	var c clientResponse
	ts.do(t, http.MethodPost, "/clients/register", registerBody("http://192.168.1.50:9000/notify"), &c)
	resp := ts.do(t, http.MethodDelete, "/clients/"+c.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var again clientResponse
	ts.do(t, http.MethodPost, "/clients/register", registerBody("http://192.168.1.50:9000/notify"), &again)
	assert.Equal(t, c.ID, again.ID)
	assert.True(t, again.Active)
}

func TestClients_RegisterValidation(t *testing.T) {
	ts := newTestServer(t, "")

	cases := map[string]map[string]any{
		"missing name": {
			"callback_url": "http://x:9000/notify",
			"ado_user_id":  "u",
		},
		"missing callback_url": {
			"name":        "PC",
			"ado_user_id": "u",
		},
		"relative callback_url": {
			"name":         "PC",
			"callback_url": "notify",
			"ado_user_id":  "u",
		},
		"unknown subscription tag": {
			"name":          "PC",
			"callback_url":  "http://x:9000/notify",
			"ado_user_id":   "u",
			"subscriptions": []string{"pr", "everything"},
		},
	}

	for name, body := range cases {
		resp := ts.do(t, http.MethodPost, "/clients/register", body, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
	}

	var clients []clientResponse
	ts.do(t, http.MethodGet, "/clients/", nil, &clients)
	assert.Empty(t, clients)
}

func TestClients_RegisterDefaultsSubscriptions(t *testing.T) {
	ts := newTestServer(t, "")

	body := registerBody("http://x:9000/notify")
	delete(body, "subscriptions")

	var created clientResponse
	resp := ts.do(t, http.MethodPost, "/clients/register", body, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{"pr", "workitem", "pipeline", "manual"}, created.Subscriptions)
}

func TestClients_DeleteUnknown(t *testing.T) {
	ts := newTestServer(t, "")
	resp := ts.do(t, http.MethodDelete, "/clients/no-such-id", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClients_DeleteIsIdempotent(t *testing.T) {
	ts := newTestServer(t, "")

	var c clientResponse
	ts.do(t, http.MethodPost, "/clients/register", registerBody("http://x:9000/notify"), &c)

	resp := ts.do(t, http.MethodDelete, "/clients/"+c.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Deleting an already-inactive client still succeeds.
	resp = ts.do(t, http.MethodDelete, "/clients/"+c.ID, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClients_UpdateSubscriptions(t *testing.T) {
	ts := newTestServer(t, "")

	var c clientResponse
	ts.do(t, http.MethodPost, "/clients/register", registerBody("http://x:9000/notify"), &c)

	var updated clientResponse
	resp := ts.do(t, http.MethodPut, "/clients/"+c.ID+"/subscriptions", []string{"all"}, &updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"all"}, updated.Subscriptions)

	resp = ts.do(t, http.MethodPut, "/clients/"+c.ID+"/subscriptions", []string{"nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPut, "/clients/no-such-id/subscriptions", []string{"pr"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
