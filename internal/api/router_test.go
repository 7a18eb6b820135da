package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dcollison/hermes/internal/notify"
	"github.com/dcollison/hermes/internal/store"
)

// nopIdentity is an IdentityResolver that knows nothing.
type nopIdentity struct{}

func (nopIdentity) Avatar(context.Context, string) string { return "" }
func (nopIdentity) Groups(context.Context, string) ([]string, []string) { return nil, nil }

type testServer struct {
	*httptest.Server
	store *store.Store
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	logger := zap.NewNop()

	s, err := store.Open(t.TempDir(), 5*1024*1024, 3, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	formatter := notify.NewFormatter(nopIdentity{}, logger)
	dispatcher := notify.NewDispatcher(s, notify.NewRouter(nopIdentity{}), logger)

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Store:         s,
		Formatter:     formatter,
		Dispatcher:    dispatcher,
		Logger:        logger,
		WebhookSecret: secret,
		PublicURL:     "http://hermes.example.com:8000",
	}))
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, store: s}
}

// do sends a JSON request to the test server and decodes the response into
// out when out is non-nil.
func (ts *testServer) do(t *testing.T, method, path string, body, out any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestRouter_Health(t *testing.T) {
	ts := newTestServer(t, "")

	var body map[string]any
	resp := ts.do(t, http.MethodGet, "/health", nil, &body)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "http://hermes.example.com:8000", body["public_url"])
}

func TestRouter_Metrics(t *testing.T) {
	ts := newTestServer(t, "")
	resp := ts.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
