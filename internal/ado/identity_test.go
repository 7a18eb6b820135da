package ado

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestIdentity(t *testing.T, handler http.Handler) (*Identity, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	id := NewIdentity(Config{
		OrganizationURL: srv.URL,
		PAT:             "secret-pat",
	}, zap.NewNop())
	return id, srv
}

func TestIdentity_AvatarDataURI(t *testing.T) {
	var requests atomic.Int32
	png := []byte{0x89, 0x50, 0x4e, 0x47}

	mux := http.NewServeMux()
	mux.HandleFunc("/_apis/graph/avatars/", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "user-a", strings.TrimPrefix(r.URL.Path, "/_apis/graph/avatars/"))
		assert.Equal(t, DefaultAPIVersion, r.URL.Query().Get("api-version"))
		assert.Equal(t, "small", r.URL.Query().Get("size"))

		wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte(":secret-pat"))
		assert.Equal(t, wantAuth, r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	})

	identity, _ := newTestIdentity(t, mux)

	uri := identity.Avatar(context.Background(), "user-a")
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	assert.Equal(t, want, uri)

	// Second lookup is served from the cache.
	assert.Equal(t, want, identity.Avatar(context.Background(), "user-a"))
	assert.Equal(t, int32(1), requests.Load())
}

func TestIdentity_AvatarMissIsCached(t *testing.T) {
	var requests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/_apis/graph/avatars/", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	identity, _ := newTestIdentity(t, mux)

	assert.Empty(t, identity.Avatar(context.Background(), "user-a"))
	assert.Empty(t, identity.Avatar(context.Background(), "user-a"))
	assert.Equal(t, int32(1), requests.Load())
}

func TestIdentity_AvatarWithoutPAT(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without a PAT")
	}))
	defer srv.Close()

	identity := NewIdentity(Config{OrganizationURL: srv.URL}, zap.NewNop())
	assert.Empty(t, identity.Avatar(context.Background(), "user-a"))

	identity = NewIdentity(Config{OrganizationURL: srv.URL, PAT: "p"}, zap.NewNop())
	assert.Empty(t, identity.Avatar(context.Background(), ""))
}

func TestIdentity_Groups(t *testing.T) {
	var lookups, resolves atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/_apis/identities/", func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		assert.Equal(t, "Expanded", r.URL.Query().Get("queryMembership"))
		json.NewEncoder(w).Encode(map[string]any{
			"memberOf": []string{"group-1", "group-2"},
		})
	})
	mux.HandleFunc("/_apis/identities", func(w http.ResponseWriter, r *http.Request) {
		resolves.Add(1)
		assert.Equal(t, "group-1,group-2", r.URL.Query().Get("identityIds"))
		json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]string{
				{"providerDisplayName": "Backend Team"},
				{"customDisplayName": "Release Managers"},
				{"providerDisplayName": "", "customDisplayName": ""},
			},
		})
	})

	identity, _ := newTestIdentity(t, mux)

	ids, names := identity.Groups(context.Background(), "user-a")
	assert.Equal(t, []string{"group-1", "group-2"}, ids)
	assert.Equal(t, []string{"Backend Team", "Release Managers"}, names)

	// Cached, including on repeat calls.
	identity.Groups(context.Background(), "user-a")
	assert.Equal(t, int32(1), lookups.Load())
	assert.Equal(t, int32(1), resolves.Load())
}

func TestIdentity_GroupsBatchesResolves(t *testing.T) {
	memberOf := make([]string, 85)
	for i := range memberOf {
		memberOf[i] = fmt.Sprintf("group-%d", i)
	}

	var batchSizes []int
	mux := http.NewServeMux()
	mux.HandleFunc("/_apis/identities/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"memberOf": memberOf})
	})
	mux.HandleFunc("/_apis/identities", func(w http.ResponseWriter, r *http.Request) {
		ids := strings.Split(r.URL.Query().Get("identityIds"), ",")
		batchSizes = append(batchSizes, len(ids))
		value := make([]map[string]string, len(ids))
		for i, id := range ids {
			value[i] = map[string]string{"providerDisplayName": "Name " + id}
		}
		json.NewEncoder(w).Encode(map[string]any{"value": value})
	})

	identity, _ := newTestIdentity(t, mux)

	ids, names := identity.Groups(context.Background(), "user-a")
	assert.Len(t, ids, 85)
	assert.Len(t, names, 85)
	assert.Equal(t, []int{40, 40, 5}, batchSizes)
}

func TestIdentity_GroupsPartialOnResolveFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/_apis/identities/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"memberOf": []string{"group-1"}})
	})
	mux.HandleFunc("/_apis/identities", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	identity, _ := newTestIdentity(t, mux)

	ids, names := identity.Groups(context.Background(), "user-a")
	assert.Equal(t, []string{"group-1"}, ids)
	assert.Empty(t, names)
}

func TestIdentity_GroupsLookupFailureCachedEmpty(t *testing.T) {
	var lookups atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/_apis/identities/", func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	identity, _ := newTestIdentity(t, mux)

	ids, names := identity.Groups(context.Background(), "user-a")
	assert.Empty(t, ids)
	assert.Empty(t, names)

	identity.Groups(context.Background(), "user-a")
	assert.Equal(t, int32(1), lookups.Load(), "negative result must be cached")
}

func TestCache_Sweep(t *testing.T) {
	c := newCache()
	c.avatars["old"] = avatarEntry{uri: "data:...", fetched: time.Now().Add(-time.Hour)}
	c.groups["old"] = groupsEntry{ids: []string{"g"}, fetched: time.Now().Add(-time.Hour)}
	c.setAvatar("fresh", "data:...")

	removed := c.sweep(30 * time.Minute)
	assert.Equal(t, 2, removed)

	_, ok := c.avatar("old")
	assert.False(t, ok)
	_, _, ok = c.groupsFor("old")
	assert.False(t, ok)
	_, ok = c.avatar("fresh")
	assert.True(t, ok)
}
