// Package ado talks to the Azure DevOps REST API to resolve actor avatars
// and group memberships, authenticated with HTTP Basic over a PAT.
//
// Both lookups are cached in-process for the lifetime of the server,
// negative results included, so repeated webhook events for the same users
// don't hammer the ADO API. Failures are soft: a broken or unconfigured ADO
// connection degrades to "no avatar" and "no groups", never an error.
package ado

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dcollison/hermes/internal/metrics"
)

// DefaultAPIVersion is sent as the api-version query parameter unless
// configured otherwise. ADO Server also accepts the legacy "1.0".
const DefaultAPIVersion = "5.1-preview"

const requestTimeout = 10 * time.Second

// groupBatchSize is the number of identity ids resolved per batched
// identities call.
const groupBatchSize = 40

// Config holds the connection settings for the ADO REST API.
type Config struct {
	// OrganizationURL is the base URL of the ADO collection, e.g.
	// https://ado.example.com/DefaultCollection.
	OrganizationURL string
	// PAT is the Personal Access Token. When empty, all lookups return
	// empty results without calling ADO.
	PAT string
	// APIVersion overrides DefaultAPIVersion when set.
	APIVersion string
	// InsecureSkipVerify disables TLS verification toward ADO.
	InsecureSkipVerify bool
}

// Identity resolves avatars and group memberships. Safe for concurrent use;
// concurrent lookups for the same id are collapsed into one ADO call.
type Identity struct {
	baseURL    string
	pat        string
	apiVersion string
	http       *http.Client
	cache      *cache
	sf         singleflight.Group
	logger     *zap.Logger
}

// NewIdentity creates an Identity service with a fresh cache.
func NewIdentity(cfg Config, logger *zap.Logger) *Identity {
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	transport := http.DefaultTransport
	if cfg.InsecureSkipVerify {
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return &Identity{
		baseURL:    strings.TrimRight(cfg.OrganizationURL, "/"),
		pat:        cfg.PAT,
		apiVersion: apiVersion,
		http:       &http.Client{Timeout: requestTimeout, Transport: transport},
		cache:      newCache(),
		logger:     logger.Named("ado"),
	}
}

// Avatar returns the identity's avatar as a base64 data URI, or "" when the
// avatar is unavailable for any reason. Results, including misses, are
// cached for the lifetime of the process.
func (i *Identity) Avatar(ctx context.Context, identityID string) string {
	if identityID == "" || i.pat == "" || i.baseURL == "" {
		return ""
	}
	if uri, ok := i.cache.avatar(identityID); ok {
		metrics.IdentityCache.WithLabelValues("avatar", "hit").Inc()
		return uri
	}
	metrics.IdentityCache.WithLabelValues("avatar", "miss").Inc()

	v, _, _ := i.sf.Do("avatar:"+identityID, func() (any, error) {
		if uri, ok := i.cache.avatar(identityID); ok {
			return uri, nil
		}
		uri := i.fetchAvatar(ctx, identityID)
		i.cache.setAvatar(identityID, uri)
		return uri, nil
	})
	return v.(string)
}

func (i *Identity) fetchAvatar(ctx context.Context, identityID string) string {
	endpoint := fmt.Sprintf("%s/_apis/graph/avatars/%s", i.baseURL, url.PathEscape(identityID))
	resp, err := i.get(ctx, endpoint, url.Values{"size": {"small"}})
	if err != nil {
		i.logger.Debug("avatar fetch failed", zap.String("identity_id", identityID), zap.Error(err))
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		i.logger.Debug("avatar fetch failed",
			zap.String("identity_id", identityID),
			zap.Int("status", resp.StatusCode),
		)
		return ""
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		i.logger.Debug("avatar read failed", zap.String("identity_id", identityID), zap.Error(err))
		return ""
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(body))
}

// Groups returns the ids and display names of the ADO groups the identity
// belongs to. Lookup is two-step: the identity record supplies group ids
// via memberOf, then ids are resolved to names in batches. Errors yield
// whatever was accumulated so far; results, including empty ones, are
// cached for the lifetime of the process.
func (i *Identity) Groups(ctx context.Context, identityID string) ([]string, []string) {
	if identityID == "" || i.pat == "" || i.baseURL == "" {
		return nil, nil
	}
	if ids, names, ok := i.cache.groupsFor(identityID); ok {
		metrics.IdentityCache.WithLabelValues("groups", "hit").Inc()
		return ids, names
	}
	metrics.IdentityCache.WithLabelValues("groups", "miss").Inc()

	type result struct{ ids, names []string }
	v, _, _ := i.sf.Do("groups:"+identityID, func() (any, error) {
		if ids, names, ok := i.cache.groupsFor(identityID); ok {
			return result{ids, names}, nil
		}
		ids, names := i.fetchGroups(ctx, identityID)
		i.cache.setGroups(identityID, ids, names)
		return result{ids, names}, nil
	})
	r := v.(result)
	return r.ids, r.names
}

func (i *Identity) fetchGroups(ctx context.Context, identityID string) ([]string, []string) {
	endpoint := fmt.Sprintf("%s/_apis/identities/%s", i.baseURL, url.PathEscape(identityID))
	resp, err := i.get(ctx, endpoint, url.Values{"queryMembership": {"Expanded"}})
	if err != nil {
		i.logger.Debug("group fetch failed", zap.String("identity_id", identityID), zap.Error(err))
		return nil, nil
	}
	var record struct {
		MemberOf []string `json:"memberOf"`
	}
	if err := decodeResponse(resp, &record); err != nil {
		i.logger.Debug("group fetch failed", zap.String("identity_id", identityID), zap.Error(err))
		return nil, nil
	}
	if len(record.MemberOf) == 0 {
		return nil, nil
	}

	ids := record.MemberOf
	names := make([]string, 0, len(ids))
	for start := 0; start < len(ids); start += groupBatchSize {
		end := min(start+groupBatchSize, len(ids))
		batch, err := i.resolveNames(ctx, ids[start:end])
		if err != nil {
			i.logger.Debug("group name resolve failed",
				zap.String("identity_id", identityID),
				zap.Error(err),
			)
			break
		}
		names = append(names, batch...)
	}
	return ids, names
}

func (i *Identity) resolveNames(ctx context.Context, groupIDs []string) ([]string, error) {
	resp, err := i.get(ctx, i.baseURL+"/_apis/identities", url.Values{
		"identityIds": {strings.Join(groupIDs, ",")},
	})
	if err != nil {
		return nil, err
	}
	var list struct {
		Value []struct {
			ProviderDisplayName string `json:"providerDisplayName"`
			CustomDisplayName   string `json:"customDisplayName"`
		} `json:"value"`
	}
	if err := decodeResponse(resp, &list); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(list.Value))
	for _, item := range list.Value {
		name := item.ProviderDisplayName
		if name == "" {
			name = item.CustomDisplayName
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// SweepCache removes cached entries older than maxAge and reports how many
// were dropped. Used by the optional TTL sweeper; never called when the
// cache is configured to live for the whole process.
func (i *Identity) SweepCache(maxAge time.Duration) int {
	return i.cache.sweep(maxAge)
}

func (i *Identity) get(ctx context.Context, endpoint string, params url.Values) (*http.Response, error) {
	params.Set("api-version", i.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("ado: create request: %w", err)
	}
	token := base64.StdEncoding.EncodeToString([]byte(":" + i.pat))
	req.Header.Set("Authorization", "Basic "+token)
	req.Header.Set("Accept", "application/json")
	resp, err := i.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ado: request: %w", err)
	}
	return resp, nil
}

func decodeResponse(resp *http.Response, dst any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("ado: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("ado: decode response: %w", err)
	}
	return nil
}
