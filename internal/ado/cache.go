package ado

import (
	"sync"
	"time"
)

type avatarEntry struct {
	uri     string
	fetched time.Time
}

type groupsEntry struct {
	ids     []string
	names   []string
	fetched time.Time
}

// cache holds avatar and group lookups for the lifetime of the process.
// Entries are unbounded and never expire on their own; the optional TTL
// sweeper calls sweep periodically when configured.
type cache struct {
	mu      sync.RWMutex
	avatars map[string]avatarEntry
	groups  map[string]groupsEntry
}

func newCache() *cache {
	return &cache{
		avatars: make(map[string]avatarEntry),
		groups:  make(map[string]groupsEntry),
	}
}

func (c *cache) avatar(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.avatars[id]
	return e.uri, ok
}

func (c *cache) setAvatar(id, uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.avatars[id] = avatarEntry{uri: uri, fetched: time.Now()}
}

func (c *cache) groupsFor(id string) ([]string, []string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.groups[id]
	return e.ids, e.names, ok
}

func (c *cache) setGroups(id string, ids, names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[id] = groupsEntry{ids: ids, names: names, fetched: time.Now()}
}

// sweep drops entries fetched more than maxAge ago and returns the number
// removed.
func (c *cache) sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, e := range c.avatars {
		if e.fetched.Before(cutoff) {
			delete(c.avatars, id)
			removed++
		}
	}
	for id, e := range c.groups {
		if e.fetched.Before(cutoff) {
			delete(c.groups, id)
			removed++
		}
	}
	return removed
}
