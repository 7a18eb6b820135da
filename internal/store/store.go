// Package store persists the client registry and the delivery log as plain
// files under a data directory:
//
//	clients.json       — registered client records, one JSON object keyed by id,
//	                     rewritten wholesale via write-temp-then-rename
//	notifications.log  — delivery log, one JSON object per line (NDJSON),
//	                     rotated at a size threshold with numbered backups
//	                     (notifications.log.1 is the most recent backup)
//
// All reads and writes serialize on a single mutex so concurrent dispatches
// cannot corrupt the files. Errors on clients.json propagate to the caller;
// errors on the delivery log are swallowed, since logging must never break a
// delivery.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a client id or callback URL has no record.
var ErrNotFound = errors.New("store: client not found")

const (
	clientsFile = "clients.json"
	logFile     = "notifications.log"
)

// Store owns the data directory. Create instances with Open.
type Store struct {
	mu          sync.Mutex
	clientsPath string
	log         *rotatingWriter
	logger      *zap.Logger
}

// Open prepares the data directory, seeding clients.json and the delivery
// log when missing, and returns a ready Store.
func Open(dir string, logMaxBytes int64, logBackups int, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	s := &Store{
		clientsPath: filepath.Join(dir, clientsFile),
		logger:      logger.Named("store"),
	}

	if _, err := os.Stat(s.clientsPath); os.IsNotExist(err) {
		if err := writeJSONAtomic(s.clientsPath, map[string]*Client{}); err != nil {
			return nil, err
		}
		s.logger.Info("created client registry", zap.String("path", s.clientsPath))
	}

	w, err := newRotatingWriter(filepath.Join(dir, logFile), logMaxBytes, logBackups)
	if err != nil {
		return nil, err
	}
	s.log = w
	s.logger.Info("delivery log ready",
		zap.String("path", w.path),
		zap.Int64("max_bytes", logMaxBytes),
		zap.Int("backups", logBackups),
	)
	return s, nil
}

// Close releases the delivery log file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Close()
}

// ListClients returns every record, active or not, ordered by registration
// time (ties broken by id).
func (s *Store) ListClients() ([]*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readClients()
	if err != nil {
		return nil, err
	}
	clients := make([]*Client, 0, len(data))
	for _, c := range data {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		if !clients[i].RegisteredAt.Equal(clients[j].RegisteredAt) {
			return clients[i].RegisteredAt.Before(clients[j].RegisteredAt)
		}
		return clients[i].ID < clients[j].ID
	})
	return clients, nil
}

// GetClient returns the record for the given id, or ErrNotFound.
func (s *Store) GetClient(id string) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readClients()
	if err != nil {
		return nil, err
	}
	c, ok := data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// GetClientByCallback returns the record registered with the given callback
// URL, or ErrNotFound.
func (s *Store) GetClientByCallback(callbackURL string) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readClients()
	if err != nil {
		return nil, err
	}
	for _, c := range data {
		if c.CallbackURL == callbackURL {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

// SaveClient inserts or updates a client record.
func (s *Store) SaveClient(c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readClients()
	if err != nil {
		return err
	}
	data[c.ID] = c
	return writeJSONAtomic(s.clientsPath, data)
}

// DeleteClient soft-deletes a client by setting Active to false. The record
// is kept so old log entries still resolve. Deleting an already-inactive
// client succeeds; an unknown id returns ErrNotFound.
func (s *Store) DeleteClient(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readClients()
	if err != nil {
		return err
	}
	c, ok := data[id]
	if !ok {
		return ErrNotFound
	}
	c.Active = false
	return writeJSONAtomic(s.clientsPath, data)
}

func (s *Store) readClients() (map[string]*Client, error) {
	raw, err := os.ReadFile(s.clientsPath)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", clientsFile, err)
	}
	data := map[string]*Client{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", clientsFile, err)
	}
	return data, nil
}

// writeJSONAtomic writes v to a sibling temp file and renames it over path,
// so readers never observe a partially written registry.
func writeJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
