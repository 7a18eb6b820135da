package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// AppendLog writes one delivery attempt to the rotating log as a compact
// JSON line. Failures are logged and swallowed: a broken log file must not
// break delivery.
func (s *Store) AppendLog(entry *LogEntry) {
	line, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("encode log entry failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.log.WriteLine(line); err != nil {
		s.logger.Warn("append delivery log failed", zap.Error(err))
	}
}

// ReadLogs returns up to limit entries, newest first, optionally filtered by
// event type and client id. It scans the active log and then each numbered
// backup, reading lines in reverse within each file, so entries come back in
// strict reverse-chronological order of append. Unreadable files and
// malformed lines are skipped.
func (s *Store) ReadLogs(limit int, eventType, clientID string) []*LogEntry {
	entries := make([]*LogEntry, 0)
	if limit <= 0 {
		return entries
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range s.log.filesNewestFirst() {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		lines := strings.Split(string(raw), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			line := strings.TrimSpace(lines[i])
			if line == "" {
				continue
			}
			var entry LogEntry
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				continue
			}
			if eventType != "" && entry.EventType != eventType {
				continue
			}
			if clientID != "" && entry.ClientID != clientID {
				continue
			}
			entries = append(entries, &entry)
			if len(entries) >= limit {
				return entries
			}
		}
	}
	return entries
}

// rotatingWriter appends lines to a file and rolls it to numbered backups
// once a write would push it past maxBytes:
//
//	base → base.1 → base.2 → … → base.N (oldest, then dropped)
//
// With backups == 0 the file is simply truncated at the threshold.
type rotatingWriter struct {
	path     string
	maxBytes int64
	backups  int

	f    *os.File
	size int64
}

func newRotatingWriter(path string, maxBytes int64, backups int) (*rotatingWriter, error) {
	w := &rotatingWriter{path: path, maxBytes: maxBytes, backups: backups}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("store: open log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("store: stat log: %w", err)
	}
	w.f = f
	w.size = info.Size()
	return nil
}

// WriteLine appends line plus a newline, rotating first when the write would
// reach maxBytes.
func (w *rotatingWriter) WriteLine(line []byte) error {
	if w.maxBytes > 0 && w.size+int64(len(line))+1 >= w.maxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	n, err := w.f.Write(append(line, '\n'))
	w.size += int64(n)
	if err != nil {
		return fmt.Errorf("store: write log: %w", err)
	}
	return nil
}

func (w *rotatingWriter) rotate() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("store: close log for rotation: %w", err)
	}

	if w.backups > 0 {
		for i := w.backups - 1; i >= 1; i-- {
			src := fmt.Sprintf("%s.%d", w.path, i)
			if _, err := os.Stat(src); err != nil {
				continue
			}
			dst := fmt.Sprintf("%s.%d", w.path, i+1)
			// Rename onto an existing target fails on some platforms.
			os.Remove(dst)
			if err := os.Rename(src, dst); err != nil {
				return fmt.Errorf("store: rotate %s: %w", src, err)
			}
		}
		dst := w.path + ".1"
		os.Remove(dst)
		if err := os.Rename(w.path, dst); err != nil {
			return fmt.Errorf("store: rotate %s: %w", w.path, err)
		}
		return w.open()
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("store: truncate log: %w", err)
	}
	w.f = f
	w.size = 0
	return nil
}

// filesNewestFirst lists the active log and its existing backups from newest
// to oldest.
func (w *rotatingWriter) filesNewestFirst() []string {
	paths := make([]string, 0, w.backups+1)
	if _, err := os.Stat(w.path); err == nil {
		paths = append(paths, w.path)
	}
	for i := 1; i <= w.backups; i++ {
		p := fmt.Sprintf("%s.%d", w.path, i)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	return paths
}

func (w *rotatingWriter) Close() error {
	return w.f.Close()
}
