// Package store persists conversations outside the in-memory history: a
// directory of per-session JSON files for restart continuity, and a
// SQLite archive for transcript turns and token accounting.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"coil/internal/logging"
	"coil/internal/types"
)

const sessionFileVersion = 1

// sessionFile is the on-disk layout of one session.
type sessionFile struct {
	Version   int             `json:"version"`
	ID        string          `json:"id"`
	Items     []types.Message `json:"items"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SessionInfo summarizes one stored session for listings.
type SessionInfo struct {
	ID        string
	ItemCount int
	UpdatedAt time.Time
}

// SessionStore is a directory of `<id>.json` files, one per session.
// Handles are cached so two GetOrCreate calls for the same id share state;
// across processes the last writer wins.
type SessionStore struct {
	dir     string
	mu      sync.Mutex
	handles map[string]*SessionHandle
}

// NewSessionStore opens (creating if needed) the sessions directory.
func NewSessionStore(dir string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	logging.StoreDebug("session store at %s", dir)
	return &SessionStore{dir: dir, handles: make(map[string]*SessionHandle)}, nil
}

// Dir returns the backing directory.
func (s *SessionStore) Dir() string { return s.dir }

// GetOrCreate returns the handle for a session id, loading any existing
// file. A corrupt file is treated as empty rather than blocking the
// session.
func (s *SessionStore) GetOrCreate(id string) (*SessionHandle, error) {
	if err := validSessionID(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handles[id]; ok {
		return h, nil
	}

	h := &SessionHandle{id: id, path: filepath.Join(s.dir, id+".json")}

	data, err := os.ReadFile(h.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// New session, first Append creates the file.
	case err != nil:
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	default:
		var f sessionFile
		if uerr := json.Unmarshal(data, &f); uerr != nil {
			logging.StoreWarn("session %s unreadable, starting empty: %v", id, uerr)
		} else {
			h.items = f.Items
		}
	}

	s.handles[id] = h
	return h, nil
}

// Sessions enumerates the stored sessions, most recently updated first.
func (s *SessionStore) Sessions() ([]SessionInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var infos []SessionInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var f sessionFile
		if err := json.Unmarshal(data, &f); err != nil {
			logging.StoreWarn("skipping unreadable session file %s: %v", entry.Name(), err)
			continue
		}
		if f.ID == "" {
			f.ID = strings.TrimSuffix(entry.Name(), ".json")
		}
		infos = append(infos, SessionInfo{ID: f.ID, ItemCount: len(f.Items), UpdatedAt: f.UpdatedAt})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].UpdatedAt.After(infos[j].UpdatedAt) })
	return infos, nil
}

// Delete removes a session file. Deleting a missing session is not an
// error.
func (s *SessionStore) Delete(id string) error {
	if err := validSessionID(id); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.handles, id)
	s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, id+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	logging.Store("deleted session %s", id)
	return nil
}

// CleanupOlderThan removes sessions whose last update is older than age.
// Returns how many were removed.
func (s *SessionStore) CleanupOlderThan(age time.Duration) (int, error) {
	infos, err := s.Sessions()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-age)
	removed := 0
	for _, info := range infos {
		if info.UpdatedAt.After(cutoff) {
			continue
		}
		if err := s.Delete(info.ID); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		logging.Store("cleaned up %d stale sessions", removed)
	}
	return removed, nil
}

func validSessionID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

// SessionHandle is the append/list/clear surface for one session. All
// mutations persist before returning.
type SessionHandle struct {
	id    string
	path  string
	mu    sync.Mutex
	items []types.Message
}

// ID returns the session id.
func (h *SessionHandle) ID() string { return h.id }

// Append adds items to the session and writes the file.
func (h *SessionHandle) Append(items ...types.Message) error {
	if len(items) == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, item := range items {
		h.items = append(h.items, item.Clone())
	}
	return h.persistLocked()
}

// List returns a copy of the stored items in order.
func (h *SessionHandle) List() []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]types.Message, len(h.items))
	for i, item := range h.items {
		out[i] = item.Clone()
	}
	return out
}

// Len returns the number of stored items.
func (h *SessionHandle) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// Clear drops every item and persists the empty session.
func (h *SessionHandle) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items = nil
	return h.persistLocked()
}

// persistLocked writes the whole session through a temp file and rename so
// a crash mid-write never leaves a truncated session behind.
func (h *SessionHandle) persistLocked() error {
	f := sessionFile{
		Version:   sessionFileVersion,
		ID:        h.id,
		Items:     h.items,
		UpdatedAt: time.Now().UTC(),
	}
	if f.Items == nil {
		f.Items = []types.Message{}
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", h.id, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(h.path), h.id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write session %s: %w", h.id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), h.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace session %s: %w", h.id, err)
	}

	logging.StoreDebug("persisted session %s (%d items)", h.id, len(h.items))
	return nil
}
