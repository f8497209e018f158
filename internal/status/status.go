// Package status records the last observed fetch outcome per ServiceNow table.
//
// The store is write-only from the fetcher's point of view: entries are never
// read back to answer a fetch. They exist for operators, through the /status
// endpoint and the JSON file on disk.
//
// # File Format
//
//	{
//	  "change_request": {
//	    "outcome": "success",
//	    "status_code": 200,
//	    "observed_at": "2026-01-25T00:00:00Z"
//	  },
//	  "incident": {
//	    "outcome": "hibernating",
//	    "message": "Service Now instance is hibernating",
//	    "observed_at": "2026-01-25T00:00:05Z"
//	  }
//	}
//
// Writes go to a temp file in the same directory which is then renamed over
// the target, so the file is always a complete JSON document.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RaikaSurendra/servicenow-change-adapter/internal/servicenow"
)

// Entry is the last outcome observed for one table.
type Entry struct {
	Outcome    string    `json:"outcome"`
	StatusCode int       `json:"status_code,omitempty"`
	Message    string    `json:"message,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// EntryFromOutcome projects an outcome onto a status entry.
func EntryFromOutcome(o servicenow.Outcome, at time.Time) Entry {
	e := Entry{
		Outcome:    o.Kind().String(),
		StatusCode: o.StatusCode(),
		ObservedAt: at.UTC(),
	}
	if err := o.Err(); err != nil {
		e.Message = err.Error()
	}
	return e
}

// Store persists status entries. Implementations must be safe for concurrent use.
type Store interface {
	Get(table string) (Entry, error)
	Set(table string, entry Entry) error
	Flush() error
	Close() error
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// MemoryStore keeps entries in memory only. Flush and Close do nothing.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Get(table string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[table], nil
}

func (m *MemoryStore) Set(table string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[table] = entry
	return nil
}

func (m *MemoryStore) Flush() error { return nil }

func (m *MemoryStore) Close() error { return nil }

// FileStore keeps entries in memory and writes them to a JSON file on Flush.
type FileStore struct {
	path    string
	mu      sync.RWMutex
	entries map[string]Entry
	dirty   bool
}

// NewFileStore creates a FileStore backed by path. Existing content is loaded
// so a restart keeps showing the previous run's entries until they are replaced.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path:    path,
		entries: make(map[string]Entry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, fmt.Errorf("reading status file %s: %w", path, err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &fs.entries); err != nil {
			return nil, fmt.Errorf("parsing status file %s: %w", path, err)
		}
	}

	return fs, nil
}

// Get returns the entry for table, or a zero Entry if none was recorded.
func (fs *FileStore) Get(table string) (Entry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.entries[table], nil
}

// Set records entry in memory. It reaches disk on the next Flush.
func (fs *FileStore) Set(table string, entry Entry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.entries[table] = entry
	fs.dirty = true
	return nil
}

// Flush writes all entries to disk. It is a no-op when nothing changed.
func (fs *FileStore) Flush() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.dirty {
		return nil
	}

	data, err := json.MarshalIndent(fs.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating status directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "status-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp status file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp status file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp status file: %w", err)
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, fs.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming status file: %w", err)
	}

	fs.dirty = false
	return nil
}

// Close flushes pending changes.
func (fs *FileStore) Close() error {
	return fs.Flush()
}

// Snapshot returns a copy of all entries.
func (fs *FileStore) Snapshot() map[string]Entry {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	snapshot := make(map[string]Entry, len(fs.entries))
	for k, v := range fs.entries {
		snapshot[k] = v
	}
	return snapshot
}

// SnapshotJSON returns Snapshot for the /status endpoint.
func (fs *FileStore) SnapshotJSON() any {
	return fs.Snapshot()
}
