package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store defines the interface for identity persistence backends.
type Store interface {
	// Save persists the given snapshot, replacing any previous one.
	Save(snap Snapshot) error

	// Load retrieves the stored snapshot. An empty store returns a zero
	// Snapshot and no error.
	Load() (Snapshot, error)

	// Close releases any resources held by the store.
	Close() error
}

// JSONStore implements Store for file-based JSON persistence.
type JSONStore struct {
	FilePath string

	mu sync.Mutex
}

// NewJSONStore creates a new JSON file store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{FilePath: path}
}

// Save writes the snapshot to the JSON file via a temp file and rename.
func (s *JSONStore) Save(snap Snapshot) error {
	if s.FilePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identities: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(s.FilePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.FilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, s.FilePath); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}

	return nil
}

// Load reads the snapshot from the JSON file.
func (s *JSONStore) Load() (Snapshot, error) {
	if s.FilePath == "" {
		return Snapshot{}, nil
	}

	data, err := os.ReadFile(s.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil // File doesn't exist yet, that's OK
		}
		return Snapshot{}, fmt.Errorf("read file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s: %w", s.FilePath, err)
	}
	return snap, nil
}

// Close is a no-op for JSON files.
func (s *JSONStore) Close() error {
	return nil
}

// Ensure JSONStore implements Store
var _ Store = (*JSONStore)(nil)
