// Package session persists the serialized authenticated-session blob that
// lets workflow runs reuse a captured browser login. The blob is opaque here;
// the browser layer owns its format.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	homedir "github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

// Store loads and persists the session blob at a fixed filesystem location.
// Writes are serialized through a single mutex: concurrent runs that both
// complete a reauth would otherwise race last-write-wins on the blob file.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewStore creates a Store for the given path. A leading "~" is expanded.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand session state path %q: %w", path, err)
	}
	return &Store{
		path:   expanded,
		logger: logger.Named("session_store"),
	}, nil
}

// Path returns the resolved blob location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted blob. The caller decides whether a missing blob is
// fatal; the error wraps fs.ErrNotExist in that case.
func (s *Store) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session state from %q: %w", s.path, err)
	}
	s.logger.Debug("Session state loaded", zap.String("path", s.path), zap.Int("bytes", len(data)))
	return data, nil
}

// Save atomically replaces the persisted blob. The parent directory is
// created on demand with owner-only permissions; the blob holds live
// credentials.
func (s *Store) Save(blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session state directory %q: %w", dir, err)
	}

	// Write-then-rename so a crash mid-write never leaves a truncated blob.
	tmp, err := os.CreateTemp(dir, ".session_state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp session state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict session state permissions: %w", err)
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp session state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace session state at %q: %w", s.path, err)
	}

	s.logger.Info("Session state persisted", zap.String("path", s.path), zap.Int("bytes", len(blob)))
	return nil
}
