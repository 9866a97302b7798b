package progress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/book-expert/reading-assistant/internal/core"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// ErrPathEmpty indicates a missing checkpoint location.
var ErrPathEmpty = errors.New("checkpoint path cannot be empty")

// FileStore keeps the checkpoint in a single JSON file. Saves go through a
// temporary file that is synced and renamed over the record, so readers see
// either the previous or the new checkpoint.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates the parent directory and returns the store.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, ErrPathEmpty
	}

	dirErr := os.MkdirAll(filepath.Dir(path), dirPermissions)
	if dirErr != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", dirErr)
	}

	return &FileStore{path: path}, nil
}

// Save atomically replaces the stored checkpoint.
func (s *FileStore) Save(_ context.Context, checkpoint core.Checkpoint) error {
	data, err := encodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	writeErr := s.writeAtomic(data)
	if writeErr != nil {
		return fmt.Errorf("%w: %w", core.ErrPersistence, writeErr)
	}

	return nil
}

// Load returns the stored checkpoint or nil when there is none.
func (s *FileStore) Load(_ context.Context) (*core.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: failed to read '%s': %w", core.ErrPersistence, s.path, err)
	}

	return decodeCheckpoint(data)
}

// Clear removes the stored checkpoint. Clearing an empty store is not an error.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to remove '%s': %w", core.ErrPersistence, s.path, err)
	}

	return syncDir(filepath.Dir(s.path))
}

// Close is a no-op; the store holds no open files between calls.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)

	tempFile, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}

	tempName := tempFile.Name()
	committed := false

	defer func() {
		if !committed {
			_ = os.Remove(tempName)
		}
	}()

	_, writeErr := tempFile.Write(data)
	if writeErr == nil {
		writeErr = tempFile.Sync()
	}

	closeErr := tempFile.Close()

	if writeErr != nil {
		return fmt.Errorf("failed to write temp checkpoint: %w", writeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close temp checkpoint: %w", closeErr)
	}

	chmodErr := os.Chmod(tempName, filePermissions)
	if chmodErr != nil {
		return fmt.Errorf("failed to set checkpoint permissions: %w", chmodErr)
	}

	renameErr := os.Rename(tempName, s.path)
	if renameErr != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", renameErr)
	}

	committed = true

	return syncDir(dir)
}

// syncDir makes a rename or removal in dir durable.
func syncDir(dir string) error {
	handle, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("%w: failed to open checkpoint directory: %w", core.ErrPersistence, err)
	}

	syncErr := handle.Sync()
	closeErr := handle.Close()

	if syncErr != nil {
		return fmt.Errorf("%w: failed to sync checkpoint directory: %w", core.ErrPersistence, syncErr)
	}

	if closeErr != nil {
		return fmt.Errorf("%w: failed to close checkpoint directory: %w", core.ErrPersistence, closeErr)
	}

	return nil
}
