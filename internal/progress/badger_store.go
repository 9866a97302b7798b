package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps the checkpoint in an embedded BadgerDB. Writes are
// synced before Save returns.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) the database in dir.
func NewBadgerStore(dir string, log *logger.Logger) (*BadgerStore, error) {
	if dir == "" {
		return nil, ErrPathEmpty
	}

	dbOpts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(badgerLogger{log: log})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger checkpoint store at '%s': %w", dir, err)
	}

	return &BadgerStore{db: db}, nil
}

// Save replaces the stored checkpoint in a single transaction.
func (s *BadgerStore) Save(_ context.Context, checkpoint core.Checkpoint) error {
	data, err := encodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}

	updateErr := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(checkpointKey), data)
	})
	if updateErr != nil {
		return fmt.Errorf("%w: failed to write checkpoint: %w", core.ErrPersistence, updateErr)
	}

	return nil
}

// Load returns the stored checkpoint or nil when there is none.
func (s *BadgerStore) Load(_ context.Context) (*core.Checkpoint, error) {
	var data []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get([]byte(checkpointKey))
		if getErr != nil {
			return getErr
		}

		var copyErr error

		data, copyErr = item.ValueCopy(nil)

		return copyErr
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: failed to read checkpoint: %w", core.ErrPersistence, err)
	}

	return decodeCheckpoint(data)
}

// Clear deletes the stored checkpoint.
func (s *BadgerStore) Clear(_ context.Context) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(checkpointKey))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: failed to delete checkpoint: %w", core.ErrPersistence, err)
	}

	return nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close badger checkpoint store: %w", err)
	}

	return nil
}

// badgerLogger forwards badger warnings and errors to the service logger.
type badgerLogger struct {
	log *logger.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	if b.log != nil {
		b.log.Error("badger: "+format, args...)
	}
}

func (b badgerLogger) Warningf(format string, args ...any) {
	if b.log != nil {
		b.log.Warn("badger: "+format, args...)
	}
}

func (b badgerLogger) Infof(string, ...any) {}

func (b badgerLogger) Debugf(string, ...any) {}
