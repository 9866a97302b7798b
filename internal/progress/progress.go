// Package progress provides durable implementations of core.ProgressStore.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
	"github.com/nats-io/nats.go"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendNATS   = "nats"
)

// checkpointKey is the single record every backend stores.
const checkpointKey = "checkpoint"

// ErrUnknownBackend indicates an unsupported progress.backend value.
var ErrUnknownBackend = errors.New("unknown progress backend")

// Options selects and configures a backend.
type Options struct {
	Backend string
	// Path is the checkpoint file for "file" and the data directory for "badger".
	Path string
	// Bucket is the JetStream key/value bucket for "nats".
	Bucket string
	// JetStream is required for "nats".
	JetStream nats.JetStreamContext
}

// Store is a checkpoint store that may hold resources.
type Store interface {
	core.ProgressStore
	Close() error
}

// Open creates the configured store.
func Open(opts Options, log *logger.Logger) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileStore(opts.Path)
	case BackendBadger:
		return NewBadgerStore(opts.Path, log)
	case BackendNATS:
		return NewNATSStore(opts.JetStream, opts.Bucket)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

func encodeCheckpoint(checkpoint core.Checkpoint) ([]byte, error) {
	validateErr := checkpoint.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrPersistence, validateErr)
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal checkpoint: %w", core.ErrPersistence, err)
	}

	return data, nil
}

func decodeCheckpoint(data []byte) (*core.Checkpoint, error) {
	var checkpoint core.Checkpoint

	err := json.Unmarshal(data, &checkpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal checkpoint: %w", core.ErrPersistence, err)
	}

	validateErr := checkpoint.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrPersistence, validateErr)
	}

	return &checkpoint, nil
}
