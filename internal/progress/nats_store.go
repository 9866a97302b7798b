package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/reading-assistant/internal/core"
	"github.com/nats-io/nats.go"
)

// ErrJetStreamRequired indicates that the NATS backend was selected without a connection.
var ErrJetStreamRequired = errors.New("jetstream context is required for the nats progress backend")

// NATSStore keeps the checkpoint in a JetStream key/value bucket.
type NATSStore struct {
	bucket string
	kv     nats.KeyValue
}

// NewNATSStore binds to the bucket, creating it when it does not exist yet.
func NewNATSStore(jetstreamContext nats.JetStreamContext, bucketName string) (*NATSStore, error) {
	if jetstreamContext == nil {
		return nil, ErrJetStreamRequired
	}

	kv, err := jetstreamContext.KeyValue(bucketName)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucketName,
			Description: "Narration checkpoint of the reading assistant.",
			History:     1,
			Storage:     nats.FileStorage,
			Replicas:    1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create key/value bucket '%s': %w", bucketName, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to bind to key/value bucket '%s': %w", bucketName, err)
	}

	return &NATSStore{
		bucket: bucketName,
		kv:     kv,
	}, nil
}

// Save replaces the stored checkpoint.
func (n *NATSStore) Save(_ context.Context, checkpoint core.Checkpoint) error {
	data, err := encodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}

	_, putErr := n.kv.Put(checkpointKey, data)
	if putErr != nil {
		return fmt.Errorf("%w: failed to put checkpoint to bucket '%s': %w", core.ErrPersistence, n.bucket, putErr)
	}

	return nil
}

// Load returns the stored checkpoint or nil when there is none.
func (n *NATSStore) Load(_ context.Context) (*core.Checkpoint, error) {
	entry, err := n.kv.Get(checkpointKey)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: failed to get checkpoint from bucket '%s': %w", core.ErrPersistence, n.bucket, err)
	}

	return decodeCheckpoint(entry.Value())
}

// Clear deletes the stored checkpoint.
func (n *NATSStore) Clear(_ context.Context) error {
	err := n.kv.Delete(checkpointKey)
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("%w: failed to delete checkpoint from bucket '%s': %w", core.ErrPersistence, n.bucket, err)
	}

	return nil
}

// Close is a no-op; the connection belongs to the caller.
func (n *NATSStore) Close() error {
	return nil
}
