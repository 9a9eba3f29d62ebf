package contract

import (
	"context"

	"github.com/huangsam/feedmirror/schema"
)

// StoreManager defines the interface for reaching the configured stores.
// This allows the storage layer to be mocked for testing.
type StoreManager interface {
	GetSnapshotStore() SnapshotStore
	GetRunLedger() RunLedger
}

// SnapshotStore defines durable blob storage keyed by collection type and project.
// This allows mocking the store for testing.
type SnapshotStore interface {
	// Read returns the stored blob, or an error wrapping ErrSnapshotNotFound.
	Read(ctx context.Context, ct schema.CollectionType, project string) ([]byte, error)
	Write(ctx context.Context, ct schema.CollectionType, project string, blob []byte) error
	Delete(ctx context.Context, ct schema.CollectionType, project string) error
	GetStatus() (schema.StoreStatus, error)
	Close() error
}
