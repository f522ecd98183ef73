package state

import (
	"context"
	"errors"
)

// ErrCheckpointNotFound is returned by Load when no checkpoint has been saved.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CheckpointStore persists and restores CrawlState regardless of the
// underlying storage implementation.
type CheckpointStore interface {
	// Save replaces the stored checkpoint. A failed Save leaves the previous
	// checkpoint readable.
	Save(ctx context.Context, st CrawlState) error

	// Load returns the stored checkpoint or ErrCheckpointNotFound.
	Load(ctx context.Context) (CrawlState, error)

	// Close releases any resources held by the store.
	Close() error
}

// CheckpointStoreFactory creates the appropriate checkpoint store
// implementation.
type CheckpointStoreFactory interface {
	Create(config Config) (CheckpointStore, error)
}

// Config contains common configuration for all checkpoint store
// implementations.
type Config struct {
	// Base storage location for local checkpoints.
	StorageRoot string

	// CrawlID namespaces remote checkpoints.
	CrawlID string

	// Specific configuration options for different backends
	DaprConfig  *DaprConfig
	LocalConfig *LocalConfig
}

// DaprConfig contains Dapr-specific configuration
type DaprConfig struct {
	StateStoreName string
	GRPCPort       string
}

// LocalConfig contains local filesystem-specific configuration
type LocalConfig struct {
	// FileName is the checkpoint file, relative to StorageRoot unless
	// absolute.
	FileName string
}
