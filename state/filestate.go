package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// DefaultCheckpointFile is the checkpoint file name used when none is configured.
const DefaultCheckpointFile = "crawl_state.json"

// FileCheckpointStore keeps the checkpoint in a single JSON file. Writes go
// to a temporary file in the same directory which is synced and renamed over
// the destination, so a crash mid-write leaves the previous checkpoint intact.
type FileCheckpointStore struct {
	path string
}

// NewFileCheckpointStore returns a store writing to path.
func NewFileCheckpointStore(path string) *FileCheckpointStore {
	return &FileCheckpointStore{path: path}
}

// NewLocalCheckpointStore resolves the checkpoint path from config.
func NewLocalCheckpointStore(config Config) *FileCheckpointStore {
	name := DefaultCheckpointFile
	if config.LocalConfig != nil && config.LocalConfig.FileName != "" {
		name = config.LocalConfig.FileName
	}
	if !filepath.IsAbs(name) && config.StorageRoot != "" {
		name = filepath.Join(config.StorageRoot, name)
	}
	return NewFileCheckpointStore(name)
}

// Path returns the checkpoint file location.
func (s *FileCheckpointStore) Path() string { return s.path }

// Save writes st atomically.
func (s *FileCheckpointStore) Save(_ context.Context, st CrawlState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			log.Warn().Err(rmErr).Str("file", tmpName).Msg("Failed to remove temporary checkpoint")
		}
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}

	log.Debug().
		Str("file", s.path).
		Int("visited", len(st.Visited)).
		Int("failed", len(st.Failed)).
		Int("frontier", len(st.Frontier)).
		Msg("Checkpoint saved")
	return nil
}

// Load reads the checkpoint file.
func (s *FileCheckpointStore) Load(_ context.Context) (CrawlState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return CrawlState{}, ErrCheckpointNotFound
	}
	if err != nil {
		return CrawlState{}, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var st CrawlState
	if err := json.Unmarshal(data, &st); err != nil {
		return CrawlState{}, fmt.Errorf("failed to parse checkpoint %s: %w", s.path, err)
	}
	return st, nil
}

func (s *FileCheckpointStore) Close() error { return nil }
