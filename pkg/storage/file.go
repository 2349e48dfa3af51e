package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/HatiCode/vmpredict/pkg/models"
)

// FileStore keeps the latest artifact in a single JSON file.
//
// Put writes to a temporary file in the same directory and renames it over
// the target, so readers never observe a partially written artifact.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the file at path. The file does
// not need to exist yet.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("model path cannot be empty")
	}
	return &FileStore{path: path}, nil
}

// Path returns the artifact file path.
func (s *FileStore) Path() string {
	return s.path
}

// Put atomically replaces the artifact file with m.
func (s *FileStore) Put(ctx context.Context, m *models.FittedModel) error {
	if m == nil {
		return errors.New("model cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".model-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := m.Encode(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close model file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write model file: %w", err)
	}
	return nil
}

// GetLatest reads and validates the artifact file. A missing file is
// reported as not found.
func (s *FileStore) GetLatest(ctx context.Context) (*models.FittedModel, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("open model file: %w", err)
	}
	defer f.Close()

	m, err := models.Decode(f)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", s.path, err)
	}
	return m, true, nil
}
