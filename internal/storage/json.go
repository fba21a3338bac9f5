package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// JSONStore keeps the snapshot in a single JSON file
type JSONStore struct {
	path string
	mu   sync.Mutex
}

type jsonDocument struct {
	Version   int      `json:"version"`
	Processes []Record `json:"processes"`
}

const jsonVersion = 1

// NewJSONStore returns a store writing to path. The file is created on the
// first save.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

func (s *JSONStore) Name() string { return "json" }

// Path returns the snapshot file location
func (s *JSONStore) Path() string { return s.path }

// Load reads the snapshot. A missing file is an empty snapshot.
func (s *JSONStore) Load(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, errors.Wrap(err, "failed to read snapshot")
	}

	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "failed to parse snapshot %s", s.path)
	}
	if doc.Processes == nil {
		doc.Processes = []Record{}
	}
	return doc.Processes, nil
}

// Save writes records to a temp file in the same directory and renames it
// over the snapshot.
func (s *JSONStore) Save(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(jsonDocument{Version: jsonVersion, Processes: records}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path, data)
}

func (s *JSONStore) Close() error { return nil }

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create snapshot directory")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return errors.Wrap(err, "failed to set snapshot permissions")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "failed to replace snapshot")
	}
	return nil
}
