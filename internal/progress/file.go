package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	apperrors "eddytools/leadharvester/pkg/errors"
)

// FileStore keeps checkpoints in a single JSON file, one object per
// source, matching the layout other tooling already reads:
//
//	{"pistonheads": {"last_page": 3, "total_pages_scraped": 3,
//	                 "total_listings": 27, "last_run": "..."}}
//
// Writes are atomic (temp file + rename) so a crash mid-write never
// leaves a torn progress file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed checkpoint store
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the checkpoint for a source, zero-valued when absent
func (s *FileStore) Load(_ context.Context, source string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return Checkpoint{}, err
	}
	return all[source], nil
}

// Save records the checkpoint for a source
func (s *FileStore) Save(_ context.Context, source string, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return err
	}
	all[source] = cp
	return s.write(all)
}

// All returns every stored checkpoint
func (s *FileStore) All(_ context.Context) (map[string]Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Reset zeroes all checkpoints
func (s *FileStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return err
	}
	for source := range all {
		all[source] = Checkpoint{}
	}
	return s.write(all)
}

func (s *FileStore) read() (map[string]Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]Checkpoint), nil
		}
		return nil, apperrors.NewProgress("", fmt.Sprintf("cannot read progress file %s", s.path), err)
	}

	all := make(map[string]Checkpoint)
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, apperrors.NewProgress("", fmt.Sprintf("progress file %s is corrupt", s.path), err)
	}
	return all, nil
}

func (s *FileStore) write(all map[string]Checkpoint) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return apperrors.NewProgress("", "cannot serialize progress", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".progress-*")
	if err != nil {
		return apperrors.NewProgress("", "cannot create temp progress file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.NewProgress("", "cannot write temp progress file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.NewProgress("", "cannot close temp progress file", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return apperrors.NewProgress("", "cannot replace progress file", err)
	}
	return nil
}
