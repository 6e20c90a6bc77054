package handoff

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/openaq-sync/internal/metrics"
)

// FileStore keeps artifacts as files in one directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, eris.New("handoff: no directory configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "handoff: create dir %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

// Backend implements Store.
func (s *FileStore) Backend() string { return "file" }

// Dir returns the root directory.
func (s *FileStore) Dir() string { return s.dir }

// Put writes to a temp file in the same directory and renames it into
// place, so a reader never sees a partial artifact.
func (s *FileStore) Put(_ context.Context, name string, data []byte) (err error) {
	defer func() { observe(s.Backend(), "put", err) }()

	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "handoff: create temp file")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "handoff: write %s", tmp.Name())
	}
	if err = tmp.Close(); err != nil {
		return eris.Wrapf(err, "handoff: close %s", tmp.Name())
	}
	if err = os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return eris.Wrapf(err, "handoff: rename into %s", name)
	}
	return nil
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, name string) (data []byte, err error) {
	defer func() { observe(s.Backend(), "get", err) }()

	data, err = os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "handoff: %s", filepath.Join(s.dir, name))
	}
	if err != nil {
		return nil, eris.Wrapf(err, "handoff: read %s", name)
	}
	return data, nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, name string) (err error) {
	defer func() { observe(s.Backend(), "delete", err) }()

	err = os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "handoff: delete %s", name)
	}
	return nil
}

func observe(backend, op string, err error) {
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "failure"
	} else if err != nil {
		status = "not_found"
	}
	metrics.HandoffOperations.WithLabelValues(backend, op, status).Inc()
}
