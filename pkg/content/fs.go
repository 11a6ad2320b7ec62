package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FSStore keeps blobs under root, fanned out by the first two ID characters
type FSStore struct {
	root string
}

// NewFSStore creates root if needed
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("filesystem content store requires a path")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create content root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(id string) string {
	if len(id) < 2 {
		return filepath.Join(s.root, "_", id)
	}
	return filepath.Join(s.root, id[:2], id)
}

// Writer writes to a temporary file renamed into place on Close
func (s *FSStore) Writer(_ context.Context, id string) (io.WriteCloser, error) {
	final := s.path(id)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(final), ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create content file: %w", err)
	}
	return &fsWriter{f: f, final: final}, nil
}

// Reader opens a stored blob
func (s *FSStore) Reader(_ context.Context, id string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return f, err
}

type fsWriter struct {
	f     *os.File
	final string
}

func (w *fsWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *fsWriter) Close() error {
	if err := w.f.Close(); err != nil {
		os.Remove(w.f.Name())
		return err
	}
	if err := os.Rename(w.f.Name(), w.final); err != nil {
		os.Remove(w.f.Name())
		return fmt.Errorf("commit content file: %w", err)
	}
	return nil
}

// Abort drops the temp file without committing it
func (w *fsWriter) Abort(error) error {
	w.f.Close()
	return os.Remove(w.f.Name())
}
