// Package media persists report photos and AI mask images as opaque named blobs.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"citysnap-backend/internal/apperrors"
)

var ErrNotFound = errors.New("media not found")

// Store is a named-blob store. Names are flat filenames; Locate returns the
// string the AI service or a client can use to fetch the blob.
type Store interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	Locate(name string) string
}

// LocalStore keeps blobs in a directory on disk.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Dir() string {
	return s.dir
}

// Save writes data under name and returns the stored name.
func (s *LocalStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	path, err := s.path(name)
	if err != nil {
		return "", apperrors.Storage("save media", err)
	}
	if err := ctx.Err(); err != nil {
		return "", apperrors.Storage("save media", err)
	}

	// Write via a temp file so a partially written blob is never visible.
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", apperrors.Storage("save media", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", apperrors.Storage("save media", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", apperrors.Storage("save media", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", apperrors.Storage("save media", err)
	}

	return name, nil
}

func (s *LocalStore) Read(_ context.Context, name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, apperrors.Storage("read media", err)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.Newf(apperrors.KindNotFound, "read media", "%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, apperrors.Storage("read media", err)
	}
	return data, nil
}

// Delete removes name. Deleting a missing blob is not an error.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return apperrors.Storage("delete media", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Storage("delete media", err)
	}
	return nil
}

// Locate returns the on-disk path, which the AI gateway reads directly.
func (s *LocalStore) Locate(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *LocalStore) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid media name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}
