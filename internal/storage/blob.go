// Package storage keeps the original bytes of uploaded files.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ErrBlobNotFound is returned when a key has no stored blob
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore stores uploads as files under a root directory
type BlobStore struct {
	fs   afero.Fs
	root string
}

// NewBlobStore creates the root directory on fsys if needed
func NewBlobStore(fsys afero.Fs, root string) (*BlobStore, error) {
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", root, err)
	}
	return &BlobStore{fs: fsys, root: root}, nil
}

// NewOsBlobStore stores blobs on the local disk
func NewOsBlobStore(root string) (*BlobStore, error) {
	return NewBlobStore(afero.NewOsFs(), root)
}

// Put writes data under a fresh key. Keys are namespaced by user so one
// user's uploads can be listed or removed together.
func (s *BlobStore) Put(userID int, filename string, data []byte) (string, error) {
	key := fmt.Sprintf("%d/%s%s", userID, uuid.NewString(), extension(filename))

	if err := s.fs.MkdirAll(path.Join(s.root, path.Dir(key)), 0o755); err != nil {
		return "", err
	}
	if err := afero.WriteFile(s.fs, s.path(key), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	return key, nil
}

// Get reads a blob
func (s *BlobStore) Get(key string) ([]byte, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrBlobNotFound)
	}
	return data, err
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *BlobStore) Delete(key string) error {
	if key == "" {
		return nil
	}
	p, err := s.resolve(key)
	if err != nil {
		return err
	}

	err = s.fs.Remove(p)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

func (s *BlobStore) path(key string) string {
	return path.Join(s.root, key)
}

// resolve rejects keys that would escape the root
func (s *BlobStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return s.path(clean[1:]), nil
}

func extension(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}
