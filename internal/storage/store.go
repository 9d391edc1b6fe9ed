// Package storage writes instances and JSON documents to the filesystem.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/errs"
)

// Error marks instance-fatal write failures
var Error = errs.Class("storage")

// InstanceStore writes Part 10 files under a root directory
type InstanceStore struct {
	root string
}

// NewInstanceStore creates a store rooted at root
func NewInstanceStore(root string) *InstanceStore {
	return &InstanceStore{root: root}
}

// Root returns the root directory
func (s *InstanceStore) Root() string {
	return s.root
}

// Path returns the absolute file path of loc
func (s *InstanceStore) Path(loc Location) string {
	return filepath.Join(s.root, filepath.FromSlash(loc.RelPath()))
}

// Write stores data at loc and returns the size of the file on disk.
// Directories are created as needed; an existing file is replaced.
func (s *InstanceStore) Write(loc Location, data []byte) (string, int64, error) {
	path := s.Path(loc)
	size, err := WriteFileAtomic(path, data)
	if err != nil {
		return "", 0, err
	}
	return path, size, nil
}

// WriteFileAtomic writes data to a temp file next to path, syncs it and
// renames it into place. The returned size is read back from the file.
func WriteFileAtomic(path string, data []byte) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, Error.New("failed to create %s: %v", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, Error.New("failed to create temp file: %v", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return 0, Error.New("failed to write %s: %v", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return 0, Error.New("failed to sync %s: %v", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return 0, Error.Wrap(err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return 0, Error.Wrap(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return 0, Error.New("failed to move %s into place: %v", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	if info.Size() != int64(len(data)) {
		return info.Size(), Error.New("%s has %d bytes on disk, wrote %d", path, info.Size(), len(data))
	}
	return info.Size(), nil
}

// Read returns the content of a stored file
func (s *InstanceStore) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("read %s: %w", path, err))
	}
	return data, nil
}
