package storage

import (
	"os"
	"path/filepath"

	"github.com/photonml/photon/pkg/errors"
)

// LocalFS is a Filesystem backed by the local disk. Saves are atomic via
// write-to-temporary-path then rename.
type LocalFS struct {
	codec Codec
}

// NewLocalFS creates a LocalFS with the default gob codec.
func NewLocalFS() *LocalFS {
	return &LocalFS{codec: GobCodec{}}
}

// NewLocalFSWithCodec creates a LocalFS with an explicit codec.
func NewLocalFSWithCodec(codec Codec) *LocalFS {
	return &LocalFS{codec: codec}
}

// Exists implements Filesystem.
func (fs *LocalFS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ListDir implements Filesystem.
func (fs *LocalFS) ListDir(path string) ([]FileInfo, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: listing %s", path)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, FileInfo{Name: e.Name()})
	}
	return out, nil
}

// MakeDirs implements Filesystem.
func (fs *LocalFS) MakeDirs(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrapf(err, "storage: creating %s", path)
	}
	return nil
}

// Save implements Filesystem. The artifact is written to a temporary file
// next to the target and renamed into place, so a reader never observes a
// partially-written file.
func (fs *LocalFS) Save(obj any, path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "storage: creating temporary file in %s", dir)
	}
	tmpPath := tmp.Name()

	if err := fs.codec.Encode(tmp, obj); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.NewNonSerializableError("storage.Save", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrapf(err, "storage: syncing %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "storage: closing %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "storage: renaming into %s", path)
	}
	return nil
}

// Load implements Filesystem.
func (fs *LocalFS) Load(path string, obj any) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "storage: opening %s", path)
	}
	defer f.Close()

	if err := fs.codec.Decode(f, obj); err != nil {
		return errors.Wrapf(err, "storage: decoding %s", path)
	}
	return nil
}
