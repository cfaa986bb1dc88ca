// Package storage abstracts the filesystem or object store that checkpoint
// artifacts are written to. Writes are atomic: a crash mid-write never
// leaves a corrupt artifact at the final path.
package storage

// FileInfo describes one directory entry.
type FileInfo struct {
	Name string
}

// Filesystem is the contract consumed by the checkpoint connector.
type Filesystem interface {
	// Exists reports whether path refers to an existing file or directory.
	Exists(path string) bool

	// ListDir returns the entries of a directory.
	ListDir(path string) ([]FileInfo, error)

	// MakeDirs creates a directory and any missing parents.
	MakeDirs(path string) error

	// Save atomically serializes obj to path.
	Save(obj any, path string) error

	// Load deserializes the artifact at path into obj.
	Load(path string, obj any) error
}
