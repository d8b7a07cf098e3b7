package storage

import (
	"context"
)

// FileBackend stores the blob in a single file.
type FileBackend struct {
	path string
}

// NewFileBackend creates a file backend at path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Name returns "file".
func (b *FileBackend) Name() string { return "file" }

// Path returns the file location.
func (b *FileBackend) Path() string { return b.path }

// Available reports whether a path is configured.
func (b *FileBackend) Available() bool { return b.path != "" }

// Read returns the file contents.
func (b *FileBackend) Read(_ context.Context) ([]byte, error) {
	return readFile(b.path)
}

// Write atomically replaces the file.
func (b *FileBackend) Write(_ context.Context, blob []byte) error {
	return writeFileAtomic(b.path, blob, 0600)
}

// Erase removes the file.
func (b *FileBackend) Erase(_ context.Context) error {
	return removeFile(b.path)
}
