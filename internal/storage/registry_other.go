//go:build !windows

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RegistryBackend is the secondary store. Without a Windows registry it
// keeps the value as a file under the user config directory:
// <config dir>/<last key segment>/<value>.
type RegistryBackend struct {
	key   string
	value string
	path  string
}

// NewRegistryBackend creates a backend for key and value. Only the last
// backslash-separated segment of key is used to name the directory.
func NewRegistryBackend(key, value string) *RegistryBackend {
	b := &RegistryBackend{key: key, value: value}
	if key == "" || value == "" {
		return b
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return b
	}
	b.path = filepath.Join(dir, lastKeySegment(key), value)
	return b
}

func newRegistryBackendAt(path string) *RegistryBackend {
	return &RegistryBackend{path: path}
}

func lastKeySegment(key string) string {
	key = strings.TrimRight(key, `\/`)
	if i := strings.LastIndexAny(key, `\/`); i >= 0 {
		return key[i+1:]
	}
	return key
}

// Name returns "registry".
func (b *RegistryBackend) Name() string { return "registry" }

// Available reports whether a location could be resolved.
func (b *RegistryBackend) Available() bool { return b.path != "" }

// Read returns the stored value.
func (b *RegistryBackend) Read(_ context.Context) ([]byte, error) {
	return readFile(b.path)
}

// Write stores the value, creating its directory.
func (b *RegistryBackend) Write(_ context.Context, blob []byte) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0700); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}
	return writeFileAtomic(b.path, blob, 0600)
}

// Erase removes the value.
func (b *RegistryBackend) Erase(_ context.Context) error {
	return removeFile(b.path)
}
