// Package storagetest provides an in-memory storage backend with failure
// injection for tests of code built on the storage package.
package storagetest

import (
	"context"
	"sync"

	"github.com/MacJediWizard/trialguard/internal/storage"
)

// Backend keeps the blob in process memory and implements storage.Backend.
type Backend struct {
	name string

	mu          sync.Mutex
	data        []byte
	writes      int
	readErr     error
	writeErr    error
	unavailable bool
}

var _ storage.Backend = (*Backend)(nil)

// NewBackend creates an empty in-memory backend.
func NewBackend(name string) *Backend {
	return &Backend{name: name}
}

// Name returns the configured name.
func (b *Backend) Name() string { return b.name }

// Available reports whether the backend is usable.
func (b *Backend) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.unavailable
}

// Read returns a copy of the stored blob.
func (b *Backend) Read(_ context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return nil, b.readErr
	}
	if len(b.data) == 0 {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), b.data...), nil
}

// Write stores a copy of blob.
func (b *Backend) Write(_ context.Context, blob []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}
	b.data = append([]byte(nil), blob...)
	b.writes++
	return nil
}

// Erase clears the stored blob.
func (b *Backend) Erase(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	return nil
}

// Bytes returns the stored blob.
func (b *Backend) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// SetBytes replaces the stored blob directly.
func (b *Backend) SetBytes(blob []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append([]byte(nil), blob...)
}

// Writes returns how many writes succeeded.
func (b *Backend) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// FailReads makes Read return err until cleared with nil.
func (b *Backend) FailReads(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readErr = err
}

// FailWrites makes Write return err until cleared with nil.
func (b *Backend) FailWrites(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeErr = err
}

// SetAvailable toggles availability.
func (b *Backend) SetAvailable(available bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unavailable = !available
}
