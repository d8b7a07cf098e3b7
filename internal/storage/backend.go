// Package storage persists sealed license records redundantly.
//
// A Store writes the same encrypted blob to an ordered list of backends:
// the first is primary and always written, the rest are secondary and
// written when the primary fails or, otherwise, with a small probability.
// Loading reads every backend and keeps the record with the earliest
// installation time, so deleting or replacing one copy cannot extend a
// trial.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Backend.Read when nothing is stored.
var ErrNotFound = errors.New("license data not found")

// Backend is one place a sealed record can live.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Available reports whether the backend can be used on this host.
	Available() bool
	// Read returns the stored blob or ErrNotFound.
	Read(ctx context.Context) ([]byte, error)
	// Write replaces the stored blob.
	Write(ctx context.Context, blob []byte) error
	// Erase removes the stored blob. Erasing nothing is not an error.
	Erase(ctx context.Context) error
}
