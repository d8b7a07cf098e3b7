//go:build windows

package storage

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/windows/registry"
)

// RegistryBackend stores the blob as a REG_BINARY value under
// HKEY_CURRENT_USER.
type RegistryBackend struct {
	key   string
	value string
}

// NewRegistryBackend creates a backend for HKCU\<key> value <value>.
func NewRegistryBackend(key, value string) *RegistryBackend {
	return &RegistryBackend{key: key, value: value}
}

// Name returns "registry".
func (b *RegistryBackend) Name() string { return "registry" }

// Available reports whether a key and value are configured.
func (b *RegistryBackend) Available() bool { return b.key != "" && b.value != "" }

// Read returns the stored value.
func (b *RegistryBackend) Read(_ context.Context) ([]byte, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, b.key, registry.QUERY_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open registry key: %w", err)
	}
	defer k.Close()

	data, _, err := k.GetBinaryValue(b.value)
	if errors.Is(err, registry.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read registry value: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}

// Write creates the key if needed and sets the value.
func (b *RegistryBackend) Write(_ context.Context, blob []byte) error {
	k, _, err := registry.CreateKey(registry.CURRENT_USER, b.key, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("create registry key: %w", err)
	}
	defer k.Close()

	if err := k.SetBinaryValue(b.value, blob); err != nil {
		return fmt.Errorf("write registry value: %w", err)
	}
	return nil
}

// Erase deletes the value and leaves the key in place.
func (b *RegistryBackend) Erase(_ context.Context) error {
	k, err := registry.OpenKey(registry.CURRENT_USER, b.key, registry.SET_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open registry key: %w", err)
	}
	defer k.Close()

	if err := k.DeleteValue(b.value); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return fmt.Errorf("delete registry value: %w", err)
	}
	return nil
}
