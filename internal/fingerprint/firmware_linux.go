//go:build linux

package fingerprint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// dmiRoot is where the kernel exposes SMBIOS identity. Most files under it
// are root-only; an unreadable file just skips to the next candidate.
var dmiRoot = "/sys/class/dmi/id"

var dmiSerialFiles = []string{"product_serial", "board_serial", "product_uuid"}

func firmwareSerial(_ context.Context) (string, error) {
	var errs []error
	for _, name := range dmiSerialFiles {
		data, err := os.ReadFile(filepath.Join(dmiRoot, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if serial, err := cleanSerial(string(data)); err == nil {
			return serial, nil
		}
	}
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return "", ErrNoValue
}
