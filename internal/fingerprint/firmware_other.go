//go:build !linux && !windows && !darwin

package fingerprint

import (
	"context"
	"errors"
)

func firmwareSerial(_ context.Context) (string, error) {
	return "", errors.ErrUnsupported
}
