//go:build darwin

package fingerprint

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

func firmwareSerial(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", fmt.Errorf("run ioreg: %w", err)
	}
	return parseIORegSerial(string(out))
}

// parseIORegSerial extracts IOPlatformSerialNumber from ioreg output.
func parseIORegSerial(out string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, `"IOPlatformSerialNumber"`) {
			continue
		}
		_, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		return cleanSerial(strings.Trim(strings.TrimSpace(value), `"`))
	}
	return "", ErrNoValue
}
