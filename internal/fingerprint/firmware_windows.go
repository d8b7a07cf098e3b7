//go:build windows

package fingerprint

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

func firmwareSerial(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "wmic", "bios", "get", "serialnumber").Output()
	if err != nil {
		return "", fmt.Errorf("run wmic: %w", err)
	}
	return parseWMICSerial(string(out))
}

// parseWMICSerial returns the first non-header line of wmic output.
func parseWMICSerial(out string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, "SerialNumber") {
			continue
		}
		return cleanSerial(line)
	}
	return "", ErrNoValue
}
