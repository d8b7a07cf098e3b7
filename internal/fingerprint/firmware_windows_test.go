//go:build windows

package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWMICSerial(t *testing.T) {
	got, err := parseWMICSerial("SerialNumber  \r\nPF1ABCDE  \r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "PF1ABCDE", got)

	_, err = parseWMICSerial("SerialNumber\r\nTo be filled by O.E.M.\r\n")
	assert.ErrorIs(t, err, ErrNoValue)
}
