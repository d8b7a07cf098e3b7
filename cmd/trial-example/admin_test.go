//go:build trialadmin

package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminCorruptAndReset(t *testing.T) {
	home := isolate(t)
	common := []string{"--config", filepath.Join(home, "trial.yml"), "--offline"}

	require.NoError(t, execute(t, append([]string{"status"}, common...)...))
	require.NoError(t, execute(t, append([]string{"admin", "corrupt"}, common...)...))
	assert.ErrorIs(t, execute(t, append([]string{"run"}, common...)...), errTrialExpired)

	require.NoError(t, execute(t, append([]string{"admin", "reset"}, common...)...))
	require.NoError(t, execute(t, append([]string{"status"}, common...)...))
}

func TestAdminIsHidden(t *testing.T) {
	cmd := newRootCmd()
	admin, _, err := cmd.Find([]string{"admin"})
	require.NoError(t, err)
	assert.True(t, admin.Hidden)
}
