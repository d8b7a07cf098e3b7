//go:build !trialadmin

package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdminNotInDefaultBuild(t *testing.T) {
	home := isolate(t)
	common := []string{"--config", filepath.Join(home, "trial.yml"), "--offline"}

	for _, sub := range []string{"reset", "corrupt"} {
		t.Run(sub, func(t *testing.T) {
			assert.Error(t, execute(t, append([]string{"admin", sub}, common...)...))
		})
	}

	for _, c := range newRootCmd().Commands() {
		assert.NotEqual(t, "admin", c.Name())
	}
}
