package main

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MacJediWizard/trialguard/internal/config"
)

// isolate points every per-user location at a temp dir so nothing touches
// the real home directory.
func isolate(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("secondary backend writes to the real registry on windows")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	return home
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(os.Stderr)
	cmd.SetErr(os.Stderr)
	return cmd.Execute()
}

func TestConfigInit(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "trial.yml")

	require.NoError(t, execute(t, "config", "init", "--config", path, "--offline"))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.False(t, cfg.OnlineVerification)
	assert.Empty(t, cfg.AppName, "identity is not written to the file")

	t.Run("refuses to overwrite", func(t *testing.T) {
		assert.Error(t, execute(t, "config", "init", "--config", path))
	})

	t.Run("force overwrites", func(t *testing.T) {
		assert.NoError(t, execute(t, "config", "init", "--config", path, "--force"))
	})
}

func TestStatusStartsTrial(t *testing.T) {
	home := isolate(t)
	common := []string{"--config", filepath.Join(home, "trial.yml"), "--offline"}

	require.NoError(t, execute(t, append([]string{"status", "--json"}, common...)...))

	_, err := os.Stat(filepath.Join(home, ".exampleapp_license"))
	require.NoError(t, err, "first status call starts the trial")

	require.NoError(t, execute(t, append([]string{"status"}, common...)...))
}

func TestLoadConfigKeepsIdentity(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "trial.yml")
	require.NoError(t, os.WriteFile(path, []byte("trial_days: 30\nsalt: mine\ncache_duration: 2m\n"), 0600))
	t.Setenv("TRIAL_DAYS", "365")
	t.Setenv("TRIAL_SALT", "anything")

	cfg, err := loadConfig(&globalFlags{configPath: path, offline: true})
	require.NoError(t, err)

	want := hostConfig()
	assert.Equal(t, appName, cfg.AppName)
	assert.Equal(t, trialDays, cfg.TrialDays)
	assert.Equal(t, want.Salt, cfg.Salt)
	assert.Equal(t, want.LicenseFile, cfg.LicenseFile)
	assert.Equal(t, 2*time.Minute, cfg.CacheDuration, "operational settings still load")
	assert.False(t, cfg.OnlineVerification, "--offline wins")
}

func TestIdentityFlagsRemoved(t *testing.T) {
	isolate(t)
	for _, flag := range []string{"--days=30", "--app=Other"} {
		t.Run(flag, func(t *testing.T) {
			assert.Error(t, execute(t, "status", "--offline", flag))
		})
	}
}

func TestDiagnose(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "trial.yml")

	require.NoError(t, execute(t, "diagnose", "--config", path, "--offline"))
	require.NoError(t, execute(t, "diagnose", "--json", "--config", path, "--offline"))

	_, err := os.Stat(filepath.Join(home, ".exampleapp_license"))
	assert.True(t, os.IsNotExist(err), "diagnose must not start a trial")
}
