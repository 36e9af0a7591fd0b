package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/sysmetricsd/internal/config"
	"codeberg.org/mutker/sysmetricsd/internal/errors"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sysmetricsd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// isolate points HOME at an empty directory so no user config is found.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SYSMETRICSD_CONFIG", "")

	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	return home
}

func TestLoad(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
database = "/data/metrics.db"
interval = "45s"
prune_interval = "12h"
lifetime = "2w"
log_level = "debug"
log_file = "/var/log/sysmetricsd.log"
retry_attempts = 5
retry_backoff = "250ms"
processes = false
nvml = false
machine_state = "Idle"
`)
	t.Setenv("SYSMETRICSD_CONFIG", path)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "/data/metrics.db", cfg.Database)
	assert.Equal(t, "/data/backups", cfg.BackupDir)
	assert.Equal(t, 45*time.Second, cfg.Interval)
	assert.Equal(t, 12*time.Hour, cfg.PruneInterval)
	assert.Equal(t, 14*24*time.Hour, cfg.Lifetime)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/var/log/sysmetricsd.log", cfg.LogFile)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBackoff)
	assert.False(t, cfg.Processes)
	assert.False(t, cfg.NVML)
	assert.Equal(t, "Idle", cfg.MachineState)
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultDatabase, cfg.Database)
	assert.Equal(t, config.DefaultInterval, cfg.Interval)
	assert.Equal(t, config.DefaultPruneInterval, cfg.PruneInterval)
	assert.Equal(t, 365*24*time.Hour, cfg.Lifetime)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, config.DefaultRetryAttempts, cfg.RetryAttempts)
	assert.True(t, cfg.Processes)
	assert.True(t, cfg.NVML)
	assert.Equal(t, config.DefaultMachineState, cfg.MachineState)
}

func TestLoadFromUserConfigDir(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".config", "sysmetricsd")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sysmetricsd.toml"), []byte(`database = "~/metrics.db"`), 0o600))

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "metrics.db"), cfg.Database)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
interval = "45s"
lifetime = "2w"
`)
	t.Setenv("SYSMETRICSD_INTERVAL", "10s")
	t.Setenv("SYSMETRICSD_LIFETIME", "3m")

	cfg, err := config.Load(config.WithConfigFile(path))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Equal(t, 90*24*time.Hour, cfg.Lifetime)
}

func TestCustomEnvPrefix(t *testing.T) {
	isolate(t)
	t.Setenv("METRICS_MACHINE_STATE", "Gaming")

	cfg, err := config.Load(config.WithEnvPrefix("METRICS"))
	require.NoError(t, err)
	assert.Equal(t, "Gaming", cfg.MachineState)
}

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "")
	flags.String("lifetime", config.DefaultLifetime, "")
	flags.String("log-level", config.DefaultLogLevel, "")
	flags.Duration("prune-interval", config.DefaultPruneInterval, "")
	return flags
}

func TestFlagsOverrideFileAndEnvironment(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
lifetime = "2w"
log_level = "warning"
prune_interval = "6h"
`)
	t.Setenv("SYSMETRICSD_LOG_LEVEL", "error")

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--lifetime", "7d", "--prune-interval", "1h"}))

	cfg, err := config.Load(config.WithConfigFile(path), config.WithFlags(flags))
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, cfg.Lifetime)
	assert.Equal(t, time.Hour, cfg.PruneInterval)
	assert.Equal(t, "error", cfg.LogLevel, "unset flags do not mask the environment")
}

func TestUnsetFlagsDoNotMaskFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `lifetime = "2w"`)

	flags := newFlags()
	require.NoError(t, flags.Parse(nil))

	cfg, err := config.Load(config.WithConfigFile(path), config.WithFlags(flags))
	require.NoError(t, err)
	assert.Equal(t, 14*24*time.Hour, cfg.Lifetime)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
This is not a valid TOML file
`)
	t.Setenv("SYSMETRICSD_CONFIG", path)

	_, err := config.Load()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestExplicitConfigFileMissing(t *testing.T) {
	isolate(t)

	_, err := config.Load(config.WithConfigFile(filepath.Join(t.TempDir(), "missing.toml")))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    errors.ErrorCode
		field   string
	}{
		{"log level", `log_level = "invalid"`, errors.ErrInvalidLogLevel, "log_level"},
		{"interval", `interval = "500ms"`, errors.ErrInvalidInterval, "interval"},
		{"prune interval", `prune_interval = "0s"`, errors.ErrInvalidInterval, "prune_interval"},
		{"retry attempts", `retry_attempts = 0`, errors.ErrInvalidConfig, "retry_attempts"},
		{"machine state", `machine_state = "  "`, errors.ErrInvalidConfig, "machine_state"},
		{"lifetime", `lifetime = "5x"`, errors.ErrInvalidArgument, ""},
		{"lifetime overflow", `lifetime = "293y"`, errors.ErrInvalidArgument, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)

			_, err := config.Load(config.WithConfigFile(writeConfig(t, tt.content)))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)

			if tt.field != "" {
				var verr config.ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Equal(t, tt.field, verr.Field())
			}
		})
	}
}

func TestLogLevelIsValid(t *testing.T) {
	assert.True(t, config.LogLevelWarning.IsValid())
	assert.True(t, config.LogLevel("warn").IsValid())
	assert.False(t, config.LogLevel("verbose").IsValid())
}
