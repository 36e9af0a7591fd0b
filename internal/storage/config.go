package storage

import (
	"time"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
	"codeberg.org/mutker/sysmetricsd/internal/retry"
)

const (
	// File system permissions and paths
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/sysmetricsd/metrics.db"

	defaultBusyTimeout = time.Second
)

type Config struct {
	DBPath        string
	RetryAttempts int
	RetryBackoff  time.Duration
	BusyTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		DBPath:        defaultDBPath,
		RetryAttempts: retry.DefaultAttempts,
		RetryBackoff:  retry.DefaultBase,
		BusyTimeout:   defaultBusyTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.RetryAttempts < 1 {
		return errFactory.WithData(ErrInvalidConfig, "retry attempts must be at least 1")
	}
	if c.RetryBackoff < 0 {
		return errFactory.WithData(ErrInvalidConfig, "retry backoff must not be negative")
	}

	return nil
}
