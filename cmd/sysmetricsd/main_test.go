package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
	"codeberg.org/mutker/sysmetricsd/internal/logger"
	"codeberg.org/mutker/sysmetricsd/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SYSMETRICSD_CONFIG", "")

	cmd := (&app{}).rootCommand()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	require.NoError(t, logger.Close())

	return err
}

func TestMaintenanceCommands(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "metrics.db")

	require.NoError(t, execute(t, "init-db", "--database", db))
	assert.FileExists(t, db)

	require.NoError(t, execute(t, "prune-now", "--database", db, "--lifetime", "7d"))

	backups := filepath.Join(dir, "snapshots")
	require.NoError(t, execute(t, "backup-db", "--database", db, "--backup-dir", backups))
	entries, err := os.ReadDir(backups)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, execute(t, "clear-db", "--database", db))

	store, err := storage.Open(storage.Config{DBPath: db, RetryAttempts: 1}, logger.Nop())
	require.NoError(t, err)
	defer store.Close()

	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storage.Counts{}, counts)
}

func TestInvalidLifetimeFailsBeforeOpeningDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "metrics.db")

	err := execute(t, "prune-now", "--database", db, "--lifetime", "5x")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
	assert.NoFileExists(t, db)
}
