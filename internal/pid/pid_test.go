package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	f := ForDatabase(filepath.Join(dir, "metrics.db"))
	assert.Equal(t, filepath.Join(dir, "sysmetricsd.pid"), f.Path())

	require.NoError(t, f.Write())
	content, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(content))

	// Rewriting our own PID file is allowed.
	require.NoError(t, f.Write())

	require.NoError(t, f.Remove())
	assert.NoFileExists(t, f.Path())
	require.NoError(t, f.Remove())
}

func TestWriteRefusesLiveProcess(t *testing.T) {
	f := ForDatabase(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, os.WriteFile(f.Path(), []byte(strconv.Itoa(os.Getppid())), 0o600))

	err := f.Write()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestWriteReplacesStaleFile(t *testing.T) {
	f := ForDatabase(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, os.WriteFile(f.Path(), []byte("not a pid"), 0o600))

	require.NoError(t, f.Write())
	content, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(content))
}
