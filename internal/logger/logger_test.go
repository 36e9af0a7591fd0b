package logger_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
	"codeberg.org/mutker/sysmetricsd/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logger.LogLevel{
		"debug":   logger.DebugLevel,
		"info":    logger.InfoLevel,
		"":        logger.InfoLevel,
		"warning": logger.WarnLevel,
		"WARN":    logger.WarnLevel,
		"error":   logger.ErrorLevel,
	}
	for input, want := range cases {
		got, err := logger.ParseLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := logger.ParseLevel("verbose")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestErrorWithContext(t *testing.T) {
	logger.SetLogLevel(logger.DebugLevel)

	var buf bytes.Buffer
	log := logger.New(&buf).With("component", "storage")

	err := errors.New().Wrap(errors.ErrOperationFailed, os.ErrPermission)
	log.ErrorWithContext(err, "storage", "insert_component").Str("serial", "CPU_TEST_001").Msg("write failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "operation_failed", entry["error_code"])
	assert.Equal(t, "insert_component", entry["operation"])
	assert.Equal(t, "CPU_TEST_001", entry["serial"])
	assert.Equal(t, "write failed", entry["message"])
}

func TestFileSinkWritesWholeLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "agent.log")
	require.NoError(t, logger.Init(logger.Options{Level: "debug", File: path, IsService: true}))

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				logger.Info().Int("worker", worker).Int("seq", i).Msg(strings.Repeat("x", 64))
			}
		}(worker)
	}
	wg.Wait()
	require.NoError(t, logger.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	lines := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry), "line %d is not a complete JSON object", lines)
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Positive(t, lines)
}
