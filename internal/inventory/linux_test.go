package inventory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
	"codeberg.org/mutker/sysmetricsd/internal/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSyntheticFile creates a file at the given path within root,
// creating parent directories as needed.
func writeSyntheticFile(t *testing.T, root, path, content string) {
	t.Helper()
	fullPath := filepath.Join(root, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
	require.NoError(t, os.WriteFile(fullPath, []byte(content), 0o644))
}

type stubGPUs struct {
	serials map[int]string
	clocks  gpu.Clocks
}

func (s *stubGPUs) Serial(index int) (string, error) {
	serial, ok := s.serials[index]
	if !ok {
		return "", errors.New().New(gpu.ErrDeviceNotFound)
	}
	return serial, nil
}

func (s *stubGPUs) MaxClocks(int) (gpu.Clocks, error) {
	return s.clocks, nil
}

func newSyntheticSystem(t *testing.T, gpus GPUSource) (*System, string) {
	t.Helper()
	root := t.TempDir()
	s := newSystemFrom(filepath.Join(root, "proc"), filepath.Join(root, "sys"), gpus)
	s.totalMemory = func(context.Context) (uint64, error) { return 32 * bytesPerGByte, nil }
	s.cpuMHz = func(context.Context) (float64, error) { return 3600, nil }
	return s, root
}

func lookup(t *testing.T, s *System, key Key, instance string) string {
	t.Helper()
	value, err := s.Lookup(context.Background(), key, instance)
	require.NoError(t, err)
	return value
}

func TestLookupFromSyntheticFS(t *testing.T) {
	s, root := newSyntheticSystem(t, nil)

	writeSyntheticFile(t, root, "proc/cpuinfo",
		"processor\t: 0\nmodel name\t: ARMv8 Processor\nSerial\t\t: 10000000abcdef01\n")
	writeSyntheticFile(t, root, "sys/class/dmi/id/board_serial", "MB-123456\n")
	writeSyntheticFile(t, root, "sys/block/sda/device/serial", "  WD-WCC4N0000001 \n")
	writeSyntheticFile(t, root, "sys/block/nvme0n1/device/wwid", "eui.0025388b91b2c7a1\n")
	writeSyntheticFile(t, root, "sys/devices/system/cpu/cpu0/cpufreq/base_frequency", "3500000\n")

	assert.Equal(t, "10000000abcdef01", lookup(t, s, ProcessorID, ""))
	assert.Equal(t, "MB-123456", lookup(t, s, BoardSerial, ""))
	assert.Equal(t, "WD-WCC4N0000001", lookup(t, s, DiskSerial, "sda"))
	assert.Equal(t, "eui.0025388b91b2c7a1", lookup(t, s, DiskSerial, "nvme0n1"))
	assert.Equal(t, "3.5", lookup(t, s, CPUBaseClock, ""))
	assert.Equal(t, "32", lookup(t, s, TotalMemory, ""))
}

func TestLookupFromEmptyFS(t *testing.T) {
	s, _ := newSyntheticSystem(t, nil)

	for _, key := range []Key{ProcessorID, BoardSerial, DIMMSerial, MemorySpeed, GPUSerial, GPUCoreClock} {
		assert.Equal(t, NotAvailable, lookup(t, s, key, "0"), key)
	}
	assert.Equal(t, NotAvailable, lookup(t, s, DiskSerial, "sdb"))

	// No cpufreq files, so the gopsutil figure is used.
	assert.Equal(t, "3.6", lookup(t, s, CPUBaseClock, ""))
}

func TestCPUBaseClockFallsBackToMaxFreq(t *testing.T) {
	s, root := newSyntheticSystem(t, nil)
	writeSyntheticFile(t, root, "sys/devices/system/cpu/cpu0/cpufreq/cpuinfo_max_freq", "4200000")

	assert.Equal(t, "4.2", lookup(t, s, CPUBaseClock, ""))
}

func TestGPULookups(t *testing.T) {
	s, _ := newSyntheticSystem(t, &stubGPUs{
		serials: map[int]string{0: "1320321012345"},
		clocks:  gpu.Clocks{Core: 2100, Memory: 9501},
	})

	assert.Equal(t, "1320321012345", lookup(t, s, GPUSerial, "0"))
	assert.Equal(t, "2100", lookup(t, s, GPUCoreClock, "0"))
	assert.Equal(t, "9501", lookup(t, s, GPUMemoryClock, "0"))

	_, err := s.Lookup(context.Background(), GPUSerial, "1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrUnavailable))

	_, err = s.Lookup(context.Background(), GPUSerial, "first")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}

func TestLookupUnknownKey(t *testing.T) {
	s, _ := newSyntheticSystem(t, nil)

	_, err := s.Lookup(context.Background(), Key("bios_vendor"), "")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}
