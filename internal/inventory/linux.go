package inventory

import (
	"context"
	"path/filepath"
	"strconv"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
	"codeberg.org/mutker/sysmetricsd/internal/gpu"
	"codeberg.org/mutker/sysmetricsd/internal/sysfs"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	kHzPerGHz     = 1_000_000
	bytesPerGByte = 1024 * 1024 * 1024
)

// GPUSource answers per-GPU identity and stock clock queries by NVML
// index. *gpu.Manager implements it.
type GPUSource interface {
	Serial(index int) (string, error)
	MaxClocks(index int) (gpu.Clocks, error)
}

// System reads inventory from procfs, sysfs, gopsutil and, when set,
// an NVML-backed GPU source.
type System struct {
	procRoot string
	sysRoot  string
	gpus     GPUSource

	// totalMemory is swapped out in tests.
	totalMemory func(ctx context.Context) (uint64, error)
	// cpuMHz is swapped out in tests.
	cpuMHz func(ctx context.Context) (float64, error)
}

// NewSystem returns a System reading the live /proc and /sys. gpus may
// be nil when NVML is disabled or absent.
func NewSystem(gpus GPUSource) *System {
	return newSystemFrom("/proc", "/sys", gpus)
}

// newSystemFrom accepts root paths for /proc and /sys so tests can
// point at synthetic filesystems.
func newSystemFrom(procRoot, sysRoot string, gpus GPUSource) *System {
	return &System{
		procRoot:    procRoot,
		sysRoot:     sysRoot,
		gpus:        gpus,
		totalMemory: gopsutilTotalMemory,
		cpuMHz:      gopsutilCPUMHz,
	}
}

func (s *System) Lookup(ctx context.Context, key Key, instance string) (string, error) {
	switch key {
	case ProcessorID:
		return orNotAvailable(sysfs.CPUInfoField(filepath.Join(s.procRoot, "cpuinfo"), "Serial")), nil
	case BoardSerial:
		return orNotAvailable(sysfs.ReadString(filepath.Join(s.sysRoot, "class/dmi/id/board_serial"))), nil
	case DiskSerial:
		return orNotAvailable(s.diskSerial(instance)), nil
	case DIMMSerial, MemorySpeed:
		// Linux exposes no DIMM serial or speed without parsing SMBIOS.
		return NotAvailable, nil
	case GPUSerial:
		return s.gpuSerial(instance)
	case GPUCoreClock, GPUMemoryClock:
		return s.gpuClock(key, instance)
	case CPUBaseClock:
		return s.cpuBaseClock(ctx)
	case TotalMemory:
		total, err := s.totalMemory(ctx)
		if err != nil {
			return "", errors.New().Wrap(ErrUnavailable, err)
		}
		return formatFloat(float64(total) / bytesPerGByte), nil
	default:
		return "", errors.New().WithData(ErrUnknownKey, struct {
			Key string
		}{
			Key: string(key),
		})
	}
}

func (s *System) diskSerial(device string) string {
	if device == "" {
		return ""
	}

	base := filepath.Join(s.sysRoot, "block", device, "device")
	if serial := sysfs.ReadString(filepath.Join(base, "serial")); serial != "" {
		return serial
	}

	return sysfs.ReadString(filepath.Join(base, "wwid"))
}

func (s *System) gpuSerial(instance string) (string, error) {
	if s.gpus == nil {
		return NotAvailable, nil
	}

	index, err := strconv.Atoi(instance)
	if err != nil {
		return "", errors.New().WithData(errors.ErrInvalidArgument, struct {
			Instance string
		}{
			Instance: instance,
		})
	}

	serial, err := s.gpus.Serial(index)
	if err != nil {
		return "", errors.New().Wrap(ErrUnavailable, err)
	}

	return serial, nil
}

func (s *System) gpuClock(key Key, instance string) (string, error) {
	if s.gpus == nil {
		return NotAvailable, nil
	}

	index, err := strconv.Atoi(instance)
	if err != nil {
		return "", errors.New().WithData(errors.ErrInvalidArgument, struct {
			Instance string
		}{
			Instance: instance,
		})
	}

	clocks, err := s.gpus.MaxClocks(index)
	if err != nil {
		return "", errors.New().Wrap(ErrUnavailable, err)
	}

	if key == GPUMemoryClock {
		return formatFloat(clocks.Memory), nil
	}

	return formatFloat(clocks.Core), nil
}

// cpuBaseClock prefers the intel_pstate base_frequency, then the
// cpufreq maximum, then whatever gopsutil reports.
func (s *System) cpuBaseClock(ctx context.Context) (string, error) {
	cpufreq := filepath.Join(s.sysRoot, "devices/system/cpu/cpu0/cpufreq")
	for _, name := range []string{"base_frequency", "cpuinfo_max_freq"} {
		if khz := sysfs.ReadInt64(filepath.Join(cpufreq, name)); khz > 0 {
			return formatFloat(float64(khz) / kHzPerGHz), nil
		}
	}

	mhz, err := s.cpuMHz(ctx)
	if err != nil {
		return "", errors.New().Wrap(ErrUnavailable, err)
	}
	if mhz <= 0 {
		return NotAvailable, nil
	}

	return formatFloat(mhz / 1000), nil
}

func gopsutilTotalMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

func gopsutilCPUMHz(ctx context.Context) (float64, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	if len(infos) == 0 {
		return 0, nil
	}
	return infos[0].Mhz, nil
}

func orNotAvailable(s string) string {
	if s == "" {
		return NotAvailable
	}
	return s
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
