// Package inventory answers platform identity and capacity queries:
// serial numbers, base clocks and installed memory.
package inventory

import (
	"context"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
)

// Key names one inventory query.
type Key string

const (
	ProcessorID Key = "processor_id"
	GPUSerial   Key = "gpu_serial"
	DIMMSerial  Key = "dimm_serial"
	BoardSerial Key = "board_serial"
	DiskSerial  Key = "disk_serial"

	// CPUBaseClock is the nominal CPU clock in GHz.
	CPUBaseClock Key = "cpu_base_clock"
	// GPUCoreClock and GPUMemoryClock are stock GPU clocks in MHz.
	GPUCoreClock   Key = "gpu_core_clock"
	GPUMemoryClock Key = "gpu_memory_clock"
	// MemorySpeed is the configured DIMM speed in MHz.
	MemorySpeed Key = "memory_speed"
	// TotalMemory is installed RAM in GB.
	TotalMemory Key = "total_memory"
)

// NotAvailable is returned for keys the platform cannot answer.
const NotAvailable = "Not Available"

// Provider looks up a single inventory value. instance selects the
// device for per-device keys (disk name, GPU index) and is ignored
// otherwise. An empty or placeholder result is not an error.
type Provider interface {
	Lookup(ctx context.Context, key Key, instance string) (string, error)
}

const (
	ErrUnknownKey  = errors.ErrInvalidArgument
	ErrUnavailable = errors.ErrUnavailable
)
