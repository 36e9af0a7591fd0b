package gpu

import "github.com/NVIDIA/go-nvml/pkg/nvml"

// device is the read-only slice of nvml.Device used for telemetry.
type device interface {
	GetName() (string, nvml.Return)
	GetUUID() (string, nvml.Return)
	GetSerial() (string, nvml.Return)
	GetTemperature(sensor nvml.TemperatureSensors) (uint32, nvml.Return)
	GetPowerUsage() (uint32, nvml.Return)
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
	GetClockInfo(clock nvml.ClockType) (uint32, nvml.Return)
	GetMaxClockInfo(clock nvml.ClockType) (uint32, nvml.Return)
	GetMemoryInfo() (nvml.Memory, nvml.Return)
}

// Readings is one telemetry snapshot of a GPU. Optional values are nil
// when the driver does not report them.
type Readings struct {
	Temperature   float64
	PowerWatts    *float64
	Load          *float64
	CoreClock     *float64
	MemoryClock   *float64
	MemoryTotalMB *float64
	MemoryUsedMB  *float64
}

// Clocks are the maximum (stock) clocks in MHz.
type Clocks struct {
	Core   float64
	Memory float64
}
