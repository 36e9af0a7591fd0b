package storage

import "time"

// Component is one physical piece of hardware, keyed by its serial.
type Component struct {
	SerialNumber     string
	DeviceType       string
	VRAM             *int64
	StockCoreSpeed   *float64
	StockMemorySpeed *float64
}

// ComponentStatistic is one sample of a component taken during a
// sampling cycle. EndOfLife is filled in on write and is informational:
// pruning compares Timestamp against the prune-time lifetime.
type ComponentStatistic struct {
	SerialNumber     string
	Timestamp        time.Time
	MachineState     string
	Temperature      float64
	Usage            float64
	PowerConsumption *float64
	CoreSpeed        *float64
	MemorySpeed      *float64
	TotalRAM         *float64
	EndOfLife        time.Time
}

// Process is one sample of a running process.
type Process struct {
	PID         int
	Timestamp   time.Time
	CPUUsage    float64
	MemoryUsage float64
	EndOfLife   time.Time
}

// Counts reports row counts per relation.
type Counts struct {
	Components int64
	Statistics int64
	Processes  int64
}

// Float64 returns a pointer to v, for optional columns.
func Float64(v float64) *float64 {
	return &v
}

// Int64 returns a pointer to v, for optional columns.
func Int64(v int64) *int64 {
	return &v
}
