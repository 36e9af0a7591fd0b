// Package collector runs one sampling cycle: every hardware item and
// every process is read and persisted independently.
package collector

import (
	"context"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
	"codeberg.org/mutker/sysmetricsd/internal/hardware"
	"codeberg.org/mutker/sysmetricsd/internal/identity"
	"codeberg.org/mutker/sysmetricsd/internal/inventory"
	"codeberg.org/mutker/sysmetricsd/internal/logger"
	"codeberg.org/mutker/sysmetricsd/internal/process"
	"codeberg.org/mutker/sysmetricsd/internal/storage"
	"github.com/google/uuid"
)

const DefaultMachineState = "Active"

// Store is the write side of the storage engine.
type Store interface {
	ComponentExists(ctx context.Context, serial string) (bool, error)
	InsertComponent(ctx context.Context, c storage.Component) error
	InsertComponentStatistic(ctx context.Context, stat storage.ComponentStatistic, lifetime time.Duration) error
	InsertProcess(ctx context.Context, p storage.Process, lifetime time.Duration) error
}

type Config struct {
	// Lifetime fixes end_of_life on every row written.
	Lifetime     time.Duration
	MachineState string
}

// Summary describes one finished cycle.
type Summary struct {
	CycleID         string
	Timestamp       time.Time
	Items           int
	ItemFailures    int
	Processes       int
	ProcessFailures int
}

type Collector struct {
	store     Store
	hardware  hardware.Provider
	inventory inventory.Provider
	resolver  *identity.Resolver
	processes process.Enumerator
	cfg       Config
	logger    logger.Logger
	now       func() time.Time
}

// New wires a collector. inv and procs may be nil: without inventory
// every serial is the fallback hash, without an enumerator no process
// rows are written.
func New(store Store, hw hardware.Provider, inv inventory.Provider, procs process.Enumerator, cfg Config, log logger.Logger) *Collector {
	if cfg.MachineState == "" {
		cfg.MachineState = DefaultMachineState
	}

	return &Collector{
		store:     store,
		hardware:  hw,
		inventory: inv,
		resolver:  identity.NewResolver(inv, log),
		processes: procs,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
	}
}

// Sample runs one cycle. Failures are per item or per process: they
// are logged and counted, and the cycle carries on.
func (c *Collector) Sample(ctx context.Context) Summary {
	summary := Summary{
		CycleID:   uuid.NewString(),
		Timestamp: c.now(),
	}
	log := c.logger.With("cycle", summary.CycleID)

	log.Debug().Time("timestamp", summary.Timestamp).Msg("Sampling cycle started")

	c.sampleHardware(ctx, log, &summary)
	c.sampleProcesses(ctx, log, &summary)

	log.Info().
		Int("items", summary.Items).
		Int("item_failures", summary.ItemFailures).
		Int("processes", summary.Processes).
		Int("process_failures", summary.ProcessFailures).
		Msg("Sampling cycle completed")

	return summary
}

func (c *Collector) sampleHardware(ctx context.Context, log logger.Logger, summary *Summary) {
	items, err := c.hardware.Items(ctx)
	if err != nil {
		log.ErrorWithContext(err, "collector", "enumerate_hardware").Msg("Hardware enumeration incomplete")
	}

	totalRAM := c.lookupFloat(ctx, inventory.TotalMemory, "")

	for _, item := range items {
		if err := c.sampleItem(ctx, item, summary.Timestamp, totalRAM); err != nil {
			summary.ItemFailures++
			log.ErrorWithContext(err, "collector", "sample_item").
				Str("type", string(item.Type())).
				Str("name", item.Name()).
				Str("identifier", item.Identifier()).
				Msg("Failed to sample hardware item")
			continue
		}
		summary.Items++
	}
}

func (c *Collector) sampleItem(ctx context.Context, item hardware.Item, timestamp time.Time, totalRAM *float64) error {
	errFactory := errors.New()

	if err := item.Update(ctx); err != nil {
		return errFactory.Wrap(errors.ErrUnavailable, err)
	}

	serial := c.resolver.Resolve(ctx, identity.DescriptorOf(item))
	r := extract(item.Sensors())

	exists, err := c.store.ComponentExists(ctx, serial)
	if err != nil {
		return err
	}
	if !exists {
		component := c.component(ctx, item, serial, r)
		if err := c.store.InsertComponent(ctx, component); err != nil {
			return err
		}
		c.logger.Info().
			Str("serial", serial).
			Str("type", component.DeviceType).
			Str("name", item.Name()).
			Msg("Registered component")
	}

	return c.store.InsertComponentStatistic(ctx, storage.ComponentStatistic{
		SerialNumber:     serial,
		Timestamp:        timestamp,
		MachineState:     c.cfg.MachineState,
		Temperature:      r.temperature,
		Usage:            r.usage,
		PowerConsumption: r.power,
		CoreSpeed:        r.coreClock,
		MemorySpeed:      r.memoryClock,
		TotalRAM:         totalRAM,
	}, c.cfg.Lifetime)
}

// component builds the row written the first time serial is seen,
// including the stock speeds for the item's type.
func (c *Collector) component(ctx context.Context, item hardware.Item, serial string, r readings) storage.Component {
	component := storage.Component{
		SerialNumber: serial,
		DeviceType:   string(item.Type()),
		VRAM:         r.vram,
	}

	switch item.Type() {
	case hardware.CPU:
		component.StockCoreSpeed = c.lookupFloat(ctx, inventory.CPUBaseClock, item.Instance())
	case hardware.GPU:
		component.StockCoreSpeed = c.lookupFloat(ctx, inventory.GPUCoreClock, item.Instance())
		component.StockMemorySpeed = c.lookupFloat(ctx, inventory.GPUMemoryClock, item.Instance())
	case hardware.RAM:
		component.StockMemorySpeed = c.lookupFloat(ctx, inventory.MemorySpeed, item.Instance())
	}

	return component
}

func (c *Collector) sampleProcesses(ctx context.Context, log logger.Logger, summary *Summary) {
	if c.processes == nil {
		return
	}

	samples, err := c.processes.Sample(ctx)
	if err != nil {
		log.ErrorWithContext(err, "collector", "enumerate_processes").Msg("Process enumeration failed")
		return
	}

	if reporter, ok := c.processes.(interface{ Failures() []process.Failure }); ok {
		for _, f := range reporter.Failures() {
			log.Debug().Err(f.Err).Int32("pid", f.PID).Msg("Skipped unreadable process")
		}
	}

	for _, s := range samples {
		err := c.store.InsertProcess(ctx, storage.Process{
			PID:         int(s.PID),
			Timestamp:   summary.Timestamp,
			CPUUsage:    s.CPUPercent,
			MemoryUsage: s.MemoryMB,
		}, c.cfg.Lifetime)
		if err != nil {
			summary.ProcessFailures++
			log.ErrorWithContext(err, "collector", "insert_process").
				Int32("pid", s.PID).
				Str("name", s.Name).
				Msg("Failed to record process")
			continue
		}
		summary.Processes++
	}
}

// lookupFloat returns the numeric inventory value for key, or nil when
// the platform has none.
func (c *Collector) lookupFloat(ctx context.Context, key inventory.Key, instance string) *float64 {
	if c.inventory == nil {
		return nil
	}

	raw, err := c.inventory.Lookup(ctx, key, instance)
	if err != nil {
		c.logger.Debug().Err(err).Str("key", string(key)).Msg("Inventory lookup failed")
		return nil
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil
	}

	return &v
}
