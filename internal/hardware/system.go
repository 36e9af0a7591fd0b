package hardware

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/sysmetricsd/internal/sysfs"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	kHzPerMHz         = 1000
	milliPerUnit      = 1000
	microJoulesPerJ   = 1_000_000
	bytesPerGigabyte  = 1024 * 1024 * 1024
	defaultCPUName    = "Generic CPU"
	defaultMemoryName = "Generic Memory"
)

var (
	cpuSensorChips       = []string{"coretemp", "k10temp", "zenpower", "cpu_thermal"}
	mainboardSensorChips = []string{"acpitz", "nct", "it87", "pch_", "asus"}
	virtualBlockPrefixes = []string{"loop", "ram", "zram", "dm-", "md", "sr"}
)

// sources are the gopsutil calls the system items make. Swapped out in
// tests.
type sources struct {
	cpuPercent    func(ctx context.Context) (float64, error)
	temperatures  func(ctx context.Context) ([]host.TemperatureStat, error)
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	partitions    func(ctx context.Context) ([]disk.PartitionStat, error)
	usage         func(ctx context.Context, path string) (*disk.UsageStat, error)
	now           func() time.Time
}

func gopsutilSources() sources {
	return sources{
		cpuPercent: func(ctx context.Context) (float64, error) {
			// Interval 0 compares against the previous call.
			percents, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil || len(percents) == 0 {
				return 0, err
			}
			return percents[0], nil
		},
		temperatures: func(ctx context.Context) ([]host.TemperatureStat, error) {
			temps, err := host.SensorsTemperaturesWithContext(ctx)
			if len(temps) > 0 {
				// Partial results come with a warnings error.
				return temps, nil
			}
			return temps, err
		},
		virtualMemory: mem.VirtualMemoryWithContext,
		partitions: func(ctx context.Context) ([]disk.PartitionStat, error) {
			return disk.PartitionsWithContext(ctx, false)
		},
		usage: disk.UsageWithContext,
		now:   time.Now,
	}
}

// System discovers the CPU, memory, mainboard and block devices of the
// local machine. Discovery runs once; the same items are returned on
// every call so stateful sensors keep their history.
type System struct {
	procRoot string
	sysRoot  string
	src      sources

	mu    sync.Mutex
	items []Item
}

func NewSystem() *System {
	return newSystemFrom("/proc", "/sys", gopsutilSources())
}

func newSystemFrom(procRoot, sysRoot string, src sources) *System {
	return &System{
		procRoot: procRoot,
		sysRoot:  sysRoot,
		src:      src,
	}
}

func (s *System) Items(_ context.Context) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.items != nil {
		return s.items, nil
	}

	s.items = append(s.items, s.newCPU(), s.newRAM(), s.newMainboard())
	for _, device := range s.blockDevices() {
		s.items = append(s.items, s.newStorage(device))
	}

	return s.items, nil
}

// blockDevices lists physical block devices, skipping virtual ones.
func (s *System) blockDevices() []string {
	entries, err := os.ReadDir(filepath.Join(s.sysRoot, "block"))
	if err != nil {
		return nil
	}

	var devices []string
	for _, entry := range entries {
		name := entry.Name()
		if hasAnyPrefix(name, virtualBlockPrefixes) {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.sysRoot, "block", name, "device")); err != nil {
			continue
		}
		devices = append(devices, name)
	}

	return devices
}

// base holds what every system item shares.
type base struct {
	hwType     Type
	name       string
	identifier string
	instance   string

	mu      sync.Mutex
	sensors []Sensor
}

func (b *base) Type() Type         { return b.hwType }
func (b *base) Name() string       { return b.name }
func (b *base) Identifier() string { return b.identifier }
func (b *base) Instance() string   { return b.instance }

func (b *base) Sensors() []Sensor {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]Sensor(nil), b.sensors...)
}

func (b *base) setSensors(sensors []Sensor) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sensors = sensors
}

type cpuItem struct {
	base
	sys *System

	// RAPL package energy from the previous update.
	lastEnergy uint64
	lastRead   time.Time
}

func (s *System) newCPU() *cpuItem {
	name := sysfs.CPUInfoField(filepath.Join(s.procRoot, "cpuinfo"), "model name")
	if name == "" {
		name = defaultCPUName
	}

	return &cpuItem{
		base: base{hwType: CPU, name: name, identifier: "/cpu/0", instance: "0"},
		sys:  s,
	}
}

func (c *cpuItem) Update(ctx context.Context) error {
	load, err := c.sys.src.cpuPercent(ctx)
	if err != nil {
		return err
	}

	var sensors []Sensor
	sensors = append(sensors, chipTemperatures(ctx, c.sys.src, cpuSensorChips)...)
	sensors = append(sensors, c.clocks()...)
	if watts := c.packagePower(); watts != nil {
		sensors = append(sensors, Sensor{Name: "CPU Package", Type: Power, Value: watts})
	}
	sensors = append(sensors, Sensor{Name: "CPU Total", Type: Load, Value: value(load)})

	c.setSensors(sensors)

	return nil
}

// clocks reads the current frequency of every core in MHz.
func (c *cpuItem) clocks() []Sensor {
	paths, _ := filepath.Glob(filepath.Join(c.sys.sysRoot, "devices/system/cpu/cpu[0-9]*/cpufreq/scaling_cur_freq"))
	sort.Strings(paths)

	var sensors []Sensor
	for _, path := range paths {
		khz := sysfs.ReadInt64(path)
		if khz <= 0 {
			continue
		}
		cpuDir := filepath.Base(filepath.Dir(filepath.Dir(path)))
		sensors = append(sensors, Sensor{
			Name:  "CPU Core #" + strings.TrimPrefix(cpuDir, "cpu"),
			Type:  Clock,
			Value: value(float64(khz) / kHzPerMHz),
		})
	}

	return sensors
}

// packagePower derives package watts from the RAPL energy counter. The
// first update only primes the counter.
func (c *cpuItem) packagePower() *float64 {
	energy := sysfs.ReadInt64(filepath.Join(c.sys.sysRoot, "class/powercap/intel-rapl:0/energy_uj"))
	if energy <= 0 {
		return nil
	}

	now := c.sys.src.now()
	previous, previousAt := c.lastEnergy, c.lastRead
	c.lastEnergy, c.lastRead = uint64(energy), now

	elapsed := now.Sub(previousAt).Seconds()
	if previousAt.IsZero() || elapsed <= 0 || uint64(energy) < previous {
		return nil
	}

	return value(float64(uint64(energy)-previous) / microJoulesPerJ / elapsed)
}

type ramItem struct {
	base
	sys *System
}

func (s *System) newRAM() *ramItem {
	return &ramItem{
		base: base{hwType: RAM, name: defaultMemoryName, identifier: "/ram", instance: "0"},
		sys:  s,
	}
}

func (r *ramItem) Update(ctx context.Context) error {
	vm, err := r.sys.src.virtualMemory(ctx)
	if err != nil {
		return err
	}

	r.setSensors([]Sensor{
		{Name: "Used Memory", Type: Data, Value: value(float64(vm.Used) / bytesPerGigabyte)},
		{Name: "Available Memory", Type: Data, Value: value(float64(vm.Available) / bytesPerGigabyte)},
		{Name: "Memory", Type: Load, Value: value(vm.UsedPercent)},
	})

	return nil
}

type mainboardItem struct {
	base
	sys *System
}

func (s *System) newMainboard() *mainboardItem {
	dmi := filepath.Join(s.sysRoot, "class/dmi/id")
	name := strings.TrimSpace(sysfs.ReadString(filepath.Join(dmi, "board_vendor")) + " " +
		sysfs.ReadString(filepath.Join(dmi, "board_name")))
	if name == "" {
		name = "Mainboard"
	}

	return &mainboardItem{
		base: base{hwType: Mainboard, name: name, identifier: "/mainboard", instance: ""},
		sys:  s,
	}
}

func (m *mainboardItem) Update(ctx context.Context) error {
	m.setSensors(chipTemperatures(ctx, m.sys.src, mainboardSensorChips))
	return nil
}

type storageItem struct {
	base
	sys *System
}

func (s *System) newStorage(device string) *storageItem {
	name := sysfs.ReadString(filepath.Join(s.sysRoot, "block", device, "device/model"))
	if name == "" {
		name = device
	}

	return &storageItem{
		base: base{hwType: Storage, name: name, identifier: "/storage/" + device, instance: device},
		sys:  s,
	}
}

func (d *storageItem) Update(ctx context.Context) error {
	var sensors []Sensor

	if temp := d.temperature(); temp != nil {
		sensors = append(sensors, Sensor{Name: "Temperature", Type: Temperature, Value: temp})
	}

	used, err := d.usedSpace(ctx)
	if err != nil {
		return err
	}
	if used != nil {
		sensors = append(sensors, Sensor{Name: "Used Space", Type: Load, Value: used})
	}

	d.setSensors(sensors)

	return nil
}

// temperature reads the drive's hwmon node; nvme controllers expose it
// directly under the device, SATA drives under device/hwmon.
func (d *storageItem) temperature() *float64 {
	deviceDir := filepath.Join(d.sys.sysRoot, "block", d.instance, "device")
	for _, pattern := range []string{"hwmon[0-9]*/temp1_input", "hwmon/hwmon[0-9]*/temp1_input"} {
		paths, _ := filepath.Glob(filepath.Join(deviceDir, pattern))
		for _, path := range paths {
			if milli := sysfs.ReadInt64(path); milli != 0 {
				return value(float64(milli) / milliPerUnit)
			}
		}
	}

	return nil
}

// usedSpace is the percentage of space used across all mounted
// partitions of the device, nil when none is mounted.
func (d *storageItem) usedSpace(ctx context.Context) (*float64, error) {
	partitions, err := d.sys.src.partitions(ctx)
	if err != nil {
		return nil, err
	}

	var used, total uint64
	for _, p := range partitions {
		if !isPartitionOf(filepath.Base(p.Device), d.instance) {
			continue
		}
		u, err := d.sys.src.usage(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		used += u.Used
		total += u.Total
	}

	if total == 0 {
		return nil, nil
	}

	return value(float64(used) / float64(total) * 100), nil
}

// isPartitionOf reports whether device is disk itself or one of its
// partitions: sda1 for sda, nvme0n1p2 for nvme0n1. sdaa1 is not a
// partition of sda.
func isPartitionOf(device, disk string) bool {
	rest, ok := strings.CutPrefix(device, disk)
	if !ok || disk == "" {
		return false
	}
	if rest == "" {
		return true
	}

	if last := disk[len(disk)-1]; last >= '0' && last <= '9' {
		if rest, ok = strings.CutPrefix(rest, "p"); !ok {
			return false
		}
	}

	return rest != "" && strings.Trim(rest, "0123456789") == ""
}

// chipTemperatures maps gopsutil temperature sensors whose key starts
// with one of chips onto Temperature sensors. Failures yield none.
func chipTemperatures(ctx context.Context, src sources, chips []string) []Sensor {
	temps, err := src.temperatures(ctx)
	if err != nil {
		return nil
	}

	var sensors []Sensor
	for _, t := range temps {
		if !hasAnyPrefix(t.SensorKey, chips) || t.Temperature <= 0 {
			continue
		}
		sensors = append(sensors, Sensor{Name: t.SensorKey, Type: Temperature, Value: value(t.Temperature)})
	}

	return sensors
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
