// Package gpu reads NVIDIA GPU telemetry through NVML.
package gpu

import (
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
	"codeberg.org/mutker/sysmetricsd/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	milliWattsToWatts = 1000
	bytesPerMegabyte  = 1024 * 1024
)

// Device is one NVML-visible GPU.
type Device struct {
	index  int
	handle device
	name   string
	uuid   string
	mu     sync.Mutex
}

// Manager owns the NVML session and the devices discovered in it.
type Manager struct {
	nvml    nvmlController
	devices []*Device
	logger  logger.Logger
}

func NewManager(log logger.Logger) *Manager {
	return &Manager{
		nvml:   &nvmlWrapper{},
		logger: log,
	}
}

// Initialize starts NVML and enumerates devices. Devices whose handle
// cannot be fetched are skipped with a warning.
func (m *Manager) Initialize() error {
	errFactory := errors.New()

	if err := m.nvml.Initialize(); err != nil {
		return err
	}

	count, err := m.nvml.GetDeviceCount()
	if err != nil {
		return err
	}

	m.devices = m.devices[:0]
	for i := 0; i < count; i++ {
		handle, err := m.nvml.GetDevice(i)
		if err != nil {
			m.logger.Warn().Err(err).Int("index", i).Msg("Skipping GPU")
			continue
		}

		d := &Device{index: i, handle: handle}
		if name, ret := handle.GetName(); IsNVMLSuccess(ret) {
			d.name = name
		} else {
			d.name = "NVIDIA GPU " + strconv.Itoa(i)
			m.logger.Warn().Msgf("Failed to get GPU name: %v", nvml.ErrorString(ret))
		}
		if uuid, ret := handle.GetUUID(); IsNVMLSuccess(ret) {
			d.uuid = uuid
		}

		m.logger.Info().Int("index", i).Str("name", d.name).Msg("Detected GPU")
		m.devices = append(m.devices, d)
	}

	if len(m.devices) == 0 && count > 0 {
		return errFactory.WithData(ErrDeviceNotFound, struct {
			Count int
		}{
			Count: count,
		})
	}

	return nil
}

func (m *Manager) Shutdown() error {
	m.devices = nil
	return m.nvml.Shutdown()
}

func (m *Manager) Devices() []*Device {
	return m.devices
}

// Device returns the device at the given NVML index.
func (m *Manager) Device(index int) (*Device, error) {
	for _, d := range m.devices {
		if d.index == index {
			return d, nil
		}
	}

	return nil, errors.New().WithData(ErrDeviceNotFound, struct {
		Index int
	}{
		Index: index,
	})
}

// Serial returns the board serial of the GPU at index, or its UUID
// when the board does not report one.
func (m *Manager) Serial(index int) (string, error) {
	d, err := m.Device(index)
	if err != nil {
		return "", err
	}

	return d.Serial()
}

// MaxClocks returns the stock clocks of the GPU at index.
func (m *Manager) MaxClocks(index int) (Clocks, error) {
	d, err := m.Device(index)
	if err != nil {
		return Clocks{}, err
	}

	return d.MaxClocks()
}

func (d *Device) Index() int {
	return d.index
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) UUID() string {
	return d.uuid
}

func (d *Device) Serial() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	serial, ret := d.handle.GetSerial()
	if IsNVMLSuccess(ret) && strings.TrimSpace(serial) != "" {
		return serial, nil
	}
	if d.uuid != "" {
		return d.uuid, nil
	}

	return "", errors.New().Wrap(ErrSerialUnavailable, newNVMLError(ret))
}

func (d *Device) MaxClocks() (Clocks, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	errFactory := errors.New()

	core, ret := d.handle.GetMaxClockInfo(nvml.CLOCK_GRAPHICS)
	if !IsNVMLSuccess(ret) {
		return Clocks{}, errFactory.Wrap(ErrDeviceInfoFailed, newNVMLError(ret))
	}
	memory, ret := d.handle.GetMaxClockInfo(nvml.CLOCK_MEM)
	if !IsNVMLSuccess(ret) {
		return Clocks{}, errFactory.Wrap(ErrDeviceInfoFailed, newNVMLError(ret))
	}

	return Clocks{Core: float64(core), Memory: float64(memory)}, nil
}

// Read takes one telemetry snapshot. Temperature is required; every
// other reading is left nil when NVML reports it unsupported.
func (d *Device) Read() (Readings, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	temp, ret := d.handle.GetTemperature(nvml.TEMPERATURE_GPU)
	if !IsNVMLSuccess(ret) {
		return Readings{}, errors.New().Wrap(ErrTemperatureReadFailed, newNVMLError(ret))
	}

	r := Readings{Temperature: float64(temp)}

	if power, ret := d.handle.GetPowerUsage(); IsNVMLSuccess(ret) {
		r.PowerWatts = float(float64(power) / milliWattsToWatts)
	}
	if util, ret := d.handle.GetUtilizationRates(); IsNVMLSuccess(ret) {
		r.Load = float(float64(util.Gpu))
	}
	if clock, ret := d.handle.GetClockInfo(nvml.CLOCK_GRAPHICS); IsNVMLSuccess(ret) {
		r.CoreClock = float(float64(clock))
	}
	if clock, ret := d.handle.GetClockInfo(nvml.CLOCK_MEM); IsNVMLSuccess(ret) {
		r.MemoryClock = float(float64(clock))
	}
	if mem, ret := d.handle.GetMemoryInfo(); IsNVMLSuccess(ret) {
		r.MemoryTotalMB = float(float64(mem.Total / bytesPerMegabyte))
		r.MemoryUsedMB = float(float64(mem.Used / bytesPerMegabyte))
	}

	return r, nil
}

func float(v float64) *float64 {
	return &v
}
