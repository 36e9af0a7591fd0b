package hardware

import (
	"context"
	"strconv"
	"sync"

	"codeberg.org/mutker/sysmetricsd/internal/gpu"
)

// gpuDevice is the read side of *gpu.Device.
type gpuDevice interface {
	Index() int
	Name() string
	Read() (gpu.Readings, error)
}

// GPUs lists the devices of an NVML session. *gpu.Manager implements it.
type GPUs interface {
	Devices() []*gpu.Device
}

// NVIDIA exposes every NVML device as a GPU item.
type NVIDIA struct {
	gpus GPUs

	mu    sync.Mutex
	items []Item
}

func NewNVIDIA(gpus GPUs) *NVIDIA {
	return &NVIDIA{gpus: gpus}
}

func (n *NVIDIA) Items(_ context.Context) ([]Item, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.items == nil {
		for _, d := range n.gpus.Devices() {
			n.items = append(n.items, newGPUItem(d))
		}
	}

	return n.items, nil
}

type gpuItem struct {
	base
	device gpuDevice
}

func newGPUItem(d gpuDevice) *gpuItem {
	index := strconv.Itoa(d.Index())
	return &gpuItem{
		base: base{
			hwType:     GPU,
			name:       d.Name(),
			identifier: "/nvidiagpu/" + index,
			instance:   index,
		},
		device: d,
	}
}

func (g *gpuItem) Update(_ context.Context) error {
	r, err := g.device.Read()
	if err != nil {
		return err
	}

	sensors := []Sensor{
		{Name: "GPU Core", Type: Temperature, Value: value(r.Temperature)},
		{Name: "GPU Power", Type: Power, Value: r.PowerWatts},
		{Name: "GPU Core", Type: Load, Value: r.Load},
		{Name: "GPU Core", Type: Clock, Value: r.CoreClock},
		{Name: "GPU Memory", Type: Clock, Value: r.MemoryClock},
		{Name: "GPU Memory Total", Type: Data, Value: r.MemoryTotalMB},
	}
	g.setSensors(sensors)

	return nil
}
