package hardware

import (
	"context"
	"testing"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
	"codeberg.org/mutker/sysmetricsd/internal/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGPU struct {
	index    int
	readings gpu.Readings
	err      error
}

func (f *fakeGPU) Index() int                  { return f.index }
func (f *fakeGPU) Name() string                { return "NVIDIA GeForce RTX 3080" }
func (f *fakeGPU) Read() (gpu.Readings, error) { return f.readings, f.err }

func TestGPUItem(t *testing.T) {
	item := newGPUItem(&fakeGPU{
		index: 1,
		readings: gpu.Readings{
			Temperature:   64,
			PowerWatts:    value(215.5),
			Load:          value(87),
			CoreClock:     value(1905),
			MemoryClock:   value(9501),
			MemoryTotalMB: value(10240),
		},
	})

	assert.Equal(t, GPU, item.Type())
	assert.Equal(t, "/nvidiagpu/1", item.Identifier())
	assert.Equal(t, "1", item.Instance())

	require.NoError(t, item.Update(context.Background()))
	sensors := item.Sensors()

	temp := findSensor(sensors, "GPU Core", Temperature)
	require.NotNil(t, temp)
	assert.InDelta(t, 64.0, *temp.Value, 1e-9)

	memClock := findSensor(sensors, "GPU Memory", Clock)
	require.NotNil(t, memClock)
	assert.InDelta(t, 9501.0, *memClock.Value, 1e-9)

	vram := findSensor(sensors, "GPU Memory Total", Data)
	require.NotNil(t, vram)
	assert.InDelta(t, 10240.0, *vram.Value, 1e-9)
}

func TestGPUItemReadFailure(t *testing.T) {
	item := newGPUItem(&fakeGPU{err: errors.New().New(gpu.ErrTemperatureReadFailed)})

	err := item.Update(context.Background())
	assert.True(t, errors.HasCode(err, gpu.ErrTemperatureReadFailed))
	assert.Empty(t, item.Sensors())
}
