package process

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
	psprocess "github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	name    string
	nameErr error
	percent []float64
	calls   int
	rss     uint64
	err     error
}

func (f *fakeHandle) NameWithContext(context.Context) (string, error) { return f.name, f.nameErr }

func (f *fakeHandle) PercentWithContext(context.Context, time.Duration) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	v := f.percent[f.calls%len(f.percent)]
	f.calls++
	return v, nil
}

func (f *fakeHandle) MemoryInfoWithContext(context.Context) (*psprocess.MemoryInfoStat, error) {
	return &psprocess.MemoryInfoStat{RSS: f.rss}, nil
}

func newFakeSystem(pids *[]int32, handles map[int32]*fakeHandle) (*System, *int) {
	opened := 0
	s := NewSystem()
	s.list = func(context.Context) ([]int32, error) { return *pids, nil }
	s.open = func(pid int32) (handle, error) {
		h, ok := handles[pid]
		if !ok {
			return nil, errors.New().New(errors.ErrUnavailable)
		}
		opened++
		return h, nil
	}
	return s, &opened
}

func TestSampleSkipsPidZeroAndConvertsMemory(t *testing.T) {
	pids := []int32{0, 1, 42}
	s, _ := newFakeSystem(&pids, map[int32]*fakeHandle{
		0:  {name: "idle", percent: []float64{0}},
		1:  {name: "init", percent: []float64{0.5}, rss: 8 * bytesPerMegabyte},
		42: {name: "sysmetricsd", percent: []float64{12.5}, rss: 3 * bytesPerMegabyte / 2},
	})

	samples, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Sample{
		{PID: 1, Name: "init", CPUPercent: 0.5, MemoryMB: 8},
		{PID: 42, Name: "sysmetricsd", CPUPercent: 12.5, MemoryMB: 1.5},
	}, samples)
}

func TestSampleReusesHandlesBetweenCycles(t *testing.T) {
	pids := []int32{7}
	h := &fakeHandle{name: "worker", percent: []float64{0, 35}}
	s, opened := newFakeSystem(&pids, map[int32]*fakeHandle{7: h})

	first, err := s.Sample(context.Background())
	require.NoError(t, err)
	second, err := s.Sample(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, *opened)
	assert.InDelta(t, 0.0, first[0].CPUPercent, 1e-9)
	assert.InDelta(t, 35.0, second[0].CPUPercent, 1e-9)
}

func TestSampleDropsExitedProcesses(t *testing.T) {
	pids := []int32{7, 8}
	s, opened := newFakeSystem(&pids, map[int32]*fakeHandle{
		7: {percent: []float64{1}},
		8: {percent: []float64{1}},
	})

	_, err := s.Sample(context.Background())
	require.NoError(t, err)

	pids = []int32{8}
	_, err = s.Sample(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.handles, 1)

	// A recycled pid gets a fresh handle.
	pids = []int32{7, 8}
	_, err = s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, *opened)
}

func TestSampleIsolatesUnreadableProcesses(t *testing.T) {
	pids := []int32{5, 6, 9}
	s, _ := newFakeSystem(&pids, map[int32]*fakeHandle{
		5: {percent: []float64{2}},
		6: {err: errors.New().New(errors.ErrUnavailable)},
	})

	samples, err := s.Sample(context.Background())
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, int32(5), samples[0].PID)

	failures := s.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, int32(6), failures[0].PID)
	assert.Equal(t, int32(9), failures[1].PID)
	assert.NotContains(t, s.handles, int32(6))
}

func TestSampleKeepsProcessWithUnreadableName(t *testing.T) {
	pids := []int32{21}
	s, _ := newFakeSystem(&pids, map[int32]*fakeHandle{
		21: {name: "partial", nameErr: errors.New().New(errors.ErrUnavailable), percent: []float64{3}, rss: bytesPerMegabyte},
	})

	samples, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Sample{{PID: 21, CPUPercent: 3, MemoryMB: 1}}, samples)
	assert.Empty(t, s.Failures())
}

func TestSampleListFailure(t *testing.T) {
	s := NewSystem()
	s.list = func(context.Context) ([]int32, error) {
		return nil, errors.New().New(errors.ErrInternal)
	}

	_, err := s.Sample(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrUnavailable))
}
