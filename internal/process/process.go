// Package process samples CPU and memory usage of running processes.
package process

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
	psprocess "github.com/shirou/gopsutil/v3/process"
)

const bytesPerMegabyte = 1024 * 1024

// Sample is the resource usage of one process at one point in time.
type Sample struct {
	PID        int32
	Name       string
	CPUPercent float64
	MemoryMB   float64
}

// Enumerator lists the running processes with their usage.
type Enumerator interface {
	Sample(ctx context.Context) ([]Sample, error)
}

// Failure records a process that could not be read during Sample.
type Failure struct {
	PID int32
	Err error
}

// handle is the slice of *psprocess.Process the sampler reads.
type handle interface {
	NameWithContext(ctx context.Context) (string, error)
	PercentWithContext(ctx context.Context, interval time.Duration) (float64, error)
	MemoryInfoWithContext(ctx context.Context) (*psprocess.MemoryInfoStat, error)
}

// System enumerates processes through gopsutil. Handles are kept
// between calls so CPU usage is measured over the interval since the
// previous Sample; the first sample of a new process reports 0.
type System struct {
	list func(ctx context.Context) ([]int32, error)
	open func(pid int32) (handle, error)

	mu       sync.Mutex
	handles  map[int32]handle
	failures []Failure
}

func NewSystem() *System {
	return &System{
		list: psprocess.PidsWithContext,
		open: func(pid int32) (handle, error) {
			return psprocess.NewProcess(pid)
		},
		handles: make(map[int32]handle),
	}
}

// Sample returns one entry per readable process. Pid 0 is skipped.
// Processes that vanish or deny access are left out and reported by
// Failures; they never fail the whole sample.
func (s *System) Sample(ctx context.Context) ([]Sample, error) {
	pids, err := s.list(ctx)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = s.failures[:0]
	seen := make(map[int32]struct{}, len(pids))
	samples := make([]Sample, 0, len(pids))

	for _, pid := range pids {
		if pid == 0 {
			continue
		}
		seen[pid] = struct{}{}

		sample, err := s.read(ctx, pid)
		if err != nil {
			delete(s.handles, pid)
			s.failures = append(s.failures, Failure{PID: pid, Err: err})
			continue
		}
		samples = append(samples, sample)
	}

	for pid := range s.handles {
		if _, ok := seen[pid]; !ok {
			delete(s.handles, pid)
		}
	}

	return samples, nil
}

// Failures returns the processes skipped by the last Sample.
func (s *System) Failures() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Failure(nil), s.failures...)
}

func (s *System) read(ctx context.Context, pid int32) (Sample, error) {
	h, ok := s.handles[pid]
	if !ok {
		var err error
		if h, err = s.open(pid); err != nil {
			return Sample{}, err
		}
		s.handles[pid] = h
	}

	// The name only labels log lines; a process whose name cannot be
	// read is still sampled.
	name, err := h.NameWithContext(ctx)
	if err != nil {
		name = ""
	}

	cpuPercent, err := h.PercentWithContext(ctx, 0)
	if err != nil {
		return Sample{}, err
	}

	memInfo, err := h.MemoryInfoWithContext(ctx)
	if err != nil {
		return Sample{}, err
	}

	return Sample{
		PID:        pid,
		Name:       name,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / bytesPerMegabyte,
	}, nil
}
