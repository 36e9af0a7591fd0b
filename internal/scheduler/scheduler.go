// Package scheduler drives the periodic sampling and pruning cycles.
package scheduler

import (
	"context"
	"io"
	"sync"
	"time"

	"codeberg.org/mutker/sysmetricsd/internal/collector"
	"codeberg.org/mutker/sysmetricsd/internal/errors"
	"codeberg.org/mutker/sysmetricsd/internal/logger"
	"codeberg.org/mutker/sysmetricsd/internal/retention"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	DefaultInterval      = 30 * time.Second
	DefaultPruneInterval = 24 * time.Hour

	// cron.Every rounds below this.
	minInterval = time.Second
)

type Sampler interface {
	Sample(ctx context.Context) collector.Summary
}

type Pruner interface {
	Prune(ctx context.Context, lifetime time.Duration) (retention.Result, error)
}

type Config struct {
	Interval      time.Duration
	PruneInterval time.Duration
	// Lifetime is the retention applied by every pruning cycle.
	Lifetime time.Duration
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Interval < minInterval {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Value string
		}{"interval", c.Interval.String()})
	}
	if c.PruneInterval < minInterval {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Value string
		}{"prune_interval", c.PruneInterval.String()})
	}
	if c.Lifetime <= 0 {
		return errFactory.WithData(errors.ErrInvalidArgument, struct {
			Field string
			Value string
		}{"lifetime", c.Lifetime.String()})
	}

	return nil
}

// Scheduler runs at most one sampling cycle and at most one pruning
// cycle at a time. The two may overlap each other; their writes are
// serialized by the store.
type Scheduler struct {
	cfg     Config
	sampler Sampler
	pruner  Pruner
	store   io.Closer
	logger  logger.Logger
	cron    *cron.Cron

	sampling guard
	pruning  guard

	// ctx is the Start context without its cancellation, so a cycle in
	// progress at shutdown runs to completion.
	ctx context.Context

	mu       sync.Mutex
	started  bool
	stopped  bool
	stopOnce sync.Once
	stopErr  error
}

// New builds a scheduler that closes store once Stop has drained both
// cycles.
func New(cfg Config, sampler Sampler, pruner Pruner, store io.Closer, log logger.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cl := cronLogger{log: log}

	return &Scheduler{
		cfg:      cfg,
		sampler:  sampler,
		pruner:   pruner,
		store:    store,
		logger:   log,
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		sampling: newGuard(),
		pruning:  newGuard(),
		ctx:      context.Background(),
	}, nil
}

// Start takes one sample synchronously, then arms the sampling and
// pruning timers. It returns once the timers are running, or ErrStopped
// when Stop ran during the warm-up.
func (s *Scheduler) Start(ctx context.Context) error {
	errFactory := errors.New()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errFactory.New(ErrStopped)
	}
	if s.started {
		s.mu.Unlock()
		return errFactory.New(ErrAlreadyStarted)
	}
	s.started = true
	s.ctx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	s.logger.Info().Msg("Taking warm-up sample")
	s.RunSampling()

	// Stop may have run during the warm-up; the timers stay disarmed.
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errFactory.New(ErrStopped)
	}
	s.cron.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(func() { s.RunSampling() }))
	s.cron.Schedule(cron.Every(s.cfg.PruneInterval), cron.FuncJob(func() { s.RunPruning() }))
	s.cron.Start()
	s.mu.Unlock()

	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Dur("prune_interval", s.cfg.PruneInterval).
		Float64("lifetime_days", retention.Days(s.cfg.Lifetime)).
		Msg("Scheduler started")

	return nil
}

// RunSampling runs one sampling cycle unless one is already running,
// in which case the tick is dropped and false is returned.
func (s *Scheduler) RunSampling() bool {
	if !s.sampling.tryAcquire() {
		s.logger.Warn().Msg("Previous sampling cycle still running, tick dropped")
		return false
	}
	defer s.sampling.release()

	s.sampler.Sample(s.context())

	return true
}

// RunPruning runs one pruning cycle unless one is already running.
// Prune failures are logged; the next cycle tries again.
func (s *Scheduler) RunPruning() bool {
	if !s.pruning.tryAcquire() {
		s.logger.Warn().Msg("Previous pruning cycle still running, tick dropped")
		return false
	}
	defer s.pruning.release()

	log := s.logger.With("cycle", uuid.NewString())
	log.Info().Float64("lifetime_days", retention.Days(s.cfg.Lifetime)).Msg("Pruning expired data")

	if _, err := s.pruner.Prune(s.context(), s.cfg.Lifetime); err != nil {
		log.ErrorWithContext(err, "scheduler", "prune").Msg("Pruning cycle failed")
	}

	return true
}

// Stop halts both timers, waits for in-flight cycles and closes the
// store. Only the first call does any work; later calls return its
// result. Cycles attempted after Stop are dropped.
func (s *Scheduler) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		s.logger.Info().Msg("Stopping scheduler")
		<-s.cron.Stop().Done()

		s.sampling.acquire()
		s.pruning.acquire()

		if err := s.store.Close(); err != nil {
			s.stopErr = errors.New().Wrap(ErrShutdownFailed, err)
			return
		}

		s.logger.Info().Msg("Scheduler stopped")
	})

	return s.stopErr
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ctx
}
