// Package retention deletes expired samples and the components they
// leave behind.
package retention

import (
	"context"
	"time"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
	"codeberg.org/mutker/sysmetricsd/internal/logger"
)

// Store is the slice of the storage engine pruning needs.
type Store interface {
	DeleteStatisticsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteProcessesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOrphanComponents(ctx context.Context) (int64, error)
}

// Result counts the rows removed by one prune.
type Result struct {
	Cutoff     time.Time
	Statistics int64
	Processes  int64
	Components int64
}

type Manager struct {
	store  Store
	logger logger.Logger
	now    func() time.Time
}

func NewManager(store Store, log logger.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: log,
		now:    time.Now,
	}
}

// Prune deletes statistics and processes whose timestamp is before
// now-lifetime, then every component without statistics. The stored
// end_of_life column plays no part. A failing step does not stop the
// later ones; all failures are returned joined.
func (m *Manager) Prune(ctx context.Context, lifetime time.Duration) (Result, error) {
	if lifetime <= 0 {
		return Result{}, errors.New().WithData(ErrInvalidLifetime, struct {
			Lifetime string
			Reason   string
		}{
			Lifetime: lifetime.String(),
			Reason:   "lifetime must be positive",
		})
	}

	result := Result{Cutoff: m.now().Add(-lifetime)}
	var errs []error

	steps := []struct {
		name  string
		count *int64
		run   func(context.Context) (int64, error)
	}{
		{"delete_statistics", &result.Statistics, func(ctx context.Context) (int64, error) {
			return m.store.DeleteStatisticsBefore(ctx, result.Cutoff)
		}},
		{"delete_processes", &result.Processes, func(ctx context.Context) (int64, error) {
			return m.store.DeleteProcessesBefore(ctx, result.Cutoff)
		}},
		{"delete_orphan_components", &result.Components, m.store.DeleteOrphanComponents},
	}

	for _, step := range steps {
		n, err := step.run(ctx)
		if err != nil {
			m.logger.ErrorWithContext(err, "retention", step.name).
				Time("cutoff", result.Cutoff).
				Msg("Prune step failed")
			errs = append(errs, errors.New().Wrap(ErrPruneFailed, err).WithMessage("retention: "+step.name+" failed"))
			continue
		}
		*step.count = n
	}

	m.logger.Info().
		Time("cutoff", result.Cutoff).
		Float64("lifetime_days", Days(lifetime)).
		Int64("statistics", result.Statistics).
		Int64("processes", result.Processes).
		Int64("components", result.Components).
		Msg("Prune completed")

	return result, errors.Join(errs...)
}
