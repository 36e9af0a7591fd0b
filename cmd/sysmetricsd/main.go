package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/sysmetricsd/internal/collector"
	"codeberg.org/mutker/sysmetricsd/internal/config"
	"codeberg.org/mutker/sysmetricsd/internal/gpu"
	"codeberg.org/mutker/sysmetricsd/internal/hardware"
	"codeberg.org/mutker/sysmetricsd/internal/inventory"
	"codeberg.org/mutker/sysmetricsd/internal/logger"
	"codeberg.org/mutker/sysmetricsd/internal/pid"
	"codeberg.org/mutker/sysmetricsd/internal/process"
	"codeberg.org/mutker/sysmetricsd/internal/retention"
	"codeberg.org/mutker/sysmetricsd/internal/scheduler"
	"codeberg.org/mutker/sysmetricsd/internal/storage"
	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	cfg        *config.Config
	log        logger.Logger
}

func main() {
	a := &app{}
	err := a.rootCommand().ExecuteContext(context.Background())
	_ = logger.Close()

	if err != nil {
		fmt.Fprintf(os.Stderr, "sysmetricsd: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:               "sysmetricsd",
		Short:             "Collect hardware and process telemetry into SQLite",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE:              a.run,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Configuration file (default /etc/sysmetricsd.toml)")
	pf.String("database", config.DefaultDatabase, "Path to the metrics database")
	pf.String("lifetime", config.DefaultLifetime, "Retention lifetime as <N><d|w|m|y>")
	pf.String("log-level", config.DefaultLogLevel, "Log level (debug, info, warning, error)")
	pf.String("log-file", "", "Also write JSON logs to this file")

	f := root.Flags()
	f.Duration("interval", config.DefaultInterval, "Sampling interval")
	f.Duration("prune-interval", config.DefaultPruneInterval, "Pruning interval")
	f.Bool("processes", true, "Record per-process usage")
	f.Bool("nvml", true, "Read NVIDIA GPUs through NVML")
	f.String("machine-state", config.DefaultMachineState, "Machine state label stored with each statistic")

	backup := &cobra.Command{
		Use:   "backup-db",
		Short: "Write a consistent copy of the database",
		RunE:  a.backupDB,
	}
	backup.Flags().String("backup-dir", "", "Destination directory (default <database dir>/backups)")

	root.AddCommand(
		&cobra.Command{
			Use:   "init-db",
			Short: "Create the database schema",
			Args:  cobra.NoArgs,
			RunE:  a.initDB,
		},
		&cobra.Command{
			Use:   "clear-db",
			Short: "Delete all recorded telemetry",
			Args:  cobra.NoArgs,
			RunE:  a.clearDB,
		},
		&cobra.Command{
			Use:   "prune-now",
			Short: "Delete telemetry older than the retention lifetime",
			Args:  cobra.NoArgs,
			RunE:  a.pruneNow,
		},
		backup,
	)

	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.WithConfigFile(a.configPath), config.WithFlags(cmd.Flags()))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.Options{
		Level:     cfg.LogLevel,
		File:      cfg.LogFile,
		IsService: logger.IsService(),
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	a.log = logger.Default()

	a.log.Debug().Str("file", cfg.File).Msg("Config loaded")
	a.log.Info().
		Str("lifetime", cfg.LifetimeSpec).
		Float64("days", retention.Days(cfg.Lifetime)).
		Msgf("Retention lifetime set to %g days", retention.Days(cfg.Lifetime))

	return nil
}

func (a *app) openStore(ctx context.Context) (*storage.Store, error) {
	store, err := storage.Open(storage.Config{
		DBPath:        a.cfg.Database,
		RetryAttempts: a.cfg.RetryAttempts,
		RetryBackoff:  a.cfg.RetryBackoff,
		BusyTimeout:   storage.DefaultConfig().BusyTimeout,
	}, a.log)
	if err != nil {
		return nil, err
	}

	if err := store.Initialize(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	return store, nil
}

func (a *app) run(cmd *cobra.Command, _ []string) error {
	pidFile := pid.ForDatabase(a.cfg.Database)
	if err := pidFile.Write(); err != nil {
		return err
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	store, err := a.openStore(cmd.Context())
	if err != nil {
		a.log.Error().Err(err).Str("path", a.cfg.Database).Msg("Failed to initialize database")
		return err
	}

	providers := hardware.Providers{hardware.NewSystem()}
	var gpus inventory.GPUSource

	if a.cfg.NVML {
		mgr := gpu.NewManager(a.log)
		if err := mgr.Initialize(); err != nil {
			a.log.Warn().Err(err).Msg("NVML unavailable, GPU telemetry disabled")
		} else {
			defer func() {
				if err := mgr.Shutdown(); err != nil {
					a.log.Warn().Err(err).Msg("Failed to shut down NVML")
				}
			}()
			providers = append(providers, hardware.NewNVIDIA(mgr))
			gpus = mgr
		}
	}

	var procs process.Enumerator
	if a.cfg.Processes {
		procs = process.NewSystem()
	}

	coll := collector.New(store, providers, inventory.NewSystem(gpus), procs, collector.Config{
		Lifetime:     a.cfg.Lifetime,
		MachineState: a.cfg.MachineState,
	}, a.log)

	sched, err := scheduler.New(scheduler.Config{
		Interval:      a.cfg.Interval,
		PruneInterval: a.cfg.PruneInterval,
		Lifetime:      a.cfg.Lifetime,
	}, coll, retention.NewManager(store, a.log), store, a.log)
	if err != nil {
		_ = store.Close()
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go handleSignals(cancel)

	if err := sched.Start(ctx); err != nil {
		_ = sched.Stop()
		return err
	}

	<-ctx.Done()

	a.log.Info().Msg("Stopping schedulers")
	if err := sched.Stop(); err != nil {
		a.log.Error().Err(err).Msg("Shutdown incomplete")
		return err
	}
	a.log.Info().Msg("Exiting...")

	return nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

// withStore opens the database for a one-shot maintenance command.
func (a *app) withStore(ctx context.Context, fn func(*storage.Store) error) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	fnErr := fn(store)
	if err := store.Close(); err != nil && fnErr == nil {
		return err
	}

	return fnErr
}

func (a *app) initDB(cmd *cobra.Command, _ []string) error {
	return a.withStore(cmd.Context(), func(store *storage.Store) error {
		a.log.Info().Str("path", store.Path()).Msg("Database initialized")
		return nil
	})
}

func (a *app) clearDB(cmd *cobra.Command, _ []string) error {
	return a.withStore(cmd.Context(), func(store *storage.Store) error {
		counts, err := store.Counts(cmd.Context())
		if err != nil {
			return err
		}

		if err := store.Clear(cmd.Context()); err != nil {
			return err
		}

		a.log.Info().
			Int64("components", counts.Components).
			Int64("statistics", counts.Statistics).
			Int64("processes", counts.Processes).
			Msg("Database cleared")

		return nil
	})
}

func (a *app) pruneNow(cmd *cobra.Command, _ []string) error {
	return a.withStore(cmd.Context(), func(store *storage.Store) error {
		_, err := retention.NewManager(store, a.log).Prune(cmd.Context(), a.cfg.Lifetime)
		return err
	})
}

func (a *app) backupDB(cmd *cobra.Command, _ []string) error {
	return a.withStore(cmd.Context(), func(store *storage.Store) error {
		path, err := store.Backup(cmd.Context(), a.cfg.BackupDir, time.Now())
		if err != nil {
			return err
		}

		a.log.Info().Str("path", path).Msg("Backup written")
		return nil
	})
}
