package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
	"codeberg.org/mutker/sysmetricsd/internal/logger"
	"codeberg.org/mutker/sysmetricsd/internal/retry"
	"github.com/mattn/go-sqlite3"
)

// timestampLayout is fixed width and always UTC, so lexical order in
// sqlite matches chronological order.
const timestampLayout = "2006-01-02 15:04:05.000000"

// conn is the subset of *sql.DB the store needs.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Close() error
}

// Store owns the single connection to the metrics database. Every
// operation holds mu for its full duration, including retry backoff.
type Store struct {
	db     conn
	path   string
	logger logger.Logger
	retry  retry.Policy
	mu     sync.Mutex
}

// Open opens the database file, creating its directory if needed. The
// schema is not touched until Initialize.
func Open(cfg Config, log logger.Logger) (*Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := fmt.Sprintf("file:%s?_journal=WAL&_foreign_keys=on&_busy_timeout=%d",
		cfg.DBPath, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	// One live connection; writers are serialized by Store.mu anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	log.Debug().Str("path", cfg.DBPath).Msg("Metrics database opened")

	return newStore(db, cfg, log), nil
}

func newStore(db conn, cfg Config, log logger.Logger) *Store {
	s := &Store{
		db:     db,
		path:   cfg.DBPath,
		logger: log,
	}

	s.retry = retry.Policy{
		MaxAttempts: cfg.RetryAttempts,
		Backoff:     retry.Linear(cfg.RetryBackoff),
		Retryable:   isTransient,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			s.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("backoff", wait).
				Msg("Transient database error, retrying")
		},
	}

	return s
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Initialize creates the component, component_statistic and process
// relations if they are absent. Exhausted retries are fatal.
func (s *Store) Initialize(ctx context.Context) error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return errFactory.Wrap(ErrSchemaInitFailed, errFactory.New(ErrClosed))
	}

	for _, stmt := range schemaStatements {
		s.logger.Debug().Str("table", stmt.table).Msg("Creating table if absent")

		err := s.retry.Do(ctx, func(ctx context.Context) error {
			_, err := s.db.ExecContext(ctx, stmt.sql)
			return err
		})
		if err != nil {
			return errFactory.Wrap(ErrSchemaInitFailed, err).WithData(struct {
				Table string
				Error string
			}{
				Table: stmt.table,
				Error: err.Error(),
			})
		}
	}

	s.logger.Info().Str("path", s.path).Msg("Schema initialized")

	return nil
}

// ComponentExists reports whether a component row exists for serial.
func (s *Store) ComponentExists(ctx context.Context, serial string) (bool, error) {
	if isBlank(serial) {
		return false, invalidArgument("serial number cannot be blank")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return false, err
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, componentExistsSQL, serial).Scan(&count); err != nil {
		return false, operationError("component_exists", err)
	}

	return count > 0, nil
}

// InsertComponent inserts c unless a row with the same serial already
// exists; an existing row is never overwritten.
func (s *Store) InsertComponent(ctx context.Context, c Component) error {
	if isBlank(c.SerialNumber) {
		return invalidArgument("serial number cannot be blank")
	}
	if isBlank(c.DeviceType) {
		return invalidArgument("device type cannot be blank")
	}

	return s.write(ctx, "insert_component", insertComponentSQL,
		c.SerialNumber, c.DeviceType, c.VRAM, c.StockCoreSpeed, c.StockMemorySpeed)
}

// InsertComponentStatistic upserts a statistic row keyed by (serial,
// timestamp). end_of_life is fixed here as timestamp + lifetime.
func (s *Store) InsertComponentStatistic(ctx context.Context, stat ComponentStatistic, lifetime time.Duration) error {
	if isBlank(stat.SerialNumber) {
		return invalidArgument("serial number cannot be blank")
	}
	if isBlank(stat.MachineState) {
		return invalidArgument("machine state cannot be blank")
	}
	if lifetime <= 0 {
		return invalidArgument("lifetime must be positive")
	}

	endOfLife := stat.Timestamp.Add(lifetime)

	return s.write(ctx, "insert_component_statistic", insertComponentStatisticSQL,
		stat.SerialNumber,
		formatTimestamp(stat.Timestamp),
		stat.MachineState,
		stat.Temperature,
		stat.Usage,
		stat.PowerConsumption,
		stat.CoreSpeed,
		stat.MemorySpeed,
		stat.TotalRAM,
		formatTimestamp(endOfLife),
	)
}

// InsertProcess upserts a process row keyed by (pid, timestamp).
func (s *Store) InsertProcess(ctx context.Context, p Process, lifetime time.Duration) error {
	if lifetime <= 0 {
		return invalidArgument("lifetime must be positive")
	}

	return s.write(ctx, "insert_process", insertProcessSQL,
		p.PID,
		formatTimestamp(p.Timestamp),
		p.CPUUsage,
		p.MemoryUsage,
		formatTimestamp(p.Timestamp.Add(lifetime)),
	)
}

// Clear deletes every row from every relation.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	for _, table := range clearOrder {
		query := "DELETE FROM " + table
		err := s.retry.Do(ctx, func(ctx context.Context) error {
			_, err := s.db.ExecContext(ctx, query)
			return err
		})
		if err != nil {
			return errors.New().Wrap(ErrOperation, err).WithData(struct {
				Phase string
				Table string
				Error string
			}{
				Phase: "clear",
				Table: table,
				Error: err.Error(),
			})
		}
	}

	s.logger.Info().Msg("Database cleared")

	return nil
}

// DeleteStatisticsBefore removes statistic rows with timestamp < cutoff.
func (s *Store) DeleteStatisticsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.delete(ctx, "delete_statistics", deleteStatisticsBeforeSQL, formatTimestamp(cutoff))
}

// DeleteProcessesBefore removes process rows with timestamp < cutoff.
func (s *Store) DeleteProcessesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.delete(ctx, "delete_processes", deleteProcessesBeforeSQL, formatTimestamp(cutoff))
}

// DeleteOrphanComponents removes components no statistic references.
func (s *Store) DeleteOrphanComponents(ctx context.Context) (int64, error) {
	return s.delete(ctx, "delete_orphan_components", deleteOrphanComponentsSQL)
}

// GetComponent returns the component with the given serial.
func (s *Store) GetComponent(ctx context.Context, serial string) (*Component, error) {
	if isBlank(serial) {
		return nil, invalidArgument("serial number cannot be blank")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var (
		c         Component
		vram      sql.NullInt64
		stockCore sql.NullFloat64
		stockMem  sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, selectComponentSQL, serial).
		Scan(&c.SerialNumber, &c.DeviceType, &vram, &stockCore, &stockMem)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New().WithData(ErrNotFound, serial)
	}
	if err != nil {
		return nil, operationError("get_component", err)
	}

	c.VRAM = nullInt(vram)
	c.StockCoreSpeed = nullFloat(stockCore)
	c.StockMemorySpeed = nullFloat(stockMem)

	return &c, nil
}

// ComponentStatistics returns the statistics for serial, oldest first.
func (s *Store) ComponentStatistics(ctx context.Context, serial string) ([]ComponentStatistic, error) {
	if isBlank(serial) {
		return nil, invalidArgument("serial number cannot be blank")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectStatisticsSQL, serial)
	if err != nil {
		return nil, operationError("select_statistics", err)
	}
	defer rows.Close()

	var stats []ComponentStatistic
	for rows.Next() {
		var (
			stat                          ComponentStatistic
			power, core, memory, totalRAM sql.NullFloat64
		)
		if err := rows.Scan(
			&stat.SerialNumber, &stat.Timestamp, &stat.MachineState, &stat.Temperature, &stat.Usage,
			&power, &core, &memory, &totalRAM, &stat.EndOfLife,
		); err != nil {
			return nil, operationError("scan_statistic", err)
		}

		stat.PowerConsumption = nullFloat(power)
		stat.CoreSpeed = nullFloat(core)
		stat.MemorySpeed = nullFloat(memory)
		stat.TotalRAM = nullFloat(totalRAM)
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, operationError("select_statistics", err)
	}

	return stats, nil
}

// Processes returns the samples recorded for pid, oldest first.
func (s *Store) Processes(ctx context.Context, pid int) ([]Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectProcessesSQL, pid)
	if err != nil {
		return nil, operationError("select_processes", err)
	}
	defer rows.Close()

	var processes []Process
	for rows.Next() {
		var p Process
		if err := rows.Scan(&p.PID, &p.Timestamp, &p.CPUUsage, &p.MemoryUsage, &p.EndOfLife); err != nil {
			return nil, operationError("scan_process", err)
		}
		processes = append(processes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, operationError("select_processes", err)
	}

	return processes, nil
}

// Counts returns the number of rows in each relation.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return Counts{}, err
	}

	var counts Counts
	err := s.db.QueryRowContext(ctx, countsSQL).Scan(&counts.Components, &counts.Statistics, &counts.Processes)
	if err != nil {
		return Counts{}, operationError("counts", err)
	}

	return counts, nil
}

// Close checkpoints the WAL and releases the connection. Calling Close
// again is a no-op.
func (s *Store) Close() error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	db := s.db
	s.db = nil

	if _, err := db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to checkpoint WAL")
	}

	if err := db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	s.logger.Info().Msg("Metrics database closed")

	return nil
}

func (s *Store) write(ctx context.Context, operation, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return operationError(operation, err)
	}

	return nil
}

func (s *Store) delete(ctx context.Context, operation, query string, args ...any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	affected, err := retry.Value(ctx, s.retry, func(ctx context.Context) (int64, error) {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return result.RowsAffected()
	})
	if err != nil {
		return 0, operationError(operation, err)
	}

	return affected, nil
}

func (s *Store) checkOpen() error {
	if s.db == nil {
		return errors.New().Wrap(ErrOperation, errors.New().New(ErrClosed))
	}

	return nil
}

// isTransient reports whether err is sqlite lock contention worth
// retrying.
func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	return false
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}
