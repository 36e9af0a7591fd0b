package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
)

// Backup writes a consistent copy of the database into dir and returns
// the path of the new file. It holds the store lock, so no sampling or
// pruning write can interleave with the snapshot.
func (s *Store) Backup(ctx context.Context, dir string, now time.Time) (string, error) {
	errFactory := errors.New()

	if isBlank(dir) {
		return "", invalidArgument("backup directory cannot be blank")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return "", err
	}

	// Ensure backup directory exists
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return "", errFactory.WithData(ErrOperation, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup_dir",
			Path:  dir,
			Error: err.Error(),
		})
	}

	// Create backup filename with timestamp
	timestamp := now.UTC().Format("20060102T150405Z")
	backupPath := filepath.Join(dir, fmt.Sprintf("metrics_%s.db", timestamp))

	// VACUUM INTO requires no active transaction
	query := fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(backupPath, "'", "''"))
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query)
		return err
	})
	if err != nil {
		return "", errFactory.WithData(ErrOperation, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup",
			Path:  backupPath,
			Error: err.Error(),
		})
	}

	s.logger.Info().
		Str("path", backupPath).
		Msg("Database backup created")

	return backupPath, nil
}
