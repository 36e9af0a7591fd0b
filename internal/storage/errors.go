package storage

import "codeberg.org/mutker/sysmetricsd/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("storage_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed = errors.ErrInitFailed

	// Storage Errors
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed
	ErrOperation    = errors.ErrOperationFailed
	ErrClosed       = errors.ErrorCode("storage_closed")
	ErrNotFound     = errors.ErrorCode("storage_not_found")

	// Argument Errors
	ErrInvalidArgument = errors.ErrInvalidArgument
)

func operationError(operation string, err error) error {
	return errors.New().Wrap(ErrOperation, err).WithMessage("storage: " + operation + " failed")
}

func invalidArgument(msg string) error {
	return errors.New().WithMessage(ErrInvalidArgument, msg)
}
