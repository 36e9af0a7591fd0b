package scheduler

import "codeberg.org/mutker/sysmetricsd/internal/errors"

const (
	ErrInvalidConfig  = errors.ErrInvalidInterval
	ErrAlreadyStarted = errors.ErrorCode("scheduler_already_started")
	ErrStopped        = errors.ErrorCode("scheduler_stopped")
	ErrShutdownFailed = errors.ErrShutdownFailed
)
