package retention

import "codeberg.org/mutker/sysmetricsd/internal/errors"

const (
	ErrInvalidLifetime = errors.ErrInvalidArgument
	ErrPruneFailed     = errors.ErrOperationFailed
)
