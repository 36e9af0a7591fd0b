package errors

// ErrorCode classifies a failure. Callers branch on codes, never on
// message text.
type ErrorCode string

// Coded is implemented by any error that carries an ErrorCode. HasCode
// and CodeOf look for it along the wrap chain.
type Coded interface {
	error
	Code() ErrorCode
}

// Error is a coded failure with an optional message and payload.
// Storage and retention attach the failed operation as the message;
// validation failures attach the offending value as data.
type Error interface {
	Coded
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory builds coded errors. Packages alias their own codes onto the
// shared ones in codes.go, so a storage failure still answers
// HasCode(err, ErrOperationFailed).
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
