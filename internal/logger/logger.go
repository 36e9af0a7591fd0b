package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

const (
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644

	// Ring buffer for the file sink; one goroutine drains it.
	diodeBufferSize   = 1000
	diodePollInterval = 10 * time.Millisecond
)

var (
	log  = zerolog.Nop()
	sink io.Closer
	mu   sync.Mutex
)

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// Options configures the process-wide logger.
type Options struct {
	Level     string
	File      string
	IsService bool
}

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

type zeroLogger struct {
	l zerolog.Logger
}

// Init initializes the logger based on the given configuration. Console
// output always goes to stdout; when File is set, JSON lines are also
// appended to it through a single diode writer so concurrent cycles never
// interleave partial lines.
func Init(opts Options) error {
	errFactory := errors.New()

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if opts.IsService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	writers := []io.Writer{output}

	mu.Lock()
	defer mu.Unlock()

	if sink != nil {
		_ = sink.Close()
		sink = nil
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), defaultDirPerm); err != nil {
			return errFactory.Wrap(errors.ErrInitFailed, err)
		}

		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, defaultFilePerm)
		if err != nil {
			return errFactory.Wrap(errors.ErrInitFailed, err)
		}

		fileWriter := diode.NewWriter(file, diodeBufferSize, diodePollInterval, func(missed int) {
			fmt.Fprintf(os.Stderr, "logger: dropped %d messages\n", missed)
		})
		writers = append(writers, fileWriter)
		sink = fileWriter
	}

	log = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	SetLogLevel(level)

	return nil
}

// Close flushes and releases the file sink, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if sink == nil {
		return nil
	}

	err := sink.Close()
	sink = nil

	return err
}

// ParseLevel maps a configured level name onto a LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, errors.New().WithData(errors.ErrInvalidLogLevel, level)
	}
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Default returns a Logger backed by the process-wide logger.
func Default() Logger {
	mu.Lock()
	defer mu.Unlock()

	return &zeroLogger{l: log}
}

// New returns a Logger writing JSON lines to w. Used by tests that
// inspect log output.
func New(w io.Writer) Logger {
	return &zeroLogger{l: zerolog.New(w).With().Timestamp().Logger()}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &zeroLogger{l: zerolog.Nop()}
}

func (z *zeroLogger) Debug() *LogEvent {
	return &LogEvent{z.l.Debug()}
}

func (z *zeroLogger) Info() *LogEvent {
	return &LogEvent{z.l.Info()}
}

func (z *zeroLogger) Warn() *LogEvent {
	return &LogEvent{z.l.Warn()}
}

func (z *zeroLogger) Error() *LogEvent {
	return &LogEvent{z.l.Error()}
}

func (z *zeroLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{z.l.Error().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

func (z *zeroLogger) ErrorWithContext(err error, component, operation string) *LogEvent {
	return &LogEvent{z.l.Error().
		Str("error_code", string(errors.CodeOf(err))).
		Str("component", component).
		Str("operation", operation).
		Err(err)}
}

func (z *zeroLogger) With(key, value string) Logger {
	return &zeroLogger{l: z.l.With().Str(key, value).Logger()}
}

// Debug logs a debug message
func Debug() *LogEvent {
	return Default().Debug()
}

// Info logs an info message
func Info() *LogEvent {
	return Default().Info()
}

// Warn logs a warning message
func Warn() *LogEvent {
	return Default().Warn()
}

// Error logs an error message
func Error() *LogEvent {
	return Default().Error()
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	mu.Lock()
	defer mu.Unlock()

	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	mu.Lock()
	defer mu.Unlock()

	return &LogEvent{log.Fatal().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}
