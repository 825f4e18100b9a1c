package logger

import (
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"codeberg.org/mutker/docsismon/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.New(io.Discard)

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Init initializes the logger based on the given configuration
func Init(level string, debug, isService bool) error {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()

	if debug {
		SetLogLevel(DebugLevel)
		return nil
	}

	lvl, err := ParseLevel(level)
	if err != nil {
		SetLogLevel(InfoLevel)
		return err
	}
	SetLogLevel(lvl)

	return nil
}

// ParseLevel maps a configuration string to a LogLevel.
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
	case "fatal":
		return FatalLevel, nil
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

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err error) *LogEvent {
	return withCode(log.Error(), err)
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err error) *LogEvent {
	return withCode(log.Fatal(), err)
}

func withCode(ev *zerolog.Event, err error) *LogEvent {
	return &LogEvent{ev.
		Str("error_code", string(errors.CodeOf(err))).
		Str("error_message", err.Error()).
		AnErr("error", errors.Unwrap(err))}
}

type component struct {
	l zerolog.Logger
}

// Component returns a Logger whose events carry a "component" field. The
// returned logger follows later Init calls.
func Component(name string) Logger {
	return &lazyComponent{name: name}
}

type lazyComponent struct {
	name string
}

func (c *lazyComponent) get() *component {
	return &component{l: log.With().Str("component", c.name).Logger()}
}

func (c *lazyComponent) Debug() *LogEvent { return c.get().Debug() }
func (c *lazyComponent) Info() *LogEvent  { return c.get().Info() }
func (c *lazyComponent) Warn() *LogEvent  { return c.get().Warn() }
func (c *lazyComponent) Error() *LogEvent { return c.get().Error() }
func (c *lazyComponent) ErrorWithCode(err error) *LogEvent {
	return c.get().ErrorWithCode(err)
}

func (c *lazyComponent) ErrorWithContext(err error, operation string) *LogEvent {
	return c.get().ErrorWithContext(err, operation)
}

func (c *component) Debug() *LogEvent { return &LogEvent{c.l.Debug()} }
func (c *component) Info() *LogEvent  { return &LogEvent{c.l.Info()} }
func (c *component) Warn() *LogEvent  { return &LogEvent{c.l.Warn()} }
func (c *component) Error() *LogEvent { return &LogEvent{c.l.Error()} }

func (c *component) ErrorWithCode(err error) *LogEvent {
	return withCode(c.l.Error(), err)
}

func (c *component) ErrorWithContext(err error, operation string) *LogEvent {
	return withCode(c.l.Error().Str("operation", operation), err)
}

// New returns a Logger writing JSON lines to w. Used by tests to capture output.
func New(w io.Writer) Logger {
	return &component{l: zerolog.New(w)}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &component{l: zerolog.Nop()}
}
