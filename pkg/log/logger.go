// Package log provides structured logging for Photon training runs.
//
// The package wires Go's log/slog to a JSON handler that understands the
// stack traces produced by pkg/errors, defines the attribute keys shared by
// all training-loop log records, and offers a zerolog-backed sink for the
// global warning system.
package log

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/photonml/photon/pkg/errors"
)

// SetupLogger configures the default slog logger for the given level.
func SetupLogger(loglevel string) {
	ops := slog.HandlerOptions{
		AddSource: true,
		Level:     ToLogLevel(loglevel),
	}
	handler := slog.NewJSONHandler(os.Stdout, &ops)
	errFmtHandler := WrapByErrFmtHandler(handler)
	slog.SetDefault(slog.New(errFmtHandler))
}

// ParseLevel converts a level name into a slog.Level. Unknown names yield
// a ValueError so callers handling user input can report them.
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, errors.NewValueError("log.ParseLevel",
			fmt.Sprintf("invalid log level %q", level))
	}
}

// ToLogLevel converts a level name into a slog.Level and panics on unknown
// names. Only for levels fixed at compile time; user input goes through
// ParseLevel.
func ToLogLevel(level string) slog.Level {
	l, err := ParseLevel(level)
	if err != nil {
		panic(err)
	}
	return l
}

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}
