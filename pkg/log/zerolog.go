package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/photonml/photon/pkg/errors"
)

// NewWarningLogger builds a zerolog logger suitable for the warning sink.
func NewWarningLogger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).With().Timestamp().Str("component", "photon").Logger()
}

// UseZerologWarnings routes pkg/errors warnings through the given zerolog
// logger. Warning types implementing zerolog.LogObjectMarshaler are emitted
// with their structured fields.
func UseZerologWarnings(logger zerolog.Logger) {
	errors.SetZerologWarnFunc(func(warning error) {
		ev := logger.Warn()
		if m, ok := warning.(zerolog.LogObjectMarshaler); ok {
			ev.EmbedObject(m)
		}
		ev.Msg(warning.Error())
	})
}
