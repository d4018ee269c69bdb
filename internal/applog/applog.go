// Package applog builds this module's process-wide structured logger: an
// slog.Logger backed by zerolog, rendered as a colorized console on a
// terminal and as plain JSON otherwise.
//
// The teacher's go.mod already pulls rs/zerolog, samber/slog-zerolog/v2,
// samber/slog-common, mattn/go-isatty, and mattn/go-colorable in
// indirectly; nothing in farcloser-saprobe calls any of them directly
// (SPEC_FULL.md §2). This package is that missing direct use, promoting
// the teacher's indirect chain into the logger every other package in
// this module logs through.
package applog

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	slogcommon "github.com/samber/slog-common"
	slogzerolog "github.com/samber/slog-zerolog/v2"
)

// New builds the process logger. level sets the minimum emitted severity
// (cmd/unchain wires its --verbose flag to slog.LevelDebug, otherwise
// slog.LevelInfo).
func New(level slog.Level) *slog.Logger {
	var w io.Writer = os.Stderr

	if isatty.IsTerminal(os.Stderr.Fd()) {
		w = zerolog.ConsoleWriter{
			Out:        colorable.NewColorable(os.Stderr),
			TimeFormat: "15:04:05",
		}
	}

	zl := zerolog.New(w).With().Timestamp().Logger()

	handler := slogzerolog.Option{
		Level:     level,
		Logger:    &zl,
		Converter: slogcommon.DefaultConverter,
	}.NewZerologHandler()

	return slog.New(handler)
}
