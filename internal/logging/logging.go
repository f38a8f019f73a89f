// Package logging sets up the program-wide slog logger. The verbosity
// level comes from the conversion configuration; there is no global
// mutable logging state.
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/524D/mzexport/internal/config"
)

// New returns a logger writing colored console output to stderr.
// Silent mode only reports errors, verbose mode enables debug output.
func New(verbosity config.Verbosity) *slog.Logger {
	return NewWithWriter(verbosity, os.Stderr)
}

// NewWithWriter is New with an explicit destination, used by tests.
func NewWithWriter(verbosity config.Verbosity, w *os.File) *slog.Logger {
	level := slog.LevelInfo
	switch verbosity {
	case config.VerbositySilent:
		level = slog.LevelError
	case config.VerbosityVerbose:
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isTerminal(w),
	})
	return slog.New(handler)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
