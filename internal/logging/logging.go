// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Options selects the output format and minimum level.
type Options struct {
	// Format is "json", "text" or empty to pick text on a terminal and JSON otherwise
	Format string
	Level  string
}

// New creates a logger writing to out.
func New(out io.Writer, opts Options) *slog.Logger {
	return slog.New(NewHandler(out, opts))
}

// NewHandler returns a colorized tint handler for terminals and a JSON handler
// for everything else.
func NewHandler(out io.Writer, opts Options) slog.Handler {
	level := ParseLevel(opts.Level)

	if useText(out, opts.Format) {
		return tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(out),
		})
	}
	return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
}

// Setup installs the logger as the slog default and returns it.
func Setup(opts Options) *slog.Logger {
	logger := New(os.Stdout, opts)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func useText(out io.Writer, format string) bool {
	switch strings.ToLower(format) {
	case "json":
		return false
	case "text", "pretty":
		return true
	default:
		return isTerminal(out)
	}
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
