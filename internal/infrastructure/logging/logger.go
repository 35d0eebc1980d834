// Package logging builds the daemon's slog-based structured logger.
//
// Every component logs through the same *Logger so the service and
// version attributes appear on every record. Subsystems derive their
// own child via With("component", ...).
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/RaduG/chanio-core/internal/infrastructure/config"
)

// Logger is a thin wrapper around slog.Logger. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of the configuration
// file. Format selects json or text, output selects stdout or stderr,
// and level filters records below the configured severity.
func New(cfg config.LoggingConfig, version string) *Logger {
	return newLogger(destination(cfg.Output), cfg, version)
}

// newLogger is the writer-injected core of New, split out so tests can
// capture output.
func newLogger(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	// Stamp every record with the daemon's identity.
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "chanio"),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

func destination(output string) io.Writer {
	if strings.EqualFold(output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// parseLevel maps a configured level name onto slog.Level. Unknown
// names fall back to info rather than failing startup.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a child logger carrying additional default attributes.
//
//	halLog := log.With("component", "hal")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default returns a JSON stdout logger at info level, for use before
// the configuration file has been read.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
