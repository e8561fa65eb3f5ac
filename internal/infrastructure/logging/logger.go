package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/envirosense/envirosense-core/internal/infrastructure/config"
)

// Logger embeds slog.Logger so the standard structured-logging API is
// available directly, with With returning the wrapper type so component
// loggers stay a *Logger all the way down. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from configuration. Format ("json" or "text"),
// level, and destination ("stdout" or "stderr") come from the logging
// section of config.yaml; every record carries service and version
// attributes so multi-process log streams stay attributable.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "envirosense"),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// parseLevel maps a config string to a slog.Level, defaulting to info for
// anything unrecognised rather than failing startup over a typo.
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

// With returns a child logger carrying additional default attributes,
// typically a component tag:
//
//	wsLogger := logger.With("component", "stream")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default returns a JSON/info/stdout logger for code paths that run before
// configuration is loaded, and for tests.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
