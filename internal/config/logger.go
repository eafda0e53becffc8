package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger: JSON in production, text otherwise.
// LOG_LEVEL overrides the environment default (debug, info, warn, error).
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout)
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: c.IsDevelopment(),
		Level:     slog.LevelDebug,
	}
	if c.IsProduction() {
		opts.Level = slog.LevelInfo
	}

	var parsed slog.Level
	if c.LogLevel != "" && parsed.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))) == nil {
		opts.Level = parsed
	}

	var handler slog.Handler
	if c.IsProduction() {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With(slog.String("service", "rekko-liveness"))
}
