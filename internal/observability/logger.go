// Package observability wires structured logging and Prometheus metrics for
// the ETL service.
package observability

import (
	"log/slog"
	"os"

	"github.com/fieldsift/agroclimate-etl/internal/config"
)

// NewLogger builds the process logger from config. Format "text" is for local
// runs; everything else gets JSON for log aggregation.
func NewLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
