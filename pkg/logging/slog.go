package logging

import (
	"log/slog"
	"os"
)

// New builds the process-wide JSON logger. LOG_LEVEL accepts the slog
// level names (debug, info, warn, error); anything else falls back to
// info.
func New() *slog.Logger {
	level := slog.LevelInfo
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(v)); err == nil {
			level = l
		}
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h)
}
