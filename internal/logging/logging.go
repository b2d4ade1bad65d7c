package logging

import (
	"fmt"
	"io"
	"log/slog"
)

// New builds a text logger at the named level and installs it as the
// slog default. An empty level means info.
func New(w io.Writer, level string) (*slog.Logger, error) {
	lvl := slog.LevelInfo
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger, nil
}
