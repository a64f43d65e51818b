package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogFilePath is truncated on startup and tailed by the /live-logs route.
const LogFilePath = "log.txt"

// NewLogger writes to stdout and LogFilePath. The caller closes the returned
// file on shutdown.
func NewLogger(debug bool, format string) (*slog.Logger, *os.File, error) {
	file, err := os.OpenFile(LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	out := io.MultiWriter(os.Stdout, file)

	var handler slog.Handler
	if strings.ToLower(strings.TrimSpace(format)) == "json" {
		handler = slog.NewJSONHandler(out, options)
	} else {
		handler = slog.NewTextHandler(out, options)
	}
	return slog.New(handler), file, nil
}
