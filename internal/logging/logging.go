// Package logging sets up the daemon's own structured log/slog logger,
// adapted from the teacher's internal/logger: daemon.log is rotated by
// gopkg.in/natefinch/lumberjack.v2 the same way the teacher rotates
// per-process stdout/stderr, and the CLI's interactive handler reuses the
// teacher's ANSI color-by-level scheme. This is distinct from
// internal/logsink, which captures supervised children's own output under
// the spec's exact rotation contract rather than lumberjack's.
package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

const (
	daemonLogMaxSizeMB  = 10
	daemonLogMaxBackups = 3
	daemonLogMaxAgeDays = 7
)

// NewDaemonLogger returns the slog.Logger the daemon uses for its own
// operational log at <dataDir>/daemon.log. Records go to that file only.
func NewDaemonLogger(dataDir string, level slog.Level) (*slog.Logger, io.Closer) {
	rotator := &lj.Logger{
		Filename:   filepath.Join(dataDir, "daemon.log"),
		MaxSize:    daemonLogMaxSizeMB,
		MaxBackups: daemonLogMaxBackups,
		MaxAge:     daemonLogMaxAgeDays,
	}
	handler := slog.NewTextHandler(rotator, &slog.HandlerOptions{Level: level})
	return slog.New(handler), rotator
}

// NewCLILogger returns the slog.Logger used by the warden CLI for
// interactive diagnostic output, with ANSI coloring per level.
func NewCLILogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(newColorTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// colorTextHandler wraps slog.TextHandler to prefix the level with an ANSI
// color code, following the teacher's ColorTextHandler.
type colorTextHandler struct {
	*slog.TextHandler
}

func newColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *colorTextHandler {
	return &colorTextHandler{TextHandler: slog.NewTextHandler(w, opts)}
}

func (h *colorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	var color string
	switch r.Level {
	case slog.LevelDebug:
		color = "\033[36m"
	case slog.LevelInfo:
		color = "\033[32m"
	case slog.LevelWarn:
		color = "\033[33m"
	case slog.LevelError:
		color = "\033[31m"
	default:
		color = "\033[0m"
	}
	r.Message = color + r.Level.String() + "\033[0m " + r.Message
	return h.TextHandler.Handle(ctx, r)
}
