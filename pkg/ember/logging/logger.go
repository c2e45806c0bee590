// Package logging builds ember's structured slog.Logger from
// config.File.Logging, following thushan-olla's internal/logger.New
// pattern: a level-gated slog.Handler writing JSON or text to exactly one
// output: stdout, stderr, or a lumberjack-rotated file.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls handler construction. Level is one of
// debug/info/warn/error (case-insensitive, defaults to info). Format is
// "json" or "text" (defaults to json). Output is "stdout", "stderr", or a
// file path; a file path also enables lumberjack rotation using the
// MaxSize/MaxBackups/MaxAge fields (megabytes/count/days).
type Config struct {
	Level      string
	Format     string
	Output     string
	MaxSize    int
	MaxBackups int
	MaxAge     int
}

// New builds a *slog.Logger from cfg and a cleanup func that closes any
// rotating file writer. Call cleanup before process exit.
func New(cfg Config) (*slog.Logger, func(), error) {
	level := parseLevel(cfg.Level)

	w, cleanup, err := openOutput(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), cleanup, nil
}

func openOutput(cfg Config) (writer interface {
	Write([]byte) (int, error)
}, cleanup func(), err error) {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return os.Stdout, func() {}, nil
	case "stderr":
		return os.Stderr, func() {}, nil
	default:
		if mkErr := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); mkErr != nil {
			return nil, nil, fmt.Errorf("logging: creating log directory: %w", mkErr)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   true,
		}
		return rotator, func() { _ = rotator.Close() }, nil
	}
}

// replaceAttr normalizes the time key the way thushan-olla's
// fastReplaceAttr does, so log lines sort and grep consistently across
// json/text output.
func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{Key: "timestamp", Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05"))}
	}
	return a
}

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

// nopHandler satisfies slog.Handler for tests that want a logger that
// discards everything without allocating a real io.Writer chain.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h nopHandler) WithGroup(string) slog.Handler            { return h }

// Discard returns a logger that drops every record, for tests and tools
// that don't want log noise.
func Discard() *slog.Logger { return slog.New(nopHandler{}) }
