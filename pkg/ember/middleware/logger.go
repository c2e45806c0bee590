package middleware

import (
	"log/slog"
	"time"
)

// LoggerConfig configures the request-logging middleware.
type LoggerConfig struct {
	// Logger receives one structured log record per request. Defaults
	// to slog.Default() when nil.
	Logger *slog.Logger

	// SkipPaths are paths excluded from logging (health checks, etc).
	SkipPaths []string
}

// DefaultLoggerConfig returns the baseline request-logger configuration.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{}
}

// Logger returns a middleware that logs method, path, status, and
// duration for every request, via slog.Default().
func Logger() Middleware {
	return LoggerWithConfig(DefaultLoggerConfig())
}

// statusRecorder wraps a Response to capture the status code a handler
// eventually replies with, for logging after the chain returns.
type statusRecorder struct {
	Response
	status int
}

func (r *statusRecorder) Reply(status int, body []byte) {
	r.status = status
	r.Response.Reply(status, body)
}

// LoggerWithConfig returns a request-logging middleware using config.
func LoggerWithConfig(config LoggerConfig) Middleware {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	skip := make(map[string]struct{}, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(next Next) Next {
		return func(req Request, res Response) {
			if _, ok := skip[req.Path()]; ok {
				next(req, res)
				return
			}

			start := time.Now()
			rec := &statusRecorder{Response: res, status: 0}
			next(req, rec)

			logger.Info("request",
				"method", req.Method(),
				"path", req.Path(),
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}
}
