package middleware

import (
	"log/slog"
	"runtime/debug"
)

// RecoveryConfig configures the panic-recovery middleware.
type RecoveryConfig struct {
	// Logger receives the panic value and stack trace. Defaults to
	// slog.Default() when nil.
	Logger *slog.Logger

	// Handler, if set, replaces the default 500-with-JSON-body response.
	Handler func(res Response, recovered any)
}

// DefaultRecoveryConfig returns the recovery middleware's baseline
// configuration: log via slog.Default, respond with a generic 500.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{}
}

// Recovery returns a middleware that recovers from a panic anywhere later
// in the chain, logs it with a stack trace, and replies 500 so one
// misbehaving handler cannot take the whole connection's goroutine down.
func Recovery() Middleware {
	return RecoveryWithConfig(DefaultRecoveryConfig())
}

// RecoveryWithConfig returns a Recovery middleware using config.
func RecoveryWithConfig(config RecoveryConfig) Middleware {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next Next) Next {
		return func(req Request, res Response) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("panic recovered",
						"panic", r,
						"path", req.Path(),
						"method", req.Method(),
						"stack", string(debug.Stack()),
					)
					if config.Handler != nil {
						config.Handler(res, r)
						return
					}
					if !res.Replied() {
						res.SetHeader("Content-Type", "application/json; charset=utf-8")
						res.Reply(500, []byte(`{"error":"internal server error"}`))
					}
				}
			}()
			next(req, res)
		}
	}
}
