package middleware

import (
	"errors"
	"sync"
	"time"
)

// ErrRequestTimeout is the sentinel handed to a TimeoutConfig.Handler, if
// set, when a request exceeds its deadline.
var ErrRequestTimeout = errors.New("middleware: request timeout")

// TimeoutConfig configures the per-request timeout middleware.
type TimeoutConfig struct {
	Timeout   time.Duration
	SkipPaths []string
	// Handler, if set, replaces the default 408 response.
	Handler func(res Response)
}

// Timeout returns a middleware that replies 408 if the wrapped chain has
// not replied within duration. The handler keeps running on its own
// goroutine after the timeout fires — this middleware only races the
// reply, it does not (and cannot, without handler cooperation) abort
// in-flight work.
func Timeout(duration time.Duration) Middleware {
	return TimeoutWithConfig(TimeoutConfig{Timeout: duration})
}

// TimeoutWithConfig returns a Timeout middleware using config.
func TimeoutWithConfig(config TimeoutConfig) Middleware {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
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

			guarded := &timeoutGuardedResponse{Response: res}
			done := make(chan struct{})
			go func() {
				defer close(done)
				next(req, guarded)
			}()

			select {
			case <-done:
			case <-time.After(config.Timeout):
				guarded.mu.Lock()
				defer guarded.mu.Unlock()
				if guarded.Replied() {
					return
				}
				guarded.timedOut = true
				if config.Handler != nil {
					config.Handler(guarded.Response)
					return
				}
				guarded.Response.SetHeader("Content-Type", "application/json; charset=utf-8")
				guarded.Response.Reply(408, []byte(`{"error":"request timeout"}`))
			}
		}
	}
}

// timeoutGuardedResponse serializes Reply/SetHeader calls between the
// handler goroutine and the timeout path so a handler that finishes just
// after its deadline cannot write a second, conflicting response on top
// of the 408 the timeout path already sent.
type timeoutGuardedResponse struct {
	Response
	mu       sync.Mutex
	timedOut bool
}

func (r *timeoutGuardedResponse) Reply(status int, body []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timedOut {
		return
	}
	r.Response.Reply(status, body)
}

func (r *timeoutGuardedResponse) SetHeader(name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timedOut {
		return
	}
	r.Response.SetHeader(name, value)
}
