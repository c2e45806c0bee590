// Package middleware implements ember's cooperative-continuation
// middleware chain plus a set of ready-to-use middleware (CORS, structured
// request logging, panic recovery, per-request timeout, rate limiting, and
// JWT authentication).
package middleware

// Request is the read-only view of an in-flight request a middleware
// needs. ember's server.Req satisfies this interface; middleware stays
// free of any import on the server package.
//
// SetContextValue/ContextValue let one middleware (e.g. JWT) pass data
// downstream to later middleware and the route handler without either
// side importing the other — server.Req backs this with a per-request
// map that is discarded with the request itself.
type Request interface {
	Method() string
	Path() string
	Header(name string) string
	SetContextValue(key string, value any)
	ContextValue(key string) any
}

// Response is the subset of ember's server.Res a middleware may act on:
// inspect/append headers, and send a terminal reply. Reply must set the
// chain's short-circuit state (server.Res.Reply already does) so the
// dispatcher knows not to fall through to a 404 after the chain returns.
type Response interface {
	SetHeader(name, value string)
	Reply(status int, body []byte)
	Replied() bool
}

// Next is the terminal or continuation function a Middleware wraps. A
// middleware that never calls Next short-circuits the chain — the
// request never reaches the route handler (or the remaining global
// middleware, for OPTIONS preflight requests answered by CORS alone).
type Next func(req Request, res Response)

// Middleware wraps a Next into a new Next that runs before (and may
// choose whether to run) the wrapped continuation.
type Middleware func(next Next) Next

// Chain is an ordered sequence of Middleware plus a terminal handler.
// Global middleware (installed via a Server's Use) is chained ahead of
// any route-local middleware by composing two Chains end to end — see
// Chain.Then, which returns a single Next with everything already wired.
type Chain struct {
	middlewares []Middleware
}

// NewChain builds a Chain from middlewares, applied in the order given:
// the first middleware in the slice is the outermost wrapper and runs
// first.
func NewChain(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Append returns a new Chain with additional middlewares appended after
// c's existing ones (so c's middlewares still run first).
func (c Chain) Append(middlewares ...Middleware) Chain {
	combined := make([]Middleware, 0, len(c.middlewares)+len(middlewares))
	combined = append(combined, c.middlewares...)
	combined = append(combined, middlewares...)
	return Chain{middlewares: combined}
}

// Then wraps terminal with every middleware in c, outermost first, and
// returns the single Next the dispatcher should invoke.
func (c Chain) Then(terminal Next) Next {
	next := terminal
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		next = c.middlewares[i](next)
	}
	return next
}

// NoopTerminal is the no-op terminal handler used when global middleware
// must run against a request that has no matching route — e.g. a CORS
// preflight OPTIONS request answered before the 404 fallback, per the
// OPTIONS-preflight exception in the dispatcher.
func NoopTerminal(req Request, res Response) {}
