package server

import (
	"errors"
	"io"
	"net"

	"github.com/goccy/go-json"

	"github.com/watt-toolkit/ember/pkg/ember/httpcore"
	"github.com/watt-toolkit/ember/pkg/ember/memory"
	"github.com/watt-toolkit/ember/pkg/ember/router"
)

// ErrInvalidRedirectURL is returned by Res.Redirect when url contains a CR
// or LF byte, matching spec's "rejects URLs containing CR or LF with a
// 400" rule for the redirect write path.
var ErrInvalidRedirectURL = errors.New("server: redirect URL contains CR or LF")

// Req is a single request's borrowed view into its connection's arena. It
// satisfies middleware.Request.
type Req struct {
	arena *memory.Arena

	method        string
	path          string
	query         string
	httpMajor     int
	httpMinor     int
	headers       httpcore.Header
	params        [router.MaxParams]router.Param
	paramCount    int
	body          []byte
	isHeadRequest bool

	ctx map[string]any
}

// Method returns the HTTP method (GET, POST, ...). Implements
// middleware.Request.
func (r *Req) Method() string { return r.method }

// Path returns the request path, not including the query string.
// Implements middleware.Request.
func (r *Req) Path() string { return r.path }

// Query returns the raw query string (the part after '?'), or "".
func (r *Req) Query() string { return r.query }

// HTTPVersion returns the parsed protocol major/minor version.
func (r *Req) HTTPVersion() (major, minor int) { return r.httpMajor, r.httpMinor }

// IsHeadRequest reports whether the request's method is HEAD.
func (r *Req) IsHeadRequest() bool { return r.isHeadRequest }

// Body returns the buffered request body, or nil in streaming mode or
// when the request had no body.
func (r *Req) Body() []byte { return r.body }

// Header returns the first value of name (case-insensitive), or "".
func (r *Req) Header(name string) string { return r.headers.Get(name) }

// Param returns the captured value of a ":name" path segment, or "" if
// the current route had no such capture.
func (r *Req) Param(name string) string {
	for i := 0; i < r.paramCount; i++ {
		if r.params[i].Key == name {
			return r.params[i].Value
		}
	}
	return ""
}

// QueryParam returns the raw value of a "?key=value" query parameter, or
// "" if absent. Multiple values and percent-decoding are left to callers
// that need them (a thin convenience, not a reimplementation of
// net/url.Values).
func (r *Req) QueryParam(key string) string {
	q := r.query
	for len(q) > 0 {
		var pair string
		if i := indexByte(q, '&'); i >= 0 {
			pair, q = q[:i], q[i+1:]
		} else {
			pair, q = q, ""
		}
		if i := indexByte(pair, '='); i >= 0 {
			if pair[:i] == key {
				return pair[i+1:]
			}
		} else if pair == key {
			return ""
		}
	}
	return ""
}

// BindJSON decodes the buffered request body into v with goccy/go-json.
// It returns an error (never replies itself) so callers can choose their
// own error response, unlike Res.JSON which always replies.
func (r *Req) BindJSON(v any) error {
	return json.Unmarshal(r.body, v)
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// ContextValue returns a value previously stored by SetContextValue, or
// nil. This is the per-request key/value store spec §3/§6 calls
// get_context/set_context.
func (r *Req) ContextValue(key string) any {
	if r.ctx == nil {
		return nil
	}
	return r.ctx[key]
}

// SetContextValue stores a value under key for the remainder of the
// request, visible to downstream middleware and the route handler.
func (r *Req) SetContextValue(key string, value any) {
	if r.ctx == nil {
		r.ctx = make(map[string]any, 4)
	}
	r.ctx[key] = value
}

// Res is a single request's response builder, borrowing the same arena as
// its Req. It satisfies middleware.Response.
type Res struct {
	arena *memory.Arena
	conn  *Connection

	Status        int
	writer        *httpcore.ResponseWriter
	replied       bool
	IsHeadRequest bool
	KeepAlive     bool

	takenOver bool

	// done closes exactly once, when Reply or Takeover completes. A
	// connection whose handler returns without having replied yet (it
	// handed work to the worker pool, say) waits on this instead of
	// racing the next pipelined read against an in-flight response.
	done chan struct{}
}

func newRes(arena *memory.Arena, conn *Connection, dateFn func() string, keepAlive, isHead bool) *Res {
	w := httpcore.NewResponseWriter(dateFn)
	w.KeepAlive = keepAlive
	w.IsHeadRequest = isHead
	return &Res{
		arena:         arena,
		conn:          conn,
		Status:        200,
		writer:        w,
		IsHeadRequest: isHead,
		KeepAlive:     keepAlive,
		done:          make(chan struct{}),
	}
}

// SetHeader appends a response header. Matching spec's explicit
// non-goal, duplicate names are never merged — every call adds another
// wire header line in call order.
func (res *Res) SetHeader(name, value string) {
	if !validHeaderName(name) || !validHeaderValue(value) {
		return
	}
	res.writer.SetHeader(name, value)
}

func validHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func validHeaderValue(value string) bool {
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '\r' || c == '\n' {
			return false
		}
	}
	return true
}

// Replied reports whether Reply has already fired for this request.
func (res *Res) Replied() bool { return res.replied }

// Reply is the single response exit: it builds the wire bytes (status
// line, Date, user headers, Content-Length, Connection, body) and marks
// the response as sent. Further calls are no-ops, matching spec's
// "Res.replied transitions false->true exactly once" invariant.
func (res *Res) Reply(status int, body []byte) {
	if res.replied {
		return
	}
	res.replied = true
	res.Status = status
	res.writer.Status = status
	res.writer.KeepAlive = res.KeepAlive
	res.writer.IsHeadRequest = res.IsHeadRequest

	buf := res.writer.Build(res.arena, body)
	if res.conn != nil {
		res.conn.queueWrite(buf)
	}
	close(res.done)
}

// Redirect replies with status, a Location header, and a short
// reason-phrase body. A url containing CR or LF is rejected with 400 and
// ErrInvalidRedirectURL instead, matching spec's write-path validation
// rule.
func (res *Res) Redirect(status int, url string) error {
	if !validHeaderValue(url) {
		res.SetHeader("Content-Type", "text/plain")
		res.Reply(400, []byte("Bad Request"))
		return ErrInvalidRedirectURL
	}
	res.SetHeader("Location", url)
	res.SetHeader("Content-Type", "text/plain")
	text := httpcore.StatusText(status)
	if text == "" {
		text = "Redirect"
	}
	res.Reply(status, []byte(text))
	return nil
}

// JSON marshals v with goccy/go-json and replies with status, a
// Content-Type: application/json header, and the encoded body. A
// marshaling error short-circuits to a 500 instead, so a handler that
// calls JSON never needs its own error branch for the common case.
func (res *Res) JSON(status int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		res.SetHeader("Content-Type", "text/plain")
		res.Reply(500, []byte("Internal Server Error"))
		return err
	}
	res.SetHeader("Content-Type", "application/json")
	res.Reply(status, body)
	return nil
}

// Takeover detaches the connection from ember's HTTP read loop and hands
// its raw net.Conn to the caller, for protocols (e.g. WebSocket) that own
// the socket from this point on. The returned io.Reader replays any bytes
// the HTTP parser already buffered ahead of further reads from conn, so a
// caller that only reads from the returned reader sees exactly the byte
// stream the client sent, uninterrupted by ember's own parsing. After
// Takeover, ember's core must not touch the connection; the caller is
// responsible for closing conn when done with it.
func (res *Res) Takeover() (conn net.Conn, buffered io.Reader, err error) {
	if res.replied {
		return nil, nil, errors.New("server: cannot take over a connection that already replied")
	}
	if res.conn == nil {
		return nil, nil, errors.New("server: no connection to take over")
	}
	res.replied = true
	res.takenOver = true
	res.conn.markTakenOver()
	conn, buffered = res.conn.takeoverConn()
	close(res.done)
	return conn, buffered, nil
}
