package server

import (
	"bytes"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/watt-toolkit/ember/pkg/ember/httpcore"
	"github.com/watt-toolkit/ember/pkg/ember/memory"
	"github.com/watt-toolkit/ember/pkg/ember/middleware"
)

// dispatchCtx carries a matched route's Req/Res pair through router.Handler,
// whose signature (func(ctx any)) stays free of any server-package import.
type dispatchCtx struct {
	req *Req
	res *Res
}

// routeMeta is the opaque payload ember's router.Trie hands back alongside
// a matched Handler. hasStream lets the connection's read loop decide, the
// moment headers finish parsing and before a single body byte is read,
// whether to stream the body to the handler's BodyOnData callback or
// buffer it whole into req.Body — mirroring original_source/src/router.c's
// dispatch() computing has_stream_middleware before touching ctx->body.
type routeMeta struct {
	hasStream bool
}

// Connection owns one accepted net.Conn for its lifetime: a dedicated
// goroutine parses and dispatches every request pipelined or
// sequentially sent on it, exactly the teacher's (shockwave's)
// goroutine-per-connection model. Unlike original_source's libuv reactor,
// which must pause a non-blocking parse and stash a pending handler until
// more bytes arrive, ember's goroutine blocks on net.Conn.Read/io.ReadFull
// directly — so header-pause/body-resume collapses into a single linear
// read sequence with no client_t pending_* bookkeeping to maintain.
type Connection struct {
	id      uint64
	netConn net.Conn
	srv     *Server
	arena   *memory.Arena
	parser  *httpcore.Parser

	writeMu sync.Mutex
	closed  bool

	mu        sync.Mutex
	takenOver bool

	lastActivity atomic.Int64

	// refcount counts outstanding worker-pool jobs holding a reference to
	// this connection, so the idle-connection sweeper can tell a connection
	// with in-flight async work from an idle one and leave it open.
	// Server.Shutdown does not consult it.
	refcount atomic.Int32

	// completions receives completion closures from WorkerPool.SpawnHTTP
	// jobs, always executed back on this connection's own goroutine
	// (inside awaitAsyncReply) so Req/Res are never touched from a pool
	// goroutine.
	completions chan func()
}

func newConnection(id uint64, nc net.Conn, srv *Server) *Connection {
	c := &Connection{
		id:          id,
		netConn:     nc,
		srv:         srv,
		arena:       srv.arenaPool.Borrow(),
		parser:      httpcore.NewParser(),
		completions: make(chan func(), 8),
	}
	c.touch()
	return c
}

// addRef/release track outstanding worker-pool jobs referencing this
// connection (see WorkerPool.SpawnHTTP).
func (c *Connection) addRef()  { c.refcount.Add(1) }
func (c *Connection) release() { c.refcount.Add(-1) }

// RefCount reports the number of in-flight worker-pool jobs still holding
// a reference to this connection, consulted by the idle-connection sweeper.
func (c *Connection) RefCount() int32 { return c.refcount.Load() }

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// idleFor reports how long the connection has gone without activity.
func (c *Connection) idleFor() time.Duration {
	last := c.lastActivity.Load()
	return time.Since(time.Unix(0, last))
}

func (c *Connection) takenOverFlag() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.takenOver
}

// markTakenOver flags the connection as handed off to a protocol upgrade
// (e.g. WebSocket); Res.Takeover calls this. After it returns, Serve's read
// loop releases the connection without closing the socket.
func (c *Connection) markTakenOver() {
	c.mu.Lock()
	c.takenOver = true
	c.mu.Unlock()
}

// takeoverConn hands the raw net.Conn to a protocol upgrade along with an
// io.Reader that replays any bytes the HTTP parser had already buffered
// past the end of headers (pipelined websocket frames sent back-to-back
// with the upgrade request, in practice almost always empty) ahead of the
// socket itself, so the caller never has to know the parser touched the
// wire first.
func (c *Connection) takeoverConn() (net.Conn, io.Reader) {
	leftover := c.parser.Buffered()
	if len(leftover) == 0 {
		return c.netConn, c.netConn
	}
	buffered := make([]byte, len(leftover))
	copy(buffered, leftover)
	return c.netConn, io.MultiReader(bytes.NewReader(buffered), c.netConn)
}

// queueWrite writes a fully built response buffer to the wire. Named
// "queue" in the teacher's async-write sense even though ember's
// synchronous net.Conn.Write has no heap buffer to free afterward — the
// arena backing buf is reclaimed wholesale when the connection's request
// completes, instead of a per-write uv_write_t/free(buf) pair.
func (c *Connection) queueWrite(buf []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	if _, err := c.netConn.Write(buf); err != nil {
		c.srv.logger().Debug("write failed", "conn", c.id, "err", err)
	}
}

func (c *Connection) close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.netConn.Close()
}

// Serve is the connection's goroutine body: read, parse, dispatch, repeat
// until the connection closes, a fatal protocol error occurs, keep-alive
// is declined, or the connection is taken over by an upgrade handler.
func (c *Connection) Serve() {
	defer c.srv.releaseConnection(c)

	buf := make([]byte, c.srv.cfg.ReadBufferSize)

	for {
		if c.takenOverFlag() {
			return
		}

		c.applyReadDeadline()

		n, err := c.netConn.Read(buf)
		if err != nil {
			return
		}
		c.touch()

		_, outcome := c.parser.Feed(buf[:n])

		switch outcome {
		case httpcore.Incomplete:
			continue

		case httpcore.Overflow:
			// Request-line, URI, and header size/count overflows are the
			// spec's Oversized class: 413, and BuildError always forces
			// Connection: close.
			c.queueWrite(httpcore.BuildError(413, c.srv.dateCache.Get))
			return

		case httpcore.Error:
			c.queueWrite(httpcore.BuildError(400, c.srv.dateCache.Get))
			return

		case httpcore.Paused:
			keepAlive, err := c.handleRequest()
			if err != nil {
				return
			}
			if c.takenOverFlag() {
				return
			}
			if !keepAlive {
				return
			}
			c.parser.Reset()
		}
	}
}

func (c *Connection) applyReadDeadline() {
	if c.srv.cfg.IdleTimeout > 0 {
		c.netConn.SetReadDeadline(time.Now().Add(c.srv.cfg.IdleTimeout))
	}
}

// handleRequest runs one fully-parsed request through routing, body
// acquisition, and the middleware chain, returning whether the connection
// should stay open for another pipelined/keep-alive request.
func (c *Connection) handleRequest() (keepAlive bool, err error) {
	result := c.parser.Result
	leftover := c.parser.Buffered()

	req := &Req{
		arena:         c.arena,
		method:        result.Method.String(),
		path:          result.Path,
		query:         result.Query,
		headers:       result.Headers,
		isHeadRequest: result.IsHeadRequest,
	}
	req.httpMajor, req.httpMinor = httpVersion(result.Proto)

	connKeepAlive := !result.Close && result.Proto == httpcore.ProtoHTTP11

	res := newRes(c.arena, c, c.srv.dateCache.Get, connKeepAlive, result.IsHeadRequest)

	if req.path == "" {
		req.path = "/"
	}

	match, ok := c.srv.trie.Lookup(methodIndex(result.Method), req.path)

	if !ok {
		if result.Method == httpcore.MethodOPTIONS {
			next := c.srv.globalChain().Then(middleware.NoopTerminal)
			next(req, res)
			if res.Replied() {
				return c.finishRequest(req, res)
			}
		}
		res.SetHeader("Content-Type", "text/plain")
		res.Reply(404, []byte("404 Not Found"))
		return c.finishRequest(req, res)
	}

	meta, _ := match.Meta.(routeMeta)
	for i := 0; i < match.Count; i++ {
		req.params[i] = match.Params[i]
	}
	req.paramCount = match.Count

	hasBody := result.HasContentLength && result.ContentLength > 0 || result.Chunked
	oversized := hasBody && !meta.hasStream &&
		(result.Chunked || result.ContentLength >= c.srv.cfg.BodyMaxSize)

	if oversized {
		res.SetHeader("Content-Type", "text/plain")
		res.KeepAlive = false
		res.Reply(413, []byte("Payload Too Large"))
		return c.finishRequest(req, res)
	}

	if hasBody && !meta.hasStream {
		body, err := c.readBufferedBody(result, leftover)
		if err != nil {
			res.SetHeader("Content-Type", "text/plain")
			res.KeepAlive = false
			res.Reply(400, []byte("Bad Request"))
			return c.finishRequest(req, res)
		}
		req.body = body
	}

	dc := &dispatchCtx{req: req, res: res}
	match.Handler(dc)

	// A streaming route's handler runs first so it can register
	// BodyOnData/BodyOnEnd before a single body byte is read — the Go
	// mirror of original_source/src/router.c calling chain_start() at the
	// headers-complete pause and only letting body bytes flow afterward,
	// as the parser resumes on subsequent reads.
	if hasBody && meta.hasStream && !res.takenOver {
		if err := c.streamBody(req, res, result, leftover); err != nil {
			return false, err
		}
	}

	if !res.Replied() && !res.takenOver {
		// A handler that hands work to the worker pool and replies later
		// (see WorkerPool.SpawnHTTP) relies on Res.done; wait for it here
		// instead of racing the next pipelined read against a half-built
		// response.
		c.awaitAsyncReply(res)
	}

	return c.finishRequest(req, res)
}

func (c *Connection) finishRequest(req *Req, res *Res) (bool, error) {
	if res.takenOver {
		return false, nil
	}
	if !res.Replied() {
		res.Reply(500, []byte("Internal Server Error"))
	}
	// The response write buffer is already built and queued by Reply, so the
	// request's arena-owned bytes (headers, body, write buffer) are no longer
	// needed; reclaim them now instead of leaving them live until the
	// connection closes and the arena returns to the pool.
	c.arena.Reset()
	return res.KeepAlive, nil
}

// awaitAsyncReply blocks until res.done closes (Reply or Takeover having
// run on some other goroutine) or, if configured, RequestTimeout elapses
// first, in which case a 504 closes the connection out from under the
// still-running handler.
func (c *Connection) awaitAsyncReply(res *Res) {
	var timeoutCh <-chan time.Time
	if c.srv.cfg.RequestTimeout > 0 {
		timer := time.NewTimer(c.srv.cfg.RequestTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	for {
		select {
		case <-res.done:
			return
		case fn := <-c.completions:
			// Worker-pool completions run here, on the connection's own
			// goroutine, so they may freely call res.Reply.
			fn()
		case <-timeoutCh:
			if !res.Replied() {
				res.KeepAlive = false
				res.SetHeader("Content-Type", "text/plain")
				res.Reply(504, []byte("Gateway Timeout"))
			}
			return
		case <-c.srv.shutdownCh:
			if !res.Replied() {
				res.KeepAlive = false
				res.SetHeader("Content-Type", "text/plain")
				res.Reply(503, []byte("Service Unavailable"))
			}
			return
		}
	}
}

// readBufferedBody reads exactly the declared body (Content-Length or
// chunked), combining bytes the parser already buffered past the header
// terminator with whatever remains on the wire. A Content-Length body is
// read into one arena-owned slice; a chunked body is decoded into a
// heap-allocated slice.
func (c *Connection) readBufferedBody(result httpcore.ParsedRequest, leftover []byte) ([]byte, error) {
	src := io.MultiReader(bytes.NewReader(leftover), c.netConn)

	if result.Chunked {
		cr := httpcore.NewChunkedReaderWithLimits(src, 0, uint64(c.srv.cfg.BodyMaxSize))
		return io.ReadAll(cr)
	}

	body := c.arena.Alloc(int(result.ContentLength))
	if _, err := io.ReadFull(src, body); err != nil {
		return nil, err
	}
	return body, nil
}

// streamBody forwards body bytes to the route's BodyOnData/BodyOnEnd
// callbacks as they arrive instead of buffering the whole message,
// mirroring original_source's on_body_chunk streaming path.
func (c *Connection) streamBody(req *Req, res *Res, result httpcore.ParsedRequest, leftover []byte) error {
	sc := streamContextOf(req)
	if sc == nil {
		sc = newStreamContext()
		req.SetContextValue(streamContextKey, sc)
	}

	src := io.MultiReader(bytes.NewReader(leftover), c.netConn)
	var r io.Reader = src
	if result.Chunked {
		r = httpcore.NewChunkedReaderWithLimits(src, 0, 0)
	} else {
		r = io.LimitReader(src, result.ContentLength)
	}

	chunk := make([]byte, c.srv.cfg.ReadBufferSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if feedErr := sc.feed(req, chunk[:n]); feedErr != nil {
				res.KeepAlive = false
				res.SetHeader("Content-Type", "text/plain")
				res.Reply(413, []byte("Payload Too Large"))
				return nil
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	sc.complete(req, res)
	return nil
}

func httpVersion(proto string) (major, minor int) {
	if proto == httpcore.ProtoHTTP10 {
		return 1, 0
	}
	return 1, 1
}

// methodIndex maps httpcore.Method onto router.Trie's small integer method
// space; the two enumerations are defined in the same order on purpose.
func methodIndex(m httpcore.Method) int {
	return int(m)
}

