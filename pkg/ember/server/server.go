package server

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/watt-toolkit/ember/pkg/ember/httpcore"
	"github.com/watt-toolkit/ember/pkg/ember/memory"
	"github.com/watt-toolkit/ember/pkg/ember/middleware"
	"github.com/watt-toolkit/ember/pkg/ember/router"
)

// HandlerFunc is a route handler over ember's concrete Req/Res types.
type HandlerFunc func(req *Req, res *Res)

// lifecycleState enumerates Server's run states, matching spec.md §4.11 /
// §7's RUNNING -> SHUTDOWN_REQUESTED -> DRAINING -> CLOSED machine, with
// an initial state before Listen has ever been called.
type lifecycleState int32

const (
	stateInitialized lifecycleState = iota
	stateRunning
	stateShutdownRequested
	stateDraining
	stateClosed
)

// Server is ember's embeddable HTTP server: route registration over
// router.Trie, a global+per-route middleware.Chain, and a
// goroutine-per-connection accept loop.
type Server struct {
	cfg Config
	log *slog.Logger

	trie   *router.Trie
	global []middleware.Middleware

	arenaPool  *memory.ArenaPool
	dateCache  *httpcore.DateCache
	workerPool *WorkerPool

	listener net.Listener

	connsMu sync.Mutex
	conns   map[*Connection]struct{}
	connID  atomic.Uint64

	state     atomic.Int32
	shutdownCh chan struct{}
	wg        sync.WaitGroup
}

// New creates a Server with DefaultConfig.
func New() *Server {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Server using cfg, applying ECEWO_WORKER and
// ECEWO_TEST_MODE environment overrides the same way spec.md §6 requires.
func NewWithConfig(cfg Config) *Server {
	if os.Getenv("ECEWO_TEST_MODE") == "1" {
		cfg.TestMode = true
	}
	if os.Getenv("ECEWO_WORKER") == "1" {
		cfg.ClusterWorker = true
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = DefaultConfig().WorkerPoolSize
	}

	s := &Server{
		cfg:        cfg,
		log:        slog.Default(),
		trie:       router.New(),
		arenaPool:  memory.NewArenaPool(0),
		dateCache:  httpcore.NewDateCache(),
		workerPool: NewWorkerPool(cfg.WorkerPoolSize),
		conns:      make(map[*Connection]struct{}),
		shutdownCh: make(chan struct{}),
	}
	s.state.Store(int32(stateInitialized))
	return s
}

// SetLogger overrides the server's structured logger (slog.Default by
// default).
func (s *Server) SetLogger(l *slog.Logger) { s.log = l }

func (s *Server) logger() *slog.Logger { return s.log }

// WorkerPool exposes the server's bounded pool for Spawn/SpawnHTTP calls
// from route handlers.
func (s *Server) WorkerPool() *WorkerPool { return s.workerPool }

// ActiveConnections returns the number of connections currently accepted
// and not yet released, for metrics reporting.
func (s *Server) ActiveConnections() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// Use registers global middleware, applied to every route in declared
// order. Use must be called before routes are registered: routes compose
// their final middleware.Next at registration time (the same contract
// bolt's App.Use/addRoute follow), so a Use call after a route exists
// does not retroactively wrap it.
func (s *Server) Use(mws ...middleware.Middleware) {
	s.global = append(s.global, mws...)
}

func (s *Server) globalChain() middleware.Chain {
	return middleware.NewChain(s.global...)
}

func (s *Server) addRoute(method httpcore.Method, path string, handler HandlerFunc, mws []middleware.Middleware) {
	combined := make([]middleware.Middleware, 0, len(s.global)+len(mws))
	combined = append(combined, s.global...)
	combined = append(combined, mws...)

	next := middleware.NewChain(combined...).Then(func(req middleware.Request, res middleware.Response) {
		handler(req.(*Req), res.(*Res))
	})

	meta := routeMeta{hasStream: hasBodyStreamMiddleware(combined)}

	s.trie.Add(methodIndex(method), path, func(ctx any) {
		d := ctx.(*dispatchCtx)
		next(d.req, d.res)
	}, meta)
}

// RegisterGET registers handler for GET path.
func (s *Server) RegisterGET(path string, handler HandlerFunc, mws ...middleware.Middleware) {
	s.addRoute(httpcore.MethodGET, path, handler, mws)
}

// RegisterPOST registers handler for POST path.
func (s *Server) RegisterPOST(path string, handler HandlerFunc, mws ...middleware.Middleware) {
	s.addRoute(httpcore.MethodPOST, path, handler, mws)
}

// RegisterPUT registers handler for PUT path.
func (s *Server) RegisterPUT(path string, handler HandlerFunc, mws ...middleware.Middleware) {
	s.addRoute(httpcore.MethodPUT, path, handler, mws)
}

// RegisterDELETE registers handler for DELETE path.
func (s *Server) RegisterDELETE(path string, handler HandlerFunc, mws ...middleware.Middleware) {
	s.addRoute(httpcore.MethodDELETE, path, handler, mws)
}

// RegisterPATCH registers handler for PATCH path.
func (s *Server) RegisterPATCH(path string, handler HandlerFunc, mws ...middleware.Middleware) {
	s.addRoute(httpcore.MethodPATCH, path, handler, mws)
}

// RegisterHEAD registers handler for HEAD path.
func (s *Server) RegisterHEAD(path string, handler HandlerFunc, mws ...middleware.Middleware) {
	s.addRoute(httpcore.MethodHEAD, path, handler, mws)
}

// RegisterOPTIONS registers handler for OPTIONS path.
func (s *Server) RegisterOPTIONS(path string, handler HandlerFunc, mws ...middleware.Middleware) {
	s.addRoute(httpcore.MethodOPTIONS, path, handler, mws)
}

// Listen binds addr and blocks, accepting and serving connections until
// Shutdown is called or a fatal accept error occurs.
func (s *Server) Listen(addr string) error {
	if !s.state.CompareAndSwap(int32(stateInitialized), int32(stateRunning)) {
		return initErr(ErrAlreadyRunning, nil)
	}

	lc := net.ListenConfig{Control: s.socketControl}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		s.state.Store(int32(stateInitialized))
		return initErr(ErrBindFailed, err)
	}
	s.listener = ln

	if !s.cfg.ClusterWorker {
		s.log.Info("ember listening", "addr", ln.Addr().String())
	}

	go s.idleSweeper()

	return s.acceptLoop()
}

func (s *Server) acceptLoop() error {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdownCh:
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}

		if tc, ok := nc.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}

		s.connsMu.Lock()
		full := len(s.conns) >= s.cfg.MaxConnections
		s.connsMu.Unlock()
		if full {
			nc.Close()
			continue
		}

		id := s.connID.Add(1)
		c := newConnection(id, nc, s)

		s.connsMu.Lock()
		s.conns[c] = struct{}{}
		s.connsMu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.Serve()
		}()
	}
}

// releaseConnection is called by Connection.Serve on exit, whether due to
// a clean close, a protocol error, or keep-alive expiring; a taken-over
// connection (res.Takeover) also lands here but close() has already been
// bypassed by the caller owning the raw net.Conn from that point on.
func (s *Server) releaseConnection(c *Connection) {
	if !c.takenOverFlag() {
		c.close()
	}
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
	if !c.takenOverFlag() {
		s.arenaPool.Return(c.arena)
	}
}

// Run starts Listen in the background and blocks for SIGINT/SIGTERM (or
// the listener failing outright), then performs a graceful Shutdown.
// Under ClusterWorker (ECEWO_WORKER=1) the signal handler and startup
// banner are suppressed, matching spec's per-worker quiet mode for
// cluster orchestration.
func (s *Server) Run(addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Listen(addr); err != nil {
			errCh <- err
		}
	}()

	if s.cfg.ClusterWorker {
		return <-errCh
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		s.log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(ctx)
	}
}

// Shutdown drains in-flight requests (RUNNING -> SHUTDOWN_REQUESTED ->
// DRAINING), then force-closes whatever remains once ctx expires, and
// finally stops background goroutines (CLOSED). Calling Shutdown more
// than once is a no-op after the first.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(stateRunning), int32(stateShutdownRequested)) {
		return nil
	}
	close(s.shutdownCh)
	if s.listener != nil {
		s.listener.Close()
	}

	s.state.Store(int32(stateDraining))

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		s.forceCloseAll()
	}

	s.workerPool.Close()
	s.dateCache.Stop()
	s.state.Store(int32(stateClosed))
	return err
}

func (s *Server) forceCloseAll() {
	s.connsMu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// Addr returns the bound listener's address, or nil before Listen
// succeeds.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
