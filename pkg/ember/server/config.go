package server

import "time"

// Config holds ember's compile-time configurables, exposed as overridable
// fields instead of C #define constants so pkg/ember/config can bind them
// to viper-backed environment/file configuration.
type Config struct {
	// MaxConnections bounds the number of simultaneously open connections
	// the server tracks; new connections beyond this are rejected at
	// accept time.
	MaxConnections int

	// ListenBacklog is the TCP listen backlog passed to the kernel.
	ListenBacklog int

	// IdleTimeout closes a keep-alive connection that has gone this long
	// without activity. Checked by the idle-connection sweeper every
	// CleanupInterval.
	IdleTimeout time.Duration

	// RequestTimeout, if non-zero, bounds how long a connection waits for
	// the reply of a handler that returned without replying (one that
	// handed its work to the worker pool); on expiry the connection
	// answers 504 and closes. Time a handler spends running before it
	// returns is not counted.
	RequestTimeout time.Duration

	// CleanupInterval is how often the idle-connection sweeper runs.
	CleanupInterval time.Duration

	// ShutdownTimeout bounds how long graceful shutdown waits for
	// in-flight work to drain before force-closing what remains.
	ShutdownTimeout time.Duration

	// BodyMaxSize is the buffered-body cutoff; a request that declares a
	// Content-Length of at least this size (or Transfer-Encoding: chunked)
	// and has no streaming middleware is rejected with 413 before its body
	// is read.
	BodyMaxSize int64

	// ReadBufferSize sizes each connection's fixed read buffer.
	ReadBufferSize int

	// WorkerPoolSize bounds the number of goroutines servicing
	// Spawn/SpawnHTTP jobs. A value of zero or less falls back to
	// DefaultConfig's 8.
	WorkerPoolSize int

	// TestMode disables SO_REUSEPORT, mirroring ECEWO_TEST_MODE=1.
	TestMode bool

	// ClusterWorker suppresses signal handlers and the startup banner,
	// mirroring ECEWO_WORKER=1.
	ClusterWorker bool
}

// DefaultConfig returns spec's documented defaults: MAX_CONNECTIONS=10000,
// LISTEN_BACKLOG=511, IDLE_TIMEOUT_MS=60000, REQUEST_TIMEOUT_MS=0 (off),
// CLEANUP_INTERVAL_MS=30000, SHUTDOWN_TIMEOUT_MS=15000,
// BODY_MAX_SIZE=10MiB, READ_BUFFER_SIZE=16KiB.
func DefaultConfig() Config {
	return Config{
		MaxConnections:  10000,
		ListenBacklog:   511,
		IdleTimeout:     60 * time.Second,
		RequestTimeout:  0,
		CleanupInterval: 30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		BodyMaxSize:     10 * 1024 * 1024,
		ReadBufferSize:  16 * 1024,
		WorkerPoolSize:  8,
	}
}
