package server

import "sync/atomic"

// job is one unit of work queued onto the pool's goroutines.
type job struct {
	run func()
}

// WorkerPool runs blocking or CPU-bound work off a connection's own
// goroutine, so one slow handler does not stall that connection's request
// pipelining. It is the Go-native replacement for
// original_source/src/spawn.c's single-line `uv_queue_work` wrapper:
// a bounded set of goroutines draining a buffered job channel, the same
// shape `shockwave/pkg/shockwave/server`'s BaseServer uses for its
// connection-handling goroutines, scaled down to a fixed worker count
// instead of one goroutine per connection.
type WorkerPool struct {
	jobs chan job
	done chan struct{}

	// pendingAsyncWork counts jobs that have been enqueued but not yet
	// finished running, reported by Pending. Server.Shutdown does not
	// wait for it to reach zero.
	pendingAsyncWork atomic.Int64
}

// NewWorkerPool starts size goroutines pulling from a buffered job queue.
// A size of zero or less defaults to 1.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	p := &WorkerPool{
		jobs: make(chan job, size*16),
		done: make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		go p.loop()
	}
	return p
}

func (p *WorkerPool) loop() {
	for {
		select {
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			j.run()
			p.pendingAsyncWork.Add(-1)
		case <-p.done:
			return
		}
	}
}

// Spawn runs fn on a pool goroutine, detached from any connection. Use
// this for background work a request handler kicks off but does not need
// to await (e.g. firing a webhook). fn must not touch any Req/Res.
func (p *WorkerPool) Spawn(fn func()) {
	select {
	case <-p.done:
		return
	default:
	}
	p.pendingAsyncWork.Add(1)
	select {
	case p.jobs <- job{run: fn}:
	case <-p.done:
		p.pendingAsyncWork.Add(-1)
	}
}

// SpawnHTTP runs work on a pool goroutine and, once it returns, delivers
// its result back onto conn's own goroutine by enqueueing a completion
// closure on conn.completions — the connection's awaitAsyncReply loop
// runs done(result, req, res) there, so Req/Res mutation (typically a
// res.Reply call) only ever happens on the goroutine that owns them.
//
// conn's refcount is incremented for the job's lifetime, giving the
// idle-connection sweeper a way to see this connection still has
// in-flight work even though its own goroutine is parked waiting for a
// reply.
func (p *WorkerPool) SpawnHTTP(conn *Connection, req *Req, res *Res, work func() any, done func(result any, req *Req, res *Res)) {
	select {
	case <-p.done:
		return
	default:
	}
	conn.addRef()
	p.pendingAsyncWork.Add(1)

	runner := func() {
		result := work()
		select {
		case conn.completions <- func() { done(result, req, res) }:
		case <-conn.srv.shutdownCh:
		}
		conn.release()
	}

	select {
	case p.jobs <- job{run: runner}:
	case <-p.done:
		p.pendingAsyncWork.Add(-1)
		conn.release()
	}
}

// Pending reports the number of jobs enqueued but not yet finished.
func (p *WorkerPool) Pending() int64 {
	return p.pendingAsyncWork.Load()
}

// Close stops accepting new work and signals every idle worker goroutine
// to exit; in-flight jobs already running are allowed to finish.
func (p *WorkerPool) Close() {
	close(p.done)
}
