package server

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolSpawnRunsOnPoolGoroutine(t *testing.T) {
	p := NewWorkerPool(2)
	defer p.Close()

	var wg sync.WaitGroup
	var ran atomic.Int32
	wg.Add(1)
	p.Spawn(func() {
		ran.Add(1)
		wg.Done()
	})
	wg.Wait()
	if ran.Load() != 1 {
		t.Fatal("job did not run")
	}
}

func TestWorkerPoolPendingTracksOutstandingJobs(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	p.Spawn(func() {
		close(started)
		<-release
	})

	<-started
	if p.Pending() != 1 {
		t.Fatalf("expected 1 pending job, got %d", p.Pending())
	}
	close(release)

	deadline := time.Now().Add(time.Second)
	for p.Pending() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.Pending() != 0 {
		t.Fatal("pending count never returned to 0")
	}
}

func TestWorkerPoolCloseStopsAcceptingNewJobs(t *testing.T) {
	p := NewWorkerPool(1)
	p.Close()

	var ran atomic.Bool
	p.Spawn(func() { ran.Store(true) })
	time.Sleep(20 * time.Millisecond)
	if ran.Load() {
		t.Fatal("job ran after pool was closed")
	}
}
