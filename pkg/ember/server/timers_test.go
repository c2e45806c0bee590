package server

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSetTimeoutFiresOnce(t *testing.T) {
	var fired atomic.Int32
	SetTimeout(10*time.Millisecond, func() { fired.Add(1) })
	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("expected timer to fire exactly once, fired %d times", fired.Load())
	}
}

func TestClearTimerCancelsBeforeFire(t *testing.T) {
	var fired atomic.Int32
	tm := SetTimeout(30*time.Millisecond, func() { fired.Add(1) })
	ClearTimer(tm)
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("timer fired despite being cleared")
	}
}

func TestClearTimerIsIdempotent(t *testing.T) {
	tm := SetTimeout(5*time.Millisecond, func() {})
	ClearTimer(tm)
	ClearTimer(tm) // must not panic
}

func TestSetIntervalFiresRepeatedly(t *testing.T) {
	var count atomic.Int32
	iv := SetInterval(10*time.Millisecond, func() { count.Add(1) })
	time.Sleep(55 * time.Millisecond)
	ClearInterval(iv)
	n := count.Load()
	if n < 2 {
		t.Fatalf("expected interval to fire multiple times, got %d", n)
	}
	stoppedAt := count.Load()
	time.Sleep(30 * time.Millisecond)
	if count.Load() != stoppedAt {
		t.Fatal("interval kept firing after ClearInterval")
	}
}

func TestClearIntervalIsIdempotent(t *testing.T) {
	iv := SetInterval(5*time.Millisecond, func() {})
	ClearInterval(iv)
	ClearInterval(iv) // must not panic
}
