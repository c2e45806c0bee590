package httpcore

import (
	"sync/atomic"
	"time"
)

// imfFixdate is the RFC 7231 §7.1.1.1 preferred HTTP-date format.
const imfFixdate = "Mon, 02 Jan 2006 15:04:05 GMT"

// DateCache keeps a single process-wide RFC 7231 IMF-fixdate string,
// refreshed once a second, so every response's Date header is a lock-free
// atomic load instead of a time.Now().Format() call per request.
type DateCache struct {
	current atomic.Pointer[string]
	stop    chan struct{}
}

// NewDateCache starts the refresh ticker and returns a ready-to-use cache.
// Call Stop when the server shuts down.
func NewDateCache() *DateCache {
	d := &DateCache{stop: make(chan struct{})}
	d.refresh()
	go d.loop()
	return d
}

func (d *DateCache) loop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.refresh()
		case <-d.stop:
			return
		}
	}
}

func (d *DateCache) refresh() {
	s := time.Now().UTC().Format(imfFixdate)
	d.current.Store(&s)
}

// Get returns the current cached Date header value.
func (d *DateCache) Get() string {
	if s := d.current.Load(); s != nil {
		return *s
	}
	return time.Now().UTC().Format(imfFixdate)
}

// Stop halts the background refresh goroutine.
func (d *DateCache) Stop() {
	close(d.stop)
}
