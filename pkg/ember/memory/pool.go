package memory

import "sync"

// defaultMaxFree bounds how many reset arenas the pool keeps around, the
// same pre-warmed-and-bounded-reuse idea the teacher's context pool applies
// to per-request Context values.
const defaultMaxFree = 256

// ArenaPool borrows and returns Arenas so steady-state request handling
// does not allocate a fresh Arena (and its first region) per request.
type ArenaPool struct {
	mu      sync.Mutex
	free    []*Arena
	maxFree int

	borrowed uint64
	returned uint64
}

// NewArenaPool creates a pool bounding its free list at maxFree entries.
// A maxFree of zero or less uses defaultMaxFree.
func NewArenaPool(maxFree int) *ArenaPool {
	if maxFree <= 0 {
		maxFree = defaultMaxFree
	}
	return &ArenaPool{maxFree: maxFree}
}

// Borrow returns a reset, ready-to-use Arena from the free list, or a
// freshly constructed one if the pool is empty.
func (p *ArenaPool) Borrow() *Arena {
	p.mu.Lock()
	n := len(p.free)
	if n == 0 {
		p.mu.Unlock()
		p.addBorrowed()
		return NewArena()
	}
	a := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	p.mu.Unlock()
	p.addBorrowed()
	return a
}

// Return resets a's regions and makes it available for reuse, unless the
// free list is already at capacity, in which case the arena is released.
func (p *ArenaPool) Return(a *Arena) {
	if a == nil {
		return
	}
	a.Reset()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) >= p.maxFree {
		a.Free()
		return
	}
	p.free = append(p.free, a)
	p.returned++
}

func (p *ArenaPool) addBorrowed() {
	p.mu.Lock()
	p.borrowed++
	p.mu.Unlock()
}

// Stats reports pool-level counters for diagnostics and metrics export.
type Stats struct {
	Borrowed uint64
	Returned uint64
	Free     int
}

// Stats returns a snapshot of the pool's counters.
func (p *ArenaPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Borrowed: p.borrowed, Returned: p.returned, Free: len(p.free)}
}
