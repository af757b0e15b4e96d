package team

import (
	"errors"
	"sync"
)

// ErrBroken is returned by Wait once the barrier has been broken
var ErrBroken = errors.New("team barrier broken")

// Barrier is a cyclic barrier for a fixed party. Each trip opens a new
// generation, so the same barrier is reused every round.
type Barrier struct {
	parties int
	mu      sync.Mutex
	cond    *sync.Cond
	waiting int
	gen     uint64
	broken  error
}

func NewBarrier(parties int) *Barrier {
	if parties <= 0 {
		panic("team: barrier parties must be positive")
	}
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until all parties arrive. The last arrival trips the barrier.
func (b *Barrier) Wait() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken != nil {
		return b.broken
	}
	gen := b.gen
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.gen++
		b.cond.Broadcast()
		return nil
	}
	for gen == b.gen && b.broken == nil {
		b.cond.Wait()
	}
	if gen == b.gen {
		return b.broken
	}
	return nil
}

// Break releases every current and future waiter with an error wrapping
// ErrBroken and cause.
func (b *Barrier) Break(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken != nil {
		return
	}
	if cause == nil {
		b.broken = ErrBroken
	} else {
		b.broken = errors.Join(ErrBroken, cause)
	}
	b.cond.Broadcast()
}

// Generation is the number of completed trips
func (b *Barrier) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen
}
