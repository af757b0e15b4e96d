// Package fabric is an in-process communication fabric for a fixed group of
// ranks. It offers the three transport families the exchange variants are
// built on: two-sided messages, one-sided windows with fence and
// post/start/complete/wait epochs, and notified writes.
package fabric

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/notargets/gohalo/team"
	"github.com/notargets/gohalo/types"
)

// Option configures a World
type Option func(*World)

// WithLogger sets the logger used for abort and window lifecycle events
func WithLogger(l *zap.Logger) Option {
	return func(w *World) {
		if l != nil {
			w.log = l
		}
	}
}

// World is the process group. Ranks are goroutines of the same program, all
// communication goes through the World.
type World struct {
	size int
	log  *zap.Logger

	links [][]*link // links[src][dst], FIFO per ordered pair

	abort     chan struct{}
	abortOnce sync.Once
	abortErr  error

	mu       sync.Mutex
	barriers []*team.Barrier
	windows  map[string]*window
	barrier  *team.Barrier
}

func NewWorld(size int, opts ...Option) *World {
	if size <= 0 {
		panic(fmt.Sprintf("fabric: world size must be positive, have %d", size))
	}
	w := &World{
		size:    size,
		log:     zap.NewNop(),
		links:   make([][]*link, size),
		abort:   make(chan struct{}),
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(w)
	}
	for src := 0; src < size; src++ {
		w.links[src] = make([]*link, size)
		for dst := 0; dst < size; dst++ {
			w.links[src][dst] = newLink()
		}
	}
	w.barrier = w.newBarrier()
	return w
}

func (w *World) Size() int { return w.size }

func (w *World) checkRank(op string, r types.Rank) error {
	if r < 0 || int(r) >= w.size {
		return types.Errorf(types.ProtocolViolation, op, "rank %d outside world of %d", r, w.size)
	}
	return nil
}

// newBarrier returns a barrier over all ranks that Abort will break
func (w *World) newBarrier() *team.Barrier {
	b := team.NewBarrier(w.size)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.barriers = append(w.barriers, b)
	if w.abortErr != nil {
		b.Break(w.abortErr)
	}
	return b
}

// Barrier is the world-wide collective barrier
func (w *World) Barrier() error {
	if err := w.barrier.Wait(); err != nil {
		return w.aborted("fabric.Barrier", err)
	}
	return nil
}

// Abort tears the group down: every blocked or future operation on any rank
// fails with a TransportFailure wrapping cause.
func (w *World) Abort(cause error) {
	w.abortOnce.Do(func() {
		if cause == nil {
			cause = fmt.Errorf("aborted")
		}
		w.mu.Lock()
		w.abortErr = cause
		barriers := append([]*team.Barrier(nil), w.barriers...)
		w.mu.Unlock()
		w.log.Error("world aborted", zap.Error(cause))
		close(w.abort)
		for _, b := range barriers {
			b.Break(cause)
		}
	})
}

// Err returns the abort cause, nil while the world is healthy
func (w *World) Err() error {
	select {
	case <-w.abort:
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.abortErr
	default:
		return nil
	}
}

func (w *World) aborted(op string, cause error) error {
	if err := w.Err(); err != nil {
		cause = err
	}
	return types.New(types.TransportFailure, op, fmt.Errorf("world aborted: %w", cause))
}
