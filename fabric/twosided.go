package fabric

import (
	"sync"

	"github.com/notargets/gohalo/types"
)

type message struct {
	tag  int
	data []byte
}

// link is the mailbox of one ordered rank pair. Posting never blocks, so
// messages are delivered in issue order without an unbounded goroutine fan out.
type link struct {
	mu     sync.Mutex
	queue  []message
	signal chan struct{}
}

func newLink() *link {
	return &link{signal: make(chan struct{}, 1)}
}

func (l *link) post(m message) {
	l.mu.Lock()
	l.queue = append(l.queue, m)
	l.mu.Unlock()
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *link) take() (m message, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return
	}
	m, l.queue = l.queue[0], l.queue[1:]
	return m, true
}

// Endpoint is one rank's handle for two-sided communication. Calls from
// several goroutines of the same rank must be serialized by the caller.
type Endpoint struct {
	world *World
	rank  types.Rank
}

func (w *World) Endpoint(rank types.Rank) (*Endpoint, error) {
	if err := w.checkRank("fabric.Endpoint", rank); err != nil {
		return nil, err
	}
	return &Endpoint{world: w, rank: rank}, nil
}

func (e *Endpoint) Rank() types.Rank { return e.rank }

// Send copies data into the destination's mailbox and returns. The caller may
// reuse data immediately.
func (e *Endpoint) Send(dst types.Rank, tag int, data []byte) error {
	const op = "fabric.Send"
	if err := e.world.checkRank(op, dst); err != nil {
		return err
	}
	if err := e.world.Err(); err != nil {
		return e.world.aborted(op, err)
	}
	e.world.links[e.rank][dst].post(message{
		tag:  tag,
		data: append([]byte(nil), data...),
	})
	return nil
}

// Recv blocks for the next message from src and copies it into buf. The
// message must carry tag and exactly fill buf.
func (e *Endpoint) Recv(src types.Rank, tag int, buf []byte) error {
	const op = "fabric.Recv"
	if err := e.world.checkRank(op, src); err != nil {
		return err
	}
	l := e.world.links[src][e.rank]
	for {
		if m, ok := l.take(); ok {
			if m.tag != tag {
				return types.Errorf(types.ProtocolViolation, op,
					"expected tag %d, received %d", tag, m.tag).WithRank(e.rank).WithPartner(src)
			}
			if len(m.data) != len(buf) {
				return types.Errorf(types.ProtocolViolation, op,
					"expected %d bytes, received %d", len(buf), len(m.data)).WithRank(e.rank).WithPartner(src)
			}
			copy(buf, m.data)
			return nil
		}
		select {
		case <-l.signal:
		case <-e.world.abort:
			return e.world.aborted(op, nil)
		}
	}
}

// Request tracks a non-blocking operation
type Request struct {
	done chan struct{}
	err  error
}

func completed(err error) *Request {
	r := &Request{done: make(chan struct{}), err: err}
	close(r.done)
	return r
}

// Wait blocks until the operation finishes
func (r *Request) Wait() error {
	<-r.done
	return r.err
}

// Test reports completion without blocking
func (r *Request) Test() (done bool, err error) {
	select {
	case <-r.done:
		return true, r.err
	default:
		return false, nil
	}
}

// Isend starts a send. Mailbox delivery is eager, so the request is complete
// on return; data is copied and may be reused.
func (e *Endpoint) Isend(dst types.Rank, tag int, data []byte) *Request {
	return completed(e.Send(dst, tag, data))
}

// Irecv posts a receive into buf. buf must not be read until Wait returns.
// At most one receive per source may be outstanding.
func (e *Endpoint) Irecv(src types.Rank, tag int, buf []byte) *Request {
	r := &Request{done: make(chan struct{})}
	go func() {
		r.err = e.Recv(src, tag, buf)
		close(r.done)
	}()
	return r
}

// WaitAll waits for every request and returns the first error
func WaitAll(reqs []*Request) (err error) {
	for _, r := range reqs {
		if r == nil {
			continue
		}
		if rerr := r.Wait(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return
}
