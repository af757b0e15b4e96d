package exchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/notargets/gohalo/team"
	"github.com/notargets/gohalo/types"
)

type epochState uint8

const (
	epochIdle epochState = iota
	epochOpen
	epochWritesIssued
	epochClosed
	epochDrained
)

func (s epochState) String() string {
	switch s {
	case epochIdle:
		return "Idle"
	case epochOpen:
		return "EpochOpen"
	case epochWritesIssued:
		return "WritesIssued"
	case epochClosed:
		return "EpochClosed"
	case epochDrained:
		return "Drained"
	}
	return fmt.Sprintf("epochState(%d)", uint8(s))
}

// Legal successors of each epoch state
var epochNext = map[epochState][]epochState{
	epochIdle:         {epochOpen},
	epochOpen:         {epochWritesIssued, epochClosed},
	epochWritesIssued: {epochWritesIssued, epochClosed},
	epochClosed:       {epochDrained},
	epochDrained:      {epochIdle},
}

// activeTarget scopes each round in a post/start/complete/wait epoch over
// the partner group only. Pipelined, the epoch of the next round is opened
// right after the drain and the last issued put completes the access epoch.
type activeTarget struct {
	*base
	pipelined bool

	mu      sync.Mutex
	state   epochState
	pending int // Partners with data not yet put in this epoch
}

func (x *activeTarget) transition(to epochState) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.transitionLocked(to)
}

func (x *activeTarget) transitionLocked(to epochState) error {
	for _, s := range epochNext[x.state] {
		if s == to {
			x.state = to
			return nil
		}
	}
	return types.Errorf(types.ProtocolViolation, "exchange.OneSidedActiveTarget",
		"epoch transition %s -> %s", x.state, to).WithRank(x.topo.Rank)
}

func (x *activeTarget) current() epochState {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

// open posts the exposure epoch to the group and starts the access epoch
func (x *activeTarget) open() error {
	if err := x.transition(epochOpen); err != nil {
		return err
	}
	win := x.res.Window
	if err := win.Post(x.res.Group); err != nil {
		return err
	}
	if err := win.Start(x.res.Group); err != nil {
		return err
	}
	x.mu.Lock()
	x.pending = 0
	for i := range x.topo.Partners {
		if x.topo.SendCount[i] > 0 {
			x.pending++
		}
	}
	x.mu.Unlock()
	return nil
}

func (x *activeTarget) put(i int, field []float64) error {
	data, err := x.packed(i, field)
	if err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if err = x.transitionLocked(epochWritesIssued); err != nil {
		return err
	}
	err = x.res.Window.Put(x.topo.Partners[i], types.RecvSegment(x.topo.Slot()), x.topo.RemoteRecvOffset[i], data)
	if err != nil {
		return err
	}
	x.pending--
	if x.pipelined && x.pending == 0 {
		return x.completeLocked()
	}
	return nil
}

func (x *activeTarget) completeLocked() error {
	if err := x.transitionLocked(epochClosed); err != nil {
		return err
	}
	return x.res.Window.Complete()
}

func (x *activeTarget) Prime() error {
	if !x.pipelined || x.current() != epochIdle {
		return nil
	}
	return x.fail("exchange.Prime", x.open())
}

func (x *activeTarget) ColorDone(tid, color int, field []float64) error {
	if !x.pipelined {
		return nil
	}
	switch x.current() {
	case epochOpen, epochWritesIssued:
	default:
		return nil
	}
	return x.colorReady(color, func(i int) error {
		return x.put(i, field)
	})
}

func (x *activeTarget) Exchange(tid int, field []float64, final bool) (time.Duration, error) {
	const op = "exchange.OneSidedActiveTarget"
	return x.timed(tid, team.PhaseIssue, func() error {
		return x.fail(op, x.round(field, final))
	})
}

func (x *activeTarget) round(field []float64, final bool) (err error) {
	if x.current() == epochIdle {
		if err = x.open(); err != nil {
			return
		}
	}
	err = x.issueRemaining(func(i int) error {
		return x.put(i, field)
	})
	if err != nil {
		return
	}
	x.mu.Lock()
	if x.state != epochClosed {
		err = x.completeLocked()
	}
	x.mu.Unlock()
	if err != nil {
		return
	}
	if err = x.res.Window.Wait(); err != nil {
		return
	}
	if err = x.transition(epochDrained); err != nil {
		return
	}
	if err = x.unpackAll(field); err != nil {
		return
	}
	if err = x.transition(epochIdle); err != nil {
		return
	}
	x.finish()
	if x.pipelined && !final {
		return x.open()
	}
	return
}
