package exchange

import (
	"time"

	"github.com/notargets/gohalo/fabric"
	"github.com/notargets/gohalo/team"
	"github.com/notargets/gohalo/types"
)

// fenceSync writes each partner's block into the partner's receive slot
// between two collective fences. Pipelined, the closing fence of a round
// opens the next one and puts are issued from ColorDone.
type fenceSync struct {
	*base
	pipelined bool
	open      bool // An access epoch is open for the current stage
}

func (x *fenceSync) put(i int, field []float64) error {
	data, err := x.packed(i, field)
	if err != nil {
		return err
	}
	return x.res.Window.Put(x.topo.Partners[i], types.RecvSegment(x.topo.Slot()), x.topo.RemoteRecvOffset[i], data)
}

func (x *fenceSync) Prime() error {
	if !x.pipelined || x.open {
		return nil
	}
	if err := x.res.Window.Fence(fabric.FenceNoPrecede); err != nil {
		return x.fail("exchange.Prime", err)
	}
	x.open = true
	return nil
}

func (x *fenceSync) ColorDone(tid, color int, field []float64) error {
	if !x.pipelined || !x.open {
		return nil
	}
	return x.colorReady(color, func(i int) error {
		return x.put(i, field)
	})
}

func (x *fenceSync) Exchange(tid int, field []float64, final bool) (time.Duration, error) {
	const op = "exchange.OneSidedFenceSync"
	return x.timed(tid, team.PhaseIssue, func() error {
		return x.fail(op, x.round(field, final))
	})
}

func (x *fenceSync) round(field []float64, final bool) (err error) {
	win := x.res.Window
	if !x.open {
		if err = win.Fence(fabric.FenceNoPrecede); err != nil {
			return
		}
		x.open = true
	}
	err = x.issueRemaining(func(i int) error {
		return x.put(i, field)
	})
	if err != nil {
		return
	}
	closing := fabric.FenceNoStore
	if final || !x.pipelined {
		closing |= fabric.FenceNoSucceed
	}
	err = win.Fence(closing)
	x.open = x.pipelined && !final
	if err != nil {
		return
	}
	if err = x.unpackAll(field); err != nil {
		return
	}
	x.finish()
	return
}
