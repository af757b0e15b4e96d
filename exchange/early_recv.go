package exchange

import (
	"time"

	"github.com/notargets/gohalo/fabric"
	"github.com/notargets/gohalo/team"
)

// earlyRecv keeps the receives of the next round posted while the team
// computes, so arriving data lands directly in the receive slot.
type earlyRecv struct {
	*base
	recvs []*fabric.Request
	sends []*fabric.Request
	armed bool // Receives of the current stage are posted
}

func newEarlyRecv(b *base) *earlyRecv {
	return &earlyRecv{
		base:  b,
		recvs: make([]*fabric.Request, len(b.topo.Partners)),
		sends: make([]*fabric.Request, len(b.topo.Partners)),
	}
}

func (x *earlyRecv) Prime() error {
	if x.armed {
		return nil
	}
	return x.fail("exchange.Prime", x.post())
}

// post arms one receive per partner into the receive slot of the current stage
func (x *earlyRecv) post() error {
	var (
		ct    = x.topo
		stage = ct.RecvStage()
	)
	for i, p := range ct.Partners {
		x.recvs[i] = nil
		if ct.RecvCount[i] == 0 {
			continue
		}
		buf, err := x.recvView(i, stage)
		if err != nil {
			return err
		}
		x.recvs[i] = x.res.Endpoint.Irecv(p, int(stage), buf)
	}
	x.armed = true
	return nil
}

func (x *earlyRecv) isend(i int, field []float64) error {
	data, err := x.packed(i, field)
	if err != nil {
		return err
	}
	x.sends[i] = x.res.Endpoint.Isend(x.topo.Partners[i], x.tag(), data)
	return nil
}

// drain completes the posted receives and the issued sends, unpacks and
// closes the round. Unless final the next round's receives are posted.
func (x *earlyRecv) drain(field []float64, final bool) error {
	err := fabric.WaitAll(x.recvs)
	x.armed = false
	if err != nil {
		return err
	}
	if err = x.unpackAll(field); err != nil {
		return err
	}
	err = fabric.WaitAll(x.sends)
	clear(x.sends)
	if err != nil {
		return err
	}
	x.finish()
	if final {
		return nil
	}
	return x.post()
}

func (x *earlyRecv) Exchange(tid int, field []float64, final bool) (time.Duration, error) {
	const op = "exchange.TwoSidedEarlyRecv"
	return x.timed(tid, team.PhaseIssue, func() error {
		if !x.armed {
			if err := x.post(); err != nil {
				return x.fail(op, err)
			}
		}
		for i := range x.topo.Partners {
			if x.topo.SendCount[i] == 0 {
				continue
			}
			if err := x.isend(i, field); err != nil {
				return x.fail(op, err)
			}
		}
		return x.fail(op, x.drain(field, final))
	})
}
