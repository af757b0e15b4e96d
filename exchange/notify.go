package exchange

import (
	"time"

	"github.com/notargets/gohalo/team"
	"github.com/notargets/gohalo/types"
)

// notified pairs every write with a notification in the partner's receive
// slot. The drain unpacks partners in arrival order; a partner is identified
// by the notification id, which is its index in this rank's partner list.
type notified struct {
	*base
	pipelined bool
	expected  []bool
}

func (x *notified) write(i int, field []float64) error {
	if _, err := x.packed(i, field); err != nil {
		return err
	}
	var (
		ct   = x.topo
		slot = ct.Slot()
	)
	return x.res.Window.WriteNotify(
		types.SendSegment(slot), ct.LocalSendOffset[i],
		ct.Partners[i], types.RecvSegment(slot), ct.RemoteRecvOffset[i], ct.SendBytesTo(i),
		ct.NotificationID[i], types.NotifyRaised)
}

func (x *notified) ColorDone(tid, color int, field []float64) error {
	if !x.pipelined {
		return nil
	}
	return x.colorReady(color, func(i int) error {
		return x.write(i, field)
	})
}

func (x *notified) Exchange(tid int, field []float64, final bool) (time.Duration, error) {
	const op = "exchange.OneSidedNotify"
	phase := team.PhaseIssue
	if x.pipelined {
		phase = team.PhaseDrain
	}
	return x.timed(tid, phase, func() error {
		err := x.issueRemaining(func(i int) error {
			return x.write(i, field)
		})
		if err != nil {
			return x.fail(op, err)
		}
		if err = x.drain(field); err != nil {
			return x.fail(op, err)
		}
		x.finish()
		return nil
	})
}

// drain waits for one notification per partner with data, in any order, and
// unpacks each partner as soon as its notification is consumed.
func (x *notified) drain(field []float64) error {
	const op = "exchange.OneSidedNotify"
	var (
		ct   = x.topo
		win  = x.res.Window
		seg  = types.RecvSegment(ct.RecvSlot())
		left int
	)
	for i := range ct.Partners {
		x.expected[i] = ct.RecvCount[i] > 0
		if x.expected[i] {
			left++
		}
	}
	for ; left > 0; left-- {
		id, err := win.NotifyWaitSome(seg, 0, len(ct.Partners))
		if err != nil {
			return err
		}
		j := int(id)
		if j >= len(ct.Partners) || !x.expected[j] {
			return types.Errorf(types.ProtocolViolation, op,
				"unexpected notification %d on %s", id, seg).WithRank(ct.Rank)
		}
		val, err := win.NotifyReset(seg, id)
		if err != nil {
			return err
		}
		if val != types.NotifyRaised {
			return types.Errorf(types.ProtocolViolation, op,
				"notification %d carried %d", id, val).WithRank(ct.Rank).WithPartner(ct.Partners[j])
		}
		x.expected[j] = false
		x.m.notifications.Inc()
		if err = x.unpack(j, field); err != nil {
			return err
		}
	}
	// Partners write the next round into the other slot, so anything still
	// raised here was never expected this round
	id, raised, err := win.NotifyTestSome(seg, 0, len(ct.Partners))
	if err != nil {
		return err
	}
	if raised {
		he := types.Errorf(types.ProtocolViolation, op,
			"unexpected notification %d on %s", id, seg).WithRank(ct.Rank)
		if int(id) < len(ct.Partners) {
			he = he.WithPartner(ct.Partners[id])
		}
		return he
	}
	return nil
}
