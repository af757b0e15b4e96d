package exchange

import (
	"time"

	"github.com/notargets/gohalo/buffer"
	"github.com/notargets/gohalo/team"
)

// bulkSync packs and sends to every partner, then blocks in each receive in
// partner order. Sends are eager so the round cannot deadlock on ordering.
type bulkSync struct {
	*base
}

func (x *bulkSync) Exchange(tid int, field []float64, final bool) (time.Duration, error) {
	return x.timed(tid, team.PhaseIssue, func() error {
		return x.fail("exchange.TwoSidedBulkSync", x.round(field))
	})
}

func (x *bulkSync) round(field []float64) error {
	var (
		ct  = x.topo
		ep  = x.res.Endpoint
		tag = x.tag()
	)
	send, err := x.res.SendRegion(ct.Slot())
	if err != nil {
		return err
	}
	if err = buffer.PackAll(ct, field, x.stride, send); err != nil {
		return err
	}
	for i, p := range ct.Partners {
		if ct.SendCount[i] == 0 {
			continue
		}
		data, err := x.sendView(send, i)
		if err != nil {
			return err
		}
		if err = ep.Send(p, tag, data); err != nil {
			return err
		}
	}
	for i, p := range ct.Partners {
		if ct.RecvCount[i] == 0 {
			continue
		}
		buf, err := x.recvView(i, ct.RecvStage())
		if err != nil {
			return err
		}
		if err = ep.Recv(p, tag, buf); err != nil {
			return err
		}
	}
	if err := x.unpackAll(field); err != nil {
		return err
	}
	x.finish()
	return nil
}
