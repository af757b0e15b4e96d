package exchange

import (
	"time"

	"github.com/notargets/gohalo/team"
)

// asyncPipelined sends to a partner as soon as the last colour its send
// points depend on is computed, from whichever thread finished that colour.
// The triggered section only sends what no colour triggered and drains.
type asyncPipelined struct {
	*earlyRecv
}

func (x *asyncPipelined) ColorDone(tid, color int, field []float64) error {
	return x.colorReady(color, func(i int) error {
		return x.isend(i, field)
	})
}

func (x *asyncPipelined) Exchange(tid int, field []float64, final bool) (time.Duration, error) {
	const op = "exchange.TwoSidedAsyncPipelined"
	return x.timed(tid, team.PhaseIssue, func() error {
		if !x.armed {
			if err := x.post(); err != nil {
				return x.fail(op, err)
			}
		}
		err := x.issueRemaining(func(i int) error {
			return x.isend(i, field)
		})
		if err != nil {
			return x.fail(op, err)
		}
		return x.fail(op, x.drain(field, final))
	})
}
