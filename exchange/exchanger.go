package exchange

import (
	"github.com/notargets/gohalo/team"
	"github.com/notargets/gohalo/types"
)

// New binds initialized resources to a thread team and returns the variant's
// exchanger. The team size is fixed for the exchanger's lifetime.
func New(res *Resources, coord *team.Coordinator) (Exchanger, error) {
	const op = "exchange.New"
	if res == nil || res.closed {
		return nil, types.Errorf(types.ConfigMismatch, op, "resources missing or released")
	}
	if coord == nil {
		return nil, types.Errorf(types.ConfigMismatch, op, "no thread team").WithRank(res.Topo.Rank)
	}
	var (
		b         = newBase(res, coord)
		pipelined = res.opts.Pipelined
	)
	switch res.Variant {
	case TwoSidedBulkSync:
		return &bulkSync{base: b}, nil
	case TwoSidedEarlyRecv:
		return newEarlyRecv(b), nil
	case TwoSidedAsyncPipelined:
		return &asyncPipelined{earlyRecv: newEarlyRecv(b)}, nil
	case OneSidedFenceSync:
		return &fenceSync{base: b, pipelined: pipelined}, nil
	case OneSidedActiveTarget:
		return &activeTarget{base: b, pipelined: pipelined}, nil
	case OneSidedNotify:
		return &notified{base: b, pipelined: pipelined, expected: make([]bool, len(res.Topo.Partners))}, nil
	}
	return nil, types.Errorf(types.ConfigMismatch, op, "unknown variant %s", res.Variant).WithRank(res.Topo.Rank)
}
