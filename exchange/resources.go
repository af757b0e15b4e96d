package exchange

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/notargets/gohalo/buffer"
	"github.com/notargets/gohalo/fabric"
	"github.com/notargets/gohalo/topology"
	"github.com/notargets/gohalo/types"
)

// Resources owns everything a variant allocates for one domain: the double
// buffered send and receive regions, the transport handle and the partner
// group. It is created by Init and released by Close on every exit path.
type Resources struct {
	Variant Variant
	Topo    *topology.CommTopology
	Stride  int

	// Two-sided variants stage through local regions
	Send, Recv buffer.DoubleBuffer
	Endpoint   *fabric.Endpoint

	// One-sided variants expose four regions through a window
	Window *fabric.Window

	// Group is the partner group scoping active target epochs
	Group []types.Rank

	opts    *Options
	metrics *metrics
	closed  bool
}

// Init checks the declared stride against the topology, allocates the
// regions the variant needs and, for one-sided variants, collectively exposes
// them. For one-sided variants every rank of the world must call Init.
func Init(world *fabric.World, topo *topology.CommTopology, stride int, v Variant, opts ...Option) (res *Resources, err error) {
	const op = "exchange.Init"
	o := newOptions(v, opts)
	if _, known := variantNames[v]; !known {
		return nil, types.Errorf(types.ConfigMismatch, op, "unknown variant %d", v).WithRank(topo.Rank)
	}
	if stride != topo.Stride {
		return nil, types.Errorf(types.ConfigMismatch, op,
			"per point stride %d, topology built for %d", stride, topo.Stride).WithRank(topo.Rank)
	}
	if err = topo.Validate(); err != nil {
		return nil, err
	}
	res = &Resources{
		Variant: v,
		Topo:    topo,
		Stride:  stride,
		Group:   append([]types.Rank(nil), topo.Partners...),
		opts:    o,
		metrics: newMetrics(v, topo.Rank, o.Registerer),
	}
	if v.OneSided() {
		err = res.initWindow(world)
	} else {
		err = res.initTwoSided(world)
	}
	if err != nil {
		res.release()
		return nil, err
	}
	if got := res.exposedSegments(); got != v.ExposedSegments() {
		_ = res.Close()
		return nil, types.Errorf(types.ConfigMismatch, op,
			"%s requires %d exposed segments, have %d", v, v.ExposedSegments(), got).WithRank(topo.Rank)
	}
	o.Logger.Info("exchange initialized",
		zap.Stringer("variant", v),
		zap.Int("rank", int(topo.Rank)),
		zap.Int("stride", stride),
		zap.Any("topology", topo.GetStats()),
		zap.Int("segments", res.exposedSegments()),
		zap.Bool("pipelined", o.Pipelined))
	return res, nil
}

func (res *Resources) initTwoSided(world *fabric.World) (err error) {
	if res.Endpoint, err = world.Endpoint(res.Topo.Rank); err != nil {
		return
	}
	if res.Send, err = buffer.NewDoubleBuffer("send", res.Topo.SendBytes); err != nil {
		return types.Wrap(types.ResourceExhausted, "exchange.Init", err).WithRank(res.Topo.Rank)
	}
	if res.Recv, err = buffer.NewDoubleBuffer("recv", res.Topo.RecvBytes); err != nil {
		return types.Wrap(types.ResourceExhausted, "exchange.Init", err).WithRank(res.Topo.Rank)
	}
	return
}

func (res *Resources) initWindow(world *fabric.World) (err error) {
	ct := res.Topo
	sizes := make([]int, types.OneSidedSegments)
	sizes[types.SendSlot0], sizes[types.SendSlot1] = ct.SendBytes, ct.SendBytes
	sizes[types.RecvSlot0], sizes[types.RecvSlot1] = ct.RecvBytes, ct.RecvBytes
	res.Window, err = world.AllocateWindow(ct.Rank, fabric.WindowSpec{
		Name:          res.opts.WindowName,
		SegmentSizes:  sizes,
		Notifications: len(ct.Partners),
	})
	return
}

func (res *Resources) exposedSegments() int {
	if res.Window == nil {
		return 0
	}
	return res.Window.Segments()
}

// SendRegion is the send slot of the double buffer for the given slot
func (res *Resources) SendRegion(slot int) (*buffer.Region, error) {
	if res.Window != nil {
		return res.Window.Segment(types.SendSegment(slot))
	}
	return res.Send[slot&1], nil
}

// RecvRegion is the receive slot of the double buffer for the given slot
func (res *Resources) RecvRegion(slot int) (*buffer.Region, error) {
	if res.Window != nil {
		return res.Window.Segment(types.RecvSegment(slot))
	}
	return res.Recv[slot&1], nil
}

func (res *Resources) release() {
	res.Send.Release()
	res.Recv.Release()
}

// Close releases the regions and the group handle. It is idempotent; a
// one-sided window is freed collectively.
func (res *Resources) Close() (err error) {
	if res == nil || res.closed {
		return nil
	}
	res.closed = true
	if res.Window != nil {
		err = multierr.Append(err, res.Window.Free())
	}
	res.release()
	res.Group = nil
	res.opts.Logger.Info("exchange released",
		zap.Stringer("variant", res.Variant),
		zap.Int("rank", int(res.Topo.Rank)),
		zap.Error(err))
	return
}
