package exchange

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/notargets/gohalo/buffer"
	"github.com/notargets/gohalo/team"
	"github.com/notargets/gohalo/topology"
	"github.com/notargets/gohalo/types"
)

// base carries what every variant shares: resources, the team coordinator,
// round accounting and the per-partner colour countdowns used for pipelined
// issuance.
type base struct {
	res    *Resources
	topo   *topology.CommTopology
	team   *team.Coordinator
	stride int
	log    *zap.Logger
	clock  clock.Clock
	m      *metrics
	rounds atomic.Uint64

	pending []atomic.Int32 // Colours still outstanding per partner
	issueMu sync.Mutex     // Serializes transport issuance outside the triggered section
	issued  []bool         // Guarded by issueMu
}

func newBase(res *Resources, coord *team.Coordinator) *base {
	b := &base{
		res:     res,
		topo:    res.Topo,
		team:    coord,
		stride:  res.Stride,
		log:     res.opts.Logger,
		clock:   res.opts.Clock,
		m:       res.metrics,
		pending: make([]atomic.Int32, len(res.Topo.Partners)),
		issued:  make([]bool, len(res.Topo.Partners)),
	}
	b.resetPending()
	return b
}

func (b *base) Variant() Variant                    { return b.res.Variant }
func (b *base) Topology() *topology.CommTopology    { return b.topo }
func (b *base) Rounds() uint64                      { return b.rounds.Load() }
func (b *base) Close() error                        { return b.res.Close() }
func (b *base) Prime() error                        { return nil }
func (b *base) ColorDone(int, int, []float64) error { return nil }

// timed runs fn as the phase's triggered section and reports the time this
// member spent inside Exchange.
func (b *base) timed(tid int, phase team.Phase, fn func() error) (time.Duration, error) {
	start := b.clock.Now()
	err := b.team.Triggered(tid, phase, fn)
	return b.clock.Since(start), err
}

// fail decorates err with rank and round and logs it once, from the trigger
func (b *base) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	he := types.Wrap(types.TransportFailure, op, err).
		WithRank(b.topo.Rank).
		WithRound(b.topo.SendStage())
	b.log.Error("exchange failed",
		zap.Stringer("variant", b.res.Variant),
		zap.Stringer("kind", he.Kind),
		zap.Int("rank", int(he.Rank)),
		zap.Int("partner", int(he.Partner)),
		zap.Int64("round", he.Round),
		zap.Error(err))
	return he
}

// finish closes the round: both stages advance together, exactly once
func (b *base) finish() {
	b.topo.Advance()
	b.rounds.Add(1)
	b.m.rounds.Inc()
	b.resetPending()
	if ce := b.log.Check(zap.DebugLevel, "round complete"); ce != nil {
		ce.Write(zap.Stringer("variant", b.res.Variant),
			zap.Int("rank", int(b.topo.Rank)),
			zap.Uint64("stage", b.topo.SendStage()))
	}
}

// tag is the message tag of the current round; a message from another round
// fails the tag check on receipt.
func (b *base) tag() int { return int(b.topo.SendStage()) }

// packed packs partner i into the active send slot and returns its bytes
func (b *base) packed(i int, field []float64) ([]byte, error) {
	send, err := b.res.SendRegion(b.topo.Slot())
	if err != nil {
		return nil, err
	}
	if err = buffer.Pack(b.topo, i, field, b.stride, send); err != nil {
		return nil, err
	}
	return b.sendView(send, i)
}

// sendView is partner i's packed range of send, counted as one message
func (b *base) sendView(send *buffer.Region, i int) ([]byte, error) {
	view, err := send.View(b.topo.LocalSendOffset[i], b.topo.SendBytesTo(i))
	if err != nil {
		return nil, types.Wrap(types.ProtocolViolation, "exchange.pack", err).WithPartner(b.topo.Partners[i])
	}
	b.m.bytesSent.Add(float64(len(view)))
	b.m.messages.Inc()
	return view, nil
}

// recvView is partner i's range of the receive slot with the given stage
func (b *base) recvView(i int, stage uint64) ([]byte, error) {
	recv, err := b.res.RecvRegion(int(stage % 2))
	if err != nil {
		return nil, err
	}
	view, err := recv.View(b.topo.LocalRecvOffset[i], b.topo.RecvBytesFrom(i))
	if err != nil {
		return nil, types.Wrap(types.ProtocolViolation, "exchange.recv", err).WithPartner(b.topo.Partners[i])
	}
	return view, nil
}

func (b *base) unpack(i int, field []float64) error {
	recv, err := b.res.RecvRegion(b.topo.RecvSlot())
	if err != nil {
		return err
	}
	return buffer.Unpack(b.topo, i, field, b.stride, recv)
}

func (b *base) unpackAll(field []float64) error {
	recv, err := b.res.RecvRegion(b.topo.RecvSlot())
	if err != nil {
		return err
	}
	return buffer.UnpackAll(b.topo, field, b.stride, recv)
}

func (b *base) resetPending() {
	b.issueMu.Lock()
	defer b.issueMu.Unlock()
	for i := range b.pending {
		b.pending[i].Store(int32(len(b.topo.SendColors[i])))
		b.issued[i] = false
	}
}

// colorReady counts colour c down for every partner that depends on it and
// issues each partner whose last colour it was.
func (b *base) colorReady(color int, issue func(i int) error) error {
	const op = "exchange.ColorDone"
	if color < 0 || color >= len(b.topo.ColorPartners) {
		return types.Errorf(types.ProtocolViolation, op,
			"colour %d outside [0,%d)", color, len(b.topo.ColorPartners)).WithRank(b.topo.Rank)
	}
	for _, i := range b.topo.ColorPartners[color] {
		switch left := b.pending[i].Add(-1); {
		case left == 0:
			if err := b.issueOnce(i, issue); err != nil {
				return b.fail(op, err)
			}
		case left < 0:
			return types.Errorf(types.ProtocolViolation, op,
				"colour %d reported twice", color).WithRank(b.topo.Rank).WithPartner(b.topo.Partners[i])
		}
	}
	return nil
}

func (b *base) issueOnce(i int, issue func(i int) error) error {
	b.issueMu.Lock()
	defer b.issueMu.Unlock()
	if b.issued[i] {
		return nil
	}
	b.issued[i] = true
	return issue(i)
}

// issueRemaining issues every partner with data that no colour triggered
func (b *base) issueRemaining(issue func(i int) error) error {
	for i := range b.topo.Partners {
		if b.topo.SendCount[i] == 0 {
			continue
		}
		if err := b.issueOnce(i, issue); err != nil {
			return err
		}
	}
	return nil
}
