package topology

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/notargets/gohalo/types"
)

// Colors maps each local point to the colour that produces its value. A nil
// Colors puts every point into colour 0.
type Colors []int

// CommTopology is the per-domain communication description. All fields are
// fixed at construction; only the two stage counters move, once per round,
// always together.
type CommTopology struct {
	Rank    types.Rank
	Stride  int // float64 values per point
	NPoints int

	Partners  []types.Rank
	SendCount []int
	RecvCount []int
	SendIndex [][]int
	RecvIndex [][]int

	LocalSendOffset  []types.Offset
	LocalRecvOffset  []types.Offset
	RemoteRecvOffset []types.Offset
	NotificationID   []types.NotificationID

	SendBytes int // Size of one send slot
	RecvBytes int // Size of one receive slot

	NColors       int
	SendColors    [][]int // Per partner, the colours its send points depend on
	ColorPartners [][]int // Per colour, the partners whose send points it touches

	sendStage atomic.Uint64
	recvStage atomic.Uint64
}

// New derives the topology of rank from the decomposition. Offsets are prefix
// sums in partner-list order; the remote receive offset for partner p is the
// receive offset p computes for this rank from the same decomposition.
func New(dec Decomposition, rank types.Rank, stride int, colors Colors) (ct *CommTopology, err error) {
	const op = "topology.New"
	if stride <= 0 {
		return nil, types.Errorf(types.ConfigMismatch, op, "stride must be positive, have %d", stride).WithRank(rank)
	}
	if rank < 0 || int(rank) >= len(dec) {
		return nil, types.Errorf(types.ConfigMismatch, op, "rank %d outside decomposition of %d", rank, len(dec))
	}
	if err = dec.Validate(); err != nil {
		return
	}
	d := &dec[rank]
	np := len(d.Partners)
	ct = &CommTopology{
		Rank:             rank,
		Stride:           stride,
		NPoints:          d.NPoints,
		Partners:         append([]types.Rank(nil), d.Partners...),
		SendCount:        make([]int, np),
		RecvCount:        make([]int, np),
		SendIndex:        make([][]int, np),
		RecvIndex:        make([][]int, np),
		LocalSendOffset:  make([]types.Offset, np),
		LocalRecvOffset:  make([]types.Offset, np),
		RemoteRecvOffset: make([]types.Offset, np),
		NotificationID:   make([]types.NotificationID, np),
	}
	var sendOff, recvOff types.Offset
	for i, p := range d.Partners {
		ct.SendIndex[i] = append([]int(nil), d.SendIndex[i]...)
		ct.RecvIndex[i] = append([]int(nil), d.RecvIndex[i]...)
		ct.SendCount[i] = len(d.SendIndex[i])
		ct.RecvCount[i] = len(d.RecvIndex[i])
		ct.LocalSendOffset[i] = sendOff
		ct.LocalRecvOffset[i] = recvOff
		sendOff = sendOff.Add(types.PayloadBytes(ct.SendCount[i], stride))
		recvOff = recvOff.Add(types.PayloadBytes(ct.RecvCount[i], stride))

		j := dec[p].partnerIndex(rank)
		ct.NotificationID[i] = types.NotificationID(j)
		ct.RemoteRecvOffset[i] = recvOffsetOf(&dec[p], j, stride)
	}
	ct.SendBytes, ct.RecvBytes = int(sendOff), int(recvOff)
	if err = ct.setColors(colors); err != nil {
		return nil, err
	}
	return
}

func recvOffsetOf(d *Descriptor, j, stride int) (off types.Offset) {
	for m := 0; m < j; m++ {
		off = off.Add(types.PayloadBytes(len(d.RecvIndex[m]), stride))
	}
	return
}

func (ct *CommTopology) setColors(colors Colors) error {
	if colors != nil && len(colors) != ct.NPoints {
		return types.Errorf(types.ConfigMismatch, "topology.New",
			"%d point colours for %d points", len(colors), ct.NPoints).WithRank(ct.Rank)
	}
	ct.NColors = 1
	for _, c := range colors {
		if c < 0 {
			return types.Errorf(types.ConfigMismatch, "topology.New", "negative colour %d", c).WithRank(ct.Rank)
		}
		if c+1 > ct.NColors {
			ct.NColors = c + 1
		}
	}
	ct.SendColors = make([][]int, len(ct.Partners))
	ct.ColorPartners = make([][]int, ct.NColors)
	for i := range ct.Partners {
		set := make(map[int]bool)
		for _, pt := range ct.SendIndex[i] {
			c := 0
			if colors != nil {
				c = colors[pt]
			}
			set[c] = true
		}
		for c := range set {
			ct.SendColors[i] = append(ct.SendColors[i], c)
		}
		sort.Ints(ct.SendColors[i])
		for _, c := range ct.SendColors[i] {
			ct.ColorPartners[c] = append(ct.ColorPartners[c], i)
		}
	}
	return nil
}

// PartnerIndex returns the position of rank r in the partner list
func (ct *CommTopology) PartnerIndex(r types.Rank) (int, bool) {
	for i, p := range ct.Partners {
		if p == r {
			return i, true
		}
	}
	return -1, false
}

func (ct *CommTopology) SendStage() uint64 { return ct.sendStage.Load() }
func (ct *CommTopology) RecvStage() uint64 { return ct.recvStage.Load() }

// Slot is the active send slot of the double buffer
func (ct *CommTopology) Slot() int { return int(ct.sendStage.Load() % 2) }

// RecvSlot is the active receive slot of the double buffer
func (ct *CommTopology) RecvSlot() int { return int(ct.recvStage.Load() % 2) }

// Advance moves both stage counters to the next round. Only the trigger
// goroutine calls it, inside the triggered section.
func (ct *CommTopology) Advance() {
	ct.sendStage.Add(1)
	ct.recvStage.Add(1)
}

// SendBytesTo and RecvBytesFrom give the payload size exchanged with partner i
func (ct *CommTopology) SendBytesTo(i int) int   { return types.PayloadBytes(ct.SendCount[i], ct.Stride) }
func (ct *CommTopology) RecvBytesFrom(i int) int { return types.PayloadBytes(ct.RecvCount[i], ct.Stride) }

// GetStats returns topology statistics for logging and validation
func (ct *CommTopology) GetStats() map[string]int {
	stats := map[string]int{
		"partners":      len(ct.Partners),
		"send_points":   0,
		"recv_points":   0,
		"send_bytes":    ct.SendBytes,
		"recv_bytes":    ct.RecvBytes,
		"colors":        ct.NColors,
		"idle_partners": 0,
	}
	for i := range ct.Partners {
		stats["send_points"] += ct.SendCount[i]
		stats["recv_points"] += ct.RecvCount[i]
		if ct.SendCount[i] == 0 && ct.RecvCount[i] == 0 {
			stats["idle_partners"]++
		}
	}
	return stats
}

// Validate performs the same consistency checks the face buffer runtime does:
// sizes line up, offsets are contiguous and every index is in range.
func (ct *CommTopology) Validate() error {
	var sendOff, recvOff types.Offset
	for i := range ct.Partners {
		if ct.SendCount[i] != len(ct.SendIndex[i]) || ct.RecvCount[i] != len(ct.RecvIndex[i]) {
			return types.Errorf(types.ProtocolViolation, "topology.Validate",
				"count/index length mismatch").WithRank(ct.Rank).WithPartner(ct.Partners[i])
		}
		if ct.LocalSendOffset[i] != sendOff || ct.LocalRecvOffset[i] != recvOff {
			return types.Errorf(types.ProtocolViolation, "topology.Validate",
				"offsets not contiguous at partner index %d", i).WithRank(ct.Rank).WithPartner(ct.Partners[i])
		}
		sendOff = sendOff.Add(ct.SendBytesTo(i))
		recvOff = recvOff.Add(ct.RecvBytesFrom(i))
		for _, index := range [][]int{ct.SendIndex[i], ct.RecvIndex[i]} {
			if err := checkBounds(index, ct.NPoints); err != nil {
				return types.Wrap(types.ProtocolViolation, "topology.Validate", err).
					WithRank(ct.Rank).WithPartner(ct.Partners[i])
			}
		}
	}
	if int(sendOff) != ct.SendBytes || int(recvOff) != ct.RecvBytes {
		return types.Errorf(types.ProtocolViolation, "topology.Validate",
			"slot sizes %d/%d disagree with offsets %d/%d", ct.SendBytes, ct.RecvBytes, sendOff, recvOff).WithRank(ct.Rank)
	}
	return nil
}

func (ct *CommTopology) String() string {
	return fmt.Sprintf("rank %d: %d partners, stride %d, send %dB, recv %dB per slot",
		ct.Rank, len(ct.Partners), ct.Stride, ct.SendBytes, ct.RecvBytes)
}
