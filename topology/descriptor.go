// Package topology holds the static per-domain description of communication
// partners, shared point index maps and the buffer offsets derived from them.
package topology

import (
	"fmt"

	"github.com/notargets/gohalo/types"
)

// Descriptor is the partition descriptor of one domain as handed over by the
// mesh partitioner. SendIndex[i][j] is the local point whose value fills slot j
// of the message to Partners[i], RecvIndex[i][j] the local ghost point written
// from slot j of the message from Partners[i].
type Descriptor struct {
	Rank      types.Rank
	NPoints   int // Local points, owned and ghost
	Partners  []types.Rank
	SendIndex [][]int
	RecvIndex [][]int
}

// Decomposition is the full set of descriptors, indexed by rank. Every domain
// sees the same Decomposition, which is what lets both sides of a pair derive
// identical offsets without a runtime handshake.
type Decomposition []Descriptor

func (d *Descriptor) partnerIndex(r types.Rank) int {
	for i, p := range d.Partners {
		if p == r {
			return i
		}
	}
	return -1
}

// Validate checks structural consistency of the decomposition: partner
// symmetry, matching send/recv counts across each pair and index bounds.
func (dec Decomposition) Validate() error {
	const op = "topology.Validate"
	// Shapes first, the pair checks index into partner descriptors
	for r := range dec {
		d := &dec[r]
		if d.Rank != types.Rank(r) {
			return types.Errorf(types.ConfigMismatch, op,
				"descriptor at position %d carries rank %d", r, d.Rank).WithRank(types.Rank(r))
		}
		if len(d.SendIndex) != len(d.Partners) || len(d.RecvIndex) != len(d.Partners) {
			return types.Errorf(types.ConfigMismatch, op,
				"%d partners but %d send and %d recv index maps",
				len(d.Partners), len(d.SendIndex), len(d.RecvIndex)).WithRank(d.Rank)
		}
	}
	for r := range dec {
		d := &dec[r]
		seen := make(map[types.Rank]bool, len(d.Partners))
		for i, p := range d.Partners {
			if p == d.Rank || p < 0 || int(p) >= len(dec) {
				return types.Errorf(types.ConfigMismatch, op,
					"invalid partner %d", p).WithRank(d.Rank).WithPartner(p)
			}
			if seen[p] {
				return types.Errorf(types.ConfigMismatch, op,
					"partner listed twice").WithRank(d.Rank).WithPartner(p)
			}
			seen[p] = true
			j := dec[p].partnerIndex(d.Rank)
			if j < 0 {
				return types.Errorf(types.ProtocolViolation, op,
					"partner does not list rank %d back", d.Rank).WithRank(d.Rank).WithPartner(p)
			}
			if len(d.SendIndex[i]) != len(dec[p].RecvIndex[j]) {
				return types.Errorf(types.ProtocolViolation, op,
					"send count %d does not match partner recv count %d",
					len(d.SendIndex[i]), len(dec[p].RecvIndex[j])).WithRank(d.Rank).WithPartner(p)
			}
			if err := checkBounds(d.SendIndex[i], d.NPoints); err != nil {
				return types.Wrap(types.ConfigMismatch, op,
					fmt.Errorf("send index: %w", err)).WithRank(d.Rank).WithPartner(p)
			}
			if err := checkBounds(d.RecvIndex[i], d.NPoints); err != nil {
				return types.Wrap(types.ConfigMismatch, op,
					fmt.Errorf("recv index: %w", err)).WithRank(d.Rank).WithPartner(p)
			}
		}
	}
	return nil
}

func checkBounds(index []int, npoints int) error {
	for j, pt := range index {
		if pt < 0 || pt >= npoints {
			return fmt.Errorf("slot %d maps to point %d out of range [0,%d)", j, pt, npoints)
		}
	}
	return nil
}
