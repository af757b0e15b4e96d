package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/notargets/gohalo/types"
)

func TestStripDecomposition(t *testing.T) {
	{ // Test a 7x2 grid in three strips with two ghost layers
		s, err := NewStripDecomposition(7, 2, 3, 2, 2)
		require.NoError(t, err)
		assert.Equal(t, 3, s.Domains())
		// Columns 0-2, 3-4, 5-6
		assert.Equal(t, []int{6, 4, 4}, s.Owned)
		for gid, owner := range map[int]int{-1: -1, 0: 0, 5: 0, 6: 1, 9: 1, 10: 2, 13: 2, 14: -1} {
			assert.Equal(t, owner, s.Owner(gid), "global point %d", gid)
		}

		d0 := s.Decomposition[0]
		assert.Equal(t, []types.Rank{1}, d0.Partners)
		assert.Equal(t, 10, d0.NPoints)
		assert.Equal(t, [][]int{{2, 3, 4, 5}}, d0.SendIndex)
		assert.Equal(t, [][]int{{6, 7, 8, 9}}, d0.RecvIndex)
		assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, s.LocalToGlobal[0])

		d1 := s.Decomposition[1]
		assert.Equal(t, []types.Rank{0, 2}, d1.Partners)
		assert.Equal(t, 12, d1.NPoints)
		assert.Equal(t, [][]int{{0, 1, 2, 3}, {0, 1, 2, 3}}, d1.SendIndex)
		assert.Equal(t, [][]int{{4, 5, 6, 7}, {8, 9, 10, 11}}, d1.RecvIndex)
		assert.Equal(t, []int{6, 7, 8, 9, 2, 3, 4, 5, 10, 11, 12, 13}, s.LocalToGlobal[1])

		// Every ghost maps onto the point its owner sends for it
		for d, desc := range s.Decomposition {
			for i, p := range desc.Partners {
				j := 0
				for k, q := range s.Decomposition[p].Partners {
					if q == types.Rank(d) {
						j = k
					}
				}
				for slot, ghost := range desc.RecvIndex[i] {
					owner := s.Decomposition[p].SendIndex[j][slot]
					assert.Equal(t, s.LocalToGlobal[p][owner], s.LocalToGlobal[d][ghost])
				}
			}
		}
	}
	{ // Test colours are column blocks over the owned points
		s, err := NewStripDecomposition(4, 3, 1, 1, 2)
		require.NoError(t, err)
		assert.Empty(t, s.Decomposition[0].Partners)
		assert.Equal(t, []int{0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1}, []int(s.Colors[0]))
		ct, err := s.Topology(0, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, ct.NColors)
	}
	{ // Test zero ghost layers keep empty pairs
		s, err := NewStripDecomposition(4, 1, 2, 0, 1)
		require.NoError(t, err)
		assert.Equal(t, [][]int{{}}, normalize(s.Decomposition[0].SendIndex))
		ct, err := s.Topology(1, 1)
		require.NoError(t, err)
		assert.Equal(t, []int{0}, ct.SendCount)
		assert.Equal(t, 0, ct.SendBytes)
	}
	{ // Test bad shapes
		for _, args := range [][5]int{
			{0, 1, 1, 1, 1}, {4, 1, 5, 1, 1}, {4, 1, 2, -1, 1}, {4, 1, 2, 1, 0}, {5, 1, 2, 3, 1},
		} {
			_, err := NewStripDecomposition(args[0], args[1], args[2], args[3], args[4])
			assert.Equal(t, types.ConfigMismatch, types.KindOf(err), "%v", args)
		}
	}
}

func normalize(index [][]int) [][]int {
	out := make([][]int, len(index))
	for i, m := range index {
		out[i] = append([]int{}, m...)
	}
	return out
}

func TestStripStats(t *testing.T) {
	s, err := NewStripDecomposition(10, 4, 3, 1, 1)
	require.NoError(t, err)
	st := s.Stats()
	assert.Equal(t, 3, st.Domains)
	assert.Equal(t, 12, st.MinOwned)
	assert.Equal(t, 16, st.MaxOwned)
	assert.InDelta(t, 1.2, st.Imbalance, 1e-12)
	assert.Equal(t, 16, st.GhostPoints)
	assert.Equal(t, map[[2]int]int{{0, 1}: 8, {1, 2}: 8}, st.InterfacePairs)
	assert.Contains(t, st.String(), "3 domains")

	core, logs := observer.New(zap.DebugLevel)
	s.Report(zap.New(core))
	assert.Equal(t, 1, logs.FilterMessage("partition quality").Len())
	assert.Equal(t, 2, logs.FilterMessage("interface").Len())
}
