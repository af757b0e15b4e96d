package InputParameters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/gohalo/exchange"
)

func TestRunParameters(t *testing.T) {
	{ // Test a full file
		fileInput := []byte(`
Title: Strip benchmark
Domains: 8
Threads: 2
Stride: 5
Rounds: 50
Samples: 3
Variants:
  - TwoSidedBulkSync
  - onesidednotify
Pipelined: true
Colors: 6
GridNx: 512
GridNy: 32
GhostLayers: 2
`)
		rp := Defaults()
		require.NoError(t, rp.Parse(fileInput))
		assert.Equal(t, 8, rp.Domains)
		assert.Equal(t, 2, rp.GhostLayers)
		assert.True(t, rp.Pipelined)
		vs, err := rp.SelectedVariants()
		require.NoError(t, err)
		assert.Equal(t, []exchange.Variant{exchange.TwoSidedBulkSync, exchange.OneSidedNotify}, vs)
		rp.Print()
	}
	{ // Test missing keys keep their defaults
		rp := Defaults()
		require.NoError(t, rp.Parse([]byte("Rounds: 7\n")))
		assert.Equal(t, 7, rp.Rounds)
		assert.Equal(t, 256, rp.GridNx)
		vs, err := rp.SelectedVariants()
		require.NoError(t, err)
		assert.Equal(t, exchange.AllVariants, vs)
	}
	{ // Test invalid input
		rp := Defaults()
		assert.Error(t, rp.Parse([]byte("Threads: 0\n")))
		rp = Defaults()
		assert.Error(t, rp.Parse([]byte("GhostLayers: -1\n")))
		rp = Defaults()
		assert.Error(t, rp.Parse([]byte("Variants: [Smoke]\n")))
		rp = Defaults()
		assert.Error(t, rp.Parse([]byte("Domains: [1, 2]\n")))
	}
}
