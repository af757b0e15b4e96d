package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notargets/gohalo/InputParameters"
)

func TestSummarize(t *testing.T) {
	vt := summarize("x", []float64{5, 1, 3, 2, 4})
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, vt.Samples)
	assert.Equal(t, 3., vt.Median)
	assert.Equal(t, 3., vt.Mean)
	assert.InDelta(t, 1.5811388, vt.StdDev, 1e-6)

	vt = summarize("one", []float64{2})
	assert.Equal(t, 2., vt.Median)
	assert.Equal(t, 0., vt.StdDev)
}

func TestFastest(t *testing.T) {
	timings := []VariantTiming{
		{Name: "Baseline", Median: 0.1},
		{Name: "TwoSidedBulkSync", Median: 0.5},
		{Name: "OneSidedNotify", Median: 0.3},
	}
	assert.Equal(t, 2, fastest(timings))
	assert.Equal(t, -1, fastest(timings[:1]))
}

func TestRunBenchmark(t *testing.T) {
	var (
		out bytes.Buffer
		rp  = InputParameters.Defaults()
	)
	rp.Domains, rp.Threads, rp.Stride = 3, 2, 2
	rp.Rounds, rp.Samples = 4, 3
	rp.GridNx, rp.GridNy, rp.Colors = 12, 4, 2
	rp.Variants = []string{"TwoSidedEarlyRecv", "OneSidedActiveTarget"}
	timings, err := RunBenchmark(rp, runOptions{Verify: true}, &out, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, timings, 3)
	assert.Equal(t, "Baseline", timings[0].Name)
	assert.Equal(t, "OneSidedActiveTarget", timings[2].Name)
	for _, vt := range timings {
		assert.Len(t, vt.Samples, 3)
	}
	report := out.String()
	assert.Contains(t, report, "3 domains x 2 threads")
	assert.Contains(t, report, "TwoSidedEarlyRecv")

	rp.Variants = []string{"Telegraph"}
	_, err = RunBenchmark(rp, runOptions{}, &out, zap.NewNop())
	assert.Error(t, err)
}

func TestRunParameters(t *testing.T) {
	var (
		dir  = t.TempDir()
		file = filepath.Join(dir, "run.yaml")
	)
	require.NoError(t, os.WriteFile(file, []byte("Rounds: 9\nThreads: 3\nVariants: [OneSidedNotify]\n"), 0o644))
	flags := RunCmd.Flags()
	require.NoError(t, flags.Set("inputParametersFile", file))
	require.NoError(t, flags.Set("threads", "7"))
	defer func() {
		_ = flags.Set("inputParametersFile", "")
		_ = flags.Set("threads", "4")
		flags.Lookup("threads").Changed = false
		flags.Lookup("inputParametersFile").Changed = false
	}()
	rp, err := runParameters(RunCmd)
	require.NoError(t, err)
	assert.Equal(t, 9, rp.Rounds)  // From the input file
	assert.Equal(t, 7, rp.Threads) // The command line wins
	assert.Equal(t, 64, rp.GridNy) // Default
	assert.Equal(t, []string{"OneSidedNotify"}, rp.Variants)
}

func TestListVariants(t *testing.T) {
	var out bytes.Buffer
	listVariants(&out)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[0], "TwoSidedBulkSync")
	assert.Contains(t, lines[5], "one-sided")
	assert.Contains(t, lines[5], "4 exposed segments")
}
