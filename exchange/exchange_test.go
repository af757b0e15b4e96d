package exchange

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/notargets/gohalo/buffer"
	"github.com/notargets/gohalo/fabric"
	"github.com/notargets/gohalo/team"
	"github.com/notargets/gohalo/topology"
	"github.com/notargets/gohalo/types"
)

type rankState struct {
	res   *Resources
	ex    Exchanger
	coord *team.Coordinator
}

// Domain A owns three boundary points that are B's ghost points 1..3
func abDecomposition() topology.Decomposition {
	return topology.Decomposition{
		{Rank: 0, NPoints: 3, Partners: []types.Rank{1},
			SendIndex: [][]int{{0, 1, 2}}, RecvIndex: [][]int{{}}},
		{Rank: 1, NPoints: 4, Partners: []types.Rank{0},
			SendIndex: [][]int{{}}, RecvIndex: [][]int{{1, 2, 3}}},
	}
}

// Every rank partners with both others; rank 2 lists them in reverse
func triangleDecomposition() topology.Decomposition {
	return topology.Decomposition{
		{Rank: 0, NPoints: 5, Partners: []types.Rank{1, 2},
			SendIndex: [][]int{{0, 1}, {1}}, RecvIndex: [][]int{{2, 3}, {4}}},
		{Rank: 1, NPoints: 6, Partners: []types.Rank{0, 2},
			SendIndex: [][]int{{0, 1}, {1}}, RecvIndex: [][]int{{2, 3}, {4}}},
		{Rank: 2, NPoints: 4, Partners: []types.Rank{1, 0},
			SendIndex: [][]int{{0}, {0}}, RecvIndex: [][]int{{2}, {3}}},
	}
}

// Partners on record with nothing to exchange
func idleDecomposition() topology.Decomposition {
	return topology.Decomposition{
		{Rank: 0, NPoints: 2, Partners: []types.Rank{1}, SendIndex: [][]int{{}}, RecvIndex: [][]int{{}}},
		{Rank: 1, NPoints: 2, Partners: []types.Rank{0}, SendIndex: [][]int{{}}, RecvIndex: [][]int{{}}},
	}
}

func initAll(t *testing.T, dec topology.Decomposition, stride int, v Variant, threads int,
	opts ...Option) (w *fabric.World, states []*rankState) {
	w = fabric.NewWorld(len(dec))
	states = make([]*rankState, len(dec))
	var g errgroup.Group
	for r := range dec {
		r := r
		g.Go(func() (err error) {
			defer func() {
				if err != nil {
					w.Abort(err)
				}
			}()
			topo, err := topology.New(dec, types.Rank(r), stride, nil)
			if err != nil {
				return
			}
			res, err := Init(w, topo, stride, v, opts...)
			if err != nil {
				return
			}
			coord := team.NewCoordinator(threads)
			ex, err := New(res, coord)
			if err != nil {
				return
			}
			states[r] = &rankState{res: res, ex: ex, coord: coord}
			return
		})
	}
	require.NoError(t, g.Wait())
	return
}

func closeAll(states []*rankState) error {
	var g errgroup.Group
	for _, st := range states {
		st := st
		g.Go(func() error { return st.ex.Close() })
	}
	return g.Wait()
}

// runRounds drives every rank through the given rounds. Thread 0 refreshes
// the owned values through produce and reports the single colour.
func runRounds(w *fabric.World, states []*rankState, fields [][]float64, rounds int,
	produce func(r, round int, field []float64)) (durations []time.Duration, err error) {
	var g errgroup.Group
	durations = make([]time.Duration, len(states))
	for r, st := range states {
		r, st := r, st
		g.Go(func() (err error) {
			defer func() {
				if err != nil {
					w.Abort(err)
				}
			}()
			if err = st.ex.Prime(); err != nil {
				return
			}
			return team.Run(st.coord, func(tid int) error {
				for round := 0; round < rounds; round++ {
					if tid == 0 {
						if produce != nil {
							produce(r, round, fields[r])
						}
						if err := st.ex.ColorDone(tid, 0, fields[r]); err != nil {
							return err
						}
					}
					dt, err := st.ex.Exchange(tid, fields[r], round == rounds-1)
					if err != nil {
						return err
					}
					if tid == 0 {
						durations[r] += dt
					}
				}
				return nil
			})
		})
	}
	err = g.Wait()
	return
}

func encode(field []float64) []byte {
	b := make([]byte, len(field)*types.Float64Size)
	buffer.EncodeFloat64s(b, field)
	return b
}

func TestABScenario(t *testing.T) {
	var (
		stride  = 2
		results = make(map[string][]byte)
	)
	for _, v := range AllVariants {
		for _, pipelined := range []bool{false, true} {
			name := fmt.Sprintf("%s/pipelined=%v", v, pipelined)
			w, states := initAll(t, abDecomposition(), stride, v, 2, WithPipelined(pipelined))
			fields := [][]float64{
				{1, 2, 3, 4, 5, 6},
				make([]float64, 4*stride),
			}
			_, err := runRounds(w, states, fields, 1, nil)
			require.NoError(t, err, name)
			assert.Equal(t, []float64{0, 0, 1, 2, 3, 4, 5, 6}, fields[1], name)
			assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, fields[0], name)
			results[name] = encode(fields[1])
			require.NoError(t, closeAll(states))
		}
	}
	// Both ends of the protocol range produce byte identical ghosts
	want := results["TwoSidedBulkSync/pipelined=false"]
	assert.Equal(t, want, results["OneSidedNotify/pipelined=false"])
	for name, got := range results {
		assert.Equal(t, want, got, name)
	}
}

func TestStageAndSingleTrigger(t *testing.T) {
	var (
		stride = 2
		rounds = 5
	)
	produce := func(r, round int, field []float64) {
		for pt := 0; pt < 2; pt++ { // Every rank owns points 0 and 1
			for k := 0; k < stride; k++ {
				field[pt*stride+k] = float64(1000*round + 100*r + 10*pt + k)
			}
		}
	}
	for _, v := range AllVariants {
		for _, threads := range []int{1, 4} {
			for _, pipelined := range []bool{false, true} {
				var (
					name = fmt.Sprintf("%s/threads=%d/pipelined=%v", v, threads, pipelined)
					reg  = prometheus.NewRegistry()
					dec  = triangleDecomposition()
				)
				w, states := initAll(t, dec, stride, v, threads, WithPipelined(pipelined), WithRegisterer(reg))
				fields := make([][]float64, len(dec))
				for r := range dec {
					fields[r] = make([]float64, dec[r].NPoints*stride)
				}
				_, err := runRounds(w, states, fields, rounds, produce)
				require.NoError(t, err, name)
				for r, st := range states {
					ct := st.ex.Topology()
					assert.Equal(t, uint64(rounds), ct.SendStage(), name)
					assert.Equal(t, uint64(rounds), ct.RecvStage(), name)
					assert.Equal(t, rounds%2, ct.Slot(), name)
					assert.Equal(t, uint64(rounds), st.ex.Rounds(), name)
					assert.Equal(t, float64(rounds), testutil.ToFloat64(st.res.metrics.rounds), name)
					assert.Equal(t, uint64(rounds), st.coord.Calls(), name)
					// Ghosts hold the partner's values of the last round
					for i, p := range ct.Partners {
						j, ok := states[p].ex.Topology().PartnerIndex(types.Rank(r))
						require.True(t, ok, name)
						for s, ghost := range ct.RecvIndex[i] {
							pt := dec[p].SendIndex[j][s]
							for k := 0; k < stride; k++ {
								assert.Equal(t, float64(1000*(rounds-1)+100*int(p)+10*pt+k),
									fields[r][ghost*stride+k], name)
							}
						}
					}
				}
				require.NoError(t, closeAll(states))
			}
		}
	}
}

func TestZeroCountPartners(t *testing.T) {
	for _, v := range AllVariants {
		reg := prometheus.NewRegistry()
		w, states := initAll(t, idleDecomposition(), 3, v, 2, WithRegisterer(reg), WithPipelined(true))
		fields := [][]float64{{1, 2, 3, 4, 5, 6}, {7, 8, 9, 10, 11, 12}}
		_, err := runRounds(w, states, fields, 3, nil)
		require.NoError(t, err, v.String())
		assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, fields[0])
		assert.Equal(t, []float64{7, 8, 9, 10, 11, 12}, fields[1])
		for _, st := range states {
			assert.Equal(t, 0., testutil.ToFloat64(st.res.metrics.messages), v.String())
			assert.Equal(t, 0., testutil.ToFloat64(st.res.metrics.bytesSent), v.String())
			assert.Equal(t, 0., testutil.ToFloat64(st.res.metrics.notifications), v.String())
			assert.Equal(t, 3., testutil.ToFloat64(st.res.metrics.rounds), v.String())
		}
		require.NoError(t, closeAll(states))
	}
}

func TestIdempotentRounds(t *testing.T) {
	for _, v := range []Variant{TwoSidedEarlyRecv, OneSidedActiveTarget} {
		w, states := initAll(t, abDecomposition(), 2, v, 3)
		fields := [][]float64{{1, 2, 3, 4, 5, 6}, make([]float64, 8)}
		_, err := runRounds(w, states, fields, 4, nil)
		require.NoError(t, err)
		first := encode(fields[1])
		_, err = runRounds(w, states, fields, 4, nil)
		require.NoError(t, err)
		assert.Equal(t, first, encode(fields[1]), v.String())
		assert.Equal(t, uint64(8), states[1].ex.Rounds())
		require.NoError(t, closeAll(states))
	}
}

func TestElapsedClock(t *testing.T) {
	mock := clock.NewMock()
	w, states := initAll(t, abDecomposition(), 2, TwoSidedBulkSync, 1, WithClock(mock))
	fields := [][]float64{{1, 2, 3, 4, 5, 6}, make([]float64, 8)}
	durations, err := runRounds(w, states, fields, 2, nil)
	require.NoError(t, err)
	// A clock nobody advances measures nothing
	assert.Equal(t, []time.Duration{0, 0}, durations)
	require.NoError(t, closeAll(states))
}

func TestConfigErrors(t *testing.T) {
	var (
		dec = abDecomposition()
		w   = fabric.NewWorld(2)
	)
	topo, err := topology.New(dec, 0, 2, nil)
	require.NoError(t, err)
	{ // Test the declared stride must match the topology
		_, err = Init(w, topo, 3, TwoSidedBulkSync)
		assert.Equal(t, types.ConfigMismatch, types.KindOf(err))
	}
	{ // Test unknown variants
		_, err = Init(w, topo, 2, Variant(42))
		assert.Equal(t, types.ConfigMismatch, types.KindOf(err))
		assert.Equal(t, "Variant(42)", Variant(42).String())
	}
	{ // Test New needs live resources and a team
		res, err := Init(w, topo, 2, TwoSidedEarlyRecv)
		require.NoError(t, err)
		_, err = New(res, nil)
		assert.Equal(t, types.ConfigMismatch, types.KindOf(err))
		require.NoError(t, res.Close())
		require.NoError(t, res.Close())
		_, err = New(res, team.NewCoordinator(1))
		assert.Equal(t, types.ConfigMismatch, types.KindOf(err))
		_, err = New(nil, team.NewCoordinator(1))
		assert.Equal(t, types.ConfigMismatch, types.KindOf(err))
	}
	{ // Test variant names
		v, err := ParseVariant(" onesidednotify ")
		require.NoError(t, err)
		assert.Equal(t, OneSidedNotify, v)
		_, err = ParseVariant("carrier-pigeon")
		assert.Error(t, err)
		assert.True(t, OneSidedFenceSync.OneSided())
		assert.False(t, TwoSidedAsyncPipelined.OneSided())
		assert.Equal(t, 4, OneSidedActiveTarget.ExposedSegments())
		assert.Equal(t, 0, TwoSidedBulkSync.ExposedSegments())
	}
}

func TestColorProtocolErrors(t *testing.T) {
	dec := triangleDecomposition()
	w, states := initAll(t, dec, 1, TwoSidedAsyncPipelined, 1)
	ex := states[0].ex
	field := make([]float64, dec[0].NPoints)
	err := ex.ColorDone(0, 1, field)
	assert.Equal(t, types.ProtocolViolation, types.KindOf(err))
	err = ex.ColorDone(0, -1, field)
	assert.Equal(t, types.ProtocolViolation, types.KindOf(err))
	require.NoError(t, ex.ColorDone(0, 0, field))
	err = ex.ColorDone(0, 0, field)
	assert.Equal(t, types.ProtocolViolation, types.KindOf(err))
	w.Abort(err)
	require.NoError(t, closeAll(states))
}

func TestNotifyProtocolErrors(t *testing.T) {
	_, states := initAll(t, abDecomposition(), 2, OneSidedNotify, 1)
	var (
		a = states[0].res.Window
		b = states[1]
	)
	// A raises the flag B expects with a value no well formed write carries
	err := a.WriteNotify(types.SendSlot0, 0, 1, types.RecvSlot0, 0, 48, 0, 2)
	require.NoError(t, err)
	_, err = b.ex.Exchange(0, make([]float64, 8), true)
	assert.Equal(t, types.ProtocolViolation, types.KindOf(err))
	assert.Equal(t, uint64(0), b.ex.Rounds())
	require.NoError(t, closeAll(states))
}

// Rank 0 receives from rank 1 only; rank 2 is a partner with nothing to move
func strayDecomposition() topology.Decomposition {
	return topology.Decomposition{
		{Rank: 0, NPoints: 2, Partners: []types.Rank{1, 2},
			SendIndex: [][]int{{0}, {}}, RecvIndex: [][]int{{1}, {}}},
		{Rank: 1, NPoints: 2, Partners: []types.Rank{0},
			SendIndex: [][]int{{0}}, RecvIndex: [][]int{{1}}},
		{Rank: 2, NPoints: 1, Partners: []types.Rank{0},
			SendIndex: [][]int{{}}, RecvIndex: [][]int{{}}},
	}
}

func TestNotifyUnexpectedIDs(t *testing.T) {
	type write struct {
		from types.Rank
		size int
		id   types.NotificationID
	}
	cases := []struct {
		name   string
		dec    topology.Decomposition
		writes []write
	}{
		{"raised by a partner with nothing to send", abDecomposition(), []write{{1, 0, 0}}},
		{"raised before the expected one", strayDecomposition(), []write{{2, 0, 1}}},
		{"raised after the last expected one", strayDecomposition(), []write{{1, 8, 0}, {2, 0, 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, states := initAll(t, tc.dec, 1, OneSidedNotify, 1)
			for _, wr := range tc.writes {
				win := states[wr.from].res.Window
				err := win.WriteNotify(types.SendSlot0, 0, 0, types.RecvSlot0, 0, wr.size, wr.id, types.NotifyRaised)
				require.NoError(t, err)
			}
			_, err := states[0].ex.Exchange(0, make([]float64, tc.dec[0].NPoints), true)
			assert.Equal(t, types.ProtocolViolation, types.KindOf(err))
			assert.Equal(t, uint64(0), states[0].ex.Rounds())
			require.NoError(t, closeAll(states))
		})
	}
}

func TestActiveTargetEpochTransitions(t *testing.T) {
	_, states := initAll(t, abDecomposition(), 2, OneSidedActiveTarget, 1)
	var (
		x     = states[0].ex.(*activeTarget)
		field = make([]float64, 6)
	)
	cases := []struct {
		name string
		from epochState
		step func() error
	}{
		{"put while idle", epochIdle, func() error { return x.put(0, field) }},
		{"reopen an open epoch", epochOpen, x.open},
		{"drain before close", epochOpen, func() error { return x.transition(epochDrained) }},
		{"close an idle epoch", epochIdle, func() error {
			x.mu.Lock()
			defer x.mu.Unlock()
			return x.completeLocked()
		}},
		{"skip the drain", epochClosed, func() error { return x.transition(epochIdle) }},
	}
	for _, tc := range cases {
		x.state = tc.from
		err := tc.step()
		assert.Equal(t, types.ProtocolViolation, types.KindOf(err), tc.name)
		assert.Equal(t, tc.from, x.current(), tc.name)
	}
	x.state = epochIdle
	require.NoError(t, closeAll(states))
}
