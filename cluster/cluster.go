// Package cluster drives a decomposition through repeated exchange rounds:
// one group of goroutines per domain, a fixed thread team inside each,
// every team computing its colours and then exchanging halos.
package cluster

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/gohalo/exchange"
	"github.com/notargets/gohalo/fabric"
	"github.com/notargets/gohalo/partition"
	"github.com/notargets/gohalo/team"
	"github.com/notargets/gohalo/types"
	"github.com/notargets/gohalo/utils"
)

type Config struct {
	Variant   exchange.Variant
	Threads   int // Team size per domain
	Stride    int
	Rounds    int
	Pipelined bool
	// Baseline runs the same compute and team barriers with no exchange
	Baseline bool
}

// Cluster holds one run's fields. Fields[d] is the local field of domain d,
// Stride values per local point.
type Cluster struct {
	ID     uuid.UUID
	Strips *partition.Strips
	Config Config
	Fields [][]float64

	log        *zap.Logger
	clock      clock.Clock
	registerer prometheus.Registerer
}

type Option func(*Cluster)

func WithLogger(l *zap.Logger) Option               { return func(c *Cluster) { c.log = l } }
func WithClock(clk clock.Clock) Option              { return func(c *Cluster) { c.clock = clk } }
func WithRegisterer(r prometheus.Registerer) Option { return func(c *Cluster) { c.registerer = r } }

func New(s *partition.Strips, cfg Config, opts ...Option) (c *Cluster, err error) {
	const op = "cluster.New"
	if cfg.Threads <= 0 || cfg.Stride <= 0 || cfg.Rounds <= 0 {
		return nil, types.Errorf(types.ConfigMismatch, op,
			"threads %d, stride %d and rounds %d must be positive", cfg.Threads, cfg.Stride, cfg.Rounds)
	}
	c = &Cluster{
		ID:     uuid.New(),
		Strips: s,
		Config: cfg,
		Fields: make([][]float64, s.Domains()),
		log:    zap.NewNop(),
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	for d := range c.Fields {
		c.Fields[d] = make([]float64, len(s.LocalToGlobal[d])*cfg.Stride)
	}
	return
}

// Value is what the owner of global point gid computes for component k in
// the given round. Exact in float64 for any grid that fits in memory.
func Value(gid, k, round int) float64 {
	return float64(round+1)*1e9 + float64(gid)*16 + float64(k)
}

// Result of one run
type Result struct {
	RunID    uuid.UUID
	Variant  exchange.Variant
	Baseline bool
	Elapsed  time.Duration   // Wall time of the whole run
	Exchange []time.Duration // Per domain, time thread 0 spent in Exchange
	Rounds   []uint64        // Per domain, completed rounds
}

func (r Result) String() string {
	name := r.Variant.String()
	if r.Baseline {
		name = "Baseline"
	}
	return fmt.Sprintf("%s: %v over %d domains", name, r.Elapsed, len(r.Rounds))
}

// Run executes Config.Rounds rounds on every domain. The first failing domain
// aborts the world, which releases every peer blocked in the transport.
func (c *Cluster) Run() (res Result, err error) {
	var (
		n     = c.Strips.Domains()
		world = fabric.NewWorld(n, fabric.WithLogger(c.log))
		g     errgroup.Group
		log   = c.log.With(zap.Stringer("run", c.ID))
	)
	res = Result{
		RunID:    c.ID,
		Variant:  c.Config.Variant,
		Baseline: c.Config.Baseline,
		Exchange: make([]time.Duration, n),
		Rounds:   make([]uint64, n),
	}
	start := c.clock.Now()
	for d := 0; d < n; d++ {
		d := d
		g.Go(func() error {
			if err := c.runDomain(world, d, &res, log); err != nil {
				world.Abort(err)
				return err
			}
			return nil
		})
	}
	err = g.Wait()
	res.Elapsed = c.clock.Since(start)
	if err != nil {
		log.Error("run failed", zap.Stringer("variant", c.Config.Variant), zap.Error(err))
		return
	}
	log.Info("run complete",
		zap.Stringer("variant", c.Config.Variant),
		zap.Bool("baseline", c.Config.Baseline),
		zap.Int("domains", n),
		zap.Int("threads", c.Config.Threads),
		zap.Int("rounds", c.Config.Rounds),
		zap.Duration("elapsed", res.Elapsed))
	return
}

func (c *Cluster) runDomain(world *fabric.World, d int, res *Result, log *zap.Logger) (err error) {
	var (
		cfg   = c.Config
		field = c.Fields[d]
		coord = team.NewCoordinator(cfg.Threads)
	)
	topo, err := c.Strips.Topology(d, cfg.Stride)
	if err != nil {
		return
	}
	var ex exchange.Exchanger
	if !cfg.Baseline {
		var rs *exchange.Resources
		rs, err = exchange.Init(world, topo, cfg.Stride, cfg.Variant,
			exchange.WithLogger(log),
			exchange.WithClock(c.clock),
			exchange.WithRegisterer(c.registerer),
			exchange.WithPipelined(cfg.Pipelined),
			exchange.WithWindowName(fmt.Sprintf("halo/%s/%s", cfg.Variant, c.ID)))
		if err != nil {
			return
		}
		if ex, err = exchange.New(rs, coord); err != nil {
			world.Abort(err)
			return multierr.Append(err, rs.Close())
		}
		// Window teardown is collective; peers must be released before it
		defer func() {
			if err != nil {
				world.Abort(err)
			}
			err = multierr.Append(err, ex.Close())
		}()
		if err = ex.Prime(); err != nil {
			return
		}
		log.Debug("exchange primed", zap.Int("domain", d), zap.Stringer("variant", cfg.Variant))
	}
	var (
		colorsOf = utils.NewPartitionMap(cfg.Threads, topo.NColors)
		byColor  = c.pointsByColor(d, topo.NColors)
	)
	err = team.Run(coord, func(tid int) error {
		cMin, cMax := colorsOf.GetBucketRange(tid)
		for round := 0; round < cfg.Rounds; round++ {
			for color := cMin; color < cMax; color++ {
				c.compute(d, byColor[color], round, field)
				if ex != nil {
					if err := ex.ColorDone(tid, color, field); err != nil {
						return err
					}
				}
			}
			if ex == nil {
				if err := coord.Barrier(); err != nil {
					return err
				}
				continue
			}
			dt, err := ex.Exchange(tid, field, round == cfg.Rounds-1)
			if err != nil {
				return err
			}
			if tid == 0 {
				res.Exchange[d] += dt
			}
		}
		return nil
	})
	if ex != nil {
		res.Rounds[d] = ex.Rounds()
	}
	return
}

func (c *Cluster) pointsByColor(d, ncolors int) (byColor [][]int) {
	byColor = make([][]int, ncolors)
	for pt := 0; pt < c.Strips.Owned[d]; pt++ {
		color := c.Strips.Colors[d][pt]
		byColor[color] = append(byColor[color], pt)
	}
	return
}

func (c *Cluster) compute(d int, points []int, round int, field []float64) {
	var (
		stride = c.Config.Stride
		l2g    = c.Strips.LocalToGlobal[d]
	)
	for _, pt := range points {
		for k := 0; k < stride; k++ {
			field[pt*stride+k] = Value(l2g[pt], k, round)
		}
	}
}

// Expected is the field domain d must hold after the given round completed
// its exchange: owned and ghost points alike carry the owner's value.
func (c *Cluster) Expected(d, round int) []float64 {
	var (
		stride = c.Config.Stride
		l2g    = c.Strips.LocalToGlobal[d]
		want   = make([]float64, len(l2g)*stride)
	)
	for pt, gid := range l2g {
		for k := 0; k < stride; k++ {
			want[pt*stride+k] = Value(gid, k, round)
		}
	}
	return want
}

// Verify checks every domain's field against the values of the last round
func (c *Cluster) Verify() error {
	const op = "cluster.Verify"
	last := c.Config.Rounds - 1
	for d, field := range c.Fields {
		want := c.Expected(d, last)
		if floats.Equal(field, want) {
			continue
		}
		for i := range want {
			if field[i] != want[i] {
				var (
					pt  = i / c.Config.Stride
					gid = c.Strips.LocalToGlobal[d][pt]
				)
				return types.Errorf(types.ProtocolViolation, op,
					"point %d (global %d) component %d holds %g, want %g",
					pt, gid, i%c.Config.Stride, field[i], want[i]).
					WithRank(types.Rank(d)).WithPartner(types.Rank(c.Strips.Owner(gid)))
			}
		}
	}
	return nil
}
