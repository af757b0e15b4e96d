// Package partition builds synthetic decompositions of a structured point
// grid. They stand in for the mesh partitioner when driving the exchange
// layer: every point carries a global id, so any ghost value can be checked
// against the value its owner computed.
package partition

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/notargets/gohalo/topology"
	"github.com/notargets/gohalo/types"
	"github.com/notargets/gohalo/utils"
)

// Strips is an Nx by Ny grid cut into vertical strips of whole columns, one
// per domain. Global point id is x*Ny+y.
//
// Local point order within a domain: owned columns, then the left ghost
// columns, then the right ghost columns, each column by column in y. Ghost
// columns do not wrap around the grid.
type Strips struct {
	Nx, Ny      int
	GhostLayers int
	Columns     *utils.PartitionMap // Owned columns per domain

	Decomposition topology.Decomposition
	Colors        []topology.Colors
	LocalToGlobal [][]int
	Owned         []int // Owned points per domain, they lead the local order
}

// NewStripDecomposition cuts the grid into ndomains strips with ghostLayers
// ghost columns on each interior side and ncolors column blocks per strip.
// Zero ghost layers keeps the neighbour pairs with empty index maps.
func NewStripDecomposition(nx, ny, ndomains, ghostLayers, ncolors int) (s *Strips, err error) {
	const op = "partition.NewStripDecomposition"
	switch {
	case nx <= 0 || ny <= 0:
		return nil, types.Errorf(types.ConfigMismatch, op, "grid %dx%d is empty", nx, ny)
	case ndomains <= 0 || ndomains > nx:
		return nil, types.Errorf(types.ConfigMismatch, op, "%d domains for %d columns", ndomains, nx)
	case ghostLayers < 0:
		return nil, types.Errorf(types.ConfigMismatch, op, "negative ghost layers %d", ghostLayers)
	case ncolors <= 0:
		return nil, types.Errorf(types.ConfigMismatch, op, "need at least one colour, have %d", ncolors)
	}
	s = &Strips{
		Nx:            nx,
		Ny:            ny,
		GhostLayers:   ghostLayers,
		Columns:       utils.NewPartitionMap(ndomains, nx),
		Decomposition: make(topology.Decomposition, ndomains),
		Colors:        make([]topology.Colors, ndomains),
		LocalToGlobal: make([][]int, ndomains),
		Owned:         make([]int, ndomains),
	}
	if ndomains > 1 && s.Columns.MinBucketDimension() < ghostLayers {
		return nil, types.Errorf(types.ConfigMismatch, op,
			"strips of %d columns cannot feed %d ghost layers", s.Columns.MinBucketDimension(), ghostLayers)
	}
	for d := 0; d < ndomains; d++ {
		s.build(d, ncolors)
	}
	if err = s.Decomposition.Validate(); err != nil {
		return nil, err
	}
	return
}

func (s *Strips) build(d, ncolors int) {
	var (
		x0, x1  = s.Columns.GetBucketRange(d)
		width   = x1 - x0
		g       = s.GhostLayers
		last    = s.Columns.ParallelDegree - 1
		l2g     []int
		colors  topology.Colors
		desc    = topology.Descriptor{Rank: types.Rank(d)}
		columns = func(xa, xb int) (local []int) {
			for x := xa; x < xb; x++ {
				for y := 0; y < s.Ny; y++ {
					local = append(local, s.localOf(d, x, y))
				}
			}
			return
		}
	)
	for lx := 0; lx < width; lx++ {
		x := s.Columns.GetGlobalIndex(lx, d)
		for y := 0; y < s.Ny; y++ {
			l2g = append(l2g, x*s.Ny+y)
			colors = append(colors, lx*ncolors/width)
		}
	}
	s.Owned[d] = len(l2g)
	if d > 0 {
		for x := x0 - g; x < x0; x++ {
			for y := 0; y < s.Ny; y++ {
				l2g = append(l2g, x*s.Ny+y)
				colors = append(colors, 0)
			}
		}
	}
	if d < last {
		for x := x1; x < x1+g; x++ {
			for y := 0; y < s.Ny; y++ {
				l2g = append(l2g, x*s.Ny+y)
				colors = append(colors, 0)
			}
		}
	}
	s.LocalToGlobal[d] = l2g
	s.Colors[d] = colors

	desc.NPoints = len(l2g)
	if d > 0 {
		desc.Partners = append(desc.Partners, types.Rank(d-1))
		desc.SendIndex = append(desc.SendIndex, columns(x0, x0+g))
		desc.RecvIndex = append(desc.RecvIndex, columns(x0-g, x0))
	}
	if d < last {
		desc.Partners = append(desc.Partners, types.Rank(d+1))
		desc.SendIndex = append(desc.SendIndex, columns(x1-g, x1))
		desc.RecvIndex = append(desc.RecvIndex, columns(x1, x1+g))
	}
	s.Decomposition[d] = desc
}

// localOf is the local index of global column x, row y in domain d; the
// column must be owned by d or one of its ghost columns.
func (s *Strips) localOf(d, x, y int) int {
	var (
		x0, x1 = s.Columns.GetBucketRange(d)
		g      = s.GhostLayers
	)
	switch {
	case x >= x0 && x < x1:
		lx, _, _ := s.Columns.GetLocalIndex(x)
		return lx*s.Ny + y
	case x < x0:
		return s.Owned[d] + (x-(x0-g))*s.Ny + y
	}
	left := 0
	if d > 0 {
		left = g * s.Ny
	}
	return s.Owned[d] + left + (x-x1)*s.Ny + y
}

// Owner is the domain that owns global point gid, -1 outside the grid
func (s *Strips) Owner(gid int) int {
	if gid < 0 || gid >= s.Nx*s.Ny {
		return -1
	}
	d, _, _ := s.Columns.GetBucket(gid / s.Ny)
	return d
}

// Domains is the number of strips
func (s *Strips) Domains() int { return len(s.Decomposition) }

// Topology derives the communication topology of domain d
func (s *Strips) Topology(d, stride int) (*topology.CommTopology, error) {
	return topology.New(s.Decomposition, types.Rank(d), stride, s.Colors[d])
}

// Stats summarizes the decomposition quality, the way the mesh partitioner
// reports it: load per domain and interface size per domain pair.
type Stats struct {
	Domains        int
	MinOwned       int
	MaxOwned       int
	Imbalance      float64 // Max over average owned points
	GhostPoints    int
	InterfacePairs map[[2]int]int // Points sent across each pair, lower rank first
}

func (s *Strips) Stats() (st Stats) {
	st = Stats{
		Domains:        s.Domains(),
		MinOwned:       s.Nx * s.Ny,
		InterfacePairs: make(map[[2]int]int),
	}
	total := 0
	for d, desc := range s.Decomposition {
		owned := s.Owned[d]
		total += owned
		st.MinOwned = min(st.MinOwned, owned)
		st.MaxOwned = max(st.MaxOwned, owned)
		st.GhostPoints += desc.NPoints - owned
		for i, p := range desc.Partners {
			a, b := d, int(p)
			if a > b {
				a, b = b, a
			}
			st.InterfacePairs[[2]int{a, b}] += len(desc.SendIndex[i])
		}
	}
	if total > 0 {
		st.Imbalance = float64(st.MaxOwned) * float64(st.Domains) / float64(total)
	}
	return
}

func (st Stats) String() string {
	return fmt.Sprintf("%d domains, owned points %d..%d (imbalance %.3f), %d ghost points, %d interfaces",
		st.Domains, st.MinOwned, st.MaxOwned, st.Imbalance, st.GhostPoints, len(st.InterfacePairs))
}

// Report logs the decomposition statistics
func (s *Strips) Report(log *zap.Logger) {
	st := s.Stats()
	log.Info("partition quality",
		zap.Int("nx", s.Nx),
		zap.Int("ny", s.Ny),
		zap.Int("domains", st.Domains),
		zap.Int("minOwned", st.MinOwned),
		zap.Int("maxOwned", st.MaxOwned),
		zap.Float64("imbalance", st.Imbalance),
		zap.Int("ghostPoints", st.GhostPoints))
	for pair, n := range st.InterfacePairs {
		log.Debug("interface", zap.Ints("pair", pair[:]), zap.Int("points", n))
	}
}
