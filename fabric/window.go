package fabric

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/notargets/gohalo/buffer"
	"github.com/notargets/gohalo/team"
	"github.com/notargets/gohalo/types"
)

// FenceAssert carries the epoch hints of a fence. They document intent, the
// in-process fence always synchronizes fully.
type FenceAssert uint8

const (
	FenceNoPrecede FenceAssert = 1 << iota // No epoch is closed by this fence
	FenceNoSucceed                         // No epoch is opened by this fence
	FenceNoStore                           // Local window memory was not stored to
)

// window is the state shared by all ranks of a collectively created window
type window struct {
	name     string
	size     int
	nsegs    int
	segs     [][]*buffer.Region // [rank][segment]
	notes    [][]*notifyTable   // [rank][segment]
	posts    [][]chan struct{}  // posts[target][origin]: exposure granted
	dones    [][]chan struct{}  // dones[origin][target]: access epoch finished
	fence    *team.Barrier
	ready    *team.Barrier
	mu       sync.Mutex
	attached int
}

// Window is one rank's handle on a window. Like an endpoint, it is driven by a
// single goroutine of its rank at a time.
type Window struct {
	world *World
	w     *window
	rank  types.Rank

	access   []types.Rank // Targets of the open access epoch
	exposure []types.Rank // Origins of the open exposure epoch
	freed    bool
}

// WindowSpec describes the regions one rank exposes
type WindowSpec struct {
	Name          string
	SegmentSizes  []int // One exposed region per entry, indexed by SegmentID
	Notifications int   // Notification slots per segment of this rank
}

// AllocateWindow collectively creates a window. Every rank calls it with the
// same name and segment count; sizes may differ per rank. It returns once all
// ranks have attached their regions.
func (wd *World) AllocateWindow(rank types.Rank, spec WindowSpec) (*Window, error) {
	const op = "fabric.AllocateWindow"
	if err := wd.checkRank(op, rank); err != nil {
		return nil, err
	}
	wd.mu.Lock()
	sw, exists := wd.windows[spec.Name]
	if !exists {
		sw = newWindow(spec, wd.size)
		sw.fence = team.NewBarrier(wd.size)
		sw.ready = team.NewBarrier(wd.size)
		wd.barriers = append(wd.barriers, sw.fence, sw.ready)
		if wd.abortErr != nil {
			sw.fence.Break(wd.abortErr)
			sw.ready.Break(wd.abortErr)
		}
		wd.windows[spec.Name] = sw
	}
	wd.mu.Unlock()

	if len(spec.SegmentSizes) != sw.nsegs {
		return nil, types.Errorf(types.ConfigMismatch, op,
			"window %s: rank %d declares %d segments, window has %d",
			spec.Name, rank, len(spec.SegmentSizes), sw.nsegs).WithRank(rank)
	}
	if spec.Notifications < 0 {
		return nil, types.Errorf(types.ConfigMismatch, op, "negative notification count").WithRank(rank)
	}
	regions := make([]*buffer.Region, sw.nsegs)
	notes := make([]*notifyTable, sw.nsegs)
	for s, sz := range spec.SegmentSizes {
		var err error
		name := fmt.Sprintf("%s/%d/%s", spec.Name, rank, types.SegmentID(s))
		if regions[s], err = buffer.NewRegion(name, sz); err != nil {
			return nil, types.Wrap(types.ResourceExhausted, op, err).WithRank(rank)
		}
		notes[s] = newNotifyTable(spec.Notifications)
	}
	sw.mu.Lock()
	if sw.segs[rank] != nil {
		sw.mu.Unlock()
		return nil, types.Errorf(types.ConfigMismatch, op, "window %s already attached", spec.Name).WithRank(rank)
	}
	sw.segs[rank], sw.notes[rank] = regions, notes
	sw.attached++
	sw.mu.Unlock()

	if err := sw.ready.Wait(); err != nil {
		return nil, wd.aborted(op, err)
	}
	wd.log.Debug("window attached", zap.String("window", spec.Name), zap.Int("rank", int(rank)),
		zap.Ints("segments", spec.SegmentSizes))
	return &Window{world: wd, w: sw, rank: rank}, nil
}

func newWindow(spec WindowSpec, size int) *window {
	sw := &window{
		name:  spec.Name,
		size:  size,
		nsegs: len(spec.SegmentSizes),
		segs:  make([][]*buffer.Region, size),
		notes: make([][]*notifyTable, size),
		posts: make([][]chan struct{}, size),
		dones: make([][]chan struct{}, size),
	}
	for a := 0; a < size; a++ {
		sw.posts[a] = make([]chan struct{}, size)
		sw.dones[a] = make([]chan struct{}, size)
		for b := 0; b < size; b++ {
			sw.posts[a][b] = make(chan struct{}, 2)
			sw.dones[a][b] = make(chan struct{}, 2)
		}
	}
	return sw
}

func (win *Window) Rank() types.Rank { return win.rank }

// Segments is the number of exposed regions per rank
func (win *Window) Segments() int { return win.w.nsegs }

// Segment returns this rank's exposed region
func (win *Window) Segment(id types.SegmentID) (*buffer.Region, error) {
	if int(id) >= win.w.nsegs {
		return nil, types.Errorf(types.ProtocolViolation, "fabric.Segment",
			"segment %s outside window of %d", id, win.w.nsegs).WithRank(win.rank)
	}
	return win.w.segs[win.rank][id], nil
}

func (win *Window) remote(op string, target types.Rank, id types.SegmentID) (*buffer.Region, error) {
	if err := win.world.checkRank(op, target); err != nil {
		return nil, err
	}
	if int(id) >= win.w.nsegs {
		return nil, types.Errorf(types.ProtocolViolation, op,
			"segment %s outside window of %d", id, win.w.nsegs).WithRank(win.rank).WithPartner(target)
	}
	return win.w.segs[target][id], nil
}

// Put writes data into target's segment at off. Visibility at the target is
// only guaranteed after the epoch that contains the put is closed.
func (win *Window) Put(target types.Rank, id types.SegmentID, off types.Offset, data []byte) error {
	const op = "fabric.Put"
	if win.freed {
		return types.Errorf(types.ProtocolViolation, op, "window %s freed", win.w.name).WithRank(win.rank)
	}
	if err := win.world.Err(); err != nil {
		return win.world.aborted(op, err)
	}
	if len(data) == 0 {
		return nil
	}
	region, err := win.remote(op, target, id)
	if err != nil {
		return err
	}
	dst, err := region.View(off, len(data))
	if err != nil {
		return types.Wrap(types.ProtocolViolation, op, err).WithRank(win.rank).WithPartner(target)
	}
	copy(dst, data)
	return nil
}

// Fence is the collective synchronization over every rank of the window. It
// closes the previous epoch, all puts before it are visible after it.
func (win *Window) Fence(assert FenceAssert) error {
	if err := win.w.fence.Wait(); err != nil {
		return win.world.aborted("fabric.Fence", err)
	}
	return nil
}

// Post opens an exposure epoch for the given origins
func (win *Window) Post(group []types.Rank) error {
	const op = "fabric.Post"
	if win.exposure != nil {
		return types.Errorf(types.ProtocolViolation, op, "exposure epoch already open").WithRank(win.rank)
	}
	for _, origin := range group {
		if err := win.world.checkRank(op, origin); err != nil {
			return err
		}
		select {
		case win.w.posts[win.rank][origin] <- struct{}{}:
		case <-win.world.abort:
			return win.world.aborted(op, nil)
		}
	}
	win.exposure = append([]types.Rank{}, group...)
	return nil
}

// Start opens an access epoch to the given targets, blocking until each has
// posted a matching exposure epoch.
func (win *Window) Start(group []types.Rank) error {
	const op = "fabric.Start"
	if win.access != nil {
		return types.Errorf(types.ProtocolViolation, op, "access epoch already open").WithRank(win.rank)
	}
	for _, target := range group {
		if err := win.world.checkRank(op, target); err != nil {
			return err
		}
		select {
		case <-win.w.posts[target][win.rank]:
		case <-win.world.abort:
			return win.world.aborted(op, nil)
		}
	}
	win.access = append([]types.Rank{}, group...)
	return nil
}

// Complete closes the access epoch; puts issued in it are done at the origin
func (win *Window) Complete() error {
	const op = "fabric.Complete"
	if win.access == nil {
		return types.Errorf(types.ProtocolViolation, op, "no access epoch open").WithRank(win.rank)
	}
	for _, target := range win.access {
		select {
		case win.w.dones[win.rank][target] <- struct{}{}:
		case <-win.world.abort:
			return win.world.aborted(op, nil)
		}
	}
	win.access = nil
	return nil
}

// Wait closes the exposure epoch, blocking until every origin has completed.
// All puts into this rank's regions are then visible.
func (win *Window) Wait() error {
	const op = "fabric.Wait"
	if win.exposure == nil {
		return types.Errorf(types.ProtocolViolation, op, "no exposure epoch open").WithRank(win.rank)
	}
	for _, origin := range win.exposure {
		select {
		case <-win.w.dones[origin][win.rank]:
		case <-win.world.abort:
			return win.world.aborted(op, nil)
		}
	}
	win.exposure = nil
	return nil
}

// Free collectively releases the window. Regions of this rank are released
// even when the closing barrier fails.
func (win *Window) Free() (err error) {
	if win.freed {
		return nil
	}
	win.freed = true
	if win.access != nil || win.exposure != nil {
		err = multierr.Append(err, types.Errorf(types.ProtocolViolation, "fabric.Free",
			"window %s freed with an open epoch", win.w.name).WithRank(win.rank))
	}
	if berr := win.w.fence.Wait(); berr != nil {
		err = multierr.Append(err, win.world.aborted("fabric.Free", berr))
	}
	win.w.mu.Lock()
	for _, r := range win.w.segs[win.rank] {
		r.Release()
	}
	win.w.attached--
	last := win.w.attached == 0
	win.w.mu.Unlock()
	if last {
		win.world.mu.Lock()
		delete(win.world.windows, win.w.name)
		win.world.mu.Unlock()
	}
	return
}
