package fabric

import (
	"sync"

	"github.com/notargets/gohalo/types"
)

// notifyTable holds the notification flags of one exposed segment. A single
// goroutine of the owning rank waits on it.
type notifyTable struct {
	mu     sync.Mutex
	vals   []types.NotificationValue
	signal chan struct{}
}

func newNotifyTable(n int) *notifyTable {
	return &notifyTable{
		vals:   make([]types.NotificationValue, n),
		signal: make(chan struct{}, 1),
	}
}

func (nt *notifyTable) raise(id types.NotificationID, val types.NotificationValue) bool {
	nt.mu.Lock()
	if int(id) >= len(nt.vals) {
		nt.mu.Unlock()
		return false
	}
	nt.vals[id] = val
	nt.mu.Unlock()
	select {
	case nt.signal <- struct{}{}:
	default:
	}
	return true
}

func (nt *notifyTable) first(lo, n int) (types.NotificationID, bool) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	for id := lo; id < lo+n && id < len(nt.vals); id++ {
		if nt.vals[id] != 0 {
			return types.NotificationID(id), true
		}
	}
	return 0, false
}

// WriteNotify copies size bytes from this rank's segment src at srcOff into
// target's segment dst at dstOff, then raises notification id with val on the
// target segment. The data is visible to the target once it observes the flag.
func (win *Window) WriteNotify(src types.SegmentID, srcOff types.Offset, target types.Rank,
	dst types.SegmentID, dstOff types.Offset, size int,
	id types.NotificationID, val types.NotificationValue) error {
	const op = "fabric.WriteNotify"
	if val == 0 {
		return types.Errorf(types.ProtocolViolation, op, "notification value must be non-zero").WithRank(win.rank)
	}
	local, err := win.Segment(src)
	if err != nil {
		return err
	}
	data, err := local.View(srcOff, size)
	if err != nil {
		return types.Wrap(types.ProtocolViolation, op, err).WithRank(win.rank).WithPartner(target)
	}
	if err = win.Put(target, dst, dstOff, data); err != nil {
		return err
	}
	if !win.w.notes[target][dst].raise(id, val) {
		return types.Errorf(types.ProtocolViolation, op,
			"notification id %d outside target table", id).WithRank(win.rank).WithPartner(target)
	}
	return nil
}

// NotifyWaitSome blocks until any notification in [first, first+num) on this
// rank's segment is raised and returns its id. The flag stays raised.
func (win *Window) NotifyWaitSome(seg types.SegmentID, first types.NotificationID, num int) (types.NotificationID, error) {
	const op = "fabric.NotifyWaitSome"
	if int(seg) >= win.w.nsegs {
		return 0, types.Errorf(types.ProtocolViolation, op, "segment %s outside window", seg).WithRank(win.rank)
	}
	nt := win.w.notes[win.rank][seg]
	if num <= 0 || int(first)+num > len(nt.vals) {
		return 0, types.Errorf(types.ProtocolViolation, op,
			"range [%d,%d) outside table of %d", first, int(first)+num, len(nt.vals)).WithRank(win.rank)
	}
	for {
		if id, ok := nt.first(int(first), num); ok {
			return id, nil
		}
		select {
		case <-nt.signal:
		case <-win.world.abort:
			return 0, win.world.aborted(op, nil)
		}
	}
}

// NotifyTestSome is the non-blocking NotifyWaitSome: it reports the first
// raised notification in [first, first+num) without waiting or clearing it.
func (win *Window) NotifyTestSome(seg types.SegmentID, first types.NotificationID, num int) (types.NotificationID, bool, error) {
	const op = "fabric.NotifyTestSome"
	if int(seg) >= win.w.nsegs {
		return 0, false, types.Errorf(types.ProtocolViolation, op, "segment %s outside window", seg).WithRank(win.rank)
	}
	nt := win.w.notes[win.rank][seg]
	if num < 0 || int(first)+num > len(nt.vals) {
		return 0, false, types.Errorf(types.ProtocolViolation, op,
			"range [%d,%d) outside table of %d", first, int(first)+num, len(nt.vals)).WithRank(win.rank)
	}
	id, ok := nt.first(int(first), num)
	return id, ok, nil
}

// NotifyReset clears a notification and returns the value it held
func (win *Window) NotifyReset(seg types.SegmentID, id types.NotificationID) (types.NotificationValue, error) {
	const op = "fabric.NotifyReset"
	if int(seg) >= win.w.nsegs {
		return 0, types.Errorf(types.ProtocolViolation, op, "segment %s outside window", seg).WithRank(win.rank)
	}
	nt := win.w.notes[win.rank][seg]
	nt.mu.Lock()
	defer nt.mu.Unlock()
	if int(id) >= len(nt.vals) {
		return 0, types.Errorf(types.ProtocolViolation, op, "notification %s/%d outside table", seg, id).WithRank(win.rank)
	}
	old := nt.vals[id]
	nt.vals[id] = 0
	return old, nil
}
