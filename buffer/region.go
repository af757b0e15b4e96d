// Package buffer implements the transport buffer model: byte regions with
// bounds checked views, the two slot double buffer and the pack/unpack
// operations that move point data between a field array and a region.
package buffer

import (
	"fmt"

	"github.com/notargets/gohalo/types"
)

// MaxRegionBytes bounds a single allocation. Anything larger is reported as
// ResourceExhausted instead of letting the runtime abort.
var MaxRegionBytes = 1 << 34

// Region is a contiguous byte arena. Access goes through View, which checks
// offset and length against the arena.
type Region struct {
	Name string
	data []byte
}

func NewRegion(name string, size int) (*Region, error) {
	if size < 0 || size > MaxRegionBytes {
		return nil, types.Errorf(types.ResourceExhausted, "buffer.NewRegion",
			"region %s: cannot allocate %d bytes (limit %d)", name, size, MaxRegionBytes)
	}
	return &Region{
		Name: name,
		data: make([]byte, size),
	}, nil
}

func (r *Region) Len() int { return len(r.data) }

// Released reports whether Release has been called
func (r *Region) Released() bool { return r.data == nil }

// View returns the n bytes at off. The returned slice has its capacity capped
// so appends can never spill into a neighbouring partner's range.
func (r *Region) View(off types.Offset, n int) ([]byte, error) {
	if r.data == nil {
		return nil, types.Errorf(types.ProtocolViolation, "buffer.View", "region %s already released", r.Name)
	}
	end := uint64(off) + uint64(n)
	if n < 0 || end < uint64(off) || end > uint64(len(r.data)) {
		return nil, types.Errorf(types.ProtocolViolation, "buffer.View",
			"region %s: view [%d,%d) outside [0,%d)", r.Name, off, end, len(r.data))
	}
	return r.data[off:end:end], nil
}

// Release drops the arena. Further views fail.
func (r *Region) Release() {
	r.data = nil
}

func (r *Region) String() string {
	return fmt.Sprintf("%s[%d]", r.Name, len(r.data))
}

// DoubleBuffer is the pair of alternating regions of one direction. Round N
// uses slot N%2, so round N+1 never touches memory round N is still draining.
type DoubleBuffer [2]*Region

func NewDoubleBuffer(name string, size int) (db DoubleBuffer, err error) {
	for slot := 0; slot < 2; slot++ {
		if db[slot], err = NewRegion(fmt.Sprintf("%s[%d]", name, slot), size); err != nil {
			return DoubleBuffer{}, err
		}
	}
	return
}

// Slot returns the region used in the round with the given stage
func (db DoubleBuffer) Slot(stage uint64) *Region { return db[stage%2] }

func (db DoubleBuffer) Release() {
	for _, r := range db {
		if r != nil {
			r.Release()
		}
	}
}
