// Package exchange implements the halo exchange protocol variants. Every
// variant moves the same bytes; they differ in how communication overlaps
// with the thread team's compute.
package exchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/notargets/gohalo/topology"
)

// Variant selects the exchange protocol
type Variant uint8

const (
	TwoSidedBulkSync Variant = iota
	TwoSidedEarlyRecv
	TwoSidedAsyncPipelined
	OneSidedFenceSync
	OneSidedActiveTarget
	OneSidedNotify
)

// AllVariants in their conventional reporting order
var AllVariants = []Variant{
	TwoSidedBulkSync,
	TwoSidedEarlyRecv,
	TwoSidedAsyncPipelined,
	OneSidedFenceSync,
	OneSidedActiveTarget,
	OneSidedNotify,
}

var variantNames = map[Variant]string{
	TwoSidedBulkSync:       "TwoSidedBulkSync",
	TwoSidedEarlyRecv:      "TwoSidedEarlyRecv",
	TwoSidedAsyncPipelined: "TwoSidedAsyncPipelined",
	OneSidedFenceSync:      "OneSidedFenceSync",
	OneSidedActiveTarget:   "OneSidedActiveTarget",
	OneSidedNotify:         "OneSidedNotify",
}

func (v Variant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return fmt.Sprintf("Variant(%d)", uint8(v))
}

// ParseVariant accepts the variant name, case insensitive
func ParseVariant(s string) (Variant, error) {
	for v, name := range variantNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown exchange variant %q", s)
}

// OneSided is true for the variants that write into exposed partner memory
func (v Variant) OneSided() bool {
	return v >= OneSidedFenceSync
}

// ExposedSegments is the number of exposed regions the variant requires
func (v Variant) ExposedSegments() int {
	if v.OneSided() {
		return 4
	}
	return 0
}

// Exchanger is the uniform per-domain entry point of every variant.
//
// Every member of the domain's thread team calls ColorDone for the colours it
// computed and then Exchange, with its own tid. Exactly one member issues the
// transport calls; the others wait at the team barrier around it.
type Exchanger interface {
	Variant() Variant
	Topology() *topology.CommTopology
	// Prime runs once before the team enters the first round, from a single
	// goroutine. Variants that post early receives or open epochs ahead of
	// compute do so here; the others ignore it.
	Prime() error
	// ColorDone reports that the calling thread finished colour c of the
	// current round. Pipelined variants issue partner sends from here.
	ColorDone(tid, color int, field []float64) error
	// Exchange completes the round: remote boundary values are unpacked into
	// field when it returns. final marks the last round of a sequence.
	Exchange(tid int, field []float64, final bool) (time.Duration, error)
	// Rounds is the number of completed rounds
	Rounds() uint64
	// Close releases the exposed regions and the partner group. One-sided
	// variants free their window collectively, so every rank must call it.
	Close() error
}
