package types

// Rank identifies a domain in the world. Every domain is owned by exactly one
// rank and every rank owns exactly one domain.
type Rank int

// NoRank marks an error or record that is not tied to a particular partner
const NoRank Rank = -1

// Offset is a byte offset into a buffer region. The same type addresses local
// pack/unpack positions and the remote position of a one-sided write.
type Offset uint64

// Add returns the offset advanced by n bytes
func (o Offset) Add(n int) Offset { return o + Offset(n) }

// NotificationID tags a notified write. The id a writer raises on a target is
// the writer's position in the target's partner list, so the target maps an
// observed id straight back to its own partner index.
type NotificationID uint32

// NotificationValue is the flag carried by a notification, zero means no
// notification is pending.
type NotificationValue uint32

// NotifyRaised is the only value a well formed notified write carries
const NotifyRaised NotificationValue = 1

// SegmentID names one of the exposed regions of a window
type SegmentID uint8

const (
	SendSlot0 SegmentID = iota
	SendSlot1
	RecvSlot0
	RecvSlot1
)

// OneSidedSegments is the number of exposed regions every one-sided variant
// requires: two send slots and two receive slots.
const OneSidedSegments = 4

// SendSegment returns the exposed send region for a double buffer slot
func SendSegment(slot int) SegmentID { return SegmentID(slot & 1) }

// RecvSegment returns the exposed receive region for a double buffer slot
func RecvSegment(slot int) SegmentID { return SegmentID(2 + slot&1) }

func (s SegmentID) String() string {
	switch s {
	case SendSlot0:
		return "send[0]"
	case SendSlot1:
		return "send[1]"
	case RecvSlot0:
		return "recv[0]"
	case RecvSlot1:
		return "recv[1]"
	}
	return "segment[?]"
}

// Float64Size is the width in bytes of one payload value
const Float64Size = 8

// PayloadBytes is the byte length of count points of stride float64 values
func PayloadBytes(count, stride int) int {
	return count * stride * Float64Size
}
