package buffer

import (
	"encoding/binary"
	"math"

	"github.com/notargets/gohalo/topology"
	"github.com/notargets/gohalo/types"
)

// EncodeFloat64s writes src into dst as little endian IEEE-754 values
func EncodeFloat64s(dst []byte, src []float64) {
	for k, v := range src {
		binary.LittleEndian.PutUint64(dst[k*types.Float64Size:], math.Float64bits(v))
	}
}

// DecodeFloat64s reads len(dst) values from src
func DecodeFloat64s(dst []float64, src []byte) {
	for k := range dst {
		dst[k] = math.Float64frombits(binary.LittleEndian.Uint64(src[k*types.Float64Size:]))
	}
}

func checkStride(ct *topology.CommTopology, stride int, op string) error {
	if stride != ct.Stride {
		return types.Errorf(types.ConfigMismatch, op,
			"stride %d, topology declared %d", stride, ct.Stride).WithRank(ct.Rank)
	}
	return nil
}

func pointSpan(field []float64, pt, stride int) ([]float64, bool) {
	lo, hi := pt*stride, (pt+1)*stride
	if lo < 0 || hi > len(field) {
		return nil, false
	}
	return field[lo:hi], true
}

// Pack gathers the send points of partner i from field into dst at the
// partner's local send offset. Nothing is touched when the count is zero.
func Pack(ct *topology.CommTopology, i int, field []float64, stride int, dst *Region) error {
	const op = "buffer.Pack"
	count := ct.SendCount[i]
	if count == 0 {
		return nil
	}
	if err := checkStride(ct, stride, op); err != nil {
		return err
	}
	view, err := dst.View(ct.LocalSendOffset[i], types.PayloadBytes(count, stride))
	if err != nil {
		return types.Wrap(types.ProtocolViolation, op, err).WithRank(ct.Rank).WithPartner(ct.Partners[i])
	}
	width := stride * types.Float64Size
	for j, pt := range ct.SendIndex[i] {
		src, ok := pointSpan(field, pt, stride)
		if !ok {
			return types.Errorf(types.ProtocolViolation, op,
				"send point %d beyond field of %d values", pt, len(field)).WithRank(ct.Rank).WithPartner(ct.Partners[i])
		}
		EncodeFloat64s(view[j*width:], src)
	}
	return nil
}

// Unpack scatters the message received from partner i, found in src at the
// partner's local receive offset, into the ghost points of field.
func Unpack(ct *topology.CommTopology, i int, field []float64, stride int, src *Region) error {
	const op = "buffer.Unpack"
	count := ct.RecvCount[i]
	if count == 0 {
		return nil
	}
	if err := checkStride(ct, stride, op); err != nil {
		return err
	}
	view, err := src.View(ct.LocalRecvOffset[i], types.PayloadBytes(count, stride))
	if err != nil {
		return types.Wrap(types.ProtocolViolation, op, err).WithRank(ct.Rank).WithPartner(ct.Partners[i])
	}
	width := stride * types.Float64Size
	for j, pt := range ct.RecvIndex[i] {
		dst, ok := pointSpan(field, pt, stride)
		if !ok {
			return types.Errorf(types.ProtocolViolation, op,
				"ghost point %d beyond field of %d values", pt, len(field)).WithRank(ct.Rank).WithPartner(ct.Partners[i])
		}
		DecodeFloat64s(dst, view[j*width:])
	}
	return nil
}

// PackAll assembles the send slot for every partner
func PackAll(ct *topology.CommTopology, field []float64, stride int, dst *Region) error {
	for i := range ct.Partners {
		if err := Pack(ct, i, field, stride, dst); err != nil {
			return err
		}
	}
	return nil
}

// UnpackAll scatters every partner's message from the receive slot
func UnpackAll(ct *topology.CommTopology, field []float64, stride int, src *Region) error {
	for i := range ct.Partners {
		if err := Unpack(ct, i, field, stride, src); err != nil {
			return err
		}
	}
	return nil
}
