// ABOUTME: Sample type enum and the fixed-width per-type sample codec used by sample pages

package metricstore

import (
	"encoding/binary"
	"math"
)

// SampleType enumerates the five wire types from spec.md §3. Float32 is
// the default; the integer types are reserved for future producers, per
// SPEC_FULL.md §C.2.
type SampleType byte

const (
	TypeF32 SampleType = 1
	TypeF64 SampleType = 2
	TypeI8  SampleType = 3
	TypeI16 SampleType = 4
	TypeI32 SampleType = 5
)

// Size returns the on-page width in bytes of one sample slot.
func (t SampleType) Size() int {
	switch t {
	case TypeF32:
		return 4
	case TypeF64:
		return 8
	case TypeI8:
		return 1
	case TypeI16:
		return 2
	case TypeI32:
		return 4
	default:
		return 0
	}
}

func (t SampleType) Valid() bool {
	return t >= TypeF32 && t <= TypeI32
}

// missingBits returns the bit pattern for an unwritten slot: NaN for the
// float types (spec.md §3, "future slots (NaN)"), and a reserved
// sentinel for the integer types since they have no NaN.
func (t SampleType) missingBits() uint64 {
	switch t {
	case TypeF32:
		return uint64(math.Float32bits(float32(math.NaN())))
	case TypeF64:
		return math.Float64bits(math.NaN())
	case TypeI8:
		return 1 << 7 // bit pattern of math.MinInt8
	case TypeI16:
		return 1 << 15 // bit pattern of math.MinInt16
	case TypeI32:
		return 1 << 31 // bit pattern of math.MinInt32
	default:
		return 0
	}
}

// encodeValue writes v (always carried as float64 in the in-memory API)
// into buf at the slot for this type.
func (t SampleType) encodeValue(buf []byte, v float64) {
	switch t {
	case TypeF32:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
	case TypeF64:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	case TypeI8:
		buf[0] = byte(int8(v))
	case TypeI16:
		binary.LittleEndian.PutUint16(buf, uint16(int16(v)))
	case TypeI32:
		binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
	}
}

func (t SampleType) decodeValue(buf []byte) float64 {
	switch t {
	case TypeF32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	case TypeF64:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf))
	case TypeI8:
		return float64(int8(buf[0]))
	case TypeI16:
		return float64(int16(binary.LittleEndian.Uint16(buf)))
	case TypeI32:
		return float64(int32(binary.LittleEndian.Uint32(buf)))
	default:
		return 0
	}
}

func (t SampleType) writeMissing(buf []byte) {
	switch t.Size() {
	case 1:
		buf[0] = byte(t.missingBits())
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(t.missingBits()))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(t.missingBits()))
	case 8:
		binary.LittleEndian.PutUint64(buf, t.missingBits())
	}
}

func (t SampleType) isMissing(buf []byte) bool {
	switch t {
	case TypeF32:
		return math.IsNaN(float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))))
	case TypeF64:
		return math.IsNaN(math.Float64frombits(binary.LittleEndian.Uint64(buf)))
	default:
		return t.decodeValue(buf) == t.decodeValue(sentinelBuf(t))
	}
}

func sentinelBuf(t SampleType) []byte {
	b := make([]byte, t.Size())
	t.writeMissing(b)
	return b
}

// sameValue reports whether two encodings of this type represent
// bitwise-equal values (or both missing), per spec.md §4.5's duplicate
// rule: "bitwise equal, or both NaN".
func (t SampleType) sameValue(a, b []byte) bool {
	am, bm := t.isMissing(a), t.isMissing(b)
	if am || bm {
		return am == bm
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
