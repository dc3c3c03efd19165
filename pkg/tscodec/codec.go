// ABOUTME: Gorilla-style delta-of-delta time coding and XOR/leading-zero value coding
// ABOUTME: Reserved for the compressed sample-page variant described in spec.md §4.6

package tscodec

import "math"

// bucketBits implements the prefix-selected bit-width
// buckets from spec.md §4.6: "(10, 110, 1110, 11110) selecting a fixed
// bit-width bucket (7, 9, 12, 32 bits)".
var bucketBits = [4]int{7, 9, 12, 32}

// Sample is one (time, value) pair in the stream.
type Sample struct {
	Time  int64
	Value float64
}

// Encoder appends samples to a bit stream, maintaining the per-stream
// state spec.md §4.6 calls for: last (time, value), last time-delta,
// and the leading/trailing-zero window reused by XOR coding.
type Encoder struct {
	w *BitWriter

	started  bool
	lastTime int64
	lastVal  uint64
	lastDelta int64

	lastLeading    uint8
	lastMeaningful uint8
	haveWindow     bool
}

func NewEncoder() *Encoder {
	return &Encoder{w: NewBitWriter()}
}

func (e *Encoder) Bytes() []byte { return e.w.Bytes() }

func (e *Encoder) Append(t int64, v float64) {
	bits := math.Float64bits(v)
	if !e.started {
		e.w.WriteBits(uint64(t), 64)
		e.w.WriteBits(bits, 64)
		e.started = true
		e.lastTime = t
		e.lastVal = bits
		return
	}
	e.encodeTime(t)
	e.encodeValue(bits)
	e.lastTime = t
	e.lastVal = bits
}

func (e *Encoder) encodeTime(t int64) {
	delta := t - e.lastTime
	dod := delta - e.lastDelta
	e.lastDelta = delta

	if dod == 0 {
		e.w.WriteBit(0)
		return
	}
	mag := dod
	if mag < 0 {
		mag = -mag
	}
	switch {
	case fitsSigned(mag, bucketBits[0]):
		e.w.WriteBits(0b10, 2)
		e.w.WriteBits(uint64(dod)&mask(bucketBits[0]), bucketBits[0])
	case fitsSigned(mag, bucketBits[1]):
		e.w.WriteBits(0b110, 3)
		e.w.WriteBits(uint64(dod)&mask(bucketBits[1]), bucketBits[1])
	case fitsSigned(mag, bucketBits[2]):
		e.w.WriteBits(0b1110, 4)
		e.w.WriteBits(uint64(dod)&mask(bucketBits[2]), bucketBits[2])
	default:
		e.w.WriteBits(0b11110, 5)
		e.w.WriteBits(uint64(dod)&mask(bucketBits[3]), bucketBits[3])
	}
}

func fitsSigned(mag int64, nbits int) bool {
	return mag < (int64(1) << uint(nbits-1))
}

func mask(nbits int) uint64 {
	if nbits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(nbits)) - 1
}

func (e *Encoder) encodeValue(bits uint64) {
	x := bits ^ e.lastVal
	if x == 0 {
		e.w.WriteBit(0)
		return
	}
	e.w.WriteBit(1)

	leading := uint8(leadingZeros64(x))
	if leading > 31 {
		leading = 31 // the leading-zero count is stored in 5 bits
	}
	trailing := uint8(trailingZeros64(x))
	meaningful := uint8(64) - leading - trailing

	if e.haveWindow && leading >= e.lastLeading && meaningful <= e.lastMeaningful &&
		(64-e.lastLeading-e.lastMeaningful) <= trailing {
		e.w.WriteBit(0)
		shift := 64 - e.lastLeading - e.lastMeaningful
		e.w.WriteBits(x>>shift, int(e.lastMeaningful))
		return
	}

	e.w.WriteBit(1)
	e.w.WriteBits(uint64(leading), 5)
	e.w.WriteBits(uint64(meaningful), 6)
	shift := leading + trailing
	e.w.WriteBits(x>>shift, int(meaningful))
	e.lastLeading = leading
	e.lastMeaningful = meaningful
	e.haveWindow = true
}

func leadingZeros64(x uint64) int {
	n := 0
	for i := 63; i >= 0; i-- {
		if x&(1<<uint(i)) != 0 {
			break
		}
		n++
	}
	return n
}

func trailingZeros64(x uint64) int {
	n := 0
	for i := 0; i < 64; i++ {
		if x&(1<<uint(i)) != 0 {
			break
		}
		n++
	}
	return n
}

// Decoder is the inverse of Encoder, exposing a Next iterator.
type Decoder struct {
	r *BitReader

	started  bool
	lastTime int64
	lastVal  uint64
	lastDelta int64

	lastLeading    uint8
	lastMeaningful uint8
}

func NewDecoder(buf []byte) *Decoder { return &Decoder{r: NewBitReader(buf)} }

// Next returns the next (time, value) pair, or ok=false at end of stream.
func (d *Decoder) Next() (Sample, bool) {
	if !d.started {
		t, ok := d.r.ReadBits(64)
		if !ok {
			return Sample{}, false
		}
		vbits, ok := d.r.ReadBits(64)
		if !ok {
			return Sample{}, false
		}
		d.started = true
		d.lastTime = int64(t)
		d.lastVal = vbits
		return Sample{Time: d.lastTime, Value: math.Float64frombits(vbits)}, true
	}

	dod, ok := d.decodeTimeDod()
	if !ok {
		return Sample{}, false
	}
	d.lastDelta += dod
	d.lastTime += d.lastDelta

	vbits, ok := d.decodeValueXOR()
	if !ok {
		return Sample{}, false
	}
	d.lastVal ^= vbits

	return Sample{Time: d.lastTime, Value: math.Float64frombits(d.lastVal)}, true
}

func (d *Decoder) decodeTimeDod() (int64, bool) {
	b, ok := d.r.ReadBit()
	if !ok {
		return 0, false
	}
	if b == 0 {
		return 0, true
	}
	prefixLen := 1
	for i := 0; i < 4; i++ {
		b, ok = d.r.ReadBit()
		if !ok {
			return 0, false
		}
		prefixLen++
		if b == 0 {
			break
		}
	}
	nbits := bucketBits[prefixLen-2]
	raw, ok := d.r.ReadBits(nbits)
	if !ok {
		return 0, false
	}
	return signExtend(raw, nbits), true
}

func signExtend(raw uint64, nbits int) int64 {
	signBit := uint64(1) << uint(nbits-1)
	if raw&signBit != 0 {
		return int64(raw) - int64(1<<uint(nbits))
	}
	return int64(raw)
}

func (d *Decoder) decodeValueXOR() (uint64, bool) {
	b, ok := d.r.ReadBit()
	if !ok {
		return 0, false
	}
	if b == 0 {
		return 0, true
	}
	newWindow, ok := d.r.ReadBit()
	if !ok {
		return 0, false
	}
	if newWindow == 1 {
		leading, ok := d.r.ReadBits(5)
		if !ok {
			return 0, false
		}
		meaningful, ok := d.r.ReadBits(6)
		if !ok {
			return 0, false
		}
		if meaningful == 0 {
			meaningful = 64 // a 64-bit length wraps to 0 in the 6-bit field
		}
		d.lastLeading = uint8(leading)
		d.lastMeaningful = uint8(meaningful)
	}
	shift := 64 - uint64(d.lastLeading) - uint64(d.lastMeaningful)
	raw, ok := d.r.ReadBits(int(d.lastMeaningful))
	if !ok {
		return 0, false
	}
	return raw << shift, true
}
