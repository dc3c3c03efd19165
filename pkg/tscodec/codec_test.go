package tscodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripConstantDeltas(t *testing.T) {
	enc := NewEncoder()
	samples := []Sample{
		{Time: 1000000000, Value: 1.0},
		{Time: 1000000060, Value: 2.0},
		{Time: 1000000120, Value: 3.0},
	}
	for _, s := range samples {
		enc.Append(s.Time, s.Value)
	}

	dec := NewDecoder(enc.Bytes())
	for _, want := range samples {
		got, ok := dec.Next()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, ok := dec.Next()
	require.False(t, ok)
}

func TestRoundTripIrregularDeltasAndValues(t *testing.T) {
	enc := NewEncoder()
	samples := []Sample{
		{Time: 5000, Value: 3.25},
		{Time: 5060, Value: 3.25},
		{Time: 5130, Value: -17.5},
		{Time: 5131, Value: 0},
		{Time: 6000000, Value: 1e10},
	}
	for _, s := range samples {
		enc.Append(s.Time, s.Value)
	}

	dec := NewDecoder(enc.Bytes())
	for _, want := range samples {
		got, ok := dec.Next()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestBitWriterReaderRoundTrip(t *testing.T) {
	w := NewBitWriter()
	w.WriteBits(0b10110, 5)
	w.WriteBits(0xFF, 8)
	w.WriteBit(1)

	r := NewBitReader(w.Bytes())
	v, ok := r.ReadBits(5)
	require.True(t, ok)
	require.Equal(t, uint64(0b10110), v)
	v, ok = r.ReadBits(8)
	require.True(t, ok)
	require.Equal(t, uint64(0xFF), v)
	b, ok := r.ReadBit()
	require.True(t, ok)
	require.Equal(t, byte(1), b)
}
