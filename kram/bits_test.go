package kram

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetSetBitsRoundTrip(t *testing.T) {
	for bitIdx := uint(0); bitIdx < 60; bitIdx += 7 {
		for n := uint(1); n <= 4; n++ {
			v := uint64(1)<<n - 1 // all-ones value that fits in n bits
			base := uint64(0xAAAAAAAAAAAAAAAA)
			packed := setBits(base, bitIdx, n, v)
			require.Equal(t, v, getBits(packed, bitIdx, n))

			outsideMask := ^((uint64(1)<<n - 1) << bitIdx)
			require.Equal(t, base&outsideMask, packed&outsideMask, "bits outside [%d,%d) must be untouched", bitIdx, bitIdx+n)
		}
	}
}

func TestGetBitsFullByte(t *testing.T) {
	require.Equal(t, uint64(0xAB), getBits(0xAB, 0, 8))
}

func TestByteBufferWriterGrowsAndExtracts(t *testing.T) {
	w := NewByteBufferWriter()
	for i := 0; i < 20000; i++ {
		w.WriteByte(byte(i))
	}
	require.Equal(t, 20000, w.Len())

	out := w.Extract()
	require.Len(t, out, 20000)
	require.Equal(t, 0, w.Len())
	require.Nil(t, w.Bytes())

	for i, b := range out {
		require.Equal(t, byte(i), b)
	}
}

func TestByteBufferWriterWriteFrom(t *testing.T) {
	src := make([]byte, 2000)
	for i := range src {
		src[i] = byte(i)
	}

	w := NewByteBufferWriter()
	w.WriteByte(0xFF)
	n, err := w.WriteFrom(bytes.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, 2000, n)
	require.Equal(t, 2001, w.Len())
	require.Equal(t, src, w.Bytes()[1:])
}

func TestByteBufferWriterTypedWrites(t *testing.T) {
	w := NewByteBufferWriter()
	w.WriteUint16(0x1234)
	w.WriteUint32(0x12345678)
	w.WriteUint64(0x0102030405060708)
	w.WriteFloat32(1.5)
	w.WriteFloat64(2.5)

	out := w.Bytes()
	require.Equal(t, []byte{0x34, 0x12}, out[0:2])
	require.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, out[2:6])
	require.Equal(t, []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}, out[6:14])
}
