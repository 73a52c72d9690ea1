package kram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterWidthAccessors(t *testing.T) {
	r := RegisterFromU32(0x12345678)
	require.Equal(t, uint32(0x12345678), r.U32())
	require.Equal(t, uint8(0x78), r.U8())
}

func TestCastFloatToSignedTruncatesTowardZero(t *testing.T) {
	r := RegisterFromFloat64(3.7)
	out := Cast(r, TypeDouble, TypeSDWord)
	require.Equal(t, int32(3), out.S32())

	r = RegisterFromFloat64(-3.7)
	out = Cast(r, TypeDouble, TypeSDWord)
	require.Equal(t, int32(-3), out.S32())
}

func TestCastIntegerToIntegerDoesNotRoundTripThroughFloat(t *testing.T) {
	// A float64 intermediate loses precision above 2^53; integer casts must
	// not go through one.
	const big = uint64(1)<<63 + 12345
	r := RegisterFromU64(big)
	out := Cast(r, TypeUQWord, TypeUQWord)
	require.Equal(t, big, out.U64())
}

func TestCastWidensBySignExtension(t *testing.T) {
	r := RegisterFromS32(-1)
	out := Cast(r, TypeSDWord, TypeSQWord)
	require.Equal(t, int64(-1), out.S64())
}

func TestRegisterIndexValidAndGeneral(t *testing.T) {
	require.True(t, R0.Valid())
	require.True(t, R0.General())
	require.True(t, IP.Valid())
	require.False(t, IP.General())
	require.False(t, RegisterIndex(numRegisters).Valid())
}

func TestSizeForMagnitude(t *testing.T) {
	require.Equal(t, SizeByte, sizeForMagnitude(0xFF))
	require.Equal(t, SizeWord, sizeForMagnitude(0x100))
	require.Equal(t, SizeDWord, sizeForMagnitude(0x10000))
	require.Equal(t, SizeQWord, sizeForMagnitude(0x100000000))
}
