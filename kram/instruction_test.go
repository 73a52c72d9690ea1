package kram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstructionByteCountAndWrite(t *testing.T) {
	i := NewInstruction(Nop)
	i.AddU32(0xDEADBEEF)
	require.Equal(t, 5, i.ByteCount())

	buf := make([]byte, 3)
	n := i.Write(buf)
	require.Equal(t, 3, n, "write must truncate at cap(buf)")

	buf = make([]byte, i.ByteCount())
	n = i.Write(buf)
	require.Equal(t, i.ByteCount(), n)
	require.Equal(t, byte(Nop), buf[0])
}

func TestMovScenario1RegImm32(t *testing.T) {
	instr := NewMovRegImm(SizeDWord, R1, 0x12345678)
	require.Equal(t, MovRegImmDW, instr.Opcode)
	require.Equal(t, Bytecode(0x0B), instr.Opcode)

	buf := make([]byte, instr.ByteCount())
	instr.Write(buf)
	require.Equal(t, []byte{0x0B, 0x01, 0x78, 0x56, 0x34, 0x12}, buf)
}

func TestMovOpcodeShapeSizeRoundTrip(t *testing.T) {
	for s := ShapeRegReg; s <= ShapeMemMem; s++ {
		for sz := SizeByte; sz <= SizeQWord; sz++ {
			op := MovOpcode(s, sz)
			require.True(t, IsMov(op))
			require.Equal(t, s, MovShapeOf(op))
			require.Equal(t, sz, MovSizeOf(op))
		}
	}
}

func TestNewCstEncoding(t *testing.T) {
	i := NewCst(TypeSDWord, TypeDouble, R4)
	require.Equal(t, Cst, i.Opcode)
	require.Equal(t, []byte{byte(TypeSDWord), byte(TypeDouble), byte(R4)}, i.Args)
}
