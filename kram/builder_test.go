package kram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilderPushAndOrder(t *testing.T) {
	b := NewInstructionBuilder()
	locNop := b.PushBack(NewInstruction(Nop))
	locMov := b.PushBack(NewMovRegReg(SizeDWord, R0, R1))
	require.Equal(t, 2, b.Len())

	ops := b.Instructions()
	require.Equal(t, Nop, ops[0].Opcode)
	require.Equal(t, MovRegRegDW, ops[1].Opcode)

	instrAtNop, err := b.At(locNop)
	require.NoError(t, err)
	require.Equal(t, Nop, instrAtNop.Opcode)

	instrAtMov, err := b.At(locMov)
	require.NoError(t, err)
	require.Equal(t, MovRegRegDW, instrAtMov.Opcode)
}

func TestBuilderEraseKeepsOtherHandlesValid(t *testing.T) {
	b := NewInstructionBuilder()
	a := b.PushBack(NewInstruction(Nop))
	mid := b.PushBack(NewInstruction(Lea))
	c := b.PushBack(NewInstruction(Ret))

	require.NoError(t, b.Erase(mid))
	require.Equal(t, 2, b.Len())

	instrA, err := b.At(a)
	require.NoError(t, err)
	require.Equal(t, Nop, instrA.Opcode)

	instrC, err := b.At(c)
	require.NoError(t, err)
	require.Equal(t, Ret, instrC.Opcode)

	_, err = b.At(mid)
	require.Error(t, err)
}

func TestBuilderSplicePreservesOrderAndSize(t *testing.T) {
	a := NewInstructionBuilder()
	a.PushBack(NewInstruction(Nop))
	a.PushBack(NewMovRegReg(SizeDWord, R0, R1))

	bld := NewInstructionBuilder()
	loc, err := NewLea(R2, MemoryLocation{Segment: SegStack})
	require.NoError(t, err)
	bld.PushBack(loc)

	a.PushBackBuilder(bld)

	require.Equal(t, 3, a.Len())
	require.Equal(t, 0, bld.Len())

	ops := a.Instructions()
	require.Equal(t, []Bytecode{Nop, MovRegRegDW, Lea}, []Bytecode{ops[0].Opcode, ops[1].Opcode, ops[2].Opcode})
}

func TestBuilderSwapExchangesInstructions(t *testing.T) {
	b := NewInstructionBuilder()
	locA := b.PushBack(NewInstruction(Nop))
	locB := b.PushBack(NewInstruction(Ret))

	require.NoError(t, b.Swap(locA, locB))
	instrA, _ := b.At(locA)
	instrB, _ := b.At(locB)
	require.Equal(t, Ret, instrA.Opcode)
	require.Equal(t, Nop, instrB.Opcode)
}

func TestBuilderMoveByRelocatesNode(t *testing.T) {
	b := NewInstructionBuilder()
	locA := b.PushBack(NewInstruction(Nop))
	b.PushBack(NewInstruction(Lea))
	b.PushBack(NewInstruction(Ret))

	require.NoError(t, b.MoveBy(locA, 2))
	ops := b.Instructions()
	require.Equal(t, []Bytecode{Lea, Ret, Nop}, []Bytecode{ops[0].Opcode, ops[1].Opcode, ops[2].Opcode})
}

func TestBuilderBuildToMatchesBuildBytes(t *testing.T) {
	b := NewInstructionBuilder()
	b.PushBack(NewInstruction(Nop))
	b.PushBack(NewMovRegImm(SizeQWord, R2, 0x1122334455667788))
	b.PushBack(NewRet())

	w := NewByteBufferWriter()
	n := b.BuildTo(w)
	require.Equal(t, b.TotalByteCount(), n)
	require.Equal(t, b.BuildBytes(), w.Bytes())
}

func TestBuilderBuildSerializesInOrder(t *testing.T) {
	b := NewInstructionBuilder()
	b.PushBack(NewInstruction(Nop))
	b.PushBack(NewMovRegImm(SizeByte, R0, 0xAB))

	out := b.BuildBytes()
	require.Equal(t, b.TotalByteCount(), len(out))
	require.Equal(t, byte(Nop), out[0])
	require.Equal(t, byte(MovRegImmB), out[1])
	require.Equal(t, byte(0xAB), out[3])
}
