package kram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSimpleChunk(t *testing.T) *Chunk {
	t.Helper()
	fnA := NewInstructionBuilder()
	fnA.PushBack(NewInstruction(Nop))
	fnA.PushBack(NewMovRegImm(SizeDWord, R0, 1))

	fnB := NewInstructionBuilder()
	fnB.PushBack(NewInstruction(Ret))

	cb := NewChunkBuilder()
	cb.StaticSizes = []uint64{4, 8}
	cb.Connections = []uint64{42}
	cb.Functions = []*FunctionBuilder{
		{ParameterCount: 4, StackCount: 8, Code: fnA},
		{ParameterCount: 0, StackCount: 0, Code: fnB},
	}

	chunk, err := cb.Build()
	require.NoError(t, err)
	return chunk
}

func TestChunkBuilderLayoutAndFunctionOffsets(t *testing.T) {
	chunk := buildSimpleChunk(t)

	require.Equal(t, []uint64{42}, chunk.Connections())
	require.Len(t, chunk.Statics(), 12)
	require.Equal(t, 2, chunk.FunctionCount())

	fn0, err := chunk.Function(0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), fn0.CodeOffset)

	fn1, err := chunk.Function(1)
	require.NoError(t, err)
	require.Equal(t, uint64(7), fn1.CodeOffset) // nop(1) + mov.ri32(6) = 7 bytes

	require.Equal(t, byte(Ret), chunk.Code()[fn1.CodeOffset])
}

func TestLoadChunkRoundTripsBuilderOutput(t *testing.T) {
	built := buildSimpleChunk(t)

	reloaded, err := LoadChunk(built.data, 1, 12, 2)
	require.NoError(t, err)

	require.Equal(t, built.Connections(), reloaded.Connections())
	require.Equal(t, built.Code(), reloaded.Code())
	require.Equal(t, built.FunctionCount(), reloaded.FunctionCount())

	f0, _ := built.Function(0)
	g0, _ := reloaded.Function(0)
	require.Equal(t, f0, g0)
}

func TestChunkFunctionOutOfRangeErrors(t *testing.T) {
	chunk := buildSimpleChunk(t)
	_, err := chunk.Function(5)
	require.ErrorIs(t, err, ErrChunk)
}
