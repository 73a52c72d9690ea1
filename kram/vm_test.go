package kram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func singleFunctionChunk(t *testing.T, staticsBytes uint64, code *InstructionBuilder, paramCount, stackCount uint32) *Chunk {
	t.Helper()
	cb := NewChunkBuilder()
	if staticsBytes > 0 {
		cb.StaticSizes = []uint64{staticsBytes}
	}
	cb.Functions = []*FunctionBuilder{{ParameterCount: paramCount, StackCount: stackCount, Code: code}}
	chunk, err := cb.Build()
	require.NoError(t, err)
	return chunk
}

func TestVMScenario1MovRegImm32(t *testing.T) {
	code := NewInstructionBuilder()
	code.PushBack(NewMovRegImm(SizeDWord, R1, 0x12345678))
	chunk := singleFunctionChunk(t, 0, code, 0, 0)

	vm, err := NewVM(chunk, 0, 64)
	require.NoError(t, err)
	require.NoError(t, vm.Run())

	require.Equal(t, uint32(0x12345678), vm.Register(R1).U32())
	require.True(t, vm.Exited())
	require.NoError(t, vm.Err())
}

func TestVMScenario2MovStackMemory8(t *testing.T) {
	code := NewInstructionBuilder()
	code.PushBack(NewMovRegImm(SizeByte, R2, 0xAB))
	memWrite, err := NewMovMemReg(SizeByte, MemoryLocation{Segment: SegStack, Delta: 5}, R2)
	require.NoError(t, err)
	code.PushBack(memWrite)
	chunk := singleFunctionChunk(t, 0, code, 0, 0)

	vm, err := NewVM(chunk, 0, 64)
	require.NoError(t, err)
	require.NoError(t, vm.Run())

	b, err := vm.Stack().ReadU8(5)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), b)
}

func TestVMScenario3NewMhrSweep(t *testing.T) {
	code := NewInstructionBuilder()
	code.PushBack(NewNew(true, R0, 16))
	code.PushBack(NewMhr(false, R0))
	chunk := singleFunctionChunk(t, 0, code, 0, 0)

	vm, err := NewVM(chunk, 0, 64)
	require.NoError(t, err)
	require.NoError(t, vm.Run())
	require.Equal(t, 1, vm.Heap().Len())

	freed := vm.Heap().Sweep()
	require.Len(t, freed, 1)
	require.Equal(t, 0, vm.Heap().Len())
}

func TestVMScenario4LeaStatic(t *testing.T) {
	code := NewInstructionBuilder()
	lea, err := NewLea(R3, MemoryLocation{Segment: SegStatic, Delta: 0x100})
	require.NoError(t, err)
	code.PushBack(lea)
	chunk := singleFunctionChunk(t, 0x200, code, 0, 0)

	vm, err := NewVM(chunk, 0, 64)
	require.NoError(t, err)
	require.NoError(t, vm.Run())

	kind, payload := unpackAddr(vm.Register(R3).Addr())
	require.Equal(t, addrKindStatic, kind)
	require.Equal(t, uint64(0x100), payload)
}

func TestVMScenario5CastFloatToSignedTruncates(t *testing.T) {
	code := NewInstructionBuilder()
	code.PushBack(NewCst(TypeSDWord, TypeDouble, R4))
	chunk := singleFunctionChunk(t, 0, code, 0, 0)

	vm, err := NewVM(chunk, 0, 64)
	require.NoError(t, err)
	vm.SetRegister(R4, RegisterFromFloat64(3.7))
	require.NoError(t, vm.Run())
	require.Equal(t, int32(3), vm.Register(R4).S32())
}

func TestVMCallReturnRestoresCallerAndCarriesSR(t *testing.T) {
	callee := NewInstructionBuilder()
	callee.PushBack(NewMovRegImm(SizeQWord, SR, 99))
	callee.PushBack(NewRet())

	caller := NewInstructionBuilder()
	caller.PushBack(NewCallLocal(1))
	caller.PushBack(NewRet())

	cb := NewChunkBuilder()
	cb.Functions = []*FunctionBuilder{
		{Code: caller},
		{Code: callee},
	}
	chunk, err := cb.Build()
	require.NoError(t, err)

	vm, err := NewVM(chunk, 0, 256)
	require.NoError(t, err)
	require.NoError(t, vm.Run())

	require.Equal(t, uint64(99), vm.Register(SR).U64())
	require.True(t, vm.Exited())
	require.NoError(t, vm.Err())
}

func TestVMCallWithParametersCopiesBytes(t *testing.T) {
	// The callee's incoming parameter sits right past its own saved
	// register image (it has no local stack slots), so it reads it back
	// at a fixed stack delta rather than through a tagged register. It reads
	// into SR, the one register RET does not restore from the saved image.
	callee := NewInstructionBuilder()
	paramRead, err := NewMovRegMem(SizeDWord, SR, MemoryLocation{Segment: SegStack, Delta: registerImageSize})
	require.NoError(t, err)
	callee.PushBack(paramRead)
	callee.PushBack(NewRet())

	caller := NewInstructionBuilder()
	pushParam, err := NewMovMemImm(SizeDWord, MemoryLocation{Segment: SegStack}, 0x2A)
	require.NoError(t, err)
	caller.PushBack(pushParam)
	caller.PushBack(NewCallLocal(1))
	caller.PushBack(NewRet())

	cb := NewChunkBuilder()
	cb.Functions = []*FunctionBuilder{
		{Code: caller, StackCount: 4},
		{ParameterCount: 4, Code: callee},
	}
	chunk, err := cb.Build()
	require.NoError(t, err)

	vm, err := NewVM(chunk, 0, 256)
	require.NoError(t, err)

	require.NoError(t, vm.Run())
	require.Equal(t, uint32(0x2A), vm.Register(SR).U32())
}

func TestVMNewHeapExhaustionIsRecoverable(t *testing.T) {
	code := NewInstructionBuilder()
	code.PushBack(NewNew(true, R0, 1024))
	code.PushBack(NewMovRegImm(SizeByte, R1, 7)) // execution continues past the failed NEW
	chunk := singleFunctionChunk(t, 0, code, 0, 0)

	vm, err := NewVM(chunk, 0, 64)
	require.NoError(t, err)
	vm.Heap().SetLimit(16)

	require.NoError(t, vm.Run())
	require.Equal(t, uint64(0), vm.Register(R0).Addr())
	require.Equal(t, uint8(7), vm.Register(R1).U8())
	require.ErrorIs(t, vm.HeapErr(), ErrHeapAllocation)
	require.NoError(t, vm.Err())
}

func TestVMUnknownOpcodeFaults(t *testing.T) {
	code := NewInstructionBuilder()
	code.PushBack(NewInstruction(Bytecode(250)))
	chunk := singleFunctionChunk(t, 0, code, 0, 0)

	vm, err := NewVM(chunk, 0, 64)
	require.NoError(t, err)
	err = vm.Run()
	require.ErrorIs(t, err, ErrUnknownOpcode)
	require.True(t, vm.Exited())
}
