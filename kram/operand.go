package kram

import "github.com/pkg/errors"

// This file is the instruction encoder (component H): it turns high-level
// operand descriptors — a register, a memory location, an immediate, a
// data type — into the argument bytes a Bytecode's operand grammar expects.
// Decoding is the exact inverse and lives next to execution in vm.go, since
// the grammar a given opcode's bytes follow is meaningful only once you
// know what the engine does with it.

// noConnection marks a CALL's connIndex field as "the current chunk",
// keeping the CALL argument layout a fixed 8 bytes regardless of whether
// the call crosses a chunk boundary.
const noConnection uint32 = 0xFFFFFFFF

func truncateToSize(v uint64, size DataSize) uint64 {
	switch size {
	case SizeByte:
		return uint64(uint8(v))
	case SizeWord:
		return uint64(uint16(v))
	case SizeDWord:
		return uint64(uint32(v))
	default:
		return v
	}
}

func appendSized(i *Instruction, v uint64, size DataSize) {
	switch size {
	case SizeByte:
		i.AddU8(uint8(v))
	case SizeWord:
		i.AddU16(uint16(v))
	case SizeDWord:
		i.AddU32(uint32(v))
	case SizeQWord:
		i.AddU64(v)
	}
}

func readSized(b []byte, size DataSize) uint64 {
	switch size {
	case SizeByte:
		return uint64(b[0])
	case SizeWord:
		return uint64(uint16FromBytes(b))
	case SizeDWord:
		return uint64(uint32FromBytes(b))
	default:
		return uint64FromBytes(b)
	}
}

func encodeMemLoc(i *Instruction, loc MemoryLocation) error {
	w := NewByteBufferWriter()
	if err := EncodeMemoryLocation(w, loc); err != nil {
		return err
	}
	i.AddBytes(w.Bytes())
	return nil
}

// NewMovRegReg builds MOV reg←reg for the given width.
func NewMovRegReg(size DataSize, dst, src RegisterIndex) *Instruction {
	i := NewInstruction(MovOpcode(ShapeRegReg, size))
	i.AddU8(uint8(dst))
	i.AddU8(uint8(src))
	return i
}

// NewMovRegMem builds MOV reg←mem for the given width.
func NewMovRegMem(size DataSize, dst RegisterIndex, mem MemoryLocation) (*Instruction, error) {
	i := NewInstruction(MovOpcode(ShapeRegMem, size))
	i.AddU8(uint8(dst))
	if err := encodeMemLoc(i, mem); err != nil {
		return nil, err
	}
	return i, nil
}

// NewMovRegImm builds MOV reg←imm for the given width; imm is truncated to
// the width's byte count.
func NewMovRegImm(size DataSize, dst RegisterIndex, imm uint64) *Instruction {
	i := NewInstruction(MovOpcode(ShapeRegImm, size))
	i.AddU8(uint8(dst))
	appendSized(i, truncateToSize(imm, size), size)
	return i
}

// NewMovMemReg builds MOV mem←reg for the given width.
func NewMovMemReg(size DataSize, mem MemoryLocation, src RegisterIndex) (*Instruction, error) {
	i := NewInstruction(MovOpcode(ShapeMemReg, size))
	if err := encodeMemLoc(i, mem); err != nil {
		return nil, err
	}
	i.AddU8(uint8(src))
	return i, nil
}

// NewMovMemImm builds MOV mem←imm for the given width.
func NewMovMemImm(size DataSize, mem MemoryLocation, imm uint64) (*Instruction, error) {
	i := NewInstruction(MovOpcode(ShapeMemImm, size))
	if err := encodeMemLoc(i, mem); err != nil {
		return nil, err
	}
	appendSized(i, truncateToSize(imm, size), size)
	return i, nil
}

// NewMovMemMem builds MOV mem←mem ("via two addressing headers") for the
// given width.
func NewMovMemMem(size DataSize, dst, src MemoryLocation) (*Instruction, error) {
	i := NewInstruction(MovOpcode(ShapeMemMem, size))
	if err := encodeMemLoc(i, dst); err != nil {
		return nil, err
	}
	if err := encodeMemLoc(i, src); err != nil {
		return nil, err
	}
	return i, nil
}

// NewLea builds LEA reg←mem (§4.I: "reg ← effective(mem)").
func NewLea(dst RegisterIndex, mem MemoryLocation) (*Instruction, error) {
	i := NewInstruction(Lea)
	i.AddU8(uint8(dst))
	if err := encodeMemLoc(i, mem); err != nil {
		return nil, err
	}
	return i, nil
}

// NewMmb builds MMB size_arg reg_dst←reg_src, bytes. sizeArg encodes the
// width of the bytes operand, not of the copy (§4.I).
func NewMmb(sizeArg DataSize, dst, src RegisterIndex, bytes uint64) *Instruction {
	i := NewInstruction(Mmb)
	i.AddU8(uint8(sizeArg))
	i.AddU8(uint8(dst))
	i.AddU8(uint8(src))
	appendSized(i, bytes, sizeArg)
	return i
}

// NewNew builds NEW add_ref dst blockBytes.
func NewNew(addRef bool, dst RegisterIndex, blockBytes uint64) *Instruction {
	i := NewInstruction(New)
	if addRef {
		i.AddU8(1)
	} else {
		i.AddU8(0)
	}
	i.AddU8(uint8(dst))
	i.AddU64(blockBytes)
	return i
}

// NewDel builds DEL src.
func NewDel(src RegisterIndex) *Instruction {
	i := NewInstruction(Del)
	i.AddU8(uint8(src))
	return i
}

// NewMhr builds MHR increase src.
func NewMhr(increase bool, src RegisterIndex) *Instruction {
	i := NewInstruction(Mhr)
	if increase {
		i.AddU8(1)
	} else {
		i.AddU8(0)
	}
	i.AddU8(uint8(src))
	return i
}

// NewCst builds CST dst_type src_type target.
func NewCst(dstType, srcType DataType, target RegisterIndex) *Instruction {
	i := NewInstruction(Cst)
	i.AddU8(uint8(dstType))
	i.AddU8(uint8(srcType))
	i.AddU8(uint8(target))
	return i
}

// NewCallLocal builds a CALL into the current chunk's function table.
func NewCallLocal(fnIndex uint32) *Instruction {
	i := NewInstruction(Call)
	i.AddU32(noConnection)
	i.AddU32(fnIndex)
	return i
}

// NewCallRemote builds a cross-chunk CALL through connection connIndex.
func NewCallRemote(connIndex, fnIndex uint32) *Instruction {
	i := NewInstruction(Call)
	i.AddU32(connIndex)
	i.AddU32(fnIndex)
	return i
}

// NewRet builds RET.
func NewRet() *Instruction {
	return NewInstruction(Ret)
}

// decodedMemLoc pairs a decoded memory location with the number of bytes it
// consumed, so the fetch loop can advance past it.
type decodedMemLoc struct {
	loc MemoryLocation
	n   int
}

func decodeMemLocAt(args []byte, offset int) (decodedMemLoc, error) {
	if offset > len(args) {
		return decodedMemLoc{}, errors.Wrapf(ErrDecode, "memory location operand starts past end of instruction (offset %d, len %d)", offset, len(args))
	}
	loc, n, err := DecodeMemoryLocation(args[offset:])
	if err != nil {
		return decodedMemLoc{}, err
	}
	return decodedMemLoc{loc: loc, n: n}, nil
}
