package kram

import "math"

// RegisterIndex names one of the 16 general/aliased registers. r0..r8 are
// unrestricted general-purpose registers; the remaining seven are fixed-role
// aliases used by the execution engine's frame/addressing machinery.
type RegisterIndex uint8

const (
	R0 RegisterIndex = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8

	// SD holds the current chunk's static-data base address.
	SD
	// SB holds the stack-base offset of the currently executing frame.
	SB
	// SP holds the stack offset marking the start of the outgoing parameter area.
	SP
	// SR holds the return value of the most recently returned call.
	SR
	// CH holds the address of the chunk the current frame executes in.
	CH
	// ST holds the stack offset one past the highest byte in use.
	ST
	// IP holds the byte offset of the next instruction within the current
	// chunk's code region.
	IP

	numRegisters = int(IP) + 1
)

var registerNames = [numRegisters]string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8",
	"sd", "sb", "sp", "sr", "ch", "st", "ip",
}

func (r RegisterIndex) String() string {
	if int(r) < len(registerNames) {
		return registerNames[r]
	}
	return "?reg?"
}

// Valid reports whether r names one of the 16 addressable registers.
func (r RegisterIndex) Valid() bool {
	return int(r) < numRegisters
}

// General reports whether r is one of the unrestricted r0..r8 registers, as
// opposed to one of the engine's fixed-role aliases.
func (r RegisterIndex) General() bool {
	return r <= R8
}

// Register is an opaque 64-bit slot. It carries no type tag of its own;
// every read/write goes through a typed accessor that reinterprets the bit
// pattern, matching the "register as typed union" design note: callers
// choose the interpretation, the slot itself is just bits.
type Register uint64

func (r Register) U8() uint8       { return uint8(r) }
func (r Register) U16() uint16     { return uint16(r) }
func (r Register) U32() uint32     { return uint32(r) }
func (r Register) U64() uint64     { return uint64(r) }
func (r Register) S8() int8        { return int8(r) }
func (r Register) S16() int16      { return int16(r) }
func (r Register) S32() int32      { return int32(r) }
func (r Register) S64() int64      { return int64(r) }
func (r Register) Float32() float32 { return math.Float32frombits(uint32(r)) }
func (r Register) Float64() float64 { return math.Float64frombits(uint64(r)) }
func (r Register) Addr() uint64    { return uint64(r) }

func RegisterFromU8(v uint8) Register    { return Register(v) }
func RegisterFromU16(v uint16) Register  { return Register(v) }
func RegisterFromU32(v uint32) Register  { return Register(v) }
func RegisterFromU64(v uint64) Register  { return Register(v) }
func RegisterFromS8(v int8) Register     { return Register(uint64(uint8(v))) }
func RegisterFromS16(v int16) Register   { return Register(uint64(uint16(v))) }
func RegisterFromS32(v int32) Register   { return Register(uint64(uint32(v))) }
func RegisterFromS64(v int64) Register   { return Register(uint64(v)) }
func RegisterFromFloat32(v float32) Register { return Register(math.Float32bits(v)) }
func RegisterFromFloat64(v float64) Register { return Register(math.Float64bits(v)) }

// DataSize is one of the four raw widths the instruction set moves data at.
type DataSize uint8

const (
	SizeByte DataSize = iota
	SizeWord
	SizeDWord
	SizeQWord
)

// Bytes returns the number of bytes the size occupies.
func (s DataSize) Bytes() int {
	switch s {
	case SizeByte:
		return 1
	case SizeWord:
		return 2
	case SizeDWord:
		return 4
	case SizeQWord:
		return 8
	default:
		return 0
	}
}

func (s DataSize) String() string {
	switch s {
	case SizeByte:
		return "byte"
	case SizeWord:
		return "word"
	case SizeDWord:
		return "dword"
	case SizeQWord:
		return "qword"
	default:
		return "?size?"
	}
}

// sizeForMagnitude picks the narrowest DataSize that can hold v, used when
// encoding a delta literal (§4.H: "delta width (magnitude-chosen)").
func sizeForMagnitude(v uint64) DataSize {
	switch {
	case v <= math.MaxUint8:
		return SizeByte
	case v <= math.MaxUint16:
		return SizeWord
	case v <= math.MaxUint32:
		return SizeDWord
	default:
		return SizeQWord
	}
}

// DataType extends DataSize with signedness and float/double, used by CST
// and by the assembler's data-type element.
type DataType uint8

const (
	TypeUByte DataType = iota
	TypeUWord
	TypeUDWord
	TypeUQWord
	TypeSByte
	TypeSWord
	TypeSDWord
	TypeSQWord
	TypeFloat
	TypeDouble
)

// Size returns the raw DataSize backing this type.
func (t DataType) Size() DataSize {
	switch t {
	case TypeUByte, TypeSByte:
		return SizeByte
	case TypeUWord, TypeSWord:
		return SizeWord
	case TypeUDWord, TypeSDWord, TypeFloat:
		return SizeDWord
	default:
		return SizeQWord
	}
}

func (t DataType) String() string {
	switch t {
	case TypeUByte:
		return "ub"
	case TypeUWord:
		return "uw"
	case TypeUDWord:
		return "udw"
	case TypeUQWord:
		return "uqw"
	case TypeSByte:
		return "sb"
	case TypeSWord:
		return "sw"
	case TypeSDWord:
		return "sdw"
	case TypeSQWord:
		return "sqw"
	case TypeFloat:
		return "fd"
	case TypeDouble:
		return "dfd"
	default:
		return "?type?"
	}
}

func (t DataType) isFloat() bool { return t == TypeFloat || t == TypeDouble }

// asInt64 reinterprets reg's bits as an integer of type t, sign-extended.
func asInt64(reg Register, t DataType) int64 {
	switch t {
	case TypeUByte:
		return int64(reg.U8())
	case TypeUWord:
		return int64(reg.U16())
	case TypeUDWord:
		return int64(reg.U32())
	case TypeUQWord:
		return int64(reg.U64())
	case TypeSByte:
		return int64(reg.S8())
	case TypeSWord:
		return int64(reg.S16())
	case TypeSDWord:
		return int64(reg.S32())
	case TypeSQWord:
		return reg.S64()
	default:
		return 0
	}
}

// fromInt64 narrows/writes v into a Register holding integer type t.
func fromInt64(v int64, t DataType) Register {
	switch t {
	case TypeUByte:
		return RegisterFromU8(uint8(v))
	case TypeUWord:
		return RegisterFromU16(uint16(v))
	case TypeUDWord:
		return RegisterFromU32(uint32(v))
	case TypeUQWord:
		return RegisterFromU64(uint64(v))
	case TypeSByte:
		return RegisterFromS8(int8(v))
	case TypeSWord:
		return RegisterFromS16(int16(v))
	case TypeSDWord:
		return RegisterFromS32(int32(v))
	case TypeSQWord:
		return RegisterFromS64(v)
	default:
		return 0
	}
}

// asFloat64 reinterprets the raw bits of reg (assumed to already hold a value
// of type t) as a float64, widening integers and narrowing double as needed.
func asFloat64(reg Register, t DataType) float64 {
	if t == TypeFloat {
		return float64(reg.Float32())
	}
	if t == TypeDouble {
		return reg.Float64()
	}
	return float64(asInt64(reg, t))
}

// fromFloat64 truncates f toward zero (per §8 scenario 5) into a Register
// holding type t.
func fromFloat64(f float64, t DataType) Register {
	if t == TypeFloat {
		return RegisterFromFloat32(float32(f))
	}
	if t == TypeDouble {
		return RegisterFromFloat64(f)
	}
	return fromInt64(int64(f), t)
}

// Cast reinterprets target's bits as srcType, converts numerically to
// dstType, and returns the resulting bit pattern (§4.I "CST"). Integer-to-
// integer casts truncate/sign-extend directly; any pairing touching a float
// or double type routes through a float64 intermediate.
func Cast(target Register, srcType, dstType DataType) Register {
	if !srcType.isFloat() && !dstType.isFloat() {
		return fromInt64(asInt64(target, srcType), dstType)
	}
	return fromFloat64(asFloat64(target, srcType), dstType)
}
