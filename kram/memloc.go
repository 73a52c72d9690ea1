package kram

import "github.com/pkg/errors"

// Segment selects the base of a memory location's effective address.
type Segment uint8

const (
	SegNone Segment = iota
	SegStack
	SegStatic
	SegRegisterR
)

func (s Segment) String() string {
	switch s {
	case SegNone:
		return "none"
	case SegStack:
		return "stack"
	case SegStatic:
		return "static"
	case SegRegisterR:
		return "register"
	default:
		return "?segment?"
	}
}

// Split is the optional register-scaled addend `reg*scale` in a memory
// location.
type Split struct {
	Present bool
	Reg     RegisterIndex
	Scale   uint8 // one of 1, 2, 4, 8
}

// MemoryLocation is the triple (segment, split, delta) described in §3: the
// effective address is base(segment) + split.reg*split.scale + delta.
type MemoryLocation struct {
	Segment Segment
	// BaseReg names the register supplying the base address; only
	// meaningful when Segment == SegRegisterR.
	BaseReg RegisterIndex
	Split   Split
	Delta   uint64
}

func scaleToBits(scale uint8) (uint64, error) {
	switch scale {
	case 1:
		return 0, nil
	case 2:
		return 1, nil
	case 4:
		return 2, nil
	case 8:
		return 3, nil
	default:
		return 0, errors.Errorf("invalid split scale %d", scale)
	}
}

func bitsToScale(bits uint64) uint8 {
	return [4]uint8{1, 2, 4, 8}[bits&0x3]
}

func deltaWidthToSize(bits uint64) DataSize {
	return DataSize(bits & 0x3)
}

// EncodeMemoryLocation writes the operand-header byte(s) plus delta bytes
// for loc, per §4.H's bit-exact layout.
func EncodeMemoryLocation(w *ByteBufferWriter, loc MemoryLocation) error {
	var header uint64
	header = setBits(header, 0, 2, uint64(loc.Segment))

	splitPresent := uint64(0)
	var scaleBits uint64
	if loc.Split.Present {
		splitPresent = 1
		var err error
		scaleBits, err = scaleToBits(loc.Split.Scale)
		if err != nil {
			return err
		}
	}
	header = setBits(header, 2, 1, splitPresent)
	header = setBits(header, 3, 2, scaleBits)

	deltaPresent := uint64(0)
	var deltaWidth DataSize
	if loc.Delta != 0 {
		deltaPresent = 1
		deltaWidth = sizeForMagnitude(loc.Delta)
	}
	header = setBits(header, 5, 1, deltaPresent)
	header = setBits(header, 6, 2, uint64(deltaWidth))

	w.WriteByte(byte(header))

	needsSecondByte := loc.Segment == SegRegisterR || loc.Split.Present
	if needsSecondByte {
		var second uint64
		if loc.Segment == SegRegisterR {
			second = setBits(second, 0, 4, uint64(loc.BaseReg))
		}
		if loc.Split.Present {
			second = setBits(second, 4, 4, uint64(loc.Split.Reg))
		}
		w.WriteByte(byte(second))
	}

	if deltaPresent == 1 {
		switch deltaWidth {
		case SizeByte:
			w.WriteByte(byte(loc.Delta))
		case SizeWord:
			w.WriteUint16(uint16(loc.Delta))
		case SizeDWord:
			w.WriteUint32(uint32(loc.Delta))
		case SizeQWord:
			w.WriteUint64(loc.Delta)
		}
	}

	return nil
}

// DecodeMemoryLocation reads a memory location out of data starting at
// offset 0, returning the decoded triple and the number of bytes consumed.
func DecodeMemoryLocation(data []byte) (MemoryLocation, int, error) {
	if len(data) < 1 {
		return MemoryLocation{}, 0, errors.Wrap(ErrDecode, "truncated memory location header")
	}

	header := uint64(data[0])
	loc := MemoryLocation{
		Segment: Segment(getBits(header, 0, 2)),
	}

	splitPresent := getBits(header, 2, 1) == 1
	scaleBits := getBits(header, 3, 2)
	deltaPresent := getBits(header, 5, 1) == 1
	deltaWidth := deltaWidthToSize(getBits(header, 6, 2))

	consumed := 1
	needsSecondByte := loc.Segment == SegRegisterR || splitPresent
	if needsSecondByte {
		if len(data) < consumed+1 {
			return MemoryLocation{}, 0, errors.Wrap(ErrDecode, "truncated memory location register byte")
		}
		second := uint64(data[consumed])
		if loc.Segment == SegRegisterR {
			loc.BaseReg = RegisterIndex(getBits(second, 0, 4))
		}
		if splitPresent {
			loc.Split = Split{Present: true, Reg: RegisterIndex(getBits(second, 4, 4)), Scale: bitsToScale(scaleBits)}
		}
		consumed++
	}

	if deltaPresent {
		n := deltaWidth.Bytes()
		if len(data) < consumed+n {
			return MemoryLocation{}, 0, errors.Wrap(ErrDecode, "truncated memory location delta")
		}
		switch deltaWidth {
		case SizeByte:
			loc.Delta = uint64(data[consumed])
		case SizeWord:
			loc.Delta = uint64(uint16FromBytes(data[consumed:]))
		case SizeDWord:
			loc.Delta = uint64(uint32FromBytes(data[consumed:]))
		case SizeQWord:
			loc.Delta = uint64FromBytes(data[consumed:])
		}
		consumed += n
	}

	return loc, consumed, nil
}

// EncodedLen returns the number of bytes EncodeMemoryLocation would write
// for loc, without allocating a buffer.
func EncodedLen(loc MemoryLocation) int {
	n := 1
	if loc.Segment == SegRegisterR || loc.Split.Present {
		n++
	}
	if loc.Delta != 0 {
		n += sizeForMagnitude(loc.Delta).Bytes()
	}
	return n
}
