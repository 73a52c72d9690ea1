package kram

import "github.com/pkg/errors"

// Stack is the contiguous, growable byte region backing every frame's
// saved register image, local slots, and parameter area (§3). Callers must
// address into it with offsets, never with a slice or pointer captured
// before a Resize, since Resize reallocates the backing array.
type Stack struct {
	bytes []byte
	top   uint64 // one past the highest offset in use
}

// NewStack builds a stack of the given initial size, all bytes zeroed.
func NewStack(size uint64) *Stack {
	return &Stack{bytes: make([]byte, size)}
}

// Destroy releases the backing storage. The stack must not be used again.
func (s *Stack) Destroy() { s.bytes = nil; s.top = 0 }

// Size returns the current capacity of the backing region.
func (s *Stack) Size() uint64 { return uint64(len(s.bytes)) }

// Top returns the offset one past the highest byte in use.
func (s *Stack) Top() uint64 { return s.top }

// SetTop moves the logical top, growing the backing region first if
// necessary so every offset up to newTop is addressable.
func (s *Stack) SetTop(newTop uint64) error {
	if newTop > s.Size() {
		if err := s.growTo(newTop); err != nil {
			return err
		}
	}
	s.top = newTop
	return nil
}

// Resize grows the stack following §4.C's rule: new size =
// max(2*old, old+extra). All bytes below the previous top are preserved and
// every offset remains valid against the new backing array — callers that
// stored raw slices instead of offsets across this call have a bug.
func (s *Stack) Resize(extra uint64) {
	oldSize := s.Size()
	newSize := oldSize * 2
	if oldSize+extra > newSize {
		newSize = oldSize + extra
	}
	if newSize == 0 {
		newSize = defaultStackGrowth
	}
	grown := make([]byte, newSize)
	copy(grown, s.bytes)
	s.bytes = grown
}

const defaultStackGrowth = 256

func (s *Stack) growTo(target uint64) error {
	for s.Size() < target {
		s.Resize(target - s.Size())
	}
	return nil
}

// Bytes returns the full backing slice. Callers must re-derive this after
// any call that can Resize the stack; holding it across such a call is the
// exact hazard §9 warns about.
func (s *Stack) Bytes() []byte { return s.bytes }

// Slice returns a view of length n starting at offset off, growing the
// stack first if the view would run past the current capacity.
func (s *Stack) Slice(off, n uint64) ([]byte, error) {
	if off+n > s.Size() {
		if err := s.growTo(off + n); err != nil {
			return nil, err
		}
	}
	return s.bytes[off : off+n], nil
}

// ReadU8/ReadU16/ReadU32/ReadU64 read a little-endian value at offset off.
func (s *Stack) ReadU8(off uint64) (uint8, error) {
	b, err := s.Slice(off, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *Stack) ReadU16(off uint64) (uint16, error) {
	b, err := s.Slice(off, 2)
	if err != nil {
		return 0, err
	}
	return uint16FromBytes(b), nil
}

func (s *Stack) ReadU32(off uint64) (uint32, error) {
	b, err := s.Slice(off, 4)
	if err != nil {
		return 0, err
	}
	return uint32FromBytes(b), nil
}

func (s *Stack) ReadU64(off uint64) (uint64, error) {
	b, err := s.Slice(off, 8)
	if err != nil {
		return 0, err
	}
	return uint64FromBytes(b), nil
}

// WriteU8/WriteU16/WriteU32/WriteU64 write a little-endian value at offset
// off, growing the stack first if needed.
func (s *Stack) WriteU8(off uint64, v uint8) error {
	b, err := s.Slice(off, 1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

func (s *Stack) WriteU16(off uint64, v uint16) error {
	b, err := s.Slice(off, 2)
	if err != nil {
		return err
	}
	uint16ToBytes(v, b)
	return nil
}

func (s *Stack) WriteU32(off uint64, v uint32) error {
	b, err := s.Slice(off, 4)
	if err != nil {
		return err
	}
	uint32ToBytes(v, b)
	return nil
}

func (s *Stack) WriteU64(off uint64, v uint64) error {
	b, err := s.Slice(off, 8)
	if err != nil {
		return err
	}
	uint64ToBytes(v, b)
	return nil
}

// Push appends n bytes at the current top, advancing it, and returns the
// offset they were written at. Returns ErrStackOverflow if maxSize is
// nonzero and growing past it would be required.
func (s *Stack) Push(data []byte, maxSize uint64) (uint64, error) {
	off := s.top
	newTop := off + uint64(len(data))
	if maxSize != 0 && newTop > maxSize {
		return 0, errors.Wrapf(ErrStackOverflow, "push of %d bytes at top %d exceeds max size %d", len(data), off, maxSize)
	}
	if err := s.SetTop(newTop); err != nil {
		return 0, err
	}
	copy(s.bytes[off:newTop], data)
	return off, nil
}

// Pop retreats the top by n bytes and returns the bytes that were popped.
func (s *Stack) Pop(n uint64) ([]byte, error) {
	if n > s.top {
		return nil, errors.Wrapf(ErrStackUnderflow, "pop of %d bytes at top %d", n, s.top)
	}
	off := s.top - n
	out := make([]byte, n)
	copy(out, s.bytes[off:s.top])
	s.top = off
	return out, nil
}
