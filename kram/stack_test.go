package kram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStackResizePreservesBytesBelowTop(t *testing.T) {
	s := NewStack(8)
	require.NoError(t, s.WriteU32(0, 0xCAFEBABE))
	require.NoError(t, s.SetTop(4))

	s.Resize(100)
	require.GreaterOrEqual(t, s.Size(), uint64(108))

	v, err := s.ReadU32(0)
	require.NoError(t, err)
	require.Equal(t, uint32(0xCAFEBABE), v)
}

func TestStackResizeFollowsMaxOldOrOldPlusExtraRule(t *testing.T) {
	s := NewStack(16)
	s.Resize(4) // max(2*16, 16+4) = 32
	require.Equal(t, uint64(32), s.Size())

	s.Resize(100) // max(2*32, 32+100) = 132
	require.Equal(t, uint64(132), s.Size())
}

func TestStackResizeEmptyStackPreservesEmptiness(t *testing.T) {
	s := NewStack(0)
	require.Equal(t, uint64(0), s.Top())
	s.Resize(0)
	require.Equal(t, uint64(0), s.Top())
}

func TestStackPushPopRoundTrip(t *testing.T) {
	s := NewStack(4)
	off, err := s.Push([]byte{1, 2, 3, 4}, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), off)
	require.Equal(t, uint64(4), s.Top())

	data, err := s.Pop(4)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, data)
	require.Equal(t, uint64(0), s.Top())
}

func TestStackPushBeyondMaxSizeOverflows(t *testing.T) {
	s := NewStack(4)
	_, err := s.Push([]byte{1, 2, 3, 4, 5}, 4)
	require.ErrorIs(t, err, ErrStackOverflow)
}

func TestStackPopBeyondTopUnderflows(t *testing.T) {
	s := NewStack(4)
	_, err := s.Pop(1)
	require.ErrorIs(t, err, ErrStackUnderflow)
}

func TestStackGrowsOnOutOfRangeWrite(t *testing.T) {
	s := NewStack(0)
	require.NoError(t, s.WriteU64(1000, 0x1122334455667788))
	v, err := s.ReadU64(1000)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1122334455667788), v)
}
