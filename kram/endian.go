package kram

import "encoding/binary"

// The bytecode format is little-endian regardless of host byte order (§9
// "Endianness"). These helpers centralize that choice the way the teacher's
// uint32FromBytes/uint32ToBytes pair does in vm/vm.go, generalized to every
// width the instruction set needs.

func uint16FromBytes(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func uint32FromBytes(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func uint64FromBytes(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

func uint16ToBytes(v uint16, b []byte) { binary.LittleEndian.PutUint16(b, v) }
func uint32ToBytes(v uint32, b []byte) { binary.LittleEndian.PutUint32(b, v) }
func uint64ToBytes(v uint64, b []byte) { binary.LittleEndian.PutUint64(b, v) }
