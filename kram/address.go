package kram

// An address produced by LEA or NEW has to remain meaningful however it is
// later dereferenced — through a plain RegisterR memory location, or
// copied between registers by MOV/MMB first. Rather than modeling one
// flat, real linear memory (stack, statics, and heap payloads don't share
// a backing array), every address register tags which backing store it
// names in its top two bits and carries a store-relative offset in the
// rest, so RegisterR addressing and MMB can dispatch on the tag instead of
// needing to know the operand's provenance ahead of time.
type addrKind uint8

const (
	addrKindNone addrKind = iota
	addrKindStack
	addrKindStatic
	addrKindHeap
)

const (
	addrKindShift   = 62
	addrPayloadMask = uint64(1)<<addrKindShift - 1

	// Heap addresses further split their payload into a handle (the heap's
	// monotonically increasing block id) and a byte offset within that
	// block's payload.
	heapOffsetBits = 30
	heapOffsetMask = uint64(1)<<heapOffsetBits - 1
	heapHandleMask = uint64(1)<<32 - 1
)

func packAddr(kind addrKind, payload uint64) uint64 {
	return uint64(kind)<<addrKindShift | (payload & addrPayloadMask)
}

func unpackAddr(addr uint64) (addrKind, uint64) {
	return addrKind(addr >> addrKindShift), addr & addrPayloadMask
}

func encodeStackAddr(offset uint64) uint64 { return packAddr(addrKindStack, offset) }

func encodeStaticAddr(offset uint64) uint64 { return packAddr(addrKindStatic, offset) }

func encodeHeapAddr(handle, offset uint64) uint64 {
	payload := (handle&heapHandleMask)<<heapOffsetBits | (offset & heapOffsetMask)
	return packAddr(addrKindHeap, payload)
}

func decodeHeapAddr(payload uint64) (handle, offset uint64) {
	return payload >> heapOffsetBits, payload & heapOffsetMask
}
