package kram

import (
	"math"

	"github.com/pkg/errors"
)

// heapBlock is one allocation: a doubly-linked node in the heap's
// allocation list plus its own payload bytes. Per the design note on
// reimplementing the doubly-linked heap as arena + index pairs, the heap
// below owns every block in a map keyed by address; a block never holds a
// pointer to another block, only its address.
type heapBlock struct {
	prev, next uint64
	refs       uint32
	data       []byte
}

// Heap is the single-threaded, reference-counted allocator described in
// §3/§4.B. Addresses are opaque, monotonically increasing handles assigned
// at malloc time and never reused, which sidesteps the ABA hazard a real
// bump allocator would have to solve by reclaiming freed byte ranges.
type Heap struct {
	blocks map[uint64]*heapBlock
	head   uint64
	tail   uint64
	nextID uint64

	// limit caps total payload bytes when nonzero; used tracks the payload
	// bytes currently allocated against it.
	limit uint64
	used  uint64
}

// NullAddr is never a valid block address: malloc starts numbering at 1.
const NullAddr uint64 = 0

// NewHeap returns an empty heap.
func NewHeap() *Heap {
	return &Heap{blocks: make(map[uint64]*heapBlock)}
}

// Len returns the number of live blocks.
func (h *Heap) Len() int { return len(h.blocks) }

// Used returns the total payload bytes of every live block.
func (h *Heap) Used() uint64 { return h.used }

// SetLimit caps the heap at limit total payload bytes; zero means unbounded.
func (h *Heap) SetLimit(limit uint64) { h.limit = limit }

// Malloc allocates a zero-filled block of size bytes, links it at the tail
// of the allocation list, and sets refs to 1 if assignRef else 0. When a
// limit is set and the allocation would exceed it, Malloc returns NullAddr
// rather than raising; the caller decides how to surface the exhaustion.
func (h *Heap) Malloc(size uint64, assignRef bool) uint64 {
	if h.limit != 0 && h.used+size > h.limit {
		return NullAddr
	}
	h.nextID++
	addr := h.nextID
	block := &heapBlock{data: make([]byte, size)}
	if assignRef {
		block.refs = 1
	}
	if h.tail == NullAddr {
		h.head, h.tail = addr, addr
	} else {
		block.prev = h.tail
		h.blocks[h.tail].next = addr
		h.tail = addr
	}
	h.blocks[addr] = block
	h.used += size
	return addr
}

// Free unlinks and releases the block at addr. It is a no-op — not an
// error — if addr does not name a live block, matching §4.B's "idempotence
// not required" but still safe to call twice.
func (h *Heap) Free(addr uint64) {
	block, ok := h.blocks[addr]
	if !ok {
		return
	}
	h.unlink(addr, block)
	delete(h.blocks, addr)
	h.used -= uint64(len(block.data))
}

func (h *Heap) unlink(addr uint64, block *heapBlock) {
	if block.prev != NullAddr {
		h.blocks[block.prev].next = block.next
	} else {
		h.head = block.next
	}
	if block.next != NullAddr {
		h.blocks[block.next].prev = block.prev
	} else {
		h.tail = block.prev
	}
}

// Block returns the payload bytes and liveness of addr.
func (h *Heap) Block(addr uint64) ([]byte, bool) {
	block, ok := h.blocks[addr]
	if !ok {
		return nil, false
	}
	return block.data, true
}

// Size returns the payload size of addr, or 0 if addr is not live.
func (h *Heap) Size(addr uint64) uint64 {
	block, ok := h.blocks[addr]
	if !ok {
		return 0
	}
	return uint64(len(block.data))
}

// Refs returns the current reference count of addr, or 0 if not live.
func (h *Heap) Refs(addr uint64) uint32 {
	block, ok := h.blocks[addr]
	if !ok {
		return 0
	}
	return block.refs
}

// IncreaseRef saturates at math.MaxUint32 rather than wrapping.
func (h *Heap) IncreaseRef(addr uint64) error {
	block, ok := h.blocks[addr]
	if !ok {
		return errors.Wrapf(ErrHeapCorruption, "increase_ref: unknown address %d", addr)
	}
	if block.refs < math.MaxUint32 {
		block.refs++
	}
	return nil
}

// DecreaseRef clamps at zero rather than underflowing.
func (h *Heap) DecreaseRef(addr uint64) error {
	block, ok := h.blocks[addr]
	if !ok {
		return errors.Wrapf(ErrHeapCorruption, "decrease_ref: unknown address %d", addr)
	}
	if block.refs > 0 {
		block.refs--
	}
	return nil
}

// Sweep performs a linear pass from tail to head, freeing every block whose
// refs == 0. It returns the addresses it freed, oldest-freed-last, matching
// the tail-to-head traversal order.
func (h *Heap) Sweep() []uint64 {
	var freed []uint64
	for addr := h.tail; addr != NullAddr; {
		block := h.blocks[addr]
		prev := block.prev
		if block.refs == 0 {
			h.unlink(addr, block)
			delete(h.blocks, addr)
			h.used -= uint64(len(block.data))
			freed = append(freed, addr)
		}
		addr = prev
	}
	return freed
}
