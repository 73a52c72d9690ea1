package kram

import "github.com/pkg/errors"

// Location is a stable handle into an InstructionBuilder: it keeps
// identifying the same element across every mutation except that element's
// own erasure, independent of any other insert/erase/move/swap. Per the
// design note on avoiding raw-pointer cycles in the doubly-linked sequence,
// a Location is an arena index, not a pointer — nodes live in the builder's
// own map and are referenced by id.
type Location int64

const locationNone Location = 0

// InstructionBuilder is the ordered, doubly-linked, editable sequence of
// instructions described in §3/§4.E. Every insertion returns a Location that
// remains valid until that node is explicitly erased.
type InstructionBuilder struct {
	nodes  map[Location]*builderNode
	head   Location
	tail   Location
	nextID Location
}

type builderNode struct {
	instr      *Instruction
	prev, next Location
}

// NewInstructionBuilder returns an empty builder.
func NewInstructionBuilder() *InstructionBuilder {
	return &InstructionBuilder{nodes: make(map[Location]*builderNode)}
}

// Len returns the number of instructions currently held.
func (b *InstructionBuilder) Len() int { return len(b.nodes) }

// Front/Back return the first/last Location, or locationNone if empty.
func (b *InstructionBuilder) Front() Location { return b.head }
func (b *InstructionBuilder) Back() Location  { return b.tail }

func (b *InstructionBuilder) alloc(instr *Instruction) Location {
	b.nextID++
	id := b.nextID
	b.nodes[id] = &builderNode{instr: instr}
	return id
}

// PushBack appends instr as the new last element.
func (b *InstructionBuilder) PushBack(instr *Instruction) Location {
	id := b.alloc(instr)
	node := b.nodes[id]
	if b.tail == locationNone {
		b.head, b.tail = id, id
		return id
	}
	node.prev = b.tail
	b.nodes[b.tail].next = id
	b.tail = id
	return id
}

// PushFront prepends instr as the new first element.
func (b *InstructionBuilder) PushFront(instr *Instruction) Location {
	id := b.alloc(instr)
	node := b.nodes[id]
	if b.head == locationNone {
		b.head, b.tail = id, id
		return id
	}
	node.next = b.head
	b.nodes[b.head].prev = id
	b.head = id
	return id
}

// InsertBefore inserts instr immediately before loc.
func (b *InstructionBuilder) InsertBefore(loc Location, instr *Instruction) (Location, error) {
	at, ok := b.nodes[loc]
	if !ok {
		return locationNone, errors.Errorf("insert before: unknown location %d", loc)
	}
	if at.prev == locationNone {
		return b.PushFront(instr), nil
	}
	id := b.alloc(instr)
	node := b.nodes[id]
	node.prev, node.next = at.prev, loc
	b.nodes[at.prev].next = id
	at.prev = id
	return id, nil
}

// InsertAfter inserts instr immediately after loc.
func (b *InstructionBuilder) InsertAfter(loc Location, instr *Instruction) (Location, error) {
	at, ok := b.nodes[loc]
	if !ok {
		return locationNone, errors.Errorf("insert after: unknown location %d", loc)
	}
	if at.next == locationNone {
		return b.PushBack(instr), nil
	}
	id := b.alloc(instr)
	node := b.nodes[id]
	node.prev, node.next = loc, at.next
	b.nodes[at.next].prev = id
	at.next = id
	return id, nil
}

// Erase removes the element at loc. Every other Location remains valid.
func (b *InstructionBuilder) Erase(loc Location) error {
	node, ok := b.nodes[loc]
	if !ok {
		return errors.Errorf("erase: unknown location %d", loc)
	}
	if node.prev != locationNone {
		b.nodes[node.prev].next = node.next
	} else {
		b.head = node.next
	}
	if node.next != locationNone {
		b.nodes[node.next].prev = node.prev
	} else {
		b.tail = node.prev
	}
	delete(b.nodes, loc)
	return nil
}

// At returns the instruction stored at loc.
func (b *InstructionBuilder) At(loc Location) (*Instruction, error) {
	node, ok := b.nodes[loc]
	if !ok {
		return nil, errors.Errorf("at: unknown location %d", loc)
	}
	return node.instr, nil
}

// Swap exchanges the instructions held at two locations, leaving both
// handles pointing at the same position in sequence order.
func (b *InstructionBuilder) Swap(a, c Location) error {
	na, ok := b.nodes[a]
	if !ok {
		return errors.Errorf("swap: unknown location %d", a)
	}
	nc, ok := b.nodes[c]
	if !ok {
		return errors.Errorf("swap: unknown location %d", c)
	}
	na.instr, nc.instr = nc.instr, na.instr
	return nil
}

// MoveBy relocates the node at loc by delta positions toward the tail
// (negative delta moves it toward the head), preserving every other node's
// relative order. It is a relative move: delta is clamped to the available
// range rather than erroring out at the ends.
func (b *InstructionBuilder) MoveBy(loc Location, delta int) error {
	node, ok := b.nodes[loc]
	if !ok {
		return errors.Errorf("move: unknown location %d", loc)
	}
	if delta == 0 {
		return nil
	}

	// Detach loc first, remembering its original neighbors.
	origPrev, origNext := node.prev, node.next
	if node.prev != locationNone {
		b.nodes[node.prev].next = node.next
	} else {
		b.head = node.next
	}
	if node.next != locationNone {
		b.nodes[node.next].prev = node.prev
	} else {
		b.tail = node.prev
	}
	node.prev, node.next = locationNone, locationNone

	// Walk from the original neighbor in the requested direction to find the
	// new insertion point.
	if delta > 0 {
		cursor := origNext
		for i := 0; i < delta-1 && cursor != locationNone; i++ {
			cursor = b.nodes[cursor].next
		}
		if cursor == locationNone {
			b.appendDetached(loc, node)
			return nil
		}
		b.insertDetachedAfter(loc, node, cursor)
	} else {
		cursor := origPrev
		for i := 0; i < (-delta)-1 && cursor != locationNone; i++ {
			cursor = b.nodes[cursor].prev
		}
		if cursor == locationNone {
			b.prependDetached(loc, node)
			return nil
		}
		b.insertDetachedBefore(loc, node, cursor)
	}
	return nil
}

func (b *InstructionBuilder) appendDetached(loc Location, node *builderNode) {
	if b.tail == locationNone {
		b.head, b.tail = loc, loc
		return
	}
	node.prev = b.tail
	b.nodes[b.tail].next = loc
	b.tail = loc
}

func (b *InstructionBuilder) prependDetached(loc Location, node *builderNode) {
	if b.head == locationNone {
		b.head, b.tail = loc, loc
		return
	}
	node.next = b.head
	b.nodes[b.head].prev = loc
	b.head = loc
}

func (b *InstructionBuilder) insertDetachedAfter(loc Location, node *builderNode, after Location) {
	afterNode := b.nodes[after]
	node.prev, node.next = after, afterNode.next
	if afterNode.next != locationNone {
		b.nodes[afterNode.next].prev = loc
	} else {
		b.tail = loc
	}
	afterNode.next = loc
}

func (b *InstructionBuilder) insertDetachedBefore(loc Location, node *builderNode, before Location) {
	beforeNode := b.nodes[before]
	node.next, node.prev = before, beforeNode.prev
	if beforeNode.prev != locationNone {
		b.nodes[beforeNode.prev].next = loc
	} else {
		b.head = loc
	}
	beforeNode.prev = loc
}

// PushBackBuilder splices other onto the end of b in order. Per §4.E, this
// is a move: other is left empty and every one of its Locations becomes
// invalid (the nodes now live in b under fresh handles it returns).
func (b *InstructionBuilder) PushBackBuilder(other *InstructionBuilder) []Location {
	locs := make([]Location, 0, other.Len())
	for loc := other.Front(); loc != locationNone; {
		node := other.nodes[loc]
		next := node.next
		locs = append(locs, b.PushBack(node.instr))
		loc = next
	}
	other.nodes = make(map[Location]*builderNode)
	other.head, other.tail = locationNone, locationNone
	return locs
}

// Instructions returns every instruction in sequence order.
func (b *InstructionBuilder) Instructions() []*Instruction {
	out := make([]*Instruction, 0, b.Len())
	for loc := b.head; loc != locationNone; loc = b.nodes[loc].next {
		out = append(out, b.nodes[loc].instr)
	}
	return out
}

// TotalByteCount returns the sum of every instruction's ByteCount.
func (b *InstructionBuilder) TotalByteCount() int {
	total := 0
	for loc := b.head; loc != locationNone; loc = b.nodes[loc].next {
		total += b.nodes[loc].instr.ByteCount()
	}
	return total
}

// Build serializes every instruction in order into buf, truncating at
// len(buf), and returns the number of bytes written.
func (b *InstructionBuilder) Build(buf []byte) int {
	written := 0
	for loc := b.head; loc != locationNone && written < len(buf); loc = b.nodes[loc].next {
		written += b.nodes[loc].instr.Write(buf[written:])
	}
	return written
}

// BuildTo appends every instruction's encoded bytes to w in order and
// returns the number of bytes written.
func (b *InstructionBuilder) BuildTo(w *ByteBufferWriter) int {
	written := 0
	var scratch [16]byte
	for loc := b.head; loc != locationNone; loc = b.nodes[loc].next {
		instr := b.nodes[loc].instr
		buf := scratch[:]
		if instr.ByteCount() > len(buf) {
			buf = make([]byte, instr.ByteCount())
		}
		n := instr.Write(buf[:instr.ByteCount()])
		w.WriteBytes(buf[:n])
		written += n
	}
	return written
}

// BuildBytes serializes every instruction into a freshly allocated slice
// sized exactly to TotalByteCount.
func (b *InstructionBuilder) BuildBytes() []byte {
	out := make([]byte, b.TotalByteCount())
	b.Build(out)
	return out
}
