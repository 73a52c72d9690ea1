package kram

import "github.com/pkg/errors"

// functionEntrySize is the frozen, fixed width of a function table entry:
// parameterCount (u32) + stackCount (u32) + codeOffset (u64), resolving the
// "not yet specified" width in the design notes at 4+4+8 = 16 bytes.
const functionEntrySize = 16

// FunctionEntry describes one callable function within a chunk's function
// table (§3 "Function entry").
type FunctionEntry struct {
	ParameterCount uint32
	StackCount     uint32
	CodeOffset     uint64
}

// FunctionBuilder supplies one function's metadata and code to a
// ChunkBuilder. Build serializes Code into the chunk image and leaves the
// InstructionBuilder itself unchanged.
type FunctionBuilder struct {
	ParameterCount uint32
	StackCount     uint32
	Code           *InstructionBuilder
}

// ChunkBuilder accumulates the inputs §4.F's build algorithm needs: a list
// of static region sizes, a list of function builders, and the resolved
// addresses of every connected chunk.
type ChunkBuilder struct {
	StaticSizes []uint64
	Functions   []*FunctionBuilder
	Connections []uint64
}

// NewChunkBuilder returns an empty builder.
func NewChunkBuilder() *ChunkBuilder {
	return &ChunkBuilder{}
}

// Build lays out one contiguous [connections|statics|function table|code]
// image per §4.F/§6: it sums each region's byte count, allocates once, and
// writes every region exactly once. Each function's codeOffset is the
// running sum of the code bytes of every function written before it.
func (cb *ChunkBuilder) Build() (*Chunk, error) {
	connectionsBytes := len(cb.Connections) * 8

	var staticsBytes uint64
	for _, sz := range cb.StaticSizes {
		staticsBytes += sz
	}

	functionsBytes := len(cb.Functions) * functionEntrySize

	var codeBytes int
	for _, fb := range cb.Functions {
		if fb.Code == nil {
			return nil, errors.New("chunk builder: function with nil code")
		}
		codeBytes += fb.Code.TotalByteCount()
	}

	total := connectionsBytes + int(staticsBytes) + functionsBytes + codeBytes
	data := make([]byte, total)

	offset := 0
	for _, conn := range cb.Connections {
		uint64ToBytes(conn, data[offset:offset+8])
		offset += 8
	}

	staticsOffset := offset
	offset += int(staticsBytes)

	functionsOffset := offset
	offset += functionsBytes
	codeRegionOffset := offset

	var runningCodeOffset uint64
	codeWriteOffset := codeRegionOffset
	for i, fb := range cb.Functions {
		entryOff := functionsOffset + i*functionEntrySize
		uint32ToBytes(fb.ParameterCount, data[entryOff:entryOff+4])
		uint32ToBytes(fb.StackCount, data[entryOff+4:entryOff+8])
		uint64ToBytes(runningCodeOffset, data[entryOff+8:entryOff+16])

		n := fb.Code.Build(data[codeWriteOffset:])
		codeWriteOffset += n
		runningCodeOffset += uint64(n)
	}

	return &Chunk{
		data:            data,
		connectionCount: len(cb.Connections),
		staticsOffset:   staticsOffset,
		staticsLen:      int(staticsBytes),
		functionsOffset: functionsOffset,
		functionCount:   len(cb.Functions),
		codeOffset:      codeRegionOffset,
		codeLen:         codeBytes,
	}, nil
}

// Chunk is a loaded, self-describing binary image: code, statics, the
// function table, and connections to other chunks, all inside one owned
// byte slice (§3 "Chunk image").
type Chunk struct {
	data []byte

	connectionCount int
	staticsOffset   int
	staticsLen      int
	functionsOffset int
	functionCount   int
	codeOffset      int
	codeLen         int
}

// LoadChunk reinterprets an existing byte image as a chunk, given the three
// counts that a file header or a connection record already told the
// caller. The region offsets are recomputed from those counts the same way
// Build derives them, so a correctly-described image always round-trips.
func LoadChunk(data []byte, connectionCount, staticsBytes, functionCount int) (*Chunk, error) {
	connectionsBytes := connectionCount * 8
	functionsBytes := functionCount * functionEntrySize
	staticsOffset := connectionsBytes
	functionsOffset := staticsOffset + staticsBytes
	codeOffset := functionsOffset + functionsBytes
	if codeOffset > len(data) {
		return nil, errors.Wrapf(ErrChunk, "region header claims %d bytes but image is only %d", codeOffset, len(data))
	}
	return &Chunk{
		data:            data,
		connectionCount: connectionCount,
		staticsOffset:   staticsOffset,
		staticsLen:      staticsBytes,
		functionsOffset: functionsOffset,
		functionCount:   functionCount,
		codeOffset:      codeOffset,
		codeLen:         len(data) - codeOffset,
	}, nil
}

// Connections returns the chunk's connection pointers, resolved at load.
func (c *Chunk) Connections() []uint64 {
	out := make([]uint64, c.connectionCount)
	for i := range out {
		out[i] = uint64FromBytes(c.data[i*8:])
	}
	return out
}

// Connection returns the i'th connection pointer, for an execution engine
// resolving a cross-chunk CALL.
func (c *Chunk) Connection(i int) (uint64, error) {
	if i < 0 || i >= c.connectionCount {
		return 0, errors.Wrapf(ErrChunk, "connection index %d out of range (%d connections)", i, c.connectionCount)
	}
	return uint64FromBytes(c.data[i*8:]), nil
}

// Statics returns the chunk's static region. Unlike the rest of the image,
// these bytes are writable at execution time (§5).
func (c *Chunk) Statics() []byte {
	return c.data[c.staticsOffset : c.staticsOffset+c.staticsLen]
}

// FunctionCount returns the number of entries in the function table.
func (c *Chunk) FunctionCount() int { return c.functionCount }

// Function decodes the i'th function table entry.
func (c *Chunk) Function(i int) (FunctionEntry, error) {
	if i < 0 || i >= c.functionCount {
		return FunctionEntry{}, errors.Wrapf(ErrChunk, "function index %d out of range (%d functions)", i, c.functionCount)
	}
	off := c.functionsOffset + i*functionEntrySize
	return FunctionEntry{
		ParameterCount: uint32FromBytes(c.data[off:]),
		StackCount:     uint32FromBytes(c.data[off+4:]),
		CodeOffset:     uint64FromBytes(c.data[off+8:]),
	}, nil
}

// Code returns the chunk's concatenated instruction bytes.
func (c *Chunk) Code() []byte {
	return c.data[c.codeOffset : c.codeOffset+c.codeLen]
}

// CodeByteAt returns a view of the code region starting at a
// codeOffset-relative byte, for the fetch loop to decode from.
func (c *Chunk) CodeByteAt(off uint64) ([]byte, error) {
	if off > uint64(c.codeLen) {
		return nil, errors.Wrapf(ErrSegmentationFault, "code offset %d past end of %d-byte code region", off, c.codeLen)
	}
	return c.data[c.codeOffset+int(off):], nil
}
