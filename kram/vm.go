package kram

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// operandSpace names which backing store an effective address resolved
// into, so the MOV/MMB/LEA handlers below can read or write through a
// single interface regardless of segment.
type operandSpace uint8

const (
	spaceNone operandSpace = iota
	spaceStack
	spaceStatic
	spaceHeap
)

// effectiveAddr is the result of resolving a MemoryLocation (§4.I
// "effective(mem_loc)"): a backing store plus an offset into it.
type effectiveAddr struct {
	space    operandSpace
	offset   uint64
	heapAddr uint64 // heap block handle, meaningful only when space == spaceHeap
}

// VM is the fetch-decode-execute engine described in §4.I. One VM owns
// exactly one stack and one heap; it may execute across several chunks,
// each registered into it and addressed by the handle RegisterChunk
// returns (the "pointer" a chunk's connections table stores, per §3).
type VM struct {
	registers [numRegisters]Register

	stack *Stack
	heap  *Heap

	chunks      map[uint64]*Chunk
	nextChunkID uint64

	callDepth int
	exit      bool
	err       error
	heapErr   error

	log *logrus.Logger
}

// NewVM builds a VM with a fresh stack of the given size and an empty
// heap, and sets it up to begin execution at entryFunction of the root
// chunk (which is registered and returned its chunk handle).
func NewVM(root *Chunk, entryFunction int, stackSize uint64) (*VM, error) {
	vm := &VM{
		chunks: make(map[uint64]*Chunk),
		stack:  NewStack(stackSize),
		heap:   NewHeap(),
		log:    logrus.New(),
	}
	rootAddr := vm.RegisterChunk(root)

	fn, err := root.Function(entryFunction)
	if err != nil {
		return nil, err
	}

	vm.registers[CH] = Register(rootAddr)
	vm.registers[SD] = Register(encodeStaticAddr(0))
	vm.registers[SB] = 0
	vm.registers[IP] = Register(fn.CodeOffset)

	top := uint64(fn.StackCount)
	if err := vm.stack.SetTop(top); err != nil {
		return nil, err
	}
	vm.registers[SP] = Register(top)
	vm.registers[ST] = Register(top)
	vm.callDepth = 1

	return vm, nil
}

// SetLogger overrides the default logrus logger, e.g. to attach a
// formatter or route output somewhere other than stderr.
func (vm *VM) SetLogger(log *logrus.Logger) { vm.log = log }

// RegisterChunk adds c to this VM's chunk registry and returns its handle,
// the value a connections table entry elsewhere should store to refer to
// it in a cross-chunk CALL.
func (vm *VM) RegisterChunk(c *Chunk) uint64 {
	vm.nextChunkID++
	id := vm.nextChunkID
	vm.chunks[id] = c
	return id
}

// Stack and Heap expose the engine's owned resources, e.g. for a caller
// inspecting final state in a test.
func (vm *VM) Stack() *Stack { return vm.stack }
func (vm *VM) Heap() *Heap   { return vm.heap }

// Register returns the current value of r.
func (vm *VM) Register(r RegisterIndex) Register { return vm.registers[r] }

// SetRegister overwrites r, e.g. to seed arguments before a test Run.
func (vm *VM) SetRegister(r RegisterIndex, v Register) { vm.registers[r] = v }

// Exited reports whether the engine has stopped, and Err returns the fault
// that stopped it, if any.
func (vm *VM) Exited() bool { return vm.exit }
func (vm *VM) Err() error   { return vm.err }

// HeapErr returns the most recent recoverable heap exhaustion, if any.
// Unlike Err, a heap exhaustion does not stop the engine: NEW leaves the
// null address in its destination register and execution continues, so the
// running program surfaces the failure itself.
func (vm *VM) HeapErr() error { return vm.heapErr }

func (vm *VM) currentChunk() *Chunk {
	return vm.chunks[vm.registers[CH].Addr()]
}

// Run steps the engine until it exits or faults.
func (vm *VM) Run() error {
	for !vm.exit {
		if err := vm.Step(); err != nil {
			vm.fault(err)
			return err
		}
	}
	return vm.err
}

func (vm *VM) fault(err error) {
	vm.err = err
	vm.exit = true
	vm.log.WithError(err).WithFields(logrus.Fields{
		"ip":    vm.registers[IP].Addr(),
		"ch":    vm.registers[CH].Addr(),
		"sb":    vm.registers[SB].Addr(),
		"sp":    vm.registers[SP].Addr(),
		"st":    vm.registers[ST].Addr(),
		"depth": vm.callDepth,
	}).Error("vm fault")
}

// DumpState logs the register file and current frame geometry at debug
// level, one field per register.
func (vm *VM) DumpState() {
	fields := logrus.Fields{
		"depth":     vm.callDepth,
		"stackSize": vm.stack.Size(),
		"stackTop":  vm.stack.Top(),
		"heapLive":  vm.heap.Len(),
		"heapUsed":  vm.heap.Used(),
	}
	for idx := 0; idx < numRegisters; idx++ {
		fields[RegisterIndex(idx).String()] = vm.registers[idx].Addr()
	}
	vm.log.WithFields(fields).Debug("vm state")
}

// Step decodes and executes exactly one instruction.
func (vm *VM) Step() error {
	chunk := vm.currentChunk()
	if chunk == nil {
		return errors.Wrap(ErrIllegalOperation, "no current chunk")
	}
	ipOff := vm.registers[IP].Addr()
	code, err := chunk.CodeByteAt(ipOff)
	if err != nil {
		return err
	}
	if len(code) == 0 {
		vm.exit = true
		return nil
	}
	opcode := Bytecode(code[0])
	args := code[1:]

	vm.log.WithFields(logrus.Fields{"ip": ipOff, "opcode": opcode}).Debug("dispatch")

	switch {
	case opcode == Nop:
		vm.registers[IP] = Register(ipOff + 1)
	case IsMov(opcode):
		consumed, err := vm.execMov(opcode, args)
		if err != nil {
			return err
		}
		vm.registers[IP] = Register(ipOff + 1 + uint64(consumed))
	case opcode == Lea:
		consumed, err := vm.execLea(args)
		if err != nil {
			return err
		}
		vm.registers[IP] = Register(ipOff + 1 + uint64(consumed))
	case opcode == Mmb:
		consumed, err := vm.execMmb(args)
		if err != nil {
			return err
		}
		vm.registers[IP] = Register(ipOff + 1 + uint64(consumed))
	case opcode == New:
		consumed, err := vm.execNew(args)
		if err != nil {
			return err
		}
		vm.registers[IP] = Register(ipOff + 1 + uint64(consumed))
	case opcode == Del:
		consumed, err := vm.execDel(args)
		if err != nil {
			return err
		}
		vm.registers[IP] = Register(ipOff + 1 + uint64(consumed))
	case opcode == Mhr:
		consumed, err := vm.execMhr(args)
		if err != nil {
			return err
		}
		vm.registers[IP] = Register(ipOff + 1 + uint64(consumed))
	case opcode == Cst:
		consumed, err := vm.execCst(args)
		if err != nil {
			return err
		}
		vm.registers[IP] = Register(ipOff + 1 + uint64(consumed))
	case opcode == Call:
		if err := vm.execCall(ipOff, args); err != nil {
			return err
		}
	case opcode == Ret:
		if err := vm.execRet(); err != nil {
			return err
		}
	default:
		return errors.Wrapf(ErrUnknownOpcode, "opcode byte 0x%02x", byte(opcode))
	}
	return nil
}

// effective resolves a MemoryLocation into a backing store and offset
// (§4.I). RegisterR addressing decodes the base register's tagged address
// and offsets within whatever store it names.
func (vm *VM) effective(loc MemoryLocation) (effectiveAddr, error) {
	scale := uint64(1)
	if loc.Split.Present {
		scale = uint64(loc.Split.Scale)
	}
	splitVal := uint64(0)
	if loc.Split.Present {
		splitVal = vm.registers[loc.Split.Reg].Addr() * scale
	}

	switch loc.Segment {
	case SegNone:
		return effectiveAddr{space: spaceNone, offset: splitVal + loc.Delta}, nil
	case SegStack:
		return effectiveAddr{space: spaceStack, offset: vm.registers[SB].Addr() + splitVal + loc.Delta}, nil
	case SegStatic:
		return effectiveAddr{space: spaceStatic, offset: splitVal + loc.Delta}, nil
	case SegRegisterR:
		base := vm.registers[loc.BaseReg].Addr()
		kind, payload := unpackAddr(base)
		switch kind {
		case addrKindStack:
			return effectiveAddr{space: spaceStack, offset: payload + splitVal + loc.Delta}, nil
		case addrKindStatic:
			return effectiveAddr{space: spaceStatic, offset: payload + splitVal + loc.Delta}, nil
		case addrKindHeap:
			handle, off := decodeHeapAddr(payload)
			return effectiveAddr{space: spaceHeap, heapAddr: handle, offset: off + splitVal + loc.Delta}, nil
		default:
			return effectiveAddr{}, errors.Wrap(ErrSegmentationFault, "register does not hold a taggable address")
		}
	default:
		return effectiveAddr{}, errors.Errorf("unknown segment %d", loc.Segment)
	}
}

// addressOf re-tags an effectiveAddr as a Register value, the inverse of
// the decode effective performs for RegisterR — used by LEA.
func (vm *VM) addressOf(ea effectiveAddr) Register {
	switch ea.space {
	case spaceStack:
		return Register(encodeStackAddr(ea.offset))
	case spaceStatic:
		return Register(encodeStaticAddr(ea.offset))
	case spaceHeap:
		return Register(encodeHeapAddr(ea.heapAddr, ea.offset))
	default:
		return Register(ea.offset)
	}
}

func (vm *VM) readBytes(ea effectiveAddr, n int) ([]byte, error) {
	switch ea.space {
	case spaceStack:
		return vm.stack.Slice(ea.offset, uint64(n))
	case spaceStatic:
		statics := vm.currentChunk().Statics()
		if ea.offset+uint64(n) > uint64(len(statics)) {
			return nil, errors.Wrapf(ErrSegmentationFault, "static read at %d..%d past %d-byte region", ea.offset, ea.offset+uint64(n), len(statics))
		}
		return statics[ea.offset : ea.offset+uint64(n)], nil
	case spaceHeap:
		data, ok := vm.heap.Block(ea.heapAddr)
		if !ok {
			return nil, errors.Wrapf(ErrHeapCorruption, "read through dangling heap address %d", ea.heapAddr)
		}
		if ea.offset+uint64(n) > uint64(len(data)) {
			return nil, errors.Wrapf(ErrSegmentationFault, "heap read at %d..%d past %d-byte block", ea.offset, ea.offset+uint64(n), len(data))
		}
		return data[ea.offset : ea.offset+uint64(n)], nil
	default:
		return nil, errors.Wrap(ErrSegmentationFault, "cannot dereference a segment-less address")
	}
}

func (vm *VM) writeBytes(ea effectiveAddr, data []byte) error {
	dst, err := vm.readBytes(ea, len(data))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

func sizeMask(size DataSize) uint64 {
	switch size {
	case SizeByte:
		return 0xFF
	case SizeWord:
		return 0xFFFF
	case SizeDWord:
		return 0xFFFFFFFF
	default:
		return 0xFFFFFFFFFFFFFFFF
	}
}

func (vm *VM) execMov(opcode Bytecode, args []byte) (int, error) {
	shape := MovShapeOf(opcode)
	size := MovSizeOf(opcode)
	mask := sizeMask(size)

	switch shape {
	case ShapeRegReg:
		dst, src := RegisterIndex(args[0]), RegisterIndex(args[1])
		newVal := (uint64(vm.registers[dst]) &^ mask) | (uint64(vm.registers[src]) & mask)
		vm.registers[dst] = Register(newVal)
		return 2, nil

	case ShapeRegMem:
		dst := RegisterIndex(args[0])
		dm, err := decodeMemLocAt(args, 1)
		if err != nil {
			return 0, err
		}
		ea, err := vm.effective(dm.loc)
		if err != nil {
			return 0, err
		}
		data, err := vm.readBytes(ea, size.Bytes())
		if err != nil {
			return 0, err
		}
		val := readSized(data, size)
		vm.registers[dst] = Register((uint64(vm.registers[dst]) &^ mask) | (val & mask))
		return 1 + dm.n, nil

	case ShapeRegImm:
		dst := RegisterIndex(args[0])
		imm := readSized(args[1:], size)
		vm.registers[dst] = Register((uint64(vm.registers[dst]) &^ mask) | (imm & mask))
		return 1 + size.Bytes(), nil

	case ShapeMemReg:
		dm, err := decodeMemLocAt(args, 0)
		if err != nil {
			return 0, err
		}
		src := RegisterIndex(args[dm.n])
		ea, err := vm.effective(dm.loc)
		if err != nil {
			return 0, err
		}
		buf := make([]byte, size.Bytes())
		writeSizedInto(buf, uint64(vm.registers[src])&mask, size)
		if err := vm.writeBytes(ea, buf); err != nil {
			return 0, err
		}
		return dm.n + 1, nil

	case ShapeMemImm:
		dm, err := decodeMemLocAt(args, 0)
		if err != nil {
			return 0, err
		}
		imm := readSized(args[dm.n:], size)
		ea, err := vm.effective(dm.loc)
		if err != nil {
			return 0, err
		}
		buf := make([]byte, size.Bytes())
		writeSizedInto(buf, imm, size)
		if err := vm.writeBytes(ea, buf); err != nil {
			return 0, err
		}
		return dm.n + size.Bytes(), nil

	case ShapeMemMem:
		dstDm, err := decodeMemLocAt(args, 0)
		if err != nil {
			return 0, err
		}
		srcDm, err := decodeMemLocAt(args, dstDm.n)
		if err != nil {
			return 0, err
		}
		eaDst, err := vm.effective(dstDm.loc)
		if err != nil {
			return 0, err
		}
		eaSrc, err := vm.effective(srcDm.loc)
		if err != nil {
			return 0, err
		}
		data, err := vm.readBytes(eaSrc, size.Bytes())
		if err != nil {
			return 0, err
		}
		if err := vm.writeBytes(eaDst, data); err != nil {
			return 0, err
		}
		return dstDm.n + srcDm.n, nil

	default:
		return 0, errors.Errorf("unhandled mov shape %v", shape)
	}
}

func writeSizedInto(buf []byte, v uint64, size DataSize) {
	switch size {
	case SizeByte:
		buf[0] = byte(v)
	case SizeWord:
		uint16ToBytes(uint16(v), buf)
	case SizeDWord:
		uint32ToBytes(uint32(v), buf)
	default:
		uint64ToBytes(v, buf)
	}
}

func (vm *VM) execLea(args []byte) (int, error) {
	dst := RegisterIndex(args[0])
	dm, err := decodeMemLocAt(args, 1)
	if err != nil {
		return 0, err
	}
	ea, err := vm.effective(dm.loc)
	if err != nil {
		return 0, err
	}
	vm.registers[dst] = vm.addressOf(ea)
	return 1 + dm.n, nil
}

func (vm *VM) execMmb(args []byte) (int, error) {
	sizeArg := DataSize(args[0])
	dst, src := RegisterIndex(args[1]), RegisterIndex(args[2])
	bytesCount := readSized(args[3:], sizeArg)

	srcEA, err := vm.effectiveFromAddr(vm.registers[src].Addr())
	if err != nil {
		return 0, err
	}
	dstEA, err := vm.effectiveFromAddr(vm.registers[dst].Addr())
	if err != nil {
		return 0, err
	}
	data, err := vm.readBytes(srcEA, int(bytesCount))
	if err != nil {
		return 0, err
	}
	if err := vm.writeBytes(dstEA, data); err != nil {
		return 0, err
	}
	return 3 + sizeArg.Bytes(), nil
}

// effectiveFromAddr treats a raw tagged address (as held by a register
// after LEA or NEW) as a zero-delta memory location, for MMB/DEL/MHR which
// take a register holding an address directly rather than a full operand
// header.
func (vm *VM) effectiveFromAddr(addr uint64) (effectiveAddr, error) {
	kind, payload := unpackAddr(addr)
	switch kind {
	case addrKindStack:
		return effectiveAddr{space: spaceStack, offset: payload}, nil
	case addrKindStatic:
		return effectiveAddr{space: spaceStatic, offset: payload}, nil
	case addrKindHeap:
		handle, off := decodeHeapAddr(payload)
		return effectiveAddr{space: spaceHeap, heapAddr: handle, offset: off}, nil
	default:
		return effectiveAddr{}, errors.Wrap(ErrSegmentationFault, "register does not hold a taggable address")
	}
}

func (vm *VM) execNew(args []byte) (int, error) {
	addRef := args[0] != 0
	dst := RegisterIndex(args[1])
	size := uint64FromBytes(args[2:])
	addr := vm.heap.Malloc(size, addRef)
	if addr == NullAddr {
		// Exhaustion is recoverable in-band: the program sees the null
		// address and surfaces the error itself.
		vm.heapErr = errors.Wrapf(ErrHeapAllocation, "new of %d bytes", size)
		vm.registers[dst] = 0
		vm.log.WithFields(logrus.Fields{"bytes": size, "used": vm.heap.Used()}).Warn("heap exhausted")
		return 10, nil
	}
	vm.registers[dst] = Register(encodeHeapAddr(addr, 0))
	return 10, nil
}

func (vm *VM) execDel(args []byte) (int, error) {
	src := RegisterIndex(args[0])
	kind, payload := unpackAddr(vm.registers[src].Addr())
	if kind != addrKindHeap {
		return 0, errors.Wrap(ErrIllegalOperation, "del of a non-heap address")
	}
	handle, _ := decodeHeapAddr(payload)
	vm.heap.Free(handle)
	return 1, nil
}

func (vm *VM) execMhr(args []byte) (int, error) {
	increase := args[0] != 0
	src := RegisterIndex(args[1])
	kind, payload := unpackAddr(vm.registers[src].Addr())
	if kind != addrKindHeap {
		return 0, errors.Wrap(ErrIllegalOperation, "mhr of a non-heap address")
	}
	handle, _ := decodeHeapAddr(payload)
	if increase {
		if err := vm.heap.IncreaseRef(handle); err != nil {
			return 0, err
		}
	} else if err := vm.heap.DecreaseRef(handle); err != nil {
		return 0, err
	}
	return 2, nil
}

func (vm *VM) execCst(args []byte) (int, error) {
	dstType := DataType(args[0])
	srcType := DataType(args[1])
	target := RegisterIndex(args[2])
	vm.registers[target] = Cast(vm.registers[target], srcType, dstType)
	return 3, nil
}

// registerImageSize is the byte footprint of one saved register image, the
// bottom of every non-root frame's stack layout (§3 "Stack").
const registerImageSize = uint64(numRegisters) * 8

func (vm *VM) execCall(ipOff uint64, args []byte) error {
	connIndex := uint32FromBytes(args[0:])
	fnIndex := uint32FromBytes(args[4:])

	chunk := vm.currentChunk()
	var targetAddr uint64
	var target *Chunk
	if connIndex == noConnection {
		targetAddr = vm.registers[CH].Addr()
		target = chunk
	} else {
		connAddr, err := chunk.Connection(int(connIndex))
		if err != nil {
			return err
		}
		target = vm.chunks[connAddr]
		if target == nil {
			return errors.Wrapf(ErrIllegalOperation, "call through unregistered connection %d", connAddr)
		}
		targetAddr = connAddr
	}

	fn, err := target.Function(int(fnIndex))
	if err != nil {
		return err
	}

	// Record the return site in the caller's own chunk before any register
	// is overwritten.
	returnIP := ipOff + 1 + 8

	if vm.stack.Size()-vm.stack.Top() < vm.stack.Size()/2 {
		vm.stack.Resize(0)
	}

	newBase := vm.stack.Top()
	for idx := 0; idx < numRegisters; idx++ {
		v := uint64(vm.registers[idx])
		if RegisterIndex(idx) == IP {
			v = returnIP
		}
		if err := vm.stack.WriteU64(newBase+uint64(idx)*8, v); err != nil {
			return err
		}
	}

	paramBytes := uint64(fn.ParameterCount)
	paramSrcStart := newBase - paramBytes
	localSlotsStart := newBase + registerImageSize
	paramAreaStart := localSlotsStart + uint64(fn.StackCount)
	if paramBytes > 0 {
		src, err := vm.stack.Slice(paramSrcStart, paramBytes)
		if err != nil {
			return err
		}
		saved := append([]byte(nil), src...)
		dst, err := vm.stack.Slice(paramAreaStart, paramBytes)
		if err != nil {
			return err
		}
		copy(dst, saved)
	}
	newTop := paramAreaStart + paramBytes

	vm.registers[CH] = Register(targetAddr)
	vm.registers[SD] = Register(encodeStaticAddr(0))
	vm.registers[SB] = Register(newBase)
	vm.registers[SP] = Register(paramAreaStart)
	vm.registers[ST] = Register(newTop)
	vm.registers[IP] = Register(fn.CodeOffset)

	if err := vm.stack.SetTop(newTop); err != nil {
		return err
	}
	vm.callDepth++
	return nil
}

func (vm *VM) execRet() error {
	vm.callDepth--
	if vm.callDepth <= 0 {
		vm.exit = true
		return nil
	}

	oldBase := vm.registers[SB].Addr()
	returnValue := vm.registers[SR]
	for idx := 0; idx < numRegisters; idx++ {
		if RegisterIndex(idx) == SR {
			continue
		}
		v, err := vm.stack.ReadU64(oldBase + uint64(idx)*8)
		if err != nil {
			return err
		}
		vm.registers[idx] = Register(v)
	}
	vm.registers[SR] = returnValue

	if err := vm.stack.SetTop(oldBase); err != nil {
		return err
	}
	return nil
}
