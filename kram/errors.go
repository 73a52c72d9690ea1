package kram

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Sentinel errors for the fault conditions enumerated in §7. Callers wrap
// these with github.com/pkg/errors so a failure keeps both its call-site
// context and its Is()-comparable identity.
var (
	// ErrDecode signals a malformed or truncated encoded memory location: a
	// header, register byte, or delta that ran out of bytes before it was
	// fully read.
	ErrDecode = errors.New("kram: decode error")

	// ErrStackOverflow signals a Push that would grow the stack past the
	// maximum size its caller passed. Resize itself never fails.
	ErrStackOverflow = errors.New("kram: stack overflow")

	// ErrStackUnderflow signals a Pop of more bytes than the stack holds.
	ErrStackUnderflow = errors.New("kram: stack underflow")

	// ErrHeapAllocation signals malloc failing to find or grow a free block.
	ErrHeapAllocation = errors.New("kram: heap allocation failed")

	// ErrHeapCorruption signals a ref-count operation on, or a read or write
	// through, an address that doesn't name a live block. Free of such an
	// address is a no-op instead.
	ErrHeapCorruption = errors.New("kram: heap corruption")

	// ErrSegmentationFault signals an effective address that falls outside
	// every segment it could plausibly resolve against.
	ErrSegmentationFault = errors.New("kram: segmentation fault")

	// ErrIllegalOperation signals a well-formed instruction whose operands
	// violate an execution-time invariant (e.g. CALL through a connection
	// that names no registered chunk, or DEL/MHR of a non-heap address).
	ErrIllegalOperation = errors.New("kram: illegal operation")

	// ErrUnknownOpcode signals an opcode byte outside the dense Nop..Ret
	// range.
	ErrUnknownOpcode = errors.New("kram: unknown opcode")

	// ErrAssembler signals the lexer rejecting the source text outright
	// (as opposed to accumulating recoverable CompilerErrors).
	ErrAssembler = errors.New("kram: assembler error")

	// ErrChunk signals a malformed chunk image or an out-of-range lookup in
	// one: region counts whose offsets don't fit inside the image, or a
	// function or connection index past the end of its table.
	ErrChunk = errors.New("kram: chunk error")
)

// CompilerError is a single recoverable diagnostic produced while lexing or
// assembling source text, carrying the same row/column provenance the
// teacher's assembler draft tracked in its preprocessLine/parseInputLine
// helpers.
type CompilerError struct {
	Message string
	Row     int
	Column  int
	// HasPosition is false for diagnostics that aren't tied to a specific
	// source location (e.g. "unexpected end of input").
	HasPosition bool
}

// NewCompilerError returns a position-less diagnostic.
func NewCompilerError(format string, args ...any) *CompilerError {
	return &CompilerError{Message: fmt.Sprintf(format, args...)}
}

// NewCompilerErrorAt returns a diagnostic anchored to a specific row/column.
func NewCompilerErrorAt(row, column int, format string, args ...any) *CompilerError {
	return &CompilerError{Message: fmt.Sprintf(format, args...), Row: row, Column: column, HasPosition: true}
}

func (e *CompilerError) Error() string {
	if e.HasPosition {
		return fmt.Sprintf("%d:%d: %s", e.Row, e.Column, e.Message)
	}
	return e.Message
}

// CompilerErrors accumulates every CompilerError seen during a single lex or
// assemble pass. It wraps a hashicorp/go-multierror.Error the way the
// teacher's CompileSourceFromBuffer accumulates line failures instead of
// aborting on the first one, so a caller gets every diagnostic in one pass
// rather than a single fail-fast error.
type CompilerErrors struct {
	errs *multierror.Error
}

// NewCompilerErrors returns an empty accumulator.
func NewCompilerErrors() *CompilerErrors {
	return &CompilerErrors{}
}

// Add appends a diagnostic. Nil errors are ignored.
func (c *CompilerErrors) Add(err error) {
	if err == nil {
		return
	}
	c.errs = multierror.Append(c.errs, err)
}

// Addf formats and appends a position-less diagnostic.
func (c *CompilerErrors) Addf(format string, args ...any) {
	c.Add(NewCompilerError(format, args...))
}

// AddAt formats and appends a diagnostic anchored to row/column.
func (c *CompilerErrors) AddAt(row, column int, format string, args ...any) {
	c.Add(NewCompilerErrorAt(row, column, format, args...))
}

// HasErrors reports whether any diagnostic was accumulated.
func (c *CompilerErrors) HasErrors() bool {
	return c.errs != nil && c.errs.Len() > 0
}

// Len returns the number of accumulated diagnostics.
func (c *CompilerErrors) Len() int {
	if c.errs == nil {
		return 0
	}
	return c.errs.Len()
}

// ErrorOrNil returns the accumulated multierror, or nil if nothing was ever
// added, so a caller can return it directly from a function signature.
func (c *CompilerErrors) ErrorOrNil() error {
	if c.errs == nil {
		return nil
	}
	return c.errs.ErrorOrNil()
}

func (c *CompilerErrors) Error() string {
	if c.errs == nil {
		return ""
	}
	return c.errs.Error()
}
