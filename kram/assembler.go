package kram

import (
	"fmt"
	"strconv"
	"strings"
)

// ElementKind tags one token out of the lexer's element stream (§6
// "Assembler surface").
type ElementKind uint8

const (
	ElemToken ElementKind = iota
	ElemComma
	ElemEnd
	ElemSection
	ElemOpcode
	ElemTag
	ElemDataType
	ElemString
	ElemNumber
	ElemRegister
	ElemStackSegment
	ElemStaticSegment
	ElemSplitIndicator
	ElemDeltaSeparator
	ElemMemoryLocation
)

func (k ElementKind) String() string {
	switch k {
	case ElemToken:
		return "token"
	case ElemComma:
		return "comma"
	case ElemEnd:
		return "end"
	case ElemSection:
		return "section"
	case ElemOpcode:
		return "opcode"
	case ElemTag:
		return "tag"
	case ElemDataType:
		return "datatype"
	case ElemString:
		return "string"
	case ElemNumber:
		return "number"
	case ElemRegister:
		return "register"
	case ElemStackSegment:
		return "stacksegment"
	case ElemStaticSegment:
		return "staticsegment"
	case ElemSplitIndicator:
		return "splitindicator"
	case ElemDeltaSeparator:
		return "deltaseparator"
	case ElemMemoryLocation:
		return "memorylocation"
	default:
		return "?element?"
	}
}

// Element is one lexed unit of source text, carrying whichever payload
// field its Kind uses.
type Element struct {
	Kind ElementKind
	Row  int
	Col  int

	Text     string        // Token, Tag, Section name
	Number   uint64         // Number (already parsed out of its "...h" hex form)
	Register RegisterIndex  // Register
	DataType DataType       // DataType
	Opcode   string         // Opcode mnemonic, e.g. "mov", "newr", "mhri"
	Location MemoryLocation // MemoryLocation
}

var sectionNames = map[string]bool{".static": true, ".function": true, ".link": true}

var opcodeNames = map[string]bool{
	"nop": true, "mov": true, "mmb": true, "lea": true,
	"new": true, "newr": true, "del": true,
	"mhri": true, "mhrd": true, "cast": true, "call": true, "ret": true,
}

var dataTypeNames = map[string]DataType{
	"ub": TypeUByte, "uw": TypeUWord, "udw": TypeUDWord, "uqw": TypeUQWord,
	"sb": TypeSByte, "sw": TypeSWord, "sdw": TypeSDWord, "sqw": TypeSQWord,
	"fd": TypeFloat, "dfd": TypeDouble,
}

var registerNamesToIndex = func() map[string]RegisterIndex {
	m := make(map[string]RegisterIndex, numRegisters)
	for i := 0; i < numRegisters; i++ {
		m[registerNames[i]] = RegisterIndex(i)
	}
	return m
}()

// Lexer turns source text into an Element stream (component G). It never
// aborts on a single bad line: every problem becomes a CompilerError in
// Errors and lexing continues with the next token, matching §7's "lines
// with errors are skipped but do not abort the parser."
type Lexer struct {
	row, col int
	Errors   *CompilerErrors
}

// NewLexer returns a lexer ready to process source text.
func NewLexer() *Lexer {
	return &Lexer{row: 1, col: 1, Errors: NewCompilerErrors()}
}

// Lex tokenizes src in full and returns every Element produced. Diagnostics
// accumulate in l.Errors rather than aborting the scan.
func (l *Lexer) Lex(src string) []Element {
	var elems []Element
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		l.row = i + 1
		l.col = 1
		elems = append(elems, l.lexLine(line)...)
		elems = append(elems, Element{Kind: ElemEnd, Row: l.row, Col: l.col})
	}
	return elems
}

func (l *Lexer) lexLine(line string) []Element {
	var elems []Element
	runes := []rune(line)
	i := 0
	for i < len(runes) {
		c := runes[i]
		switch {
		case c == ';' || c == '#':
			return elems // rest of line is a comment
		case c == ' ' || c == '\t':
			i++
		case c == ',':
			elems = append(elems, Element{Kind: ElemComma, Row: l.row, Col: i + 1})
			i++
		case c == '$':
			elems = append(elems, Element{Kind: ElemStackSegment, Row: l.row, Col: i + 1})
			i++
		case c == '%':
			elems = append(elems, Element{Kind: ElemStaticSegment, Row: l.row, Col: i + 1})
			i++
		case c == '*':
			elems = append(elems, Element{Kind: ElemSplitIndicator, Row: l.row, Col: i + 1})
			i++
		case c == '+':
			elems = append(elems, Element{Kind: ElemDeltaSeparator, Row: l.row, Col: i + 1})
			i++
		case c == '[':
			loc, n := l.lexMemoryLocation(runes[i:])
			elems = append(elems, Element{Kind: ElemMemoryLocation, Row: l.row, Col: i + 1, Location: loc})
			i += n
		case c == '"':
			s, n := l.lexString(runes[i:])
			elems = append(elems, Element{Kind: ElemString, Row: l.row, Col: i + 1, Text: s})
			i += n
		case c == '.':
			word, n := scanWord(runes[i+1:])
			name := "." + word
			if !sectionNames[name] {
				l.Errors.AddAt(l.row, i+1, "unknown section %q", name)
			}
			elems = append(elems, Element{Kind: ElemSection, Row: l.row, Col: i + 1, Text: name})
			i += 1 + n
		case isIdentStart(c):
			word, n := scanWord(runes[i:])
			elems = append(elems, l.classifyWord(word, i+1))
			i += n
		case isDigit(c):
			n, consumed, ok := scanHexNumber(runes[i:])
			if !ok {
				l.Errors.AddAt(l.row, i+1, "malformed number %q", string(runes[i:i+consumed]))
			}
			elems = append(elems, Element{Kind: ElemNumber, Row: l.row, Col: i + 1, Number: n})
			i += consumed
		default:
			l.Errors.AddAt(l.row, i+1, "unexpected character %q", string(c))
			i++
		}
	}
	return elems
}

func (l *Lexer) classifyWord(word string, col int) Element {
	if strings.HasSuffix(word, ":") {
		return Element{Kind: ElemTag, Row: l.row, Col: col, Text: word[:len(word)-1]}
	}
	lower := strings.ToLower(word)
	// "sb" names both the stack-base register and the signed-byte data type;
	// the register wins at the lexical level, and the parser reinterprets by
	// operand position.
	if reg, ok := registerNamesToIndex[lower]; ok {
		return Element{Kind: ElemRegister, Row: l.row, Col: col, Register: reg}
	}
	if dt, ok := dataTypeNames[lower]; ok {
		return Element{Kind: ElemDataType, Row: l.row, Col: col, DataType: dt}
	}
	if opcodeNames[lower] {
		return Element{Kind: ElemOpcode, Row: l.row, Col: col, Opcode: lower}
	}
	return Element{Kind: ElemToken, Row: l.row, Col: col, Text: word}
}

func isIdentStart(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c rune) bool {
	return isIdentStart(c) || isDigit(c) || c == ':'
}

func isDigit(c rune) bool { return c >= '0' && c <= '9' }

func isHexDigit(c rune) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// scanWord consumes an identifier-like word, including a Tag's trailing
// colon (§6: "Tag (label followed by ':')").
func scanWord(runes []rune) (string, int) {
	n := 0
	for n < len(runes) && isIdentChar(runes[n]) {
		if runes[n] == ':' {
			n++
			break
		}
		n++
	}
	return string(runes[:n]), n
}

// scanHexNumber reads Kram's hex-with-trailing-h numeric literal (§6
// "Number (hex with trailing h)").
func scanHexNumber(runes []rune) (uint64, int, bool) {
	n := 0
	for n < len(runes) && isHexDigit(runes[n]) {
		n++
	}
	hasSuffix := n < len(runes) && (runes[n] == 'h' || runes[n] == 'H')
	digits := string(runes[:n])
	if hasSuffix {
		n++
	}
	v, err := strconv.ParseUint(digits, 16, 64)
	return v, n, err == nil && hasSuffix
}

// lexString consumes a double-quoted string literal supporting C-style
// escapes, including the two-hex-digit \aHH escape (§6).
func (l *Lexer) lexString(runes []rune) (string, int) {
	var sb strings.Builder
	i := 1 // skip opening quote
	for i < len(runes) {
		c := runes[i]
		if c == '"' {
			i++
			return sb.String(), i
		}
		if c == '\\' && i+1 < len(runes) {
			esc, n := l.decodeEscape(runes[i+1:])
			sb.WriteRune(esc)
			i += 1 + n
			continue
		}
		sb.WriteRune(c)
		i++
	}
	l.Errors.AddAt(l.row, 1, "unterminated string literal")
	return sb.String(), i
}

func (l *Lexer) decodeEscape(runes []rune) (rune, int) {
	if len(runes) == 0 {
		return '\\', 0
	}
	switch runes[0] {
	case 'n':
		return '\n', 1
	case 't':
		return '\t', 1
	case 'r':
		return '\r', 1
	case '0':
		return 0, 1
	case '\\':
		return '\\', 1
	case '"':
		return '"', 1
	case 'a':
		if len(runes) >= 3 && isHexDigit(runes[1]) && isHexDigit(runes[2]) {
			v, err := strconv.ParseUint(string(runes[1:3]), 16, 8)
			if err == nil {
				return rune(v), 3
			}
		}
		l.Errors.AddAt(l.row, 1, "malformed \\a escape: expected two hex digits")
		return 'a', 1
	default:
		return runes[0], 1
	}
}

// lexMemoryLocation parses "[ base? split? delta? ]", where base is '$',
// '%', or a register, split is "reg (*scale)?", and delta is "+number". A
// register directly followed by '*' is the split register; a bare register
// is the base.
func (l *Lexer) lexMemoryLocation(runes []rune) (MemoryLocation, int) {
	i := 1 // skip '['
	var loc MemoryLocation
	loc.Segment = SegNone

	skipSpace := func() {
		for i < len(runes) && (runes[i] == ' ' || runes[i] == '\t') {
			i++
		}
	}
	scanRegister := func() RegisterIndex {
		word, n := scanWord(runes[i:])
		reg, ok := registerNamesToIndex[strings.ToLower(word)]
		if !ok {
			l.Errors.AddAt(l.row, i+1, "unknown register %q in memory location", word)
		}
		i += n
		return reg
	}

	skipSpace()
	switch {
	case i < len(runes) && runes[i] == '$':
		loc.Segment = SegStack
		i++
	case i < len(runes) && runes[i] == '%':
		loc.Segment = SegStatic
		i++
	case i < len(runes) && isIdentStart(runes[i]):
		reg := scanRegister()
		j := i
		for j < len(runes) && (runes[j] == ' ' || runes[j] == '\t') {
			j++
		}
		if j < len(runes) && runes[j] == '*' {
			loc.Split = Split{Present: true, Reg: reg, Scale: 1}
		} else {
			loc.Segment = SegRegisterR
			loc.BaseReg = reg
		}
	}

	skipSpace()
	if !loc.Split.Present && i < len(runes) && isIdentStart(runes[i]) {
		loc.Split = Split{Present: true, Reg: scanRegister(), Scale: 1}
	}

	skipSpace()
	if i < len(runes) && runes[i] == '*' {
		i++
		skipSpace()
		if !loc.Split.Present {
			l.Errors.AddAt(l.row, i+1, "split scale without a split register")
		}
		n, consumed, ok := scanHexNumber(runes[i:])
		if !ok {
			l.Errors.AddAt(l.row, i+1, "malformed split scale")
		} else if n != 1 && n != 2 && n != 4 && n != 8 {
			l.Errors.AddAt(l.row, i+1, "split scale must be 1, 2, 4, or 8")
		} else if loc.Split.Present {
			loc.Split.Scale = uint8(n)
		}
		i += consumed
	}

	skipSpace()
	if i < len(runes) && runes[i] == '+' {
		i++
		for i < len(runes) && (runes[i] == ' ' || runes[i] == '\t') {
			i++
		}
		n, consumed, ok := scanHexNumber(runes[i:])
		if !ok {
			l.Errors.AddAt(l.row, i+1, "malformed delta")
		}
		loc.Delta = n
		i += consumed
	}

	for i < len(runes) && (runes[i] == ' ' || runes[i] == '\t') {
		i++
	}
	if i < len(runes) && runes[i] == ']' {
		i++
	} else {
		l.Errors.AddAt(l.row, i+1, "expected ']' to close memory location")
	}
	return loc, i
}

func (e Element) String() string {
	switch e.Kind {
	case ElemToken:
		return fmt.Sprintf("token(%s)", e.Text)
	case ElemTag:
		return fmt.Sprintf("tag(%s)", e.Text)
	case ElemSection:
		return fmt.Sprintf("section(%s)", e.Text)
	case ElemOpcode:
		return fmt.Sprintf("opcode(%s)", e.Opcode)
	case ElemDataType:
		return fmt.Sprintf("datatype(%s)", e.DataType)
	case ElemString:
		return fmt.Sprintf("string(%q)", e.Text)
	case ElemNumber:
		return fmt.Sprintf("number(0x%xh)", e.Number)
	case ElemRegister:
		return fmt.Sprintf("register(%s)", e.Register)
	default:
		return e.Kind.String()
	}
}
