package xlfmla

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// CodecErrorKind classifies failures while reading or writing a token array.
type CodecErrorKind int

const (
	// UnknownToken: the opcode has no registered kind in the active format.
	UnknownToken CodecErrorKind = iota + 1
	// MalformedToken: the payload is out of range or cannot be represented.
	MalformedToken
	// TruncatedOrOverlong: the bytes consumed do not match the declared length.
	TruncatedOrOverlong
)

var codecKindText = map[CodecErrorKind]string{
	UnknownToken:        "unknown token",
	MalformedToken:      "malformed token",
	TruncatedOrOverlong: "truncated or overlong token stream",
}

func (k CodecErrorKind) String() string {
	if s, ok := codecKindText[k]; ok {
		return s
	}
	return fmt.Sprintf("CodecErrorKind(%d)", int(k))
}

// CodecError is returned by the token codec. Decoding stops at the first one.
type CodecError struct {
	Kind    CodecErrorKind
	Opcode  byte
	Offset  int
	Message string
}

func (e *CodecError) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

// Is reports whether target is a CodecError of the same kind.
func (e *CodecError) Is(target error) bool {
	t, ok := target.(*CodecError)
	return ok && t.Kind == e.Kind
}

// NewCodecError creates a CodecError with a formatted message.
func NewCodecError(kind CodecErrorKind, op byte, offset int, format string, args ...interface{}) *CodecError {
	return &CodecError{
		Kind:    kind,
		Opcode:  op,
		Offset:  offset,
		Message: fmt.Sprintf("%s at offset %d: %s", kind, offset, fmt.Sprintf(format, args...)),
	}
}

// FormulaErrorKind classifies failures while parsing or rendering formula text.
type FormulaErrorKind int

const (
	SyntaxError FormulaErrorKind = iota + 1
	UnknownFunctionName
	UnknownName
)

// FormulaError represents an error in formula parsing.
type FormulaError struct {
	Kind FormulaErrorKind
	// Offset is the character offset of the offending token in the input.
	Offset int
	// Name is the unknown function or defined name, if any.
	Name string
	// Suggestion is the closest known function name, if one was found.
	Suggestion string
	Message    string
}

func (e *FormulaError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (did you mean %s?)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Is reports whether target is a FormulaError of the same kind.
func (e *FormulaError) Is(target error) bool {
	t, ok := target.(*FormulaError)
	return ok && t.Kind == e.Kind
}

func syntaxError(offset int, format string, args ...interface{}) *FormulaError {
	return &FormulaError{
		Kind:    SyntaxError,
		Offset:  offset,
		Message: fmt.Sprintf("syntax error at offset %d: %s", offset, fmt.Sprintf(format, args...)),
	}
}

// EvalErrorKind classifies fatal evaluation failures. These are never turned
// into spreadsheet error values.
type EvalErrorKind int

const (
	MalformedProgram EvalErrorKind = iota + 1
	UnknownFunctionIndex
	RecursionDepthExceeded
	UnresolvedSharedFormula
	NotImplemented
)

var evalKindText = map[EvalErrorKind]string{
	MalformedProgram:        "malformed program",
	UnknownFunctionIndex:    "unknown function index",
	RecursionDepthExceeded:  "recursion depth exceeded",
	UnresolvedSharedFormula: "unresolved shared formula",
	NotImplemented:          "not implemented",
}

func (k EvalErrorKind) String() string {
	if s, ok := evalKindText[k]; ok {
		return s
	}
	return fmt.Sprintf("EvalErrorKind(%d)", int(k))
}

// EvalError is a fatal evaluation failure.
type EvalError struct {
	Kind    EvalErrorKind
	Message string
}

func (e *EvalError) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

// Is reports whether target is an EvalError of the same kind.
func (e *EvalError) Is(target error) bool {
	t, ok := target.(*EvalError)
	return ok && t.Kind == e.Kind
}

// NewEvalError creates an EvalError with a formatted message.
func NewEvalError(kind EvalErrorKind, format string, args ...interface{}) *EvalError {
	return &EvalError{Kind: kind, Message: kind.String() + ": " + fmt.Sprintf(format, args...)}
}

// Kind sentinels for errors.Is.
var (
	ErrUnknownToken        = &CodecError{Kind: UnknownToken}
	ErrMalformedToken      = &CodecError{Kind: MalformedToken}
	ErrTruncatedOrOverlong = &CodecError{Kind: TruncatedOrOverlong}

	ErrSyntax              = &FormulaError{Kind: SyntaxError}
	ErrUnknownFunctionName = &FormulaError{Kind: UnknownFunctionName}
	ErrUnknownName         = &FormulaError{Kind: UnknownName}

	ErrMalformedProgram        = &EvalError{Kind: MalformedProgram}
	ErrUnknownFunctionIndex    = &EvalError{Kind: UnknownFunctionIndex}
	ErrRecursionDepthExceeded  = &EvalError{Kind: RecursionDepthExceeded}
	ErrUnresolvedSharedFormula = &EvalError{Kind: UnresolvedSharedFormula}
	ErrNotImplemented          = &EvalError{Kind: NotImplemented}
)

// ErrCircularReference is reported by an EvaluationContext when a cell's
// value depends on itself. The evaluator turns it into #N/A.
var ErrCircularReference = errors.New("circular reference")

// ErrorCode is a spreadsheet error value such as #DIV/0!.
type ErrorCode byte

const (
	NullIntersection ErrorCode = 0x00
	DivByZero        ErrorCode = 0x07
	InvalidValue     ErrorCode = 0x0F
	InvalidRef       ErrorCode = 0x17
	InvalidName      ErrorCode = 0x1D
	NumericOverflow  ErrorCode = 0x24
	NotAvailable     ErrorCode = 0x2A
)

// ErrorTextFromCode returns a text representation of an Excel error code.
var ErrorTextFromCode = map[ErrorCode]string{
	NullIntersection: "#NULL!",  // Intersection of two cell ranges is empty
	DivByZero:        "#DIV/0!", // Division by zero
	InvalidValue:     "#VALUE!", // Wrong type of operand
	InvalidRef:       "#REF!",   // Illegal or deleted cell reference
	InvalidName:      "#NAME?",  // Wrong function or range name
	NumericOverflow:  "#NUM!",   // Value range overflow
	NotAvailable:     "#N/A",    // Argument or function not available
}

// errorTypeNumber is the ERROR.TYPE result for each code.
var errorTypeNumber = map[ErrorCode]int{
	NullIntersection: 1,
	DivByZero:        2,
	InvalidValue:     3,
	InvalidRef:       4,
	InvalidName:      5,
	NumericOverflow:  6,
	NotAvailable:     7,
}

func (e ErrorCode) String() string {
	if s, ok := ErrorTextFromCode[e]; ok {
		return s
	}
	return fmt.Sprintf("#ERR%02X!", byte(e))
}

// Valid reports whether e is one of the seven defined codes.
func (e ErrorCode) Valid() bool {
	_, ok := ErrorTextFromCode[e]
	return ok
}

// ParseErrorCode maps "#DIV/0!" style text to its code.
func ParseErrorCode(text string) (ErrorCode, bool) {
	text = strings.ToUpper(strings.TrimSpace(text))
	for code, s := range ErrorTextFromCode {
		if s == text {
			return code, true
		}
	}
	return 0, false
}

// HexCharDump writes a hex and character dump of strg[ofs:ofs+dlen] to fout,
// sixteen bytes per line. Offsets are printed relative to base unless
// unnumbered is set.
func HexCharDump(strg []byte, ofs, dlen, base int, fout io.Writer, unnumbered bool) {
	endpos := ofs + dlen
	if endpos > len(strg) {
		endpos = len(strg)
	}
	pos := ofs
	numbered := !unnumbered
	numPrefix := ""
	for pos < endpos {
		endsub := pos + 16
		if endsub > endpos {
			endsub = endpos
		}
		substrg := strg[pos:endsub]
		var hexd strings.Builder
		var chard strings.Builder
		for _, c := range substrg {
			fmt.Fprintf(&hexd, "%02x ", c)
			if c == 0 {
				chard.WriteByte('~')
			} else if c < 32 || c > 126 {
				chard.WriteByte('?')
			} else {
				chard.WriteByte(c)
			}
		}
		if numbered {
			numPrefix = fmt.Sprintf("%5d: ", base+pos-ofs)
		}
		fmt.Fprintf(fout, "%s%-48s %s\n", numPrefix, hexd.String(), chard.String())
		pos = endsub
	}
}
