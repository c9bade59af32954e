package xlfmla

import (
	"fmt"
	"strings"
)

// OperandClass selects the physical encoding of a class-bearing token and
// tells the consumer how to treat its result.
type OperandClass uint8

const (
	ClassNone OperandClass = iota
	ClassReference
	ClassValue
	ClassArray
)

// Offset is added to the base opcode to form the physical opcode.
func (c OperandClass) Offset() byte {
	switch c {
	case ClassValue:
		return 0x20
	case ClassArray:
		return 0x40
	}
	return 0x00
}

func (c OperandClass) String() string {
	switch c {
	case ClassReference:
		return "R"
	case ClassValue:
		return "V"
	case ClassArray:
		return "A"
	}
	return ""
}

// splitOpcode separates a physical opcode into base opcode and class.
func splitOpcode(op byte) (byte, OperandClass) {
	if op < 0x20 {
		return op, ClassNone
	}
	return op&0x1F | 0x20, OperandClass((op >> 5) & 3)
}

// Ptg is one formula token. The set of implementations is closed.
type Ptg interface {
	// Opcode is the base opcode; class-bearing kinds use the Reference form.
	Opcode() byte
	Class() OperandClass
	// Size is the number of bytes the token occupies in the token array.
	Size() int
	String() string
	isPtg()
}

// PhysicalOpcode folds the operand class into the base opcode.
func PhysicalOpcode(p Ptg) byte {
	return p.Opcode() + p.Class().Offset()
}

// Operator opcodes carried by OperatorPtg.
const (
	OpAdd     byte = 0x03
	OpSub     byte = 0x04
	OpMul     byte = 0x05
	OpDiv     byte = 0x06
	OpPower   byte = 0x07
	OpConcat  byte = 0x08
	OpLT      byte = 0x09
	OpLE      byte = 0x0A
	OpEQ      byte = 0x0B
	OpGE      byte = 0x0C
	OpGT      byte = 0x0D
	OpNE      byte = 0x0E
	OpIsect   byte = 0x0F
	OpUnion   byte = 0x10
	OpRange   byte = 0x11
	OpUplus   byte = 0x12
	OpUminus  byte = 0x13
	OpPercent byte = 0x14
)

// tAttr option bits.
const (
	AttrVolatile byte = 0x01
	AttrIf       byte = 0x02
	AttrChoose   byte = 0x04
	AttrSkip     byte = 0x08
	AttrSum      byte = 0x10
	AttrBaxcel   byte = 0x20
	AttrSpace    byte = 0x40
)

// ColField packs a 14-bit column index with the row-relative (bit 15) and
// column-relative (bit 14) flags of a BIFF8 cell address.
type ColField uint16

const (
	colIndexMask ColField = 0x3FFF
	colRelBit    ColField = 0x4000
	rowRelBit    ColField = 0x8000
)

// NewColField builds a column field.
func NewColField(col int, rowRel, colRel bool) ColField {
	return ColField(0).SetIndex(col).SetRowRelative(rowRel).SetColRelative(colRel)
}

// Index is the absolute column index.
func (c ColField) Index() int { return int(c & colIndexMask) }

// Offset is the signed column offset used by RefN and AreaN tokens.
func (c ColField) Offset() int { return int(int8(c & 0xFF)) }

func (c ColField) RowRelative() bool { return c&rowRelBit != 0 }
func (c ColField) ColRelative() bool { return c&colRelBit != 0 }

// SetIndex replaces the column index and keeps both flags.
func (c ColField) SetIndex(col int) ColField {
	return c&^colIndexMask | ColField(col)&colIndexMask
}

// SetOffset stores a signed column offset and keeps both flags.
func (c ColField) SetOffset(off int) ColField {
	return c&^colIndexMask | ColField(uint8(int8(off)))
}

func (c ColField) SetRowRelative(rel bool) ColField {
	if rel {
		return c | rowRelBit
	}
	return c &^ rowRelBit
}

func (c ColField) SetColRelative(rel bool) ColField {
	if rel {
		return c | colRelBit
	}
	return c &^ colRelBit
}

// MemRect is one rectangle of a tMemArea sub-expression cache.
type MemRect struct {
	FirstRow, LastRow uint16
	FirstCol, LastCol uint16
}

type (
	// ExpPtg points at the anchor cell of a shared formula.
	ExpPtg struct{ Row, Col uint16 }
	// TblPtg points at the anchor cell of a data table.
	TblPtg struct{ Row, Col uint16 }
	// OperatorPtg is a binary, unary or reference operator.
	OperatorPtg struct{ Op byte }
	// ParenPtg records explicit parentheses for display.
	ParenPtg struct{}
	// MissArgPtg is an omitted function argument.
	MissArgPtg struct{}
	// StrPtg is a string literal; Wide records UTF-16 storage.
	StrPtg struct {
		Value string
		Wide  bool
	}
	// AttrPtg is a control token. Jumps is the tAttrChoose table.
	AttrPtg struct {
		Flags byte
		Data  uint16
		Jumps []uint16
	}
	ErrPtg  struct{ Code ErrorCode }
	BoolPtg struct{ Value bool }
	IntPtg  struct{ Value uint16 }
	NumPtg  struct{ Value float64 }
	// ArrayPtg is an array constant. Its values are stored after the token
	// array; Wide, when non-nil, marks text elements stored as UTF-16.
	ArrayPtg struct {
		Cls        OperandClass
		Reserved   [7]byte
		Rows, Cols int
		Values     []Value
		Wide       []bool
	}
	FuncPtg struct {
		Cls   OperandClass
		Index uint16
	}
	FuncVarPtg struct {
		Cls    OperandClass
		Argc   byte
		Prompt bool
		Index  uint16
		CE     bool
	}
	// NamePtg refers to a defined name by 1-based index.
	NamePtg struct {
		Cls      OperandClass
		Index    uint16
		Reserved uint16
	}
	RefPtg struct {
		Cls OperandClass
		Row uint16
		Col ColField
	}
	AreaPtg struct {
		Cls               OperandClass
		FirstRow, LastRow uint16
		FirstCol, LastCol ColField
	}
	MemAreaPtg struct {
		Cls      OperandClass
		Reserved uint32
		Len      uint16
		Rects    []MemRect
	}
	MemErrPtg struct {
		Cls      OperandClass
		Reserved uint32
		Len      uint16
	}
	MemNoMemPtg struct {
		Cls      OperandClass
		Reserved uint32
		Len      uint16
	}
	MemFuncPtg struct {
		Cls OperandClass
		Len uint16
	}
	RefErrPtg struct {
		Cls      OperandClass
		Reserved [4]byte
	}
	AreaErrPtg struct {
		Cls      OperandClass
		Reserved [8]byte
	}
	// RefNPtg is relative to the cell the formula is evaluated in: a
	// relative row is a signed 16-bit offset, a relative column a signed
	// 8-bit offset.
	RefNPtg struct {
		Cls OperandClass
		Row uint16
		Col ColField
	}
	AreaNPtg struct {
		Cls               OperandClass
		FirstRow, LastRow uint16
		FirstCol, LastCol ColField
	}
	MemAreaNPtg struct {
		Cls OperandClass
		Len uint16
	}
	MemNoMemNPtg struct {
		Cls OperandClass
		Len uint16
	}
	// NameXPtg refers to an external or add-in name.
	NameXPtg struct {
		Cls      OperandClass
		Ixti     uint16
		Index    uint16
		Reserved uint16
	}
	Ref3dPtg struct {
		Cls  OperandClass
		Ixti uint16
		Row  uint16
		Col  ColField
	}
	Area3dPtg struct {
		Cls               OperandClass
		Ixti              uint16
		FirstRow, LastRow uint16
		FirstCol, LastCol ColField
	}
	RefErr3dPtg struct {
		Cls      OperandClass
		Ixti     uint16
		Reserved [4]byte
	}
	AreaErr3dPtg struct {
		Cls      OperandClass
		Ixti     uint16
		Reserved [8]byte
	}
)

func (ExpPtg) Opcode() byte        { return 0x01 }
func (TblPtg) Opcode() byte        { return 0x02 }
func (p OperatorPtg) Opcode() byte { return p.Op }
func (ParenPtg) Opcode() byte      { return 0x15 }
func (MissArgPtg) Opcode() byte    { return 0x16 }
func (StrPtg) Opcode() byte        { return 0x17 }
func (AttrPtg) Opcode() byte       { return 0x19 }
func (ErrPtg) Opcode() byte        { return 0x1C }
func (BoolPtg) Opcode() byte       { return 0x1D }
func (IntPtg) Opcode() byte        { return 0x1E }
func (NumPtg) Opcode() byte        { return 0x1F }
func (ArrayPtg) Opcode() byte      { return 0x20 }
func (FuncPtg) Opcode() byte       { return 0x21 }
func (FuncVarPtg) Opcode() byte    { return 0x22 }
func (NamePtg) Opcode() byte       { return 0x23 }
func (RefPtg) Opcode() byte        { return 0x24 }
func (AreaPtg) Opcode() byte       { return 0x25 }
func (MemAreaPtg) Opcode() byte    { return 0x26 }
func (MemErrPtg) Opcode() byte     { return 0x27 }
func (MemNoMemPtg) Opcode() byte   { return 0x28 }
func (MemFuncPtg) Opcode() byte    { return 0x29 }
func (RefErrPtg) Opcode() byte     { return 0x2A }
func (AreaErrPtg) Opcode() byte    { return 0x2B }
func (RefNPtg) Opcode() byte       { return 0x2C }
func (AreaNPtg) Opcode() byte      { return 0x2D }
func (MemAreaNPtg) Opcode() byte   { return 0x2E }
func (MemNoMemNPtg) Opcode() byte  { return 0x2F }
func (NameXPtg) Opcode() byte      { return 0x39 }
func (Ref3dPtg) Opcode() byte      { return 0x3A }
func (Area3dPtg) Opcode() byte     { return 0x3B }
func (RefErr3dPtg) Opcode() byte   { return 0x3C }
func (AreaErr3dPtg) Opcode() byte  { return 0x3D }

func (ExpPtg) Class() OperandClass         { return ClassNone }
func (TblPtg) Class() OperandClass         { return ClassNone }
func (OperatorPtg) Class() OperandClass    { return ClassNone }
func (ParenPtg) Class() OperandClass       { return ClassNone }
func (MissArgPtg) Class() OperandClass     { return ClassNone }
func (StrPtg) Class() OperandClass         { return ClassNone }
func (AttrPtg) Class() OperandClass        { return ClassNone }
func (ErrPtg) Class() OperandClass         { return ClassNone }
func (BoolPtg) Class() OperandClass        { return ClassNone }
func (IntPtg) Class() OperandClass         { return ClassNone }
func (NumPtg) Class() OperandClass         { return ClassNone }
func (p ArrayPtg) Class() OperandClass     { return p.Cls }
func (p FuncPtg) Class() OperandClass      { return p.Cls }
func (p FuncVarPtg) Class() OperandClass   { return p.Cls }
func (p NamePtg) Class() OperandClass      { return p.Cls }
func (p RefPtg) Class() OperandClass       { return p.Cls }
func (p AreaPtg) Class() OperandClass      { return p.Cls }
func (p MemAreaPtg) Class() OperandClass   { return p.Cls }
func (p MemErrPtg) Class() OperandClass    { return p.Cls }
func (p MemNoMemPtg) Class() OperandClass  { return p.Cls }
func (p MemFuncPtg) Class() OperandClass   { return p.Cls }
func (p RefErrPtg) Class() OperandClass    { return p.Cls }
func (p AreaErrPtg) Class() OperandClass   { return p.Cls }
func (p RefNPtg) Class() OperandClass      { return p.Cls }
func (p AreaNPtg) Class() OperandClass     { return p.Cls }
func (p MemAreaNPtg) Class() OperandClass  { return p.Cls }
func (p MemNoMemNPtg) Class() OperandClass { return p.Cls }
func (p NameXPtg) Class() OperandClass     { return p.Cls }
func (p Ref3dPtg) Class() OperandClass     { return p.Cls }
func (p Area3dPtg) Class() OperandClass    { return p.Cls }
func (p RefErr3dPtg) Class() OperandClass  { return p.Cls }
func (p AreaErr3dPtg) Class() OperandClass { return p.Cls }

func (ExpPtg) Size() int      { return 5 }
func (TblPtg) Size() int      { return 5 }
func (OperatorPtg) Size() int { return 1 }
func (ParenPtg) Size() int    { return 1 }
func (MissArgPtg) Size() int  { return 1 }

func (p StrPtg) Size() int {
	n, wide := unicodeLen(p.Value, p.Wide)
	if wide {
		return 3 + 2*n
	}
	return 3 + n
}

func (p AttrPtg) Size() int {
	if p.Flags&AttrChoose != 0 {
		return 4 + 2*len(p.Jumps)
	}
	return 4
}

func (ErrPtg) Size() int       { return 2 }
func (BoolPtg) Size() int      { return 2 }
func (IntPtg) Size() int       { return 3 }
func (NumPtg) Size() int       { return 9 }
func (ArrayPtg) Size() int     { return 8 }
func (FuncPtg) Size() int      { return 3 }
func (FuncVarPtg) Size() int   { return 4 }
func (NamePtg) Size() int      { return 5 }
func (RefPtg) Size() int       { return 5 }
func (AreaPtg) Size() int      { return 9 }
func (MemAreaPtg) Size() int   { return 7 }
func (MemErrPtg) Size() int    { return 7 }
func (MemNoMemPtg) Size() int  { return 7 }
func (MemFuncPtg) Size() int   { return 3 }
func (RefErrPtg) Size() int    { return 5 }
func (AreaErrPtg) Size() int   { return 9 }
func (RefNPtg) Size() int      { return 5 }
func (AreaNPtg) Size() int     { return 9 }
func (MemAreaNPtg) Size() int  { return 3 }
func (MemNoMemNPtg) Size() int { return 3 }
func (NameXPtg) Size() int     { return 7 }
func (Ref3dPtg) Size() int     { return 7 }
func (Area3dPtg) Size() int    { return 11 }
func (RefErr3dPtg) Size() int  { return 7 }
func (AreaErr3dPtg) Size() int { return 11 }

func (ExpPtg) isPtg()       {}
func (TblPtg) isPtg()       {}
func (OperatorPtg) isPtg()  {}
func (ParenPtg) isPtg()     {}
func (MissArgPtg) isPtg()   {}
func (StrPtg) isPtg()       {}
func (AttrPtg) isPtg()      {}
func (ErrPtg) isPtg()       {}
func (BoolPtg) isPtg()      {}
func (IntPtg) isPtg()       {}
func (NumPtg) isPtg()       {}
func (ArrayPtg) isPtg()     {}
func (FuncPtg) isPtg()      {}
func (FuncVarPtg) isPtg()   {}
func (NamePtg) isPtg()      {}
func (RefPtg) isPtg()       {}
func (AreaPtg) isPtg()      {}
func (MemAreaPtg) isPtg()   {}
func (MemErrPtg) isPtg()    {}
func (MemNoMemPtg) isPtg()  {}
func (MemFuncPtg) isPtg()   {}
func (RefErrPtg) isPtg()    {}
func (AreaErrPtg) isPtg()   {}
func (RefNPtg) isPtg()      {}
func (AreaNPtg) isPtg()     {}
func (MemAreaNPtg) isPtg()  {}
func (MemNoMemNPtg) isPtg() {}
func (NameXPtg) isPtg()     {}
func (Ref3dPtg) isPtg()     {}
func (Area3dPtg) isPtg()    {}
func (RefErr3dPtg) isPtg()  {}
func (AreaErr3dPtg) isPtg() {}

// onames are the debug names of the base opcodes 0x00..0x3F.
var onames = [64]string{
	"Unk00", "Exp", "Tbl", "Add", "Sub", "Mul", "Div", "Power", "Concat", "LT", "LE", "EQ", "GE", "GT", "NE",
	"Isect", "List", "Range", "Uplus", "Uminus", "Percent", "Paren", "MissArg", "Str", "Extended", "Attr",
	"Sheet", "EndSheet", "Err", "Bool", "Int", "Num", "Array", "Func", "FuncVar", "Name", "Ref", "Area",
	"MemArea", "MemErr", "MemNoMem", "MemFunc", "RefErr", "AreaErr", "RefN", "AreaN", "MemAreaN", "MemNoMemN",
	"", "", "", "", "", "", "", "", "FuncCE", "NameX", "Ref3d", "Area3d", "RefErr3d", "AreaErr3d", "", "",
}

// OpcodeName returns the debug name of a physical opcode, e.g. "tRefV".
func OpcodeName(op byte) string {
	base, cls := splitOpcode(op)
	if int(base) >= len(onames) || onames[base] == "" {
		return fmt.Sprintf("t?%02X", op)
	}
	return "t" + onames[base] + cls.String()
}

func ptgName(p Ptg) string {
	return OpcodeName(PhysicalOpcode(p))
}

func cellText(row int, col ColField) string {
	var b strings.Builder
	if !col.ColRelative() {
		b.WriteByte('$')
	}
	b.WriteString(colname(col.Index()))
	if !col.RowRelative() {
		b.WriteByte('$')
	}
	fmt.Fprintf(&b, "%d", row+1)
	return b.String()
}

func relText(row uint16, col ColField) string {
	r := fmt.Sprintf("R%d", int(row)+1)
	if col.RowRelative() {
		r = fmt.Sprintf("R[%d]", int(int16(row)))
	}
	c := fmt.Sprintf("C%d", col.Index()+1)
	if col.ColRelative() {
		c = fmt.Sprintf("C[%d]", col.Offset())
	}
	return r + c
}

func (p ExpPtg) String() string      { return fmt.Sprintf("tExp(%d,%d)", p.Row, p.Col) }
func (p TblPtg) String() string      { return fmt.Sprintf("tTbl(%d,%d)", p.Row, p.Col) }
func (p OperatorPtg) String() string { return ptgName(p) }
func (p ParenPtg) String() string    { return "tParen" }
func (p MissArgPtg) String() string  { return "tMissArg" }
func (p StrPtg) String() string      { return fmt.Sprintf("tStr(%q)", p.Value) }
func (p AttrPtg) String() string {
	if len(p.Jumps) > 0 {
		return fmt.Sprintf("tAttr(0x%02x,%d,%v)", p.Flags, p.Data, p.Jumps)
	}
	return fmt.Sprintf("tAttr(0x%02x,%d)", p.Flags, p.Data)
}
func (p ErrPtg) String() string  { return fmt.Sprintf("tErr(%s)", p.Code) }
func (p BoolPtg) String() string { return fmt.Sprintf("tBool(%t)", p.Value) }
func (p IntPtg) String() string  { return fmt.Sprintf("tInt(%d)", p.Value) }
func (p NumPtg) String() string  { return fmt.Sprintf("tNum(%g)", p.Value) }
func (p ArrayPtg) String() string {
	return fmt.Sprintf("%s(%dx%d)", ptgName(p), p.Rows, p.Cols)
}
func (p FuncPtg) String() string { return fmt.Sprintf("%s(%s)", ptgName(p), funcNameOf(p.Index)) }
func (p FuncVarPtg) String() string {
	return fmt.Sprintf("%s(%s,%d)", ptgName(p), funcNameOf(p.Index), p.Argc)
}
func (p NamePtg) String() string { return fmt.Sprintf("%s(%d)", ptgName(p), p.Index) }
func (p RefPtg) String() string  { return fmt.Sprintf("%s(%s)", ptgName(p), cellText(int(p.Row), p.Col)) }
func (p AreaPtg) String() string {
	return fmt.Sprintf("%s(%s:%s)", ptgName(p), cellText(int(p.FirstRow), p.FirstCol), cellText(int(p.LastRow), p.LastCol))
}
func (p MemAreaPtg) String() string  { return fmt.Sprintf("%s(%d)", ptgName(p), p.Len) }
func (p MemErrPtg) String() string   { return fmt.Sprintf("%s(%d)", ptgName(p), p.Len) }
func (p MemNoMemPtg) String() string { return fmt.Sprintf("%s(%d)", ptgName(p), p.Len) }
func (p MemFuncPtg) String() string  { return fmt.Sprintf("%s(%d)", ptgName(p), p.Len) }
func (p RefErrPtg) String() string   { return ptgName(p) }
func (p AreaErrPtg) String() string  { return ptgName(p) }
func (p RefNPtg) String() string     { return fmt.Sprintf("%s(%s)", ptgName(p), relText(p.Row, p.Col)) }
func (p AreaNPtg) String() string {
	return fmt.Sprintf("%s(%s:%s)", ptgName(p), relText(p.FirstRow, p.FirstCol), relText(p.LastRow, p.LastCol))
}
func (p MemAreaNPtg) String() string  { return fmt.Sprintf("%s(%d)", ptgName(p), p.Len) }
func (p MemNoMemNPtg) String() string { return fmt.Sprintf("%s(%d)", ptgName(p), p.Len) }
func (p NameXPtg) String() string     { return fmt.Sprintf("%s(%d,%d)", ptgName(p), p.Ixti, p.Index) }
func (p Ref3dPtg) String() string {
	return fmt.Sprintf("%s(%d!%s)", ptgName(p), p.Ixti, cellText(int(p.Row), p.Col))
}
func (p Area3dPtg) String() string {
	return fmt.Sprintf("%s(%d!%s:%s)", ptgName(p), p.Ixti, cellText(int(p.FirstRow), p.FirstCol), cellText(int(p.LastRow), p.LastCol))
}
func (p RefErr3dPtg) String() string  { return fmt.Sprintf("%s(%d)", ptgName(p), p.Ixti) }
func (p AreaErr3dPtg) String() string { return fmt.Sprintf("%s(%d)", ptgName(p), p.Ixti) }

// IsVolatile reports whether a token sequence must be recomputed on every
// recalculation: it carries a volatile tAttr or calls a volatile function.
func IsVolatile(ptgs []Ptg) bool {
	for _, p := range ptgs {
		switch t := p.(type) {
		case AttrPtg:
			if t.Flags&AttrVolatile != 0 {
				return true
			}
		case FuncPtg:
			if def := funcByIndex(int(t.Index)); def != nil && def.Volatile {
				return true
			}
		case FuncVarPtg:
			if def := funcByIndex(int(t.Index)); def != nil && def.Volatile {
				return true
			}
		}
	}
	return false
}
