package xlfmla

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ptgs []Ptg
	}{
		{"int", []Ptg{IntPtg{Value: 7}}},
		{"num", []Ptg{NumPtg{Value: -1.5e300}}},
		{"str", []Ptg{StrPtg{Value: `say "hi"`}}},
		{"str latin1", []Ptg{StrPtg{Value: "café"}}},
		{"str wide", []Ptg{StrPtg{Value: "日本語", Wide: true}}},
		{"str empty", []Ptg{StrPtg{}}},
		{"bool", []Ptg{BoolPtg{Value: true}, BoolPtg{}}},
		{"err", []Ptg{ErrPtg{Code: DivByZero}, ErrPtg{Code: NullIntersection}}},
		{"missarg paren", []Ptg{MissArgPtg{}, ParenPtg{}}},
		{"operators", []Ptg{
			OperatorPtg{Op: OpAdd}, OperatorPtg{Op: OpNE}, OperatorPtg{Op: OpRange}, OperatorPtg{Op: OpPercent},
		}},
		{"attr", []Ptg{
			AttrPtg{Flags: AttrSum},
			AttrPtg{Flags: AttrVolatile},
			AttrPtg{Flags: AttrIf, Data: 12},
			AttrPtg{Flags: AttrChoose, Data: 2, Jumps: []uint16{6, 10, 14}},
			AttrPtg{Flags: AttrSpace, Data: 0x0100},
		}},
		{"func", []Ptg{
			FuncPtg{Cls: ClassValue, Index: 15},
			FuncVarPtg{Cls: ClassReference, Argc: 3, Index: 1},
			FuncVarPtg{Cls: ClassArray, Argc: 2, Prompt: true, Index: 100, CE: true},
		}},
		{"name", []Ptg{
			NamePtg{Cls: ClassReference, Index: 1},
			NameXPtg{Cls: ClassValue, Ixti: 0xFFFE, Index: 2},
		}},
		{"ref", []Ptg{
			RefPtg{Cls: ClassReference, Row: 4, Col: NewColField(2, true, false)},
			RefPtg{Cls: ClassValue, Row: 65535, Col: NewColField(255, false, true)},
			AreaPtg{Cls: ClassArray, FirstRow: 0, LastRow: 9, FirstCol: NewColField(0, true, true), LastCol: NewColField(3, false, false)},
		}},
		{"ref3d", []Ptg{
			Ref3dPtg{Cls: ClassValue, Ixti: 1, Row: 2, Col: NewColField(1, true, true)},
			Area3dPtg{Cls: ClassReference, Ixti: 0, FirstRow: 0, LastRow: 65535, FirstCol: NewColField(2, false, true), LastCol: NewColField(2, false, true)},
		}},
		{"refn", []Ptg{
			RefNPtg{Cls: ClassValue, Row: 0xFFFF, Col: NewColField(0, true, true).SetOffset(-2)},
			AreaNPtg{Cls: ClassReference, FirstRow: 0, LastRow: 3, FirstCol: NewColField(0, true, true).SetOffset(1), LastCol: NewColField(7, false, false)},
		}},
		{"refs in error", []Ptg{
			RefErrPtg{Cls: ClassReference},
			AreaErrPtg{Cls: ClassValue, Reserved: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
			RefErr3dPtg{Cls: ClassValue, Ixti: 3},
			AreaErr3dPtg{Cls: ClassArray, Ixti: 1},
		}},
		{"shared", []Ptg{ExpPtg{Row: 2, Col: 3}, TblPtg{Row: 10, Col: 1}}},
		{"mem", []Ptg{
			MemAreaPtg{Cls: ClassReference, Len: 5, Rects: []MemRect{{FirstRow: 1, LastRow: 2, FirstCol: 0, LastCol: 4}}},
			MemErrPtg{Cls: ClassReference, Len: 7},
			MemNoMemPtg{Cls: ClassValue, Len: 3},
			MemFuncPtg{Cls: ClassReference, Len: 9},
			MemAreaNPtg{Cls: ClassReference, Len: 2},
			MemNoMemNPtg{Cls: ClassArray, Len: 4},
		}},
		{"array", []Ptg{
			ArrayPtg{Cls: ClassArray, Rows: 2, Cols: 3, Values: []Value{
				Number(1), Text("a"), Boolean(true),
				NotAvailable, Blank{}, Number(-0.25),
			}},
		}},
		{"array wide", []Ptg{
			ArrayPtg{Cls: ClassValue, Rows: 1, Cols: 2, Values: []Value{Text("x"), Text("ü→")}, Wide: []bool{false, true}},
			IntPtg{Value: 1},
			ArrayPtg{Cls: ClassArray, Rows: 1, Cols: 1, Values: []Value{Number(3)}},
		}},
	}

	for _, tt := range tests {
		data, err := EncodeTokens(tt.ptgs)
		if err != nil {
			t.Errorf("%s: Encode error: %v", tt.name, err)
			continue
		}
		n := TokenArrayLen(tt.ptgs)
		got, used, err := (&Codec{}).Decode(data, n)
		if err != nil {
			t.Errorf("%s: Decode error: %v", tt.name, err)
			continue
		}
		if used != len(data) {
			t.Errorf("%s: Decode used %d bytes, want %d", tt.name, used, len(data))
		}
		if !reflect.DeepEqual(got, tt.ptgs) {
			t.Errorf("%s: Decode(Encode(x)) = %v, want %v", tt.name, got, tt.ptgs)
		}
		again, err := EncodeTokens(got)
		if err != nil {
			t.Errorf("%s: re-Encode error: %v", tt.name, err)
			continue
		}
		if !bytes.Equal(again, data) {
			t.Errorf("%s: re-encoded bytes % x, want % x", tt.name, again, data)
		}
	}
}

func TestEncodeBytes(t *testing.T) {
	tests := []struct {
		ptgs []Ptg
		want []byte
	}{
		{[]Ptg{IntPtg{Value: 1}, IntPtg{Value: 2}, OperatorPtg{Op: OpAdd}}, []byte{0x1E, 0x01, 0x00, 0x1E, 0x02, 0x00, 0x03}},
		{[]Ptg{RefPtg{Cls: ClassValue, Col: NewColField(0, true, true)}}, []byte{0x44, 0x00, 0x00, 0x00, 0xC0}},
		{[]Ptg{RefPtg{Cls: ClassReference, Row: 1, Col: NewColField(1, false, false)}}, []byte{0x24, 0x01, 0x00, 0x01, 0x00}},
		{[]Ptg{AreaPtg{Cls: ClassArray, LastRow: 1, FirstCol: NewColField(0, true, false), LastCol: NewColField(1, false, true)}},
			[]byte{0x65, 0x00, 0x00, 0x01, 0x00, 0x00, 0x80, 0x01, 0x40}},
		{[]Ptg{StrPtg{Value: "ab"}}, []byte{0x17, 0x02, 0x00, 'a', 'b'}},
		{[]Ptg{StrPtg{Value: "ab", Wide: true}}, []byte{0x17, 0x02, 0x01, 'a', 0x00, 'b', 0x00}},
		{[]Ptg{StrPtg{Value: "\U0001F600", Wide: true}}, []byte{0x17, 0x02, 0x01, 0x3D, 0xD8, 0x00, 0xDE}},
		{[]Ptg{BoolPtg{Value: true}, ErrPtg{Code: NotAvailable}}, []byte{0x1D, 0x01, 0x1C, 0x2A}},
		{[]Ptg{AttrPtg{Flags: AttrSum}}, []byte{0x19, 0x10, 0x00, 0x00}},
		{[]Ptg{FuncVarPtg{Cls: ClassValue, Argc: 2, Index: 4}}, []byte{0x42, 0x02, 0x04, 0x00}},
		{[]Ptg{FuncPtg{Cls: ClassValue, Index: 24}}, []byte{0x41, 0x18, 0x00}},
		{[]Ptg{ArrayPtg{Cls: ClassArray, Rows: 1, Cols: 2, Values: []Value{Number(0), Boolean(true)}}},
			[]byte{
				0x60, 0, 0, 0, 0, 0, 0, 0,
				0x01, 0x00, 0x00,
				0x01, 0, 0, 0, 0, 0, 0, 0, 0,
				0x04, 0x01, 0, 0, 0, 0, 0, 0, 0,
			}},
	}

	for _, tt := range tests {
		got, err := EncodeTokens(tt.ptgs)
		if err != nil {
			t.Errorf("EncodeTokens(%v) error = %v", tt.ptgs, err)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("EncodeTokens(%v) = % x, want % x", tt.ptgs, got, tt.want)
		}
	}
}

func TestOperandClassInOpcode(t *testing.T) {
	offsets := map[OperandClass]byte{ClassReference: 0x00, ClassValue: 0x20, ClassArray: 0x40}
	for cls, off := range offsets {
		ptgs := []Ptg{
			RefPtg{Cls: cls, Col: NewColField(0, true, true)},
			AreaPtg{Cls: cls},
			NamePtg{Cls: cls, Index: 1},
			FuncPtg{Cls: cls, Index: 24},
			FuncVarPtg{Cls: cls, Argc: 1, Index: 4},
			Ref3dPtg{Cls: cls},
			RefNPtg{Cls: cls},
			MemFuncPtg{Cls: cls},
		}
		for _, p := range ptgs {
			want := p.Opcode() + off
			if got := PhysicalOpcode(p); got != want {
				t.Errorf("PhysicalOpcode(%v) = 0x%02x, want 0x%02x", p, got, want)
			}
			data, err := EncodeTokens([]Ptg{p})
			if err != nil {
				t.Errorf("EncodeTokens(%v) error = %v", p, err)
				continue
			}
			if data[0] != want {
				t.Errorf("EncodeTokens(%v) opcode 0x%02x, want 0x%02x", p, data[0], want)
			}
			got, err := DecodeTokens(data, len(data))
			if err != nil {
				t.Errorf("DecodeTokens(% x) error = %v", data, err)
				continue
			}
			if got[0].Class() != cls {
				t.Errorf("DecodeTokens(% x) class %v, want %v", data, got[0].Class(), cls)
			}
		}
	}

	// Tokens without a class never carry one.
	for _, p := range []Ptg{IntPtg{}, StrPtg{}, AttrPtg{}, OperatorPtg{Op: OpMul}, ExpPtg{}} {
		if p.Class() != ClassNone {
			t.Errorf("%v.Class() = %v, want none", p, p.Class())
		}
		if PhysicalOpcode(p) != p.Opcode() {
			t.Errorf("PhysicalOpcode(%v) = 0x%02x, want 0x%02x", p, PhysicalOpcode(p), p.Opcode())
		}
	}
}

func TestColField(t *testing.T) {
	tests := []struct {
		col            int
		rowRel, colRel bool
		raw            ColField
	}{
		{0, false, false, 0x0000},
		{0, true, true, 0xC000},
		{5, true, false, 0x8005},
		{255, false, true, 0x40FF},
	}
	for _, tt := range tests {
		c := NewColField(tt.col, tt.rowRel, tt.colRel)
		if c != tt.raw {
			t.Errorf("NewColField(%d, %v, %v) = 0x%04x, want 0x%04x", tt.col, tt.rowRel, tt.colRel, uint16(c), uint16(tt.raw))
		}
		if c.Index() != tt.col || c.RowRelative() != tt.rowRel || c.ColRelative() != tt.colRel {
			t.Errorf("ColField(0x%04x) = %d %v %v, want %d %v %v", uint16(c),
				c.Index(), c.RowRelative(), c.ColRelative(), tt.col, tt.rowRel, tt.colRel)
		}
	}

	// Flags are independent of each other and of the index.
	c := NewColField(7, true, false)
	if got := c.SetColRelative(true); !got.RowRelative() || !got.ColRelative() || got.Index() != 7 {
		t.Errorf("SetColRelative(true) = 0x%04x", uint16(got))
	}
	if got := c.SetRowRelative(false); got.RowRelative() || got.ColRelative() || got.Index() != 7 {
		t.Errorf("SetRowRelative(false) = 0x%04x", uint16(got))
	}
	if got := c.SetIndex(200); got.Index() != 200 || !got.RowRelative() || got.ColRelative() {
		t.Errorf("SetIndex(200) = 0x%04x", uint16(got))
	}
	for _, off := range []int{-128, -3, -1, 0, 1, 127} {
		got := NewColField(0, true, true).SetOffset(off)
		if got.Offset() != off || !got.RowRelative() || !got.ColRelative() {
			t.Errorf("SetOffset(%d) = 0x%04x, Offset() = %d", off, uint16(got), got.Offset())
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		declared int
		want     error
	}{
		{"declared past buffer", []byte{0x1E, 0x01, 0x00}, 5, ErrTruncatedOrOverlong},
		{"negative length", []byte{0x1E, 0x01, 0x00}, -1, ErrTruncatedOrOverlong},
		{"token crosses end", []byte{0x1E, 0x01, 0x00, 0x1E, 0x02, 0x00}, 4, ErrTruncatedOrOverlong},
		{"short token", []byte{0x1F, 0x00, 0x00}, 3, ErrTruncatedOrOverlong},
		{"missing array data", []byte{0x60, 0, 0, 0, 0, 0, 0, 0}, 8, ErrTruncatedOrOverlong},
		{"opcode zero", []byte{0x00}, 1, ErrUnknownToken},
		{"opcode 0x18", []byte{0x18, 0x00}, 2, ErrUnknownToken},
		{"opcode 0x1A", []byte{0x1A}, 1, ErrUnknownToken},
		{"high bit", []byte{0x84, 0, 0, 0, 0}, 5, ErrUnknownToken},
		{"not in BIFF8", []byte{0x30, 0, 0}, 3, ErrUnknownToken},
		{"bool two", []byte{0x1D, 0x02}, 2, ErrMalformedToken},
		{"error code", []byte{0x1C, 0x05}, 2, ErrMalformedToken},
		{"column 256", []byte{0x44, 0x00, 0x00, 0x00, 0x01}, 5, ErrMalformedToken},
		{"string flags", []byte{0x17, 0x01, 0x04, 'a'}, 4, ErrMalformedToken},
		{"NaN number", []byte{0x1F, 0, 0, 0, 0, 0, 0, 0xF8, 0x7F}, 9, ErrMalformedToken},
		{"infinite number", []byte{0x1F, 0, 0, 0, 0, 0, 0, 0xF0, 0x7F}, 9, ErrMalformedToken},
		{"lone high surrogate", []byte{0x17, 0x01, 0x01, 0x00, 0xD8}, 5, ErrMalformedToken},
		{"lone low surrogate", []byte{0x17, 0x01, 0x01, 0x00, 0xDC}, 5, ErrMalformedToken},
		{"high surrogate before a letter", []byte{0x17, 0x02, 0x01, 0x00, 0xD8, 'A', 0x00}, 7, ErrMalformedToken},
		{"array value type", []byte{0x60, 0, 0, 0, 0, 0, 0, 0, 0x00, 0x00, 0x00, 0x03}, 8, ErrMalformedToken},
	}

	for _, tt := range tests {
		_, _, err := (&Codec{}).Decode(tt.data, tt.declared)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: Decode(% x, %d) error = %v, want %v", tt.name, tt.data, tt.declared, err, tt.want)
		}
	}
}

func TestDecodeErrorOffset(t *testing.T) {
	data := []byte{0x1E, 0x01, 0x00, 0x1E, 0x02, 0x00, 0x18}
	_, _, err := (&Codec{}).Decode(data, len(data))
	var ce *CodecError
	if !errors.As(err, &ce) {
		t.Fatalf("Decode error = %v, want a CodecError", err)
	}
	if ce.Kind != UnknownToken || ce.Offset != 6 || ce.Opcode != 0x18 {
		t.Errorf("CodecError = %+v, want UnknownToken at 6 for 0x18", ce)
	}
}

func TestEncodeErrors(t *testing.T) {
	tests := []struct {
		name string
		ptgs []Ptg
		want error
	}{
		{"no class", []Ptg{RefPtg{}}, ErrMalformedToken},
		{"bad class", []Ptg{FuncPtg{Cls: 4, Index: 1}}, ErrMalformedToken},
		{"long string", []Ptg{StrPtg{Value: strings.Repeat("x", 256)}}, ErrMalformedToken},
		{"argc", []Ptg{FuncVarPtg{Cls: ClassValue, Argc: 0x80, Index: 4}}, ErrMalformedToken},
		{"function index", []Ptg{FuncVarPtg{Cls: ClassValue, Argc: 1, Index: 0x8000}}, ErrMalformedToken},
		{"column", []Ptg{RefPtg{Cls: ClassValue, Col: NewColField(300, false, false)}}, ErrMalformedToken},
		{"error code", []Ptg{ErrPtg{Code: 3}}, ErrMalformedToken},
		{"infinite number", []Ptg{NumPtg{Value: math.Inf(-1)}}, ErrMalformedToken},
		{"operator", []Ptg{OperatorPtg{Op: 0x15}}, ErrMalformedToken},
		{"jumps", []Ptg{AttrPtg{Flags: AttrChoose, Data: 2, Jumps: []uint16{1}}}, ErrMalformedToken},
		{"array shape", []Ptg{ArrayPtg{Cls: ClassArray, Rows: 2, Cols: 2, Values: []Value{Number(1)}}}, ErrMalformedToken},
		{"nil", []Ptg{nil}, ErrMalformedToken},
	}
	for _, tt := range tests {
		_, err := EncodeTokens(tt.ptgs)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: EncodeTokens error = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestValidateTokens(t *testing.T) {
	tests := []struct {
		ptgs []Ptg
		want error
	}{
		{[]Ptg{IntPtg{Value: 1}, IntPtg{Value: 2}, OperatorPtg{Op: OpAdd}}, nil},
		{[]Ptg{IntPtg{Value: 1}, OperatorPtg{Op: OpUminus}, AttrPtg{Flags: AttrSum}}, nil},
		{[]Ptg{IntPtg{Value: 1}, OperatorPtg{Op: OpAdd}}, ErrMalformedProgram},
		{[]Ptg{IntPtg{Value: 1}, IntPtg{Value: 2}}, ErrMalformedProgram},
		{[]Ptg{}, ErrMalformedProgram},
		{[]Ptg{FuncPtg{Cls: ClassValue, Index: 9999}}, ErrUnknownFunctionIndex},
		{[]Ptg{IntPtg{Value: 1}, FuncVarPtg{Cls: ClassValue, Argc: 2, Index: 4}}, ErrMalformedProgram},
		{[]Ptg{FuncPtg{Cls: ClassValue, Index: 19}}, nil},
	}
	for _, tt := range tests {
		err := ValidateTokens(tt.ptgs)
		if tt.want == nil && err != nil || tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("ValidateTokens(%v) = %v, want %v", tt.ptgs, err, tt.want)
		}
	}
}

func TestDumpTokens(t *testing.T) {
	var buf bytes.Buffer
	DumpTokens(&buf, []Ptg{IntPtg{Value: 42}, StrPtg{Value: "x"}})
	out := buf.String()
	for _, want := range []string{"0: ", "1: ", "Value: (uint16) 42", `Value: (string) (len=1) "x"`} {
		if !strings.Contains(out, want) {
			t.Errorf("DumpTokens output missing %q:\n%s", want, out)
		}
	}
}

func TestCodecVerbosity(t *testing.T) {
	var log bytes.Buffer
	c := &Codec{Logfile: &log, Verbosity: 2}
	data, err := c.Encode([]Ptg{IntPtg{Value: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Decode(data, len(data)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(log.String(), "Op:0x1e") {
		t.Errorf("trace output = %q, want token lines", log.String())
	}
}
