package xlfmla

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// mapContext is a single-sheet EvaluationContext over constant cells.
type mapContext struct {
	origin CellRef
	cells  map[CellRef]Value
}

func (c *mapContext) Origin() CellRef                        { return c.origin }
func (c *mapContext) ResolveName(index int) (Operand, error) { return nil, ErrUnknownName }
func (c *mapContext) IsVolatileContext() bool                { return false }

func (c *mapContext) SheetName(ixti int) (string, error) {
	if ixti != 0 {
		return "", errors.New("no such sheet")
	}
	return c.origin.Sheet, nil
}

func (c *mapContext) CellValue(sheet string, row, col int) (Value, error) {
	if v, ok := c.cells[CellRef{Sheet: sheet, Row: row, Col: col}]; ok {
		return v, nil
	}
	return Blank{}, nil
}

func TestEvaluateOperators(t *testing.T) {
	b := newTestBook(t, nil)
	fill(t, b, "Sheet1", map[string]interface{}{
		"A1": 1,
		"A3": 3,
		"B1": "abc",
		"B2": "2",
		"C1": true,
	})
	checkFormulas(t, b, []formulaCase{
		{"=1+2*3", Number(7)},
		{"=(1+2)*3", Number(9)},
		{"=2^3^2", Number(64)},
		{"=-2^2", Number(4)},
		{"=50%", Number(0.5)},
		{"=1/0", DivByZero},
		{"=0^0", NumericOverflow},
		{"=0^-1", DivByZero},
		{`=1+"abc"`, InvalidValue},
		{`=1+"2"`, Number(3)},
		{`=1+" 1,000 "`, Number(1001)},
		{"=A1+B2", Number(3)},
		{"=A1+B1", InvalidValue},
		{"=A1+C1", Number(2)},
		{"=A2+1", Number(1)},
		{"=-A1", Number(-1)},
		{"=+A3", Number(3)},
		{`="a"&1`, Text("a1")},
		{`=A1&B1`, Text("1abc")},
		{`="x"&TRUE`, Text("xTRUE")},
		{"=#N/A+1", NotAvailable},
		{"=1/0&\"x\"", DivByZero},
		{"=1<2", Boolean(true)},
		{`="a"="A"`, Boolean(true)},
		{`="b">"a"`, Boolean(true)},
		{`="1">1`, Boolean(true)},
		{"=1>TRUE", Boolean(true)},
		{"=A2=0", Boolean(true)},
		{`=A2=""`, Boolean(true)},
		{"=A2=FALSE", Boolean(true)},
		{"=1<>1", Boolean(false)},
		{"=#DIV/0!=1", DivByZero},
	})
}

func TestEvaluateReferences(t *testing.T) {
	b := newTestBook(t, nil, "Sheet1", "Sheet2")
	fill(t, b, "Sheet1", map[string]interface{}{
		"A1": 1,
		"A3": 3,
		"B3": 30,
	})
	fill(t, b, "Sheet2", map[string]interface{}{
		"A1": 100,
	})
	checkFormulas(t, b, []formulaCase{
		{"=SUM(A1:A3)", Number(4)},
		{"=COUNT(A1:A3)", Number(2)},
		{"=SUM((A1,A3))", Number(4)},
		{"=SUM(A1:A3 A3:B3)", Number(3)},
		{"=A1:A3 A3:B3", Number(3)},
		{"=A1 B3", NullIntersection},
		{"=A1:A3", InvalidValue},
		{"=Sheet2!A1+A1", Number(101)},
		{"=SUM(Sheet2!A1:B2)", Number(100)},
		{"=SUM({1,2,3}*2)", Number(12)},
		{"=SUM({1;2}+{10,20})", Number(66)},
		{"=SUM(A:A)", Number(4)},
		{"=SUM(3:3)", Number(33)},
		{"=ROWS(A1:B3)", Number(3)},
	})
}

func TestEvaluateCircular(t *testing.T) {
	b := newTestBook(t, nil)
	fill(t, b, "Sheet1", map[string]interface{}{
		"A1": "=B1+1",
		"B1": "=A1+1",
		"C1": "=C1",
		"D1": "=ISNA(A1)",
	})
	for _, addr := range []string{"A1", "B1", "C1"} {
		row, col, _ := A1(addr)
		v, err := b.Value("Sheet1", row, col)
		if err != nil {
			t.Errorf("Value(%s) error = %v", addr, err)
			continue
		}
		if v != NotAvailable {
			t.Errorf("Value(%s) = %v, want #N/A", addr, v)
		}
	}
	if v, err := b.Value("Sheet1", 0, 3); err != nil || v != Boolean(true) {
		t.Errorf("Value(D1) = %v, %v, want TRUE", v, err)
	}
}

func TestEvaluateCircularName(t *testing.T) {
	b := newTestBook(t, nil)
	if err := b.AddName("Loop", "Sheet1!A1"); err != nil {
		t.Fatal(err)
	}
	fill(t, b, "Sheet1", map[string]interface{}{
		"A1": "=Loop*2",
	})
	v, err := b.Value("Sheet1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v != NotAvailable {
		t.Errorf("Value(A1) = %v, want #N/A", v)
	}
}

func TestEvaluateDepth(t *testing.T) {
	b := newTestBook(t, &Options{MaxDepth: 3})
	fill(t, b, "Sheet1", map[string]interface{}{
		"A1": "=A2+1",
		"A2": "=A3+1",
		"A3": "=A4+1",
		"A4": "=A5+1",
		"A5": 1,
	})
	if _, err := b.Value("Sheet1", 0, 0); !errors.Is(err, ErrRecursionDepthExceeded) {
		t.Errorf("Value(A1) error = %v, want %v", err, ErrRecursionDepthExceeded)
	}
	// Starting lower in the chain stays within the limit.
	if v, err := b.Value("Sheet1", 2, 0); err != nil || v != Number(3) {
		t.Errorf("Value(A3) = %v, %v, want 3", v, err)
	}
}

func TestEvaluateTokenErrors(t *testing.T) {
	ctx := &mapContext{origin: CellRef{Sheet: "Sheet1"}}
	tests := []struct {
		ptgs []Ptg
		want error
	}{
		{nil, ErrMalformedProgram},
		{[]Ptg{IntPtg{Value: 1}, IntPtg{Value: 2}}, ErrMalformedProgram},
		{[]Ptg{OperatorPtg{Op: OpAdd}}, ErrMalformedProgram},
		{[]Ptg{ParenPtg{}}, ErrMalformedProgram},
		{[]Ptg{FuncPtg{Cls: ClassValue, Index: 9999}}, ErrUnknownFunctionIndex},
		{[]Ptg{IntPtg{Value: 1}, FuncVarPtg{Cls: ClassValue, Argc: 2, Index: 0}}, ErrMalformedProgram},
		{[]Ptg{TblPtg{Row: 1, Col: 1}}, ErrNotImplemented},
		{[]Ptg{ExpPtg{Row: 0, Col: 0}}, ErrUnresolvedSharedFormula},
		{[]Ptg{ArrayPtg{Cls: ClassArray, Rows: 2, Cols: 2, Values: []Value{Number(1)}}}, ErrMalformedProgram},
	}
	for _, tt := range tests {
		_, err := Evaluate(tt.ptgs, ctx)
		if !errors.Is(err, tt.want) {
			t.Errorf("Evaluate(%v) error = %v, want %v", tt.ptgs, err, tt.want)
		}
	}
}

func TestEvaluateTokenValues(t *testing.T) {
	ctx := &mapContext{
		origin: CellRef{Sheet: "Sheet1", Row: 4, Col: 4},
		cells: map[CellRef]Value{
			{Sheet: "Sheet1", Row: 0, Col: 0}: Number(10),
			{Sheet: "Sheet1", Row: 3, Col: 3}: Number(5),
		},
	}
	tests := []struct {
		ptgs []Ptg
		want Value
	}{
		{[]Ptg{RefPtg{Cls: ClassValue, Col: relCol(0)}}, Number(10)},
		{[]Ptg{RefNPtg{Cls: ClassValue, Row: 0xFFFF, Col: relCol(0).SetOffset(-1)}}, Number(5)},
		{[]Ptg{Ref3dPtg{Cls: ClassValue, Ixti: 0, Col: relCol(0)}}, Number(10)},
		{[]Ptg{Ref3dPtg{Cls: ClassValue, Ixti: 3, Col: relCol(0)}}, InvalidRef},
		{[]Ptg{RefErrPtg{Cls: ClassValue}}, InvalidRef},
		{[]Ptg{NamePtg{Cls: ClassValue, Index: 1}}, InvalidName},
		{[]Ptg{FuncVarPtg{Cls: ClassValue, Argc: 0, Index: 1}}, InvalidValue},
		{[]Ptg{AttrPtg{Flags: AttrSpace, Data: 2}, BoolPtg{Value: true}}, Boolean(true)},
		{[]Ptg{MissArgPtg{}}, Blank{}},
		{[]Ptg{ErrPtg{Code: NotAvailable}}, NotAvailable},
		{[]Ptg{ArrayPtg{Cls: ClassArray, Rows: 1, Cols: 2, Values: []Value{Text("x"), Number(2)}}}, Text("x")},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.ptgs, ctx)
		if err != nil {
			t.Errorf("Evaluate(%v) error = %v", tt.ptgs, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Evaluate(%v) = %#v, want %#v", tt.ptgs, got, tt.want)
		}
	}
}

func TestEvaluateDecoded(t *testing.T) {
	b := newTestBook(t, nil)
	fill(t, b, "Sheet1", map[string]interface{}{
		"A1": 4,
		"A2": 5,
		"A3": "x",
		"B1": 2,
	})
	formulas := []string{
		"=SUM(A1:A3)*2+IF(A1>0,1,2)",
		`=CONCATENATE(A3,"-",A1)`,
		"=MAX({1,7,3})-MIN(A1:A2)",
		"=IF(B1=2,\"two\",\"other\")",
		"=CHOOSE(2,A1,A2,B1)",
		"=A1^B1%",
		"=-A2+\"3\"",
	}
	for _, text := range formulas {
		ctx := b.At("Sheet1", 9, 9)
		ptgs, err := ParseFormula(text, ctx)
		if err != nil {
			t.Errorf("ParseFormula(%q) error = %v", text, err)
			continue
		}
		data, err := EncodeTokens(ptgs)
		if err != nil {
			t.Errorf("EncodeTokens(%q) error = %v", text, err)
			continue
		}
		decoded, err := DecodeTokens(data, TokenArrayLen(ptgs))
		if err != nil {
			t.Errorf("DecodeTokens(%q) error = %v", text, err)
			continue
		}
		want, err := b.EvaluateFormula("Sheet1", 9, 9, text)
		if err != nil {
			t.Errorf("EvaluateFormula(%q) error = %v", text, err)
			continue
		}
		got, err := NewEvaluator(nil).Evaluate(decoded, b.root("Sheet1", 9, 9))
		if err != nil {
			t.Errorf("Evaluate(decoded %q) error = %v", text, err)
			continue
		}
		if !sameValue(got, want) {
			t.Errorf("Evaluate(decoded %q) = %v, want %v", text, got, want)
		}
	}
}

func TestEvaluateTrace(t *testing.T) {
	var buf bytes.Buffer
	ptgs, err := ParseFormula("=1+2", NewOriginContext("Sheet1", 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	e := NewEvaluator(&Options{Logfile: &buf, Verbosity: 2})
	if _, err := e.Evaluate(ptgs, &mapContext{origin: CellRef{Sheet: "Sheet1"}}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("trace has %d lines, want 3:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[2], "Pos:6 Op:0x03") {
		t.Errorf("trace line 3 = %q, want Pos:6 Op:0x03 prefix", lines[2])
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		a, b Value
		want int
	}{
		{Number(1), Number(2), -1},
		{Number(2), Number(2), 0},
		{Text("abc"), Text("ABC"), 0},
		{Text("Straße"), Text("STRASSE"), 0},
		{Text("b"), Text("a"), 1},
		{Text("a"), Number(100), 1},
		{Number(0), Boolean(false), 1},
		{Boolean(false), Boolean(true), -1},
		{DivByZero, Text("z"), 1},
		{Blank{}, Boolean(false), -1},
	}
	for _, tt := range tests {
		if got := compareValues(tt.a, tt.b); got != tt.want {
			t.Errorf("compareValues(%#v, %#v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestParseNumberText(t *testing.T) {
	tests := []struct {
		s    string
		want float64
		ok   bool
	}{
		{"42", 42, true},
		{" 1.5 ", 1.5, true},
		{"1,234", 1234, true},
		{"$12", 12, true},
		{"50%", 0.5, true},
		{"(3)", -3, true},
		{"1E3", 1000, true},
		{"2024-01-01", 45292, true},
		{"12:00", 0.5, true},
		{"", 0, false},
		{"abc", 0, false},
		{"Inf", 0, false},
		{"0x10", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseNumberText(tt.s)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("parseNumberText(%q) = %v, %v, want %v, %v", tt.s, got, ok, tt.want, tt.ok)
		}
	}
}
