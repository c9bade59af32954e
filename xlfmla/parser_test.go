package xlfmla

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func relCol(col int) ColField { return NewColField(col, true, true) }

func TestParseTokens(t *testing.T) {
	sc := NewOriginContext("Sheet1", 0, 0)
	tests := []struct {
		formula string
		want    []Ptg
	}{
		{"=1+2", []Ptg{IntPtg{Value: 1}, IntPtg{Value: 2}, OperatorPtg{Op: OpAdd}}},
		{"1+2*3", []Ptg{IntPtg{Value: 1}, IntPtg{Value: 2}, IntPtg{Value: 3}, OperatorPtg{Op: OpMul}, OperatorPtg{Op: OpAdd}}},
		{"=(1+2)*3", []Ptg{IntPtg{Value: 1}, IntPtg{Value: 2}, OperatorPtg{Op: OpAdd}, ParenPtg{}, IntPtg{Value: 3}, OperatorPtg{Op: OpMul}}},
		{"=2^3^2", []Ptg{IntPtg{Value: 2}, IntPtg{Value: 3}, OperatorPtg{Op: OpPower}, IntPtg{Value: 2}, OperatorPtg{Op: OpPower}}},
		{"=-2^2", []Ptg{IntPtg{Value: 2}, OperatorPtg{Op: OpUminus}, IntPtg{Value: 2}, OperatorPtg{Op: OpPower}}},
		{"=50%", []Ptg{IntPtg{Value: 50}, OperatorPtg{Op: OpPercent}}},
		{"=1.5", []Ptg{NumPtg{Value: 1.5}}},
		{"=70000", []Ptg{NumPtg{Value: 70000}}},
		{"=1E+3", []Ptg{IntPtg{Value: 1000}}},
		{"=12E+3", []Ptg{IntPtg{Value: 12000}}},
		{`="a"&"b"`, []Ptg{StrPtg{Value: "a"}, StrPtg{Value: "b"}, OperatorPtg{Op: OpConcat}}},
		{`="日本"`, []Ptg{StrPtg{Value: "日本", Wide: true}}},
		{"=TRUE", []Ptg{BoolPtg{Value: true}}},
		{"=#N/A", []Ptg{ErrPtg{Code: NotAvailable}}},
		{"=A1", []Ptg{RefPtg{Cls: ClassValue, Col: relCol(0)}}},
		{"=$B$2", []Ptg{RefPtg{Cls: ClassValue, Row: 1, Col: NewColField(1, false, false)}}},
		{"=B$2", []Ptg{RefPtg{Cls: ClassValue, Row: 1, Col: NewColField(1, false, true)}}},
		{"=A1:B2", []Ptg{AreaPtg{Cls: ClassValue, LastRow: 1, FirstCol: relCol(0), LastCol: relCol(1)}}},
		{"=B2:A1", []Ptg{AreaPtg{Cls: ClassValue, LastRow: 1, FirstCol: relCol(0), LastCol: relCol(1)}}},
		{"=A:B", []Ptg{AreaPtg{Cls: ClassValue, LastRow: 65535, FirstCol: NewColField(0, false, true), LastCol: NewColField(1, false, true)}}},
		{"=SUM(A1:B2)", []Ptg{AreaPtg{Cls: ClassReference, LastRow: 1, FirstCol: relCol(0), LastCol: relCol(1)}, AttrPtg{Flags: AttrSum}}},
		{"=SUM(1,2)", []Ptg{IntPtg{Value: 1}, IntPtg{Value: 2}, FuncVarPtg{Cls: ClassValue, Argc: 2, Index: 4}}},
		{"=ABS(-1)", []Ptg{IntPtg{Value: 1}, OperatorPtg{Op: OpUminus}, FuncPtg{Cls: ClassValue, Index: 24}}},
		{"=PI()", []Ptg{FuncPtg{Cls: ClassValue, Index: 19}}},
		{"=IF(A1>0,1,2)", []Ptg{
			RefPtg{Cls: ClassValue, Col: relCol(0)}, IntPtg{Value: 0}, OperatorPtg{Op: OpGT},
			IntPtg{Value: 1}, IntPtg{Value: 2}, FuncVarPtg{Cls: ClassValue, Argc: 3, Index: 1},
		}},
		{"=IF(TRUE,,2)", []Ptg{BoolPtg{Value: true}, MissArgPtg{}, IntPtg{Value: 2}, FuncVarPtg{Cls: ClassValue, Argc: 3, Index: 1}}},
		{"={1,2;3,4}", []Ptg{ArrayPtg{Cls: ClassArray, Rows: 2, Cols: 2, Values: []Value{Number(1), Number(2), Number(3), Number(4)}}}},
		{`={"a",TRUE,#DIV/0!,-1.5}`, []Ptg{ArrayPtg{Cls: ClassArray, Rows: 1, Cols: 4, Values: []Value{Text("a"), Boolean(true), DivByZero, Number(-1.5)}}}},
		{"=A1:B2 B2:C3", []Ptg{
			AreaPtg{Cls: ClassReference, LastRow: 1, FirstCol: relCol(0), LastCol: relCol(1)},
			AreaPtg{Cls: ClassReference, FirstRow: 1, LastRow: 2, FirstCol: relCol(1), LastCol: relCol(2)},
			OperatorPtg{Op: OpIsect},
		}},
		{"=NOW()", []Ptg{AttrPtg{Flags: AttrVolatile}, FuncPtg{Cls: ClassValue, Index: 74}}},
		{"=_xlfn.ABS(1)", []Ptg{IntPtg{Value: 1}, FuncPtg{Cls: ClassValue, Index: 24}}},
	}

	for _, tt := range tests {
		got, err := ParseFormula(tt.formula, sc)
		if err != nil {
			t.Errorf("ParseFormula(%q) error = %v", tt.formula, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseFormula(%q) = %v, want %v", tt.formula, got, tt.want)
		}
	}
}

func TestParseWithBook(t *testing.T) {
	b := newTestBook(t, nil, "Sheet1", "Sheet2", "My Sheet")
	if err := b.AddName("Rate", "Sheet1!$B$1"); err != nil {
		t.Fatal(err)
	}
	sc := b.At("Sheet1", 0, 0)
	tests := []struct {
		formula string
		want    []Ptg
	}{
		{"=Sheet2!B3", []Ptg{Ref3dPtg{Cls: ClassValue, Ixti: 1, Row: 2, Col: relCol(1)}}},
		{"='My Sheet'!A1:A2", []Ptg{Area3dPtg{Cls: ClassValue, Ixti: 2, LastRow: 1, FirstCol: relCol(0), LastCol: relCol(0)}}},
		{"=Rate*2", []Ptg{NamePtg{Cls: ClassValue, Index: 1}, IntPtg{Value: 2}, OperatorPtg{Op: OpMul}}},
		{"=SUM(rate)", []Ptg{NamePtg{Cls: ClassReference, Index: 1}, AttrPtg{Flags: AttrSum}}},
	}
	for _, tt := range tests {
		got, err := ParseFormula(tt.formula, sc)
		if err != nil {
			t.Errorf("ParseFormula(%q) error = %v", tt.formula, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseFormula(%q) = %v, want %v", tt.formula, got, tt.want)
		}
	}

	names := b.Names()
	want := []Ptg{Ref3dPtg{Cls: ClassReference, Ixti: 0, Row: 0, Col: NewColField(1, false, false)}}
	if len(names) != 1 || !reflect.DeepEqual(names[0].Tokens, want) {
		t.Errorf("name tokens = %v, want %v", names[0].Tokens, want)
	}
}

func TestParseErrors(t *testing.T) {
	sc := NewOriginContext("Sheet1", 0, 0)
	tests := []struct {
		formula string
		want    error
		offset  int
	}{
		{"=1+", ErrSyntax, 3},
		{"", ErrSyntax, 0},
		{"=SUM(1,2", ErrSyntax, 8},
		{"=SUM(1,2))", ErrSyntax, 9},
		{`="abc`, ErrSyntax, 1},
		{`=1+'Sheet`, ErrSyntax, 3},
		{"=ABS(1,2)", ErrSyntax, 1},
		{"=A65537", ErrSyntax, 1},
		{"=1+IW1", ErrSyntax, 3},
		{`="` + strings.Repeat("x", 256) + `"`, ErrSyntax, 1},
		{"={1,2;3}", ErrSyntax, 1},
		{"={1,A1}", ErrSyntax, 4},
		{"=foo+1", ErrUnknownName, 1},
		{"=1+Nope!A1", ErrUnknownName, 3},
		{"=VLOKUP(1,A1:B2,2)", ErrUnknownFunctionName, 1},
	}
	for _, tt := range tests {
		_, err := ParseFormula(tt.formula, sc)
		if !errors.Is(err, tt.want) {
			t.Errorf("ParseFormula(%q) error = %v, want %v", tt.formula, err, tt.want)
			continue
		}
		var fe *FormulaError
		if !errors.As(err, &fe) {
			t.Errorf("ParseFormula(%q) error %T is not a FormulaError", tt.formula, err)
			continue
		}
		if fe.Offset != tt.offset {
			t.Errorf("ParseFormula(%q) offset = %d, want %d (%v)", tt.formula, fe.Offset, tt.offset, err)
		}
	}
}

func TestUnknownFunctionSuggestion(t *testing.T) {
	_, err := ParseFormula("=VLOKUP(1,A1:B2,2)", NewOriginContext("Sheet1", 0, 0))
	var fe *FormulaError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want a FormulaError", err)
	}
	if fe.Name != "VLOKUP" || fe.Suggestion != "VLOOKUP" {
		t.Errorf("Name, Suggestion = %q, %q, want VLOKUP, VLOOKUP", fe.Name, fe.Suggestion)
	}
	if !strings.Contains(err.Error(), "did you mean VLOOKUP?") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestParseAddIn(t *testing.T) {
	opts := &Options{AddIns: map[string]FuncImpl{
		"double": func(c *Call, args []Operand) Operand {
			x, errv := c.number(args[0])
			if errv != nil {
				return errv
			}
			return Number(2 * x)
		},
	}}
	b := newTestBook(t, opts)
	ptgs, err := NewParser(opts).Parse("=DOUBLE(21)", b.At("Sheet1", 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	want := []Ptg{
		NameXPtg{Cls: ClassReference, Ixti: addInIxti, Index: 1},
		IntPtg{Value: 21},
		FuncVarPtg{Cls: ClassValue, Argc: 2, Index: addInIndex},
	}
	if !reflect.DeepEqual(ptgs, want) {
		t.Errorf("Parse(DOUBLE(21)) = %v, want %v", ptgs, want)
	}
	text, err := NewRenderer(opts).Render(ptgs, b.At("Sheet1", 0, 0))
	if err != nil || text != "DOUBLE(21)" {
		t.Errorf("Render = %q, %v, want DOUBLE(21)", text, err)
	}
	if v := evalIn(t, b, "=double(21)+1"); v != Number(43) {
		t.Errorf("double(21)+1 = %v, want 43", v)
	}
}

func TestParseTrace(t *testing.T) {
	var log strings.Builder
	p := NewParser(&Options{Logfile: &log, Verbosity: 2})
	if _, err := p.Parse("=1+2", NewOriginContext("Sheet1", 0, 0)); err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(log.String(), "\n"); got != 3 {
		t.Errorf("trace has %d lines, want 3:\n%s", got, log.String())
	}
}

func TestLex(t *testing.T) {
	tests := []struct {
		src  string
		want []lexKind
	}{
		{"=1+2", []lexKind{lexNumber, lexInfix, lexNumber}},
		{"=-A1%", []lexKind{lexPrefix, lexOperand, lexPostfix}},
		{"=SUM(1,2)", []lexKind{lexFunc, lexNumber, lexComma, lexNumber, lexFuncClose}},
		{"=(1)", []lexKind{lexParenOpen, lexNumber, lexParenClose}},
		{`="x"&#N/A`, []lexKind{lexText, lexInfix, lexError}},
	}
	for _, tt := range tests {
		lx, err := lex(tt.src)
		if err != nil {
			t.Errorf("lex(%q) error = %v", tt.src, err)
			continue
		}
		var got []lexKind
		for _, l := range lx {
			got = append(got, l.kind)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("lex(%q) kinds = %v, want %v", tt.src, got, tt.want)
		}
	}

	lx, err := lex("=SUM( A1 , 2 )")
	if err != nil {
		t.Fatal(err)
	}
	if lx[1].text != "A1" || lx[1].pos != 6 {
		t.Errorf("lex A1 = %+v, want pos 6", lx[1])
	}
}
