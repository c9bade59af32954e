package xlfmla

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Operand is one slot of the evaluation stack: a Value, a reference or an
// array.
type Operand interface {
	isOperand()
}

// Value is a scalar evaluation result.
type Value interface {
	Operand
	String() string
	isValue()
}

type (
	Number  float64
	Text    string
	Boolean bool
	Blank   struct{}
)

func (Number) isOperand()    {}
func (Text) isOperand()      {}
func (Boolean) isOperand()   {}
func (Blank) isOperand()     {}
func (ErrorCode) isOperand() {}

func (Number) isValue()    {}
func (Text) isValue()      {}
func (Boolean) isValue()   {}
func (Blank) isValue()     {}
func (ErrorCode) isValue() {}

func (n Number) String() string { return formatNumber(float64(n)) }
func (t Text) String() string   { return string(t) }
func (b Boolean) String() string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
func (Blank) String() string { return "" }

// formatNumber renders a number the way the General cell format does.
func formatNumber(v float64) string {
	if v == 0 {
		return "0"
	}
	a := math.Abs(v)
	if a >= 1e-5 && a < 1e15 {
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if len(strings.TrimLeft(s, "-0.")) > 15 {
			s = strconv.FormatFloat(v, 'g', 15, 64)
			if strings.ContainsAny(s, "e") {
				return s
			}
			if strings.Contains(s, ".") {
				s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
			}
		}
		return s
	}
	return strings.ToUpper(strconv.FormatFloat(v, 'g', 15, 64))
}

// Ref is a single cell on a named sheet.
type Ref struct {
	Sheet    string
	Row, Col int
}

// Area is a rectangular range on one sheet, bounds inclusive.
type Area struct {
	Sheet             string
	FirstRow, LastRow int
	FirstCol, LastCol int
}

// AreaList is the result of the union operator.
type AreaList []*Area

// Array is a rows x cols block of scalars in row-major order.
type Array struct {
	Rows, Cols int
	Values     []Value
}

// missingArg stands for an omitted function argument.
type missingArg struct{}

// externalName is an add-in function name awaiting its call token.
type externalName struct {
	Name string
}

func (*Ref) isOperand()         {}
func (*Area) isOperand()        {}
func (AreaList) isOperand()     {}
func (*Array) isOperand()       {}
func (missingArg) isOperand()   {}
func (externalName) isOperand() {}

func (r *Ref) String() string {
	return fmt.Sprintf("%s!%s", r.Sheet, CellName(r.Row, r.Col))
}

func (a *Area) String() string {
	return fmt.Sprintf("%s!%s:%s", a.Sheet, CellName(a.FirstRow, a.FirstCol), CellName(a.LastRow, a.LastCol))
}

// Rows is the height of the area.
func (a *Area) Rows() int { return a.LastRow - a.FirstRow + 1 }

// Cols is the width of the area.
func (a *Area) Cols() int { return a.LastCol - a.FirstCol + 1 }

func (a *Area) contains(sheet string, row, col int) bool {
	return a.Sheet == sheet && row >= a.FirstRow && row <= a.LastRow && col >= a.FirstCol && col <= a.LastCol
}

func areaOf(r *Ref) *Area {
	return &Area{Sheet: r.Sheet, FirstRow: r.Row, LastRow: r.Row, FirstCol: r.Col, LastCol: r.Col}
}

// NewArray builds an array, padding missing values with Blank.
func NewArray(rows, cols int, values ...Value) *Array {
	a := &Array{Rows: rows, Cols: cols, Values: make([]Value, rows*cols)}
	for i := range a.Values {
		if i < len(values) && values[i] != nil {
			a.Values[i] = values[i]
		} else {
			a.Values[i] = Blank{}
		}
	}
	return a
}

// At returns the element at row r, column c.
func (a *Array) At(r, c int) Value {
	return a.Values[r*a.Cols+c]
}

func (a *Array) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for r := 0; r < a.Rows; r++ {
		if r > 0 {
			b.WriteByte(';')
		}
		for c := 0; c < a.Cols; c++ {
			if c > 0 {
				b.WriteByte(',')
			}
			b.WriteString(arrayElementText(a.At(r, c)))
		}
	}
	b.WriteByte('}')
	return b.String()
}

func arrayElementText(v Value) string {
	switch t := v.(type) {
	case Text:
		return quoteString(string(t))
	case Number:
		return formatLiteralNumber(float64(t))
	}
	return v.String()
}

// IsError reports whether v is an error value.
func IsError(v Value) bool {
	_, ok := v.(ErrorCode)
	return ok
}

// ValuesEqual compares two results exactly; numbers compare by value and
// two NaNs are equal.
func ValuesEqual(a, b Value) bool {
	an, aok := a.(Number)
	bn, bok := b.(Number)
	if aok && bok {
		return an == bn || (math.IsNaN(float64(an)) && math.IsNaN(float64(bn)))
	}
	return a == b
}
