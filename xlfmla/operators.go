package xlfmla

import (
	"math"
	"strings"

	"golang.org/x/text/cases"
)

func (m *machine) operator(op byte) {
	switch {
	case op >= OpUplus:
		a := m.pop()
		if m.err != nil {
			return
		}
		m.push(m.unary(op, a))
	case op >= OpIsect:
		b := m.pop()
		a := m.pop()
		if m.err != nil {
			return
		}
		m.push(m.refOperator(op, a, b))
	default:
		b := m.pop()
		a := m.pop()
		if m.err != nil {
			return
		}
		m.push(m.binary(op, a, b))
	}
}

func (m *machine) unary(op byte, a Operand) Operand {
	fn := func(v Value) Value {
		if e, ok := v.(ErrorCode); ok {
			return e
		}
		if op == OpUplus {
			return v
		}
		x, errv := arithNumber(v)
		if errv != nil {
			return errv
		}
		if op == OpUminus {
			return Number(-x)
		}
		return numberResult(x / 100)
	}
	if arr, ok := a.(*Array); ok {
		out := &Array{Rows: arr.Rows, Cols: arr.Cols, Values: make([]Value, len(arr.Values))}
		for i, v := range arr.Values {
			out.Values[i] = fn(v)
		}
		return out
	}
	if op == OpUplus {
		// Unary plus keeps references intact.
		return a
	}
	return fn(m.scalar(a))
}

func (m *machine) binary(op byte, a, b Operand) Operand {
	fn := binaryFunc(op)
	_, aArr := a.(*Array)
	_, bArr := b.(*Array)
	if aArr || bArr {
		return broadcast(m.arrayOperand(a), m.arrayOperand(b), fn)
	}
	return fn(m.scalar(a), m.scalar(b))
}

// arrayOperand turns the partner of an array operand into an array.
func (m *machine) arrayOperand(op Operand) *Array {
	switch t := op.(type) {
	case *Array:
		return t
	case *Ref, *Area, AreaList:
		if arr, ok := m.materialize(t).(*Array); ok {
			return arr
		}
		return NewArray(1, 1, InvalidValue)
	}
	return NewArray(1, 1, m.scalar(op))
}

// broadcast applies fn element-wise. A dimension of 1 stretches to the
// other operand's size; positions outside a smaller operand are #N/A.
func broadcast(a, b *Array, fn func(x, y Value) Value) *Array {
	rows, cols := max(a.Rows, b.Rows), max(a.Cols, b.Cols)
	out := &Array{Rows: rows, Cols: cols, Values: make([]Value, 0, rows*cols)}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x, okx := stretch(a, r, c)
			y, oky := stretch(b, r, c)
			if !okx || !oky {
				out.Values = append(out.Values, NotAvailable)
				continue
			}
			out.Values = append(out.Values, fn(x, y))
		}
	}
	return out
}

func stretch(a *Array, r, c int) (Value, bool) {
	if a.Rows == 1 {
		r = 0
	}
	if a.Cols == 1 {
		c = 0
	}
	if r >= a.Rows || c >= a.Cols {
		return nil, false
	}
	return a.At(r, c), true
}

func binaryFunc(op byte) func(x, y Value) Value {
	switch op {
	case OpConcat:
		return concatValues
	case OpLT, OpLE, OpEQ, OpGE, OpGT, OpNE:
		return func(x, y Value) Value { return compareOp(op, x, y) }
	}
	return func(x, y Value) Value { return arith(op, x, y) }
}

// arithNumber coerces an operand of an arithmetic operator.
func arithNumber(v Value) (float64, Value) {
	switch t := v.(type) {
	case Number:
		return float64(t), nil
	case Blank:
		return 0, nil
	case Boolean:
		if t {
			return 1, nil
		}
		return 0, nil
	case Text:
		if n, ok := parseNumberText(string(t)); ok {
			return n, nil
		}
		return 0, InvalidValue
	case ErrorCode:
		return 0, t
	}
	return 0, InvalidValue
}

func arith(op byte, a, b Value) Value {
	x, errv := arithNumber(a)
	if errv != nil {
		return errv
	}
	y, errv := arithNumber(b)
	if errv != nil {
		return errv
	}
	var r float64
	switch op {
	case OpAdd:
		r = x + y
	case OpSub:
		r = x - y
	case OpMul:
		r = x * y
	case OpDiv:
		if y == 0 {
			return DivByZero
		}
		r = x / y
	case OpPower:
		if x == 0 && y == 0 {
			return NumericOverflow
		}
		if x == 0 && y < 0 {
			return DivByZero
		}
		r = math.Pow(x, y)
	default:
		return InvalidValue
	}
	return numberResult(r)
}

func concatValues(a, b Value) Value {
	x, errv := valueText(a)
	if errv != nil {
		return errv
	}
	y, errv := valueText(b)
	if errv != nil {
		return errv
	}
	return Text(x + y)
}

func compareOp(op byte, a, b Value) Value {
	if e, ok := a.(ErrorCode); ok {
		return e
	}
	if e, ok := b.(ErrorCode); ok {
		return e
	}
	c := compareScalars(a, b)
	switch op {
	case OpLT:
		return Boolean(c < 0)
	case OpLE:
		return Boolean(c <= 0)
	case OpEQ:
		return Boolean(c == 0)
	case OpGE:
		return Boolean(c >= 0)
	case OpGT:
		return Boolean(c > 0)
	}
	return Boolean(c != 0)
}

// compareScalars orders two non-error values the way comparison operators
// do: a blank takes the type of the other side, and across types
// text > number > boolean.
func compareScalars(a, b Value) int {
	_, aBlank := a.(Blank)
	_, bBlank := b.(Blank)
	switch {
	case aBlank && bBlank:
		return 0
	case aBlank:
		a = zeroLike(b)
	case bBlank:
		b = zeroLike(a)
	}
	return compareValues(a, b)
}

func zeroLike(v Value) Value {
	switch v.(type) {
	case Text:
		return Text("")
	case Boolean:
		return Boolean(false)
	}
	return Number(0)
}

// typeRank orders kinds: Error > Text > Number > Boolean > Blank.
func typeRank(v Value) int {
	switch v.(type) {
	case ErrorCode:
		return 4
	case Text:
		return 3
	case Number:
		return 2
	case Boolean:
		return 1
	}
	return 0
}

// compareValues is the total order used by sorting and lookups.
func compareValues(a, b Value) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch x := a.(type) {
	case Number:
		y := b.(Number)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case Text:
		return strings.Compare(foldText(string(x)), foldText(string(b.(Text))))
	case Boolean:
		y := b.(Boolean)
		switch {
		case x == y:
			return 0
		case !bool(x):
			return -1
		}
		return 1
	case ErrorCode:
		y := b.(ErrorCode)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// foldText case-folds for comparisons. A Caser is not safe for concurrent
// use, so each call makes its own.
func foldText(s string) string {
	return cases.Fold().String(s)
}

// refOperator applies range, union and intersection.
func (m *machine) refOperator(op byte, a, b Operand) Operand {
	if e, ok := a.(ErrorCode); ok {
		return e
	}
	if e, ok := b.(ErrorCode); ok {
		return e
	}
	la, oka := areasOf(a)
	lb, okb := areasOf(b)
	if !oka || !okb {
		return InvalidValue
	}
	switch op {
	case OpUnion:
		return append(append(AreaList{}, la...), lb...)
	case OpRange:
		out := *la[0]
		for _, x := range append(append(AreaList{}, la[1:]...), lb...) {
			if x.Sheet != out.Sheet {
				return InvalidValue
			}
			out.FirstRow = min(out.FirstRow, x.FirstRow)
			out.LastRow = max(out.LastRow, x.LastRow)
			out.FirstCol = min(out.FirstCol, x.FirstCol)
			out.LastCol = max(out.LastCol, x.LastCol)
		}
		return &out
	}
	var hits AreaList
	for _, x := range la {
		for _, y := range lb {
			if is := intersect(x, y); is != nil {
				hits = append(hits, is)
			}
		}
	}
	switch len(hits) {
	case 0:
		return NullIntersection
	case 1:
		return hits[0]
	}
	return hits
}

func areasOf(op Operand) (AreaList, bool) {
	switch t := op.(type) {
	case *Ref:
		return AreaList{areaOf(t)}, true
	case *Area:
		return AreaList{t}, true
	case AreaList:
		return t, len(t) > 0
	}
	return nil, false
}

func intersect(a, b *Area) *Area {
	if a.Sheet != b.Sheet {
		return nil
	}
	out := &Area{
		Sheet:    a.Sheet,
		FirstRow: max(a.FirstRow, b.FirstRow),
		LastRow:  min(a.LastRow, b.LastRow),
		FirstCol: max(a.FirstCol, b.FirstCol),
		LastCol:  min(a.LastCol, b.LastCol),
	}
	if out.FirstRow > out.LastRow || out.FirstCol > out.LastCol {
		return nil
	}
	return out
}
