package xlfmla

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// binaryOpText maps binary operator opcodes to their formula text and rank.
var binaryOpText = map[byte]struct {
	text string
	rank int
}{
	OpAdd:    {"+", rankAdd},
	OpSub:    {"-", rankAdd},
	OpMul:    {"*", rankMul},
	OpDiv:    {"/", rankMul},
	OpPower:  {"^", rankPower},
	OpConcat: {"&", rankConcat},
	OpLT:     {"<", rankCompare},
	OpLE:     {"<=", rankCompare},
	OpEQ:     {"=", rankCompare},
	OpGE:     {">=", rankCompare},
	OpGT:     {">", rankCompare},
	OpNE:     {"<>", rankCompare},
	OpIsect:  {" ", rankIsect},
	OpUnion:  {",", rankUnion},
	OpRange:  {":", rankRange},
}

func quoteString(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// formatLiteralNumber writes a number so that it reads back exactly.
func formatLiteralNumber(v float64) string {
	if a := math.Abs(v); a == 0 || (a >= 1e-5 && a < 1e15) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'G', -1, 64)
}

// Renderer turns tokens back into formula text.
type Renderer struct {
	opts *Options
}

// NewRenderer returns a renderer; nil options select the defaults.
func NewRenderer(opts *Options) *Renderer {
	return &Renderer{opts: opts.withDefaults()}
}

// RenderFormula renders tokens with the default options.
func RenderFormula(ptgs []Ptg, sc SheetContext) (string, error) {
	return NewRenderer(nil).Render(ptgs, sc)
}

// Render unparses ptgs. Parentheses are added only where operator ranks
// require them; tParen tokens are kept.
func (r *Renderer) Render(ptgs []Ptg, sc SheetContext) (string, error) {
	it, err := r.render(ptgs, sc, 0)
	if err != nil {
		return "", err
	}
	return it.text, nil
}

type renderItem struct {
	text string
	rank int
}

type renderState struct {
	*Renderer
	sc     SheetContext
	origin CellRef
	stack  []renderItem
	depth  int
}

func (r *Renderer) render(ptgs []Ptg, sc SheetContext, depth int) (renderItem, error) {
	st := &renderState{Renderer: r, sc: sc, origin: sc.Origin(), depth: depth}
	for _, p := range ptgs {
		if err := st.step(p); err != nil {
			return renderItem{}, err
		}
	}
	if len(st.stack) != 1 {
		return renderItem{}, NewEvalError(MalformedProgram, "program leaves %d values on the stack", len(st.stack))
	}
	return st.stack[0], nil
}

func (st *renderState) push(text string, rank int) {
	st.stack = append(st.stack, renderItem{text, rank})
}

func (st *renderState) popN(n int) ([]renderItem, error) {
	if n > len(st.stack) {
		return nil, NewEvalError(MalformedProgram, "stack underflow: need %d operands, have %d", n, len(st.stack))
	}
	out := make([]renderItem, n)
	copy(out, st.stack[len(st.stack)-n:])
	st.stack = st.stack[:len(st.stack)-n]
	return out, nil
}

func paren(it renderItem, need bool) string {
	if need {
		return "(" + it.text + ")"
	}
	return it.text
}

func (st *renderState) boolText(b bool) string {
	if st.opts.Locale != nil {
		return st.opts.Locale.boolText(b)
	}
	return Boolean(b).String()
}

func (st *renderState) funcName(name string) string {
	if st.opts.Locale != nil {
		return st.opts.Locale.localFunction(name)
	}
	return name
}

func (st *renderState) call(name string, argc int) error {
	args, err := st.popN(argc)
	if err != nil {
		return err
	}
	texts := make([]string, len(args))
	for i, a := range args {
		// A union inside an argument list must be bracketed or its comma
		// reads as an argument separator.
		texts[i] = paren(a, a.rank == rankUnion)
	}
	st.push(name+"("+strings.Join(texts, ",")+")", rankLeaf)
	return nil
}

func (st *renderState) step(p Ptg) error {
	switch t := p.(type) {
	case ExpPtg:
		res, ok := st.sc.(SharedFormulaResolver)
		if !ok {
			return NewEvalError(UnresolvedSharedFormula, "no shared formula resolver for %s", CellName(int(t.Row), int(t.Col)))
		}
		if st.depth >= st.opts.MaxDepth {
			return NewEvalError(RecursionDepthExceeded, "shared formula nesting at %s", CellName(int(t.Row), int(t.Col)))
		}
		ptgs, err := res.SharedFormula(int(t.Row), int(t.Col))
		if err != nil {
			return xerrors.Errorf("shared formula %s: %w", CellName(int(t.Row), int(t.Col)), err)
		}
		it, err := st.render(ptgs, st.sc, st.depth+1)
		if err != nil {
			return err
		}
		st.stack = append(st.stack, it)
	case TblPtg:
		st.push(fmt.Sprintf("TABLE(%s)", CellName(int(t.Row), int(t.Col))), rankLeaf)
	case OperatorPtg:
		return st.operator(t.Op)
	case ParenPtg:
		args, err := st.popN(1)
		if err != nil {
			return err
		}
		st.push("("+args[0].text+")", rankLeaf)
	case MissArgPtg:
		st.push("", rankLeaf)
	case StrPtg:
		st.push(quoteString(t.Value), rankLeaf)
	case AttrPtg:
		if t.Flags&AttrSum != 0 {
			return st.call(st.funcName("SUM"), 1)
		}
	case ErrPtg:
		st.push(t.Code.String(), rankLeaf)
	case BoolPtg:
		st.push(st.boolText(t.Value), rankLeaf)
	case IntPtg:
		st.push(strconv.Itoa(int(t.Value)), rankLeaf)
	case NumPtg:
		if math.IsNaN(t.Value) || math.IsInf(t.Value, 0) {
			st.push(NumericOverflow.String(), rankLeaf)
		} else if t.Value < 0 {
			st.push(formatLiteralNumber(t.Value), rankUnary)
		} else {
			st.push(formatLiteralNumber(t.Value), rankLeaf)
		}
	case ArrayPtg:
		if len(t.Values) != t.Rows*t.Cols || t.Rows < 1 || t.Cols < 1 {
			return NewEvalError(MalformedProgram, "array constant of %dx%d holds %d values", t.Rows, t.Cols, len(t.Values))
		}
		st.push(st.arrayText(t), rankLeaf)
	case FuncPtg:
		def := funcByIndex(int(t.Index))
		if def == nil {
			return NewEvalError(UnknownFunctionIndex, "function %d", t.Index)
		}
		return st.call(st.funcName(def.Name), def.MinArgs)
	case FuncVarPtg:
		if t.Index == addInIndex {
			if t.Argc == 0 {
				return NewEvalError(MalformedProgram, "add-in call without a name")
			}
			if err := st.call("", int(t.Argc)-1); err != nil {
				return err
			}
			args, err := st.popN(2)
			if err != nil {
				return err
			}
			st.push(args[0].text+args[1].text, rankLeaf)
			return nil
		}
		def := funcByIndex(int(t.Index))
		if def == nil {
			return NewEvalError(UnknownFunctionIndex, "function %d", t.Index)
		}
		return st.call(st.funcName(def.Name), int(t.Argc))
	case NamePtg:
		name, err := st.sc.NameText(int(t.Index))
		if err != nil {
			return xerrors.Errorf("name %d: %w", t.Index, err)
		}
		st.push(name, rankLeaf)
	case NameXPtg:
		ac, ok := st.sc.(AddInContext)
		if !ok {
			return &FormulaError{Kind: UnknownName, Message: fmt.Sprintf("external name %d in sheet %d", t.Index, t.Ixti)}
		}
		name, err := ac.AddInName(int(t.Ixti), int(t.Index))
		if err != nil {
			return xerrors.Errorf("external name %d: %w", t.Index, err)
		}
		st.push(name, rankLeaf)
	case RefPtg:
		st.push(cellText(int(t.Row), t.Col), rankLeaf)
	case AreaPtg:
		st.push(st.areaText(int(t.FirstRow), int(t.LastRow), t.FirstCol, t.LastCol), rankLeaf)
	case RefNPtg:
		row, col := st.absolute(t.Row, t.Col)
		st.push(cellText(row, col), rankLeaf)
	case AreaNPtg:
		r1, c1 := st.absolute(t.FirstRow, t.FirstCol)
		r2, c2 := st.absolute(t.LastRow, t.LastCol)
		st.push(st.areaText(r1, r2, c1, c2), rankLeaf)
	case Ref3dPtg:
		prefix, err := st.sheetPrefix(t.Ixti)
		if err != nil {
			return err
		}
		st.push(prefix+cellText(int(t.Row), t.Col), rankLeaf)
	case Area3dPtg:
		prefix, err := st.sheetPrefix(t.Ixti)
		if err != nil {
			return err
		}
		st.push(prefix+st.areaText(int(t.FirstRow), int(t.LastRow), t.FirstCol, t.LastCol), rankLeaf)
	case RefErrPtg, AreaErrPtg:
		st.push(InvalidRef.String(), rankLeaf)
	case RefErr3dPtg:
		prefix, err := st.sheetPrefix(t.Ixti)
		if err != nil {
			return err
		}
		st.push(prefix+InvalidRef.String(), rankLeaf)
	case AreaErr3dPtg:
		prefix, err := st.sheetPrefix(t.Ixti)
		if err != nil {
			return err
		}
		st.push(prefix+InvalidRef.String(), rankLeaf)
	case MemAreaPtg, MemErrPtg, MemNoMemPtg, MemFuncPtg, MemAreaNPtg, MemNoMemNPtg:
	default:
		return NewEvalError(MalformedProgram, "cannot render %T", p)
	}
	return nil
}

func (st *renderState) operator(op byte) error {
	switch op {
	case OpUplus, OpUminus:
		args, err := st.popN(1)
		if err != nil {
			return err
		}
		sign := "-"
		if op == OpUplus {
			sign = "+"
		}
		st.push(sign+paren(args[0], args[0].rank < rankUnary), rankUnary)
		return nil
	case OpPercent:
		args, err := st.popN(1)
		if err != nil {
			return err
		}
		st.push(paren(args[0], args[0].rank < rankPercent)+"%", rankPercent)
		return nil
	}
	o, ok := binaryOpText[op]
	if !ok {
		return NewEvalError(MalformedProgram, "unknown operator 0x%02x", op)
	}
	args, err := st.popN(2)
	if err != nil {
		return err
	}
	st.push(paren(args[0], args[0].rank < o.rank)+o.text+paren(args[1], args[1].rank <= o.rank), o.rank)
	return nil
}

func (st *renderState) sheetPrefix(ixti uint16) (string, error) {
	name, err := st.sc.SheetName(int(ixti))
	if err != nil {
		return "", xerrors.Errorf("sheet %d: %w", ixti, err)
	}
	return QuotedSheetName(name) + "!", nil
}

// absolute resolves a RefN/AreaN address against the origin cell and
// returns it as an ordinary address with the same relative flags.
func (st *renderState) absolute(row uint16, col ColField) (int, ColField) {
	f := st.opts.Format
	r := int(row)
	if col.RowRelative() {
		r = mod(st.origin.Row+int(int16(row)), f.MaxRows)
	}
	if col.ColRelative() {
		col = col.SetIndex(mod(st.origin.Col+col.Offset(), f.MaxCols))
	}
	return r, col
}

// areaText writes an area, using the "A:C" and "1:3" forms for areas that
// span whole columns or rows.
func (st *renderState) areaText(r1, r2 int, c1, c2 ColField) string {
	f := st.opts.Format
	switch {
	case r1 == 0 && r2 == f.MaxRows-1 && !(c1.Index() == 0 && c2.Index() == f.MaxCols-1):
		return colText(c1) + ":" + colText(c2)
	case c1.Index() == 0 && c2.Index() == f.MaxCols-1 && !(r1 == 0 && r2 == f.MaxRows-1):
		return rowText(r1, c1) + ":" + rowText(r2, c2)
	}
	return cellText(r1, c1) + ":" + cellText(r2, c2)
}

func colText(col ColField) string {
	if col.ColRelative() {
		return colname(col.Index())
	}
	return "$" + colname(col.Index())
}

func rowText(row int, col ColField) string {
	if col.RowRelative() {
		return strconv.Itoa(row + 1)
	}
	return "$" + strconv.Itoa(row+1)
}

func (st *renderState) arrayText(a ArrayPtg) string {
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
			v := a.Values[r*a.Cols+c]
			if bv, ok := v.(Boolean); ok {
				b.WriteString(st.boolText(bool(bv)))
			} else {
				b.WriteString(arrayElementText(v))
			}
		}
	}
	b.WriteByte('}')
	return b.String()
}

// SharedToAbsolute rewrites the RefN and AreaN tokens of a shared formula
// as Ref and Area tokens for the cell at row, col. Addresses wrap around the
// BIFF8 grid.
func SharedToAbsolute(ptgs []Ptg, row, col int) []Ptg {
	st := &renderState{Renderer: NewRenderer(nil), origin: CellRef{Row: row, Col: col}}
	out := make([]Ptg, len(ptgs))
	for i, p := range ptgs {
		switch t := p.(type) {
		case RefNPtg:
			r, c := st.absolute(t.Row, t.Col)
			p = RefPtg{Cls: t.Cls, Row: uint16(r), Col: c}
		case AreaNPtg:
			r1, c1 := st.absolute(t.FirstRow, t.FirstCol)
			r2, c2 := st.absolute(t.LastRow, t.LastCol)
			r1, r2, c1, c2 = orderCorners(r1, r2, c1, c2)
			p = AreaPtg{Cls: t.Cls, FirstRow: uint16(r1), LastRow: uint16(r2), FirstCol: c1, LastCol: c2}
		}
		out[i] = p
	}
	return out
}

// orderCorners puts the first row and column of an area before the last
// ones. Relative flags move with their row or column.
func orderCorners(r1, r2 int, c1, c2 ColField) (int, int, ColField, ColField) {
	if r1 > r2 {
		r1, r2 = r2, r1
		rel1 := c1.RowRelative()
		c1 = c1.SetRowRelative(c2.RowRelative())
		c2 = c2.SetRowRelative(rel1)
	}
	if c1.Index() > c2.Index() {
		i1, rel1 := c1.Index(), c1.ColRelative()
		c1 = c1.SetIndex(c2.Index()).SetColRelative(c2.ColRelative())
		c2 = c2.SetIndex(i1).SetColRelative(rel1)
	}
	return r1, r2, c1, c2
}

// AbsoluteToShared is the inverse of SharedToAbsolute: relative parts of
// Ref and Area tokens become offsets from the anchor cell at row, col.
func AbsoluteToShared(ptgs []Ptg, row, col int) []Ptg {
	rel := func(r uint16, c ColField) (uint16, ColField) {
		if c.RowRelative() {
			r = uint16(int16(int(r) - row))
		}
		if c.ColRelative() {
			c = c.SetOffset(c.Index() - col)
		}
		return r, c
	}
	out := make([]Ptg, len(ptgs))
	for i, p := range ptgs {
		switch t := p.(type) {
		case RefPtg:
			r, c := rel(t.Row, t.Col)
			p = RefNPtg{Cls: t.Cls, Row: r, Col: c}
		case AreaPtg:
			r1, c1 := rel(t.FirstRow, t.FirstCol)
			r2, c2 := rel(t.LastRow, t.LastCol)
			p = AreaNPtg{Cls: t.Cls, FirstRow: r1, LastRow: r2, FirstCol: c1, LastCol: c2}
		}
		out[i] = p
	}
	return out
}
