package xlfmla

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/xerrors"
)

// Evaluator runs token sequences against an EvaluationContext. It keeps no
// state between calls and may be shared by goroutines.
type Evaluator struct {
	opts *Options
}

// NewEvaluator returns an evaluator; nil options select the defaults.
func NewEvaluator(opts *Options) *Evaluator {
	return &Evaluator{opts: opts.withDefaults()}
}

// Evaluate runs ptgs and dereferences the result to a single value.
func Evaluate(ptgs []Ptg, ctx EvaluationContext) (Value, error) {
	return NewEvaluator(nil).Evaluate(ptgs, ctx)
}

// Evaluate runs ptgs and dereferences the result to a single value.
func (e *Evaluator) Evaluate(ptgs []Ptg, ctx EvaluationContext) (Value, error) {
	m := e.newMachine(ctx)
	op, err := m.run(ptgs)
	if err != nil {
		return nil, err
	}
	v := m.scalar(op)
	if m.err != nil {
		return nil, m.err
	}
	return v, nil
}

// EvaluateOperand runs ptgs and returns the raw result, which may be a
// reference or an array. Defined names are evaluated this way.
func (e *Evaluator) EvaluateOperand(ptgs []Ptg, ctx EvaluationContext) (Operand, error) {
	return e.newMachine(ctx).run(ptgs)
}

func (e *Evaluator) newMachine(ctx EvaluationContext) *machine {
	return &machine{opts: e.opts, ctx: ctx, origin: ctx.Origin()}
}

// machine is the state of one evaluation.
type machine struct {
	opts   *Options
	ctx    EvaluationContext
	origin CellRef
	stack  []Operand
	// err is the first fatal error; it stops the run.
	err      error
	expDepth int
	volatile bool
}

func (m *machine) fail(err error) {
	if m.err == nil {
		m.err = err
	}
}

func (m *machine) push(op Operand) {
	if op == nil {
		op = Blank{}
	}
	m.stack = append(m.stack, op)
}

func (m *machine) pop() Operand {
	if len(m.stack) == 0 {
		m.fail(NewEvalError(MalformedProgram, "stack underflow"))
		return Blank{}
	}
	op := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return op
}

// popN removes the top n operands and returns them in push order.
func (m *machine) popN(n int) []Operand {
	if n > len(m.stack) {
		m.fail(NewEvalError(MalformedProgram, "stack underflow: need %d operands, have %d", n, len(m.stack)))
		return nil
	}
	args := make([]Operand, n)
	copy(args, m.stack[len(m.stack)-n:])
	m.stack = m.stack[:len(m.stack)-n]
	return args
}

func (m *machine) run(ptgs []Ptg) (Operand, error) {
	pos := 0
	for _, p := range ptgs {
		if m.opts.Verbosity >= 2 {
			op := PhysicalOpcode(p)
			fmt.Fprintf(m.opts.Logfile, "Pos:%d Op:0x%02x Name:%s Sz:%d\n", pos, op, OpcodeName(op), p.Size())
		}
		pos += p.Size()
		m.step(p)
		if m.err != nil {
			return nil, m.err
		}
	}
	if len(m.stack) != 1 {
		return nil, NewEvalError(MalformedProgram, "program leaves %d values on the stack", len(m.stack))
	}
	return m.stack[0], nil
}

func (m *machine) step(p Ptg) {
	switch t := p.(type) {
	case ExpPtg:
		m.sharedFormula(int(t.Row), int(t.Col))
	case TblPtg:
		m.fail(NewEvalError(NotImplemented, "data table at %s", CellName(int(t.Row), int(t.Col))))
	case OperatorPtg:
		m.operator(t.Op)
	case ParenPtg:
		if len(m.stack) == 0 {
			m.fail(NewEvalError(MalformedProgram, "parenthesis without operand"))
		}
	case MissArgPtg:
		m.push(missingArg{})
	case StrPtg:
		m.push(Text(t.Value))
	case AttrPtg:
		if t.Flags&AttrVolatile != 0 {
			m.markVolatile()
		}
		if t.Flags&AttrSum != 0 {
			m.call(funcByIndex(4), 1, ClassValue)
		}
	case ErrPtg:
		m.push(t.Code)
	case BoolPtg:
		m.push(Boolean(t.Value))
	case IntPtg:
		m.push(Number(t.Value))
	case NumPtg:
		m.push(Number(t.Value))
	case ArrayPtg:
		if len(t.Values) != t.Rows*t.Cols || t.Rows < 1 || t.Cols < 1 {
			m.fail(NewEvalError(MalformedProgram, "array constant of %dx%d holds %d values", t.Rows, t.Cols, len(t.Values)))
			return
		}
		m.push(NewArray(t.Rows, t.Cols, t.Values...))
	case FuncPtg:
		def := funcByIndex(int(t.Index))
		if def == nil {
			m.fail(NewEvalError(UnknownFunctionIndex, "function %d", t.Index))
			return
		}
		m.call(def, def.MinArgs, t.Cls)
	case FuncVarPtg:
		if t.Index == addInIndex {
			m.callAddIn(int(t.Argc), t.Cls)
			return
		}
		def := funcByIndex(int(t.Index))
		if def == nil {
			m.fail(NewEvalError(UnknownFunctionIndex, "function %d", t.Index))
			return
		}
		m.call(def, int(t.Argc), t.Cls)
	case NamePtg:
		m.name(int(t.Index), t.Cls)
	case RefPtg:
		m.pushRef(&Ref{Sheet: m.origin.Sheet, Row: int(t.Row), Col: t.Col.Index()}, t.Cls)
	case AreaPtg:
		m.pushRef(newArea(m.origin.Sheet, int(t.FirstRow), int(t.LastRow), t.FirstCol.Index(), t.LastCol.Index()), t.Cls)
	case MemAreaPtg, MemErrPtg, MemNoMemPtg, MemFuncPtg, MemAreaNPtg, MemNoMemNPtg:
		// The sub-expression that follows is evaluated in line.
	case RefErrPtg, AreaErrPtg, RefErr3dPtg, AreaErr3dPtg:
		m.push(InvalidRef)
	case RefNPtg:
		m.pushRef(&Ref{Sheet: m.origin.Sheet, Row: m.relRow(t.Row, t.Col), Col: m.relCol(t.Col)}, t.Cls)
	case AreaNPtg:
		m.pushRef(newArea(m.origin.Sheet,
			m.relRow(t.FirstRow, t.FirstCol), m.relRow(t.LastRow, t.LastCol),
			m.relCol(t.FirstCol), m.relCol(t.LastCol)), t.Cls)
	case NameXPtg:
		name := ""
		if r, ok := m.ctx.(ExternalNameResolver); ok {
			if n, err := r.ExternalName(int(t.Ixti), int(t.Index)); err == nil {
				name = n
			}
		}
		m.push(externalName{Name: name})
	case Ref3dPtg:
		sheet, err := m.ctx.SheetName(int(t.Ixti))
		if err != nil {
			m.push(InvalidRef)
			return
		}
		m.pushRef(&Ref{Sheet: sheet, Row: int(t.Row), Col: t.Col.Index()}, t.Cls)
	case Area3dPtg:
		sheet, err := m.ctx.SheetName(int(t.Ixti))
		if err != nil {
			m.push(InvalidRef)
			return
		}
		m.pushRef(newArea(sheet, int(t.FirstRow), int(t.LastRow), t.FirstCol.Index(), t.LastCol.Index()), t.Cls)
	default:
		m.fail(NewEvalError(MalformedProgram, "cannot evaluate %T", p))
	}
}

func newArea(sheet string, r1, r2, c1, c2 int) *Area {
	if r1 > r2 {
		r1, r2 = r2, r1
	}
	if c1 > c2 {
		c1, c2 = c2, c1
	}
	return &Area{Sheet: sheet, FirstRow: r1, LastRow: r2, FirstCol: c1, LastCol: c2}
}

func (m *machine) relRow(row uint16, col ColField) int {
	if !col.RowRelative() {
		return int(row)
	}
	return mod(m.origin.Row+int(int16(row)), m.opts.Format.MaxRows)
}

func (m *machine) relCol(col ColField) int {
	if !col.ColRelative() {
		return col.Index()
	}
	return mod(m.origin.Col+col.Offset(), m.opts.Format.MaxCols)
}

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}

// pushRef pushes a reference, reading it into an array when the token is
// Array class.
func (m *machine) pushRef(op Operand, cls OperandClass) {
	if cls == ClassArray {
		op = m.materialize(op)
	}
	m.push(op)
}

func (m *machine) markVolatile() {
	if m.volatile || m.ctx.IsVolatileContext() {
		return
	}
	m.volatile = true
	if vm, ok := m.ctx.(VolatileMarker); ok {
		vm.MarkVolatile()
	}
	if m.opts.Verbosity >= 1 {
		fmt.Fprintf(m.opts.Logfile, "volatile formula at %s\n", m.origin)
	}
}

func (m *machine) name(index int, cls OperandClass) {
	op, err := m.ctx.ResolveName(index)
	switch {
	case err == nil:
		m.pushRef(op, cls)
	case errors.Is(err, ErrUnknownName):
		m.push(InvalidName)
	case errors.Is(err, ErrCircularReference):
		m.circular(fmt.Sprintf("name %d", index))
		m.push(NotAvailable)
	default:
		m.fail(xerrors.Errorf("name %d: %w", index, err))
	}
}

func (m *machine) circular(what string) {
	if m.opts.Verbosity >= 1 {
		fmt.Fprintf(m.opts.Logfile, "circular reference at %s via %s\n", m.origin, what)
	}
}

func (m *machine) sharedFormula(row, col int) {
	r, ok := m.ctx.(SharedFormulaResolver)
	if !ok {
		m.fail(NewEvalError(UnresolvedSharedFormula, "no shared formula resolver for %s", CellName(row, col)))
		return
	}
	if m.expDepth >= m.opts.MaxDepth {
		m.fail(NewEvalError(RecursionDepthExceeded, "shared formula nesting at %s", CellName(row, col)))
		return
	}
	ptgs, err := r.SharedFormula(row, col)
	if err != nil {
		m.fail(xerrors.Errorf("shared formula %s: %w", CellName(row, col), err))
		return
	}
	sub := &machine{opts: m.opts, ctx: m.ctx, origin: m.origin, expDepth: m.expDepth + 1, volatile: m.volatile}
	op, err := sub.run(ptgs)
	if err != nil {
		m.fail(err)
		return
	}
	m.volatile = m.volatile || sub.volatile
	m.push(op)
}

// call pops argc arguments and applies def.
func (m *machine) call(def *FunctionDef, argc int, cls OperandClass) {
	args := m.popN(argc)
	if m.err != nil {
		return
	}
	if argc < def.MinArgs || argc > def.MaxArgs {
		m.push(InvalidValue)
		return
	}
	if def.Impl == nil {
		m.fail(NewEvalError(NotImplemented, "function %s", def.Name))
		return
	}
	if def.Volatile {
		m.markVolatile()
	}
	res := def.Impl(&Call{Def: def, m: m}, args)
	if m.err != nil {
		return
	}
	m.pushRef(res, cls)
}

// callAddIn applies an add-in function; the first argument is its name.
func (m *machine) callAddIn(argc int, cls OperandClass) {
	args := m.popN(argc)
	if m.err != nil {
		return
	}
	if argc == 0 {
		m.fail(NewEvalError(MalformedProgram, "add-in call without a name"))
		return
	}
	ext, ok := args[0].(externalName)
	if !ok {
		m.push(InvalidName)
		return
	}
	impl := m.opts.AddIns[strings.ToUpper(ext.Name)]
	if impl == nil {
		m.push(InvalidName)
		return
	}
	def := &FunctionDef{Index: addInIndex, Name: ext.Name, MaxArgs: maxArgs, Ret: ClassValue, ArgClasses: "R", Policy: ScalarArgs, Impl: impl}
	res := impl(&Call{Def: def, m: m}, args[1:])
	if m.err != nil {
		return
	}
	m.pushRef(res, cls)
}

// cellValue reads one cell through the context. Circular references
// become #N/A here; other context failures stop the evaluation.
func (m *machine) cellValue(sheet string, row, col int) Value {
	if m.err != nil {
		return Blank{}
	}
	v, err := m.ctx.CellValue(sheet, row, col)
	if err != nil {
		if errors.Is(err, ErrCircularReference) {
			m.circular(fmt.Sprintf("%s!%s", sheet, CellName(row, col)))
			return NotAvailable
		}
		m.fail(xerrors.Errorf("%s!%s: %w", sheet, CellName(row, col), err))
		return Blank{}
	}
	if v == nil {
		return Blank{}
	}
	return v
}

// scalar dereferences op for a consumer that needs one value. A multi-cell
// range is #VALUE!; an array yields its top-left element.
func (m *machine) scalar(op Operand) Value {
	switch t := op.(type) {
	case Value:
		return t
	case *Ref:
		return m.cellValue(t.Sheet, t.Row, t.Col)
	case *Area:
		if t.Rows() == 1 && t.Cols() == 1 {
			return m.cellValue(t.Sheet, t.FirstRow, t.FirstCol)
		}
		return InvalidValue
	case AreaList:
		if len(t) == 1 {
			return m.scalar(t[0])
		}
		return InvalidValue
	case *Array:
		if len(t.Values) == 0 {
			return Blank{}
		}
		return t.Values[0]
	case externalName:
		return InvalidName
	}
	return Blank{}
}

// materialize reads a reference into an array.
func (m *machine) materialize(op Operand) Operand {
	switch t := op.(type) {
	case *Ref:
		return NewArray(1, 1, m.cellValue(t.Sheet, t.Row, t.Col))
	case *Area:
		arr := &Array{Rows: t.Rows(), Cols: t.Cols(), Values: make([]Value, 0, t.Rows()*t.Cols())}
		for r := t.FirstRow; r <= t.LastRow; r++ {
			for c := t.FirstCol; c <= t.LastCol; c++ {
				arr.Values = append(arr.Values, m.cellValue(t.Sheet, r, c))
			}
		}
		return arr
	case AreaList:
		if len(t) == 1 {
			return m.materialize(t[0])
		}
		return InvalidValue
	}
	return op
}

// each walks every value of op. Blank cells beyond the used part of a sheet
// are skipped when the context reports its extent.
func (m *machine) each(op Operand, fn func(v Value, fromRef bool) bool) {
	switch t := op.(type) {
	case *Ref:
		fn(m.cellValue(t.Sheet, t.Row, t.Col), true)
	case *Area:
		lastRow, lastCol := t.LastRow, t.LastCol
		if ext, ok := m.ctx.(SheetExtent); ok {
			if rows, cols, ok := ext.Extent(t.Sheet); ok {
				lastRow = min(lastRow, rows-1)
				lastCol = min(lastCol, cols-1)
			}
		}
		for r := t.FirstRow; r <= lastRow; r++ {
			for c := t.FirstCol; c <= lastCol; c++ {
				if !fn(m.cellValue(t.Sheet, r, c), true) || m.err != nil {
					return
				}
			}
		}
	case AreaList:
		for _, a := range t {
			stop := false
			m.each(a, func(v Value, fromRef bool) bool {
				if !fn(v, fromRef) {
					stop = true
					return false
				}
				return true
			})
			if stop || m.err != nil {
				return
			}
		}
	case *Array:
		for _, v := range t.Values {
			if !fn(v, true) {
				return
			}
		}
	case missingArg:
		fn(Blank{}, false)
	case externalName:
		fn(InvalidName, false)
	case Value:
		fn(t, false)
	}
}
