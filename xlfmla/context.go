package xlfmla

// CellRef identifies the cell a formula belongs to.
type CellRef struct {
	Sheet    string
	Row, Col int
}

func (c CellRef) String() string {
	return c.Sheet + "!" + CellName(c.Row, c.Col)
}

// EvaluationContext is the read-only view of a workbook the evaluator uses
// to resolve references. CellValue may evaluate other formulas; it reports
// ErrCircularReference when the requested cell depends on itself.
// Implementations must be safe for concurrent use when cells are evaluated
// in parallel.
type EvaluationContext interface {
	Origin() CellRef
	// ResolveName returns the value of the 1-based defined name, usually a
	// *Ref or *Area. An error matching ErrUnknownName yields #NAME?.
	ResolveName(index int) (Operand, error)
	// SheetName maps an external sheet index to a sheet name. Any error
	// yields #REF!.
	SheetName(ixti int) (string, error)
	CellValue(sheet string, row, col int) (Value, error)
	// IsVolatileContext reports whether the caller already recomputes this
	// cell on every pass.
	IsVolatileContext() bool
}

// SharedFormulaResolver is implemented by contexts that can expand a tExp
// token into the shared formula anchored at row, col. The returned tokens
// use RefN/AreaN relative to the evaluated cell.
type SharedFormulaResolver interface {
	SharedFormula(row, col int) ([]Ptg, error)
}

// ExternalNameResolver names the target of a tNameX token.
type ExternalNameResolver interface {
	ExternalName(ixti, index int) (string, error)
}

// VolatileMarker is told when a formula turns out to be volatile.
type VolatileMarker interface {
	MarkVolatile()
}

// SheetExtent is implemented by contexts that know the used part of a
// sheet, so whole-column ranges are not walked cell by cell.
type SheetExtent interface {
	Extent(sheet string) (rows, cols int, ok bool)
}

// SheetContext is what the parser and renderer need to know about the
// surrounding workbook.
type SheetContext interface {
	Origin() CellRef
	// SheetIndex maps a sheet name to its external sheet index.
	SheetIndex(name string) (int, bool)
	SheetName(ixti int) (string, error)
	// NameIndex maps a defined name to its 1-based index.
	NameIndex(name string) (int, bool)
	NameText(index int) (string, error)
}

// AddInContext is implemented by sheet contexts that know add-in function
// names, encoded as tNameX followed by a call to function 255.
type AddInContext interface {
	AddInIndex(name string) (ixti, index int, ok bool)
	AddInName(ixti, index int) (string, error)
}

// originContext is the minimal SheetContext: one sheet, no names.
type originContext struct {
	origin CellRef
}

// NewOriginContext returns a SheetContext for formulas that use neither
// other sheets nor defined names.
func NewOriginContext(sheet string, row, col int) SheetContext {
	return originContext{origin: CellRef{Sheet: sheet, Row: row, Col: col}}
}

func (c originContext) Origin() CellRef                    { return c.origin }
func (c originContext) SheetIndex(name string) (int, bool) { return 0, false }
func (c originContext) NameIndex(name string) (int, bool)  { return 0, false }

func (c originContext) SheetName(ixti int) (string, error) {
	return "", NewEvalError(MalformedProgram, "no external sheet %d", ixti)
}

func (c originContext) NameText(index int) (string, error) {
	return "", NewEvalError(MalformedProgram, "no defined name %d", index)
}
