package xlfmla

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/xerrors"
)

// addInIxti is the external sheet index under which add-in function names
// are registered.
const addInIxti = 0xFFFE

// Book is an in-memory workbook: sheets of constant and formula cells,
// defined names and shared formulas. It parses formula text, evaluates
// formulas on demand and memoizes their values until the next edit.
//
// A Book may be read from several goroutines at once; edits must not run
// concurrently with reads.
type Book struct {
	opts   *Options
	parser *Parser
	eval   *Evaluator

	// mu guards everything below.
	mu         sync.RWMutex
	sheetList  []*Sheet
	sheetIndex map[string]int
	nameList   []*Name
	nameIndex  map[string]int
	addIns     []string
	memo       map[CellRef]Value
	volatile   map[CellRef]bool
	dirty      bool
}

// Name is a defined name.
type Name struct {
	// Name is the name of the object.
	Name string

	// Formula is the formula text the name was defined with.
	Formula string

	// Tokens is the parsed formula; its result is usually a reference.
	Tokens []Ptg

	// Hidden is set for names a workbook file marks as hidden.
	Hidden bool
}

// NewBook returns an empty workbook. nil options select the defaults.
func NewBook(opts *Options) *Book {
	opts = opts.withDefaults()
	b := &Book{
		opts:       opts,
		parser:     NewParser(opts),
		eval:       NewEvaluator(opts),
		sheetIndex: map[string]int{},
		nameIndex:  map[string]int{},
		memo:       map[CellRef]Value{},
		volatile:   map[CellRef]bool{},
	}
	for name := range opts.AddIns {
		b.addIns = append(b.addIns, name)
	}
	sort.Strings(b.addIns)
	return b
}

// AddSheet appends an empty sheet.
func (b *Book) AddSheet(name string) (*Sheet, error) {
	if name == "" {
		return nil, xerrors.New("empty sheet name")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := strings.ToUpper(name)
	if _, ok := b.sheetIndex[key]; ok {
		return nil, xerrors.Errorf("duplicate sheet name <%s>", name)
	}
	s := newSheet(b, name)
	b.sheetIndex[key] = len(b.sheetList)
	b.sheetList = append(b.sheetList, s)
	return s, nil
}

// NSheets is the number of worksheets.
func (b *Book) NSheets() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sheetList)
}

// Sheets returns a list of all sheets in the book.
func (b *Book) Sheets() []*Sheet {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*Sheet(nil), b.sheetList...)
}

// SheetByIndex returns a sheet by its index.
func (b *Book) SheetByIndex(sheetx int) (*Sheet, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sheetx < 0 || sheetx >= len(b.sheetList) {
		return nil, xerrors.Errorf("sheet index %d out of range", sheetx)
	}
	return b.sheetList[sheetx], nil
}

// SheetByName returns a sheet by its name, ignoring case.
func (b *Book) SheetByName(sheetName string) (*Sheet, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s := b.sheet(sheetName); s != nil {
		return s, nil
	}
	return nil, xerrors.Errorf("no sheet named <%s>", sheetName)
}

// SheetNames returns a list of all sheet names.
func (b *Book) SheetNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, len(b.sheetList))
	for i, s := range b.sheetList {
		names[i] = s.Name
	}
	return names
}

// Names returns the defined names in index order.
func (b *Book) Names() []*Name {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*Name(nil), b.nameList...)
}

// sheet looks a sheet up by name; the caller holds mu.
func (b *Book) sheet(name string) *Sheet {
	if i, ok := b.sheetIndex[strings.ToUpper(name)]; ok {
		return b.sheetList[i]
	}
	return nil
}

// At returns the context for parsing and rendering formulas of one cell.
func (b *Book) At(sheet string, row, col int) SheetContext {
	return b.root(sheet, row, col)
}

func (b *Book) root(sheet string, row, col int) *cellContext {
	return &cellContext{book: b, origin: CellRef{Sheet: sheet, Row: row, Col: col}, root: true}
}

func (b *Book) checkCell(sheet string, row, col int) error {
	if !b.opts.Format.rowOK(row) || !b.opts.Format.colOK(col) {
		return xerrors.Errorf("cell %s out of range", CellName(max(row, 0), max(col, 0)))
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sheet(sheet) == nil {
		return xerrors.Errorf("no sheet named <%s>", sheet)
	}
	return nil
}

// set stores a cell and invalidates computed values.
func (b *Book) set(sheet string, row, col int, c *Cell) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.sheet(sheet)
	if c == nil {
		delete(s.cells, cellKey{row, col})
	} else {
		s.put(row, col, c)
	}
	b.dirty = true
	b.memo = map[CellRef]Value{}
}

// SetValue stores a constant. A nil value clears the cell.
func (b *Book) SetValue(sheet string, row, col int, v Value) error {
	if err := b.checkCell(sheet, row, col); err != nil {
		return err
	}
	if v == nil {
		b.set(sheet, row, col, nil)
		return nil
	}
	b.set(sheet, row, col, &Cell{Value: v})
	return nil
}

// SetFormula parses text in the context of the cell and stores it.
func (b *Book) SetFormula(sheet string, row, col int, text string) error {
	if err := b.checkCell(sheet, row, col); err != nil {
		return err
	}
	ptgs, err := b.parser.Parse(text, b.At(sheet, row, col))
	if err != nil {
		return xerrors.Errorf("%s!%s: %w", sheet, CellName(row, col), err)
	}
	b.set(sheet, row, col, &Cell{Formula: ptgs, Text: text})
	return nil
}

// SetTokens stores an already parsed or decoded formula.
func (b *Book) SetTokens(sheet string, row, col int, ptgs []Ptg) error {
	if err := b.checkCell(sheet, row, col); err != nil {
		return err
	}
	if len(ptgs) == 0 {
		return xerrors.New("empty formula")
	}
	b.set(sheet, row, col, &Cell{Formula: append([]Ptg(nil), ptgs...)})
	return nil
}

// SetSharedFormula stores text as a shared formula anchored at the
// top-left cell of area, such as "B1:B10", and points every cell of the
// area at it.
func (b *Book) SetSharedFormula(sheet, area, text string) error {
	rt, ok := parseRefText(area)
	if !ok || rt.hasSheet || rt.wholeCols || rt.wholeRows {
		return xerrors.Errorf("invalid shared formula range %q", area)
	}
	if rt.first.row > rt.last.row || rt.first.col > rt.last.col {
		return xerrors.Errorf("shared formula range %q is reversed", area)
	}
	r0, c0 := rt.first.row, rt.first.col
	if err := b.checkCell(sheet, rt.last.row, rt.last.col); err != nil {
		return err
	}
	ptgs, err := b.parser.Parse(text, b.At(sheet, r0, c0))
	if err != nil {
		return xerrors.Errorf("%s!%s: %w", sheet, area, err)
	}
	shared := AbsoluteToShared(ptgs, r0, c0)

	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.sheet(sheet)
	s.shared[cellKey{r0, c0}] = shared
	exp := []Ptg{ExpPtg{Row: uint16(r0), Col: uint16(c0)}}
	for r := r0; r <= rt.last.row; r++ {
		for c := c0; c <= rt.last.col; c++ {
			s.put(r, c, &Cell{Formula: exp, Text: text})
		}
	}
	b.dirty = true
	b.memo = map[CellRef]Value{}
	return nil
}

// AddName defines a name. Its formula is parsed as a reference with A1 of
// the first sheet as origin.
func (b *Book) AddName(name, text string) error {
	if name == "" || strings.ContainsAny(name, " !:'\"") {
		return xerrors.Errorf("invalid name %q", name)
	}
	if _, ok := parseRefText(name); ok {
		return xerrors.Errorf("name %q reads as a cell reference", name)
	}
	origin := ""
	if names := b.SheetNames(); len(names) > 0 {
		origin = names[0]
	}
	ptgs, err := b.parser.ParseName(text, b.At(origin, 0, 0))
	if err != nil {
		return xerrors.Errorf("name %s: %w", name, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := strings.ToUpper(name)
	if _, ok := b.nameIndex[key]; ok {
		return xerrors.Errorf("duplicate name %s", name)
	}
	b.nameList = append(b.nameList, &Name{Name: name, Formula: text, Tokens: ptgs})
	b.nameIndex[key] = len(b.nameList)
	b.dirty = true
	b.memo = map[CellRef]Value{}
	return nil
}

// defineName appends a decoded name. Every name keeps its index; when two
// share a spelling, text lookups find the first.
func (b *Book) defineName(n *Name) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nameList = append(b.nameList, n)
	key := strings.ToUpper(n.Name)
	if _, ok := b.nameIndex[key]; !ok {
		b.nameIndex[key] = len(b.nameList)
	}
	b.dirty = true
	b.memo = map[CellRef]Value{}
}

// setShared stores shared formula tokens, in RefN/AreaN form, anchored at
// a cell. Member cells point at it with ExpPtg.
func (b *Book) setShared(sheet string, row, col int, ptgs []Ptg) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sheet(sheet).shared[cellKey{row, col}] = ptgs
	b.dirty = true
	b.memo = map[CellRef]Value{}
}

// Value returns the value of a cell, evaluating its formula if needed.
func (b *Book) Value(sheet string, row, col int) (Value, error) {
	return b.root(sheet, row, col).CellValue(sheet, row, col)
}

// EvaluateFormula parses and evaluates text as if it were in the given
// cell, without storing it.
func (b *Book) EvaluateFormula(sheet string, row, col int, text string) (Value, error) {
	ctx := b.root(sheet, row, col)
	ptgs, err := b.parser.Parse(text, ctx)
	if err != nil {
		return nil, err
	}
	return b.eval.Evaluate(ptgs, ctx)
}

// IsVolatile reports whether the last evaluation of a cell depended on a
// volatile function.
func (b *Book) IsVolatile(sheet string, row, col int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.volatile[CellRef{Sheet: sheet, Row: row, Col: col}]
}

// Recalculate evaluates every formula cell on a pool of workers. Values
// computed since the last edit are kept, except for volatile cells. Zero or
// fewer workers means one per CPU.
func (b *Book) Recalculate(workers int) error {
	start := time.Now()
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	b.mu.Lock()
	if b.dirty {
		b.memo = map[CellRef]Value{}
		b.volatile = map[CellRef]bool{}
		b.dirty = false
	} else {
		for ref := range b.volatile {
			delete(b.memo, ref)
		}
	}
	var jobs []CellRef
	for _, s := range b.sheetList {
		for _, k := range s.formulaCells() {
			jobs = append(jobs, CellRef{Sheet: s.Name, Row: k.row, Col: k.col})
		}
	}
	b.mu.Unlock()

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	ch := make(chan CellRef)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range ch {
				if _, err := b.Value(ref.Sheet, ref.Row, ref.Col); err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = xerrors.Errorf("%s: %w", ref, err)
					}
					errMu.Unlock()
				}
			}
		}()
	}
	for _, ref := range jobs {
		ch <- ref
	}
	close(ch)
	wg.Wait()

	if b.opts.Verbosity >= 1 {
		fmt.Fprintf(b.opts.Logfile, "recalculated %d formula cells with %d workers in %.3fs\n",
			len(jobs), workers, time.Since(start).Seconds())
	}
	return firstErr
}

// cellContext is the view of the book from one cell. Contexts link to the
// context that asked for their value, forming the chain used to detect
// circular references.
type cellContext struct {
	book   *Book
	origin CellRef
	parent *cellContext
	// root contexts belong to a caller outside the book, not a formula.
	root bool
	// name is the 1-based index of the defined name being resolved, or 0.
	name  int
	depth int

	volatile bool
	// cycle is set when the value depends on a circular reference; such
	// values are not memoized since they depend on where the chain began.
	cycle bool
}

func (c *cellContext) Origin() CellRef { return c.origin }

func (c *cellContext) IsVolatileContext() bool {
	if c.volatile {
		return true
	}
	c.book.mu.RLock()
	defer c.book.mu.RUnlock()
	return c.book.volatile[c.origin]
}

func (c *cellContext) MarkVolatile() {
	c.volatile = true
}

func (c *cellContext) onChain(ref CellRef) bool {
	for p := c; p != nil; p = p.parent {
		if !p.root && p.name == 0 && p.origin == ref {
			return true
		}
	}
	return false
}

func (c *cellContext) nameOnChain(index int) bool {
	for p := c; p != nil; p = p.parent {
		if p.name == index {
			return true
		}
	}
	return false
}

func (c *cellContext) child(origin CellRef, name int) (*cellContext, error) {
	if c.depth >= c.book.opts.MaxDepth {
		return nil, NewEvalError(RecursionDepthExceeded, "%d nested evaluations at %s", c.depth, origin)
	}
	return &cellContext{book: c.book, origin: origin, parent: c, name: name, depth: c.depth + 1}, nil
}

// taint carries the volatile and cycle marks of a finished child to c.
func (c *cellContext) taint(child *cellContext) {
	c.volatile = c.volatile || child.volatile
	c.cycle = c.cycle || child.cycle
}

func (c *cellContext) CellValue(sheet string, row, col int) (Value, error) {
	b := c.book
	b.mu.RLock()
	s := b.sheet(sheet)
	if s == nil {
		b.mu.RUnlock()
		return InvalidRef, nil
	}
	ref := CellRef{Sheet: s.Name, Row: row, Col: col}
	cell, ok := s.cells[cellKey{row, col}]
	if !ok {
		b.mu.RUnlock()
		return Blank{}, nil
	}
	if cell.Formula == nil {
		b.mu.RUnlock()
		return cell.Value, nil
	}
	v, memoized := b.memo[ref]
	volatile := b.volatile[ref]
	b.mu.RUnlock()
	if memoized {
		c.volatile = c.volatile || volatile
		return v, nil
	}

	if c.onChain(ref) {
		c.cycle = true
		return nil, ErrCircularReference
	}
	child, err := c.child(ref, 0)
	if err != nil {
		return nil, err
	}
	v, err = b.eval.Evaluate(cell.Formula, child)
	if err != nil {
		return nil, err
	}
	c.taint(child)

	b.mu.Lock()
	defer b.mu.Unlock()
	if child.volatile {
		b.volatile[ref] = true
	}
	if !child.cycle {
		if prev, ok := b.memo[ref]; ok {
			// Another worker finished first.
			return prev, nil
		}
		b.memo[ref] = v
	}
	return v, nil
}

func (c *cellContext) ResolveName(index int) (Operand, error) {
	b := c.book
	b.mu.RLock()
	if index < 1 || index > len(b.nameList) {
		b.mu.RUnlock()
		return nil, &FormulaError{Kind: UnknownName, Message: fmt.Sprintf("no defined name %d", index)}
	}
	n := b.nameList[index-1]
	b.mu.RUnlock()
	if c.nameOnChain(index) {
		c.cycle = true
		return nil, ErrCircularReference
	}
	child, err := c.child(c.origin, index)
	if err != nil {
		return nil, err
	}
	op, err := b.eval.EvaluateOperand(n.Tokens, child)
	if err != nil {
		return nil, err
	}
	c.taint(child)
	return op, nil
}

func (c *cellContext) SheetIndex(name string) (int, bool) {
	c.book.mu.RLock()
	defer c.book.mu.RUnlock()
	i, ok := c.book.sheetIndex[strings.ToUpper(name)]
	return i, ok
}

func (c *cellContext) SheetName(ixti int) (string, error) {
	c.book.mu.RLock()
	defer c.book.mu.RUnlock()
	if ixti < 0 || ixti >= len(c.book.sheetList) {
		return "", xerrors.Errorf("no external sheet %d", ixti)
	}
	return c.book.sheetList[ixti].Name, nil
}

func (c *cellContext) NameIndex(name string) (int, bool) {
	c.book.mu.RLock()
	defer c.book.mu.RUnlock()
	i, ok := c.book.nameIndex[strings.ToUpper(name)]
	return i, ok
}

func (c *cellContext) NameText(index int) (string, error) {
	c.book.mu.RLock()
	defer c.book.mu.RUnlock()
	if index < 1 || index > len(c.book.nameList) {
		return "", &FormulaError{Kind: UnknownName, Message: fmt.Sprintf("no defined name %d", index)}
	}
	return c.book.nameList[index-1].Name, nil
}

func (c *cellContext) AddInIndex(name string) (ixti, index int, ok bool) {
	i := sort.SearchStrings(c.book.addIns, strings.ToUpper(name))
	if i < len(c.book.addIns) && c.book.addIns[i] == strings.ToUpper(name) {
		return addInIxti, i + 1, true
	}
	return 0, 0, false
}

func (c *cellContext) AddInName(ixti, index int) (string, error) {
	if ixti != addInIxti || index < 1 || index > len(c.book.addIns) {
		return "", &FormulaError{Kind: UnknownName, Message: fmt.Sprintf("no add-in %d in sheet %d", index, ixti)}
	}
	return c.book.addIns[index-1], nil
}

func (c *cellContext) ExternalName(ixti, index int) (string, error) {
	return c.AddInName(ixti, index)
}

func (c *cellContext) SharedFormula(row, col int) ([]Ptg, error) {
	c.book.mu.RLock()
	defer c.book.mu.RUnlock()
	if s := c.book.sheet(c.origin.Sheet); s != nil {
		if ptgs, ok := s.shared[cellKey{row, col}]; ok {
			return ptgs, nil
		}
	}
	return nil, NewEvalError(UnresolvedSharedFormula, "no shared formula anchored at %s!%s", c.origin.Sheet, CellName(row, col))
}

func (c *cellContext) Extent(sheet string) (rows, cols int, ok bool) {
	c.book.mu.RLock()
	defer c.book.mu.RUnlock()
	if s := c.book.sheet(sheet); s != nil {
		return s.NRows, s.NCols, true
	}
	return 0, 0, false
}
