package xlfmla

import "sort"

// Cell types reported by Sheet.CellType.
const (
	CellEmpty = iota
	CellText
	CellNumber
	CellBoolean
	CellError
	CellBlank
	CellFormula
)

// Sheet contains the cells of one worksheet.
//
// In the cell access functions, rowx is a row index, counting from zero,
// and colx is a column index, counting from zero.
//
// You don't instantiate this type yourself. Sheets are created with
// Book.AddSheet.
type Sheet struct {
	// Name is the name of the sheet.
	Name string

	// Book is a reference to the Book object to which this sheet belongs.
	Book *Book

	// NRows is one more than the largest row index holding a cell.
	NRows int

	// NCols is one more than the largest column index holding a cell.
	NCols int

	cells map[cellKey]*Cell
	// shared holds shared formulas by anchor cell, in RefN/AreaN form.
	shared map[cellKey][]Ptg
}

type cellKey struct{ row, col int }

// Cell represents a cell in a worksheet.
type Cell struct {
	// Value is the constant value of the cell; nil for formula cells.
	Value Value

	// Formula is the token sequence of a formula cell.
	Formula []Ptg

	// Text is the formula text the cell was set from, if any.
	Text string
}

// EmptyCell returns an empty cell.
func EmptyCell() *Cell {
	return &Cell{Value: Blank{}}
}

func newSheet(book *Book, name string) *Sheet {
	return &Sheet{Name: name, Book: book, cells: map[cellKey]*Cell{}, shared: map[cellKey][]Ptg{}}
}

func (s *Sheet) put(rowx, colx int, c *Cell) {
	s.cells[cellKey{rowx, colx}] = c
	s.NRows = max(s.NRows, rowx+1)
	s.NCols = max(s.NCols, colx+1)
}

// Cell returns the Cell object at the given row and column.
func (s *Sheet) Cell(rowx, colx int) *Cell {
	s.Book.mu.RLock()
	defer s.Book.mu.RUnlock()
	if c, ok := s.cells[cellKey{rowx, colx}]; ok {
		return c
	}
	return EmptyCell()
}

// CellType returns the type of the cell at the given row and column.
func (s *Sheet) CellType(rowx, colx int) int {
	s.Book.mu.RLock()
	c, ok := s.cells[cellKey{rowx, colx}]
	s.Book.mu.RUnlock()
	if !ok {
		return CellEmpty
	}
	if c.Formula != nil {
		return CellFormula
	}
	return valueType(c.Value)
}

func valueType(v Value) int {
	switch v.(type) {
	case Text:
		return CellText
	case Number:
		return CellNumber
	case Boolean:
		return CellBoolean
	case ErrorCode:
		return CellError
	case Blank:
		return CellBlank
	}
	return CellEmpty
}

// CellValue returns the value of the cell at the given row and column,
// evaluating formulas.
func (s *Sheet) CellValue(rowx, colx int) (Value, error) {
	return s.Book.Value(s.Name, rowx, colx)
}

// Row returns the values of one row, NCols wide.
func (s *Sheet) Row(rowx int) ([]Value, error) {
	out := make([]Value, s.NCols)
	for colx := range out {
		v, err := s.CellValue(rowx, colx)
		if err != nil {
			return nil, err
		}
		out[colx] = v
	}
	return out, nil
}

// formulaCells lists the formula cells in row-major order.
func (s *Sheet) formulaCells() []cellKey {
	var keys []cellKey
	for k, c := range s.cells {
		if c.Formula != nil {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].row != keys[j].row {
			return keys[i].row < keys[j].row
		}
		return keys[i].col < keys[j].col
	})
	return keys
}
