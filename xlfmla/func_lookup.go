package xlfmla

import (
	"fmt"
	"strconv"
	"strings"
)

func lookupFuncs() map[string]implEntry {
	return map[string]implEntry{
		"CHOOSE":    {impl: chooseFunc},
		"MATCH":     {impl: matchFunc},
		"VLOOKUP":   {impl: tableLookup(true)},
		"HLOOKUP":   {impl: tableLookup(false)},
		"LOOKUP":    {impl: lookupFunc},
		"INDEX":     {impl: indexFunc},
		"ROW":       {impl: rowColumn(true)},
		"COLUMN":    {impl: rowColumn(false)},
		"ROWS":      {impl: dimension(true)},
		"COLUMNS":   {impl: dimension(false)},
		"AREAS":     {impl: areasFunc},
		"OFFSET":    {impl: offsetFunc},
		"INDIRECT":  {impl: indirectFunc},
		"ADDRESS":   {impl: addressFunc},
		"TRANSPOSE": {impl: transposeFunc},
	}
}

// Match modes of MATCH and the approximate lookups.
const (
	matchSmallestGE = -1
	matchExact      = 0
	matchLargestLE  = 1
)

// lookupPos finds x in vals and returns its 0-based position or -1.
// The approximate modes assume vals is sorted and stop at the first value
// past x; values of another type than x are skipped.
func lookupPos(vals []Value, x Value, mode int) int {
	if _, blank := x.(Blank); blank {
		return -1
	}
	if mode == matchExact {
		if t, ok := x.(Text); ok && strings.ContainsAny(string(t), "*?") {
			re := wildcardRegexp(string(t))
			for i, v := range vals {
				if s, ok := v.(Text); ok && re.MatchString(string(s)) {
					return i
				}
			}
			return -1
		}
		for i, v := range vals {
			if typeRank(v) == typeRank(x) && compareValues(v, x) == 0 {
				return i
			}
		}
		return -1
	}
	pos := -1
	for i, v := range vals {
		if typeRank(v) != typeRank(x) {
			continue
		}
		cmp := compareValues(v, x)
		if mode == matchSmallestGE {
			cmp = -cmp
		}
		if cmp > 0 {
			break
		}
		pos = i
	}
	return pos
}

// vector flattens a one-row or one-column argument.
func (c *Call) vector(op Operand) ([]Value, Value) {
	g, errv := c.grid(op)
	if errv != nil {
		return nil, errv
	}
	if g.Rows != 1 && g.Cols != 1 {
		return nil, NotAvailable
	}
	return g.Values, nil
}

func matchMode(n float64) int {
	switch {
	case n > 0:
		return matchLargestLE
	case n < 0:
		return matchSmallestGE
	}
	return matchExact
}

func matchFunc(c *Call, args []Operand) Operand {
	x := c.scalar(args[0])
	if e, ok := x.(ErrorCode); ok {
		return e
	}
	vals, errv := c.vector(args[1])
	if errv != nil {
		return errv
	}
	mode, errv := c.optNumber(args, 2, 1)
	if errv != nil {
		return errv
	}
	pos := lookupPos(vals, x, matchMode(mode))
	if pos < 0 {
		return NotAvailable
	}
	return Number(pos + 1)
}

func blankAsZero(v Value) Value {
	if _, ok := v.(Blank); ok {
		return Number(0)
	}
	return v
}

// tableLookup is VLOOKUP (vertical) or HLOOKUP.
func tableLookup(vertical bool) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		x := c.scalar(args[0])
		if e, ok := x.(ErrorCode); ok {
			return e
		}
		table, errv := c.grid(args[1])
		if errv != nil {
			return errv
		}
		n, errv := c.integer(args[2])
		if errv != nil {
			return errv
		}
		approx := true
		if len(args) > 3 {
			if _, missing := args[3].(missingArg); missing {
				approx = false
			} else if approx, errv = c.boolean(args[3]); errv != nil {
				return errv
			}
		}
		count, span := table.Rows, table.Cols
		if !vertical {
			count, span = span, count
		}
		if n < 1 {
			return InvalidValue
		}
		if n > span {
			return InvalidRef
		}
		keys := make([]Value, count)
		for i := range keys {
			if vertical {
				keys[i] = table.At(i, 0)
			} else {
				keys[i] = table.At(0, i)
			}
		}
		mode := matchExact
		if approx {
			mode = matchLargestLE
		}
		pos := lookupPos(keys, x, mode)
		if pos < 0 {
			return NotAvailable
		}
		if vertical {
			return blankAsZero(table.At(pos, n-1))
		}
		return blankAsZero(table.At(n-1, pos))
	}
}

// lookupFunc is the vector and array forms of LOOKUP.
func lookupFunc(c *Call, args []Operand) Operand {
	x := c.scalar(args[0])
	if e, ok := x.(ErrorCode); ok {
		return e
	}
	g, errv := c.grid(args[1])
	if errv != nil {
		return errv
	}
	var keys, results []Value
	switch {
	case len(args) > 2:
		if keys, errv = c.vector(args[1]); errv != nil {
			return errv
		}
		if results, errv = c.vector(args[2]); errv != nil {
			return errv
		}
	case g.Cols > g.Rows:
		for col := 0; col < g.Cols; col++ {
			keys = append(keys, g.At(0, col))
			results = append(results, g.At(g.Rows-1, col))
		}
	default:
		for r := 0; r < g.Rows; r++ {
			keys = append(keys, g.At(r, 0))
			results = append(results, g.At(r, g.Cols-1))
		}
	}
	pos := lookupPos(keys, x, matchLargestLE)
	if pos < 0 {
		return NotAvailable
	}
	if pos >= len(results) {
		return InvalidRef
	}
	return blankAsZero(results[pos])
}

func chooseFunc(c *Call, args []Operand) Operand {
	i, errv := c.integer(args[0])
	if errv != nil {
		return errv
	}
	if i < 1 || i >= len(args) {
		return InvalidValue
	}
	if _, ok := args[i].(missingArg); ok {
		return Number(0)
	}
	return args[i]
}

// indexFunc returns a cell, row, column or area of its first argument.
// References stay references so that INDEX can feed a range operator.
func indexFunc(c *Call, args []Operand) Operand {
	row, errv := c.optInteger(args, 1, 0)
	if errv != nil {
		return errv
	}
	col, errv := c.optInteger(args, 2, 0)
	if errv != nil {
		return errv
	}
	areaN, errv := c.optInteger(args, 3, 1)
	if errv != nil {
		return errv
	}
	if row < 0 || col < 0 {
		return InvalidValue
	}
	switch t := args[0].(type) {
	case *Ref, *Area, AreaList:
		list, _ := areasOf(t)
		if areaN < 1 || areaN > len(list) {
			return InvalidRef
		}
		a := list[areaN-1]
		if len(args) == 2 && a.Rows() == 1 {
			row, col = 0, row
		}
		if row > a.Rows() || col > a.Cols() {
			return InvalidRef
		}
		out := *a
		if row > 0 {
			out.FirstRow += row - 1
			out.LastRow = out.FirstRow
		}
		if col > 0 {
			out.FirstCol += col - 1
			out.LastCol = out.FirstCol
		}
		if out.Rows() == 1 && out.Cols() == 1 {
			return &Ref{Sheet: out.Sheet, Row: out.FirstRow, Col: out.FirstCol}
		}
		return &out
	case *Array:
		if len(args) == 2 && t.Rows == 1 {
			row, col = 0, row
		}
		if row > t.Rows || col > t.Cols {
			return InvalidRef
		}
		switch {
		case row > 0 && col > 0:
			return t.At(row-1, col-1)
		case row > 0:
			return NewArray(1, t.Cols, t.Values[(row-1)*t.Cols:row*t.Cols]...)
		case col > 0:
			out := &Array{Rows: t.Rows, Cols: 1}
			for r := 0; r < t.Rows; r++ {
				out.Values = append(out.Values, t.At(r, col-1))
			}
			return out
		}
		return t
	}
	if row > 1 || col > 1 {
		return InvalidRef
	}
	return c.scalar(args[0])
}

// rowColumn is ROW or COLUMN. A multi-cell range gives an array of
// numbers; in a single cell only the first is seen.
func rowColumn(rows bool) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		if len(args) == 0 {
			if rows {
				return Number(c.Origin().Row + 1)
			}
			return Number(c.Origin().Col + 1)
		}
		var a *Area
		switch t := args[0].(type) {
		case *Ref:
			a = areaOf(t)
		case *Area:
			a = t
		case AreaList:
			return InvalidRef
		case missingArg:
			return rowColumn(rows)(c, nil)
		default:
			return InvalidValue
		}
		if rows {
			if a.Rows() == 1 {
				return Number(a.FirstRow + 1)
			}
			out := &Array{Rows: a.Rows(), Cols: 1}
			for r := a.FirstRow; r <= a.LastRow; r++ {
				out.Values = append(out.Values, Number(r+1))
			}
			return out
		}
		if a.Cols() == 1 {
			return Number(a.FirstCol + 1)
		}
		out := &Array{Rows: 1, Cols: a.Cols()}
		for col := a.FirstCol; col <= a.LastCol; col++ {
			out.Values = append(out.Values, Number(col+1))
		}
		return out
	}
}

// dimension is ROWS or COLUMNS.
func dimension(rows bool) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		var r, n int
		switch t := args[0].(type) {
		case *Ref:
			r, n = 1, 1
		case *Area:
			r, n = t.Rows(), t.Cols()
		case *Array:
			r, n = t.Rows, t.Cols
		case AreaList:
			return InvalidRef
		case ErrorCode:
			return t
		default:
			r, n = 1, 1
		}
		if rows {
			return Number(r)
		}
		return Number(n)
	}
}

func areasFunc(c *Call, args []Operand) Operand {
	switch t := args[0].(type) {
	case *Ref, *Area:
		return Number(1)
	case AreaList:
		return Number(len(t))
	case ErrorCode:
		return t
	}
	return InvalidValue
}

func offsetFunc(c *Call, args []Operand) Operand {
	var base *Area
	switch t := args[0].(type) {
	case *Ref:
		base = areaOf(t)
	case *Area:
		base = t
	case ErrorCode:
		return t
	default:
		return InvalidValue
	}
	dr, errv := c.integer(args[1])
	if errv != nil {
		return errv
	}
	dc, errv := c.integer(args[2])
	if errv != nil {
		return errv
	}
	h, errv := c.optInteger(args, 3, base.Rows())
	if errv != nil {
		return errv
	}
	w, errv := c.optInteger(args, 4, base.Cols())
	if errv != nil {
		return errv
	}
	if h < 1 || w < 1 {
		return InvalidRef
	}
	out := &Area{Sheet: base.Sheet, FirstRow: base.FirstRow + dr, FirstCol: base.FirstCol + dc}
	out.LastRow = out.FirstRow + h - 1
	out.LastCol = out.FirstCol + w - 1
	f := c.Options().Format
	if !f.rowOK(out.FirstRow) || !f.rowOK(out.LastRow) || !f.colOK(out.FirstCol) || !f.colOK(out.LastCol) {
		return InvalidRef
	}
	if h == 1 && w == 1 {
		return &Ref{Sheet: out.Sheet, Row: out.FirstRow, Col: out.FirstCol}
	}
	return out
}

// parseR1C1 reads an absolute R1C1 address such as "R2C3".
func parseR1C1(s string) (row, col int, ok bool) {
	s = strings.ToUpper(s)
	if !strings.HasPrefix(s, "R") {
		return 0, 0, false
	}
	i := strings.IndexByte(s, 'C')
	if i < 2 {
		return 0, 0, false
	}
	r, err1 := strconv.Atoi(s[1:i])
	cl, err2 := strconv.Atoi(s[i+1:])
	if err1 != nil || err2 != nil || r < 1 || cl < 1 {
		return 0, 0, false
	}
	return r - 1, cl - 1, true
}

func indirectFunc(c *Call, args []Operand) Operand {
	s, errv := c.text(args[0])
	if errv != nil {
		return errv
	}
	a1 := true
	if len(args) > 1 {
		if _, missing := args[1].(missingArg); !missing {
			if a1, errv = c.boolean(args[1]); errv != nil {
				return errv
			}
		}
	}
	s = strings.TrimSpace(s)
	sheet := c.Origin().Sheet
	var out *Area
	if a1 {
		rt, ok := parseRefText(s)
		if !ok {
			return InvalidRef
		}
		rt.bounds(c.Options().Format)
		if rt.hasSheet {
			sheet = rt.sheet
		}
		out = newArea(sheet, rt.first.row, rt.last.row, rt.first.col, rt.last.col)
	} else {
		name, rest, hasSheet, ok := splitSheet(s)
		if !ok {
			return InvalidRef
		}
		if hasSheet {
			sheet = name
		}
		parts := strings.Split(rest, ":")
		if len(parts) > 2 {
			return InvalidRef
		}
		r1, c1, ok := parseR1C1(parts[0])
		if !ok {
			return InvalidRef
		}
		r2, c2 := r1, c1
		if len(parts) == 2 {
			if r2, c2, ok = parseR1C1(parts[1]); !ok {
				return InvalidRef
			}
		}
		out = newArea(sheet, r1, r2, c1, c2)
	}
	f := c.Options().Format
	if !f.rowOK(out.LastRow) || !f.colOK(out.LastCol) {
		return InvalidRef
	}
	if out.Rows() == 1 && out.Cols() == 1 {
		return &Ref{Sheet: out.Sheet, Row: out.FirstRow, Col: out.FirstCol}
	}
	return out
}

func addressFunc(c *Call, args []Operand) Operand {
	row, errv := c.integer(args[0])
	if errv != nil {
		return errv
	}
	col, errv := c.integer(args[1])
	if errv != nil {
		return errv
	}
	abs, errv := c.optInteger(args, 2, 1)
	if errv != nil {
		return errv
	}
	a1 := true
	if len(args) > 3 {
		if _, missing := args[3].(missingArg); !missing {
			if a1, errv = c.boolean(args[3]); errv != nil {
				return errv
			}
		}
	}
	f := c.Options().Format
	if abs < 1 || abs > 4 || !f.rowOK(row-1) || !f.colOK(col-1) {
		return InvalidValue
	}
	rowAbs, colAbs := abs == 1 || abs == 2, abs == 1 || abs == 3
	var s string
	if a1 {
		s = colname(col-1) + strconv.Itoa(row)
		if rowAbs {
			s = colname(col-1) + "$" + strconv.Itoa(row)
		}
		if colAbs {
			s = "$" + s
		}
	} else {
		r, cl := fmt.Sprintf("R[%d]", row), fmt.Sprintf("C[%d]", col)
		if rowAbs {
			r = fmt.Sprintf("R%d", row)
		}
		if colAbs {
			cl = fmt.Sprintf("C%d", col)
		}
		s = r + cl
	}
	if len(args) > 4 {
		if _, missing := args[4].(missingArg); !missing {
			sheet, errv := c.text(args[4])
			if errv != nil {
				return errv
			}
			s = QuotedSheetName(sheet) + "!" + s
		}
	}
	return Text(s)
}

func transposeFunc(c *Call, args []Operand) Operand {
	g, errv := c.grid(args[0])
	if errv != nil {
		return errv
	}
	out := &Array{Rows: g.Cols, Cols: g.Rows, Values: make([]Value, 0, len(g.Values))}
	for col := 0; col < g.Cols; col++ {
		for r := 0; r < g.Rows; r++ {
			out.Values = append(out.Values, g.At(r, col))
		}
	}
	return out
}
