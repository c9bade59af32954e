package xlfmla

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// colname returns the column name for a given column index (0-based).
// Example: colname(0) returns "A", colname(25) returns "Z", colname(26) returns "AA"
func colname(colx int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	if colx < 0 {
		return "?"
	}
	var b []byte
	for colx >= 0 {
		b = append([]byte{alphabet[colx%26]}, b...)
		colx = colx/26 - 1
	}
	return string(b)
}

// colIndex is the inverse of colname; it returns -1 for anything that is
// not a column name.
func colIndex(name string) int {
	if name == "" || len(name) > 3 {
		return -1
	}
	n := 0
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z':
			n = n*26 + int(c-'A') + 1
		case c >= 'a' && c <= 'z':
			n = n*26 + int(c-'a') + 1
		default:
			return -1
		}
	}
	return n - 1
}

// CellName returns the cell name for a given row and column (0-based).
// Example: CellName(0, 0) returns "A1", CellName(5, 7) returns "H6"
func CellName(rowx, colx int) string {
	return colname(colx) + strconv.Itoa(rowx+1)
}

// CellNameAbs returns the absolute cell name.
// Example: CellNameAbs(5, 7) returns "$H$6"
func CellNameAbs(rowx, colx int) string {
	return fmt.Sprintf("$%s$%d", colname(colx), rowx+1)
}

// cellAddr is a parsed A1 address.
type cellAddr struct {
	row, col       int
	rowAbs, colAbs bool
}

// parseCellName parses "B7", "$B$7", "b$7" and the like.
func parseCellName(s string) (cellAddr, bool) {
	var a cellAddr
	i := 0
	if i < len(s) && s[i] == '$' {
		a.colAbs = true
		i++
	}
	j := i
	for j < len(s) && isLetter(s[j]) {
		j++
	}
	a.col = colIndex(s[i:j])
	if a.col < 0 {
		return a, false
	}
	if j < len(s) && s[j] == '$' {
		a.rowAbs = true
		j++
	}
	row, ok := parseRowNumber(s[j:])
	if !ok {
		return a, false
	}
	a.row = row
	return a, true
}

func parseRowNumber(s string) (int, bool) {
	if s == "" || s[0] == '0' {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n - 1, true
}

// parseColName parses a whole-column bound such as "$C".
func parseColName(s string) (int, bool, bool) {
	abs := strings.HasPrefix(s, "$")
	c := colIndex(strings.TrimPrefix(s, "$"))
	return c, abs, c >= 0
}

// parseRowName parses a whole-row bound such as "$12".
func parseRowName(s string) (int, bool, bool) {
	abs := strings.HasPrefix(s, "$")
	r, ok := parseRowNumber(strings.TrimPrefix(s, "$"))
	return r, abs, ok
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// QuotedSheetName returns a sheet name quoted if the formula grammar needs
// it: names with spaces, quotes or punctuation, or names that read as a
// cell address.
func QuotedSheetName(shname string) string {
	if strings.Contains(shname, "'") {
		return "'" + strings.ReplaceAll(shname, "'", "''") + "'"
	}
	if needsQuotes(shname) {
		return "'" + shname + "'"
	}
	return shname
}

func needsQuotes(name string) bool {
	if name == "" {
		return true
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !(isLetter(c) || (c >= '0' && c <= '9') || c == '_' || c == '.' || c >= 0x80) {
			return true
		}
	}
	if c := name[0]; c >= '0' && c <= '9' {
		return true
	}
	_, isCell := parseCellName(name)
	return isCell
}

// A1 parses an A1 address into 0-based row and column.
func A1(s string) (row, col int, err error) {
	a, ok := parseCellName(s)
	if !ok {
		return 0, 0, xerrors.Errorf("invalid cell address %q", s)
	}
	return a.row, a.col, nil
}

// refText is a parsed reference such as "Sheet1!$A$1:B2", "C:C" or "3:5".
type refText struct {
	sheet       string
	hasSheet    bool
	first, last cellAddr
	area        bool
	// wholeCols and wholeRows mark "C:E" and "3:5"; the open bounds are
	// left for the caller to fill from the format.
	wholeCols, wholeRows bool
}

// splitSheet separates an optional sheet prefix. Quoted names may contain
// doubled quotes.
func splitSheet(s string) (sheet, rest string, hasSheet, ok bool) {
	if strings.HasPrefix(s, "'") {
		var b strings.Builder
		for i := 1; i < len(s); i++ {
			if s[i] != '\'' {
				b.WriteByte(s[i])
				continue
			}
			if i+1 < len(s) && s[i+1] == '\'' {
				b.WriteByte('\'')
				i++
				continue
			}
			if i+1 < len(s) && s[i+1] == '!' {
				return b.String(), s[i+2:], true, true
			}
			return "", "", false, false
		}
		return "", "", false, false
	}
	if i := strings.IndexByte(s, '!'); i >= 0 {
		if i == 0 {
			return "", "", false, false
		}
		return s[:i], s[i+1:], true, true
	}
	return "", s, false, true
}

func parseRefText(s string) (refText, bool) {
	var rt refText
	sheet, rest, hasSheet, ok := splitSheet(s)
	if !ok {
		return rt, false
	}
	rt.sheet, rt.hasSheet = sheet, hasSheet
	parts := strings.Split(rest, ":")
	switch len(parts) {
	case 1:
		a, ok := parseCellName(parts[0])
		rt.first, rt.last = a, a
		return rt, ok
	case 2:
	default:
		return rt, false
	}
	if a, ok := parseCellName(parts[0]); ok {
		b, ok := parseCellName(parts[1])
		rt.first, rt.last, rt.area = a, b, true
		return rt, ok
	}
	if c1, abs1, ok := parseColName(parts[0]); ok {
		c2, abs2, ok := parseColName(parts[1])
		rt.first = cellAddr{col: c1, colAbs: abs1, rowAbs: true}
		rt.last = cellAddr{col: c2, colAbs: abs2, rowAbs: true}
		rt.area, rt.wholeCols = true, true
		return rt, ok
	}
	if r1, abs1, ok := parseRowName(parts[0]); ok {
		r2, abs2, ok := parseRowName(parts[1])
		rt.first = cellAddr{row: r1, rowAbs: abs1, colAbs: true}
		rt.last = cellAddr{row: r2, rowAbs: abs2, colAbs: true}
		rt.area, rt.wholeRows = true, true
		return rt, ok
	}
	return rt, false
}

// bounds fills the open ends of whole-row and whole-column references.
func (rt *refText) bounds(f *Format) {
	if rt.wholeCols {
		rt.first.row, rt.last.row = 0, f.MaxRows-1
	}
	if rt.wholeRows {
		rt.first.col, rt.last.col = 0, f.MaxCols-1
	}
}
