package xlfmla

import (
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// fromSample returns the path to a test workbook.
func fromSample(filename string) string {
	_, testFile, _, _ := runtime.Caller(1)
	testDir := filepath.Dir(testFile)
	projectRoot := filepath.Join(testDir, "..")
	return filepath.Join(projectRoot, "testdata", "books", filename)
}

// openSample loads a YAML workbook from testdata.
func openSample(t *testing.T, filename string, opts *Options) *Book {
	t.Helper()
	f, err := os.Open(fromSample(filename))
	if err != nil {
		t.Fatalf("open %s: %v", filename, err)
	}
	defer f.Close()
	b, err := LoadWorkbookYAML(f, opts)
	if err != nil {
		t.Fatalf("load %s: %v", filename, err)
	}
	return b
}

// newTestBook returns a book with the given sheets, Sheet1 by default.
func newTestBook(t *testing.T, opts *Options, sheets ...string) *Book {
	t.Helper()
	if len(sheets) == 0 {
		sheets = []string{"Sheet1"}
	}
	b := NewBook(opts)
	for _, name := range sheets {
		if _, err := b.AddSheet(name); err != nil {
			t.Fatalf("AddSheet(%q): %v", name, err)
		}
	}
	return b
}

// fill sets cells of a sheet. Strings starting with "=" are formulas, other
// values go through the same conversion as workbook YAML.
func fill(t *testing.T, b *Book, sheet string, cells map[string]interface{}) {
	t.Helper()
	var formulas []string
	for addr, raw := range cells {
		if s, ok := raw.(string); ok && strings.HasPrefix(s, "=") {
			formulas = append(formulas, addr)
			continue
		}
		row, col, err := A1(addr)
		if err != nil {
			t.Fatal(err)
		}
		v, err := yamlValue(raw)
		if err != nil {
			t.Fatal(err)
		}
		if err := b.SetValue(sheet, row, col, v); err != nil {
			t.Fatalf("SetValue(%s): %v", addr, err)
		}
	}
	for _, addr := range formulas {
		row, col, err := A1(addr)
		if err != nil {
			t.Fatal(err)
		}
		if err := b.SetFormula(sheet, row, col, cells[addr].(string)); err != nil {
			t.Fatalf("SetFormula(%s): %v", addr, err)
		}
	}
}

// evalIn evaluates text in cell Z100 of Sheet1, away from the test data.
func evalIn(t *testing.T, b *Book, text string) Value {
	t.Helper()
	v, err := b.EvaluateFormula("Sheet1", 99, 25, text)
	if err != nil {
		t.Fatalf("EvaluateFormula(%q): %v", text, err)
	}
	return v
}

// sameValue compares values, numbers to nine significant digits.
func sameValue(got, want Value) bool {
	g, ok1 := got.(Number)
	w, ok2 := want.(Number)
	if ok1 && ok2 {
		if g == w {
			return true
		}
		return math.Abs(float64(g-w)) <= 1e-9*math.Max(1, math.Abs(float64(w)))
	}
	return got == want
}

// formulaCase is one row of the function tables.
type formulaCase struct {
	formula string
	want    Value
}

func checkFormulas(t *testing.T, b *Book, tests []formulaCase) {
	t.Helper()
	for _, tt := range tests {
		v, err := b.EvaluateFormula("Sheet1", 99, 25, tt.formula)
		if err != nil {
			t.Errorf("%s: %v", tt.formula, err)
			continue
		}
		if !sameValue(v, tt.want) {
			t.Errorf("%s = %#v, want %#v", tt.formula, v, tt.want)
		}
	}
}
