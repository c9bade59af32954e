package xlfmla

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

func biffRecord(code uint16, body []byte) []byte {
	w := &byteWriter{}
	w.u16(code)
	w.u16(uint16(len(body)))
	w.raw(body)
	return w.buf
}

func biffBody(fill func(w *byteWriter)) []byte {
	w := &byteWriter{}
	fill(w)
	return w.buf
}

func bofRecord(streamType uint16) []byte {
	return biffRecord(recBOF, biffBody(func(w *byteWriter) {
		w.u16(biff8Version)
		w.u16(streamType)
		w.u16(0x0DBB)
		w.u16(0x07CC)
		w.u32(0)
		w.u32(0)
	}))
}

var eofRecord = biffRecord(recEOF, nil)

// shortString writes a string with an 8-bit length prefix.
func shortString(w *byteWriter, s string) {
	n, wide := unicodeLen(s, false)
	w.u8(byte(n))
	w.unicode(s, wide)
}

type sheetSpec struct {
	name    string
	kind    byte
	records [][]byte
}

func (s sheetSpec) substream() []byte {
	bofType := uint16(bofWorksheet)
	if s.kind != 0 {
		bofType = 0x0020
	}
	out := bofRecord(bofType)
	for _, r := range s.records {
		out = append(out, r...)
	}
	return append(out, eofRecord...)
}

func boundSheetRecord(offset int, s sheetSpec) []byte {
	return biffRecord(recBoundSheet, biffBody(func(w *byteWriter) {
		w.u32(uint32(offset))
		w.u8(0)
		w.u8(s.kind)
		shortString(w, s.name)
	}))
}

// assembleStream lays out a workbook stream: globals holding head, one
// BOUNDSHEET per sheet and tail, followed by the sheet substreams.
func assembleStream(head, tail [][]byte, sheets []sheetSpec) []byte {
	globalsLen := len(bofRecord(bofGlobals)) + len(eofRecord)
	for _, r := range append(append([][]byte(nil), head...), tail...) {
		globalsLen += len(r)
	}
	for _, s := range sheets {
		globalsLen += len(boundSheetRecord(0, s))
	}
	out := bofRecord(bofGlobals)
	for _, r := range head {
		out = append(out, r...)
	}
	offset := globalsLen
	for _, s := range sheets {
		out = append(out, boundSheetRecord(offset, s)...)
		offset += len(s.substream())
	}
	for _, r := range tail {
		out = append(out, r...)
	}
	out = append(out, eofRecord...)
	for _, s := range sheets {
		out = append(out, s.substream()...)
	}
	return out
}

func cellHeader(w *byteWriter, row, col int) {
	w.u16(uint16(row))
	w.u16(uint16(col))
	w.u16(0x0F)
}

func formulaRecord(t *testing.T, row, col int, result []byte, ptgs []Ptg) []byte {
	t.Helper()
	data, err := EncodeTokens(ptgs)
	if err != nil {
		t.Fatalf("EncodeTokens(%v): %v", ptgs, err)
	}
	if result == nil {
		result = make([]byte, 8)
	}
	return biffRecord(recFormula, biffBody(func(w *byteWriter) {
		cellHeader(w, row, col)
		w.raw(result)
		if _, ok := ptgs[0].(ExpPtg); ok {
			w.u16(0x0008)
		} else {
			w.u16(0)
		}
		w.u32(0)
		w.u16(uint16(TokenArrayLen(ptgs)))
		w.raw(data)
	}))
}

func nameRecord(t *testing.T, options uint16, name string, ptgs []Ptg) []byte {
	t.Helper()
	data, err := EncodeTokens(ptgs)
	if err != nil {
		t.Fatalf("EncodeTokens(%v): %v", ptgs, err)
	}
	return biffRecord(recName, biffBody(func(w *byteWriter) {
		w.u16(options)
		w.u8(0)
		n, wide := unicodeLen(name, false)
		w.u8(byte(n))
		w.u16(uint16(TokenArrayLen(ptgs)))
		w.u16(0)
		w.u16(0)
		w.u32(0)
		w.unicode(name, wide)
		w.raw(data)
	}))
}

func externSheetRecord(entries ...[3]uint16) []byte {
	return biffRecord(recExternSheet, biffBody(func(w *byteWriter) {
		w.u16(uint16(len(entries)))
		for _, e := range entries {
			w.u16(e[0])
			w.u16(e[1])
			w.u16(e[2])
		}
	}))
}

// sstRecords writes "alpha", a wide string split inside its characters and
// "gamma" at the start of a second CONTINUE record.
func sstRecords() [][]byte {
	sst := biffBody(func(w *byteWriter) {
		w.u32(3)
		w.u32(3)
		w.u16(5)
		w.u8(0)
		w.raw([]byte("alpha"))
		w.u16(7)
		w.u8(1)
		for _, r := range "Grü" {
			w.u16(uint16(r))
		}
	})
	cont1 := biffBody(func(w *byteWriter) {
		w.u8(1)
		for _, r := range "ße ✓" {
			w.u16(uint16(r))
		}
	})
	cont2 := biffBody(func(w *byteWriter) {
		w.u16(5)
		w.u8(0)
		w.raw([]byte("gamma"))
	})
	return [][]byte{biffRecord(recSST, sst), biffRecord(recContinue, cont1), biffRecord(recContinue, cont2)}
}

func twiceAddIn() map[string]FuncImpl {
	return map[string]FuncImpl{
		"twice": func(c *Call, args []Operand) Operand {
			x, errv := c.number(args[0])
			if errv != nil {
				return errv
			}
			return Number(2 * x)
		},
	}
}

// Book sheet index to EXTERNSHEET index in the test stream.
var testXti = map[uint16]uint16{0: 0, 1: 2, addInIxti: 1}

func toStream(ptgs []Ptg) []Ptg {
	out := make([]Ptg, len(ptgs))
	for i, p := range ptgs {
		switch t := p.(type) {
		case Ref3dPtg:
			t.Ixti = testXti[t.Ixti]
			p = t
		case Area3dPtg:
			t.Ixti = testXti[t.Ixti]
			p = t
		case NameXPtg:
			t.Ixti = testXti[t.Ixti]
			p = t
		}
		out[i] = p
	}
	return out
}

// testWorkbookStream builds a workbook with sheets Data and Calc around a
// chart sheet, so EXTERNSHEET indexes differ from Book sheet indexes.
func testWorkbookStream(t *testing.T, datemode uint16) []byte {
	t.Helper()
	src := newTestBook(t, &Options{AddIns: twiceAddIn()}, "Data", "Calc")
	if err := src.AddName("Total", "Data!$A$1:$A$3"); err != nil {
		t.Fatal(err)
	}
	parse := func(text string, row, col int) []Ptg {
		t.Helper()
		ptgs, err := src.parser.Parse(text, src.At("Calc", row, col))
		if err != nil {
			t.Fatalf("Parse(%q): %v", text, err)
		}
		return toStream(ptgs)
	}
	printArea, err := src.parser.ParseName("Data!$A$1:$B$4", src.At("Data", 0, 0))
	if err != nil {
		t.Fatal(err)
	}

	head := [][]byte{
		biffRecord(recCodepage, biffBody(func(w *byteWriter) { w.u16(1200) })),
		biffRecord(recDatemode, biffBody(func(w *byteWriter) { w.u16(datemode) })),
	}
	tail := [][]byte{
		biffRecord(recSupBook, biffBody(func(w *byteWriter) { w.u16(3); w.u16(0x0401) })),
		biffRecord(recSupBook, biffBody(func(w *byteWriter) { w.u16(1); w.u16(0x3A01) })),
		biffRecord(recExternName, biffBody(func(w *byteWriter) {
			w.u16(0)
			w.u32(0)
			shortString(w, "TWICE")
			w.u16(2)
			w.u8(0x1C)
			w.u8(byte(InvalidRef))
		})),
		externSheetRecord([3]uint16{0, 0, 0}, [3]uint16{1, 0xFFFE, 0xFFFE}, [3]uint16{0, 2, 2}, [3]uint16{0, 0xFFFF, 0xFFFF}),
		nameRecord(t, 0, "Total", toStream(src.Names()[0].Tokens)),
		nameRecord(t, 0x0001, "Gone", []Ptg{Ref3dPtg{Cls: ClassReference, Ixti: 3, Col: NewColField(0, false, false)}}),
		nameRecord(t, 0x0020, "\x06", toStream(printArea)),
	}
	tail = append(tail, sstRecords()...)

	data := sheetSpec{name: "Data", records: [][]byte{
		biffRecord(recNumber, biffBody(func(w *byteWriter) { cellHeader(w, 0, 0); w.f64(1.5) })),
		biffRecord(recRK, biffBody(func(w *byteWriter) { cellHeader(w, 1, 0); w.u32(2<<2 | 2) })),
		biffRecord(recRK, biffBody(func(w *byteWriter) { cellHeader(w, 2, 0); w.u32(325<<2 | 3) })),
		biffRecord(recMulRK, biffBody(func(w *byteWriter) {
			w.u16(3)
			w.u16(0)
			w.u16(0x0F)
			w.u32(10<<2 | 2)
			w.u16(0x0F)
			w.u32(20<<2 | 2)
			w.u16(1)
		})),
		biffRecord(recLabelSST, biffBody(func(w *byteWriter) { cellHeader(w, 0, 1); w.u32(0) })),
		biffRecord(recLabel, biffBody(func(w *byteWriter) { cellHeader(w, 1, 1); w.u16(4); w.unicode("beta", false) })),
		biffRecord(recBoolErr, biffBody(func(w *byteWriter) { cellHeader(w, 2, 1); w.u8(1); w.u8(0) })),
		biffRecord(recBoolErr, biffBody(func(w *byteWriter) { cellHeader(w, 2, 2); w.u8(byte(DivByZero)); w.u8(1) })),
		biffRecord(recLabelSST, biffBody(func(w *byteWriter) { cellHeader(w, 4, 0); w.u32(1) })),
		biffRecord(recLabelSST, biffBody(func(w *byteWriter) { cellHeader(w, 4, 1); w.u32(2) })),
		biffRecord(recBlank, biffBody(func(w *byteWriter) { cellHeader(w, 9, 9) })),
	}}

	shared := AbsoluteToShared(parse("=A1*10", 0, 1), 0, 1)
	sharedData, err := EncodeTokens(shared)
	if err != nil {
		t.Fatal(err)
	}
	exp := []Ptg{ExpPtg{Row: 0, Col: 1}}
	orphan := []Ptg{ExpPtg{Row: 9, Col: 9}}
	cached := func(kind, value byte) []byte { return []byte{kind, 0, value, 0, 0, 0, 0xFF, 0xFF} }
	calc := sheetSpec{name: "Calc", records: [][]byte{
		formulaRecord(t, 0, 0, nil, parse("=SUM(Total)", 0, 0)),
		formulaRecord(t, 1, 0, nil, parse("=Data!A4+Data!B4", 1, 0)),
		formulaRecord(t, 2, 0, nil, parse("=TWICE(Calc!A1)", 2, 0)),
		formulaRecord(t, 3, 0, nil, parse(`=Data!B1&"-"&Data!B2`, 3, 0)),
		formulaRecord(t, 0, 1, nil, exp),
		biffRecord(recShrFmla, biffBody(func(w *byteWriter) {
			w.u16(0)
			w.u16(2)
			w.u8(1)
			w.u8(1)
			w.u8(0)
			w.u8(3)
			w.u16(uint16(TokenArrayLen(shared)))
			w.raw(sharedData)
		})),
		formulaRecord(t, 1, 1, nil, exp),
		formulaRecord(t, 2, 1, nil, exp),
		formulaRecord(t, 0, 2, biffBody(func(w *byteWriter) { w.f64(42) }), orphan),
		formulaRecord(t, 1, 2, cached(0, 0), orphan),
		biffRecord(recString, biffBody(func(w *byteWriter) { w.u16(6); w.unicode("cached", false) })),
		formulaRecord(t, 2, 2, cached(1, 1), orphan),
		formulaRecord(t, 3, 2, nil, parse("=Data!C3", 3, 2)),
	}}
	chart := sheetSpec{name: "Chart1", kind: 2}
	return assembleStream(head, tail, []sheetSpec{data, chart, calc})
}

func loadTestStream(t *testing.T, stream []byte, opts *Options) *Book {
	t.Helper()
	b, err := LoadWorkbookBIFF(bytes.NewReader(stream), opts)
	if err != nil {
		t.Fatalf("LoadWorkbookBIFF: %v", err)
	}
	return b
}

func TestLoadWorkbookBIFF(t *testing.T) {
	b := loadTestStream(t, testWorkbookStream(t, 0), &Options{AddIns: twiceAddIn()})
	if got := b.SheetNames(); len(got) != 2 || got[0] != "Data" || got[1] != "Calc" {
		t.Fatalf("SheetNames() = %v", got)
	}
	if err := b.Recalculate(2); err != nil {
		t.Fatal(err)
	}
	values := []struct {
		sheet, addr string
		want        Value
	}{
		{"Data", "A1", Number(1.5)},
		{"Data", "A2", Number(2)},
		{"Data", "A3", Number(3.25)},
		{"Data", "A4", Number(10)},
		{"Data", "B4", Number(20)},
		{"Data", "B1", Text("alpha")},
		{"Data", "B2", Text("beta")},
		{"Data", "B3", Boolean(true)},
		{"Data", "C3", DivByZero},
		{"Data", "A5", Text("Grüße ✓")},
		{"Data", "B5", Text("gamma")},
		{"Calc", "A1", Number(6.75)},
		{"Calc", "A2", Number(30)},
		{"Calc", "A3", Number(13.5)},
		{"Calc", "A4", Text("alpha-beta")},
		{"Calc", "B1", Number(67.5)},
		{"Calc", "B2", Number(300)},
		{"Calc", "B3", Number(135)},
		{"Calc", "C1", Number(42)},
		{"Calc", "C2", Text("cached")},
		{"Calc", "C3", Boolean(true)},
		{"Calc", "C4", DivByZero},
	}
	for _, tt := range values {
		if got := cellAt(t, b, tt.sheet, tt.addr); !sameValue(got, tt.want) {
			t.Errorf("%s!%s = %#v, want %#v", tt.sheet, tt.addr, got, tt.want)
		}
	}

	data, err := b.SheetByName("Data")
	if err != nil {
		t.Fatal(err)
	}
	if data.NRows != 5 || data.NCols != 3 {
		t.Errorf("Data is %dx%d, want 5x3", data.NRows, data.NCols)
	}
	calc, err := b.SheetByName("Calc")
	if err != nil {
		t.Fatal(err)
	}
	if calc.CellType(1, 1) != CellFormula || calc.CellType(0, 2) != CellNumber {
		t.Errorf("Calc cell types %d, %d", calc.CellType(1, 1), calc.CellType(0, 2))
	}

	names := b.Names()
	wantNames := []struct {
		name, formula string
		hidden        bool
	}{
		{"Total", "Data!$A$1:$A$3", false},
		{"Gone", "#REF!", true},
		{"_xlnm.Print_Area", "Data!$A$1:$B$4", false},
	}
	if len(names) != len(wantNames) {
		t.Fatalf("Names() has %d entries, want %d", len(names), len(wantNames))
	}
	for i, w := range wantNames {
		if names[i].Name != w.name || names[i].Formula != w.formula || names[i].Hidden != w.hidden {
			t.Errorf("name %d = %s %q hidden=%v, want %s %q hidden=%v",
				i+1, names[i].Name, names[i].Formula, names[i].Hidden, w.name, w.formula, w.hidden)
		}
	}
}

func TestLoadWorkbookBIFFDatemode(t *testing.T) {
	b := loadTestStream(t, testWorkbookStream(t, 1), &Options{AddIns: twiceAddIn()})
	v, err := b.EvaluateFormula("Calc", 9, 0, "=DATE(1904,1,2)")
	if err != nil {
		t.Fatal(err)
	}
	if v != Number(1) {
		t.Errorf("DATE(1904,1,2) = %v in the 1904 system, want 1", v)
	}
}

func TestLoadWorkbookBIFFUnknownAddIn(t *testing.T) {
	_, err := LoadWorkbookBIFF(bytes.NewReader(testWorkbookStream(t, 0)), nil)
	if err == nil || !strings.Contains(err.Error(), "TWICE") {
		t.Fatalf("error = %v, want a complaint about TWICE", err)
	}
}

func TestLoadWorkbookBIFFErrors(t *testing.T) {
	stream := testWorkbookStream(t, 0)
	encrypted := assembleStream([][]byte{biffRecord(recFilePass, make([]byte, 6))}, nil, nil)
	badSST := assembleStream(nil, nil, []sheetSpec{{name: "S", records: [][]byte{
		biffRecord(recLabelSST, biffBody(func(w *byteWriter) { cellHeader(w, 0, 0); w.u32(0) })),
	}}})
	worksheetFirst := append(bofRecord(bofWorksheet), eofRecord...)
	hugeSST := assembleStream([][]byte{biffRecord(recSST, biffBody(func(w *byteWriter) {
		w.u32(0xFFFFFFFF)
		w.u32(0xFFFFFFFF)
		w.u16(1)
		w.u8(0)
		w.raw([]byte("a"))
	}))}, nil, nil)
	var zipped bytes.Buffer
	zw := zip.NewWriter(&zipped)
	if _, err := zw.Create("xl/workbook.xml"); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		content []byte
	}{
		{"empty", nil},
		{"truncated", stream[:len(stream)-3]},
		{"no globals EOF", bofRecord(bofGlobals)},
		{"worksheet first", worksheetFirst},
		{"encrypted", encrypted},
		{"shared string out of range", badSST},
		{"shared string count past the record", hugeSST},
		{"xlsx", zipped.Bytes()},
	}
	for _, tt := range tests {
		if _, err := LoadWorkbookBIFF(bytes.NewReader(tt.content), &Options{AddIns: twiceAddIn()}); err == nil {
			t.Errorf("LoadWorkbookBIFF(%s) succeeded", tt.name)
		}
	}
}

func TestRKValue(t *testing.T) {
	tests := []struct {
		rk   uint32
		want float64
	}{
		{2<<2 | 2, 2},
		{325<<2 | 3, 3.25},
		{0xFFFFFFFE, -1},
		{0x3FF00000, 1},
		{0x3FF00001, 0.01},
		{0x40590000, 100},
	}
	for _, tt := range tests {
		if got := rkValue(tt.rk); got != tt.want {
			t.Errorf("rkValue(0x%08x) = %v, want %v", tt.rk, got, tt.want)
		}
	}
}

func TestInspectFormat(t *testing.T) {
	var zipped bytes.Buffer
	zw := zip.NewWriter(&zipped)
	if _, err := zw.Create("content.xml"); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		content []byte
		want    string
	}{
		{append(append([]byte(nil), XLSSignature...), make([]byte, 8)...), "xls"},
		{bofRecord(bofGlobals), "biff"},
		{zipped.Bytes(), "ods"},
		{[]byte("PK\x03\x04 not really"), ""},
		{[]byte("sheets:\n  - name: A\n"), ""},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := InspectFormat(tt.content); got != tt.want {
			t.Errorf("InspectFormat(%q) = %q, want %q", tt.content, got, tt.want)
		}
	}
}

func TestWorkbookStream(t *testing.T) {
	stream := testWorkbookStream(t, 0)
	got, err := WorkbookStream(stream)
	if err != nil || !bytes.Equal(got, stream) {
		t.Errorf("WorkbookStream(bare stream) = %d bytes, %v", len(got), err)
	}
	if _, err := WorkbookStream([]byte("sheets: []\n")); err == nil {
		t.Error("WorkbookStream accepted YAML")
	}
}

func TestDumpRecords(t *testing.T) {
	stream := testWorkbookStream(t, 0)
	var buf bytes.Buffer
	if err := DumpRecords(&buf, stream, true); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"0809 BOF len = 0010 (16)\n", "00fc SST", "003c CONTINUE", "04bc SHRFMLA"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump lacks %q", want)
		}
	}
	if !strings.HasPrefix(out, "0809 BOF") {
		t.Errorf("unnumbered dump starts with %q", out[:min(len(out), 20)])
	}

	buf.Reset()
	if err := CountRecords(&buf, stream); err != nil {
		t.Fatal(err)
	}
	out = buf.String()
	for _, want := range []string{"       4 BOF\n", "      11 FORMULA\n", "       2 CONTINUE\n", "       3 NAME\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("counts lack %q in\n%s", want, out)
		}
	}
	short := stream[:len(stream)-2]
	if err := CountRecords(&buf, short); err == nil {
		t.Error("CountRecords accepted a truncated stream")
	}
	if err := DumpRecords(&buf, short, false); err == nil || !strings.Contains(err.Error(), "truncated record header") {
		t.Errorf("DumpRecords on a truncated stream: %v", err)
	}
	if _, err := LoadWorkbookBIFF(bytes.NewReader(short), nil); err == nil {
		t.Error("LoadWorkbookBIFF accepted a truncated stream")
	}
}
