package xlfmla

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf16"

	"golang.org/x/xerrors"
)

// Built-in name codes of NAME records with the fBuiltin flag.
var builtinNames = map[byte]string{
	0x00: "Consolidate_Area",
	0x01: "Auto_Open",
	0x02: "Auto_Close",
	0x03: "Extract",
	0x04: "Database",
	0x05: "Criteria",
	0x06: "Print_Area",
	0x07: "Print_Titles",
	0x08: "Recorder",
	0x09: "Data_Form",
	0x0A: "Auto_Activate",
	0x0B: "Auto_Deactivate",
	0x0C: "Sheet_Title",
	0x0D: "_FilterDatabase",
}

type supBookKind int

const (
	supBookSelf supBookKind = iota
	supBookAddIn
	supBookExternal
)

type supBook struct {
	kind  supBookKind
	names []string
}

// xti is one EXTERNSHEET entry.
type xti struct {
	supBook     int
	first, last int16
}

type boundSheet struct {
	name   string
	offset int
	// book is the index of the sheet in the Book, or -1 for chart and
	// macro sheets.
	book int
}

type rawName struct {
	name   string
	hidden bool
	rgce   []byte
	cce    int
}

// biffLoader holds the workbook globals while sheets are read.
type biffLoader struct {
	rs       *recordStream
	codec    *Codec
	opts     *Options
	book     *Book
	datemode int
	codepage int
	sheets   []boundSheet
	supBooks []supBook
	xtis     []xti
	names    []rawName
	sst      []string
}

// LoadWorkbookBIFF reads an .xls file, or a bare BIFF8 workbook stream,
// into a Book. Constants and formulas of worksheets are loaded together
// with defined names and shared formulas; formulas are evaluated on demand
// rather than trusting their cached results. The file's DATEMODE record
// replaces opts.Datemode.
//
// Add-in functions used by the workbook must be registered in opts.AddIns.
func LoadWorkbookBIFF(r io.Reader, opts *Options) (*Book, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	stream, err := WorkbookStream(content)
	if err != nil {
		return nil, err
	}
	o := Options{}
	if opts != nil {
		o = *opts
	}
	o.Format = BIFF8
	ld := &biffLoader{rs: &recordStream{mem: stream}, opts: o.withDefaults()}
	ld.codec = ld.opts.codec()
	if err := ld.readGlobals(); err != nil {
		return nil, err
	}
	o.Datemode = ld.datemode
	ld.book = NewBook(&o)
	for i := range ld.sheets {
		bs := &ld.sheets[i]
		if bs.book < 0 {
			continue
		}
		if _, err := ld.book.AddSheet(bs.name); err != nil {
			return nil, err
		}
	}
	if err := ld.loadNames(); err != nil {
		return nil, err
	}
	for _, bs := range ld.sheets {
		if bs.book < 0 {
			continue
		}
		if err := ld.readSheet(bs); err != nil {
			return nil, xerrors.Errorf("sheet %s: %w", bs.name, err)
		}
	}
	if ld.opts.Verbosity >= 1 {
		fmt.Fprintf(ld.opts.Logfile, "BIFF8 workbook: %d sheets, %d names, %d shared strings, codepage %d, datemode %d\n",
			ld.book.NSheets(), len(ld.names), len(ld.sst), ld.codepage, ld.datemode)
	}
	return ld.book, nil
}

func (ld *biffLoader) readGlobals() error {
	if err := ld.rs.expectBOF(bofGlobals); err != nil {
		return err
	}
	for {
		rec, err := ld.rs.next()
		if err == io.EOF {
			return xerrors.New("workbook globals: missing EOF record")
		}
		if err != nil {
			return err
		}
		switch rec.code {
		case recEOF:
			return nil
		case recFilePass:
			return xerrors.New("workbook is encrypted")
		case recCodepage:
			if len(rec.data) >= 2 {
				ld.codepage = int(binary.LittleEndian.Uint16(rec.data))
			}
		case recDatemode:
			if len(rec.data) >= 2 && binary.LittleEndian.Uint16(rec.data) == 1 {
				ld.datemode = 1
			}
		case recBoundSheet:
			err = ld.handleBoundSheet(rec)
		case recSupBook:
			err = ld.handleSupBook(rec)
		case recExternName:
			err = ld.handleExternName(rec)
		case recExternSheet:
			err = ld.handleExternSheet(rec)
		case recName:
			err = ld.handleName(rec)
		case recSST:
			err = ld.handleSST(rec)
		}
		if err != nil {
			return xerrors.Errorf("%s record at %d: %w", RecordName(rec.code), rec.offset, err)
		}
	}
}

func (ld *biffLoader) handleBoundSheet(rec *record) error {
	rd := &byteReader{data: rec.data}
	offset := int(rd.u32())
	rd.u8() // visibility
	sheetType := rd.u8()
	name, _ := rd.unicode(int(rd.u8()))
	if rd.err != nil {
		return rd.err
	}
	bs := boundSheet{name: name, offset: offset, book: -1}
	if sheetType == 0 {
		n := 0
		for _, s := range ld.sheets {
			if s.book >= 0 {
				n++
			}
		}
		bs.book = n
	}
	ld.sheets = append(ld.sheets, bs)
	return nil
}

func (ld *biffLoader) handleSupBook(rec *record) error {
	if len(rec.data) < 4 {
		return errShortRead
	}
	ctab := binary.LittleEndian.Uint16(rec.data)
	cch := binary.LittleEndian.Uint16(rec.data[2:])
	kind := supBookExternal
	switch {
	case cch == 0x0401:
		kind = supBookSelf
	case ctab == 1 && cch == 0x3A01:
		kind = supBookAddIn
	}
	ld.supBooks = append(ld.supBooks, supBook{kind: kind})
	return nil
}

func (ld *biffLoader) handleExternName(rec *record) error {
	if len(ld.supBooks) == 0 {
		return xerrors.New("EXTERNNAME before any SUPBOOK")
	}
	rd := &byteReader{data: rec.data}
	rd.u16() // options
	rd.u32() // reserved
	name, _ := rd.unicode(int(rd.u8()))
	if rd.err != nil {
		return rd.err
	}
	sb := &ld.supBooks[len(ld.supBooks)-1]
	sb.names = append(sb.names, name)
	return nil
}

func (ld *biffLoader) handleExternSheet(rec *record) error {
	rd := &byteReader{data: rec.joined()}
	n := int(rd.u16())
	for i := 0; i < n && rd.err == nil; i++ {
		ld.xtis = append(ld.xtis, xti{supBook: int(rd.u16()), first: int16(rd.u16()), last: int16(rd.u16())})
	}
	return rd.err
}

func (ld *biffLoader) handleName(rec *record) error {
	data := rec.joined()
	rd := &byteReader{data: data}
	options := rd.u16()
	rd.u8() // keyboard shortcut
	cch := int(rd.u8())
	cce := int(rd.u16())
	rd.u16()
	rd.u16() // scope; local names are loaded into the global namespace
	rd.bytes(4)
	name, _ := rd.unicode(cch)
	if rd.err != nil {
		return rd.err
	}
	if options&0x0020 != 0 && len(name) > 0 {
		builtin, ok := builtinNames[name[0]]
		if !ok {
			builtin = fmt.Sprintf("Builtin_%02x", name[0])
		}
		name = "_xlnm." + builtin
	}
	ld.names = append(ld.names, rawName{name: name, hidden: options&0x0001 != 0, rgce: data[rd.pos:], cce: cce})
	return nil
}

func (ld *biffLoader) handleSST(rec *record) error {
	segs := append([][]byte{rec.data}, rec.cont...)
	s := &sstReader{segs: segs}
	hdr, err := s.field(8)
	if err != nil {
		return err
	}
	n := binary.LittleEndian.Uint32(hdr[4:])
	// Each string takes at least three bytes; the count is not trusted.
	size := 0
	for _, seg := range segs {
		size += len(seg)
	}
	capacity := size / 3
	if uint64(n) < uint64(capacity) {
		capacity = int(n)
	}
	ld.sst = make([]string, 0, capacity)
	for i := uint32(0); i < n; i++ {
		str, err := s.str()
		if err != nil {
			return xerrors.Errorf("shared string %d: %w", i, err)
		}
		ld.sst = append(ld.sst, str)
	}
	return nil
}

// sstReader reads strings of an SST record that may be split over
// CONTINUE records. A split inside the characters of a string starts the
// next segment with a fresh option flags byte.
type sstReader struct {
	segs [][]byte
	seg  int
	pos  int
}

func (s *sstReader) avail() int {
	return len(s.segs[s.seg]) - s.pos
}

// field returns n bytes that lie within one segment.
func (s *sstReader) field(n int) ([]byte, error) {
	for s.seg < len(s.segs) && s.avail() == 0 {
		s.seg++
		s.pos = 0
	}
	if s.seg >= len(s.segs) || s.avail() < n {
		return nil, errShortRead
	}
	b := s.segs[s.seg][s.pos : s.pos+n]
	s.pos += n
	return b, nil
}

func (s *sstReader) skip(n int) error {
	for n > 0 {
		if s.seg >= len(s.segs) {
			return errShortRead
		}
		k := min(n, s.avail())
		s.pos += k
		n -= k
		if n > 0 {
			s.seg++
			s.pos = 0
		}
	}
	return nil
}

func (s *sstReader) str() (string, error) {
	hdr, err := s.field(3)
	if err != nil {
		return "", err
	}
	nchars := int(binary.LittleEndian.Uint16(hdr))
	flags := hdr[2]
	var runs, ext int
	if flags&0x08 != 0 {
		b, err := s.field(2)
		if err != nil {
			return "", err
		}
		runs = int(binary.LittleEndian.Uint16(b))
	}
	if flags&0x04 != 0 {
		b, err := s.field(4)
		if err != nil {
			return "", err
		}
		ext = int(binary.LittleEndian.Uint32(b))
	}
	wide := flags&0x01 != 0
	units := make([]uint16, 0, nchars)
	for nchars > 0 {
		if s.avail() == 0 {
			s.seg++
			s.pos = 0
			if s.seg >= len(s.segs) || len(s.segs[s.seg]) == 0 {
				return "", errShortRead
			}
			wide = s.segs[s.seg][0]&0x01 != 0
			s.pos = 1
		}
		width := 1
		if wide {
			width = 2
		}
		k := min(nchars, s.avail()/width)
		if k == 0 {
			return "", errShortRead
		}
		chunk := s.segs[s.seg][s.pos : s.pos+k*width]
		for i := 0; i < k; i++ {
			if wide {
				units = append(units, binary.LittleEndian.Uint16(chunk[2*i:]))
			} else {
				units = append(units, uint16(chunk[i]))
			}
		}
		s.pos += k * width
		nchars -= k
	}
	if err := s.skip(4*runs + ext); err != nil {
		return "", err
	}
	return string(utf16.Decode(units)), nil
}

// loadNames decodes the NAME records once all sheets exist.
func (ld *biffLoader) loadNames() error {
	for _, rn := range ld.names {
		ptgs, _, err := ld.codec.Decode(rn.rgce, rn.cce)
		if err != nil {
			return xerrors.Errorf("name %s: %w", rn.name, err)
		}
		if ptgs, err = ld.remap(ptgs); err != nil {
			return xerrors.Errorf("name %s: %w", rn.name, err)
		}
		ld.book.defineName(&Name{Name: rn.name, Tokens: ptgs, Hidden: rn.hidden})
	}
	origin := ""
	if names := ld.book.SheetNames(); len(names) > 0 {
		origin = names[0]
	}
	renderer := NewRenderer(ld.opts)
	for _, n := range ld.book.Names() {
		text, err := renderer.Render(n.Tokens, ld.book.At(origin, 0, 0))
		if err != nil {
			return xerrors.Errorf("name %s: %w", n.Name, err)
		}
		n.Formula = text
	}
	return nil
}

// remap rewrites the external sheet indexes of decoded tokens, which
// count EXTERNSHEET entries, into Book sheet indexes. References into
// deleted sheets, chart sheets and other workbooks become #REF!.
func (ld *biffLoader) remap(ptgs []Ptg) ([]Ptg, error) {
	out := make([]Ptg, len(ptgs))
	for i, p := range ptgs {
		switch t := p.(type) {
		case Ref3dPtg:
			if sheet, ok := ld.localSheet(t.Ixti); ok {
				t.Ixti = uint16(sheet)
				p = t
			} else {
				p = RefErrPtg{Cls: t.Cls}
			}
		case Area3dPtg:
			if sheet, ok := ld.localSheet(t.Ixti); ok {
				t.Ixti = uint16(sheet)
				p = t
			} else {
				p = AreaErrPtg{Cls: t.Cls}
			}
		case RefErr3dPtg:
			p = RefErrPtg{Cls: t.Cls}
		case AreaErr3dPtg:
			p = AreaErrPtg{Cls: t.Cls}
		case NameXPtg:
			name, err := ld.addInName(t.Ixti, t.Index)
			if err != nil {
				return nil, err
			}
			ixti, index, ok := ld.book.root("", 0, 0).AddInIndex(name)
			if !ok {
				return nil, &FormulaError{Kind: UnknownFunctionName, Name: name, Message: fmt.Sprintf("add-in function %s is not registered", name)}
			}
			t.Ixti, t.Index = uint16(ixti), uint16(index)
			p = t
		}
		out[i] = p
	}
	return out, nil
}

// localSheet maps an EXTERNSHEET index to a sheet of this workbook.
func (ld *biffLoader) localSheet(ixti uint16) (int, bool) {
	if int(ixti) >= len(ld.xtis) {
		return 0, false
	}
	x := ld.xtis[ixti]
	if x.supBook >= len(ld.supBooks) || ld.supBooks[x.supBook].kind != supBookSelf {
		return 0, false
	}
	if x.first != x.last || x.first < 0 || int(x.first) >= len(ld.sheets) {
		return 0, false
	}
	sheet := ld.sheets[x.first].book
	return sheet, sheet >= 0
}

func (ld *biffLoader) addInName(ixti, index uint16) (string, error) {
	if int(ixti) < len(ld.xtis) {
		if sb := ld.xtis[ixti].supBook; sb < len(ld.supBooks) && ld.supBooks[sb].kind == supBookAddIn {
			names := ld.supBooks[sb].names
			if index >= 1 && int(index) <= len(names) {
				return names[index-1], nil
			}
		}
	}
	return "", &FormulaError{Kind: UnknownName, Message: fmt.Sprintf("no add-in name %d in external sheet %d", index, ixti)}
}

// expCell is a formula cell holding only ExpPtg, resolved once the
// sheet's SHRFMLA records have been read.
type expCell struct {
	row, col      int
	exp           ExpPtg
	cached        Value
	stringFollows bool
}

func (ld *biffLoader) readSheet(bs boundSheet) error {
	if bs.offset < 0 || bs.offset >= len(ld.rs.mem) {
		return xerrors.Errorf("sheet offset %d out of range", bs.offset)
	}
	rs := &recordStream{mem: ld.rs.mem, pos: bs.offset}
	if err := rs.expectBOF(bofWorksheet); err != nil {
		return err
	}
	var exps []expCell
	// pending is the index in exps of a cell whose text result is held in
	// the next STRING record, or -1.
	pending := -1
	for {
		rec, err := rs.next()
		if err == io.EOF {
			return xerrors.New("missing EOF record")
		}
		if err != nil {
			return err
		}
		if rec.code == recEOF {
			break
		}
		rd := &byteReader{data: rec.joined()}
		row, col := int(rd.u16()), int(rd.u16())
		switch rec.code {
		case recNumber:
			rd.u16()
			err = ld.setValue(bs.name, row, col, Number(rd.f64()), rd)
		case recRK:
			rd.u16()
			err = ld.setValue(bs.name, row, col, Number(rkValue(rd.u32())), rd)
		case recMulRK:
			n := (len(rd.data) - 6) / 6
			for i := 0; i < n && err == nil; i++ {
				rd.u16()
				err = ld.setValue(bs.name, row, col+i, Number(rkValue(rd.u32())), rd)
			}
		case recLabelSST:
			rd.u16()
			isst := int(rd.u32())
			switch {
			case rd.err != nil:
				err = rd.err
			case isst >= len(ld.sst):
				err = xerrors.Errorf("shared string %d of %d", isst, len(ld.sst))
			default:
				err = ld.setValue(bs.name, row, col, Text(ld.sst[isst]), rd)
			}
		case recLabel:
			rd.u16()
			s, _ := rd.unicode(int(rd.u16()))
			err = ld.setValue(bs.name, row, col, Text(s), rd)
		case recBoolErr:
			rd.u16()
			v, isErr := rd.u8(), rd.u8()
			var val Value = Boolean(v != 0)
			if isErr != 0 {
				val = ErrorCode(v)
			}
			err = ld.setValue(bs.name, row, col, val, rd)
		case recFormula:
			var e *expCell
			e, err = ld.readFormula(bs.name, row, col, rd)
			pending = -1
			if e != nil {
				exps = append(exps, *e)
				if e.stringFollows {
					pending = len(exps) - 1
				}
			}
		case recString:
			if pending >= 0 {
				rd = &byteReader{data: rec.joined()}
				s, _ := rd.unicode(int(rd.u16()))
				exps[pending].cached = Text(s)
				pending = -1
				err = rd.err
			}
		case recShrFmla:
			err = ld.readShared(bs.name, rd)
		}
		if err != nil {
			return xerrors.Errorf("%s record at %d: %w", RecordName(rec.code), rec.offset, err)
		}
	}

	for _, e := range exps {
		if _, err := ld.book.root(bs.name, e.row, e.col).SharedFormula(int(e.exp.Row), int(e.exp.Col)); err == nil {
			if err := ld.book.SetTokens(bs.name, e.row, e.col, []Ptg{e.exp}); err != nil {
				return err
			}
			continue
		}
		// Array formulas and data tables keep their cached result.
		if err := ld.book.SetValue(bs.name, e.row, e.col, e.cached); err != nil {
			return err
		}
	}
	return nil
}

func (ld *biffLoader) setValue(sheet string, row, col int, v Value, rd *byteReader) error {
	if rd.err != nil {
		return rd.err
	}
	return ld.book.SetValue(sheet, row, col, v)
}

func (ld *biffLoader) readFormula(sheet string, row, col int, rd *byteReader) (*expCell, error) {
	rd.u16() // XF
	result := rd.bytes(8)
	rd.u16() // options
	rd.u32()
	cce := int(rd.u16())
	if rd.err != nil {
		return nil, rd.err
	}
	ptgs, _, err := ld.codec.Decode(rd.data[rd.pos:], cce)
	if err != nil {
		return nil, err
	}
	if len(ptgs) == 1 {
		if exp, ok := ptgs[0].(ExpPtg); ok {
			cached, stringFollows := cachedResult(result)
			return &expCell{row: row, col: col, exp: exp, cached: cached, stringFollows: stringFollows}, nil
		}
	}
	if ptgs, err = ld.remap(ptgs); err != nil {
		return nil, err
	}
	return nil, ld.book.SetTokens(sheet, row, col, ptgs)
}

func (ld *biffLoader) readShared(sheet string, rd *byteReader) error {
	// rd has consumed the first and last rows.
	rd.pos = 0
	firstRow := int(rd.u16())
	rd.u16()
	firstCol := int(rd.u8())
	rd.u8()
	rd.u8()
	rd.u8()
	cce := int(rd.u16())
	if rd.err != nil {
		return rd.err
	}
	ptgs, _, err := ld.codec.Decode(rd.data[rd.pos:], cce)
	if err != nil {
		return err
	}
	if ptgs, err = ld.remap(ptgs); err != nil {
		return err
	}
	ld.book.setShared(sheet, firstRow, firstCol, ptgs)
	return nil
}

// cachedResult reads the result field of a FORMULA record. A text result
// is stored in the STRING record that follows.
func cachedResult(b []byte) (v Value, stringFollows bool) {
	if binary.LittleEndian.Uint16(b[6:]) != 0xFFFF {
		return Number(math.Float64frombits(binary.LittleEndian.Uint64(b))), false
	}
	switch b[0] {
	case 0:
		return Text(""), true
	case 1:
		return Boolean(b[2] != 0), false
	case 2:
		return ErrorCode(b[2]), false
	}
	return Blank{}, false
}

// rkValue decodes an RK number: a 30-bit integer or the high bits of a
// double, optionally divided by 100.
func rkValue(rk uint32) float64 {
	var v float64
	if rk&0x02 != 0 {
		v = float64(int32(rk) >> 2)
	} else {
		v = math.Float64frombits(uint64(rk&^0x03) << 32)
	}
	if rk&0x01 != 0 {
		v /= 100
	}
	return v
}
