package xlfmla

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"golang.org/x/xerrors"
)

// BIFF8 record types read by the workbook loader.
const (
	recFormula     = 0x0006
	recEOF         = 0x000A
	recExternSheet = 0x0017
	recName        = 0x0018
	recDatemode    = 0x0022
	recExternName  = 0x0023
	recFilePass    = 0x002F
	recContinue    = 0x003C
	recCodepage    = 0x0042
	recBoundSheet  = 0x0085
	recMulRK       = 0x00BD
	recMulBlank    = 0x00BE
	recSST         = 0x00FC
	recLabelSST    = 0x00FD
	recSupBook     = 0x01AE
	recBlank       = 0x0201
	recNumber      = 0x0203
	recLabel       = 0x0204
	recBoolErr     = 0x0205
	recString      = 0x0207
	recArray       = 0x0221
	recTableOp     = 0x0236
	recRK          = 0x027E
	recShrFmla     = 0x04BC
	recBOF         = 0x0809
)

// BOF substream types.
const (
	bofGlobals   = 0x0005
	bofWorksheet = 0x0010
	biff8Version = 0x0600
)

var recordNames = map[uint16]string{
	recFormula:     "FORMULA",
	recEOF:         "EOF",
	recExternSheet: "EXTERNSHEET",
	recName:        "NAME",
	recDatemode:    "DATEMODE",
	recExternName:  "EXTERNNAME",
	recFilePass:    "FILEPASS",
	recContinue:    "CONTINUE",
	recCodepage:    "CODEPAGE",
	recBoundSheet:  "BOUNDSHEET",
	recMulRK:       "MULRK",
	recMulBlank:    "MULBLANK",
	recSST:         "SST",
	recLabelSST:    "LABELSST",
	recSupBook:     "SUPBOOK",
	recBlank:       "BLANK",
	recNumber:      "NUMBER",
	recLabel:       "LABEL",
	recBoolErr:     "BOOLERR",
	recString:      "STRING",
	recArray:       "ARRAY",
	recTableOp:     "TABLEOP",
	recRK:          "RK",
	recShrFmla:     "SHRFMLA",
	recBOF:         "BOF",
	0x000C:         "CALCCOUNT",
	0x000D:         "CALCMODE",
	0x000F:         "REFMODE",
	0x0010:         "DELTA",
	0x0011:         "ITERATION",
	0x0012:         "PROTECT",
	0x0013:         "PASSWORD",
	0x0019:         "WINDOWPROTECT",
	0x003D:         "WINDOW1",
	0x0031:         "FONT",
	0x0040:         "BACKUP",
	0x005C:         "WRITEACCESS",
	0x005F:         "SAVERECALC",
	0x007D:         "COLINFO",
	0x008C:         "COUNTRY",
	0x00E0:         "XF",
	0x00E5:         "MERGEDCELLS",
	0x00FF:         "EXTSST",
	0x0200:         "DIMENSIONS",
	0x0208:         "ROW",
	0x020B:         "INDEX",
	0x023E:         "WINDOW2",
	0x0293:         "STYLE",
	0x041E:         "FORMAT",
}

// RecordName returns the name of a BIFF record type, or its hex code.
func RecordName(code uint16) string {
	if name, ok := recordNames[code]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", code)
}

// record is one BIFF record with any CONTINUE records that follow it.
type record struct {
	code   uint16
	offset int
	data   []byte
	cont   [][]byte
}

// joined returns the record body with continuations appended.
func (r *record) joined() []byte {
	if len(r.cont) == 0 {
		return r.data
	}
	out := append([]byte(nil), r.data...)
	for _, c := range r.cont {
		out = append(out, c...)
	}
	return out
}

// recordStream walks the records of a workbook stream.
type recordStream struct {
	mem []byte
	pos int
}

// rawNext reads one record header and body, without CONTINUE handling.
func (s *recordStream) rawNext() (code uint16, offset int, data []byte, err error) {
	if s.pos == len(s.mem) {
		return 0, s.pos, nil, io.EOF
	}
	if s.pos+4 > len(s.mem) {
		return 0, s.pos, nil, xerrors.Errorf("truncated record header at %d", s.pos)
	}
	offset = s.pos
	code = binary.LittleEndian.Uint16(s.mem[s.pos:])
	length := int(binary.LittleEndian.Uint16(s.mem[s.pos+2:]))
	s.pos += 4
	if s.pos+length > len(s.mem) {
		return code, offset, nil, xerrors.Errorf("%s record at %d: length %d runs past the end of the stream", RecordName(code), offset, length)
	}
	data = s.mem[s.pos : s.pos+length]
	s.pos += length
	return code, offset, data, nil
}

// next returns the next record; io.EOF marks the end of the stream.
func (s *recordStream) next() (*record, error) {
	code, offset, data, err := s.rawNext()
	if err != nil {
		return nil, err
	}
	rec := &record{code: code, offset: offset, data: data}
	for {
		save := s.pos
		c, _, d, err := s.rawNext()
		if err != nil || c != recContinue {
			s.pos = save
			return rec, nil
		}
		rec.cont = append(rec.cont, d)
	}
}

// expectBOF reads a BOF record and checks the BIFF version and substream
// type.
func (s *recordStream) expectBOF(streamType uint16) error {
	rec, err := s.next()
	if err == io.EOF {
		return xerrors.New("expected BOF record; met end of file")
	}
	if err != nil {
		return err
	}
	if rec.code != recBOF {
		return xerrors.Errorf("expected BOF record; found %s at %d", RecordName(rec.code), rec.offset)
	}
	if len(rec.data) < 4 {
		return xerrors.Errorf("invalid length (%d) for BOF record", len(rec.data))
	}
	vers := binary.LittleEndian.Uint16(rec.data)
	dt := binary.LittleEndian.Uint16(rec.data[2:])
	if vers != biff8Version {
		return xerrors.Errorf("BIFF version 0x%04x is not supported", vers)
	}
	if dt != streamType {
		return xerrors.Errorf("BOF not workbook/worksheet: strm=0x%04x, want 0x%04x", dt, streamType)
	}
	return nil
}

// DumpRecords writes each BIFF record of a workbook stream in char & hex
// format. With unnumbered set, offsets are omitted so dumps diff cleanly.
func DumpRecords(w io.Writer, stream []byte, unnumbered bool) error {
	s := &recordStream{mem: stream}
	for {
		code, offset, data, err := s.rawNext()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if unnumbered {
			fmt.Fprintf(w, "%04x %s len = %04x (%d)\n", code, RecordName(code), len(data), len(data))
		} else {
			fmt.Fprintf(w, "%8d %04x %s len = %04x (%d)\n", offset, code, RecordName(code), len(data), len(data))
		}
		HexCharDump(data, 0, len(data), offset+4, w, unnumbered)
	}
}

// CountRecords writes "name count" lines for the record types of a
// workbook stream, sorted by name.
func CountRecords(w io.Writer, stream []byte) error {
	counts := map[string]int{}
	s := &recordStream{mem: stream}
	for {
		code, _, _, err := s.rawNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		counts[RecordName(code)]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%8d %s\n", counts[name], name)
	}
	return nil
}
