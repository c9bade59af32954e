package xlfmla

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/davecgh/go-spew/spew"
)

// Codec reads and writes BIFF token arrays.
type Codec struct {
	// Format selects sizes and limits; nil means BIFF8.
	Format *Format
	// Logfile receives traces when Verbosity >= 2; nil discards them.
	Logfile   io.Writer
	Verbosity int
}

func (c *Codec) format() *Format {
	if c == nil || c.Format == nil {
		return BIFF8
	}
	return c.Format
}

func (c *Codec) logfile() io.Writer {
	if c == nil || c.Logfile == nil {
		return io.Discard
	}
	return c.Logfile
}

func (c *Codec) verbosity() int {
	if c == nil {
		return 0
	}
	return c.Verbosity
}

type decodeFunc func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error)

var (
	decoderOnce sync.Once
	decoderMap  map[byte]decodeFunc
)

func decoders() map[byte]decodeFunc {
	decoderOnce.Do(func() {
		decoderMap = map[byte]decodeFunc{
			0x01: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				return ExpPtg{Row: r.u16(), Col: r.u16()}, nil
			},
			0x02: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				return TblPtg{Row: r.u16(), Col: r.u16()}, nil
			},
			0x15: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) { return ParenPtg{}, nil },
			0x16: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) { return MissArgPtg{}, nil },
			0x17: decodeStr,
			0x19: decodeAttr,
			0x1C: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				code := ErrorCode(r.u8())
				if r.err == nil && !code.Valid() {
					return nil, NewCodecError(MalformedToken, 0x1C, pos, "error code 0x%02x", byte(code))
				}
				return ErrPtg{Code: code}, nil
			},
			0x1D: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				v := r.u8()
				if v > 1 {
					return nil, NewCodecError(MalformedToken, 0x1D, pos, "boolean value %d", v)
				}
				return BoolPtg{Value: v == 1}, nil
			},
			0x1E: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				return IntPtg{Value: r.u16()}, nil
			},
			0x1F: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				v := r.f64()
				if r.err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
					return nil, NewCodecError(MalformedToken, 0x1F, pos, "number %v is not finite", v)
				}
				return NumPtg{Value: v}, nil
			},
			0x20: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				p := ArrayPtg{Cls: cls}
				copy(p.Reserved[:], r.bytes(7))
				return p, nil
			},
			0x21: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				return FuncPtg{Cls: cls, Index: r.u16()}, nil
			},
			0x22: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				argc := r.u8()
				index := r.u16()
				return FuncVarPtg{Cls: cls, Argc: argc & 0x7F, Prompt: argc&0x80 != 0, Index: index & 0x7FFF, CE: index&0x8000 != 0}, nil
			},
			0x23: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				return NamePtg{Cls: cls, Index: r.u16(), Reserved: r.u16()}, nil
			},
			0x24: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				p := RefPtg{Cls: cls, Row: r.u16(), Col: ColField(r.u16())}
				return p, checkCell(f, 0x24, pos, int(p.Row), p.Col)
			},
			0x25: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				p := AreaPtg{Cls: cls, FirstRow: r.u16(), LastRow: r.u16(), FirstCol: ColField(r.u16()), LastCol: ColField(r.u16())}
				if err := checkCell(f, 0x25, pos, int(p.FirstRow), p.FirstCol); err != nil {
					return nil, err
				}
				return p, checkCell(f, 0x25, pos, int(p.LastRow), p.LastCol)
			},
			0x26: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				return MemAreaPtg{Cls: cls, Reserved: r.u32(), Len: r.u16()}, nil
			},
			0x27: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				return MemErrPtg{Cls: cls, Reserved: r.u32(), Len: r.u16()}, nil
			},
			0x28: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				return MemNoMemPtg{Cls: cls, Reserved: r.u32(), Len: r.u16()}, nil
			},
			0x29: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				return MemFuncPtg{Cls: cls, Len: r.u16()}, nil
			},
			0x2A: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				p := RefErrPtg{Cls: cls}
				copy(p.Reserved[:], r.bytes(4))
				return p, nil
			},
			0x2B: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				p := AreaErrPtg{Cls: cls}
				copy(p.Reserved[:], r.bytes(8))
				return p, nil
			},
			0x2C: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				p := RefNPtg{Cls: cls, Row: r.u16(), Col: ColField(r.u16())}
				return p, checkRelCell(f, 0x2C, pos, p.Row, p.Col)
			},
			0x2D: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				p := AreaNPtg{Cls: cls, FirstRow: r.u16(), LastRow: r.u16(), FirstCol: ColField(r.u16()), LastCol: ColField(r.u16())}
				if err := checkRelCell(f, 0x2D, pos, p.FirstRow, p.FirstCol); err != nil {
					return nil, err
				}
				return p, checkRelCell(f, 0x2D, pos, p.LastRow, p.LastCol)
			},
			0x2E: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				return MemAreaNPtg{Cls: cls, Len: r.u16()}, nil
			},
			0x2F: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				return MemNoMemNPtg{Cls: cls, Len: r.u16()}, nil
			},
			0x39: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				return NameXPtg{Cls: cls, Ixti: r.u16(), Index: r.u16(), Reserved: r.u16()}, nil
			},
			0x3A: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				p := Ref3dPtg{Cls: cls, Ixti: r.u16(), Row: r.u16(), Col: ColField(r.u16())}
				return p, checkCell(f, 0x3A, pos, int(p.Row), p.Col)
			},
			0x3B: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				p := Area3dPtg{Cls: cls, Ixti: r.u16(), FirstRow: r.u16(), LastRow: r.u16(), FirstCol: ColField(r.u16()), LastCol: ColField(r.u16())}
				if err := checkCell(f, 0x3B, pos, int(p.FirstRow), p.FirstCol); err != nil {
					return nil, err
				}
				return p, checkCell(f, 0x3B, pos, int(p.LastRow), p.LastCol)
			},
			0x3C: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				p := RefErr3dPtg{Cls: cls, Ixti: r.u16()}
				copy(p.Reserved[:], r.bytes(4))
				return p, nil
			},
			0x3D: func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				p := AreaErr3dPtg{Cls: cls, Ixti: r.u16()}
				copy(p.Reserved[:], r.bytes(8))
				return p, nil
			},
		}
		for op := byte(0x03); op <= 0x14; op++ {
			decoderMap[op] = func(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
				return OperatorPtg{Op: r.data[pos]}, nil
			}
		}
	})
	return decoderMap
}

func decodeStr(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
	nchars := int(r.u8())
	s, wide := r.unicode(nchars)
	return StrPtg{Value: s, Wide: wide}, nil
}

func decodeAttr(f *Format, r *byteReader, cls OperandClass, pos int) (Ptg, error) {
	p := AttrPtg{Flags: r.u8(), Data: r.u16()}
	if p.Flags&AttrChoose != 0 && r.err == nil {
		p.Jumps = make([]uint16, int(p.Data)+1)
		for i := range p.Jumps {
			p.Jumps[i] = r.u16()
		}
	}
	return p, nil
}

func checkCell(f *Format, base byte, pos, row int, col ColField) error {
	if !f.rowOK(row) {
		return NewCodecError(MalformedToken, base, pos, "row %d out of range", row)
	}
	if !f.colOK(col.Index()) {
		return NewCodecError(MalformedToken, base, pos, "column %d out of range", col.Index())
	}
	return nil
}

// checkRelCell only bounds the absolute parts of an N-kind address.
func checkRelCell(f *Format, base byte, pos int, row uint16, col ColField) error {
	if !col.RowRelative() && !f.rowOK(int(row)) {
		return NewCodecError(MalformedToken, base, pos, "row %d out of range", row)
	}
	if !col.ColRelative() && !f.colOK(col.Index()) {
		return NewCodecError(MalformedToken, base, pos, "column %d out of range", col.Index())
	}
	return nil
}

// Decode reads tokens until exactly declaredLen bytes are consumed, then
// reads the trailing array constants and memory-area lists that follow the
// token array. It returns the total number of bytes used.
func (c *Codec) Decode(data []byte, declaredLen int) ([]Ptg, int, error) {
	f := c.format()
	if declaredLen < 0 || declaredLen > len(data) {
		return nil, 0, NewCodecError(TruncatedOrOverlong, 0, 0, "declared length %d, buffer holds %d bytes", declaredLen, len(data))
	}
	r := &byteReader{data: data[:declaredLen]}
	var ptgs []Ptg
	for r.pos < declaredLen {
		pos := r.pos
		op := r.u8()
		base, cls := splitOpcode(op)
		dec := decoders()[base]
		if op >= 0x80 || dec == nil || !f.supports(base) {
			return nil, 0, NewCodecError(UnknownToken, op, pos, "opcode 0x%02x", op)
		}
		p, err := dec(f, r, cls, pos)
		if errors.Is(r.err, errShortRead) {
			return nil, 0, NewCodecError(TruncatedOrOverlong, op, pos, "%s crosses the declared end %d", OpcodeName(op), declaredLen)
		}
		if r.err != nil {
			return nil, 0, NewCodecError(MalformedToken, op, pos, "%s: %v", OpcodeName(op), r.err)
		}
		if err != nil {
			return nil, 0, err
		}
		if sz := f.Sizes[base]; sz > 0 && sz != r.pos-pos {
			return nil, 0, NewCodecError(MalformedToken, op, pos, "%s is %d bytes in %s, read %d", OpcodeName(op), sz, f.Name, r.pos-pos)
		}
		if c.verbosity() >= 2 {
			fmt.Fprintf(c.logfile(), "Pos:%d Op:0x%02x Name:%s Sz:%d\n", pos, op, OpcodeName(op), r.pos-pos)
			HexCharDump(data, pos, r.pos-pos, pos, c.logfile(), false)
		}
		ptgs = append(ptgs, p)
	}

	tr := &byteReader{data: data, pos: declaredLen}
	for i, p := range ptgs {
		switch t := p.(type) {
		case ArrayPtg:
			ptgs[i] = decodeArrayData(tr, t)
		case MemAreaPtg:
			n := int(tr.u16())
			for j := 0; j < n && tr.err == nil; j++ {
				t.Rects = append(t.Rects, MemRect{FirstRow: tr.u16(), LastRow: tr.u16(), FirstCol: tr.u16(), LastCol: tr.u16()})
			}
			ptgs[i] = t
		default:
			continue
		}
		if errors.Is(tr.err, errShortRead) {
			return nil, 0, NewCodecError(TruncatedOrOverlong, PhysicalOpcode(p), tr.pos, "trailing data of token %d is truncated", i)
		}
		if tr.err != nil {
			return nil, 0, NewCodecError(MalformedToken, PhysicalOpcode(p), tr.pos, "trailing data of token %d: %v", i, tr.err)
		}
	}
	return ptgs, tr.pos, nil
}

var errBadArrayValue = errors.New("unknown array value type")

func decodeArrayData(r *byteReader, p ArrayPtg) ArrayPtg {
	p.Cols = int(r.u8()) + 1
	p.Rows = int(r.u16()) + 1
	if r.err != nil {
		return p
	}
	n := p.Rows * p.Cols
	p.Values = make([]Value, 0, n)
	var wide []bool
	for i := 0; i < n && r.err == nil; i++ {
		typ := r.u8()
		w := false
		switch typ {
		case 0x00:
			r.bytes(8)
			p.Values = append(p.Values, Blank{})
		case 0x01:
			p.Values = append(p.Values, Number(r.f64()))
		case 0x02:
			var s string
			s, w = r.unicode(int(r.u16()))
			p.Values = append(p.Values, Text(s))
		case 0x04:
			v := r.u8()
			r.bytes(7)
			p.Values = append(p.Values, Boolean(v != 0))
		case 0x10:
			v := r.u8()
			r.bytes(7)
			p.Values = append(p.Values, ErrorCode(v))
		default:
			if r.err == nil {
				r.err = errBadArrayValue
			}
		}
		if w && wide == nil {
			wide = make([]bool, n)
		}
		if w {
			wide[i] = true
		}
	}
	p.Wide = wide
	return p
}

// Encode writes the token array followed by the trailing data of array
// constants and memory areas.
func (c *Codec) Encode(ptgs []Ptg) ([]byte, error) {
	f := c.format()
	w := &byteWriter{}
	trail := &byteWriter{}
	for i, p := range ptgs {
		pos := len(w.buf)
		if p == nil {
			return nil, NewCodecError(MalformedToken, 0, pos, "token %d is nil", i)
		}
		if err := encodePtg(f, w, trail, p, pos); err != nil {
			return nil, err
		}
		if c.verbosity() >= 2 {
			op := PhysicalOpcode(p)
			fmt.Fprintf(c.logfile(), "Pos:%d Op:0x%02x Name:%s Sz:%d\n", pos, op, OpcodeName(op), len(w.buf)-pos)
		}
	}
	return append(w.buf, trail.buf...), nil
}

func checkClass(p Ptg, pos int) error {
	cls := p.Class()
	if cls == ClassNone || cls > ClassArray {
		return NewCodecError(MalformedToken, p.Opcode(), pos, "%T needs an operand class, got %d", p, cls)
	}
	return nil
}

func checkWriteCell(f *Format, p Ptg, pos, row int, col ColField) error {
	if !f.rowOK(row) || !f.colOK(col.Index()) {
		return NewCodecError(MalformedToken, p.Opcode(), pos, "cell %d,%d out of range", row, col.Index())
	}
	return nil
}

func encodePtg(f *Format, w, trail *byteWriter, p Ptg, pos int) error {
	if p.Opcode() >= 0x20 {
		if err := checkClass(p, pos); err != nil {
			return err
		}
	}
	if !f.supports(p.Opcode()) {
		return NewCodecError(UnknownToken, p.Opcode(), pos, "%s is not part of %s", ptgName(p), f.Name)
	}
	w.u8(PhysicalOpcode(p))
	switch t := p.(type) {
	case ExpPtg:
		w.u16(t.Row)
		w.u16(t.Col)
	case TblPtg:
		w.u16(t.Row)
		w.u16(t.Col)
	case OperatorPtg:
		if t.Op < OpAdd || t.Op > OpPercent {
			return NewCodecError(MalformedToken, t.Op, pos, "operator 0x%02x", t.Op)
		}
	case ParenPtg, MissArgPtg:
	case StrPtg:
		n, wide := unicodeLen(t.Value, t.Wide)
		if n > f.MaxStringLen {
			return NewCodecError(MalformedToken, t.Opcode(), pos, "string of %d characters exceeds %d", n, f.MaxStringLen)
		}
		w.u8(byte(n))
		w.unicode(t.Value, wide)
	case AttrPtg:
		choose := t.Flags&AttrChoose != 0
		if choose && len(t.Jumps) != int(t.Data)+1 {
			return NewCodecError(MalformedToken, t.Opcode(), pos, "choose table has %d jumps for %d options", len(t.Jumps), t.Data)
		}
		if !choose && len(t.Jumps) > 0 {
			return NewCodecError(MalformedToken, t.Opcode(), pos, "jump table without the choose flag")
		}
		w.u8(t.Flags)
		w.u16(t.Data)
		for _, j := range t.Jumps {
			w.u16(j)
		}
	case ErrPtg:
		if !t.Code.Valid() {
			return NewCodecError(MalformedToken, t.Opcode(), pos, "error code 0x%02x", byte(t.Code))
		}
		w.u8(byte(t.Code))
	case BoolPtg:
		if t.Value {
			w.u8(1)
		} else {
			w.u8(0)
		}
	case IntPtg:
		w.u16(t.Value)
	case NumPtg:
		if math.IsNaN(t.Value) || math.IsInf(t.Value, 0) {
			return NewCodecError(MalformedToken, 0x1F, pos, "number %v is not finite", t.Value)
		}
		w.f64(t.Value)
	case ArrayPtg:
		w.raw(t.Reserved[:])
		return encodeArrayData(f, trail, t, pos)
	case FuncPtg:
		w.u16(t.Index)
	case FuncVarPtg:
		if t.Argc > 0x7F {
			return NewCodecError(MalformedToken, t.Opcode(), pos, "argument count %d", t.Argc)
		}
		if t.Index > 0x7FFF {
			return NewCodecError(MalformedToken, t.Opcode(), pos, "function index %d", t.Index)
		}
		argc := t.Argc
		if t.Prompt {
			argc |= 0x80
		}
		index := t.Index
		if t.CE {
			index |= 0x8000
		}
		w.u8(argc)
		w.u16(index)
	case NamePtg:
		w.u16(t.Index)
		w.u16(t.Reserved)
	case RefPtg:
		if err := checkWriteCell(f, t, pos, int(t.Row), t.Col); err != nil {
			return err
		}
		w.u16(t.Row)
		w.u16(uint16(t.Col))
	case AreaPtg:
		if err := checkWriteCell(f, t, pos, int(t.FirstRow), t.FirstCol); err != nil {
			return err
		}
		if err := checkWriteCell(f, t, pos, int(t.LastRow), t.LastCol); err != nil {
			return err
		}
		w.u16(t.FirstRow)
		w.u16(t.LastRow)
		w.u16(uint16(t.FirstCol))
		w.u16(uint16(t.LastCol))
	case MemAreaPtg:
		w.u32(t.Reserved)
		w.u16(t.Len)
		trail.u16(uint16(len(t.Rects)))
		for _, m := range t.Rects {
			trail.u16(m.FirstRow)
			trail.u16(m.LastRow)
			trail.u16(m.FirstCol)
			trail.u16(m.LastCol)
		}
	case MemErrPtg:
		w.u32(t.Reserved)
		w.u16(t.Len)
	case MemNoMemPtg:
		w.u32(t.Reserved)
		w.u16(t.Len)
	case MemFuncPtg:
		w.u16(t.Len)
	case RefErrPtg:
		w.raw(t.Reserved[:])
	case AreaErrPtg:
		w.raw(t.Reserved[:])
	case RefNPtg:
		w.u16(t.Row)
		w.u16(uint16(t.Col))
	case AreaNPtg:
		w.u16(t.FirstRow)
		w.u16(t.LastRow)
		w.u16(uint16(t.FirstCol))
		w.u16(uint16(t.LastCol))
	case MemAreaNPtg:
		w.u16(t.Len)
	case MemNoMemNPtg:
		w.u16(t.Len)
	case NameXPtg:
		w.u16(t.Ixti)
		w.u16(t.Index)
		w.u16(t.Reserved)
	case Ref3dPtg:
		if err := checkWriteCell(f, t, pos, int(t.Row), t.Col); err != nil {
			return err
		}
		w.u16(t.Ixti)
		w.u16(t.Row)
		w.u16(uint16(t.Col))
	case Area3dPtg:
		if err := checkWriteCell(f, t, pos, int(t.FirstRow), t.FirstCol); err != nil {
			return err
		}
		if err := checkWriteCell(f, t, pos, int(t.LastRow), t.LastCol); err != nil {
			return err
		}
		w.u16(t.Ixti)
		w.u16(t.FirstRow)
		w.u16(t.LastRow)
		w.u16(uint16(t.FirstCol))
		w.u16(uint16(t.LastCol))
	case RefErr3dPtg:
		w.u16(t.Ixti)
		w.raw(t.Reserved[:])
	case AreaErr3dPtg:
		w.u16(t.Ixti)
		w.raw(t.Reserved[:])
	default:
		return NewCodecError(UnknownToken, p.Opcode(), pos, "unsupported token %T", p)
	}
	return nil
}

func encodeArrayData(f *Format, w *byteWriter, p ArrayPtg, pos int) error {
	if p.Rows < 1 || p.Rows > f.MaxRows || p.Cols < 1 || p.Cols > f.MaxCols || len(p.Values) != p.Rows*p.Cols {
		return NewCodecError(MalformedToken, p.Opcode(), pos, "array of %dx%d with %d values", p.Rows, p.Cols, len(p.Values))
	}
	if p.Wide != nil && len(p.Wide) != len(p.Values) {
		return NewCodecError(MalformedToken, p.Opcode(), pos, "array wide flags do not match its values")
	}
	w.u8(byte(p.Cols - 1))
	w.u16(uint16(p.Rows - 1))
	var zero [8]byte
	for i, v := range p.Values {
		switch t := v.(type) {
		case Blank:
			w.u8(0x00)
			w.raw(zero[:])
		case Number:
			w.u8(0x01)
			w.f64(float64(t))
		case Text:
			n, wide := unicodeLen(string(t), p.Wide != nil && p.Wide[i])
			if n > f.MaxStringLen {
				return NewCodecError(MalformedToken, p.Opcode(), pos, "array string of %d characters exceeds %d", n, f.MaxStringLen)
			}
			w.u8(0x02)
			w.u16(uint16(n))
			w.unicode(string(t), wide)
		case Boolean:
			w.u8(0x04)
			if t {
				w.u8(1)
			} else {
				w.u8(0)
			}
			w.raw(zero[:7])
		case ErrorCode:
			w.u8(0x10)
			w.u8(byte(t))
			w.raw(zero[:7])
		default:
			return NewCodecError(MalformedToken, p.Opcode(), pos, "array value %T", v)
		}
	}
	return nil
}

// DecodeTokens decodes a BIFF8 token array with the default codec.
func DecodeTokens(data []byte, declaredLen int) ([]Ptg, error) {
	ptgs, _, err := (&Codec{}).Decode(data, declaredLen)
	return ptgs, err
}

// EncodeTokens encodes tokens with the default codec.
func EncodeTokens(ptgs []Ptg) ([]byte, error) {
	return (&Codec{}).Encode(ptgs)
}

// TokenArrayLen is the length of the token array proper, the value a record
// stores in its formula-size field.
func TokenArrayLen(ptgs []Ptg) int {
	n := 0
	for _, p := range ptgs {
		n += p.Size()
	}
	return n
}

// ValidateTokens checks that ptgs is a well-formed postfix program leaving
// exactly one result.
func ValidateTokens(ptgs []Ptg) error {
	depth := 0
	need := func(i, n int, p Ptg) error {
		if depth < n {
			return NewEvalError(MalformedProgram, "token %d (%s) needs %d operands, stack has %d", i, p, n, depth)
		}
		return nil
	}
	for i, p := range ptgs {
		switch t := p.(type) {
		case OperatorPtg:
			if t.Op >= OpUplus {
				if err := need(i, 1, p); err != nil {
					return err
				}
				continue
			}
			if err := need(i, 2, p); err != nil {
				return err
			}
			depth--
		case ParenPtg:
			if err := need(i, 1, p); err != nil {
				return err
			}
		case AttrPtg:
			if t.Flags&AttrSum != 0 {
				if err := need(i, 1, p); err != nil {
					return err
				}
			}
		case MemAreaPtg, MemErrPtg, MemNoMemPtg, MemFuncPtg, MemAreaNPtg, MemNoMemNPtg:
		case FuncPtg:
			def := funcByIndex(int(t.Index))
			if def == nil {
				return NewEvalError(UnknownFunctionIndex, "token %d calls function %d", i, t.Index)
			}
			if err := need(i, def.MinArgs, p); err != nil {
				return err
			}
			depth += 1 - def.MinArgs
		case FuncVarPtg:
			if err := need(i, int(t.Argc), p); err != nil {
				return err
			}
			depth += 1 - int(t.Argc)
		default:
			depth++
		}
	}
	if depth != 1 {
		return NewEvalError(MalformedProgram, "program leaves %d values on the stack", depth)
	}
	return nil
}

// DumpTokens writes a structural dump of ptgs for debugging.
func DumpTokens(w io.Writer, ptgs []Ptg) {
	cfg := spew.ConfigState{Indent: "\t", DisableMethods: true, DisablePointerAddresses: true, SortKeys: true}
	for i, p := range ptgs {
		fmt.Fprintf(w, "%d: %s\n", i, p)
		cfg.Fdump(w, p)
	}
}
