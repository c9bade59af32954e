package xlfmla

import (
	"encoding/binary"
	"errors"
	"math"
	"unicode/utf16"

	"golang.org/x/text/encoding/charmap"
)

// errShortRead marks a read past the end of the current window.
var errShortRead = errors.New("short read")

// byteReader is a bounds-checked little-endian cursor over an owned slice.
// The first failure is sticky; callers check err once per token.
type byteReader struct {
	data []byte
	pos  int
	err  error
}

func (r *byteReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = errShortRead
		return false
	}
	return true
}

func (r *byteReader) u8() byte {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *byteReader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *byteReader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *byteReader) f64() float64 {
	if !r.need(8) {
		return 0
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.data[r.pos:]))
	r.pos += 8
	return v
}

func (r *byteReader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+n])
	r.pos += n
	return out
}

// unicode reads the flags byte and nchars characters of a BIFF8 string
// whose length prefix has already been consumed. It reports whether the
// characters were stored as UTF-16LE.
func (r *byteReader) unicode(nchars int) (string, bool) {
	options := r.u8()
	if r.err != nil {
		return "", false
	}
	if options&^0x01 != 0 {
		r.err = errBadStringFlags
		return "", false
	}
	if options&0x01 != 0 {
		raw := r.bytes(2 * nchars)
		if r.err != nil {
			return "", false
		}
		words := make([]uint16, nchars)
		for i := range words {
			words[i] = binary.LittleEndian.Uint16(raw[i*2:])
		}
		if !pairedSurrogates(words) {
			r.err = errUnpairedSurrogate
			return "", false
		}
		return string(utf16.Decode(words)), true
	}
	raw := r.bytes(nchars)
	if r.err != nil {
		return "", false
	}
	utf8Bytes, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		r.err = err
		return "", false
	}
	return string(utf8Bytes), false
}

var (
	errBadStringFlags    = errors.New("unsupported string option flags")
	errUnpairedSurrogate = errors.New("unpaired UTF-16 surrogate")
)

// byteWriter accumulates little-endian fields.
type byteWriter struct {
	buf []byte
}

func (w *byteWriter) u8(v byte) {
	w.buf = append(w.buf, v)
}

func (w *byteWriter) u16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *byteWriter) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *byteWriter) f64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *byteWriter) raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// unicode writes the flags byte and the characters of s. The length prefix
// is written by the caller, using unicodeLen.
func (w *byteWriter) unicode(s string, wide bool) {
	if !wide {
		if latin1, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s)); err == nil {
			w.u8(0)
			w.raw(latin1)
			return
		}
	}
	w.u8(1)
	for _, u := range utf16.Encode([]rune(s)) {
		w.u16(u)
	}
}

// pairedSurrogates reports whether every UTF-16 surrogate in words is
// part of a high/low pair, so the string survives re-encoding.
func pairedSurrogates(words []uint16) bool {
	for i := 0; i < len(words); i++ {
		switch w := words[i]; {
		case w >= 0xD800 && w < 0xDC00:
			if i+1 >= len(words) || words[i+1] < 0xDC00 || words[i+1] > 0xDFFF {
				return false
			}
			i++
		case w >= 0xDC00 && w <= 0xDFFF:
			return false
		}
	}
	return true
}

// unicodeLen is the character count stored in the length prefix and
// whether the string will be written as UTF-16.
func unicodeLen(s string, wide bool) (int, bool) {
	if !wide && isLatin1(s) {
		return len([]rune(s)), false
	}
	return len(utf16.Encode([]rune(s))), true
}

func isLatin1(s string) bool {
	for _, r := range s {
		if r > 0xFF {
			return false
		}
	}
	return true
}
