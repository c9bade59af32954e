package xlfmla

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/language"
)

// maxTextLen is the longest text a cell can hold.
const maxTextLen = 32767

func textFuncs() map[string]implEntry {
	return map[string]implEntry{
		"LEN":         {impl: lenFunc},
		"LEFT":        {impl: leftRight(true)},
		"RIGHT":       {impl: leftRight(false)},
		"MID":         {impl: midFunc},
		"UPPER":       {impl: textMap(func(s string) string { return cases.Upper(language.Und).String(s) })},
		"LOWER":       {impl: textMap(func(s string) string { return cases.Lower(language.Und).String(s) })},
		"PROPER":      {impl: textMap(proper)},
		"TRIM":        {impl: textMap(trimSpaces)},
		"CLEAN":       {impl: textMap(clean)},
		"CONCATENATE": {impl: concatenateFunc},
		"REPT":        {impl: reptFunc},
		"EXACT":       {impl: exactFunc},
		"FIND":        {impl: findFunc(false)},
		"SEARCH":      {impl: findFunc(true)},
		"REPLACE":     {impl: replaceFunc},
		"SUBSTITUTE":  {impl: substituteFunc},
		"CODE":        {impl: codeFunc},
		"CHAR":        {impl: charFunc},
		"VALUE":       {impl: valueFunc},
		"FIXED":       {impl: fixedFunc},
		"DOLLAR":      {impl: dollarFunc},
		"ROMAN":       {impl: romanFunc},
		"TEXT":        {impl: textFunc},
	}
}

func textMap(fn func(string) string) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		s, errv := c.text(args[0])
		if errv != nil {
			return errv
		}
		return Text(fn(s))
	}
}

// proper capitalizes every letter that follows a non-letter.
func proper(s string) string {
	rs := []rune(cases.Lower(language.Und).String(s))
	prevLetter := false
	for i, r := range rs {
		if unicode.IsLetter(r) {
			if !prevLetter {
				rs[i] = unicode.ToTitle(r)
			}
			prevLetter = true
		} else {
			prevLetter = false
		}
	}
	return string(rs)
}

// trimSpaces drops leading and trailing spaces and collapses inner runs to
// one. Tabs and other whitespace are kept.
func trimSpaces(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == ' ' }), " ")
}

func clean(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 {
			return -1
		}
		return r
	}, s)
}

func lenFunc(c *Call, args []Operand) Operand {
	s, errv := c.text(args[0])
	if errv != nil {
		return errv
	}
	return Number(len([]rune(s)))
}

func leftRight(left bool) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		s, errv := c.text(args[0])
		if errv != nil {
			return errv
		}
		n, errv := c.optInteger(args, 1, 1)
		if errv != nil {
			return errv
		}
		if n < 0 {
			return InvalidValue
		}
		rs := []rune(s)
		n = min(n, len(rs))
		if left {
			return Text(rs[:n])
		}
		return Text(rs[len(rs)-n:])
	}
}

func midFunc(c *Call, args []Operand) Operand {
	s, errv := c.text(args[0])
	if errv != nil {
		return errv
	}
	start, errv := c.integer(args[1])
	if errv != nil {
		return errv
	}
	n, errv := c.integer(args[2])
	if errv != nil {
		return errv
	}
	if start < 1 || n < 0 {
		return InvalidValue
	}
	rs := []rune(s)
	if start > len(rs) {
		return Text("")
	}
	end := min(len(rs), start-1+n)
	return Text(rs[start-1 : end])
}

func concatenateFunc(c *Call, args []Operand) Operand {
	var b strings.Builder
	for _, a := range args {
		s, errv := c.text(a)
		if errv != nil {
			return errv
		}
		b.WriteString(s)
	}
	return Text(b.String())
}

func reptFunc(c *Call, args []Operand) Operand {
	s, errv := c.text(args[0])
	if errv != nil {
		return errv
	}
	n, errv := c.integer(args[1])
	if errv != nil {
		return errv
	}
	if n < 0 || len(s)*n > maxTextLen {
		return InvalidValue
	}
	return Text(strings.Repeat(s, n))
}

func exactFunc(c *Call, args []Operand) Operand {
	a, errv := c.text(args[0])
	if errv != nil {
		return errv
	}
	b, errv := c.text(args[1])
	if errv != nil {
		return errv
	}
	return Boolean(a == b)
}

// findFunc is FIND (case-sensitive) or SEARCH (case-insensitive with
// wildcards). Positions are 1-based characters.
func findFunc(search bool) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		needle, errv := c.text(args[0])
		if errv != nil {
			return errv
		}
		hay, errv := c.text(args[1])
		if errv != nil {
			return errv
		}
		start, errv := c.optInteger(args, 2, 1)
		if errv != nil {
			return errv
		}
		rs := []rune(hay)
		if start < 1 || start > len(rs)+1 {
			return InvalidValue
		}
		if needle == "" {
			return Number(start)
		}
		if !search {
			if i := strings.Index(string(rs[start-1:]), needle); i >= 0 {
				return Number(start + len([]rune(string(rs[start-1:])[:i])))
			}
			return InvalidValue
		}
		re := wildcardRegexp(needle + "*")
		for i := start - 1; i < len(rs); i++ {
			if re.MatchString(string(rs[i:])) {
				return Number(i + 1)
			}
		}
		return InvalidValue
	}
}

func replaceFunc(c *Call, args []Operand) Operand {
	s, errv := c.text(args[0])
	if errv != nil {
		return errv
	}
	start, errv := c.integer(args[1])
	if errv != nil {
		return errv
	}
	n, errv := c.integer(args[2])
	if errv != nil {
		return errv
	}
	repl, errv := c.text(args[3])
	if errv != nil {
		return errv
	}
	if start < 1 || n < 0 {
		return InvalidValue
	}
	rs := []rune(s)
	from := min(start-1, len(rs))
	to := min(from+n, len(rs))
	return Text(string(rs[:from]) + repl + string(rs[to:]))
}

func substituteFunc(c *Call, args []Operand) Operand {
	s, errv := c.text(args[0])
	if errv != nil {
		return errv
	}
	old, errv := c.text(args[1])
	if errv != nil {
		return errv
	}
	repl, errv := c.text(args[2])
	if errv != nil {
		return errv
	}
	if old == "" {
		return Text(s)
	}
	if len(args) < 4 {
		return Text(strings.ReplaceAll(s, old, repl))
	}
	nth, errv := c.integer(args[3])
	if errv != nil {
		return errv
	}
	if nth < 1 {
		return InvalidValue
	}
	idx := 0
	for i := 1; ; i++ {
		j := strings.Index(s[idx:], old)
		if j < 0 {
			return Text(s)
		}
		if i == nth {
			at := idx + j
			return Text(s[:at] + repl + s[at+len(old):])
		}
		idx += j + len(old)
	}
}

// codeFunc and charFunc use the Windows-1252 code page, as Excel on
// Windows does.
func codeFunc(c *Call, args []Operand) Operand {
	s, errv := c.text(args[0])
	if errv != nil {
		return errv
	}
	if s == "" {
		return InvalidValue
	}
	r := []rune(s)[0]
	if b, ok := charmap.Windows1252.EncodeRune(r); ok {
		return Number(b)
	}
	return Number('?')
}

func charFunc(c *Call, args []Operand) Operand {
	n, errv := c.integer(args[0])
	if errv != nil {
		return errv
	}
	if n < 1 || n > 255 {
		return InvalidValue
	}
	return Text(string(charmap.Windows1252.DecodeByte(byte(n))))
}

func valueFunc(c *Call, args []Operand) Operand {
	switch v := c.scalar(args[0]).(type) {
	case Number:
		return v
	case ErrorCode:
		return v
	case Blank:
		return Number(0)
	case Text:
		if n, ok := parseNumberText(string(v)); ok {
			return Number(n)
		}
	}
	return InvalidValue
}

// groupThousands inserts commas into the integer part of a decimal string.
func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var b strings.Builder
	for i, ch := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}
	out := b.String() + frac
	if neg {
		return "-" + out
	}
	return out
}

func formatFixed(x float64, decimals int, commas bool) string {
	x = roundDigits(x, decimals, math.Round)
	s := strconv.FormatFloat(x, 'f', max(decimals, 0), 64)
	if s == "-0" || strings.Trim(s, "-0.") == "" {
		s = strings.TrimPrefix(s, "-")
	}
	if commas {
		s = groupThousands(s)
	}
	return s
}

func fixedFunc(c *Call, args []Operand) Operand {
	x, errv := c.number(args[0])
	if errv != nil {
		return errv
	}
	d, errv := c.optInteger(args, 1, 2)
	if errv != nil {
		return errv
	}
	noCommas := false
	if len(args) > 2 {
		if _, missing := args[2].(missingArg); !missing {
			if noCommas, errv = c.boolean(args[2]); errv != nil {
				return errv
			}
		}
	}
	if d > 127 {
		return InvalidValue
	}
	return Text(formatFixed(x, d, !noCommas))
}

func dollarFunc(c *Call, args []Operand) Operand {
	x, errv := c.number(args[0])
	if errv != nil {
		return errv
	}
	d, errv := c.optInteger(args, 1, 2)
	if errv != nil {
		return errv
	}
	if d > 127 {
		return InvalidValue
	}
	s := formatFixed(math.Abs(x), d, true)
	if x < 0 && strings.Trim(s, "0.,") != "" {
		return Text("($" + s + ")")
	}
	return Text("$" + s)
}

// textFunc formats a value with a number format. Text that does not read
// as a number is returned unchanged.
func textFunc(c *Call, args []Operand) Operand {
	v := c.scalar(args[0])
	if e, ok := v.(ErrorCode); ok {
		return e
	}
	format, errv := c.text(args[1])
	if errv != nil {
		return errv
	}
	var x float64
	switch t := v.(type) {
	case Number:
		x = float64(t)
	case Boolean:
		return Text(t.String())
	case Text:
		n, ok := parseNumberText(string(t))
		if !ok || format == "@" {
			return t
		}
		x = n
	}
	if format == "@" {
		return Text(formatNumber(x))
	}
	s, ok := applyNumberFormat(x, format, c.Options().Datemode)
	if !ok {
		return InvalidValue
	}
	return Text(s)
}

var romanDigits = []struct {
	n int
	s string
}{
	{1000, "M"}, {900, "CM"}, {500, "D"}, {400, "CD"}, {100, "C"}, {90, "XC"},
	{50, "L"}, {40, "XL"}, {10, "X"}, {9, "IX"}, {5, "V"}, {4, "IV"}, {1, "I"},
}

// romanFunc writes the classic form; the concise forms are not supported
// and fall back to it.
func romanFunc(c *Call, args []Operand) Operand {
	n, errv := c.integer(args[0])
	if errv != nil {
		return errv
	}
	if n < 0 || n > 3999 {
		return InvalidValue
	}
	var b strings.Builder
	for _, d := range romanDigits {
		for n >= d.n {
			b.WriteString(d.s)
			n -= d.n
		}
	}
	return Text(b.String())
}
