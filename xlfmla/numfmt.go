package xlfmla

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// fmtToken is one piece of a number format section: literal text to copy,
// or a code such as "0", "yyyy" or "AM/PM".
type fmtToken struct {
	text    string
	literal bool
}

var dateCodeChars = map[byte]bool{'y': true, 'm': true, 'd': true, 'h': true, 's': true}

var numCodeChars = map[byte]bool{'0': true, '#': true, '?': true}

// splitFormatSections splits a format at semicolons outside quotes.
func splitFormatSections(format string) []string {
	var sections []string
	start, quoted, escaped := 0, false, false
	for i := 0; i < len(format); i++ {
		switch {
		case escaped:
			escaped = false
		case format[i] == '\\':
			escaped = true
		case format[i] == '"':
			quoted = !quoted
		case format[i] == ';' && !quoted:
			sections = append(sections, format[start:i])
			start = i + 1
		}
	}
	return append(sections, format[start:])
}

// tokenizeFormat reads one format section. Quoted text and backslash
// escapes become literals; [bracketed] color and locale codes are dropped;
// runs of one date letter form a single code.
func tokenizeFormat(sec string) []fmtToken {
	var out []fmtToken
	rs := []rune(sec)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '"':
			j := i + 1
			for j < len(rs) && rs[j] != '"' {
				j++
			}
			out = append(out, fmtToken{text: string(rs[i+1 : min(j, len(rs))]), literal: true})
			i = j
		case r == '\\' && i+1 < len(rs):
			i++
			out = append(out, fmtToken{text: string(rs[i]), literal: true})
		case r == '_' && i+1 < len(rs):
			i++
			out = append(out, fmtToken{text: " ", literal: true})
		case r == '*' && i+1 < len(rs):
			i++
		case r == '[':
			for i < len(rs) && rs[i] != ']' {
				i++
			}
		case r < 0x80 && strings.HasPrefix(strings.ToUpper(string(rs[i:])), "AM/PM"):
			out = append(out, fmtToken{text: "AM/PM"})
			i += 4
		case r < 0x80 && strings.HasPrefix(strings.ToUpper(string(rs[i:])), "A/P"):
			out = append(out, fmtToken{text: "A/P"})
			i += 2
		case r < 0x80 && dateCodeChars[byte(toLowerASCII(r))]:
			lower := toLowerASCII(r)
			j := i
			for j < len(rs) && toLowerASCII(rs[j]) == lower {
				j++
			}
			out = append(out, fmtToken{text: strings.Repeat(string(lower), j-i)})
			i = j - 1
		case r < 0x80 && (numCodeChars[byte(r)] || r == '.' || r == ',' || r == '%'):
			out = append(out, fmtToken{text: string(r)})
		default:
			out = append(out, fmtToken{text: string(r), literal: true})
		}
	}
	return out
}

func toLowerASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + 'a' - 'A'
	}
	return r
}

// isDateFormat reports whether a section shows dates or times: it has
// date codes and no digit placeholders.
func isDateFormat(tokens []fmtToken) bool {
	dates, nums := 0, 0
	for _, t := range tokens {
		switch {
		case t.literal:
		case dateCodeChars[t.text[0]] || t.text == "AM/PM" || t.text == "A/P":
			dates++
		case numCodeChars[t.text[0]]:
			nums++
		}
	}
	return dates > 0 && nums == 0
}

// applyNumberFormat renders x with a format string the way TEXT does. It
// supports General, digit placeholders with thousands separators and
// percent, literal text, up to three sections, and date and time codes.
func applyNumberFormat(x float64, format string, datemode int) (string, bool) {
	sections := splitFormatSections(format)
	sec, sign := sections[0], ""
	switch {
	case x < 0 && len(sections) > 1:
		sec, x = sections[1], -x
	case x == 0 && len(sections) > 2:
		sec = sections[2]
	case x < 0:
		sign, x = "-", -x
	}
	if strings.EqualFold(strings.TrimSpace(sec), "general") || sec == "" {
		return sign + formatNumber(x), true
	}
	tokens := tokenizeFormat(sec)
	if isDateFormat(tokens) {
		if sign != "" || x > float64(maxSerial(datemode)) {
			return "", false
		}
		return formatDateCodes(x, tokens, datemode), true
	}
	return sign + formatDigitCodes(x, tokens), true
}

// formatDigitCodes fills the digit placeholders of a numeric section.
// Literal text before and after the placeholders is kept in place.
func formatDigitCodes(x float64, tokens []fmtToken) string {
	first, last := -1, -1
	for i, t := range tokens {
		if !t.literal && (numCodeChars[t.text[0]] || t.text == ".") {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	for _, t := range tokens {
		if !t.literal && t.text == "%" {
			x *= 100
		}
	}
	var b strings.Builder
	if first < 0 {
		for _, t := range tokens {
			b.WriteString(t.text)
		}
		return b.String()
	}
	// Commas right after the last placeholder scale by 1000 each.
	end := last + 1
	for end < len(tokens) && !tokens[end].literal && tokens[end].text == "," {
		x /= 1000
		end++
	}

	var minInt, minDec, maxDec int
	point, group := false, false
	for _, t := range tokens[first : last+1] {
		switch {
		case t.literal:
		case t.text == ".":
			point = true
		case t.text == ",":
			group = group || !point
		case point:
			maxDec++
			if t.text == "0" {
				minDec++
			}
		case t.text == "0":
			minInt++
		}
	}

	digits := strconv.FormatFloat(roundDigits(x, maxDec, math.Round), 'f', maxDec, 64)
	intPart, frac := digits, ""
	if i := strings.IndexByte(digits, '.'); i >= 0 {
		intPart, frac = digits[:i], digits[i+1:]
	}
	for len(frac) > minDec && strings.HasSuffix(frac, "0") {
		frac = frac[:len(frac)-1]
	}
	if intPart == "0" && minInt == 0 {
		intPart = ""
	}
	if len(intPart) < minInt {
		intPart = strings.Repeat("0", minInt-len(intPart)) + intPart
	}
	if group && intPart != "" {
		intPart = groupThousands(intPart)
	}
	number := intPart
	if point {
		number += "." + frac
	}

	for i, t := range tokens {
		switch {
		case i == first:
			b.WriteString(number)
		case i > first && i < end:
			if t.literal {
				b.WriteString(t.text)
			}
		case t.literal || t.text == "%":
			b.WriteString(t.text)
		}
	}
	return b.String()
}

// formatDateCodes renders a serial date-time. An "m" code next to an hour
// or second code is minutes.
func formatDateCodes(x float64, tokens []fmtToken, datemode int) string {
	days, secs := splitSerial(x)
	year, month, day := dateFromSerial(days, datemode)
	hour, minute, second := secs/3600, secs/60%60, secs%60
	weekdayDays := days
	if datemode == 1 {
		weekdayDays += 1462
	}
	weekday := time.Weekday((weekdayDays + 6) % 7)

	twelve := false
	for _, t := range tokens {
		if !t.literal && (t.text == "AM/PM" || t.text == "A/P") {
			twelve = true
		}
	}
	minuteAt := map[int]bool{}
	prev := -1
	for i, t := range tokens {
		if t.literal {
			continue
		}
		switch t.text[0] {
		case 'h':
			prev = i
		case 's':
			if prev >= 0 && tokens[prev].text[0] == 'm' {
				minuteAt[prev] = true
			}
			prev = i
		case 'm':
			if prev >= 0 && tokens[prev].text[0] == 'h' {
				minuteAt[i] = true
			}
			prev = i
		case 'y', 'd':
			prev = i
		}
	}

	var b strings.Builder
	for i, t := range tokens {
		if t.literal {
			b.WriteString(t.text)
			continue
		}
		n := len(t.text)
		switch {
		case t.text == "AM/PM" || t.text == "A/P":
			mark := "AM"
			if hour >= 12 {
				mark = "PM"
			}
			if t.text == "A/P" {
				mark = mark[:1]
			}
			b.WriteString(mark)
		case t.text[0] == 'y':
			if n <= 2 {
				fmt.Fprintf(&b, "%02d", year%100)
			} else {
				fmt.Fprintf(&b, "%04d", year)
			}
		case t.text[0] == 'm' && minuteAt[i]:
			writePadded(&b, minute, n)
		case t.text[0] == 'm':
			switch {
			case n <= 2:
				writePadded(&b, month, n)
			case n == 3:
				b.WriteString(time.Month(month).String()[:3])
			case n == 4:
				b.WriteString(time.Month(month).String())
			default:
				b.WriteString(time.Month(month).String()[:1])
			}
		case t.text[0] == 'd':
			switch {
			case n <= 2:
				writePadded(&b, day, n)
			case n == 3:
				b.WriteString(weekday.String()[:3])
			default:
				b.WriteString(weekday.String())
			}
		case t.text[0] == 'h':
			h := hour
			if twelve {
				h = (hour+11)%12 + 1
			}
			writePadded(&b, h, n)
		case t.text[0] == 's':
			writePadded(&b, second, n)
		default:
			b.WriteString(t.text)
		}
	}
	return b.String()
}

func writePadded(b *strings.Builder, v, width int) {
	if width >= 2 {
		fmt.Fprintf(b, "%02d", v)
		return
	}
	b.WriteString(strconv.Itoa(v))
}
