package xlfmla

import "math"

func dateFuncs() map[string]implEntry {
	return map[string]implEntry{
		"DATE":      {impl: dateFunc},
		"TIME":      {impl: timeFunc},
		"YEAR":      {impl: datePart(func(y, m, d int) int { return y })},
		"MONTH":     {impl: datePart(func(y, m, d int) int { return m })},
		"DAY":       {impl: datePart(func(y, m, d int) int { return d })},
		"HOUR":      {impl: timePart(func(secs int) int { return secs / 3600 })},
		"MINUTE":    {impl: timePart(func(secs int) int { return secs / 60 % 60 })},
		"SECOND":    {impl: timePart(func(secs int) int { return secs % 60 })},
		"WEEKDAY":   {impl: weekdayFunc},
		"NOW":       {impl: nowFunc(false)},
		"TODAY":     {impl: nowFunc(true)},
		"DAYS360":   {impl: days360Func},
		"DATEVALUE": {impl: dateValueFunc(true)},
		"TIMEVALUE": {impl: dateValueFunc(false)},
	}
}

func dateFunc(c *Call, args []Operand) Operand {
	y, errv := c.integer(args[0])
	if errv != nil {
		return errv
	}
	m, errv := c.integer(args[1])
	if errv != nil {
		return errv
	}
	d, errv := c.integer(args[2])
	if errv != nil {
		return errv
	}
	if y < 0 || y >= 10000 {
		return NumericOverflow
	}
	if y < 1900 {
		y += 1900
	}
	days, ok := serialFromDate(y, m, d, c.Options().Datemode)
	if !ok {
		return NumericOverflow
	}
	return Number(days)
}

func timeFunc(c *Call, args []Operand) Operand {
	var parts [3]int
	for i := range parts {
		n, errv := c.integer(args[i])
		if errv != nil {
			return errv
		}
		parts[i] = n
	}
	secs := parts[0]*3600 + parts[1]*60 + parts[2]
	if secs < 0 {
		return NumericOverflow
	}
	return Number(float64(secs%86400) / 86400)
}

// serialArg reads a serial date-time argument; text is parsed as a date.
func (c *Call) serialArg(op Operand) (float64, Value) {
	x, errv := c.number(op)
	if errv != nil {
		return 0, errv
	}
	if x < 0 || x >= float64(maxSerial(c.Options().Datemode)) {
		return 0, NumericOverflow
	}
	return x, nil
}

func datePart(pick func(y, m, d int) int) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		x, errv := c.serialArg(args[0])
		if errv != nil {
			return errv
		}
		days, _ := splitSerial(x)
		return Number(pick(dateFromSerial(days, c.Options().Datemode)))
	}
}

func timePart(pick func(secs int) int) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		x, errv := c.serialArg(args[0])
		if errv != nil {
			return errv
		}
		_, secs := splitSerial(x)
		return Number(pick(secs))
	}
}

// weekdayFunc numbers days the way the 1900 system does, where day 1 is a
// Sunday.
func weekdayFunc(c *Call, args []Operand) Operand {
	x, errv := c.serialArg(args[0])
	if errv != nil {
		return errv
	}
	kind, errv := c.optInteger(args, 1, 1)
	if errv != nil {
		return errv
	}
	days, _ := splitSerial(x)
	if c.Options().Datemode == 1 {
		days += 1462
	}
	switch kind {
	case 1:
		return Number((days+6)%7 + 1)
	case 2:
		return Number((days+5)%7 + 1)
	case 3:
		return Number((days + 5) % 7)
	}
	return NumericOverflow
}

func nowFunc(dateOnly bool) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		x, ok := serialFromTime(c.Options().Clock(), c.Options().Datemode)
		if !ok {
			return NumericOverflow
		}
		if dateOnly {
			x = math.Floor(x)
		}
		return Number(x)
	}
}

func isLastOfFebruary(y, m, d int) bool {
	if m != 2 {
		return false
	}
	leap := y%4 == 0 && (y%100 != 0 || y%400 == 0)
	return (leap && d == 29) || (!leap && d == 28)
}

// days360Func counts days on a 360-day year, by the US (NASD) method or,
// when the third argument is TRUE, the European one.
func days360Func(c *Call, args []Operand) Operand {
	x1, errv := c.serialArg(args[0])
	if errv != nil {
		return errv
	}
	x2, errv := c.serialArg(args[1])
	if errv != nil {
		return errv
	}
	european := false
	if len(args) > 2 {
		if _, missing := args[2].(missingArg); !missing {
			if european, errv = c.boolean(args[2]); errv != nil {
				return errv
			}
		}
	}
	mode := c.Options().Datemode
	d1days, _ := splitSerial(x1)
	d2days, _ := splitSerial(x2)
	y1, m1, d1 := dateFromSerial(d1days, mode)
	y2, m2, d2 := dateFromSerial(d2days, mode)
	if european {
		d1, d2 = min(d1, 30), min(d2, 30)
	} else {
		if isLastOfFebruary(y1, m1, d1) {
			if isLastOfFebruary(y2, m2, d2) {
				d2 = 30
			}
			d1 = 30
		}
		if d2 == 31 && d1 >= 30 {
			d2 = 30
		}
		d1 = min(d1, 30)
	}
	return Number((y2-y1)*360 + (m2-m1)*30 + d2 - d1)
}

func dateValueFunc(date bool) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		v := c.scalar(args[0])
		if e, ok := v.(ErrorCode); ok {
			return e
		}
		t, ok := v.(Text)
		if !ok {
			return InvalidValue
		}
		x, ok := parseDateTextMode(string(t), c.Options().Datemode)
		if !ok {
			return InvalidValue
		}
		days, secs := splitSerial(x)
		if date {
			return Number(days)
		}
		return Number(float64(secs) / 86400)
	}
}
