package xlfmla

import (
	"math"
	"strconv"
	"strings"
)

// CoercionPolicy says how a function turns its arguments into numbers.
// Literal arguments and values read from cells are treated differently on
// purpose; array constants count as read from cells.
type CoercionPolicy uint16

const (
	// BoolLiteralAsNumber counts TRUE/FALSE arguments as 1/0.
	BoolLiteralAsNumber CoercionPolicy = 1 << iota
	// BoolRefAsNumber counts booleans in referenced cells as 1/0.
	BoolRefAsNumber
	// TextLiteralAsNumber parses text arguments as numbers.
	TextLiteralAsNumber
	// TextRefAsNumber parses text in referenced cells as numbers.
	TextRefAsNumber
	// TextRefAsZero counts text in referenced cells as 0.
	TextRefAsZero
	// BlankAsZero counts blank cells as 0 instead of skipping them.
	BlankAsZero
	// PropagateErrors makes the first error value, or unparseable text where
	// a number is required, the result.
	PropagateErrors
)

// Common policies.
const (
	// ScalarArgs is the policy of functions taking plain numbers.
	ScalarArgs = BoolLiteralAsNumber | BoolRefAsNumber | TextLiteralAsNumber | TextRefAsNumber | BlankAsZero | PropagateErrors
	// AggregateArgs is SUM, AVERAGE, MIN and friends: cells hold numbers or
	// are skipped.
	AggregateArgs = BoolLiteralAsNumber | TextLiteralAsNumber | PropagateErrors
	// CountArgs is COUNT: nothing is an error.
	CountArgs = BoolLiteralAsNumber | TextLiteralAsNumber
	// AggregateAArgs is AVERAGEA, MAXA and friends.
	AggregateAArgs = AggregateArgs | BoolRefAsNumber | TextRefAsZero
)

// coerceNumber applies pol to one value. It returns the number and true when
// the value counts, false when it is skipped, or an error value.
func coerceNumber(v Value, fromRef bool, pol CoercionPolicy) (float64, bool, Value) {
	switch t := v.(type) {
	case Number:
		return float64(t), true, nil
	case Blank:
		if pol&BlankAsZero != 0 {
			return 0, true, nil
		}
		return 0, false, nil
	case Boolean:
		if (!fromRef && pol&BoolLiteralAsNumber != 0) || (fromRef && pol&BoolRefAsNumber != 0) {
			if t {
				return 1, true, nil
			}
			return 0, true, nil
		}
		return 0, false, nil
	case Text:
		parse := (!fromRef && pol&TextLiteralAsNumber != 0) || (fromRef && pol&TextRefAsNumber != 0)
		if parse {
			if n, ok := parseNumberText(string(t)); ok {
				return n, true, nil
			}
			if pol&PropagateErrors != 0 {
				return 0, false, InvalidValue
			}
			return 0, false, nil
		}
		if fromRef && pol&TextRefAsZero != 0 {
			return 0, true, nil
		}
		return 0, false, nil
	case ErrorCode:
		if pol&PropagateErrors != 0 {
			return 0, false, t
		}
		return 0, false, nil
	}
	return 0, false, nil
}

// parseNumberText is the lenient text to number conversion of arithmetic:
// surrounding spaces, a trailing percent sign, thousands separators and a
// currency sign are accepted.
func parseNumberText(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	scale := 1.0
	if strings.HasSuffix(s, "%") {
		scale = 0.01
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimPrefix(s, "$")
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ",", "")
	}
	if s == "" || !(s[0] == '.' || s[0] == '-' || s[0] == '+' || (s[0] >= '0' && s[0] <= '9')) {
		return 0, false
	}
	lower := strings.ToLower(s)
	if strings.Contains(lower, "inf") || strings.Contains(lower, "nan") || strings.Contains(lower, "x") || strings.Contains(lower, "_") {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if d, ok := parseDateText(s); ok {
			return d, true
		}
		return 0, false
	}
	if neg {
		n = -n
	}
	return n * scale, true
}

// scalar dereferences an argument to a single value.
func (c *Call) scalar(op Operand) Value {
	return c.m.scalar(op)
}

// isRefLike reports whether values of op count as read from cells.
func isRefLike(op Operand) bool {
	switch op.(type) {
	case *Ref, *Area, AreaList, *Array:
		return true
	}
	return false
}

// number converts a scalar argument under the function's policy.
func (c *Call) number(op Operand) (float64, Value) {
	v := c.scalar(op)
	n, ok, errv := coerceNumber(v, isRefLike(op), c.policy())
	if errv != nil {
		return 0, errv
	}
	if !ok {
		return 0, InvalidValue
	}
	return n, nil
}

// optNumber is number with a default for a missing or omitted argument.
func (c *Call) optNumber(args []Operand, i int, def float64) (float64, Value) {
	if i >= len(args) {
		return def, nil
	}
	if _, ok := args[i].(missingArg); ok {
		return def, nil
	}
	return c.number(args[i])
}

// integer is number truncated toward zero.
func (c *Call) integer(op Operand) (int, Value) {
	n, errv := c.number(op)
	if errv != nil {
		return 0, errv
	}
	if math.Abs(n) > math.MaxInt32 {
		return 0, NumericOverflow
	}
	return int(n), nil
}

func (c *Call) optInteger(args []Operand, i int, def int) (int, Value) {
	if i >= len(args) {
		return def, nil
	}
	if _, ok := args[i].(missingArg); ok {
		return def, nil
	}
	return c.integer(args[i])
}

func (c *Call) policy() CoercionPolicy {
	if c.Def == nil || c.Def.Policy == 0 {
		return ScalarArgs
	}
	return c.Def.Policy
}

// text converts a scalar argument to text the way & does.
func (c *Call) text(op Operand) (string, Value) {
	return valueText(c.scalar(op))
}

func valueText(v Value) (string, Value) {
	switch t := v.(type) {
	case ErrorCode:
		return "", t
	case Text:
		return string(t), nil
	case Number:
		return formatNumber(float64(t)), nil
	}
	return v.String(), nil
}

// boolean converts a scalar argument to a truth value.
func (c *Call) boolean(op Operand) (bool, Value) {
	return valueBool(c.scalar(op))
}

func valueBool(v Value) (bool, Value) {
	switch t := v.(type) {
	case ErrorCode:
		return false, t
	case Boolean:
		return bool(t), nil
	case Number:
		return t != 0, nil
	case Blank:
		return false, nil
	case Text:
		switch strings.ToUpper(strings.TrimSpace(string(t))) {
		case "TRUE":
			return true, nil
		case "FALSE":
			return false, nil
		}
	}
	return false, InvalidValue
}

// each calls fn for every value of op, in row-major order. Literal values
// are reported with fromRef false. Iteration stops when fn returns false or
// a fatal error occurs.
func (c *Call) each(op Operand, fn func(v Value, fromRef bool) bool) {
	c.m.each(op, fn)
}

// collectNumbers flattens args into numbers under pol. A non-nil error value
// is the function's result.
func (c *Call) collectNumbers(args []Operand, pol CoercionPolicy) ([]float64, Value) {
	var nums []float64
	var errv Value
	for _, a := range args {
		if _, ok := a.(missingArg); ok {
			nums = append(nums, 0)
			continue
		}
		c.each(a, func(v Value, fromRef bool) bool {
			n, ok, e := coerceNumber(v, fromRef, pol)
			if e != nil {
				errv = e
				return false
			}
			if ok {
				nums = append(nums, n)
			}
			return true
		})
		if errv != nil {
			return nil, errv
		}
	}
	return nums, nil
}

// grid flattens one argument into a rows x cols block for positional
// functions such as SUMPRODUCT.
func (c *Call) grid(op Operand) (*Array, Value) {
	switch t := op.(type) {
	case *Array:
		return t, nil
	case *Ref, *Area:
		arr := c.m.materialize(t)
		if a, ok := arr.(*Array); ok {
			return a, nil
		}
		return nil, InvalidValue
	case AreaList:
		return nil, InvalidValue
	case ErrorCode:
		return nil, t
	case Value:
		return NewArray(1, 1, t), nil
	case missingArg:
		return NewArray(1, 1, Blank{}), nil
	}
	return nil, InvalidValue
}

// numberResult turns a computed float into a result, mapping non-finite
// values to #NUM!.
func numberResult(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return NumericOverflow
	}
	return Number(f)
}
