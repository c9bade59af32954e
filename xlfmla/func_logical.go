package xlfmla

import "strings"

func logicalFuncs() map[string]implEntry {
	return map[string]implEntry{
		"IF":    {impl: ifFunc},
		"AND":   {impl: logicFold(true)},
		"OR":    {impl: logicFold(false)},
		"NOT":   {impl: notFunc},
		"TRUE":  {impl: func(c *Call, args []Operand) Operand { return Boolean(true) }},
		"FALSE": {impl: func(c *Call, args []Operand) Operand { return Boolean(false) }},
		"NA":    {impl: func(c *Call, args []Operand) Operand { return NotAvailable }},
		"ISNA":  {impl: isFunc(func(v Value) bool { return v == NotAvailable })},
		"ISERROR": {impl: isFunc(func(v Value) bool {
			_, ok := v.(ErrorCode)
			return ok
		})},
		"ISERR": {impl: isFunc(func(v Value) bool {
			e, ok := v.(ErrorCode)
			return ok && e != NotAvailable
		})},
		"ISTEXT": {impl: isFunc(func(v Value) bool {
			_, ok := v.(Text)
			return ok
		})},
		"ISNONTEXT": {impl: isFunc(func(v Value) bool {
			_, ok := v.(Text)
			return !ok
		})},
		"ISNUMBER": {impl: isFunc(func(v Value) bool {
			_, ok := v.(Number)
			return ok
		})},
		"ISLOGICAL": {impl: isFunc(func(v Value) bool {
			_, ok := v.(Boolean)
			return ok
		})},
		"ISBLANK": {impl: isFunc(func(v Value) bool {
			_, ok := v.(Blank)
			return ok
		})},
		"ISREF":      {impl: isRefFunc},
		"TYPE":       {impl: typeFunc},
		"ERROR.TYPE": {impl: errorTypeFunc},
		"N":          {impl: nFunc},
		"T":          {impl: tFunc},
	}
}

func ifFunc(c *Call, args []Operand) Operand {
	branch := func(i int, def Value) Operand {
		if i >= len(args) {
			return def
		}
		if _, ok := args[i].(missingArg); ok {
			return Number(0)
		}
		return args[i]
	}
	then, otherwise := branch(1, Boolean(true)), branch(2, Boolean(false))
	if cond, ok := args[0].(*Array); ok {
		pick := func(op Operand, r, col int) Value {
			if arr, ok := op.(*Array); ok {
				v, in := stretch(arr, r, col)
				if !in {
					return NotAvailable
				}
				return v
			}
			return c.scalar(op)
		}
		out := &Array{Rows: cond.Rows, Cols: cond.Cols}
		for r := 0; r < cond.Rows; r++ {
			for col := 0; col < cond.Cols; col++ {
				b, errv := valueBool(cond.At(r, col))
				switch {
				case errv != nil:
					out.Values = append(out.Values, errv)
				case b:
					out.Values = append(out.Values, pick(then, r, col))
				default:
					out.Values = append(out.Values, pick(otherwise, r, col))
				}
			}
		}
		return out
	}
	b, errv := c.boolean(args[0])
	if errv != nil {
		return errv
	}
	if b {
		return then
	}
	return otherwise
}

// logicFold is AND (all true) or OR (any true). Text in cells is ignored,
// literal text must read TRUE or FALSE.
func logicFold(all bool) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		seen := false
		acc := all
		var errv Value
		for _, a := range args {
			c.each(a, func(v Value, fromRef bool) bool {
				var b bool
				switch t := v.(type) {
				case ErrorCode:
					errv = t
					return false
				case Blank:
					return true
				case Text:
					if fromRef {
						return true
					}
					parsed, ok := parseBoolText(strings.TrimSpace(string(t)))
					if !ok {
						errv = InvalidValue
						return false
					}
					b = parsed
				case Boolean:
					b = bool(t)
				case Number:
					b = t != 0
				}
				seen = true
				if all {
					acc = acc && b
				} else {
					acc = acc || b
				}
				return true
			})
			if errv != nil {
				return errv
			}
		}
		if !seen {
			return InvalidValue
		}
		return Boolean(acc)
	}
}

func notFunc(c *Call, args []Operand) Operand {
	b, errv := c.boolean(args[0])
	if errv != nil {
		return errv
	}
	return Boolean(!b)
}

func isFunc(pred func(Value) bool) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		if arr, ok := args[0].(*Array); ok {
			return mapArray(arr, func(v Value) Value { return Boolean(pred(v)) })
		}
		return Boolean(pred(c.scalar(args[0])))
	}
}

func isRefFunc(c *Call, args []Operand) Operand {
	switch args[0].(type) {
	case *Ref, *Area, AreaList:
		return Boolean(true)
	}
	return Boolean(false)
}

func typeFunc(c *Call, args []Operand) Operand {
	if _, ok := args[0].(*Array); ok {
		return Number(64)
	}
	switch c.scalar(args[0]).(type) {
	case Text:
		return Number(2)
	case Boolean:
		return Number(4)
	case ErrorCode:
		return Number(16)
	}
	return Number(1)
}

func errorTypeFunc(c *Call, args []Operand) Operand {
	if e, ok := c.scalar(args[0]).(ErrorCode); ok {
		if n, known := errorTypeNumber[e]; known {
			return Number(n)
		}
	}
	return NotAvailable
}

func nFunc(c *Call, args []Operand) Operand {
	switch t := c.scalar(args[0]).(type) {
	case Number:
		return t
	case Boolean:
		if t {
			return Number(1)
		}
	case ErrorCode:
		return t
	}
	return Number(0)
}

func tFunc(c *Call, args []Operand) Operand {
	switch t := c.scalar(args[0]).(type) {
	case Text:
		return t
	case ErrorCode:
		return t
	}
	return Text("")
}
