package xlfmla

import "math"

func financialFuncs() map[string]implEntry {
	return map[string]implEntry{
		"PV":   {impl: tvmFunc(pvOf)},
		"FV":   {impl: tvmFunc(fvOf)},
		"PMT":  {impl: tvmFunc(pmtOf)},
		"NPER": {impl: tvmFunc(nperOf)},
		"RATE": {impl: rateFunc},
		"NPV":  {impl: npvFunc},
		"IRR":  {impl: irrFunc},
		"MIRR": {impl: mirrFunc},
		"SLN":  {impl: slnFunc},
		"SYD":  {impl: sydFunc},
		"DDB":  {impl: ddbFunc},
		"DB":   {impl: dbFunc},
		"IPMT": {impl: periodPayment(true)},
		"PPMT": {impl: periodPayment(false)},
	}
}

// Time value of money. Each solves
// pv*(1+r)^n + pmt*(1+r*type)*((1+r)^n-1)/r + fv = 0
// for one of its terms; r = 0 is the linear case.

func pvOf(r, n, pmt, fv, typ float64) float64 {
	if r == 0 {
		return -(fv + pmt*n)
	}
	g := math.Pow(1+r, n)
	return -(fv + pmt*(1+r*typ)*(g-1)/r) / g
}

func fvOf(r, n, pmt, pv, typ float64) float64 {
	if r == 0 {
		return -(pv + pmt*n)
	}
	g := math.Pow(1+r, n)
	return -(pv*g + pmt*(1+r*typ)*(g-1)/r)
}

func pmtOf(r, n, pv, fv, typ float64) float64 {
	if r == 0 {
		return -(pv + fv) / n
	}
	g := math.Pow(1+r, n)
	return -(pv*g + fv) * r / ((1 + r*typ) * (g - 1))
}

func nperOf(r, pmt, pv, fv, typ float64) float64 {
	if r == 0 {
		return -(pv + fv) / pmt
	}
	num := pmt*(1+r*typ) - fv*r
	den := pv*r + pmt*(1+r*typ)
	return math.Log(num/den) / math.Log(1+r)
}

// tvmFunc adapts one of the solvers; the last two arguments default to 0
// and a nonzero type means payments at the start of each period.
func tvmFunc(solve func(a, b, c, d, typ float64) float64) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		var x [3]float64
		for i := range x {
			n, errv := c.number(args[i])
			if errv != nil {
				return errv
			}
			x[i] = n
		}
		d, errv := c.optNumber(args, 3, 0)
		if errv != nil {
			return errv
		}
		typ, errv := c.optNumber(args, 4, 0)
		if errv != nil {
			return errv
		}
		if typ != 0 {
			typ = 1
		}
		return numberResult(solve(x[0], x[1], x[2], d, typ))
	}
}

// newton finds a root of f near guess.
func newton(f func(float64) float64, guess float64) (float64, bool) {
	const (
		iterations = 100
		epsilon    = 1e-10
		step       = 1e-7
	)
	x := guess
	for i := 0; i < iterations; i++ {
		y := f(x)
		if math.Abs(y) < epsilon {
			return x, true
		}
		d := (f(x+step) - y) / step
		if d == 0 || math.IsNaN(d) {
			return 0, false
		}
		next := x - y/d
		if math.IsNaN(next) || math.IsInf(next, 0) || next <= -1 {
			return 0, false
		}
		if math.Abs(next-x) < epsilon {
			return next, true
		}
		x = next
	}
	return 0, false
}

func rateFunc(c *Call, args []Operand) Operand {
	var x [3]float64
	for i := range x {
		n, errv := c.number(args[i])
		if errv != nil {
			return errv
		}
		x[i] = n
	}
	fv, errv := c.optNumber(args, 3, 0)
	if errv != nil {
		return errv
	}
	typ, errv := c.optNumber(args, 4, 0)
	if errv != nil {
		return errv
	}
	guess, errv := c.optNumber(args, 5, 0.1)
	if errv != nil {
		return errv
	}
	if typ != 0 {
		typ = 1
	}
	n, pmt, pv := x[0], x[1], x[2]
	if n <= 0 {
		return NumericOverflow
	}
	r, ok := newton(func(r float64) float64 {
		if r == 0 {
			return pv + pmt*n + fv
		}
		g := math.Pow(1+r, n)
		return pv*g + pmt*(1+r*typ)*(g-1)/r + fv
	}, guess)
	if !ok {
		return NumericOverflow
	}
	return Number(r)
}

// npvAt discounts values; the first is discounted by one period when
// from is 1 and not at all when from is 0.
func npvAt(r float64, values []float64, from int) float64 {
	s := 0.0
	for i, v := range values {
		s += v / math.Pow(1+r, float64(i+from))
	}
	return s
}

func npvFunc(c *Call, args []Operand) Operand {
	r, errv := c.number(args[0])
	if errv != nil {
		return errv
	}
	values, errv := c.collectNumbers(args[1:], AggregateArgs)
	if errv != nil {
		return errv
	}
	if r == -1 {
		return DivByZero
	}
	return numberResult(npvAt(r, values, 1))
}

func hasBothSigns(values []float64) bool {
	pos, neg := false, false
	for _, v := range values {
		pos = pos || v > 0
		neg = neg || v < 0
	}
	return pos && neg
}

func irrFunc(c *Call, args []Operand) Operand {
	values, errv := c.collectNumbers(args[:1], AggregateArgs)
	if errv != nil {
		return errv
	}
	guess, errv := c.optNumber(args, 1, 0.1)
	if errv != nil {
		return errv
	}
	if !hasBothSigns(values) {
		return NumericOverflow
	}
	r, ok := newton(func(r float64) float64 { return npvAt(r, values, 0) }, guess)
	if !ok {
		return NumericOverflow
	}
	return Number(r)
}

func mirrFunc(c *Call, args []Operand) Operand {
	values, errv := c.collectNumbers(args[:1], AggregateArgs)
	if errv != nil {
		return errv
	}
	frate, errv := c.number(args[1])
	if errv != nil {
		return errv
	}
	rrate, errv := c.number(args[2])
	if errv != nil {
		return errv
	}
	if !hasBothSigns(values) {
		return DivByZero
	}
	pos := make([]float64, len(values))
	neg := make([]float64, len(values))
	for i, v := range values {
		if v > 0 {
			pos[i] = v
		} else {
			neg[i] = v
		}
	}
	n := float64(len(values))
	fvPos := -npvAt(rrate, pos, 1) * math.Pow(1+rrate, n)
	pvNeg := npvAt(frate, neg, 1) * (1 + frate)
	return numberResult(math.Pow(fvPos/pvNeg, 1/(n-1)) - 1)
}

// fixedArgs reads the first n arguments as numbers.
func (c *Call) fixedArgs(args []Operand, n int) ([]float64, Value) {
	out := make([]float64, n)
	for i := range out {
		x, errv := c.number(args[i])
		if errv != nil {
			return nil, errv
		}
		out[i] = x
	}
	return out, nil
}

func slnFunc(c *Call, args []Operand) Operand {
	x, errv := c.fixedArgs(args, 3)
	if errv != nil {
		return errv
	}
	if x[2] == 0 {
		return DivByZero
	}
	return numberResult((x[0] - x[1]) / x[2])
}

func sydFunc(c *Call, args []Operand) Operand {
	x, errv := c.fixedArgs(args, 4)
	if errv != nil {
		return errv
	}
	cost, salvage, life, per := x[0], x[1], x[2], x[3]
	if life <= 0 || per < 1 || per > life {
		return NumericOverflow
	}
	return numberResult((cost - salvage) * (life - per + 1) * 2 / (life * (life + 1)))
}

func ddbFunc(c *Call, args []Operand) Operand {
	x, errv := c.fixedArgs(args, 4)
	if errv != nil {
		return errv
	}
	factor, errv := c.optNumber(args, 4, 2)
	if errv != nil {
		return errv
	}
	cost, salvage, life, period := x[0], x[1], x[2], x[3]
	if cost < 0 || salvage < 0 || life <= 0 || period <= 0 || period > life || factor <= 0 {
		return NumericOverflow
	}
	book, dep := cost, 0.0
	for p := 1.0; p <= math.Ceil(period); p++ {
		dep = math.Min(book*factor/life, math.Max(book-salvage, 0))
		book -= dep
	}
	return numberResult(dep)
}

// dbFunc is fixed-declining balance with the rate rounded to three
// places; the first and an extra last period are prorated by month.
func dbFunc(c *Call, args []Operand) Operand {
	x, errv := c.fixedArgs(args, 4)
	if errv != nil {
		return errv
	}
	month, errv := c.optNumber(args, 4, 12)
	if errv != nil {
		return errv
	}
	cost, salvage, life, period := x[0], x[1], x[2], math.Trunc(x[3])
	if cost < 0 || salvage < 0 || life <= 0 || period < 1 || month < 1 || month > 12 {
		return NumericOverflow
	}
	if (month == 12 && period > life) || period > life+1 {
		return NumericOverflow
	}
	if cost == 0 {
		return Number(0)
	}
	rate := math.Round((1-math.Pow(salvage/cost, 1/life))*1000) / 1000
	total := cost * rate * month / 12
	dep := total
	for p := 2.0; p <= period; p++ {
		if p == life+1 {
			dep = (cost - total) * rate * (12 - month) / 12
		} else {
			dep = (cost - total) * rate
		}
		total += dep
	}
	return numberResult(dep)
}

// periodPayment is IPMT (interest part) or PPMT (principal part) of the
// payment in one period.
func periodPayment(interest bool) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		x, errv := c.fixedArgs(args, 4)
		if errv != nil {
			return errv
		}
		fv, errv := c.optNumber(args, 4, 0)
		if errv != nil {
			return errv
		}
		typ, errv := c.optNumber(args, 5, 0)
		if errv != nil {
			return errv
		}
		if typ != 0 {
			typ = 1
		}
		r, per, n, pv := x[0], x[1], x[2], x[3]
		if per < 1 || per > n {
			return NumericOverflow
		}
		pmt := pmtOf(r, n, pv, fv, typ)
		var ipmt float64
		switch {
		case per == 1 && typ == 1:
			ipmt = 0
		case per == 1:
			ipmt = -pv * r
		case typ == 1:
			ipmt = (fvOf(r, per-2, pmt, pv, 1) - pmt) * r
		default:
			ipmt = fvOf(r, per-1, pmt, pv, 0) * r
		}
		if interest {
			return numberResult(ipmt)
		}
		return numberResult(pmt - ipmt)
	}
}
