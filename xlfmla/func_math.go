package xlfmla

import (
	"math"
	"strconv"
)

func mathFuncs() map[string]implEntry {
	return map[string]implEntry{
		"ABS":     {impl: unaryMath(func(x float64) Value { return Number(math.Abs(x)) })},
		"INT":     {impl: unaryMath(func(x float64) Value { return Number(math.Floor(x)) })},
		"SIGN":    {impl: unaryMath(signOf)},
		"SQRT":    {impl: unaryMath(domain(func(x float64) bool { return x >= 0 }, math.Sqrt))},
		"EXP":     {impl: unaryMath(func(x float64) Value { return numberResult(math.Exp(x)) })},
		"LN":      {impl: unaryMath(domain(positive, math.Log))},
		"LOG10":   {impl: unaryMath(domain(positive, math.Log10))},
		"SIN":     {impl: unaryMath(func(x float64) Value { return Number(math.Sin(x)) })},
		"COS":     {impl: unaryMath(func(x float64) Value { return Number(math.Cos(x)) })},
		"TAN":     {impl: unaryMath(func(x float64) Value { return numberResult(math.Tan(x)) })},
		"ATAN":    {impl: unaryMath(func(x float64) Value { return Number(math.Atan(x)) })},
		"ASIN":    {impl: unaryMath(domain(unitRange, math.Asin))},
		"ACOS":    {impl: unaryMath(domain(unitRange, math.Acos))},
		"SINH":    {impl: unaryMath(func(x float64) Value { return numberResult(math.Sinh(x)) })},
		"COSH":    {impl: unaryMath(func(x float64) Value { return numberResult(math.Cosh(x)) })},
		"TANH":    {impl: unaryMath(func(x float64) Value { return Number(math.Tanh(x)) })},
		"ASINH":   {impl: unaryMath(func(x float64) Value { return Number(math.Asinh(x)) })},
		"ACOSH":   {impl: unaryMath(domain(func(x float64) bool { return x >= 1 }, math.Acosh))},
		"ATANH":   {impl: unaryMath(domain(func(x float64) bool { return x > -1 && x < 1 }, math.Atanh))},
		"RADIANS": {impl: unaryMath(func(x float64) Value { return Number(x * math.Pi / 180) })},
		"DEGREES": {impl: unaryMath(func(x float64) Value { return Number(x * 180 / math.Pi) })},
		"FACT":    {impl: unaryMath(fact)},
		"EVEN":    {impl: unaryMath(func(x float64) Value { return Number(roundAwayToMultiple(x, 2, 0)) })},
		"ODD":     {impl: unaryMath(oddOf)},
		"PI":      {impl: func(c *Call, args []Operand) Operand { return Number(math.Pi) }},
		"RAND":    {impl: func(c *Call, args []Operand) Operand { return Number(c.Options().Rand()) }},
		"ATAN2": {impl: binaryMath(func(x, y float64) Value {
			if x == 0 && y == 0 {
				return DivByZero
			}
			return Number(math.Atan2(y, x))
		})},
		"MOD": {impl: binaryMath(func(x, y float64) Value {
			if y == 0 {
				return DivByZero
			}
			return numberResult(x - y*math.Floor(x/y))
		})},
		"POWER": {impl: binaryMath(func(x, y float64) Value { return arith(OpPower, Number(x), Number(y)) })},
		"ROUND": {impl: binaryMath(func(x, d float64) Value { return Number(roundDigits(x, int(d), math.Round)) })},
		"ROUNDUP": {impl: binaryMath(func(x, d float64) Value {
			return Number(roundDigits(x, int(d), func(v float64) float64 { return math.Copysign(math.Ceil(math.Abs(v)), v) }))
		})},
		"ROUNDDOWN":  {impl: binaryMath(func(x, d float64) Value { return Number(roundDigits(x, int(d), math.Trunc)) })},
		"TRUNC":      {impl: truncFunc},
		"LOG":        {impl: logFunc},
		"COMBIN":     {impl: binaryMath(combin)},
		"FLOOR":      {impl: binaryMath(floorTo)},
		"CEILING":    {impl: binaryMath(ceilingTo)},
		"SUM":        {impl: sumFunc, policy: AggregateArgs},
		"PRODUCT":    {impl: productFunc, policy: AggregateArgs},
		"SUMSQ":      {impl: sumsqFunc, policy: AggregateArgs},
		"SUMPRODUCT": {impl: sumProductFunc},
		"SUMXMY2":    {impl: pairwiseSum(func(x, y float64) float64 { return (x - y) * (x - y) })},
		"SUMX2MY2":   {impl: pairwiseSum(func(x, y float64) float64 { return x*x - y*y })},
		"SUMX2PY2":   {impl: pairwiseSum(func(x, y float64) float64 { return x*x + y*y })},
		"MMULT":      {impl: mmultFunc},
		"MDETERM":    {impl: mdetermFunc},
		"MINVERSE":   {impl: minverseFunc},
	}
}

// unaryMath lifts a numeric function; array arguments map element-wise.
func unaryMath(fn func(x float64) Value) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		if arr, ok := args[0].(*Array); ok {
			return mapArray(arr, func(v Value) Value {
				x, errv := arithNumber(v)
				if errv != nil {
					return errv
				}
				return fn(x)
			})
		}
		x, errv := c.number(args[0])
		if errv != nil {
			return errv
		}
		return fn(x)
	}
}

func binaryMath(fn func(x, y float64) Value) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		x, errv := c.number(args[0])
		if errv != nil {
			return errv
		}
		y, errv := c.number(args[1])
		if errv != nil {
			return errv
		}
		return fn(x, y)
	}
}

func mapArray(a *Array, fn func(v Value) Value) *Array {
	out := &Array{Rows: a.Rows, Cols: a.Cols, Values: make([]Value, len(a.Values))}
	for i, v := range a.Values {
		out.Values[i] = fn(v)
	}
	return out
}

// domain returns #NUM! outside ok.
func domain(ok func(float64) bool, fn func(float64) float64) func(float64) Value {
	return func(x float64) Value {
		if !ok(x) {
			return NumericOverflow
		}
		return numberResult(fn(x))
	}
}

func positive(x float64) bool  { return x > 0 }
func unitRange(x float64) bool { return x >= -1 && x <= 1 }

func signOf(x float64) Value {
	switch {
	case x > 0:
		return Number(1)
	case x < 0:
		return Number(-1)
	}
	return Number(0)
}

func fact(x float64) Value {
	if x < 0 {
		return NumericOverflow
	}
	r := 1.0
	for i := 2.0; i <= math.Floor(x); i++ {
		r *= i
		if math.IsInf(r, 0) {
			return NumericOverflow
		}
	}
	return Number(r)
}

func oddOf(x float64) Value {
	a := math.Ceil(math.Abs(x))
	if math.Mod(a, 2) == 0 {
		a++
	}
	return Number(math.Copysign(a, x))
}

// roundAwayToMultiple rounds x away from zero to a multiple of m plus off.
func roundAwayToMultiple(x, m, off float64) float64 {
	a := math.Ceil((math.Abs(x)-off)/m)*m + off
	return math.Copysign(a, x)
}

// roundDigits rounds x to d decimal digits with rnd. The scaled value is
// first cut to 15 significant digits so 2.675 rounds to 2.68.
func roundDigits(x float64, d int, rnd func(float64) float64) float64 {
	p := math.Pow(10, float64(d))
	scaled, err := strconv.ParseFloat(strconv.FormatFloat(x*p, 'g', 15, 64), 64)
	if err != nil {
		return x
	}
	return rnd(scaled) / p
}

func truncFunc(c *Call, args []Operand) Operand {
	x, errv := c.number(args[0])
	if errv != nil {
		return errv
	}
	d, errv := c.optNumber(args, 1, 0)
	if errv != nil {
		return errv
	}
	return Number(roundDigits(x, int(d), math.Trunc))
}

func logFunc(c *Call, args []Operand) Operand {
	x, errv := c.number(args[0])
	if errv != nil {
		return errv
	}
	base, errv := c.optNumber(args, 1, 10)
	if errv != nil {
		return errv
	}
	if x <= 0 || base <= 0 {
		return NumericOverflow
	}
	if base == 1 {
		return DivByZero
	}
	return numberResult(math.Log(x) / math.Log(base))
}

func combin(n, k float64) Value {
	n, k = math.Trunc(n), math.Trunc(k)
	if n < 0 || k < 0 || k > n {
		return NumericOverflow
	}
	r := 1.0
	for i := 1.0; i <= k; i++ {
		r = r * (n - k + i) / i
	}
	return numberResult(math.Round(r))
}

func floorTo(x, sig float64) Value {
	if sig == 0 {
		if x == 0 {
			return Number(0)
		}
		return DivByZero
	}
	if x > 0 && sig < 0 {
		return NumericOverflow
	}
	return Number(math.Floor(x/sig) * sig)
}

func ceilingTo(x, sig float64) Value {
	if sig == 0 {
		return Number(0)
	}
	if x > 0 && sig < 0 {
		return NumericOverflow
	}
	return Number(math.Ceil(x/sig) * sig)
}

func sumFunc(c *Call, args []Operand) Operand {
	nums, errv := c.collectNumbers(args, c.policy())
	if errv != nil {
		return errv
	}
	s := 0.0
	for _, n := range nums {
		s += n
	}
	return numberResult(s)
}

func productFunc(c *Call, args []Operand) Operand {
	nums, errv := c.collectNumbers(args, c.policy())
	if errv != nil {
		return errv
	}
	if len(nums) == 0 {
		return Number(0)
	}
	p := 1.0
	for _, n := range nums {
		p *= n
	}
	return numberResult(p)
}

func sumsqFunc(c *Call, args []Operand) Operand {
	nums, errv := c.collectNumbers(args, c.policy())
	if errv != nil {
		return errv
	}
	s := 0.0
	for _, n := range nums {
		s += n * n
	}
	return numberResult(s)
}

// sumProductFunc multiplies same-shaped arrays element-wise; anything that
// is not a number counts as 0, errors propagate.
func sumProductFunc(c *Call, args []Operand) Operand {
	var grids []*Array
	for _, a := range args {
		g, errv := c.grid(a)
		if errv != nil {
			return errv
		}
		if len(grids) > 0 && (g.Rows != grids[0].Rows || g.Cols != grids[0].Cols) {
			return InvalidValue
		}
		grids = append(grids, g)
	}
	s := 0.0
	for i := range grids[0].Values {
		p := 1.0
		for _, g := range grids {
			switch v := g.Values[i].(type) {
			case ErrorCode:
				return v
			case Number:
				p *= float64(v)
			default:
				p = 0
			}
		}
		s += p
	}
	return numberResult(s)
}

// pairwiseSum sums fn over positions where both arrays hold numbers.
func pairwiseSum(fn func(x, y float64) float64) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		xs, ys, errv := c.numberPairs(args[0], args[1])
		if errv != nil {
			return errv
		}
		if len(xs) == 0 {
			return DivByZero
		}
		s := 0.0
		for i := range xs {
			s += fn(xs[i], ys[i])
		}
		return numberResult(s)
	}
}

// numberPairs aligns two same-sized arguments and keeps positions where both
// are numbers.
func (c *Call) numberPairs(a, b Operand) ([]float64, []float64, Value) {
	ga, errv := c.grid(a)
	if errv != nil {
		return nil, nil, errv
	}
	gb, errv := c.grid(b)
	if errv != nil {
		return nil, nil, errv
	}
	if len(ga.Values) != len(gb.Values) {
		return nil, nil, NotAvailable
	}
	var xs, ys []float64
	for i := range ga.Values {
		if e, ok := ga.Values[i].(ErrorCode); ok {
			return nil, nil, e
		}
		if e, ok := gb.Values[i].(ErrorCode); ok {
			return nil, nil, e
		}
		x, okx := ga.Values[i].(Number)
		y, oky := gb.Values[i].(Number)
		if okx && oky {
			xs = append(xs, float64(x))
			ys = append(ys, float64(y))
		}
	}
	return xs, ys, nil
}

// matrix reads a numeric argument; any non-number is #VALUE!.
func (c *Call) matrix(op Operand) ([][]float64, Value) {
	g, errv := c.grid(op)
	if errv != nil {
		return nil, errv
	}
	rows := make([][]float64, g.Rows)
	for r := range rows {
		rows[r] = make([]float64, g.Cols)
		for col := range rows[r] {
			switch v := g.At(r, col).(type) {
			case Number:
				rows[r][col] = float64(v)
			case ErrorCode:
				return nil, v
			default:
				return nil, InvalidValue
			}
		}
	}
	return rows, nil
}

func matrixResult(m [][]float64) *Array {
	out := &Array{Rows: len(m), Cols: len(m[0])}
	for _, row := range m {
		for _, v := range row {
			out.Values = append(out.Values, numberResult(v))
		}
	}
	return out
}

func mmultFunc(c *Call, args []Operand) Operand {
	a, errv := c.matrix(args[0])
	if errv != nil {
		return errv
	}
	b, errv := c.matrix(args[1])
	if errv != nil {
		return errv
	}
	if len(a[0]) != len(b) {
		return InvalidValue
	}
	out := make([][]float64, len(a))
	for i := range a {
		out[i] = make([]float64, len(b[0]))
		for j := range b[0] {
			for k := range b {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return matrixResult(out)
}

// gaussJordan reduces m in place, mirroring every row operation on aug.
// It returns the determinant.
func gaussJordan(m, aug [][]float64) float64 {
	n := len(m)
	det := 1.0
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if m[pivot][col] == 0 {
			return 0
		}
		if pivot != col {
			m[pivot], m[col] = m[col], m[pivot]
			if aug != nil {
				aug[pivot], aug[col] = aug[col], aug[pivot]
			}
			det = -det
		}
		p := m[col][col]
		det *= p
		for j := range m[col] {
			m[col][j] /= p
		}
		if aug != nil {
			for j := range aug[col] {
				aug[col][j] /= p
			}
		}
		for r := 0; r < n; r++ {
			if r == col || m[r][col] == 0 {
				continue
			}
			f := m[r][col]
			for j := range m[r] {
				m[r][j] -= f * m[col][j]
			}
			if aug != nil {
				for j := range aug[r] {
					aug[r][j] -= f * aug[col][j]
				}
			}
		}
	}
	return det
}

func mdetermFunc(c *Call, args []Operand) Operand {
	m, errv := c.matrix(args[0])
	if errv != nil {
		return errv
	}
	if len(m) != len(m[0]) {
		return InvalidValue
	}
	return numberResult(gaussJordan(m, nil))
}

func minverseFunc(c *Call, args []Operand) Operand {
	m, errv := c.matrix(args[0])
	if errv != nil {
		return errv
	}
	n := len(m)
	if n != len(m[0]) {
		return InvalidValue
	}
	inv := make([][]float64, n)
	for i := range inv {
		inv[i] = make([]float64, n)
		inv[i][i] = 1
	}
	if gaussJordan(m, inv) == 0 {
		return NumericOverflow
	}
	return matrixResult(inv)
}
