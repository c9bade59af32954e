package xlfmla

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

func statFuncs() map[string]implEntry {
	return map[string]implEntry{
		"COUNT":      {impl: countFunc, policy: CountArgs},
		"COUNTA":     {impl: countaFunc},
		"COUNTBLANK": {impl: countBlankFunc},
		"AVERAGE":    {impl: numbersFunc(average), policy: AggregateArgs},
		"AVERAGEA":   {impl: numbersFunc(average), policy: AggregateAArgs},
		"MIN":        {impl: numbersFunc(minimum), policy: AggregateArgs},
		"MINA":       {impl: numbersFunc(minimum), policy: AggregateAArgs},
		"MAX":        {impl: numbersFunc(maximum), policy: AggregateArgs},
		"MAXA":       {impl: numbersFunc(maximum), policy: AggregateAArgs},
		"STDEV":      {impl: numbersFunc(stdevSample), policy: AggregateArgs},
		"STDEVA":     {impl: numbersFunc(stdevSample), policy: AggregateAArgs},
		"STDEVP":     {impl: numbersFunc(stdevPop), policy: AggregateArgs},
		"STDEVPA":    {impl: numbersFunc(stdevPop), policy: AggregateAArgs},
		"VAR":        {impl: numbersFunc(varSample), policy: AggregateArgs},
		"VARA":       {impl: numbersFunc(varSample), policy: AggregateAArgs},
		"VARP":       {impl: numbersFunc(varPop), policy: AggregateArgs},
		"VARPA":      {impl: numbersFunc(varPop), policy: AggregateAArgs},
		"MEDIAN":     {impl: numbersFunc(median), policy: AggregateArgs},
		"MODE":       {impl: numbersFunc(mode), policy: AggregateArgs},
		"AVEDEV":     {impl: numbersFunc(avedev), policy: AggregateArgs},
		"DEVSQ":      {impl: numbersFunc(devsq), policy: AggregateArgs},
		"GEOMEAN":    {impl: numbersFunc(geomean), policy: AggregateArgs},
		"HARMEAN":    {impl: numbersFunc(harmean), policy: AggregateArgs},
		"KURT":       {impl: numbersFunc(kurt), policy: AggregateArgs},
		"SKEW":       {impl: numbersFunc(skew), policy: AggregateArgs},
		"LARGE":      {impl: kthFunc(true), policy: AggregateArgs},
		"SMALL":      {impl: kthFunc(false), policy: AggregateArgs},
		"QUARTILE":   {impl: quartileFunc, policy: AggregateArgs},
		"PERCENTILE": {impl: percentileFunc, policy: AggregateArgs},
		"RANK":       {impl: rankFunc, policy: AggregateArgs},
		"CORREL":     {impl: correlFunc},
		"PEARSON":    {impl: correlFunc},
		"FREQUENCY":  {impl: frequencyFunc, policy: AggregateArgs},
		"SUBTOTAL":   {impl: subtotalFunc, policy: AggregateArgs},
		"SUMIF":      {impl: sumifFunc},
		"COUNTIF":    {impl: countifFunc},
	}
}

func countFunc(c *Call, args []Operand) Operand {
	nums, _ := c.collectNumbers(args, c.policy())
	return Number(len(nums))
}

func countaFunc(c *Call, args []Operand) Operand {
	n := 0
	for _, a := range args {
		if _, ok := a.(missingArg); ok {
			n++
			continue
		}
		c.each(a, func(v Value, fromRef bool) bool {
			if _, blank := v.(Blank); !blank {
				n++
			}
			return true
		})
	}
	return Number(n)
}

func countBlankFunc(c *Call, args []Operand) Operand {
	area, ok := args[0].(*Area)
	if r, isRef := args[0].(*Ref); isRef {
		area, ok = areaOf(r), true
	}
	if !ok {
		return InvalidValue
	}
	total := area.Rows() * area.Cols()
	filled := 0
	c.each(area, func(v Value, fromRef bool) bool {
		if t, isText := v.(Text); isText && t == "" {
			return true
		}
		if _, blank := v.(Blank); !blank {
			filled++
		}
		return true
	})
	return Number(total - filled)
}

// numbersFunc adapts a statistic over the collected numbers.
func numbersFunc(stat func(nums []float64) Value) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		nums, errv := c.collectNumbers(args, c.policy())
		if errv != nil {
			return errv
		}
		return stat(nums)
	}
}

func sumOf(nums []float64) float64 {
	s := 0.0
	for _, n := range nums {
		s += n
	}
	return s
}

func average(nums []float64) Value {
	if len(nums) == 0 {
		return DivByZero
	}
	return numberResult(sumOf(nums) / float64(len(nums)))
}

func minimum(nums []float64) Value {
	if len(nums) == 0 {
		return Number(0)
	}
	m := nums[0]
	for _, n := range nums[1:] {
		m = math.Min(m, n)
	}
	return Number(m)
}

func maximum(nums []float64) Value {
	if len(nums) == 0 {
		return Number(0)
	}
	m := nums[0]
	for _, n := range nums[1:] {
		m = math.Max(m, n)
	}
	return Number(m)
}

func devsqOf(nums []float64) float64 {
	mean := sumOf(nums) / float64(len(nums))
	s := 0.0
	for _, n := range nums {
		s += (n - mean) * (n - mean)
	}
	return s
}

func varSample(nums []float64) Value {
	if len(nums) < 2 {
		return DivByZero
	}
	return numberResult(devsqOf(nums) / float64(len(nums)-1))
}

func varPop(nums []float64) Value {
	if len(nums) == 0 {
		return DivByZero
	}
	return numberResult(devsqOf(nums) / float64(len(nums)))
}

func stdevSample(nums []float64) Value {
	v := varSample(nums)
	if n, ok := v.(Number); ok {
		return Number(math.Sqrt(float64(n)))
	}
	return v
}

func stdevPop(nums []float64) Value {
	v := varPop(nums)
	if n, ok := v.(Number); ok {
		return Number(math.Sqrt(float64(n)))
	}
	return v
}

func devsq(nums []float64) Value {
	if len(nums) == 0 {
		return NumericOverflow
	}
	return numberResult(devsqOf(nums))
}

func sortedCopy(nums []float64) []float64 {
	s := append([]float64(nil), nums...)
	sort.Float64s(s)
	return s
}

func median(nums []float64) Value {
	if len(nums) == 0 {
		return NumericOverflow
	}
	s := sortedCopy(nums)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return Number(s[mid])
	}
	return Number((s[mid-1] + s[mid]) / 2)
}

// mode returns the most frequent value, the earliest one on ties.
func mode(nums []float64) Value {
	counts := map[float64]int{}
	best, bestN := 0.0, 1
	for _, n := range nums {
		counts[n]++
		if counts[n] > bestN {
			best, bestN = n, counts[n]
		}
	}
	if bestN < 2 {
		return NotAvailable
	}
	for _, n := range nums {
		if counts[n] == bestN {
			return Number(n)
		}
	}
	return Number(best)
}

func avedev(nums []float64) Value {
	if len(nums) == 0 {
		return NumericOverflow
	}
	mean := sumOf(nums) / float64(len(nums))
	s := 0.0
	for _, n := range nums {
		s += math.Abs(n - mean)
	}
	return Number(s / float64(len(nums)))
}

func geomean(nums []float64) Value {
	if len(nums) == 0 {
		return NumericOverflow
	}
	s := 0.0
	for _, n := range nums {
		if n <= 0 {
			return NumericOverflow
		}
		s += math.Log(n)
	}
	return numberResult(math.Exp(s / float64(len(nums))))
}

func harmean(nums []float64) Value {
	if len(nums) == 0 {
		return NumericOverflow
	}
	s := 0.0
	for _, n := range nums {
		if n <= 0 {
			return NumericOverflow
		}
		s += 1 / n
	}
	return numberResult(float64(len(nums)) / s)
}

func kurt(nums []float64) Value {
	n := float64(len(nums))
	if n < 4 {
		return DivByZero
	}
	sd, ok := stdevSample(nums).(Number)
	if !ok || sd == 0 {
		return DivByZero
	}
	mean := sumOf(nums) / n
	s := 0.0
	for _, x := range nums {
		s += math.Pow((x-mean)/float64(sd), 4)
	}
	return numberResult(n*(n+1)/((n-1)*(n-2)*(n-3))*s - 3*(n-1)*(n-1)/((n-2)*(n-3)))
}

func skew(nums []float64) Value {
	n := float64(len(nums))
	if n < 3 {
		return DivByZero
	}
	sd, ok := stdevSample(nums).(Number)
	if !ok || sd == 0 {
		return DivByZero
	}
	mean := sumOf(nums) / n
	s := 0.0
	for _, x := range nums {
		s += math.Pow((x-mean)/float64(sd), 3)
	}
	return numberResult(n / ((n - 1) * (n - 2)) * s)
}

func kthFunc(largest bool) FuncImpl {
	return func(c *Call, args []Operand) Operand {
		nums, errv := c.collectNumbers(args[:1], c.policy())
		if errv != nil {
			return errv
		}
		k, errv := c.number(args[1])
		if errv != nil {
			return errv
		}
		ki := int(math.Ceil(k))
		if ki < 1 || ki > len(nums) {
			return NumericOverflow
		}
		s := sortedCopy(nums)
		if largest {
			return Number(s[len(s)-ki])
		}
		return Number(s[ki-1])
	}
}

// percentileOf interpolates linearly between closest ranks.
func percentileOf(nums []float64, p float64) Value {
	if len(nums) == 0 || p < 0 || p > 1 {
		return NumericOverflow
	}
	s := sortedCopy(nums)
	pos := p * float64(len(s)-1)
	lo := int(math.Floor(pos))
	if lo+1 >= len(s) {
		return Number(s[lo])
	}
	return Number(s[lo] + (pos-float64(lo))*(s[lo+1]-s[lo]))
}

func percentileFunc(c *Call, args []Operand) Operand {
	nums, errv := c.collectNumbers(args[:1], c.policy())
	if errv != nil {
		return errv
	}
	p, errv := c.number(args[1])
	if errv != nil {
		return errv
	}
	return percentileOf(nums, p)
}

func quartileFunc(c *Call, args []Operand) Operand {
	nums, errv := c.collectNumbers(args[:1], c.policy())
	if errv != nil {
		return errv
	}
	q, errv := c.integer(args[1])
	if errv != nil {
		return errv
	}
	if q < 0 || q > 4 {
		return NumericOverflow
	}
	return percentileOf(nums, float64(q)/4)
}

func rankFunc(c *Call, args []Operand) Operand {
	x, errv := c.number(args[0])
	if errv != nil {
		return errv
	}
	nums, errv := c.collectNumbers(args[1:2], c.policy())
	if errv != nil {
		return errv
	}
	asc, errv := c.optNumber(args, 2, 0)
	if errv != nil {
		return errv
	}
	rank, found := 1, false
	for _, n := range nums {
		if n == x {
			found = true
		}
		if (asc == 0 && n > x) || (asc != 0 && n < x) {
			rank++
		}
	}
	if !found {
		return NotAvailable
	}
	return Number(rank)
}

func correlFunc(c *Call, args []Operand) Operand {
	xs, ys, errv := c.numberPairs(args[0], args[1])
	if errv != nil {
		return errv
	}
	if len(xs) < 2 {
		return DivByZero
	}
	mx, my := sumOf(xs)/float64(len(xs)), sumOf(ys)/float64(len(ys))
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return DivByZero
	}
	return numberResult(sxy / math.Sqrt(sxx*syy))
}

// frequencyFunc counts data into bins; the result has one more row than
// there are bins.
func frequencyFunc(c *Call, args []Operand) Operand {
	data, errv := c.collectNumbers(args[:1], c.policy())
	if errv != nil {
		return errv
	}
	bins, errv := c.collectNumbers(args[1:2], c.policy())
	if errv != nil {
		return errv
	}
	order := make([]int, len(bins))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return bins[order[a]] < bins[order[b]] })
	counts := make([]float64, len(bins)+1)
	for _, x := range data {
		slot := len(bins)
		for _, i := range order {
			if x <= bins[i] {
				slot = i
				break
			}
		}
		counts[slot]++
	}
	out := &Array{Rows: len(counts), Cols: 1}
	for _, n := range counts {
		out.Values = append(out.Values, Number(n))
	}
	return out
}

var subtotalStats = map[int]func([]float64) Value{
	1:  average,
	4:  maximum,
	5:  minimum,
	7:  stdevSample,
	8:  stdevPop,
	10: varSample,
	11: varPop,
}

// subtotalFunc applies an aggregate by number; 101-111 are the same
// functions with hidden rows ignored, which here are all visible.
func subtotalFunc(c *Call, args []Operand) Operand {
	which, errv := c.integer(args[0])
	if errv != nil {
		return errv
	}
	if which > 100 {
		which -= 100
	}
	rest := args[1:]
	switch which {
	case 2:
		nums, _ := c.collectNumbers(rest, CountArgs)
		return Number(len(nums))
	case 3:
		return countaFunc(c, rest)
	case 6:
		return productFunc(c, rest)
	case 9:
		return sumFunc(c, rest)
	}
	stat, ok := subtotalStats[which]
	if !ok {
		return InvalidValue
	}
	nums, errv := c.collectNumbers(rest, c.policy())
	if errv != nil {
		return errv
	}
	return stat(nums)
}

// criterion is a compiled SUMIF/COUNTIF condition.
type criterion struct {
	op    string
	value Value
	glob  *regexp.Regexp
}

// parseCriterion reads a condition such as 5, ">=3", "<>x" or "a*".
func parseCriterion(v Value) criterion {
	t, ok := v.(Text)
	if !ok {
		return criterion{op: "=", value: v}
	}
	s := string(t)
	cr := criterion{op: "="}
	for _, op := range []string{"<=", ">=", "<>", "<", ">", "="} {
		if strings.HasPrefix(s, op) {
			cr.op = op
			s = s[len(op):]
			break
		}
	}
	switch {
	case s == "":
		cr.value = Blank{}
	default:
		if n, ok := parseNumberText(s); ok {
			cr.value = Number(n)
		} else if b, ok := parseBoolText(s); ok {
			cr.value = Boolean(b)
		} else if e, ok := ParseErrorCode(s); ok {
			cr.value = e
		} else {
			cr.value = Text(s)
			if (cr.op == "=" || cr.op == "<>") && strings.ContainsAny(s, "*?") {
				cr.glob = wildcardRegexp(s)
			}
		}
	}
	return cr
}

func parseBoolText(s string) (bool, bool) {
	switch strings.ToUpper(s) {
	case "TRUE":
		return true, true
	case "FALSE":
		return false, true
	}
	return false, false
}

// wildcardRegexp compiles a pattern with ? and * wildcards; ~ escapes them.
func wildcardRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?is)^")
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch {
		case ch == '~' && i+1 < len(runes) && strings.ContainsRune("*?~", runes[i+1]):
			i++
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		case ch == '*':
			b.WriteString(".*")
		case ch == '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

func (cr criterion) match(v Value) bool {
	if cr.glob != nil {
		t, ok := v.(Text)
		hit := ok && cr.glob.MatchString(string(t))
		if cr.op == "<>" {
			return !hit
		}
		return hit
	}
	if _, blank := cr.value.(Blank); blank {
		_, isBlank := v.(Blank)
		empty := isBlank || v == Text("")
		if cr.op == "<>" {
			return !empty
		}
		return cr.op == "=" && empty
	}
	if cr.op == "<>" {
		return typeRank(v) != typeRank(cr.value) || compareValues(v, cr.value) != 0
	}
	if typeRank(v) != typeRank(cr.value) {
		return false
	}
	c := compareValues(v, cr.value)
	switch cr.op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return c == 0
}

func countifFunc(c *Call, args []Operand) Operand {
	rng, errv := c.grid(args[0])
	if errv != nil {
		return errv
	}
	cr := parseCriterion(c.scalar(args[1]))
	n := 0
	for _, v := range rng.Values {
		if cr.match(v) {
			n++
		}
	}
	return Number(n)
}

func sumifFunc(c *Call, args []Operand) Operand {
	cr := parseCriterion(c.scalar(args[1]))
	target := args[0]
	if len(args) > 2 {
		if _, missing := args[2].(missingArg); !missing {
			target = args[2]
		}
	}
	if a, ok := args[0].(*Area); ok {
		if t, ok := target.(*Area); ok && t != a {
			target = &Area{Sheet: t.Sheet, FirstRow: t.FirstRow, FirstCol: t.FirstCol,
				LastRow: t.FirstRow + a.Rows() - 1, LastCol: t.FirstCol + a.Cols() - 1}
		} else if r, ok := target.(*Ref); ok {
			target = &Area{Sheet: r.Sheet, FirstRow: r.Row, FirstCol: r.Col,
				LastRow: r.Row + a.Rows() - 1, LastCol: r.Col + a.Cols() - 1}
		}
	}
	rng, errv := c.grid(args[0])
	if errv != nil {
		return errv
	}
	vals, errv := c.grid(target)
	if errv != nil {
		return errv
	}
	s := 0.0
	for i, v := range rng.Values {
		if i >= len(vals.Values) || !cr.match(v) {
			continue
		}
		switch x := vals.Values[i].(type) {
		case Number:
			s += float64(x)
		case ErrorCode:
			return x
		}
	}
	return numberResult(s)
}
