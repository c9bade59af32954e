package xlfmla

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/xuri/efp"
)

// Operator ranks shared by the parser and the renderer; a higher rank binds
// tighter.
const (
	rankCompare = 10
	rankConcat  = 20
	rankAdd     = 30
	rankMul     = 40
	rankPower   = 50
	rankPercent = 60
	rankUnary   = 70
	rankUnion   = 75
	rankIsect   = 77
	rankRange   = 79
	rankLeaf    = 90
)

var infixOps = map[string]struct {
	op   byte
	rank int
}{
	"=":  {OpEQ, rankCompare},
	"<>": {OpNE, rankCompare},
	"<":  {OpLT, rankCompare},
	"<=": {OpLE, rankCompare},
	">":  {OpGT, rankCompare},
	">=": {OpGE, rankCompare},
	"&":  {OpConcat, rankConcat},
	"+":  {OpAdd, rankAdd},
	"-":  {OpSub, rankAdd},
	"*":  {OpMul, rankMul},
	"/":  {OpDiv, rankMul},
	"^":  {OpPower, rankPower},
	",":  {OpUnion, rankUnion},
	" ":  {OpIsect, rankIsect},
	":":  {OpRange, rankRange},
}

type lexKind int

const (
	lexEOF lexKind = iota
	lexNumber
	lexText
	lexError
	lexOperand
	lexInfix
	lexPrefix
	lexPostfix
	lexFunc
	lexFuncClose
	lexParenOpen
	lexParenClose
	lexComma
	lexArrayOpen
	lexRowOpen
	lexRowClose
	lexRowSep
	lexArrayClose
)

type lexeme struct {
	kind lexKind
	text string
	pos  int
}

// checkQuotes reports unterminated string literals and quoted sheet names,
// which the tokenizer would otherwise swallow.
func checkQuotes(src string) error {
	var quote byte
	start := 0
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case quote == 0 && (c == '"' || c == '\''):
			quote, start = c, i
		case quote != 0 && c == quote:
			if i+1 < len(src) && src[i+1] == quote {
				i++
				continue
			}
			quote = 0
		}
	}
	switch quote {
	case '"':
		return syntaxError(utf8.RuneCountInString(src[:start]), "unterminated string")
	case '\'':
		return syntaxError(utf8.RuneCountInString(src[:start]), "unterminated sheet name")
	}
	return nil
}

// isNumberText guards against the tokenizer's use of ParseFloat, which
// also accepts words such as Inf and NaN.
func isNumberText(s string) bool {
	if s == "" || !(s[0] == '.' || (s[0] >= '0' && s[0] <= '9')) {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-') {
			return false
		}
	}
	return true
}

// isMantissa matches "12E" and "1.5e", the part of a number in scientific
// notation the tokenizer splits off before the exponent sign.
func isMantissa(s string) bool {
	if len(s) < 2 {
		return false
	}
	last := s[len(s)-1]
	return (last == 'E' || last == 'e') && isNumberText(s[:len(s)-1]) && !strings.ContainsAny(s[:len(s)-1], "eE+-")
}

// lex runs the efp tokenizer and turns its stream into lexemes with
// character offsets into src.
func lex(src string) ([]lexeme, error) {
	if err := checkQuotes(src); err != nil {
		return nil, err
	}
	ps := efp.ExcelParser()
	toks := ps.Parse(src)
	// The tokenizer reads a leading "=" as an operator.
	if len(toks) > 0 && toks[0].TType == efp.TokenTypeOperatorInfix && toks[0].TValue == "=" {
		toks = toks[1:]
	}

	cur := 0
	at := func(needles ...string) int {
		for _, needle := range needles {
			if needle == "" {
				continue
			}
			if i := strings.Index(src[cur:], needle); i >= 0 {
				off := cur + i
				cur = off + len(needle)
				return utf8.RuneCountInString(src[:off])
			}
		}
		return utf8.RuneCountInString(src[:cur])
	}
	afterBang := func(s string) string {
		if i := strings.LastIndexByte(s, '!'); i >= 0 {
			return s[i:]
		}
		return ""
	}

	var out []lexeme
	var open []lexKind
	closeOf := func(pos int) (lexKind, error) {
		if len(open) == 0 {
			return 0, syntaxError(pos, "unbalanced closing bracket")
		}
		k := open[len(open)-1]
		open = open[:len(open)-1]
		return k, nil
	}
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch t.TType {
		case efp.TokenTypeOperand:
			switch {
			case t.TSubType == efp.TokenSubTypeText:
				quoted := `"` + strings.ReplaceAll(t.TValue, `"`, `""`) + `"`
				out = append(out, lexeme{lexText, t.TValue, at(quoted)})
			case t.TSubType == efp.TokenSubTypeError:
				out = append(out, lexeme{lexError, t.TValue, at(t.TValue)})
			case isMantissa(t.TValue) && i+2 < len(toks) &&
				toks[i+1].TType == efp.TokenTypeOperatorInfix && (toks[i+1].TValue == "+" || toks[i+1].TValue == "-") &&
				toks[i+2].TType == efp.TokenTypeOperand && isNumberText(toks[i+2].TValue):
				text := t.TValue + toks[i+1].TValue + toks[i+2].TValue
				out = append(out, lexeme{lexNumber, text, at(text)})
				i += 2
			case t.TSubType == efp.TokenSubTypeNumber && isNumberText(t.TValue):
				out = append(out, lexeme{lexNumber, t.TValue, at(t.TValue)})
			default:
				out = append(out, lexeme{lexOperand, t.TValue, at(t.TValue, afterBang(t.TValue))})
			}
		case efp.TokenTypeFunction:
			if t.TSubType == efp.TokenSubTypeStart {
				switch t.TValue {
				case "ARRAY":
					open = append(open, lexArrayClose)
					out = append(out, lexeme{lexArrayOpen, "{", at("{")})
				case "ARRAYROW":
					open = append(open, lexRowClose)
					out = append(out, lexeme{kind: lexRowOpen, pos: at()})
				default:
					open = append(open, lexFuncClose)
					out = append(out, lexeme{lexFunc, t.TValue, at(t.TValue + "(")})
				}
				continue
			}
			pos := at()
			k, err := closeOf(pos)
			if err != nil {
				return nil, err
			}
			switch k {
			case lexFuncClose:
				pos = at(")")
			case lexArrayClose:
				pos = at("}")
			case lexParenClose:
				return nil, syntaxError(pos, "mismatched bracket")
			}
			out = append(out, lexeme{kind: k, pos: pos})
		case efp.TokenTypeSubexpression:
			if t.TSubType == efp.TokenSubTypeStart {
				open = append(open, lexParenClose)
				out = append(out, lexeme{lexParenOpen, "(", at("(")})
				continue
			}
			pos := at(")")
			k, err := closeOf(pos)
			if err != nil {
				return nil, err
			}
			if k != lexParenClose {
				return nil, syntaxError(pos, "mismatched bracket")
			}
			out = append(out, lexeme{kind: k, pos: pos})
		case efp.TokenTypeArgument:
			if len(open) > 0 && open[len(open)-1] == lexArrayClose {
				out = append(out, lexeme{lexRowSep, ";", at(";")})
			} else {
				out = append(out, lexeme{lexComma, ",", at(",")})
			}
		case efp.TokenTypeOperatorPrefix:
			out = append(out, lexeme{lexPrefix, t.TValue, at(t.TValue)})
		case efp.TokenTypeOperatorPostfix:
			out = append(out, lexeme{lexPostfix, t.TValue, at(t.TValue)})
		case efp.TokenTypeOperatorInfix:
			switch t.TSubType {
			case efp.TokenSubTypeIntersection:
				out = append(out, lexeme{lexInfix, " ", at(" ")})
			case efp.TokenSubTypeUnion:
				out = append(out, lexeme{lexInfix, ",", at(",")})
			default:
				out = append(out, lexeme{lexInfix, t.TValue, at(t.TValue)})
			}
		default:
			return nil, syntaxError(at(t.TValue), "unexpected %q", t.TValue)
		}
	}
	if len(open) > 0 {
		return nil, syntaxError(utf8.RuneCountInString(src), "missing closing bracket")
	}
	return out, nil
}

type nodeKind int

const (
	nodeNumber nodeKind = iota
	nodeText
	nodeBool
	nodeError
	nodeMissing
	nodeRef
	nodeName
	nodeUnary
	nodeBinary
	nodeParen
	nodeFunc
	nodeAddIn
	nodeArray
)

// node is one element of the parse tree; which fields are set depends on
// kind.
type node struct {
	kind nodeKind
	num  float64
	text string
	b    bool
	code ErrorCode
	op   byte
	args []*node
	def  *FunctionDef
	ref  refText
	// ixti is the external sheet index of a 3-D reference, or -1.
	ixti        int
	index       int
	array       *ArrayPtg
	addInSheet  int
	addInNumber int
}

// Parser turns formula text into tokens. It is safe for concurrent use.
type Parser struct {
	opts *Options
}

// NewParser returns a parser; nil options select the defaults.
func NewParser(opts *Options) *Parser {
	return &Parser{opts: opts.withDefaults()}
}

// ParseFormula parses a cell formula with the default options.
func ParseFormula(text string, sc SheetContext) ([]Ptg, error) {
	return NewParser(nil).Parse(text, sc)
}

// Parse parses a cell formula. A leading "=" is optional.
func (p *Parser) Parse(text string, sc SheetContext) ([]Ptg, error) {
	return p.parse(text, sc, ClassValue)
}

// ParseName parses the formula of a defined name, whose result is a
// reference rather than a value.
func (p *Parser) ParseName(text string, sc SheetContext) ([]Ptg, error) {
	return p.parse(text, sc, ClassReference)
}

func (p *Parser) parse(text string, sc SheetContext, root OperandClass) ([]Ptg, error) {
	lx, err := lex(text)
	if err != nil {
		return nil, err
	}
	if len(lx) == 0 {
		return nil, syntaxError(0, "empty formula")
	}
	st := &parseState{lx: lx, sc: sc, opts: p.opts, end: utf8.RuneCountInString(text)}
	n, err := st.expr(0)
	if err != nil {
		return nil, err
	}
	if t := st.peek(); t.kind != lexEOF {
		return nil, syntaxError(t.pos, "unexpected %q", t.text)
	}
	var out []Ptg
	if st.volatile {
		out = append(out, AttrPtg{Flags: AttrVolatile})
	}
	out = st.gen(n, root, out)
	if p.opts.Verbosity >= 2 {
		for _, t := range out {
			p.opts.Logfile.Write([]byte(t.String() + "\n"))
		}
	}
	return out, nil
}

type parseState struct {
	lx       []lexeme
	i        int
	sc       SheetContext
	opts     *Options
	end      int
	volatile bool
}

func (st *parseState) peek() lexeme {
	if st.i < len(st.lx) {
		return st.lx[st.i]
	}
	return lexeme{kind: lexEOF, pos: st.end}
}

func (st *parseState) next() lexeme {
	t := st.peek()
	if st.i < len(st.lx) {
		st.i++
	}
	return t
}

// expr parses operators that bind tighter than limit.
func (st *parseState) expr(limit int) (*node, error) {
	left, err := st.prefix()
	if err != nil {
		return nil, err
	}
	for {
		t := st.peek()
		switch t.kind {
		case lexPostfix:
			if rankPercent <= limit {
				return left, nil
			}
			st.next()
			left = &node{kind: nodeUnary, op: OpPercent, args: []*node{left}}
		case lexInfix:
			o, ok := infixOps[t.text]
			if !ok {
				return nil, syntaxError(t.pos, "unknown operator %q", t.text)
			}
			if o.rank <= limit {
				return left, nil
			}
			st.next()
			right, err := st.expr(o.rank)
			if err != nil {
				return nil, err
			}
			left = &node{kind: nodeBinary, op: o.op, args: []*node{left, right}}
		default:
			return left, nil
		}
	}
}

func (st *parseState) prefix() (*node, error) {
	t := st.next()
	switch t.kind {
	case lexPrefix:
		arg, err := st.expr(rankUnary)
		if err != nil {
			return nil, err
		}
		op := OpUminus
		if t.text == "+" {
			op = OpUplus
		}
		return &node{kind: nodeUnary, op: op, args: []*node{arg}}, nil
	case lexNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil || math.IsInf(v, 0) {
			return nil, syntaxError(t.pos, "bad number %q", t.text)
		}
		return &node{kind: nodeNumber, num: v}, nil
	case lexText:
		if utf8.RuneCountInString(t.text) > st.opts.Format.MaxStringLen {
			return nil, syntaxError(t.pos, "string longer than %d characters", st.opts.Format.MaxStringLen)
		}
		return &node{kind: nodeText, text: t.text}, nil
	case lexError:
		code, ok := ParseErrorCode(t.text)
		if !ok {
			return nil, syntaxError(t.pos, "unknown error value %s", t.text)
		}
		return &node{kind: nodeError, code: code}, nil
	case lexOperand:
		return st.operand(t)
	case lexFunc:
		return st.function(t)
	case lexParenOpen:
		inner, err := st.expr(0)
		if err != nil {
			return nil, err
		}
		if c := st.next(); c.kind != lexParenClose {
			return nil, syntaxError(c.pos, "expected )")
		}
		return &node{kind: nodeParen, args: []*node{inner}}, nil
	case lexArrayOpen:
		return st.array(t)
	case lexEOF:
		return nil, syntaxError(t.pos, "unexpected end of formula")
	}
	return nil, syntaxError(t.pos, "unexpected %q", t.text)
}

func (st *parseState) boolLiteral(s string) (bool, bool) {
	if b, ok := parseBoolText(s); ok {
		return b, true
	}
	if st.opts.Locale != nil {
		return st.opts.Locale.parseBool(s)
	}
	return false, false
}

// operand reads a reference, a defined name or a boolean. Text such as
// "A1:name" that is not one reference is split at the colons into range
// operations.
func (st *parseState) operand(t lexeme) (*node, error) {
	if b, ok := st.boolLiteral(t.text); ok {
		return &node{kind: nodeBool, b: b}, nil
	}
	if n, ok, err := st.reference(t.text, t.pos); ok || err != nil {
		return n, err
	}
	if parts := strings.Split(t.text, ":"); len(parts) > 1 {
		var left *node
		for _, part := range parts {
			n, ok, err := st.reference(part, t.pos)
			if err != nil {
				return nil, err
			}
			if !ok {
				if n, err = st.name(part, t.pos); err != nil {
					return nil, err
				}
			}
			if left == nil {
				left = n
			} else {
				left = &node{kind: nodeBinary, op: OpRange, args: []*node{left, n}}
			}
		}
		return left, nil
	}
	return st.name(t.text, t.pos)
}

func (st *parseState) reference(text string, pos int) (*node, bool, error) {
	rt, ok := parseRefText(text)
	if !ok {
		return nil, false, nil
	}
	f := st.opts.Format
	rt.bounds(f)
	if !f.rowOK(rt.first.row) || !f.rowOK(rt.last.row) || !f.colOK(rt.first.col) || !f.colOK(rt.last.col) {
		return nil, false, syntaxError(pos, "reference %s out of range", text)
	}
	if rt.first.row > rt.last.row {
		rt.first.row, rt.last.row = rt.last.row, rt.first.row
		rt.first.rowAbs, rt.last.rowAbs = rt.last.rowAbs, rt.first.rowAbs
	}
	if rt.first.col > rt.last.col {
		rt.first.col, rt.last.col = rt.last.col, rt.first.col
		rt.first.colAbs, rt.last.colAbs = rt.last.colAbs, rt.first.colAbs
	}
	n := &node{kind: nodeRef, ref: rt, ixti: -1}
	if rt.hasSheet {
		ixti, ok := st.sc.SheetIndex(rt.sheet)
		if !ok {
			return nil, false, &FormulaError{Kind: UnknownName, Offset: pos, Name: rt.sheet,
				Message: "unknown sheet " + QuotedSheetName(rt.sheet)}
		}
		n.ixti = ixti
	}
	return n, true, nil
}

func (st *parseState) name(text string, pos int) (*node, error) {
	if idx, ok := st.sc.NameIndex(text); ok {
		return &node{kind: nodeName, index: idx}, nil
	}
	return nil, &FormulaError{Kind: UnknownName, Offset: pos, Name: text, Message: "unknown name " + text}
}

func (st *parseState) function(t lexeme) (*node, error) {
	var args []*node
	if st.peek().kind == lexFuncClose {
		st.next()
	} else {
		for {
			if k := st.peek().kind; k == lexComma || k == lexFuncClose {
				args = append(args, &node{kind: nodeMissing})
			} else {
				arg, err := st.expr(0)
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
			}
			sep := st.next()
			if sep.kind == lexFuncClose {
				break
			}
			if sep.kind != lexComma {
				return nil, syntaxError(sep.pos, "expected , or ) in arguments of %s", t.text)
			}
		}
	}

	name := strings.TrimPrefix(strings.ToUpper(t.text), "_XLFN.")
	if st.opts.Locale != nil {
		name = st.opts.Locale.englishFunction(name)
	}
	def := FunctionByName(name)
	if def == nil {
		if ac, ok := st.sc.(AddInContext); ok {
			if ixti, index, ok := ac.AddInIndex(t.text); ok {
				if len(args) >= maxArgs {
					return nil, syntaxError(t.pos, "too many arguments to %s", t.text)
				}
				return &node{kind: nodeAddIn, args: args, addInSheet: ixti, addInNumber: index}, nil
			}
		}
		return nil, &FormulaError{
			Kind:       UnknownFunctionName,
			Offset:     t.pos,
			Name:       t.text,
			Suggestion: suggestFunction(name),
			Message:    "unknown function " + t.text,
		}
	}
	if len(args) < def.MinArgs || len(args) > def.MaxArgs {
		return nil, syntaxError(t.pos, "%s takes %d to %d arguments, got %d", def.Name, def.MinArgs, def.MaxArgs, len(args))
	}
	if def.Volatile {
		st.volatile = true
	}
	return &node{kind: nodeFunc, def: def, args: args}, nil
}

// suggestFunction finds the known function name closest to name.
func suggestFunction(name string) string {
	names := FunctionNames()
	if ranks := fuzzy.RankFindFold(name, names); len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target
	}
	best, bestDist := "", 3
	for _, n := range names {
		if d := fuzzy.LevenshteinDistance(name, n); d < bestDist {
			best, bestDist = n, d
		}
	}
	return best
}

func (st *parseState) array(open lexeme) (*node, error) {
	var rows [][]Value
	for {
		if t := st.next(); t.kind != lexRowOpen {
			return nil, syntaxError(t.pos, "malformed array constant")
		}
		var row []Value
		for {
			v, err := st.arrayElement()
			if err != nil {
				return nil, err
			}
			row = append(row, v)
			t := st.next()
			if t.kind == lexRowClose {
				break
			}
			if t.kind != lexComma {
				return nil, syntaxError(t.pos, "expected , or ; in array constant")
			}
		}
		rows = append(rows, row)
		t := st.next()
		if t.kind == lexArrayClose {
			break
		}
		if t.kind != lexRowSep {
			return nil, syntaxError(t.pos, "expected } after array constant")
		}
	}
	cols := len(rows[0])
	arr := &ArrayPtg{Cls: ClassArray, Rows: len(rows), Cols: cols}
	wide := false
	for _, row := range rows {
		if len(row) != cols {
			return nil, syntaxError(open.pos, "array constant rows differ in length")
		}
		for _, v := range row {
			arr.Values = append(arr.Values, v)
			if t, ok := v.(Text); ok && !isLatin1(string(t)) {
				wide = true
			}
		}
	}
	if wide {
		arr.Wide = make([]bool, len(arr.Values))
		for i, v := range arr.Values {
			if t, ok := v.(Text); ok {
				arr.Wide[i] = !isLatin1(string(t))
			}
		}
	}
	return &node{kind: nodeArray, array: arr}, nil
}

func (st *parseState) arrayElement() (Value, error) {
	t := st.next()
	neg := false
	if t.kind == lexPrefix {
		neg = t.text == "-"
		t = st.next()
		if t.kind != lexNumber {
			return nil, syntaxError(t.pos, "sign before a non-number in array constant")
		}
	}
	switch t.kind {
	case lexNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, syntaxError(t.pos, "bad number %q", t.text)
		}
		if neg {
			v = -v
		}
		return Number(v), nil
	case lexText:
		if utf8.RuneCountInString(t.text) > st.opts.Format.MaxStringLen {
			return nil, syntaxError(t.pos, "string longer than %d characters", st.opts.Format.MaxStringLen)
		}
		return Text(t.text), nil
	case lexError:
		if code, ok := ParseErrorCode(t.text); ok {
			return code, nil
		}
	case lexOperand:
		if b, ok := st.boolLiteral(t.text); ok {
			return Boolean(b), nil
		}
	}
	return nil, syntaxError(t.pos, "array constants hold only literals")
}

// operatorClass is the class of an operand of an arithmetic, comparison or
// concatenation operator standing in a position of class pos.
func operatorClass(pos OperandClass) OperandClass {
	if pos == ClassArray {
		return ClassArray
	}
	return ClassValue
}

// argClass is the class of argument i of def in a position of class pos.
func argClass(def *FunctionDef, i int, pos OperandClass) OperandClass {
	c := def.ArgClass(i)
	if c == ClassValue && pos == ClassArray {
		return ClassArray
	}
	return c
}

// funcClass is the class of the call token itself.
func funcClass(def *FunctionDef, pos OperandClass) OperandClass {
	switch {
	case def.Ret == ClassArray:
		return ClassArray
	case def.Ret == ClassValue && pos == ClassReference:
		return ClassValue
	}
	return pos
}

func (st *parseState) gen(n *node, cls OperandClass, out []Ptg) []Ptg {
	switch n.kind {
	case nodeNumber:
		if n.num >= 0 && n.num <= math.MaxUint16 && n.num == math.Trunc(n.num) {
			return append(out, IntPtg{Value: uint16(n.num)})
		}
		return append(out, NumPtg{Value: n.num})
	case nodeText:
		return append(out, StrPtg{Value: n.text, Wide: !isLatin1(n.text)})
	case nodeBool:
		return append(out, BoolPtg{Value: n.b})
	case nodeError:
		return append(out, ErrPtg{Code: n.code})
	case nodeMissing:
		return append(out, MissArgPtg{})
	case nodeRef:
		return append(out, refPtg(n, cls))
	case nodeName:
		return append(out, NamePtg{Cls: cls, Index: uint16(n.index)})
	case nodeArray:
		return append(out, *n.array)
	case nodeParen:
		return append(st.gen(n.args[0], cls, out), ParenPtg{})
	case nodeUnary:
		return append(st.gen(n.args[0], operatorClass(cls), out), OperatorPtg{Op: n.op})
	case nodeBinary:
		argCls := operatorClass(cls)
		if n.op == OpUnion || n.op == OpIsect || n.op == OpRange {
			argCls = ClassReference
		}
		out = st.gen(n.args[0], argCls, out)
		out = st.gen(n.args[1], argCls, out)
		return append(out, OperatorPtg{Op: n.op})
	case nodeAddIn:
		out = append(out, NameXPtg{Cls: ClassReference, Ixti: uint16(n.addInSheet), Index: uint16(n.addInNumber)})
		for _, a := range n.args {
			out = st.gen(a, ClassReference, out)
		}
		return append(out, FuncVarPtg{Cls: operatorClass(cls), Argc: byte(len(n.args) + 1), Index: addInIndex})
	case nodeFunc:
		def := n.def
		for i, a := range n.args {
			out = st.gen(a, argClass(def, i, cls), out)
		}
		if def.Index == 4 && len(n.args) == 1 {
			return append(out, AttrPtg{Flags: AttrSum})
		}
		if def.Fixed() {
			return append(out, FuncPtg{Cls: funcClass(def, cls), Index: uint16(def.Index)})
		}
		return append(out, FuncVarPtg{Cls: funcClass(def, cls), Argc: byte(len(n.args)), Index: uint16(def.Index)})
	}
	return out
}

func refPtg(n *node, cls OperandClass) Ptg {
	rt := n.ref
	c1 := NewColField(rt.first.col, !rt.first.rowAbs, !rt.first.colAbs)
	if !rt.area {
		if n.ixti >= 0 {
			return Ref3dPtg{Cls: cls, Ixti: uint16(n.ixti), Row: uint16(rt.first.row), Col: c1}
		}
		return RefPtg{Cls: cls, Row: uint16(rt.first.row), Col: c1}
	}
	c2 := NewColField(rt.last.col, !rt.last.rowAbs, !rt.last.colAbs)
	if n.ixti >= 0 {
		return Area3dPtg{Cls: cls, Ixti: uint16(n.ixti), FirstRow: uint16(rt.first.row), LastRow: uint16(rt.last.row), FirstCol: c1, LastCol: c2}
	}
	return AreaPtg{Cls: cls, FirstRow: uint16(rt.first.row), LastRow: uint16(rt.last.row), FirstCol: c1, LastCol: c2}
}
