package resolve

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/parser"
	"go/token"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	charLitRe   = regexp.MustCompile(`'((?:\\.|[^'\\]){1,4})'`)
	intSuffixRe = regexp.MustCompile(`\b(0[xX][0-9a-fA-F]+|\d+)([uUlL]+)\b`)
	castRe      = regexp.MustCompile(`\(\s*(?:(?:unsigned|signed|long|short|const)\s+)*(?:int|long|short|char|unsigned|signed|NSInteger|NSUInteger|CFIndex|CFOptionFlags|CGFloat|[US]Int(?:8|16|32|64)|u?int(?:8|16|32|64)_t)\s*\)`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// Suffixed literals and casts are rewritten into calls of these pseudo
// functions so the Go parser keeps them.
const (
	suffixFunc = "__suffix_"
	castFunc   = "__cast_"
)

// ctype is the C type of an intermediate value.
type ctype struct {
	bits     int
	unsigned bool
	float    bool
}

var (
	cInt    = ctype{bits: 32}
	cDouble = ctype{bits: 64, float: true}
)

func unsigned(t ctype) ctype {
	t.unsigned = true
	return t
}

type cval struct {
	v constant.Value
	t ctype
}

// evaluator computes values with C semantics for one architecture: long
// is as wide as the word, and every result is wrapped to its type.
type evaluator struct {
	env  map[string]constant.Value
	long int
}

// evalValue evaluates a C integer or floating point expression as found in
// enum initializers and macro bodies. Identifiers are looked up in env.
func evalValue(expr string, env map[string]constant.Value, arch64 bool) (constant.Value, error) {
	src, err := goExpr(expr)
	if err != nil {
		return nil, err
	}
	e, err := parser.ParseExpr(src)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", expr, err)
	}
	ev := &evaluator{env: env, long: 32}
	if arch64 {
		ev.long = 64
	}
	v, err := ev.eval(e)
	if err != nil {
		return nil, fmt.Errorf("evaluating %q: %w", expr, err)
	}
	return v.v, nil
}

// goExpr rewrites the C-only parts of expr into Go syntax: multi-character
// constants, integer suffixes, casts and the '~' operator.
func goExpr(expr string) (string, error) {
	var bad error
	s := charLitRe.ReplaceAllStringFunc(expr, func(lit string) string {
		n, err := charCode(lit[1 : len(lit)-1])
		if err != nil {
			bad = err
			return lit
		}
		return strconv.FormatUint(n, 10)
	})
	if bad != nil {
		return "", bad
	}
	s = intSuffixRe.ReplaceAllStringFunc(s, func(lit string) string {
		m := intSuffixRe.FindStringSubmatch(lit)
		return suffixFunc + normalizeSuffix(m[2]) + "(" + m[1] + ")"
	})
	s, err := rewriteCasts(s)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(s, "~", "^"), nil
}

// normalizeSuffix orders an integer suffix as U then L, so "lu" and "UL"
// read the same.
func normalizeSuffix(suffix string) string {
	upper := strings.ToUpper(suffix)
	var b strings.Builder
	if strings.Contains(upper, "U") {
		b.WriteString("U")
	}
	b.WriteString(strings.Repeat("L", strings.Count(upper, "L")))
	if b.Len() != len(suffix) {
		return "X"
	}
	return b.String()
}

// rewriteCasts turns "(type)operand" into a call so the cast keeps its
// precedence. Casts are rewritten right to left so nested ones work.
func rewriteCasts(s string) (string, error) {
	locs := castRe.FindAllStringIndex(s, -1)
	for i := len(locs) - 1; i >= 0; i-- {
		loc := locs[i]
		end, ok := operandEnd(s, loc[1])
		if !ok {
			return "", fmt.Errorf("cast without operand in %q", s)
		}
		name := spaceRe.ReplaceAllString(strings.TrimSpace(s[loc[0]+1:loc[1]-1]), "_")
		s = s[:loc[0]] + castFunc + name + "(" + s[loc[1]:end] + ")" + s[end:]
	}
	return s, nil
}

// operandEnd returns where the operand starting at i ends: optional unary
// operators, then a word with an optional call or a parenthesized group.
func operandEnd(s string, i int) (int, bool) {
	skip := func() {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
	}
	skip()
	for i < len(s) && strings.IndexByte("-+~!", s[i]) >= 0 {
		i++
		skip()
	}
	start := i
	for i < len(s) && (isWordByte(s[i]) || s[i] == '.') {
		i++
	}
	if i < len(s) && s[i] == '(' {
		depth := 0
		for ; i < len(s); i++ {
			switch s[i] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					return i + 1, true
				}
			}
		}
		return 0, false
	}
	return i, i > start
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// charCode packs up to four characters big-endian first, the way C
// compilers value 'abcd'.
func charCode(body string) (uint64, error) {
	var n uint64
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '\\' && i+1 < len(body) {
			i++
			switch body[i] {
			case 'n':
				c = '\n'
			case 't':
				c = '\t'
			case 'r':
				c = '\r'
			case '0':
				c = 0
			case '\\', '\'', '"':
				c = body[i]
			default:
				return 0, fmt.Errorf("unsupported escape in '%s'", body)
			}
		}
		n = n<<8 | uint64(c)
	}
	return n, nil
}

func (ev *evaluator) eval(e ast.Expr) (cval, error) {
	switch e := e.(type) {
	case *ast.BasicLit:
		return ev.literal(e, "")
	case *ast.Ident:
		v, ok := ev.env[e.Name]
		if !ok {
			return cval{}, fmt.Errorf("unknown identifier %s", e.Name)
		}
		t, err := valueType(v)
		if err != nil {
			return cval{}, fmt.Errorf("%s: %w", e.Name, err)
		}
		return cval{v, t}, nil
	case *ast.ParenExpr:
		return ev.eval(e.X)
	case *ast.CallExpr:
		return ev.call(e)
	case *ast.UnaryExpr:
		x, err := ev.eval(e.X)
		if err != nil {
			return cval{}, err
		}
		t := promote(x.t)
		switch e.Op {
		case token.ADD:
			return cval{convert(x.v, t), t}, nil
		case token.SUB:
			return cval{convert(constant.UnaryOp(token.SUB, convert(x.v, t), 0), t), t}, nil
		case token.XOR:
			if t.float {
				return cval{}, fmt.Errorf("complement of non-integer")
			}
			return cval{convert(constant.UnaryOp(token.XOR, x.v, 0), t), t}, nil
		}
		return cval{}, fmt.Errorf("unsupported operator %s", e.Op)
	case *ast.BinaryExpr:
		x, err := ev.eval(e.X)
		if err != nil {
			return cval{}, err
		}
		y, err := ev.eval(e.Y)
		if err != nil {
			return cval{}, err
		}
		return binary(e.Op, x, y)
	}
	return cval{}, fmt.Errorf("unsupported expression %T", e)
}

func (ev *evaluator) call(e *ast.CallExpr) (cval, error) {
	fn, ok := e.Fun.(*ast.Ident)
	if !ok || len(e.Args) != 1 {
		return cval{}, fmt.Errorf("unsupported call")
	}
	switch {
	case strings.HasPrefix(fn.Name, suffixFunc):
		lit, ok := e.Args[0].(*ast.BasicLit)
		if !ok {
			return cval{}, fmt.Errorf("unsupported call %s", fn.Name)
		}
		return ev.literal(lit, strings.TrimPrefix(fn.Name, suffixFunc))
	case strings.HasPrefix(fn.Name, castFunc):
		name := strings.TrimPrefix(fn.Name, castFunc)
		t, ok := ev.castType(name)
		if !ok {
			return cval{}, fmt.Errorf("unsupported cast to %s", strings.ReplaceAll(name, "_", " "))
		}
		x, err := ev.eval(e.Args[0])
		if err != nil {
			return cval{}, err
		}
		return cval{convert(x.v, t), t}, nil
	}
	return cval{}, fmt.Errorf("unsupported call %s", fn.Name)
}

// literal types an integer constant the way C does: the first type of the
// suffix's list that holds the value. Unsuffixed decimal constants never
// become unsigned.
func (ev *evaluator) literal(lit *ast.BasicLit, suffix string) (cval, error) {
	switch lit.Kind {
	case token.INT:
	case token.FLOAT:
		if suffix != "" {
			return cval{}, fmt.Errorf("bad literal %s%s", lit.Value, suffix)
		}
		v := constant.MakeFromLiteral(lit.Value, lit.Kind, 0)
		if v.Kind() == constant.Unknown {
			return cval{}, fmt.Errorf("bad literal %s", lit.Value)
		}
		return cval{v, cDouble}, nil
	default:
		return cval{}, fmt.Errorf("unsupported literal %s", lit.Value)
	}
	v := constant.MakeFromLiteral(lit.Value, lit.Kind, 0)
	if v.Kind() == constant.Unknown {
		return cval{}, fmt.Errorf("bad literal %s", lit.Value)
	}

	i, l, ll := cInt, ctype{bits: ev.long}, ctype{bits: 64}
	var candidates []ctype
	switch suffix {
	case "":
		candidates = []ctype{i, unsigned(i), l, unsigned(l), ll, unsigned(ll)}
	case "U":
		candidates = []ctype{unsigned(i), unsigned(l), unsigned(ll)}
	case "L":
		candidates = []ctype{l, unsigned(l), ll, unsigned(ll)}
	case "UL":
		candidates = []ctype{unsigned(l), unsigned(ll)}
	case "LL":
		candidates = []ctype{ll, unsigned(ll)}
	case "ULL":
		candidates = []ctype{unsigned(ll)}
	default:
		return cval{}, fmt.Errorf("bad suffix on %s", lit.Value)
	}
	decimal := !strings.HasPrefix(lit.Value, "0") || lit.Value == "0"
	for _, t := range candidates {
		if t.unsigned && decimal && !strings.Contains(suffix, "U") {
			continue
		}
		if fits(v, t) {
			return cval{v, t}, nil
		}
	}
	return cval{}, fmt.Errorf("literal %s too large", lit.Value)
}

func (ev *evaluator) castType(name string) (ctype, bool) {
	l := ctype{bits: ev.long}
	switch strings.ReplaceAll(name, "const_", "") {
	case "char", "signed_char", "SInt8", "int8_t":
		return ctype{bits: 8}, true
	case "unsigned_char", "UInt8", "uint8_t":
		return ctype{bits: 8, unsigned: true}, true
	case "short", "signed_short", "short_int", "SInt16", "int16_t":
		return ctype{bits: 16}, true
	case "unsigned_short", "unsigned_short_int", "UInt16", "uint16_t":
		return ctype{bits: 16, unsigned: true}, true
	case "int", "signed", "signed_int", "SInt32", "int32_t":
		return cInt, true
	case "unsigned", "unsigned_int", "UInt32", "uint32_t":
		return unsigned(cInt), true
	case "long", "long_int", "signed_long", "NSInteger", "CFIndex":
		return l, true
	case "unsigned_long", "unsigned_long_int", "NSUInteger", "CFOptionFlags":
		return unsigned(l), true
	case "long_long", "signed_long_long", "SInt64", "int64_t":
		return ctype{bits: 64}, true
	case "unsigned_long_long", "UInt64", "uint64_t":
		return ctype{bits: 64, unsigned: true}, true
	case "CGFloat":
		return cDouble, true
	}
	return ctype{}, false
}

// valueType types an already resolved value: int when it fits, otherwise
// the narrowest 64-bit type.
func valueType(v constant.Value) (ctype, error) {
	if v.Kind() != constant.Int {
		return cDouble, nil
	}
	for _, t := range []ctype{cInt, {bits: 64}, {bits: 64, unsigned: true}} {
		if fits(v, t) {
			return t, nil
		}
	}
	return ctype{}, fmt.Errorf("value %s out of range", v.ExactString())
}

func bound(bits int) constant.Value {
	return constant.Shift(constant.MakeInt64(1), token.SHL, uint(bits))
}

func fits(v constant.Value, t ctype) bool {
	if t.unsigned {
		return constant.Sign(v) >= 0 && constant.Compare(v, token.LSS, bound(t.bits))
	}
	half := bound(t.bits - 1)
	return constant.Compare(v, token.LSS, half) &&
		constant.Compare(v, token.GEQ, constant.UnaryOp(token.SUB, half, 0))
}

// convert brings v into t, truncating floats and wrapping integers modulo
// the type's width.
func convert(v constant.Value, t ctype) constant.Value {
	if t.float {
		return constant.ToFloat(v)
	}
	if v.Kind() != constant.Int {
		f, _ := constant.Float64Val(v)
		v = constant.ToInt(constant.MakeFloat64(math.Trunc(f)))
	}
	mod := bound(t.bits)
	u := constant.BinaryOp(v, token.AND, constant.BinaryOp(mod, token.SUB, constant.MakeInt64(1)))
	if !t.unsigned && constant.Compare(u, token.GEQ, bound(t.bits-1)) {
		u = constant.BinaryOp(u, token.SUB, mod)
	}
	return u
}

// promote applies the integer promotions.
func promote(t ctype) ctype {
	if !t.float && t.bits < cInt.bits {
		return cInt
	}
	return t
}

// common applies the usual arithmetic conversions.
func common(a, b ctype) ctype {
	if a.float || b.float {
		return cDouble
	}
	a, b = promote(a), promote(b)
	switch {
	case a.bits > b.bits:
		return a
	case b.bits > a.bits:
		return b
	}
	return ctype{bits: a.bits, unsigned: a.unsigned || b.unsigned}
}

func binary(op token.Token, x, y cval) (cval, error) {
	if op == token.SHL || op == token.SHR {
		t := promote(x.t)
		if t.float || y.t.float {
			return cval{}, fmt.Errorf("operator %s needs integers", op)
		}
		s, ok := constant.Uint64Val(y.v)
		if !ok || s >= uint64(t.bits) {
			return cval{}, fmt.Errorf("shift by %s exceeds %d bits", y.v.ExactString(), t.bits)
		}
		return cval{convert(constant.Shift(convert(x.v, t), op, uint(s)), t), t}, nil
	}

	t := common(x.t, y.t)
	xv, yv := convert(x.v, t), convert(y.v, t)
	switch op {
	case token.ADD, token.SUB, token.MUL:
		return cval{convert(constant.BinaryOp(xv, op, yv), t), t}, nil
	case token.QUO:
		if constant.Sign(yv) == 0 {
			return cval{}, fmt.Errorf("division by zero")
		}
		if !t.float {
			op = token.QUO_ASSIGN
		}
		return cval{convert(constant.BinaryOp(xv, op, yv), t), t}, nil
	case token.REM, token.AND, token.OR, token.XOR:
		if t.float {
			return cval{}, fmt.Errorf("operator %s needs integers", op)
		}
		if op == token.REM && constant.Sign(yv) == 0 {
			return cval{}, fmt.Errorf("division by zero")
		}
		return cval{convert(constant.BinaryOp(xv, op, yv), t), t}, nil
	}
	return cval{}, fmt.Errorf("unsupported operator %s", op)
}

// parseNumber reads a value as stored in the oracle tables.
func parseNumber(s string) (constant.Value, bool) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return constant.MakeInt64(i), true
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return constant.MakeUint64(u), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return constant.MakeFloat64(f), true
	}
	return nil, false
}

// formatNumber renders v in the form the oracle tables use.
func formatNumber(v constant.Value) string {
	if v.Kind() == constant.Int {
		return v.ExactString()
	}
	f, _ := constant.Float64Val(v)
	return strconv.FormatFloat(f, 'g', -1, 64)
}
