package symbolic

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Expr is a closed-form expression over named variables.
type Expr interface {
	Eval(env map[string]float64) float64
	String() string
	LaTeX() string
	kind() int
}

const (
	kindConst = iota
	kindVar
	kindAdd
	kindMul
	kindPow
	kindCall
)

var elementary = map[string]func(float64) float64{
	"sin":  math.Sin,
	"cos":  math.Cos,
	"exp":  math.Exp,
	"tanh": math.Tanh,
}

type constExpr struct{ v float64 }
type varExpr struct{ name string }
type addExpr struct{ terms []Expr }
type mulExpr struct{ factors []Expr }
type powExpr struct {
	base Expr
	n    int
}
type callExpr struct {
	fn  string
	arg Expr
}

// Const returns the constant v.
func Const(v float64) Expr { return constExpr{v: v} }

// Var returns the variable name.
func Var(name string) Expr { return varExpr{name: name} }

// Add returns the sum of terms.
func Add(terms ...Expr) Expr { return addExpr{terms: terms} }

// Mul returns the product of factors.
func Mul(factors ...Expr) Expr { return mulExpr{factors: factors} }

// Pow returns base^n for integer n.
func Pow(base Expr, n int) Expr { return powExpr{base: base, n: n} }

// Call applies one of sin, cos, exp, tanh to arg.
func Call(fn string, arg Expr) Expr { return callExpr{fn: fn, arg: arg} }

func (e constExpr) Eval(map[string]float64) float64 { return e.v }
func (e varExpr) Eval(env map[string]float64) float64 {
	v, ok := env[e.name]
	if !ok {
		return math.NaN()
	}
	return v
}
func (e addExpr) Eval(env map[string]float64) float64 {
	var s float64
	for _, t := range e.terms {
		s += t.Eval(env)
	}
	return s
}
func (e mulExpr) Eval(env map[string]float64) float64 {
	p := 1.0
	for _, f := range e.factors {
		p *= f.Eval(env)
	}
	return p
}
func (e powExpr) Eval(env map[string]float64) float64 {
	return math.Pow(e.base.Eval(env), float64(e.n))
}
func (e callExpr) Eval(env map[string]float64) float64 {
	f, ok := elementary[e.fn]
	if !ok {
		return math.NaN()
	}
	return f(e.arg.Eval(env))
}

func (constExpr) kind() int { return kindConst }
func (varExpr) kind() int   { return kindVar }
func (addExpr) kind() int   { return kindAdd }
func (mulExpr) kind() int   { return kindMul }
func (powExpr) kind() int   { return kindPow }
func (callExpr) kind() int  { return kindCall }

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (e constExpr) String() string { return formatFloat(e.v) }
func (e varExpr) String() string   { return e.name }

func (e addExpr) String() string {
	if len(e.terms) == 0 {
		return "0"
	}
	var b strings.Builder
	for i, t := range e.terms {
		s := t.String()
		switch {
		case i == 0:
			b.WriteString(s)
		case strings.HasPrefix(s, "-"):
			b.WriteString(" - ")
			b.WriteString(s[1:])
		default:
			b.WriteString(" + ")
			b.WriteString(s)
		}
	}
	return b.String()
}

func (e mulExpr) String() string {
	if len(e.factors) == 0 {
		return "1"
	}
	parts := make([]string, 0, len(e.factors))
	neg := false
	for i, f := range e.factors {
		if c, ok := f.(constExpr); ok && i == 0 && len(e.factors) > 1 {
			switch c.v {
			case -1:
				neg = true
				continue
			case 1:
				continue
			}
		}
		s := f.String()
		if f.kind() == kindAdd {
			s = "(" + s + ")"
		}
		parts = append(parts, s)
	}
	out := strings.Join(parts, "*")
	if neg {
		return "-" + out
	}
	return out
}

func (e powExpr) String() string {
	s := e.base.String()
	if needsParens(e.base) {
		s = "(" + s + ")"
	}
	return s + "^" + strconv.Itoa(e.n)
}

func (e callExpr) String() string { return e.fn + "(" + e.arg.String() + ")" }

func needsParens(e Expr) bool {
	switch v := e.(type) {
	case addExpr, mulExpr, powExpr:
		return true
	case constExpr:
		return v.v < 0
	}
	return false
}

func (e constExpr) LaTeX() string { return formatFloat(e.v) }
func (e varExpr) LaTeX() string   { return e.name }

func (e addExpr) LaTeX() string {
	if len(e.terms) == 0 {
		return "0"
	}
	var b strings.Builder
	for i, t := range e.terms {
		s := t.LaTeX()
		switch {
		case i == 0:
			b.WriteString(s)
		case strings.HasPrefix(s, "-"):
			b.WriteString(" - ")
			b.WriteString(s[1:])
		default:
			b.WriteString(" + ")
			b.WriteString(s)
		}
	}
	return b.String()
}

func (e mulExpr) LaTeX() string {
	parts := make([]string, 0, len(e.factors))
	neg := false
	for i, f := range e.factors {
		if c, ok := f.(constExpr); ok && i == 0 && len(e.factors) > 1 && c.v == -1 {
			neg = true
			continue
		}
		s := f.LaTeX()
		if f.kind() == kindAdd {
			s = `\left(` + s + `\right)`
		}
		parts = append(parts, s)
	}
	out := strings.Join(parts, ` \cdot `)
	if neg {
		return "-" + out
	}
	return out
}

func (e powExpr) LaTeX() string {
	s := e.base.LaTeX()
	if needsParens(e.base) {
		s = `\left(` + s + `\right)`
	}
	return s + "^{" + strconv.Itoa(e.n) + "}"
}

func (e callExpr) LaTeX() string {
	if e.fn == "exp" {
		return "e^{" + e.arg.LaTeX() + "}"
	}
	return `\` + e.fn + `\left(` + e.arg.LaTeX() + `\right)`
}

// Simplify folds constants, flattens nested sums and products, distributes
// constant factors over sums and collects like terms.
func Simplify(e Expr) Expr {
	switch v := e.(type) {
	case addExpr:
		return simplifyAdd(v)
	case mulExpr:
		return simplifyMul(v)
	case powExpr:
		base := Simplify(v.base)
		switch {
		case v.n == 0:
			return Const(1)
		case v.n == 1:
			return base
		}
		if c, ok := base.(constExpr); ok {
			return Const(math.Pow(c.v, float64(v.n)))
		}
		return powExpr{base: base, n: v.n}
	case callExpr:
		arg := Simplify(v.arg)
		if c, ok := arg.(constExpr); ok {
			if f, ok := elementary[v.fn]; ok {
				return Const(f(c.v))
			}
		}
		return callExpr{fn: v.fn, arg: arg}
	}
	return e
}

func simplifyAdd(a addExpr) Expr {
	var flat []Expr
	for _, t := range a.terms {
		s := Simplify(t)
		if inner, ok := s.(addExpr); ok {
			flat = append(flat, inner.terms...)
		} else {
			flat = append(flat, s)
		}
	}

	var constant float64
	coeffs := map[string]float64{}
	rests := map[string]Expr{}
	var order []string
	for _, t := range flat {
		if c, ok := t.(constExpr); ok {
			constant += c.v
			continue
		}
		coef, rest := splitCoefficient(t)
		key := rest.String()
		if _, seen := rests[key]; !seen {
			order = append(order, key)
			rests[key] = rest
		}
		coeffs[key] += coef
	}

	var terms []Expr
	for _, key := range order {
		coef := coeffs[key]
		if coef == 0 {
			continue
		}
		terms = append(terms, scaled(coef, rests[key]))
	}
	if constant != 0 {
		terms = append(terms, Const(constant))
	}
	switch len(terms) {
	case 0:
		return Const(0)
	case 1:
		return terms[0]
	}
	return addExpr{terms: terms}
}

func simplifyMul(m mulExpr) Expr {
	coef := 1.0
	var rest []Expr
	for _, f := range m.factors {
		s := Simplify(f)
		switch v := s.(type) {
		case constExpr:
			coef *= v.v
		case mulExpr:
			for _, inner := range v.factors {
				if c, ok := inner.(constExpr); ok {
					coef *= c.v
				} else {
					rest = append(rest, inner)
				}
			}
		default:
			rest = append(rest, s)
		}
	}
	if coef == 0 {
		return Const(0)
	}
	if len(rest) == 0 {
		return Const(coef)
	}
	if len(rest) == 1 {
		if sum, ok := rest[0].(addExpr); ok && coef != 1 {
			terms := make([]Expr, len(sum.terms))
			for i, t := range sum.terms {
				terms[i] = Mul(Const(coef), t)
			}
			return simplifyAdd(addExpr{terms: terms})
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].kind() < rest[j].kind() })
	return scaled(coef, productOf(rest))
}

func productOf(factors []Expr) Expr {
	if len(factors) == 1 {
		return factors[0]
	}
	return mulExpr{factors: factors}
}

func splitCoefficient(e Expr) (float64, Expr) {
	m, ok := e.(mulExpr)
	if !ok {
		return 1, e
	}
	if c, ok := m.factors[0].(constExpr); ok {
		return c.v, productOf(m.factors[1:])
	}
	return 1, e
}

func scaled(coef float64, e Expr) Expr {
	if coef == 1 {
		return e
	}
	if m, ok := e.(mulExpr); ok {
		return mulExpr{factors: append([]Expr{Const(coef)}, m.factors...)}
	}
	return mulExpr{factors: []Expr{Const(coef), e}}
}

// Round rounds every constant in e to the given number of decimal places
// and simplifies the result.
func Round(e Expr, digits int) Expr {
	return Simplify(roundConsts(e, math.Pow(10, float64(digits))))
}

func roundConsts(e Expr, scale float64) Expr {
	switch v := e.(type) {
	case constExpr:
		return Const(math.Round(v.v*scale) / scale)
	case addExpr:
		terms := make([]Expr, len(v.terms))
		for i, t := range v.terms {
			terms[i] = roundConsts(t, scale)
		}
		return addExpr{terms: terms}
	case mulExpr:
		factors := make([]Expr, len(v.factors))
		for i, f := range v.factors {
			factors[i] = roundConsts(f, scale)
		}
		return mulExpr{factors: factors}
	case powExpr:
		return powExpr{base: roundConsts(v.base, scale), n: v.n}
	case callExpr:
		return callExpr{fn: v.fn, arg: roundConsts(v.arg, scale)}
	}
	return e
}
