// Package symbolic holds the candidate functions symbolic edges can take,
// the affine parameter fit used to match them to learned activations, and a
// small expression tree for the extracted formulas.
package symbolic

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrUnknownFunction is returned for names missing from the library.
var ErrUnknownFunction = errors.New("symbolic: unknown function")

// Function is a univariate function with derivatives up to third order.
type Function struct {
	Name string
	// Derivs returns f, f', f'', f''' at x.
	Derivs func(x float64) [4]float64
	// Build returns the expression f(arg).
	Build func(arg Expr) Expr
	// Affine marks functions for which the inner affine map is redundant;
	// the fit fixes a=1, b=0.
	Affine bool
}

// Eval returns f(x).
func (f *Function) Eval(x float64) float64 { return f.Derivs(x)[0] }

var library = map[string]*Function{
	"x": {
		Name:   "x",
		Derivs: func(x float64) [4]float64 { return [4]float64{x, 1, 0, 0} },
		Build:  func(arg Expr) Expr { return arg },
		Affine: true,
	},
	"x^2": {
		Name:   "x^2",
		Derivs: func(x float64) [4]float64 { return [4]float64{x * x, 2 * x, 2, 0} },
		Build:  func(arg Expr) Expr { return Pow(arg, 2) },
	},
	"x^3": {
		Name:   "x^3",
		Derivs: func(x float64) [4]float64 { return [4]float64{x * x * x, 3 * x * x, 6 * x, 6} },
		Build:  func(arg Expr) Expr { return Pow(arg, 3) },
	},
	"exp": {
		Name: "exp",
		Derivs: func(x float64) [4]float64 {
			e := math.Exp(x)
			return [4]float64{e, e, e, e}
		},
		Build: func(arg Expr) Expr { return Call("exp", arg) },
	},
	"sin": {
		Name: "sin",
		Derivs: func(x float64) [4]float64 {
			s, c := math.Sincos(x)
			return [4]float64{s, c, -s, -c}
		},
		Build: func(arg Expr) Expr { return Call("sin", arg) },
	},
	"cos": {
		Name: "cos",
		Derivs: func(x float64) [4]float64 {
			s, c := math.Sincos(x)
			return [4]float64{c, -s, -c, s}
		},
		Build: func(arg Expr) Expr { return Call("cos", arg) },
	},
	"tanh": {
		Name: "tanh",
		Derivs: func(x float64) [4]float64 {
			th := math.Tanh(x)
			d1 := 1 - th*th
			d2 := -2 * th * d1
			d3 := -2*d1*d1 + 4*th*th*d1
			return [4]float64{th, d1, d2, d3}
		},
		Build: func(arg Expr) Expr { return Call("tanh", arg) },
	},
	"gaussian": {
		Name: "gaussian",
		Derivs: func(x float64) [4]float64 {
			g := math.Exp(-x * x)
			return [4]float64{g, -2 * x * g, (4*x*x - 2) * g, (12*x - 8*x*x*x) * g}
		},
		Build: func(arg Expr) Expr { return Call("exp", Mul(Const(-1), Pow(arg, 2))) },
	},
	"0": {
		Name:   "0",
		Derivs: func(float64) [4]float64 { return [4]float64{} },
		Build:  func(Expr) Expr { return Const(0) },
		Affine: true,
	},
}

// DefaultLibrary lists the functions tried by automatic symbolic fitting,
// simplest first so that ties resolve to the simpler form.
var DefaultLibrary = []string{"x", "x^2", "x^3", "exp", "sin", "cos", "tanh", "gaussian"}

// Lookup returns the named library function.
func Lookup(name string) (*Function, error) {
	f, ok := library[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	return f, nil
}

// Names returns every library function name in sorted order.
func Names() []string {
	names := make([]string, 0, len(library))
	for name := range library {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
