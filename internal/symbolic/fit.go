package symbolic

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Affine holds the parameters of y = c·f(a·x + b) + d.
type Affine struct {
	A, B, C, D float64
}

// Identity is the affine map that leaves f unchanged.
var Identity = Affine{A: 1, C: 1}

// FitOptions controls the (a, b) grid search.
type FitOptions struct {
	ARange     [2]float64
	BRange     [2]float64
	GridNumber int
	Iterations int
}

// DefaultFitOptions searches a, b in [-10, 10] with three zoom passes.
func DefaultFitOptions() FitOptions {
	return FitOptions{
		ARange:     [2]float64{-10, 10},
		BRange:     [2]float64{-10, 10},
		GridNumber: 51,
		Iterations: 3,
	}
}

// Fit finds (a, b) maximizing the squared correlation between f(a·x+b) and y,
// zooming into the neighbourhood of the best grid cell each iteration, then
// solves (c, d) by linear regression. It returns the parameters and R².
func Fit(f *Function, xs, ys []float64, opts FitOptions) (Affine, float64, error) {
	if len(xs) == 0 || len(xs) != len(ys) {
		return Affine{}, 0, errors.New("symbolic: fit needs matching, non-empty samples")
	}
	if f.Name == "0" {
		return Affine{}, 0, nil
	}
	if opts.GridNumber < 3 {
		opts.GridNumber = 3
	}
	if opts.Iterations < 1 {
		opts.Iterations = 1
	}

	a, b := 1.0, 0.0
	r2 := 0.0
	buf := make([]float64, len(xs))
	if f.Affine {
		r2 = correlation2(f, xs, ys, a, b, buf)
	} else {
		aRange, bRange := opts.ARange, opts.BRange
		n := opts.GridNumber
		for it := 0; it < opts.Iterations; it++ {
			as := linspace(aRange[0], aRange[1], n)
			bs := linspace(bRange[0], bRange[1], n)
			bestA, bestB, best := 0, 0, math.Inf(-1)
			for i, av := range as {
				for j, bv := range bs {
					score := correlation2(f, xs, ys, av, bv, buf)
					if score > best {
						bestA, bestB, best = i, j, score
					}
				}
			}
			a, b, r2 = as[bestA], bs[bestB], best
			aRange = zoom(as, bestA)
			bRange = zoom(bs, bestB)
		}
	}

	for i, x := range xs {
		buf[i] = finite(f.Eval(a*x + b))
	}
	d, c := stat.LinearRegression(buf, ys, nil, false)
	if math.IsNaN(c) || math.IsNaN(d) {
		c, d = 0, stat.Mean(ys, nil)
	}
	return Affine{A: a, B: b, C: c, D: d}, r2, nil
}

// zoom narrows a search range to the neighbours of the best index; at an edge
// it narrows to the first or last cell.
func zoom(grid []float64, best int) [2]float64 {
	n := len(grid)
	switch best {
	case 0:
		return [2]float64{grid[0], grid[1]}
	case n - 1:
		return [2]float64{grid[n-2], grid[n-1]}
	}
	return [2]float64{grid[best-1], grid[best+1]}
}

// correlation2 returns the squared Pearson correlation between f(a·x+b) and
// y, damped by 1e-4 in the denominator and zero for non-finite values.
func correlation2(f *Function, xs, ys []float64, a, b float64, buf []float64) float64 {
	for i, x := range xs {
		buf[i] = finite(f.Eval(a*x + b))
	}
	mx := stat.Mean(buf, nil)
	my := stat.Mean(ys, nil)
	var num, dx, dy float64
	for i := range buf {
		u := buf[i] - mx
		v := ys[i] - my
		num += u * v
		dx += u * u
		dy += v * v
	}
	r2 := num * num / (dx*dy + 1e-4)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		return 0
	}
	return r2
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return out
}

// Best fits every named function and returns the one with the highest R².
// Earlier names win ties.
func Best(names []string, xs, ys []float64, opts FitOptions) (*Function, Affine, float64, error) {
	var (
		bestFn  *Function
		bestAff Affine
		bestR2  = math.Inf(-1)
	)
	for _, name := range names {
		f, err := Lookup(name)
		if err != nil {
			return nil, Affine{}, 0, err
		}
		aff, r2, err := Fit(f, xs, ys, opts)
		if err != nil {
			return nil, Affine{}, 0, err
		}
		if r2 > bestR2 {
			bestFn, bestAff, bestR2 = f, aff, r2
		}
	}
	if bestFn == nil {
		return nil, Affine{}, 0, errors.New("symbolic: empty function library")
	}
	return bestFn, bestAff, bestR2, nil
}

// Apply returns c·f(a·x+b) + d.
func (p Affine) Apply(f *Function, x float64) float64 {
	return p.C*f.Eval(p.A*x+p.B) + p.D
}

// Expr returns the expression c·f(a·arg+b) + d.
func (p Affine) Expr(f *Function, arg Expr) Expr {
	inner := Add(Mul(Const(p.A), arg), Const(p.B))
	return Add(Mul(Const(p.C), f.Build(inner)), Const(p.D))
}
