// Package spline evaluates B-spline bases on extended knot grids and fits
// spline coefficients by least squares.
package spline

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrEmptySamples is returned when a fit has nothing to fit.
var ErrEmptySamples = errors.New("spline: no samples")

// rcond is the relative singular value cutoff for least-squares fits.
const rcond = 1e-12

// Grid is a knot vector extended by K knots on each side of its G+1 points.
type Grid struct {
	K     int
	Knots []float64
}

// Uniform returns a grid with g equal intervals on [lo, hi].
func Uniform(g, k int, lo, hi float64) Grid {
	pts := make([]float64, g+1)
	for i := range pts {
		pts[i] = lo + (hi-lo)*float64(i)/float64(g)
	}
	return FromPoints(pts, k)
}

// FromPoints extends points by k knots on each side, spaced by the mean
// interval width.
func FromPoints(points []float64, k int) Grid {
	g := len(points) - 1
	h := (points[g] - points[0]) / float64(g)
	knots := make([]float64, 0, len(points)+2*k)
	for i := k; i > 0; i-- {
		knots = append(knots, points[0]-float64(i)*h)
	}
	knots = append(knots, points...)
	for i := 1; i <= k; i++ {
		knots = append(knots, points[g]+float64(i)*h)
	}
	return Grid{K: k, Knots: knots}
}

// Intervals is the number of grid intervals G.
func (g Grid) Intervals() int { return len(g.Knots) - 1 - 2*g.K }

// NumBasis is the number of basis functions, G + K.
func (g Grid) NumBasis() int { return len(g.Knots) - 1 - g.K }

// Points returns the G+1 unextended grid points.
func (g Grid) Points() []float64 {
	return append([]float64(nil), g.Knots[g.K:len(g.Knots)-g.K]...)
}

// Range returns the first and last unextended grid points.
func (g Grid) Range() (float64, float64) {
	return g.Knots[g.K], g.Knots[len(g.Knots)-1-g.K]
}

// Basis returns the basis values and derivatives at x: out[m][i] is the m-th
// derivative of the i-th basis function for m = 0..maxOrder. Derivatives of
// order above K are zero. Outside the extended grid all values are zero.
func (g Grid) Basis(x float64, maxOrder int) [][]float64 {
	t := g.Knots
	n := len(t)

	levels := make([][]float64, g.K+1)
	levels[0] = make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		if t[i] <= x && x < t[i+1] {
			levels[0][i] = 1
		}
	}
	for p := 1; p <= g.K; p++ {
		prev := levels[p-1]
		cur := make([]float64, n-1-p)
		for i := range cur {
			var v float64
			if d := t[i+p] - t[i]; d != 0 {
				v += (x - t[i]) / d * prev[i]
			}
			if d := t[i+p+1] - t[i+1]; d != 0 {
				v += (t[i+p+1] - x) / d * prev[i+1]
			}
			cur[i] = v
		}
		levels[p] = cur
	}

	out := make([][]float64, maxOrder+1)
	for m := 0; m <= maxOrder; m++ {
		out[m] = g.deriv(levels, g.K, m)
	}
	return out
}

func (g Grid) deriv(levels [][]float64, p, m int) []float64 {
	size := len(g.Knots) - 1 - p
	if m == 0 {
		return levels[p]
	}
	if p == 0 || m > p {
		return make([]float64, size)
	}
	lower := g.deriv(levels, p-1, m-1)
	t := g.Knots
	out := make([]float64, size)
	fp := float64(p)
	for i := range out {
		var v float64
		if d := t[i+p] - t[i]; d != 0 {
			v += fp / d * lower[i]
		}
		if d := t[i+p+1] - t[i+1]; d != 0 {
			v -= fp / d * lower[i+1]
		}
		out[i] = v
	}
	return out
}

// Eval returns Σ coef[i]·B_i(x).
func (g Grid) Eval(coef []float64, x float64) float64 {
	b := g.Basis(x, 0)[0]
	var s float64
	for i, c := range coef {
		s += c * b[i]
	}
	return s
}

// Curve2Coef fits one coefficient vector per target so that the spline on g
// matches ys[j] at xs in least squares. Rank-deficient systems yield the
// minimum-norm solution.
func Curve2Coef(g Grid, xs []float64, ys ...[]float64) ([][]float64, error) {
	if len(xs) == 0 || len(ys) == 0 {
		return nil, ErrEmptySamples
	}
	nb := g.NumBasis()
	a := mat.NewDense(len(xs), nb, nil)
	for r, x := range xs {
		a.SetRow(r, g.Basis(x, 0)[0])
	}
	b := mat.NewDense(len(xs), len(ys), nil)
	for j, y := range ys {
		if len(y) != len(xs) {
			return nil, fmt.Errorf("spline: target %d has %d samples, want %d", j, len(y), len(xs))
		}
		b.SetCol(j, y)
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, errors.New("spline: SVD factorization failed")
	}
	out := make([][]float64, len(ys))
	rank := svd.Rank(rcond)
	if rank == 0 {
		for j := range out {
			out[j] = make([]float64, nb)
		}
		return out, nil
	}
	var c mat.Dense
	svd.SolveTo(&c, b, rank)
	for j := range out {
		out[j] = mat.Col(nil, j, &c)
	}
	return out, nil
}
