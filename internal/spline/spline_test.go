package spline

import (
	"math"
	"testing"
)

func TestUniformGridShape(t *testing.T) {
	g := Uniform(5, 3, -1, 1)
	if len(g.Knots) != 5+1+2*3 {
		t.Fatalf("expected %d knots, got %d", 12, len(g.Knots))
	}
	if g.NumBasis() != 8 {
		t.Fatalf("expected 8 basis functions, got %d", g.NumBasis())
	}
	if g.Intervals() != 5 {
		t.Fatalf("expected 5 intervals, got %d", g.Intervals())
	}
	lo, hi := g.Range()
	if lo != -1 || hi != 1 {
		t.Fatalf("unexpected range [%f, %f]", lo, hi)
	}
	if math.Abs(g.Knots[0]-(-2.2)) > 1e-12 {
		t.Fatalf("first extended knot = %f, want -2.2", g.Knots[0])
	}
}

func TestBasisPartitionOfUnity(t *testing.T) {
	g := Uniform(5, 3, -1, 1)
	for _, x := range []float64{-1, -0.73, -0.2, 0, 0.31, 0.99} {
		var sum float64
		for _, b := range g.Basis(x, 0)[0] {
			if b < 0 {
				t.Fatalf("negative basis value %f at x=%f", b, x)
			}
			sum += b
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Fatalf("basis sums to %f at x=%f", sum, x)
		}
	}
}

func TestBasisDerivativesMatchFiniteDifferences(t *testing.T) {
	g := Uniform(4, 3, -1, 1)
	coef := []float64{0.3, -0.2, 0.5, 0.1, -0.4, 0.25, 0.05}
	const h = 1e-5
	eval := func(x float64, m int) float64 {
		var s float64
		for i, b := range g.Basis(x, m)[m] {
			s += coef[i] * b
		}
		return s
	}
	for _, x := range []float64{-0.61, -0.13, 0.37, 0.82} {
		for m := 1; m <= 3; m++ {
			want := (eval(x+h, m-1) - eval(x-h, m-1)) / (2 * h)
			got := eval(x, m)
			if math.Abs(got-want) > 1e-4*math.Max(1, math.Abs(want)) {
				t.Fatalf("order %d at x=%f: got %f, want %f", m, x, got, want)
			}
		}
	}
	if d4 := g.Basis(0.1, 4)[4]; d4[2] != 0 {
		t.Fatalf("fourth derivative of a cubic basis should vanish, got %f", d4[2])
	}
}

func TestCurve2CoefReproducesCubic(t *testing.T) {
	g := Uniform(5, 3, -1, 1)
	f := func(x float64) float64 { return x*x*x - 0.5*x + 0.2 }
	var xs, ys []float64
	for i := 0; i < 50; i++ {
		x := -1 + 2*float64(i)/49
		if x >= 1 {
			x = 0.999999
		}
		xs = append(xs, x)
		ys = append(ys, f(x))
	}
	coefs, err := Curve2Coef(g, xs, ys)
	if err != nil {
		t.Fatalf("Curve2Coef: %v", err)
	}
	for _, x := range []float64{-0.95, -0.4, 0.05, 0.66} {
		if got := g.Eval(coefs[0], x); math.Abs(got-f(x)) > 1e-9 {
			t.Fatalf("spline(%f) = %f, want %f", x, got, f(x))
		}
	}
}

func TestCurve2CoefUnderdetermined(t *testing.T) {
	g := Uniform(5, 3, -1, 1)
	xs := []float64{-1, -0.6, -0.2, 0.2, 0.6, 0.999}
	ys := []float64{0.01, -0.02, 0.03, 0.0, -0.01, 0.02}
	coefs, err := Curve2Coef(g, xs, ys)
	if err != nil {
		t.Fatalf("Curve2Coef: %v", err)
	}
	for i, x := range xs {
		if got := g.Eval(coefs[0], x); math.Abs(got-ys[i]) > 1e-9 {
			t.Fatalf("spline(%f) = %f, want %f", x, got, ys[i])
		}
	}
}

func TestCurve2CoefRejectsMismatch(t *testing.T) {
	g := Uniform(3, 3, -1, 1)
	if _, err := Curve2Coef(g, nil); err == nil {
		t.Fatalf("expected error for empty samples")
	}
	if _, err := Curve2Coef(g, []float64{0, 1}, []float64{1}); err == nil {
		t.Fatalf("expected error for mismatched targets")
	}
}
