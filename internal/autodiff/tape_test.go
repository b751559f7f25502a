package autodiff

import (
	"math"
	"testing"
)

// f(a, b) = (a·b + 3a)² - b + sin(a) recorded with Apply for the sine.
func buildExample(t *Tape, a, b float64) (Var, Var, Var) {
	va := t.Leaf(a)
	vb := t.Leaf(b)
	prod := t.Mul(va, vb)
	inner := t.Add(prod, t.Scale(va, 3))
	sq := t.Square(inner)
	s := t.Apply(math.Sin(a), []Var{va}, []float64{math.Cos(a)})
	out := t.Sum(t.Sub(sq, vb), s)
	return va, vb, out
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	const a, b, h = 0.7, -1.3, 1e-6
	tape := NewTape(0)
	va, vb, out := buildExample(tape, a, b)
	tape.Backward(out)

	eval := func(a, b float64) float64 {
		tp := NewTape(0)
		_, _, o := buildExample(tp, a, b)
		return tp.Value(o)
	}
	wantA := (eval(a+h, b) - eval(a-h, b)) / (2 * h)
	wantB := (eval(a, b+h) - eval(a, b-h)) / (2 * h)
	if math.Abs(tape.Grad(va)-wantA) > 1e-6 {
		t.Fatalf("d/da = %.9f, want %.9f", tape.Grad(va), wantA)
	}
	if math.Abs(tape.Grad(vb)-wantB) > 1e-6 {
		t.Fatalf("d/db = %.9f, want %.9f", tape.Grad(vb), wantB)
	}
}

func TestZeroIsStructural(t *testing.T) {
	tape := NewTape(0)
	x := tape.Leaf(2)
	if got := tape.Mul(x, Zero); got != Zero {
		t.Fatalf("x*0 recorded a node: %d", got)
	}
	if got := tape.Add(Zero, x); got != x {
		t.Fatalf("0+x = %d, want %d", got, x)
	}
	if got := tape.Sum(Zero, Zero); got != Zero {
		t.Fatalf("sum of zeros = %d", got)
	}
	if tape.Const(0) != Zero {
		t.Fatalf("Const(0) should be Zero")
	}
	if tape.Len() != 1 {
		t.Fatalf("expected 1 node, got %d", tape.Len())
	}
	if v := tape.Value(tape.Sub(Zero, x)); v != -2 {
		t.Fatalf("0-x = %f", v)
	}
}

func TestReuseAfterReset(t *testing.T) {
	tape := NewTape(4)
	x := tape.Leaf(3)
	tape.Backward(tape.Square(x))
	if tape.Grad(x) != 6 {
		t.Fatalf("d(x²)/dx = %f", tape.Grad(x))
	}
	tape.Reset()
	y := tape.Leaf(5)
	dot := tape.Dot([]float64{2, 4}, []Var{y, tape.AddConst(y, 1)})
	tape.Backward(dot)
	if tape.Value(dot) != 34 {
		t.Fatalf("dot = %f", tape.Value(dot))
	}
	if tape.Grad(y) != 6 {
		t.Fatalf("d(dot)/dy = %f", tape.Grad(y))
	}
}
