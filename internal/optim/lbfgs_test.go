package optim

import (
	"context"
	"errors"
	"math"
	"testing"
)

func rosenbrock(_ context.Context, x, grad []float64) (float64, error) {
	a, b := x[0], x[1]
	if grad != nil {
		grad[0] = -2*(1-a) - 400*a*(b-a*a)
		grad[1] = 200 * (b - a*a)
	}
	return (1-a)*(1-a) + 100*(b-a*a)*(b-a*a), nil
}

func TestStepMinimizesQuadratic(t *testing.T) {
	center := []float64{1, -2, 3}
	quad := func(_ context.Context, x, grad []float64) (float64, error) {
		var f float64
		for k := range x {
			d := x[k] - center[k]
			f += float64(k+1) * d * d
			if grad != nil {
				grad[k] = 2 * float64(k+1) * d
			}
		}
		return f, nil
	}
	out, err := Default().Step(context.Background(), []float64{0, 0, 0}, quad)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	for k := range center {
		if math.Abs(out.X[k]-center[k]) > 1e-6 {
			t.Fatalf("x[%d] = %f, want %f", k, out.X[k], center[k])
		}
	}
	if out.F > 1e-10 {
		t.Fatalf("final loss %g", out.F)
	}
}

func TestRepeatedStepsSolveRosenbrock(t *testing.T) {
	opt := Default()
	x := []float64{-1.2, 1}
	prev := math.Inf(1)
	for s := 0; s < 10; s++ {
		out, err := opt.Step(context.Background(), x, rosenbrock)
		if err != nil {
			t.Fatalf("step %d: %v", s, err)
		}
		if out.F > prev {
			t.Fatalf("step %d increased loss from %g to %g", s, prev, out.F)
		}
		prev = out.F
		x = out.X
	}
	if math.Abs(x[0]-1) > 1e-4 || math.Abs(x[1]-1) > 1e-4 {
		t.Fatalf("did not reach minimum, got %v", x)
	}
}

func TestHistoryCarriesAcrossSteps(t *testing.T) {
	// f(x) = (x-3)². From 0 the first iteration lands on x = 1; with the
	// curvature pair kept, the next step is the exact Newton step to 3.
	parabola := func(_ context.Context, x, grad []float64) (float64, error) {
		d := x[0] - 3
		if grad != nil {
			grad[0] = 2 * d
		}
		return d * d, nil
	}
	ctx := context.Background()
	opt := &LBFGS{MaxIter: 1}
	first, err := opt.Step(ctx, []float64{0}, parabola)
	if err != nil {
		t.Fatalf("first step: %v", err)
	}
	if first.X[0] != 1 {
		t.Fatalf("first step reached %g, want 1", first.X[0])
	}

	second, err := opt.Step(ctx, first.X, parabola)
	if err != nil {
		t.Fatalf("second step: %v", err)
	}
	if math.Abs(second.X[0]-3) > 1e-12 || second.Evals != 2 {
		t.Fatalf("second step reached %g in %d evals, want 3 in 2", second.X[0], second.Evals)
	}

	opt.Reset()
	again, err := opt.Step(ctx, first.X, parabola)
	if err != nil {
		t.Fatalf("step after reset: %v", err)
	}
	if again.X[0] != 2 {
		t.Fatalf("step after reset reached %g, want 2", again.X[0])
	}
}

func TestStepShrinksOnNonFiniteTrials(t *testing.T) {
	// The objective is undefined beyond x = 0.5; the minimum sits at 0.4.
	walled := func(_ context.Context, x, grad []float64) (float64, error) {
		if x[0] > 0.5 {
			return math.Inf(1), nil
		}
		d := x[0] - 0.4
		if grad != nil {
			grad[0] = 2 * d
		}
		return d * d, nil
	}
	// The first trial from 0.2 lands on 0.6.
	out, err := Default().Step(context.Background(), []float64{0.2}, walled)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if math.Abs(out.X[0]-0.4) > 1e-6 {
		t.Fatalf("x = %g, want 0.4", out.X[0])
	}
	if _, err := Default().Step(context.Background(), []float64{1}, walled); !errors.Is(err, ErrNotFinite) {
		t.Fatalf("expected ErrNotFinite from a non-finite start, got %v", err)
	}
}

func TestStepDoesNotMutateInput(t *testing.T) {
	x := []float64{-1.2, 1}
	if _, err := Default().Step(context.Background(), x, rosenbrock); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if x[0] != -1.2 || x[1] != 1 {
		t.Fatalf("input mutated: %v", x)
	}
}

func TestStepSurfacesObjectiveErrors(t *testing.T) {
	boom := errors.New("boom")
	failing := func(context.Context, []float64, []float64) (float64, error) {
		return 0, boom
	}
	if _, err := Default().Step(context.Background(), []float64{1}, failing); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	calls := 0
	late := func(ctx context.Context, x, grad []float64) (float64, error) {
		calls++
		if calls > 1 {
			return 0, boom
		}
		return rosenbrock(ctx, x, grad)
	}
	if _, err := Default().Step(context.Background(), []float64{-1.2, 1}, late); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestStepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Default().Step(ctx, []float64{-1.2, 1}, rosenbrock); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
