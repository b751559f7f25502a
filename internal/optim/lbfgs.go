// Package optim implements the limited-memory BFGS steps used for training.
package optim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// ErrNotFinite is returned when the objective is not finite at the point a
// Step starts from.
var ErrNotFinite = errors.New("optim: objective is not finite")

// maxLineSearch bounds the evaluations of one line search.
const maxLineSearch = 25

// Closure evaluates the objective at x and, when grad is non-nil, writes
// its gradient into grad.
type Closure func(ctx context.Context, x, grad []float64) (float64, error)

// LBFGS is a limited-memory BFGS optimizer. The curvature pairs, the last
// direction and the last gradient persist across Step calls until Reset,
// so consecutive steps continue one quasi-Newton run. Each Step runs up to
// MaxIter iterations and about 1.25·MaxIter evaluations, with a strong
// Wolfe line search.
type LBFGS struct {
	History   int
	MaxIter   int
	Tolerance float64
	Logger    *slog.Logger

	iter     int
	dir      []float64
	step     float64
	s, y     [][]float64
	rho      []float64
	hDiag    float64
	prevGrad []float64
}

// Default returns the settings used for training: history 10, 20
// iterations per step and 1e-32 tolerances.
func Default() *LBFGS {
	return &LBFGS{History: 10, MaxIter: 20, Tolerance: 1e-32}
}

// Outcome describes one Step.
type Outcome struct {
	X          []float64
	F          float64
	Iterations int
	Evals      int
	Status     optimize.Status
}

// Reset drops the curvature history. The next Step starts with a scaled
// steepest-descent iteration.
func (o *LBFGS) Reset() {
	o.iter = 0
	o.dir, o.prevGrad = nil, nil
	o.s, o.y, o.rho = nil, nil, nil
	o.step, o.hDiag = 0, 1
}

func (o *LBFGS) settings() (history, maxIter int, tol float64) {
	history, maxIter, tol = o.History, o.MaxIter, o.Tolerance
	if history <= 0 {
		history = 10
	}
	if maxIter <= 0 {
		maxIter = 20
	}
	if tol <= 0 {
		tol = 1e-32
	}
	return history, maxIter, tol
}

// Step runs one outer optimizer step from x and returns the point reached.
// x is not modified. Objective errors and cancellation abort the step;
// trial points where the objective is +Inf or NaN shrink the line search.
func (o *LBFGS) Step(ctx context.Context, x []float64, closure Closure) (Outcome, error) {
	if len(x) == 0 {
		return Outcome{}, errors.New("optim: empty parameter vector")
	}
	history, maxIter, tol := o.settings()
	maxEvals := maxIter * 5 / 4
	if o.prevGrad != nil && len(o.prevGrad) != len(x) {
		o.Reset()
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	cur := append([]float64(nil), x...)
	grad := make([]float64, len(x))
	f, err := closure(ctx, cur, grad)
	if err != nil {
		return Outcome{}, fmt.Errorf("optim: objective: %w", err)
	}
	if !finite(f) {
		return Outcome{}, ErrNotFinite
	}
	out := Outcome{X: cur, F: f, Evals: 1, Status: optimize.IterationLimit}
	if floats.Norm(grad, math.Inf(1)) <= tol {
		out.Status = optimize.GradientThreshold
		return out, nil
	}

	for n := 0; n < maxIter; n++ {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		if o.dir == nil {
			o.iter = 0
		}
		o.iter++
		d := o.direction(grad, history, tol)
		o.prevGrad = append(o.prevGrad[:0], grad...)
		prevF := f

		t := 1.0
		if o.iter == 1 {
			t = math.Min(1, 1/floats.Norm(grad, 1))
		}
		gtd := floats.Dot(grad, d)
		if !(gtd < -tol) || !(t > 0) {
			out.Status = optimize.MethodConverge
			break
		}

		tr, evals, err := search(ctx, closure, cur, d, f, gtd, t)
		out.Evals += evals
		if err != nil {
			return Outcome{}, err
		}
		if tr.x == nil {
			// No trial improved on the start of the search; the history
			// no longer predicts the surface.
			o.Reset()
			out.Status = optimize.Failure
			if o.Logger != nil {
				o.Logger.Debug("lbfgs line search made no progress", "loss", f, "evals", out.Evals)
			}
			break
		}
		o.dir, o.step = d, tr.t
		cur, f, grad = tr.x, tr.f, tr.grad
		out.X, out.F = cur, f
		out.Iterations++

		if out.Evals >= maxEvals {
			out.Status = optimize.FunctionEvaluationLimit
			break
		}
		if floats.Norm(grad, math.Inf(1)) <= tol {
			out.Status = optimize.GradientThreshold
			break
		}
		if math.Abs(tr.t)*floats.Norm(d, math.Inf(1)) <= tol {
			out.Status = optimize.StepConvergence
			break
		}
		if math.Abs(f-prevF) < tol {
			out.Status = optimize.FunctionConvergence
			break
		}
	}
	return out, nil
}

// direction returns the quasi-Newton direction at grad, first folding the
// pair from the previous iteration into the history.
func (o *LBFGS) direction(grad []float64, history int, tol float64) []float64 {
	d := make([]float64, len(grad))
	floats.ScaleTo(d, -1, grad)
	if o.iter == 1 {
		o.s, o.y, o.rho = nil, nil, nil
		o.hDiag = 1
		return d
	}

	y := floats.SubTo(make([]float64, len(grad)), grad, o.prevGrad)
	s := floats.ScaleTo(make([]float64, len(grad)), o.step, o.dir)
	if ys := floats.Dot(y, s); ys > tol {
		if len(o.s) == history {
			o.s, o.y, o.rho = o.s[1:], o.y[1:], o.rho[1:]
		}
		o.s = append(o.s, s)
		o.y = append(o.y, y)
		o.rho = append(o.rho, 1/ys)
		o.hDiag = ys / floats.Dot(y, y)
	}

	alpha := make([]float64, len(o.s))
	for i := len(o.s) - 1; i >= 0; i-- {
		alpha[i] = floats.Dot(o.s[i], d) * o.rho[i]
		floats.AddScaled(d, -alpha[i], o.y[i])
	}
	floats.Scale(o.hDiag, d)
	for i := range o.s {
		beta := floats.Dot(o.y[i], d) * o.rho[i]
		floats.AddScaled(d, alpha[i]-beta, o.s[i])
	}
	return d
}

type trial struct {
	x, grad []float64
	f, t    float64
}

// search looks along d from x0 for a step meeting the strong Wolfe
// conditions. When the line search gives up it returns the best trial
// below f0, or a trial with nil x when there is none.
func search(ctx context.Context, closure Closure, x0, d []float64, f0, g0, t float64) (trial, int, error) {
	ls := &optimize.MoreThuente{DecreaseFactor: 1e-4, CurvatureFactor: 0.9}
	ls.Init(f0, g0, t)
	best := trial{f: f0}
	x := make([]float64, len(x0))
	grad := make([]float64, len(x0))
	evals := 0
	for evals < maxLineSearch {
		if err := ctx.Err(); err != nil {
			return trial{}, evals, err
		}
		floats.AddScaledTo(x, x0, t, d)
		f, err := closure(ctx, x, grad)
		evals++
		if err != nil {
			return trial{}, evals, fmt.Errorf("optim: objective: %w", err)
		}
		if !finite(f) {
			t /= 2
			ls.Init(f0, g0, t)
			continue
		}
		if f < best.f {
			best = trial{x: append([]float64(nil), x...), grad: append([]float64(nil), grad...), f: f, t: t}
		}
		op, next, err := ls.Iterate(f, floats.Dot(grad, d))
		if err != nil {
			break
		}
		if op == optimize.MajorIteration {
			return trial{x: append([]float64(nil), x...), grad: append([]float64(nil), grad...), f: f, t: t}, evals, nil
		}
		t = next
	}
	return best, evals, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
