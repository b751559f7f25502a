// Package pde builds the physics-informed loss of the 2D Poisson problem.
package pde

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"kan-poisson/internal/autodiff"
	"kan-poisson/internal/dataset"
	"kan-poisson/internal/model"
)

// ErrDiverged is returned when the loss is not finite.
var ErrDiverged = errors.New("pde: loss is not finite")

// defaultChunk is the number of points evaluated on one tape.
const defaultChunk = 64

// Problem is ∇²u = Source on the interior with u = Solution on the boundary.
type Problem struct {
	Solution func(x, y float64) float64
	Source   func(x, y float64) float64
	// Alpha weights the PDE residual against the boundary residual.
	Alpha float64
}

// Poisson returns the problem with solution sin(πx)·sin(πy).
func Poisson(alpha float64) Problem {
	return Problem{
		Solution: func(x, y float64) float64 {
			return math.Sin(math.Pi*x) * math.Sin(math.Pi*y)
		},
		Source: func(x, y float64) float64 {
			return -2 * math.Pi * math.Pi * math.Sin(math.Pi*x) * math.Sin(math.Pi*y)
		},
		Alpha: alpha,
	}
}

// Losses are the components of one evaluation.
type Losses struct {
	PDE   float64
	BC    float64
	Total float64
}

// Evaluator computes the loss and its parameter gradient over fixed batches.
// It must not be copied after first use.
type Evaluator struct {
	Problem  Problem
	Interior dataset.Points
	Boundary dataset.Points
	Workers  int
	Chunk    int

	tapes    sync.Pool
	tapeSize atomic.Int64
}

// tape returns a cleared tape, reusing one from an earlier chunk when
// possible. New tapes start with room for the largest chunk seen so far.
func (e *Evaluator) tape() *autodiff.Tape {
	if t, ok := e.tapes.Get().(*autodiff.Tape); ok {
		t.Reset()
		return t
	}
	return autodiff.NewTape(int(e.tapeSize.Load()))
}

func (e *Evaluator) release(t *autodiff.Tape) {
	if n := int64(t.Len()); n > e.tapeSize.Load() {
		e.tapeSize.Store(n)
	}
	e.tapes.Put(t)
}

type chunk struct {
	points   dataset.Points
	interior bool
}

func (e *Evaluator) chunks() []chunk {
	size := e.Chunk
	if size <= 0 {
		size = defaultChunk
	}
	var out []chunk
	split := func(pts dataset.Points, interior bool) {
		for start := 0; start < len(pts); start += size {
			end := start + size
			if end > len(pts) {
				end = len(pts)
			}
			out = append(out, chunk{points: pts[start:end], interior: interior})
		}
	}
	split(e.Interior, true)
	split(e.Boundary, false)
	return out
}

// Evaluate returns the losses at params. When grad is non-nil it receives
// the gradient of the total loss. Chunks run concurrently on separate tapes
// and are reduced in a fixed order, so the result does not depend on
// scheduling.
func (e *Evaluator) Evaluate(ctx context.Context, net model.Network, params, grad []float64) (Losses, error) {
	if len(params) != net.NumParams() {
		return Losses{}, fmt.Errorf("pde: %d params, network has %d", len(params), net.NumParams())
	}
	if len(e.Interior) == 0 || len(e.Boundary) == 0 {
		return Losses{}, errors.New("pde: interior and boundary batches must be non-empty")
	}
	chunks := e.chunks()
	type partial struct {
		pde, bc float64
		grad    []float64
	}
	parts := make([]partial, len(chunks))
	wPDE := e.Problem.Alpha / float64(len(e.Interior))
	wBC := 1 / float64(len(e.Boundary))

	g, ctx := errgroup.WithContext(ctx)
	if e.Workers > 0 {
		g.SetLimit(e.Workers)
	}
	for c := range chunks {
		c := c
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tape := e.tape()
			defer e.release(tape)
			leaves := make([]autodiff.Var, len(params))
			for k, p := range params {
				leaves[k] = tape.Leaf(p)
			}
			var (
				squares []autodiff.Var
				weights []float64
			)
			for _, pt := range chunks[c].points {
				out, err := net.Jet(tape, leaves, pt, chunks[c].interior)
				if err != nil {
					return err
				}
				if chunks[c].interior {
					res := tape.AddConst(out[0].Laplacian(tape), -e.Problem.Source(pt[0], pt[1]))
					sq := tape.Square(res)
					parts[c].pde += tape.Value(sq)
					squares, weights = append(squares, sq), append(weights, wPDE)
				} else {
					res := tape.AddConst(out[0].V, -e.Problem.Solution(pt[0], pt[1]))
					sq := tape.Square(res)
					parts[c].bc += tape.Value(sq)
					squares, weights = append(squares, sq), append(weights, wBC)
				}
			}
			if grad != nil {
				tape.Backward(tape.Dot(weights, squares))
				parts[c].grad = make([]float64, len(params))
				for k, leaf := range leaves {
					parts[c].grad[k] = tape.Grad(leaf)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Losses{}, err
	}

	var l Losses
	if grad != nil {
		for k := range grad {
			grad[k] = 0
		}
	}
	for _, p := range parts {
		l.PDE += p.pde
		l.BC += p.bc
		if grad != nil {
			for k, v := range p.grad {
				grad[k] += v
			}
		}
	}
	l.PDE /= float64(len(e.Interior))
	l.BC /= float64(len(e.Boundary))
	l.Total = e.Problem.Alpha*l.PDE + l.BC
	if math.IsNaN(l.Total) || math.IsInf(l.Total, 0) {
		return l, ErrDiverged
	}
	return l, nil
}

// L2 is the mean squared error of the model against the analytic solution
// at pts.
func L2(p Problem, fwd func([]float64) ([]float64, error), pts dataset.Points) (float64, error) {
	if len(pts) == 0 {
		return 0, errors.New("pde: no points")
	}
	var sum float64
	for _, pt := range pts {
		out, err := fwd(pt)
		if err != nil {
			return 0, err
		}
		d := out[0] - p.Solution(pt[0], pt[1])
		sum += d * d
	}
	return sum / float64(len(pts)), nil
}
