package model

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"kan-poisson/internal/symbolic"
)

// ErrNoSamples is returned when a fit is requested before SetSamples.
var ErrNoSamples = errors.New("model: no cached samples to fit against")

// ErrNotSymbolic is returned when an operation needs a symbolic edge.
var ErrNotSymbolic = errors.New("model: edge is not symbolic")

// edgeData returns the inputs reaching edge (l, i, j) and its outputs over
// the cached samples.
func (m *KAN) edgeData(l, i, j int) ([]float64, []float64, error) {
	if len(m.samples) == 0 {
		return nil, nil, ErrNoSamples
	}
	xs := make([]float64, len(m.samples))
	ys := make([]float64, len(m.samples))
	for n, x := range m.samples {
		tr, err := m.trace(x)
		if err != nil {
			return nil, nil, err
		}
		xs[n] = tr[l][i]
		y, err := m.edgeValue(l, i, j, xs[n], m.params)
		if err != nil {
			return nil, nil, err
		}
		ys[n] = y
	}
	return xs, ys, nil
}

func (m *KAN) setSymbolic(l, i, j int, fn *symbolic.Function, aff symbolic.Affine, r2 float64) {
	layer := m.layers[l]
	layer.Edges[i*layer.Out+j] = Edge{Symbolic: true, Fn: fn.Name, R2: r2}
	e := m.params[m.edgeBase(l, i, j)+m.nb:]
	e[offA], e[offB], e[offC], e[offD] = aff.A, aff.B, aff.C, aff.D
}

// FixSymbolic switches edge (l, i, j) to the named library function. With
// fit the affine parameters are fitted to the edge's current activations on
// the cached samples and R² is returned; otherwise they are reset to the
// identity map.
func (m *KAN) FixSymbolic(l, i, j int, name string, fit bool, opts symbolic.FitOptions) (float64, error) {
	if err := m.checkEdge(l, i, j); err != nil {
		return 0, err
	}
	fn, err := symbolic.Lookup(name)
	if err != nil {
		return 0, err
	}
	if !fit {
		m.setSymbolic(l, i, j, fn, symbolic.Identity, 0)
		return 0, nil
	}
	xs, ys, err := m.edgeData(l, i, j)
	if err != nil {
		return 0, err
	}
	aff, r2, err := symbolic.Fit(fn, xs, ys, opts)
	if err != nil {
		return 0, fmt.Errorf("model: fit edge (%d,%d,%d) to %s: %w", l, i, j, name, err)
	}
	m.setSymbolic(l, i, j, fn, aff, r2)
	return r2, nil
}

// SetAffine overwrites the affine parameters of symbolic edge (l, i, j).
func (m *KAN) SetAffine(l, i, j int, aff symbolic.Affine) error {
	if err := m.checkEdge(l, i, j); err != nil {
		return err
	}
	layer := m.layers[l]
	edge := layer.Edges[i*layer.Out+j]
	if !edge.Symbolic {
		return fmt.Errorf("%w: edge (%d,%d,%d)", ErrNotSymbolic, l, i, j)
	}
	fn, err := symbolic.Lookup(edge.Fn)
	if err != nil {
		return err
	}
	m.setSymbolic(l, i, j, fn, aff, edge.R2)
	return nil
}

// UnfixSymbolic returns edge (l, i, j) to its spline activation.
func (m *KAN) UnfixSymbolic(l, i, j int) error {
	if err := m.checkEdge(l, i, j); err != nil {
		return err
	}
	layer := m.layers[l]
	layer.Edges[i*layer.Out+j] = Edge{}
	return nil
}

// Assignment records the function AutoSymbolic chose for an edge.
type Assignment struct {
	Layer, In, Out int
	Fn             string
	R2             float64
}

// AutoSymbolic fits every edge still in spline mode to the best function of
// lib, fitting edges concurrently with at most workers goroutines. Fits read
// the activations of the model as it was before any edge was switched.
func (m *KAN) AutoSymbolic(ctx context.Context, lib []string, opts symbolic.FitOptions, workers int) ([]Assignment, error) {
	if len(lib) == 0 {
		lib = symbolic.DefaultLibrary
	}
	type job struct {
		l, i, j int
		fn      *symbolic.Function
		aff     symbolic.Affine
		r2      float64
	}
	var jobs []*job
	for l, layer := range m.layers {
		for i := 0; i < layer.In; i++ {
			for j := 0; j < layer.Out; j++ {
				if !layer.Edges[i*layer.Out+j].Symbolic {
					jobs = append(jobs, &job{l: l, i: i, j: j})
				}
			}
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for _, jb := range jobs {
		jb := jb
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			xs, ys, err := m.edgeData(jb.l, jb.i, jb.j)
			if err != nil {
				return err
			}
			jb.fn, jb.aff, jb.r2, err = symbolic.Best(lib, xs, ys, opts)
			if err != nil {
				return fmt.Errorf("model: auto symbolic edge (%d,%d,%d): %w", jb.l, jb.i, jb.j, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Assignment, 0, len(jobs))
	for _, jb := range jobs {
		m.setSymbolic(jb.l, jb.i, jb.j, jb.fn, jb.aff, jb.r2)
		out = append(out, Assignment{Layer: jb.l, In: jb.i, Out: jb.j, Fn: jb.fn.Name, R2: jb.r2})
	}
	return out, nil
}

// SymbolicFormula composes the symbolic edges into one expression per
// output over the named input variables. Spline edges contribute nothing.
// Constants are rounded to digits decimal places when digits > 0.
func (m *KAN) SymbolicFormula(vars []string, digits int) ([]symbolic.Expr, error) {
	if len(vars) != m.layers[0].In {
		return nil, fmt.Errorf("%w: %d variable names for %d inputs", ErrShape, len(vars), m.layers[0].In)
	}
	cur := make([]symbolic.Expr, len(vars))
	for d, name := range vars {
		cur[d] = symbolic.Var(name)
	}
	for l, layer := range m.layers {
		bias := m.biasBase(l)
		next := make([]symbolic.Expr, layer.Out)
		for j := range next {
			terms := []symbolic.Expr{symbolic.Const(m.params[bias+j])}
			for i := 0; i < layer.In; i++ {
				edge := layer.Edges[i*layer.Out+j]
				if !edge.Symbolic {
					continue
				}
				fn, err := symbolic.Lookup(edge.Fn)
				if err != nil {
					return nil, err
				}
				e := m.params[m.edgeBase(l, i, j)+m.nb:]
				aff := symbolic.Affine{A: e[offA], B: e[offB], C: e[offC], D: e[offD]}
				terms = append(terms, aff.Expr(fn, cur[i]))
			}
			next[j] = symbolic.Simplify(symbolic.Add(terms...))
		}
		cur = next
	}
	if digits > 0 {
		for j := range cur {
			cur[j] = symbolic.Round(cur[j], digits)
		}
	}
	return cur, nil
}
