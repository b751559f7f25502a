package model

import "kan-poisson/internal/autodiff"

// Jet is a node value with its first and pure second derivatives along each
// input direction, all recorded on a tape.
type Jet struct {
	V  autodiff.Var
	D  []autodiff.Var
	DD []autodiff.Var
}

// Laplacian returns Σ_d ∂²v/∂x_d² as a tape node.
func (j Jet) Laplacian(t *autodiff.Tape) autodiff.Var {
	return t.Sum(j.DD...)
}

// Network is the part of a model the loss needs: a flat parameter vector and
// a tape forward pass parameterized by leaves holding those parameters.
type Network interface {
	NumParams() int
	Params() []float64
	Jet(t *autodiff.Tape, params []autodiff.Var, x []float64, derivs bool) ([]Jet, error)
}
