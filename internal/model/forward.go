package model

import (
	"fmt"
	"math"

	"kan-poisson/internal/autodiff"
	"kan-poisson/internal/symbolic"
)

// silu returns x·σ(x) and its first three derivatives.
func silu(x float64) [4]float64 {
	s := 1 / (1 + math.Exp(-x))
	g := s * (1 - s)
	q := 1 - 2*s
	return [4]float64{
		x * s,
		s + x*g,
		g * (2 + x*q),
		g * (3*q + x*q*q - 2*x*g),
	}
}

// edgeValue evaluates edge (l, i, j) at x with parameters p.
func (m *KAN) edgeValue(l, i, j int, x float64, p []float64) (float64, error) {
	layer := m.layers[l]
	edge := layer.Edges[i*layer.Out+j]
	base := m.edgeBase(l, i, j)
	e := p[base+m.nb:]
	if edge.Symbolic {
		fn, err := symbolic.Lookup(edge.Fn)
		if err != nil {
			return 0, err
		}
		return e[offC]*fn.Eval(e[offA]*x+e[offB]) + e[offD], nil
	}
	sp := layer.Grids[i].Eval(p[base:base+m.nb], x)
	return e[offScaleBase]*silu(x)[0] + e[offScaleSpline]*sp, nil
}

// trace returns the node values of every layer for input x, inputs first.
func (m *KAN) trace(x []float64) ([][]float64, error) {
	if len(x) != m.layers[0].In {
		return nil, fmt.Errorf("%w: input has %d dims, want %d", ErrShape, len(x), m.layers[0].In)
	}
	acts := make([][]float64, 0, len(m.layers)+1)
	acts = append(acts, append([]float64(nil), x...))
	cur := acts[0]
	for l, layer := range m.layers {
		next := make([]float64, layer.Out)
		copy(next, m.params[m.biasBase(l):m.biasBase(l)+layer.Out])
		for i := 0; i < layer.In; i++ {
			for j := 0; j < layer.Out; j++ {
				v, err := m.edgeValue(l, i, j, cur[i], m.params)
				if err != nil {
					return nil, err
				}
				next[j] += v
			}
		}
		acts = append(acts, next)
		cur = next
	}
	return acts, nil
}

// Forward returns the network outputs at x.
func (m *KAN) Forward(x []float64) ([]float64, error) {
	acts, err := m.trace(x)
	if err != nil {
		return nil, err
	}
	return acts[len(acts)-1], nil
}

// EdgeCurve samples edge (l, i, j) at n evenly spaced points of its grid
// range.
func (m *KAN) EdgeCurve(l, i, j, n int) ([]float64, []float64, error) {
	if err := m.checkEdge(l, i, j); err != nil {
		return nil, nil, err
	}
	if n < 2 {
		return nil, nil, fmt.Errorf("model: edge curve needs at least 2 points (got %d)", n)
	}
	lo, hi := m.layers[l].Grids[i].Range()
	xs := make([]float64, n)
	ys := make([]float64, n)
	for k := range xs {
		xs[k] = lo + (hi-lo)*float64(k)/float64(n-1)
		y, err := m.edgeValue(l, i, j, xs[k], m.params)
		if err != nil {
			return nil, nil, err
		}
		ys[k] = y
	}
	return xs, ys, nil
}

// Leaves records the current parameters as tape leaves.
func (m *KAN) Leaves(t *autodiff.Tape) []autodiff.Var {
	vs := make([]autodiff.Var, len(m.params))
	for k, p := range m.params {
		vs[k] = t.Leaf(p)
	}
	return vs
}

// Laplacian returns the first output and its Laplacian at x.
func (m *KAN) Laplacian(x []float64) (float64, float64, error) {
	t := autodiff.NewTape(0)
	out, err := m.Jet(t, m.Leaves(t), x, true)
	if err != nil {
		return 0, 0, err
	}
	return t.Value(out[0].V), t.Value(out[0].Laplacian(t)), nil
}

// Jet records the forward pass at x on t, reading parameter values from the
// params leaves. With derivs it also propagates first and pure second
// derivatives w.r.t. every input coordinate.
func (m *KAN) Jet(t *autodiff.Tape, params []autodiff.Var, x []float64, derivs bool) ([]Jet, error) {
	if len(params) != len(m.params) {
		return nil, fmt.Errorf("%w: %d parameter leaves, want %d", ErrShape, len(params), len(m.params))
	}
	if len(x) != m.layers[0].In {
		return nil, fmt.Errorf("%w: input has %d dims, want %d", ErrShape, len(x), m.layers[0].In)
	}
	dirs, order := 0, 0
	if derivs {
		dirs, order = len(x), 2
	}

	cur := make([]Jet, len(x))
	for d, v := range x {
		cur[d] = Jet{V: t.Const(v), D: make([]autodiff.Var, dirs), DD: make([]autodiff.Var, dirs)}
		for e := 0; e < dirs; e++ {
			cur[d].DD[e] = autodiff.Zero
			cur[d].D[e] = autodiff.Zero
		}
		if derivs {
			cur[d].D[d] = t.Const(1)
		}
	}

	for l, layer := range m.layers {
		parts := make([][]Jet, layer.Out)
		for i := 0; i < layer.In; i++ {
			var table [][]float64
			for j := 0; j < layer.Out; j++ {
				edge := layer.Edges[i*layer.Out+j]
				var (
					phi []autodiff.Var
					err error
				)
				if edge.Symbolic {
					phi, err = m.symbolicPhi(t, params, l, i, j, cur[i].V, order)
				} else {
					if table == nil {
						table = layer.Grids[i].Basis(t.Value(cur[i].V), order+1)
					}
					phi = m.numericPhi(t, params, l, i, j, cur[i].V, table, order)
				}
				if err != nil {
					return nil, err
				}
				parts[j] = append(parts[j], chain(t, cur[i], phi))
			}
		}

		next := make([]Jet, layer.Out)
		bias := m.biasBase(l)
		for j := range next {
			vs := []autodiff.Var{params[bias+j]}
			for _, p := range parts[j] {
				vs = append(vs, p.V)
			}
			next[j] = Jet{V: t.Sum(vs...), D: make([]autodiff.Var, dirs), DD: make([]autodiff.Var, dirs)}
			for e := 0; e < dirs; e++ {
				ds := make([]autodiff.Var, 0, len(parts[j]))
				dds := make([]autodiff.Var, 0, len(parts[j]))
				for _, p := range parts[j] {
					ds = append(ds, p.D[e])
					dds = append(dds, p.DD[e])
				}
				next[j].D[e] = t.Sum(ds...)
				next[j].DD[e] = t.Sum(dds...)
			}
		}
		cur = next
	}
	return cur, nil
}

// chain applies φ to a jet: the value φ(v), first derivatives φ1(v)·dv
// and second derivatives φ2(v)·dv² + φ1(v)·ddv.
func chain(t *autodiff.Tape, in Jet, phi []autodiff.Var) Jet {
	out := Jet{V: phi[0], D: make([]autodiff.Var, len(in.D)), DD: make([]autodiff.Var, len(in.D))}
	for e := range in.D {
		out.D[e] = t.Mul(phi[1], in.D[e])
		out.DD[e] = t.Add(t.Mul(phi[2], t.Square(in.D[e])), t.Mul(phi[1], in.DD[e]))
	}
	return out
}

// numericPhi records scale_base·silu⁽ᵐ⁾(v) + scale_sp·spline⁽ᵐ⁾(v) for
// m = 0..order. table holds basis derivatives up to order+1.
func (m *KAN) numericPhi(t *autodiff.Tape, params []autodiff.Var, l, i, j int, v autodiff.Var, table [][]float64, order int) []autodiff.Var {
	base := m.edgeBase(l, i, j)
	coef := params[base : base+m.nb]
	sb := params[base+m.nb+offScaleBase]
	ssp := params[base+m.nb+offScaleSpline]
	s := silu(t.Value(v))

	phi := make([]autodiff.Var, order+1)
	args := make([]autodiff.Var, 0, m.nb+1)
	args = append(args, v)
	args = append(args, coef...)
	partials := make([]float64, m.nb+1)
	for k := 0; k <= order; k++ {
		b := t.Apply(s[k], []autodiff.Var{v}, []float64{s[k+1]})

		var val, dv float64
		for n, c := range coef {
			cv := t.Value(c)
			val += cv * table[k][n]
			dv += cv * table[k+1][n]
			partials[n+1] = table[k][n]
		}
		partials[0] = dv
		sp := t.Apply(val, args, partials)

		phi[k] = t.Add(t.Mul(sb, b), t.Mul(ssp, sp))
	}
	return padPhi(phi)
}

// symbolicPhi records c·aᵐ·f⁽ᵐ⁾(a·v + b) (+ d for m = 0).
func (m *KAN) symbolicPhi(t *autodiff.Tape, params []autodiff.Var, l, i, j int, v autodiff.Var, order int) ([]autodiff.Var, error) {
	layer := m.layers[l]
	fn, err := symbolic.Lookup(layer.Edges[i*layer.Out+j].Fn)
	if err != nil {
		return nil, err
	}
	e := params[m.edgeBase(l, i, j)+m.nb:]
	a, b, c, d := e[offA], e[offB], e[offC], e[offD]

	u := t.Add(t.Mul(a, v), b)
	fd := fn.Derivs(t.Value(u))
	phi := make([]autodiff.Var, order+1)
	scale := c
	for k := 0; k <= order; k++ {
		if k > 0 {
			scale = t.Mul(scale, a)
		}
		f := t.Apply(fd[k], []autodiff.Var{u}, []float64{fd[k+1]})
		phi[k] = t.Mul(scale, f)
	}
	phi[0] = t.Add(phi[0], d)
	return padPhi(phi), nil
}

// padPhi extends φ to three entries so chain can index both derivatives even when
// no derivatives were requested.
func padPhi(phi []autodiff.Var) []autodiff.Var {
	for len(phi) < 3 {
		phi = append(phi, autodiff.Zero)
	}
	return phi
}
