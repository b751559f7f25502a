// Package autodiff implements scalar reverse-mode differentiation on a tape.
//
// Nodes are appended in creation order, so the tape is already a topological
// ordering and Backward is a single reverse sweep. Derivatives of the network
// w.r.t. its inputs are built as forward jets on top of the tape, which keeps
// the parameter gradient of a derivative-based loss an ordinary reverse pass.
package autodiff

// Var is a handle to a node on a Tape.
type Var int32

// Zero is a structural zero. Operations treat it as the constant 0 without
// recording a node, which keeps jets of constant inputs cheap.
const Zero Var = -1

type node struct {
	start, end int32
}

// Tape records scalar operations for a single reverse pass.
type Tape struct {
	vals     []float64
	nodes    []node
	args     []Var
	partials []float64
	grads    []float64
}

// NewTape returns a tape with room for roughly capacity nodes.
func NewTape(capacity int) *Tape {
	if capacity <= 0 {
		capacity = 256
	}
	return &Tape{
		vals:     make([]float64, 0, capacity),
		nodes:    make([]node, 0, capacity),
		args:     make([]Var, 0, 2*capacity),
		partials: make([]float64, 0, 2*capacity),
	}
}

// Reset drops every recorded node but keeps the allocated storage.
func (t *Tape) Reset() {
	t.vals = t.vals[:0]
	t.nodes = t.nodes[:0]
	t.args = t.args[:0]
	t.partials = t.partials[:0]
	t.grads = t.grads[:0]
}

// Len reports the number of recorded nodes.
func (t *Tape) Len() int { return len(t.vals) }

// Value returns the forward value of v.
func (t *Tape) Value(v Var) float64 {
	if v == Zero {
		return 0
	}
	return t.vals[v]
}

// Leaf records an input node. Parameters are leaves.
func (t *Tape) Leaf(value float64) Var {
	return t.push(value, nil, nil)
}

// Const records a constant. It is a leaf whose gradient is never read.
func (t *Tape) Const(value float64) Var {
	if value == 0 {
		return Zero
	}
	return t.push(value, nil, nil)
}

// Apply records a custom operation whose local partial derivatives w.r.t.
// args are supplied by the caller. Zero args are skipped.
func (t *Tape) Apply(value float64, args []Var, partials []float64) Var {
	if len(args) != len(partials) {
		panic("autodiff: args and partials length mismatch")
	}
	start := int32(len(t.args))
	for i, a := range args {
		if a == Zero || partials[i] == 0 {
			continue
		}
		t.args = append(t.args, a)
		t.partials = append(t.partials, partials[i])
	}
	t.vals = append(t.vals, value)
	t.nodes = append(t.nodes, node{start: start, end: int32(len(t.args))})
	return Var(len(t.vals) - 1)
}

func (t *Tape) push(value float64, args []Var, partials []float64) Var {
	start := int32(len(t.args))
	t.args = append(t.args, args...)
	t.partials = append(t.partials, partials...)
	t.vals = append(t.vals, value)
	t.nodes = append(t.nodes, node{start: start, end: int32(len(t.args))})
	return Var(len(t.vals) - 1)
}

// Add returns a + b.
func (t *Tape) Add(a, b Var) Var {
	switch {
	case a == Zero:
		return b
	case b == Zero:
		return a
	}
	return t.push(t.vals[a]+t.vals[b], []Var{a, b}, []float64{1, 1})
}

// Sub returns a - b.
func (t *Tape) Sub(a, b Var) Var {
	switch {
	case b == Zero:
		return a
	case a == Zero:
		return t.Scale(b, -1)
	}
	return t.push(t.vals[a]-t.vals[b], []Var{a, b}, []float64{1, -1})
}

// Mul returns a * b.
func (t *Tape) Mul(a, b Var) Var {
	if a == Zero || b == Zero {
		return Zero
	}
	va, vb := t.vals[a], t.vals[b]
	return t.push(va*vb, []Var{a, b}, []float64{vb, va})
}

// Scale returns c * a.
func (t *Tape) Scale(a Var, c float64) Var {
	if a == Zero || c == 0 {
		return Zero
	}
	return t.push(c*t.vals[a], []Var{a}, []float64{c})
}

// AddConst returns a + c.
func (t *Tape) AddConst(a Var, c float64) Var {
	if a == Zero {
		return t.Const(c)
	}
	if c == 0 {
		return a
	}
	return t.push(t.vals[a]+c, []Var{a}, []float64{1})
}

// Square returns a².
func (t *Tape) Square(a Var) Var {
	if a == Zero {
		return Zero
	}
	va := t.vals[a]
	return t.push(va*va, []Var{a}, []float64{2 * va})
}

// Sum returns the sum of vs as a single node.
func (t *Tape) Sum(vs ...Var) Var {
	var (
		total float64
		args  = make([]Var, 0, len(vs))
		parts = make([]float64, 0, len(vs))
	)
	for _, v := range vs {
		if v == Zero {
			continue
		}
		total += t.vals[v]
		args = append(args, v)
		parts = append(parts, 1)
	}
	switch len(args) {
	case 0:
		return Zero
	case 1:
		return args[0]
	}
	return t.push(total, args, parts)
}

// Dot returns Σ coeffs[i]·vs[i] as a single node.
func (t *Tape) Dot(coeffs []float64, vs []Var) Var {
	var total float64
	for i, v := range vs {
		if v != Zero {
			total += coeffs[i] * t.vals[v]
		}
	}
	return t.Apply(total, vs, coeffs)
}

// Backward accumulates d(root)/d(node) for every node recorded up to root.
func (t *Tape) Backward(root Var) {
	n := len(t.vals)
	if cap(t.grads) < n {
		t.grads = make([]float64, n)
	} else {
		t.grads = t.grads[:n]
		for i := range t.grads {
			t.grads[i] = 0
		}
	}
	if root == Zero {
		return
	}
	t.grads[root] = 1
	for i := int(root); i >= 0; i-- {
		g := t.grads[i]
		if g == 0 {
			continue
		}
		nd := t.nodes[i]
		for k := nd.start; k < nd.end; k++ {
			t.grads[t.args[k]] += g * t.partials[k]
		}
	}
}

// Grad returns the adjoint of v after Backward.
func (t *Tape) Grad(v Var) float64 {
	if v == Zero || int(v) >= len(t.grads) {
		return 0
	}
	return t.grads[v]
}
