package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"kan-poisson/internal/dataset"
	"kan-poisson/internal/spline"
)

// ErrShape is returned for inputs or parameter vectors of the wrong size.
var ErrShape = errors.New("model: shape mismatch")

// Options configures a KAN.
type Options struct {
	Width          []int      `json:"width"`
	Grid           int        `json:"grid"`
	K              int        `json:"k"`
	NoiseScale     float64    `json:"noise_scale"`
	NoiseScaleBase float64    `json:"noise_scale_base"`
	GridEps        float64    `json:"grid_eps"`
	GridRange      [2]float64 `json:"grid_range"`
	Seed           int64      `json:"seed"`
}

// DefaultOptions is the [2, 2, 1] network with 5 cubic spline intervals.
func DefaultOptions() Options {
	return Options{
		Width:          []int{2, 2, 1},
		Grid:           5,
		K:              3,
		NoiseScale:     0.1,
		NoiseScaleBase: 0.25,
		GridEps:        1.0,
		GridRange:      [2]float64{-1, 1},
		Seed:           0,
	}
}

// Per-edge parameter block after the spline coefficients.
const (
	offScaleBase = iota
	offScaleSpline
	offA
	offB
	offC
	offD
	edgeExtra
)

// Edge is the structural state of one activation. Its numbers live in the
// model's flat parameter vector.
type Edge struct {
	Symbolic bool
	Fn       string
	R2       float64
}

// Layer maps In nodes to Out nodes through In×Out edges.
type Layer struct {
	In    int
	Out   int
	Grids []spline.Grid
	Edges []Edge

	offset int
}

// KAN is a Kolmogorov–Arnold network: every edge carries a learnable
// univariate function and every node sums its incoming edges plus a bias.
type KAN struct {
	opts    Options
	layers  []*Layer
	params  []float64
	nb      int
	samples dataset.Points
}

// New constructs a KAN with spline coefficients fitted to small noise.
// Base scales are 1/√in + (2·N(0,1) − 1)·NoiseScaleBase: wide enough that
// edges into the same node can start with opposite signs.
func New(opts Options) (*KAN, error) {
	if len(opts.Width) < 2 {
		return nil, fmt.Errorf("model: width needs at least 2 layers, got %v", opts.Width)
	}
	for _, w := range opts.Width {
		if w <= 0 {
			return nil, fmt.Errorf("model: width entries must be > 0, got %v", opts.Width)
		}
	}
	if opts.Grid <= 0 {
		return nil, fmt.Errorf("model: grid must be > 0 (got %d)", opts.Grid)
	}
	if opts.K <= 0 {
		return nil, fmt.Errorf("model: k must be > 0 (got %d)", opts.K)
	}
	if opts.GridRange == [2]float64{} {
		opts.GridRange = [2]float64{-1, 1}
	}
	if !(opts.GridRange[1] > opts.GridRange[0]) {
		return nil, fmt.Errorf("model: grid range %v is empty", opts.GridRange)
	}

	m := &KAN{opts: opts, nb: opts.Grid + opts.K}
	total := 0
	for l := 0; l+1 < len(opts.Width); l++ {
		in, out := opts.Width[l], opts.Width[l+1]
		layer := &Layer{
			In:     in,
			Out:    out,
			Grids:  make([]spline.Grid, in),
			Edges:  make([]Edge, in*out),
			offset: total,
		}
		for i := range layer.Grids {
			layer.Grids[i] = spline.Uniform(opts.Grid, opts.K, opts.GridRange[0], opts.GridRange[1])
		}
		total += in*out*m.edgeSize() + out
		m.layers = append(m.layers, layer)
	}
	m.params = make([]float64, total)

	rng := rand.New(rand.NewSource(opts.Seed))
	for l, layer := range m.layers {
		for i := 0; i < layer.In; i++ {
			grid := layer.Grids[i]
			pts := grid.Points()
			noises := make([][]float64, layer.Out)
			for j := range noises {
				noises[j] = make([]float64, len(pts))
				for n := range noises[j] {
					noises[j][n] = (rng.Float64() - 0.5) * opts.NoiseScale / float64(opts.Grid)
				}
			}
			coefs, err := spline.Curve2Coef(grid, pts, noises...)
			if err != nil {
				return nil, fmt.Errorf("model: init layer %d input %d: %w", l, i, err)
			}
			for j := 0; j < layer.Out; j++ {
				base := m.edgeBase(l, i, j)
				copy(m.params[base:base+m.nb], coefs[j])
				m.params[base+m.nb+offScaleBase] = 1/math.Sqrt(float64(layer.In)) + (rng.NormFloat64()*2-1)*opts.NoiseScaleBase
				m.params[base+m.nb+offScaleSpline] = 1
				m.params[base+m.nb+offA] = 1
				m.params[base+m.nb+offC] = 1
			}
		}
	}
	return m, nil
}

func (m *KAN) edgeSize() int { return m.nb + edgeExtra }

func (m *KAN) edgeBase(l, i, j int) int {
	layer := m.layers[l]
	return layer.offset + (i*layer.Out+j)*m.edgeSize()
}

func (m *KAN) biasBase(l int) int {
	layer := m.layers[l]
	return layer.offset + layer.In*layer.Out*m.edgeSize()
}

// Options returns the construction options.
func (m *KAN) Options() Options { return m.opts }

// Width returns the node count of every layer, inputs first.
func (m *KAN) Width() []int { return append([]int(nil), m.opts.Width...) }

// Layers returns the layer structure. Callers must not modify it.
func (m *KAN) Layers() []*Layer { return m.layers }

// NumParams is the length of the flat parameter vector.
func (m *KAN) NumParams() int { return len(m.params) }

// Params returns a copy of the flat parameter vector.
func (m *KAN) Params() []float64 { return append([]float64(nil), m.params...) }

// SetParams replaces the flat parameter vector.
func (m *KAN) SetParams(p []float64) error {
	if len(p) != len(m.params) {
		return fmt.Errorf("%w: %d params, want %d", ErrShape, len(p), len(m.params))
	}
	copy(m.params, p)
	return nil
}

// EdgeInfo describes one edge for reporting.
type EdgeInfo struct {
	Layer, In, Out int
	Edge
	ScaleBase   float64
	ScaleSpline float64
	A, B, C, D  float64
	Range       [2]float64
}

// EdgeInfo returns the state of edge (l, i, j).
func (m *KAN) EdgeInfo(l, i, j int) (EdgeInfo, error) {
	if err := m.checkEdge(l, i, j); err != nil {
		return EdgeInfo{}, err
	}
	layer := m.layers[l]
	p := m.params[m.edgeBase(l, i, j)+m.nb:]
	lo, hi := layer.Grids[i].Range()
	return EdgeInfo{
		Layer: l, In: i, Out: j,
		Edge:        layer.Edges[i*layer.Out+j],
		ScaleBase:   p[offScaleBase],
		ScaleSpline: p[offScaleSpline],
		A:           p[offA], B: p[offB], C: p[offC], D: p[offD],
		Range: [2]float64{lo, hi},
	}, nil
}

func (m *KAN) checkEdge(l, i, j int) error {
	if l < 0 || l >= len(m.layers) {
		return fmt.Errorf("%w: layer %d out of range [0, %d)", ErrShape, l, len(m.layers))
	}
	layer := m.layers[l]
	if i < 0 || i >= layer.In || j < 0 || j >= layer.Out {
		return fmt.Errorf("%w: edge (%d,%d,%d) out of range for %dx%d layer", ErrShape, l, i, j, layer.In, layer.Out)
	}
	return nil
}

// SetSamples caches the inputs symbolic fitting reads activations from.
func (m *KAN) SetSamples(xs dataset.Points) { m.samples = xs }
