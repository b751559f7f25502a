package model

import (
	"errors"
	"fmt"
	"sort"

	"kan-poisson/internal/dataset"
	"kan-poisson/internal/spline"
)

// gridMargin pads the uniform part of an updated grid beyond the sample range.
const gridMargin = 0.01

// UpdateGridFromSamples moves every spline grid to cover the activations xs
// produce at its layer and refits the coefficients so each spline keeps its
// shape in least squares. Layers are updated in order, so later layers see
// activations of the already-updated earlier ones.
func (m *KAN) UpdateGridFromSamples(xs dataset.Points) error {
	if len(xs) == 0 {
		return errors.New("model: grid update needs samples")
	}
	g := m.opts.Grid
	for l, layer := range m.layers {
		acts := make(dataset.Points, len(xs))
		for n, x := range xs {
			tr, err := m.trace(x)
			if err != nil {
				return err
			}
			acts[n] = tr[l]
		}

		for i := 0; i < layer.In; i++ {
			pos := acts.Column(i)
			sort.Float64s(pos)

			adaptive := make([]float64, g+1)
			for k := 0; k < g; k++ {
				adaptive[k] = pos[len(pos)*k/g]
			}
			adaptive[g] = pos[len(pos)-1]
			lo := adaptive[0] - gridMargin
			span := adaptive[g] - adaptive[0] + 2*gridMargin
			pts := make([]float64, g+1)
			for k := range pts {
				uniform := lo + span*float64(k)/float64(g)
				pts[k] = m.opts.GridEps*uniform + (1-m.opts.GridEps)*adaptive[k]
			}

			old := layer.Grids[i]
			targets := make([][]float64, layer.Out)
			for j := range targets {
				base := m.edgeBase(l, i, j)
				coef := m.params[base : base+m.nb]
				targets[j] = make([]float64, len(pos))
				for n, x := range pos {
					targets[j][n] = old.Eval(coef, x)
				}
			}

			grid := spline.FromPoints(pts, m.opts.K)
			coefs, err := spline.Curve2Coef(grid, pos, targets...)
			if err != nil {
				return fmt.Errorf("model: refit layer %d input %d: %w", l, i, err)
			}
			layer.Grids[i] = grid
			for j := range coefs {
				base := m.edgeBase(l, i, j)
				copy(m.params[base:base+m.nb], coefs[j])
			}
		}
	}
	return nil
}
