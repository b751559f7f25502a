package model

import (
	"fmt"

	"kan-poisson/internal/spline"
	"kan-poisson/internal/symbolic"
)

// Checkpoint is the serialized form of a KAN.
type Checkpoint struct {
	Options Options           `json:"options"`
	Layers  []LayerCheckpoint `json:"layers"`
	Params  []float64         `json:"params"`
}

// LayerCheckpoint stores the unextended grid points of every input and the
// mode of every edge, indexed in*out+j.
type LayerCheckpoint struct {
	Grids [][]float64      `json:"grids"`
	Edges []EdgeCheckpoint `json:"edges"`
}

// EdgeCheckpoint is empty for spline edges.
type EdgeCheckpoint struct {
	Fn string  `json:"fn,omitempty"`
	R2 float64 `json:"r2,omitempty"`
}

// Checkpoint snapshots the model.
func (m *KAN) Checkpoint() Checkpoint {
	c := Checkpoint{Options: m.opts, Params: m.Params()}
	c.Options.Width = m.Width()
	for _, layer := range m.layers {
		lc := LayerCheckpoint{}
		for _, g := range layer.Grids {
			lc.Grids = append(lc.Grids, g.Points())
		}
		for _, e := range layer.Edges {
			if e.Symbolic {
				lc.Edges = append(lc.Edges, EdgeCheckpoint{Fn: e.Fn, R2: e.R2})
			} else {
				lc.Edges = append(lc.Edges, EdgeCheckpoint{})
			}
		}
		c.Layers = append(c.Layers, lc)
	}
	return c
}

// FromCheckpoint rebuilds a model from a snapshot.
func FromCheckpoint(c Checkpoint) (*KAN, error) {
	m, err := New(c.Options)
	if err != nil {
		return nil, err
	}
	if len(c.Layers) != len(m.layers) {
		return nil, fmt.Errorf("%w: checkpoint has %d layers, options imply %d", ErrShape, len(c.Layers), len(m.layers))
	}
	for l, lc := range c.Layers {
		layer := m.layers[l]
		if len(lc.Grids) != layer.In || len(lc.Edges) != layer.In*layer.Out {
			return nil, fmt.Errorf("%w: layer %d grids/edges do not match width", ErrShape, l)
		}
		for i, pts := range lc.Grids {
			if len(pts) != c.Options.Grid+1 {
				return nil, fmt.Errorf("%w: layer %d input %d has %d grid points, want %d", ErrShape, l, i, len(pts), c.Options.Grid+1)
			}
			layer.Grids[i] = spline.FromPoints(pts, c.Options.K)
		}
		for k, ec := range lc.Edges {
			if ec.Fn == "" {
				layer.Edges[k] = Edge{}
				continue
			}
			if _, err := symbolic.Lookup(ec.Fn); err != nil {
				return nil, err
			}
			layer.Edges[k] = Edge{Symbolic: true, Fn: ec.Fn, R2: ec.R2}
		}
	}
	if err := m.SetParams(c.Params); err != nil {
		return nil, err
	}
	return m, nil
}
