package dataset

import (
	"errors"
	"fmt"
	"math/rand"
)

// Mode selects how interior points are drawn.
type Mode string

const (
	ModeRandom Mode = "random"
	ModeMesh   Mode = "mesh"
)

// Domain is the square [Min, Max]².
type Domain struct {
	Min float64
	Max float64
}

// DefaultDomain is [-1, 1]².
var DefaultDomain = Domain{Min: -1, Max: 1}

// Validate checks the domain is non-degenerate.
func (d Domain) Validate() error {
	if !(d.Max > d.Min) {
		return fmt.Errorf("dataset: domain max (%g) must exceed min (%g)", d.Max, d.Min)
	}
	return nil
}

// Points is a batch of 2D coordinates.
type Points [][]float64

// Column returns coordinate dim of every point.
func (p Points) Column(dim int) []float64 {
	out := make([]float64, len(p))
	for i, pt := range p {
		out[i] = pt[dim]
	}
	return out
}

// SamplerOptions configures the collocation batches.
type SamplerOptions struct {
	Interior int
	Boundary int
	Mode     Mode
	Domain   Domain
	Seed     int64
}

// Collocation holds the fixed interior and boundary batches of a run.
type Collocation struct {
	Interior Points
	Boundary Points
}

// Sample draws the interior and boundary batches. The same options and seed
// always yield the same points.
func Sample(opts SamplerOptions) (Collocation, error) {
	if opts.Interior <= 1 {
		return Collocation{}, errors.New("dataset: interior resolution must be > 1")
	}
	if opts.Boundary <= 1 {
		return Collocation{}, errors.New("dataset: boundary resolution must be > 1")
	}
	if opts.Mode == "" {
		opts.Mode = ModeRandom
	}
	if opts.Domain == (Domain{}) {
		opts.Domain = DefaultDomain
	}
	if err := opts.Domain.Validate(); err != nil {
		return Collocation{}, err
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	interior, err := Interior(opts.Interior, opts.Domain, opts.Mode, rng)
	if err != nil {
		return Collocation{}, err
	}
	return Collocation{
		Interior: interior,
		Boundary: Boundary(opts.Boundary, opts.Domain),
	}, nil
}

// Interior returns n² points inside the domain.
func Interior(n int, d Domain, mode Mode, rng *rand.Rand) (Points, error) {
	switch mode {
	case ModeMesh:
		xs := linspace(d.Min, d.Max, n)
		pts := make(Points, 0, n*n)
		for _, x := range xs {
			for _, y := range xs {
				pts = append(pts, []float64{x, y})
			}
		}
		return pts, nil
	case ModeRandom:
		width := d.Max - d.Min
		pts := make(Points, n*n)
		for i := range pts {
			pts[i] = []float64{rng.Float64()*width + d.Min, rng.Float64()*width + d.Min}
		}
		return pts, nil
	}
	return nil, fmt.Errorf("dataset: unknown sampling mode %q", mode)
}

// Boundary returns the four edges of the n×n mesh in the order x=min, x=max,
// y=min, y=max. Corners are repeated.
func Boundary(n int, d Domain) Points {
	ts := linspace(d.Min, d.Max, n)
	pts := make(Points, 0, 4*n)
	for _, y := range ts {
		pts = append(pts, []float64{d.Min, y})
	}
	for _, y := range ts {
		pts = append(pts, []float64{d.Max, y})
	}
	for _, x := range ts {
		pts = append(pts, []float64{x, d.Min})
	}
	for _, x := range ts {
		pts = append(pts, []float64{x, d.Max})
	}
	return pts
}

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return out
}
