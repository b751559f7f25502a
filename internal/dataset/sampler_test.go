package dataset

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestSampleDeterministic(t *testing.T) {
	opts := SamplerOptions{Interior: 7, Boundary: 5, Seed: 123}
	a, err := Sample(opts)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	b, err := Sample(opts)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed produced different batches")
	}
	if len(a.Interior) != 49 {
		t.Fatalf("expected 49 interior points, got %d", len(a.Interior))
	}
	for _, p := range a.Interior {
		if p[0] < -1 || p[0] >= 1 || p[1] < -1 || p[1] >= 1 {
			t.Fatalf("interior point outside domain: %v", p)
		}
	}
}

func TestInteriorMesh(t *testing.T) {
	pts, err := Interior(3, DefaultDomain, ModeMesh, nil)
	if err != nil {
		t.Fatalf("Interior: %v", err)
	}
	want := Points{
		{-1, -1}, {-1, 0}, {-1, 1},
		{0, -1}, {0, 0}, {0, 1},
		{1, -1}, {1, 0}, {1, 1},
	}
	if !reflect.DeepEqual(pts, want) {
		t.Fatalf("mesh = %v, want %v", pts, want)
	}
}

func TestInteriorUnknownMode(t *testing.T) {
	if _, err := Interior(3, DefaultDomain, Mode("sobol"), rand.New(rand.NewSource(1))); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestBoundaryEdges(t *testing.T) {
	d := Domain{Min: 0, Max: 2}
	pts := Boundary(3, d)
	if len(pts) != 12 {
		t.Fatalf("expected 12 boundary points, got %d", len(pts))
	}
	for i, p := range pts {
		onEdge := p[0] == d.Min || p[0] == d.Max || p[1] == d.Min || p[1] == d.Max
		if !onEdge {
			t.Fatalf("point %d not on boundary: %v", i, p)
		}
	}
	if !reflect.DeepEqual(pts[0], []float64{0, 0}) || !reflect.DeepEqual(pts[5], []float64{2, 2}) {
		t.Fatalf("unexpected edge order: %v", pts)
	}
	if got := pts.Column(1)[:3]; !reflect.DeepEqual(got, []float64{0, 1, 2}) {
		t.Fatalf("Column(1) = %v", got)
	}
}

func TestSampleRejectsBadOptions(t *testing.T) {
	cases := []SamplerOptions{
		{Interior: 1, Boundary: 5},
		{Interior: 5, Boundary: 0},
		{Interior: 5, Boundary: 5, Domain: Domain{Min: 1, Max: 1}},
		{Interior: 5, Boundary: 5, Mode: "grid"},
	}
	for i, opts := range cases {
		if _, err := Sample(opts); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
