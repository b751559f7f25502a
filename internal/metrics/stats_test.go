package metrics

import (
	"math"
	"testing"
	"time"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(100, 10, 4*time.Millisecond, 20*time.Millisecond, Losses{PDE: 1.2, BC: 0.3, L2: 0.5})
	w.Record(100, 20, 0, 30*time.Millisecond, Losses{PDE: 0.8, BC: 0.1, L2: 0.2})
	snap := w.Snapshot()
	if math.Abs(snap.PointsPerSec-60000) > 1 {
		t.Fatalf("unexpected throughput %.2f", snap.PointsPerSec)
	}
	if math.Abs(snap.AvgComputeMS-25) > 1e-9 || math.Abs(snap.AvgEvals-15) > 1e-9 {
		t.Fatalf("unexpected averages %+v", snap)
	}
	if math.Abs(snap.AvgGridMS-4) > 1e-9 {
		t.Fatalf("grid average should only count steps with an update, got %.2f", snap.AvgGridMS)
	}
	if w.points != 0 || w.steps != 0 || w.gridSteps != 0 {
		t.Fatalf("window was not reset")
	}
	if snap.Last.PDE != 0.8 || snap.Last.L2 != 0.2 {
		t.Fatalf("expected last losses, got %+v", snap.Last)
	}
}

func TestEmptySnapshot(t *testing.T) {
	var w Window
	if snap := w.Snapshot(); snap != (Snapshot{}) {
		t.Fatalf("expected zero snapshot, got %+v", snap)
	}
}

func TestTotals(t *testing.T) {
	var tot Totals
	tot.Add(12, time.Millisecond, 5*time.Millisecond)
	tot.Add(8, 0, 5*time.Millisecond)
	if tot.Steps != 2 || tot.Evals != 20 || tot.GridUpdates != 1 || tot.Compute != 10*time.Millisecond {
		t.Fatalf("unexpected totals %+v", tot)
	}
}
