package metrics

import "time"

// Losses are the quantities logged for a training step.
type Losses struct {
	PDE float64
	BC  float64
	L2  float64
}

// Window accumulates timing stats across multiple steps.
type Window struct {
	points     int
	evals      int
	grid       time.Duration
	compute    time.Duration
	steps      int
	gridSteps  int
	lastLosses Losses
}

// Record adds a new measurement to the window. points is the number of
// collocation points per loss evaluation and evals the evaluations the
// optimizer made during the step.
func (w *Window) Record(points, evals int, gridTime, computeTime time.Duration, losses Losses) {
	w.points += points * evals
	w.evals += evals
	w.grid += gridTime
	if gridTime > 0 {
		w.gridSteps++
	}
	w.compute += computeTime
	w.steps++
	w.lastLosses = losses
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	if w.compute > 0 {
		snap.PointsPerSec = float64(w.points) / w.compute.Seconds()
	}
	if w.steps > 0 {
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.AvgEvals = float64(w.evals) / float64(w.steps)
	}
	if w.gridSteps > 0 {
		snap.AvgGridMS = (w.grid.Seconds() * 1000) / float64(w.gridSteps)
	}
	snap.Last = w.lastLosses

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	PointsPerSec float64
	AvgEvals     float64
	AvgGridMS    float64
	AvgComputeMS float64
	Last         Losses
}

// Totals accumulates wall time for a whole run; unlike Window it is never
// reset.
type Totals struct {
	Steps       int
	Evals       int
	GridUpdates int
	Grid        time.Duration
	Compute     time.Duration
}

// Add folds one step into the totals.
func (t *Totals) Add(evals int, gridTime, computeTime time.Duration) {
	t.Steps++
	t.Evals += evals
	if gridTime > 0 {
		t.GridUpdates++
	}
	t.Grid += gridTime
	t.Compute += computeTime
}
