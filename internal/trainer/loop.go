package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"kan-poisson/internal/dataset"
	"kan-poisson/internal/metrics"
	"kan-poisson/internal/model"
	"kan-poisson/internal/optim"
	"kan-poisson/internal/pde"
	"kan-poisson/internal/store"
	"kan-poisson/internal/symbolic"
)

// Fix pins one edge to a library function after the first phase.
type Fix struct {
	Layer, In, Out int
	Fn             string
}

// Saver persists a finished run and returns where it went.
type Saver interface {
	SaveRun(run store.Run) (string, error)
}

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Model           model.Options
	Sampler         dataset.SamplerOptions
	Alpha           float64
	Steps           int
	RefineSteps     int
	SymbolicSteps   int
	GridUpdateEvery int
	GridUpdateUntil int
	LBFGSHistory    int
	LBFGSMaxIter    int
	NumWorkers      int
	LogEvery        int
	Fix             []Fix
	SymbolicLib     []string
	Fit             symbolic.FitOptions
	FormulaDigits   int

	// Restarts is the number of extra attempts, each with the next model
	// seed, made while the final loss stays above TargetLoss. The attempt
	// with the lowest final loss is kept.
	Restarts   int
	TargetLoss float64

	// Meta is stored verbatim with the run.
	Meta   any
	Saver  Saver
	Logger *slog.Logger
}

// Result is the outcome of Run.
type Result struct {
	Run   store.Run
	Model *model.KAN
	Path  string
}

type loop struct {
	cfg      RunConfig
	log      *slog.Logger
	model    *model.KAN
	eval     *pde.Evaluator
	opt      *optim.LBFGS
	interior dataset.Points
}

// attempt is one pass of the pipeline from a fresh model.
type attempt struct {
	seed   int64
	model  *model.KAN
	phases []store.Phase
	edges  []store.Edge
	loss   pde.Losses
}

// Run executes the training workload: a first phase on the spline model,
// the configured symbolic fixes, a refinement phase, automatic symbolic
// fitting of the remaining edges, a last phase on the all-symbolic model
// and formula extraction.
func Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	if cfg.Steps <= 0 {
		return nil, errors.New("trainer: steps must be > 0")
	}
	if cfg.RefineSteps < 0 || cfg.SymbolicSteps < 0 {
		return nil, errors.New("trainer: refine and symbolic steps must be >= 0")
	}
	if cfg.Restarts < 0 {
		return nil, errors.New("trainer: restarts must be >= 0")
	}
	if cfg.Alpha <= 0 {
		return nil, errors.New("trainer: alpha must be > 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 1
	}
	if cfg.Fit == (symbolic.FitOptions{}) {
		cfg.Fit = symbolic.DefaultFitOptions()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	started := time.Now()

	col, err := dataset.Sample(cfg.Sampler)
	if err != nil {
		return nil, err
	}
	run := store.Run{ID: uuid.NewString(), StartedAt: started.UTC(), Config: cfg.Meta}
	logger.Info("run.start",
		"id", run.ID,
		"width", cfg.Model.Width,
		"interior", len(col.Interior),
		"boundary", len(col.Boundary),
		"workers", cfg.NumWorkers,
	)

	opt := optim.Default()
	if cfg.LBFGSHistory > 0 {
		opt.History = cfg.LBFGSHistory
	}
	if cfg.LBFGSMaxIter > 0 {
		opt.MaxIter = cfg.LBFGSMaxIter
	}
	opt.Logger = logger
	lp := &loop{
		cfg: cfg,
		log: logger,
		eval: &pde.Evaluator{
			Problem:  pde.Poisson(cfg.Alpha),
			Interior: col.Interior,
			Boundary: col.Boundary,
			Workers:  cfg.NumWorkers,
		},
		opt:      opt,
		interior: col.Interior,
	}

	var best *attempt
	for a := 0; a <= cfg.Restarts; a++ {
		opts := cfg.Model
		opts.Seed += int64(a)
		at, err := lp.attempt(ctx, opts)
		if err != nil {
			return nil, err
		}
		run.Attempts = a + 1
		if best == nil || at.loss.Total < best.loss.Total {
			best = at
		}
		if at.loss.Total <= cfg.TargetLoss {
			break
		}
		if a < cfg.Restarts {
			logger.Info("run.restart", "seed", opts.Seed, "loss", at.loss.Total, "target", cfg.TargetLoss)
		}
	}

	mdl := best.model
	run.Seed, run.Phases, run.Edges = best.seed, best.phases, best.edges
	exprs, err := mdl.SymbolicFormula([]string{"x", "y"}, cfg.FormulaDigits)
	if err != nil {
		return nil, err
	}
	formula := exprs[0]
	run.Formula = formula.String()
	run.FormulaLaTeX = formula.LaTeX()
	run.FormulaL2, err = pde.L2(lp.eval.Problem, func(x []float64) ([]float64, error) {
		return []float64{formula.Eval(map[string]float64{"x": x[0], "y": x[1]})}, nil
	}, col.Interior)
	if err != nil {
		return nil, err
	}
	logger.Info("formula", "u", run.Formula, "l2", run.FormulaL2, "seed", run.Seed)

	run.EndedAt = time.Now().UTC()
	run.Checkpoint = mdl.Checkpoint()
	res := &Result{Run: run, Model: mdl}
	if cfg.Saver != nil {
		path, err := cfg.Saver.SaveRun(run)
		if err != nil {
			return res, err
		}
		res.Path = path
		logger.Info("run.saved", "path", path)
	}
	return res, nil
}

// attempt trains a model built from opts through every phase and reports
// its final loss.
func (lp *loop) attempt(ctx context.Context, opts model.Options) (*attempt, error) {
	cfg := lp.cfg
	mdl, err := model.New(opts)
	if err != nil {
		return nil, err
	}
	lp.model = mdl
	at := &attempt{seed: opts.Seed, model: mdl}
	lp.log.Info("attempt.start", "seed", opts.Seed, "params", mdl.NumParams())

	phase, err := lp.phase(ctx, "train", cfg.Steps)
	if err != nil {
		return nil, err
	}
	at.phases = append(at.phases, phase)

	mdl.SetSamples(lp.interior)
	for _, f := range cfg.Fix {
		r2, err := mdl.FixSymbolic(f.Layer, f.In, f.Out, f.Fn, true, cfg.Fit)
		if err != nil {
			return nil, fmt.Errorf("trainer: fix (%d,%d,%d): %w", f.Layer, f.In, f.Out, err)
		}
		lp.log.Info("fix_symbolic", "layer", f.Layer, "in", f.In, "out", f.Out, "fn", f.Fn, "r2", r2)
		at.edges = append(at.edges, store.Edge{Layer: f.Layer, In: f.In, Out: f.Out, Fn: f.Fn, R2: r2, Fixed: true})
	}

	if cfg.RefineSteps > 0 {
		phase, err := lp.phase(ctx, "refine", cfg.RefineSteps)
		if err != nil {
			return nil, err
		}
		at.phases = append(at.phases, phase)
	}

	mdl.SetSamples(lp.interior)
	assigned, err := mdl.AutoSymbolic(ctx, cfg.SymbolicLib, cfg.Fit, cfg.NumWorkers)
	if err != nil {
		return nil, err
	}
	for _, a := range assigned {
		lp.log.Info("auto_symbolic", "layer", a.Layer, "in", a.In, "out", a.Out, "fn", a.Fn, "r2", a.R2)
		at.edges = append(at.edges, store.Edge{Layer: a.Layer, In: a.In, Out: a.Out, Fn: a.Fn, R2: a.R2})
	}

	if cfg.SymbolicSteps > 0 {
		phase, err := lp.phase(ctx, "symbolic", cfg.SymbolicSteps)
		if err != nil {
			return nil, err
		}
		at.phases = append(at.phases, phase)
	}

	at.loss, err = lp.eval.Evaluate(ctx, mdl, mdl.Params(), nil)
	if errors.Is(err, pde.ErrDiverged) {
		at.loss.Total, err = math.Inf(1), nil
	}
	if err != nil {
		return nil, err
	}
	lp.log.Info("attempt.done", "seed", opts.Seed, "loss", at.loss.Total, "pde_loss", at.loss.PDE, "bc_loss", at.loss.BC)
	return at, nil
}

func (c RunConfig) gridUpdateDue(step int) bool {
	return c.GridUpdateEvery > 0 && step%c.GridUpdateEvery == 0 && step < c.GridUpdateUntil
}

// phase runs steps LBFGS steps with a fresh optimizer history, refreshing
// the spline grids from the interior batch before every GridUpdateEvery-th
// step below GridUpdateUntil.
func (lp *loop) phase(ctx context.Context, name string, steps int) (store.Phase, error) {
	var window metrics.Window
	var totals metrics.Totals
	summary := store.Phase{Name: name, Steps: steps}
	points := len(lp.eval.Interior) + len(lp.eval.Boundary)
	lp.opt.Reset()

	// Trial points where the loss blows up are reported as +Inf so the line
	// search backs off instead of aborting the run.
	closure := func(ctx context.Context, x, grad []float64) (float64, error) {
		l, err := lp.eval.Evaluate(ctx, lp.model, x, grad)
		if errors.Is(err, pde.ErrDiverged) {
			for k := range grad {
				grad[k] = 0
			}
			return math.Inf(1), nil
		}
		return l.Total, err
	}

	for step := 0; step < steps; step++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		var gridTime time.Duration
		if lp.cfg.gridUpdateDue(step) {
			startGrid := time.Now()
			if err := lp.model.UpdateGridFromSamples(lp.interior); err != nil {
				return summary, fmt.Errorf("trainer: %s step %d: %w", name, step, err)
			}
			gridTime = time.Since(startGrid)
			lp.log.Debug("grid.update", "phase", name, "step", step, "ms", gridTime.Seconds()*1000)
		}

		startCompute := time.Now()
		out, err := lp.opt.Step(ctx, lp.model.Params(), closure)
		if err != nil {
			return summary, fmt.Errorf("trainer: %s step %d: %w", name, step, err)
		}
		if err := lp.model.SetParams(out.X); err != nil {
			return summary, err
		}
		computeTime := time.Since(startCompute)

		losses, err := lp.eval.Evaluate(ctx, lp.model, out.X, nil)
		if err != nil {
			return summary, fmt.Errorf("trainer: %s step %d: %w", name, step, err)
		}
		l2, err := pde.L2(lp.eval.Problem, lp.model.Forward, lp.interior)
		if err != nil {
			return summary, err
		}
		window.Record(points, out.Evals, gridTime, computeTime, metrics.Losses{PDE: losses.PDE, BC: losses.BC, L2: l2})
		totals.Add(out.Evals, gridTime, computeTime)
		summary.PDELoss, summary.BCLoss, summary.L2 = losses.PDE, losses.BC, l2

		if (step+1)%lp.cfg.LogEvery == 0 || step == steps-1 {
			snap := window.Snapshot()
			lp.log.Info("step",
				"phase", name,
				"step", step,
				"pde_loss", snap.Last.PDE,
				"bc_loss", snap.Last.BC,
				"l2", snap.Last.L2,
				"evals", snap.AvgEvals,
				"lbfgs", out.Status,
				"points_per_sec", snap.PointsPerSec,
				"compute_ms", snap.AvgComputeMS,
				"grid_ms", snap.AvgGridMS,
			)
		}
	}
	summary.Evals = totals.Evals
	summary.GridMS = totals.Grid.Seconds() * 1000
	summary.TotalMS = (totals.Grid + totals.Compute).Seconds() * 1000
	return summary, nil
}
