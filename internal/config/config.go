package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"kan-poisson/internal/dataset"
	"kan-poisson/internal/symbolic"
)

// FixSpec pins edge (Layer, In, Out) to a library function before refinement.
type FixSpec struct {
	Layer int    `yaml:"layer" json:"layer"`
	In    int    `yaml:"in" json:"in"`
	Out   int    `yaml:"out" json:"out"`
	Fn    string `yaml:"fn" json:"fn"`
}

// Config captures the runtime knobs for a training run.
type Config struct {
	Width          []int   `yaml:"width" json:"width"`
	Grid           int     `yaml:"grid" json:"grid"`
	K              int     `yaml:"k" json:"k"`
	GridEps        float64 `yaml:"grid_eps" json:"grid_eps"`
	NoiseScale     float64 `yaml:"noise_scale" json:"noise_scale"`
	NoiseScaleBase float64 `yaml:"noise_scale_base" json:"noise_scale_base"`
	Seed           int64   `yaml:"seed" json:"seed"`

	NPInterior   int     `yaml:"np_interior" json:"np_interior"`
	NPBoundary   int     `yaml:"np_boundary" json:"np_boundary"`
	SamplingMode string  `yaml:"sampling_mode" json:"sampling_mode"`
	DomainMin    float64 `yaml:"domain_min" json:"domain_min"`
	DomainMax    float64 `yaml:"domain_max" json:"domain_max"`

	Alpha           float64 `yaml:"alpha" json:"alpha"`
	Steps           int     `yaml:"steps" json:"steps"`
	RefineSteps     int     `yaml:"refine_steps" json:"refine_steps"`
	SymbolicSteps   int     `yaml:"symbolic_steps" json:"symbolic_steps"`
	GridUpdateEvery int     `yaml:"grid_update_every" json:"grid_update_every"`
	GridUpdateUntil int     `yaml:"grid_update_until" json:"grid_update_until"`
	LBFGSHistory    int     `yaml:"lbfgs_history" json:"lbfgs_history"`
	LBFGSMaxIter    int     `yaml:"lbfgs_max_iter" json:"lbfgs_max_iter"`
	NumWorkers      int     `yaml:"num_workers" json:"num_workers"`
	LogEvery        int     `yaml:"log_every" json:"log_every"`
	Restarts        int     `yaml:"restarts" json:"restarts"`
	TargetLoss      float64 `yaml:"target_loss" json:"target_loss"`

	FixSymbolic   []FixSpec `yaml:"fix_symbolic" json:"fix_symbolic"`
	SymbolicLib   []string  `yaml:"symbolic_lib" json:"symbolic_lib"`
	FormulaDigits int       `yaml:"formula_digits" json:"formula_digits"`
	OutDir        string    `yaml:"out_dir" json:"out_dir"`
}

// Default returns the configuration of the reference experiment: a [2,2,1]
// network, 21×21 random interior points, 20 LBFGS steps per phase, the
// first-layer edges fixed to x and the second-layer edges to sin.
func Default() *Config {
	return &Config{
		Width:           []int{2, 2, 1},
		Grid:            5,
		K:               3,
		GridEps:         1.0,
		NoiseScale:      0.1,
		NoiseScaleBase:  0.25,
		NPInterior:      21,
		NPBoundary:      21,
		SamplingMode:    string(dataset.ModeRandom),
		DomainMin:       -1,
		DomainMax:       1,
		Alpha:           0.1,
		Steps:           20,
		RefineSteps:     20,
		SymbolicSteps:   20,
		GridUpdateEvery: 5,
		GridUpdateUntil: 50,
		LBFGSHistory:    10,
		LBFGSMaxIter:    20,
		LogEvery:        1,
		Restarts:        3,
		TargetLoss:      1e-4,
		FixSymbolic: []FixSpec{
			{Layer: 0, In: 0, Out: 0, Fn: "x"},
			{Layer: 0, In: 0, Out: 1, Fn: "x"},
			{Layer: 0, In: 1, Out: 0, Fn: "x"},
			{Layer: 0, In: 1, Out: 1, Fn: "x"},
			{Layer: 1, In: 0, Out: 0, Fn: "sin"},
			{Layer: 1, In: 1, Out: 0, Fn: "sin"},
		},
		SymbolicLib:   append([]string(nil), symbolic.DefaultLibrary...),
		FormulaDigits: 4,
		OutDir:        ".",
	}
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Steps         int
	RefineSteps   int
	SymbolicSteps int
	Restarts      int
	NPInterior    int
	NPBoundary    int
	SamplingMode  string
	Alpha         float64
	NumWorkers    int
	Seed          int64
	LogEvery      int
	OutDir        string
}

// Load reads and validates a Config from YAML. Keys absent from the file
// keep their Default values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := parseYAML(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Steps > 0 {
		c.Steps = o.Steps
	}
	if o.RefineSteps > 0 {
		c.RefineSteps = o.RefineSteps
	}
	if o.SymbolicSteps > 0 {
		c.SymbolicSteps = o.SymbolicSteps
	}
	if o.Restarts > 0 {
		c.Restarts = o.Restarts
	}
	if o.NPInterior > 0 {
		c.NPInterior = o.NPInterior
	}
	if o.NPBoundary > 0 {
		c.NPBoundary = o.NPBoundary
	}
	if o.SamplingMode != "" {
		c.SamplingMode = o.SamplingMode
	}
	if o.Alpha > 0 {
		c.Alpha = o.Alpha
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.OutDir != "" {
		c.OutDir = o.OutDir
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if len(c.Width) < 2 {
		return fmt.Errorf("width needs at least two layers (got %v)", c.Width)
	}
	if c.Width[0] != 2 || c.Width[len(c.Width)-1] != 1 {
		return fmt.Errorf("width must map 2 inputs to 1 output (got %v)", c.Width)
	}
	for _, w := range c.Width {
		if w <= 0 {
			return fmt.Errorf("width entries must be > 0 (got %v)", c.Width)
		}
	}
	if c.Grid <= 0 {
		return fmt.Errorf("grid must be > 0 (got %d)", c.Grid)
	}
	if c.K <= 0 {
		return fmt.Errorf("k must be > 0 (got %d)", c.K)
	}
	if c.GridEps < 0 || c.GridEps > 1 {
		return fmt.Errorf("grid_eps must be in [0, 1] (got %g)", c.GridEps)
	}
	if c.NPInterior <= 1 || c.NPBoundary <= 1 {
		return fmt.Errorf("np_interior and np_boundary must be > 1 (got %d, %d)", c.NPInterior, c.NPBoundary)
	}
	switch dataset.Mode(c.SamplingMode) {
	case dataset.ModeRandom, dataset.ModeMesh:
	default:
		return fmt.Errorf("sampling_mode must be random or mesh (got %q)", c.SamplingMode)
	}
	if err := c.Domain().Validate(); err != nil {
		return err
	}
	if c.Alpha <= 0 {
		return fmt.Errorf("alpha must be > 0 (got %g)", c.Alpha)
	}
	if c.Steps <= 0 {
		return fmt.Errorf("steps must be > 0 (got %d)", c.Steps)
	}
	if c.RefineSteps < 0 || c.SymbolicSteps < 0 {
		return fmt.Errorf("refine_steps and symbolic_steps must be >= 0 (got %d, %d)", c.RefineSteps, c.SymbolicSteps)
	}
	if c.Restarts < 0 {
		return fmt.Errorf("restarts must be >= 0 (got %d)", c.Restarts)
	}
	if c.TargetLoss < 0 {
		return fmt.Errorf("target_loss must be >= 0 (got %g)", c.TargetLoss)
	}
	if c.GridUpdateEvery < 0 || c.GridUpdateUntil < 0 {
		return errors.New("grid_update_every and grid_update_until must be >= 0")
	}
	if c.LBFGSHistory <= 0 {
		c.LBFGSHistory = 10
	}
	if c.LBFGSMaxIter <= 0 {
		c.LBFGSMaxIter = 20
	}
	if c.NumWorkers < 0 {
		return fmt.Errorf("num_workers must be >= 0 (got %d)", c.NumWorkers)
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 1
	}
	for _, f := range c.FixSymbolic {
		if f.Layer < 0 || f.Layer >= len(c.Width)-1 {
			return fmt.Errorf("fix_symbolic: layer %d out of range", f.Layer)
		}
		if f.In < 0 || f.In >= c.Width[f.Layer] || f.Out < 0 || f.Out >= c.Width[f.Layer+1] {
			return fmt.Errorf("fix_symbolic: edge (%d,%d,%d) out of range", f.Layer, f.In, f.Out)
		}
		if _, err := symbolic.Lookup(f.Fn); err != nil {
			return fmt.Errorf("fix_symbolic: %w", err)
		}
	}
	if len(c.SymbolicLib) == 0 {
		c.SymbolicLib = append([]string(nil), symbolic.DefaultLibrary...)
	}
	for _, name := range c.SymbolicLib {
		if _, err := symbolic.Lookup(name); err != nil {
			return fmt.Errorf("symbolic_lib: %w", err)
		}
	}
	if c.FormulaDigits < 0 {
		return fmt.Errorf("formula_digits must be >= 0 (got %d)", c.FormulaDigits)
	}
	if c.OutDir == "" {
		c.OutDir = "."
	}
	return nil
}

// Domain is the sampling square.
func (c *Config) Domain() dataset.Domain {
	return dataset.Domain{Min: c.DomainMin, Max: c.DomainMax}
}

func parseYAML(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
