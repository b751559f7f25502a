package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"github.com/spf13/cobra"

	"kan-poisson/internal/config"
	"kan-poisson/internal/dataset"
	"kan-poisson/internal/logger"
	"kan-poisson/internal/model"
	"kan-poisson/internal/report"
	"kan-poisson/internal/store"
	"kan-poisson/internal/symbolic"
	"kan-poisson/internal/trainer"
)

func trainCmd(root *rootOptions) *cobra.Command {
	var o config.Overrides
	var noSave bool
	var checkpointOut string

	c := &cobra.Command{
		Use:   "train",
		Short: "Train, fix symbolic edges, refine and print the recovered formula",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cleanup, err := root.setupLogger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()
			log := logger.L()

			cfg, err := loadConfig(root.configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			cfg.ApplyOverrides(o)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if cfg.NumWorkers == 0 {
				cfg.NumWorkers = defaultWorkers()
			}

			runCfg := runConfig(cfg)
			runCfg.Logger = log
			if !noSave {
				runCfg.Saver = store.NewJSONStore(cfg.OutDir)
			}

			res, err := trainer.Run(cmd.Context(), runCfg)
			if err != nil {
				log.Error("training failed", "err", err)
				return err
			}

			if checkpointOut != "" {
				if err := store.SaveCheckpoint(checkpointOut, res.Run.Checkpoint); err != nil {
					return err
				}
				log.Info("checkpoint.saved", "path", checkpointOut)
			}

			out, err := report.Render(report.DefaultTheme(), res.Run, res.Model, res.Path)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	c.Flags().IntVar(&o.Steps, "steps", 0, "Number of training steps before symbolic fixing")
	c.Flags().IntVar(&o.RefineSteps, "refine-steps", 0, "Number of training steps after symbolic fixing")
	c.Flags().IntVar(&o.SymbolicSteps, "symbolic-steps", 0, "Number of training steps on the all-symbolic model")
	c.Flags().IntVar(&o.Restarts, "restarts", 0, "Extra seeds tried while the final loss misses target_loss")
	c.Flags().IntVar(&o.NPInterior, "np-interior", 0, "Interior points per dimension")
	c.Flags().IntVar(&o.NPBoundary, "np-boundary", 0, "Boundary points per edge")
	c.Flags().StringVar(&o.SamplingMode, "mode", "", "Interior sampling: random|mesh")
	c.Flags().Float64Var(&o.Alpha, "alpha", 0, "Weight of the PDE loss")
	c.Flags().IntVar(&o.NumWorkers, "num-workers", 0, "Loss evaluation workers (default: logical cores)")
	c.Flags().Int64Var(&o.Seed, "seed", 0, "PRNG seed")
	c.Flags().IntVar(&o.LogEvery, "log-every", 0, "Log every N steps")
	c.Flags().StringVar(&o.OutDir, "out", "", "Directory that receives runs/")
	c.Flags().BoolVar(&noSave, "no-save", false, "Do not save the run under runs/")
	c.Flags().StringVar(&checkpointOut, "checkpoint-out", "", "Also write the final model checkpoint to this file")
	return c
}

// loadConfig falls back to the built-in defaults when the default config
// path does not exist.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		return cfg, cfg.Validate()
	}
	return nil, fmt.Errorf("failed to load config: %w", err)
}

func defaultWorkers() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func runConfig(cfg *config.Config) trainer.RunConfig {
	fixes := make([]trainer.Fix, len(cfg.FixSymbolic))
	for k, f := range cfg.FixSymbolic {
		fixes[k] = trainer.Fix{Layer: f.Layer, In: f.In, Out: f.Out, Fn: f.Fn}
	}
	return trainer.RunConfig{
		Model: model.Options{
			Width:          cfg.Width,
			Grid:           cfg.Grid,
			K:              cfg.K,
			NoiseScale:     cfg.NoiseScale,
			NoiseScaleBase: cfg.NoiseScaleBase,
			GridEps:        cfg.GridEps,
			GridRange:      [2]float64{cfg.DomainMin, cfg.DomainMax},
			Seed:           cfg.Seed,
		},
		Sampler: dataset.SamplerOptions{
			Interior: cfg.NPInterior,
			Boundary: cfg.NPBoundary,
			Mode:     dataset.Mode(cfg.SamplingMode),
			Domain:   cfg.Domain(),
			Seed:     cfg.Seed,
		},
		Alpha:           cfg.Alpha,
		Steps:           cfg.Steps,
		RefineSteps:     cfg.RefineSteps,
		SymbolicSteps:   cfg.SymbolicSteps,
		GridUpdateEvery: cfg.GridUpdateEvery,
		GridUpdateUntil: cfg.GridUpdateUntil,
		LBFGSHistory:    cfg.LBFGSHistory,
		LBFGSMaxIter:    cfg.LBFGSMaxIter,
		NumWorkers:      cfg.NumWorkers,
		LogEvery:        cfg.LogEvery,
		Fix:             fixes,
		SymbolicLib:     cfg.SymbolicLib,
		Fit:             symbolic.DefaultFitOptions(),
		FormulaDigits:   cfg.FormulaDigits,
		Restarts:        cfg.Restarts,
		TargetLoss:      cfg.TargetLoss,
		Meta:            cfg,
	}
}
