package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "small.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Steps != 3 || cfg.RefineSteps != 2 || cfg.NPInterior != 7 || cfg.SamplingMode != "mesh" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Grid != 5 || cfg.Alpha != 0.1 || cfg.GridUpdateEvery != 5 {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
	if len(cfg.FixSymbolic) != 1 || cfg.FixSymbolic[0].Fn != "sin" || cfg.FixSymbolic[0].In != 1 {
		t.Fatalf("fix list should replace the default, got %+v", cfg.FixSymbolic)
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	tests := []struct {
		file string
		want string
	}{
		{"unknown.yaml", "batch_size"},
		{"badfix.yaml", "out of range"},
		{"missing.yaml", "open config"},
	}
	for _, tt := range tests {
		_, err := Load(filepath.Join("testdata", tt.file))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tt.file, tt.want, err)
		}
	}
}

func TestLoadEmptyFileIsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Steps != 20 || cfg.SymbolicSteps != 20 || cfg.Restarts != 3 || len(cfg.FixSymbolic) != 6 {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{Steps: 7, SymbolicSteps: 4, Restarts: 1, NumWorkers: 3, SamplingMode: "mesh", OutDir: "/tmp/x"})
	if cfg.Steps != 7 || cfg.SymbolicSteps != 4 || cfg.Restarts != 1 || cfg.NumWorkers != 3 || cfg.SamplingMode != "mesh" || cfg.OutDir != "/tmp/x" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.RefineSteps != 20 || cfg.Seed != 0 {
		t.Fatalf("zero overrides must not change values: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"width", func(c *Config) { c.Width = []int{3, 1} }, false},
		{"mode", func(c *Config) { c.SamplingMode = "sobol" }, false},
		{"domain", func(c *Config) { c.DomainMin, c.DomainMax = 1, -1 }, false},
		{"steps", func(c *Config) { c.Steps = 0 }, false},
		{"library", func(c *Config) { c.SymbolicLib = []string{"sin", "arcsinh"} }, false},
		{"fn", func(c *Config) { c.FixSymbolic = []FixSpec{{Fn: "nope"}} }, false},
		{"grid eps", func(c *Config) { c.GridEps = 1.5 }, false},
		{"symbolic steps", func(c *Config) { c.SymbolicSteps = -1 }, false},
		{"no symbolic phase", func(c *Config) { c.SymbolicSteps = 0 }, true},
		{"restarts", func(c *Config) { c.Restarts = -2 }, false},
		{"target loss", func(c *Config) { c.TargetLoss = -1 }, false},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		err := cfg.Validate()
		if (err == nil) != tt.ok {
			t.Fatalf("%s: ok=%v, err=%v", tt.name, tt.ok, err)
		}
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := Default()
	cfg.LogEvery = 0
	cfg.LBFGSMaxIter = 0
	cfg.SymbolicLib = nil
	cfg.OutDir = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.LogEvery != 1 || cfg.LBFGSMaxIter != 20 || len(cfg.SymbolicLib) == 0 || cfg.OutDir != "." {
		t.Fatalf("defaults not filled: %+v", cfg)
	}
}
