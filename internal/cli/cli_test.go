package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Use] = true
	}
	for _, expected := range []string{"train", "formula", "version"} {
		if !names[expected] {
			t.Errorf("expected subcommand %q to be registered", expected)
		}
	}
	for _, flag := range []string{"config", "debug", "log-file"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("expected persistent --%s flag", flag)
		}
	}
}

func TestTrainCmd_Flags(t *testing.T) {
	cmd := trainCmd(&rootOptions{})
	for _, flag := range []string{"steps", "refine-steps", "symbolic-steps", "restarts", "np-interior", "np-boundary", "mode", "alpha", "num-workers", "seed", "log-every", "out", "no-save", "checkpoint-out"} {
		if cmd.Flags().Lookup(flag) == nil {
			t.Errorf("expected --%s flag on train command", flag)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "kan-poisson dev") || !strings.Contains(out.String(), "logical cores") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestTrainThenFormula(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tiny.yaml")
	cfg := "steps: 1\nrefine_steps: 1\nsymbolic_steps: 1\nrestarts: 0\nnp_interior: 4\nnp_boundary: 3\nlbfgs_max_iter: 3\nsymbolic_lib: [x, sin, cos]\nout_dir: " + dir + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	ckPath := filepath.Join(dir, "model", "final.json")
	cmd.SetArgs([]string{"train", "--config", cfgPath, "--num-workers", "2", "--checkpoint-out", ckPath})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("train: %v\n%s", err, errOut.String())
	}
	if !strings.Contains(out.String(), "u(x, y) = ") {
		t.Fatalf("report missing formula:\n%s", out.String())
	}
	if !strings.Contains(errOut.String(), "pde_loss=") {
		t.Fatalf("logs missing step record:\n%s", errOut.String())
	}

	runs, err := filepath.Glob(filepath.Join(dir, "runs", "*.json"))
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one saved run, got %v (err=%v)", runs, err)
	}

	cmd = newRootCmd()
	out.Reset()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"formula", "--checkpoint", runs[0], "--edges"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("formula: %v", err)
	}
	if !strings.Contains(out.String(), "symbolic") || !strings.Contains(out.String(), "x") {
		t.Fatalf("unexpected formula output:\n%s", out.String())
	}

	cmd = newRootCmd()
	out.Reset()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"formula", "--checkpoint", runs[0], "--phases"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("formula --phases: %v", err)
	}
	for _, phase := range []string{"train", "refine", "symbolic"} {
		if !strings.Contains(out.String(), phase) {
			t.Fatalf("phase table missing %q:\n%s", phase, out.String())
		}
	}

	cmd = newRootCmd()
	out.Reset()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"formula", "--checkpoint", ckPath})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("formula from --checkpoint-out file: %v", err)
	}
	if !strings.Contains(out.String(), "x") {
		t.Fatalf("unexpected formula output:\n%s", out.String())
	}

	cmd = newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"formula", "--checkpoint", ckPath, "--phases"})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected --phases to reject a bare checkpoint")
	}
}

func TestTrainRejectsMissingExplicitConfig(t *testing.T) {
	cmd := newRootCmd()
	var errOut bytes.Buffer
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"train", "--config", filepath.Join(t.TempDir(), "nope.yaml"), "--no-save"})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestFormulaRequiresCheckpoint(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"formula"})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected error without --checkpoint")
	}
}
