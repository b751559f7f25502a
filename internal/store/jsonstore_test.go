package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kan-poisson/internal/model"
	"kan-poisson/internal/symbolic"
)

func testCheckpoint(t *testing.T) model.Checkpoint {
	t.Helper()
	m, err := model.New(model.DefaultOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.FixSymbolic(0, 1, 0, "x", false, symbolic.DefaultFitOptions()); err != nil {
		t.Fatalf("FixSymbolic: %v", err)
	}
	return m.Checkpoint()
}

func TestSaveRunCreatesJSONFile(t *testing.T) {
	tmp := t.TempDir()
	start := time.Date(2026, 2, 3, 10, 11, 12, 0, time.UTC)
	s := NewJSONStore(tmp, WithID(func() string { return "abc" }))

	path, err := s.SaveRun(Run{
		StartedAt:  start,
		EndedAt:    start.Add(time.Second),
		Formula:    "sin(x)",
		Phases:     []Phase{{Name: "train", Steps: 2, PDELoss: 0.5}},
		Edges:      []Edge{{Layer: 1, Fn: "cos", R2: 0.99}},
		Checkpoint: testCheckpoint(t),
	})
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	want := filepath.Join(tmp, "runs", "20260203T101112Z_abc.json")
	if path != want {
		t.Fatalf("path = %s, want %s", path, want)
	}
	if _, err := os.Stat(want + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}

	run, err := LoadRun(path)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if run.ID != "abc" || run.Formula != "sin(x)" || len(run.Phases) != 1 || run.Edges[0].Fn != "cos" {
		t.Fatalf("unexpected run %+v", run)
	}

	c, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint from run: %v", err)
	}
	m, err := model.FromCheckpoint(c)
	if err != nil {
		t.Fatalf("FromCheckpoint: %v", err)
	}
	if info, _ := m.EdgeInfo(0, 1, 0); !info.Symbolic || info.Fn != "x" {
		t.Fatalf("symbolic edge lost: %+v", info)
	}
}

func TestSaveRunDefaultsTimeAndID(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	s := NewJSONStore(tmp, WithNow(func() time.Time { return now }))
	path, err := s.SaveRun(Run{})
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	run, err := LoadRun(path)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if len(run.ID) != 36 || !run.StartedAt.Equal(now) {
		t.Fatalf("expected uuid and injected time, got %q %v", run.ID, run.StartedAt)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "model.json")
	c := testCheckpoint(t)
	if err := SaveCheckpoint(path, c); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	got, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if len(got.Params) != len(c.Params) || got.Params[3] != c.Params[3] {
		t.Fatalf("params differ")
	}
}

func TestLoadErrorsAreClassified(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadCheckpoint(filepath.Join(dir, "missing.json")); KindOf(err) != KindMissing {
		t.Fatalf("expected missing, got %v", err)
	}
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadRun(bad); KindOf(err) != KindMalformed {
		t.Fatalf("expected malformed, got %v", err)
	}
	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadCheckpoint(empty); KindOf(err) != KindMalformed {
		t.Fatalf("expected malformed for empty checkpoint, got %v", err)
	}
}

func TestFileErrorMessage(t *testing.T) {
	_, err := LoadRun(filepath.Join(t.TempDir(), "gone.json"))
	var fe *FileError
	if !errors.As(err, &fe) || fe.Action != "load run" {
		t.Fatalf("expected a load run FileError, got %v", err)
	}
	if !strings.Contains(err.Error(), "(missing)") || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("unexpected message %q", err)
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Fatalf("plain errors have no kind")
	}
	if KindDisk.String() != "disk" || Kind(9).String() != "Kind(9)" {
		t.Fatalf("unexpected kind names")
	}
}
