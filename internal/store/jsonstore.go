// Package store persists training runs and model checkpoints as JSON.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"kan-poisson/internal/model"
)

const defaultRunsDir = "runs"

// Phase summarizes one optimization phase.
type Phase struct {
	Name    string  `json:"name"`
	Steps   int     `json:"steps"`
	PDELoss float64 `json:"pde_loss"`
	BCLoss  float64 `json:"bc_loss"`
	L2      float64 `json:"l2"`
	Evals   int     `json:"evals"`
	GridMS  float64 `json:"grid_ms"`
	TotalMS float64 `json:"total_ms"`
}

// Edge records the symbolic function chosen for one edge.
type Edge struct {
	Layer int     `json:"layer"`
	In    int     `json:"in"`
	Out   int     `json:"out"`
	Fn    string  `json:"fn"`
	R2    float64 `json:"r2"`
	Fixed bool    `json:"fixed"`
}

// Run is the artifact of one training run.
type Run struct {
	ID           string           `json:"id"`
	StartedAt    time.Time        `json:"started_at"`
	EndedAt      time.Time        `json:"ended_at"`
	Config       any              `json:"config,omitempty"`
	Attempts     int              `json:"attempts"`
	Seed         int64            `json:"seed"`
	Phases       []Phase          `json:"phases"`
	Edges        []Edge           `json:"edges"`
	Formula      string           `json:"formula"`
	FormulaLaTeX string           `json:"formula_latex"`
	FormulaL2    float64          `json:"formula_l2"`
	Checkpoint   model.Checkpoint `json:"checkpoint"`
}

// JSONStore writes runs under <root>/runs.
type JSONStore struct {
	rootDir     string
	runsDirName string
	now         func() time.Time
	newID       func() string
}

type Option func(*JSONStore)

// WithNow is useful for tests.
func WithNow(now func() time.Time) Option {
	return func(s *JSONStore) { s.now = now }
}

// WithID replaces the UUID generator.
func WithID(newID func() string) Option {
	return func(s *JSONStore) { s.newID = newID }
}

func NewJSONStore(root string, opts ...Option) *JSONStore {
	s := &JSONStore{
		rootDir:     root,
		runsDirName: defaultRunsDir,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveRun assigns the run an id when it has none and writes it to
// runs/<timestamp>_<id>.json, returning the path.
func (s *JSONStore) SaveRun(run Run) (string, error) {
	dir := filepath.Join(s.rootDir, s.runsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &FileError{Action: "create directory", Path: dir, Kind: KindDisk, Err: err}
	}
	if run.ID == "" {
		run.ID = s.newID()
	}
	ts := run.StartedAt
	if ts.IsZero() {
		ts = s.now()
		run.StartedAt = ts
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", ts.UTC().Format("20060102T150405Z"), run.ID))
	if err := writeJSON("save run", path, run); err != nil {
		return "", err
	}
	return path, nil
}

// LoadRun reads a run written by SaveRun.
func LoadRun(path string) (Run, error) {
	var run Run
	if err := readJSON("load run", path, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// SaveCheckpoint writes a bare model checkpoint to path.
func SaveCheckpoint(path string, c model.Checkpoint) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &FileError{Action: "create directory", Path: dir, Kind: KindDisk, Err: err}
		}
	}
	return writeJSON("save checkpoint", path, c)
}

// LoadCheckpoint reads a checkpoint from either a bare checkpoint file or a
// run file.
func LoadCheckpoint(path string) (model.Checkpoint, error) {
	var probe struct {
		Checkpoint *model.Checkpoint `json:"checkpoint"`
	}
	if err := readJSON("load checkpoint", path, &probe); err != nil {
		return model.Checkpoint{}, err
	}
	if probe.Checkpoint != nil {
		return *probe.Checkpoint, nil
	}
	var c model.Checkpoint
	if err := readJSON("load checkpoint", path, &c); err != nil {
		return model.Checkpoint{}, err
	}
	if len(c.Params) == 0 {
		return model.Checkpoint{}, &FileError{Action: "load checkpoint", Path: path, Kind: KindMalformed, Err: errors.New("no parameters")}
	}
	return c, nil
}

func writeJSON(action, path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &FileError{Action: action, Path: path, Kind: KindMalformed, Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return &FileError{Action: action, Path: tmp, Kind: KindDisk, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &FileError{Action: action, Path: path, Kind: KindDisk, Err: err}
	}
	return nil
}

func readJSON(action, path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		kind := KindDisk
		if errors.Is(err, fs.ErrNotExist) {
			kind = KindMissing
		}
		return &FileError{Action: action, Path: path, Kind: kind, Err: err}
	}
	if err := json.Unmarshal(b, v); err != nil {
		return &FileError{Action: action, Path: path, Kind: KindMalformed, Err: err}
	}
	return nil
}
