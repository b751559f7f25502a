// Package report renders a finished run for the terminal.
package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"kan-poisson/internal/model"
	"kan-poisson/internal/store"
)

// sparkWidth is the number of samples drawn per edge.
const sparkWidth = 24

var bars = []rune("▁▂▃▄▅▆▇█")

type Theme struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Formula  lipgloss.Style
	Card     lipgloss.Style
}

func DefaultTheme() Theme {
	return Theme{
		Title:    lipgloss.NewStyle().Bold(true),
		Subtitle: lipgloss.NewStyle().Faint(true),
		Formula:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		Card: lipgloss.NewStyle().
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")),
	}
}

// Sparkline maps ys onto eight bar heights. A constant series renders at
// the lowest bar; NaN and ±Inf samples render as a blank and do not affect
// the scale.
func Sparkline(ys []float64) string {
	if len(ys) == 0 {
		return ""
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, y := range ys {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		lo = math.Min(lo, y)
		hi = math.Max(hi, y)
	}
	var b strings.Builder
	for _, y := range ys {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			b.WriteRune(' ')
			continue
		}
		k := 0
		if hi > lo {
			k = int(math.Round((y - lo) / (hi - lo) * float64(len(bars)-1)))
		}
		b.WriteRune(bars[k])
	}
	return b.String()
}

// Edges renders one row per edge with its mode, function, fit quality and
// activation shape.
func Edges(m *model.KAN) (string, error) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("edge", "mode", "fn", "r2", "range", "activation")
	for l, layer := range m.Layers() {
		for i := 0; i < layer.In; i++ {
			for j := 0; j < layer.Out; j++ {
				info, err := m.EdgeInfo(l, i, j)
				if err != nil {
					return "", err
				}
				_, ys, err := m.EdgeCurve(l, i, j, sparkWidth)
				if err != nil {
					return "", err
				}
				mode, fn, r2 := "spline", "-", "-"
				if info.Symbolic {
					mode, fn, r2 = "symbolic", info.Fn, fmt.Sprintf("%.4f", info.R2)
				}
				t.Row(
					fmt.Sprintf("(%d,%d,%d)", l, i, j),
					mode, fn, r2,
					fmt.Sprintf("[%.2f, %.2f]", info.Range[0], info.Range[1]),
					Sparkline(ys),
				)
			}
		}
	}
	return t.String(), nil
}

// Phases renders the loss summary of each optimization phase.
func Phases(phases []store.Phase) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("phase", "steps", "pde_loss", "bc_loss", "l2", "evals", "time")
	for _, p := range phases {
		t.Row(
			p.Name,
			fmt.Sprint(p.Steps),
			fmt.Sprintf("%.3e", p.PDELoss),
			fmt.Sprintf("%.3e", p.BCLoss),
			fmt.Sprintf("%.3e", p.L2),
			fmt.Sprint(p.Evals),
			fmt.Sprintf("%.0fms", p.TotalMS),
		)
	}
	return t.String()
}

// Render composes the full run summary. path is where the run was saved and
// may be empty.
func Render(th Theme, run store.Run, m *model.KAN, path string) (string, error) {
	parts := []string{th.Title.Render("kan-poisson run " + run.ID)}
	if path != "" {
		parts = append(parts, th.Subtitle.Render("saved to "+path))
	}
	if len(run.Phases) > 0 {
		parts = append(parts, Phases(run.Phases))
	}
	if m != nil {
		edges, err := Edges(m)
		if err != nil {
			return "", err
		}
		parts = append(parts, edges)
	}
	formula := th.Formula.Render("u(x, y) = " + run.Formula)
	if run.FormulaL2 > 0 || run.Formula != "" {
		formula += "\n" + th.Subtitle.Render(fmt.Sprintf("formula l2 vs sin(πx)sin(πy): %.3e", run.FormulaL2))
	}
	parts = append(parts, th.Card.Render(formula))
	return lipgloss.JoinVertical(lipgloss.Left, parts...), nil
}
