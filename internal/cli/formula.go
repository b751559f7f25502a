package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"kan-poisson/internal/model"
	"kan-poisson/internal/report"
	"kan-poisson/internal/store"
)

func formulaCmd(root *rootOptions) *cobra.Command {
	var checkpoint string
	var digits int
	var latex bool
	var edges bool
	var phases bool

	c := &cobra.Command{
		Use:   "formula",
		Short: "Print the symbolic formula of a saved run or checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cleanup, err := root.setupLogger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()

			ck, err := store.LoadCheckpoint(checkpoint)
			if err != nil {
				return err
			}
			m, err := model.FromCheckpoint(ck)
			if err != nil {
				return err
			}
			exprs, err := m.SymbolicFormula([]string{"x", "y"}, digits)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if phases {
				run, err := store.LoadRun(checkpoint)
				if err != nil {
					return err
				}
				if len(run.Phases) == 0 {
					return fmt.Errorf("%s has no recorded phases; --phases needs a run file", checkpoint)
				}
				fmt.Fprintln(w, report.Phases(run.Phases))
			}
			if edges {
				table, err := report.Edges(m)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, table)
			}
			for _, e := range exprs {
				if latex {
					fmt.Fprintln(w, e.LaTeX())
				} else {
					fmt.Fprintln(w, e.String())
				}
			}
			return nil
		},
	}

	c.Flags().StringVar(&checkpoint, "checkpoint", "", "Run or checkpoint JSON file (required)")
	c.Flags().IntVar(&digits, "digits", 4, "Decimal places kept in constants (0 keeps all)")
	c.Flags().BoolVar(&latex, "latex", false, "Print LaTeX instead of plain text")
	c.Flags().BoolVar(&edges, "edges", false, "Also print the edge table")
	c.Flags().BoolVar(&phases, "phases", false, "Also print the phase table of a run file")
	_ = c.MarkFlagRequired("checkpoint")
	return c
}
