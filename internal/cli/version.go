package cli

import (
	"fmt"

	"github.com/klauspost/cpuid/v2"
	"github.com/spf13/cobra"

	"kan-poisson/internal/buildinfo"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build and CPU information",
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, buildinfo.String())
			fmt.Fprintf(w, "cpu: %s (%d logical cores, avx2=%v, fma=%v)\n",
				cpuid.CPU.BrandName,
				cpuid.CPU.LogicalCores,
				cpuid.CPU.Supports(cpuid.AVX2),
				cpuid.CPU.Supports(cpuid.FMA3),
			)
		},
	}
}
