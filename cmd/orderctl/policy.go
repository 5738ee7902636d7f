package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/akylbek/commerce/order-lifecycle/internal/risk"
)

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect risk policies",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Load a policy file and validate it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := risk.LoadPolicy(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Policy %s is valid\n", p.Version)
			fmt.Fprintf(out, "  review at:        %d\n", p.Thresholds.ReviewAt)
			fmt.Fprintf(out, "  block above:      %d\n", p.Thresholds.BlockAbove)
			fmt.Fprintf(out, "  deadline fallback %s\n", p.DeadlineFallback)
			fmt.Fprintf(out, "  velocity window:  %s\n", p.Velocity.Window)
			return nil
		},
	})
	return cmd
}
