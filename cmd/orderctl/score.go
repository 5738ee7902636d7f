package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
	"github.com/akylbek/commerce/order-lifecycle/internal/risk"
)

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score [context.json]",
		Short: "Score a checkout context offline, with evidence given as flags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var cc models.CheckoutContext
			if err := json.Unmarshal(data, &cc); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			if err := cc.Validate(); err != nil {
				return err
			}

			policy := risk.DefaultPolicy()
			if path, _ := cmd.Flags().GetString("policy"); path != "" {
				if policy, err = risk.LoadPolicy(path); err != nil {
					return err
				}
			}

			var ev risk.Evidence
			ev.EmailAttempts, _ = cmd.Flags().GetInt64("email-attempts")
			ev.IPAttempts, _ = cmd.Flags().GetInt64("ip-attempts")
			ev.History.PaidOrders, _ = cmd.Flags().GetInt("paid-orders")
			ev.History.TotalPaid, _ = cmd.Flags().GetInt64("total-paid")
			ev.Chargebacks, _ = cmd.Flags().GetInt("chargebacks")

			a := risk.Score(policy, &cc, ev)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a)
		},
	}

	cmd.Flags().StringP("policy", "p", "", "Policy YAML file (default: built-in policy)")
	cmd.Flags().Int64("email-attempts", 0, "Checkout attempts for this email in the velocity window")
	cmd.Flags().Int64("ip-attempts", 0, "Checkout attempts from this IP in the velocity window")
	cmd.Flags().Int("paid-orders", 0, "Prior paid orders in the same currency")
	cmd.Flags().Int64("total-paid", 0, "Sum of prior paid orders in minor units")
	cmd.Flags().Int("chargebacks", 0, "Prior chargebacks on file")
	return cmd
}
