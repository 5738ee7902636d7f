package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/akylbek/commerce/order-lifecycle/internal/repository"
	"github.com/akylbek/commerce/order-lifecycle/internal/service"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit [order-id]",
		Short: "Replay an order's ledger and check it matches the stored order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, _ := cmd.Flags().GetString("database-url")
			if dsn == "" {
				return fmt.Errorf("--database-url or DATABASE_URL is required")
			}
			db, err := sql.Open("postgres", dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			machine := service.NewOrderMachine(repository.NewPostgresStore(db), nil, nil)
			view, err := machine.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(view); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Order %s: %s / %s (version %d)\n",
					view.Order.ID, view.Order.Status, view.Order.PaymentStatus, view.Order.Version)
				for _, e := range view.History {
					fmt.Fprintf(out, "  v%-3d %-18s -> %-18s  %-18s -> %-18s  %s:%s %s\n",
						e.Version, orDash(string(e.PreviousStatus)), e.NewStatus,
						orDash(string(e.PreviousPaymentStatus)), e.NewPaymentStatus,
						e.ActorRole, e.ActorID, e.Reason)
				}
			}

			if err := service.Replay(view); err != nil {
				return fmt.Errorf("ledger check failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Ledger OK")
			return nil
		},
	}

	cmd.Flags().String("database-url", os.Getenv("DATABASE_URL"), "Postgres connection string")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
