package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kirbyniko/research-platform-sub006/internal/logging"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and adjust project credit balances",
}

var (
	grantProject string
	grantAmount  int64
	grantReason  string
	grantRef     string
)

var creditsGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Add credits to a project",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, _ []string, e env) error {
		if grantAmount <= 0 {
			return errors.New("--amount must be positive")
		}
		project, err := e.store.GetProjectBySlug(cmd.Context(), strings.TrimSpace(grantProject))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("project %q not found", grantProject)
		}
		if err != nil {
			return err
		}
		reason := strings.TrimSpace(grantReason)
		if reason == "" {
			reason = "Granted by operator"
		}
		tx, applied, err := e.store.ApplyCredit(cmd.Context(), store.CreditGrant{
			ProjectID:   project.ID,
			Amount:      grantAmount,
			Type:        store.TxAdminAdjustment,
			Description: reason,
			ExternalRef: strings.TrimSpace(grantRef),
		})
		if err != nil {
			return err
		}
		if !applied {
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "grant %q was already applied (transaction %d)\n", grantRef, tx.ID)
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "granted %d credits to %s, balance %d\n", grantAmount, project.Slug, tx.BalanceAfter)
		return err
	}),
}

var creditsReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare balances against the transaction ledger",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, _ []string, e env) error {
		items, err := e.store.ReconcileCredits(cmd.Context())
		if err != nil {
			return err
		}
		if err := writeDiscrepancies(cmd.OutOrStdout(), items); err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		logging.Warn(cmd.Context(), "credit ledger discrepancies", slog.Int("projects", len(items)))
		return fmt.Errorf("%d project balances disagree with the ledger", len(items))
	}),
}

// writeDiscrepancies prints one row per project whose balance disagrees
// with its ledger.
func writeDiscrepancies(out io.Writer, items []store.CreditDiscrepancy) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(out, "all balances match the ledger")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tBALANCE\tPURCHASED\tUSED\tLEDGER")
	for _, d := range items {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n", d.ProjectID, d.Balance, d.TotalPurchased, d.TotalUsed, d.LedgerSum)
	}
	return w.Flush()
}

func init() {
	creditsGrantCmd.Flags().StringVar(&grantProject, "project", "", "Project slug")
	creditsGrantCmd.Flags().Int64Var(&grantAmount, "amount", 0, "Credits to add")
	creditsGrantCmd.Flags().StringVar(&grantReason, "reason", "", "Ledger description")
	creditsGrantCmd.Flags().StringVar(&grantRef, "ref", "", "Idempotency key; a repeated ref is applied once")
	_ = creditsGrantCmd.MarkFlagRequired("project")
	_ = creditsGrantCmd.MarkFlagRequired("amount")
	creditsCmd.AddCommand(creditsGrantCmd, creditsReconcileCmd)
	rootCmd.AddCommand(creditsCmd)
}
