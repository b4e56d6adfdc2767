package cli

import (
	"fmt"
	"io"
	"strings"

	"crm-finance/internal/core"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newSummaryCommand(e *env) *cobra.Command {
	var (
		asOf   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the financial dashboard rollup (INR)",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.service(cmd)
			if err != nil {
				return err
			}
			s, err := svc.Summary(cmd.Context(), asOf)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), s)
			}
			printSummary(cmd.OutOrStdout(), s)
			return nil
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "Report date YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printSummary(w io.Writer, s *core.FinancialSummary) {
	money := func(label string, v decimal.Decimal) {
		fmt.Fprintf(w, "  %-26s %18s\n", label, v.StringFixed(2))
	}
	sales := func(label string, t core.SalesTotals) {
		fmt.Fprintf(w, "  %-26s %18s  (%d)\n", label, t.Amount.StringFixed(2), t.Count)
	}

	fmt.Fprintf(w, "Financial summary as of %s\n", s.AsOf.Format("2006-01-02"))
	fmt.Fprintln(w, strings.Repeat("=", 56))
	sales("Active sales", s.ActiveSales)
	sales("Total sales", s.TotalSales)
	sales("Actualized sales", s.ActualizedSales)
	fmt.Fprintln(w, strings.Repeat("-", 56))
	fmt.Fprintf(w, "  %-26s %18s  (%d)\n", "Receivables outstanding", s.Receivables.Outstanding.StringFixed(2), s.Receivables.Count)
	fmt.Fprintf(w, "  %-26s %18s  (%d)\n", "  of which overdue", s.Receivables.Overdue.StringFixed(2), s.Receivables.OverdueCount)
	fmt.Fprintf(w, "  %-26s %18s  (%d)\n", "Payables outstanding", s.Payables.Outstanding.StringFixed(2), s.Payables.Count)
	fmt.Fprintf(w, "  %-26s %18s  (%d)\n", "  of which overdue", s.Payables.Overdue.StringFixed(2), s.Payables.OverdueCount)
	fmt.Fprintln(w, strings.Repeat("-", 56))
	money("Margin", s.Margin)
	fmt.Fprintf(w, "  %-26s %17s%%\n", "Margin %", s.MarginPercent.StringFixed(2))
	money("FX gain", s.Fx.Gain)
	money("FX loss", s.Fx.Loss)
	money("FX net", s.Fx.Net)
	if s.Fx.StaleEntries > 0 {
		fmt.Fprintf(w, "  %d payments used a fallback rate\n", s.Fx.StaleEntries)
	}

	if len(s.OverdueReceivables) > 0 {
		fmt.Fprintln(w, strings.Repeat("-", 56))
		fmt.Fprintln(w, "Overdue receivables")
		for _, o := range s.OverdueReceivables {
			fmt.Fprintf(w, "  #%-5d %-26.26s %14s  %3dd\n", o.ID, o.Counterparty, o.Outstanding.StringFixed(2), o.DaysOverdue)
		}
	}
	if len(s.Expiring) > 0 {
		fmt.Fprintln(w, strings.Repeat("-", 56))
		fmt.Fprintln(w, "Expiring inventory")
		for _, x := range s.Expiring {
			fmt.Fprintf(w, "  %-26.26s %s  %3d left  loss %s\n", x.EventName,
				x.EventDate.Format("2006-01-02"), x.Available, x.PotentialLoss.StringFixed(2))
		}
	}
	fmt.Fprintln(w, strings.Repeat("=", 56))
}
