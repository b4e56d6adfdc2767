package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"crm-finance/internal/app"
	"crm-finance/internal/core"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// newOpenItemCommand builds the read commands for one side of the books;
// kind is "receivables" or "payables".
func newOpenItemCommand(e *env, kind string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   kind,
		Short: "Inspect open " + kind,
	}

	var (
		req    app.OpenItemListRequest
		asJSON bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List open " + kind + " with their INR outstanding",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.service(cmd)
			if err != nil {
				return err
			}
			res, err := svc.ListOpenItems(cmd.Context(), kind, req)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printOpenItems(cmd.OutOrStdout(), res)
			return nil
		},
	}
	list.Flags().StringVar(&req.Status, "status", "", "Filter by status: pending or partial")
	list.Flags().StringVar(&req.Counterparty, "counterparty", "", "Filter by client or supplier name")
	list.Flags().BoolVar(&req.OverdueOnly, "overdue", false, "Only items past their due date")
	list.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show one item with its payment history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := e.service(cmd)
			if err != nil {
				return err
			}
			item, err := svc.GetOpenItem(cmd.Context(), kind, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), item)
		},
	}

	ledger := &cobra.Command{
		Use:   "ledger ID",
		Short: "Summarise an item's payments and realised exchange differences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := e.service(cmd)
			if err != nil {
				return err
			}
			l, err := svc.ItemLedger(cmd.Context(), kind, id)
			if err != nil {
				return err
			}
			printLedger(cmd.OutOrStdout(), l)
			return nil
		},
	}

	settlements := &cobra.Command{
		Use:   "settlements",
		Short: "List closed " + kind + " from the settlement archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.service(cmd)
			if err != nil {
				return err
			}
			rows, err := svc.ListSettlements(cmd.Context(), kind)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}

	cmd.AddCommand(list, show, ledger, settlements)
	return cmd
}

func newReconcileCommand(e *env) *cobra.Command {
	var (
		amount     string
		rate       string
		resolution string
		reason     string
		paidAt     string
		by         string
		propose    bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile KIND ID",
		Short: "Apply a payment to a receivable or payable",
		Long: `Apply a payment (in the item's currency) to an open receivable or payable.

A payment that covers the balance within the settlement tolerance closes the
item. A short payment needs --resolution: carry_forward keeps the remainder
open, write_off closes the item and, for receivables, reduces the order total.`,
		Example: `  finctl reconcile receivable 12 --amount 1500 --rate 83.40
  finctl reconcile payable 7 --amount 800 --resolution carry_forward
  finctl reconcile receivable 12 --propose`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			svc, err := e.service(cmd)
			if err != nil {
				return err
			}
			if propose {
				s, err := svc.ProposeRate(cmd.Context(), args[0], id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", s.Currency, s.Rate.StringFixed(4), s.Source)
				return nil
			}

			req := app.ReconcileRequest{Resolution: resolution, Reason: reason, PaidAt: paidAt, SettledBy: by}
			if req.AmountPaid, err = decimal.NewFromString(amount); err != nil {
				return fmt.Errorf("invalid --amount %q: %w", amount, err)
			}
			if rate != "" {
				r, err := decimal.NewFromString(rate)
				if err != nil {
					return fmt.Errorf("invalid --rate %q: %w", rate, err)
				}
				req.Rate = &r
			}
			res, err := svc.Reconcile(cmd.Context(), args[0], id, req)
			if err != nil {
				return err
			}
			printReconcile(cmd.OutOrStdout(), res)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&amount, "amount", "", "Amount paid, in the item's currency")
	f.StringVar(&rate, "rate", "", "Confirmed INR rate (defaults to the last known rate)")
	f.StringVar(&resolution, "resolution", "", "For short payments: carry_forward or write_off")
	f.StringVar(&reason, "reason", "", "Reason recorded with a write-off")
	f.StringVar(&paidAt, "paid-at", "", "Payment date YYYY-MM-DD (default today)")
	f.StringVar(&by, "by", os.Getenv("USER"), "Settling user")
	f.BoolVar(&propose, "propose", false, "Only print the suggested rate")
	cmd.MarkFlagsOneRequired("amount", "propose")
	cmd.MarkFlagsMutuallyExclusive("amount", "propose")
	return cmd
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printOpenItems(w io.Writer, res *app.OpenItemListResult) {
	fmt.Fprintf(w, "%-6s %-28s %-4s %14s %14s %-10s %-8s\n", "ID", "COUNTERPARTY", "CUR", "BALANCE", "INR", "DUE", "STATUS")
	for _, it := range res.Items {
		due := "-"
		if it.DueDate != nil {
			due = it.DueDate.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%-6d %-28.28s %-4s %14s %14s %-10s %-8s\n",
			it.ID, it.Counterparty, it.Currency, it.BalanceAmount.StringFixed(2),
			it.OutstandingINR().StringFixed(2), due, it.Status)
	}
	fmt.Fprintf(w, "%d open %s, %s INR outstanding\n", len(res.Items), res.Kind, res.Outstanding.StringFixed(2))
}

func printLedger(w io.Writer, l *core.ItemLedger) {
	fmt.Fprintf(w, "%s #%d  %s  %s %s (rate %s)\n", l.Item.Kind, l.Item.ID, l.Item.Counterparty,
		l.Item.OriginalAmount.StringFixed(2), l.Item.Currency, l.Item.ExchangeRate.String())
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, p := range l.Item.PaymentHistory {
		stale := ""
		if p.StaleRate {
			stale = " (stale rate)"
		}
		fmt.Fprintf(w, "  %s  %12s @ %-10s = %12s INR  fx %s %s%s\n",
			p.Date.Format("2006-01-02"), p.AmountForeign.StringFixed(2), p.ExchangeRate.String(),
			p.AmountINR.StringFixed(2), p.FxDifference.StringFixed(2), p.FxType, stale)
	}
	fmt.Fprintln(w, strings.Repeat("-", 72))
	fmt.Fprintf(w, "  payments %d, paid %s %s / %s INR, remaining %s\n", l.Summary.Payments,
		l.Summary.TotalPaidForeign.StringFixed(2), l.Item.Currency,
		l.Summary.TotalPaidINR.StringFixed(2), l.Summary.Remaining.StringFixed(2))
	fmt.Fprintf(w, "  net fx %s INR, route %s\n", l.Summary.NetFxGain.StringFixed(2), l.Route)
}

func printReconcile(w io.Writer, r *core.ReconcileResult) {
	fmt.Fprintf(w, "outcome: %s (closed=%t)\n", r.Outcome, r.Closed)
	fmt.Fprintf(w, "payment: %s %s @ %s = %s INR, fx %s %s\n",
		r.Entry.AmountForeign.StringFixed(2), r.Entry.Currency, r.Entry.ExchangeRate.String(),
		r.Entry.AmountINR.StringFixed(2), r.Entry.FxDifference.StringFixed(2), r.Entry.FxType)
	if r.Item != nil && !r.Closed {
		fmt.Fprintf(w, "remaining: %s %s\n", r.Item.BalanceAmount.StringFixed(2), r.Item.Currency)
	}
	if r.Warning != nil {
		fmt.Fprintf(w, "warning: %s\n", r.Warning.Error())
	}
	if r.Adjustment != nil {
		fmt.Fprintf(w, "order %d total %s -> %s (%s)\n", r.Adjustment.OrderID,
			r.Adjustment.PreviousTotal.StringFixed(2), r.Adjustment.NewTotal.StringFixed(2),
			r.Adjustment.AdjustmentReason)
	}
	if r.OrderStatus != "" {
		fmt.Fprintf(w, "order payment status: %s\n", r.OrderStatus)
	}
}
