package cli

import (
	"fmt"
	"os"

	"crm-finance/internal/app"

	"github.com/spf13/cobra"
)

func newOrderCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect orders and move them through their lifecycle",
	}

	show := &cobra.Command{
		Use:   "show REF",
		Short: "Show an order by ID or order number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.service(cmd)
			if err != nil {
				return err
			}
			res, err := svc.GetOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res.Order)
		},
	}

	var list app.OrderListRequest
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List orders, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.service(cmd)
			if err != nil {
				return err
			}
			res, err := svc.ListOrders(cmd.Context(), list)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-16s %-18s %-9s %-28s %15s %-8s\n", "NUMBER", "STATUS", "TYPE", "CLIENT", "FINAL", "PAYMENT")
			for _, o := range res.Orders {
				fmt.Fprintf(w, "%-16s %-18s %-9s %-28.28s %11s %-3s %-8s\n",
					o.OrderNumber, o.Status, o.InvoiceType, o.LegalName,
					o.FinalAmount.StringFixed(2), o.PaymentCurrency, o.PaymentStatus)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&list.Status, "status", "", "Filter by status")
	listCmd.Flags().StringVar(&list.InvoiceType, "invoice-type", "", "Filter by invoice type: proforma or tax")
	listCmd.Flags().StringVar(&list.AssignedTo, "assigned-to", "", "Filter by assignee")
	listCmd.Flags().IntVar(&list.Limit, "limit", 50, "Maximum orders to list")

	var tr app.TransitionRequest
	transition := &cobra.Command{
		Use:   "transition REF ACTION",
		Short: "Apply a lifecycle action: submit, approve, reject, payment_received, complete, deliver, cancel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.service(cmd)
			if err != nil {
				return err
			}
			tr.Action = args[1]
			res, err := svc.TransitionOrder(cmd.Context(), args[0], tr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", res.Order.OrderNumber, res.Order.Status)
			return nil
		},
	}
	transition.Flags().StringVar(&tr.Reason, "reason", "", "Reason (required for reject)")
	transition.Flags().StringVar(&tr.By, "by", os.Getenv("USER"), "Acting user")

	cmd.AddCommand(show, listCmd, transition)
	return cmd
}

func newInvoiceCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Issue invoices and render them as PDF",
	}

	var by string
	issue := &cobra.Command{
		Use:   "issue REF",
		Short: "Issue (or re-issue) the invoice for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.service(cmd)
			if err != nil {
				return err
			}
			res, err := svc.IssueInvoice(cmd.Context(), args[0], by)
			if err != nil {
				return err
			}
			verb := "issued"
			if !res.Issued {
				verb = "unchanged"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, grand total %s %s)\n",
				res.Invoice.InvoiceNumber, verb, res.Invoice.Kind,
				res.Invoice.GrandTotal.StringFixed(2), res.Invoice.Currency)
			return nil
		},
	}
	issue.Flags().StringVar(&by, "by", os.Getenv("USER"), "Issuing user")

	var out string
	pdf := &cobra.Command{
		Use:   "pdf NUMBER",
		Short: "Render a stored invoice as PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.service(cmd)
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + ".pdf"
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := svc.RenderInvoicePDF(cmd.Context(), args[0], f); err != nil {
				f.Close()
				_ = os.Remove(out)
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	pdf.Flags().StringVarP(&out, "output", "o", "", "Output file (default NUMBER.pdf)")

	cmd.AddCommand(issue, pdf)
	return cmd
}
