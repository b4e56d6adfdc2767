package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"crm-finance/internal/app"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newPaymentCommand(e *env) *cobra.Command {
	var (
		req       app.PaymentRequest
		orderFile string
	)
	cmd := &cobra.Command{
		Use:   "payment LEAD_ID AMOUNT",
		Short: "Record a client payment, converting the lead's proforma",
		Long: `Record a payment against a lead. The lead's proforma (or its open tax
order) is converted in place; with no order a new one is created.

--order reads the payment-time order details (legal name, GSTIN, state,
sale type, currency, rate) as JSON from a file, or from stdin with "-".
A submission key is generated unless --key is given; pass the printed key
again to retry safely.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			leadID, err := parseID(args[0])
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			req.LeadID = leadID
			req.AmountPaid = amount
			if orderFile != "" {
				if err := readOrderRequest(cmd, orderFile, &req.Order); err != nil {
					return err
				}
			}
			if req.IdempotencyKey == "" {
				req.IdempotencyKey = uuid.NewString()
			}

			svc, err := e.service(cmd)
			if err != nil {
				return err
			}
			res, err := svc.SubmitPayment(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("payment %s: %w", req.IdempotencyKey, err)
			}
			w := cmd.OutOrStdout()
			switch {
			case res.Replayed:
				fmt.Fprintf(w, "already applied: %s\n", res.Order.OrderNumber)
			case res.Applied:
				fmt.Fprintf(w, "applied to %s\n", res.Order.OrderNumber)
			case res.Created:
				fmt.Fprintf(w, "created %s\n", res.Order.OrderNumber)
			default:
				fmt.Fprintf(w, "converted to %s\n", res.Order.OrderNumber)
			}
			if rc := res.Reconciliation; rc != nil {
				fmt.Fprintf(w, "receivable %d: %s\n", rc.Item.ID, rc.Outcome)
			}
			if res.FinanceAssignee != "" {
				fmt.Fprintf(w, "assigned to %s\n", res.FinanceAssignee)
			}
			fmt.Fprintf(w, "key %s\n", req.IdempotencyKey)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&orderFile, "order", "", "Order details JSON file, or - for stdin")
	f.StringVar(&req.IdempotencyKey, "key", "", "Submission key (default: generated)")
	f.StringVar(&req.PaymentDate, "date", "", "Payment date YYYY-MM-DD (default today)")
	f.StringVar(&req.Resolution, "resolution", "", "Shortfall handling: carry_forward or write_off")
	f.StringVar(&req.SubmittedBy, "by", os.Getenv("USER"), "Submitting user")
	return cmd
}

func readOrderRequest(cmd *cobra.Command, path string, into *app.OrderRequest) error {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("invalid order details: %w", err)
	}
	return nil
}
