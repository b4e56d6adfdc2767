package cli

import (
	"fmt"
	"io"
	"strings"

	"crm-finance/internal/app"
	"crm-finance/internal/core"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newTaxCommand(e *env) *cobra.Command {
	var (
		req     app.OrderRequest
		base    string
		gstRate string
		tcs     string
		rate    string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "tax",
		Short: "Preview GST and TCS for a sale",
		Long: `Compute the GST split (CGST+SGST or IGST) and TCS for a base amount.
Nothing is stored and no database connection is made.`,
		Example: `  # Intra-state tour
  finctl tax --base 100000 --state Haryana --type Tour --category Retail

  # Retail tour outside India for an Indian customer (TCS applies)
  finctl tax --base 250000 --outside --type Tour --category Retail`,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(base)
			if err != nil {
				return fmt.Errorf("invalid --base %q: %w", base, err)
			}
			req.BaseAmount = amount
			if gstRate != "" {
				r, err := decimal.NewFromString(gstRate)
				if err != nil {
					return fmt.Errorf("invalid --gst-rate %q: %w", gstRate, err)
				}
				req.GSTRate = &r
			}
			switch strings.ToLower(tcs) {
			case "", "auto":
			case "yes", "true":
				yes := true
				req.TCSApplicable = &yes
			case "no", "false":
				no := false
				req.TCSApplicable = &no
			default:
				return fmt.Errorf("invalid --tcs %q (want auto, yes or no)", tcs)
			}
			if req.LegalName == "" {
				req.LegalName = "preview"
			}

			// Tax preview only needs the seller state and, for foreign currency, a rate.
			fc := app.NewFinancialContext(e.cfg, nil, core.NewRateBook(core.DefaultReferenceRates()), e.log)
			if rate != "" {
				if req.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
					return fmt.Errorf("invalid --rate %q: %w", rate, err)
				}
			} else if c, err := core.ParseCurrency(req.PaymentCurrency); err == nil && !c.IsINR() {
				req.ExchangeRate, _ = fc.Rates.Lookup(c)
			}
			svc := app.NewAppService(core.NewOrderService(nil, fc), nil, nil, nil, nil, fc.Rates, nil, app.SellerFromConfig(e.cfg))
			b, err := svc.PreviewTax(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), b)
			}
			printBreakdown(cmd.OutOrStdout(), b)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&base, "base", "", "Base (pre-tax) amount")
	f.StringVar(&req.IndianState, "state", "", "Customer's Indian state")
	f.BoolVar(&req.IsOutsideIndia, "outside", false, "Sale is outside India")
	f.StringVar(&req.TypeOfSale, "type", "Tour", "Type of sale: Tour, Hotel, Travel Tickets, Service Fee")
	f.StringVar(&req.CategoryOfSale, "category", "Retail", "Category of sale: Retail or Corporate")
	f.StringVar(&req.CustomerType, "customer", "indian", "Customer type: indian, nri, foreigner")
	f.StringVar(&req.PaymentCurrency, "currency", "INR", "Payment currency")
	f.StringVar(&rate, "rate", "", "INR per unit of --currency (defaults to the reference rate)")
	f.StringVar(&gstRate, "gst-rate", "", "Override the GST rate (percent)")
	f.StringVar(&tcs, "tcs", "auto", "Collect TCS: auto, yes, no")
	f.BoolVar(&asJSON, "json", false, "Print JSON")
	_ = cmd.MarkFlagRequired("base")
	return cmd
}

func printBreakdown(w io.Writer, b *core.TaxBreakdown) {
	line := func(label string, v decimal.Decimal) {
		fmt.Fprintf(w, "  %-22s %15s\n", label, v.StringFixed(2))
	}
	fmt.Fprintln(w, strings.Repeat("=", 40))
	line("Base amount", b.BaseAmount)
	switch {
	case !b.GST.Applicable:
		fmt.Fprintf(w, "  %-22s %15s\n", "GST", "exempt")
	case b.GST.IntraState:
		line("CGST @ "+b.GST.Rate.Div(decimal.NewFromInt(2)).String()+"%", b.GST.CGST)
		line("SGST @ "+b.GST.Rate.Div(decimal.NewFromInt(2)).String()+"%", b.GST.SGST)
	default:
		line("IGST @ "+b.GST.Rate.String()+"%", b.GST.IGST)
	}
	if b.TCS.Applicable {
		line("TCS @ "+b.TCS.Rate.String()+"%", b.TCS.Amount)
	}
	fmt.Fprintln(w, strings.Repeat("-", 40))
	line("Total tax", b.TotalTax)
	line("Final amount", b.FinalAmount)
	fmt.Fprintln(w, strings.Repeat("=", 40))
}
