package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"crm-finance/internal/app"
	"crm-finance/internal/core"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newRatesCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Show or publish INR reference exchange rates",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the current reference rates",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.service(cmd)
			if err != nil {
				return err
			}
			printRates(cmd.OutOrStdout(), svc.ReferenceRates(cmd.Context()))
			return nil
		},
	}

	publish := &cobra.Command{
		Use:     "publish CODE=RATE...",
		Short:   "Replace the shared reference rates",
		Example: `  finctl rates publish USD=83.25 EUR=90.10 GBP=105.40 AED=22.65`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rates, err := parseRateArgs(args)
			if err != nil {
				return err
			}
			svc, err := e.service(cmd)
			if err != nil {
				return err
			}
			res, err := svc.PublishRates(cmd.Context(), app.RatesRequest{Rates: rates})
			if err != nil {
				return err
			}
			if !res.Published {
				fmt.Fprintln(cmd.ErrOrStderr(), "REDIS_ADDR is not set; rates were not shared with other processes")
			}
			printRates(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.AddCommand(show, publish)
	return cmd
}

func parseRateArgs(args []string) (map[string]decimal.Decimal, error) {
	rates := make(map[string]decimal.Decimal, len(args))
	for _, a := range args {
		code, value, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("expected CODE=RATE, got %q", a)
		}
		r, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %w", code, err)
		}
		rates[code] = r
	}
	return rates, nil
}

func printRates(w io.Writer, res *app.RatesResult) {
	codes := make([]core.Currency, 0, len(res.Rates))
	for c := range res.Rates {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	fmt.Fprintf(w, "Reference rates (INR per unit), updated %s\n", res.UpdatedAt.Format("2006-01-02 15:04 MST"))
	for _, c := range codes {
		fmt.Fprintf(w, "  %-4s %12s\n", c, res.Rates[c].StringFixed(4))
	}
}
