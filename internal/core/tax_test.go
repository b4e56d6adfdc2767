package core_test

import (
	"errors"
	"testing"

	"crm-finance/internal/core"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeTax(t *testing.T) {
	eighteen := dec("18")
	tests := []struct {
		name      string
		base      string
		ctx       core.TaxContext
		wantCGST  string
		wantSGST  string
		wantIGST  string
		wantTCS   string
		wantFinal string
		wantGST   bool
	}{
		{
			name:      "intra-state tour",
			base:      "100000",
			ctx:       core.TaxContext{SellerState: "Haryana", CounterpartyState: "haryana ", SaleType: core.SaleTypeTour},
			wantCGST:  "2500", wantSGST: "2500", wantIGST: "0", wantTCS: "0",
			wantFinal: "105000", wantGST: true,
		},
		{
			name:      "inter-state tour",
			base:      "100000",
			ctx:       core.TaxContext{SellerState: "Haryana", CounterpartyState: "Karnataka", SaleType: core.SaleTypeTour},
			wantCGST:  "0", wantSGST: "0", wantIGST: "5000", wantTCS: "0",
			wantFinal: "105000", wantGST: true,
		},
		{
			name:      "service fee at 18 percent",
			base:      "10000",
			ctx:       core.TaxContext{SellerState: "Haryana", CounterpartyState: "Haryana", SaleType: core.SaleTypeServiceFee},
			wantCGST:  "900", wantSGST: "900", wantIGST: "0", wantTCS: "0",
			wantFinal: "11800", wantGST: true,
		},
		{
			name: "outside India with TCS",
			base: "200000",
			ctx: core.TaxContext{SellerState: "Haryana", IsOutsideIndia: true, SaleType: core.SaleTypeTour,
				TCSApplicable: true, CustomerType: core.CustomerIndian, PaymentCurrency: core.CurrencyINR},
			wantCGST:  "0", wantSGST: "0", wantIGST: "10000", wantTCS: "10000",
			wantFinal: "220000", wantGST: true,
		},
		{
			name: "foreigner paying in USD is exempt",
			base: "2000",
			ctx: core.TaxContext{SellerState: "Haryana", IsOutsideIndia: true, SaleType: core.SaleTypeTour,
				CustomerType: core.CustomerForeigner, PaymentCurrency: core.CurrencyUSD},
			wantCGST:  "0", wantSGST: "0", wantIGST: "0", wantTCS: "0",
			wantFinal: "2000", wantGST: false,
		},
		{
			name:      "explicit GST rate override",
			base:      "1000",
			ctx:       core.TaxContext{SellerState: "Haryana", CounterpartyState: "Delhi", SaleType: core.SaleTypeHotel, GSTRate: &eighteen},
			wantCGST:  "0", wantSGST: "0", wantIGST: "180", wantTCS: "0",
			wantFinal: "1180", wantGST: true,
		},
		{
			name:      "inter-state service fee",
			base:      "50000",
			ctx:       core.TaxContext{SellerState: "Haryana", CounterpartyState: "Delhi", SaleType: core.SaleTypeServiceFee},
			wantCGST:  "0", wantSGST: "0", wantIGST: "9000", wantTCS: "0",
			wantFinal: "59000", wantGST: true,
		},
		{
			name:      "intra-state halves round separately",
			base:      "100001",
			ctx:       core.TaxContext{SellerState: "Haryana", CounterpartyState: "Haryana", SaleType: core.SaleTypeTour},
			wantCGST:  "2500.03", wantSGST: "2500.03", wantIGST: "0", wantTCS: "0",
			wantFinal: "105001.06", wantGST: true,
		},
		{
			name:      "inter-state rounds the whole",
			base:      "100001",
			ctx:       core.TaxContext{SellerState: "Haryana", CounterpartyState: "Delhi", SaleType: core.SaleTypeTour},
			wantCGST:  "0", wantSGST: "0", wantIGST: "5000.05", wantTCS: "0",
			wantFinal: "105001.05", wantGST: true,
		},
		{
			name:      "odd paise split evenly",
			base:      "333.33",
			ctx:       core.TaxContext{SellerState: "Haryana", CounterpartyState: "Haryana", SaleType: core.SaleTypeTour},
			wantCGST:  "8.33", wantSGST: "8.33", wantIGST: "0", wantTCS: "0",
			wantFinal: "349.99", wantGST: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := core.ComputeTax(dec(tt.base), tt.ctx)
			if err != nil {
				t.Fatalf("ComputeTax: %v", err)
			}
			check := func(field string, got decimal.Decimal, want string) {
				t.Helper()
				if !got.Equal(dec(want)) {
					t.Errorf("%s: got %s, want %s", field, got, want)
				}
			}
			check("cgst", b.GST.CGST, tt.wantCGST)
			check("sgst", b.GST.SGST, tt.wantSGST)
			check("igst", b.GST.IGST, tt.wantIGST)
			check("tcs", b.TCS.Amount, tt.wantTCS)
			check("final", b.FinalAmount, tt.wantFinal)
			if b.GST.Applicable != tt.wantGST {
				t.Errorf("gst applicable: got %t, want %t", b.GST.Applicable, tt.wantGST)
			}
			if !b.FinalAmount.Equal(b.BaseAmount.Add(b.GST.Total).Add(b.TCS.Amount)) {
				t.Errorf("final %s is not base + gst + tcs", b.FinalAmount)
			}
			if b.GST.IntraState && !b.GST.IGST.IsZero() {
				t.Errorf("intra-state sale carries IGST %s", b.GST.IGST)
			}
			if !b.GST.IntraState && !b.GST.CGST.Add(b.GST.SGST).IsZero() {
				t.Errorf("inter-state sale carries CGST/SGST")
			}
		})
	}
}

func TestComputeTax_JurisdictionAmbiguity(t *testing.T) {
	cases := []core.TaxContext{
		{SellerState: "Haryana", SaleType: core.SaleTypeTour},
		{SellerState: "", CounterpartyState: "Haryana", SaleType: core.SaleTypeTour},
	}
	for _, c := range cases {
		_, err := core.ComputeTax(dec("100"), c)
		var amb *core.JurisdictionAmbiguityError
		if !errors.As(err, &amb) {
			t.Errorf("seller %q counterparty %q: expected JurisdictionAmbiguityError, got %v",
				c.SellerState, c.CounterpartyState, err)
		}
	}
}

func TestComputeTax_Validation(t *testing.T) {
	neg := dec("-1")
	cases := []struct {
		name string
		base string
		ctx  core.TaxContext
	}{
		{"negative base", "-10", core.TaxContext{SellerState: "Haryana", CounterpartyState: "Haryana", SaleType: core.SaleTypeTour}},
		{"unknown sale type", "10", core.TaxContext{SellerState: "Haryana", CounterpartyState: "Haryana", SaleType: "Cruise"}},
		{"negative gst rate", "10", core.TaxContext{SellerState: "Haryana", CounterpartyState: "Haryana", SaleType: core.SaleTypeTour, GSTRate: &neg}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := core.ComputeTax(dec(tc.base), tc.ctx)
			var ve *core.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestTCSApplicableFor(t *testing.T) {
	tests := []struct {
		category core.SaleCategory
		customer core.CustomerType
		outside  bool
		currency core.Currency
		want     bool
	}{
		{core.SaleCategoryRetail, core.CustomerIndian, true, core.CurrencyINR, true},
		{core.SaleCategoryRetail, core.CustomerIndian, true, core.CurrencyUSD, true},
		{core.SaleCategoryRetail, core.CustomerIndian, false, core.CurrencyINR, false},
		{core.SaleCategoryCorporate, core.CustomerIndian, true, core.CurrencyINR, false},
		{core.SaleCategoryRetail, core.CustomerNRI, true, core.CurrencyINR, true},
		{core.SaleCategoryRetail, core.CustomerNRI, true, core.CurrencyGBP, false},
		{core.SaleCategoryRetail, core.CustomerForeigner, true, core.CurrencyUSD, false},
	}
	for _, tt := range tests {
		got := core.TCSApplicableFor(tt.category, tt.customer, tt.outside, tt.currency)
		if got != tt.want {
			t.Errorf("%s/%s outside=%t %s: got %t, want %t", tt.category, tt.customer, tt.outside, tt.currency, got, tt.want)
		}
	}
}

func TestRederiveTaxAndBaseForGross(t *testing.T) {
	prior, err := core.ComputeTax(dec("100000"), core.TaxContext{
		SellerState: "Haryana", IsOutsideIndia: true, SaleType: core.SaleTypeTour,
		TCSApplicable: true, CustomerType: core.CustomerIndian,
	})
	if err != nil {
		t.Fatal(err)
	}

	base := core.BaseForGross(dec("99000"), prior)
	if !base.Equal(dec("90000")) {
		t.Fatalf("BaseForGross: got %s, want 90000", base)
	}
	next := core.RederiveTax(base, prior)
	if !next.FinalAmount.Equal(dec("99000")) {
		t.Errorf("rederived final: got %s, want 99000", next.FinalAmount)
	}
	if !next.GST.Rate.Equal(prior.GST.Rate) || !next.TCS.Rate.Equal(prior.TCS.Rate) {
		t.Errorf("rates changed on rederive")
	}
	if next.GST.IntraState != prior.GST.IntraState {
		t.Errorf("jurisdiction changed on rederive")
	}
}
