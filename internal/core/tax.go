package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultTCSRate is the TCS percentage used when TCS applies and no rate is given.
var DefaultTCSRate = decimal.NewFromInt(5)

// TaxContext is everything besides the base amount that decides the tax split.
type TaxContext struct {
	SellerState       string
	CounterpartyState string
	IsOutsideIndia    bool
	SaleType          SaleType
	GSTRate           *decimal.Decimal // explicit override; nil selects the sale type default
	TCSApplicable     bool
	TCSRate           decimal.Decimal // zero selects DefaultTCSRate when TCS applies
	CustomerType      CustomerType
	PaymentCurrency   Currency
}

// GSTBreakdown is the GST part of a tax snapshot. When applicable, exactly one of
// (CGST+SGST) or IGST is non-zero.
type GSTBreakdown struct {
	Applicable bool            `json:"applicable"`
	IntraState bool            `json:"intra_state"`
	Rate       decimal.Decimal `json:"rate"`
	CGST       decimal.Decimal `json:"cgst"`
	SGST       decimal.Decimal `json:"sgst"`
	IGST       decimal.Decimal `json:"igst"`
	Total      decimal.Decimal `json:"total"`
}

// TCSBreakdown is the TCS part of a tax snapshot.
type TCSBreakdown struct {
	Applicable bool            `json:"applicable"`
	Rate       decimal.Decimal `json:"rate"`
	Amount     decimal.Decimal `json:"amount"`
}

// TaxBreakdown is the full result of ComputeTax.
// FinalAmount == BaseAmount + GST.Total + TCS.Amount.
type TaxBreakdown struct {
	BaseAmount  decimal.Decimal `json:"base_amount"`
	GST         GSTBreakdown    `json:"gst"`
	TCS         TCSBreakdown    `json:"tcs"`
	TotalTax    decimal.Decimal `json:"total_tax"`
	FinalAmount decimal.Decimal `json:"final_amount"`
}

// IsIntraState decides CGST+SGST versus IGST. Outside-India sales are inter-state.
func IsIntraState(c TaxContext) (bool, error) {
	seller := normaliseState(c.SellerState)
	if seller == "" {
		return false, &JurisdictionAmbiguityError{
			SellerState: c.SellerState, CounterpartyState: c.CounterpartyState,
			Reason: "seller home state is not configured",
		}
	}
	if c.IsOutsideIndia {
		return false, nil
	}
	counterparty := normaliseState(c.CounterpartyState)
	if counterparty == "" {
		return false, &JurisdictionAmbiguityError{
			SellerState: c.SellerState, CounterpartyState: c.CounterpartyState,
			Reason: "counterparty state is missing and the sale is not marked outside India",
		}
	}
	return seller == counterparty, nil
}

func normaliseState(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// GSTExempt reports whether GST does not apply at all: a non-resident customer
// paying in foreign currency for an event held outside India.
func GSTExempt(c TaxContext) bool {
	if !c.IsOutsideIndia {
		return false
	}
	switch c.CustomerType {
	case CustomerNRI, CustomerForeigner:
		return c.PaymentCurrency != "" && !c.PaymentCurrency.IsINR()
	}
	return false
}

// TCSApplicableFor suggests whether TCS should be collected. Corporate sales never
// attract TCS; retail sales outside India do for Indian customers, and for
// non-resident customers when they pay in INR.
func TCSApplicableFor(category SaleCategory, customer CustomerType, outsideIndia bool, currency Currency) bool {
	if category != SaleCategoryRetail || !outsideIndia {
		return false
	}
	switch customer {
	case CustomerIndian, "":
		return true
	case CustomerNRI, CustomerForeigner:
		return currency == "" || currency.IsINR()
	}
	return false
}

// ComputeTax splits GST into CGST/SGST or IGST and adds TCS on the base amount.
// It is deterministic and has no side effects.
func ComputeTax(base decimal.Decimal, c TaxContext) (TaxBreakdown, error) {
	if base.IsNegative() {
		return TaxBreakdown{}, newValidationError("base_amount", "must not be negative, got %s", base.String())
	}
	if !c.SaleType.Valid() {
		return TaxBreakdown{}, newValidationError("type_of_sale", "unknown sale type %q", c.SaleType)
	}
	base = roundMoney(base)

	gstRate := c.SaleType.DefaultGSTRate()
	if c.GSTRate != nil {
		if c.GSTRate.IsNegative() {
			return TaxBreakdown{}, newValidationError("gst_rate", "must not be negative, got %s", c.GSTRate.String())
		}
		gstRate = *c.GSTRate
	}

	var gst GSTBreakdown
	if !GSTExempt(c) {
		intra, err := IsIntraState(c)
		if err != nil {
			return TaxBreakdown{}, err
		}
		gst = splitGST(base, gstRate, intra)
	} else {
		gst = GSTBreakdown{Rate: decimal.Zero}
	}

	var tcs TCSBreakdown
	if c.TCSApplicable {
		rate := c.TCSRate
		if rate.IsNegative() {
			return TaxBreakdown{}, newValidationError("tcs_rate", "must not be negative, got %s", rate.String())
		}
		if rate.IsZero() {
			rate = DefaultTCSRate
		}
		tcs = TCSBreakdown{Applicable: true, Rate: rate, Amount: roundMoney(base.Mul(rate).Div(hundred))}
	}

	return assembleBreakdown(base, gst, tcs), nil
}

// RederiveTax recomputes a breakdown for a new base amount using the rates and
// jurisdiction already snapshotted in prior.
func RederiveTax(base decimal.Decimal, prior TaxBreakdown) TaxBreakdown {
	base = roundMoney(base)
	gst := GSTBreakdown{Rate: prior.GST.Rate}
	if prior.GST.Applicable {
		gst = splitGST(base, prior.GST.Rate, prior.GST.IntraState)
	}
	tcs := TCSBreakdown{Rate: prior.TCS.Rate}
	if prior.TCS.Applicable {
		tcs = TCSBreakdown{Applicable: true, Rate: prior.TCS.Rate, Amount: roundMoney(base.Mul(prior.TCS.Rate).Div(hundred))}
	}
	return assembleBreakdown(base, gst, tcs)
}

// BaseForGross inverts the breakdown: it returns the base amount whose final
// amount, under prior's rates, is as close as possible to gross.
func BaseForGross(gross decimal.Decimal, prior TaxBreakdown) decimal.Decimal {
	factor := hundred
	if prior.GST.Applicable {
		factor = factor.Add(prior.GST.Rate)
	}
	if prior.TCS.Applicable {
		factor = factor.Add(prior.TCS.Rate)
	}
	return roundMoney(gross.Mul(hundred).Div(factor))
}

// splitGST rounds the intra-state halves first so that CGST == SGST and the
// total is exactly their sum. The intra-state total can therefore exceed the
// IGST on the same base by one paisa (base 100001 at 5%: 5000.06 against
// 5000.05). Each breakdown still satisfies final == base + GST + TCS.
func splitGST(base, rate decimal.Decimal, intra bool) GSTBreakdown {
	g := GSTBreakdown{Applicable: true, IntraState: intra, Rate: rate}
	if intra {
		half := roundMoney(base.Mul(rate).Div(decimal.NewFromInt(200)))
		g.CGST, g.SGST = half, half
		g.Total = half.Add(half)
		return g
	}
	g.IGST = roundMoney(base.Mul(rate).Div(hundred))
	g.Total = g.IGST
	return g
}

func assembleBreakdown(base decimal.Decimal, gst GSTBreakdown, tcs TCSBreakdown) TaxBreakdown {
	total := gst.Total.Add(tcs.Amount)
	return TaxBreakdown{
		BaseAmount:  base,
		GST:         gst,
		TCS:         tcs,
		TotalTax:    total,
		FinalAmount: base.Add(total),
	}
}
