package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceKind separates the first invoice of an order from later adjustments.
type InvoiceKind string

const (
	InvoiceOriginal   InvoiceKind = "original"
	InvoiceAdjustment InvoiceKind = "adjustment"
)

// InvoiceLine is a printed line of an invoice.
type InvoiceLine struct {
	Description    string          `json:"description"`
	AdditionalInfo string          `json:"additional_info,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	Rate           decimal.Decimal `json:"rate"`
	Amount         decimal.Decimal `json:"amount"`
}

// InvoiceTaxRow is a printed tax row (CGST, SGST, IGST or TCS).
type InvoiceTaxRow struct {
	Label  string          `json:"label"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

// Invoice is an immutable tax-breakdown snapshot of an order. Once issued it is
// never recalculated; changes to the order produce a new adjustment invoice.
type Invoice struct {
	ID            int         `json:"id,omitempty"`
	InvoiceNumber string      `json:"invoice_number,omitempty"`
	Kind          InvoiceKind `json:"kind"`
	SupersedesID  *int        `json:"supersedes_id,omitempty"`
	IssuedAt      *time.Time  `json:"issued_at,omitempty"`

	OrderID     int         `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	InvoiceType InvoiceType `json:"invoice_type"`

	LegalName         string       `json:"legal_name"`
	GSTIN             string       `json:"gstin,omitempty"`
	RegisteredAddress string       `json:"registered_address,omitempty"`
	PlaceOfSupply     string       `json:"place_of_supply"`
	IsOutsideIndia    bool         `json:"is_outside_india"`
	SaleType          SaleType     `json:"type_of_sale"`
	SaleCategory      SaleCategory `json:"category_of_sale"`

	Currency     Currency        `json:"currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`

	Lines      []InvoiceLine   `json:"lines"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Tax        TaxBreakdown    `json:"tax"`
	TaxRows    []InvoiceTaxRow `json:"tax_rows"`
	ExactTotal decimal.Decimal `json:"exact_total"`
	Rounding   decimal.Decimal `json:"rounding"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// LinesCopy returns the invoice lines without exposing the backing array.
func (inv Invoice) LinesCopy() []InvoiceLine {
	return append([]InvoiceLine(nil), inv.Lines...)
}

// TaxRowsCopy returns the tax rows without exposing the backing array.
func (inv Invoice) TaxRowsCopy() []InvoiceTaxRow {
	return append([]InvoiceTaxRow(nil), inv.TaxRows...)
}

// GrandTotalINR converts the grand total to INR.
func (inv Invoice) GrandTotalINR() decimal.Decimal {
	return roundMoney(inv.GrandTotal.Mul(rateOrPar(inv.ExchangeRate)))
}

// sameFigures reports whether two assemblies print the same amounts and parties.
func (inv Invoice) sameFigures(other Invoice) bool {
	if inv.LegalName != other.LegalName || inv.GSTIN != other.GSTIN ||
		inv.PlaceOfSupply != other.PlaceOfSupply || inv.InvoiceType != other.InvoiceType ||
		inv.Currency != other.Currency || !inv.ExchangeRate.Equal(other.ExchangeRate) ||
		!inv.ExactTotal.Equal(other.ExactTotal) || len(inv.Lines) != len(other.Lines) ||
		len(inv.TaxRows) != len(other.TaxRows) {
		return false
	}
	for i := range inv.Lines {
		a, b := inv.Lines[i], other.Lines[i]
		if a.Description != b.Description || !a.Amount.Equal(b.Amount) {
			return false
		}
	}
	for i := range inv.TaxRows {
		if inv.TaxRows[i].Label != other.TaxRows[i].Label || !inv.TaxRows[i].Amount.Equal(other.TaxRows[i].Amount) {
			return false
		}
	}
	return true
}

// Assemble builds the printable breakdown for an order from its base amount,
// invoice items and stored tax snapshot. It is deterministic and reads nothing
// but the order.
//
// Items that sum to less than the base amount get a balancing line named after
// the sale type; items that exceed it are rejected.
func Assemble(o *Order) (Invoice, error) {
	if o == nil {
		return Invoice{}, newValidationError("order", "is required")
	}
	if o.LegalName == "" {
		return Invoice{}, newValidationError("legal_name", "is required to issue an invoice")
	}
	if !o.BaseAmount.IsPositive() {
		return Invoice{}, newValidationError("base_amount", "must be positive to issue an invoice")
	}
	b := o.Breakdown()
	if !b.FinalAmount.Equal(b.BaseAmount.Add(b.GST.Total).Add(b.TCS.Amount)) {
		return Invoice{}, newValidationError("final_amount", "%s does not equal base %s + GST %s + TCS %s",
			b.FinalAmount.StringFixed(2), b.BaseAmount.StringFixed(2), b.GST.Total.StringFixed(2), b.TCS.Amount.StringFixed(2))
	}

	lines := make([]InvoiceLine, 0, len(o.InvoiceItems)+1)
	sum := decimal.Zero
	for _, it := range o.InvoiceItems {
		amt := it.Amount()
		lines = append(lines, InvoiceLine{
			Description:    it.Description,
			AdditionalInfo: it.AdditionalInfo,
			Quantity:       it.Quantity,
			Rate:           it.Rate,
			Amount:         amt,
		})
		sum = sum.Add(amt)
	}
	switch diff := o.BaseAmount.Sub(sum); {
	case diff.IsNegative():
		return Invoice{}, newValidationError("invoice_items", "items total %s exceeds base amount %s",
			sum.StringFixed(2), o.BaseAmount.StringFixed(2))
	case diff.IsPositive():
		lines = append(lines, InvoiceLine{
			Description: string(o.TypeOfSale),
			Quantity:    decimal.NewFromInt(1),
			Rate:        diff,
			Amount:      diff,
		})
	}

	exact := b.FinalAmount
	grand := exact.Round(0)

	place := o.IndianState
	if o.IsOutsideIndia {
		place = "Outside India"
	}

	return Invoice{
		Kind:              InvoiceOriginal,
		OrderID:           o.ID,
		OrderNumber:       o.OrderNumber,
		InvoiceType:       o.InvoiceType,
		LegalName:         o.LegalName,
		GSTIN:             o.GSTIN,
		RegisteredAddress: o.RegisteredAddress,
		PlaceOfSupply:     place,
		IsOutsideIndia:    o.IsOutsideIndia,
		SaleType:          o.TypeOfSale,
		SaleCategory:      o.CategoryOfSale,
		Currency:          o.PaymentCurrency,
		ExchangeRate:      rateOrPar(o.ExchangeRate),
		Lines:             lines,
		Subtotal:          b.BaseAmount,
		Tax:               b,
		TaxRows:           taxRows(b),
		ExactTotal:        exact,
		Rounding:          grand.Sub(exact),
		GrandTotal:        grand,
	}, nil
}

func taxRows(b TaxBreakdown) []InvoiceTaxRow {
	var rows []InvoiceTaxRow
	if b.GST.Applicable {
		if b.GST.IntraState {
			half := b.GST.Rate.Div(decimal.NewFromInt(2))
			rows = append(rows,
				InvoiceTaxRow{Label: fmt.Sprintf("CGST @ %s%%", half.String()), Rate: half, Amount: b.GST.CGST},
				InvoiceTaxRow{Label: fmt.Sprintf("SGST @ %s%%", half.String()), Rate: half, Amount: b.GST.SGST},
			)
		} else {
			rows = append(rows, InvoiceTaxRow{Label: fmt.Sprintf("IGST @ %s%%", b.GST.Rate.String()), Rate: b.GST.Rate, Amount: b.GST.IGST})
		}
	}
	if b.TCS.Applicable {
		rows = append(rows, InvoiceTaxRow{Label: fmt.Sprintf("TCS @ %s%%", b.TCS.Rate.String()), Rate: b.TCS.Rate, Amount: b.TCS.Amount})
	}
	return rows
}
