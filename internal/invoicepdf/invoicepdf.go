// Package invoicepdf renders issued invoices as A4 PDFs.
package invoicepdf

import (
	"fmt"
	"io"
	"strings"

	"crm-finance/internal/core"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
)

// Seller is the issuing business printed in the header.
type Seller struct {
	Name    string
	GSTIN   string
	Address string
	State   string
}

// column widths in mm; they add up to the 190mm printable width.
var lineCols = []float64{90, 25, 35, 40}

// Render writes inv as a PDF to w. Amounts are printed exactly as stored on the
// invoice; nothing is recalculated.
func Render(w io.Writer, inv core.Invoice, seller Seller) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetTitle(inv.InvoiceNumber, false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 9, title(inv), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 5, seller.Name, "", 1, "L", false, 0, "")
	if seller.Address != "" {
		pdf.MultiCell(0, 5, seller.Address, "", "L", false)
	}
	if seller.GSTIN != "" {
		pdf.CellFormat(0, 5, "GSTIN: "+seller.GSTIN, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	kv := func(k, v string) {
		if v == "" {
			return
		}
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(40, 6, k, "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, v, "", 1, "L", false, 0, "")
	}
	kv("Invoice Number:", inv.InvoiceNumber)
	if inv.IssuedAt != nil {
		kv("Invoice Date:", inv.IssuedAt.Format("02 Jan 2006"))
	}
	kv("Order Number:", inv.OrderNumber)
	kv("Billed To:", inv.LegalName)
	kv("GSTIN:", inv.GSTIN)
	kv("Address:", inv.RegisteredAddress)
	kv("Place of Supply:", inv.PlaceOfSupply)
	kv("Currency:", currencyLabel(inv))
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range []string{"Description", "Qty", "Rate", "Amount"} {
		align := "R"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(lineCols[i], 7, h, "1", 0, align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, l := range inv.Lines {
		desc := l.Description
		if l.AdditionalInfo != "" {
			desc += " (" + l.AdditionalInfo + ")"
		}
		pdf.CellFormat(lineCols[0], 7, truncate(desc, 55), "1", 0, "L", false, 0, "")
		pdf.CellFormat(lineCols[1], 7, l.Quantity.String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(lineCols[2], 7, money(l.Rate), "1", 0, "R", false, 0, "")
		pdf.CellFormat(lineCols[3], 7, money(l.Amount), "1", 1, "R", false, 0, "")
	}

	labelW := lineCols[0] + lineCols[1] + lineCols[2]
	total := func(label string, amt decimal.Decimal, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Arial", style, 10)
		pdf.CellFormat(labelW, 7, label, "1", 0, "R", false, 0, "")
		pdf.CellFormat(lineCols[3], 7, money(amt), "1", 1, "R", false, 0, "")
	}
	total("Subtotal", inv.Subtotal, false)
	for _, row := range inv.TaxRows {
		total(row.Label, row.Amount, false)
	}
	if !inv.Rounding.IsZero() {
		total("Rounding", inv.Rounding, false)
	}
	total("Grand Total", inv.GrandTotal, true)

	if !inv.Currency.IsINR() {
		pdf.Ln(2)
		pdf.SetFont("Arial", "I", 9)
		pdf.CellFormat(0, 5, fmt.Sprintf("INR equivalent at %s: %s", inv.ExchangeRate.String(), money(inv.GrandTotalINR())),
			"", 1, "R", false, 0, "")
	}
	if inv.Kind == core.InvoiceAdjustment {
		pdf.Ln(2)
		pdf.SetFont("Arial", "I", 9)
		pdf.CellFormat(0, 5, "This adjustment invoice supersedes the previous invoice for this order.", "", 1, "L", false, 0, "")
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to render invoice %s: %w", inv.InvoiceNumber, err)
	}
	return pdf.Output(w)
}

func title(inv core.Invoice) string {
	switch {
	case inv.Kind == core.InvoiceAdjustment:
		return "ADJUSTMENT INVOICE"
	case inv.InvoiceType == core.InvoiceProforma:
		return "PROFORMA INVOICE"
	}
	return "TAX INVOICE"
}

func currencyLabel(inv core.Invoice) string {
	if inv.Currency == "" || inv.Currency.IsINR() {
		return "INR"
	}
	return fmt.Sprintf("%s (1 %s = INR %s)", inv.Currency, inv.Currency, inv.ExchangeRate.String())
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
