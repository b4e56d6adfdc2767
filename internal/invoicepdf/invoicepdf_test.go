package invoicepdf

import (
	"bytes"
	"testing"
	"time"

	"crm-finance/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInvoice(t *testing.T) core.Invoice {
	t.Helper()
	c := core.TaxContext{
		SellerState:       "Haryana",
		CounterpartyState: "Haryana",
		SaleType:          core.SaleTypeTour,
	}
	b, err := core.ComputeTax(decimal.NewFromInt(100000), c)
	require.NoError(t, err)
	o := &core.Order{
		ID:              7,
		OrderNumber:     "ORD-2627-00007",
		LegalName:       "Acme Travels Pvt Ltd",
		IndianState:     "Haryana",
		TypeOfSale:      core.SaleTypeTour,
		CategoryOfSale:  core.SaleCategoryCorporate,
		PaymentCurrency: core.CurrencyINR,
		InvoiceType:     core.InvoiceTax,
		InvoiceItems: []core.InvoiceItem{
			{Description: "Dubai package", Quantity: decimal.NewFromInt(2), Rate: decimal.NewFromInt(40000)},
		},
		BaseAmount:     b.BaseAmount,
		GSTCalculation: b.GST,
		TCSCalculation: b.TCS,
		TotalTax:       b.TotalTax,
		FinalAmount:    b.FinalAmount,
	}
	inv, err := core.Assemble(o)
	require.NoError(t, err)
	issued := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	inv.InvoiceNumber = "INV-2627-00001"
	inv.IssuedAt = &issued
	return inv
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, sampleInvoice(t), Seller{Name: "Seller Events LLP", GSTIN: "06ABCDE1234F1Z5", State: "Haryana"})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Greater(t, buf.Len(), 500)
}

func TestTitle(t *testing.T) {
	inv := core.Invoice{InvoiceType: core.InvoiceProforma, Kind: core.InvoiceOriginal}
	assert.Equal(t, "PROFORMA INVOICE", title(inv))
	inv.Kind = core.InvoiceAdjustment
	assert.Equal(t, "ADJUSTMENT INVOICE", title(inv))
	assert.Equal(t, "TAX INVOICE", title(core.Invoice{InvoiceType: core.InvoiceTax}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("  short ", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
