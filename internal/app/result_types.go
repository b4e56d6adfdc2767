package app

import (
	"time"

	"crm-finance/internal/core"

	"github.com/shopspring/decimal"
)

// OrderResult is returned by order lifecycle operations.
type OrderResult struct {
	Order *core.Order `json:"order"`
}

// OrderListResult is returned by ListOrders.
type OrderListResult struct {
	Orders []core.Order `json:"orders"`
}

// InvoiceResult is returned by IssueInvoice. Issued is false when the latest
// invoice already carried the same figures and was returned unchanged.
type InvoiceResult struct {
	Invoice *core.Invoice `json:"invoice"`
	Issued  bool          `json:"issued"`
}

// InvoiceListResult is returned by ListInvoices.
type InvoiceListResult struct {
	OrderNumber string         `json:"order_number"`
	Invoices    []core.Invoice `json:"invoices"`
}

// OpenItemListResult is returned by ListOpenItems.
type OpenItemListResult struct {
	Kind        core.ItemKind   `json:"kind"`
	Items       []core.OpenItem `json:"items"`
	Outstanding decimal.Decimal `json:"outstanding_inr"`
}

// RatesResult is returned by ReferenceRates and PublishRates.
type RatesResult struct {
	Rates     map[core.Currency]decimal.Decimal `json:"rates"`
	UpdatedAt time.Time                         `json:"updated_at"`
	Published bool                              `json:"published,omitempty"`
}
