package app

import (
	"context"
	"io"

	"crm-finance/internal/core"
)

// ApplicationService is the single interface all adapters (CLI, Web) call.
// It decouples presentation from the finance services. Implementations must
// contain no display logic of any kind.
//
// Order references (ref) are either a numeric ID or an order number such as
// ORD-2504-00012.
type ApplicationService interface {
	// PreviewTax computes GST and TCS for an order input without storing anything.
	PreviewTax(ctx context.Context, req OrderRequest) (*core.TaxBreakdown, error)

	// ReferenceRates returns the current INR reference rates and when they were last replaced.
	ReferenceRates(ctx context.Context) *RatesResult

	// PublishRates replaces the reference rates. When a rate cache is configured the
	// new rates are also published to the other instances.
	PublishRates(ctx context.Context, req RatesRequest) (*RatesResult, error)

	// CreateOrder stores a new tax order in state new.
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// CreateProforma raises a proforma order for a lead and opens its receivable.
	CreateProforma(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// GetOrder returns a single order by numeric ID or order number.
	GetOrder(ctx context.Context, ref string) (*OrderResult, error)

	// ListOrders returns orders, newest first, narrowed by the request filters.
	ListOrders(ctx context.Context, req OrderListRequest) (*OrderListResult, error)

	// UpdateOrder applies a partial update and re-derives the tax breakdown.
	UpdateOrder(ctx context.Context, ref string, req OrderPatchRequest) (*OrderResult, error)

	// TransitionOrder moves an order through its lifecycle (submit, approve, reject,
	// payment_received, complete, deliver, cancel).
	TransitionOrder(ctx context.Context, ref string, req TransitionRequest) (*OrderResult, error)

	// HandBack returns an order from finance to its original assignee.
	HandBack(ctx context.Context, ref, note string) (*OrderResult, error)

	// SubmitPayment records a payment for a lead, converting its proforma order (or
	// creating a new tax order) and reconciling the receivable. Replays of the same
	// idempotency key return the original result.
	SubmitPayment(ctx context.Context, req PaymentRequest) (*core.ConversionResult, error)

	// IssueInvoice assembles and stores the order's invoice.
	IssueInvoice(ctx context.Context, ref, issuedBy string) (*InvoiceResult, error)

	// ListInvoices returns every invoice issued for an order, oldest first.
	ListInvoices(ctx context.Context, ref string) (*InvoiceListResult, error)

	// RenderInvoicePDF writes the stored invoice as a PDF document.
	RenderInvoicePDF(ctx context.Context, invoiceNumber string, w io.Writer) error

	// CreateOpenItem records a receivable or payable.
	CreateOpenItem(ctx context.Context, req OpenItemRequest) (*core.OpenItem, error)

	// GetOpenItem returns a single open receivable or payable.
	GetOpenItem(ctx context.Context, kind string, id int) (*core.OpenItem, error)

	// ListOpenItems returns the open receivables or payables.
	ListOpenItems(ctx context.Context, kind string, req OpenItemListRequest) (*OpenItemListResult, error)

	// UpdateOpenItem edits due date, assignee, notes, or lowers the balance.
	UpdateOpenItem(ctx context.Context, kind string, id int, req OpenItemPatchRequest) (*core.OpenItem, error)

	// DeleteOpenItem removes an open item without payment. Its final state is kept
	// in the settlement archive.
	DeleteOpenItem(ctx context.Context, kind string, id int, reason, by string) error

	// ProposeRate suggests the exchange rate for the next payment against an item.
	ProposeRate(ctx context.Context, kind string, id int) (*core.RateSuggestion, error)

	// Reconcile applies a payment to a receivable or payable.
	Reconcile(ctx context.Context, kind string, id int, req ReconcileRequest) (*core.ReconcileResult, error)

	// RecordReminder logs a payment reminder for a receivable.
	RecordReminder(ctx context.Context, receivableID int, req ReminderRequest) (*core.Reminder, error)

	// ListReminders returns the reminders sent for a receivable.
	ListReminders(ctx context.Context, receivableID int) ([]core.Reminder, error)

	// ItemLedger returns an item's payment history with its totals and settlement route.
	ItemLedger(ctx context.Context, kind string, id int) (*core.ItemLedger, error)

	// ListSettlements returns the archive of removed open items. kind may be empty.
	ListSettlements(ctx context.Context, kind string) ([]core.Settlement, error)

	// Summary returns the financial dashboard rollup. asOf is YYYY-MM-DD or empty for now.
	Summary(ctx context.Context, asOf string) (*core.FinancialSummary, error)
}
