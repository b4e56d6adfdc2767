package app

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"crm-finance/internal/core"
	"crm-finance/internal/invoicepdf"
	"crm-finance/internal/ratecache"

	"github.com/shopspring/decimal"
)

type appService struct {
	orders     core.OrderService
	items      core.OpenItemService
	reconciler core.Reconciler
	invoices   core.InvoiceService
	reports    core.ReportingService
	rates      *core.RateBook
	rateCache  *ratecache.Cache // nil when Redis is not configured
	seller     invoicepdf.Seller
}

// NewAppService constructs an appService that satisfies ApplicationService.
// rateCache may be nil; rates are then only replaced in this process.
func NewAppService(
	orders core.OrderService,
	items core.OpenItemService,
	reconciler core.Reconciler,
	invoices core.InvoiceService,
	reports core.ReportingService,
	rates *core.RateBook,
	rateCache *ratecache.Cache,
	seller invoicepdf.Seller,
) ApplicationService {
	return &appService{
		orders:     orders,
		items:      items,
		reconciler: reconciler,
		invoices:   invoices,
		reports:    reports,
		rates:      rates,
		rateCache:  rateCache,
		seller:     seller,
	}
}

// ── Tax & rates ──────────────────────────────────────────────────────────────

func (s *appService) PreviewTax(ctx context.Context, req OrderRequest) (*core.TaxBreakdown, error) {
	in, err := req.toInput()
	if err != nil {
		return nil, err
	}
	b, err := s.orders.PreviewTax(in)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *appService) ReferenceRates(ctx context.Context) *RatesResult {
	rates, at := s.rates.Snapshot()
	return &RatesResult{Rates: rates, UpdatedAt: at}
}

func (s *appService) PublishRates(ctx context.Context, req RatesRequest) (*RatesResult, error) {
	if len(req.Rates) == 0 {
		return nil, &core.ValidationError{Field: "rates", Message: "at least one rate is required"}
	}
	rates := make(map[core.Currency]decimal.Decimal, len(req.Rates))
	for code, rate := range req.Rates {
		c, err := core.ParseCurrency(code)
		if err != nil {
			return nil, err
		}
		if !rate.IsPositive() {
			return nil, &core.ValidationError{Field: "rates", Message: fmt.Sprintf("rate for %s must be positive", c)}
		}
		rates[c] = rate
	}

	now := time.Now()
	published := false
	if s.rateCache != nil {
		if err := s.rateCache.Publish(ctx, rates, now); err != nil {
			return nil, err
		}
		published = true
	} else {
		s.rates.Replace(rates, now)
	}

	res := s.ReferenceRates(ctx)
	res.Published = published
	return res, nil
}

// ── Orders ───────────────────────────────────────────────────────────────────

func (s *appService) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	in, err := req.toInput()
	if err != nil {
		return nil, err
	}
	o, err := s.orders.CreateOrder(ctx, in)
	if err != nil {
		return nil, err
	}
	return &OrderResult{Order: o}, nil
}

func (s *appService) CreateProforma(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	in, err := req.toInput()
	if err != nil {
		return nil, err
	}
	o, err := s.orders.CreateProforma(ctx, in)
	if err != nil {
		return nil, err
	}
	return &OrderResult{Order: o}, nil
}

func (s *appService) GetOrder(ctx context.Context, ref string) (*OrderResult, error) {
	o, err := s.resolveOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &OrderResult{Order: o}, nil
}

func (s *appService) ListOrders(ctx context.Context, req OrderListRequest) (*OrderListResult, error) {
	f := core.OrderFilter{LeadID: req.LeadID, AssignedTo: req.AssignedTo, Limit: req.Limit}
	if req.Status != "" {
		st, err := core.ParseOrderStatus(req.Status)
		if err != nil {
			return nil, err
		}
		f.Status = st
	}
	switch t := core.InvoiceType(strings.ToLower(req.InvoiceType)); t {
	case "":
	case core.InvoiceProforma, core.InvoiceTax:
		f.InvoiceType = t
	default:
		return nil, &core.ValidationError{Field: "invoice_type", Message: fmt.Sprintf("unknown invoice type %q", req.InvoiceType)}
	}
	orders, err := s.orders.ListOrders(ctx, f)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []core.Order{}
	}
	return &OrderListResult{Orders: orders}, nil
}

func (s *appService) UpdateOrder(ctx context.Context, ref string, req OrderPatchRequest) (*OrderResult, error) {
	o, err := s.resolveOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	p, err := req.toPatch()
	if err != nil {
		return nil, err
	}
	updated, err := s.orders.UpdateOrder(ctx, o.ID, p)
	if err != nil {
		return nil, err
	}
	return &OrderResult{Order: updated}, nil
}

func (s *appService) TransitionOrder(ctx context.Context, ref string, req TransitionRequest) (*OrderResult, error) {
	o, err := s.resolveOrder(ctx, ref)
	if err != nil {
		return nil, err
	}

	var next *core.Order
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "submit":
		next, err = s.orders.Submit(ctx, o.ID)
	case "approve":
		next, err = s.orders.Approve(ctx, o.ID, req.By)
	case "reject":
		next, err = s.orders.Reject(ctx, o.ID, req.Reason)
	case "payment_received", "payment-received":
		next, err = s.orders.MarkPaymentReceived(ctx, o.ID)
	case "complete":
		next, err = s.orders.Complete(ctx, o.ID, core.StatusCompleted)
	case "deliver":
		next, err = s.orders.Complete(ctx, o.ID, core.StatusDelivered)
	case "cancel":
		next, err = s.orders.Cancel(ctx, o.ID, req.Reason)
	default:
		return nil, &core.ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", req.Action)}
	}
	if err != nil {
		return nil, err
	}
	return &OrderResult{Order: next}, nil
}

func (s *appService) HandBack(ctx context.Context, ref, note string) (*OrderResult, error) {
	o, err := s.resolveOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	next, err := s.orders.HandBack(ctx, o.ID, note)
	if err != nil {
		return nil, err
	}
	return &OrderResult{Order: next}, nil
}

func (s *appService) SubmitPayment(ctx context.Context, req PaymentRequest) (*core.ConversionResult, error) {
	in, err := req.Order.toInput()
	if err != nil {
		return nil, err
	}
	paidOn, err := parseOptionalDate("payment_date", req.PaymentDate)
	if err != nil {
		return nil, err
	}
	res, err := core.ParseResolution(req.Resolution)
	if err != nil {
		return nil, err
	}
	sub := core.PaymentSubmission{
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		LeadID:         req.LeadID,
		Order:          in,
		AmountPaid:     req.AmountPaid,
		SubmittedBy:    req.SubmittedBy,
		Resolution:     res,
	}
	if paidOn != nil {
		sub.PaymentDate = *paidOn
	}
	return s.orders.CollectPayment(ctx, sub)
}

// ── Invoices ─────────────────────────────────────────────────────────────────

func (s *appService) IssueInvoice(ctx context.Context, ref, issuedBy string) (*InvoiceResult, error) {
	o, err := s.resolveOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	inv, issued, err := s.invoices.Issue(ctx, o.ID, issuedBy)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv, Issued: issued}, nil
}

func (s *appService) ListInvoices(ctx context.Context, ref string) (*InvoiceListResult, error) {
	o, err := s.resolveOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	invoices, err := s.invoices.ListForOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if invoices == nil {
		invoices = []core.Invoice{}
	}
	return &InvoiceListResult{OrderNumber: o.OrderNumber, Invoices: invoices}, nil
}

func (s *appService) RenderInvoicePDF(ctx context.Context, invoiceNumber string, w io.Writer) error {
	var (
		inv *core.Invoice
		err error
	)
	if id, convErr := strconv.Atoi(invoiceNumber); convErr == nil {
		inv, err = s.invoices.Get(ctx, id)
	} else {
		inv, err = s.invoices.GetByNumber(ctx, invoiceNumber)
	}
	if err != nil {
		return err
	}
	return invoicepdf.Render(w, *inv, s.seller)
}

// ── Open items ───────────────────────────────────────────────────────────────

func (s *appService) CreateOpenItem(ctx context.Context, req OpenItemRequest) (*core.OpenItem, error) {
	kind, err := core.ParseItemKind(req.Kind)
	if err != nil {
		return nil, err
	}
	due, err := parseOptionalDate("due_date", req.DueDate)
	if err != nil {
		return nil, err
	}
	return s.items.Create(ctx, core.OpenItemInput{
		Kind:           kind,
		OrderID:        req.OrderID,
		LeadID:         req.LeadID,
		InventoryID:    req.InventoryID,
		Counterparty:   req.Counterparty,
		Description:    req.Description,
		Currency:       req.Currency,
		OriginalAmount: req.OriginalAmount,
		ExchangeRate:   req.ExchangeRate,
		DueDate:        due,
		AssignedTo:     req.AssignedTo,
		Notes:          req.Notes,
	})
}

func (s *appService) GetOpenItem(ctx context.Context, kind string, id int) (*core.OpenItem, error) {
	k, err := core.ParseItemKind(kind)
	if err != nil {
		return nil, err
	}
	return s.items.Get(ctx, k, id)
}

func (s *appService) ListOpenItems(ctx context.Context, kind string, req OpenItemListRequest) (*OpenItemListResult, error) {
	k, err := core.ParseItemKind(kind)
	if err != nil {
		return nil, err
	}
	f := core.OpenItemFilter{
		Counterparty: req.Counterparty,
		OrderID:      req.OrderID,
		InventoryID:  req.InventoryID,
		OverdueOnly:  req.OverdueOnly,
	}
	switch st := core.PaymentStatus(strings.ToLower(req.Status)); st {
	case "":
	case core.PaymentPending, core.PaymentPartial:
		f.Status = st
	default:
		return nil, &core.ValidationError{Field: "status", Message: fmt.Sprintf("open items are pending or partial, not %q", req.Status)}
	}

	items, err := s.items.ListOpen(ctx, k, f)
	if err != nil {
		return nil, err
	}
	res := &OpenItemListResult{Kind: k, Items: items, Outstanding: decimal.Zero}
	if res.Items == nil {
		res.Items = []core.OpenItem{}
	}
	for _, it := range items {
		res.Outstanding = res.Outstanding.Add(it.OutstandingINR())
	}
	return res, nil
}

func (s *appService) UpdateOpenItem(ctx context.Context, kind string, id int, req OpenItemPatchRequest) (*core.OpenItem, error) {
	k, err := core.ParseItemKind(kind)
	if err != nil {
		return nil, err
	}
	p := core.OpenItemPatch{
		ExpectedVersion: req.ExpectedVersion,
		AssignedTo:      req.AssignedTo,
		Notes:           req.Notes,
		BalanceAmount:   req.BalanceAmount,
	}
	if req.DueDate != nil {
		if p.DueDate, err = parseDate("due_date", *req.DueDate); err != nil {
			return nil, err
		}
	}
	return s.items.Update(ctx, k, id, p)
}

func (s *appService) DeleteOpenItem(ctx context.Context, kind string, id int, reason, by string) error {
	k, err := core.ParseItemKind(kind)
	if err != nil {
		return err
	}
	return s.items.Delete(ctx, k, id, reason, by)
}

// ── Reconciliation ───────────────────────────────────────────────────────────

func (s *appService) ProposeRate(ctx context.Context, kind string, id int) (*core.RateSuggestion, error) {
	k, err := core.ParseItemKind(kind)
	if err != nil {
		return nil, err
	}
	sug, err := s.reconciler.ProposeRate(ctx, k, id)
	if err != nil {
		return nil, err
	}
	return &sug, nil
}

func (s *appService) Reconcile(ctx context.Context, kind string, id int, req ReconcileRequest) (*core.ReconcileResult, error) {
	k, err := core.ParseItemKind(kind)
	if err != nil {
		return nil, err
	}
	res, err := core.ParseResolution(req.Resolution)
	if err != nil {
		return nil, err
	}
	paidAt, err := parseOptionalDate("paid_at", req.PaidAt)
	if err != nil {
		return nil, err
	}
	r := core.ReconcileRequest{
		Kind:            k,
		ItemID:          id,
		AmountPaid:      req.AmountPaid,
		Rate:            req.Rate,
		Resolution:      res,
		Reason:          req.Reason,
		SettledBy:       req.SettledBy,
		ExpectedVersion: req.ExpectedVersion,
	}
	if paidAt != nil {
		r.PaidAt = *paidAt
	}
	return s.reconciler.Reconcile(ctx, r)
}

func (s *appService) RecordReminder(ctx context.Context, receivableID int, req ReminderRequest) (*core.Reminder, error) {
	return s.items.RecordReminder(ctx, receivableID, req.Channel, req.Note, req.SentBy)
}

func (s *appService) ListReminders(ctx context.Context, receivableID int) ([]core.Reminder, error) {
	return s.items.ListReminders(ctx, receivableID)
}

// ── Reporting ────────────────────────────────────────────────────────────────

func (s *appService) ItemLedger(ctx context.Context, kind string, id int) (*core.ItemLedger, error) {
	k, err := core.ParseItemKind(kind)
	if err != nil {
		return nil, err
	}
	return s.reports.ItemLedger(ctx, k, id)
}

func (s *appService) ListSettlements(ctx context.Context, kind string) ([]core.Settlement, error) {
	var k core.ItemKind
	if kind != "" {
		var err error
		if k, err = core.ParseItemKind(kind); err != nil {
			return nil, err
		}
	}
	return s.items.ListSettlements(ctx, k)
}

func (s *appService) Summary(ctx context.Context, asOf string) (*core.FinancialSummary, error) {
	at, err := parseOptionalDate("as_of", asOf)
	if err != nil {
		return nil, err
	}
	var t time.Time
	if at != nil {
		t = *at
	}
	return s.reports.Summary(ctx, t)
}

// resolveOrder accepts either a numeric ID or an order number.
func (s *appService) resolveOrder(ctx context.Context, ref string) (*core.Order, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.Atoi(ref); err == nil {
		return s.orders.GetOrder(ctx, id)
	}
	return s.orders.GetOrderByNumber(ctx, ref)
}
