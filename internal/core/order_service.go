package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// financeTeam is the assigned_team value for orders handed to finance.
const financeTeam = "finance"

// OrderService drives the order lifecycle state machine, including the
// proforma → tax invoice conversion when payment is collected.
type OrderService interface {
	// PreviewTax computes the tax breakdown for an input without storing anything.
	PreviewTax(in OrderInput) (TaxBreakdown, error)

	// Creation
	CreateOrder(ctx context.Context, in OrderInput) (*Order, error)
	// CreateProforma raises a payment-post-service order awaiting approval and
	// opens a receivable for its unpaid balance.
	CreateProforma(ctx context.Context, in OrderInput) (*Order, error)

	// Queries
	GetOrder(ctx context.Context, orderID int) (*Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, error)

	// UpdateOrder merges p into the order and re-derives its tax snapshot.
	UpdateOrder(ctx context.Context, orderID int, p OrderPatch) (*Order, error)

	// Lifecycle
	Submit(ctx context.Context, orderID int) (*Order, error)
	Approve(ctx context.Context, orderID int, approvedBy string) (*Order, error)
	Reject(ctx context.Context, orderID int, reason string) (*Order, error)
	MarkPaymentReceived(ctx context.Context, orderID int) (*Order, error)
	Complete(ctx context.Context, orderID int, final OrderStatus) (*Order, error)
	Cancel(ctx context.Context, orderID int, reason string) (*Order, error)
	// HandBack returns a finance-processed order to its original assignee.
	HandBack(ctx context.Context, orderID int, note string) (*Order, error)

	// CollectPayment records payment against a lead, converting its open order
	// in place or creating a new tax order. Replays are detected by idempotency
	// key; a new key against an already converted order pays into its receivable.
	CollectPayment(ctx context.Context, sub PaymentSubmission) (*ConversionResult, error)
}

type orderService struct {
	pool *pgxpool.Pool
	fc   *FinancialContext
}

func NewOrderService(pool *pgxpool.Pool, fc *FinancialContext) OrderService {
	return &orderService{pool: pool, fc: fc}
}

// ── Persistence helpers ──────────────────────────────────────────────────────

var orderFields = []string{
	"order_number", "lead_id", "client_name", "legal_name", "gstin", "registered_address",
	"indian_state", "is_outside_india", "category_of_sale", "type_of_sale", "customer_type",
	"event_name", "event_date", "invoice_items", "base_amount", "gst_calculation",
	"tcs_calculation", "total_tax", "final_amount", "total_amount", "original_amount",
	"amount_adjusted", "adjustment_reason", "payment_currency", "exchange_rate",
	"advance_amount", "amount_paid", "status", "payment_status", "invoice_type", "order_type",
	"original_order_type", "invoice_number", "proforma_order_number", "proforma_invoice_number",
	"expected_payment_date", "rejection_reason", "assigned_to", "assigned_team",
	"original_assignee", "assignment_notes", "approved_at", "payment_received_at", "closed_at",
}

var (
	orderSelect = "SELECT id, version, created_at, updated_at, " + strings.Join(orderFields, ", ") + " FROM orders"
	orderInsert = "INSERT INTO orders (" + strings.Join(orderFields, ", ") + ") VALUES (" +
		placeholders(1, len(orderFields)) + ") RETURNING id, version, created_at, updated_at"
	orderUpdate = "UPDATE orders SET " + assignments(orderFields, 3) +
		", version = version + 1, updated_at = NOW() WHERE id = $1 AND version = $2 RETURNING version, updated_at"
)

func placeholders(from, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ps, ", ")
}

func assignments(fields []string, from int) string {
	as := make([]string, len(fields))
	for i, f := range fields {
		as[i] = fmt.Sprintf("%s = $%d", f, from+i)
	}
	return strings.Join(as, ", ")
}

func orderValues(o *Order) ([]any, error) {
	items := o.InvoiceItems
	if items == nil {
		items = []InvoiceItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode invoice items: %w", err)
	}
	gstJSON, err := json.Marshal(o.GSTCalculation)
	if err != nil {
		return nil, fmt.Errorf("failed to encode gst calculation: %w", err)
	}
	tcsJSON, err := json.Marshal(o.TCSCalculation)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tcs calculation: %w", err)
	}
	return []any{
		o.OrderNumber, o.LeadID, o.ClientName, o.LegalName, o.GSTIN, o.RegisteredAddress,
		o.IndianState, o.IsOutsideIndia, string(o.CategoryOfSale), string(o.TypeOfSale), string(o.CustomerType),
		o.EventName, o.EventDate, itemsJSON, o.BaseAmount, gstJSON,
		tcsJSON, o.TotalTax, o.FinalAmount, o.TotalAmount, o.OriginalAmount,
		o.AmountAdjusted, o.AdjustmentReason, string(o.PaymentCurrency), o.ExchangeRate,
		o.AdvanceAmount, o.AmountPaid, string(o.Status), string(o.PaymentStatus), string(o.InvoiceType), string(o.OrderType),
		string(o.OriginalOrderType), o.InvoiceNumber, o.ProformaOrderNumber, o.ProformaInvoiceNumber,
		o.ExpectedPaymentDate, o.RejectionReason, o.AssignedTo, o.AssignedTeam,
		o.OriginalAssignee, o.AssignmentNotes, o.ApprovedAt, o.PaymentReceivedAt, o.ClosedAt,
	}, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                     Order
		itemsJSON             []byte
		gstJSON, tcsJSON      []byte
		category, saleType    string
		customer, currency    string
		status, paymentStatus string
		invoiceType, ordType  string
		originalType          string
	)
	err := row.Scan(
		&o.ID, &o.Version, &o.CreatedAt, &o.UpdatedAt,
		&o.OrderNumber, &o.LeadID, &o.ClientName, &o.LegalName, &o.GSTIN, &o.RegisteredAddress,
		&o.IndianState, &o.IsOutsideIndia, &category, &saleType, &customer,
		&o.EventName, &o.EventDate, &itemsJSON, &o.BaseAmount, &gstJSON,
		&tcsJSON, &o.TotalTax, &o.FinalAmount, &o.TotalAmount, &o.OriginalAmount,
		&o.AmountAdjusted, &o.AdjustmentReason, &currency, &o.ExchangeRate,
		&o.AdvanceAmount, &o.AmountPaid, &status, &paymentStatus, &invoiceType, &ordType,
		&originalType, &o.InvoiceNumber, &o.ProformaOrderNumber, &o.ProformaInvoiceNumber,
		&o.ExpectedPaymentDate, &o.RejectionReason, &o.AssignedTo, &o.AssignedTeam,
		&o.OriginalAssignee, &o.AssignmentNotes, &o.ApprovedAt, &o.PaymentReceivedAt, &o.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	o.CategoryOfSale = SaleCategory(category)
	o.TypeOfSale = SaleType(saleType)
	o.CustomerType = CustomerType(customer)
	o.PaymentCurrency = Currency(currency)
	o.Status = OrderStatus(status)
	o.PaymentStatus = PaymentStatus(paymentStatus)
	o.InvoiceType = InvoiceType(invoiceType)
	o.OrderType = OrderType(ordType)
	o.OriginalOrderType = OrderType(originalType)
	if err := json.Unmarshal(itemsJSON, &o.InvoiceItems); err != nil {
		return nil, fmt.Errorf("failed to decode invoice items of order %d: %w", o.ID, err)
	}
	if err := json.Unmarshal(gstJSON, &o.GSTCalculation); err != nil {
		return nil, fmt.Errorf("failed to decode gst calculation of order %d: %w", o.ID, err)
	}
	if err := json.Unmarshal(tcsJSON, &o.TCSCalculation); err != nil {
		return nil, fmt.Errorf("failed to decode tcs calculation of order %d: %w", o.ID, err)
	}
	return &o, nil
}

func insertOrderTx(ctx context.Context, tx pgx.Tx, o *Order) error {
	args, err := orderValues(o)
	if err != nil {
		return err
	}
	if err := tx.QueryRow(ctx, orderInsert, args...).Scan(&o.ID, &o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return storeErr("insert order", err)
	}
	return nil
}

// saveOrderTx writes o back if nobody else changed it since it was read.
func saveOrderTx(ctx context.Context, tx pgx.Tx, o *Order) error {
	args, err := orderValues(o)
	if err != nil {
		return err
	}
	args = append([]any{o.ID, o.Version}, args...)
	err = tx.QueryRow(ctx, orderUpdate, args...).Scan(&o.Version, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("order %d was modified concurrently: %w", o.ID, ErrVersionConflict)
		}
		return storeErr(fmt.Sprintf("update order %d", o.ID), err)
	}
	return nil
}

// lockOrderTx reads an order with a row lock held until the transaction ends.
func lockOrderTx(ctx context.Context, tx pgx.Tx, orderID int) (*Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, orderSelect+" WHERE id = $1 FOR UPDATE", orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
		}
		return nil, storeErr(fmt.Sprintf("fetch order %d for update", orderID), err)
	}
	return o, nil
}

func checkVersion(entity string, id, have int, expected *int) error {
	if expected != nil && *expected != have {
		return fmt.Errorf("%s %d is at version %d, expected %d: %w", entity, id, have, *expected, ErrVersionConflict)
	}
	return nil
}

// ── Creation ─────────────────────────────────────────────────────────────────

func (s *orderService) PreviewTax(in OrderInput) (TaxBreakdown, error) {
	o, err := buildOrder(in, s.fc.SellerState)
	if err != nil {
		return TaxBreakdown{}, err
	}
	return o.Breakdown(), nil
}

func (s *orderService) CreateOrder(ctx context.Context, in OrderInput) (*Order, error) {
	o, err := buildOrder(in, s.fc.SellerState)
	if err != nil {
		return nil, err
	}
	o.Status = StatusNew
	o.InvoiceType = InvoiceTax
	o.OrderType = OrderTypeStandard

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if o.OrderNumber, err = s.fc.Numbers.NextTx(ctx, tx, SeriesOrder, s.fc.now()); err != nil {
		return nil, err
	}
	if err := insertOrderTx(ctx, tx, o); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit order creation", err)
	}
	return o, nil
}

func (s *orderService) CreateProforma(ctx context.Context, in OrderInput) (*Order, error) {
	o, err := buildOrder(in, s.fc.SellerState)
	if err != nil {
		return nil, err
	}
	if o.LeadID == nil {
		return nil, newValidationError("lead_id", "is required for a proforma order")
	}
	now := s.fc.now()
	o.Status = StatusPendingApproval
	o.InvoiceType = InvoiceProforma
	o.OrderType = OrderTypePaymentPostService

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if o.OrderNumber, err = s.fc.Numbers.NextTx(ctx, tx, SeriesProformaOrder, now); err != nil {
		return nil, err
	}
	if o.InvoiceNumber, err = s.fc.Numbers.NextTx(ctx, tx, SeriesProformaInvoice, now); err != nil {
		return nil, err
	}
	if err := insertOrderTx(ctx, tx, o); err != nil {
		return nil, err
	}
	if _, err := s.openReceivableTx(ctx, tx, o); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit proforma creation", err)
	}
	return o, nil
}

// openReceivableTx opens a receivable for the order's unpaid balance in the
// order currency, booked at the order's rate. Later payments are measured
// against that rate. It returns nil when there is nothing to collect.
func (s *orderService) openReceivableTx(ctx context.Context, tx pgx.Tx, o *Order) (*OpenItem, error) {
	unpaid := o.Unpaid()
	if !unpaid.IsPositive() {
		return nil, nil
	}
	cur := o.PaymentCurrency
	if cur == "" {
		cur = CurrencyINR
	}
	rate := rateOrPar(o.ExchangeRate)
	if cur.IsINR() {
		rate = decimal.NewFromInt(1)
	}
	orderID := o.ID
	item := &OpenItem{
		Kind:           KindReceivable,
		OrderID:        &orderID,
		LeadID:         o.LeadID,
		Counterparty:   o.ClientName,
		Description:    fmt.Sprintf("Balance due on %s", o.OrderNumber),
		Currency:       cur,
		OriginalAmount: unpaid,
		ExchangeRate:   rate,
		Amount:         roundMoney(unpaid.Mul(rate)),
		BalanceAmount:  unpaid,
		DueDate:        o.ExpectedPaymentDate,
		AssignedTo:     o.AssignedTo,
		Status:         PaymentPending,
	}
	if err := insertOpenItemTx(ctx, tx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// syncReceivableTx makes the order's open receivable match o.Unpaid(). The
// receivable keeps its booking rate; a currency change is only allowed before
// any payment was recorded against it. With no receivable, one is opened when
// open is set. The order must already be locked.
func (s *orderService) syncReceivableTx(ctx context.Context, tx pgx.Tx, o *Order, open bool) (*OpenItem, error) {
	items, err := listOpenItems(ctx, tx, KindReceivable, OpenItemFilter{OrderID: &o.ID}, true)
	if err != nil {
		return nil, err
	}
	switch len(items) {
	case 0:
		if !open {
			return nil, nil
		}
		return s.openReceivableTx(ctx, tx, o)
	case 1:
	default:
		return nil, newValidationError("order_id", "order %d has %d open receivables; adjust them individually", o.ID, len(items))
	}

	it := items[0]
	target := o.Unpaid()
	if target.IsNegative() {
		return nil, newValidationError("base_amount",
			"order %d total would fall %s below what was already collected", o.ID, target.Neg().StringFixed(2))
	}
	if it.Currency != o.PaymentCurrency {
		if len(it.PaymentHistory) > 0 {
			return nil, newValidationError("payment_currency",
				"receivable %d already has payments in %s", it.ID, it.Currency)
		}
		it.Currency = o.PaymentCurrency
		it.ExchangeRate = rateOrPar(o.ExchangeRate)
		it.OriginalAmount = it.BalanceAmount
	} else if it.BalanceAmount.Equal(target) {
		return it, nil
	}

	if target.IsZero() {
		it.Notes = fmt.Sprintf("Nothing left to collect on %s", o.OrderNumber)
		return nil, deleteOpenItemTx(ctx, tx, it, OutcomeRemoved, "", s.fc.now())
	}
	it.resizeBalance(target)
	if err := saveOpenItemTx(ctx, tx, it); err != nil {
		return nil, err
	}
	return it, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *orderService) GetOrder(ctx context.Context, orderID int) (*Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, orderSelect+" WHERE id = $1", orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
		}
		return nil, storeErr(fmt.Sprintf("fetch order %d", orderID), err)
	}
	return o, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		orderSelect+" WHERE order_number = $1 OR proforma_order_number = $1 ORDER BY id DESC LIMIT 1", orderNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", orderNumber, ErrNotFound)
		}
		return nil, storeErr("lookup order by number", err)
	}
	return o, nil
}

func (s *orderService) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	return listOrders(ctx, s.pool, f)
}

func listOrders(ctx context.Context, q pgxRowQuerier, f OrderFilter) ([]Order, error) {
	query := orderSelect + " WHERE 1=1"
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.InvoiceType != "" {
		args = append(args, string(f.InvoiceType))
		query += fmt.Sprintf(" AND invoice_type = $%d", len(args))
	}
	if f.LeadID != nil {
		args = append(args, *f.LeadID)
		query += fmt.Sprintf(" AND lead_id = $%d", len(args))
	}
	if f.AssignedTo != "" {
		args = append(args, f.AssignedTo)
		query += fmt.Sprintf(" AND assigned_to = $%d", len(args))
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query orders", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, storeErr("scan order", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate orders", err)
	}
	return orders, nil
}

// ── Update ───────────────────────────────────────────────────────────────────

func (s *orderService) UpdateOrder(ctx context.Context, orderID int, p OrderPatch) (*Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkVersion("order", o.ID, o.Version, p.ExpectedVersion); err != nil {
		return nil, err
	}
	if o.Status == StatusCancelled || o.Status == StatusRejected {
		return nil, newValidationError("status", "order %d is %s and can no longer be edited", o.ID, o.Status)
	}
	if err := o.applyPatch(p, s.fc.SellerState); err != nil {
		return nil, err
	}
	if o.PaymentStatus != PaymentPending {
		o.PaymentStatus = paymentStatusFor(o, s.fc.SettlementTolerance)
	}
	if err := saveOrderTx(ctx, tx, o); err != nil {
		return nil, err
	}
	// Approved and later orders carry their unpaid balance as a receivable, as
	// do proformas from creation.
	open := o.Status.PostApproval() || o.InvoiceType == InvoiceProforma
	if _, err := s.syncReceivableTx(ctx, tx, o, open); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit order update", err)
	}
	return o, nil
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

// transition locks the order, checks the move, lets mutate stage further
// changes, and commits everything together.
func (s *orderService) transition(ctx context.Context, orderID int, to OrderStatus, mutate func(tx pgx.Tx, o *Order) error) (*Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(o.ID, o.Status, to); err != nil {
		return nil, err
	}
	o.Status = to
	if mutate != nil {
		if err := mutate(tx, o); err != nil {
			return nil, err
		}
	}
	if err := saveOrderTx(ctx, tx, o); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr(fmt.Sprintf("commit order %d transition to %s", orderID, to), err)
	}
	return o, nil
}

func (s *orderService) Submit(ctx context.Context, orderID int) (*Order, error) {
	return s.transition(ctx, orderID, StatusPendingApproval, nil)
}

func (s *orderService) Approve(ctx context.Context, orderID int, approvedBy string) (*Order, error) {
	return s.transition(ctx, orderID, StatusApproved, func(tx pgx.Tx, o *Order) error {
		now := s.fc.now()
		o.ApprovedAt = &now
		if approvedBy != "" {
			o.AssignmentNotes = "Approved by " + approvedBy
		}
		if o.PaymentStatus == PaymentPaid {
			return nil
		}
		_, err := s.syncReceivableTx(ctx, tx, o, true)
		return err
	})
}

func (s *orderService) Reject(ctx context.Context, orderID int, reason string) (*Order, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, newValidationError("reason", "a rejection reason is required")
	}
	return s.transition(ctx, orderID, StatusRejected, func(tx pgx.Tx, o *Order) error {
		o.RejectionReason = strings.TrimSpace(reason)
		return removeOrderReceivablesTx(ctx, tx, o.ID, OutcomeRemoved, "order rejected", s.fc.now())
	})
}

func (s *orderService) MarkPaymentReceived(ctx context.Context, orderID int) (*Order, error) {
	assignee, err := s.financeAssignee(ctx)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, orderID, StatusPaymentReceived, func(tx pgx.Tx, o *Order) error {
		now := s.fc.now()
		o.PaymentReceivedAt = &now
		s.assignToFinance(o, assignee, "Payment received; assigned to finance for processing")
		return nil
	})
}

func (s *orderService) Complete(ctx context.Context, orderID int, final OrderStatus) (*Order, error) {
	if !final.Closed() {
		return nil, newValidationError("status", "an order can only be closed as completed or delivered, not %q", final)
	}
	return s.transition(ctx, orderID, final, func(tx pgx.Tx, o *Order) error {
		now := s.fc.now()
		o.ClosedAt = &now
		return nil
	})
}

func (s *orderService) Cancel(ctx context.Context, orderID int, reason string) (*Order, error) {
	return s.transition(ctx, orderID, StatusCancelled, func(tx pgx.Tx, o *Order) error {
		now := s.fc.now()
		o.ClosedAt = &now
		if reason != "" {
			o.AssignmentNotes = "Cancelled: " + reason
		}
		return removeOrderReceivablesTx(ctx, tx, o.ID, OutcomeRemoved, "order cancelled", now)
	})
}

func (s *orderService) HandBack(ctx context.Context, orderID int, note string) (*Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if o.AssignedTeam != financeTeam || o.OriginalAssignee == "" {
		return nil, newValidationError("assigned_team", "order %d is not held by finance on behalf of another assignee", o.ID)
	}
	o.AssignedTo = o.OriginalAssignee
	o.AssignedTeam = ""
	o.OriginalAssignee = ""
	o.AssignmentNotes = strings.TrimSpace("Handed back by finance. " + note)
	if err := saveOrderTx(ctx, tx, o); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit hand back", err)
	}
	return o, nil
}

// financeAssignee looks up the finance user before a transaction starts. A
// missing finance user is not fatal: the order keeps its current assignee.
func (s *orderService) financeAssignee(ctx context.Context) (*FinanceAssignee, error) {
	if s.fc.Finance == nil {
		return nil, nil
	}
	a, err := s.fc.Finance.CurrentFinanceAssignee(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.fc.Log.Warn().Err(err).Msg("no finance user available; order keeps its assignee")
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// assignToFinance hands o to the finance user, remembering who had it before.
func (s *orderService) assignToFinance(o *Order, a *FinanceAssignee, note string) string {
	if a == nil {
		o.AssignmentNotes = note + " (no finance user available)"
		return ""
	}
	if o.AssignedTeam != financeTeam && o.AssignedTo != "" && o.AssignedTo != a.Email {
		o.OriginalAssignee = o.AssignedTo
	}
	o.AssignedTo = a.Email
	o.AssignedTeam = financeTeam
	o.AssignmentNotes = note
	return a.Email
}

// ── Payment collection ───────────────────────────────────────────────────────

func (s *orderService) CollectPayment(ctx context.Context, sub PaymentSubmission) (*ConversionResult, error) {
	sub.IdempotencyKey = strings.TrimSpace(sub.IdempotencyKey)
	if sub.IdempotencyKey == "" {
		return nil, newValidationError("idempotency_key", "is required")
	}
	if sub.LeadID <= 0 {
		return nil, newValidationError("lead_id", "is required")
	}
	if sub.AmountPaid.IsNegative() {
		return nil, newValidationError("amount_paid", "must not be negative, got %s", sub.AmountPaid.String())
	}
	if sub.PaymentDate.IsZero() {
		sub.PaymentDate = s.fc.now()
	}
	leadID := sub.LeadID
	sub.Order.LeadID = &leadID
	sub.Order.Normalize()

	// Computed up front so a tax failure leaves every order untouched.
	fresh, err := buildOrder(sub.Order, s.fc.SellerState)
	if err != nil {
		return nil, err
	}
	assignee, err := s.financeAssignee(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var key string
	err = tx.QueryRow(ctx, `
		INSERT INTO payment_submissions (idempotency_key, lead_id, amount_paid, submitted_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING idempotency_key
	`, sub.IdempotencyKey, sub.LeadID, sub.AmountPaid, sub.SubmittedBy).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		tx.Rollback(ctx)
		return s.replayedSubmission(ctx, sub.IdempotencyKey)
	}
	if err != nil {
		return nil, storeErr("record payment submission", err)
	}

	existing, err := scanOrder(tx.QueryRow(ctx, orderSelect+`
		WHERE lead_id = $1 AND status NOT IN ('rejected', 'cancelled')
		ORDER BY id DESC LIMIT 1
		FOR UPDATE`, sub.LeadID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, storeErr("fetch order for lead", err)
	}

	res := &ConversionResult{}
	var o *Order
	switch {
	case existing != nil && existing.InvoiceType == InvoiceTax &&
		(existing.Status == StatusPaymentReceived || existing.Status.Closed()):
		// Converted by an earlier submission; this is a further payment.
		o = existing
		res.Applied = true

	case existing != nil:
		if err := checkTransition(existing.ID, existing.Status, StatusPaymentReceived); err != nil {
			return nil, err
		}
		o = existing
		if err := s.convertInPlace(ctx, tx, o, fresh, sub); err != nil {
			return nil, err
		}
		res.Converted = true

	default:
		o = fresh
		o.Status = StatusPaymentReceived
		o.InvoiceType = InvoiceTax
		o.OrderType = OrderTypeStandard
		if o.OrderNumber, err = s.fc.Numbers.NextTx(ctx, tx, SeriesOrder, sub.PaymentDate); err != nil {
			return nil, err
		}
		res.Created = true
	}

	if !res.Applied {
		now := s.fc.now()
		o.PaymentReceivedAt = &now
		res.FinanceAssignee = s.assignToFinance(o, assignee, "Payment collected; assigned to finance for processing")
	}

	if res.Created {
		o.AmountPaid = roundMoney(sub.AmountPaid)
		o.PaymentStatus = paymentStatusFor(o, s.fc.SettlementTolerance)
		if err := insertOrderTx(ctx, tx, o); err != nil {
			return nil, err
		}
		if _, err := s.openReceivableTx(ctx, tx, o); err != nil {
			return nil, err
		}
	} else {
		// Resize the receivable to the converted order before paying into it.
		rcv, err := s.syncReceivableTx(ctx, tx, o, false)
		if err != nil {
			return nil, err
		}
		switch {
		case rcv != nil && sub.AmountPaid.IsPositive():
			if rcv.Currency != fresh.PaymentCurrency {
				return nil, newValidationError("payment_currency",
					"receivable %d for %s is in %s, not %s", rcv.ID, o.OrderNumber, rcv.Currency, fresh.PaymentCurrency)
			}
			if res.Converted {
				if err := saveOrderTx(ctx, tx, o); err != nil {
					return nil, err
				}
			}
			// Paid in the receivable's currency at the payment-time rate; the
			// difference from its booking rate is the fx gain or loss.
			rate := rateOrPar(fresh.ExchangeRate)
			rec, err := reconcileTx(ctx, tx, s.fc, ReconcileRequest{
				Kind:       KindReceivable,
				ItemID:     rcv.ID,
				AmountPaid: sub.AmountPaid,
				Rate:       &rate,
				Resolution: sub.Resolution,
				PaidAt:     sub.PaymentDate,
				SettledBy:  sub.SubmittedBy,
			})
			if err != nil {
				return nil, err
			}
			res.Reconciliation = rec
			if o, err = lockOrderTx(ctx, tx, o.ID); err != nil {
				return nil, err
			}

		case res.Applied:
			return nil, &ReconciliationConflictError{
				Kind:        KindReceivable,
				Paid:        sub.AmountPaid,
				Tolerance:   s.fc.SettlementTolerance,
				Outstanding: decimal.Zero,
				Reason:      fmt.Sprintf("order %s is already converted and has no open receivable; reconcile payments against its receivables", o.OrderNumber),
			}

		default:
			if rcv == nil {
				o.AmountPaid = o.AmountPaid.Add(roundMoney(sub.AmountPaid))
				o.PaymentStatus = paymentStatusFor(o, s.fc.SettlementTolerance)
			}
			if err := saveOrderTx(ctx, tx, o); err != nil {
				return nil, err
			}
			if rcv == nil {
				if _, err := s.openReceivableTx(ctx, tx, o); err != nil {
					return nil, err
				}
			}
		}
	}

	if _, err := tx.Exec(ctx, "UPDATE payment_submissions SET order_id = $2 WHERE idempotency_key = $1", sub.IdempotencyKey, o.ID); err != nil {
		return nil, storeErr("link payment submission", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit payment collection", err)
	}
	res.Order = o
	return res, nil
}

// convertInPlace turns an existing order into a paid tax order. Payment-time
// party and tax fields replace the stored ones; a proforma gets a fresh order
// number and keeps its proforma identifiers for audit.
func (s *orderService) convertInPlace(ctx context.Context, tx pgx.Tx, o, fresh *Order, sub PaymentSubmission) error {
	o.ClientName = fresh.ClientName
	o.LegalName = fresh.LegalName
	o.GSTIN = fresh.GSTIN
	o.RegisteredAddress = fresh.RegisteredAddress
	o.IndianState = fresh.IndianState
	o.IsOutsideIndia = fresh.IsOutsideIndia
	o.CategoryOfSale = fresh.CategoryOfSale
	o.TypeOfSale = fresh.TypeOfSale
	o.CustomerType = fresh.CustomerType
	if fresh.EventName != "" {
		o.EventName = fresh.EventName
	}
	if fresh.EventDate != nil {
		o.EventDate = fresh.EventDate
	}
	if len(fresh.InvoiceItems) > 0 {
		o.InvoiceItems = fresh.InvoiceItems
	}
	o.PaymentCurrency = fresh.PaymentCurrency
	o.ExchangeRate = fresh.ExchangeRate
	o.applyBreakdown(fresh.Breakdown())

	if o.InvoiceType == InvoiceProforma {
		if o.ProformaOrderNumber == "" {
			o.ProformaOrderNumber = o.OrderNumber
		}
		if o.ProformaInvoiceNumber == "" {
			o.ProformaInvoiceNumber = o.InvoiceNumber
		}
		num, err := s.fc.Numbers.NextTx(ctx, tx, SeriesOrder, sub.PaymentDate)
		if err != nil {
			return err
		}
		o.OrderNumber = num
		o.InvoiceNumber = ""
	}
	if o.OrderType == OrderTypePaymentPostService {
		o.OriginalOrderType = OrderTypePaymentPostService
		o.OrderType = OrderTypeStandard
	}
	o.InvoiceType = InvoiceTax
	o.Status = StatusPaymentReceived
	o.ExpectedPaymentDate = nil
	return nil
}

// replayedSubmission returns the order an earlier submission with the same key produced.
func (s *orderService) replayedSubmission(ctx context.Context, key string) (*ConversionResult, error) {
	var orderID *int
	if err := s.pool.QueryRow(ctx, "SELECT order_id FROM payment_submissions WHERE idempotency_key = $1", key).Scan(&orderID); err != nil {
		return nil, storeErr("fetch payment submission", err)
	}
	if orderID == nil {
		return nil, &PersistenceError{Op: "replay payment submission", Err: fmt.Errorf("submission %s is still being processed", key)}
	}
	o, err := s.GetOrder(ctx, *orderID)
	if err != nil {
		return nil, err
	}
	return &ConversionResult{Order: o, Replayed: true}, nil
}

// paymentStatusFor derives the payment status from the amount paid so far.
func paymentStatusFor(o *Order, tolerance decimal.Decimal) PaymentStatus {
	paid := o.AmountPaid.Add(o.AdvanceAmount)
	switch {
	case !paid.IsPositive():
		return PaymentPending
	case paid.Add(tolerance).GreaterThanOrEqual(o.TotalAmount):
		return PaymentPaid
	}
	return PaymentPartial
}

// removeOrderReceivablesTx deletes an order's open receivables, logging each in
// the settlements audit table.
func removeOrderReceivablesTx(ctx context.Context, tx pgx.Tx, orderID int, outcome ReconcileOutcome, reason string, at time.Time) error {
	items, err := listOpenItems(ctx, tx, KindReceivable, OpenItemFilter{OrderID: &orderID}, true)
	if err != nil {
		return err
	}
	for _, it := range items {
		it.Notes = reason
		if err := deleteOpenItemTx(ctx, tx, it, outcome, "", at); err != nil {
			return err
		}
	}
	return nil
}
