package core

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// OpenItem is an unsettled receivable (owed to the business) or payable (owed
// by it). Settled and written-off items are deleted; the open set is the source
// of truth for dashboards.
//
// OriginalAmount and BalanceAmount are in Currency; Amount is the INR
// equivalent of the balance at the recording rate.
type OpenItem struct {
	ID           int      `json:"id"`
	Kind         ItemKind `json:"kind"`
	OrderID      *int     `json:"order_id,omitempty"`
	LeadID       *int     `json:"lead_id,omitempty"`
	InventoryID  *int     `json:"inventory_id,omitempty"`
	Counterparty string   `json:"counterparty"` // client_name or supplier_name
	Description  string   `json:"description,omitempty"`

	Currency       Currency        `json:"currency"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	Amount         decimal.Decimal `json:"amount"`
	BalanceAmount  decimal.Decimal `json:"balance_amount"`

	DueDate         *time.Time     `json:"due_date,omitempty"`
	AssignedTo      string         `json:"assigned_to,omitempty"`
	Status          PaymentStatus  `json:"status"`
	PaymentHistory  PaymentHistory `json:"payment_history"`
	LastPaymentDate *time.Time     `json:"last_payment_date,omitempty"`
	Notes           string         `json:"notes,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is the currency snapshot the item was recorded with.
func (i OpenItem) Snapshot() CurrencySnapshot {
	rate := rateOrPar(i.ExchangeRate)
	return CurrencySnapshot{
		Currency:       i.Currency,
		OriginalAmount: i.OriginalAmount,
		ExchangeRate:   rate,
		INREquivalent:  roundMoney(i.OriginalAmount.Mul(rate)),
	}
}

// Outstanding is the unpaid balance in the item's currency.
func (i OpenItem) Outstanding() decimal.Decimal {
	return i.BalanceAmount
}

// resizeBalance sets a new balance without a payment. OriginalAmount moves by
// the same delta, so Summarize(Snapshot(), PaymentHistory).Remaining keeps
// equal to the balance.
func (i *OpenItem) resizeBalance(balance decimal.Decimal) {
	i.OriginalAmount = i.OriginalAmount.Add(balance.Sub(i.BalanceAmount))
	i.BalanceAmount = balance
	i.Amount = roundMoney(balance.Mul(rateOrPar(i.ExchangeRate)))
}

// OutstandingINR is the unpaid balance at the recording rate; a missing rate counts as 1.
func (i OpenItem) OutstandingINR() decimal.Decimal {
	return roundMoney(i.BalanceAmount.Mul(rateOrPar(i.ExchangeRate)))
}

// DaysOverdue is the number of whole days past the due date, or 0.
func (i OpenItem) DaysOverdue(now time.Time) int {
	if i.DueDate == nil {
		return 0
	}
	due := time.Date(i.DueDate.Year(), i.DueDate.Month(), i.DueDate.Day(), 0, 0, 0, 0, time.UTC)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := today.Sub(due).Hours() / 24
	if days <= 0 {
		return 0
	}
	return int(math.Floor(days))
}

// Settlement routes for SettlementRoute.
const (
	RoutePaymentForm   = "payment_form"
	RouteInventoryEdit = "inventory_edit"
)

// SettlementRoute tells the UI where a settlement is entered: payables bought
// for inventory are paid through the inventory edit screen.
func (i OpenItem) SettlementRoute() string {
	if i.Kind == KindPayable && i.InventoryID != nil {
		return RouteInventoryEdit
	}
	return RoutePaymentForm
}

// OpenItemInput creates a receivable or payable.
type OpenItemInput struct {
	Kind           ItemKind
	OrderID        *int
	LeadID         *int
	InventoryID    *int
	Counterparty   string
	Description    string
	Currency       string
	OriginalAmount decimal.Decimal
	ExchangeRate   decimal.Decimal
	DueDate        *time.Time
	AssignedTo     string
	Notes          string
}

// OpenItemPatch edits an open item. The balance may only go down; increases
// need a new item. Lowering the balance lowers OriginalAmount by the same
// amount and records no payment.
type OpenItemPatch struct {
	ExpectedVersion *int
	DueDate         *time.Time
	AssignedTo      *string
	Notes           *string
	BalanceAmount   *decimal.Decimal
}

// OpenItemFilter narrows ListOpen. Zero values match everything.
type OpenItemFilter struct {
	Status       PaymentStatus
	Counterparty string
	OrderID      *int
	InventoryID  *int
	OverdueOnly  bool
}

// Reminder is a payment reminder sent for a receivable.
type Reminder struct {
	ID           int       `json:"id"`
	ReceivableID int       `json:"receivable_id"`
	Channel      string    `json:"channel"`
	Note         string    `json:"note,omitempty"`
	SentBy       string    `json:"sent_by,omitempty"`
	SentAt       time.Time `json:"sent_at"`
}

// Settlement is the audit row left behind when an open item is removed.
type Settlement struct {
	ID        int              `json:"id"`
	Kind      ItemKind         `json:"kind"`
	ItemID    int              `json:"item_id"`
	OrderID   *int             `json:"order_id,omitempty"`
	Outcome   ReconcileOutcome `json:"outcome"`
	Item      OpenItem         `json:"item"`
	SettledAt time.Time        `json:"settled_at"`
	SettledBy string           `json:"settled_by,omitempty"`
}

// OpenItemService manages receivables and payables outside reconciliation.
type OpenItemService interface {
	Create(ctx context.Context, in OpenItemInput) (*OpenItem, error)
	Get(ctx context.Context, kind ItemKind, id int) (*OpenItem, error)
	ListOpen(ctx context.Context, kind ItemKind, f OpenItemFilter) ([]OpenItem, error)
	Update(ctx context.Context, kind ItemKind, id int, p OpenItemPatch) (*OpenItem, error)
	// Delete removes an item without a payment (e.g. raised in error). The item
	// is kept in the settlements audit log.
	Delete(ctx context.Context, kind ItemKind, id int, reason, by string) error
	RecordReminder(ctx context.Context, receivableID int, channel, note, by string) (*Reminder, error)
	ListReminders(ctx context.Context, receivableID int) ([]Reminder, error)
	ListSettlements(ctx context.Context, kind ItemKind) ([]Settlement, error)
}
