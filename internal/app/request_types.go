package app

import (
	"strings"
	"time"

	"crm-finance/internal/core"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// OrderRequest is the input for creating an order, a proforma, or previewing tax.
// Dates are YYYY-MM-DD.
type OrderRequest struct {
	LeadID              *int               `json:"lead_id,omitempty" jsonschema:"description=CRM lead the order belongs to; required for proformas"`
	ClientName          string             `json:"client_name,omitempty"`
	LegalName           string             `json:"legal_name"`
	GSTIN               string             `json:"gstin,omitempty"`
	RegisteredAddress   string             `json:"registered_address,omitempty"`
	IndianState         string             `json:"indian_state,omitempty"`
	IsOutsideIndia      bool               `json:"is_outside_india,omitempty"`
	CategoryOfSale      string             `json:"category_of_sale" jsonschema:"enum=Retail,enum=Corporate"`
	TypeOfSale          string             `json:"type_of_sale" jsonschema:"enum=Tour,enum=Hotel,enum=Travel Tickets,enum=Service Fee"`
	CustomerType        string             `json:"customer_type,omitempty" jsonschema:"enum=indian,enum=nri,enum=foreigner"`
	EventName           string             `json:"event_name,omitempty"`
	EventDate           string             `json:"event_date,omitempty" jsonschema:"format=date"`
	InvoiceItems        []core.InvoiceItem `json:"invoice_items,omitempty"`
	BaseAmount          decimal.Decimal    `json:"base_amount" jsonschema:"description=Pre-tax amount; derived from invoice_items when they are given"`
	GSTRate             *decimal.Decimal   `json:"gst_rate,omitempty" jsonschema:"description=Percent; defaults by type_of_sale"`
	TCSApplicable       *bool              `json:"tcs_applicable,omitempty"`
	TCSRate             decimal.Decimal    `json:"tcs_rate,omitempty"`
	PaymentCurrency     string             `json:"payment_currency,omitempty" jsonschema:"enum=INR,enum=USD,enum=EUR,enum=GBP,enum=AED"`
	ExchangeRate        decimal.Decimal    `json:"exchange_rate,omitempty" jsonschema:"description=INR per unit of payment_currency"`
	AdvanceAmount       decimal.Decimal    `json:"advance_amount,omitempty"`
	ExpectedPaymentDate string             `json:"expected_payment_date,omitempty" jsonschema:"format=date"`
	AssignedTo          string             `json:"assigned_to,omitempty"`
	AssignedTeam        string             `json:"assigned_team,omitempty"`
}

func (r OrderRequest) toInput() (core.OrderInput, error) {
	eventDate, err := parseOptionalDate("event_date", r.EventDate)
	if err != nil {
		return core.OrderInput{}, err
	}
	expected, err := parseOptionalDate("expected_payment_date", r.ExpectedPaymentDate)
	if err != nil {
		return core.OrderInput{}, err
	}
	return core.OrderInput{
		LeadID:              r.LeadID,
		ClientName:          r.ClientName,
		LegalName:           r.LegalName,
		GSTIN:               r.GSTIN,
		RegisteredAddress:   r.RegisteredAddress,
		IndianState:         r.IndianState,
		IsOutsideIndia:      r.IsOutsideIndia,
		CategoryOfSale:      r.CategoryOfSale,
		TypeOfSale:          r.TypeOfSale,
		CustomerType:        r.CustomerType,
		EventName:           r.EventName,
		EventDate:           eventDate,
		InvoiceItems:        r.InvoiceItems,
		BaseAmount:          r.BaseAmount,
		GSTRate:             r.GSTRate,
		TCSApplicable:       r.TCSApplicable,
		TCSRate:             r.TCSRate,
		PaymentCurrency:     r.PaymentCurrency,
		ExchangeRate:        r.ExchangeRate,
		AdvanceAmount:       r.AdvanceAmount,
		ExpectedPaymentDate: expected,
		AssignedTo:          r.AssignedTo,
		AssignedTeam:        r.AssignedTeam,
	}, nil
}

// OrderPatchRequest is a partial order update. Omitted fields are unchanged.
type OrderPatchRequest struct {
	ExpectedVersion     *int                `json:"expected_version,omitempty"`
	ClientName          *string             `json:"client_name,omitempty"`
	LegalName           *string             `json:"legal_name,omitempty"`
	GSTIN               *string             `json:"gstin,omitempty"`
	RegisteredAddress   *string             `json:"registered_address,omitempty"`
	IndianState         *string             `json:"indian_state,omitempty"`
	IsOutsideIndia      *bool               `json:"is_outside_india,omitempty"`
	CategoryOfSale      *string             `json:"category_of_sale,omitempty"`
	TypeOfSale          *string             `json:"type_of_sale,omitempty"`
	CustomerType        *string             `json:"customer_type,omitempty"`
	EventName           *string             `json:"event_name,omitempty"`
	EventDate           *string             `json:"event_date,omitempty" jsonschema:"format=date"`
	InvoiceItems        *[]core.InvoiceItem `json:"invoice_items,omitempty"`
	BaseAmount          *decimal.Decimal    `json:"base_amount,omitempty"`
	GSTRate             *decimal.Decimal    `json:"gst_rate,omitempty"`
	TCSApplicable       *bool               `json:"tcs_applicable,omitempty"`
	TCSRate             *decimal.Decimal    `json:"tcs_rate,omitempty"`
	PaymentCurrency     *string             `json:"payment_currency,omitempty"`
	ExchangeRate        *decimal.Decimal    `json:"exchange_rate,omitempty"`
	AdvanceAmount       *decimal.Decimal    `json:"advance_amount,omitempty"`
	ExpectedPaymentDate *string             `json:"expected_payment_date,omitempty" jsonschema:"format=date"`
	AssignedTo          *string             `json:"assigned_to,omitempty"`
	AssignedTeam        *string             `json:"assigned_team,omitempty"`
}

func (r OrderPatchRequest) toPatch() (core.OrderPatch, error) {
	p := core.OrderPatch{
		ExpectedVersion:   r.ExpectedVersion,
		ClientName:        r.ClientName,
		LegalName:         r.LegalName,
		GSTIN:             r.GSTIN,
		RegisteredAddress: r.RegisteredAddress,
		IndianState:       r.IndianState,
		IsOutsideIndia:    r.IsOutsideIndia,
		CategoryOfSale:    r.CategoryOfSale,
		TypeOfSale:        r.TypeOfSale,
		CustomerType:      r.CustomerType,
		EventName:         r.EventName,
		InvoiceItems:      r.InvoiceItems,
		BaseAmount:        r.BaseAmount,
		GSTRate:           r.GSTRate,
		TCSApplicable:     r.TCSApplicable,
		TCSRate:           r.TCSRate,
		PaymentCurrency:   r.PaymentCurrency,
		ExchangeRate:      r.ExchangeRate,
		AdvanceAmount:     r.AdvanceAmount,
		AssignedTo:        r.AssignedTo,
		AssignedTeam:      r.AssignedTeam,
	}
	var err error
	if r.EventDate != nil {
		if p.EventDate, err = parseDate("event_date", *r.EventDate); err != nil {
			return p, err
		}
	}
	if r.ExpectedPaymentDate != nil {
		if p.ExpectedPaymentDate, err = parseDate("expected_payment_date", *r.ExpectedPaymentDate); err != nil {
			return p, err
		}
	}
	return p, nil
}

// OrderListRequest narrows ListOrders.
type OrderListRequest struct {
	Status      string `json:"status,omitempty"`
	InvoiceType string `json:"invoice_type,omitempty" jsonschema:"enum=proforma,enum=tax"`
	LeadID      *int   `json:"lead_id,omitempty"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// TransitionRequest moves an order through its lifecycle.
type TransitionRequest struct {
	Action string `json:"action" jsonschema:"enum=submit,enum=approve,enum=reject,enum=payment_received,enum=complete,enum=deliver,enum=cancel"`
	Reason string `json:"reason,omitempty" jsonschema:"description=Required for reject"`
	By     string `json:"by,omitempty"`
}

// PaymentRequest is a payment collected against a lead.
type PaymentRequest struct {
	IdempotencyKey string          `json:"idempotency_key" jsonschema:"minLength=1"`
	LeadID         int             `json:"lead_id"`
	Order          OrderRequest    `json:"order" jsonschema:"description=Payment-time party and GST details; they override the existing order's"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	PaymentDate    string          `json:"payment_date,omitempty" jsonschema:"format=date"`
	SubmittedBy    string          `json:"submitted_by,omitempty"`
	Resolution     string          `json:"resolution,omitempty" jsonschema:"enum=,enum=carry_forward,enum=write_off"`
}

// OpenItemRequest creates a receivable or payable.
type OpenItemRequest struct {
	Kind           string          `json:"kind" jsonschema:"enum=receivable,enum=payable"`
	OrderID        *int            `json:"order_id,omitempty"`
	LeadID         *int            `json:"lead_id,omitempty"`
	InventoryID    *int            `json:"inventory_id,omitempty"`
	Counterparty   string          `json:"counterparty" jsonschema:"description=Client name for receivables; supplier name for payables"`
	Description    string          `json:"description,omitempty"`
	Currency       string          `json:"currency,omitempty"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate,omitempty"`
	DueDate        string          `json:"due_date,omitempty" jsonschema:"format=date"`
	AssignedTo     string          `json:"assigned_to,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

// OpenItemPatchRequest edits an open item.
type OpenItemPatchRequest struct {
	ExpectedVersion *int             `json:"expected_version,omitempty"`
	DueDate         *string          `json:"due_date,omitempty" jsonschema:"format=date"`
	AssignedTo      *string          `json:"assigned_to,omitempty"`
	Notes           *string          `json:"notes,omitempty"`
	BalanceAmount   *decimal.Decimal `json:"balance_amount,omitempty"`
}

// OpenItemListRequest narrows ListOpenItems.
type OpenItemListRequest struct {
	Status       string `json:"status,omitempty"`
	Counterparty string `json:"counterparty,omitempty"`
	OrderID      *int   `json:"order_id,omitempty"`
	InventoryID  *int   `json:"inventory_id,omitempty"`
	OverdueOnly  bool   `json:"overdue_only,omitempty"`
}

// ReconcileRequest is a payment against an open item, in the item's currency.
type ReconcileRequest struct {
	AmountPaid      decimal.Decimal  `json:"amount_paid"`
	Rate            *decimal.Decimal `json:"rate,omitempty" jsonschema:"description=Confirmed INR rate; omitted falls back to the last known rate"`
	Resolution      string           `json:"resolution,omitempty" jsonschema:"enum=,enum=carry_forward,enum=write_off"`
	PaidAt          string           `json:"paid_at,omitempty" jsonschema:"format=date"`
	Reason          string           `json:"reason,omitempty"`
	SettledBy       string           `json:"settled_by,omitempty"`
	ExpectedVersion *int             `json:"expected_version,omitempty"`
}

// ReminderRequest logs a payment reminder.
type ReminderRequest struct {
	Channel string `json:"channel,omitempty" jsonschema:"enum=email,enum=phone,enum=whatsapp"`
	Note    string `json:"note,omitempty"`
	SentBy  string `json:"sent_by,omitempty"`
}

// RatesRequest replaces the INR reference rates. Keys are currency codes.
type RatesRequest struct {
	Rates map[string]decimal.Decimal `json:"rates"`
}

// ── Parsing helpers ──────────────────────────────────────────────────────────

func parseDate(field, s string) (*time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return nil, &core.ValidationError{Field: field, Message: "expected YYYY-MM-DD, got " + s}
	}
	return &t, nil
}

func parseOptionalDate(field, s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return parseDate(field, s)
}
