package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceItem is one billable line on an order.
type InvoiceItem struct {
	Description    string          `json:"description"`
	AdditionalInfo string          `json:"additional_info,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	Rate           decimal.Decimal `json:"rate"`
}

// Amount is quantity × rate, rounded to paise.
func (i InvoiceItem) Amount() decimal.Decimal {
	return roundMoney(i.Quantity.Mul(i.Rate))
}

// Order is the central financial record. Amounts are in PaymentCurrency;
// ExchangeRate converts them to INR.
//
// Status moves through the lifecycle state machine:
//
//	new → pending_approval → approved | rejected
//	approved → payment_received → completed | delivered
//	any status → cancelled
type Order struct {
	ID          int    `json:"id"`
	OrderNumber string `json:"order_number"`
	LeadID      *int   `json:"lead_id,omitempty"`
	ClientName  string `json:"client_name"`

	// Party
	LegalName         string       `json:"legal_name"`
	GSTIN             string       `json:"gstin"`
	RegisteredAddress string       `json:"registered_address"`
	IndianState       string       `json:"indian_state"`
	IsOutsideIndia    bool         `json:"is_outside_india"`
	CategoryOfSale    SaleCategory `json:"category_of_sale"`
	TypeOfSale        SaleType     `json:"type_of_sale"`
	CustomerType      CustomerType `json:"customer_type"`

	// Event
	EventName string     `json:"event_name"`
	EventDate *time.Time `json:"event_date,omitempty"`

	// Commercial
	InvoiceItems     []InvoiceItem    `json:"invoice_items"`
	BaseAmount       decimal.Decimal  `json:"base_amount"`
	GSTCalculation   GSTBreakdown     `json:"gst_calculation"`
	TCSCalculation   TCSBreakdown     `json:"tcs_calculation"`
	TotalTax         decimal.Decimal  `json:"total_tax"`
	FinalAmount      decimal.Decimal  `json:"final_amount"`
	TotalAmount      decimal.Decimal  `json:"total_amount"`
	OriginalAmount   *decimal.Decimal `json:"original_amount,omitempty"`
	AmountAdjusted   bool             `json:"amount_adjusted"`
	AdjustmentReason string           `json:"adjustment_reason,omitempty"`
	PaymentCurrency  Currency         `json:"payment_currency"`
	ExchangeRate     decimal.Decimal  `json:"exchange_rate"`
	AdvanceAmount    decimal.Decimal  `json:"advance_amount"`
	AmountPaid       decimal.Decimal  `json:"amount_paid"`

	// Lifecycle
	Status                OrderStatus   `json:"status"`
	PaymentStatus         PaymentStatus `json:"payment_status"`
	InvoiceType           InvoiceType   `json:"invoice_type"`
	OrderType             OrderType     `json:"order_type"`
	OriginalOrderType     OrderType     `json:"original_order_type,omitempty"`
	InvoiceNumber         string        `json:"invoice_number,omitempty"`
	ProformaOrderNumber   string        `json:"proforma_order_number,omitempty"`
	ProformaInvoiceNumber string        `json:"proforma_invoice_number,omitempty"`
	ExpectedPaymentDate   *time.Time    `json:"expected_payment_date,omitempty"`
	RejectionReason       string        `json:"rejection_reason,omitempty"`

	// Assignment
	AssignedTo       string `json:"assigned_to"`
	AssignedTeam     string `json:"assigned_team"`
	OriginalAssignee string `json:"original_assignee,omitempty"`
	AssignmentNotes  string `json:"assignment_notes,omitempty"`

	Version           int        `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	PaymentReceivedAt *time.Time `json:"payment_received_at,omitempty"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
}

// TaxContext rebuilds the tax inputs stored on the order.
func (o *Order) TaxContext(sellerState string) TaxContext {
	c := TaxContext{
		SellerState:       sellerState,
		CounterpartyState: o.IndianState,
		IsOutsideIndia:    o.IsOutsideIndia,
		SaleType:          o.TypeOfSale,
		TCSApplicable:     o.TCSCalculation.Applicable,
		TCSRate:           o.TCSCalculation.Rate,
		CustomerType:      o.CustomerType,
		PaymentCurrency:   o.PaymentCurrency,
	}
	if o.GSTCalculation.Applicable {
		r := o.GSTCalculation.Rate
		c.GSTRate = &r
	}
	return c
}

// Breakdown returns the stored tax snapshot.
func (o *Order) Breakdown() TaxBreakdown {
	return TaxBreakdown{
		BaseAmount:  o.BaseAmount,
		GST:         o.GSTCalculation,
		TCS:         o.TCSCalculation,
		TotalTax:    o.TotalTax,
		FinalAmount: o.FinalAmount,
	}
}

// applyBreakdown writes a freshly computed snapshot onto the order.
func (o *Order) applyBreakdown(b TaxBreakdown) {
	o.BaseAmount = b.BaseAmount
	o.GSTCalculation = b.GST
	o.TCSCalculation = b.TCS
	o.TotalTax = b.TotalTax
	o.FinalAmount = b.FinalAmount
	if !o.AmountAdjusted {
		o.TotalAmount = b.FinalAmount
	}
}

// FinalAmountINR converts the final amount to INR; a missing rate counts as 1.
func (o *Order) FinalAmountINR() decimal.Decimal {
	return roundMoney(o.FinalAmount.Mul(rateOrPar(o.ExchangeRate)))
}

// Unpaid is what is left to collect in the order currency: total − advance − paid.
func (o *Order) Unpaid() decimal.Decimal {
	total := o.TotalAmount
	if total.IsZero() {
		total = o.FinalAmount
	}
	return roundMoney(total.Sub(o.AdvanceAmount).Sub(o.AmountPaid))
}

// Snapshot is the currency snapshot of the order total.
func (o *Order) Snapshot() CurrencySnapshot {
	rate := rateOrPar(o.ExchangeRate)
	return CurrencySnapshot{
		Currency:       o.PaymentCurrency,
		OriginalAmount: o.FinalAmount,
		ExchangeRate:   rate,
		INREquivalent:  roundMoney(o.FinalAmount.Mul(rate)),
	}
}

// OrderInput is the data needed to create an order.
type OrderInput struct {
	LeadID              *int
	ClientName          string
	LegalName           string
	GSTIN               string
	RegisteredAddress   string
	IndianState         string
	IsOutsideIndia      bool
	CategoryOfSale      string
	TypeOfSale          string
	CustomerType        string
	EventName           string
	EventDate           *time.Time
	InvoiceItems        []InvoiceItem
	BaseAmount          decimal.Decimal
	GSTRate             *decimal.Decimal
	TCSApplicable       *bool // nil applies TCSApplicableFor
	TCSRate             decimal.Decimal
	PaymentCurrency     string
	ExchangeRate        decimal.Decimal
	AdvanceAmount       decimal.Decimal
	ExpectedPaymentDate *time.Time
	AssignedTo          string
	AssignedTeam        string
}

// OrderPatch is a partial update; nil fields are left unchanged.
type OrderPatch struct {
	ExpectedVersion     *int
	ClientName          *string
	LegalName           *string
	GSTIN               *string
	RegisteredAddress   *string
	IndianState         *string
	IsOutsideIndia      *bool
	CategoryOfSale      *string
	TypeOfSale          *string
	CustomerType        *string
	EventName           *string
	EventDate           *time.Time
	InvoiceItems        *[]InvoiceItem
	BaseAmount          *decimal.Decimal
	GSTRate             *decimal.Decimal
	TCSApplicable       *bool
	TCSRate             *decimal.Decimal
	PaymentCurrency     *string
	ExchangeRate        *decimal.Decimal
	AdvanceAmount       *decimal.Decimal
	ExpectedPaymentDate *time.Time
	AssignedTo          *string
	AssignedTeam        *string
}

// OrderFilter narrows ListOrders. Zero values match everything.
type OrderFilter struct {
	Status      OrderStatus
	InvoiceType InvoiceType
	LeadID      *int
	AssignedTo  string
	Limit       int
}

// PaymentSubmission is a payment collected against a lead, possibly converting
// its proforma order into a tax invoice.
type PaymentSubmission struct {
	IdempotencyKey string
	LeadID         int
	Order          OrderInput // payment-time GST/legal fields override the existing order's
	AmountPaid     decimal.Decimal
	PaymentDate    time.Time
	SubmittedBy    string
	// Resolution applies when the payment leaves part of an open receivable unpaid.
	Resolution Resolution
}

// ConversionResult describes what CollectPayment did.
type ConversionResult struct {
	Order           *Order           `json:"order"`
	Converted       bool             `json:"converted"` // an existing order was converted in place
	Created         bool             `json:"created"`   // a new order was created
	Replayed        bool             `json:"replayed"`  // the submission had already been applied
	Applied         bool             `json:"applied"`   // a further payment on an already converted order
	Reconciliation  *ReconcileResult `json:"reconciliation,omitempty"`
	FinanceAssignee string           `json:"finance_assignee,omitempty"`
}
