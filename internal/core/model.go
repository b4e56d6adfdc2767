package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an ISO currency code accepted by the engine. INR is the
// reconciliation currency; every other currency carries an exchange rate.
type Currency string

const (
	CurrencyINR Currency = "INR"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyAED Currency = "AED"
)

// SupportedCurrencies lists every currency the engine will record.
var SupportedCurrencies = []Currency{CurrencyINR, CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyAED}

// ParseCurrency normalises and validates a currency code. Empty input means INR.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if c == "" {
		return CurrencyINR, nil
	}
	if !c.Valid() {
		return "", newValidationError("currency", "unsupported currency %q", s)
	}
	return c, nil
}

func (c Currency) Valid() bool {
	switch c {
	case CurrencyINR, CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyAED:
		return true
	}
	return false
}

func (c Currency) IsINR() bool { return c == CurrencyINR }

// SaleType classifies what was sold; it selects the default GST rate.
type SaleType string

const (
	SaleTypeTour          SaleType = "Tour"
	SaleTypeHotel         SaleType = "Hotel"
	SaleTypeTravelTickets SaleType = "Travel Tickets"
	SaleTypeServiceFee    SaleType = "Service Fee"
)

func ParseSaleType(s string) (SaleType, error) {
	t := strings.TrimSpace(s)
	for _, st := range []SaleType{SaleTypeTour, SaleTypeHotel, SaleTypeTravelTickets, SaleTypeServiceFee} {
		if strings.EqualFold(t, string(st)) {
			return st, nil
		}
	}
	// "Service" was used interchangeably with "Service Fee" on older orders.
	if strings.EqualFold(t, "Service") {
		return SaleTypeServiceFee, nil
	}
	return "", newValidationError("type_of_sale", "unknown sale type %q", s)
}

// DefaultGSTRate returns the GST percentage applied when no explicit rate is given.
func (t SaleType) DefaultGSTRate() decimal.Decimal {
	switch t {
	case SaleTypeServiceFee:
		return decimal.NewFromInt(18)
	case SaleTypeTour, SaleTypeHotel, SaleTypeTravelTickets:
		return decimal.NewFromInt(5)
	}
	panic("core: unhandled sale type " + string(t))
}

func (t SaleType) Valid() bool {
	switch t {
	case SaleTypeTour, SaleTypeHotel, SaleTypeTravelTickets, SaleTypeServiceFee:
		return true
	}
	return false
}

// SaleCategory distinguishes retail (B2C) from corporate (B2B) sales.
type SaleCategory string

const (
	SaleCategoryRetail    SaleCategory = "Retail"
	SaleCategoryCorporate SaleCategory = "Corporate"
)

func ParseSaleCategory(s string) (SaleCategory, error) {
	switch {
	case strings.EqualFold(strings.TrimSpace(s), string(SaleCategoryRetail)):
		return SaleCategoryRetail, nil
	case strings.EqualFold(strings.TrimSpace(s), string(SaleCategoryCorporate)):
		return SaleCategoryCorporate, nil
	}
	return "", newValidationError("category_of_sale", "unknown sale category %q", s)
}

// CustomerType is the residency of the paying customer.
type CustomerType string

const (
	CustomerIndian    CustomerType = "indian"
	CustomerNRI       CustomerType = "nri"
	CustomerForeigner CustomerType = "foreigner"
)

// ParseCustomerType accepts an empty value as an Indian customer.
func ParseCustomerType(s string) (CustomerType, error) {
	switch CustomerType(strings.ToLower(strings.TrimSpace(s))) {
	case "", CustomerIndian:
		return CustomerIndian, nil
	case CustomerNRI:
		return CustomerNRI, nil
	case CustomerForeigner:
		return CustomerForeigner, nil
	}
	return "", newValidationError("customer_type", "unknown customer type %q", s)
}

// InvoiceType is proforma until real payment converts the order to a tax invoice.
type InvoiceType string

const (
	InvoiceProforma InvoiceType = "proforma"
	InvoiceTax      InvoiceType = "tax"
)

// OrderType marks orders raised before payment ("payment post service").
type OrderType string

const (
	OrderTypeStandard           OrderType = "standard"
	OrderTypePaymentPostService OrderType = "payment_post_service"
)

// PaymentStatus tracks how much of an order or open item has been paid.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// ItemKind distinguishes money owed to the business from money it owes.
type ItemKind string

const (
	KindReceivable ItemKind = "receivable"
	KindPayable    ItemKind = "payable"
)

func ParseItemKind(s string) (ItemKind, error) {
	switch ItemKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindReceivable, "receivables":
		return KindReceivable, nil
	case KindPayable, "payables":
		return KindPayable, nil
	}
	return "", newValidationError("kind", "unknown open item kind %q", s)
}

// table returns the backing table for the kind.
func (k ItemKind) table() string {
	switch k {
	case KindReceivable:
		return "receivables"
	case KindPayable:
		return "payables"
	}
	panic("core: unhandled item kind " + string(k))
}

// FxType classifies a realised exchange difference from the business's side.
type FxType string

const (
	FxGain FxType = "gain"
	FxLoss FxType = "loss"
)

// Resolution is the finance user's decision for a partial payment.
type Resolution string

const (
	ResolutionNone         Resolution = ""
	ResolutionCarryForward Resolution = "carry_forward"
	ResolutionWriteOff     Resolution = "write_off"
)

func ParseResolution(s string) (Resolution, error) {
	switch Resolution(strings.ToLower(strings.TrimSpace(s))) {
	case ResolutionNone:
		return ResolutionNone, nil
	case ResolutionCarryForward, "carry-forward", "carry":
		return ResolutionCarryForward, nil
	case ResolutionWriteOff, "write-off", "writeoff":
		return ResolutionWriteOff, nil
	}
	return "", newValidationError("resolution", "unknown resolution %q (want carry_forward or write_off)", s)
}

var hundred = decimal.NewFromInt(100)

// roundMoney rounds to paise.
func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// rateOrPar treats a missing or zero exchange rate as 1.0.
func rateOrPar(rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() || rate.IsNegative() {
		return decimal.NewFromInt(1)
	}
	return rate
}
