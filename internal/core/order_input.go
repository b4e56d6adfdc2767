package core

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var gstinPattern = regexp.MustCompile(`^[0-9]{2}[A-Z0-9]{13}$`)

// Normalize trims free text and canonicalises codes in place.
func (in *OrderInput) Normalize() {
	in.ClientName = strings.TrimSpace(in.ClientName)
	in.LegalName = strings.TrimSpace(in.LegalName)
	in.GSTIN = strings.ToUpper(strings.TrimSpace(in.GSTIN))
	in.RegisteredAddress = strings.TrimSpace(in.RegisteredAddress)
	in.IndianState = strings.TrimSpace(in.IndianState)
	in.EventName = strings.TrimSpace(in.EventName)
	in.PaymentCurrency = strings.ToUpper(strings.TrimSpace(in.PaymentCurrency))
	in.AssignedTo = strings.TrimSpace(in.AssignedTo)
	in.AssignedTeam = strings.TrimSpace(in.AssignedTeam)
	if in.LegalName == "" {
		in.LegalName = in.ClientName
	}
	if in.ClientName == "" {
		in.ClientName = in.LegalName
	}
	for i := range in.InvoiceItems {
		in.InvoiceItems[i].Description = strings.TrimSpace(in.InvoiceItems[i].Description)
		in.InvoiceItems[i].AdditionalInfo = strings.TrimSpace(in.InvoiceItems[i].AdditionalInfo)
	}
	if in.BaseAmount.IsZero() && len(in.InvoiceItems) > 0 {
		in.BaseAmount = itemsTotal(in.InvoiceItems)
	}
}

// Validate checks the input without touching any state. Call Normalize first.
func (in OrderInput) Validate() error {
	if in.LegalName == "" {
		return newValidationError("legal_name", "is required")
	}
	if in.GSTIN != "" && !gstinPattern.MatchString(in.GSTIN) {
		return newValidationError("gstin", "%q is not a 15 character GSTIN", in.GSTIN)
	}
	if _, err := ParseSaleType(in.TypeOfSale); err != nil {
		return err
	}
	if _, err := ParseSaleCategory(in.CategoryOfSale); err != nil {
		return err
	}
	if _, err := ParseCustomerType(in.CustomerType); err != nil {
		return err
	}
	cur, err := ParseCurrency(in.PaymentCurrency)
	if err != nil {
		return err
	}
	if in.BaseAmount.IsNegative() {
		return newValidationError("base_amount", "must not be negative, got %s", in.BaseAmount.String())
	}
	if in.BaseAmount.IsZero() {
		return newValidationError("base_amount", "is required")
	}
	if in.AdvanceAmount.IsNegative() {
		return newValidationError("advance_amount", "must not be negative, got %s", in.AdvanceAmount.String())
	}
	if !cur.IsINR() && !in.ExchangeRate.IsPositive() {
		return newValidationError("exchange_rate", "a positive rate is required for %s", cur)
	}
	if !in.IsOutsideIndia && in.IndianState == "" {
		return newValidationError("indian_state", "is required for sales within India")
	}
	return validateItems(in.InvoiceItems)
}

func validateItems(items []InvoiceItem) error {
	for i, it := range items {
		if it.Description == "" {
			return newValidationError("invoice_items", "line %d has no description", i+1)
		}
		if !it.Quantity.IsPositive() {
			return newValidationError("invoice_items", "line %d quantity must be positive", i+1)
		}
		if it.Rate.IsNegative() {
			return newValidationError("invoice_items", "line %d rate must not be negative", i+1)
		}
	}
	return nil
}

func itemsTotal(items []InvoiceItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount())
	}
	return total
}

// buildOrder turns validated input into an unsaved order with its tax snapshot.
func buildOrder(in OrderInput, sellerState string) (*Order, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	saleType, _ := ParseSaleType(in.TypeOfSale)
	category, _ := ParseSaleCategory(in.CategoryOfSale)
	customer, _ := ParseCustomerType(in.CustomerType)
	cur, _ := ParseCurrency(in.PaymentCurrency)

	rate := in.ExchangeRate
	if cur.IsINR() {
		rate = decimal.NewFromInt(1)
	}

	o := &Order{
		LeadID:              in.LeadID,
		ClientName:          in.ClientName,
		LegalName:           in.LegalName,
		GSTIN:               in.GSTIN,
		RegisteredAddress:   in.RegisteredAddress,
		IndianState:         in.IndianState,
		IsOutsideIndia:      in.IsOutsideIndia,
		CategoryOfSale:      category,
		TypeOfSale:          saleType,
		CustomerType:        customer,
		EventName:           in.EventName,
		EventDate:           in.EventDate,
		InvoiceItems:        append([]InvoiceItem(nil), in.InvoiceItems...),
		PaymentCurrency:     cur,
		ExchangeRate:        rate,
		AdvanceAmount:       roundMoney(in.AdvanceAmount),
		ExpectedPaymentDate: in.ExpectedPaymentDate,
		AssignedTo:          in.AssignedTo,
		AssignedTeam:        in.AssignedTeam,
		PaymentStatus:       PaymentPending,
	}

	tcs := TCSApplicableFor(category, customer, in.IsOutsideIndia, cur)
	if in.TCSApplicable != nil {
		tcs = *in.TCSApplicable
	}
	ctx := o.TaxContext(sellerState)
	ctx.GSTRate = in.GSTRate
	ctx.TCSApplicable = tcs
	ctx.TCSRate = in.TCSRate

	b, err := ComputeTax(in.BaseAmount, ctx)
	if err != nil {
		return nil, err
	}
	o.applyBreakdown(b)
	return o, nil
}

// applyPatch merges p into o and re-derives the tax snapshot when any input to
// it changed. o is only modified when the merged result is valid.
func (o *Order) applyPatch(p OrderPatch, sellerState string) error {
	next := *o
	next.InvoiceItems = append([]InvoiceItem(nil), o.InvoiceItems...)
	retax := false

	setStr := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	setStr(&next.ClientName, p.ClientName)
	setStr(&next.LegalName, p.LegalName)
	setStr(&next.RegisteredAddress, p.RegisteredAddress)
	setStr(&next.EventName, p.EventName)
	setStr(&next.AssignedTo, p.AssignedTo)
	setStr(&next.AssignedTeam, p.AssignedTeam)
	if p.GSTIN != nil {
		next.GSTIN = strings.ToUpper(strings.TrimSpace(*p.GSTIN))
		if next.GSTIN != "" && !gstinPattern.MatchString(next.GSTIN) {
			return newValidationError("gstin", "%q is not a 15 character GSTIN", next.GSTIN)
		}
	}
	if p.EventDate != nil {
		next.EventDate = p.EventDate
	}
	if p.ExpectedPaymentDate != nil {
		next.ExpectedPaymentDate = p.ExpectedPaymentDate
	}
	if p.IndianState != nil {
		next.IndianState = strings.TrimSpace(*p.IndianState)
		retax = true
	}
	if p.IsOutsideIndia != nil {
		next.IsOutsideIndia = *p.IsOutsideIndia
		retax = true
	}
	if p.TypeOfSale != nil {
		st, err := ParseSaleType(*p.TypeOfSale)
		if err != nil {
			return err
		}
		next.TypeOfSale = st
		retax = true
	}
	if p.CategoryOfSale != nil {
		c, err := ParseSaleCategory(*p.CategoryOfSale)
		if err != nil {
			return err
		}
		next.CategoryOfSale = c
	}
	if p.CustomerType != nil {
		c, err := ParseCustomerType(*p.CustomerType)
		if err != nil {
			return err
		}
		next.CustomerType = c
		retax = true
	}
	if p.PaymentCurrency != nil {
		c, err := ParseCurrency(*p.PaymentCurrency)
		if err != nil {
			return err
		}
		next.PaymentCurrency = c
		retax = true
	}
	if p.ExchangeRate != nil {
		next.ExchangeRate = *p.ExchangeRate
	}
	if next.PaymentCurrency.IsINR() {
		next.ExchangeRate = decimal.NewFromInt(1)
	} else if !next.ExchangeRate.IsPositive() {
		return newValidationError("exchange_rate", "a positive rate is required for %s", next.PaymentCurrency)
	}
	if p.AdvanceAmount != nil {
		if p.AdvanceAmount.IsNegative() {
			return newValidationError("advance_amount", "must not be negative, got %s", p.AdvanceAmount.String())
		}
		next.AdvanceAmount = roundMoney(*p.AdvanceAmount)
	}
	if p.InvoiceItems != nil {
		if err := validateItems(*p.InvoiceItems); err != nil {
			return err
		}
		next.InvoiceItems = append([]InvoiceItem(nil), (*p.InvoiceItems)...)
		if p.BaseAmount == nil {
			next.BaseAmount = itemsTotal(next.InvoiceItems)
		}
		retax = true
	}
	if p.BaseAmount != nil {
		if !p.BaseAmount.IsPositive() {
			return newValidationError("base_amount", "must be positive, got %s", p.BaseAmount.String())
		}
		next.BaseAmount = *p.BaseAmount
		retax = true
	}
	if next.LegalName == "" {
		return newValidationError("legal_name", "is required")
	}

	ctx := next.TaxContext(sellerState)
	if p.TypeOfSale != nil {
		ctx.GSTRate = nil
	}
	if p.GSTRate != nil {
		ctx.GSTRate = p.GSTRate
		retax = true
	}
	if p.TCSApplicable != nil {
		ctx.TCSApplicable = *p.TCSApplicable
		retax = true
	}
	if p.TCSRate != nil {
		ctx.TCSRate = *p.TCSRate
		retax = true
	}
	if retax {
		b, err := ComputeTax(next.BaseAmount, ctx)
		if err != nil {
			return err
		}
		next.applyBreakdown(b)
	}
	*o = next
	return nil
}
