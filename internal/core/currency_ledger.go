package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrencySnapshot pins a foreign amount to the rate used to derive its INR
// equivalent. The rate is never rewritten; later rates become payment entries.
type CurrencySnapshot struct {
	Currency       Currency        `json:"currency"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	INREquivalent  decimal.Decimal `json:"inr_equivalent"`
}

// RecordForeignAmount snapshots amount in currency at rateAtRecording. INR
// amounts always carry a rate of 1.
func RecordForeignAmount(currency Currency, amount, rateAtRecording decimal.Decimal) (CurrencySnapshot, error) {
	if !currency.Valid() {
		return CurrencySnapshot{}, newValidationError("currency", "unsupported currency %q", currency)
	}
	if amount.IsNegative() {
		return CurrencySnapshot{}, newValidationError("original_amount", "must not be negative, got %s", amount.String())
	}
	rate := rateAtRecording
	if currency.IsINR() {
		if !rate.IsZero() && !rate.Equal(decimal.NewFromInt(1)) {
			return CurrencySnapshot{}, newValidationError("exchange_rate", "INR amounts must use rate 1, got %s", rate.String())
		}
		rate = decimal.NewFromInt(1)
	} else if !rate.IsPositive() {
		return CurrencySnapshot{}, newValidationError("exchange_rate", "a positive rate is required for %s", currency)
	}
	return CurrencySnapshot{
		Currency:       currency,
		OriginalAmount: roundMoney(amount),
		ExchangeRate:   rate,
		INREquivalent:  roundMoney(amount.Mul(rate)),
	}, nil
}

// PaymentEntry is one immutable line of a payment history.
//
// FxDifference = (ExchangeRate − recording rate) × AmountForeign, as a raw signed
// figure. FxType interprets it from the business's side: for a receivable a
// negative difference (rate fell, less INR received) is a loss; for a payable a
// positive difference (rate rose, more INR paid) is a loss. Everything else,
// including zero, is a gain.
type PaymentEntry struct {
	Date          time.Time       `json:"date"`
	Currency      Currency        `json:"currency"`
	AmountForeign decimal.Decimal `json:"amount_foreign"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	AmountINR     decimal.Decimal `json:"amount_inr"`
	FxDifference  decimal.Decimal `json:"fx_difference"`
	FxType        FxType          `json:"fx_type"`
	StaleRate     bool            `json:"stale_rate,omitempty"`
	Note          string          `json:"note,omitempty"`
}

// Impact is the signed effect on the business in INR: gains positive, losses negative.
func (e PaymentEntry) Impact() decimal.Decimal {
	if e.FxType == FxLoss {
		return e.FxDifference.Abs().Neg()
	}
	return e.FxDifference.Abs()
}

func classifyFx(kind ItemKind, diff decimal.Decimal) FxType {
	switch kind {
	case KindReceivable:
		if diff.IsNegative() {
			return FxLoss
		}
	case KindPayable:
		if diff.IsPositive() {
			return FxLoss
		}
	}
	return FxGain
}

// PaymentHistory is an append-only list of payment entries.
type PaymentHistory []PaymentEntry

// Append returns a new history with e at the end; h is left untouched.
func (h PaymentHistory) Append(e PaymentEntry) PaymentHistory {
	out := make(PaymentHistory, len(h), len(h)+1)
	copy(out, h)
	return append(out, e)
}

// LastRate returns the rate of the most recent entry.
func (h PaymentHistory) LastRate() (decimal.Decimal, bool) {
	if len(h) == 0 {
		return decimal.Zero, false
	}
	return h[len(h)-1].ExchangeRate, true
}

// RecordPayment prices a payment of amountPaidForeign against snap. A nil
// rateAtPayment falls back to the last known rate (latest history entry, else the
// recording rate); the entry is flagged stale and a warning is returned.
func RecordPayment(snap CurrencySnapshot, kind ItemKind, history PaymentHistory, rateAtPayment *decimal.Decimal, amountPaidForeign decimal.Decimal, at time.Time) (PaymentEntry, *StaleRateWarning, error) {
	if !amountPaidForeign.IsPositive() {
		return PaymentEntry{}, nil, newValidationError("amount_paid", "must be positive, got %s", amountPaidForeign.String())
	}

	var (
		rate    decimal.Decimal
		warning *StaleRateWarning
	)
	switch {
	case snap.Currency.IsINR():
		rate = decimal.NewFromInt(1)
	case rateAtPayment != nil:
		if !rateAtPayment.IsPositive() {
			return PaymentEntry{}, nil, newValidationError("exchange_rate", "must be positive, got %s", rateAtPayment.String())
		}
		rate = *rateAtPayment
	default:
		source := "recorded"
		rate = snap.ExchangeRate
		if last, ok := history.LastRate(); ok {
			rate, source = last, "last_payment"
		}
		warning = &StaleRateWarning{Currency: snap.Currency, FallbackRate: rate, Source: source}
	}

	diff := roundMoney(rate.Sub(snap.ExchangeRate).Mul(amountPaidForeign))
	return PaymentEntry{
		Date:          at,
		Currency:      snap.Currency,
		AmountForeign: roundMoney(amountPaidForeign),
		ExchangeRate:  rate,
		AmountINR:     roundMoney(amountPaidForeign.Mul(rate)),
		FxDifference:  diff,
		FxType:        classifyFx(kind, diff),
		StaleRate:     warning != nil,
	}, warning, nil
}

// LedgerSummary is derived from a payment history; it is never stored.
type LedgerSummary struct {
	Payments         int             `json:"payments"`
	TotalPaidForeign decimal.Decimal `json:"total_paid_foreign"`
	TotalPaidINR     decimal.Decimal `json:"total_paid_inr"`
	Remaining        decimal.Decimal `json:"remaining"`
	TotalFxImpact    decimal.Decimal `json:"total_fx_impact"` // Σ fx_difference
	NetFxGain        decimal.Decimal `json:"net_fx_gain"`     // Σ Impact()
	StaleEntries     int             `json:"stale_entries"`
}

// Summarize folds history against the original snapshot.
func Summarize(snap CurrencySnapshot, history PaymentHistory) LedgerSummary {
	var s LedgerSummary
	for _, e := range history {
		s.Payments++
		s.TotalPaidForeign = s.TotalPaidForeign.Add(e.AmountForeign)
		s.TotalPaidINR = s.TotalPaidINR.Add(e.AmountINR)
		s.TotalFxImpact = s.TotalFxImpact.Add(e.FxDifference)
		s.NetFxGain = s.NetFxGain.Add(e.Impact())
		if e.StaleRate {
			s.StaleEntries++
		}
	}
	s.Remaining = snap.OriginalAmount.Sub(s.TotalPaidForeign)
	if s.Remaining.IsNegative() {
		s.Remaining = decimal.Zero
	}
	return s
}
