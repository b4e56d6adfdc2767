package core

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultReferenceRates seeds the rate book before the first refresh.
func DefaultReferenceRates() map[Currency]decimal.Decimal {
	return map[Currency]decimal.Decimal{
		CurrencyUSD: decimal.RequireFromString("83.50"),
		CurrencyEUR: decimal.RequireFromString("90.20"),
		CurrencyGBP: decimal.RequireFromString("105.50"),
		CurrencyAED: decimal.RequireFromString("22.75"),
	}
}

// RateBook is the process-wide table of current market rates (INR per unit).
// The engine only reads it to suggest a rate; Replace is called by whatever
// refreshes market data.
type RateBook struct {
	mu        sync.RWMutex
	rates     map[Currency]decimal.Decimal
	updatedAt time.Time
}

func NewRateBook(seed map[Currency]decimal.Decimal) *RateBook {
	b := &RateBook{}
	b.Replace(seed, time.Time{})
	return b
}

// Replace swaps the whole table. Non-positive rates and INR are ignored.
func (b *RateBook) Replace(rates map[Currency]decimal.Decimal, at time.Time) {
	next := make(map[Currency]decimal.Decimal, len(rates))
	for c, r := range rates {
		if c.Valid() && !c.IsINR() && r.IsPositive() {
			next[c] = r
		}
	}
	b.mu.Lock()
	b.rates = next
	b.updatedAt = at
	b.mu.Unlock()
}

// Lookup returns the current reference rate for c.
func (b *RateBook) Lookup(c Currency) (decimal.Decimal, bool) {
	if c.IsINR() {
		return decimal.NewFromInt(1), true
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rates[c]
	return r, ok
}

// Snapshot copies the table.
func (b *RateBook) Snapshot() (map[Currency]decimal.Decimal, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[Currency]decimal.Decimal, len(b.rates))
	for c, r := range b.rates {
		out[c] = r
	}
	return out, b.updatedAt
}

// RateSuggestion is a rate offered to a finance user for confirmation.
type RateSuggestion struct {
	Currency Currency        `json:"currency"`
	Rate     decimal.Decimal `json:"rate"`
	Source   string          `json:"source"` // par, reference, last_payment, recorded
	AsOf     time.Time       `json:"as_of,omitempty"`
}

// ProposeRate suggests the rate to confirm for a payment in c. It prefers the
// reference table, then the item's last payment, then its recording rate.
// Nothing is applied; the confirmed rate is passed to the reconciler.
func (b *RateBook) ProposeRate(c Currency, snap *CurrencySnapshot, history PaymentHistory) (RateSuggestion, error) {
	if !c.Valid() {
		return RateSuggestion{}, newValidationError("currency", "unsupported currency %q", c)
	}
	if c.IsINR() {
		return RateSuggestion{Currency: c, Rate: decimal.NewFromInt(1), Source: "par"}, nil
	}
	b.mu.RLock()
	r, ok := b.rates[c]
	at := b.updatedAt
	b.mu.RUnlock()
	if ok {
		return RateSuggestion{Currency: c, Rate: r, Source: "reference", AsOf: at}, nil
	}
	if last, ok := history.LastRate(); ok {
		return RateSuggestion{Currency: c, Rate: last, Source: "last_payment"}, nil
	}
	if snap != nil && snap.Currency == c && snap.ExchangeRate.IsPositive() {
		return RateSuggestion{Currency: c, Rate: snap.ExchangeRate, Source: "recorded"}, nil
	}
	return RateSuggestion{}, newValidationError("exchange_rate", "no reference rate known for %s; enter the rate manually", c)
}
