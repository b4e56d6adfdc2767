package core_test

import (
	"sync"
	"testing"
	"time"

	"crm-finance/internal/core"

	"github.com/shopspring/decimal"
)

func TestRateBook_ReplaceFiltersInvalid(t *testing.T) {
	b := core.NewRateBook(core.DefaultReferenceRates())
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	b.Replace(map[core.Currency]decimal.Decimal{
		core.CurrencyUSD: dec("84.00"),
		core.CurrencyINR: dec("2"),
		core.CurrencyEUR: dec("-1"),
		"JPY":            dec("0.55"),
	}, at)

	rates, updated := b.Snapshot()
	if len(rates) != 1 || !rates[core.CurrencyUSD].Equal(dec("84")) {
		t.Errorf("unexpected table %v", rates)
	}
	if !updated.Equal(at) {
		t.Errorf("updated at: got %s", updated)
	}
	if r, ok := b.Lookup(core.CurrencyINR); !ok || !r.Equal(decimal.NewFromInt(1)) {
		t.Errorf("INR lookup: %s %t", r, ok)
	}
	if _, ok := b.Lookup(core.CurrencyEUR); ok {
		t.Error("EUR should have been dropped")
	}
}

func TestRateBook_ProposeRate(t *testing.T) {
	b := core.NewRateBook(map[core.Currency]decimal.Decimal{core.CurrencyUSD: dec("83.75")})
	snap := &core.CurrencySnapshot{Currency: core.CurrencyGBP, ExchangeRate: dec("104")}
	history := core.PaymentHistory{{Currency: core.CurrencyGBP, ExchangeRate: dec("105.2")}}

	tests := []struct {
		name       string
		cur        core.Currency
		snap       *core.CurrencySnapshot
		history    core.PaymentHistory
		wantRate   string
		wantSource string
	}{
		{"par", core.CurrencyINR, nil, nil, "1", "par"},
		{"reference", core.CurrencyUSD, nil, nil, "83.75", "reference"},
		{"last payment", core.CurrencyGBP, snap, history, "105.2", "last_payment"},
		{"recorded", core.CurrencyGBP, snap, nil, "104", "recorded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := b.ProposeRate(tt.cur, tt.snap, tt.history)
			if err != nil {
				t.Fatal(err)
			}
			if !s.Rate.Equal(dec(tt.wantRate)) || s.Source != tt.wantSource {
				t.Errorf("got %s (%s), want %s (%s)", s.Rate, s.Source, tt.wantRate, tt.wantSource)
			}
		})
	}

	if _, err := b.ProposeRate(core.CurrencyAED, nil, nil); err == nil {
		t.Error("expected error when no rate is known")
	}
	if _, err := b.ProposeRate("XYZ", nil, nil); err == nil {
		t.Error("expected error for unsupported currency")
	}
}

func TestRateBook_ConcurrentAccess(t *testing.T) {
	b := core.NewRateBook(core.DefaultReferenceRates())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			b.Replace(map[core.Currency]decimal.Decimal{core.CurrencyUSD: decimal.NewFromInt(int64(80 + i))}, time.Now())
		}(i)
		go func() {
			defer wg.Done()
			if r, ok := b.Lookup(core.CurrencyUSD); ok && !r.IsPositive() {
				t.Errorf("non-positive rate %s", r)
			}
		}()
	}
	wg.Wait()
}
