package core_test

import (
	"testing"
	"time"

	"crm-finance/internal/core"
)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestAggregate(t *testing.T) {
	asOf := time.Date(2026, 5, 20, 15, 30, 0, 0, time.UTC)

	orders := []core.Order{
		// future event, approved: active
		{ID: 1, Status: core.StatusApproved, EventDate: day(2026, 6, 1), TotalAmount: dec("1000"), PaymentCurrency: core.CurrencyUSD, ExchangeRate: dec("83")},
		// past event: actualized
		{ID: 2, Status: core.StatusPaymentReceived, EventDate: day(2026, 5, 1), TotalAmount: dec("50000"), ExchangeRate: dec("1")},
		// completed without event date: actualized
		{ID: 3, Status: core.StatusCompleted, FinalAmount: dec("20000")},
		// not yet approved: excluded
		{ID: 4, Status: core.StatusPendingApproval, EventDate: day(2026, 6, 1), TotalAmount: dec("99999")},
		{ID: 5, Status: core.StatusCancelled, TotalAmount: dec("12345")},
	}

	receivables := []core.OpenItem{
		{ID: 10, Kind: core.KindReceivable, Counterparty: "Late Ltd", BalanceAmount: dec("100"), ExchangeRate: dec("83"), DueDate: day(2026, 5, 10)},
		{ID: 11, Kind: core.KindReceivable, Counterparty: "Later Ltd", BalanceAmount: dec("2000"), DueDate: day(2026, 4, 20)},
		{ID: 12, Kind: core.KindReceivable, Counterparty: "On Time", BalanceAmount: dec("500"), ExchangeRate: dec("1"), DueDate: day(2026, 5, 20),
			PaymentHistory: core.PaymentHistory{{FxDifference: dec("-40"), FxType: core.FxLoss, StaleRate: true}}},
	}
	payables := []core.OpenItem{
		{ID: 20, Kind: core.KindPayable, BalanceAmount: dec("300"), ExchangeRate: dec("90"), DueDate: day(2026, 5, 19)},
	}
	settlements := []core.Settlement{
		{Item: core.OpenItem{PaymentHistory: core.PaymentHistory{{FxDifference: dec("150"), FxType: core.FxGain}}}},
	}
	inventory := []core.InventoryItem{
		{ID: 1, EventName: "Monaco GP", EventDate: day(2026, 5, 25), TotalTickets: 10, AvailableTickets: 4, BuyingPrice: dec("1000"), SellingPrice: dec("1500")},
		{ID: 2, EventName: "US Open", EventDate: day(2026, 8, 25), TotalTickets: 5, AvailableTickets: 0, BuyingPrice: dec("2000"), SellingPrice: dec("2200")},
	}

	s := core.Aggregate(core.AggregateInput{
		AsOf: asOf, Orders: orders, Receivables: receivables, Payables: payables,
		Inventory: inventory, Settlements: settlements,
	})

	if s.TotalSales.Count != 3 || !s.TotalSales.Amount.Equal(dec("153000")) {
		t.Errorf("total sales: %d %s", s.TotalSales.Count, s.TotalSales.Amount)
	}
	if s.ActiveSales.Count != 1 || !s.ActiveSales.Amount.Equal(dec("83000")) {
		t.Errorf("active sales: %d %s", s.ActiveSales.Count, s.ActiveSales.Amount)
	}
	if s.ActualizedSales.Count != 2 || !s.ActualizedSales.Amount.Equal(dec("70000")) {
		t.Errorf("actualized sales: %d %s", s.ActualizedSales.Count, s.ActualizedSales.Amount)
	}

	if s.Receivables.Count != 3 || !s.Receivables.Outstanding.Equal(dec("10800")) {
		t.Errorf("receivables: %d %s", s.Receivables.Count, s.Receivables.Outstanding)
	}
	if s.Receivables.OverdueCount != 2 || !s.Receivables.Overdue.Equal(dec("10300")) {
		t.Errorf("overdue receivables: %d %s", s.Receivables.OverdueCount, s.Receivables.Overdue)
	}
	if len(s.OverdueReceivables) != 2 || s.OverdueReceivables[0].ID != 11 || s.OverdueReceivables[0].DaysOverdue != 30 {
		t.Errorf("overdue lines: %+v", s.OverdueReceivables)
	}
	if s.Payables.OverdueCount != 1 || !s.Payables.Outstanding.Equal(dec("27000")) {
		t.Errorf("payables: %d %s", s.Payables.OverdueCount, s.Payables.Outstanding)
	}

	if !s.Fx.Gain.Equal(dec("150")) || !s.Fx.Loss.Equal(dec("40")) || !s.Fx.Net.Equal(dec("110")) || s.Fx.StaleEntries != 1 {
		t.Errorf("fx: %+v", s.Fx)
	}

	// 6 × 500 + 5 × 200
	if !s.Margin.Equal(dec("4000")) {
		t.Errorf("margin: %s", s.Margin)
	}
	// 4000 / (6000 + 10000)
	if !s.MarginPercent.Equal(dec("25")) {
		t.Errorf("margin percent: %s", s.MarginPercent)
	}
	if len(s.Expiring) != 1 || s.Expiring[0].Available != 4 || !s.Expiring[0].PotentialLoss.Equal(dec("4000")) {
		t.Errorf("expiring: %+v", s.Expiring)
	}
}

func TestAggregate_Empty(t *testing.T) {
	s := core.Aggregate(core.AggregateInput{AsOf: time.Now()})
	if s.TotalSales.Count != 0 || !s.Margin.IsZero() || !s.MarginPercent.IsZero() {
		t.Errorf("empty summary: %+v", s)
	}
	if s.OverdueReceivables == nil || s.Expiring == nil {
		t.Error("empty lists should encode as [] not null")
	}
}

func TestOpenItem_DaysOverdueAndRoute(t *testing.T) {
	now := time.Date(2026, 5, 20, 23, 59, 0, 0, time.UTC)
	it := core.OpenItem{DueDate: day(2026, 5, 17)}
	if d := it.DaysOverdue(now); d != 3 {
		t.Errorf("days overdue: got %d", d)
	}
	it.DueDate = day(2026, 5, 21)
	if d := it.DaysOverdue(now); d != 0 {
		t.Errorf("not yet due: got %d", d)
	}

	inv := 3
	p := core.OpenItem{Kind: core.KindPayable, InventoryID: &inv}
	if p.SettlementRoute() != core.RouteInventoryEdit {
		t.Errorf("inventory payable route: %s", p.SettlementRoute())
	}
	p.Kind = core.KindReceivable
	if p.SettlementRoute() != core.RoutePaymentForm {
		t.Errorf("receivable route: %s", p.SettlementRoute())
	}
}
