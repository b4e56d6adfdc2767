package core

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// expiryWindow is how close an event must be for unsold inventory to count as expiring.
const expiryWindow = 7 * 24 * time.Hour

// ── Report types ──────────────────────────────────────────────────────────────

// SalesTotals are order totals in INR.
type SalesTotals struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// OpenItemTotals summarise the open receivables or payables.
type OpenItemTotals struct {
	Count        int             `json:"count"`
	Outstanding  decimal.Decimal `json:"outstanding"` // INR at recording rates
	OverdueCount int             `json:"overdue_count"`
	Overdue      decimal.Decimal `json:"overdue"`
}

// OverdueLine is one overdue receivable.
type OverdueLine struct {
	ID           int             `json:"id"`
	Counterparty string          `json:"counterparty"`
	Outstanding  decimal.Decimal `json:"outstanding"`
	DaysOverdue  int             `json:"days_overdue"`
}

// FxTotals split realised exchange differences by business effect.
type FxTotals struct {
	Gain         decimal.Decimal `json:"gain"`
	Loss         decimal.Decimal `json:"loss"` // positive magnitude
	Net          decimal.Decimal `json:"net"`
	StaleEntries int             `json:"stale_entries"`
}

// ExpiringInventory is unsold stock for an event inside the expiry window.
type ExpiringInventory struct {
	InventoryID   int             `json:"inventory_id"`
	EventName     string          `json:"event_name"`
	EventDate     time.Time       `json:"event_date"`
	Available     int             `json:"available"`
	PotentialLoss decimal.Decimal `json:"potential_loss"`
}

// FinancialSummary is the dashboard rollup. All amounts are INR.
type FinancialSummary struct {
	AsOf               time.Time           `json:"as_of"`
	ActiveSales        SalesTotals         `json:"active_sales"`
	TotalSales         SalesTotals         `json:"total_sales"`
	ActualizedSales    SalesTotals         `json:"actualized_sales"`
	Receivables        OpenItemTotals      `json:"receivables"`
	Payables           OpenItemTotals      `json:"payables"`
	OverdueReceivables []OverdueLine       `json:"overdue_receivables"`
	Margin             decimal.Decimal     `json:"margin"`
	MarginPercent      decimal.Decimal     `json:"margin_percent"`
	Fx                 FxTotals            `json:"fx"`
	Expiring           []ExpiringInventory `json:"expiring_inventory"`
}

// AggregateInput is everything the aggregator reads.
type AggregateInput struct {
	AsOf        time.Time
	Orders      []Order
	Receivables []OpenItem
	Payables    []OpenItem
	Inventory   []InventoryItem
	Settlements []Settlement
}

// Aggregate rolls up orders, open items and inventory. It has no side effects
// and tolerates old records: a missing exchange rate counts as 1.
func Aggregate(in AggregateInput) FinancialSummary {
	today := startOfDay(in.AsOf)
	sum := FinancialSummary{
		AsOf:               in.AsOf,
		ActiveSales:        SalesTotals{Amount: decimal.Zero},
		TotalSales:         SalesTotals{Amount: decimal.Zero},
		ActualizedSales:    SalesTotals{Amount: decimal.Zero},
		Receivables:        OpenItemTotals{Outstanding: decimal.Zero, Overdue: decimal.Zero},
		Payables:           OpenItemTotals{Outstanding: decimal.Zero, Overdue: decimal.Zero},
		OverdueReceivables: []OverdueLine{},
		Margin:             decimal.Zero,
		MarginPercent:      decimal.Zero,
		Fx:                 FxTotals{Gain: decimal.Zero, Loss: decimal.Zero, Net: decimal.Zero},
		Expiring:           []ExpiringInventory{},
	}

	for i := range in.Orders {
		o := &in.Orders[i]
		if !o.Status.PostApproval() {
			continue
		}
		amt := roundMoney(o.TotalAmount.Mul(rateOrPar(o.ExchangeRate)))
		if o.TotalAmount.IsZero() {
			amt = o.FinalAmountINR()
		}
		sum.TotalSales.add(amt)
		past := o.EventDate != nil && startOfDay(*o.EventDate).Before(today)
		switch {
		case past || o.Status.Closed():
			sum.ActualizedSales.add(amt)
		case o.EventDate != nil:
			sum.ActiveSales.add(amt)
		}
	}

	for _, it := range in.Receivables {
		if days := sum.Receivables.add(it, in.AsOf); days > 0 {
			sum.OverdueReceivables = append(sum.OverdueReceivables, OverdueLine{
				ID: it.ID, Counterparty: it.Counterparty, Outstanding: it.OutstandingINR(), DaysOverdue: days,
			})
		}
		sum.Fx.addHistory(it.PaymentHistory)
	}
	sort.SliceStable(sum.OverdueReceivables, func(i, j int) bool {
		return sum.OverdueReceivables[i].DaysOverdue > sum.OverdueReceivables[j].DaysOverdue
	})
	for _, it := range in.Payables {
		sum.Payables.add(it, in.AsOf)
		sum.Fx.addHistory(it.PaymentHistory)
	}
	for _, st := range in.Settlements {
		sum.Fx.addHistory(st.Item.PaymentHistory)
	}
	sum.Fx.Net = sum.Fx.Gain.Sub(sum.Fx.Loss)

	cost := decimal.Zero
	for _, inv := range in.Inventory {
		sum.Margin = sum.Margin.Add(inv.Margin())
		cost = cost.Add(inv.BuyingPrice.Mul(decimal.NewFromInt(int64(inv.SoldUnits()))))
		if inv.EventDate == nil || inv.AvailableTickets <= 0 {
			continue
		}
		until := startOfDay(*inv.EventDate).Sub(today)
		if until >= 0 && until <= expiryWindow {
			sum.Expiring = append(sum.Expiring, ExpiringInventory{
				InventoryID:   inv.ID,
				EventName:     inv.EventName,
				EventDate:     *inv.EventDate,
				Available:     inv.AvailableTickets,
				PotentialLoss: roundMoney(inv.BuyingPrice.Mul(decimal.NewFromInt(int64(inv.AvailableTickets)))),
			})
		}
	}
	sum.Margin = roundMoney(sum.Margin)
	if cost.IsPositive() {
		sum.MarginPercent = sum.Margin.Div(cost).Mul(hundred).Round(2)
	}
	return sum
}

func (t *SalesTotals) add(amt decimal.Decimal) {
	t.Count++
	t.Amount = t.Amount.Add(amt)
}

// add counts an open item and returns its days overdue.
func (t *OpenItemTotals) add(it OpenItem, now time.Time) int {
	out := it.OutstandingINR()
	t.Count++
	t.Outstanding = t.Outstanding.Add(out)
	days := it.DaysOverdue(now)
	if days > 0 {
		t.OverdueCount++
		t.Overdue = t.Overdue.Add(out)
	}
	return days
}

func (f *FxTotals) addHistory(h PaymentHistory) {
	for _, e := range h {
		impact := e.Impact()
		if impact.IsNegative() {
			f.Loss = f.Loss.Sub(impact)
		} else {
			f.Gain = f.Gain.Add(impact)
		}
		if e.StaleRate {
			f.StaleEntries++
		}
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
