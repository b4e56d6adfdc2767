package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// InventoryItem is a ticket/seat allocation bought from a supplier. Inventory
// bookkeeping belongs to the CRM; the engine reads it for margin and payables.
type InventoryItem struct {
	ID               int             `json:"id"`
	EventName        string          `json:"event_name"`
	Category         string          `json:"category"`
	EventDate        *time.Time      `json:"event_date,omitempty"`
	SupplierName     string          `json:"supplier_name,omitempty"`
	TotalTickets     int             `json:"total_tickets"`
	AvailableTickets int             `json:"available_tickets"`
	BuyingPrice      decimal.Decimal `json:"buying_price"`
	SellingPrice     decimal.Decimal `json:"selling_price"`
}

// SoldUnits is the number of allocated (sold) tickets; never negative.
func (i InventoryItem) SoldUnits() int {
	if sold := i.TotalTickets - i.AvailableTickets; sold > 0 {
		return sold
	}
	return 0
}

// Margin is sold units × (selling − buying).
func (i InventoryItem) Margin() decimal.Decimal {
	return i.SellingPrice.Sub(i.BuyingPrice).Mul(decimal.NewFromInt(int64(i.SoldUnits())))
}

// InventoryCatalog is the read-only inventory lookup.
type InventoryCatalog interface {
	LookupByEvent(ctx context.Context, eventName, category string) ([]InventoryItem, error)
	Get(ctx context.Context, id int) (*InventoryItem, error)
	ListAll(ctx context.Context) ([]InventoryItem, error)
}
