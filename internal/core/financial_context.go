package core

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// FinancialContext is the explicit handle every service receives instead of a
// shared mutable cache. All mutation goes through the services built from it.
type FinancialContext struct {
	// SellerState is the seller's registered GST state.
	SellerState string
	// SettlementTolerance is how far (in the item's currency) a payment may exceed
	// the outstanding amount and still settle it.
	SettlementTolerance decimal.Decimal

	Rates     *RateBook
	Finance   FinanceDirectory
	Inventory InventoryCatalog
	Numbers   NumberingService

	// Clock defaults to time.Now.
	Clock func() time.Time
	Log   zerolog.Logger
}

func (fc *FinancialContext) now() time.Time {
	if fc.Clock != nil {
		return fc.Clock()
	}
	return time.Now()
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared query helpers.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgxRowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx (for Query).
type pgxRowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}
