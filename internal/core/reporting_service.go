package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ItemLedger is the payment ledger of one open item with its derived totals.
type ItemLedger struct {
	Item    OpenItem      `json:"item"`
	Summary LedgerSummary `json:"summary"`
	Route   string        `json:"settlement_route"`
}

// ── Interface ─────────────────────────────────────────────────────────────────

// ReportingService provides read-only rollups over orders, open items and inventory.
type ReportingService interface {
	// Summary loads every order, open item, inventory row and settlement and
	// aggregates them as of asOf.
	Summary(ctx context.Context, asOf time.Time) (*FinancialSummary, error)

	// ItemLedger folds the payment history of one open item.
	ItemLedger(ctx context.Context, kind ItemKind, itemID int) (*ItemLedger, error)
}

type reportingService struct {
	pool *pgxpool.Pool
	fc   *FinancialContext
}

// NewReportingService constructs a ReportingService backed by the given connection pool.
func NewReportingService(pool *pgxpool.Pool, fc *FinancialContext) ReportingService {
	return &reportingService{pool: pool, fc: fc}
}

// ── Summary ──────────────────────────────────────────────────────────────────

func (s *reportingService) Summary(ctx context.Context, asOf time.Time) (*FinancialSummary, error) {
	if asOf.IsZero() {
		asOf = s.fc.now()
	}
	// One snapshot for every read so the totals agree with each other.
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, storeErr("begin read-only transaction", err)
	}
	defer tx.Rollback(ctx)

	orders, err := listOrders(ctx, tx, OrderFilter{})
	if err != nil {
		return nil, err
	}
	receivables, err := listOpenItems(ctx, tx, KindReceivable, OpenItemFilter{}, false)
	if err != nil {
		return nil, err
	}
	payables, err := listOpenItems(ctx, tx, KindPayable, OpenItemFilter{}, false)
	if err != nil {
		return nil, err
	}
	settlements, err := listSettlements(ctx, tx, "", time.Time{})
	if err != nil {
		return nil, err
	}
	var inventory []InventoryItem
	if s.fc.Inventory != nil {
		if inventory, err = s.fc.Inventory.ListAll(ctx); err != nil {
			return nil, err
		}
	}

	sum := Aggregate(AggregateInput{
		AsOf:        asOf,
		Orders:      orders,
		Receivables: derefItems(receivables),
		Payables:    derefItems(payables),
		Inventory:   inventory,
		Settlements: settlements,
	})
	return &sum, nil
}

func derefItems(items []*OpenItem) []OpenItem {
	out := make([]OpenItem, len(items))
	for i, it := range items {
		out[i] = *it
	}
	return out
}

// ── Item ledger ──────────────────────────────────────────────────────────────

func (s *reportingService) ItemLedger(ctx context.Context, kind ItemKind, itemID int) (*ItemLedger, error) {
	if kind != KindReceivable && kind != KindPayable {
		return nil, newValidationError("kind", "unknown open item kind %q", kind)
	}
	it, err := scanOpenItem(s.pool.QueryRow(ctx,
		"SELECT "+openItemColumns(kind)+" FROM "+kind.table()+" WHERE id = $1", itemID), kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s %d: %w", kind, itemID, ErrNotFound)
		}
		return nil, storeErr(fmt.Sprintf("fetch %s %d", kind, itemID), err)
	}
	return &ItemLedger{
		Item:    *it,
		Summary: Summarize(it.Snapshot(), it.PaymentHistory),
		Route:   it.SettlementRoute(),
	}, nil
}
