package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InvoiceService issues and retrieves immutable invoice snapshots.
type InvoiceService interface {
	// Issue assembles the order's invoice and stores it. If the latest invoice for
	// the order already shows the same figures it is returned unchanged (issued is
	// false); otherwise an adjustment invoice supersedes it.
	Issue(ctx context.Context, orderID int, issuedBy string) (inv *Invoice, issued bool, err error)
	Get(ctx context.Context, invoiceID int) (*Invoice, error)
	GetByNumber(ctx context.Context, invoiceNumber string) (*Invoice, error)
	ListForOrder(ctx context.Context, orderID int) ([]Invoice, error)
}

type invoiceService struct {
	pool *pgxpool.Pool
	fc   *FinancialContext
}

func NewInvoiceService(pool *pgxpool.Pool, fc *FinancialContext) InvoiceService {
	return &invoiceService{pool: pool, fc: fc}
}

const invoiceColumns = "id, invoice_number, kind, supersedes_id, issued_at, snapshot"

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		inv          Invoice
		id           int
		number, kind string
		supersedes   *int
		issuedAt     time.Time
		snapshot     []byte
	)
	if err := row.Scan(&id, &number, &kind, &supersedes, &issuedAt, &snapshot); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &inv); err != nil {
		return nil, fmt.Errorf("failed to decode invoice %d: %w", id, err)
	}
	inv.ID = id
	inv.InvoiceNumber = number
	inv.Kind = InvoiceKind(kind)
	inv.SupersedesID = supersedes
	inv.IssuedAt = &issuedAt
	return &inv, nil
}

func (s *invoiceService) Issue(ctx context.Context, orderID int, issuedBy string) (*Invoice, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, false, err
	}
	if !o.Status.PermitsSettlement() {
		return nil, false, newValidationError("status", "cannot invoice order %d while it is %s", o.ID, o.Status)
	}
	inv, err := Assemble(o)
	if err != nil {
		return nil, false, err
	}

	latest, err := scanInvoice(tx.QueryRow(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE order_id = $1 ORDER BY id DESC LIMIT 1", o.ID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		latest = nil
	case err != nil:
		return nil, false, storeErr("fetch latest invoice", err)
	}
	if latest != nil && latest.sameFigures(inv) {
		return latest, false, nil
	}

	now := s.fc.now()
	switch {
	case latest != nil && latest.InvoiceType == inv.InvoiceType:
		inv.Kind = InvoiceAdjustment
		inv.SupersedesID = &latest.ID
		if inv.InvoiceNumber, err = s.fc.Numbers.NextTx(ctx, tx, SeriesAdjustment, now); err != nil {
			return nil, false, err
		}
	case o.InvoiceNumber != "":
		// Proforma orders carry their PFI number from creation.
		inv.InvoiceNumber = o.InvoiceNumber
	default:
		if inv.InvoiceNumber, err = s.fc.Numbers.NextTx(ctx, tx, SeriesTaxInvoice, now); err != nil {
			return nil, false, err
		}
		o.InvoiceNumber = inv.InvoiceNumber
		if err := saveOrderTx(ctx, tx, o); err != nil {
			return nil, false, err
		}
	}
	if latest != nil && inv.Kind == InvoiceOriginal {
		inv.SupersedesID = &latest.ID
	}
	inv.IssuedAt = &now

	snapshot, err := json.Marshal(inv)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode invoice: %w", err)
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO invoices (invoice_number, order_id, kind, supersedes_id, invoice_type, snapshot, grand_total, issued_at, issued_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		inv.InvoiceNumber, o.ID, string(inv.Kind), inv.SupersedesID, string(inv.InvoiceType),
		snapshot, inv.GrandTotal, now, issuedBy,
	).Scan(&inv.ID)
	if err != nil {
		return nil, false, storeErr("insert invoice", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, storeErr("commit invoice", err)
	}

	s.fc.Log.Info().Str("invoice_number", inv.InvoiceNumber).Int("order_id", o.ID).
		Str("kind", string(inv.Kind)).Str("grand_total", inv.GrandTotal.StringFixed(2)).
		Msg("issued invoice")
	return &inv, true, nil
}

func (s *invoiceService) Get(ctx context.Context, invoiceID int) (*Invoice, error) {
	inv, err := scanInvoice(s.pool.QueryRow(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = $1", invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %d: %w", invoiceID, ErrNotFound)
		}
		return nil, storeErr(fmt.Sprintf("fetch invoice %d", invoiceID), err)
	}
	return inv, nil
}

func (s *invoiceService) GetByNumber(ctx context.Context, invoiceNumber string) (*Invoice, error) {
	inv, err := scanInvoice(s.pool.QueryRow(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE invoice_number = $1", invoiceNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %s: %w", invoiceNumber, ErrNotFound)
		}
		return nil, storeErr("fetch invoice by number", err)
	}
	return inv, nil
}

func (s *invoiceService) ListForOrder(ctx context.Context, orderID int) ([]Invoice, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, storeErr("query invoices", err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, storeErr("scan invoice", err)
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate invoices", err)
	}
	return out, nil
}
