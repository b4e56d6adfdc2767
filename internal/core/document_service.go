package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Series is a numbering series for human-readable document numbers.
type Series string

const (
	SeriesOrder           Series = "ORD" // tax orders
	SeriesProformaOrder   Series = "PRO" // proforma orders
	SeriesTaxInvoice      Series = "INV"
	SeriesProformaInvoice Series = "PFI"
	SeriesAdjustment      Series = "ADJ"
)

// NumberingService hands out gapless numbers per series and Indian financial year.
type NumberingService interface {
	// Next allocates a number in its own transaction.
	Next(ctx context.Context, series Series, at time.Time) (string, error)
	// NextTx allocates a number inside the caller's transaction so the number is
	// only consumed if the caller commits.
	NextTx(ctx context.Context, tx pgx.Tx, series Series, at time.Time) (string, error)
}

type numberingService struct {
	pool *pgxpool.Pool
}

func NewNumberingService(pool *pgxpool.Pool) NumberingService {
	return &numberingService{pool: pool}
}

func (s *numberingService) Next(ctx context.Context, series Series, at time.Time) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	num, err := s.NextTx(ctx, tx, series, at)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", storeErr("commit document number", err)
	}
	return num, nil
}

func (s *numberingService) NextTx(ctx context.Context, tx pgx.Tx, series Series, at time.Time) (string, error) {
	fy := FinancialYear(at)

	// Concurrency-safe gapless sequence: the upsert row lock serialises writers.
	var last int64
	err := tx.QueryRow(ctx, `
		INSERT INTO document_sequences (series, financial_year, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (series, financial_year)
		DO UPDATE SET last_number = document_sequences.last_number + 1
		RETURNING last_number
	`, string(series), fy).Scan(&last)
	if err != nil {
		return "", storeErr("generate gapless sequence number", err)
	}
	return FormatDocumentNumber(series, fy, last), nil
}

// FinancialYear returns the starting calendar year of the Indian financial year
// (April to March) that contains t.
func FinancialYear(t time.Time) int {
	if t.Month() < time.April {
		return t.Year() - 1
	}
	return t.Year()
}

// FormatDocumentNumber renders e.g. INV-2627-00042 for FY 2026-27.
func FormatDocumentNumber(series Series, fy int, n int64) string {
	return fmt.Sprintf("%s-%02d%02d-%05d", series, fy%100, (fy+1)%100, n)
}
