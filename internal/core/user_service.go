package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type financeDirectory struct {
	pool *pgxpool.Pool
}

// NewFinanceDirectory constructs a FinanceDirectory backed by the CRM users table.
func NewFinanceDirectory(pool *pgxpool.Pool) FinanceDirectory {
	return &financeDirectory{pool: pool}
}

// CurrentFinanceAssignee picks the active finance user with the fewest open
// finance-team orders, oldest account first on ties.
func (d *financeDirectory) CurrentFinanceAssignee(ctx context.Context) (*FinanceAssignee, error) {
	a := &FinanceAssignee{}
	err := d.pool.QueryRow(ctx, `
		SELECT u.id, u.username, u.email
		FROM users u
		LEFT JOIN orders o
		       ON o.assigned_to = u.email
		      AND o.assigned_team = 'finance'
		      AND o.status = 'payment_received'
		WHERE u.role = 'finance' AND u.is_active = true
		GROUP BY u.id, u.username, u.email
		ORDER BY COUNT(o.id), u.id
		LIMIT 1`,
	).Scan(&a.UserID, &a.Username, &a.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no active finance user: %w", ErrNotFound)
		}
		return nil, storeErr("look up finance assignee", err)
	}
	return a, nil
}
