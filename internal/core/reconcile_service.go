package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Reconciler matches payments against receivables and payables.
type Reconciler interface {
	// ProposeRate suggests the exchange rate for a payment against an item. The
	// finance user confirms it (or enters another) in ReconcileRequest.Rate.
	ProposeRate(ctx context.Context, kind ItemKind, itemID int) (RateSuggestion, error)

	// Reconcile applies one payment. The item, its ledger entry and any linked
	// order change together or not at all.
	Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error)
}

type reconciler struct {
	pool *pgxpool.Pool
	fc   *FinancialContext
}

func NewReconciler(pool *pgxpool.Pool, fc *FinancialContext) Reconciler {
	return &reconciler{pool: pool, fc: fc}
}

func (r *reconciler) ProposeRate(ctx context.Context, kind ItemKind, itemID int) (RateSuggestion, error) {
	if kind != KindReceivable && kind != KindPayable {
		return RateSuggestion{}, newValidationError("kind", "unknown open item kind %q", kind)
	}
	it, err := scanOpenItem(r.pool.QueryRow(ctx,
		"SELECT "+openItemColumns(kind)+" FROM "+kind.table()+" WHERE id = $1", itemID), kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RateSuggestion{}, fmt.Errorf("%s %d: %w", kind, itemID, ErrNotFound)
		}
		return RateSuggestion{}, storeErr(fmt.Sprintf("fetch %s %d", kind, itemID), err)
	}
	snap := it.Snapshot()
	return r.fc.Rates.ProposeRate(it.Currency, &snap, it.PaymentHistory)
}

func (r *reconciler) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	if req.Kind != KindReceivable && req.Kind != KindPayable {
		return nil, newValidationError("kind", "unknown open item kind %q", req.Kind)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	res, err := reconcileTx(ctx, tx, r.fc, req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr(fmt.Sprintf("commit reconciliation of %s %d", req.Kind, req.ItemID), err)
	}
	return res, nil
}

// reconcileTx runs a reconciliation inside tx. Locks are taken order first,
// then item, the same order CollectPayment uses.
func reconcileTx(ctx context.Context, tx pgx.Tx, fc *FinancialContext, req ReconcileRequest) (*ReconcileResult, error) {
	if req.PaidAt.IsZero() {
		req.PaidAt = fc.now()
	}

	var order *Order
	if req.Kind == KindReceivable {
		var orderID *int
		err := tx.QueryRow(ctx, "SELECT order_id FROM receivables WHERE id = $1", req.ItemID).Scan(&orderID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%s %d: %w", req.Kind, req.ItemID, ErrNotFound)
			}
			return nil, storeErr("fetch receivable order link", err)
		}
		if orderID != nil {
			if order, err = lockOrderTx(ctx, tx, *orderID); err != nil {
				return nil, err
			}
		}
	}

	item, err := lockOpenItemTx(ctx, tx, req.Kind, req.ItemID)
	if err != nil {
		return nil, err
	}
	if err := checkVersion(string(item.Kind), item.ID, item.Version, req.ExpectedVersion); err != nil {
		return nil, err
	}
	if order != nil && (item.OrderID == nil || *item.OrderID != order.ID) {
		return nil, fmt.Errorf("%s %d was relinked concurrently: %w", item.Kind, item.ID, ErrVersionConflict)
	}

	plan, err := PlanReconciliation(*item, order, req, fc.SettlementTolerance)
	if err != nil {
		return nil, err
	}

	next := plan.Item
	if plan.Removes() {
		if err := deleteOpenItemTx(ctx, tx, &next, plan.Outcome, req.SettledBy, req.PaidAt); err != nil {
			return nil, err
		}
	} else if err := saveOpenItemTx(ctx, tx, &next); err != nil {
		return nil, err
	}

	if order != nil {
		order.AmountPaid = plan.OrderAmountPaid
		order.PaymentStatus = plan.OrderPaymentStatus
		if plan.Adjustment != nil {
			order.applyAdjustment(plan.Adjustment)
		}
		if err := saveOrderTx(ctx, tx, order); err != nil {
			return nil, err
		}
	}

	log := fc.Log.With().Str("kind", string(item.Kind)).Int("item_id", item.ID).Logger()
	if plan.Warning != nil {
		log.Warn().Str("currency", string(plan.Warning.Currency)).
			Str("fallback_rate", plan.Warning.FallbackRate.String()).
			Str("source", plan.Warning.Source).
			Msg("payment recorded with a stale exchange rate")
	}
	log.Info().Str("outcome", string(plan.Outcome)).
		Str("amount_paid", plan.Entry.AmountForeign.String()).
		Str("fx_difference", plan.Entry.FxDifference.String()).
		Msg("reconciled payment")

	res := &ReconcileResult{
		Outcome:  plan.Outcome,
		Closed:   plan.Removes(),
		Entry:    plan.Entry,
		FxImpact: plan.Entry.Impact(),
		Warning:  plan.Warning,
	}
	if !plan.Removes() {
		res.Item = &next
	}
	if order != nil {
		res.Adjustment = plan.Adjustment
		res.OrderStatus = order.PaymentStatus
	}
	return res, nil
}
