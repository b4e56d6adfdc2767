package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type openItemService struct {
	pool *pgxpool.Pool
	fc   *FinancialContext
}

// NewOpenItemService constructs an OpenItemService over the receivables and payables tables.
func NewOpenItemService(pool *pgxpool.Pool, fc *FinancialContext) OpenItemService {
	return &openItemService{pool: pool, fc: fc}
}

// ── Persistence helpers ──────────────────────────────────────────────────────

func counterpartyColumn(k ItemKind) string {
	if k == KindPayable {
		return "supplier_name"
	}
	return "client_name"
}

func openItemColumns(k ItemKind) string {
	inventory := "NULL::int"
	if k == KindPayable {
		inventory = "inventory_id"
	}
	return "id, version, created_at, updated_at, order_id, lead_id, " + inventory + ", " +
		counterpartyColumn(k) + `, description, currency, original_amount, exchange_rate,
		amount, balance_amount, due_date, assigned_to, status, payment_history,
		last_payment_date, notes`
}

func scanOpenItem(row pgx.Row, k ItemKind) (*OpenItem, error) {
	it := OpenItem{Kind: k}
	var currency, status string
	var history []byte
	err := row.Scan(
		&it.ID, &it.Version, &it.CreatedAt, &it.UpdatedAt, &it.OrderID, &it.LeadID, &it.InventoryID,
		&it.Counterparty, &it.Description, &currency, &it.OriginalAmount, &it.ExchangeRate,
		&it.Amount, &it.BalanceAmount, &it.DueDate, &it.AssignedTo, &status, &history,
		&it.LastPaymentDate, &it.Notes,
	)
	if err != nil {
		return nil, err
	}
	it.Currency = Currency(currency)
	it.Status = PaymentStatus(status)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &it.PaymentHistory); err != nil {
			return nil, fmt.Errorf("failed to decode payment history of %s %d: %w", k, it.ID, err)
		}
	}
	return &it, nil
}

func encodeHistory(h PaymentHistory) ([]byte, error) {
	if h == nil {
		h = PaymentHistory{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment history: %w", err)
	}
	return b, nil
}

func insertOpenItemTx(ctx context.Context, q pgxQuerier, it *OpenItem) error {
	history, err := encodeHistory(it.PaymentHistory)
	if err != nil {
		return err
	}
	cols := "order_id, lead_id, " + counterpartyColumn(it.Kind) + `, description, currency,
		original_amount, exchange_rate, amount, balance_amount, due_date, assigned_to, status,
		payment_history, notes`
	args := []any{
		it.OrderID, it.LeadID, it.Counterparty, it.Description, string(it.Currency),
		it.OriginalAmount, it.ExchangeRate, it.Amount, it.BalanceAmount, it.DueDate, it.AssignedTo, string(it.Status),
		history, it.Notes,
	}
	if it.Kind == KindPayable {
		cols += ", inventory_id"
		args = append(args, it.InventoryID)
	}
	sql := "INSERT INTO " + it.Kind.table() + " (" + cols + ") VALUES (" + placeholders(1, len(args)) +
		") RETURNING id, version, created_at, updated_at"
	if err := q.QueryRow(ctx, sql, args...).Scan(&it.ID, &it.Version, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return storeErr("insert "+string(it.Kind), err)
	}
	return nil
}

// saveOpenItemTx writes the mutable fields back under optimistic locking.
func saveOpenItemTx(ctx context.Context, tx pgx.Tx, it *OpenItem) error {
	history, err := encodeHistory(it.PaymentHistory)
	if err != nil {
		return err
	}
	err = tx.QueryRow(ctx, `
		UPDATE `+it.Kind.table()+`
		SET amount = $3, balance_amount = $4, due_date = $5, assigned_to = $6, status = $7,
		    payment_history = $8, last_payment_date = $9, notes = $10,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		it.ID, it.Version, it.Amount, it.BalanceAmount, it.DueDate, it.AssignedTo, string(it.Status),
		history, it.LastPaymentDate, it.Notes,
	).Scan(&it.Version, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s %d was modified concurrently: %w", it.Kind, it.ID, ErrVersionConflict)
		}
		return storeErr(fmt.Sprintf("update %s %d", it.Kind, it.ID), err)
	}
	return nil
}

func lockOpenItemTx(ctx context.Context, tx pgx.Tx, k ItemKind, id int) (*OpenItem, error) {
	it, err := scanOpenItem(tx.QueryRow(ctx,
		"SELECT "+openItemColumns(k)+" FROM "+k.table()+" WHERE id = $1 FOR UPDATE", id), k)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s %d: %w", k, id, ErrNotFound)
		}
		return nil, storeErr(fmt.Sprintf("fetch %s %d for update", k, id), err)
	}
	return it, nil
}

// deleteOpenItemTx removes a settled item, leaving its final state in the
// settlements audit table.
func deleteOpenItemTx(ctx context.Context, tx pgx.Tx, it *OpenItem, outcome ReconcileOutcome, by string, at time.Time) error {
	snapshot, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("failed to encode settled %s: %w", it.Kind, err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO settlements (kind, item_id, order_id, outcome, item, settled_at, settled_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(it.Kind), it.ID, it.OrderID, string(outcome), snapshot, at, by,
	)
	if err != nil {
		return storeErr("record settlement", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM "+it.Kind.table()+" WHERE id = $1", it.ID); err != nil {
		return storeErr(fmt.Sprintf("delete %s %d", it.Kind, it.ID), err)
	}
	return nil
}

// listOpenItems is shared by the service and the aggregator. lock adds FOR UPDATE
// and must only be used inside a transaction.
func listOpenItems(ctx context.Context, q pgxRowQuerier, k ItemKind, f OpenItemFilter, lock bool) ([]*OpenItem, error) {
	query := "SELECT " + openItemColumns(k) + " FROM " + k.table() + " WHERE 1=1"
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Counterparty != "" {
		args = append(args, "%"+f.Counterparty+"%")
		query += fmt.Sprintf(" AND %s ILIKE $%d", counterpartyColumn(k), len(args))
	}
	if f.OrderID != nil {
		args = append(args, *f.OrderID)
		query += fmt.Sprintf(" AND order_id = $%d", len(args))
	}
	if f.InventoryID != nil && k == KindPayable {
		args = append(args, *f.InventoryID)
		query += fmt.Sprintf(" AND inventory_id = $%d", len(args))
	}
	if f.OverdueOnly {
		query += " AND due_date < CURRENT_DATE"
	}
	query += " ORDER BY due_date NULLS LAST, id"
	if lock {
		query += " FOR UPDATE"
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query "+k.table(), err)
	}
	defer rows.Close()

	var items []*OpenItem
	for rows.Next() {
		it, err := scanOpenItem(rows, k)
		if err != nil {
			return nil, storeErr("scan "+string(k), err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate "+k.table(), err)
	}
	return items, nil
}

// ── Service ──────────────────────────────────────────────────────────────────

func (s *openItemService) Create(ctx context.Context, in OpenItemInput) (*OpenItem, error) {
	if in.Kind != KindReceivable && in.Kind != KindPayable {
		return nil, newValidationError("kind", "unknown open item kind %q", in.Kind)
	}
	in.Counterparty = strings.TrimSpace(in.Counterparty)
	if in.Counterparty == "" {
		return nil, newValidationError(counterpartyColumn(in.Kind), "is required")
	}
	if !in.OriginalAmount.IsPositive() {
		return nil, newValidationError("original_amount", "must be positive, got %s", in.OriginalAmount.String())
	}
	if in.InventoryID != nil && in.Kind != KindPayable {
		return nil, newValidationError("inventory_id", "only payables may reference inventory")
	}
	currency, err := ParseCurrency(in.Currency)
	if err != nil {
		return nil, err
	}
	snap, err := RecordForeignAmount(currency, in.OriginalAmount, in.ExchangeRate)
	if err != nil {
		return nil, err
	}
	it := &OpenItem{
		Kind:           in.Kind,
		OrderID:        in.OrderID,
		LeadID:         in.LeadID,
		InventoryID:    in.InventoryID,
		Counterparty:   in.Counterparty,
		Description:    strings.TrimSpace(in.Description),
		Currency:       snap.Currency,
		OriginalAmount: snap.OriginalAmount,
		ExchangeRate:   snap.ExchangeRate,
		Amount:         snap.INREquivalent,
		BalanceAmount:  snap.OriginalAmount,
		DueDate:        in.DueDate,
		AssignedTo:     in.AssignedTo,
		Status:         PaymentPending,
		Notes:          in.Notes,
	}
	if err := insertOpenItemTx(ctx, s.pool, it); err != nil {
		return nil, err
	}
	return it, nil
}

func (s *openItemService) Get(ctx context.Context, kind ItemKind, id int) (*OpenItem, error) {
	if kind != KindReceivable && kind != KindPayable {
		return nil, newValidationError("kind", "unknown open item kind %q", kind)
	}
	it, err := scanOpenItem(s.pool.QueryRow(ctx,
		"SELECT "+openItemColumns(kind)+" FROM "+kind.table()+" WHERE id = $1", id), kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
		}
		return nil, storeErr(fmt.Sprintf("fetch %s %d", kind, id), err)
	}
	return it, nil
}

func (s *openItemService) ListOpen(ctx context.Context, kind ItemKind, f OpenItemFilter) ([]OpenItem, error) {
	if kind != KindReceivable && kind != KindPayable {
		return nil, newValidationError("kind", "unknown open item kind %q", kind)
	}
	items, err := listOpenItems(ctx, s.pool, kind, f, false)
	if err != nil {
		return nil, err
	}
	out := make([]OpenItem, len(items))
	for i, it := range items {
		out[i] = *it
	}
	return out, nil
}

func (s *openItemService) Update(ctx context.Context, kind ItemKind, id int, p OpenItemPatch) (*OpenItem, error) {
	if kind != KindReceivable && kind != KindPayable {
		return nil, newValidationError("kind", "unknown open item kind %q", kind)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	it, err := lockOpenItemTx(ctx, tx, kind, id)
	if err != nil {
		return nil, err
	}
	if err := checkVersion(string(kind), it.ID, it.Version, p.ExpectedVersion); err != nil {
		return nil, err
	}
	if p.DueDate != nil {
		d := *p.DueDate
		it.DueDate = &d
	}
	if p.AssignedTo != nil {
		it.AssignedTo = *p.AssignedTo
	}
	if p.Notes != nil {
		it.Notes = *p.Notes
	}
	if p.BalanceAmount != nil {
		bal := roundMoney(*p.BalanceAmount)
		if !bal.IsPositive() {
			return nil, newValidationError("balance_amount", "must stay positive; reconcile or delete the item instead")
		}
		if bal.GreaterThan(it.BalanceAmount) {
			return nil, newValidationError("balance_amount", "may not increase from %s to %s", it.BalanceAmount.StringFixed(2), bal.StringFixed(2))
		}
		it.resizeBalance(bal)
	}
	if err := saveOpenItemTx(ctx, tx, it); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr(fmt.Sprintf("commit %s update", kind), err)
	}
	return it, nil
}

func (s *openItemService) Delete(ctx context.Context, kind ItemKind, id int, reason, by string) error {
	if kind != KindReceivable && kind != KindPayable {
		return newValidationError("kind", "unknown open item kind %q", kind)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	it, err := lockOpenItemTx(ctx, tx, kind, id)
	if err != nil {
		return err
	}
	if reason != "" {
		it.Notes = reason
	}
	if err := deleteOpenItemTx(ctx, tx, it, OutcomeRemoved, by, s.fc.now()); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr(fmt.Sprintf("commit %s deletion", kind), err)
	}
	return nil
}

// ── Reminders ────────────────────────────────────────────────────────────────

func (s *openItemService) RecordReminder(ctx context.Context, receivableID int, channel, note, by string) (*Reminder, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		channel = "email"
	}
	r := &Reminder{ReceivableID: receivableID, Channel: channel, Note: note, SentBy: by}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO payment_reminders (receivable_id, channel, note, sent_by, sent_at)
		SELECT id, $2, $3, $4, $5 FROM receivables WHERE id = $1
		RETURNING id, sent_at`,
		receivableID, channel, note, by, s.fc.now(),
	).Scan(&r.ID, &r.SentAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("receivable %d: %w", receivableID, ErrNotFound)
		}
		return nil, storeErr("record payment reminder", err)
	}
	return r, nil
}

func (s *openItemService) ListReminders(ctx context.Context, receivableID int) ([]Reminder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, receivable_id, channel, note, sent_by, sent_at
		FROM payment_reminders
		WHERE receivable_id = $1
		ORDER BY sent_at DESC, id DESC`, receivableID)
	if err != nil {
		return nil, storeErr("query payment reminders", err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var r Reminder
		if err := rows.Scan(&r.ID, &r.ReceivableID, &r.Channel, &r.Note, &r.SentBy, &r.SentAt); err != nil {
			return nil, storeErr("scan payment reminder", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ── Settlement audit ─────────────────────────────────────────────────────────

func (s *openItemService) ListSettlements(ctx context.Context, kind ItemKind) ([]Settlement, error) {
	return listSettlements(ctx, s.pool, kind, time.Time{})
}

// listSettlements returns audit rows for kind (all kinds when empty) settled at
// or after since.
func listSettlements(ctx context.Context, q pgxRowQuerier, kind ItemKind, since time.Time) ([]Settlement, error) {
	rows, err := q.Query(ctx, `
		SELECT id, kind, item_id, order_id, outcome, item, settled_at, settled_by
		FROM settlements
		WHERE ($1 = '' OR kind = $1) AND settled_at >= $2
		ORDER BY settled_at, id`, string(kind), since)
	if err != nil {
		return nil, storeErr("query settlements", err)
	}
	defer rows.Close()

	var out []Settlement
	for rows.Next() {
		var (
			st         Settlement
			k, outcome string
			snapshot   []byte
		)
		if err := rows.Scan(&st.ID, &k, &st.ItemID, &st.OrderID, &outcome, &snapshot, &st.SettledAt, &st.SettledBy); err != nil {
			return nil, storeErr("scan settlement", err)
		}
		st.Kind = ItemKind(k)
		st.Outcome = ReconcileOutcome(outcome)
		if err := json.Unmarshal(snapshot, &st.Item); err != nil {
			return nil, fmt.Errorf("failed to decode settlement %d: %w", st.ID, err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate settlements", err)
	}
	return out, nil
}
