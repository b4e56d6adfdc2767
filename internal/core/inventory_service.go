package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type inventoryCatalog struct {
	pool *pgxpool.Pool
}

// NewInventoryCatalog constructs an InventoryCatalog over the CRM inventory table.
func NewInventoryCatalog(pool *pgxpool.Pool) InventoryCatalog {
	return &inventoryCatalog{pool: pool}
}

const inventoryColumns = `
	id, event_name, COALESCE(category, ''), event_date, COALESCE(supplier_name, ''),
	total_tickets, available_tickets, buying_price, selling_price`

func scanInventoryItem(row pgx.Row) (InventoryItem, error) {
	var it InventoryItem
	err := row.Scan(&it.ID, &it.EventName, &it.Category, &it.EventDate, &it.SupplierName,
		&it.TotalTickets, &it.AvailableTickets, &it.BuyingPrice, &it.SellingPrice)
	return it, err
}

// LookupByEvent matches event name case-insensitively; an empty category matches all.
func (c *inventoryCatalog) LookupByEvent(ctx context.Context, eventName, category string) ([]InventoryItem, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory
		WHERE lower(event_name) = lower($1)
		  AND ($2 = '' OR lower(category) = lower($2))
		ORDER BY event_date NULLS LAST, id
	`, eventName, category)
	if err != nil {
		return nil, storeErr("query inventory by event", err)
	}
	defer rows.Close()
	return collectInventory(rows)
}

func (c *inventoryCatalog) Get(ctx context.Context, id int) (*InventoryItem, error) {
	it, err := scanInventoryItem(c.pool.QueryRow(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("inventory item %d: %w", id, ErrNotFound)
		}
		return nil, storeErr(fmt.Sprintf("fetch inventory item %d", id), err)
	}
	return &it, nil
}

func (c *inventoryCatalog) ListAll(ctx context.Context) ([]InventoryItem, error) {
	rows, err := c.pool.Query(ctx, `SELECT `+inventoryColumns+` FROM inventory ORDER BY id`)
	if err != nil {
		return nil, storeErr("query inventory", err)
	}
	defer rows.Close()
	return collectInventory(rows)
}

func collectInventory(rows pgx.Rows) ([]InventoryItem, error) {
	var items []InventoryItem
	for rows.Next() {
		it, err := scanInventoryItem(rows)
		if err != nil {
			return nil, storeErr("scan inventory item", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate inventory", err)
	}
	return items, nil
}
