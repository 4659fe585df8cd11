package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/tradebook/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	txOpts db.TxOptions
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, txOpts db.TxOptions) *Repository {
	return &Repository{pool: pool, txOpts: txOpts}
}

// TxRepository exposes transactional operations used by PostMovement.
type TxRepository interface {
	InsertItem(ctx context.Context, item Item) (Item, error)
	GetItemForUpdate(ctx context.Context, id int64) (Item, error)
	UpdateQuantity(ctx context.Context, id int64, qty decimal.Decimal) error
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository binds the transactional inventory queries to tx.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.txOpts, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const itemColumns = `id, sku, name, quantity, unit, base_price, sell_price, limit_price, low_stock_limit, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanItem(row rowScanner) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.SKU, &item.Name, &item.Quantity, &item.Unit, &item.BasePrice,
		&item.SellPrice, &item.LimitPrice, &item.LowStockLimit, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return item, err
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	defer rows.Close()
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetItem loads an item by id.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	return getItem(ctx, r.pool, id)
}

// Snapshot reads an item and its movements from one read-only snapshot, so
// postings committed in between cannot make the two disagree.
func (r *Repository) Snapshot(ctx context.Context, itemID int64) (Item, []Movement, error) {
	opts := r.txOpts
	opts.ReadOnly = true
	var (
		item      Item
		movements []Movement
	)
	err := db.WithTx(ctx, r.pool, opts, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		if item, err = getItem(ctx, tx, itemID); err != nil {
			return err
		}
		movements, err = listMovements(ctx, tx, itemID)
		return err
	})
	if err != nil {
		return Item{}, nil, err
	}
	return item, movements, nil
}

func getItem(ctx context.Context, q querier, id int64) (Item, error) {
	item, err := scanItem(q.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrItemNotFound) {
		return Item{}, fmt.Errorf("inventory: get item: %w", err)
	}
	return item, err
}

// ListItems returns every item ordered by id.
func (r *Repository) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("inventory: list items: %w", err)
	}
	return collectItems(rows)
}

// ListLowStock returns items whose quantity reached their low stock limit.
func (r *Repository) ListLowStock(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items
WHERE quantity <= low_stock_limit ORDER BY quantity, id`)
	if err != nil {
		return nil, fmt.Errorf("inventory: list low stock: %w", err)
	}
	return collectItems(rows)
}

func listMovements(ctx context.Context, q querier, itemID int64) ([]Movement, error) {
	rows, err := q.Query(ctx, `SELECT id, item_id, kind, quantity, COALESCE(ref_module, ''), COALESCE(ref_id, ''), COALESCE(note, ''), created_at
FROM inventory_movements WHERE item_id = $1 ORDER BY id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list movements: %w", err)
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ItemID, &m.Kind, &m.Quantity, &m.RefModule, &m.RefID, &m.Note, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepo) InsertItem(ctx context.Context, item Item) (Item, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO inventory_items (sku, name, quantity, unit, base_price, sell_price, limit_price, low_stock_limit)
VALUES ($1, $2, 0, $3, $4, $5, $6, $7)
RETURNING `+itemColumns,
		item.SKU, item.Name, item.Unit, item.BasePrice, item.SellPrice, item.LimitPrice, item.LowStockLimit)
	created, err := scanItem(row)
	if db.IsUniqueViolation(err) {
		return Item{}, ErrDuplicateSKU
	}
	if err != nil {
		return Item{}, fmt.Errorf("inventory: insert item: %w", err)
	}
	return created, nil
}

func (r *txRepo) GetItemForUpdate(ctx context.Context, id int64) (Item, error) {
	item, err := scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1 FOR UPDATE`, id))
	if err != nil && !errors.Is(err, ErrItemNotFound) {
		return Item{}, fmt.Errorf("inventory: lock item: %w", err)
	}
	return item, err
}

func (r *txRepo) UpdateQuantity(ctx context.Context, id int64, qty decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_items SET quantity = $2, updated_at = NOW() WHERE id = $1`, id, qty)
	if err != nil {
		return fmt.Errorf("inventory: update quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_movements (item_id, kind, quantity, ref_module, ref_id, note)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''))
RETURNING id, created_at`, m.ItemID, m.Kind, m.Quantity, m.RefModule, m.RefID, m.Note).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Movement{}, fmt.Errorf("inventory: insert movement: %w", err)
	}
	return m, nil
}
