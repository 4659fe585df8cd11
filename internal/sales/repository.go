package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/tradebook/internal/inventory"
	"github.com/odyssey-erp/tradebook/internal/ledger"
	"github.com/odyssey-erp/tradebook/internal/platform/db"
)

// TxRepository exposes sale writes bound to an open unit of work.
type TxRepository interface {
	InsertSale(ctx context.Context, sale Sale) (Sale, error)
	InsertItem(ctx context.Context, item SaleItem) (SaleItem, error)
	// ListOutstandingForUpdate locks the customer's sales with an amount due,
	// oldest first.
	ListOutstandingForUpdate(ctx context.Context, customerID int64) ([]Sale, error)
	// IncrementPaid raises the paid amount of a sale by amount.
	IncrementPaid(ctx context.Context, saleID int64, amount decimal.Decimal) error
}

// TxScope hands out the tx-scoped repositories of one unit of work.
type TxScope interface {
	Sales() TxRepository
	Inventory() inventory.TxRepository
	Ledger() ledger.TxRepository
}

// UnitOfWork runs fn inside a single transaction. Everything fn writes through
// the scope commits together or not at all.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(context.Context, TxScope) error) error
}

// Repository provides PostgreSQL backed persistence for sales.
type Repository struct {
	pool   *pgxpool.Pool
	txOpts db.TxOptions
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, txOpts db.TxOptions) *Repository {
	return &Repository{pool: pool, txOpts: txOpts}
}

type pgScope struct {
	sales     TxRepository
	inventory inventory.TxRepository
	ledger    ledger.TxRepository
}

func (s pgScope) Sales() TxRepository               { return s.sales }
func (s pgScope) Inventory() inventory.TxRepository { return s.inventory }
func (s pgScope) Ledger() ledger.TxRepository       { return s.ledger }

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction shared by the sales,
// inventory and ledger repositories.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxScope) error) error {
	return db.WithTx(ctx, r.pool, r.txOpts, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, pgScope{
			sales:     &txRepo{tx: tx},
			inventory: inventory.NewTxRepository(tx),
			ledger:    ledger.NewTxRepository(tx),
		})
	})
}

// ============================================================================
// READS
// ============================================================================

const saleColumns = `id, reference, customer_id, subtotal, discount, total_amount, paid_amount, payment_type, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.Reference, &s.CustomerID, &s.Subtotal, &s.Discount, &s.TotalAmount, &s.PaidAmount, &s.PaymentType, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	if err != nil {
		return Sale{}, err
	}
	s.Status = StatusOf(s.TotalAmount, s.PaidAmount)
	return s, nil
}

func collectSales(rows pgx.Rows) ([]Sale, error) {
	defer rows.Close()
	var sales []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("sales: scan sale: %w", err)
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

// GetSale loads a sale with its items.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	sale, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrSaleNotFound) {
			return Sale{}, err
		}
		return Sale{}, fmt.Errorf("sales: get sale: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, sale_id, item_id, quantity, price, line_total, line_order
FROM sale_items WHERE sale_id = $1 ORDER BY line_order, id`, id)
	if err != nil {
		return Sale{}, fmt.Errorf("sales: list items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it SaleItem
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ItemID, &it.Quantity, &it.Price, &it.LineTotal, &it.LineOrder); err != nil {
			return Sale{}, fmt.Errorf("sales: scan item: %w", err)
		}
		sale.Items = append(sale.Items, it)
	}
	if err := rows.Err(); err != nil {
		return Sale{}, fmt.Errorf("sales: list items: %w", err)
	}
	return sale, nil
}

// ListByCustomer returns the customer's sales oldest first, without items.
func (r *Repository) ListByCustomer(ctx context.Context, customerID int64) ([]Sale, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales WHERE customer_id = $1 ORDER BY created_at, id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("sales: list sales: %w", err)
	}
	return collectSales(rows)
}

// ============================================================================
// TRANSACTIONAL WRITES
// ============================================================================

func (t *txRepo) InsertSale(ctx context.Context, s Sale) (Sale, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO sales (reference, customer_id, subtotal, discount, total_amount, paid_amount, payment_type)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at`,
		s.Reference, s.CustomerID, s.Subtotal, s.Discount, s.TotalAmount, s.PaidAmount, s.PaymentType).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return Sale{}, fmt.Errorf("sales: insert sale: %w", err)
	}
	return s, nil
}

func (t *txRepo) InsertItem(ctx context.Context, it SaleItem) (SaleItem, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO sale_items (sale_id, item_id, quantity, price, line_total, line_order)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`, it.SaleID, it.ItemID, it.Quantity, it.Price, it.LineTotal, it.LineOrder).Scan(&it.ID)
	if err != nil {
		return SaleItem{}, fmt.Errorf("sales: insert item: %w", err)
	}
	return it, nil
}

func (t *txRepo) ListOutstandingForUpdate(ctx context.Context, customerID int64) ([]Sale, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+saleColumns+` FROM sales
WHERE customer_id = $1 AND total_amount > paid_amount
ORDER BY created_at, id
FOR UPDATE`, customerID)
	if err != nil {
		return nil, fmt.Errorf("sales: lock outstanding: %w", err)
	}
	return collectSales(rows)
}

func (t *txRepo) IncrementPaid(ctx context.Context, saleID int64, amount decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sales SET paid_amount = paid_amount + $2
WHERE id = $1 AND paid_amount + $2 <= total_amount`, saleID, amount)
	if err != nil {
		return fmt.Errorf("sales: increment paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOverpayment
	}
	return nil
}
