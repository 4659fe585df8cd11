package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists customers and their transactions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes ledger writes bound to an open unit of work.
type TxRepository interface {
	LockCustomer(ctx context.Context, id int64) (Customer, error)
	Append(ctx context.Context, entry Entry) (Entry, error)
	SumEntries(ctx context.Context, customerID int64) (decimal.Decimal, error)
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository binds ledger writes to tx.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getCustomer(ctx context.Context, q queryer, sql string, id int64) (Customer, error) {
	var c Customer
	err := q.QueryRow(ctx, sql, id).Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrCustomerNotFound
	}
	if err != nil {
		return Customer{}, fmt.Errorf("ledger: get customer: %w", err)
	}
	return c, nil
}

func sumEntries(ctx context.Context, q queryer, customerID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM customer_transactions WHERE customer_id = $1`, customerID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: sum entries: %w", err)
	}
	return sum, nil
}

// CreateCustomer inserts a customer.
func (r *Repository) CreateCustomer(ctx context.Context, c Customer) (Customer, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO customers (name, phone) VALUES ($1, $2) RETURNING id, created_at`,
		c.Name, c.Phone).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return Customer{}, fmt.Errorf("ledger: insert customer: %w", err)
	}
	return c, nil
}

// GetCustomer loads a customer.
func (r *Repository) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	return getCustomer(ctx, r.pool, `SELECT id, name, phone, created_at FROM customers WHERE id = $1`, id)
}

// ListCustomerIDs returns every customer id in ascending order.
func (r *Repository) ListCustomerIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM customers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ledger: list customers: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("ledger: list customers: %w", err)
	}
	return ids, nil
}

// ListEntries returns the customer's entries in posting order.
func (r *Repository) ListEntries(ctx context.Context, customerID int64) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, customer_id, amount, reason, sale_id, COALESCE(payment_type, ''), created_at
FROM customer_transactions WHERE customer_id = $1 ORDER BY created_at, id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.Amount, &e.Reason, &e.SaleID, &e.PaymentType, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Totals computes the figures compared by the ledger invariant.
func (r *Repository) Totals(ctx context.Context, customerID int64) (Totals, error) {
	var t Totals
	err := r.pool.QueryRow(ctx, `SELECT
  (SELECT COALESCE(SUM(amount), 0) FROM customer_transactions WHERE customer_id = $1),
  (SELECT COALESCE(SUM(paid_amount - total_amount), 0) FROM sales WHERE customer_id = $1),
  (SELECT COALESCE(SUM(amount), 0) FROM customer_transactions WHERE customer_id = $1 AND sale_id IS NULL)`,
		customerID).Scan(&t.Entries, &t.SalesNet, &t.Unlinked)
	if err != nil {
		return Totals{}, fmt.Errorf("ledger: totals: %w", err)
	}
	return t, nil
}

func (r *txRepo) LockCustomer(ctx context.Context, id int64) (Customer, error) {
	return getCustomer(ctx, r.tx, `SELECT id, name, phone, created_at FROM customers WHERE id = $1 FOR UPDATE`, id)
}

func (r *txRepo) Append(ctx context.Context, e Entry) (Entry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO customer_transactions (customer_id, amount, reason, sale_id, payment_type)
VALUES ($1, $2, $3, $4, NULLIF($5, ''))
RETURNING id, created_at`, e.CustomerID, e.Amount, e.Reason, e.SaleID, e.PaymentType).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: append entry: %w", err)
	}
	return e, nil
}

func (r *txRepo) SumEntries(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	return sumEntries(ctx, r.tx, customerID)
}
