// Package memstore is an in-memory unit of work for tests. Transactions run one
// at a time and their writes become visible only when fn returns nil.
package memstore

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/tradebook/internal/inventory"
	"github.com/odyssey-erp/tradebook/internal/ledger"
	"github.com/odyssey-erp/tradebook/internal/sales"
	_ "github.com/odyssey-erp/tradebook/internal/testing/guard"
)

// Fault points accepted by Fail.
const (
	OpInsertSale     = "sales.insert_sale"
	OpInsertItem     = "sales.insert_item"
	OpIncrementPaid  = "sales.increment_paid"
	OpUpdateQuantity = "inventory.update_quantity"
	OpInsertMovement = "inventory.insert_movement"
	OpAppendEntry    = "ledger.append"
)

type state struct {
	customers map[int64]ledger.Customer
	items     map[int64]inventory.Item
	movements []inventory.Movement
	sales     map[int64]sales.Sale
	saleItems []sales.SaleItem
	entries   []ledger.Entry
	seq       map[string]int64
}

func (s state) clone() state {
	return state{
		customers: maps.Clone(s.customers),
		items:     maps.Clone(s.items),
		movements: slices.Clone(s.movements),
		sales:     maps.Clone(s.sales),
		saleItems: slices.Clone(s.saleItems),
		entries:   slices.Clone(s.entries),
		seq:       maps.Clone(s.seq),
	}
}

func (s *state) next(name string) int64 {
	s.seq[name]++
	return s.seq[name]
}

// Store holds committed state.
type Store struct {
	mu      sync.Mutex
	state   state
	ticks   int64
	base    time.Time
	faults  map[string]error
	commits int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		state: state{
			customers: map[int64]ledger.Customer{},
			items:     map[int64]inventory.Item{},
			sales:     map[int64]sales.Sale{},
			seq:       map[string]int64{},
		},
		base:   time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
		faults: map[string]error{},
	}
}

// Fail makes every later call to op return err until cleared with a nil err.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// Commits returns the number of committed units of work.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// now hands out strictly increasing timestamps. Callers hold mu.
func (s *Store) now() time.Time {
	s.ticks++
	return s.base.Add(time.Duration(s.ticks) * time.Millisecond)
}

func (s *Store) fault(op string) error {
	return s.faults[op]
}

// WithTx implements sales.UnitOfWork.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, sales.TxScope) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(ctx, &scope{store: s, st: &work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	s.commits++
	return nil
}

// SeedCustomer stores a customer outside any unit of work.
func (s *Store) SeedCustomer(name string) ledger.Customer {
	c, _ := s.Ledger().CreateCustomer(context.Background(), ledger.Customer{Name: name})
	return c
}

// SeedItem stores an item and, when it has stock, the STOCK_IN movement that explains it.
func (s *Store) SeedItem(item inventory.Item) inventory.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.state.next("item")
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt
	s.state.items[item.ID] = item
	if item.Quantity.IsPositive() {
		s.state.movements = append(s.state.movements, inventory.Movement{
			ID:        s.state.next("movement"),
			ItemID:    item.ID,
			Kind:      inventory.MovementStockIn,
			Quantity:  item.Quantity,
			Note:      "opening stock",
			CreatedAt: item.CreatedAt,
		})
	}
	return item
}

// ============================================================================
// TX SCOPE
// ============================================================================

type scope struct {
	store *Store
	st    *state
}

func (sc *scope) Sales() sales.TxRepository         { return salesTx(*sc) }
func (sc *scope) Inventory() inventory.TxRepository { return inventoryTx(*sc) }
func (sc *scope) Ledger() ledger.TxRepository       { return ledgerTx(*sc) }

type salesTx scope

func (t salesTx) InsertSale(ctx context.Context, sale sales.Sale) (sales.Sale, error) {
	if err := t.store.fault(OpInsertSale); err != nil {
		return sales.Sale{}, err
	}
	sale.ID = t.st.next("sale")
	sale.CreatedAt = t.store.now()
	stored := sale
	stored.Items = nil
	stored.Warnings = nil
	t.st.sales[sale.ID] = stored
	return sale, nil
}

func (t salesTx) InsertItem(ctx context.Context, item sales.SaleItem) (sales.SaleItem, error) {
	if err := t.store.fault(OpInsertItem); err != nil {
		return sales.SaleItem{}, err
	}
	if _, ok := t.st.sales[item.SaleID]; !ok {
		return sales.SaleItem{}, errors.New("memstore: sale_items foreign key violation")
	}
	item.ID = t.st.next("sale_item")
	t.st.saleItems = append(t.st.saleItems, item)
	return item, nil
}

func (t salesTx) ListOutstandingForUpdate(ctx context.Context, customerID int64) ([]sales.Sale, error) {
	var out []sales.Sale
	for _, sale := range t.st.sales {
		if sale.CustomerID == customerID && sale.TotalAmount.GreaterThan(sale.PaidAmount) {
			sale.Status = sales.StatusOf(sale.TotalAmount, sale.PaidAmount)
			out = append(out, sale)
		}
	}
	sortSales(out)
	return out, nil
}

func (t salesTx) IncrementPaid(ctx context.Context, saleID int64, amount decimal.Decimal) error {
	if err := t.store.fault(OpIncrementPaid); err != nil {
		return err
	}
	sale, ok := t.st.sales[saleID]
	if !ok {
		return sales.ErrSaleNotFound
	}
	paid := sale.PaidAmount.Add(amount)
	if paid.GreaterThan(sale.TotalAmount) {
		return sales.ErrOverpayment
	}
	sale.PaidAmount = paid
	t.st.sales[saleID] = sale
	return nil
}

type inventoryTx scope

func (t inventoryTx) InsertItem(ctx context.Context, item inventory.Item) (inventory.Item, error) {
	for _, existing := range t.st.items {
		if existing.SKU == item.SKU {
			return inventory.Item{}, inventory.ErrDuplicateSKU
		}
	}
	item.ID = t.st.next("item")
	item.CreatedAt = t.store.now()
	item.UpdatedAt = item.CreatedAt
	t.st.items[item.ID] = item
	return item, nil
}

func (t inventoryTx) GetItemForUpdate(ctx context.Context, id int64) (inventory.Item, error) {
	item, ok := t.st.items[id]
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	return item, nil
}

func (t inventoryTx) UpdateQuantity(ctx context.Context, id int64, qty decimal.Decimal) error {
	if err := t.store.fault(OpUpdateQuantity); err != nil {
		return err
	}
	item, ok := t.st.items[id]
	if !ok {
		return inventory.ErrItemNotFound
	}
	if qty.IsNegative() {
		return errors.New("memstore: inventory_items quantity check violation")
	}
	item.Quantity = qty
	item.UpdatedAt = t.store.now()
	t.st.items[id] = item
	return nil
}

func (t inventoryTx) InsertMovement(ctx context.Context, m inventory.Movement) (inventory.Movement, error) {
	if err := t.store.fault(OpInsertMovement); err != nil {
		return inventory.Movement{}, err
	}
	m.ID = t.st.next("movement")
	m.CreatedAt = t.store.now()
	t.st.movements = append(t.st.movements, m)
	return m, nil
}

type ledgerTx scope

func (t ledgerTx) LockCustomer(ctx context.Context, id int64) (ledger.Customer, error) {
	c, ok := t.st.customers[id]
	if !ok {
		return ledger.Customer{}, ledger.ErrCustomerNotFound
	}
	return c, nil
}

func (t ledgerTx) Append(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	if err := t.store.fault(OpAppendEntry); err != nil {
		return ledger.Entry{}, err
	}
	e.ID = t.st.next("entry")
	e.CreatedAt = t.store.now()
	t.st.entries = append(t.st.entries, e)
	return e, nil
}

func (t ledgerTx) SumEntries(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	return ledger.Sum(entriesOf(t.st.entries, customerID)), nil
}

// ============================================================================
// COMMITTED READS
// ============================================================================

// GetSale implements sales.RepositoryPort.
func (s *Store) GetSale(ctx context.Context, id int64) (sales.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.state.sales[id]
	if !ok {
		return sales.Sale{}, sales.ErrSaleNotFound
	}
	for _, it := range s.state.saleItems {
		if it.SaleID == id {
			sale.Items = append(sale.Items, it)
		}
	}
	sale.Status = sales.StatusOf(sale.TotalAmount, sale.PaidAmount)
	return sale, nil
}

// ListByCustomer implements sales.RepositoryPort.
func (s *Store) ListByCustomer(ctx context.Context, customerID int64) ([]sales.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sales.Sale
	for _, sale := range s.state.sales {
		if sale.CustomerID == customerID {
			sale.Status = sales.StatusOf(sale.TotalAmount, sale.PaidAmount)
			out = append(out, sale)
		}
	}
	sortSales(out)
	return out, nil
}

func sortSales(list []sales.Sale) {
	slices.SortFunc(list, func(a, b sales.Sale) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func entriesOf(all []ledger.Entry, customerID int64) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range all {
		if e.CustomerID == customerID {
			out = append(out, e)
		}
	}
	return out
}
