package memstore

import (
	"context"
	"maps"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/tradebook/internal/inventory"
	"github.com/odyssey-erp/tradebook/internal/ledger"
)

// InventoryRepo adapts Store to inventory.RepositoryPort.
type InventoryRepo struct {
	store *Store
}

// Inventory returns the inventory view of the store.
func (s *Store) Inventory() *InventoryRepo {
	return &InventoryRepo{store: s}
}

// WithTx runs fn in a unit of work that only touches inventory.
func (r *InventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(ctx, inventoryTx{store: s, st: &work}); err != nil {
		return err
	}
	s.state = work
	s.commits++
	return nil
}

func (r *InventoryRepo) GetItem(ctx context.Context, id int64) (inventory.Item, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	item, ok := r.store.state.items[id]
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	return item, nil
}

func (r *InventoryRepo) ListItems(ctx context.Context) ([]inventory.Item, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ids := slices.Sorted(maps.Keys(r.store.state.items))
	items := make([]inventory.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, r.store.state.items[id])
	}
	return items, nil
}

func (r *InventoryRepo) ListLowStock(ctx context.Context) ([]inventory.Item, error) {
	items, _ := r.ListItems(ctx)
	var low []inventory.Item
	for _, item := range items {
		if item.IsLowStock() {
			low = append(low, item)
		}
	}
	return low, nil
}

// ListMovements returns the movement log of an item.
func (r *InventoryRepo) ListMovements(ctx context.Context, itemID int64) ([]inventory.Movement, error) {
	_, movements, err := r.Snapshot(ctx, itemID)
	return movements, err
}

func (r *InventoryRepo) Snapshot(ctx context.Context, itemID int64) (inventory.Item, []inventory.Movement, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	item, ok := r.store.state.items[itemID]
	if !ok {
		return inventory.Item{}, nil, inventory.ErrItemNotFound
	}
	var out []inventory.Movement
	for _, m := range r.store.state.movements {
		if m.ItemID == itemID {
			out = append(out, m)
		}
	}
	return item, out, nil
}

// LedgerRepo adapts Store to ledger.RepositoryPort.
type LedgerRepo struct {
	store *Store
}

// Ledger returns the ledger view of the store.
func (s *Store) Ledger() *LedgerRepo {
	return &LedgerRepo{store: s}
}

func (r *LedgerRepo) CreateCustomer(ctx context.Context, c ledger.Customer) (ledger.Customer, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.state.next("customer")
	c.CreatedAt = s.now()
	s.state.customers[c.ID] = c
	return c, nil
}

func (r *LedgerRepo) GetCustomer(ctx context.Context, id int64) (ledger.Customer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.state.customers[id]
	if !ok {
		return ledger.Customer{}, ledger.ErrCustomerNotFound
	}
	return c, nil
}

func (r *LedgerRepo) ListCustomerIDs(ctx context.Context) ([]int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return slices.Sorted(maps.Keys(r.store.state.customers)), nil
}

func (r *LedgerRepo) ListEntries(ctx context.Context, customerID int64) ([]ledger.Entry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return entriesOf(r.store.state.entries, customerID), nil
}

func (r *LedgerRepo) Totals(ctx context.Context, customerID int64) (ledger.Totals, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	entries := entriesOf(r.store.state.entries, customerID)
	totals := ledger.Totals{Entries: ledger.Sum(entries), SalesNet: decimal.Zero, Unlinked: decimal.Zero}
	for _, e := range entries {
		if e.SaleID == nil {
			totals.Unlinked = totals.Unlinked.Add(e.Amount)
		}
	}
	for _, sale := range r.store.state.sales {
		if sale.CustomerID == customerID {
			totals.SalesNet = totals.SalesNet.Add(sale.PaidAmount.Sub(sale.TotalAmount))
		}
	}
	return totals, nil
}

// AppendEntry writes a ledger entry outside any sale, for tests that need to
// corrupt or pre-load a ledger.
func (r *LedgerRepo) AppendEntry(e ledger.Entry) ledger.Entry {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.state.next("entry")
	e.CreatedAt = s.now()
	s.state.entries = append(s.state.entries, e)
	return e
}
