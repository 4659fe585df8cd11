package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/tradebook/internal/shared"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// MovementStockIn represents an inbound movement.
	MovementStockIn MovementKind = "STOCK_IN"
	// MovementStockOut represents an outbound movement.
	MovementStockOut MovementKind = "STOCK_OUT"
)

// Item is a stocked product with its current quantity and pricing rules.
type Item struct {
	ID            int64               `json:"id"`
	SKU           string              `json:"sku"`
	Name          string              `json:"name"`
	Quantity      decimal.Decimal     `json:"quantity"`
	Unit          string              `json:"unit"`
	BasePrice     decimal.Decimal     `json:"base_price"`
	SellPrice     decimal.NullDecimal `json:"sell_price"`
	LimitPrice    decimal.NullDecimal `json:"limit_price"`
	LowStockLimit decimal.Decimal     `json:"low_stock_limit"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// IsLowStock reports whether quantity reached the low stock limit.
func (i Item) IsLowStock() bool {
	return i.Quantity.LessThanOrEqual(i.LowStockLimit)
}

// Movement is an append-only stock movement record.
type Movement struct {
	ID        int64           `json:"id"`
	ItemID    int64           `json:"item_id"`
	Kind      MovementKind    `json:"kind"`
	Quantity  decimal.Decimal `json:"quantity"`
	RefModule string          `json:"ref_module,omitempty"`
	RefID     string          `json:"ref_id,omitempty"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Delta returns the signed quantity change of the movement.
func (m Movement) Delta() decimal.Decimal {
	if m.Kind == MovementStockOut {
		return m.Quantity.Neg()
	}
	return m.Quantity
}

// CreateItemRequest describes a new stocked item.
type CreateItemRequest struct {
	SKU           string              `json:"sku" validate:"required,max=64"`
	Name          string              `json:"name" validate:"required,max=200"`
	Unit          string              `json:"unit" validate:"required,max=20"`
	Quantity      decimal.Decimal     `json:"quantity" validate:"gte=0"`
	BasePrice     decimal.Decimal     `json:"base_price" validate:"gte=0"`
	SellPrice     decimal.NullDecimal `json:"sell_price" validate:"omitempty,gte=0"`
	LimitPrice    decimal.NullDecimal `json:"limit_price" validate:"omitempty,gte=0"`
	LowStockLimit decimal.Decimal     `json:"low_stock_limit" validate:"gte=0"`
}

// StockInput requests a manual stock-in or stock-out.
type StockInput struct {
	ItemID int64           `json:"-" validate:"gt=0"`
	Qty    decimal.Decimal `json:"qty" validate:"gt=0"`
	Note   string          `json:"note" validate:"max=500"`
}

// ReplayResult compares the stored quantity with the fold of the movement history.
type ReplayResult struct {
	ItemID     int64           `json:"item_id"`
	Stored     decimal.Decimal `json:"stored"`
	Replayed   decimal.Decimal `json:"replayed"`
	Movements  int             `json:"movements"`
	Consistent bool            `json:"consistent"`
}

var (
	// ErrItemNotFound indicates the item does not exist.
	ErrItemNotFound = fmt.Errorf("inventory: item %w", shared.ErrNotFound)
	// ErrInvalidQuantity indicates a zero or negative quantity, or one finer than
	// the three decimal places stock is stored with.
	ErrInvalidQuantity = fmt.Errorf("inventory: quantity must be positive with at most 3 decimal places: %w", shared.ErrValidation)
	// ErrDuplicateSKU indicates another item already uses the SKU.
	ErrDuplicateSKU = fmt.Errorf("inventory: sku already exists: %w", shared.ErrConflict)
)

// InsufficientStockError reports a stock-out larger than the available quantity.
type InsufficientStockError struct {
	ItemID    int64
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for item %d: available %s, requested %s", e.ItemID, e.Available, e.Requested)
}

// Unwrap classifies the error as a conflict with current state.
func (e *InsufficientStockError) Unwrap() error {
	return shared.ErrConflict
}
