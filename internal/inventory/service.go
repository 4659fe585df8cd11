package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/tradebook/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItems(ctx context.Context) ([]Item, error)
	ListLowStock(ctx context.Context) ([]Item, error)
	Snapshot(ctx context.Context, itemID int64) (Item, []Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder counts posted movements.
type Recorder interface {
	StockMoved(kind string)
}

// Service coordinates inventory operations.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	metrics  Recorder
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService builds Service. audit and metrics are optional.
func NewService(repo RepositoryPort, audit AuditPort, metrics Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, metrics: metrics, logger: logger, validate: shared.NewValidator()}
}

// PostingResult is the item state after a movement together with the movement itself.
type PostingResult struct {
	Item     Item     `json:"item"`
	Movement Movement `json:"movement"`
}

// PostMovement applies m to the item row locked inside tx and appends m to the
// movement log. A stock-out larger than the current quantity leaves the row untouched.
func PostMovement(ctx context.Context, tx TxRepository, m Movement) (PostingResult, error) {
	if !validQuantity(m.Quantity) {
		return PostingResult{}, ErrInvalidQuantity
	}
	if m.Kind != MovementStockIn && m.Kind != MovementStockOut {
		return PostingResult{}, fmt.Errorf("inventory: unknown movement kind %q: %w", m.Kind, shared.ErrValidation)
	}
	item, err := tx.GetItemForUpdate(ctx, m.ItemID)
	if err != nil {
		return PostingResult{}, err
	}
	if m.Kind == MovementStockOut && m.Quantity.GreaterThan(item.Quantity) {
		return PostingResult{}, &InsufficientStockError{ItemID: item.ID, Available: item.Quantity, Requested: m.Quantity}
	}
	item.Quantity = item.Quantity.Add(m.Delta())
	if err := tx.UpdateQuantity(ctx, item.ID, item.Quantity); err != nil {
		return PostingResult{}, err
	}
	posted, err := tx.InsertMovement(ctx, m)
	if err != nil {
		return PostingResult{}, err
	}
	return PostingResult{Item: item, Movement: posted}, nil
}

// StockIn increments stock and appends a STOCK_IN movement.
func (s *Service) StockIn(ctx context.Context, input StockInput) (PostingResult, error) {
	return s.post(ctx, MovementStockIn, input)
}

// StockOut decrements stock and appends a STOCK_OUT movement.
func (s *Service) StockOut(ctx context.Context, input StockInput) (PostingResult, error) {
	return s.post(ctx, MovementStockOut, input)
}

func validQuantity(q decimal.Decimal) bool {
	return q.IsPositive() && shared.FitsScale(q, shared.QuantityPlaces)
}

func (s *Service) post(ctx context.Context, kind MovementKind, input StockInput) (PostingResult, error) {
	if !validQuantity(input.Qty) {
		return PostingResult{}, ErrInvalidQuantity
	}
	if err := s.validate.Struct(input); err != nil {
		return PostingResult{}, shared.ValidationError(err)
	}
	var result PostingResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = PostMovement(ctx, tx, Movement{
			ItemID:    input.ItemID,
			Kind:      kind,
			Quantity:  input.Qty,
			RefModule: "inventory",
			Note:      input.Note,
		})
		return err
	})
	if err != nil {
		return PostingResult{}, err
	}
	if s.metrics != nil {
		s.metrics.StockMoved(string(kind))
	}
	s.record(ctx, shared.AuditLog{
		Action:   "inventory:" + string(kind),
		Entity:   "inventory_item",
		EntityID: strconv.FormatInt(input.ItemID, 10),
		Meta: map[string]any{
			"qty":         input.Qty.String(),
			"quantity":    result.Item.Quantity.String(),
			"movement_id": result.Movement.ID,
			"note":        input.Note,
		},
	})
	return result, nil
}

// CreateItem registers a new stocked item. Opening stock is posted as a STOCK_IN
// movement in the same transaction so the movement log replays to the stored quantity.
func (s *Service) CreateItem(ctx context.Context, req CreateItemRequest) (Item, error) {
	if err := s.validate.Struct(req); err != nil {
		return Item{}, shared.ValidationError(err)
	}
	if err := checkItemScales(req); err != nil {
		return Item{}, err
	}
	var item Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		item, err = tx.InsertItem(ctx, Item{
			SKU:           req.SKU,
			Name:          req.Name,
			Unit:          req.Unit,
			BasePrice:     req.BasePrice,
			SellPrice:     req.SellPrice,
			LimitPrice:    req.LimitPrice,
			LowStockLimit: req.LowStockLimit,
		})
		if err != nil || !req.Quantity.IsPositive() {
			return err
		}
		opening, err := PostMovement(ctx, tx, Movement{
			ItemID:    item.ID,
			Kind:      MovementStockIn,
			Quantity:  req.Quantity,
			RefModule: "inventory",
			Note:      "opening stock",
		})
		if err != nil {
			return err
		}
		item = opening.Item
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	if s.metrics != nil && req.Quantity.IsPositive() {
		s.metrics.StockMoved(string(MovementStockIn))
	}
	s.record(ctx, shared.AuditLog{
		Action:   "inventory:create",
		Entity:   "inventory_item",
		EntityID: strconv.FormatInt(item.ID, 10),
		Meta:     map[string]any{"sku": item.SKU, "quantity": item.Quantity.String()},
	})
	return item, nil
}

func checkItemScales(req CreateItemRequest) error {
	if !shared.FitsScale(req.Quantity, shared.QuantityPlaces) || !shared.FitsScale(req.LowStockLimit, shared.QuantityPlaces) {
		return ErrInvalidQuantity
	}
	prices := []decimal.NullDecimal{decimal.NewNullDecimal(req.BasePrice), req.SellPrice, req.LimitPrice}
	for _, p := range prices {
		if p.Valid && !shared.FitsScale(p.Decimal, shared.MoneyPlaces) {
			return shared.ErrInvalidAmount
		}
	}
	return nil
}

// GetItem loads an item.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// ListItems returns every item.
func (s *Service) ListItems(ctx context.Context) ([]Item, error) {
	return s.repo.ListItems(ctx)
}

// ListLowStock returns items at or below their low stock limit.
func (s *Service) ListLowStock(ctx context.Context) ([]Item, error) {
	return s.repo.ListLowStock(ctx)
}

// ListMovements returns the movement history of an existing item.
func (s *Service) ListMovements(ctx context.Context, itemID int64) ([]Movement, error) {
	_, movements, err := s.repo.Snapshot(ctx, itemID)
	return movements, err
}

// Replay folds the movement history of an item and compares it with the stored
// quantity. Both are read from one snapshot.
func (s *Service) Replay(ctx context.Context, itemID int64) (ReplayResult, error) {
	item, movements, err := s.repo.Snapshot(ctx, itemID)
	if err != nil {
		return ReplayResult{}, err
	}
	result := ReplayMovements(item, movements)
	if !result.Consistent {
		s.logger.Warn("inventory replay mismatch",
			slog.Int64("item_id", itemID),
			slog.String("stored", result.Stored.String()),
			slog.String("replayed", result.Replayed.String()))
	}
	return result, nil
}

// ReplayMovements folds movements from zero and compares the result with item.Quantity.
func ReplayMovements(item Item, movements []Movement) ReplayResult {
	result := ReplayResult{ItemID: item.ID, Stored: item.Quantity, Movements: len(movements)}
	for _, m := range movements {
		result.Replayed = result.Replayed.Add(m.Delta())
	}
	result.Consistent = result.Replayed.Equal(result.Stored)
	return result
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("inventory audit failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}
