package sales

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/tradebook/internal/inventory"
	"github.com/odyssey-erp/tradebook/internal/ledger"
	"github.com/odyssey-erp/tradebook/internal/shared"
)

// RepositoryPort abstracts sale reads.
type RepositoryPort interface {
	GetSale(ctx context.Context, id int64) (Sale, error)
	ListByCustomer(ctx context.Context, customerID int64) ([]Sale, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Recorder counts sale outcomes and the stock movements they post.
type Recorder interface {
	SaleRecorded(result string)
	StockMoved(kind string)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// PriceWarnRatio is the fraction of the sell price under which a line is flagged.
	PriceWarnRatio decimal.Decimal
}

// Service coordinates sale creation across inventory and the customer ledger.
type Service struct {
	uow         UnitOfWork
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     Recorder
	logger      *slog.Logger
	validate    *validator.Validate
	warnRatio   decimal.Decimal
}

// Dependencies collects the optional collaborators of Service.
type Dependencies struct {
	Audit       AuditPort
	Idempotency IdempotencyPort
	Metrics     Recorder
	Logger      *slog.Logger
}

// NewService builds Service.
func NewService(uow UnitOfWork, repo RepositoryPort, cfg ServiceConfig, deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ratio := cfg.PriceWarnRatio
	if !ratio.IsPositive() {
		ratio = decimal.RequireFromString("0.8")
	}
	return &Service{
		uow:         uow,
		repo:        repo,
		audit:       deps.Audit,
		idempotency: deps.Idempotency,
		metrics:     deps.Metrics,
		logger:      logger,
		validate:    shared.NewValidator(),
		warnRatio:   ratio,
	}
}

const idempotencyModule = "sales"

// ValidateCreateSale checks the request shape before any transactional work.
func (s *Service) ValidateCreateSale(req CreateSaleRequest) error {
	if !req.PaymentType.Valid() {
		return ErrInvalidPaymentType
	}
	if !validMoney(req.Discount) || !validMoney(req.PaidAmount) {
		return shared.ErrInvalidAmount
	}
	for _, line := range req.Items {
		if !validMoney(line.Price) {
			return shared.ErrInvalidAmount
		}
		if !line.Quantity.IsPositive() || !shared.FitsScale(line.Quantity, shared.QuantityPlaces) {
			return inventory.ErrInvalidQuantity
		}
	}
	if err := s.validate.Struct(req); err != nil {
		return shared.ValidationError(err)
	}
	return nil
}

func validMoney(d decimal.Decimal) bool {
	return !d.IsNegative() && shared.FitsScale(d, shared.MoneyPlaces)
}

// CreateSale validates and commits a multi-line sale in one unit of work: stock
// is decremented, the sale and its lines are stored and one ledger entry of
// paid minus total is appended. Any failure leaves no trace.
func (s *Service) CreateSale(ctx context.Context, req CreateSaleRequest) (*Sale, error) {
	sale, err := s.createSale(ctx, req)
	if s.metrics != nil {
		s.metrics.SaleRecorded(shared.Outcome(err))
	}
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		for range sale.Items {
			s.metrics.StockMoved(string(inventory.MovementStockOut))
		}
	}
	for _, w := range sale.Warnings {
		s.logger.Warn("sale line priced below sell price",
			slog.Int64("sale_id", sale.ID),
			slog.Int64("item_id", w.ItemID),
			slog.String("price", w.Price.String()),
			slog.String("sell_price", w.SellPrice.String()))
	}
	s.record(ctx, shared.AuditLog{
		Action:   "sales:create",
		Entity:   "sale",
		EntityID: strconv.FormatInt(sale.ID, 10),
		Meta: map[string]any{
			"reference":    sale.Reference,
			"customer_id":  sale.CustomerID,
			"total_amount": sale.TotalAmount.String(),
			"paid_amount":  sale.PaidAmount.String(),
			"payment_type": string(sale.PaymentType),
		},
	})
	return sale, nil
}

func (s *Service) createSale(ctx context.Context, req CreateSaleRequest) (*Sale, error) {
	if err := s.ValidateCreateSale(req); err != nil {
		return nil, err
	}

	insertedKey := false
	if s.idempotency != nil && req.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, req.IdempotencyKey, idempotencyModule); err != nil {
			return nil, err
		}
		insertedKey = true
	}

	var created *Sale
	err := s.uow.WithTx(ctx, func(ctx context.Context, scope TxScope) error {
		sale, err := s.commitSale(ctx, scope, req)
		if err != nil {
			return err
		}
		created = sale
		return nil
	})
	if err != nil {
		if insertedKey {
			if delErr := s.idempotency.Delete(ctx, req.IdempotencyKey, idempotencyModule); delErr != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		return nil, err
	}
	return created, nil
}

// commitSale runs inside the unit of work. All checks happen before the first write.
func (s *Service) commitSale(ctx context.Context, scope TxScope, req CreateSaleRequest) (*Sale, error) {
	if _, err := scope.Ledger().LockCustomer(ctx, req.CustomerID); err != nil {
		return nil, err
	}

	requested := make(map[int64]decimal.Decimal, len(req.Items))
	for _, line := range req.Items {
		requested[line.ItemID] = requested[line.ItemID].Add(line.Quantity)
	}
	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, cmp.Compare[int64])

	items := make(map[int64]inventory.Item, len(ids))
	for _, id := range ids {
		item, err := scope.Inventory().GetItemForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		if requested[id].GreaterThan(item.Quantity) {
			return nil, &inventory.InsufficientStockError{ItemID: id, Available: item.Quantity, Requested: requested[id]}
		}
		items[id] = item
	}

	sale := &Sale{
		Reference:   uuid.NewString(),
		CustomerID:  req.CustomerID,
		Discount:    req.Discount,
		PaidAmount:  req.PaidAmount,
		PaymentType: req.PaymentType,
		Subtotal:    decimal.Zero,
	}
	lines := make([]SaleItem, 0, len(req.Items))
	for i, line := range req.Items {
		item := items[line.ItemID]
		if item.LimitPrice.Valid && line.Price.LessThan(item.LimitPrice.Decimal) {
			return nil, &PriceBelowLimitError{ItemID: item.ID, Limit: item.LimitPrice.Decimal, Given: line.Price}
		}
		if item.SellPrice.Valid && line.Price.LessThan(item.SellPrice.Decimal.Mul(s.warnRatio)) {
			sale.Warnings = append(sale.Warnings, PriceWarning{
				ItemID:    item.ID,
				Price:     line.Price,
				SellPrice: item.SellPrice.Decimal,
				Message:   fmt.Sprintf("price %s is below %s of sell price %s", line.Price, s.warnRatio, item.SellPrice.Decimal),
			})
		}
		lineTotal := line.Quantity.Mul(line.Price).Round(shared.MoneyPlaces)
		sale.Subtotal = sale.Subtotal.Add(lineTotal)
		lines = append(lines, SaleItem{
			ItemID:    line.ItemID,
			Quantity:  line.Quantity,
			Price:     line.Price,
			LineTotal: lineTotal,
			LineOrder: i + 1,
		})
	}
	if req.Discount.GreaterThan(sale.Subtotal) {
		return nil, fmt.Errorf("sales: discount %s exceeds subtotal %s: %w", req.Discount, sale.Subtotal, shared.ErrInvalidAmount)
	}
	sale.TotalAmount = sale.Subtotal.Sub(req.Discount)

	stored, err := scope.Sales().InsertSale(ctx, *sale)
	if err != nil {
		return nil, err
	}
	sale.ID = stored.ID
	sale.CreatedAt = stored.CreatedAt

	for _, line := range lines {
		line.SaleID = sale.ID
		inserted, err := scope.Sales().InsertItem(ctx, line)
		if err != nil {
			return nil, err
		}
		sale.Items = append(sale.Items, inserted)
	}

	ref := strconv.FormatInt(sale.ID, 10)
	for _, line := range sale.Items {
		if _, err := inventory.PostMovement(ctx, scope.Inventory(), inventory.Movement{
			ItemID:    line.ItemID,
			Kind:      inventory.MovementStockOut,
			Quantity:  line.Quantity,
			RefModule: idempotencyModule,
			RefID:     ref,
		}); err != nil {
			return nil, err
		}
	}

	saleID := sale.ID
	if _, err := ledger.Append(ctx, scope.Ledger(), ledger.Entry{
		CustomerID:  sale.CustomerID,
		Amount:      sale.PaidAmount.Sub(sale.TotalAmount),
		Reason:      ledger.ReasonSale,
		SaleID:      &saleID,
		PaymentType: string(sale.PaymentType),
	}); err != nil {
		return nil, err
	}

	sale.Status = StatusOf(sale.TotalAmount, sale.PaidAmount)
	return sale, nil
}

// GetSale loads a sale with its items.
func (s *Service) GetSale(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// ListByCustomer returns the customer's sales oldest first.
func (s *Service) ListByCustomer(ctx context.Context, customerID int64) ([]Sale, error) {
	return s.repo.ListByCustomer(ctx, customerID)
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("sales audit failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}

