package ar

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/tradebook/internal/ledger"
	"github.com/odyssey-erp/tradebook/internal/sales"
	"github.com/odyssey-erp/tradebook/internal/shared"
)

// Recorder counts payment outcomes.
type Recorder interface {
	PaymentRecorded(result string)
}

// Dependencies collects the optional collaborators of Service.
type Dependencies struct {
	Audit       sales.AuditPort
	Idempotency sales.IdempotencyPort
	Metrics     Recorder
	Logger      *slog.Logger
}

// Service handles payment allocation.
type Service struct {
	uow         sales.UnitOfWork
	audit       sales.AuditPort
	idempotency sales.IdempotencyPort
	metrics     Recorder
	logger      *slog.Logger
	validate    *validator.Validate
}

// NewService builds Service instance.
func NewService(uow sales.UnitOfWork, deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		uow:         uow,
		audit:       deps.Audit,
		idempotency: deps.Idempotency,
		metrics:     deps.Metrics,
		logger:      logger,
		validate:    shared.NewValidator(),
	}
}

const idempotencyModule = "payments"

// RecordPayment applies a payment to the customer's outstanding sales oldest
// first and books any remainder as an advance payment.
func (s *Service) RecordPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	result, err := s.recordPayment(ctx, req)
	if s.metrics != nil {
		s.metrics.PaymentRecorded(shared.Outcome(err))
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment recorded",
		slog.Int64("customer_id", result.CustomerID),
		slog.String("amount", result.Amount.String()),
		slog.Int("allocations", len(result.Allocations)),
		slog.String("advance", result.Advance.String()),
		slog.String("balance", result.Balance.String()))
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Action:   "payments:record",
			Entity:   "customer",
			EntityID: strconv.FormatInt(result.CustomerID, 10),
			Meta: map[string]any{
				"amount":       result.Amount.String(),
				"payment_type": string(result.PaymentType),
				"allocations":  len(result.Allocations),
				"advance":      result.Advance.String(),
			},
		}); err != nil {
			s.logger.Warn("payment audit failed", slog.Any("error", err))
		}
	}
	return result, nil
}

func (s *Service) recordPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if !req.Amount.IsPositive() || !shared.FitsScale(req.Amount, shared.MoneyPlaces) {
		return nil, shared.ErrInvalidAmount
	}
	if !req.PaymentType.Valid() {
		return nil, sales.ErrInvalidPaymentType
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, shared.ValidationError(err)
	}

	insertedKey := false
	if s.idempotency != nil && req.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, req.IdempotencyKey, idempotencyModule); err != nil {
			return nil, err
		}
		insertedKey = true
	}

	var result *PaymentResult
	err := s.uow.WithTx(ctx, func(ctx context.Context, scope sales.TxScope) error {
		res, err := s.allocate(ctx, scope, req)
		if err != nil {
			return err
		}
		result = res
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
	return result, nil
}

func (s *Service) allocate(ctx context.Context, scope sales.TxScope, req PaymentRequest) (*PaymentResult, error) {
	if _, err := scope.Ledger().LockCustomer(ctx, req.CustomerID); err != nil {
		return nil, err
	}
	outstanding, err := scope.Sales().ListOutstandingForUpdate(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	allocations, leftover := Allocate(outstanding, req.Amount)
	result := &PaymentResult{
		CustomerID:  req.CustomerID,
		Amount:      req.Amount,
		PaymentType: req.PaymentType,
		Allocations: allocations,
		Advance:     decimal.Zero,
	}
	for _, a := range allocations {
		if err := scope.Sales().IncrementPaid(ctx, a.SaleID, a.Applied); err != nil {
			return nil, err
		}
		saleID := a.SaleID
		entry, err := ledger.Append(ctx, scope.Ledger(), ledger.Entry{
			CustomerID:  req.CustomerID,
			Amount:      a.Applied,
			Reason:      ledger.PaymentAppliedReason(a.SaleID),
			SaleID:      &saleID,
			PaymentType: string(req.PaymentType),
		})
		if err != nil {
			return nil, err
		}
		result.Entries = append(result.Entries, entry)
	}
	if leftover.IsPositive() {
		entry, err := ledger.Append(ctx, scope.Ledger(), ledger.Entry{
			CustomerID:  req.CustomerID,
			Amount:      leftover,
			Reason:      ledger.ReasonAdvancePayment,
			PaymentType: string(req.PaymentType),
		})
		if err != nil {
			return nil, err
		}
		result.Advance = leftover
		result.Entries = append(result.Entries, entry)
	}

	balance, err := scope.Ledger().SumEntries(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}
	result.Balance = balance
	result.Status = ledger.StatusOf(balance)
	return result, nil
}
