package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/tradebook/internal/shared"
)

// RepositoryPort abstracts ledger reads used by the service.
type RepositoryPort interface {
	CreateCustomer(ctx context.Context, c Customer) (Customer, error)
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	ListCustomerIDs(ctx context.Context) ([]int64, error)
	ListEntries(ctx context.Context, customerID int64) ([]Entry, error)
	Totals(ctx context.Context, customerID int64) (Totals, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes customers and their derived balances.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, validate: shared.NewValidator()}
}

// Append validates and writes entry through tx.
func Append(ctx context.Context, tx TxRepository, entry Entry) (Entry, error) {
	if entry.CustomerID <= 0 {
		return Entry{}, fmt.Errorf("ledger: customer required: %w", shared.ErrValidation)
	}
	if entry.Reason == "" {
		return Entry{}, fmt.Errorf("ledger: reason required: %w", shared.ErrValidation)
	}
	return tx.Append(ctx, entry)
}

// CreateCustomer registers a new customer with an empty ledger.
func (s *Service) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (Customer, error) {
	if err := s.validate.Struct(req); err != nil {
		return Customer{}, shared.ValidationError(err)
	}
	customer, err := s.repo.CreateCustomer(ctx, Customer{Name: req.Name, Phone: req.Phone})
	if err != nil {
		return Customer{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Action:   "customer:create",
			Entity:   "customer",
			EntityID: strconv.FormatInt(customer.ID, 10),
			Meta:     map[string]any{"name": customer.Name},
		}); err != nil {
			s.logger.Warn("ledger audit failed", slog.Any("error", err))
		}
	}
	return customer, nil
}

// GetCustomer loads a customer.
func (s *Service) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// ListCustomerIDs returns every customer id.
func (s *Service) ListCustomerIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListCustomerIDs(ctx)
}

// GetBalance sums the customer's entries at query time.
func (s *Service) GetBalance(ctx context.Context, customerID int64) (Balance, error) {
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return Balance{}, err
	}
	entries, err := s.repo.ListEntries(ctx, customerID)
	if err != nil {
		return Balance{}, err
	}
	return NewBalance(customerID, entries), nil
}

// Verify checks that the ledger equals the net of the customer's sales plus
// entries that reference no sale.
func (s *Service) Verify(ctx context.Context, customerID int64) (VerifyResult, error) {
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return VerifyResult{}, err
	}
	totals, err := s.repo.Totals(ctx, customerID)
	if err != nil {
		return VerifyResult{}, err
	}
	expected := totals.SalesNet.Add(totals.Unlinked)
	result := VerifyResult{
		CustomerID: customerID,
		Ledger:     totals.Entries,
		Expected:   expected,
		Consistent: totals.Entries.Equal(expected),
	}
	if !result.Consistent {
		s.logger.Warn("customer ledger mismatch",
			slog.Int64("customer_id", customerID),
			slog.String("ledger", result.Ledger.String()),
			slog.String("expected", result.Expected.String()))
	}
	return result, nil
}
