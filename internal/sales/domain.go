package sales

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/tradebook/internal/shared"
)

// ============================================================================
// PAYMENT TYPES
// ============================================================================

// PaymentType enumerates accepted tenders.
type PaymentType string

const (
	PaymentCash         PaymentType = "CASH"
	PaymentBankTransfer PaymentType = "BANK_TRANSFER"
	PaymentCard         PaymentType = "CARD"
	PaymentEWallet      PaymentType = "E_WALLET"
	PaymentCredit       PaymentType = "CREDIT"
)

// Valid reports whether p is one of the enumerated payment types.
func (p PaymentType) Valid() bool {
	switch p {
	case PaymentCash, PaymentBankTransfer, PaymentCard, PaymentEWallet, PaymentCredit:
		return true
	}
	return false
}

// ============================================================================
// SALE
// ============================================================================

// Status is derived from total and paid amounts and never stored.
type Status string

const (
	StatusUnpaid        Status = "UNPAID"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusSettled       Status = "SETTLED"
)

// StatusOf derives the payment state of a sale.
func StatusOf(total, paid decimal.Decimal) Status {
	switch {
	case paid.GreaterThanOrEqual(total):
		return StatusSettled
	case paid.IsZero():
		return StatusUnpaid
	default:
		return StatusPartiallyPaid
	}
}

// Sale is a committed retail transaction. Items carry the prices charged at sale time.
type Sale struct {
	ID          int64           `json:"id"`
	Reference   string          `json:"reference"`
	CustomerID  int64           `json:"customer_id"`
	Items       []SaleItem      `json:"items"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	PaymentType PaymentType     `json:"payment_type"`
	Status      Status          `json:"status"`
	Warnings    []PriceWarning  `json:"warnings,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Due returns the unpaid part of the sale.
func (s Sale) Due() decimal.Decimal {
	due := s.TotalAmount.Sub(s.PaidAmount)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// SaleItem is one line of a sale.
type SaleItem struct {
	ID        int64           `json:"id"`
	SaleID    int64           `json:"sale_id"`
	ItemID    int64           `json:"item_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	LineTotal decimal.Decimal `json:"line_total"`
	LineOrder int             `json:"line_order"`
}

// PriceWarning flags a line sold well under the listed sell price.
type PriceWarning struct {
	ItemID    int64           `json:"item_id"`
	Price     decimal.Decimal `json:"price"`
	SellPrice decimal.Decimal `json:"sell_price"`
	Message   string          `json:"message"`
}

// ============================================================================
// REQUESTS
// ============================================================================

// SaleLineRequest is one requested line.
type SaleLineRequest struct {
	ItemID   int64           `json:"item_id" validate:"gt=0"`
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
	Price    decimal.Decimal `json:"price" validate:"gte=0"`
}

// CreateSaleRequest is the input of CreateSale.
type CreateSaleRequest struct {
	CustomerID     int64             `json:"customer_id" validate:"gt=0"`
	Items          []SaleLineRequest `json:"items" validate:"min=1,dive"`
	Discount       decimal.Decimal   `json:"discount"`
	PaidAmount     decimal.Decimal   `json:"paid_amount"`
	PaymentType    PaymentType       `json:"payment_type"`
	IdempotencyKey string            `json:"-"`
}

// ============================================================================
// ERRORS
// ============================================================================

var (
	// ErrInvalidPaymentType indicates a payment type outside the enumerated set.
	ErrInvalidPaymentType = fmt.Errorf("sales: invalid payment type: %w", shared.ErrValidation)
	// ErrSaleNotFound indicates the sale does not exist.
	ErrSaleNotFound = fmt.Errorf("sales: sale %w", shared.ErrNotFound)
	// ErrOverpayment indicates an allocation larger than the amount due.
	ErrOverpayment = fmt.Errorf("sales: paid amount would exceed total: %w", shared.ErrConflict)
)

// PriceBelowLimitError reports a line priced under the item's limit price.
type PriceBelowLimitError struct {
	ItemID int64
	Limit  decimal.Decimal
	Given  decimal.Decimal
}

func (e *PriceBelowLimitError) Error() string {
	return fmt.Sprintf("sales: price %s for item %d is below limit %s", e.Given, e.ItemID, e.Limit)
}

// Unwrap classifies the error as a business rule rejection.
func (e *PriceBelowLimitError) Unwrap() error {
	return shared.ErrUnprocessable
}
