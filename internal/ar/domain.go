// Package ar allocates customer payments to outstanding sales.
package ar

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/tradebook/internal/ledger"
	"github.com/odyssey-erp/tradebook/internal/sales"
)

// PaymentRequest is an incoming customer payment.
type PaymentRequest struct {
	CustomerID     int64             `json:"-" validate:"gt=0"`
	Amount         decimal.Decimal   `json:"amount"`
	PaymentType    sales.PaymentType `json:"payment_type"`
	IdempotencyKey string            `json:"-"`
}

// Allocation is the part of a payment applied to one sale.
type Allocation struct {
	SaleID       int64           `json:"sale_id"`
	Applied      decimal.Decimal `json:"applied"`
	RemainingDue decimal.Decimal `json:"remaining_due"`
	Status       sales.Status    `json:"status"`
}

// PaymentResult reports how a payment was spread.
type PaymentResult struct {
	CustomerID  int64             `json:"customer_id"`
	Amount      decimal.Decimal   `json:"amount"`
	PaymentType sales.PaymentType `json:"payment_type"`
	Allocations []Allocation      `json:"allocations"`
	Advance     decimal.Decimal   `json:"advance"`
	Balance     decimal.Decimal   `json:"balance"`
	Status      ledger.Status     `json:"status"`
	Entries     []ledger.Entry    `json:"entries"`
}

// Allocate spreads amount over outstanding sales in the given order. Each sale
// receives at most its due amount; what is left over is returned.
func Allocate(outstanding []sales.Sale, amount decimal.Decimal) ([]Allocation, decimal.Decimal) {
	remaining := amount
	allocations := make([]Allocation, 0, len(outstanding))
	for _, sale := range outstanding {
		if !remaining.IsPositive() {
			break
		}
		due := sale.Due()
		if !due.IsPositive() {
			continue
		}
		applied := decimal.Min(due, remaining)
		remaining = remaining.Sub(applied)
		paid := sale.PaidAmount.Add(applied)
		allocations = append(allocations, Allocation{
			SaleID:       sale.ID,
			Applied:      applied,
			RemainingDue: due.Sub(applied),
			Status:       sales.StatusOf(sale.TotalAmount, paid),
		})
	}
	return allocations, remaining
}
