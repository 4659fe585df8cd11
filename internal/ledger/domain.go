// Package ledger keeps the append-only customer transaction log. A customer's
// balance is always the sum of their entries and is never stored.
package ledger

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/tradebook/internal/shared"
)

// Entry reasons written by the sale and payment flows.
const (
	ReasonSale           = "Sale"
	ReasonAdvancePayment = "advance payment"
)

// PaymentAppliedReason is the reason of an allocation entry for saleID.
func PaymentAppliedReason(saleID int64) string {
	return "payment applied to sale #" + strconv.FormatInt(saleID, 10)
}

// Customer is a party that buys on account.
type Customer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry is one signed customer transaction. Negative amounts are debt owed by
// the customer, positive amounts are money received.
type Entry struct {
	ID          int64           `json:"id"`
	CustomerID  int64           `json:"customer_id"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason"`
	SaleID      *int64          `json:"sale_id,omitempty"`
	PaymentType string          `json:"payment_type,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Status summarises the sign of a balance.
type Status string

const (
	// StatusDue means the customer owes money.
	StatusDue Status = "DUE"
	// StatusSettled means the balance is exactly zero.
	StatusSettled Status = "SETTLED"
	// StatusCredit means the customer has prepaid.
	StatusCredit Status = "CREDIT"
)

// StatusOf classifies a balance.
func StatusOf(balance decimal.Decimal) Status {
	switch balance.Sign() {
	case -1:
		return StatusDue
	case 1:
		return StatusCredit
	default:
		return StatusSettled
	}
}

// Balance is the derived view of a customer's ledger.
type Balance struct {
	CustomerID   int64           `json:"customer_id"`
	Balance      decimal.Decimal `json:"balance"`
	Status       Status          `json:"status"`
	Transactions []Entry         `json:"transactions"`
}

// Sum adds up entry amounts.
func Sum(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

// NewBalance derives the balance view from entries.
func NewBalance(customerID int64, entries []Entry) Balance {
	if entries == nil {
		entries = []Entry{}
	}
	sum := Sum(entries)
	return Balance{CustomerID: customerID, Balance: sum, Status: StatusOf(sum), Transactions: entries}
}

// Totals holds the figures the ledger invariant compares.
type Totals struct {
	// Entries is the sum of all entries of the customer.
	Entries decimal.Decimal
	// SalesNet is the sum of paid minus total over the customer's sales.
	SalesNet decimal.Decimal
	// Unlinked is the sum of entries that reference no sale.
	Unlinked decimal.Decimal
}

// VerifyResult reports whether the ledger matches the customer's sales.
type VerifyResult struct {
	CustomerID int64           `json:"customer_id"`
	Ledger     decimal.Decimal `json:"ledger"`
	Expected   decimal.Decimal `json:"expected"`
	Consistent bool            `json:"consistent"`
}

// CreateCustomerRequest registers a customer.
type CreateCustomerRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
}

// ErrCustomerNotFound indicates the customer does not exist.
var ErrCustomerNotFound = fmt.Errorf("ledger: customer %w", shared.ErrNotFound)
