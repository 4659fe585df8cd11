package sales_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/odyssey-erp/tradebook/internal/inventory"
	"github.com/odyssey-erp/tradebook/internal/ledger"
	"github.com/odyssey-erp/tradebook/internal/sales"
	"github.com/odyssey-erp/tradebook/internal/shared"
	"github.com/odyssey-erp/tradebook/internal/testing/memstore"
)

type recorder struct {
	mu    sync.Mutex
	sales map[string]int
	moves map[string]int
}

func newRecorder() *recorder {
	return &recorder{sales: map[string]int{}, moves: map[string]int{}}
}

func (r *recorder) SaleRecorded(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sales[result]++
}

func (r *recorder) StockMoved(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves[kind]++
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nullDec(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

type CreateSaleSuite struct {
	suite.Suite
	ctx      context.Context
	store    *memstore.Store
	metrics  *recorder
	svc      *sales.Service
	customer ledger.Customer
	widget   inventory.Item
	gadget   inventory.Item
}

func TestCreateSaleSuite(t *testing.T) {
	suite.Run(t, new(CreateSaleSuite))
}

func (s *CreateSaleSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memstore.New()
	s.metrics = newRecorder()
	s.svc = sales.NewService(s.store, s.store, sales.ServiceConfig{}, sales.Dependencies{Metrics: s.metrics})
	s.customer = s.store.SeedCustomer("Dewi")
	s.widget = s.store.SeedItem(inventory.Item{SKU: "W-1", Name: "Widget", Unit: "pcs", Quantity: dec("10"), SellPrice: nullDec("100"), LimitPrice: nullDec("90")})
	s.gadget = s.store.SeedItem(inventory.Item{SKU: "G-1", Name: "Gadget", Unit: "pcs", Quantity: dec("4"), SellPrice: nullDec("50")})
}

func (s *CreateSaleSuite) request(lines ...sales.SaleLineRequest) sales.CreateSaleRequest {
	return sales.CreateSaleRequest{CustomerID: s.customer.ID, Items: lines, PaymentType: sales.PaymentCash}
}

func (s *CreateSaleSuite) quantity(id int64) decimal.Decimal {
	item, err := s.store.Inventory().GetItem(s.ctx, id)
	s.Require().NoError(err)
	return item.Quantity
}

func (s *CreateSaleSuite) balance() ledger.Balance {
	b, err := ledger.NewService(s.store.Ledger(), nil, nil).GetBalance(s.ctx, s.customer.ID)
	s.Require().NoError(err)
	return b
}

func (s *CreateSaleSuite) requireUntouched() {
	s.True(s.quantity(s.widget.ID).Equal(dec("10")))
	s.True(s.quantity(s.gadget.ID).Equal(dec("4")))
	list, err := s.store.ListByCustomer(s.ctx, s.customer.ID)
	s.Require().NoError(err)
	s.Empty(list)
	s.Empty(s.balance().Transactions)
	movements, err := s.store.Inventory().ListMovements(s.ctx, s.widget.ID)
	s.Require().NoError(err)
	s.Len(movements, 1, "only the opening stock movement")
}

func (s *CreateSaleSuite) TestTotalsStockAndLedger() {
	req := s.request(
		sales.SaleLineRequest{ItemID: s.widget.ID, Quantity: dec("2"), Price: dec("100")},
		sales.SaleLineRequest{ItemID: s.gadget.ID, Quantity: dec("1"), Price: dec("50")},
	)
	req.Discount = dec("20")
	req.PaidAmount = dec("100")

	sale, err := s.svc.CreateSale(s.ctx, req)
	s.Require().NoError(err)
	s.True(sale.Subtotal.Equal(dec("250")))
	s.True(sale.TotalAmount.Equal(dec("230")))
	s.True(sale.PaidAmount.Equal(dec("100")))
	s.Equal(sales.StatusPartiallyPaid, sale.Status)
	s.NotEmpty(sale.Reference)
	s.Require().Len(sale.Items, 2)
	s.True(sale.Items[0].LineTotal.Equal(dec("200")))
	s.Empty(sale.Warnings)

	s.True(s.quantity(s.widget.ID).Equal(dec("8")))
	s.True(s.quantity(s.gadget.ID).Equal(dec("3")))

	movements, err := s.store.Inventory().ListMovements(s.ctx, s.widget.ID)
	s.Require().NoError(err)
	s.Require().Len(movements, 2)
	s.Equal(inventory.MovementStockOut, movements[1].Kind)
	s.Equal("sales", movements[1].RefModule)

	b := s.balance()
	s.True(b.Balance.Equal(dec("-130")))
	s.Equal(ledger.StatusDue, b.Status)
	s.Require().Len(b.Transactions, 1)
	s.Equal(ledger.ReasonSale, b.Transactions[0].Reason)
	s.Require().NotNil(b.Transactions[0].SaleID)
	s.Equal(sale.ID, *b.Transactions[0].SaleID)

	stored, err := s.svc.GetSale(s.ctx, sale.ID)
	s.Require().NoError(err)
	s.Len(stored.Items, 2)
	s.True(stored.Items[1].Price.Equal(dec("50")))

	s.Equal(1, s.metrics.sales[shared.OutcomeSuccess])
	s.Equal(2, s.metrics.moves[string(inventory.MovementStockOut)])
}

func (s *CreateSaleSuite) TestReplayStaysConsistent() {
	_, err := s.svc.CreateSale(s.ctx, s.request(sales.SaleLineRequest{ItemID: s.widget.ID, Quantity: dec("3"), Price: dec("95")}))
	s.Require().NoError(err)

	result, err := inventory.NewService(s.store.Inventory(), nil, nil, nil).Replay(s.ctx, s.widget.ID)
	s.Require().NoError(err)
	s.True(result.Consistent)
	s.True(result.Replayed.Equal(dec("7")))

	verify, err := ledger.NewService(s.store.Ledger(), nil, nil).Verify(s.ctx, s.customer.ID)
	s.Require().NoError(err)
	s.True(verify.Consistent)
}

func (s *CreateSaleSuite) TestFailureAfterWritesRollsBackEverything() {
	s.store.Fail(memstore.OpAppendEntry, errors.New("disk full"))
	commits := s.store.Commits()

	_, err := s.svc.CreateSale(s.ctx, s.request(
		sales.SaleLineRequest{ItemID: s.widget.ID, Quantity: dec("1"), Price: dec("100")},
		sales.SaleLineRequest{ItemID: s.gadget.ID, Quantity: dec("1"), Price: dec("50")},
	))
	s.Require().EqualError(err, "disk full")
	s.Equal(commits, s.store.Commits())
	s.requireUntouched()
	s.Equal(1, s.metrics.sales[shared.OutcomeFailed])
}

func (s *CreateSaleSuite) TestInsufficientStockOnSecondLine() {
	_, err := s.svc.CreateSale(s.ctx, s.request(
		sales.SaleLineRequest{ItemID: s.widget.ID, Quantity: dec("1"), Price: dec("100")},
		sales.SaleLineRequest{ItemID: s.gadget.ID, Quantity: dec("5"), Price: dec("50")},
	))
	var insufficient *inventory.InsufficientStockError
	s.Require().ErrorAs(err, &insufficient)
	s.Equal(s.gadget.ID, insufficient.ItemID)
	s.True(insufficient.Available.Equal(dec("4")))
	s.requireUntouched()
	s.Equal(1, s.metrics.sales[shared.OutcomeRejected])
}

func (s *CreateSaleSuite) TestDuplicateLinesAreAggregated() {
	_, err := s.svc.CreateSale(s.ctx, s.request(
		sales.SaleLineRequest{ItemID: s.gadget.ID, Quantity: dec("3"), Price: dec("50")},
		sales.SaleLineRequest{ItemID: s.gadget.ID, Quantity: dec("3"), Price: dec("50")},
	))
	var insufficient *inventory.InsufficientStockError
	s.Require().ErrorAs(err, &insufficient)
	s.True(insufficient.Requested.Equal(dec("6")))
	s.requireUntouched()

	sale, err := s.svc.CreateSale(s.ctx, s.request(
		sales.SaleLineRequest{ItemID: s.gadget.ID, Quantity: dec("2"), Price: dec("50")},
		sales.SaleLineRequest{ItemID: s.gadget.ID, Quantity: dec("2"), Price: dec("45")},
	))
	s.Require().NoError(err)
	s.Len(sale.Items, 2)
	s.True(sale.Subtotal.Equal(dec("190")))
	s.True(s.quantity(s.gadget.ID).IsZero())
}

func (s *CreateSaleSuite) TestPriceBelowLimit() {
	_, err := s.svc.CreateSale(s.ctx, s.request(sales.SaleLineRequest{ItemID: s.widget.ID, Quantity: dec("1"), Price: dec("89.99")}))
	var below *sales.PriceBelowLimitError
	s.Require().ErrorAs(err, &below)
	s.Equal(s.widget.ID, below.ItemID)
	s.True(below.Limit.Equal(dec("90")))
	s.True(below.Given.Equal(dec("89.99")))
	s.ErrorIs(err, shared.ErrUnprocessable)
	s.requireUntouched()
}

func (s *CreateSaleSuite) TestPriceWarningDoesNotBlock() {
	sale, err := s.svc.CreateSale(s.ctx, s.request(sales.SaleLineRequest{ItemID: s.gadget.ID, Quantity: dec("1"), Price: dec("30")}))
	s.Require().NoError(err)
	s.Require().Len(sale.Warnings, 1)
	s.Equal(s.gadget.ID, sale.Warnings[0].ItemID)
	s.True(sale.Warnings[0].SellPrice.Equal(dec("50")))

	sale, err = s.svc.CreateSale(s.ctx, s.request(sales.SaleLineRequest{ItemID: s.gadget.ID, Quantity: dec("1"), Price: dec("40")}))
	s.Require().NoError(err)
	s.Empty(sale.Warnings, "exactly 80% of the sell price is not flagged")
}

func (s *CreateSaleSuite) TestOverpaidSaleCreditsCustomer() {
	req := s.request(sales.SaleLineRequest{ItemID: s.gadget.ID, Quantity: dec("2"), Price: dec("50")})
	req.PaidAmount = dec("120")
	sale, err := s.svc.CreateSale(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(sales.StatusSettled, sale.Status)
	s.True(sale.PaidAmount.Equal(dec("120")))

	b := s.balance()
	s.True(b.Balance.Equal(dec("20")))
	s.Equal(ledger.StatusCredit, b.Status)
}

func (s *CreateSaleSuite) TestUnknownCustomerAndItem() {
	req := s.request(sales.SaleLineRequest{ItemID: s.widget.ID, Quantity: dec("1"), Price: dec("100")})
	req.CustomerID = 999
	_, err := s.svc.CreateSale(s.ctx, req)
	s.ErrorIs(err, ledger.ErrCustomerNotFound)

	_, err = s.svc.CreateSale(s.ctx, s.request(sales.SaleLineRequest{ItemID: 999, Quantity: dec("1"), Price: dec("1")}))
	s.ErrorIs(err, inventory.ErrItemNotFound)
	s.requireUntouched()
}

func (s *CreateSaleSuite) TestRequestValidation() {
	line := sales.SaleLineRequest{ItemID: s.widget.ID, Quantity: dec("1"), Price: dec("100")}

	req := s.request(line)
	req.PaymentType = "CHEQUE"
	_, err := s.svc.CreateSale(s.ctx, req)
	s.ErrorIs(err, sales.ErrInvalidPaymentType)

	req = s.request(line)
	req.Discount = dec("-1")
	_, err = s.svc.CreateSale(s.ctx, req)
	s.ErrorIs(err, shared.ErrInvalidAmount)

	req = s.request(line)
	req.PaidAmount = dec("-5")
	_, err = s.svc.CreateSale(s.ctx, req)
	s.ErrorIs(err, shared.ErrInvalidAmount)

	req = s.request(line)
	req.Discount = dec("100.01")
	_, err = s.svc.CreateSale(s.ctx, req)
	s.ErrorIs(err, shared.ErrInvalidAmount)

	_, err = s.svc.CreateSale(s.ctx, s.request())
	s.ErrorIs(err, shared.ErrValidation)

	_, err = s.svc.CreateSale(s.ctx, s.request(sales.SaleLineRequest{ItemID: s.widget.ID, Quantity: decimal.Zero, Price: dec("100")}))
	s.ErrorIs(err, inventory.ErrInvalidQuantity)

	s.requireUntouched()
	s.Zero(s.metrics.sales[shared.OutcomeSuccess])
}

func (s *CreateSaleSuite) TestRejectsValuesFinerThanStoredScale() {
	line := sales.SaleLineRequest{ItemID: s.widget.ID, Quantity: dec("1"), Price: dec("100")}

	_, err := s.svc.CreateSale(s.ctx, s.request(sales.SaleLineRequest{ItemID: s.widget.ID, Quantity: dec("1.0005"), Price: dec("100")}))
	s.ErrorIs(err, inventory.ErrInvalidQuantity)

	_, err = s.svc.CreateSale(s.ctx, s.request(sales.SaleLineRequest{ItemID: s.widget.ID, Quantity: dec("1"), Price: dec("100.005")}))
	s.ErrorIs(err, shared.ErrInvalidAmount)

	req := s.request(line)
	req.PaidAmount = dec("0.005")
	_, err = s.svc.CreateSale(s.ctx, req)
	s.ErrorIs(err, shared.ErrInvalidAmount)

	req = s.request(line)
	req.Discount = dec("0.005")
	_, err = s.svc.CreateSale(s.ctx, req)
	s.ErrorIs(err, shared.ErrInvalidAmount)

	s.requireUntouched()
}

func (s *CreateSaleSuite) TestLineTotalsRoundToCents() {
	sale, err := s.svc.CreateSale(s.ctx, s.request(
		sales.SaleLineRequest{ItemID: s.widget.ID, Quantity: dec("0.333"), Price: dec("100.01")},
		sales.SaleLineRequest{ItemID: s.gadget.ID, Quantity: dec("1.5"), Price: dec("50")},
	))
	s.Require().NoError(err)
	s.Require().Len(sale.Items, 2)
	s.True(sale.Items[0].LineTotal.Equal(dec("33.30")), "line total %s", sale.Items[0].LineTotal)
	s.True(sale.Subtotal.Equal(dec("108.30")), "subtotal %s", sale.Subtotal)
	s.True(s.quantity(s.widget.ID).Equal(dec("9.667")))
}

func (s *CreateSaleSuite) TestDiscountEqualToSubtotal() {
	req := s.request(sales.SaleLineRequest{ItemID: s.widget.ID, Quantity: dec("1"), Price: dec("100")})
	req.Discount = dec("100")
	sale, err := s.svc.CreateSale(s.ctx, req)
	s.Require().NoError(err)
	s.True(sale.TotalAmount.IsZero())
	s.Equal(sales.StatusSettled, sale.Status)
}

// TestConcurrentSalesNeverOversell checks that the stock check inside the unit of
// work holds when buyers race. memstore serializes units of work behind one
// mutex; row locks and serialization retries on PostgreSQL are covered by
// TestPostgresConcurrentSalesNeverOversell.
func TestConcurrentSalesNeverOversell(t *testing.T) {
	store := memstore.New()
	customer := store.SeedCustomer("Eka")
	item := store.SeedItem(inventory.Item{SKU: "C-1", Name: "Cable", Unit: "pcs", Quantity: dec("5")})
	svc := sales.NewService(store, store, sales.ServiceConfig{}, sales.Dependencies{})

	const buyers = 2
	errs := make([]error, buyers)
	var wg sync.WaitGroup
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.CreateSale(context.Background(), sales.CreateSaleRequest{
				CustomerID:  customer.ID,
				Items:       []sales.SaleLineRequest{{ItemID: item.ID, Quantity: dec("3"), Price: dec("10")}},
				PaymentType: sales.PaymentCredit,
			})
		}()
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		var insufficient *inventory.InsufficientStockError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &insufficient):
			rejected++
			require.True(t, insufficient.Available.Equal(dec("2")))
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, rejected)

	got, err := store.Inventory().GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.True(t, got.Quantity.Equal(dec("2")))
}

func TestIdempotencyKeyBlocksReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memstore.New()
	customer := store.SeedCustomer("Fajar")
	item := store.SeedItem(inventory.Item{SKU: "I-1", Name: "Ink", Unit: "pcs", Quantity: dec("3")})
	svc := sales.NewService(store, store, sales.ServiceConfig{}, sales.Dependencies{
		Idempotency: shared.NewIdempotencyStore(client, time.Hour),
	})
	ctx := context.Background()

	req := sales.CreateSaleRequest{
		CustomerID:     customer.ID,
		Items:          []sales.SaleLineRequest{{ItemID: item.ID, Quantity: dec("5"), Price: dec("10")}},
		PaymentType:    sales.PaymentCash,
		IdempotencyKey: "req-1",
	}
	_, err := svc.CreateSale(ctx, req)
	var insufficient *inventory.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	req.Items[0].Quantity = dec("1")
	_, err = svc.CreateSale(ctx, req)
	require.NoError(t, err, "a failed attempt releases its key")

	_, err = svc.CreateSale(ctx, req)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	list, err := store.ListByCustomer(ctx, customer.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
