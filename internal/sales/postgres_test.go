package sales_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/tradebook/internal/inventory"
	"github.com/odyssey-erp/tradebook/internal/ledger"
	"github.com/odyssey-erp/tradebook/internal/platform/db"
	"github.com/odyssey-erp/tradebook/internal/sales"
	"github.com/odyssey-erp/tradebook/migrations"
)

// TRADEBOOK_TEST_PG_DSN points at a disposable database; the schema is applied on start.
const testDSNEnv = "TRADEBOOK_TEST_PG_DSN"

func TestPostgresConcurrentSalesNeverOversell(t *testing.T) {
	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDSNEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.New(ctx, dsn, db.PoolOptions{MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, migrations.Apply(ctx, pool))

	txOpts := db.TxOptions{Timeout: 10 * time.Second}
	inventoryService := inventory.NewService(inventory.NewRepository(pool, txOpts), nil, nil, nil)
	item, err := inventoryService.CreateItem(ctx, inventory.CreateItemRequest{
		SKU:      "RACE-" + uuid.NewString(),
		Name:     "Contended",
		Unit:     "pcs",
		Quantity: dec("5"),
	})
	require.NoError(t, err)
	customer, err := ledger.NewService(ledger.NewRepository(pool), nil, nil).CreateCustomer(ctx, ledger.CreateCustomerRequest{Name: "Racer"})
	require.NoError(t, err)

	repo := sales.NewRepository(pool, txOpts)
	svc := sales.NewService(repo, repo, sales.ServiceConfig{}, sales.Dependencies{})

	// Two successful commits at most, so every loser fits in the retry budget.
	const buyers = 3
	errs := make([]error, buyers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = svc.CreateSale(ctx, sales.CreateSaleRequest{
				CustomerID:  customer.ID,
				Items:       []sales.SaleLineRequest{{ItemID: item.ID, Quantity: dec("2"), Price: dec("10")}},
				PaymentType: sales.PaymentCredit,
			})
		}()
	}
	close(start)
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		var insufficient *inventory.InsufficientStockError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &insufficient):
			rejected++
			require.True(t, insufficient.Available.Equal(dec("1")), "available %s", insufficient.Available)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 2, ok)
	require.Equal(t, 1, rejected)

	got, err := inventoryService.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, got.Quantity.Equal(dec("1")), "quantity %s", got.Quantity)

	replay, err := inventoryService.Replay(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, replay.Consistent)
	require.Equal(t, 3, replay.Movements)

	balance, err := ledger.NewService(ledger.NewRepository(pool), nil, nil).GetBalance(ctx, customer.ID)
	require.NoError(t, err)
	require.True(t, balance.Balance.Equal(dec("-40")), "balance %s", balance.Balance)
}
