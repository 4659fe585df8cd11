package sales_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/tradebook/internal/inventory"
	"github.com/odyssey-erp/tradebook/internal/sales"
	"github.com/odyssey-erp/tradebook/internal/shared"
	"github.com/odyssey-erp/tradebook/internal/testing/memstore"
)

func newTestRouter(t *testing.T) (http.Handler, int64, int64) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memstore.New()
	customer := store.SeedCustomer("Gita")
	item := store.SeedItem(inventory.Item{SKU: "H-1", Name: "Hammer", Unit: "pcs", Quantity: dec("2"), LimitPrice: nullDec("10")})
	svc := sales.NewService(store, store, sales.ServiceConfig{}, sales.Dependencies{
		Idempotency: shared.NewIdempotencyStore(client, time.Hour),
	})
	r := chi.NewRouter()
	r.Route("/api/sales", sales.NewHandler(nil, svc).MountRoutes)
	return r, customer.ID, item.ID
}

func postSale(router http.Handler, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/sales", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(sales.IdempotencyHeader, key)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreateAndGet(t *testing.T) {
	router, customerID, itemID := newTestRouter(t)
	body := fmt.Sprintf(`{"customer_id":%d,"items":[{"item_id":%d,"quantity":"1","price":"12.50"}],"discount":"0","paid_amount":"5","payment_type":"E_WALLET"}`, customerID, itemID)

	rec := postSale(router, body, "k-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sale sales.Sale
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sale))
	assert.True(t, sale.TotalAmount.Equal(dec("12.5")))
	assert.Equal(t, sales.StatusPartiallyPaid, sale.Status)
	assert.Equal(t, fmt.Sprintf("/api/sales/%d", sale.ID), rec.Header().Get("Location"))

	rec = postSale(router, body, "k-1")
	require.Equal(t, http.StatusConflict, rec.Code)

	get := httptest.NewRecorder()
	router.ServeHTTP(get, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/sales/%d", sale.ID), nil))
	require.Equal(t, http.StatusOK, get.Code)
	assert.Contains(t, get.Body.String(), `"payment_type":"E_WALLET"`)

	list := httptest.NewRecorder()
	router.ServeHTTP(list, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/sales?customer_id=%d", customerID), nil))
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), sale.Reference)
}

func TestHandlerErrorMapping(t *testing.T) {
	router, customerID, itemID := newTestRouter(t)
	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"insufficient stock", fmt.Sprintf(`{"customer_id":%d,"items":[{"item_id":%d,"quantity":"3","price":"20"}],"payment_type":"CASH"}`, customerID, itemID), http.StatusConflict},
		{"below limit", fmt.Sprintf(`{"customer_id":%d,"items":[{"item_id":%d,"quantity":"1","price":"9"}],"payment_type":"CASH"}`, customerID, itemID), http.StatusUnprocessableEntity},
		{"bad payment type", fmt.Sprintf(`{"customer_id":%d,"items":[{"item_id":%d,"quantity":"1","price":"20"}],"payment_type":"BARTER"}`, customerID, itemID), http.StatusBadRequest},
		{"unknown customer", fmt.Sprintf(`{"customer_id":777,"items":[{"item_id":%d,"quantity":"1","price":"20"}],"payment_type":"CASH"}`, itemID), http.StatusNotFound},
		{"unknown field", `{"customer":1}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postSale(router, tc.body, "")
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sales/404", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
