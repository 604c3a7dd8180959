package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"flashsale/internal/broadcast"
	"flashsale/internal/config"
	"flashsale/internal/directory"
	"flashsale/internal/ledger"
	"flashsale/internal/models"
	"flashsale/internal/service"
	"flashsale/internal/store"
)

type memStore struct {
	mu        sync.Mutex
	sales     []models.Sale
	purchases []models.Purchase
}

func (m *memStore) CreateSale(ctx context.Context, sale *models.Sale) (*models.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale.ID = int64(len(m.sales) + 1)
	for i := range sale.Lines {
		sale.Lines[i].ID = sale.ID*100 + int64(i)
		sale.Lines[i].SaleID = sale.ID
		sale.Lines[i].StockRemaining = sale.Lines[i].StockLimit
	}
	m.sales = append(m.sales, *sale)
	return sale, nil
}

func (m *memStore) ListSales(ctx context.Context) ([]models.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Sale, len(m.sales))
	copy(out, m.sales)
	return out, nil
}

func (m *memStore) GetSaleByID(ctx context.Context, saleID int64) (*models.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sale := range m.sales {
		if sale.ID == saleID {
			out := sale
			out.Lines = append([]models.SaleLine(nil), sale.Lines...)
			return &out, nil
		}
	}
	return nil, store.ErrDBSaleNotFound
}

func (m *memStore) SetSaleStatus(ctx context.Context, saleID int64, status models.SaleStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sales {
		if m.sales[i].ID == saleID {
			m.sales[i].Status = status
			return nil
		}
	}
	return store.ErrDBSaleNotFound
}

func (m *memStore) EndExpiredSales(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) LineSoldCounts(ctx context.Context) (map[int64]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[int64]int)
	for _, p := range m.purchases {
		counts[p.SaleLineID]++
	}
	return counts, nil
}

func (m *memStore) CreatePurchase(ctx context.Context, p *models.Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.purchases {
		if existing.SaleID == p.SaleID && existing.BuyerID == p.BuyerID {
			return store.ErrDBDuplicateBuyer
		}
	}
	m.purchases = append(m.purchases, *p)
	return nil
}

func (m *memStore) LeaderboardPage(ctx context.Context, saleID int64, limit, offset int) ([]models.Purchase, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []models.Purchase
	for _, p := range m.purchases {
		if p.SaleID == saleID {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Rank < all[j].Rank })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memStore) RecentPurchases(ctx context.Context, saleID int64, n int) ([]models.Purchase, error) {
	all, _, err := m.LeaderboardPage(ctx, saleID, n, 0)
	return all, err
}

type memBus struct{}

func (memBus) PublishEvent(ctx context.Context, saleID int64, event any) error { return nil }
func (memBus) PushRecentPurchase(ctx context.Context, p *models.Purchase, keep int) error {
	return nil
}
func (memBus) RecentPurchases(ctx context.Context, saleID int64, n int) ([]models.Purchase, error) {
	return nil, nil
}

const adminToken = "test-token"

func newTestRouter(t *testing.T, stock int) http.Handler {
	t.Helper()

	now := time.Now().UTC()
	st := &memStore{
		sales: []models.Sale{{
			ID:        1,
			Title:     "Flash Drop",
			Status:    models.SaleStatusActive,
			StartTime: now.Add(-time.Minute),
			EndTime:   now.Add(time.Hour),
			Lines: []models.SaleLine{{
				ID: 10, SaleID: 1, ProductID: "p-1", PriceMinor: 4999,
				StockLimit: stock, StockRemaining: stock,
			}},
		}},
	}

	logger := log.New(io.Discard, "", 0)
	cfg := &config.Config{RecentFeedSize: 20, AdminToken: adminToken}
	svc := service.NewSaleService(logger, st, memBus{}, ledger.New(), directory.New(logger, st), cfg)
	assert.NoError(t, svc.Bootstrap(context.Background()))

	return SetupRoutes(logger, svc, broadcast.NewHub(logger), cfg)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		assert.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(t, 5)
	rec := doJSON(t, router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSaleStatusEndpoint(t *testing.T) {
	router := newTestRouter(t, 5)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/sale/status?productId=p-1", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var view service.SaleStatusView
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "p-1", view.ProductID)
	assert.Equal(t, 5, view.TotalStock)
	assert.Equal(t, 5, view.RemainingStock)
	assert.Equal(t, "live", string(view.Status))

	rec = doJSON(t, router, http.MethodGet, "/api/v1/sale/status", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/sale/status?productId=missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurchaseEndpoint(t *testing.T) {
	router := newTestRouter(t, 1)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/sale/purchase",
		PurchaseRequest{ProductID: "p-1", UserID: "u-1", Username: "alice"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp PurchaseResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Rank)
	assert.NotEmpty(t, resp.OrderID)
	assert.NotNil(t, resp.PurchasedAt)

	// repeat purchase: business rejection, still HTTP 200
	rec = doJSON(t, router, http.MethodPost, "/api/v1/sale/purchase",
		PurchaseRequest{ProductID: "p-1", UserID: "u-1"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "you already purchased this item", resp.Message)

	// stock gone: sold out, still HTTP 200
	rec = doJSON(t, router, http.MethodPost, "/api/v1/sale/purchase",
		PurchaseRequest{ProductID: "p-1", UserID: "u-2"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "sold out", resp.Message)
}

func TestPurchaseEndpointValidation(t *testing.T) {
	router := newTestRouter(t, 5)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/sale/purchase",
		PurchaseRequest{ProductID: "p-1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/sale/purchase",
		PurchaseRequest{UserID: "u-1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaderboardEndpoint(t *testing.T) {
	router := newTestRouter(t, 5)

	for i := 0; i < 3; i++ {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/sale/purchase",
			PurchaseRequest{ProductID: "p-1", UserID: fmt.Sprintf("u-%d", i)}, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/v1/sale/leaderboard?saleId=1&page=1&limit=2", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp LeaderboardResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	assert.Len(t, resp.Entries, 2)
	assert.Equal(t, 1, resp.Entries[0].Rank)
	assert.Equal(t, 2, resp.Entries[1].Rank)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/sale/leaderboard?saleId=99", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/sale/leaderboard", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	router := newTestRouter(t, 5)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/admin/sales/1/deactivate", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/admin/sales/1/deactivate", nil,
		map[string]string{"X-Admin-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	auth := map[string]string{"X-Admin-Token": adminToken}
	rec = doJSON(t, router, http.MethodPost, "/api/v1/admin/sales/1/deactivate", nil, auth)
	assert.Equal(t, http.StatusOK, rec.Code)

	// deactivated sale rejects buyers
	rec = doJSON(t, router, http.MethodPost, "/api/v1/sale/purchase",
		PurchaseRequest{ProductID: "p-1", UserID: "u-1"}, nil)
	var resp PurchaseResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "sale not currently live", resp.Message)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/admin/sales/1/activate", nil, auth)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/admin/sales/42/activate", nil, auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminCreateSale(t *testing.T) {
	router := newTestRouter(t, 5)
	auth := map[string]string{"X-Admin-Token": adminToken}

	now := time.Now().UTC()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/admin/sales", CreateSaleRequest{
		Title:     "Second Drop",
		StartTime: now.Add(-time.Minute),
		EndTime:   now.Add(time.Hour),
		Lines:     []CreateSaleLineRequest{{ProductID: "p-2", PriceMinor: 999, StockLimit: 2}},
	}, auth)
	assert.Equal(t, http.StatusCreated, rec.Code)

	var sale models.Sale
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sale))
	assert.NotZero(t, sale.ID)

	// invalid window rejected
	rec = doJSON(t, router, http.MethodPost, "/api/v1/admin/sales", CreateSaleRequest{
		Title:     "Broken",
		StartTime: now,
		EndTime:   now,
		Lines:     []CreateSaleLineRequest{{ProductID: "p-3", StockLimit: 1}},
	}, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// the new sale is immediately purchasable
	rec = doJSON(t, router, http.MethodPost, "/api/v1/sale/purchase",
		PurchaseRequest{ProductID: "p-2", UserID: "u-9"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp PurchaseResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}
