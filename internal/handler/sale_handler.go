package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"flashsale/internal/models"
	"flashsale/internal/service"
)

type Handler struct {
	logger *log.Logger
	sales  *service.SaleService
}

func NewHandler(logger *log.Logger, sales *service.SaleService) *Handler {
	return &Handler{logger: logger, sales: sales}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) SaleStatus(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("productId")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "productId query parameter is required")
		return
	}

	view, err := h.sales.Status(productID)
	if err != nil {
		if errors.Is(err, service.ErrSaleNotFound) {
			respondError(w, http.StatusNotFound, "no sale found for this product")
			return
		}
		h.logger.Printf("Error building sale status for product %s: %v", productID, err)
		respondError(w, http.StatusInternalServerError, "failed to load sale status")
		return
	}

	respondJSON(w, http.StatusOK, view)
}

type PurchaseRequest struct {
	SaleID    int64  `json:"sale_id,omitempty"`
	ProductID string `json:"product_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
}

type PurchaseResponse struct {
	Success     bool       `json:"success"`
	Message     string     `json:"message"`
	OrderID     string     `json:"order_id,omitempty"`
	Rank        int        `json:"rank,omitempty"`
	PurchasedAt *time.Time `json:"purchased_at,omitempty"`
}

// Purchase runs one admission attempt. Business-rule rejections come back as
// HTTP 200 with success=false; non-200 is reserved for malformed requests and
// infrastructure failures.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.SaleID == 0 && req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "sale_id or product_id is required")
		return
	}
	if req.Username == "" {
		req.Username = req.UserID
	}

	purchase, err := h.sales.Purchase(r.Context(), req.SaleID, req.ProductID, req.UserID, req.Username)
	if err != nil {
		var message string
		switch {
		case errors.Is(err, service.ErrOutOfStock):
			message = "sold out"
		case errors.Is(err, service.ErrSaleNotLive):
			message = "sale not currently live"
		case errors.Is(err, service.ErrAlreadyPurchased):
			message = "you already purchased this item"
		case errors.Is(err, service.ErrSaleNotFound):
			message = "sale not found"
		default:
			h.logger.Printf("Error processing purchase for user %s: %v", req.UserID, err)
			respondError(w, http.StatusInternalServerError, "purchase processing failed")
			return
		}
		respondJSON(w, http.StatusOK, PurchaseResponse{Success: false, Message: message})
		return
	}

	respondJSON(w, http.StatusOK, PurchaseResponse{
		Success:     true,
		Message:     "purchased successfully",
		OrderID:     purchase.ID,
		Rank:        purchase.Rank,
		PurchasedAt: &purchase.PurchasedAt,
	})
}

type LeaderboardEntry struct {
	Rank        int       `json:"rank"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	PurchasedAt time.Time `json:"purchased_at"`
}

type LeaderboardResponse struct {
	Entries []LeaderboardEntry `json:"entries"`
	Total   int                `json:"total"`
	Page    int                `json:"page"`
	Limit   int                `json:"limit"`
}

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	saleID, err := strconv.ParseInt(r.URL.Query().Get("saleId"), 10, 64)
	if err != nil || saleID <= 0 {
		respondError(w, http.StatusBadRequest, "valid saleId query parameter is required")
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 10)

	purchases, total, err := h.sales.Leaderboard(r.Context(), saleID, page, limit)
	if err != nil {
		if errors.Is(err, service.ErrSaleNotFound) {
			respondError(w, http.StatusNotFound, "sale not found")
			return
		}
		h.logger.Printf("Error loading leaderboard for sale %d: %v", saleID, err)
		respondError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}

	respondJSON(w, http.StatusOK, LeaderboardResponse{
		Entries: toEntries(purchases),
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	saleID, err := strconv.ParseInt(r.URL.Query().Get("saleId"), 10, 64)
	if err != nil || saleID <= 0 {
		respondError(w, http.StatusBadRequest, "valid saleId query parameter is required")
		return
	}
	n := queryInt(r, "limit", 0)

	purchases, err := h.sales.Recent(r.Context(), saleID, n)
	if err != nil {
		if errors.Is(err, service.ErrSaleNotFound) {
			respondError(w, http.StatusNotFound, "sale not found")
			return
		}
		h.logger.Printf("Error loading recent purchases for sale %d: %v", saleID, err)
		respondError(w, http.StatusInternalServerError, "failed to load recent purchases")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"entries": toEntries(purchases)})
}

func toEntries(purchases []models.Purchase) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(purchases))
	for _, p := range purchases {
		entries = append(entries, LeaderboardEntry{
			Rank:        p.Rank,
			UserID:      p.BuyerID,
			Username:    p.Username,
			PurchasedAt: p.PurchasedAt,
		})
	}
	return entries
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
