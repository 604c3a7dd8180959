package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"flashsale/internal/service"
)

type CreateSaleRequest struct {
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	StartTime   time.Time               `json:"start_time"`
	EndTime     time.Time               `json:"end_time"`
	Lines       []CreateSaleLineRequest `json:"lines"`
}

type CreateSaleLineRequest struct {
	ProductID  string `json:"product_id"`
	PriceMinor int64  `json:"price_minor"`
	StockLimit int    `json:"stock_limit"`
}

func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params := service.CreateSaleParams{
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	}
	for _, line := range req.Lines {
		params.Lines = append(params.Lines, service.CreateSaleLineParams{
			ProductID:  line.ProductID,
			PriceMinor: line.PriceMinor,
			StockLimit: line.StockLimit,
		})
	}

	sale, err := h.sales.CreateSale(r.Context(), params)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSale) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Printf("Error creating sale: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to create sale")
		return
	}

	respondJSON(w, http.StatusCreated, sale)
}

func (h *Handler) ActivateSale(w http.ResponseWriter, r *http.Request) {
	h.setSaleActive(w, r, true)
}

func (h *Handler) DeactivateSale(w http.ResponseWriter, r *http.Request) {
	h.setSaleActive(w, r, false)
}

func (h *Handler) setSaleActive(w http.ResponseWriter, r *http.Request, active bool) {
	saleID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || saleID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid sale id")
		return
	}

	if err := h.sales.SetSaleActive(r.Context(), saleID, active); err != nil {
		if errors.Is(err, service.ErrSaleNotFound) {
			respondError(w, http.StatusNotFound, "sale not found")
			return
		}
		h.logger.Printf("Error updating sale %d status: %v", saleID, err)
		respondError(w, http.StatusInternalServerError, "failed to update sale status")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"sale_id": saleID, "active": active})
}
