package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"flashsale/internal/broadcast"
	"flashsale/internal/config"
	"flashsale/internal/service"
)

// SetupRoutes wires the public API, the admin subrouter and the websocket
// subscription endpoint.
func SetupRoutes(logger *log.Logger, sales *service.SaleService, hub *broadcast.Hub, cfg *config.Config) *mux.Router {
	h := NewHandler(logger, sales)
	ws := NewWSHandler(logger, hub)

	router := mux.NewRouter()
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sale/status", h.SaleStatus).Methods("GET")
	api.HandleFunc("/sale/purchase", h.Purchase).Methods("POST")
	api.HandleFunc("/sale/leaderboard", h.Leaderboard).Methods("GET")
	api.HandleFunc("/sale/recent", h.Recent).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(adminAuthMiddleware(cfg.AdminToken))
	admin.HandleFunc("/sales", h.CreateSale).Methods("POST")
	admin.HandleFunc("/sales/{id}/activate", h.ActivateSale).Methods("POST")
	admin.HandleFunc("/sales/{id}/deactivate", h.DeactivateSale).Methods("POST")

	router.HandleFunc("/ws/sale/{id}", ws.Subscribe)

	router.Use(loggingMiddleware(logger))
	return router
}

func loggingMiddleware(logger *log.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
		})
	}
}

func adminAuthMiddleware(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || r.Header.Get("X-Admin-Token") != token {
				respondError(w, http.StatusUnauthorized, "admin token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}
