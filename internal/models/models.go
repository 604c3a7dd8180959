package models

import "time"

type SaleStatus string

const (
	SaleStatusScheduled SaleStatus = "scheduled"
	SaleStatusActive    SaleStatus = "active"
	SaleStatusEnded     SaleStatus = "ended"
	SaleStatusCancelled SaleStatus = "cancelled"
)

type Sale struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	Status      SaleStatus `json:"status"`
	Lines       []SaleLine `json:"lines"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SaleLine is one product's offer within a sale. StockRemaining is a persisted
// snapshot; while the process runs the in-memory ledger is authoritative and
// the snapshot is rebuilt from the purchases table at boot.
type SaleLine struct {
	ID             int64     `json:"id"`
	SaleID         int64     `json:"sale_id"`
	ProductID      string    `json:"product_id"`
	PriceMinor     int64     `json:"price_minor"`
	StockLimit     int       `json:"stock_limit"`
	StockRemaining int       `json:"stock_remaining"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Purchase is one committed admission. Rows are append-only, never updated or
// deleted.
type Purchase struct {
	ID          string    `json:"order_id"`
	SaleID      int64     `json:"sale_id"`
	SaleLineID  int64     `json:"sale_line_id"`
	ProductID   string    `json:"product_id"`
	BuyerID     string    `json:"buyer_id"`
	Username    string    `json:"username"`
	Rank        int       `json:"rank"`
	PurchasedAt time.Time `json:"purchased_at"`
}

const (
	EventTypeStockUpdate = "stock_update"
	EventTypeNewPurchase = "new_purchase"
)

type StockUpdateEvent struct {
	Type           string `json:"type"`
	SaleID         int64  `json:"sale_id"`
	ProductID      string `json:"product_id"`
	RemainingStock int    `json:"remaining_stock"`
}

type NewPurchaseEvent struct {
	Type        string    `json:"type"`
	SaleID      int64     `json:"sale_id"`
	ProductID   string    `json:"product_id"`
	Username    string    `json:"username"`
	Rank        int       `json:"rank"`
	PurchasedAt time.Time `json:"purchased_at"`
}
