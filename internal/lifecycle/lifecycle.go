// Package lifecycle maps a sale's time window, administrative flag and stock
// snapshot to its buyer-facing phase. Evaluation is pure and allocation-free;
// it runs on every status poll and every purchase attempt.
package lifecycle

import (
	"time"

	"flashsale/internal/models"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusSoldOut   Status = "sold_out"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

// Evaluate returns the phase of a sale at the given instant. The cancelled
// flag is terminal and overrides everything else; otherwise the wall clock
// wins over the administrative status, so a sale flagged active outside its
// window is still not live.
func Evaluate(sale *models.Sale, now time.Time) Status {
	if sale.Status == models.SaleStatusCancelled {
		return StatusCancelled
	}
	if now.Before(sale.StartTime) {
		return StatusScheduled
	}
	if now.After(sale.EndTime) {
		return StatusEnded
	}
	remaining := 0
	for i := range sale.Lines {
		remaining += sale.Lines[i].StockRemaining
	}
	if remaining == 0 {
		return StatusSoldOut
	}
	return StatusLive
}

// EvaluateLine is Evaluate scoped to a single sale line, for product-level
// status queries: the sale may still have stock overall while this line is
// sold out.
func EvaluateLine(sale *models.Sale, line *models.SaleLine, now time.Time) Status {
	status := Evaluate(sale, now)
	if status == StatusLive && line.StockRemaining == 0 {
		return StatusSoldOut
	}
	return status
}
