// Package directory keeps a read-mostly snapshot of known sales, indexed by
// id and by product. Lookups on the purchase and status paths never touch the
// database; the snapshot is refreshed by the sweeper and patched in place
// after every commit.
package directory

import (
	"context"
	"fmt"
	"log"
	"sync"

	"flashsale/internal/models"
)

type Store interface {
	ListSales(ctx context.Context) ([]models.Sale, error)
}

type Directory struct {
	logger *log.Logger
	store  Store

	mu        sync.RWMutex
	byID      map[int64]*models.Sale
	byProduct map[string]int64
}

func New(logger *log.Logger, store Store) *Directory {
	return &Directory{
		logger:    logger,
		store:     store,
		byID:      make(map[int64]*models.Sale),
		byProduct: make(map[string]int64),
	}
}

// Refresh reloads the full sale set from the store. A product offered in more
// than one sale resolves to the latest-starting non-cancelled one.
func (d *Directory) Refresh(ctx context.Context) error {
	sales, err := d.store.ListSales(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sales: %w", err)
	}

	byID := make(map[int64]*models.Sale, len(sales))
	byProduct := make(map[string]int64)
	for i := range sales {
		sale := sales[i]
		byID[sale.ID] = &sale
		if sale.Status == models.SaleStatusCancelled {
			continue
		}
		for _, line := range sale.Lines {
			current, ok := byProduct[line.ProductID]
			if !ok || byID[current].StartTime.Before(sale.StartTime) {
				byProduct[line.ProductID] = sale.ID
			}
		}
	}

	d.mu.Lock()
	d.byID = byID
	d.byProduct = byProduct
	d.mu.Unlock()

	d.logger.Printf("Directory refreshed: %d sales, %d products", len(byID), len(byProduct))
	return nil
}

// Get returns a copy of the sale, safe to read without further locking.
func (d *Directory) Get(saleID int64) (models.Sale, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sale, ok := d.byID[saleID]
	if !ok {
		return models.Sale{}, false
	}
	return copySale(sale), true
}

// GetByProduct resolves the sale currently offering the product.
func (d *Directory) GetByProduct(productID string) (models.Sale, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	saleID, ok := d.byProduct[productID]
	if !ok {
		return models.Sale{}, false
	}
	sale, ok := d.byID[saleID]
	if !ok {
		return models.Sale{}, false
	}
	return copySale(sale), true
}

// Upsert installs or replaces a single sale snapshot, used after admin
// create/activate so the change is visible without a full refresh.
func (d *Directory) Upsert(sale models.Sale) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored := copySale(&sale)
	d.byID[sale.ID] = &stored
	if sale.Status == models.SaleStatusCancelled {
		return
	}
	for _, line := range sale.Lines {
		current, ok := d.byProduct[line.ProductID]
		if !ok {
			d.byProduct[line.ProductID] = sale.ID
			continue
		}
		if existing, found := d.byID[current]; !found || existing.StartTime.Before(sale.StartTime) {
			d.byProduct[line.ProductID] = sale.ID
		}
	}
}

// SetStatus flips the administrative flag on the cached snapshot.
func (d *Directory) SetStatus(saleID int64, status models.SaleStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sale, ok := d.byID[saleID]; ok {
		sale.Status = status
	}
}

// ApplyPurchase patches the cached remaining-stock counter after a commit so
// status polls track the ledger without a database round trip. Concurrent
// commits can arrive out of order, so the counter only ever moves down; a
// stale higher value must not make stock appear to tick back up.
func (d *Directory) ApplyPurchase(saleID, lineID int64, remaining int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sale, ok := d.byID[saleID]
	if !ok {
		return
	}
	for i := range sale.Lines {
		if sale.Lines[i].ID == lineID {
			if remaining < sale.Lines[i].StockRemaining {
				sale.Lines[i].StockRemaining = remaining
			}
			return
		}
	}
}

func copySale(sale *models.Sale) models.Sale {
	out := *sale
	out.Lines = make([]models.SaleLine, len(sale.Lines))
	copy(out.Lines, sale.Lines)
	return out
}
