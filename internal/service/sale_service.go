package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"flashsale/internal/config"
	"flashsale/internal/directory"
	"flashsale/internal/ledger"
	"flashsale/internal/lifecycle"
	"flashsale/internal/models"
	"flashsale/internal/store"
)

var (
	ErrSaleNotFound     = errors.New("sale not found")
	ErrSaleNotLive      = errors.New("sale is not currently live")
	ErrOutOfStock       = errors.New("sold out")
	ErrAlreadyPurchased = errors.New("you already purchased in this sale")
	ErrInvalidSale      = errors.New("invalid sale definition")
	ErrPurchaseFailed   = errors.New("purchase failed")
)

// SaleStore is the persistence surface the service needs. *store.DBStore is
// the production implementation; tests plug in a fake.
type SaleStore interface {
	CreateSale(ctx context.Context, sale *models.Sale) (*models.Sale, error)
	ListSales(ctx context.Context) ([]models.Sale, error)
	GetSaleByID(ctx context.Context, saleID int64) (*models.Sale, error)
	SetSaleStatus(ctx context.Context, saleID int64, status models.SaleStatus) error
	EndExpiredSales(ctx context.Context, now time.Time) (int64, error)
	LineSoldCounts(ctx context.Context) (map[int64]int, error)
	CreatePurchase(ctx context.Context, p *models.Purchase) error
	LeaderboardPage(ctx context.Context, saleID int64, limit, offset int) ([]models.Purchase, int, error)
	RecentPurchases(ctx context.Context, saleID int64, n int) ([]models.Purchase, error)
}

// EventBus publishes committed events and caches the live feed. Everything
// here is best-effort: failures are logged, never surfaced to the buyer.
type EventBus interface {
	PublishEvent(ctx context.Context, saleID int64, event any) error
	PushRecentPurchase(ctx context.Context, p *models.Purchase, keep int) error
	RecentPurchases(ctx context.Context, saleID int64, n int) ([]models.Purchase, error)
}

// SaleService orchestrates purchase admission: directory lookup, lifecycle
// check, eligibility claim, ledger reservation, durable persist, event
// fan-out. The ledger reservation is the only contended step; all I/O runs
// after it with the values it returned.
type SaleService struct {
	logger    *log.Logger
	store     SaleStore
	bus       EventBus
	ledger    *ledger.Ledger
	directory *directory.Directory
	config    *config.Config
	claims    *claimTable

	now func() time.Time
}

func NewSaleService(logger *log.Logger, st SaleStore, bus EventBus, ld *ledger.Ledger, dir *directory.Directory, cfg *config.Config) *SaleService {
	return &SaleService{
		logger:    logger,
		store:     st,
		bus:       bus,
		ledger:    ld,
		directory: dir,
		config:    cfg,
		claims:    newClaimTable(),
		now:       time.Now,
	}
}

// Bootstrap loads the directory and seeds the ledger. Remaining stock per
// line is recomputed from the committed purchase count, not read from the
// persisted snapshot, so a crash between commit and snapshot update cannot
// leak or duplicate units.
func (s *SaleService) Bootstrap(ctx context.Context) error {
	if err := s.directory.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh sale directory: %w", err)
	}

	sales, err := s.store.ListSales(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sales: %w", err)
	}
	soldCounts, err := s.store.LineSoldCounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sold counts: %w", err)
	}

	lines := 0
	for _, sale := range sales {
		for _, line := range sale.Lines {
			if err := s.ledger.Load(line.ID, line.StockLimit, soldCounts[line.ID]); err != nil {
				return fmt.Errorf("failed to seed ledger for line %d: %w", line.ID, err)
			}
			lines++
		}
	}
	s.logger.Printf("Ledger seeded with %d sale lines across %d sales", lines, len(sales))
	return nil
}

// Purchase runs one admission attempt. saleID may be zero, in which case the
// sale is resolved through the product index. Exactly one of the returned
// values is set.
func (s *SaleService) Purchase(ctx context.Context, saleID int64, productID, buyerID, username string) (*models.Purchase, error) {
	sale, line, err := s.resolve(saleID, productID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	switch lifecycle.Evaluate(&sale, now) {
	case lifecycle.StatusLive:
	case lifecycle.StatusSoldOut:
		return nil, ErrOutOfStock
	default:
		return nil, ErrSaleNotLive
	}

	// The in-process claim makes two racing requests from the same buyer
	// safe before the database is reached; the unique constraint on
	// (sale_id, buyer_id) is the durable backstop.
	if !s.claims.TryClaim(sale.ID, buyerID) {
		return nil, ErrAlreadyPurchased
	}

	res, err := s.ledger.Reserve(line.ID)
	if err != nil {
		s.claims.Unclaim(sale.ID, buyerID)
		if errors.Is(err, ledger.ErrOutOfStock) {
			return nil, ErrOutOfStock
		}
		return nil, ErrSaleNotFound
	}

	purchase := &models.Purchase{
		ID:          uuid.NewString(),
		SaleID:      sale.ID,
		SaleLineID:  line.ID,
		ProductID:   line.ProductID,
		BuyerID:     buyerID,
		Username:    username,
		Rank:        res.Rank,
		PurchasedAt: now.UTC(),
	}

	if err := s.store.CreatePurchase(ctx, purchase); err != nil {
		s.ledger.Release(line.ID, res.Rank)
		if errors.Is(err, store.ErrDBDuplicateBuyer) {
			// the buyer did purchase, just not through this process;
			// keep the claim so repeats fail fast
			return nil, ErrAlreadyPurchased
		}
		s.claims.Unclaim(sale.ID, buyerID)
		s.logger.Printf("CRITICAL: reservation rolled back, persist failed for sale %d line %d buyer %s: %v",
			sale.ID, line.ID, buyerID, err)
		return nil, ErrPurchaseFailed
	}

	s.directory.ApplyPurchase(sale.ID, line.ID, res.Remaining)
	s.emitPurchaseEvents(ctx, purchase, res.Remaining)

	return purchase, nil
}

// emitPurchaseEvents publishes stock_update and new_purchase after commit.
// A dropped event only degrades the live feed.
func (s *SaleService) emitPurchaseEvents(ctx context.Context, p *models.Purchase, remaining int) {
	stockEvent := models.StockUpdateEvent{
		Type:           models.EventTypeStockUpdate,
		SaleID:         p.SaleID,
		ProductID:      p.ProductID,
		RemainingStock: remaining,
	}
	if err := s.bus.PublishEvent(ctx, p.SaleID, stockEvent); err != nil {
		s.logger.Printf("Warning: failed to publish stock_update for sale %d: %v", p.SaleID, err)
	}

	purchaseEvent := models.NewPurchaseEvent{
		Type:        models.EventTypeNewPurchase,
		SaleID:      p.SaleID,
		ProductID:   p.ProductID,
		Username:    p.Username,
		Rank:        p.Rank,
		PurchasedAt: p.PurchasedAt,
	}
	if err := s.bus.PublishEvent(ctx, p.SaleID, purchaseEvent); err != nil {
		s.logger.Printf("Warning: failed to publish new_purchase for sale %d: %v", p.SaleID, err)
	}

	if err := s.bus.PushRecentPurchase(ctx, p, s.config.RecentFeedSize); err != nil {
		s.logger.Printf("Warning: failed to cache recent purchase for sale %d: %v", p.SaleID, err)
	}
}

func (s *SaleService) resolve(saleID int64, productID string) (models.Sale, models.SaleLine, error) {
	var sale models.Sale
	var ok bool
	if saleID != 0 {
		sale, ok = s.directory.Get(saleID)
	} else {
		sale, ok = s.directory.GetByProduct(productID)
	}
	if !ok {
		return models.Sale{}, models.SaleLine{}, ErrSaleNotFound
	}

	if productID == "" && len(sale.Lines) == 1 {
		return sale, sale.Lines[0], nil
	}
	for _, line := range sale.Lines {
		if line.ProductID == productID {
			return sale, line, nil
		}
	}
	return models.Sale{}, models.SaleLine{}, ErrSaleNotFound
}

// SaleStatusView is the public status snapshot for one product's offer.
type SaleStatusView struct {
	SaleID         int64            `json:"sale_id"`
	ProductID      string           `json:"product_id"`
	Status         lifecycle.Status `json:"status"`
	StartsAt       time.Time        `json:"starts_at"`
	EndsAt         time.Time        `json:"ends_at"`
	TotalStock     int              `json:"total_stock"`
	RemainingStock int              `json:"remaining_stock"`
	PriceMinor     int64            `json:"price_minor"`
}

// Status reports the current snapshot for the sale offering the product.
func (s *SaleService) Status(productID string) (*SaleStatusView, error) {
	sale, ok := s.directory.GetByProduct(productID)
	if !ok {
		return nil, ErrSaleNotFound
	}
	for i := range sale.Lines {
		line := &sale.Lines[i]
		if line.ProductID != productID {
			continue
		}
		return &SaleStatusView{
			SaleID:         sale.ID,
			ProductID:      line.ProductID,
			Status:         lifecycle.EvaluateLine(&sale, line, s.now()),
			StartsAt:       sale.StartTime,
			EndsAt:         sale.EndTime,
			TotalStock:     line.StockLimit,
			RemainingStock: line.StockRemaining,
			PriceMinor:     line.PriceMinor,
		}, nil
	}
	return nil, ErrSaleNotFound
}

const maxLeaderboardLimit = 100

// Leaderboard returns one rank-ordered page of purchases plus the total
// count. Already-returned pages never shift: ranks are immutable and new
// purchases only append.
func (s *SaleService) Leaderboard(ctx context.Context, saleID int64, page, limit int) ([]models.Purchase, int, error) {
	if _, ok := s.directory.Get(saleID); !ok {
		return nil, 0, ErrSaleNotFound
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}
	return s.store.LeaderboardPage(ctx, saleID, limit, (page-1)*limit)
}

// Recent returns the latest n purchases for the live feed, served from the
// Redis cache with a database fallback when the cache is cold or down.
func (s *SaleService) Recent(ctx context.Context, saleID int64, n int) ([]models.Purchase, error) {
	if _, ok := s.directory.Get(saleID); !ok {
		return nil, ErrSaleNotFound
	}
	if n < 1 || n > s.config.RecentFeedSize {
		n = s.config.RecentFeedSize
	}

	purchases, err := s.bus.RecentPurchases(ctx, saleID, n)
	if err != nil {
		s.logger.Printf("Recent feed cache miss for sale %d, falling back to DB: %v", saleID, err)
	}
	if len(purchases) > 0 {
		return purchases, nil
	}
	return s.store.RecentPurchases(ctx, saleID, n)
}

// CreateSaleParams is the admin input for a new sale.
type CreateSaleParams struct {
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	Lines       []CreateSaleLineParams
}

type CreateSaleLineParams struct {
	ProductID  string
	PriceMinor int64
	StockLimit int
}

// CreateSale persists a new sale with its lines, seeds the ledger and makes
// it visible in the directory. New sales start administratively active;
// live-ness still follows the time window.
func (s *SaleService) CreateSale(ctx context.Context, params CreateSaleParams) (*models.Sale, error) {
	if !params.EndTime.After(params.StartTime) {
		return nil, fmt.Errorf("%w: end time must be after start time", ErrInvalidSale)
	}
	if len(params.Lines) == 0 {
		return nil, fmt.Errorf("%w: at least one sale line required", ErrInvalidSale)
	}
	seen := make(map[string]bool, len(params.Lines))
	for _, line := range params.Lines {
		if line.ProductID == "" {
			return nil, fmt.Errorf("%w: product id required", ErrInvalidSale)
		}
		if seen[line.ProductID] {
			return nil, fmt.Errorf("%w: duplicate product %s", ErrInvalidSale, line.ProductID)
		}
		seen[line.ProductID] = true
		if line.StockLimit <= 0 {
			return nil, fmt.Errorf("%w: stock limit must be positive for product %s", ErrInvalidSale, line.ProductID)
		}
		if line.PriceMinor < 0 {
			return nil, fmt.Errorf("%w: negative price for product %s", ErrInvalidSale, line.ProductID)
		}
	}

	sale := &models.Sale{
		Title:       params.Title,
		Description: params.Description,
		StartTime:   params.StartTime,
		EndTime:     params.EndTime,
		Status:      models.SaleStatusActive,
	}
	for _, line := range params.Lines {
		sale.Lines = append(sale.Lines, models.SaleLine{
			ProductID:  line.ProductID,
			PriceMinor: line.PriceMinor,
			StockLimit: line.StockLimit,
		})
	}

	created, err := s.store.CreateSale(ctx, sale)
	if err != nil {
		return nil, fmt.Errorf("failed to create sale: %w", err)
	}

	for _, line := range created.Lines {
		if err := s.ledger.Load(line.ID, line.StockLimit, 0); err != nil {
			return nil, fmt.Errorf("failed to seed ledger for new line %d: %w", line.ID, err)
		}
	}
	s.directory.Upsert(*created)

	s.logger.Printf("Created sale %d (%q) with %d lines, window %s to %s",
		created.ID, created.Title, len(created.Lines),
		created.StartTime.Format(time.RFC3339), created.EndTime.Format(time.RFC3339))
	return created, nil
}

// SetSaleActive flips the administrative flag: deactivating cancels the sale,
// activating restores eligibility. The time window is never bypassed.
func (s *SaleService) SetSaleActive(ctx context.Context, saleID int64, active bool) error {
	status := models.SaleStatusCancelled
	if active {
		status = models.SaleStatusActive
	}
	if err := s.store.SetSaleStatus(ctx, saleID, status); err != nil {
		if errors.Is(err, store.ErrDBSaleNotFound) {
			return ErrSaleNotFound
		}
		return fmt.Errorf("failed to set sale status: %w", err)
	}
	// reload the whole snapshot, not just the flag, so line changes made
	// outside this process become visible on the next status poll
	sale, err := s.store.GetSaleByID(ctx, saleID)
	if err != nil {
		s.logger.Printf("Warning: failed to reload sale %d after status change: %v", saleID, err)
		s.directory.SetStatus(saleID, status)
		return nil
	}
	s.directory.Upsert(*sale)
	return nil
}

// SweepExpiredSales marks sales past their window as ended and refreshes the
// directory. The scheduler calls this periodically.
func (s *SaleService) SweepExpiredSales(ctx context.Context) error {
	swept, err := s.store.EndExpiredSales(ctx, s.now())
	if err != nil {
		return fmt.Errorf("failed to sweep expired sales: %w", err)
	}
	if swept > 0 {
		s.logger.Printf("Sweeper ended %d expired sales", swept)
	}
	if err := s.directory.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh directory after sweep: %w", err)
	}
	return nil
}
