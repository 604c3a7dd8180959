package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"flashsale/internal/models"

	"github.com/lib/pq"
)

var (
	ErrDBSaleNotFound   = errors.New("database: sale not found")
	ErrDBDuplicateBuyer = errors.New("database: buyer already purchased in this sale")
	ErrDBDuplicateRank  = errors.New("database: rank already taken for this sale line")
	ErrDBStockDepleted  = errors.New("database: sale line stock depleted")
)

type DBStore struct {
	DB *sql.DB
}

func NewDBStore(db *sql.DB) *DBStore {
	return &DBStore{DB: db}
}

func ConnectDB(driver, dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func RunMigrations(db *sql.DB, migrationsDir string) error {
	if migrationsDir == "" {
		return fmt.Errorf("migrations directory not specified")
	}

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrationFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrationFiles = append(migrationFiles, entry.Name())
		}
	}
	sort.Strings(migrationFiles)

	if len(migrationFiles) == 0 {
		fmt.Println("No migration files found.")
		return nil
	}

	for _, fileName := range migrationFiles {
		filePath := filepath.Join(migrationsDir, fileName)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", fileName, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", fileName, err)
		}
		fmt.Printf("Applied migration: %s\n", fileName)
	}
	return nil
}

func (s *DBStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// CreateSale inserts the sale and all its lines in one transaction.
func (s *DBStore) CreateSale(ctx context.Context, sale *models.Sale) (*models.Sale, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	saleQuery := `
        INSERT INTO sales (title, description, start_time, end_time, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at`

	err = tx.QueryRowContext(ctx, saleQuery,
		sale.Title, sale.Description, sale.StartTime, sale.EndTime, sale.Status,
	).Scan(&sale.ID, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create sale: %w", err)
	}

	lineStmt, err := tx.PrepareContext(ctx, `
        INSERT INTO sale_lines (sale_id, product_id, price_minor, stock_limit, stock_remaining)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare sale line statement: %w", err)
	}
	defer lineStmt.Close()

	for i := range sale.Lines {
		line := &sale.Lines[i]
		line.SaleID = sale.ID
		line.StockRemaining = line.StockLimit
		err := lineStmt.QueryRowContext(ctx,
			line.SaleID, line.ProductID, line.PriceMinor, line.StockLimit, line.StockRemaining,
		).Scan(&line.ID, &line.CreatedAt, &line.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert sale line %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return sale, nil
}

// ListSales loads every sale with its lines, newest first.
func (s *DBStore) ListSales(ctx context.Context) ([]models.Sale, error) {
	saleQuery := `
        SELECT id, title, description, start_time, end_time, status, created_at, updated_at
        FROM sales
        ORDER BY start_time DESC`

	rows, err := s.DB.QueryContext(ctx, saleQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	defer rows.Close()

	var sales []models.Sale
	index := make(map[int64]int)
	for rows.Next() {
		var sale models.Sale
		if err := rows.Scan(
			&sale.ID, &sale.Title, &sale.Description, &sale.StartTime, &sale.EndTime,
			&sale.Status, &sale.CreatedAt, &sale.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		index[sale.ID] = len(sales)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sales: %w", err)
	}

	lineQuery := `
        SELECT id, sale_id, product_id, price_minor, stock_limit, stock_remaining, created_at, updated_at
        FROM sale_lines
        ORDER BY id`

	lineRows, err := s.DB.QueryContext(ctx, lineQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list sale lines: %w", err)
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var line models.SaleLine
		if err := lineRows.Scan(
			&line.ID, &line.SaleID, &line.ProductID, &line.PriceMinor,
			&line.StockLimit, &line.StockRemaining, &line.CreatedAt, &line.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sale line: %w", err)
		}
		if i, ok := index[line.SaleID]; ok {
			sales[i].Lines = append(sales[i].Lines, line)
		}
	}
	if err := lineRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sale lines: %w", err)
	}

	return sales, nil
}

func (s *DBStore) GetSaleByID(ctx context.Context, saleID int64) (*models.Sale, error) {
	query := `
        SELECT id, title, description, start_time, end_time, status, created_at, updated_at
        FROM sales
        WHERE id = $1`

	sale := &models.Sale{}
	err := s.DB.QueryRowContext(ctx, query, saleID).Scan(
		&sale.ID, &sale.Title, &sale.Description, &sale.StartTime, &sale.EndTime,
		&sale.Status, &sale.CreatedAt, &sale.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDBSaleNotFound
		}
		return nil, fmt.Errorf("failed to get sale by ID: %w", err)
	}

	lineQuery := `
        SELECT id, sale_id, product_id, price_minor, stock_limit, stock_remaining, created_at, updated_at
        FROM sale_lines
        WHERE sale_id = $1
        ORDER BY id`

	rows, err := s.DB.QueryContext(ctx, lineQuery, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sale lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line models.SaleLine
		if err := rows.Scan(
			&line.ID, &line.SaleID, &line.ProductID, &line.PriceMinor,
			&line.StockLimit, &line.StockRemaining, &line.CreatedAt, &line.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sale line: %w", err)
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sale lines: %w", err)
	}

	return sale, nil
}

func (s *DBStore) SetSaleStatus(ctx context.Context, saleID int64, status models.SaleStatus) error {
	result, err := s.DB.ExecContext(ctx,
		`UPDATE sales SET status = $1, updated_at = NOW() WHERE id = $2`, status, saleID)
	if err != nil {
		return fmt.Errorf("failed to set sale status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrDBSaleNotFound
	}
	return nil
}

// EndExpiredSales flips sales past their window to ended, returning how many
// were swept.
func (s *DBStore) EndExpiredSales(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.DB.ExecContext(ctx, `
        UPDATE sales
        SET status = $1, updated_at = NOW()
        WHERE status = $2 AND end_time < $3`,
		models.SaleStatusEnded, models.SaleStatusActive, now)
	if err != nil {
		return 0, fmt.Errorf("failed to end expired sales: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// LineSoldCounts returns committed purchases per sale line, the source of
// truth for remaining-stock recomputation at boot.
func (s *DBStore) LineSoldCounts(ctx context.Context) (map[int64]int, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT sale_line_id, COUNT(*) FROM purchases GROUP BY sale_line_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to count purchases per line: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var lineID int64
		var count int
		if err := rows.Scan(&lineID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan purchase count: %w", err)
		}
		counts[lineID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate purchase counts: %w", err)
	}
	return counts, nil
}

// CreatePurchase persists the purchase row and the stock snapshot as one
// transaction. The unique constraints double as the durable eligibility and
// rank guarantees: a violation of buyer-per-sale surfaces as
// ErrDBDuplicateBuyer, a violation of rank-per-line as ErrDBDuplicateRank.
func (s *DBStore) CreatePurchase(ctx context.Context, p *models.Purchase) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO purchases (id, sale_id, sale_line_id, product_id, buyer_id, username, rank, purchased_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.SaleID, p.SaleLineID, p.ProductID, p.BuyerID, p.Username, p.Rank, p.PurchasedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			switch pqErr.Constraint {
			case "purchases_buyer_per_sale":
				return ErrDBDuplicateBuyer
			case "purchases_rank_per_line":
				return ErrDBDuplicateRank
			}
		}
		return fmt.Errorf("failed to record purchase: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
        UPDATE sale_lines
        SET stock_remaining = stock_remaining - 1, updated_at = NOW()
        WHERE id = $1 AND stock_remaining > 0`, p.SaleLineID)
	if err != nil {
		return fmt.Errorf("failed to decrement stock snapshot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrDBStockDepleted
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LeaderboardPage returns one page of purchases for a sale in rank order plus
// the total count. Ranks are immutable, so pages already read never shift as
// new purchases append.
func (s *DBStore) LeaderboardPage(ctx context.Context, saleID int64, limit, offset int) ([]models.Purchase, int, error) {
	var total int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM purchases WHERE sale_id = $1`, saleID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count purchases: %w", err)
	}

	query := `
        SELECT id, sale_id, sale_line_id, product_id, buyer_id, username, rank, purchased_at
        FROM purchases
        WHERE sale_id = $1
        ORDER BY rank ASC
        LIMIT $2 OFFSET $3`

	rows, err := s.DB.QueryContext(ctx, query, saleID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query leaderboard page: %w", err)
	}
	defer rows.Close()

	purchases, err := scanPurchases(rows)
	if err != nil {
		return nil, 0, err
	}
	return purchases, total, nil
}

// RecentPurchases returns the latest n purchases for a sale, newest first.
func (s *DBStore) RecentPurchases(ctx context.Context, saleID int64, n int) ([]models.Purchase, error) {
	query := `
        SELECT id, sale_id, sale_line_id, product_id, buyer_id, username, rank, purchased_at
        FROM purchases
        WHERE sale_id = $1
        ORDER BY rank DESC
        LIMIT $2`

	rows, err := s.DB.QueryContext(ctx, query, saleID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent purchases: %w", err)
	}
	defer rows.Close()

	return scanPurchases(rows)
}

func scanPurchases(rows *sql.Rows) ([]models.Purchase, error) {
	var purchases []models.Purchase
	for rows.Next() {
		var p models.Purchase
		if err := rows.Scan(
			&p.ID, &p.SaleID, &p.SaleLineID, &p.ProductID,
			&p.BuyerID, &p.Username, &p.Rank, &p.PurchasedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate purchases: %w", err)
	}
	return purchases, nil
}
