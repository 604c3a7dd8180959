package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flashsale/internal/broadcast"
	"flashsale/internal/config"
	"flashsale/internal/directory"
	"flashsale/internal/handler"
	"flashsale/internal/ledger"
	"flashsale/internal/service"
	"flashsale/internal/store"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

type application struct {
	config      *config.Config
	logger      *log.Logger
	db          *sql.DB
	redisClient *redis.Client
	redisStore  *store.RedisStore
	saleService *service.SaleService
	hub         *broadcast.Hub
	server      *http.Server

	shutdownChan chan struct{}
	sweeperDone  chan struct{}
	bridgeDone   chan struct{}
}

func main() {
	logger := log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.SweepInterval <= 0 {
		logger.Fatalf("SweepInterval must be a positive duration. Check configuration.")
	}

	db, err := store.ConnectDB(cfg.DBDriver, cfg.DBDataSourceName)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Printf("Error closing database: %v", err)
		}
	}()

	if err := store.RunMigrations(db, cfg.MigrationsDir); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient, err := store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Printf("Error closing Redis client: %v", err)
		}
	}()

	dbStore := store.NewDBStore(db)
	redisStore := store.NewRedisStore(redisClient)
	hub := broadcast.NewHub(logger)

	saleService := service.NewSaleService(
		logger, dbStore, redisStore, ledger.New(), directory.New(logger, dbStore), cfg)
	if err := saleService.Bootstrap(context.Background()); err != nil {
		logger.Fatalf("Failed to bootstrap sale service: %v", err)
	}

	app := &application{
		config:       cfg,
		logger:       logger,
		db:           db,
		redisClient:  redisClient,
		redisStore:   redisStore,
		saleService:  saleService,
		hub:          hub,
		shutdownChan: make(chan struct{}),
		sweeperDone:  make(chan struct{}),
		bridgeDone:   make(chan struct{}),
	}

	bridgeCtx, cancelBridge := context.WithCancel(context.Background())
	defer cancelBridge()
	go app.runEventBridge(bridgeCtx)
	go app.runSaleSweeper()

	router := handler.SetupRoutes(logger, saleService, hub, cfg)

	app.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     logger,
	}

	app.serve(cancelBridge)
}

func (app *application) serve(cancelBridge context.CancelFunc) {
	app.logger.Printf("Starting server on %s", app.server.Addr)

	errChan := make(chan error)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		app.logger.Fatalf("Server error: %v", err)
	case sig := <-quit:
		app.logger.Printf("Received signal %s. Shutting down server...", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app.logger.Println("Signaling sale sweeper to stop...")
	close(app.shutdownChan)
	select {
	case <-app.sweeperDone:
		app.logger.Println("Sale sweeper stopped.")
	case <-time.After(10 * time.Second):
		app.logger.Println("Sale sweeper did not stop in time.")
	}

	cancelBridge()
	select {
	case <-app.bridgeDone:
		app.logger.Println("Event bridge stopped.")
	case <-time.After(10 * time.Second):
		app.logger.Println("Event bridge did not stop in time.")
	}

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Printf("Graceful server shutdown failed: %v", err)
	} else {
		app.logger.Println("Server gracefully stopped.")
	}

	app.logger.Println("Application shut down complete.")
}

// runSaleSweeper periodically marks sales past their window as ended and
// keeps the directory fresh.
func (app *application) runSaleSweeper() {
	defer close(app.sweeperDone)

	if err := app.saleService.SweepExpiredSales(context.Background()); err != nil {
		app.logger.Printf("Sweeper: error during initial sweep: %v", err)
	}

	ticker := time.NewTicker(app.config.SweepInterval)
	defer ticker.Stop()

	app.logger.Printf("Sale sweeper started. Will run every %s.", app.config.SweepInterval.String())

	for {
		select {
		case <-ticker.C:
			if err := app.saleService.SweepExpiredSales(context.Background()); err != nil {
				app.logger.Printf("Sweeper: error during sweep: %v", err)
			}
		case <-app.shutdownChan:
			app.logger.Println("Sweeper: received shutdown signal. Stopping...")
			return
		}
	}
}

// runEventBridge forwards committed sale events from Redis Pub/Sub into the
// websocket hub.
func (app *application) runEventBridge(ctx context.Context) {
	defer close(app.bridgeDone)

	pubsub := app.redisStore.SubscribeEvents(ctx)
	defer pubsub.Close()

	app.logger.Println("Event bridge started, forwarding sale events to websocket hub.")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			saleID, ok := store.SaleIDFromChannel(msg.Channel)
			if !ok {
				app.logger.Printf("Event bridge: ignoring message on unexpected channel %s", msg.Channel)
				continue
			}
			app.hub.Broadcast(saleID, []byte(msg.Payload))
		}
	}
}
