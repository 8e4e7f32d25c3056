// Package main is the entry point for the GreenCredits report server.
// It provides a REST API for citizen waste reports, their review and
// clean-up lifecycle, and the credit ledger that rewards them.
//
// Architecture:
//   - Reports are routed to a municipal zone on submission
//   - Duplicate photos are rejected by fingerprint
//   - Every lifecycle transition and ledger entry commits atomically
//   - Lifecycle events stream to dashboards over SSE (Redis fan-out optional)
//   - A Merkle root over the ledger is published for tamper detection
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/greencredits/report-server/internal/config"
	"github.com/greencredits/report-server/internal/database"
	"github.com/greencredits/report-server/internal/handlers"
	"github.com/greencredits/report-server/internal/middleware"
	"github.com/greencredits/report-server/internal/notify"
	"github.com/greencredits/report-server/internal/services"
	"github.com/greencredits/report-server/internal/storage"
	"github.com/greencredits/report-server/internal/zones"
)

func main() {
	// Initialize structured logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	sugar := logger.Sugar()

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("Failed to load config: %v", err)
	}

	sugar.Infow("Starting GreenCredits report server",
		"port", cfg.Port,
		"env", cfg.Environment,
		"db_driver", cfg.DBDriver,
		"photo_backend", cfg.PhotoBackend,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize database and schema
	st, closeStore, err := database.OpenStore(ctx, cfg)
	if err != nil {
		sugar.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	router, err := zones.Open(cfg.ZonesFile)
	if err != nil {
		sugar.Fatalf("Failed to load zones: %v", err)
	}

	var catalog services.Catalog
	if cfg.RewardsFile != "" {
		catalog, err = services.LoadCatalogFile(cfg.RewardsFile)
	} else {
		catalog, err = services.NewStaticCatalog(services.DefaultRewards())
	}
	if err != nil {
		sugar.Fatalf("Failed to load reward catalog: %v", err)
	}

	photos, err := openPhotoStore(ctx, cfg)
	if err != nil {
		sugar.Fatalf("Failed to open photo storage: %v", err)
	}

	// Events: the hub serves local SSE clients. With Redis every process
	// publishes to the channel and relays it back into its own hub.
	hub := notify.NewHub()
	var sink notify.Sink = hub
	if cfg.RedisURL != "" {
		rdb, err := notify.NewRedisClient(cfg.RedisURL)
		if err != nil {
			sugar.Fatalf("Failed to configure redis: %v", err)
		}
		defer rdb.Close()
		sink = notify.NewRedisSink(rdb, cfg.NotifyChannel)
		go notify.NewRelay(rdb, cfg.NotifyChannel, hub, sugar).Run(ctx)
	}

	// Initialize services
	ledger := services.NewCreditLedger(st, catalog, sink, cfg.PersistTimeout, sugar)
	reportSvc := services.NewReportService(services.ReportDeps{
		Store:          st,
		Router:         router,
		Guard:          services.NewDuplicateGuard(st, sugar),
		Ledger:         ledger,
		Photos:         photos,
		Sink:           sink,
		PersistTimeout: cfg.PersistTimeout,
		Logger:         sugar,
	})
	merkleSvc := services.NewMerkleService(sugar)
	integrityWorker := services.NewIntegrityWorker(merkleSvc, ledger, st, sugar)

	// Start background integrity worker (rebuilds Merkle tree, reconciles balances)
	go integrityWorker.Start(ctx, cfg.IntegrityInterval)

	api := &handlers.API{
		Reports:   handlers.NewReportHandler(reportSvc, sugar),
		Workers:   handlers.NewWorkerHandler(reportSvc, sugar),
		Admin:     handlers.NewAdminHandler(reportSvc, sugar),
		Credits:   handlers.NewCreditHandler(ledger, sugar),
		Zones:     handlers.NewZoneHandler(router),
		Events:    handlers.NewEventHandler(hub),
		Health:    handlers.NewHealthHandler(st, merkleSvc, sugar),
		Integrity: handlers.NewIntegrityHandler(merkleSvc, integrityWorker, sugar),
		JWTSecret: cfg.JWTSecret,
	}

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Merkle-Root"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Rate limiting
	r.Use(middleware.RateLimit(cfg.RateLimitRPM))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	api.Mount(r)

	// Create HTTP server. No write timeout: the event stream is long-lived.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sugar.Infof("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	sugar.Info("Shutting down gracefully...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorf("Forced shutdown: %v", err)
	}

	sugar.Info("Server stopped")
}

func openPhotoStore(ctx context.Context, cfg *config.Config) (storage.PhotoStore, error) {
	if cfg.PhotoBackend == "minio" {
		return storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	}
	return storage.NewDiskStore(cfg.PhotoDir)
}
