// Command server is the invoicepipe API process: it wires every
// component built across C1-C13 into one HTTP listener plus a
// dedicated metrics listener, then serves until told to stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jordigilh/invoicepipe/internal/config"
	"github.com/jordigilh/invoicepipe/internal/database"
	"github.com/jordigilh/invoicepipe/pkg/dashboard"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/repository"
	"github.com/jordigilh/invoicepipe/pkg/httpapi"
	"github.com/jordigilh/invoicepipe/pkg/imaging"
	"github.com/jordigilh/invoicepipe/pkg/ingestion"
	"github.com/jordigilh/invoicepipe/pkg/metrics"
	"github.com/jordigilh/invoicepipe/pkg/objectstore"
	"github.com/jordigilh/invoicepipe/pkg/progress"
	"github.com/jordigilh/invoicepipe/pkg/purchaseorder"
	"github.com/jordigilh/invoicepipe/pkg/stock"
	"github.com/jordigilh/invoicepipe/pkg/tasks"
	"github.com/jordigilh/invoicepipe/pkg/tenantconfig"
	"github.com/jordigilh/invoicepipe/pkg/verification"
	"github.com/jordigilh/invoicepipe/pkg/vision"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := firstNonEmpty(os.Getenv("CONFIG_PATH"), "config.yaml")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	dbConfig := database.DefaultConfig()
	dbConfig.LoadFromEnv()
	if err := dbConfig.Validate(); err != nil {
		return fmt.Errorf("invalid database config: %w", err)
	}

	db, err := database.Connect(dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	tenantLoader, err := tenantconfig.NewLoader(cfg.Tenant.ConfigDir, cfg.Tenant.DefaultIndustry, logger)
	if err != nil {
		return fmt.Errorf("failed to load tenant config: %w", err)
	}

	accessKey := firstNonEmpty(os.Getenv("CLOUDFLARE_R2_ACCESS_KEY_ID"), os.Getenv("SUPABASE_ACCESS_KEY_ID"))
	secretKey := firstNonEmpty(os.Getenv("CLOUDFLARE_R2_SECRET_ACCESS_KEY"), os.Getenv("SUPABASE_SERVICE_ROLE_KEY"))
	store, err := objectstore.NewStore(cfg.ObjectStore, accessKey, secretKey, logger)
	if err != nil {
		return fmt.Errorf("failed to build object store: %w", err)
	}

	optimizer := imaging.NewOptimizer(logger)

	primaryVision, err := vision.NewClient(cfg.Vision, logger)
	if err != nil {
		return fmt.Errorf("failed to build primary vision client: %w", err)
	}
	fallbackCfg := cfg.Vision
	if v := os.Getenv("VISION_FALLBACK_MODEL"); v != "" {
		fallbackCfg.Model = v
	}
	if v := os.Getenv("VISION_FALLBACK_PROVIDER"); v != "" {
		fallbackCfg.Provider = v
	}
	fallbackVision, err := vision.NewClient(fallbackCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build fallback vision client: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: firstNonEmpty(os.Getenv("REDIS_ADDR"), "localhost:6379")})
	limiter := vision.NewRateLimiter(rdb, visionRateLimit, time.Minute)
	visionClient := vision.NewEnhancedClient(primaryVision, fallbackVision, limiter, logger)

	uploadRegistry := tasks.NewUploadRegistry(db, logger)
	recalcRegistry := tasks.NewRecalcRegistry(db, logger)

	tenantRepo := repository.NewTenantRepository(db.DB, logger)
	stagingRepo := repository.NewStagingInvoiceRepository(db.DB, logger)

	ingestionRepo := ingestion.NewRepository(db, logger)

	stockRepo := stock.NewRepository(db, logger)
	stockEngine := stock.NewEngine(db, stockRepo, logger)

	verificationRepo := verification.NewRepository(db, logger)
	reconciler := verification.NewReconciler(db, verificationRepo, logger)

	poRepo := purchaseorder.NewRepository(db, logger)
	poService := purchaseorder.NewService(db, poRepo, store, cfg.ObjectStore.Bucket, logger)

	uploadPoolSize := envInt("UPLOAD_MAX_WORKERS", 50)
	processingWorkers := envInt("INVENTORY_MAX_WORKERS", ingestion.DefaultProcessingWorkers)

	salesUpload := ingestion.NewUploadProcessor(objectstore.KindSales, store, optimizer, tenantRepo, uploadPoolSize, logger)
	vendorUpload := ingestion.NewUploadProcessor(objectstore.KindPurchases, store, optimizer, tenantRepo, uploadPoolSize, logger)
	mappingUpload := ingestion.NewUploadProcessor(objectstore.KindMappings, store, optimizer, tenantRepo, uploadPoolSize, logger)

	ingestionSvc := ingestion.NewService(ingestionRepo, store, tenantRepo, visionClient, tenantLoader, uploadRegistry, stockEngine, processingWorkers, logger)
	salesStarter := ingestion.NewSalesBatchStarter(ingestionSvc)
	vendorStarter := ingestion.NewVendorBatchStarter(ingestionSvc)

	streams := progress.NewRegistry()
	salesTaskReader := tasks.NewSalesTaskReader(uploadRegistry)
	vendorTaskReader := tasks.NewVendorTaskReader(uploadRegistry)

	salesUploadHandler := httpapi.NewHandler(salesUpload, cfg.Auth, logger)
	vendorUploadHandler := httpapi.NewHandler(vendorUpload, cfg.Auth, logger)
	salesProcessHandler := httpapi.NewProcessHandler(salesStarter, streams, cfg.Auth, logger)
	vendorProcessHandler := httpapi.NewProcessHandler(vendorStarter, streams, cfg.Auth, logger)
	salesStatusHandler := httpapi.NewStatusHandler(salesTaskReader, cfg.Auth, logger)
	vendorStatusHandler := httpapi.NewStatusHandler(vendorTaskReader, cfg.Auth, logger)
	progressHandler := httpapi.NewProgressHandler(streams, salesStatusHandler, logger)
	syncHandler := httpapi.NewSyncHandler(reconciler, cfg.Auth, logger)

	reporter := dashboard.NewAggregator(db, logger)
	dashboardHandler := httpapi.NewDashboardHandler(reporter, cfg.Auth, logger)

	reviewHandler := httpapi.NewReviewHandler(verificationRepo, cfg.Auth, logger)
	poHandler := httpapi.NewPurchaseOrderHandler(poService, cfg.Auth, logger)
	recalcStatusHandler := httpapi.NewRecalcStatusHandler(recalcRegistry, cfg.Auth, logger)
	mappingSheetHandler := httpapi.NewMappingSheetHandler(mappingUpload, ingestionSvc, cfg.Auth, logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Route("/api", func(r chi.Router) {
		r.Post("/upload/files", salesUploadHandler.HandleUpload)
		r.Post("/upload/process-files", salesProcessHandler.ServeHTTP)
		r.Get("/upload/process/status/{task_id}", func(w http.ResponseWriter, req *http.Request) {
			salesStatusHandler.ServeStatus(w, req, chi.URLParam(req, "task_id"))
		})
		r.Get("/upload/recent-task", salesStatusHandler.ServeRecent)

		r.Post("/inventory/upload", vendorUploadHandler.HandleUpload)
		r.Post("/inventory/process", vendorProcessHandler.ServeHTTP)
		r.Get("/inventory/process/status/{task_id}", func(w http.ResponseWriter, req *http.Request) {
			vendorStatusHandler.ServeStatus(w, req, chi.URLParam(req, "task_id"))
		})
		r.Get("/inventory/recent-task", vendorStatusHandler.ServeRecent)

		r.Get("/progress", progressHandler.ServeHTTP)

		r.Get("/review/dates", reviewHandler.ServeDates)
		r.Put("/review/dates/update", reviewHandler.ServeDatesUpdate)
		r.Get("/review/amounts", reviewHandler.ServeAmounts)
		r.Delete("/review/receipt/{blob_path}", func(w http.ResponseWriter, req *http.Request) {
			reviewHandler.ServeDeleteReceipt(w, req, chi.URLParam(req, "blob_path"))
		})
		r.Post("/review/sync-finish", syncHandler.ServeSync)
		r.Get("/review/sync-finish/stream", syncHandler.ServeStream)

		r.Get("/purchase-orders/draft/items", poHandler.ServeDraftItems)
		r.Post("/purchase-orders/draft/proceed", poHandler.ServeProceed)

		r.Get("/stock/recalc/status/{task_id}", func(w http.ResponseWriter, req *http.Request) {
			recalcStatusHandler.ServeStatus(w, req, chi.URLParam(req, "task_id"))
		})
		r.Get("/stock/recalc/recent-task", recalcStatusHandler.ServeRecent)
		r.Post("/stock/mapping-sheets/upload", mappingSheetHandler.HandleUpload)

		r.Get("/dashboard/summary", dashboardHandler.ServeSummary)
		r.Get("/dashboard/top-parts", dashboardHandler.ServeTopParts)
		r.Get("/dashboard/reorder-alerts", dashboardHandler.ServeReorderAlerts)
		r.Get("/dashboard/daily-series", dashboardHandler.ServeDailySeries)
	})

	router.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := stagingRepo.HealthCheck(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	apiServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}
	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, logger)
	metricsServer.StartAsync()

	go func() {
		logger.Info("api server listening", zap.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server exited", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown error", zap.Error(err))
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}
	return nil
}

// visionRateLimit bounds how many vision-LLM calls the shared limiter
// admits per minute across the whole process.
const visionRateLimit = 30

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

func corsOrigins() []string {
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		return splitComma(v)
	}
	return []string{"*"}
}

func splitComma(v string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}
