package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/chemviz/equipment-visualizer/internal/api"
	"github.com/chemviz/equipment-visualizer/internal/api/admin"
	"github.com/chemviz/equipment-visualizer/internal/api/auth"
	"github.com/chemviz/equipment-visualizer/internal/api/data"
	"github.com/chemviz/equipment-visualizer/internal/pkg/config"
	"github.com/chemviz/equipment-visualizer/internal/pkg/jwt"
	"github.com/chemviz/equipment-visualizer/internal/pkg/logger"
	"github.com/chemviz/equipment-visualizer/internal/pkg/metrics"
	"github.com/chemviz/equipment-visualizer/internal/pkg/redis"
	"github.com/chemviz/equipment-visualizer/internal/report"
	"github.com/chemviz/equipment-visualizer/internal/repository"
	"github.com/chemviz/equipment-visualizer/internal/service"
	"github.com/chemviz/equipment-visualizer/internal/storage"
)

func main() {
	configPath := os.Getenv("CHEMVIZ_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Log); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Chemical Equipment Visualizer API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := repository.Open(cfg.Database.Path, logger.Named("repository"))
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	if err := db.EnsureAdminUser(ctx, cfg.Admin.Username, cfg.Admin.PasswordHash); err != nil {
		logger.Fatal("Failed to create admin user", zap.Error(err))
	}

	blobs, err := storage.NewOsBlobStore(cfg.Storage.Dir)
	if err != nil {
		logger.Fatal("Failed to initialize upload storage", zap.Error(err))
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		logger.Fatal("Failed to register metrics", zap.Error(err))
	}

	// Initialize Redis (optional)
	var (
		slots   service.UploadLimiter
		revoker service.TokenRevoker = service.NewMemoryRevoker(10 * time.Minute)
	)
	if cfg.Redis.Enabled {
		rdb, err := redis.New(ctx, cfg, logger.Named("redis"))
		if err != nil {
			logger.Warn("Redis initialization failed, upload throttling disabled and logouts kept in memory",
				zap.Error(err))
		} else {
			defer rdb.Close()
			slots = rdb
			revoker = rdb
		}
	}

	// Services
	history := service.NewHistoryManager(db, blobs, cfg.Retention.MaxStoredDatasets, logger.Get(), m)
	datasets := service.NewDatasetService(db, blobs, history, report.NewRenderer(), service.DatasetOptions{
		MaxUploadBytes:       cfg.Upload.MaxBytes,
		MaxConcurrentPerUser: cfg.Upload.MaxConcurrentPerUser,
		Slots:                slots,
	}, logger.Get(), m)
	authSvc := service.NewAuthService(db, jwt.NewManager(cfg.JWT.SecretKey, cfg.JWT.ExpireHours), revoker, cfg.IsAdminName, logger.Get())
	adminSvc := service.NewAdminService(db, datasets, history, blobs, logger.Get())
	limiter := service.NewIPRateLimiter(cfg.RateLimit.AuthPerMinute, cfg.RateLimit.AuthBurst, 10*time.Minute)

	// Set Gin mode
	gin.SetMode(gin.ReleaseMode)

	r := api.NewEngine(api.Deps{
		Auth:     auth.NewHandler(authSvc, limiter, logger.Named("auth")),
		Datasets: data.NewHandler(datasets, logger.Named("datasets")),
		Admin:    admin.NewHandler(adminSvc, logger.Named("admin")),
		Metrics:  m,
		Log:      logger.Named("http"),
		Ping:     db.Ping,
	})

	// Print startup info
	rule := strings.Repeat("=", 61)
	fmt.Println(rule)
	fmt.Println("🧪 Starting Chemical Equipment Visualizer API")
	fmt.Println(rule)
	fmt.Printf("🌐 URL: http://%s\n", cfg.GetServerAddr())
	fmt.Printf("💾 Database: %s\n", cfg.Database.Path)
	fmt.Printf("📁 Uploads: %s\n", cfg.Storage.Dir)
	fmt.Printf("🗂  History: %d datasets per user\n", history.MaxStored())
	fmt.Println(rule)

	srv := &http.Server{
		Addr:              cfg.GetServerAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
}
