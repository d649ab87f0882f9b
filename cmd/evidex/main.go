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
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/evidex/internal/config"
	dbRedis "github.com/kailas-cloud/evidex/internal/db/redis"
	"github.com/kailas-cloud/evidex/internal/domain/route"
	"github.com/kailas-cloud/evidex/internal/inference/onnx"
	logpkg "github.com/kailas-cloud/evidex/internal/logger"
	"github.com/kailas-cloud/evidex/internal/metrics"
	referencerepo "github.com/kailas-cloud/evidex/internal/repository/reference"
	"github.com/kailas-cloud/evidex/internal/repository/vectorcache"
	chiTransport "github.com/kailas-cloud/evidex/internal/transport/chi"
	analyzeuc "github.com/kailas-cloud/evidex/internal/usecase/analyze"
	healthuc "github.com/kailas-cloud/evidex/internal/usecase/health"
	"github.com/kailas-cloud/evidex/internal/usecase/models"
	"github.com/kailas-cloud/evidex/internal/usecase/pipeline"
	referenceuc "github.com/kailas-cloud/evidex/internal/usecase/reference"
	"github.com/kailas-cloud/evidex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting evidex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("models_dir", cfg.Models.Dir),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:      cfg.Database.Addrs,
		Username:   cfg.Database.Username,
		Password:   cfg.Database.Password,
		DB:         cfg.Database.DB,
		ClientName: "evidex",
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterInferenceMetrics()

	// Models load in the background; the readiness gate holds inference routes until they are warm.
	loader, err := onnx.NewLoader(cfg.Models.RuntimeLibrary)
	if err != nil {
		logger.Fatal("Failed to initialize onnxruntime", zap.Error(err))
	}
	loader.WithInputSize(cfg.Pipeline.InputSize)
	critical, brands := models.Specs(cfg.ModelFiles())
	registry := models.New(loader, critical, brands, logger).WithConcurrency(cfg.Models.LoadConcurrency)
	registry.Start(ctx)
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Error("Failed to release models", zap.Error(err))
		}
		if err := onnx.DestroyEnvironment(); err != nil {
			logger.Error("Failed to destroy onnxruntime environment", zap.Error(err))
		}
	}()

	pipeCfg := cfg.PipelineDefaults()
	router := route.NewDefault()

	pipe := pipeline.New(registry, router, pipeCfg, logger)
	var vectors chiTransport.Vectorizer = pipe
	var refVectors referenceuc.Vectorizer = pipe
	if cfg.Cache.Enabled {
		cached := vectorcache.New(pipe, store, time.Duration(cfg.Cache.TTLSec)*time.Second,
			metrics.VectorCacheTotal, logger).
			WithKeyPrefix(cfg.Storage.KeyPrefix).
			WithDefaultTargetDim(pipe.Config().TargetDim)
		vectors, refVectors = cached, cached
	}

	refRepo := referencerepo.New(store, pipeCfg.TargetDim).WithKeyPrefix(cfg.Storage.KeyPrefix)
	if cfg.Search.Algorithm == "HNSW" {
		refRepo = refRepo.WithHNSW(referencerepo.HNSWConfig{
			M:           cfg.Search.HNSWM,
			EFConstruct: cfg.Search.HNSWEFConstruct,
		})
	}
	if err := refRepo.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to ensure reference index", zap.Error(err))
	}

	analyzeSvc := analyzeuc.New(pipe, registry, router, logger)
	if cfg.Pipeline.AnalyzeCrops {
		analyzeSvc = analyzeSvc.WithCrops(0)
	}
	refSvc := referenceuc.New(refRepo, refVectors, pipe.DefaultOptions(), pipeCfg)
	healthSvc := healthuc.New(store, registry, router, logger)

	go func() {
		timeout := time.Duration(cfg.Models.WaitTimeoutSec) * time.Second
		if err := healthSvc.Bootstrap(ctx, timeout, *cfg.Models.WarmupOnStart); err != nil {
			logger.Error("Service not ready", zap.Error(err))
		}
	}()

	server := chiTransport.NewServer(analyzeSvc, vectors, pipe, refSvc, healthSvc, pipe.DefaultOptions(), logger)

	r := chi.NewRouter()
	r.Use(chiTransport.JSONRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.WideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	r.Use(chiTransport.ReadinessMiddleware(healthSvc.ServiceReady))
	chiTransport.HandlerWithOptions(server, chiTransport.ChiServerOptions{
		BaseRouter:       r,
		ErrorHandlerFunc: chiTransport.ParamErrorHandler,
		MaxUploadBytes:   cfg.HTTP.MaxUploadBytes,
	})

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}
