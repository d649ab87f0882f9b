package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/evidex/internal/config"
	"github.com/kailas-cloud/evidex/internal/domain/route"
	"github.com/kailas-cloud/evidex/internal/inference/onnx"
	logpkg "github.com/kailas-cloud/evidex/internal/logger"
	"github.com/kailas-cloud/evidex/internal/metrics"
	"github.com/kailas-cloud/evidex/internal/usecase/models"
	"github.com/kailas-cloud/evidex/internal/usecase/pipeline"
)

// modelStack is the in-process inference stack shared by the commands.
type modelStack struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *models.Registry
	pipe     *pipeline.Service
}

func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(flagEnv)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logpkg.NewLogger(flagEnv, flagLogLevel)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}

// openModels loads the configured models and waits for them.
// With requireReady unset a failed critical role is reported, not returned as an error.
func openModels(ctx context.Context, requireReady bool) (*modelStack, func(), error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, func() {}, err
	}

	metrics.RegisterInferenceMetrics()

	loader, err := onnx.NewLoader(cfg.Models.RuntimeLibrary)
	if err != nil {
		return nil, func() {}, fmt.Errorf("initialize onnxruntime: %w", err)
	}
	loader.WithInputSize(cfg.Pipeline.InputSize)
	critical, brands := models.Specs(cfg.ModelFiles())
	registry := models.New(loader, critical, brands, logger).WithConcurrency(cfg.Models.LoadConcurrency)
	registry.Start(ctx)

	cleanup := func() {
		if err := registry.Close(); err != nil {
			logger.Error("Failed to release models", zap.Error(err))
		}
		if err := onnx.DestroyEnvironment(); err != nil {
			logger.Error("Failed to destroy onnxruntime environment", zap.Error(err))
		}
		_ = logger.Sync()
	}

	wait := flagModelsWait
	if wait <= 0 {
		wait = time.Duration(cfg.Models.WaitTimeoutSec) * time.Second
	}
	if !registry.WaitForModels(ctx, wait) && requireReady {
		cleanup()
		if err := ctx.Err(); err != nil {
			return nil, func() {}, err
		}
		return nil, func() {}, errors.New("models not ready (see `evidexctl models status`)")
	}

	pipe := pipeline.New(registry, route.NewDefault(), cfg.PipelineDefaults(), logger)
	return &modelStack{cfg: cfg, logger: logger, registry: registry, pipe: pipe}, cleanup, nil
}
