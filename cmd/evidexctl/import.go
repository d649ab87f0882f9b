package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	dbRedis "github.com/kailas-cloud/evidex/internal/db/redis"
	"github.com/kailas-cloud/evidex/internal/importer"
	referencerepo "github.com/kailas-cloud/evidex/internal/repository/reference"
	referenceuc "github.com/kailas-cloud/evidex/internal/usecase/reference"
)

var importFlags struct {
	workers     int
	saveEvery   int
	reset       bool
	lockTimeout time.Duration
	metricsAddr string
}

var importCmd = &cobra.Command{
	Use:   "import MANIFEST",
	Short: "Bulk-index reference images listed in a YAML manifest",
	Long: `Vectorizes and stores every reference listed in MANIFEST:

  references:
    - id: heroin-001          # optional, a UUID is generated when empty
      file: images/heroin-001.jpg
      drug_type: heroin
      drug_category: opioid
      characteristics: brown powder
      image_url: https://example.org/heroin-001.jpg

Progress is saved to MANIFEST.cursor.json. Rerunning resumes after the last
completed entry; --reset starts over. Existing ids are overwritten.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	f := importCmd.Flags()
	f.IntVar(&importFlags.workers, "workers", 4, "number of parallel indexing workers")
	f.IntVar(&importFlags.saveEvery, "save-every", 50, "save the cursor every N entries")
	f.BoolVar(&importFlags.reset, "reset", false, "ignore the cursor and start from scratch")
	f.DurationVar(&importFlags.lockTimeout, "lock-timeout", 5*time.Second, "wait for a concurrent import to finish")
	f.StringVar(&importFlags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while importing")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	manifest, err := importer.LoadManifest(args[0])
	if err != nil {
		return err
	}

	stack, cleanup, err := openModels(ctx, true)
	if err != nil {
		return err
	}
	defer cleanup()
	cfg, logger := stack.cfg, stack.logger

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:      cfg.Database.Addrs,
		Username:   cfg.Database.Username,
		Password:   cfg.Database.Password,
		DB:         cfg.Database.DB,
		ClientName: "evidexctl",
	})
	if err != nil {
		return fmt.Errorf("create database store: %w", err)
	}
	defer store.Close()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}

	pipeCfg := cfg.PipelineDefaults()
	repo := referencerepo.New(store, pipeCfg.TargetDim).WithKeyPrefix(cfg.Storage.KeyPrefix)
	if cfg.Search.Algorithm == "HNSW" {
		repo = repo.WithHNSW(referencerepo.HNSWConfig{
			M:           cfg.Search.HNSWM,
			EFConstruct: cfg.Search.HNSWEFConstruct,
		})
	}
	if err := repo.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ensure reference index: %w", err)
	}
	refs := referenceuc.New(repo, stack.pipe, stack.pipe.DefaultOptions(), pipeCfg)

	im := importer.New(refs, logger).
		WithWorkers(importFlags.workers).
		WithSaveEvery(importFlags.saveEvery).
		WithLockTimeout(importFlags.lockTimeout)
	if importFlags.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		im = im.WithMetrics(importer.NewMetrics(reg))
		srv := serveMetrics(importFlags.metricsAddr, reg, logger)
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	res, err := im.Run(ctx, manifest, importFlags.reset)
	printImportResult(cmd, res)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d references failed", res.Failed, res.Total-res.Resumed)
	}
	return nil
}

func printImportResult(cmd *cobra.Command, res importer.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %d total, %d resumed, %d created, %d updated, %d failed in %s\n",
		res.RunID, res.Total, res.Resumed, res.Created, res.Updated, res.Failed,
		res.Duration.Round(time.Millisecond))
	if res.RunID != "" && res.Stored >= 0 {
		fmt.Fprintf(out, "index holds %d references\n", res.Stored)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "  #%d %s (%s): %v\n", f.Index, f.ID, f.File, f.Err)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
