// Package main wires together the ingestion service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/newsdeck/hn-ingest/internal/api"
	"github.com/newsdeck/hn-ingest/internal/artifacts"
	"github.com/newsdeck/hn-ingest/internal/clock/system"
	"github.com/newsdeck/hn-ingest/internal/config"
	"github.com/newsdeck/hn-ingest/internal/enricher"
	"github.com/newsdeck/hn-ingest/internal/id/uuid"
	"github.com/newsdeck/hn-ingest/internal/logging"
	"github.com/newsdeck/hn-ingest/internal/metrics"
	"github.com/newsdeck/hn-ingest/internal/orchestrator"
	"github.com/newsdeck/hn-ingest/internal/parser"
	"github.com/newsdeck/hn-ingest/internal/publisher"
	"github.com/newsdeck/hn-ingest/internal/scraper"
	"github.com/newsdeck/hn-ingest/internal/session"
	"github.com/newsdeck/hn-ingest/internal/steplog"
	memorystore "github.com/newsdeck/hn-ingest/internal/store/memory"
	"github.com/newsdeck/hn-ingest/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	items, runs, steps, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build stores: %w", err)
	}
	defer closeStores()

	sink, err := buildArtifactSink(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build artifact sink: %w", err)
	}

	pub, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build publisher: %w", err)
	}
	defer closePublisher()

	launcher, err := session.NewLauncher(session.Config{
		UserAgent:   cfg.Source.UserAgent,
		NavQPS:      cfg.Source.NavQPS,
		TitleMarker: cfg.Source.TitleMarker,
	}, sink, logger.Named("session"))
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := launcher.Close(closeCtx); err != nil {
			logger.Warn("browser shutdown error", zap.Error(err))
		}
	}()

	listingParser := parser.New(cfg.Source.BaseURL, logger.Named("parser"))
	collector := parser.NewCollector(listingParser, parser.CollectorConfig{
		BaseURL:    cfg.Source.BaseURL,
		NavTimeout: cfg.Scrape.NavTimeout(),
		NavPolicy:  scraper.NewExponentialRetryPolicy(cfg.Scrape.RetryMaxAttempts),
	}, logger.Named("collector"))

	fetcher := enricher.NewCollyFetcher(enricher.FetcherConfig{
		UserAgent: cfg.Source.UserAgent,
		Timeout:   cfg.Scrape.EnrichTimeout(),
	})
	enrich := enricher.New(enricher.Config{
		BaseURL:       cfg.Source.BaseURL,
		Concurrency:   cfg.Scrape.EnrichConcurrency,
		ItemTimeout:   cfg.Scrape.EnrichTimeout(),
		MaxReplyChars: cfg.Scrape.TopReplyMaxChars,
	}, fetcher, logger.Named("enricher"))
	enrich.OnFailure(metrics.ObserveEnrichFailure)

	orch, err := orchestrator.New(orchestrator.Config{
		RetryMaxAttempts: cfg.Scrape.RetryMaxAttempts,
		SessionTimeout:   cfg.Scrape.SessionTimeout(),
		CollectTimeout:   cfg.Scrape.ParseTimeout(),
		PersistTimeout:   cfg.Scrape.PersistTimeout(),
	}, orchestrator.Deps{
		Sessions:  launcher,
		Collector: collector,
		Enricher:  enrich,
		Items:     items,
		Runs:      runs,
		Steps:     steps,
		Publisher: pub,
		Topic:     cfg.Publisher.Topic,
		Clock:     system.New(),
		Logger:    logger.Named("orchestrator"),
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	apiServer := api.NewServer(ctx, api.Config{
		DefaultCount: cfg.Source.DefaultCount,
	}, orch, runs, items, uuid.NewUUIDGenerator(), logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildStores(ctx context.Context, cfg config.Config) (scraper.ItemStore, scraper.RunStore, steplog.Store, func(), error) {
	switch cfg.DB.Provider {
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, nil, err
		}
		items, err := postgres.NewItemStore(pool)
		if err != nil {
			pool.Close()
			return nil, nil, nil, nil, err
		}
		runs, err := postgres.NewRunStore(pool)
		if err != nil {
			pool.Close()
			return nil, nil, nil, nil, err
		}
		steps, err := postgres.NewStepStore(pool)
		if err != nil {
			pool.Close()
			return nil, nil, nil, nil, err
		}
		return items, runs, steps, pool.Close, nil
	case "memory":
		return memorystore.NewItemStore(), memorystore.NewRunStore(), steplog.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown db provider %q", cfg.DB.Provider)
	}
}

func buildArtifactSink(ctx context.Context, cfg config.Config) (scraper.ArtifactSink, error) {
	switch cfg.Artifacts.Provider {
	case "local":
		return artifacts.NewFSSink(cfg.Artifacts.Dir)
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return artifacts.NewGCSSink(client, cfg.Artifacts.GCSBucket)
	case "noop":
		return artifacts.NoopSink{}, nil
	default:
		return nil, fmt.Errorf("unknown artifacts provider %q", cfg.Artifacts.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (scraper.Publisher, func(), error) {
	switch cfg.Publisher.Provider {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Publisher.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		pub, err := publisher.NewPubSub(client)
		if err != nil {
			return nil, nil, err
		}
		return pub, func() {
			pub.Close()
			if err := client.Close(); err != nil {
				zap.L().Warn("pubsub client close error", zap.Error(err))
			}
		}, nil
	case "memory":
		return publisher.NewMemory(), func() {}, nil
	case "noop":
		return publisher.Noop{}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown publisher provider %q", cfg.Publisher.Provider)
	}
}
