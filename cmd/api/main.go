package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/alert"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/cache"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/cache/disk"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/cache/memory"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/config"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/llm"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/orchestrator"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/server"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/server/middleware"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/store"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/stream"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/trace"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	planCache, err := buildCache(cfg, logger)
	if err != nil {
		logger.Fatalf("init cache: %v", err)
	}

	primary, fallback, err := buildClients(cfg, logger)
	if err != nil {
		logger.Fatalf("init model clients: %v", err)
	}
	defer primary.Close()
	defer fallback.Close()

	recorder := trace.NewRecorder(cfg.Trace.MaxRuns, cfg.Trace.MaxEvents, cfg.Trace.TTL, logger)
	alerts := alert.NewEngine(alert.Config{
		Window:       cfg.Alert.Window,
		MaxPerWindow: cfg.Alert.MaxPerWindow,
		Logger:       logger,
	})
	defer alerts.Close()
	alerts.RegisterNotifier(func(a alert.Alert) {
		logger.Printf("ALERT [%s] %s metric=%s category=%s", a.Level, a.ID, a.Metric, a.Category)
	})

	planStore, s3 := buildStores(cfg, logger)
	if planStore != nil {
		defer planStore.Close()
	}
	// Keep nil concrete pointers out of the interfaces.
	var archive orchestrator.Archiver
	var archiveGet archiveReader
	if s3 != nil {
		archive = s3
		archiveGet = s3
	}

	orch := orchestrator.New(orchestrator.Deps{
		Cache:    planCache,
		Primary:  primary,
		Fallback: fallback,
		Trace:    recorder,
		Alerts:   alerts,
		Archive:  archive,
		Plans:    planStore,
		Logger:   logger,
	}, orchestrator.Config{
		MaxRetries:      cfg.Model.MaxRetries,
		RetryBase:       cfg.Model.RetryBase,
		AbortOnDayError: cfg.Model.AbortOnError,
	})

	api := newAPIServer(orch, recorder, alerts, stream.NewBroker(), planStore, archiveGet, logger)

	srv := server.New(cfg.Port, middleware.CORS(api.routes()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatalf("server: %v", err)
		}
	case sig := <-stop:
		logger.Printf("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	}
}

func buildCache(cfg *config.Config, logger *log.Logger) (cache.Store, error) {
	if cfg.Cache.Dir != "" {
		logger.Printf("using disk cache at %s", cfg.Cache.Dir)
		return disk.New(disk.Config{
			Root:       cfg.Cache.Dir,
			MaxEntries: cfg.Cache.MaxEntries,
			TTL:        cfg.Cache.TTL,
		})
	}
	return memory.NewLRUTTL(cfg.Cache.MaxEntries, cfg.Cache.TTL), nil
}

// buildClients picks the generation backends. Without any API key the
// service runs against the deterministic local client.
func buildClients(cfg *config.Config, logger *log.Logger) (primary, fallback llm.Client, err error) {
	decorate := func(c llm.Client) llm.Client {
		return llm.Wrap(c,
			llm.RateLimit(cfg.Model.RPS, cfg.Model.Burst),
			llm.WithLogging(logger),
		)
	}

	if cfg.Model.GeminiAPIKey == "" && cfg.Model.GroqAPIKey == "" {
		logger.Printf("no model API key configured, using the local fake client")
		fake := llm.NewFakeClient()
		return decorate(fake), decorate(fake), nil
	}

	if cfg.Model.GeminiAPIKey != "" {
		primary, err = llm.NewGeminiClient(context.Background(), cfg.Model.PrimaryModel)
		if err != nil {
			return nil, nil, err
		}
		fallback, err = llm.NewGeminiClient(context.Background(), cfg.Model.FallbackModel)
		if err != nil {
			return nil, nil, err
		}
	}

	// Groq serves as primary when it is the only key, otherwise as fallback.
	if cfg.Model.GroqAPIKey != "" {
		groq := llm.NewGroqClient(cfg.Model.GroqAPIKey, cfg.Model.GroqModel)
		if primary == nil {
			primary = groq
			fallback = llm.NewGroqClient(cfg.Model.GroqAPIKey, cfg.Model.GroqModel)
		} else {
			fallback = groq
		}
	}

	return decorate(primary), decorate(fallback), nil
}

func buildStores(cfg *config.Config, logger *log.Logger) (store.PlanStore, *store.S3Archive) {
	var plans store.PlanStore
	if cfg.Store.PostgresDSN != "" {
		pg, err := store.NewPostgres(cfg.Store.PostgresDSN)
		if err != nil {
			logger.Printf("postgres plan store unavailable, using memory: %v", err)
			plans = store.NewMemory()
		} else {
			logger.Printf("using postgres plan store")
			plans = pg
		}
	} else {
		plans = store.NewMemory()
	}

	var archive *store.S3Archive
	if cfg.Archive.Enabled {
		s3, err := store.NewS3Archive(store.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			logger.Printf("plan archive disabled: %v", err)
		} else {
			archive = s3
		}
	}
	return plans, archive
}
