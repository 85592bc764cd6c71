package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ideaboard/api/internal/app"
	"ideaboard/api/internal/config"
	"ideaboard/api/internal/engine"
	"ideaboard/api/internal/feed"
	"ideaboard/api/internal/ledger"
	"ideaboard/api/internal/objectstore"
	"ideaboard/api/internal/realtime"
	"ideaboard/api/internal/search"
	"ideaboard/api/internal/store"
	"ideaboard/api/internal/timer"
)

type dataStore interface {
	engine.Store
	Ping(ctx context.Context) error
}

type changeFeed interface {
	feed.Publisher
	feed.Subscriber
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	ctx := context.Background()

	var data dataStore
	var fallback search.Searcher
	var records search.RecordLoader
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		data = store.NewPostgresStore(db)
		pgfts := search.NewPgFTS(db)
		fallback, records = pgfts, pgfts
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		mem := store.NewMemoryStore()
		data, fallback = mem, search.NewSubstring(mem)
	}

	var changes changeFeed
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for change fan-out")
		redisFeed, err := feed.NewRedisFeed(cfg.RedisURL, logger)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		changes = redisFeed
	} else {
		changes = feed.NewHub(64, logger)
	}
	defer changes.Close()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, fallback, logger)
	searchService.KeepIndexed(ctx, records)

	var images objectstore.Uploader
	if strings.TrimSpace(cfg.ObjectStore.Endpoint) != "" {
		minioStore, err := objectstore.NewMinio(objectstore.MinioConfig{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Bucket:    cfg.ObjectStore.Bucket,
			Region:    cfg.ObjectStore.Region,
			UseSSL:    cfg.ObjectStore.UseSSL,
			MaxBytes:  cfg.MaxImageBytes,
		}, logger)
		if err != nil {
			log.Fatalf("object store: %v", err)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			logger.Warn("object store bucket check failed", "bucket", cfg.ObjectStore.Bucket, "error", err)
		}
		images = minioStore
	} else {
		images = objectstore.NewMemory(cfg.MaxImageBytes)
	}

	eng := engine.New(data, changes,
		engine.WithLogger(logger),
		engine.WithImages(images),
		engine.WithSearch(searchService),
		engine.WithLedgerOptions(ledger.WithAttempts(cfg.UpvoteAttempts), ledger.WithLogger(logger)),
	)
	live := realtime.NewClient(changes, eng, realtime.WithLogger(logger))

	policy, err := timer.ParsePolicy(cfg.SubmissionPolicy)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	httpServer := app.NewHTTPServer(eng, live, app.Options{
		JWTSecret:     []byte(cfg.JWTSecret),
		CORSOrigin:    cfg.CORSOrigin,
		Policy:        policy,
		MaxImageBytes: cfg.MaxImageBytes,
		Pinger:        data,
		Logger:        logger,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: live connections stay open and manage their own
		// write deadlines.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("ideaboard api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	searchService.Wait()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
