package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/querydesk/querydesk/internal/api"
	"github.com/querydesk/querydesk/internal/assistant"
	"github.com/querydesk/querydesk/internal/auth"
	"github.com/querydesk/querydesk/internal/chart"
	"github.com/querydesk/querydesk/internal/config"
	"github.com/querydesk/querydesk/internal/lexicon"
	"github.com/querydesk/querydesk/internal/nl2sql"
	"github.com/querydesk/querydesk/internal/observability"
	"github.com/querydesk/querydesk/internal/query"
	duckdbengine "github.com/querydesk/querydesk/internal/query/duckdb"
	postgresengine "github.com/querydesk/querydesk/internal/query/postgres"
	"github.com/querydesk/querydesk/internal/rpc"
	"github.com/querydesk/querydesk/internal/schema"
	"github.com/querydesk/querydesk/internal/shaper"
	"github.com/querydesk/querydesk/internal/storage"
	s3store "github.com/querydesk/querydesk/internal/storage/s3"
)

type backend struct {
	engine    query.Engine
	source    schema.Source
	readiness api.ReadinessCheck
	close     func()
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", slog.Any("error", err))
	}

	cfg, err := config.LoadFromEnv("querydesk-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var objectStore storage.ObjectStore
	var objectStoreReady api.ReadinessCheck
	if cfg.ObjectStore.Enabled {
		s3, err := s3store.New(ctx, cfg.ObjectStore)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		objectStore = s3
		objectStoreReady = s3.Ready
	}

	be, err := openBackend(ctx, cfg, objectStore)
	if err != nil {
		logger.Error("failed to open query backend", slog.String("backend", string(cfg.Backend)), slog.Any("error", err))
		os.Exit(1)
	}
	defer be.close()

	storeOpts := []schema.Option{schema.WithLogger(logger), schema.WithFetchTimeout(cfg.Execution.Timeout)}
	if cfg.Schema.CacheFile != "" {
		storeOpts = append(storeOpts, schema.WithCache(schema.FileCache{Path: cfg.Schema.CacheFile}))
	}
	if cfg.Schema.CacheObject != "" && objectStore != nil {
		storeOpts = append(storeOpts, schema.WithCache(schema.ObjectCache{Store: objectStore, Key: cfg.Schema.CacheObject}))
	}
	schemaStore := schema.NewStore(be.source, storeOpts...)
	schemaStore.WarmStart(ctx)
	go schemaStore.Run(ctx, cfg.Schema.TTL, cfg.Schema.CheckInterval)

	lex, err := lexicon.Load(cfg.Lexicon.File)
	if err != nil {
		logger.Error("failed to load lexicon", slog.Any("error", err))
		os.Exit(1)
	}

	generator, err := newGenerator(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize sql generator", slog.String("provider", cfg.AI.Provider), slog.Any("error", err))
		os.Exit(1)
	}

	var renderer chart.Renderer
	if cfg.Chart.Enabled && objectStore != nil {
		renderer = chart.NewObjectStoreRenderer(objectStore, cfg.Chart.URLPrefix)
	}
	resultShaper := shaper.New(shaper.Config{
		MaxRows:      cfg.Result.MaxRows,
		Renderer:     renderer,
		ChartTimeout: cfg.Chart.Timeout,
		Logger:       logger,
	})

	service, err := assistant.NewService(assistant.Config{
		Snapshots:        schemaStore,
		Lexicon:          lex,
		Generator:        generator,
		Engine:           be.engine,
		Shaper:           resultShaper,
		StaleAfter:       cfg.Schema.TTL,
		ExecutionTimeout: cfg.Execution.Timeout,
		RowLimit:         cfg.Execution.RowLimit,
		Logger:           logger,
	})
	if err != nil {
		logger.Error("failed to initialize assistant", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Assistant:         service,
		Schema:            schemaStore,
		Readiness: api.CombineReadinessChecks(
			be.readiness,
			objectStoreReady,
			api.CheckSchemaInitialized(schemaStore),
		),
		DependencyTimeout: 2 * time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("backend", string(cfg.Backend)),
			slog.String("provider", cfg.AI.Provider),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func openBackend(ctx context.Context, cfg config.Config, objectStore storage.ObjectStore) (backend, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		db, err := postgresengine.Open(ctx, postgresengine.DBConfig{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return backend{}, err
		}
		return backend{
			engine:    postgresengine.NewEngine(db, cfg.Execution.Timeout),
			source:    schema.NewSQLSource(db, cfg.Database.Schema),
			readiness: db.PingContext,
			close:     func() { _ = db.Close() },
		}, nil
	case config.BackendDuckDB:
		tables, err := duckdbengine.ParseTables(cfg.DuckDB.Tables)
		if err != nil {
			return backend{}, err
		}
		if len(tables) > 0 && objectStore == nil {
			return backend{}, errors.New("duckdb parquet tables require QUERYDESK_OBJECTSTORE_ENABLED")
		}
		engine, err := duckdbengine.Open(ctx, duckdbengine.Config{Path: cfg.DuckDB.Path, Tables: tables}, objectStore)
		if err != nil {
			return backend{}, err
		}
		return backend{
			engine:    engine,
			source:    engine,
			readiness: engine.Ping,
			close:     func() { _ = engine.Close() },
		}, nil
	case config.BackendRPC:
		client, err := rpc.New(rpc.Config{
			BaseURL:        cfg.RPC.BaseURL,
			APIKey:         cfg.RPC.APIKey,
			SchemaFunction: cfg.RPC.SchemaFunction,
			ExecFunction:   cfg.RPC.ExecFunction,
			Timeout:        cfg.Execution.Timeout,
		})
		if err != nil {
			return backend{}, err
		}
		return backend{engine: client, source: client, close: func() {}}, nil
	default:
		return backend{}, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

func newGenerator(ctx context.Context, cfg config.Config) (nl2sql.Generator, error) {
	switch cfg.AI.Provider {
	case config.ProviderGemini:
		return nl2sql.NewGeminiGenerator(ctx, nl2sql.GeminiConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
			Retries:     cfg.AI.Retries,
		})
	default:
		return nl2sql.NewOpenAIGenerator(nl2sql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
			Retries:     cfg.AI.Retries,
		})
	}
}
