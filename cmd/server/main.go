package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"queryweave/internal/api"
	"queryweave/internal/app/bootstrap"
	"queryweave/internal/db/postgres"
	redisdb "queryweave/internal/db/redis"
	"queryweave/internal/domain/rag"
	"queryweave/internal/platform/config"
	applog "queryweave/internal/platform/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		applog.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeSeconds) * time.Second)

	if err := db.Ping(); err != nil {
		applog.Fatalf("❌ Failed to ping database: %v", err)
	}
	applog.Info("✅ Connected to PostgreSQL")

	store := postgres.NewStore(db)

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.EnsureSchema(migrateCtx); err != nil {
		migrateCancel()
		applog.Fatalf("❌ Failed to ensure schema: %v", err)
	}
	migrateCancel()
	applog.Info("✅ Schema ready (datasets, documents, chunks)")

	bootstrap.RegisterLLMProviders(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)

	ragCfg := &cfg.RAG

	// 查询扩展 + 词向量共享一个 TTL 缓存
	queryCache := rag.NewQueryCache(time.Duration(ragCfg.QueryCacheTTL) * time.Second)

	retriever := rag.NewRetriever(store, ragCfg)
	indexer := rag.NewIndexer(store, ragCfg)

	var expander *rag.QueryExpander
	if ragCfg.HasExpansion() {
		expander = rag.NewQueryExpander(ragCfg, queryCache)
		retriever.SetExpander(expander)
		applog.Infof("✅ Query expander initialized (provider: %s, model: %s, max_terms: %d)",
			ragCfg.ExpansionProvider, ragCfg.ExpansionModel, ragCfg.MaxSearchTerms)
	} else {
		applog.Info("ℹ️  No expansion model configured, searching with the raw query only")
	}

	if ragCfg.HasEmbedding() {
		embedder := rag.NewOpenAIEmbedder(rag.OpenAIEmbedderConfig{
			BaseURL: cfg.OpenAI.BaseURL,
			APIKey:  cfg.OpenAI.APIKey,
			Model:   ragCfg.EmbeddingModel,
			Dims:    ragCfg.EmbeddingDims,
		})
		multi := rag.NewMultiEmbedder(embedder, embedder.Model(), ragCfg.EmbeddingBatchSize, queryCache)
		retriever.SetEmbedder(multi)
		indexer.SetEmbedder(embedder)
		applog.Infof("✅ Embedder initialized (model: %s, dims: %d)", embedder.Model(), embedder.Dims())
	}

	var resultCache rag.SearchCacheStore
	if ragCfg.HasResultCache() && cfg.Redis.URL != "" {
		if opt, err := goredis.ParseURL(cfg.Redis.URL); err == nil {
			cacheRedis := goredis.NewClient(opt)
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := cacheRedis.Ping(pingCtx).Err()
			pingCancel()
			if pingErr != nil {
				applog.Warnf("⚠️  Redis ping failed, result cache disabled: %v", pingErr)
			} else {
				searchCache := redisdb.NewSearchCache(cacheRedis, ragCfg.ResultCacheTTL)
				retriever.SetCache(searchCache)
				indexer.SetCache(searchCache)
				resultCache = searchCache
				applog.Infof("✅ Search result cache initialized (TTL: %ds)", ragCfg.ResultCacheTTL)
			}
		} else {
			applog.Warnf("⚠️  Redis URL invalid, result cache disabled: %v", err)
		}
	}

	parsers := rag.NewParserRegistry()
	indexer.SetParsers(parsers)
	applog.Infof("✅ Parser registry initialized (types: %s)", parsers.SupportedTypes())

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	serverConfig.JWTSecret = cfg.Auth.JWTSecret
	serverConfig.JWTIssuer = cfg.Auth.JWTIssuer

	server := api.NewServer(serverConfig, store, store, retriever, indexer)
	server.SetExpansion(expander, queryCache)
	server.SetResultCache(resultCache)
	server.SetMaxFileMB(ragCfg.MaxFileSize)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Warnf("⚠️  Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && err.Error() != "http: Server closed" {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}
