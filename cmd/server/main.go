package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AnkitKoranga/guardrail/internal/classifier"
	"github.com/AnkitKoranga/guardrail/internal/config"
	"github.com/AnkitKoranga/guardrail/internal/generation"
	"github.com/AnkitKoranga/guardrail/internal/guardrail"
	"github.com/AnkitKoranga/guardrail/internal/handlers"
	"github.com/AnkitKoranga/guardrail/internal/router"
	"github.com/AnkitKoranga/guardrail/internal/storage"
	"github.com/AnkitKoranga/guardrail/internal/worker"
)

func main() {
	// Parse command line flags
	var configPath string
	flag.StringVar(&configPath, "config", "configs/foodguard.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config file (%v)", err)
	}

	// Initialize storage backend
	backend, err := setupStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to setup storage: %v", err)
	}
	log.Println("✅ Storage backend initialized successfully")

	// Initialize decision cache
	var cacheClient guardrail.CacheClient
	if cfg.Cache.Enabled {
		cacheClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		log.Printf("✅ Decision cache enabled (redis %s)", cfg.Cache.Addr)
	} else {
		log.Println("Decision cache disabled; every request runs the full pipeline")
	}

	ttl, err := time.ParseDuration(cfg.Cache.TTL)
	if err != nil {
		log.Printf("Invalid cache TTL, using default 1h: %v", err)
		ttl = time.Hour
	}
	cache := guardrail.NewDecisionCache(cacheClient, ttl)

	// Initialize guardrail pipeline
	engine := setupEngine(cfg, cache)
	log.Println("✅ Guardrail pipeline initialized")

	// Initialize generation client
	generator := generation.NewGeminiClient(generation.GeminiConfig{
		APIKey:  cfg.Generation.APIKey,
		Model:   cfg.Generation.Model,
		BaseURL: cfg.Generation.BaseURL,
		Timeout: time.Duration(cfg.Generation.Timeout) * time.Second,
	})

	// Initialize worker pool
	pool := worker.NewPool(worker.Config{
		Backend:   backend,
		Engine:    engine,
		Generator: generator,
		Workers:   cfg.Workers.Count,
		QueueSize: cfg.Workers.QueueSize,
	})
	log.Printf("✅ Worker pool initialized with %d workers", cfg.Workers.Count)

	// Initialize HTTP layer
	api := handlers.NewAPI(backend, pool, int64(cfg.Guardrails.MaxImageBytes))
	r := router.New(api)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		fmt.Printf("🚀 FoodGuard gateway starting on port %s\n", cfg.Server.Port)
		fmt.Println("📋 Available endpoints:")
		fmt.Println("   POST /v1/generate       - Submit a generation request")
		fmt.Println("   GET  /v1/requests/{id}  - Poll request status")
		fmt.Println("   GET  /healthz           - Health check")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start:", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\n🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Error during server shutdown: %v", err)
	}

	if err := pool.Close(); err != nil {
		log.Printf("Error closing worker pool: %v", err)
	}

	if err := backend.Close(); err != nil {
		log.Printf("Error closing storage backend: %v", err)
	}

	fmt.Println("✅ Server shutdown complete")
}

// setupStorage initializes the storage backend based on configuration
func setupStorage(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Type {
	case "postgres":
		return setupPostgres(cfg)
	case "memory":
		return storage.NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// setupPostgres initializes the PostgreSQL storage backend
func setupPostgres(cfg *config.Config) (storage.Backend, error) {
	pgCfg := cfg.Storage.Postgres

	// Build connection URL
	var connectionURL string
	if pgCfg.URL != "" && !strings.Contains(pgCfg.URL, "${") {
		connectionURL = pgCfg.URL
	} else if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		connectionURL = dbURL
	} else {
		sslMode := pgCfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		connectionURL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			pgCfg.Username,
			pgCfg.Password,
			pgCfg.Host,
			pgCfg.Port,
			pgCfg.Database,
			sslMode,
		)
	}

	log.Printf("Connecting to PostgreSQL database...")

	return storage.NewPostgresStorage(storage.PostgresConfig{
		ConnectionURL:   connectionURL,
		MaxConnections:  pgCfg.MaxConnections,
		MaxIdleConns:    pgCfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pgCfg.ConnMaxLifetime) * time.Minute,
	})
}

// setupEngine wires the guardrail pipeline from configuration
func setupEngine(cfg *config.Config, cache *guardrail.DecisionCache) *guardrail.Engine {
	timeout, err := time.ParseDuration(cfg.Classifiers.Timeout)
	if err != nil {
		log.Printf("Invalid classifier timeout, using default 15s: %v", err)
		timeout = 15 * time.Second
	}

	embedder := classifier.NewEmbeddingClient(cfg.Classifiers.EmbeddingURL, timeout)
	clip := classifier.NewCLIPClient(cfg.Classifiers.CLIPURL, timeout)

	policy := guardrail.Policy{
		MaxPromptChars:  cfg.Guardrails.MaxPromptChars,
		MaxImageBytes:   cfg.Guardrails.MaxImageBytes,
		MaxPixels:       cfg.Guardrails.MaxPixels,
		Margin:          cfg.Guardrails.Margin,
		DomainThreshold: cfg.Guardrails.DomainThreshold,
	}

	return guardrail.NewEngine(
		policy,
		cache,
		guardrail.NewSanitizer(policy.MaxImageBytes, policy.MaxPixels),
		guardrail.NewDomainChecker(embedder, policy.DomainThreshold),
		guardrail.NewImageChecker(clip, policy.Margin),
	)
}
