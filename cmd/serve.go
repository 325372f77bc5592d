package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/windlane/chatgraph/db"
	"github.com/windlane/chatgraph/internal/api"
	"github.com/windlane/chatgraph/internal/chat"
	"github.com/windlane/chatgraph/internal/config"
	"github.com/windlane/chatgraph/internal/log"
	"github.com/windlane/chatgraph/internal/model"
	"github.com/windlane/chatgraph/internal/session"
	"github.com/windlane/chatgraph/internal/tools"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 5 * time.Minute // NDJSON streaming needs a long timeout
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// Provider rate limit defaults, overridable via environment.
const (
	defaultRateLimit = 2.0 // requests per second
	defaultRateBurst = 4
)

// parseRateEnv reads a numeric environment variable, falling back to def
// when unset or invalid.
func parseRateEnv(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// runServe initializes and starts the HTTP API server.
func runServe(logger log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	serveArgs := []string{}
	if len(os.Args) > 2 {
		serveArgs = os.Args[2:]
	}
	addr, err := parseServeAddr(serveArgs)
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting chatgraph server", "version", AppVersion, "config", cfg)

	store, closeStore, err := setupStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	models := model.NewRegistry(cfg.ModelName)
	models.Register(cfg.ModelName, func(ctx context.Context) (model.Model, error) {
		return model.NewGemini(ctx, model.GeminiConfig{
			APIKey:      os.Getenv("GEMINI_API_KEY"),
			Model:       cfg.ModelName,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Retry:       model.DefaultRetryConfig(),
			Limiter: rate.NewLimiter(
				rate.Limit(parseRateEnv("CHATGRAPH_RATE_LIMIT", defaultRateLimit)),
				int(parseRateEnv("CHATGRAPH_RATE_BURST", defaultRateBurst))),
			Logger: logger,
		})
	})

	registry := tools.NewRegistry(logger)
	if err := tools.RegisterBuiltins(registry, tools.BuiltinConfig{
		SearchBaseURL:  cfg.SearchBaseURL,
		WeatherBaseURL: cfg.WeatherBaseURL,
	}); err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}

	builder, err := chat.NewBuilder(models, registry, store, logger)
	if err != nil {
		return fmt.Errorf("creating graph builder: %w", err)
	}

	apiServer, err := api.NewServer(api.ServerConfig{
		Builder:   builder,
		Store:     store,
		Logger:    logger,
		MaxTurns:  cfg.MaxTurns,
		CacheSize: cfg.GraphCacheSize,
		Version:   AppVersion,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", addr,
		"api", "/api/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

// setupStore builds the configured session store. For postgres it runs
// migrations before opening the pool.
func setupStore(ctx context.Context, cfg *config.Config, logger log.Logger) (session.Store, func(), error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory session store; conversations are lost on restart")
		return session.NewMemory(), func() {}, nil
	}

	connURL := cfg.PostgresURL()
	if err := db.Migrate(connURL, logger); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}

	store, err := session.NewPostgres(pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}
