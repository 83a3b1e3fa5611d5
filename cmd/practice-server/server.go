package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinicore/practice/internal/config"
	"github.com/clinicore/practice/internal/domain/appointment"
	"github.com/clinicore/practice/internal/domain/catalog"
	"github.com/clinicore/practice/internal/domain/chat"
	"github.com/clinicore/practice/internal/domain/order"
	"github.com/clinicore/practice/internal/domain/patient"
	"github.com/clinicore/practice/internal/platform/auth"
	"github.com/clinicore/practice/internal/platform/cache"
	"github.com/clinicore/practice/internal/platform/datastore"
	"github.com/clinicore/practice/internal/platform/db"
	"github.com/clinicore/practice/internal/platform/metrics"
	"github.com/clinicore/practice/internal/platform/middleware"
	"github.com/clinicore/practice/internal/platform/reqctx"
	"github.com/clinicore/practice/internal/platform/tenancy"
)

const version = "0.1.0"

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg != nil && cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	if cfg != nil {
		logger = logger.Level(cfg.Level())
	}
	return logger
}

// cliEnv holds the pieces every subcommand needs once the database is open.
type cliEnv struct {
	logger zerolog.Logger
	pool   *pgxpool.Pool
	store  tenancy.Executor
}

// withPool loads config, opens the pool and guarded store, and runs fn.
func withPool(fn func(ctx context.Context, cfg *config.Config, env *cliEnv) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)
	reqctx.DisableLegacyFallback(!cfg.TenantLegacyFallback)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := datastore.New(pool, tenancy.DefaultRules(), logger)
	if err != nil {
		return err
	}
	return fn(ctx, cfg, &cliEnv{logger: logger, pool: pool, store: store})
}

func (env *cliEnv) reconciler() *appointment.Reconciler {
	return appointment.NewReconciler(appointment.NewFinderPG(env.pool), appointment.NewRepo(env.store), env.logger)
}

func (env *cliEnv) registry(ctx context.Context, cfg *config.Config) (*db.Registry, func(), error) {
	c, _, closeCache, err := newCache(ctx, cfg, env.logger)
	if err != nil {
		return nil, nil, err
	}
	return db.NewRegistry(env.store, c, cfg.CacheDefaultTTL), closeCache, nil
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Hour,
	}
}

// newCache builds the cache service on the configured backend. The returned
// checks are added to /health/db.
func newCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*cache.Service, []db.Check, func(), error) {
	opts := []cache.Option{
		cache.WithDefaultTTL(cfg.CacheDefaultTTL),
		cache.WithSingleFlight(cfg.CacheSingleFlight),
	}

	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		client, err := cache.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		checks := []db.Check{{
			Name: "redis",
			Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		}}
		closeFn := func() { _ = client.Close() }
		return cache.New(cache.NewRedisBackend(client, "practice"), logger, opts...), checks, closeFn, nil
	default:
		backend := cache.NewMemoryBackend(cfg.CacheCapacity)
		closeFn := func() { _ = backend.Close() }
		return cache.New(backend, logger, opts...), nil, closeFn, nil
	}
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}

// authMiddleware picks development or JWT authentication.
func authMiddleware(cfg *config.Config, logger zerolog.Logger) echo.MiddlewareFunc {
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		logger.Warn().Msg("development auth enabled: requests without a token act as admin of the default tenant")
		return auth.DevAuthMiddleware([]byte(cfg.AuthSigningKey))
	}
	var signingKey []byte
	if cfg.AuthSigningKey != "" {
		signingKey = []byte(cfg.AuthSigningKey)
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: signingKey,
		Skipper:    auth.AuthSkipper,
	})
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	reqctx.DisableLegacyFallback(!cfg.TenantLegacyFallback)

	// Database
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	store, err := datastore.New(pool, tenancy.DefaultRules(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid tenancy rules")
	}

	// Cache
	cacheSvc, checks, closeCache, err := newCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize cache")
	}
	defer closeCache()
	logger.Info().Str("backend", cfg.CacheBackend).Msg("cache ready")

	registry := db.NewRegistry(store, cacheSvc, cfg.CacheDefaultTTL)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/metrics"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, db.TenantHeader},
	}))

	// Auth, then tenant resolution
	e.Use(authMiddleware(cfg, logger))
	e.Use(db.TenantMiddleware(registry, cfg.DefaultTenant, logger))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitConfig(cfg)))

	// Domains
	patientSvc := patient.NewService(patient.NewRepo(store))
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)

	catalogSvc := catalog.NewService(catalog.NewRepo(store), cacheSvc, cfg.CacheDefaultTTL)
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)

	orderSvc := order.NewService(order.NewRepo(store), patientSvc, catalogSvc)
	order.NewHandler(orderSvc).RegisterRoutes(apiV1)

	apptRepo := appointment.NewRepo(store)
	reconciler := appointment.NewReconciler(appointment.NewFinderPG(pool), apptRepo, logger)
	appointment.NewHandler(appointment.NewService(apptRepo), reconciler).RegisterRoutes(apiV1)

	if cfg.MongoURL != "" {
		client, err := chat.Connect(ctx, cfg.MongoURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to mongo")
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		chatRepo, err := chat.NewMongoRepo(ctx, client.Database(cfg.MongoDatabase))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize chat store")
		}
		chat.NewHandler(chat.NewService(chatRepo, logger)).RegisterRoutes(apiV1)
		checks = append(checks, db.Check{
			Name: "mongo",
			Ping: func(ctx context.Context) error { return client.Ping(ctx, nil) },
		})
		logger.Info().Str("database", cfg.MongoDatabase).Msg("chat enabled")
	}

	// Background reconciliation
	if cfg.ReconcileOnStart {
		go reconciler.Run(ctx)
	}
	go reconciler.Start(ctx, cfg.ReconcileInterval)

	// Infrastructure endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool, checks...))
	e.GET("/metrics", metrics.Handler())

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
