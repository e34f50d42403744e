package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hospital/outpatient/internal/config"
	"github.com/hospital/outpatient/internal/domain/attendance"
	"github.com/hospital/outpatient/internal/domain/audit"
	"github.com/hospital/outpatient/internal/domain/booking"
	"github.com/hospital/outpatient/internal/domain/queue"
	"github.com/hospital/outpatient/internal/domain/scheduling"
	"github.com/hospital/outpatient/internal/domain/tierconfig"
	"github.com/hospital/outpatient/internal/platform/auth"
	"github.com/hospital/outpatient/internal/platform/cache"
	"github.com/hospital/outpatient/internal/platform/db"
	"github.com/hospital/outpatient/internal/platform/httpx"
	"github.com/hospital/outpatient/internal/platform/middleware"
	"github.com/hospital/outpatient/internal/platform/telemetry"
)

// services is the wired core shared by the API, the worker and the CLI.
type services struct {
	loc      *time.Location
	resolver *tierconfig.Resolver
	catalog  *scheduling.Catalog
	ledger   *booking.Ledger
	queue    *queue.Service
	marker   *attendance.Marker
	pipeline *audit.Pipeline
}

func buildServices(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*services, func(), error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	var configCache cache.Cache = cache.Nop{}
	closeFn := func() {}
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL, "outpatient:")
		if err != nil {
			return nil, nil, err
		}
		configCache = rc
		closeFn = func() { _ = rc.Close() }
		logger.Info().Msg("tier config cache on redis")
	}

	tx := db.NewTxManager(pool, db.TxOptions{
		LockTimeout:      cfg.DBLockTimeout,
		StatementTimeout: cfg.DBStatementTimeout,
		MaxRetries:       cfg.DBTxRetries,
	}, logger)

	resolver := tierconfig.NewResolver(tierconfig.NewRepoPG(pool), tierconfig.NewDirectoryPG(pool),
		configCache, cfg.ConfigCacheTTL, logger.With().Str("component", "tierconfig").Logger())
	catalog := scheduling.NewCatalog(scheduling.NewRepoPG(pool), resolver, tx,
		logger.With().Str("component", "scheduling").Logger())
	orders := booking.NewRepoPG(pool)
	ledger := booking.NewLedger(orders, catalog, resolver, tx, loc,
		logger.With().Str("component", "booking").Logger())

	return &services{
		loc:      loc,
		resolver: resolver,
		catalog:  catalog,
		ledger:   ledger,
		queue: queue.NewService(orders, catalog, resolver, tx,
			logger.With().Str("component", "queue").Logger()),
		marker: attendance.NewMarker(attendance.NewRepoPG(pool), catalog, tx, loc,
			logger.With().Str("component", "attendance").Logger()),
		pipeline: audit.NewPipeline(audit.NewRepoPG(pool), catalog, ledger, resolver, tx,
			logger.With().Str("component", "audit").Logger()),
	}, closeFn, nil
}

// newServer builds the HTTP surface. Health endpoints sit outside /api/v1 so
// they need neither a caller nor a hospital schema.
func newServer(cfg *config.Config, pool *pgxpool.Pool, svc *services, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpx.ErrorHandler(logger)
	e.Validator = httpx.NewValidator()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": cfg.Version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthSigningKey == "" {
		logger.Warn().Msg("development auth: callers are taken from X-User-ID headers")
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.BodyLimit(cfg.BodyLimit))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	apiV1.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	tierconfig.NewHandler(svc.resolver).RegisterRoutes(apiV1)
	scheduling.NewHandler(svc.catalog).RegisterRoutes(apiV1)
	booking.NewHandler(svc.ledger).RegisterRoutes(apiV1)
	queue.NewHandler(svc.queue).RegisterRoutes(apiV1)
	attendance.NewHandler(svc.marker).RegisterRoutes(apiV1)
	audit.NewHandler(svc.pipeline).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	ctx := context.Background()
	cfg, pool, err := connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	logger := newLogger(cfg.Env, os.Stdout).With().Str("service", cfg.ServiceName).Logger()
	logger.Info().Msg("connected to database")

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		SampleRate:     cfg.TraceSample,
	}, logger)
	if err != nil {
		return err
	}

	svc, closeCache, err := buildServices(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	e := newServer(cfg, pool, svc, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(e, cfg.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
