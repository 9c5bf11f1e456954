package main

import (
	"context"
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

	"github.com/ehr/surveillance/internal/config"
	"github.com/ehr/surveillance/internal/domain/casecount"
	"github.com/ehr/surveillance/internal/domain/epiweek"
	"github.com/ehr/surveillance/internal/domain/notification"
	"github.com/ehr/surveillance/internal/domain/reference"
	"github.com/ehr/surveillance/internal/platform/auth"
	"github.com/ehr/surveillance/internal/platform/blobstore"
	"github.com/ehr/surveillance/internal/platform/cache"
	"github.com/ehr/surveillance/internal/platform/db"
	"github.com/ehr/surveillance/internal/platform/metrics"
	"github.com/ehr/surveillance/internal/platform/middleware"
	"github.com/ehr/surveillance/internal/platform/reporting"
)

const version = "0.1.0"

// backends are the external resources the HTTP server is built on. A nil
// pool skips the per-request connection and the database health check.
type backends struct {
	pool  *pgxpool.Pool
	kv    cache.KV
	blobs blobstore.BlobStore
}

func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

func rulesFromConfig(cfg *config.Config) notification.RuleSet {
	return notification.RuleSet{
		RequireDiagnosis: cfg.RequireDiagnosis,
		RequireReporter:  cfg.RequireReporter,
		Sequence:         cfg.CodeSequence,
		PendingPrefix:    cfg.CodePendingPrefix,
	}
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger = newLogger(cfg.Env, cfg.LogLevel)

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.Timezone)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Cache
	var kv cache.KV = cache.NewMemoryKV()
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		kv = cache.NewRedisKV(client)
		logger.Info().Msg("connected to redis")
	}

	// Report archive
	var blobs blobstore.BlobStore = blobstore.NewInMemoryBlobStore()
	if cfg.BlobBackend == "s3" {
		client, err := blobstore.NewS3Client(ctx, cfg.S3Endpoint)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create s3 client")
		}
		blobs = blobstore.NewS3BlobStore(client, cfg.S3Bucket, "reports/")
		logger.Info().Str("bucket", cfg.S3Bucket).Msg("archiving reports to s3")
	}

	e, err := newServer(cfg, logger, backends{pool: pool, kv: kv, blobs: blobs})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

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
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires the services and registers every route.
func newServer(cfg *config.Config, logger zerolog.Logger, b backends) (*echo.Echo, error) {
	policy, err := cfg.EpiWeekPolicy()
	if err != nil {
		return nil, err
	}
	cal := epiweek.New(policy)
	m := metrics.NewCollector("surveillance")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(m.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	switch mode := cfg.ResolvedAuthMode(); mode {
	case config.AuthDevelopment:
		e.Use(auth.DevAuthMiddleware())
	case config.AuthJWT:
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if b.pool != nil {
		e.GET("/health/db", db.HealthHandler(b.pool))
	}
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	apiV1 := e.Group("/api/v1")
	if b.pool != nil {
		apiV1.Use(db.ConnMiddleware(b.pool))
	}

	var tx db.Transactor = db.NopTransactor{}
	if b.pool != nil {
		tx = db.NewTransactor(b.pool)
	}

	// Reference data
	refSvc := reference.NewService(reference.NewRepo(b.pool))
	refSvc.SetCache(b.kv)
	refSvc.SetMetrics(m)
	refSvc.SetLogger(logger.With().Str("component", "reference").Logger())
	reference.NewHandler(refSvc).RegisterRoutes(apiV1)

	// Case notifications
	notifSvc := notification.NewService(notification.NewRepo(b.pool), refSvc, tx, cal, rulesFromConfig(cfg))
	notifSvc.SetMetrics(m)
	notifSvc.SetLogger(logger.With().Str("component", "notification").Logger())
	notification.NewHandler(notifSvc).RegisterRoutes(apiV1)

	// Case counts and the report archive
	countSvc := casecount.NewService(notification.NewCaseSource(b.pool), cal, notification.LookupStatus)
	countSvc.SetLogger(logger.With().Str("component", "casecount").Logger())
	reportHandler := reporting.NewHandler(countSvc, b.blobs)
	reportHandler.SetMetrics(m)
	reportHandler.SetLogger(logger.With().Str("component", "reporting").Logger())
	reportHandler.RegisterRoutes(apiV1)

	archiveRead := apiV1.Group("", auth.RequireRole(auth.RoleEpidemiologist, auth.RoleOfficer))
	archiveAdmin := apiV1.Group("", auth.RequireRole(auth.RoleAdmin))
	blobstore.NewBlobHandler(b.blobs).RegisterRoutes(archiveRead, archiveAdmin)

	logger.Info().
		Str("auth", cfg.ResolvedAuthMode()).
		Str("epi_week", fmt.Sprintf("%s/%s", policy.WeekStart, policy.Anchor)).
		Str("timezone", cal.Location().String()).
		Msg("routes registered")
	return e, nil
}
