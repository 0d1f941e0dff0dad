package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/enrollment-service/api/swagger"
	"github.com/noah-isme/enrollment-service/internal/client"
	"github.com/noah-isme/enrollment-service/internal/handler"
	"github.com/noah-isme/enrollment-service/internal/middleware"
	"github.com/noah-isme/enrollment-service/internal/models"
	"github.com/noah-isme/enrollment-service/internal/repository"
	"github.com/noah-isme/enrollment-service/internal/service"
	"github.com/noah-isme/enrollment-service/pkg/cache"
	"github.com/noah-isme/enrollment-service/pkg/circuit"
	"github.com/noah-isme/enrollment-service/pkg/config"
	"github.com/noah-isme/enrollment-service/pkg/database"
	"github.com/noah-isme/enrollment-service/pkg/lock"
	"github.com/noah-isme/enrollment-service/pkg/logger"
	corsmiddleware "github.com/noah-isme/enrollment-service/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/enrollment-service/pkg/middleware/requestid"
)

// @title Enrollment Service API
// @version 1.0.0
// @description Course enrollment coordinator. Catalog capacity counters are updated asynchronously.
// @BasePath /api
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("enrollment service stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	metrics := service.NewMetricsService()

	store, checks, closeStore, err := openStore(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer closeStore()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
		checks = append(checks, handler.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	locker := courseLocker(cfg, redisClient, logr)

	clientOpts := client.Options{
		Logger:         logr,
		Observer:       metrics,
		BreakerOptions: []circuit.Option{circuit.WithStateChangeHook(metrics.BreakerStateChanged)},
	}
	catalog := client.NewCatalogClient(cfg.Catalog, clientOpts)
	identity := client.NewIdentityClient(cfg.Identity, clientOpts)

	strict := cfg.Consistency.Strict()
	capacitySync := service.NewCapacitySyncService(catalog, cfg.CapacitySync, strict, metrics, logr)
	enrollments := service.NewEnrollmentService(store, identity, catalog, capacitySync, locker, strict, validator.New(), metrics, logr)
	rosters := service.NewRosterService(store, catalog, logr)

	router := newRouter(cfg, logr, metrics,
		handler.NewEnrollmentHandler(enrollments, rosters, catalog, identity),
		handler.NewMetricsHandler(metrics, checks...),
	)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Workers outlive the request context so queued write-backs can drain.
	capacitySync.Start(context.WithoutCancel(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logr.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
			zap.String("consistency", cfg.Consistency.Mode),
			zap.String("store", cfg.Database.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()

		logr.Info("shutting down")
		err := srv.Shutdown(shutdownCtx)
		if syncErr := capacitySync.Shutdown(shutdownCtx); syncErr != nil {
			logr.Warn("capacity sync did not drain", zap.Int("pending", capacitySync.Depth()), zap.Error(syncErr))
		}
		return err
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logr *zap.Logger) (repository.EnrollmentStore, []handler.ReadinessCheck, func(), error) {
	if cfg.Database.Driver == config.DriverMemory {
		logr.Warn("using in-memory enrollment store; data is lost on restart")
		return repository.NewMemoryEnrollmentRepository(), nil, func() {}, nil
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := repository.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
	}
	checks := []handler.ReadinessCheck{{Name: "database", Check: db.PingContext}}
	return repository.NewEnrollmentRepository(db), checks, closer(db, logr), nil
}

func closer(db *sqlx.DB, logr *zap.Logger) func() {
	return func() {
		if err := db.Close(); err != nil {
			logr.Warn("failed to close database", zap.Error(err))
		}
	}
}

func courseLocker(cfg *config.Config, redisClient *redis.Client, logr *zap.Logger) lock.Locker {
	switch {
	case !cfg.Consistency.Strict():
		logr.Warn("parity consistency mode: enrollments are not serialised per course and may exceed capacity")
		return lock.NoopLocker{}
	case redisClient != nil:
		return lock.NewRedisLocker(redisClient, cfg.Consistency.LockTTL, cfg.Consistency.LockWait)
	default:
		logr.Info("redis disabled, course locks are local to this process")
		return lock.NewMemoryLocker(cfg.Consistency.LockWait)
	}
}

func newRouter(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService, enrollments *handler.EnrollmentHandler, ops *handler.MetricsHandler) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metrics))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	handler.RegisterOpsRoutes(r, ops)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix, middleware.Authenticate(cfg.Auth))
	handler.RegisterEnrollmentRoutes(api, enrollments, middleware.RequireRoles(models.RoleAdmin))
	return r
}
