package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/api"
	"github.com/beaconhq/beacon/internal/app"
	iauth "github.com/beaconhq/beacon/internal/auth"
	"github.com/beaconhq/beacon/internal/cache"
	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/dispatch"
	"github.com/beaconhq/beacon/internal/middleware"
	"github.com/beaconhq/beacon/internal/realtime"
	"github.com/beaconhq/beacon/internal/services"
	"github.com/beaconhq/beacon/internal/store"
	"github.com/beaconhq/beacon/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("beacon-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		return errors.New("auth.jwt.secret must be configured")
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	var cacheStore cache.Store = cache.NewDatabaseStore(db)
	if cfg.Cache.Redis.Enabled {
		client, redisErr := cache.NewRedisClient(cache.RedisConfig{
			Address:  cfg.Cache.Redis.Address,
			Username: cfg.Cache.Redis.Username,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			TLS:      cfg.Cache.Redis.TLS,
			Timeout:  cfg.Cache.Redis.Timeout,
		})
		if redisErr != nil {
			log.Warn("redis unavailable; falling back to database-backed counters", zap.Error(redisErr))
		} else {
			cacheStore = client
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}
	defer func() {
		if rc, ok := cacheStore.(*cache.RedisClient); ok && rc != nil {
			_ = rc.Close()
		}
	}()

	jwtService, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}

	hub := realtime.NewHub()
	publisher := realtime.NewEventPublisher(hub)

	alertStore, err := store.NewAlertStore(db)
	if err != nil {
		return fmt.Errorf("initialise alert store: %w", err)
	}

	auditTrail, err := services.NewAuditTrail(db)
	if err != nil {
		return fmt.Errorf("initialise audit trail: %w", err)
	}

	geoSvc, err := services.NewGeoService(db, alertStore,
		services.WithRadiusBounds(cfg.Dispatch.DefaultRadiusKm, cfg.Dispatch.MaxRadiusKm))
	if err != nil {
		return fmt.Errorf("initialise geo service: %w", err)
	}

	fanout, err := services.NewFanoutService(db, publisher,
		services.WithCandidateSource(geoSvc),
		services.WithRetryPolicy(cfg.Dispatch.Fanout.MaxAttempts, cfg.Dispatch.Fanout.RetryBackoff))
	if err != nil {
		return fmt.Errorf("initialise fanout service: %w", err)
	}
	defer fanout.Flush()

	alertSvc, err := services.NewAlertService(alertStore, auditTrail, fanout,
		services.WithCancelWindow(cfg.Dispatch.CancelWindow))
	if err != nil {
		return fmt.Errorf("initialise alert service: %w", err)
	}

	responderSvc, err := services.NewResponderService(db,
		services.WithLocationSampling(cacheStore, cfg.Dispatch.LocationSampleInterval))
	if err != nil {
		return fmt.Errorf("initialise responder service: %w", err)
	}

	claimSvc, err := services.NewClaimService(alertStore, alertSvc, responderSvc, geoSvc,
		services.WithAttemptTimeout(cfg.Dispatch.ClaimAttemptTimeout))
	if err != nil {
		return fmt.Errorf("initialise claim service: %w", err)
	}

	monitor, err := dispatch.NewMonitor(alertStore, alertSvc,
		dispatch.WithSweepSpec(cfg.Dispatch.SweepSpec),
		dispatch.WithClaimTimeout(cfg.Dispatch.ClaimTimeout),
		dispatch.WithSLA(dispatch.SLAThresholds{
			High:   cfg.Dispatch.SLA.High,
			Medium: cfg.Dispatch.SLA.Medium,
			Low:    cfg.Dispatch.SLA.Low,
		}))
	if err != nil {
		return fmt.Errorf("initialise dispatch monitor: %w", err)
	}
	if err := monitor.Start(); err != nil {
		return fmt.Errorf("start dispatch monitor: %w", err)
	}
	defer monitor.Stop()

	router, err := api.NewRouter(db, jwtService, cfg, api.Services{
		Alerts:     alertSvc,
		Claims:     claimSvc,
		Geo:        geoSvc,
		Audit:      auditTrail,
		Fanout:     fanout,
		Responders: responderSvc,
		Hub:        hub,
		RateStore:  middleware.NewCacheRateStore(cacheStore),
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
