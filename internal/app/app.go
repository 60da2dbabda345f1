package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wattmate/internal/config"
	"wattmate/internal/db"
	"wattmate/internal/handlers"
	"wattmate/internal/logger"
	"wattmate/internal/metrics"
	"wattmate/internal/middleware"
	"wattmate/internal/repository"
	"wattmate/internal/routes"
	"wattmate/internal/services"
	"wattmate/internal/utils"
)

const Version = "1.0.0"

// Stores holds the storage backends picked by STORAGE_DRIVER and LEDGER_DRIVER.
type Stores struct {
	Users   repository.UserRepo
	Tokens  repository.RefreshTokenRepo
	Checks  map[string]handlers.HealthCheck
	closers []func()
}

func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// OpenStores connects the configured backends. When migrate is true the embedded
// migrations run before the repositories are handed out.
func OpenStores(ctx context.Context, cfg *config.Config, migrate bool) (*Stores, error) {
	s := &Stores{Checks: map[string]handlers.HealthCheck{}}

	switch cfg.StorageDriver {
	case "postgres":
		pool, err := db.NewPostgresConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres %s: %w", cfg.GetDSNSafe(), err)
		}
		s.closers = append(s.closers, pool.Close)
		if migrate {
			if err := db.MigratePostgres(ctx, pool); err != nil {
				s.Close()
				return nil, err
			}
		}
		s.Users = repository.NewUserRepository(pool)
		s.Tokens = repository.NewRefreshTokenRepository(pool)
		s.Checks["postgres"] = pool.Ping
	case "sqlite":
		conn, err := db.NewSQLiteConnection(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		s.closers = append(s.closers, func() { _ = conn.Close() })
		if migrate {
			if err := db.MigrateSQLite(ctx, conn); err != nil {
				s.Close()
				return nil, err
			}
		}
		store := repository.NewSQLiteStore(conn)
		s.Users, s.Tokens = store, store
		s.Checks["sqlite"] = conn.PingContext
	case "memory":
		store := repository.NewMemoryStore()
		s.Users, s.Tokens = store, store
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	if cfg.LedgerDriver == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s.closers = append(s.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			s.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		s.Tokens = repository.NewRedisRefreshTokenRepository(rdb)
		s.Checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	logger.Log.Info("Storage ready",
		zap.String("storage", cfg.StorageDriver),
		zap.String("ledger", cfg.LedgerDriver),
	)
	return s, nil
}

type App struct {
	Router    *mux.Router
	Auth      *services.AuthService
	Passwords *services.PasswordService
	Ledger    *services.Ledger
	Stores    *Stores
}

// Build wires services, handlers and routes over already opened stores.
// It starts nothing in the background.
func Build(cfg *config.Config, stores *Stores, notifier services.Notifier) (*App, error) {
	issuer, err := utils.NewTokenIssuer(cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}
	hasher, err := utils.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	ledger := services.NewLedger(stores.Tokens)
	authService := services.NewAuthService(stores.Users, ledger, issuer, hasher, cfg.RefreshRotation)
	passwordService := services.NewPasswordService(
		stores.Users, ledger, hasher, notifier,
		cfg.AppName, cfg.FrontendURL, cfg.PasswordResetTTL,
	)

	var generalLimiter *middleware.RateLimiter
	if cfg.RateLimit > 0 {
		generalLimiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateWindow,
			"Too many requests, try again later").TrustForwarded(cfg.TrustProxy)
	}
	loginLimiter := middleware.NewRateLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow,
		"Too many login attempts, try again later").TrustForwarded(cfg.TrustProxy)
	forgotLimiter := middleware.NewRateLimiter(cfg.ForgotRateLimit, cfg.ForgotRateWindow,
		"Too many password reset requests, try again later").TrustForwarded(cfg.TrustProxy)

	metrics.Init()
	router := mux.NewRouter()
	routes.InitRoutes(router, routes.Deps{
		Auth:           handlers.NewAuthHandler(authService),
		Password:       handlers.NewPasswordHandler(passwordService),
		Health:         handlers.NewHealthHandler(cfg.AppName, Version, stores.Checks),
		Authenticator:  authService,
		GeneralLimiter: generalLimiter,
		LoginLimiter:   loginLimiter,
		ForgotLimiter:  forgotLimiter,
		MetricsHandler: metrics.Handler(),
	})

	return &App{
		Router:    router,
		Auth:      authService,
		Passwords: passwordService,
		Ledger:    ledger,
		Stores:    stores,
	}, nil
}

// InitApp opens storage, builds the app and starts the ledger sweeper and email workers.
// Background work stops when ctx is done.
func InitApp(ctx context.Context, cfg *config.Config) (*App, error) {
	stores, err := OpenStores(ctx, cfg, cfg.AutoMigrate)
	if err != nil {
		return nil, err
	}

	var notifier services.Notifier = services.DisabledNotifier{}
	if cfg.SMTPHost != "" {
		queue := services.NewEmailQueue(services.NewEmailService(cfg), 100)
		queue.StartWorkers(ctx, cfg.EmailWorkers)
		notifier = queue
	}

	a, err := Build(cfg, stores, notifier)
	if err != nil {
		stores.Close()
		return nil, err
	}

	services.StartLedgerSweeper(ctx, a.Ledger, cfg.SweepInterval)
	return a, nil
}

func (a *App) Handler() http.Handler {
	return a.Router
}

func (a *App) Close() {
	a.Stores.Close()
}
