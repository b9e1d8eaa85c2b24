package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vidtip/vidtip/internal/auth"
	"github.com/vidtip/vidtip/internal/config"
	"github.com/vidtip/vidtip/internal/funding"
	"github.com/vidtip/vidtip/internal/idempotency"
	"github.com/vidtip/vidtip/internal/identity"
	"github.com/vidtip/vidtip/internal/ledger"
	"github.com/vidtip/vidtip/internal/middleware"
	"github.com/vidtip/vidtip/internal/notification"
	"github.com/vidtip/vidtip/internal/reconcile"
	"github.com/vidtip/vidtip/internal/tips"
	"github.com/vidtip/vidtip/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes. It returns the
// reconciliation job so the server can manage its lifecycle.
func Setup(app *fiber.App, d Deps) (*reconcile.Job, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	// Stores
	var store ledger.BalanceStore
	var log ledger.Log
	if d.DB != nil {
		pg := ledger.NewPostgres(d.DB)
		store, log = pg, pg
	} else {
		mem := ledger.NewMemory()
		store, log = mem, mem
	}

	var guard idempotency.Guard
	if d.Cache != nil {
		guard = idempotency.NewRedisGuard(d.Cache, d.Cfg.IdempotencyTTL, d.Cfg.GuardWaitTimeout)
	} else {
		guard = idempotency.NewMemory()
	}

	var identityRepo identity.Repository
	if d.DB != nil {
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		identityRepo = identity.NewMemoryRepository()
	}

	// Services and handlers
	notifier := notification.NewLoggerNotifier(d.Logger)
	engine := ledger.NewEngine(store, log, guard, d.Cfg.CASMaxAttempts, d.Logger)
	walletSvc := wallet.NewService(store, engine)
	tipSvc := tips.NewService(engine, walletSvc, notifier)
	fundingSvc := funding.NewService(engine, notifier, d.Cfg.WebhookSecret, d.Logger)
	identitySvc := identity.NewService(identityRepo)
	authSvc := auth.NewService(d.Cfg, identityRepo)

	authHandler := auth.NewHandler(identitySvc, authSvc, walletSvc)
	walletHandler := wallet.NewHandler(walletSvc)
	tipHandler := tips.NewHandler(tipSvc)
	fundingHandler := funding.NewHandler(fundingSvc)
	ledgerHandler := ledger.NewHandler(engine)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	rateLimiter := middleware.LoginRateLimit(d.Cache, 5)
	RegisterAuthRoutes(api, authHandler, rateLimiter)
	RegisterFundingRoutes(api, fundingHandler)

	// Protected routes
	jwtmw := middleware.JWTAuth(d.Cfg, identityRepo)
	protected := api.Group("", jwtmw)
	protected.Post("/auth/logout", authHandler.Logout)
	RegisterWalletMeRoute(protected, walletSvc, identityRepo)
	RegisterWalletRoutes(protected, walletHandler)
	RegisterTipRoutes(protected, tipHandler)
	RegisterLedgerRoutes(protected, ledgerHandler)

	job := reconcile.New(store, log, notifier, guard,
		d.Cfg.ReconcileInterval, d.Cfg.PendingTimeout, d.Cfg.FreezeOnDrift, d.Logger)

	return job, nil
}
