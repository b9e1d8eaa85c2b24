package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vidtip/vidtip/internal/config"
	"github.com/vidtip/vidtip/internal/reconcile"
	"github.com/vidtip/vidtip/internal/routes"
)

// Server wraps the Fiber application, shared dependencies, and the
// background reconciliation job.
type Server struct {
	app     *fiber.App
	cfg     config.Config
	db      *pgxpool.Pool
	cache   *redis.Client
	job     *reconcile.Job
	stopJob context.CancelFunc
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	job, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, db: db, cache: cache, job: job}, nil
}

// Listen starts the reconciliation job and the HTTP server.
func (s *Server) Listen() error {
	jobCtx, cancel := context.WithCancel(context.Background())
	s.stopJob = cancel
	s.job.Start(jobCtx)
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops the reconciliation job, then gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopJob != nil {
		s.stopJob()
	}
	return s.app.ShutdownWithContext(ctx)
}
