package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName           = "VidTip"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultShutdownDelay     = 10 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultGuardWaitTimeout  = 5 * time.Second
	defaultCASMaxAttempts    = 5
	defaultReconcileInterval = 5 * time.Minute
	defaultPendingTimeout    = 10 * time.Minute
	defaultAccessTokenTTL    = 15 * time.Minute
	defaultRefreshTokenTTL   = 30 * 24 * time.Hour
)

// Config captures application runtime configuration loaded from environment
// variables.
type Config struct {
	AppName string
	AppEnv  string
	Port    string

	LogLevel string

	DatabaseURL string
	RedisURL    string

	ShutdownPeriod time.Duration

	// Ledger tuning.
	IdempotencyTTL    time.Duration // retry window for idempotency records
	GuardWaitTimeout  time.Duration // how long a duplicate waits for the original
	CASMaxAttempts    int           // compare-and-swap retry budget per leg
	ReconcileInterval time.Duration
	PendingTimeout    time.Duration // age before a pending transaction counts as stuck
	FreezeOnDrift     bool

	// Auth.
	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Payment provider webhook signing secret.
	WebhookSecret string
}

// Load reads configuration values from the environment. DATABASE_URL and
// REDIS_URL are required outside development; without them the service runs
// on the in-memory stores.
func Load() (Config, error) {
	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ShutdownPeriod:    defaultShutdownDelay,
		IdempotencyTTL:    defaultIdempotencyTTL,
		GuardWaitTimeout:  defaultGuardWaitTimeout,
		CASMaxAttempts:    defaultCASMaxAttempts,
		ReconcileInterval: defaultReconcileInterval,
		PendingTimeout:    defaultPendingTimeout,
		FreezeOnDrift:     true,
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		RefreshSecret:     getEnv("REFRESH_SECRET", "dev-refresh-secret"),
		AccessTokenTTL:    defaultAccessTokenTTL,
		RefreshTokenTTL:   defaultRefreshTokenTTL,
		WebhookSecret:     getEnv("WEBHOOK_SECRET", "dev-webhook-secret"),
	}

	var err error
	if cfg.ShutdownPeriod, err = getDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.GuardWaitTimeout, err = getDuration("GUARD_WAIT_TIMEOUT", cfg.GuardWaitTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileInterval, err = getDuration("RECONCILE_INTERVAL", cfg.ReconcileInterval); err != nil {
		return Config{}, err
	}
	if cfg.PendingTimeout, err = getDuration("PENDING_TIMEOUT", cfg.PendingTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTL, err = getDuration("ACCESS_TOKEN_TTL", cfg.AccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTokenTTL, err = getDuration("REFRESH_TOKEN_TTL", cfg.RefreshTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.CASMaxAttempts, err = getInt("CAS_MAX_ATTEMPTS", cfg.CASMaxAttempts); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("FREEZE_ON_DRIFT"); v != "" {
		b, parseErr := strconv.ParseBool(v)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid FREEZE_ON_DRIFT: %w", parseErr)
		}
		cfg.FreezeOnDrift = b
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// IsDev reports whether the app runs in a development environment.
func (c Config) IsDev() bool {
	switch c.AppEnv {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
