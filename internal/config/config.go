package config

import (
	"log/slog"
	"time"
)

type PostgresConfig struct {
	DSN             string        `env:"PG_DSN"`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS" default:"5"`
	ConnMaxIdleTime time.Duration `env:"PG_CONN_MAX_IDLE_TIME" default:"5m"`
	ConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME" default:"30m"`
}

// RedisConfig is optional. An empty Addr keeps rate-limit counters in Postgres.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" default:""`
	Password string `env:"REDIS_PASSWORD" default:""`
	DB       int    `env:"REDIS_DB" default:"0"`
}

type AuthConfig struct {
	JWTSecret      string   `env:"JWT_SECRET"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" default:"https://*"`

	// TrustProxyHeaders reads the client IP from X-Forwarded-For/X-Real-IP.
	// Set it only when a proxy in front of the api overwrites those headers.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" default:"false"`
}

type LedgerConfig struct {
	// LockTimeout bounds the wait for a player's balance row lock.
	LockTimeout time.Duration `env:"LEDGER_LOCK_TIMEOUT" default:"5s"`
}

type SessionConfig struct {
	Expiry time.Duration `env:"SESSION_EXPIRY" default:"10m"`
}

type ScoringConfig struct {
	// AllowLegacyRankedSubmissions accepts ranked scores without a game
	// session token from old clients. Deprecated; keep off.
	AllowLegacyRankedSubmissions bool `env:"ALLOW_LEGACY_RANKED_SUBMISSIONS" default:"false"`
}

type EconomyConfig struct {
	DailyBonus int64 `env:"DAILY_BONUS_AMOUNT" default:"100"`
}

type WebappConfig struct {
	BaseURL string        `env:"WEBAPP_BASE_URL" default:""`
	APIKey  string        `env:"WEBAPP_API_KEY" default:""`
	Timeout time.Duration `env:"WEBAPP_TIMEOUT" default:"5s"`
}

// APIConfig is the full configuration of cmd/api.
type APIConfig struct {
	Port            uint16        `env:"APP_PORT" default:"8080"`
	LogLevel        slog.Level    `env:"APP_LOG_LEVEL" default:"INFO"`
	ShutdownTimeout time.Duration `env:"APP_SHUTDOWN_TIMEOUT" default:"15s"`
	RulesFile       string        `env:"RULES_FILE" default:"config/rules.yaml"`

	Postgres PostgresConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Ledger   LedgerConfig
	Session  SessionConfig
	Scoring  ScoringConfig
	Economy  EconomyConfig
	Webapp   WebappConfig
}
