package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fastprodman/gameledger/internal/api"
	"github.com/fastprodman/gameledger/internal/config"
	"github.com/fastprodman/gameledger/internal/infra/logging"
	"github.com/fastprodman/gameledger/internal/infra/pgutils"
	pgauditlog "github.com/fastprodman/gameledger/internal/repos/auditlog/postgres"
	"github.com/fastprodman/gameledger/internal/repos/ratelimits"
	pgratelimits "github.com/fastprodman/gameledger/internal/repos/ratelimits/postgres"
	redisratelimits "github.com/fastprodman/gameledger/internal/repos/ratelimits/redis"
	pgscores "github.com/fastprodman/gameledger/internal/repos/scores/postgres"
	"github.com/fastprodman/gameledger/internal/services/audit"
	"github.com/fastprodman/gameledger/internal/services/economy"
	"github.com/fastprodman/gameledger/internal/services/ledger"
	"github.com/fastprodman/gameledger/internal/services/ratelimit"
	"github.com/fastprodman/gameledger/internal/services/scoring"
	"github.com/fastprodman/gameledger/internal/services/sessions"
	"github.com/fastprodman/gameledger/internal/webapp"
	"github.com/fastprodman/gameledger/pkg/envconf"
	"github.com/fastprodman/gameledger/pkg/shutdownqueue"
	"github.com/go-redis/redis/v8"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running api: %v\n", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) (retErr error) {
	cfg := new(config.APIConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	if cfg.Auth.JWTSecret == "" {
		return errors.New("init config: JWT_SECRET is required")
	}

	logger := logging.SetupJSON(cfg.LogLevel, "api")
	shutdownqueue.SetLogger(logger)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := shutdownqueue.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	// --- Infra ---
	db, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	shutdownqueue.Add("postgres", func(context.Context) error {
		return db.Close()
	})

	counters, err := openCounters(ctx, cfg.Redis, db, logger)
	if err != nil {
		return err
	}

	var upstream webapp.Economy
	if c := webapp.New(cfg.Webapp); c != nil {
		upstream = c
		logger.Info("webapp economy sync enabled", "base_url", cfg.Webapp.BaseURL)
	}

	// --- Services ---
	sink := audit.New(pgauditlog.New(db), logger)
	ledgerSvc := ledger.New(db, sink, logger, cfg.Ledger)
	sessionMgr := sessions.New(db, sink, logger, cfg.Session, rules)
	scoreRepo := pgscores.New(db)

	deps := api.Deps{
		Ledger:         ledgerSvc,
		Sessions:       sessionMgr,
		Scoring:        scoring.New(sessionMgr, scoreRepo, sink, logger, cfg.Scoring),
		Economy:        economy.New(ledgerSvc, scoreRepo, upstream, sink, logger, cfg.Economy),
		Limiter:        ratelimit.New(counters, rules, logger),
		Audit:          sink,
		Logger:         logger,
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		AllowedOrigins: cfg.Auth.AllowedOrigins,

		TrustProxyHeaders: cfg.Auth.TrustProxyHeaders,
	}

	// --- HTTP server ---
	srv := api.NewServer(cfg.Port, deps)

	shutdownqueue.Add("http", srv.Shutdown)

	errCh := make(chan error, 1)

	go func() {
		serr := srv.ListenAndServe()
		// http.ErrServerClosed is the normal path during Shutdown
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
			return
		}

		errCh <- nil
	}()

	logger.Info("API started", "port", cfg.Port)

	select {
	case <-ctx.Done():
		return nil
	case serr := <-errCh:
		if serr != nil {
			return fmt.Errorf("server error: %w", serr)
		}

		return nil
	}
}

// openCounters picks the rate-limit store: Redis when REDIS_ADDR is set,
// the rate_limits table otherwise.
func openCounters(ctx context.Context, cfg config.RedisConfig, db *sql.DB, logger *slog.Logger) (ratelimits.Counters, error) {
	if cfg.Addr == "" {
		return pgratelimits.New(db), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := rdb.Ping(ctx).Err()
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	shutdownqueue.Add("redis", func(context.Context) error {
		return rdb.Close()
	})

	logger.Info("rate limit counters in redis", "addr", cfg.Addr)

	return redisratelimits.New(rdb), nil
}
