package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/tokengate"
	"github.com/MrEthical07/tokengate/identity/postgres"
	"github.com/MrEthical07/tokengate/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP login service",
		Long: `Start the HTTP service exposing POST /captcha, POST /tokens, DELETE /tokens,
GET /me and GET /metrics. Without redis_addr all captcha codes and tokens are kept
in process memory; without database_url users come from the config file.`,
		RunE: runServe,
	}
	registerConfigFlags(cmd.Flags())
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newServer(engine, logger, cfg.TrustForwarded),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen, "modes", engine.Modes())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return oops.Code("SERVER_FAILED").With("addr", cfg.Listen).Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.Code("SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}

func newLogger(cfg appConfig, cmd *cobra.Command) (*slog.Logger, error) {
	logger, err := logging.Setup(logging.Options{
		Service: "tokengate",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
	}, cmd.ErrOrStderr())
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return logger, nil
}

// buildEngine connects the configured backends and builds the engine. The returned
// cleanup releases everything that was opened, in reverse order.
func buildEngine(ctx context.Context, cfg appConfig, logger *slog.Logger) (*tokengate.Engine, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*tokengate.Engine, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return fail(err)
	}

	b := tokengate.New().WithConfig(engineCfg).WithLogger(logger)
	if cfg.Audit {
		b.WithAuditSink(tokengate.NewSlogSink(logger))
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, func() { _ = rdb.Close() })
		if err := waitFor(ctx, logger, "redis", cfg.StartupTimeout, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}); err != nil {
			return fail(err)
		}
		b.WithRedis(rdb)
	} else {
		logger.Warn("redis_addr not set; captcha codes and tokens are kept in process memory")
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(oops.Code("DB_CONNECT_FAILED").Wrap(err))
		}
		closers = append(closers, pool.Close)
		if err := waitFor(ctx, logger, "postgres", cfg.StartupTimeout, pool.Ping); err != nil {
			return fail(err)
		}
		b.WithIdentityLookup(postgres.NewRepository(pool))
	} else {
		hasher, err := tokengate.NewPasswordHasher(engineCfg.Password)
		if err != nil {
			return fail(oops.Code("CONFIG_INVALID").Wrap(err))
		}
		lookup := newMemoryLookup()
		if err := lookup.seed(cfg.Users, hasher); err != nil {
			return fail(err)
		}
		logger.Warn("database_url not set; serving users from the config file", "users", len(cfg.Users))
		b.WithIdentityLookup(lookup).WithHasher(hasher)
	}

	engine, err := b.Build()
	if err != nil {
		return fail(oops.Code("ENGINE_BUILD_FAILED").Wrap(err))
	}
	closers = append(closers, engine.Close)
	return engine, cleanup, nil
}
