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

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/internal/httpapi"
	"github.com/MrEthical07/goIdentity/internal/logging"
	"github.com/MrEthical07/goIdentity/internal/observability"
	promexport "github.com/MrEthical07/goIdentity/metrics/export/prometheus"
	"github.com/MrEthical07/goIdentity/notify"
	"github.com/MrEthical07/goIdentity/store/postgres"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the identity API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	registerConfigFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cfg appConfig) error {
	logger := logging.New(logging.Options{
		Service: "goidentity",
		Version: version,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Writer:  os.Stderr,
	})
	slog.SetDefault(logger)

	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return err
	}

	if cfg.Postgres.AutoMigrate {
		if err := migrateUp(cfg.Postgres.DSN, logger); err != nil {
			return err
		}
	}

	pool, err := postgres.Open(ctx, cfg.Postgres.DSN, postgres.PoolConfig{MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.Redis.Addr).Wrap(err)
	}

	notifier, relay, err := buildNotifier(cfg.Notify, rdb, logger)
	if err != nil {
		return err
	}

	builder := goIdentity.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithIdentityStore(postgres.NewIdentityRepository(pool)).
		WithProfileStore(postgres.NewProfileRepository(pool)).
		WithNotifier(notifier).
		WithLogger(logger)
	if cfg.Audit.Enabled {
		builder = builder.WithAuditSink(buildAuditSink(cfg.Audit, logger))
	}

	engine, err := builder.Build()
	if err != nil {
		return oops.Code("ENGINE_BUILD_FAILED").Wrap(err)
	}
	defer engine.Close()
	logPosture(logger, engine.SecurityReport())

	var (
		obs   *observability.Server
		obsCh <-chan error
	)
	apiOpts := httpapi.Options{TrustForwardedFor: cfg.HTTP.TrustForwardedFor, Logger: logger}
	if cfg.Metrics.Enabled {
		obs = observability.NewServer(cfg.Metrics.Addr, logger, map[string]observability.ReadinessCheck{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			"sessions": engine.Ping,
		}, promexport.NewExporter(engine))
		apiOpts.Metrics = obs.HTTPMetrics()

		if obsCh, err = obs.Start(); err != nil {
			return err
		}
	}

	relayCh := make(chan error, 1)
	if relay != nil {
		go func() { relayCh <- relay.Run(ctx) }()
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(engine, apiOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvCh <- err
		}
		close(srvCh)
	}()
	logger.Info("identity api started", "addr", cfg.HTTP.Addr, "notify", cfg.Notify.Mode)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-srvCh:
		runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	case err := <-obsCh:
		runErr = oops.Code("OBSERVABILITY_SERVE_FAILED").Wrap(err)
	case err := <-relayCh:
		runErr = oops.Code("NOTIFY_RELAY_FAILED").Wrap(err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError(shutdownCtx, logger, "api shutdown failed", err)
	}
	if obs != nil {
		if err := obs.Stop(shutdownCtx); err != nil {
			logging.LogError(shutdownCtx, logger, "observability shutdown failed", err)
		}
	}

	logger.Info("identity api stopped")
	return runErr
}

// buildNotifier returns the dispatcher the engine uses and, in stream mode
// with relay enabled, the relay that drains the stream into the log.
func buildNotifier(cfg notifyConfig, rdb redis.UniversalClient, logger *slog.Logger) (goIdentity.NotificationDispatcher, *notify.Relay, error) {
	switch cfg.Mode {
	case "", "log":
		return notify.NewLogDispatcher(logger), nil, nil
	case "stream":
		d := notify.NewStreamDispatcher(rdb, cfg.Stream, cfg.MaxLen)
		if !cfg.Relay {
			return d, nil, nil
		}
		relay := notify.NewRelay(rdb, notify.NewLogDispatcher(logger),
			notify.WithRelayStream(cfg.Stream, notify.DefaultGroup),
			notify.WithRelayLogger(logger))
		return d, relay, nil
	default:
		return nil, nil, oops.Code("CONFIG_INVALID").With("notify.mode", cfg.Mode).Errorf("unknown notify mode")
	}
}

func buildAuditSink(cfg auditConfig, logger *slog.Logger) goIdentity.AuditSink {
	if cfg.Sink == "json" {
		return goIdentity.NewJSONWriterSink(os.Stdout)
	}
	return goIdentity.NewSlogSink(logger.With("component", "audit"))
}

func logPosture(logger *slog.Logger, r goIdentity.SecurityReport) {
	logger.Info("security posture",
		"signing", r.SigningAlgorithm,
		"access_ttl", r.AccessTTL,
		"confirmation_required", r.ConfirmationRequired,
		"login_throttle", r.LoginThrottleActive,
		"recovery_throttle", r.RecoveryThrottleActive,
		"otp_digits", r.OTPDigits,
		"audit", r.AuditEnabled,
	)
	for _, w := range r.Warnings {
		logger.Warn("security posture weakened", "warning", w)
	}
}
