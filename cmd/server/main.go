// @title           groupguard admin API
// @version         1.0.0
// @description     Moderation bot for LINE groups: mass-join detection, blacklists, audit log and admin commands.
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                        Authorization
// @description                 "Admin JWT minted by `groupguard token`. Format: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health and readiness endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated side-channel port (default: 9090), separate from the main API server. Configure it with GG_TELEMETRY_METRICS_PROMETHEUS_PORT. The path is always GET /metrics.

// Package main is the entry point for the groupguard server binary. It
// dispatches four subcommands (serve, migrate, token and version) with a
// switch on the first argument.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/groupguard/groupguard/internal/api"
	"github.com/groupguard/groupguard/internal/audit"
	"github.com/groupguard/groupguard/internal/auth"
	"github.com/groupguard/groupguard/internal/bot"
	"github.com/groupguard/groupguard/internal/config"
	"github.com/groupguard/groupguard/internal/db"
	"github.com/groupguard/groupguard/internal/db/repositories"
	"github.com/groupguard/groupguard/internal/dedupe"
	"github.com/groupguard/groupguard/internal/line"
	"github.com/groupguard/groupguard/internal/memstore"
	"github.com/groupguard/groupguard/internal/moderation"
	"github.com/groupguard/groupguard/internal/safego"
	"github.com/groupguard/groupguard/internal/telemetry"
)

const (
	version = "0.1.0"

	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("GG_CONFIG"), "path to the YAML config file")
	flag.Parse()

	command := "serve"
	args := flag.Args()
	if len(args) > 0 {
		command = args[0]
	}

	if command == "version" {
		fmt.Printf("groupguard v%s\n", version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg, *configPath)
	case "migrate":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, args[1])
	case "token":
		subject := "admin"
		if len(args) > 1 {
			subject = args[1]
		}
		return mintToken(cfg, subject)
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, token, version", command)
	}
}

// storage is the backing store plus its readiness probe and cleanup
type storage struct {
	stores moderation.Stores
	ping   func(context.Context) error
	close  func() error
}

func openStorage(cfg *config.Config) (*storage, error) {
	if cfg.Database.Driver == "memory" {
		slog.Warn("using the in-memory store; data is lost on restart")
		s := memstore.New()
		return &storage{
			stores: moderation.Stores{Groups: s, Members: s, Blacklist: s, Audit: s},
			ping:   s.Ping,
			close:  func() error { return nil },
		}, nil
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	telemetry.StartDBStatsCollector(database)

	if err := db.RunMigrations(database, "up"); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	sqlxDB := sqlx.NewDb(database, "postgres")
	return &storage{
		stores: moderation.Stores{
			Groups:    repositories.NewGroupRepository(sqlxDB),
			Members:   repositories.NewMemberRepository(sqlxDB),
			Blacklist: repositories.NewBlacklistRepository(sqlxDB),
			Audit:     repositories.NewAuditRepository(sqlxDB),
		},
		ping:  database.PingContext,
		close: database.Close,
	}, nil
}

func serve(cfg *config.Config, configPath string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := config.Watch(configPath, func(next *config.Config) {
		telemetry.SetLogLevel(next.Logging.Level)
		slog.Info("configuration reloaded", "log_level", next.Logging.Level)
	}, func(err error) {
		slog.Warn("ignoring invalid configuration change", "error", err)
	}); err != nil {
		slog.Warn("config hot reload disabled", "error", err)
	}

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.close()

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = dedupe.OpenRedis(context.Background(), cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	shipper, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		return fmt.Errorf("failed to configure audit shippers: %w", err)
	}
	defer shipper.Close()

	// the interfaces stay nil when LINE is not configured
	var (
		notifier  moderation.Notifier
		messenger bot.Messenger
	)
	client, err := line.NewClient(cfg.Line)
	switch {
	case errors.Is(err, line.ErrNotConfigured):
		slog.Warn("LINE channel credentials missing; the webhook will answer 500 until they are set")
	case err != nil:
		return fmt.Errorf("failed to create LINE client: %w", err)
	default:
		notifier, messenger = client, client
	}

	svcOpts := []moderation.Option{
		moderation.WithDefaultThreshold(cfg.Bot.DefaultThreshold),
		moderation.WithJoinWindow(cfg.Bot.JoinWindow),
		moderation.WithSuperAdmins(cfg.Bot.SuperAdminIDs),
	}
	if shipper.Len() > 0 {
		svcOpts = append(svcOpts, moderation.WithShipper(shipper))
	}
	svc := moderation.NewService(store.stores, notifier, svcOpts...)

	dispOpts := []bot.Option{bot.WithMessageLogLimit(cfg.Bot.MessageLogLimit)}
	if rdb != nil {
		dispOpts = append(dispOpts, bot.WithDeduper(dedupe.NewRedisDeduper(rdb, cfg.Redis.DedupeTTL)))
	}
	dispatcher := bot.NewDispatcher(svc, messenger, dispOpts...)

	deps := api.Deps{
		Service:    svc,
		Dispatcher: dispatcher,
		Ping:       store.ping,
		Redis:      rdb,
	}
	if cfg.Admin.JWTSecret != "" {
		issuer, err := auth.NewTokenIssuer(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)
		if err != nil {
			return fmt.Errorf("failed to configure admin auth: %w", err)
		}
		deps.Tokens = issuer
	}

	var metricsServer *http.Server
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		safego.Go("metrics-server", func() {
			slog.Info("starting Prometheus metrics server", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	router, bgServices := api.NewRouter(cfg, deps)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", server.Addr,
			"version", version,
			"store", cfg.Database.Driver,
			"bot_configured", cfg.Line.Configured(),
			"redis", rdb != nil)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(ctx)
	}
	bgServices.Shutdown()

	if err := svc.Drain(ctx); err != nil {
		slog.Warn("audit shipments still pending at shutdown", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrations require the postgres driver, got %q", cfg.Database.Driver)
	}
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)

	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", v, dirty)
	return nil
}

// mintToken prints a signed admin API token for subject
func mintToken(cfg *config.Config, subject string) error {
	issuer, err := auth.NewTokenIssuer(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)
	if err != nil {
		return fmt.Errorf("cannot mint a token: %w (set GG_ADMIN_JWT_SECRET)", err)
	}
	token, err := issuer.Issue(subject)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Println(token)
	return nil
}
