// Command authn-server serves the login and logout endpoints.
//
// With no configuration it runs entirely in memory: an embedded Redis, an
// in-memory user store seeded with a demo account, and mail written to the
// log. enrollment.url forwards the enrollment_action of a login; without it
// the action is ignored. metrics.otel_interval adds an OpenTelemetry meter
// provider that logs the counters periodically.
//
//	go run ./cmd/authn-server --log-level debug
//
//	curl -i -X POST localhost:8000/login_ajax \
//	  -d 'email=demo@example.com&password=demo-pass-1'
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/learnkit/authn"
	"github.com/learnkit/authn/account"
	"github.com/learnkit/authn/httpapi"
	"github.com/learnkit/authn/internal/audit"
	"github.com/learnkit/authn/internal/logging"
	"github.com/learnkit/authn/internal/settings"
	"github.com/learnkit/authn/mail"
	otelexport "github.com/learnkit/authn/metrics/export/otel"
	"github.com/learnkit/authn/metrics/export/prometheus"
	"github.com/learnkit/authn/userstore"
)

const (
	demoEmail    = "demo@example.com"
	demoPassword = "demo-pass-1"
)

func main() {
	flagSet := pflag.NewFlagSet("authn-server", pflag.ContinueOnError)
	configFile := flagSet.String("config", "", "path to a YAML or TOML config file")
	envFile := flagSet.String("env-file", ".env", "dotenv file loaded before reading the environment")
	listen := flagSet.String("listen", "", "listen address, overrides the config file")
	logLevel := flagSet.String("log-level", "", "debug, info, warn or error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(*configFile, *envFile, *listen, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "authn-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, envFile, listen, logLevel string) error {
	s, err := settings.Load(settings.Options{File: configFile, EnvFile: envFile})
	if err != nil {
		return err
	}
	if listen != "" {
		s.Listen = listen
	}
	if logLevel != "" {
		s.Log.Level = logLevel
	}

	logger, err := logging.Init(logging.Config{
		Level:        s.Log.Level,
		Dev:          s.Log.Dev,
		File:         s.Log.File,
		RotationTime: time.Duration(s.Log.RotationTime),
		MaxAge:       time.Duration(s.Log.MaxAge),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := s.EngineConfig()
	if err != nil {
		return err
	}
	if s.EphemeralJWTKey() {
		logger.Warn("jwt.private_key_file not set; signing with an ephemeral ed25519 key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, closeRedis, err := openRedis(s.Redis, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	users, closeUsers, err := openUserStore(ctx, s.Database, logger)
	if err != nil {
		return err
	}
	defer closeUsers()

	var mailer mail.Mailer = mail.LogMailer{
		Logger:           logger.Named("mail"),
		SquelchRecipient: s.Features.SquelchPIIInLogs,
	}
	if s.SMTP.Host != "" {
		mailer = mail.NewSMTPMailer(mail.SMTPConfig{
			Addr:     net.JoinHostPort(s.SMTP.Host, strconv.Itoa(s.SMTP.Port)),
			From:     s.SMTP.From,
			Username: s.SMTP.Username,
			Password: s.SMTP.Password,
		})
	}

	auditSink, closeAudit, err := openAuditSink(s.Audit, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	b := authn.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithMailer(mailer).
		WithAuditSink(auditSink).
		WithLogger(logger)
	if s.Enrollment.URL != "" {
		client := &http.Client{Timeout: time.Duration(s.Enrollment.Timeout)}
		b.WithEnrollment(httpapi.EnrollmentForwarder(s.Enrollment.URL, client))
	}
	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	closeMetrics, err := openOTel(s.Metrics, engine, logger)
	if err != nil {
		return err
	}
	defer closeMetrics()

	if mem, ok := users.(*userstore.Memory); ok {
		if err := seedDemoUser(ctx, engine, mem); err != nil {
			return err
		}
		logger.Info("seeded demo account", zap.String("email", demoEmail))
	}

	api := httpapi.New(engine, httpapi.Options{
		Logger:     logger.Named("http"),
		Metrics:    prometheus.New(engine).Handler(),
		FloodRPS:   s.Flood.RPS,
		FloodBurst: s.Flood.Burst,
	})
	srv := &http.Server{
		Addr:              s.Listen,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", s.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}
	return nil
}

func openRedis(cfg settings.Redis, logger *zap.Logger) (redis.UniversalClient, func(), error) {
	if cfg.Memory || len(cfg.Addrs) == 0 {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start embedded redis: %w", err)
		}
		logger.Warn("using embedded redis; sessions are lost on restart", zap.String("addr", mr.Addr()))
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return client, func() { _ = client.Close() }, nil
}

func openAuditSink(cfg settings.Audit, logger *zap.Logger) (authn.AuditSink, func(), error) {
	zapSink := audit.NewZapSink(logger.Named("audit"))
	if cfg.File == "" {
		return zapSink, func() {}, nil
	}
	w, err := logging.RotatingWriter(cfg.File, 0, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit file: %w", err)
	}
	return audit.Fanout(zapSink, audit.NewJSONWriterSink(w)), func() { _ = w.Close() }, nil
}

func openOTel(cfg settings.Metrics, engine *authn.Engine, logger *zap.Logger) (func(), error) {
	interval := time.Duration(cfg.OTelInterval)
	if interval <= 0 {
		return func() {}, nil
	}
	reader := sdkmetric.NewPeriodicReader(
		otelexport.NewLogExporter(logger.Named("metrics")),
		sdkmetric.WithInterval(interval),
	)
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exp, err := otelexport.New(provider.Meter("github.com/learnkit/authn"), engine)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, fmt.Errorf("register otel metrics: %w", err)
	}
	return func() {
		_ = exp.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Warn("otel meter provider shutdown failed", zap.Error(err))
		}
	}, nil
}

func openUserStore(ctx context.Context, cfg settings.Database, logger *zap.Logger) (userstore.Store, func(), error) {
	if cfg.DSN == "" {
		logger.Warn("database.dsn not set; using the in-memory user store")
		return userstore.NewMemory(), func() {}, nil
	}

	db, err := userstore.Open(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Migrate {
		if err := userstore.Migrate(ctx, db.DB); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	return userstore.NewPostgres(db), func() { _ = db.Close() }, nil
}

func seedDemoUser(ctx context.Context, engine *authn.Engine, users *userstore.Memory) error {
	hash, err := engine.HashPassword(demoPassword)
	if err != nil {
		return fmt.Errorf("hash demo password: %w", err)
	}
	return users.CreateUser(ctx, &account.User{
		Username:     "demo",
		Email:        demoEmail,
		PasswordHash: hash,
		IsActive:     true,
		DateJoined:   time.Now().UTC(),
	})
}
