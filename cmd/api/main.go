package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"classdesk.org/internal/audit"
	"classdesk.org/internal/auth"
	"classdesk.org/internal/config"
	"classdesk.org/internal/httpapi"
	"classdesk.org/internal/notify"
	"classdesk.org/internal/obs"
	"classdesk.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file; environment variables override it")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := obs.NewLogger("classdesk-api", version, cfg.Log.Format, cfg.Log.Level, os.Stdout)
	slog.SetDefault(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger.Info("starting", "config", cfg)

	var (
		store    auth.CredentialStore
		probe    httpapi.ReadyProbe
		pgCloser func() error
	)
	if cfg.Database.DSN != "" {
		pgStore, err := pg.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		pgCloser = pgStore.Close
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		logger.Warn("DATABASE_DSN is empty; using the in-memory credential store")
		mem := auth.NewMemoryStore()
		for i, name := range []string{"admin", "manager", "trainer", "student"} {
			mem.AddRole(int64(i+1), name)
		}
		store = mem
	}

	passwords, err := auth.NewPasswordManager(auth.WithBcryptCost(cfg.Auth.BcryptCost))
	if err != nil {
		return err
	}
	var tokenOpts []auth.TokenOption
	if cfg.Auth.RevocationEnabled {
		tokenOpts = append(tokenOpts, auth.WithDenylist(auth.NewMemoryDenylist()))
	}
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: []byte(cfg.Auth.JWTSecret),
		TTL:    cfg.Auth.TokenTTL,
		Issuer: cfg.Auth.Issuer,
	}, tokenOpts...)
	if err != nil {
		return err
	}

	dispatcher, err := newDispatcher(cfg, logger)
	if err != nil {
		return err
	}

	svc, err := auth.NewService(store, passwords, tokens,
		auth.WithNotifier(dispatcher),
		auth.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if err := bootstrapUser(context.Background(), svc, cfg.Auth.Bootstrap, logger); err != nil {
		return err
	}

	api := httpapi.New(svc, probe, version,
		httpapi.WithLogger(logger),
		httpapi.WithAudit(audit.New(logger)),
		httpapi.WithCORSOrigins(cfg.CORSOrigin),
		httpapi.WithLoginRateLimit(cfg.Auth.LoginRatePerSec, cfg.Auth.LoginBurst),
		httpapi.WithTrustForwardedFor(cfg.HTTP.TrustForwardedFor),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcSrv *httpapi.GRPCServer
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = httpapi.NewGRPCServer(tokens, probe, logger)
		go func() {
			logger.Info("grpc listening", "addr", cfg.GRPC.Addr)
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case runErr = <-errCh:
		logger.Error("server failed", "error", runErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := dispatcher.Close(ctx); err != nil {
		logger.Warn("notification queue not drained", "error", err)
	}
	if pgCloser != nil {
		_ = pgCloser()
	}
	logger.Info("stopped")
	return runErr
}

func newDispatcher(cfg *config.Config, logger *slog.Logger) (*notify.Dispatcher, error) {
	composer, err := notify.NewComposer(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	var mailer notify.Mailer
	if cfg.Mail.Enabled() {
		mailer, err = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("SMTP_HOST is empty; account emails are logged, not sent")
		mailer = notify.NewLogMailer(logger)
	}
	return notify.NewDispatcher(mailer, composer, notify.DispatcherConfig{
		QueueSize:   cfg.Mail.QueueSize,
		Workers:     cfg.Mail.Workers,
		SendTimeout: cfg.Mail.SendTimeout,
	}, logger)
}
