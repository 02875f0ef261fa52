package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/trulo/meetup-presence/internal/announce"
	"github.com/trulo/meetup-presence/internal/auth"
	"github.com/trulo/meetup-presence/internal/router"
	"github.com/trulo/meetup-presence/internal/server"
	"github.com/trulo/meetup-presence/pkg/config"
	"github.com/trulo/meetup-presence/pkg/logging"
	"github.com/trulo/meetup-presence/pkg/telemetry"
)

func main() {
	logger := logging.New(logging.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.New(logging.ParseLevel(cfg.Log.Level))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := telemetry.Init(ctx, "meetup-presence")
	if err != nil {
		logger.Error("Failed to initialize telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer otelShutdown(context.Background())

	validator, cleanup, err := buildValidator(ctx, logger, cfg)
	if err != nil {
		logger.Error("Failed to configure token validation", slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	var users auth.UserStore = auth.AllowAllUserStore{}
	if cfg.Server.Auth.UserServiceURL != "" {
		users = auth.NewHTTPUserStore(cfg.Server.Auth.UserServiceURL)
	} else {
		logger.Warn("No user service configured; skipping user existence checks")
	}

	var announcer router.Announcer
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("meetup-presence"))
		if err != nil {
			logger.Error("Failed to connect to NATS", slog.Any("error", err))
			os.Exit(1)
		}
		defer nc.Drain()
		announcer = announce.NewPublisher(nc, cfg.NATS.SubjectPrefix, logger)
		logger.Info("Room announcements enabled", slog.String("nats_url", cfg.NATS.URL))
	}

	app := server.NewApp(logger, ctx, cfg, validator, users, announcer)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}

func buildValidator(ctx context.Context, logger *slog.Logger, cfg *config.Config) (auth.TokenValidator, func(), error) {
	if cfg.Server.Auth.JWKSURL != "" {
		v, err := auth.NewJWKSValidator(ctx, logger, cfg.Server.Auth.JWKSURL, cfg.Server.Auth.Issuer)
		if err != nil {
			return nil, nil, err
		}
		return v, v.Close, nil
	}
	if cfg.Server.Auth.JWTSecret == "" {
		logger.Warn("No jwtSecret or jwksUrl configured; tokens signed with an empty secret will validate")
	}
	return auth.NewHMACValidator(cfg.Server.Auth.JWTSecret, cfg.Server.Auth.Issuer), func() {}, nil
}
