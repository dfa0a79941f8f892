package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/flotilla-app/flotilla/internal/api"
	"github.com/flotilla-app/flotilla/internal/auth"
	"github.com/flotilla-app/flotilla/internal/config"
	"github.com/flotilla-app/flotilla/internal/events"
	"github.com/flotilla-app/flotilla/internal/presence"
	"github.com/flotilla-app/flotilla/internal/publisher"
	"github.com/flotilla-app/flotilla/internal/service"
	"github.com/flotilla-app/flotilla/internal/storage/sqlite"
	"github.com/flotilla-app/flotilla/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := logging.Setup()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Security.IdentitySecret == "" {
		slog.Error("security.identity_secret must be set (FLOTILLA_SECURITY__IDENTITY_SECRET)")
		os.Exit(1)
	}

	bus := events.NewBus(logger)
	defer bus.Close()

	store, err := sqlite.New(cfg.Database.Path, bus, logger)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.Database.Path)

	membership := service.NewMembershipService(store, logger)
	propagator := presence.New(store, store, logger)
	publishers := publisher.NewRegistry(store, logger,
		publisher.WithMinInterval(cfg.Publish.MinInterval))
	verifier := auth.NewVerifier(cfg.Security.IdentitySecret)

	handlers := api.NewHandlers(membership, store, propagator, publishers, logger)
	router := api.NewRouter(handlers, verifier, api.RouterOptions{
		RateLimitReqs:   cfg.Security.RateLimitReqs,
		RateLimitWindow: cfg.Security.RateLimitWindow,
		CORSOrigins:     cfg.Security.CORSOrigins,
	})
	server := api.NewServer(cfg.Server.Addr(), router, cfg.Server.Timeout, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler := &sutureslog.Handler{Logger: logger}
	root := suture.New("flotilla", suture.Spec{EventHook: handler.MustHook()})
	root.Add(server)

	if err := root.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Server exited", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
