package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/percmarket/percolator-markets/internal/crypto"
	"github.com/percmarket/percolator-markets/internal/domain"
	"github.com/percmarket/percolator-markets/internal/server"
	"github.com/percmarket/percolator-markets/internal/server/handler"
	"github.com/percmarket/percolator-markets/internal/server/middleware"
	"github.com/percmarket/percolator-markets/internal/server/ws"
)

const shutdownTimeout = 15 * time.Second

// ServeMode runs the HTTP API and the WebSocket hub until the context is
// cancelled, then drains in-flight requests.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	logger := a.logger.With(slog.String("mode", "serve"))

	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"postgres": deps.Postgres,
		"redis":    deps.Redis,
	}, logger)
	marketHandler := handler.NewMarketHandler(deps.Markets, deps.Queries, logger)
	positionHandler := handler.NewPositionHandler(deps.Queries, logger)
	settlementHandler := handler.NewSettlementHandler(deps.Settlement, logger)
	protocolHandler := handler.NewProtocolHandler(deps.Queries, logger)
	eventsHandler := handler.NewEventsHandler(deps.EventBus, logger)

	var verifier middleware.Verifier
	if a.cfg.Auth.Enabled {
		verifier = crypto.NewVerifier(a.cfg.Auth.MaxSkew.Duration)
	} else {
		logger.Warn("request signature verification disabled, trusting address headers")
	}

	hub := ws.NewHub(deps.EventBus, logger)

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
		},
		server.Handlers{
			Health:     healthHandler,
			Markets:    marketHandler,
			Positions:  positionHandler,
			Settlement: settlementHandler,
			Protocol:   protocolHandler,
			Events:     eventsHandler,
		},
		verifier,
		domain.ClockFunc(time.Now),
		hub,
		logger,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: serve: %w", err)
	}
	return nil
}

// MigrateMode applies pending schema migrations and exits.
func (a *App) MigrateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.Info("applying migrations")
	if err := deps.Postgres.RunMigrations(ctx); err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	a.logger.Info("migrations applied")
	return nil
}

// KeygenMode generates a fresh secp256k1 keypair, writes it encrypted to
// the configured key file, and logs the derived address.
func (a *App) KeygenMode(ctx context.Context) error {
	if a.cfg.Auth.KeyFilePath == "" {
		return errors.New("app: keygen: auth.key_file_path is required")
	}
	if a.cfg.Auth.KeyPassword == "" {
		return errors.New("app: keygen: auth.key_password is required")
	}

	address, err := crypto.WriteKeyFile(a.cfg.Auth.KeyFilePath, a.cfg.Auth.KeyPassword)
	if err != nil {
		return fmt.Errorf("app: keygen: %w", err)
	}

	a.logger.InfoContext(ctx, "key file written",
		slog.String("path", a.cfg.Auth.KeyFilePath),
		slog.String("address", address),
	)
	return nil
}
