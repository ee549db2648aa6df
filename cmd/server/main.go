// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/raven/internal/auth"
	"github.com/jason-s-yu/raven/internal/cache"
	"github.com/jason-s-yu/raven/internal/config"
	"github.com/jason-s-yu/raven/internal/creation"
	"github.com/jason-s-yu/raven/internal/database"
	"github.com/jason-s-yu/raven/internal/game"
	"github.com/jason-s-yu/raven/internal/game/tictactoe"
	"github.com/jason-s-yu/raven/internal/handlers"
	"github.com/jason-s-yu/raven/internal/notify"
	"github.com/jason-s-yu/raven/internal/table"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatalf("invalid LOG_LEVEL: %v", err)
	}
	logger.SetLevel(level)

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	meta, factory := tictactoe.Metadata, game.Factory(tictactoe.New)
	if err := game.Validate(meta, factory); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}
	sessions := database.NewSessionStore(pool)

	var ledger notify.ReplyLedger
	if cfg.LobbyMode == config.ModeAMQP {
		rdb, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		ledger = cache.NewReplyLedger(rdb, cfg.Redis.ReplyTTL)
	}

	transport, err := notify.NewTransport(ctx, cfg, meta.Slug, ledger, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logger.Warnf("closing transport: %v", err)
		}
	}()
	protocol := notify.NewProtocol(transport, notify.TitleOf(meta), logger)

	tickets, err := auth.NewIssuer(cfg.Tickets)
	if err != nil {
		return err
	}
	if cfg.Tickets.Secret == "" {
		logger.Warn("TICKET_SECRET not set, play tickets will not survive a restart")
	}

	flow := creation.NewFlow(sessions, protocol, meta, logger)
	registry := table.NewRegistry(factory, sessions, protocol, logger)
	srv := &handlers.Server{
		Meta:      meta,
		Sessions:  sessions,
		Tables:    registry,
		Flow:      flow,
		Tickets:   tickets,
		Logger:    logger,
		Prefix:    cfg.Prefix,
		QueueSize: cfg.Tables.QueueSize,
	}
	mux := http.NewServeMux()
	srv.Routes(mux)

	g, ctx := errgroup.WithContext(ctx)
	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
		// Websocket handlers outlive Shutdown; tie their contexts to ours.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	g.Go(func() error {
		logger.Infof("Running %s on %s (lobby mode %s)", meta.Name, httpServer.Addr, cfg.LobbyMode)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return registry.RunReaper(ctx, cfg.Tables.ReapInterval, cfg.Tables.IdleTimeout)
	})
	if cs, ok := transport.(notify.CreationServer); ok {
		g.Go(func() error {
			return cs.ServeCreateRequests(ctx, flow.HandleBrokerRequest)
		})
	}
	return g.Wait()
}
