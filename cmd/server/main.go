package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Simplici0/quickprint/internal/api"
	"github.com/Simplici0/quickprint/internal/checkout"
	"github.com/Simplici0/quickprint/internal/config"
	"github.com/Simplici0/quickprint/internal/dashboard"
	"github.com/Simplici0/quickprint/internal/db"
	"github.com/Simplici0/quickprint/internal/logging"
	"github.com/Simplici0/quickprint/internal/migrations"
	"github.com/Simplici0/quickprint/internal/session"
)

const (
	shutdownTimeout = 15 * time.Second
	purgeInterval   = 10 * time.Minute
)

func main() {
	app := &cli.App{
		Name:   "quickprint",
		Usage:  "campus print shop cart and order dashboard service",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP service",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply session database migrations and exit",
				Action: migrate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.IsDev())
	if err != nil {
		return config.Config{}, nil, err
	}
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}
	return cfg, logger, nil
}

func migrate(c *cli.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Open(c.Context, cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := migrations.Up(database); err != nil {
		return err
	}
	version, err := migrations.Version(database)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", zap.String("db_path", cfg.DBPath), zap.Int64("version", version))
	return nil
}

func serve(c *cli.Context) (err error) {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, database.Close()) }()

	if err := migrations.Up(database); err != nil {
		return err
	}

	client, err := api.New(cfg.APIBaseURL, cfg.APITimeout, logger.Named("api"))
	if err != nil {
		return err
	}

	store := session.NewStore(database, cfg.SessionTTL)
	poller := dashboard.NewPoller(client, cfg.ShopID, cfg.PollInterval, logger.Named("dashboard"))
	poller.Start(ctx)
	defer poller.Stop()

	go purgeSessions(ctx, store, logger)

	srv := &server{
		checkout: checkout.NewService(store, client, cfg.UserID, cfg.ShopID, logger.Named("checkout")),
		cookies:  newSessionCookies(cfg.SessionSecret, cfg.SessionTTL, !cfg.IsDev()),
		shop:     client,
		orders:   poller,
		shopID:   cfg.ShopID,
		logger:   logger,
		now:      time.Now,
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", httpServer.Addr),
			zap.String("api", cfg.APIBaseURL),
			zap.Int64("shop_id", cfg.ShopID),
		)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// purgeSessions drops expired sessions until ctx ends.
func purgeSessions(ctx context.Context, store *session.Store, logger *zap.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := store.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purge expired sessions", zap.Error(err))
				continue
			}
			if purged > 0 {
				logger.Info("purged expired sessions", zap.Int64("count", purged))
			}
		}
	}
}
