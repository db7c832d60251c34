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

	"github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/casino-backend/internal/auth"
	"github.com/DoyleJ11/casino-backend/internal/blackjack"
	"github.com/DoyleJ11/casino-backend/internal/config"
	"github.com/DoyleJ11/casino-backend/internal/gateway"
	"github.com/DoyleJ11/casino-backend/internal/httpapi"
	"github.com/DoyleJ11/casino-backend/internal/hub"
	"github.com/DoyleJ11/casino-backend/internal/lobby"
	"github.com/DoyleJ11/casino-backend/internal/logger"
	"github.com/DoyleJ11/casino-backend/internal/slots"
	"github.com/DoyleJ11/casino-backend/internal/store"
)

const (
	shutdownTimeout = 10 * time.Second
	seedBalance     = 1000
)

func main() {
	if err := config.LoadEnvFile(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cmd := &cli.Command{
		Name:   "casino-server",
		Usage:  "multiplayer blackjack and slots over websockets",
		Flags:  config.Flags(),
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.FromCommand(cmd)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	users, closeStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	jwt := auth.NewJWT(cfg.JWTSecret, cfg.TokenTTL)
	if cfg.SeedUser != "" {
		if err := seed(ctx, users, jwt, cfg.SeedUser, log); err != nil {
			return multierr.Append(err, closeStore())
		}
	}

	h := hub.NewHub(ctx, []hub.Mode{
		{Name: blackjack.Mode, New: func(l *lobby.Lobby) lobby.Game { return blackjack.New(l, users, cfg.Blackjack, nil) }},
		{Name: slots.Mode, New: func(l *lobby.Lobby) lobby.Game { return slots.New(l, users, nil) }},
	}, log.Named("hub"))

	gw := gateway.New(h, jwt, users, gateway.Options{
		IdentifyTimeout: cfg.IdentifyTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		SendQueueSize:   cfg.SendQueueSize,
		OriginPatterns:  cfg.AllowedOrigins,
	}, log.Named("gateway"))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(h, gw, jwt, users, log.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Lobbies first so sessions get a close frame before the listener goes.
		return multierr.Combine(h.Shutdown(sctx), srv.Shutdown(sctx), closeStore())
	})
	return g.Wait()
}

func openStore(cfg config.Config, log *zap.Logger) (store.UserStore, func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("no database configured, balances are kept in memory")
		return store.NewMemory(), func() error { return nil }, nil
	}
	db, err := store.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return db, db.Close, nil
}

func seed(ctx context.Context, users store.UserStore, jwt *auth.JWT, username string, log *zap.Logger) error {
	var (
		u   store.User
		err error
	)
	switch s := users.(type) {
	case *store.Memory:
		u = s.CreateUser(username, seedBalance)
	case *store.Gorm:
		u, err = s.CreateUser(ctx, username, seedBalance)
	default:
		return fmt.Errorf("store %T cannot create users", users)
	}
	if err != nil {
		return fmt.Errorf("seed user: %w", err)
	}
	token, err := jwt.Issue(u.ID)
	if err != nil {
		return fmt.Errorf("issue seed token: %w", err)
	}
	log.Info("seeded user", zap.Int64("user", u.ID), zap.String("username", u.Username), zap.String("token", token))
	return nil
}
