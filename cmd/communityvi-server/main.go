// Command communityvi-server runs the synchronization server: it loads
// settings, opens the room, and serves the REST and WebSocket surface
// until interrupted.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/communityvi/communityvi-sub000/internal/clock"
	"github.com/communityvi/communityvi-sub000/internal/config"
	"github.com/communityvi/communityvi-sub000/internal/httpapi"
	"github.com/communityvi/communityvi-sub000/internal/room"
	"github.com/communityvi/communityvi-sub000/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	settings, err := db.LoadSettings(ctx, store.Settings{
		ServerName:  cfg.ServerName,
		MaxSessions: cfg.MaxSessions,
	})
	if err != nil {
		return err
	}
	if err := db.SaveSettings(ctx, settings); err != nil {
		return err
	}

	slog.Info("starting communityvi-server",
		"address", cfg.Address,
		"server_name", settings.ServerName,
		"max_sessions", settings.MaxSessions,
	)

	rm := room.New(settings.MaxSessions, clock.New())
	server := httpapi.New(rm, settings.ServerName)

	if err := server.Run(ctx, cfg.Address); err != nil {
		return err
	}
	slog.Info("communityvi-server stopped")
	return nil
}
