// Command snekd serves the Snake activity: the web page, the websocket game
// sessions and the match history.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/brensch/snekcord/config"
	"github.com/brensch/snekcord/logging"
	"github.com/brensch/snekcord/replay"
	"github.com/brensch/snekcord/server"
	"github.com/brensch/snekcord/session"
	"github.com/brensch/snekcord/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "snekd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observers := []session.Observer{}

	var db *store.DB
	if cfg.DBPath != "" {
		db, err = store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		observers = append(observers, store.NewMatchRecorder(db, logger))
		logger.Info("match history enabled", "path", cfg.DBPath)
	}

	var rec *replay.Recorder
	if cfg.ReplayDir != "" {
		rec = replay.NewRecorder(cfg.ReplayDir, logger)
		observers = append(observers, rec)
		logger.Info("replays enabled", "dir", cfg.ReplayDir)
	}

	hub := server.NewHub(logger)
	observers = append(observers, hub)
	sessions := session.NewManager(cfg.MaxSessions, logger, observers...)

	srv, err := server.New(ctx, server.Options{
		Config:   cfg,
		Sessions: sessions,
		Hub:      hub,
		DB:       db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	err = srv.ListenAndServe(ctx)
	sessions.CloseAll()
	if rec != nil {
		if cerr := rec.Close(); cerr != nil {
			logger.Error("flush replays", "err", cerr)
		}
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	logger.Info("shut down")
	return err
}
