package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"yack/server/internal/auth"
	"yack/server/internal/config"
	"yack/server/internal/core"
	"yack/server/internal/directory"
	"yack/server/internal/httpapi"
	"yack/server/internal/store"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	addr := flag.String("addr", "", "Echo listen address (overrides config)")
	dbPath := flag.String("db", "", "Snapshot archive SQLite path (overrides config)")
	configPath := flag.String("config", "", "TOML config file path")
	debug := flag.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("load config", "path", *configPath, "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DB = *dbPath
	}

	// Auto-enable debug logging for dev builds; override with -debug flag.
	level := slog.LevelInfo
	if *debug || cfg.Debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if RunCLI(flag.Args(), cfg.DB) {
		return
	}

	slog.Info("starting server", "version", Version, "addr", cfg.Addr, "db", cfg.DB)

	archive, err := store.Open(cfg.DB)
	if err != nil {
		slog.Error("open snapshot archive", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := archive.Close(); closeErr != nil {
			slog.Error("close snapshot archive", "err", closeErr)
		}
	}()

	dir := directory.New()
	for _, u := range cfg.Users {
		if err := dir.Register(u.Username, u.Password); err != nil {
			slog.Error("seed user", "username", u.Username, "err", err)
			os.Exit(1)
		}
	}

	tokens := auth.NewTokenService(dir)
	hub := core.NewHub(dir)
	server := httpapi.New(hub, dir, tokens, archive)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		cancel()
	}()

	slog.Info("listening", "addr", cfg.Addr)
	if err := server.Run(ctx, cfg.Addr); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
