package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tchat/internal/app"
)

func main() {
	addr := flag.String("addr", envOrDefault("TCHAT_ADDR", ":8080"), "server listen address")
	path := flag.String("path", envOrDefault("TCHAT_PATH", "/join"), "websocket join path")
	db := flag.String("db", envOrDefault("TCHAT_DB_PATH", ""), "sqlite database path")
	flag.Parse()

	cfg := app.ServerConfig{
		Addr:   *addr,
		Path:   app.NormalizeJoinPath(*path),
		DBPath: *db,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = app.DefaultDBPath()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	log.Printf("tchat server listening on %s (ws path %s, db %s)", handle.Addr(), cfg.Path, cfg.DBPath)
	if err := handle.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
