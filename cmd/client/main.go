package main

import (
	"flag"
	"fmt"
	"os"

	"tchat/internal/app"
)

func main() {
	defaultServer := envOrDefault("TCHAT_SERVER", "ws://localhost:8080/join")
	defaultUser := envOrDefault("TCHAT_USER", "")

	serverJoinURL := flag.String("server", defaultServer, "WebSocket join URL (e.g., ws://localhost:8080/join)")
	username := flag.String("user", defaultUser, "default username for login prompts")
	flag.Parse()

	cfg := app.ClientConfig{
		ServerURL: *serverJoinURL,
		Username:  *username,
	}

	if err := app.RunClient(cfg); err != nil {
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
