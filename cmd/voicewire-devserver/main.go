// Command voicewire-devserver is a scripted conversational backend for
// local development and protocol testing. It speaks the same duplex
// envelope as the real service: transcripts for streamed audio, token
// streams for replies, and status transitions around each turn.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("voicewire-devserver", flag.ContinueOnError)
	addr := fs.String("addr", envOr("VOICEWIRE_DEV_ADDR", ":3001"), "listen address")
	debug := fs.Bool("debug", false, "debug logging")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	srv := newDevServer(logger)
	logger.Info("devserver listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, srv.routes()); err != nil {
		fmt.Fprintf(os.Stderr, "voicewire-devserver: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (s *devServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleSocket)
	r.Get("/conversations/{sessionID}", s.handleHistory)
	r.Post("/auth/login", s.handleAuth)
	r.Post("/auth/signup", s.handleAuth)
	return r
}
