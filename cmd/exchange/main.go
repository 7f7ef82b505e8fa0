package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"exchange/internal/api"
	"exchange/internal/engine"
	"exchange/internal/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	port := flag.String("port", "8000", "server port")
	dbPath := flag.String("db", "exchange.db", "SQLite database path (empty = in-memory, no durability)")
	corsOrigins := flag.String("cors", "", "comma-separated allowed CORS origins (empty = allow all for dev)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	var snapshots engine.SnapshotStore
	var closeStore func() error
	if *dbPath == "" {
		log.Warn().Msg("no database path, order books will not survive restarts")
		snapshots = store.NewMemory()
	} else {
		st, err := store.Open(*dbPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *dbPath).Msg("failed to open order store")
		}
		snapshots = st
		closeStore = st.Close
		log.Info().Str("path", *dbPath).Msg("order store opened")
	}

	eng, err := engine.New(context.Background(), snapshots)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load order books")
	}

	server := api.NewServer(eng)
	if *corsOrigins != "" {
		origins := strings.Split(*corsOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		server.SetCORSOrigins(origins)
		log.Info().Strs("origins", origins).Msg("CORS restricted")
	}

	addr := ":" + *port
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	go func() {
		log.Info().Str("addr", addr).Msg("exchange server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	server.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}

	if closeStore != nil {
		if err := closeStore(); err != nil {
			log.Error().Err(err).Msg("closing order store")
		}
	}
	log.Info().Msg("shutdown complete")
}
