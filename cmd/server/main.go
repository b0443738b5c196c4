package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomrelay/internal/broker"
	"github.com/Tyrowin/roomrelay/internal/logging"
	"github.com/Tyrowin/roomrelay/internal/server"
)

func main() {
	envErr := godotenv.Load()

	config := server.NewConfigFromEnv()
	logging.Setup(config.Log.Level, config.Log.Format)

	if envErr != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}
	if config.Auth.Secret == "" {
		log.Warn().Msg("JWT_SECRET is not set; every connection will be refused")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := broker.Open(ctx, config.Broker.Kind, config.Broker.URL())
	if err != nil {
		log.Fatal().Err(err).Str("broker", string(config.Broker.Kind)).Msg("opening broker")
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Msg("closing broker")
		}
	}()
	log.Info().Str("broker", string(config.Broker.Kind)).Msg("broker connected")

	srv := server.New(config, b, server.NewGate(config.Auth))
	// The relay lives until Shutdown, not until the signal context ends.
	if err := srv.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("starting relay")
	}

	httpServer := server.CreateServer(config.Port, srv.Routes())

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
		}
	case <-srv.Relay().Done():
		log.Error().Err(srv.Relay().Err()).Msg("relay terminated; shutting down")
	}

	if err := srv.Shutdown(config.ShutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("relay shutdown")
	}
	if err := server.ShutdownServer(httpServer, config.ShutdownTimeout); err != nil {
		os.Exit(1)
	}
}
