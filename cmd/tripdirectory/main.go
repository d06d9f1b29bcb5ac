package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fefudrive/tripchat/internal/config"
	"github.com/fefudrive/tripchat/internal/messaging"
	"github.com/fefudrive/tripchat/internal/trip"
)

const queueGroup = "tripdirectory"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.SetupLogging()

	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("database_url is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	db, err := trip.OpenDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("failed to connect to database")
	}
	lookup, err := trip.NewSQLLookup(db, cfg.DatabaseDriver)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare trip lookup")
	}

	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "tripdirectory-" + cfg.ServerName
	natsConfig.HandlerTimeout = cfg.RoleTimeout

	client, err := messaging.Connect(natsConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}

	if err := client.Serve(trip.SubjectMembership, queueGroup, trip.ServeMembership(lookup)); err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to membership requests")
	}

	log.Info().Str("module", "directory").
		Str("nats_url", natsConfig.URL).
		Str("driver", cfg.DatabaseDriver).
		Str("subject", trip.SubjectMembership).
		Str("queue", queueGroup).
		Msg("trip directory running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("module", "directory").Str("signal", sig.String()).Msg("shutting down")

	client.Close()
	_ = db.Close()
}
