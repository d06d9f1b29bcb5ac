package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fefudrive/tripchat/internal/auth"
	"github.com/fefudrive/tripchat/internal/config"
	"github.com/fefudrive/tripchat/internal/messaging"
	"github.com/fefudrive/tripchat/internal/protocol"
	"github.com/fefudrive/tripchat/internal/ratelimit"
	"github.com/fefudrive/tripchat/internal/relay"
	"github.com/fefudrive/tripchat/internal/session"
	"github.com/fefudrive/tripchat/internal/trip"
	"github.com/fefudrive/tripchat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.SetupLogging()

	// --- Trip lookup ---
	var (
		lookup     trip.Lookup
		natsClient *messaging.Client
		db         *sql.DB
	)
	switch cfg.TripLookup {
	case config.LookupNATS:
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "tripchat-" + cfg.ServerName
		natsClient, err = messaging.Connect(natsConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		lookup = trip.NewNATSLookup(natsClient)
	case config.LookupSQL:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		db, err = trip.OpenDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("failed to connect to database")
		}
		lookup, err = trip.NewSQLLookup(db, cfg.DatabaseDriver)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to prepare trip lookup")
		}
	default:
		log.Warn().Str("module", "main").Msg("trip lookup disabled, every participant joins as guest")
	}
	resolver := trip.NewResolver(lookup, cfg.RoleTimeout)

	// --- Redis (optional) ---
	var (
		rdb     *redis.Client
		mirror  session.Mirror
		limiter *ratelimit.Limiter
	)
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err = session.NewRedisClient(ctx, cfg.RedisAddr)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		mirror = session.NewStore(rdb, cfg.ServerName)
		limiter = ratelimit.NewLimiter(rdb, ratelimit.RuleConnect)
	}
	tracker := session.NewTracker(mirror)

	log.Info().Str("module", "main").
		Str("listen_addr", cfg.ListenAddr).
		Int("worker_pool", cfg.WorkerPoolSize).
		Int("max_connections", cfg.MaxConnections).
		Str("trip_lookup", cfg.TripLookup).
		Str("redis_addr", cfg.RedisAddr).
		Str("server_name", cfg.ServerName).
		Int("history_limit", cfg.HistoryLimit).
		Bool("auth", cfg.JWTSecret != "").
		Msg("trip chat relay starting")

	// --- Transport and gateway ---
	serverConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		SendBuffer:     cfg.SendBuffer,
		Heartbeat: ws.HeartbeatConfig{
			Interval: cfg.HeartbeatInterval,
			Timeout:  cfg.HeartbeatTimeout,
		},
	}

	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(serverConfig, dispatcher.Dispatch)

	gateway := relay.NewGateway(relay.Config{
		HistoryLimit:    cfg.HistoryLimit,
		HistoryIdleTTL:  cfg.HistoryIdleTTL,
		JanitorInterval: cfg.JanitorInterval,
	}, resolver, server, tracker)

	dispatcher.Register(protocol.TypeJoin, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.JoinMsg); ok {
			gateway.HandleJoin(context.Background(), conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeChatMessage, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ChatMsg); ok {
			gateway.HandleChatMessage(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeLeave, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.LeaveMsg); ok {
			gateway.HandleLeave(conn.ID, m)
		}
	})

	server.SetOnConnect(gateway.Connect)
	server.SetOnDisconnect(gateway.Disconnect)
	server.SetRoomStats(gateway.RoomStats)
	if verifier := auth.NewVerifier(cfg.JWTSecret); verifier.Enabled() {
		server.SetAuthenticator(verifier)
	}
	if limiter != nil {
		server.SetLimiter(limiter)
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	go gateway.RunJanitor(janitorCtx)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("module", "main").Str("signal", sig.String()).Msg("initiating graceful shutdown")

		stopJanitor()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error().Str("module", "main").Err(err).Msg("shutdown error")
		}
		tracker.Close()

		if natsClient != nil {
			natsClient.Close()
		}
		if db != nil {
			_ = db.Close()
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				log.Error().Str("module", "main").Err(err).Msg("redis close error")
			}
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
