// Command server runs the rendezvous/signaling server: it loads
// configuration, connects to MongoDB (and, if configured, Redis), wires
// the core services to the HTTP and WebSocket surfaces, and serves until
// signalled to shut down (spec §6).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rendez/signal-server/internal/api"
	"github.com/rendez/signal-server/internal/api/handler"
	"github.com/rendez/signal-server/internal/core/service"
	"github.com/rendez/signal-server/internal/infrastructure/config"
	mongorepo "github.com/rendez/signal-server/internal/infrastructure/db/mongo"
	redisrepo "github.com/rendez/signal-server/internal/infrastructure/db/redis"
	"github.com/rendez/signal-server/internal/infrastructure/ws"
	"github.com/rendez/signal-server/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := logger.Init(logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	// Per spec §7, database connectivity failure at startup logs a warning
	// and continues — the only spec-sanctioned fatal startup condition is
	// an unrecoverable listener bind. mongorepo.Connect returns a non-nil
	// client/database even when its ping fails, so requests are served
	// and simply surface Storage errors per-call until Mongo recovers. A
	// nil client means mongo.Connect itself rejected the URI/options,
	// which is fatal since there is no way to serve any request without it.
	mongoClient, db, err := mongorepo.Connect(ctx, mongorepo.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	if mongoClient == nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	if err != nil {
		log.Warn().Err(err).Msg("mongo unreachable at startup, continuing in degraded mode")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(shutdownCtx)
	}()

	users := mongorepo.NewUserRepository(db)
	machinesRepo := mongorepo.NewMachineRepository(db)
	sessions := mongorepo.NewSessionRepository(db)
	if err := users.EnsureIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("ensure user indexes failed")
	}
	if err := machinesRepo.EnsureIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("ensure machine indexes failed")
	}
	if err := sessions.EnsureIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("ensure session indexes failed")
	}

	var relay ws.PresenceRelay
	if cfg.Redis.Addr != "" {
		redisClient, err := redisrepo.Connect(ctx, redisrepo.Config{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, falling back to single-instance presence")
		} else {
			defer func() { _ = redisClient.Close() }()
			relay = redisrepo.NewRedisPresenceRelay(redisClient)
		}
	}

	identity := service.NewIdentity(users, sessions, cfg.JWT.Secret, cfg.JWT.ExpiresIn)
	machines := service.NewMachineRegistry(machinesRepo)
	channels := service.NewChannelRegistry()
	signaling := service.NewSignaling(machines, channels)
	presence := service.NewPresence(machines, channels)

	hub := ws.New(identity, machines, channels, signaling, presence, ws.Config{
		HeartbeatInterval: cfg.WS.HeartbeatInterval,
		HeartbeatTimeout:  cfg.WS.HeartbeatTimeout,
		AllowedOrigins:    cfg.AllowedOrigins,
	}, log)
	if relay != nil {
		hub.SetPresenceRelay(relay, uuid.NewString())
	}

	e := api.NewRouter(api.RouterConfig{
		Identity:       identity,
		Hub:            hub,
		JWTSecret:      cfg.JWT.Secret,
		AllowedOrigins: cfg.AllowedOrigins,
		TURN: handler.TURNConfig{
			STUNServers:  cfg.TURN.STUNServers,
			TURNURL:      cfg.TURN.TURNURL,
			TURNTCPURL:   cfg.TURN.TURNTCPURL,
			TURNSURL:     cfg.TURN.TURNSURL,
			TURNUsername: cfg.TURN.TURNUsername,
			TURNCred:     cfg.TURN.TURNCred,
		},
	})
	e.HTTPErrorHandler = api.NewHTTPErrorHandler(log)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go hub.RunSweep(sweepCtx)
	go hub.RunPresenceRelay(sweepCtx)

	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Shutdown()
	stopSweep()

	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
