package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zsurvival/game-server/internal/config"
	"github.com/zsurvival/game-server/internal/events"
	"github.com/zsurvival/game-server/internal/game"
	"github.com/zsurvival/game-server/internal/metrics"
	"github.com/zsurvival/game-server/internal/presence"
	"github.com/zsurvival/game-server/internal/protocol"
	"github.com/zsurvival/game-server/internal/ratelimit"
	"github.com/zsurvival/game-server/internal/store"
	"github.com/zsurvival/game-server/internal/ws"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	serverConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}

	// --- Postgres (required) ---
	gateway, err := store.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}

	// --- Redis presence (optional) ---
	presenceStore, err := presence.NewStore(cfg.RedisAddr, cfg.ServerName)
	if err != nil {
		log.Printf("redis unavailable, presence and rate limiting disabled: %v", err)
		presenceStore = nil
	}

	var limiter *ratelimit.Limiter
	if presenceStore != nil {
		limiter = ratelimit.NewLimiter(presenceStore.Client())
	}

	// --- NATS lifecycle feed (optional) ---
	natsConfig := events.DefaultConfig()
	natsConfig.URL = cfg.NatsURL
	publisher, err := events.NewPublisher(natsConfig, cfg.ServerName)
	if err != nil {
		log.Printf("nats unavailable, lifecycle feed disabled: %v", err)
		publisher = nil
	}

	log.Printf("Z-SURVIVAL game server starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  server_name:     %s", cfg.ServerName)
	log.Printf("  worker_pool:     %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  reap_interval:   %s", cfg.ReapInterval)
	log.Printf("  game_ttl:        %s", cfg.GameTTL)
	log.Printf("  redis:           %v", presenceStore != nil)
	log.Printf("  nats:            %v", publisher != nil)

	// Declare server early so closures can capture it.
	var server *ws.Server
	var registry *game.Registry

	dispatcher := ws.NewMessageDispatcher(nil)

	sendError := func(conn *ws.Connection, code, message string) {
		resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code: code, Message: message,
		})
		if err := conn.WriteMessage(resp); err != nil {
			log.Printf("send error to conn=%s failed: %v", conn.ID, err)
		}
	}

	// allow wraps the rate limiter; with Redis down everything is allowed.
	allow := func(conn *ws.Connection, rule ratelimit.Rule) bool {
		if limiter == nil {
			return true
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ok, _ := limiter.Allow(ctx, conn.ID, rule)
		if !ok {
			sendError(conn, protocol.ErrCodeRateLimited, "rate limit exceeded")
		}
		return ok
	}

	// bindPresence records the connection's game membership in Redis.
	bindPresence := func(connID, code, playerID string, isHost bool) {
		if presenceStore == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := presenceStore.Bind(ctx, connID, code, playerID, isHost); err != nil {
			log.Printf("presence bind failed conn=%s: %v", connID, err)
		}
	}

	// -----------------------------------------------------------------------
	// createGame - open a new session with the caller as host
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeCreateGame, func(conn *ws.Connection, msg interface{}) {
		createMsg, ok := msg.(protocol.CreateGameMsg)
		if !ok {
			return
		}
		if !allow(conn, ratelimit.RuleCreate) {
			return
		}

		res, err := registry.Create(conn.ID, createMsg.HostName)
		if err != nil {
			resp, _ := protocol.NewServerMessage(protocol.TypeGameCreated, protocol.GameCreatedMsg{
				Success:   false,
				Error:     "could not create game",
				RequestID: createMsg.RequestID,
			})
			conn.WriteMessage(resp)
			log.Printf("createGame failed conn=%s: %v", conn.ID, err)
			return
		}

		resp, _ := protocol.NewServerMessage(protocol.TypeGameCreated, protocol.GameCreatedMsg{
			Success:   true,
			GameCode:  res.Code,
			PlayerID:  res.PlayerID,
			RequestID: createMsg.RequestID,
		})
		conn.WriteMessage(resp)

		bindPresence(conn.ID, res.Code, res.PlayerID, true)
		if publisher != nil {
			publisher.GameCreated(res.Code, res.PlayerID, createMsg.HostName)
		}
	})

	// -----------------------------------------------------------------------
	// joinGame - join a waiting session by code
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinGame, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinGameMsg)
		if !ok {
			return
		}
		if !allow(conn, ratelimit.RuleJoin) {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		res, err := registry.Join(ctx, conn.ID, joinMsg.GameCode, joinMsg.PlayerName, joinMsg.RequestID)
		if err != nil {
			reason := "could not join game"
			switch {
			case errors.Is(err, game.ErrNotFound):
				reason = "game not found"
			case errors.Is(err, game.ErrInvalidState):
				reason = "game already in progress"
			}
			resp, _ := protocol.NewServerMessage(protocol.TypeGameJoined, protocol.GameJoinedMsg{
				Success:   false,
				Error:     reason,
				RequestID: joinMsg.RequestID,
			})
			conn.WriteMessage(resp)
			return
		}

		resp, _ := protocol.NewServerMessage(protocol.TypeGameJoined, protocol.GameJoinedMsg{
			Success:   true,
			GameCode:  joinMsg.GameCode,
			PlayerID:  res.PlayerID,
			Players:   res.Players,
			RequestID: joinMsg.RequestID,
		})
		conn.WriteMessage(resp)

		bindPresence(conn.ID, joinMsg.GameCode, res.PlayerID, false)
		if publisher != nil {
			publisher.PlayerJoined(joinMsg.GameCode, res.PlayerID, joinMsg.PlayerName, len(res.Players))
		}
	})

	// -----------------------------------------------------------------------
	// startGame - host launches the session
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeStartGame, func(conn *ws.Connection, msg interface{}) {
		startMsg, ok := msg.(protocol.StartGameMsg)
		if !ok {
			return
		}

		// Hosts may omit the code; default to the game they are bound to.
		code := startMsg.GameCode
		if code == "" {
			if b, ok := registry.Binding(conn.ID); ok {
				code = b.Code
			}
		}

		res, err := registry.Start(conn.ID, code, startMsg.RequestID)
		if err != nil {
			reason := "could not start game"
			switch {
			case errors.Is(err, game.ErrUnauthorized):
				reason = "only the host can start the game"
			case errors.Is(err, game.ErrNotFound):
				reason = "game not found"
			case errors.Is(err, game.ErrInvalidState):
				reason = "game already started"
			}
			resp, _ := protocol.NewServerMessage(protocol.TypeGameStarted, protocol.GameStartedMsg{
				Success:   false,
				Error:     reason,
				RequestID: startMsg.RequestID,
			})
			conn.WriteMessage(resp)
			return
		}

		// The room broadcast (host included) already carried gameStarted.
		if publisher != nil {
			publisher.GameStarted(code, len(res.Game.Players))
		}
	})

	// -----------------------------------------------------------------------
	// gameAction - relay an opaque action to the rest of the room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeGameAction, func(conn *ws.Connection, msg interface{}) {
		actionMsg, ok := msg.(protocol.GameActionMsg)
		if !ok {
			return
		}
		if !allow(conn, ratelimit.RuleAction) {
			return
		}

		b, bound := registry.Binding(conn.ID)
		code := actionMsg.GameCode
		if code == "" && bound {
			code = b.Code
		}

		ts := actionMsg.Timestamp
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}
		frame, err := protocol.NewServerMessage(protocol.TypeGameAction, protocol.RelayedActionMsg{
			PlayerID:  b.PlayerID,
			Action:    actionMsg.Action,
			Data:      actionMsg.Data,
			Timestamp: ts,
		})
		if err != nil {
			log.Printf("gameAction encode failed conn=%s: %v", conn.ID, err)
			return
		}

		// Misrouted actions are dropped without feedback.
		registry.Relay(conn.ID, code, frame)
	})

	server = ws.NewServer(serverConfig, presenceStore, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	registry = game.NewRegistry(gateway, server.Rooms())
	server.SetHealthCounts(registry.Counts)

	// Stats and metrics endpoints.
	server.Handle("/metrics", metrics.Handler())
	server.Handle("/api/stats", statsHandler(registry, gateway, server))

	server.SetOnDisconnect(func(connID string) {
		res := registry.Disconnect(connID)
		if res == nil {
			return
		}
		if publisher != nil {
			if res.Deleted {
				publisher.GameDeleted(res.Code, "empty")
			} else {
				publisher.PlayerLeft(res.Code, res.PlayerID, res.Remaining)
			}
		}
	})

	// Background sweep for expired and finished sessions.
	reaper := game.NewReaper(registry, cfg.ReapInterval, cfg.GameTTL)
	reaper.SetOnEvict(func(ev game.Eviction) {
		if publisher != nil {
			publisher.GameDeleted(ev.Code, ev.Reason)
		}
		// Connections in an evicted game stay open; clear their presence
		// bindings so stats stop attributing them to a dead code.
		if presenceStore != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			for _, connID := range ev.ConnIDs {
				if err := presenceStore.Unbind(ctx, connID); err != nil {
					log.Printf("presence unbind failed conn=%s: %v", connID, err)
				}
			}
		}
	})
	reaper.Start()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		reaper.Stop()
		if publisher != nil {
			publisher.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := gateway.Close(); err != nil {
			log.Printf("store close error: %v", err)
		}
		if presenceStore != nil {
			if err := presenceStore.Close(); err != nil {
				log.Printf("presence close error: %v", err)
			}
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
