package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/zsurvival/game-server/internal/game"
	"github.com/zsurvival/game-server/internal/store"
	"github.com/zsurvival/game-server/internal/ws"
)

// statsHandler serves an operational snapshot: live counts from the registry
// and the number of active rows in Postgres. The durable count can lag the
// in-memory one since mirror writes are asynchronous.
func statsHandler(registry *game.Registry, gateway *store.Gateway, server *ws.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		games, players := registry.Counts()

		resp := struct {
			Games         int `json:"games"`
			Players       int `json:"players"`
			Connections   int `json:"connections"`
			StoredGames   int `json:"storedGames"`
			PresenceConns int `json:"presenceConns,omitempty"`
		}{
			Games:       games,
			Players:     players,
			Connections: server.Connections().Count(),
		}

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if n, err := gateway.CountActive(ctx); err == nil {
			resp.StoredGames = n
		}
		if p := server.Presence(); p != nil {
			if n, err := p.Count(ctx); err == nil {
				resp.PresenceConns = n
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}
