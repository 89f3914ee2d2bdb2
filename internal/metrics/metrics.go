// Package metrics provides Prometheus instrumentation for the Z-Survival
// game server. It exposes gauges for connection and game counts, counters for
// broadcast and persistence activity, and histograms for relay latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zsurvival_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// ActiveGames tracks the current number of games in the registry.
	ActiveGames = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zsurvival_active_games",
		Help: "Current number of games in the in-memory registry",
	})

	// ActivePlayers tracks the current number of players across all games.
	ActivePlayers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zsurvival_active_players",
		Help: "Current number of players across all registry games",
	})

	// GamesCreated counts games created since process start.
	GamesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zsurvival_games_created_total",
		Help: "Total number of games created",
	})

	// BroadcastsTotal counts room broadcasts, labeled by event type:
	// "player_joined", "game_started", "player_left", "action".
	BroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zsurvival_broadcasts_total",
		Help: "Total number of room broadcasts",
	}, []string{"event"})

	// ActionsMisrouted counts relayed actions dropped because the sending
	// connection was not bound to the target game.
	ActionsMisrouted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zsurvival_actions_misrouted_total",
		Help: "Total number of game actions dropped as misrouted",
	})

	// ActionRelayLatency records action relay processing latency in seconds.
	ActionRelayLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "zsurvival_action_relay_latency_seconds",
		Help:    "Action relay processing latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
	})

	// PersistFailures counts durable-store operations that failed, labeled by
	// operation: "upsert_game", "upsert_player", "delete_game", "load".
	PersistFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zsurvival_persist_failures_total",
		Help: "Total number of failed durable-store operations",
	}, []string{"op"})

	// PersistDropped counts mirror writes dropped because the async write
	// queue was full.
	PersistDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zsurvival_persist_dropped_total",
		Help: "Total number of mirror writes dropped due to a full queue",
	})

	// Rehydrations counts games reconstructed from the durable mirror.
	Rehydrations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zsurvival_rehydrations_total",
		Help: "Total number of games rehydrated from the durable store",
	})

	// Evictions counts games removed by the reaper, labeled by reason:
	// "expired" (idle TTL exceeded) or "started" (terminal status reclaim).
	Evictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zsurvival_evictions_total",
		Help: "Total number of games evicted by the reaper",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ActiveGames,
		ActivePlayers,
		GamesCreated,
		BroadcastsTotal,
		ActionsMisrouted,
		ActionRelayLatency,
		PersistFailures,
		PersistDropped,
		Rehydrations,
		Evictions,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
