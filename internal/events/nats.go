// Package events publishes game lifecycle events to NATS so that external
// services (monitoring, analytics) can follow the session feed without
// touching the game server. It handles connection lifecycle, subject-based
// subscriptions, and typed publish helpers for each lifecycle event.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects carrying game lifecycle events. Subscribers can use the
// "game.>" wildcard to follow the full feed.
const (
	SubjectGameCreated  = "game.created"
	SubjectPlayerJoined = "game.player_joined"
	SubjectGameStarted  = "game.started"
	SubjectPlayerLeft   = "game.player_left"
	SubjectGameDeleted  = "game.deleted"

	// SubjectWildcard matches every game lifecycle subject.
	SubjectWildcard = "game.>"
)

// Event is the JSON payload published on every lifecycle subject.
type Event struct {
	GameCode   string    `json:"gameCode"`
	PlayerID   string    `json:"playerId,omitempty"`
	PlayerName string    `json:"playerName,omitempty"`
	Players    int       `json:"players,omitempty"`
	Reason     string    `json:"reason,omitempty"` // for game.deleted: "empty", "expired", "started"
	Server     string    `json:"server,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher wraps the NATS connection with typed publish helpers for the
// game lifecycle feed.
type Publisher struct {
	conn   *nats.Conn
	server string
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "game-server",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewPublisher connects to NATS with the given config and returns a ready
// publisher. The server name is attached to every published event so
// subscribers can tell instances apart.
func NewPublisher(config Config, serverName string) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Publisher{
		conn:   nc,
		server: serverName,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// publish marshals the event, stamps it with the server name and current
// time, and publishes it. Marshal and publish failures are logged, not
// propagated: the lifecycle feed is best effort and must never affect game
// operations.
func (p *Publisher) publish(subject string, ev Event) {
	ev.Server = p.server
	ev.Timestamp = time.Now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[nats] marshal event %s: %v", subject, err)
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("[nats] publish %s: %v", subject, err)
	}
}

// GameCreated publishes a game.created event.
func (p *Publisher) GameCreated(code, hostID, hostName string) {
	p.publish(SubjectGameCreated, Event{GameCode: code, PlayerID: hostID, PlayerName: hostName, Players: 1})
}

// PlayerJoined publishes a game.player_joined event.
func (p *Publisher) PlayerJoined(code, playerID, playerName string, players int) {
	p.publish(SubjectPlayerJoined, Event{GameCode: code, PlayerID: playerID, PlayerName: playerName, Players: players})
}

// GameStarted publishes a game.started event.
func (p *Publisher) GameStarted(code string, players int) {
	p.publish(SubjectGameStarted, Event{GameCode: code, Players: players})
}

// PlayerLeft publishes a game.player_left event.
func (p *Publisher) PlayerLeft(code, playerID string, remaining int) {
	p.publish(SubjectPlayerLeft, Event{GameCode: code, PlayerID: playerID, Players: remaining})
}

// GameDeleted publishes a game.deleted event with the eviction reason.
func (p *Publisher) GameDeleted(code, reason string) {
	p.publish(SubjectGameDeleted, Event{GameCode: code, Reason: reason})
}

// Subscribe registers a handler for the given subject (wildcards allowed) and
// stores the subscription internally for cleanup on Close.
func (p *Publisher) Subscribe(subject string, handler func(subject string, ev Event)) error {
	sub, err := p.conn.Subscribe(subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[nats] unmarshal event %s: %v", msg.Subject, err)
			return
		}
		handler(msg.Subject, ev)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	p.mu.Lock()
	p.subs[subject] = sub
	p.mu.Unlock()

	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for subject, sub := range p.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	p.subs = make(map[string]*nats.Subscription)

	if err := p.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
