// Command monitor tails the game lifecycle feed from NATS and logs every
// event. It is a lightweight operational tool for watching session churn
// across game server instances.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/zsurvival/game-server/internal/config"
	"github.com/zsurvival/game-server/internal/events"
)

func main() {
	log.Println("Starting Z-SURVIVAL game monitor...")

	cfg, err := config.LoadMonitor()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	natsConfig := events.DefaultConfig()
	natsConfig.URL = cfg.NatsURL
	natsConfig.Name = "game-monitor"

	client, err := events.NewPublisher(natsConfig, "monitor")
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	err = client.Subscribe(events.SubjectWildcard, func(subject string, ev events.Event) {
		switch subject {
		case events.SubjectGameCreated:
			log.Printf("[%s] created code=%s host=%q server=%s", subject, ev.GameCode, ev.PlayerName, ev.Server)
		case events.SubjectPlayerJoined:
			log.Printf("[%s] joined code=%s player=%q players=%d server=%s", subject, ev.GameCode, ev.PlayerName, ev.Players, ev.Server)
		case events.SubjectGameStarted:
			log.Printf("[%s] started code=%s players=%d server=%s", subject, ev.GameCode, ev.Players, ev.Server)
		case events.SubjectPlayerLeft:
			log.Printf("[%s] left code=%s player=%s remaining=%d server=%s", subject, ev.GameCode, ev.PlayerID, ev.Players, ev.Server)
		case events.SubjectGameDeleted:
			log.Printf("[%s] deleted code=%s reason=%s server=%s", subject, ev.GameCode, ev.Reason, ev.Server)
		default:
			log.Printf("[%s] code=%s", subject, ev.GameCode)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to lifecycle feed: %v", err)
	}

	log.Printf("monitor subscribed to %s on %s", events.SubjectWildcard, natsConfig.URL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Printf("received signal %v, shutting down...", sig)
	client.Close()
}
