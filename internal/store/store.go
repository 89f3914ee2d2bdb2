// Package store implements the PersistenceGateway: a best-effort PostgreSQL
// mirror of the in-memory game registry. Writes are enqueued onto a bounded
// queue drained by a background worker, so a slow or failing database never
// blocks a registry operation; failures are logged and counted, never
// surfaced to the caller. The mirror exists to support process-restart
// reconstruction, not as a query-of-record.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/zsurvival/game-server/internal/game"
	"github.com/zsurvival/game-server/internal/metrics"
)

const (
	// queueSize bounds the async write queue. When full, new writes are
	// dropped (and counted) rather than blocking the mutation timeline.
	queueSize = 1024

	// opTimeout is the per-statement deadline for mirror writes.
	opTimeout = 3 * time.Second

	connectTimeout = 5 * time.Second
)

// Write op kinds, also used as the Prometheus failure label.
const (
	opUpsertGame   = "upsert_game"
	opUpsertPlayer = "upsert_player"
	opDeleteGame   = "delete_game"
)

type writeOp struct {
	kind   string
	code   string
	snap   game.Snapshot
	player game.PlayerSnapshot
}

// Gateway is the durable mirror. It implements game.Mirror.
type Gateway struct {
	db *sql.DB

	mu     sync.Mutex
	closed bool

	queue chan writeOp
	done  chan struct{}
}

// Open connects to PostgreSQL, applies pending schema migrations, and starts
// the async write worker. A connection failure here is fatal to process
// startup; it is the only store error that ever stops anything.
func Open(dsn string) (*Gateway, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: postgres connection failed: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	g := &Gateway{
		db:    db,
		queue: make(chan writeOp, queueSize),
		done:  make(chan struct{}),
	}
	go g.writeLoop()

	log.Printf("[store] postgres mirror ready (queue=%d)", queueSize)
	return g, nil
}

// UpsertSession schedules a write of the session row and its snapshot.
// Never blocks; the write is dropped with a counter if the queue is full.
func (g *Gateway) UpsertSession(snap game.Snapshot) {
	g.enqueue(writeOp{kind: opUpsertGame, code: snap.Code, snap: snap})
}

// UpsertParticipant schedules a write of one participant row.
func (g *Gateway) UpsertParticipant(code string, p game.PlayerSnapshot) {
	g.enqueue(writeOp{kind: opUpsertPlayer, code: code, player: p})
}

// DeleteSession schedules removal of the session row; participant rows go
// with it via the foreign key cascade.
func (g *Gateway) DeleteSession(code string) {
	g.enqueue(writeOp{kind: opDeleteGame, code: code})
}

// Load reads the durable snapshot for a code. It returns (nil, nil) when no
// row exists or the row is terminal (started games are not reconstructible).
// This is the only synchronous read the registry ever performs.
func (g *Gateway) Load(ctx context.Context, code string) (*game.Snapshot, error) {
	const query = `SELECT status, snapshot FROM games WHERE game_code = $1`

	var (
		status string
		raw    []byte
	)
	err := g.db.QueryRowContext(ctx, query, code).Scan(&status, &raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.PersistFailures.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("store: load game %s: %w", code, err)
	}

	if status == game.StatusStarted {
		return nil, nil
	}

	var snap game.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		metrics.PersistFailures.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("store: decode snapshot for %s: %w", code, err)
	}
	if snap.Version > game.SnapshotVersion {
		log.Printf("[store] snapshot for code=%s has unknown version %d, skipping", code, snap.Version)
		return nil, nil
	}

	// The status column is authoritative over the blob: the two can diverge
	// when an upsert landed between the snapshot write and this read.
	snap.Status = status
	return &snap, nil
}

// CountActive returns the number of durable rows for games that have not
// started. It backs the read-only stats endpoint and is non-authoritative.
func (g *Gateway) CountActive(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM games WHERE status IN ('waiting', 'active')`

	var count int
	if err := g.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count active games: %w", err)
	}
	return count, nil
}

// Close stops accepting writes, drains the queue, and closes the database.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	close(g.queue)
	g.mu.Unlock()

	<-g.done
	return g.db.Close()
}

// enqueue adds a write op without ever blocking the caller.
func (g *Gateway) enqueue(op writeOp) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}

	select {
	case g.queue <- op:
	default:
		metrics.PersistDropped.Inc()
		log.Printf("[store] write queue full, dropped %s code=%s", op.kind, op.code)
	}
}

func (g *Gateway) writeLoop() {
	defer close(g.done)
	for op := range g.queue {
		g.execute(op)
	}
}

func (g *Gateway) execute(op writeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var err error
	switch op.kind {
	case opUpsertGame:
		err = g.upsertGame(ctx, op.snap)
	case opUpsertPlayer:
		err = g.upsertPlayer(ctx, op.code, op.player)
	case opDeleteGame:
		err = g.deleteGame(ctx, op.code)
	}

	if err != nil {
		metrics.PersistFailures.WithLabelValues(op.kind).Inc()
		log.Printf("[store] %s failed code=%s: %v", op.kind, op.code, err)
	}
}

func (g *Gateway) upsertGame(ctx context.Context, snap game.Snapshot) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	const query = `
		INSERT INTO games (game_code, status, created_at, started_at, snapshot)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (game_code) DO UPDATE
		SET status = EXCLUDED.status,
		    started_at = EXCLUDED.started_at,
		    snapshot = EXCLUDED.snapshot`

	var startedAt interface{}
	if snap.StartedAt != nil {
		startedAt = *snap.StartedAt
	}
	_, err = g.db.ExecContext(ctx, query, snap.Code, snap.Status, snap.CreatedAt, startedAt, blob)
	return err
}

func (g *Gateway) upsertPlayer(ctx context.Context, code string, p game.PlayerSnapshot) error {
	meta, err := json.Marshal(map[string]string{"connectionId": p.ConnID})
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	const query = `
		INSERT INTO game_players (game_code, player_id, player_name, is_host, joined_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (game_code, player_id) DO UPDATE
		SET player_name = EXCLUDED.player_name,
		    metadata = EXCLUDED.metadata`

	_, err = g.db.ExecContext(ctx, query, code, p.ID, p.Name, p.IsHost, p.JoinedAt, meta)
	return err
}

func (g *Gateway) deleteGame(ctx context.Context, code string) error {
	_, err := g.db.ExecContext(ctx, `DELETE FROM games WHERE game_code = $1`, code)
	return err
}
