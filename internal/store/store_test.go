package store

import (
	"testing"
	"time"

	"github.com/zsurvival/game-server/internal/game"
)

// testGateway builds a Gateway with a tiny queue and no database or worker,
// so enqueue behavior can be observed directly.
func testGateway(queueLen int) *Gateway {
	return &Gateway{
		queue: make(chan writeOp, queueLen),
		done:  make(chan struct{}),
	}
}

func TestEnqueue_NeverBlocksWhenFull(t *testing.T) {
	g := testGateway(1)

	snap := game.Snapshot{Version: game.SnapshotVersion, Code: "AB12CD", Status: game.StatusWaiting, CreatedAt: time.Now()}

	done := make(chan struct{})
	go func() {
		g.UpsertSession(snap)
		g.UpsertSession(snap) // queue full, must drop
		g.DeleteSession("AB12CD")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}

	if len(g.queue) != 1 {
		t.Fatalf("expected exactly 1 queued op, got %d", len(g.queue))
	}
	op := <-g.queue
	if op.kind != opUpsertGame {
		t.Errorf("the first op should survive, got %q", op.kind)
	}
}

func TestEnqueue_OrderPreserved(t *testing.T) {
	g := testGateway(8)

	snap := game.Snapshot{Code: "AB12CD"}
	g.UpsertSession(snap)
	g.UpsertParticipant("AB12CD", game.PlayerSnapshot{ID: "p1"})
	g.DeleteSession("AB12CD")

	want := []string{opUpsertGame, opUpsertPlayer, opDeleteGame}
	for i, kind := range want {
		op := <-g.queue
		if op.kind != kind {
			t.Fatalf("op %d: expected %q, got %q", i, kind, op.kind)
		}
	}
}

func TestEnqueue_AfterCloseIsNoop(t *testing.T) {
	g := testGateway(8)

	// Simulate Close without a database: mark closed and shut the queue.
	g.mu.Lock()
	g.closed = true
	close(g.queue)
	g.mu.Unlock()

	// Must not panic on the closed channel.
	g.UpsertSession(game.Snapshot{Code: "AB12CD"})
	g.DeleteSession("AB12CD")
}

func TestWriteOp_CarriesPayload(t *testing.T) {
	g := testGateway(2)

	now := time.Now()
	g.UpsertParticipant("AB12CD", game.PlayerSnapshot{
		ID:       "p1",
		Name:     "Rick",
		IsHost:   true,
		ConnID:   "conn-1",
		JoinedAt: now,
	})

	op := <-g.queue
	if op.code != "AB12CD" {
		t.Errorf("expected code AB12CD, got %q", op.code)
	}
	if op.player.Name != "Rick" || !op.player.IsHost {
		t.Errorf("player payload lost: %+v", op.player)
	}
}
