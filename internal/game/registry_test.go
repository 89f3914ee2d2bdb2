package game

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeMirror records durable store calls in order and serves canned
// snapshots for rehydration.
type fakeMirror struct {
	mu        sync.Mutex
	upserts   []Snapshot
	players   []PlayerSnapshot
	deletes   []string
	snapshots map[string]*Snapshot
	loadErr   error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{snapshots: make(map[string]*Snapshot)}
}

func (m *fakeMirror) UpsertSession(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, snap)
}

func (m *fakeMirror) UpsertParticipant(code string, p PlayerSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players = append(m.players, p)
}

func (m *fakeMirror) DeleteSession(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, code)
}

func (m *fakeMirror) Load(ctx context.Context, code string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.snapshots[code], nil
}

// fakeFanout records room membership changes and broadcast frames in the
// order the registry issued them.
type fakeFanout struct {
	mu         sync.Mutex
	joins      []string // code|connID
	leaves     []string
	drops      []string
	broadcasts []broadcastRec
}

type broadcastRec struct {
	Code   string
	Except string
	Data   []byte
}

func (f *fakeFanout) Join(code, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, code+"|"+connID)
}

func (f *fakeFanout) Leave(code, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, code+"|"+connID)
}

func (f *fakeFanout) Drop(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drops = append(f.drops, code)
}

func (f *fakeFanout) Broadcast(code string, data []byte, exceptConnID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, broadcastRec{Code: code, Except: exceptConnID, Data: data})
}

func (f *fakeFanout) broadcastTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, b := range f.broadcasts {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(b.Data, &env)
		types = append(types, env.Type)
	}
	return types
}

func newTestRegistry() (*Registry, *fakeMirror, *fakeFanout) {
	mirror := newFakeMirror()
	fanout := &fakeFanout{}
	return NewRegistry(mirror, fanout), mirror, fanout
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreate_HostIsFirstPlayer(t *testing.T) {
	r, mirror, fanout := newTestRegistry()

	res, err := r.Create("conn-1", "Rick")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Code) != CodeLength {
		t.Fatalf("expected %d-char code, got %q", CodeLength, res.Code)
	}
	if res.PlayerID == "" {
		t.Fatal("expected a player ID for the host")
	}

	b, ok := r.Binding("conn-1")
	if !ok {
		t.Fatal("host connection should be bound")
	}
	if !b.IsHost || b.Code != res.Code {
		t.Errorf("unexpected binding: %+v", b)
	}

	games, players := r.Counts()
	if games != 1 || players != 1 {
		t.Errorf("expected 1 game / 1 player, got %d / %d", games, players)
	}

	if len(fanout.joins) != 1 || fanout.joins[0] != res.Code+"|conn-1" {
		t.Errorf("host should join the room: %v", fanout.joins)
	}

	// The mirror saw the game row and the host's player row.
	if len(mirror.upserts) != 1 {
		t.Fatalf("expected 1 session upsert, got %d", len(mirror.upserts))
	}
	if mirror.upserts[0].Status != StatusWaiting {
		t.Errorf("new game should be waiting, got %q", mirror.upserts[0].Status)
	}
	if len(mirror.players) != 1 || !mirror.players[0].IsHost {
		t.Errorf("expected host participant upsert, got %+v", mirror.players)
	}
}

func TestCreate_CodesAreUnique(t *testing.T) {
	r, _, _ := newTestRegistry()

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		res, err := r.Create("conn", "host")
		if err != nil {
			t.Fatalf("unexpected error on create %d: %v", i, err)
		}
		if seen[res.Code] {
			t.Fatalf("duplicate code issued: %s", res.Code)
		}
		seen[res.Code] = true
	}
}

// ---------------------------------------------------------------------------
// Join
// ---------------------------------------------------------------------------

func TestJoin_MovesWaitingToActive(t *testing.T) {
	r, _, fanout := newTestRegistry()
	ctx := context.Background()

	created, _ := r.Create("conn-host", "Rick")

	res, err := r.Join(ctx, "conn-2", created.Code, "Morty", "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Players) != 2 {
		t.Fatalf("expected 2 players in roster, got %d", len(res.Players))
	}
	if !res.Players[0].IsHost {
		t.Error("roster should list the host first")
	}
	if res.Players[1].IsHost {
		t.Error("joiner should not be host")
	}

	// Second join is rejected: the session left waiting.
	if _, err := r.Join(ctx, "conn-3", created.Code, "Summer", "req-2"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	// playerJoined went to the whole room, joiner included.
	types := fanout.broadcastTypes()
	if len(types) != 1 || types[0] != "playerJoined" {
		t.Errorf("expected a single playerJoined broadcast, got %v", types)
	}
	if fanout.broadcasts[0].Except != "" {
		t.Errorf("playerJoined should not exclude anyone, got except=%q", fanout.broadcasts[0].Except)
	}
}

func TestJoin_UnknownCode(t *testing.T) {
	r, _, _ := newTestRegistry()

	_, err := r.Join(context.Background(), "conn-1", "NOPE12", "Morty", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJoin_RejectionLeavesStateUntouched(t *testing.T) {
	r, _, fanout := newTestRegistry()
	ctx := context.Background()

	created, _ := r.Create("conn-host", "Rick")
	r.Join(ctx, "conn-2", created.Code, "Morty", "")

	broadcastsBefore := len(fanout.broadcasts)
	_, players := r.Counts()

	if _, err := r.Join(ctx, "conn-3", created.Code, "Summer", ""); err == nil {
		t.Fatal("expected rejection")
	}

	if _, ok := r.Binding("conn-3"); ok {
		t.Error("rejected joiner must not be bound")
	}
	if _, after := r.Counts(); after != players {
		t.Errorf("player count changed on rejected join: %d -> %d", players, after)
	}
	if len(fanout.broadcasts) != broadcastsBefore {
		t.Error("rejected join must not broadcast")
	}
}

func TestJoin_RehydratesFromMirror(t *testing.T) {
	r, mirror, _ := newTestRegistry()
	ctx := context.Background()

	mirror.snapshots["AB12CD"] = &Snapshot{
		Version:   SnapshotVersion,
		Code:      "AB12CD",
		Status:    StatusWaiting,
		CreatedAt: time.Now(),
		Players: []PlayerSnapshot{
			{ID: "p-host", Name: "Rick", IsHost: true, ConnID: "old-conn", JoinedAt: time.Now()},
		},
	}

	res, err := r.Join(ctx, "conn-2", "AB12CD", "Morty", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Players) != 2 {
		t.Fatalf("expected rehydrated host + joiner, got %d players", len(res.Players))
	}
	if res.Players[0].ID != "p-host" {
		t.Errorf("rehydrated host should keep its ID, got %q", res.Players[0].ID)
	}

	// The snapshot's connection belongs to a previous process and must not
	// be routable.
	if _, ok := r.Binding("old-conn"); ok {
		t.Error("stale connection from snapshot must not be bound")
	}
}

func TestJoin_StartedSnapshotNotRehydrated(t *testing.T) {
	r, mirror, _ := newTestRegistry()

	now := time.Now()
	mirror.snapshots["AB12CD"] = &Snapshot{
		Version:   SnapshotVersion,
		Code:      "AB12CD",
		Status:    StatusStarted,
		CreatedAt: now,
		StartedAt: &now,
		Players: []PlayerSnapshot{
			{ID: "p-host", Name: "Rick", IsHost: true, ConnID: "old-conn", JoinedAt: now},
		},
	}

	_, err := r.Join(context.Background(), "conn-2", "AB12CD", "Morty", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("started snapshots are terminal, expected ErrNotFound, got %v", err)
	}
}

func TestJoin_MirrorErrorMeansNotFound(t *testing.T) {
	r, mirror, _ := newTestRegistry()
	mirror.loadErr = errors.New("connection refused")

	_, err := r.Join(context.Background(), "conn-1", "AB12CD", "Morty", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound when mirror is down, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Start
// ---------------------------------------------------------------------------

func TestStart_OnlyHost(t *testing.T) {
	r, _, _ := newTestRegistry()
	ctx := context.Background()

	created, _ := r.Create("conn-host", "Rick")
	r.Join(ctx, "conn-2", created.Code, "Morty", "")

	if _, err := r.Start("conn-2", created.Code, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-host start should be ErrUnauthorized, got %v", err)
	}
	if _, err := r.Start("conn-ghost", created.Code, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unbound start should be ErrUnauthorized, got %v", err)
	}

	res, err := r.Start("conn-host", created.Code, "req-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Game.Status != StatusStarted {
		t.Errorf("expected started status, got %q", res.Game.Status)
	}
	if res.Game.StartedAt == "" {
		t.Error("started game should carry a start timestamp")
	}
}

func TestStart_Twice(t *testing.T) {
	r, _, _ := newTestRegistry()

	created, _ := r.Create("conn-host", "Rick")
	if _, err := r.Start("conn-host", created.Code, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Start("conn-host", created.Code, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second start should be ErrInvalidState, got %v", err)
	}
}

func TestStart_BroadcastIncludesHost(t *testing.T) {
	r, _, fanout := newTestRegistry()

	created, _ := r.Create("conn-host", "Rick")
	r.Join(context.Background(), "conn-2", created.Code, "Morty", "")
	r.Start("conn-host", created.Code, "")

	last := fanout.broadcasts[len(fanout.broadcasts)-1]
	if last.Except != "" {
		t.Errorf("gameStarted must reach the host too, got except=%q", last.Except)
	}

	var msg struct {
		Type string `json:"type"`
		Game struct {
			Players []struct {
				ID string `json:"id"`
			} `json:"players"`
		} `json:"game"`
	}
	if err := json.Unmarshal(last.Data, &msg); err != nil {
		t.Fatalf("broadcast should be valid JSON: %v", err)
	}
	if msg.Type != "gameStarted" {
		t.Fatalf("expected gameStarted broadcast, got %q", msg.Type)
	}
	if len(msg.Game.Players) != 2 {
		t.Errorf("expected full roster in gameStarted, got %d", len(msg.Game.Players))
	}
}

// ---------------------------------------------------------------------------
// Disconnect
// ---------------------------------------------------------------------------

func TestDisconnect_BroadcastsPlayerLeft(t *testing.T) {
	r, _, fanout := newTestRegistry()
	ctx := context.Background()

	created, _ := r.Create("conn-host", "Rick")
	join, _ := r.Join(ctx, "conn-2", created.Code, "Morty", "")

	res := r.Disconnect("conn-2")
	if res == nil {
		t.Fatal("expected a leave result")
	}
	if res.Deleted {
		t.Error("session with a remaining player must not be deleted")
	}
	if res.Remaining != 1 {
		t.Errorf("expected 1 remaining player, got %d", res.Remaining)
	}
	if res.PlayerID != join.PlayerID {
		t.Errorf("leave result should name the leaver, got %q", res.PlayerID)
	}

	types := fanout.broadcastTypes()
	if types[len(types)-1] != "playerLeft" {
		t.Errorf("expected playerLeft broadcast, got %v", types)
	}
}

func TestDisconnect_LastPlayerDeletesSession(t *testing.T) {
	r, mirror, fanout := newTestRegistry()

	created, _ := r.Create("conn-host", "Rick")

	res := r.Disconnect("conn-host")
	if res == nil || !res.Deleted {
		t.Fatalf("expected deletion, got %+v", res)
	}

	games, _ := r.Counts()
	if games != 0 {
		t.Errorf("expected empty registry, got %d games", games)
	}
	if len(mirror.deletes) != 1 || mirror.deletes[0] != created.Code {
		t.Errorf("mirror should see the delete: %v", mirror.deletes)
	}
	if len(fanout.drops) != 1 || fanout.drops[0] != created.Code {
		t.Errorf("room should be dropped: %v", fanout.drops)
	}
	if _, ok := r.Binding("conn-host"); ok {
		t.Error("binding must be destroyed")
	}
}

func TestDisconnect_UnboundConnection(t *testing.T) {
	r, _, _ := newTestRegistry()

	if res := r.Disconnect("conn-unknown"); res != nil {
		t.Fatalf("unbound disconnect should be a no-op, got %+v", res)
	}
}

// ---------------------------------------------------------------------------
// Relay
// ---------------------------------------------------------------------------

func TestRelay_ExcludesSender(t *testing.T) {
	r, _, fanout := newTestRegistry()
	ctx := context.Background()

	created, _ := r.Create("conn-host", "Rick")
	r.Join(ctx, "conn-2", created.Code, "Morty", "")

	frame := []byte(`{"type":"gameAction","action":"move"}`)
	if !r.Relay("conn-2", created.Code, frame) {
		t.Fatal("bound sender should relay")
	}

	last := fanout.broadcasts[len(fanout.broadcasts)-1]
	if last.Except != "conn-2" {
		t.Errorf("relay must exclude the sender, got except=%q", last.Except)
	}
	if string(last.Data) != string(frame) {
		t.Errorf("relay must forward the frame verbatim")
	}
}

func TestRelay_MisroutedDroppedSilently(t *testing.T) {
	r, _, fanout := newTestRegistry()

	created, _ := r.Create("conn-host", "Rick")
	other, _ := r.Create("conn-other", "Summer")

	before := len(fanout.broadcasts)

	// Unbound connection.
	if r.Relay("conn-ghost", created.Code, []byte(`{}`)) {
		t.Error("unbound sender must not relay")
	}
	// Bound to a different game.
	if r.Relay("conn-other", created.Code, []byte(`{}`)) {
		t.Error("cross-game sender must not relay")
	}
	_ = other

	if len(fanout.broadcasts) != before {
		t.Error("misrouted actions must not broadcast")
	}
}

// ---------------------------------------------------------------------------
// Eviction
// ---------------------------------------------------------------------------

func TestEvictStale_ExpiredAndStarted(t *testing.T) {
	r, mirror, fanout := newTestRegistry()
	ctx := context.Background()

	// Old waiting game.
	oldGame, _ := r.Create("conn-old", "Rick")
	r.mu.Lock()
	r.sessions[oldGame.Code].CreatedAt = time.Now().Add(-45 * time.Minute)
	r.mu.Unlock()

	// Fresh started game.
	startedGame, _ := r.Create("conn-started", "Summer")
	r.Join(ctx, "conn-s2", startedGame.Code, "Beth", "")
	r.Start("conn-started", startedGame.Code, "")

	// Fresh waiting game survives.
	fresh, _ := r.Create("conn-fresh", "Jerry")

	evicted := r.EvictStale(30 * time.Minute)
	if len(evicted) != 2 {
		t.Fatalf("expected 2 evictions, got %v", evicted)
	}
	reasons := map[string]string{}
	conns := map[string][]string{}
	for _, ev := range evicted {
		reasons[ev.Code] = ev.Reason
		conns[ev.Code] = ev.ConnIDs
	}
	if reasons[oldGame.Code] != "expired" {
		t.Errorf("old game should be expired, got %q", reasons[oldGame.Code])
	}
	if reasons[startedGame.Code] != "started" {
		t.Errorf("started game should be reclaimed as started, got %q", reasons[startedGame.Code])
	}
	if got := conns[oldGame.Code]; len(got) != 1 || got[0] != "conn-old" {
		t.Errorf("expired game's eviction should carry its bound connection, got %v", got)
	}
	if got := conns[startedGame.Code]; len(got) != 2 {
		t.Errorf("started game's eviction should carry both bound connections, got %v", got)
	}

	games, _ := r.Counts()
	if games != 1 {
		t.Fatalf("expected 1 surviving game, got %d", games)
	}
	if _, ok := r.Binding("conn-fresh"); !ok {
		t.Error("survivor's binding must remain")
	}
	if _, ok := r.Binding("conn-old"); ok {
		t.Error("evicted game's bindings must be destroyed")
	}
	if _, ok := r.Binding("conn-s2"); ok {
		t.Error("evicted started game's bindings must be destroyed")
	}
	if len(mirror.deletes) != 2 {
		t.Errorf("mirror should see both deletes: %v", mirror.deletes)
	}
	if len(fanout.drops) != 2 {
		t.Errorf("both rooms should be dropped: %v", fanout.drops)
	}
	_ = fresh
}

func TestEvictStale_NothingToDo(t *testing.T) {
	r, mirror, _ := newTestRegistry()

	r.Create("conn-1", "Rick")
	if evicted := r.EvictStale(30 * time.Minute); len(evicted) != 0 {
		t.Fatalf("fresh game must survive, evicted %v", evicted)
	}
	if len(mirror.deletes) != 0 {
		t.Errorf("no deletes expected, got %v", mirror.deletes)
	}
}

// ---------------------------------------------------------------------------
// Broadcast ordering
// ---------------------------------------------------------------------------

func TestBroadcasts_FollowMutationOrder(t *testing.T) {
	r, _, fanout := newTestRegistry()
	ctx := context.Background()

	created, _ := r.Create("conn-host", "Rick")
	r.Join(ctx, "conn-2", created.Code, "Morty", "")
	r.Start("conn-host", created.Code, "")
	r.Disconnect("conn-2")

	types := fanout.broadcastTypes()
	want := []string{"playerJoined", "gameStarted", "playerLeft"}
	if len(types) != len(want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("broadcast %d: expected %q, got %q (all: %v)", i, want[i], types[i], types)
		}
	}
}
