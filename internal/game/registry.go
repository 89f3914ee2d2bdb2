// Package game implements the session registry: the authoritative in-memory
// set of game sessions and their participants, the connection-to-session
// routing table, unique code generation, and the reaper that reclaims
// abandoned sessions. All mutations go through Registry methods; a single
// mutex serializes them, which is what guarantees that room broadcasts are
// delivered in mutation commit order.
package game

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zsurvival/game-server/internal/metrics"
	"github.com/zsurvival/game-server/internal/protocol"
)

// Registry owns every live session and connection binding. It writes through
// to a best-effort durable mirror and fans events out to room subscribers;
// neither side effect can fail a registry operation.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session // code -> session
	bindings map[string]Binding  // conn id -> binding
	mirror   Mirror
	fanout   Fanout
}

// NewRegistry creates an empty registry. Both mirror and fanout may be nil,
// in which case the corresponding side effects are skipped.
func NewRegistry(mirror Mirror, fanout Fanout) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		bindings: make(map[string]Binding),
		mirror:   mirror,
		fanout:   fanout,
	}
}

// CreateResult is returned by Create for the gameCreated response.
type CreateResult struct {
	Code     string
	PlayerID string
}

// JoinResult is returned by Join for the gameJoined response.
type JoinResult struct {
	PlayerID string
	Players  []protocol.PlayerInfo
}

// StartResult is returned by Start for the gameStarted response.
type StartResult struct {
	Game *protocol.GameInfo
}

// LeaveResult describes the outcome of a disconnect.
type LeaveResult struct {
	Code      string
	PlayerID  string
	Deleted   bool // the roster emptied and the session was removed
	Remaining int
}

// Create builds a new session with the caller as its host, generates a unique
// code, binds the connection, and subscribes it to the session's room.
func (r *Registry) Create(connID, hostName string) (*CreateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.newCode()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	host := &Participant{
		ID:       uuid.New().String(),
		Name:     hostName,
		IsHost:   true,
		ConnID:   connID,
		JoinedAt: now,
	}
	sess := &Session{
		Code:       code,
		HostConnID: connID,
		Players:    []*Participant{host},
		Status:     StatusWaiting,
		CreatedAt:  now,
	}

	r.sessions[code] = sess
	r.bindings[connID] = Binding{PlayerID: host.ID, Code: code, IsHost: true}
	if r.fanout != nil {
		r.fanout.Join(code, connID)
	}

	r.mirrorSession(sess)
	r.mirrorParticipant(code, host)

	metrics.GamesCreated.Inc()
	r.updateGauges()

	log.Printf("[registry] game created code=%s host=%q conn=%s", code, hostName, connID)
	return &CreateResult{Code: code, PlayerID: host.ID}, nil
}

// Join appends a non-host participant to a waiting session, moving it to
// active, and broadcasts playerJoined to the room (including the joiner).
// If the code is absent from memory, the durable mirror is consulted first;
// a reconstructible snapshot is rehydrated before the join is applied.
// Returns ErrNotFound if neither store knows the code, ErrInvalidState if
// the session already left waiting.
func (r *Registry) Join(ctx context.Context, connID, code, playerName, requestID string) (*JoinResult, error) {
	r.mu.Lock()
	_, inMemory := r.sessions[code]
	r.mu.Unlock()

	// Read-through reconstruction happens outside the lock: a slow durable
	// store must never stall the mutation timeline.
	if !inMemory {
		r.rehydrate(ctx, code)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[code]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.Status != StatusWaiting {
		return nil, ErrInvalidState
	}

	now := time.Now()
	p := &Participant{
		ID:       uuid.New().String(),
		Name:     playerName,
		ConnID:   connID,
		JoinedAt: now,
	}
	sess.Players = append(sess.Players, p)
	sess.Status = StatusActive

	r.bindings[connID] = Binding{PlayerID: p.ID, Code: code}
	if r.fanout != nil {
		r.fanout.Join(code, connID)
	}

	r.mirrorParticipant(code, p)
	r.mirrorSession(sess)

	roster := playerInfos(sess.Players)
	r.broadcast(code, protocol.TypePlayerJoined, protocol.PlayerJoinedMsg{
		Success:   true,
		GameCode:  code,
		Player:    playerInfo(p),
		Players:   roster,
		RequestID: requestID,
	}, "", "player_joined")

	r.updateGauges()
	log.Printf("[registry] player joined code=%s name=%q conn=%s players=%d", code, playerName, connID, len(sess.Players))
	return &JoinResult{PlayerID: p.ID, Players: roster}, nil
}

// Start marks the session started and broadcasts gameStarted to the room.
// Returns ErrUnauthorized unless the connection is bound as the host of
// code, ErrNotFound if the session is gone, and ErrInvalidState if the
// session already started (status never regresses, so StartedAt is stamped
// exactly once).
func (r *Registry) Start(connID, code, requestID string) (*StartResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[connID]
	if !ok || !b.IsHost || b.Code != code {
		return nil, ErrUnauthorized
	}

	sess, ok := r.sessions[code]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.Status == StatusStarted {
		return nil, ErrInvalidState
	}

	now := time.Now()
	sess.Status = StatusStarted
	sess.StartedAt = &now

	r.mirrorSession(sess)

	info := gameInfo(sess)
	r.broadcast(code, protocol.TypeGameStarted, protocol.GameStartedMsg{
		Success:   true,
		GameCode:  code,
		Game:      info,
		RequestID: requestID,
	}, "", "game_started")

	log.Printf("[registry] game started code=%s players=%d", code, len(sess.Players))
	return &StartResult{Game: info}, nil
}

// Disconnect removes the participant owned by connID from its session and
// destroys the binding. If the roster empties the session is deleted from
// the registry and the mirror; otherwise playerLeft is broadcast to the
// remaining members. Returns nil if the connection was not bound.
func (r *Registry) Disconnect(connID string) *LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[connID]
	if !ok {
		return nil
	}
	delete(r.bindings, connID)

	sess, ok := r.sessions[b.Code]
	if !ok {
		// Session was already reaped; nothing left to clean up.
		return nil
	}

	for i, p := range sess.Players {
		if p.ConnID == connID {
			sess.Players = append(sess.Players[:i], sess.Players[i+1:]...)
			break
		}
	}
	if r.fanout != nil {
		r.fanout.Leave(b.Code, connID)
	}

	res := &LeaveResult{Code: b.Code, PlayerID: b.PlayerID}
	if len(sess.Players) == 0 {
		delete(r.sessions, b.Code)
		if r.fanout != nil {
			r.fanout.Drop(b.Code)
		}
		if r.mirror != nil {
			r.mirror.DeleteSession(b.Code)
		}
		res.Deleted = true
		log.Printf("[registry] game deleted code=%s (last player left)", b.Code)
	} else {
		res.Remaining = len(sess.Players)
		r.mirrorSession(sess)
		r.broadcast(b.Code, protocol.TypePlayerLeft, protocol.PlayerLeftMsg{
			PlayerID: b.PlayerID,
			Players:  playerInfos(sess.Players),
		}, "", "player_left")
		log.Printf("[registry] player left code=%s player=%s remaining=%d", b.Code, b.PlayerID, len(sess.Players))
	}

	r.updateGauges()
	return res
}

// Relay forwards an already-encoded action frame to every room member except
// the sender. Actions from connections not bound to code are dropped without
// an error: stale and misdirected senders get no feedback. Returns whether
// the action was relayed.
func (r *Registry) Relay(connID, code string, frame []byte) bool {
	start := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[connID]
	if !ok || b.Code != code {
		metrics.ActionsMisrouted.Inc()
		return false
	}

	if r.fanout != nil {
		r.fanout.Broadcast(code, frame, connID)
		metrics.BroadcastsTotal.WithLabelValues("action").Inc()
	}
	metrics.ActionRelayLatency.Observe(time.Since(start).Seconds())
	return true
}

// Eviction names one session removed by a sweep, why, and which connections
// were still bound to it so callers can clear their presence records.
type Eviction struct {
	Code    string
	Reason  string // "started" or "expired"
	ConnIDs []string
}

// EvictStale removes every session whose age exceeds ttl and every session
// that reached the terminal started status, along with their bindings and
// rooms, issuing mirror deletes for each. Started sessions are reclaimed at
// the first sweep after launch regardless of how recently they started.
func (r *Registry) EvictStale(ttl time.Duration) []Eviction {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Eviction
	for code, sess := range r.sessions {
		var reason string
		switch {
		case sess.Status == StatusStarted:
			reason = "started"
		case now.Sub(sess.CreatedAt) > ttl:
			reason = "expired"
		default:
			continue
		}

		delete(r.sessions, code)
		var connIDs []string
		for _, p := range sess.Players {
			if b, ok := r.bindings[p.ConnID]; ok && b.Code == code {
				delete(r.bindings, p.ConnID)
				connIDs = append(connIDs, p.ConnID)
			}
		}
		if r.fanout != nil {
			r.fanout.Drop(code)
		}
		if r.mirror != nil {
			r.mirror.DeleteSession(code)
		}

		metrics.Evictions.WithLabelValues(reason).Inc()
		evicted = append(evicted, Eviction{Code: code, Reason: reason, ConnIDs: connIDs})
		log.Printf("[registry] evicted game code=%s reason=%s age=%s players=%d",
			code, reason, now.Sub(sess.CreatedAt).Round(time.Second), len(sess.Players))
	}

	if len(evicted) > 0 {
		r.updateGauges()
	}
	return evicted
}

// Binding returns the session binding for a connection, if any.
func (r *Registry) Binding(connID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[connID]
	return b, ok
}

// Counts returns the number of registered games and the total player count
// across them, for the health and stats endpoints.
func (r *Registry) Counts() (games, players int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range r.sessions {
		players += len(sess.Players)
	}
	return len(r.sessions), players
}

// rehydrate attempts to reconstruct a session from the durable mirror. It
// takes the lock only for the insert, and an in-memory session created
// concurrently for the same code always wins. Snapshots with terminal status
// or an empty roster are not reconstructible.
func (r *Registry) rehydrate(ctx context.Context, code string) {
	if r.mirror == nil {
		return
	}

	snap, err := r.mirror.Load(ctx, code)
	if err != nil {
		log.Printf("[registry] rehydrate load failed code=%s: %v", code, err)
		return
	}
	if snap == nil || snap.Status == StatusStarted || len(snap.Players) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[code]; exists {
		return
	}
	r.sessions[code] = sessionFromSnapshot(snap)

	metrics.Rehydrations.Inc()
	r.updateGauges()
	log.Printf("[registry] rehydrated game code=%s status=%s players=%d", code, snap.Status, len(snap.Players))
}

// broadcast encodes a server message and fans it out to the room. Called
// with the registry mutex held so deliveries follow commit order.
func (r *Registry) broadcast(code, msgType string, payload interface{}, exceptConnID, event string) {
	if r.fanout == nil {
		return
	}
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[registry] build %s broadcast failed code=%s: %v", msgType, code, err)
		return
	}
	r.fanout.Broadcast(code, data, exceptConnID)
	metrics.BroadcastsTotal.WithLabelValues(event).Inc()
}

func (r *Registry) mirrorSession(sess *Session) {
	if r.mirror != nil {
		r.mirror.UpsertSession(sess.Snapshot())
	}
}

func (r *Registry) mirrorParticipant(code string, p *Participant) {
	if r.mirror != nil {
		r.mirror.UpsertParticipant(code, PlayerSnapshot{
			ID:       p.ID,
			Name:     p.Name,
			IsHost:   p.IsHost,
			ConnID:   p.ConnID,
			JoinedAt: p.JoinedAt,
		})
	}
}

// updateGauges refreshes the registry gauges. Called with the mutex held.
func (r *Registry) updateGauges() {
	games := len(r.sessions)
	players := 0
	for _, sess := range r.sessions {
		players += len(sess.Players)
	}
	metrics.ActiveGames.Set(float64(games))
	metrics.ActivePlayers.Set(float64(players))
}

func playerInfo(p *Participant) protocol.PlayerInfo {
	return protocol.PlayerInfo{ID: p.ID, Name: p.Name, IsHost: p.IsHost}
}

func playerInfos(players []*Participant) []protocol.PlayerInfo {
	infos := make([]protocol.PlayerInfo, 0, len(players))
	for _, p := range players {
		infos = append(infos, playerInfo(p))
	}
	return infos
}

func gameInfo(s *Session) *protocol.GameInfo {
	info := &protocol.GameInfo{
		GameCode:  s.Code,
		Status:    s.Status,
		Players:   playerInfos(s.Players),
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if s.StartedAt != nil {
		info.StartedAt = s.StartedAt.UTC().Format(time.RFC3339)
	}
	return info
}
