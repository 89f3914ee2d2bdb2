package game

import (
	"context"
	"time"
)

// Session status values. Status only ever moves forward:
// waiting -> active -> started.
const (
	StatusWaiting = "waiting"
	StatusActive  = "active"
	StatusStarted = "started"
)

// Participant is one player bound to a session. The host participant is
// created with the session and its role never changes.
type Participant struct {
	ID       string    // server-assigned, unique within the session
	Name     string    // caller-supplied display name
	IsHost   bool
	ConnID   string    // owning connection, unique within the roster
	JoinedAt time.Time
}

// Session is one forming or in-progress match. Players are kept in join
// order with the host first. A session with an empty roster is deleted from
// the registry, never stored empty.
type Session struct {
	Code       string
	HostConnID string
	Players    []*Participant
	Status     string
	CreatedAt  time.Time
	StartedAt  *time.Time
}

// Host returns the host participant. Every session has exactly one.
func (s *Session) Host() *Participant {
	for _, p := range s.Players {
		if p.IsHost {
			return p
		}
	}
	return nil
}

// FindByConn returns the participant owned by the given connection, or nil.
func (s *Session) FindByConn(connID string) *Participant {
	for _, p := range s.Players {
		if p.ConnID == connID {
			return p
		}
	}
	return nil
}

// Binding is a ConnectionRouter entry: the session/participant a live
// connection is bound to. A connection is bound to at most one session.
type Binding struct {
	PlayerID string
	Code     string
	IsHost   bool
}

// SnapshotVersion is the current durable snapshot schema version.
const SnapshotVersion = 1

// PlayerSnapshot is the durable form of a participant. ConnID identifies the
// connection that owned the participant in the process that wrote the
// snapshot; after a restart it is not routable until the player reconnects.
type PlayerSnapshot struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	IsHost   bool      `json:"isHost"`
	ConnID   string    `json:"connectionId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Snapshot is the versioned durable form of a full session, written to the
// mirror on every mutation and used to rehydrate a session after a restart.
type Snapshot struct {
	Version   int              `json:"version"`
	Code      string           `json:"code"`
	Status    string           `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
	StartedAt *time.Time       `json:"startedAt,omitempty"`
	Players   []PlayerSnapshot `json:"players"`
}

// Snapshot converts the session to its durable form.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Version:   SnapshotVersion,
		Code:      s.Code,
		Status:    s.Status,
		CreatedAt: s.CreatedAt,
		StartedAt: s.StartedAt,
		Players:   make([]PlayerSnapshot, 0, len(s.Players)),
	}
	for _, p := range s.Players {
		snap.Players = append(snap.Players, PlayerSnapshot{
			ID:       p.ID,
			Name:     p.Name,
			IsHost:   p.IsHost,
			ConnID:   p.ConnID,
			JoinedAt: p.JoinedAt,
		})
	}
	return snap
}

// sessionFromSnapshot rebuilds an in-memory session from a durable snapshot.
// Roster order and status are preserved exactly as persisted.
func sessionFromSnapshot(snap *Snapshot) *Session {
	sess := &Session{
		Code:      snap.Code,
		Status:    snap.Status,
		CreatedAt: snap.CreatedAt,
		StartedAt: snap.StartedAt,
		Players:   make([]*Participant, 0, len(snap.Players)),
	}
	for i := range snap.Players {
		ps := snap.Players[i]
		p := &Participant{
			ID:       ps.ID,
			Name:     ps.Name,
			IsHost:   ps.IsHost,
			ConnID:   ps.ConnID,
			JoinedAt: ps.JoinedAt,
		}
		sess.Players = append(sess.Players, p)
		if ps.IsHost {
			sess.HostConnID = ps.ConnID
		}
	}
	return sess
}

// Mirror is the best-effort durable store the registry writes through to.
// Upsert and delete calls are fire-and-forget: implementations must never
// block the caller on store latency or surface store failures. Load is the
// synchronous read-through used only for rehydration.
type Mirror interface {
	UpsertSession(snap Snapshot)
	UpsertParticipant(code string, p PlayerSnapshot)
	DeleteSession(code string)
	Load(ctx context.Context, code string) (*Snapshot, error)
}

// Fanout delivers broadcasts to all connections subscribed to a game code.
// The registry calls it inside its critical section, so deliveries for a
// given code happen in mutation commit order.
type Fanout interface {
	Join(code, connID string)
	Leave(code, connID string)
	Drop(code string)
	Broadcast(code string, data []byte, exceptConnID string)
}
