package ws

import (
	"errors"
	"net"
	"sync"
	"time"
)

// Rooms maps each game code to the set of connections subscribed to its
// broadcasts. It is the registry's fanout: the registry calls Join/Leave/
// Broadcast inside its own critical section, so per-room delivery order
// matches mutation commit order. Delivery is at-most-once per currently
// subscribed connection; members joining mid-stream do not receive events
// that preceded their subscription.
//
// Every member write carries writeTimeout, so a member that stops draining
// its socket can stall a broadcast for at most one deadline, never forever.
type Rooms struct {
	mu           sync.RWMutex
	cm           *ConnectionManager
	members      map[string]map[string]struct{} // code -> conn ids
	writeTimeout time.Duration                  // per-member broadcast write deadline
	onStall      func(connID string)            // invoked when a member's write times out
}

// NewRooms creates an empty room table backed by the connection manager.
func NewRooms(cm *ConnectionManager) *Rooms {
	return &Rooms{
		cm:      cm,
		members: make(map[string]map[string]struct{}),
	}
}

// Join subscribes a connection to all future broadcasts for code.
func (r *Rooms) Join(code, connID string) {
	r.mu.Lock()
	room, ok := r.members[code]
	if !ok {
		room = make(map[string]struct{})
		r.members[code] = room
	}
	room[connID] = struct{}{}
	r.mu.Unlock()
}

// Leave removes a connection from a room. Empty rooms are pruned.
func (r *Rooms) Leave(code, connID string) {
	r.mu.Lock()
	if room, ok := r.members[code]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.members, code)
		}
	}
	r.mu.Unlock()
}

// Drop removes a room and all its memberships at once, used when a game is
// deleted or reaped.
func (r *Rooms) Drop(code string) {
	r.mu.Lock()
	delete(r.members, code)
	r.mu.Unlock()
}

// LeaveAll removes a connection from every room it is subscribed to. The
// binding model keeps a connection in at most one room, so this is a
// safety net for cleanup paths that don't know the code.
func (r *Rooms) LeaveAll(connID string) {
	r.mu.Lock()
	for code, room := range r.members {
		if _, ok := room[connID]; ok {
			delete(room, connID)
			if len(room) == 0 {
				delete(r.members, code)
			}
		}
	}
	r.mu.Unlock()
}

// Broadcast sends data to every member of the room except exceptConnID
// (pass "" to include everyone). Each write is bounded by writeTimeout;
// members whose writes time out are reported via onStall so the server can
// drop them. Other write errors are ignored: dead connections are reclaimed
// by the event loop and heartbeat.
func (r *Rooms) Broadcast(code string, data []byte, exceptConnID string) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.members[code]))
	for id := range r.members[code] {
		if id != exceptConnID {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range ids {
		c := r.cm.Get(id)
		if c == nil {
			continue
		}
		err := c.WriteMessageTimeout(data, r.writeTimeout)
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() && r.onStall != nil {
			r.onStall(id)
		}
	}
}

// MemberCount returns the number of connections subscribed to code.
func (r *Rooms) MemberCount(code string) int {
	r.mu.RLock()
	n := len(r.members[code])
	r.mu.RUnlock()
	return n
}
