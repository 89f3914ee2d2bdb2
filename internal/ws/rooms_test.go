package ws

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"
)

// captureConn is a net.Conn stub that records everything written to it.
type captureConn struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *captureConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *captureConn) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

func (c *captureConn) Read(p []byte) (int, error)         { return 0, nil }
func (c *captureConn) Close() error                       { return nil }
func (c *captureConn) LocalAddr() net.Addr                { return nil }
func (c *captureConn) RemoteAddr() net.Addr               { return nil }
func (c *captureConn) SetDeadline(t time.Time) error      { return nil }
func (c *captureConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *captureConn) SetWriteDeadline(t time.Time) error { return nil }

func addConn(cm *ConnectionManager, id string, fd int) *captureConn {
	cc := &captureConn{}
	c := &Connection{ID: id, Conn: cc, Fd: fd, CreatedAt: time.Now()}
	c.Touch()
	cm.Add(c)
	return cc
}

func TestRooms_JoinLeave(t *testing.T) {
	rooms := NewRooms(NewConnectionManager())

	rooms.Join("AB12CD", "conn-1")
	rooms.Join("AB12CD", "conn-2")
	if n := rooms.MemberCount("AB12CD"); n != 2 {
		t.Fatalf("expected 2 members, got %d", n)
	}

	rooms.Leave("AB12CD", "conn-1")
	if n := rooms.MemberCount("AB12CD"); n != 1 {
		t.Fatalf("expected 1 member, got %d", n)
	}

	// Last leave prunes the room entirely.
	rooms.Leave("AB12CD", "conn-2")
	if n := rooms.MemberCount("AB12CD"); n != 0 {
		t.Fatalf("expected empty room, got %d", n)
	}
}

func TestRooms_BroadcastExceptSender(t *testing.T) {
	cm := NewConnectionManager()
	rooms := NewRooms(cm)

	c1 := addConn(cm, "conn-1", 101)
	c2 := addConn(cm, "conn-2", 102)
	c3 := addConn(cm, "conn-3", 103)

	rooms.Join("AB12CD", "conn-1")
	rooms.Join("AB12CD", "conn-2")
	// conn-3 is connected but not in the room.

	payload := []byte(`{"type":"gameAction","action":"move"}`)
	rooms.Broadcast("AB12CD", payload, "conn-1")

	if len(c1.Bytes()) != 0 {
		t.Error("sender must not receive its own broadcast")
	}
	if !bytes.Contains(c2.Bytes(), payload) {
		t.Error("room member should receive the frame payload")
	}
	if len(c3.Bytes()) != 0 {
		t.Error("non-member must not receive broadcasts")
	}
}

func TestRooms_BroadcastToAll(t *testing.T) {
	cm := NewConnectionManager()
	rooms := NewRooms(cm)

	c1 := addConn(cm, "conn-1", 101)
	c2 := addConn(cm, "conn-2", 102)

	rooms.Join("AB12CD", "conn-1")
	rooms.Join("AB12CD", "conn-2")

	payload := []byte(`{"type":"playerJoined"}`)
	rooms.Broadcast("AB12CD", payload, "")

	if !bytes.Contains(c1.Bytes(), payload) || !bytes.Contains(c2.Bytes(), payload) {
		t.Error("empty except should deliver to every member")
	}
}

func TestRooms_BroadcastStalledMemberTimesOut(t *testing.T) {
	cm := NewConnectionManager()
	rooms := NewRooms(cm)
	rooms.writeTimeout = 50 * time.Millisecond

	var stallMu sync.Mutex
	var stalled []string
	rooms.onStall = func(connID string) {
		stallMu.Lock()
		stalled = append(stalled, connID)
		stallMu.Unlock()
	}

	// A pipe with no reader on the far end: writes block until the deadline.
	stuck, _ := net.Pipe()
	sc := &Connection{ID: "conn-stuck", Conn: stuck, Fd: 101, CreatedAt: time.Now()}
	sc.Touch()
	cm.Add(sc)
	healthy := addConn(cm, "conn-ok", 102)

	rooms.Join("AB12CD", "conn-stuck")
	rooms.Join("AB12CD", "conn-ok")

	payload := []byte(`{"type":"playerJoined"}`)
	done := make(chan struct{})
	go func() {
		rooms.Broadcast("AB12CD", payload, "")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast did not return; a wedged member must not hold the room")
	}

	if !bytes.Contains(healthy.Bytes(), payload) {
		t.Error("healthy member should still receive the frame payload")
	}
	stallMu.Lock()
	defer stallMu.Unlock()
	if len(stalled) != 1 || stalled[0] != "conn-stuck" {
		t.Errorf("expected stall callback for conn-stuck, got %v", stalled)
	}
}

func TestRooms_Drop(t *testing.T) {
	rooms := NewRooms(NewConnectionManager())

	rooms.Join("AB12CD", "conn-1")
	rooms.Join("AB12CD", "conn-2")
	rooms.Drop("AB12CD")

	if n := rooms.MemberCount("AB12CD"); n != 0 {
		t.Fatalf("dropped room should be empty, got %d members", n)
	}
}

func TestRooms_LeaveAll(t *testing.T) {
	rooms := NewRooms(NewConnectionManager())

	rooms.Join("AB12CD", "conn-1")
	rooms.Join("XY99ZZ", "conn-1")
	rooms.Join("XY99ZZ", "conn-2")

	rooms.LeaveAll("conn-1")

	if n := rooms.MemberCount("AB12CD"); n != 0 {
		t.Errorf("expected conn-1 gone from AB12CD, got %d members", n)
	}
	if n := rooms.MemberCount("XY99ZZ"); n != 1 {
		t.Errorf("expected only conn-2 in XY99ZZ, got %d members", n)
	}
}

func TestConnection_ActivityConcurrentAccess(t *testing.T) {
	c := &Connection{ID: "conn-1", Conn: &captureConn{}, CreatedAt: time.Now()}
	c.Touch()

	// Writers (pong handling) and readers (heartbeat sweep) race on the
	// activity timestamp in production.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Touch()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.LastActive()
			}
		}()
	}
	wg.Wait()

	if c.LastActive().IsZero() {
		t.Error("activity time should be set after Touch")
	}
}

func TestConnectionManager_AddRemove(t *testing.T) {
	cm := NewConnectionManager()

	addConn(cm, "conn-1", 101)
	addConn(cm, "conn-2", 102)
	if cm.Count() != 2 {
		t.Fatalf("expected 2 connections, got %d", cm.Count())
	}

	if c := cm.Get("conn-1"); c == nil || c.Fd != 101 {
		t.Errorf("Get by ID failed: %+v", c)
	}
	if c := cm.GetByFd(102); c == nil || c.ID != "conn-2" {
		t.Errorf("Get by fd failed: %+v", c)
	}

	if !cm.Remove("conn-1") {
		t.Error("first remove should report found")
	}
	if cm.Remove("conn-1") {
		t.Error("second remove should report already gone")
	}
	if cm.Count() != 1 {
		t.Errorf("expected 1 connection, got %d", cm.Count())
	}
	if cm.GetByFd(101) != nil {
		t.Error("fd mapping should be cleared on remove")
	}
}
