package game

import (
	"testing"
	"time"
)

func TestReaper_SweepInvokesOnEvict(t *testing.T) {
	r, _, _ := newTestRegistry()

	created, _ := r.Create("conn-1", "Rick")
	r.mu.Lock()
	r.sessions[created.Code].CreatedAt = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	rp := NewReaper(r, time.Minute, 30*time.Minute)
	var evicted []Eviction
	rp.SetOnEvict(func(ev Eviction) {
		evicted = append(evicted, ev)
	})

	rp.sweep()

	if len(evicted) != 1 || evicted[0].Code != created.Code {
		t.Fatalf("expected eviction callback for %s, got %v", created.Code, evicted)
	}
	if evicted[0].Reason != "expired" {
		t.Errorf("expected reason expired, got %q", evicted[0].Reason)
	}
	if len(evicted[0].ConnIDs) != 1 || evicted[0].ConnIDs[0] != "conn-1" {
		t.Errorf("expected the host's connection in the eviction, got %v", evicted[0].ConnIDs)
	}
	if games, _ := r.Counts(); games != 0 {
		t.Errorf("expected empty registry after sweep, got %d games", games)
	}
}

func TestReaper_StopWithoutStart(t *testing.T) {
	rp := NewReaper(NewRegistry(nil, nil), time.Minute, time.Hour)
	// Must not panic or block.
	rp.Stop()
}

func TestReaper_StartStop(t *testing.T) {
	rp := NewReaper(NewRegistry(nil, nil), 10*time.Millisecond, time.Hour)
	rp.Start()
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		rp.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
