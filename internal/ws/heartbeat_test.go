package ws

import (
	"errors"
	"net"
	"testing"
	"time"
)

func TestWritePing_TimesOutOnWedgedConn(t *testing.T) {
	// A pipe with no reader on the far end: the ping write must give up at
	// the deadline instead of blocking.
	stuck, _ := net.Pipe()
	c := &Connection{ID: "conn-1", Conn: stuck, CreatedAt: time.Now()}
	c.Touch()

	done := make(chan error, 1)
	go func() {
		done <- c.WritePing(50 * time.Millisecond)
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected a deadline error from the wedged connection")
		}
		var netErr net.Error
		if !errors.As(err, &netErr) || !netErr.Timeout() {
			t.Fatalf("expected a timeout error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WritePing did not return")
	}
}

func TestWritePing_Succeeds(t *testing.T) {
	client, server := net.Pipe()
	go func() {
		// Keep draining: WriteFrame issues a separate zero-length write for
		// the empty payload, and net.Pipe blocks even zero-length writes
		// until a reader is present.
		buf := make([]byte, 16)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()

	c := &Connection{ID: "conn-1", Conn: server, CreatedAt: time.Now()}
	c.Touch()
	if err := c.WritePing(time.Second); err != nil {
		t.Fatalf("ping on a draining connection should succeed: %v", err)
	}
}
