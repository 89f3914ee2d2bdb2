package ws

import (
	"log"
	"time"

	"github.com/gobwas/ws"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // time between sweeps
	Timeout  time.Duration // extra grace beyond Interval before a connection is declared dead
}

// DefaultHeartbeatConfig returns the standard heartbeat tuning: ping every
// 30s, declare a connection dead 10s after that.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat launches the background sweep loop. Each sweep pings every
// connection and evicts the ones with no activity inside the Interval +
// Timeout window. The goroutine exits when the server's done channel closes.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				checkConnections(server, config)
			}
		}
	}()
}

// checkConnections runs one sweep. A connection whose last observed activity
// is older than Interval + Timeout is removed; everyone else gets a
// protocol-level ping frame, which clients answer automatically with a pong.
// Ping writes are bounded by Timeout so one wedged socket cannot hold up the
// rest of the sweep.
func checkConnections(server *Server, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, c := range server.Connections().All() {
		idle := now.Sub(c.LastActive())
		if idle > deadline {
			log.Printf("ws: heartbeat timeout conn=%s idle=%s", c.ID, idle.Round(time.Second))
			server.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(config.Timeout); err != nil {
			log.Printf("ws: heartbeat ping failed conn=%s: %v", c.ID, err)
			server.RemoveConnection(c)
		}
	}
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9),
// failing the write if it cannot complete within timeout (zero disables the
// deadline). The write mutex keeps it from interleaving with data frames.
func (c *Connection) WritePing(timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}
