// Package presence keeps per-connection presence records in Redis. The
// records are informational only: they let operators see which connections
// are bound to which games across restarts and back the read-only stats
// surfaces. The in-memory registry remains the source of truth; a Redis
// outage disables presence without affecting game state.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for all presence hashes.
	KeyPrefix = "conn:"

	// TTL is the time-to-live for presence keys. Live connections refresh
	// it on keepalive; records for dead connections age out on their own.
	TTL = 1 * time.Hour
)

// Store manages presence records in Redis. Each record is a hash under
// KeyPrefix+connID with the fields conn_id, game_code, player_id, is_host,
// server, connected_at and last_active.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore connects to Redis and returns a presence store. The serverName
// identifies this server instance in the records.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Track records a newly established connection with a fresh TTL.
func (s *Store) Track(ctx context.Context, connID string) error {
	key := KeyPrefix + connID
	now := time.Now().Unix()

	record := map[string]interface{}{
		"conn_id":      connID,
		"game_code":    "",
		"player_id":    "",
		"is_host":      false,
		"server":       s.serverName,
		"connected_at": now,
		"last_active":  now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, record)
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Bind records the game/participant a connection is routed to and refreshes
// the TTL.
func (s *Store) Bind(ctx context.Context, connID, gameCode, playerID string, isHost bool) error {
	key := KeyPrefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"game_code", gameCode,
		"player_id", playerID,
		"is_host", isHost,
		"last_active", time.Now().Unix(),
	)
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Unbind clears the game binding fields, keeping the connection tracked.
func (s *Store) Unbind(ctx context.Context, connID string) error {
	key := KeyPrefix + connID
	return s.client.HSet(ctx, key,
		"game_code", "",
		"player_id", "",
		"is_host", false,
		"last_active", time.Now().Unix(),
	).Err()
}

// Touch extends a record's TTL, called on client keepalives.
func (s *Store) Touch(ctx context.Context, connID string) error {
	key := KeyPrefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a presence record on disconnect.
func (s *Store) Delete(ctx context.Context, connID string) error {
	key := KeyPrefix + connID
	return s.client.Del(ctx, key).Err()
}

// Count returns the number of presence records, scanning the keyspace in
// batches. It backs the stats endpoint and tolerates approximation.
func (s *Store) Count(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, KeyPrefix+"*", 500).Result()
		if err != nil {
			return 0, fmt.Errorf("presence: scan: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
