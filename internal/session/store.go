package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "tripchat:session:"

	// SessionTTL is the time-to-live for session keys in Redis.
	SessionTTL = 1 * time.Hour
)

// Store mirrors session state into Redis hashes keyed by SessionPrefix plus
// the session id, with fields id, user_id, status, rooms (comma separated),
// server, connected_at and last_active. It implements Mirror.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this relay instance
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}
	return client, nil
}

// NewStore creates a session store on an existing Redis client.
func NewStore(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Put writes the session snapshot and refreshes its TTL.
func (s *Store) Put(ctx context.Context, info Info) error {
	key := SessionPrefix + info.ID

	fields := map[string]interface{}{
		"id":           info.ID,
		"user_id":      info.UserID,
		"status":       string(info.State),
		"rooms":        strings.Join(info.Rooms, ","),
		"server":       s.serverName,
		"connected_at": info.ConnectedAt.Unix(),
		"last_active":  time.Now().Unix(),
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: put %s: %w", info.ID, err)
	}
	return nil
}

// Delete removes a session from Redis.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, SessionPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("session: delete %s: %w", sessionID, err)
	}
	return nil
}
