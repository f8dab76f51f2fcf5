package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/triadarena/backend/internal/game"
)

// RedisSnapshots keeps a hot JSON copy of every live match so another
// instance, or this one after a restart, can resume without the database.
type RedisSnapshots struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisSnapshots creates a snapshot cache with the given expiry
func NewRedisSnapshots(rdb *redis.Client, ttl time.Duration) *RedisSnapshots {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisSnapshots{rdb: rdb, ttl: ttl}
}

func snapshotKey(id string) string {
	return "match:" + id + ":state"
}

// SaveSnapshot writes the session with the configured TTL
func (r *RedisSnapshots) SaveSnapshot(ctx context.Context, s *game.MatchSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return r.rdb.SetEx(ctx, snapshotKey(s.ID), data, r.ttl).Err()
}

// LoadSnapshot returns game.ErrNotFound when no snapshot exists
func (r *RedisSnapshots) LoadSnapshot(ctx context.Context, id string) (*game.MatchSession, error) {
	data, err := r.rdb.Get(ctx, snapshotKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var s game.MatchSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Board == nil {
		s.Board = game.NewBoard()
	}
	return &s, nil
}

// DeleteSnapshot removes the snapshot of a match
func (r *RedisSnapshots) DeleteSnapshot(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, snapshotKey(id)).Err()
}
