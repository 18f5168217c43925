package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "flagplane:auth:session:"

// SessionStore keeps the single live refresh token of each user.
type SessionStore interface {
	Put(ctx context.Context, userID, refreshToken string, ttl time.Duration) error
	// Get returns ErrNotFound once the session expired or was dropped.
	Get(ctx context.Context, userID string) (string, error)
	Delete(ctx context.Context, userID string) error
}

type RedisSessionStore struct {
	rdb *redis.Client
}

func NewRedisSessionStore(rdb *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb}
}

func (s *RedisSessionStore) Put(ctx context.Context, userID, refreshToken string, ttl time.Duration) error {
	return s.rdb.Set(ctx, sessionKeyPrefix+userID, refreshToken, ttl).Err()
}

func (s *RedisSessionStore) Get(ctx context.Context, userID string) (string, error) {
	token, err := s.rdb.Get(ctx, sessionKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return token, err
}

func (s *RedisSessionStore) Delete(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, sessionKeyPrefix+userID).Err()
}
