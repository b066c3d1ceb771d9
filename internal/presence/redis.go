package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// typingTTL bounds how long a flag can outlive its writer if every cleanup
// path is missed, e.g. the process holding the connection dies.
const typingTTL = 2 * time.Minute

// RedisTypingStore shares typing flags across server instances through a
// per-room Redis set.
type RedisTypingStore struct {
	rdb *redis.Client
}

func NewRedisTypingStore(rdb *redis.Client) *RedisTypingStore {
	return &RedisTypingStore{rdb: rdb}
}

// NewRedisClient connects and pings a Redis instance from a URL.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return rdb, nil
}

func typingKey(roomKey string) string {
	return "typing:" + roomKey
}

func (s *RedisTypingStore) SetTyping(ctx context.Context, roomKey, userId string, typing bool) error {
	key := typingKey(roomKey)

	if !typing {
		return s.rdb.SRem(ctx, key, userId).Err()
	}

	if err := s.rdb.SAdd(ctx, key, userId).Err(); err != nil {
		return err
	}

	// Refresh expiry on every write so an active room never expires
	// mid-conversation.
	return s.rdb.Expire(ctx, key, typingTTL).Err()
}

func (s *RedisTypingStore) TypingUsers(ctx context.Context, roomKey string) ([]string, error) {
	return s.rdb.SMembers(ctx, typingKey(roomKey)).Result()
}

func (s *RedisTypingStore) ClearRoom(ctx context.Context, roomKey string) error {
	return s.rdb.Del(ctx, typingKey(roomKey)).Err()
}
