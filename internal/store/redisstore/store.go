package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store guards the inbound side against duplicate deliveries: the
// transport may redeliver an update after a timeout, and a replayed update
// must not be classified twice.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: 24 * time.Hour,
	}
}

// MarkUpdateSeen records the update id and reports whether this is the
// first sighting. SetNX makes the check-and-mark a single round trip.
func (s *Store) MarkUpdateSeen(ctx context.Context, updateID int64) (bool, error) {
	key := fmt.Sprintf("orderdesk:update:%d", updateID)
	return s.rdb.SetNX(ctx, key, 1, s.ttl).Result()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
