package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const creditsTTL = 30 * time.Second

// Store wraps the redis client. A nil *Store is valid: no cache, and locks
// are always granted.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.rdb.Close()
}

func chatLockKey(userID uint64) string { return fmt.Sprintf("chat:lock:%d", userID) }
func creditsKey(userID uint64) string  { return fmt.Sprintf("credits:%d", userID) }

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireChatLock takes the per-user chat lock so one user cannot run two
// billed turns at once. ok is false when another request holds it.
func (s *Store) AcquireChatLock(ctx context.Context, userID uint64, ttl time.Duration) (release func(), ok bool, err error) {
	if s == nil {
		return func() {}, true, nil
	}
	token := uuid.NewString()
	key := chatLockKey(userID)
	ok, err = s.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return func() {}, ok, err
	}
	return func() {
		// the request context may already be done
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(cctx, s.rdb, []string{key}, token).Err()
	}, true, nil
}

// CachedCredits returns the cached balance; found is false on a miss.
func (s *Store) CachedCredits(ctx context.Context, userID uint64) (bal decimal.Decimal, found bool, err error) {
	if s == nil {
		return decimal.Zero, false, nil
	}
	v, err := s.rdb.Get(ctx, creditsKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, false, nil
	}
	return d, true, nil
}

func (s *Store) SetCachedCredits(ctx context.Context, userID uint64, bal decimal.Decimal) error {
	if s == nil {
		return nil
	}
	return s.rdb.Set(ctx, creditsKey(userID), bal.String(), creditsTTL).Err()
}

func (s *Store) InvalidateCredits(ctx context.Context, userID uint64) error {
	if s == nil {
		return nil
	}
	return s.rdb.Del(ctx, creditsKey(userID)).Err()
}
