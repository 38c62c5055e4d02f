package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RoomLocker serialises the write sequences touching one room. The unique
// indexes stay the source of correctness; the lease only narrows the window
// in which two requests race and one of them has to compensate.
type RoomLocker interface {
	Lock(ctx context.Context, roomID uint64) (unlock func(), err error)
}

// NopLocker never blocks. It is used when Redis is not configured.
type NopLocker struct{}

func (NopLocker) Lock(context.Context, uint64) (func(), error) { return func() {}, nil }

// releaseScript deletes the lease only while it still holds our token, so a
// lease that expired and was re-acquired by another request is left alone.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisLocker implements RoomLocker with SET NX PX leases.
type RedisLocker struct {
	rdb     *redis.Client
	log     *zap.Logger
	prefix  string
	ttl     time.Duration
	wait    time.Duration
	metrics *allocationMetrics
}

// NewRedisLocker returns a locker; ttl bounds how long a crashed holder
// blocks the room and wait bounds how long Lock polls before ErrRoomBusy.
func NewRedisLocker(rdb *redis.Client, log *zap.Logger, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait < 0 {
		wait = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{rdb: rdb, log: log, prefix: "dorm:lease:room", ttl: ttl, wait: wait, metrics: Metrics()}
}

func (l *RedisLocker) key(roomID uint64) string {
	return fmt.Sprintf("%s:%d", l.prefix, roomID)
}

// Lock polls until the lease is free, the wait budget is spent or ctx ends.
// A Redis failure degrades to running unlocked and is logged.
func (l *RedisLocker) Lock(ctx context.Context, roomID uint64) (func(), error) {
	key := l.key(roomID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	backoff := 10 * time.Millisecond

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			l.log.Warn("room lease unavailable, continuing without it",
				zap.Uint64("room_id", roomID), zap.Error(err))
			l.metrics.Lease("degraded")
			return func() {}, nil
		}
		if ok {
			l.metrics.Lease("acquired")
			return func() { l.release(key, token) }, nil
		}
		if !time.Now().Before(deadline) {
			l.metrics.Lease("busy")
			return nil, ErrRoomBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}

func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		l.log.Warn("room lease release failed", zap.String("key", key), zap.Error(err))
	}
}
