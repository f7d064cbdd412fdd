package job

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"incentive-pipeline/pkg/rediskey"
	"incentive-pipeline/services/pipeline"
)

// Locker grants at most one holder per (campaign, kind).
type Locker interface {
	// Acquire returns a release func when the lock was free. onLost, when
	// set, is called if the lock disappears before release.
	Acquire(ctx context.Context, campaignID string, kind LockKind, onLost func()) (release func(), ok bool, err error)
}

type lockKey struct {
	campaignID string
	kind       LockKind
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[lockKey]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[lockKey]struct{})}
}

// Acquire never reports a lost lock; onLost is ignored.
func (l *MemoryLocker) Acquire(_ context.Context, campaignID string, kind LockKind, _ func()) (func(), bool, error) {
	k := lockKey{campaignID: campaignID, kind: kind}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[k]; busy {
		return nil, false, nil
	}
	l.held[k] = struct{}{}

	return func() {
		l.mu.Lock()
		delete(l.held, k)
		l.mu.Unlock()
	}, true, nil
}

// RedisClient is the subset of *redis.Client used by RedisLocker.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

const (
	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`
	extendScript  = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) else return 0 end`
)

// RedisLocker shares locks across instances. Each lock carries a random
// token so only its owner can release or extend it, and a TTL so a crashed
// owner cannot hold it forever. A keepalive extends the TTL while held and
// calls onLost once the key no longer carries the token.
type RedisLocker struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedisLocker(client RedisClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, campaignID string, kind LockKind, onLost func()) (func(), bool, error) {
	key := rediskey.BuildLockKey(string(kind), campaignID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, pipeline.Persistence("failed to acquire lock", err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	go l.keepalive(key, token, stop, onLost)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
				zap.L().Warn("failed to release lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, true, nil
}

func (l *RedisLocker) keepalive(key, token string, stop <-chan struct{}, onLost func()) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := l.client.Eval(ctx, extendScript, []string{key}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				zap.L().Warn("failed to extend lock", zap.String("key", key), zap.Error(err))
				continue
			}
			if n == 0 {
				zap.L().Error("lock lost", zap.String("key", key))
				if onLost != nil {
					onLost()
				}
				return
			}
		}
	}
}
