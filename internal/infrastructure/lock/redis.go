package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============================================================================
// Redis lock
// ============================================================================
//
// Acquire: SET key token NX PX ttl. The token identifies the holder.
// Release: a Lua script deletes the key only if it still holds our token, so
// a holder whose lease expired cannot delete the lock of the next holder.
//
// The TTL bounds how long a crashed process can block a key. It must be
// longer than the slowest ledger unit of work.
// ============================================================================

const (
	DefaultRedisPrefix = "ledger:lock:"

	maxRedisRetryDelay = 100 * time.Millisecond
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisLocker is a Locker shared by every process talking to the same Redis.
type RedisLocker struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	timeout   time.Duration
	baseDelay time.Duration
	log       *zap.Logger
}

type RedisOption func(*RedisLocker)

// WithPrefix namespaces the lock keys, e.g. per environment sharing one
// Redis. An empty prefix keeps the default.
func WithPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

func WithRetryDelay(d time.Duration) RedisOption {
	return func(l *RedisLocker) { l.baseDelay = d }
}

func WithLogger(log *zap.Logger) RedisOption {
	return func(l *RedisLocker) { l.log = log }
}

func NewRedisLocker(client *redis.Client, ttl, timeout time.Duration, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client:    client,
		prefix:    DefaultRedisPrefix,
		ttl:       ttl,
		timeout:   timeout,
		baseDelay: 5 * time.Millisecond,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire makes a single non-blocking attempt.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (Release, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, l.ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return l.releaser(key, token), true, nil
}

var errLockBusy = errors.New("lock busy")

// Acquire retries TryAcquire with exponential backoff until the lock is
// taken, the timeout passes or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	if l.timeout <= 0 {
		release, ok, err := l.TryAcquire(ctx, key)
		if err == nil && !ok {
			err = ErrLockTimeout
		}
		return release, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.baseDelay
	b.MaxInterval = maxRedisRetryDelay
	b.MaxElapsedTime = l.timeout

	var release Release
	err := backoff.Retry(func() error {
		r, ok, err := l.TryAcquire(ctx, key)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLockBusy
		}
		release = r
		return nil
	}, backoff.WithContext(b, ctx))
	if errors.Is(err, errLockBusy) {
		return nil, ErrLockTimeout
	}
	if err != nil {
		return nil, err
	}
	return release, nil
}

func (l *RedisLocker) releaser(key, token string) Release {
	var once sync.Once
	return func() {
		once.Do(func() { l.unlock(key, token) })
	}
}

func (l *RedisLocker) unlock(key, token string) {
	// the caller's context may already be cancelled; unlock regardless
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := unlockScript.Run(ctx, l.client, []string{l.prefix + key}, token).Int()
	if err != nil {
		l.log.Warn("redis unlock failed", zap.String("key", key), zap.Error(err))
		return
	}
	if n == 0 {
		l.log.Warn("redis lock expired before release", zap.String("key", key), zap.Error(ErrNotHeld))
	}
}
