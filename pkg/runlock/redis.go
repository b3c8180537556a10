package runlock

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "fern:runlock:"

var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// RedisLocker is a Locker shared by every instance that points at the same Redis
type RedisLocker struct {
	rdb       redis.UniversalClient
	keyPrefix string
	logger    ectologger.Logger
}

func NewRedisLocker(rdb redis.UniversalClient, keyPrefix string, logger ectologger.Logger) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisLocker{
		rdb:       rdb,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lockKey := l.keyPrefix + key
	token := uuid.New().String()

	ok, err := l.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.logger.WithContext(ctx).Debugf("Acquired lock: %s", lockKey)

	return &redisLock{locker: l, key: lockKey, token: token}, nil
}

type redisLock struct {
	locker *RedisLocker
	key    string
	token  string
}

func (r *redisLock) Key() string {
	return r.key
}

func (r *redisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, r.locker.rdb, []string{r.key}, r.token).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	r.locker.logger.WithContext(ctx).Debugf("Released lock: %s", r.key)
	return nil
}

func (r *redisLock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, r.locker.rdb, []string{r.key}, r.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}
