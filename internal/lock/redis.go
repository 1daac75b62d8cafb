package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultTTL        = 30 * time.Second
	defaultRetryDelay = 50 * time.Millisecond
	keyPrefix         = "mortgage-advisor:conversation-lock:"
)

// releaseScript deletes the key only when it still holds our token, so an
// expired lock taken over by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a Locker shared by every server instance pointing at the same Redis.
// The TTL bounds how long a crashed holder can block a conversation; a live
// holder keeps extending it every renewEvery until it releases.
type Redis struct {
	client     redis.UniversalClient
	ttl        time.Duration
	renewEvery time.Duration
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewRedis(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, ttl: ttl, renewEvery: ttl / 3, retryDelay: defaultRetryDelay, logger: logger}
}

func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	if r.client == nil {
		return nil, errors.New("lock: redis client is nil")
	}

	redisKey := keyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.retryDelay)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stopRenew := make(chan struct{})
	renewDone := make(chan struct{})
	go r.renew(redisKey, token, stopRenew, renewDone)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopRenew)
			<-renewDone

			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
				r.logger.Warn("release conversation lock", zap.String("conversation_id", key), zap.Error(err))
			}
		})
	}, nil
}

// renew extends the lock until stop is closed or the lock is found lost.
func (r *Redis) renew(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.renewEvery)
		extended, err := extendScript.Run(ctx, r.client, []string{redisKey}, token, r.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			r.logger.Warn("extend conversation lock", zap.String("key", redisKey), zap.Error(err))
			continue
		}
		if extended == 0 {
			r.logger.Error("conversation lock lost while held", zap.String("key", redisKey))
			return
		}
	}
}
