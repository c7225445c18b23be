package redisad

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"ota_sync/internal/domain"
)

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a KeyLocker shared by every API replica. The lease TTL bounds
// how long a crashed holder can block a key.
type Locker struct {
	c      *redis.Client
	prefix string
	lease  time.Duration
	poll   time.Duration
}

func NewLocker(c *redis.Client, lease time.Duration) *Locker {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &Locker{c: c, prefix: "lock:", lease: lease, poll: 25 * time.Millisecond}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.NewString()

	t := time.NewTicker(l.poll)
	defer t.Stop()
	for {
		ok, err := l.c.SetNX(ctx, k, token, l.lease).Result()
		if err == nil && ok {
			return func() {
				// release must run even if the request context is gone
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := releaseScript.Run(rctx, l.c, []string{k}, token).Err(); err != nil {
					log.Warn().Err(err).Str("key", k).Msg("lock release failed")
				}
			}, nil
		}
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("key", k).Msg("lock acquire failed; retrying")
		}
		select {
		case <-ctx.Done():
			return nil, &domain.ConcurrencyConflict{Key: key}
		case <-t.C:
		}
	}
}

var _ domain.KeyLocker = (*Locker)(nil)
