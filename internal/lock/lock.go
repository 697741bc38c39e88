package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Lock is a best-effort distributed lock on Redis, used to elect one
// instance to run the scheduled expiry sweep. Losing the election is not
// an error; the sweep is idempotent, the lock only avoids redundant
// passes. The value is a per-instance token so an instance can only
// release a lock it still owns.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

func New(client *redis.Client, key string, ttl time.Duration) *Lock {
	return &Lock{
		client: client,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire tries to take the lock. Returns false when another instance
// holds it. The TTL bounds how long a crashed holder blocks the others.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

// Release drops the lock if this instance still holds it. A lock that
// expired and was re-taken by someone else is left alone.
func (l *Lock) Release(ctx context.Context) error {
	val, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val == l.token {
		_, err = l.client.Del(ctx, l.key).Result()
		return err
	}
	return nil
}
