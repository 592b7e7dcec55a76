// Package lease provides a Redis backed mutual exclusion lease, so only one
// replica runs a scan cycle at a time.
package lease

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const DEFAULT_KEY = "deadman:scanner:lease"

// Deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLease struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

// New returns a lease on 'key' owned by a random token. 'ttl' bounds how
// long a crashed holder keeps others out.
func New(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	if key == "" {
		key = DEFAULT_KEY
	}

	return &RedisLease{
		client: client,
		key:    key,
		owner:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Acquire takes the lease if it is free. Holding it already counts as
// acquired and extends the ttl.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis SETNX")
	}
	if acquired {
		return true, nil
	}

	holder, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "redis GET")
	}

	if holder != l.owner {
		return false, nil
	}
	return true, l.client.PExpire(ctx, l.key, l.ttl).Err()
}

// Release frees the lease if this owner still holds it.
func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return errors.Wrap(err, "release lease")
	}
	return nil
}

func (l *RedisLease) Owner() string {
	return l.owner
}
