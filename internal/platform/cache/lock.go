package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another owner holds the lock.
var ErrLockHeld = errors.New("platform/cache: lock held by another owner")

// unlockScript deletes the key only while it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out expiring locks stored in Redis.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

// NewLocker returns a Locker whose keys are namespaced by prefix.
func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Lock is a held lock.
type Lock struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Acquire takes the lock named name for at most ttl. It returns ErrLockHeld
// when the lock is taken.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	key := l.prefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("platform/cache: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{client: l.client, key: key, token: token}, nil
}

// Release frees the lock if it is still ours. Releasing an expired lock is
// not an error.
func (lk *Lock) Release(ctx context.Context) error {
	if lk == nil {
		return nil
	}
	if err := unlockScript.Run(ctx, lk.client, []string{lk.key}, lk.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("platform/cache: release %s: %w", lk.key, err)
	}
	return nil
}
