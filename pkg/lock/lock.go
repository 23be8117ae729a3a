// Package lock implements a lease-based mutual exclusion primitive on Redis.
// A lease is taken with SET NX PX and carries an owner token; release and
// extend verify the token so an expired holder cannot stomp a newer one.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNotAcquired = errors.New("lock: lease not acquired")
	ErrNotHeld     = errors.New("lock: lease not held by this owner")
)

// Compare-and-delete / compare-and-expire as server-side scripts so a stale
// owner can never release or extend someone else's lease.
var (
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
	extendScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

// Locker hands out leases backed by a shared Redis instance.
type Locker struct {
	client *redis.Client
	prefix string
}

func NewLocker(client *redis.Client, prefix string) *Locker {
	if prefix == "" {
		prefix = "lease"
	}
	return &Locker{client: client, prefix: prefix}
}

// Lease is one held lock. Zero value is not usable; obtain via Acquire.
type Lease struct {
	locker *Locker
	key    string
	token  string
	ttl    time.Duration
}

// Acquire takes the lease or returns ErrNotAcquired if another owner holds it.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	key := l.prefix + ":" + name
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return &Lease{locker: l, key: key, token: token, ttl: ttl}, nil
}

// Extend pushes the lease expiry out by its original TTL.
func (le *Lease) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, le.locker.client, []string{le.key}, le.token, le.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Release gives the lease up. Releasing an already-expired lease returns
// ErrNotHeld, which callers generally log and move on from.
func (le *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, le.locker.client, []string{le.key}, le.token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Key returns the full Redis key of the lease.
func (le *Lease) Key() string {
	return le.key
}
