package sweeplock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a best-effort SetNX lock taken per sweep cycle so that
// multiple engine instances do not scan the same due set at once.
// Correctness does not depend on it: each schedule/batch is still
// claimed with a conditional status update before side effects run.
type Lock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLock(rdb *redis.Client, ttl time.Duration) *Lock {
	return &Lock{rdb: rdb, ttl: ttl}
}

// Acquire tries to take the named sweep lock.
// Returns true if this instance holds the lock for the cycle.
func (l *Lock) Acquire(ctx context.Context, name string, cycle time.Time) bool {
	key := fmt.Sprintf("sweep:%s:%d", name, cycle.Unix()/int64(l.ttl.Seconds()))

	ok, err := l.rdb.SetNX(ctx, key, 1, l.ttl).Result()
	if err != nil {
		// If redis is down, do not block sweeping; the SQL claim
		// still prevents double processing.
		return true
	}
	return ok
}

// Release drops the named lock early so the next cycle can start sooner.
func (l *Lock) Release(ctx context.Context, name string, cycle time.Time) {
	key := fmt.Sprintf("sweep:%s:%d", name, cycle.Unix()/int64(l.ttl.Seconds()))
	l.rdb.Del(ctx, key)
}
