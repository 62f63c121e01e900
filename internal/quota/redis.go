package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// recordScript increments the usage counter and starts the window on the first unit,
// so the increment and its expiry are applied atomically.
var recordScript = goredis.NewScript(`
local used = redis.call("INCRBY", KEYS[1], ARGV[1])
if tonumber(ARGV[2]) > 0 and redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return used
`)

// RedisLedger keeps usage counters at quota:<len(scope)>:<scope>:<principal>, shared by every process using the same Redis.
type RedisLedger struct {
	client     goredis.UniversalClient
	allowances Allowances
	window     time.Duration
}

// NewRedisLedger returns a RedisLedger over client. window <= 0 means counters never expire.
func NewRedisLedger(client goredis.UniversalClient, allowances Allowances, window time.Duration) *RedisLedger {
	return &RedisLedger{client: client, allowances: allowances, window: window}
}

// HasExceeded reports whether principal's usage in scope has reached the scope allowance.
func (l *RedisLedger) HasExceeded(ctx context.Context, principal, scope string) (bool, error) {
	limit := l.allowances.For(scope)
	if limit <= 0 {
		return false, nil
	}
	used, err := l.client.Get(ctx, usageKey(scope, principal)).Int64()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read usage: %w", err)
	}
	return used >= limit, nil
}

// Record adds units to principal's usage in scope.
func (l *RedisLedger) Record(ctx context.Context, principal, scope string, units int64) error {
	keys := []string{usageKey(scope, principal)}
	if err := recordScript.Run(ctx, l.client, keys, units, l.window.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}
