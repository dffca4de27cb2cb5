// Package locks provides the per-agent advisory lock that enforces
// single-flight event processing across hosts.
package locks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when the lock is already held by another invocation.
var ErrHeld = errors.New("agent lock held")

// AgentLocker acquires per-agent advisory locks. TryAcquire never blocks:
// contention is surfaced immediately so callers can post a re-entry marker.
type AgentLocker interface {
	// TryAcquire returns a release func on success, or ErrHeld.
	TryAcquire(ctx context.Context, agentID string, ttl time.Duration) (func(), error)
}

// RedisLocker implements AgentLocker with SET NX PX tickets. The release is
// token-checked so an expired lock re-acquired by another host is never
// deleted by the original holder.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker creates a locker on the given client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "warden:agent-lock:"}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TryAcquire attempts SET NX PX and returns ErrHeld on contention.
func (l *RedisLocker) TryAcquire(ctx context.Context, agentID string, ttl time.Duration) (func(), error) {
	key := l.prefix + agentID
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}
	release := func() {
		// Best effort; the TTL is the backstop.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, nil
}

// LocalLocker implements AgentLocker in-process, for tests and single-host
// deployments. TTL expiry is honored so a crashed holder cannot wedge an
// agent forever.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	now   func() time.Time
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

// TryAcquire acquires the in-process lock or returns ErrHeld.
func (l *LocalLocker) TryAcquire(_ context.Context, agentID string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if expiry, ok := l.held[agentID]; ok && l.now().Before(expiry) {
		return nil, ErrHeld
	}
	l.held[agentID] = l.now().Add(ttl)
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, agentID)
	}
	return release, nil
}
