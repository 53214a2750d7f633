// Package lock serializes work on a single photo across goroutines and
// worker processes.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another holder owns the key.
var ErrLocked = errors.New("lock held elsewhere")

// Locker hands out exclusive, non-blocking leases on a key.
type Locker interface {
	// Acquire returns ErrLocked immediately when the key is held. The
	// returned release func is safe to call once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func() error, err error)
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lease cannot remove a newer holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker constructs a RedisLocker. Keys are namespaced under prefix.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func() error, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	k := l.prefix + key
	ok, err := l.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", k, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	release := func() error {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{k}, token).Err(); err != nil {
			return fmt.Errorf("release %s: %w", k, err)
		}
		return nil
	}
	return release, nil
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// KeyedMutex implements Locker inside one process. The ttl is ignored; a
// lease lasts until released.
type KeyedMutex struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeyedMutex constructs an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{held: make(map[string]struct{})}
}

func (m *KeyedMutex) Acquire(_ context.Context, key string, _ time.Duration) (func() error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, ErrLocked
	}
	m.held[key] = struct{}{}
	var once sync.Once
	return func() error {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
		return nil
	}, nil
}
