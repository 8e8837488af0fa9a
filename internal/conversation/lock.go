// ABOUTME: Per-session serialization: a ref-counted keyed mutex plus an optional distributed lease.
// ABOUTME: Queries on one session run one at a time; different sessions never contend.

package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/cappelaere/wai/internal/session"
)

// DefaultLockTTL bounds how long a distributed session lease is held.
const DefaultLockTTL = 5 * time.Minute

// Locker grants exclusive leases across processes. session.RedisLocker
// satisfies it.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (session.UnlockFunc, error)
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// keyedMutex hands out one lock per key and forgets the key once nobody
// holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done.
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				k.release(key, l)
			})
		}, nil
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}
}

func (k *keyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Len reports how many keys are held or awaited.
func (k *keyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
