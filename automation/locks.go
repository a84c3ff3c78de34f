package automation

import (
	"fmt"
	"sync"

	"kombat-farm-bot/scheduler"
)

// KeyedMutex hands out one mutex per key and forgets keys nobody holds.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func lockKey(accountID int64, kind scheduler.TaskKind) string {
	return fmt.Sprintf("%d/%s", accountID, kind)
}

// lockAccount takes the lock of every automation kind of accountID, always
// in the same order, and returns the matching unlock. Handlers hold a single
// kind lock, so account-wide writers wait for running handlers to finish.
func (r *Runner) lockAccount(accountID int64) (unlock func()) {
	unlocks := make([]func(), 0, len(scheduler.AccountKinds))
	for _, kind := range scheduler.AccountKinds {
		unlocks = append(unlocks, r.Locks.Lock(lockKey(accountID, kind)))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
