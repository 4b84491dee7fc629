package ledger

import (
	"sync"

	k8stypes "k8s.io/apimachinery/pkg/types"
)

// keyLock hands out one mutex per UID. Mutexes are reference counted and
// released once no goroutine holds or waits on them.
type keyLock struct {
	mu    sync.Mutex
	locks map[k8stypes.UID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[k8stypes.UID]*refMutex)}
}

// Lock blocks until the caller holds the mutex for uid and returns the unlock func.
func (k *keyLock) Lock(uid k8stypes.UID) func() {
	k.mu.Lock()
	m, ok := k.locks[uid]
	if !ok {
		m = &refMutex{}
		k.locks[uid] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, uid)
		}
		k.mu.Unlock()
	}
}

func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
