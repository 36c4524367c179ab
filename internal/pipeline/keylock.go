package pipeline

import "sync"

// keyLock hands out one mutex per (user, skill) key so updates to the same
// pair are applied as a strict sequence while different pairs proceed in
// parallel. Locks are created on first use and kept for the process lifetime;
// the key space (active learner-skill pairs) is small enough that eviction
// is not worth the complexity.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *keyLock) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
