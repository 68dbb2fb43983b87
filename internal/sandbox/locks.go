package sandbox

import "sync"

// KeyedLock hands out one mutex per key. Used to enforce the
// one-in-flight-exec-per-container rule across both the action
// executor and terminal bridge callers.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedLock creates an empty KeyedLock.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for key, creating it on first use. The mutex
// for a key is stable for the life of the KeyedLock.
func (k *KeyedLock) Get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// Forget drops the mutex for key. Call after the underlying container
// is destroyed so the map does not grow without bound.
func (k *KeyedLock) Forget(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.locks, key)
}
