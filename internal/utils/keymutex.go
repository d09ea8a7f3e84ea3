package utils

import "sync"

// KeyMutex provides one mutex per key. Used to serialize every
// money-affecting operation for a single marketer across the
// read-balance-then-write sequence.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewKeyMutex() *KeyMutex {
	return &KeyMutex{locks: make(map[int64]*sync.Mutex)}
}

func (k *KeyMutex) Lock(key int64) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
}

func (k *KeyMutex) Unlock(key int64) {
	k.mu.Lock()
	m := k.locks[key]
	k.mu.Unlock()
	if m != nil {
		m.Unlock()
	}
}
