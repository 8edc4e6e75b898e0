package orchestrator

import "sync"

// keyMutex hands out one *sync.Mutex per key, created lazily on first use. each entry
// counts the goroutines holding or waiting for it; the unlock function drops the entry
// from the map as soon as that count reaches zero, after any operation (not only a
// Destroy). a goroutine that arrives while the entry is still held or awaited shares the
// same mutex, so two holders of one key never run at once.
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*refCountedMutex
}

type refCountedMutex struct {
	mu  sync.Mutex
	ref int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[string]*refCountedMutex)}
}

// lock blocks until the mutex for key is held by this goroutine, and returns an unlock
// function the caller must defer immediately.
func (k *keyMutex) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &refCountedMutex{}
		k.locks[key] = entry
	}
	entry.ref++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.ref--
		if entry.ref == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
