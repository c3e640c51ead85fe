package registry

import "sync"

// Locks is a set of mutexes keyed by string. Entries exist only while some
// goroutine holds or waits for them, so the set does not grow with the
// number of keys ever seen.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocks creates an empty lock set.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*keyLock)}
}

// Lock blocks until the lock for key is held and returns its unlock
// function. The unlock function must be called exactly once.
func (l *Locks) Lock(key string) (unlock func()) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()

	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
