package service

import "sync"

// keyLocks hands out one mutex per key. Guards are created on demand and
// dropped once nobody holds or waits for them, so the arena only grows with
// the number of keys in flight.
type keyLocks struct {
	mu     sync.Mutex
	guards map[string]*keyGuard
}

type keyGuard struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{guards: make(map[string]*keyGuard)}
}

// lock blocks until key is free and returns the matching unlock.
func (l *keyLocks) lock(key string) func() {
	l.mu.Lock()
	g, ok := l.guards[key]
	if !ok {
		g = &keyGuard{}
		l.guards[key] = g
	}
	g.refs++
	l.mu.Unlock()

	g.mu.Lock()
	return func() {
		g.mu.Unlock()
		l.mu.Lock()
		g.refs--
		if g.refs == 0 {
			delete(l.guards, key)
		}
		l.mu.Unlock()
	}
}

func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.guards)
}
