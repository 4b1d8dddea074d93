package session

import "sync"

// PositionStore remembers the last viewed position per entry key for the
// lifetime of the session.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]int
}

// NewPositionStore returns an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]int)}
}

// Get returns the stored position of key.
func (p *PositionStore) Get(key string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[key]
	return pos, ok
}

// Set stores the position of key.
func (p *PositionStore) Set(key string, pos int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[key] = pos
}

// Forget drops the position of key.
func (p *PositionStore) Forget(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.positions, key)
}
