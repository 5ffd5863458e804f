package store

import "sync"

// lockTable hands out one mutex per storage key so read-merge-write cycles
// for the same (agent, topic) serialize while distinct keys stay fully
// concurrent. Entries are never evicted; the table grows with the number of
// distinct keys touched, which is bounded by the topic catalog.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// get returns the mutex for key, creating it if needed.
func (t *lockTable) get(key string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locks == nil {
		t.locks = make(map[string]*sync.Mutex)
	}
	if l, ok := t.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	t.locks[key] = l
	return l
}
