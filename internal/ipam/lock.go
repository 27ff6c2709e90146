package ipam

import (
	"sort"
	"sync"
)

// Locker serializes allocation per pool. Allocation is check-then-act over
// the pool's existing children, so two writers on the same pool must not
// interleave; writers on different pools proceed in parallel.
type Locker struct {
	mu    sync.Mutex
	pools map[string]*sync.Mutex
}

func NewLocker() *Locker {
	return &Locker{pools: make(map[string]*sync.Mutex)}
}

// Lock acquires the locks of every given pool and returns a function that
// releases them. Locks are taken in sorted order so overlapping callers
// cannot deadlock.
func (l *Locker) Lock(poolIDs ...string) (unlock func()) {
	ids := make([]string, 0, len(poolIDs))
	seen := make(map[string]bool, len(poolIDs))
	for _, id := range poolIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	held := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		m := l.get(id)
		m.Lock()
		held = append(held, m)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].Unlock()
			}
		})
	}
}

func (l *Locker) get(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.pools[id]
	if !ok {
		m = &sync.Mutex{}
		l.pools[id] = m
	}
	return m
}
