package media

import (
	"sync"

	"github.com/mkrupp/mediacache/internal/domain"
)

// keyLock hands out one read/write lock per media id. Entries are dropped as
// soon as nobody holds or waits for them.
type keyLock struct {
	mu    sync.Mutex
	locks map[domain.MediaID]*keyLockEntry
}

type keyLockEntry struct {
	sync.RWMutex

	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{
		locks: make(map[domain.MediaID]*keyLockEntry),
	}
}

// Lock acquires the exclusive lock for id and returns its release function.
func (l *keyLock) Lock(id domain.MediaID) func() {
	entry := l.acquire(id)
	entry.Lock()

	return func() {
		entry.Unlock()
		l.release(id, entry)
	}
}

// RLock acquires the shared lock for id and returns its release function.
func (l *keyLock) RLock(id domain.MediaID) func() {
	entry := l.acquire(id)
	entry.RLock()

	return func() {
		entry.RUnlock()
		l.release(id, entry)
	}
}

func (l *keyLock) acquire(id domain.MediaID) *keyLockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[id]
	if !ok {
		entry = new(keyLockEntry)
		l.locks[id] = entry
	}

	entry.refs++

	return entry
}

func (l *keyLock) release(id domain.MediaID, entry *keyLockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *keyLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
