package calls

import "sync"

// chatLocks hands out one mutex per chat. Entries are dropped once nobody
// holds or waits on them.
type chatLocks struct {
	mu    sync.Mutex
	locks map[int64]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{locks: make(map[int64]*chatLock)}
}

func (l *chatLocks) lock(chatID int64) func() {
	l.mu.Lock()
	entry := l.locks[chatID]
	if entry == nil {
		entry = &chatLock{}
		l.locks[chatID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, chatID)
		}
		l.mu.Unlock()
	}
}

func (l *chatLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
