package messages

import (
	"sync"

	"github.com/eldtechnologies/cipherroom/internal/room"
)

// roomLocks hands out one mutex per room. Entries are reference counted
// and dropped when the last holder unlocks, so the table only holds rooms
// with writes in flight.
type roomLocks struct {
	mu    sync.Mutex
	locks map[room.Room]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[room.Room]*roomLock)}
}

// lock blocks until r is held and returns the matching unlock.
func (l *roomLocks) lock(r room.Room) func() {
	l.mu.Lock()
	rl, ok := l.locks[r]
	if !ok {
		rl = &roomLock{}
		l.locks[r] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()

	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, r)
		}
		l.mu.Unlock()
	}
}

func (l *roomLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
