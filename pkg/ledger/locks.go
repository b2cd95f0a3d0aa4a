package ledger

import (
	"sync"

	"github.com/google/uuid"
)

// contractLocks hands out one mutex per contract. Entries are dropped once
// nobody holds or waits on them.
type contractLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*contractLock
}

type contractLock struct {
	mu   sync.Mutex
	refs int
}

func newContractLocks() *contractLocks {
	return &contractLocks{locks: make(map[uuid.UUID]*contractLock)}
}

// lock blocks until the contract is free and returns the matching unlock.
func (c *contractLocks) lock(id uuid.UUID) func() {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &contractLock{}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, id)
		}
		c.mu.Unlock()
	}
}

func (c *contractLocks) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}
