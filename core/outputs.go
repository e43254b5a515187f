package core

import (
	"sync"

	"github.com/emberchain/ember/types"
)

// outputTable maps transaction hash to recorded status.
type outputTable struct {
	mu      sync.RWMutex
	entries map[types.Hash]TransactionStatus
}

func newOutputTable() *outputTable {
	return &outputTable{entries: make(map[types.Hash]TransactionStatus)}
}

func (t *outputTable) put(h types.Hash, s TransactionStatus) {
	t.mu.Lock()
	t.entries[h] = s
	t.mu.Unlock()
}

func (t *outputTable) get(h types.Hash) (TransactionStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.entries[h]
	return s, ok
}
