package core

import (
	"sync"

	"github.com/emberchain/ember/chain"
	"github.com/emberchain/ember/types"
)

// pendingPool is the set of admitted but uncommitted transactions. It
// carries its own lock, which is never held across a VM invocation.
type pendingPool struct {
	mu  sync.RWMutex
	set *chain.TransactionsSet
}

func newPendingPool() *pendingPool {
	return &pendingPool{set: chain.NewTransactionsSet()}
}

func (p *pendingPool) contains(h types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.set.Contains(h)
}

func (p *pendingPool) add(tx *chain.Transaction) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.set.Add(tx)
}

func (p *pendingPool) remove(h types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set.Remove(h)
}

func (p *pendingPool) list() []*chain.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.set.List()
}

func (p *pendingPool) size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.set.Len()
}
