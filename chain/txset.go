package chain

import (
	"github.com/emberchain/ember/types"
)

// TransactionsSet is an ordered set of transactions keyed by hash.
// Iteration order is insertion order.
type TransactionsSet struct {
	order  []*Transaction
	byHash map[types.Hash]int
}

func NewTransactionsSet() *TransactionsSet {
	return &TransactionsSet{byHash: make(map[types.Hash]int)}
}

// Add inserts [tx] and reports whether it was new.
func (s *TransactionsSet) Add(tx *Transaction) bool {
	h := tx.Hash()
	if _, ok := s.byHash[h]; ok {
		return false
	}
	s.byHash[h] = len(s.order)
	s.order = append(s.order, tx)
	return true
}

// Contains reports membership by transaction hash.
func (s *TransactionsSet) Contains(h types.Hash) bool {
	_, ok := s.byHash[h]
	return ok
}

// Find returns the member with hash [h], or nil.
func (s *TransactionsSet) Find(h types.Hash) *Transaction {
	i, ok := s.byHash[h]
	if !ok {
		return nil
	}
	return s.order[i]
}

// Remove deletes the member with hash [h] and reports whether it existed.
// Relative order of the remaining members is preserved.
func (s *TransactionsSet) Remove(h types.Hash) bool {
	i, ok := s.byHash[h]
	if !ok {
		return false
	}
	delete(s.byHash, h)
	s.order = append(s.order[:i], s.order[i+1:]...)
	for j := i; j < len(s.order); j++ {
		s.byHash[s.order[j].Hash()] = j
	}
	return true
}

// List returns the members in insertion order. The slice is a copy; the
// transactions are shared.
func (s *TransactionsSet) List() []*Transaction {
	out := make([]*Transaction, len(s.order))
	copy(out, s.order)
	return out
}

func (s *TransactionsSet) Len() int {
	return len(s.order)
}

func (s *TransactionsSet) IsEmpty() bool {
	return len(s.order) == 0
}
