package state

import (
	"errors"

	"github.com/emberchain/ember/types"
)

var errBadCheckpoint = errors.New("checkpoint does not match an open frame")

// Checkpoint marks a point the manager can roll back to. Checkpoints nest:
// rolling one back reverts only work since its own mark, committing merges
// that work into the enclosing scope.
type Checkpoint struct {
	mark  int // journal length when the frame opened
	depth int // index of the frame on the open-frame stack
}

type journalEntry interface {
	revert(m *Manager)
}

type balanceChange struct {
	addr types.Address
	prev types.Balance
}

func (c balanceChange) revert(m *Manager) {
	m.accounts[c.addr].Balance = c.prev
}

type nonceChange struct {
	addr types.Address
	prev uint64
}

func (c nonceChange) revert(m *Manager) {
	m.accounts[c.addr].Nonce = c.prev
}

type txRecorded struct {
	addr types.Address
}

func (c txRecorded) revert(m *Manager) {
	acc := m.accounts[c.addr]
	acc.TxHashes = acc.TxHashes[:len(acc.TxHashes)-1]
}

type accountCreated struct {
	addr types.Address
}

func (c accountCreated) revert(m *Manager) {
	m.accounts[c.addr] = nil
	delete(m.dirtyAccounts, c.addr)
}

type storageChange struct {
	key  slotKey
	prev types.Hash
}

func (c storageChange) revert(m *Manager) {
	m.slots[c.key] = c.prev
}

type codeChange struct {
	addr types.Address
	prev []byte
}

func (c codeChange) revert(m *Manager) {
	m.accounts[c.addr].Code = c.prev
}

type contractDestroyed struct {
	addr types.Address
}

func (c contractDestroyed) revert(m *Manager) {
	delete(m.destroyed, c.addr)
}

// NewCheckpoint opens a checkpoint frame.
func (m *Manager) NewCheckpoint() Checkpoint {
	cp := Checkpoint{mark: len(m.journal), depth: len(m.frames)}
	m.frames = append(m.frames, cp.mark)
	return cp
}

// Rollback undoes every mutation recorded since [cp] and closes its frame.
// [cp] must be the most recently opened frame.
func (m *Manager) Rollback(cp Checkpoint) error {
	if err := m.closeFrame(cp); err != nil {
		return err
	}
	for i := len(m.journal) - 1; i >= cp.mark; i-- {
		m.journal[i].revert(m)
	}
	m.journal = m.journal[:cp.mark]
	return nil
}

// Commit closes the frame opened by [cp], merging its mutations into the
// enclosing scope. The journal entries stay live so an outer rollback
// still reverts them.
func (m *Manager) Commit(cp Checkpoint) error {
	return m.closeFrame(cp)
}

func (m *Manager) closeFrame(cp Checkpoint) error {
	top := len(m.frames) - 1
	if top < 0 || top != cp.depth || m.frames[top] != cp.mark {
		return errBadCheckpoint
	}
	m.frames = m.frames[:len(m.frames)-1]
	return nil
}

// CheckpointDepth reports how many frames are open. Each nested message
// call of the engine runs inside a frame of its own.
func (m *Manager) CheckpointDepth() int {
	return len(m.frames)
}
