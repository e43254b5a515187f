package state

import (
	"errors"

	"github.com/ava-labs/avalanchego/utils/wrappers"

	"github.com/emberchain/ember/codec"
	"github.com/emberchain/ember/types"
)

var errOpenFrames = errors.New("flush with open checkpoint frames")

// Flush stages every dirty account and storage slot into the backing
// databases and retires the journal. The caller owns transactional
// visibility: the databases handed to NewManager are expected to buffer
// writes until the enclosing block commit.
//
// Flush refuses to run while a checkpoint frame is open.
func (m *Manager) Flush() error {
	if len(m.frames) > 0 {
		return errOpenFrames
	}

	errs := wrappers.Errs{}
	for addr := range m.destroyed {
		errs.Add(m.wipeContract(addr))
	}
	for addr := range m.dirtyAccounts {
		if m.destroyed[addr] {
			continue
		}
		acc := m.accounts[addr]
		if acc == nil {
			continue
		}
		w := codec.NewWriter()
		acc.EncodeTo(w)
		errs.Add(m.accountsDB.Put(addr.Bytes(), w.Bytes()))
	}
	for k := range m.dirtySlots {
		if m.destroyed[k.addr] {
			continue
		}
		v := m.slots[k]
		if v.IsNull() {
			errs.Add(m.storageDB.Delete(storageKeyBytes(k)))
		} else {
			errs.Add(m.storageDB.Put(storageKeyBytes(k), v.Bytes()))
		}
	}
	if errs.Errored() {
		return errs.Err
	}

	for addr := range m.destroyed {
		m.accounts[addr] = nil
	}
	m.dirtyAccounts = make(map[types.Address]bool)
	m.dirtySlots = make(map[slotKey]bool)
	m.destroyed = make(map[types.Address]bool)
	m.journal = m.journal[:0]
	return nil
}

// wipeContract removes the account record and every storage slot of a
// destroyed contract, in memory and on disk.
func (m *Manager) wipeContract(addr types.Address) error {
	if err := m.accountsDB.Delete(addr.Bytes()); err != nil {
		return err
	}
	it := m.storageDB.NewIteratorWithPrefix(addr.Bytes())
	defer it.Release()
	for it.Next() {
		if err := m.storageDB.Delete(it.Key()); err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	for k := range m.slots {
		if k.addr == addr {
			delete(m.slots, k)
			delete(m.loaded, k)
			delete(m.dirtySlots, k)
		}
	}
	return nil
}
