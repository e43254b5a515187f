// Package state implements the replicated account state: client and
// contract accounts, contract storage, and the nestable checkpoint
// primitives that keep partial mutations from ever escaping a failed
// execution.
package state

import (
	"errors"
	"sync"

	"github.com/ava-labs/avalanchego/database"

	"github.com/emberchain/ember/chain"
	"github.com/emberchain/ember/codec"
	"github.com/emberchain/ember/types"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountExists     = errors.New("account already exists")
	ErrNotContract       = errors.New("account is not a contract")
	ErrNoSuchAccount     = errors.New("no such account")
)

// StorageStatus reports the effect of a storage write.
type StorageStatus int

const (
	StorageUnchanged StorageStatus = iota
	StorageModified
	StorageAdded
	StorageDeleted
)

type slotKey struct {
	addr types.Address
	key  types.Hash
}

// Manager owns the mutable account state. It carries one reader-writer
// lock; every mutating operation requires the caller to hold the write
// lock, reads the read lock. The manager never takes that lock itself so
// that block application can span many operations under one critical
// section; internally it only takes the leaf cacheMu.
type Manager struct {
	mu sync.RWMutex

	// cacheMu guards read-through fills of the maps below so that
	// lookups stay safe under the shared read lock. It is a leaf lock.
	cacheMu sync.Mutex

	accountsDB database.Database
	storageDB  database.Database

	// nil entry = address known to be absent
	accounts map[types.Address]*chain.Account
	slots    map[slotKey]types.Hash
	loaded   map[slotKey]bool

	dirtyAccounts map[types.Address]bool
	dirtySlots    map[slotKey]bool
	destroyed     map[types.Address]bool

	journal []journalEntry
	frames  []int
}

// NewManager returns a manager persisting account records to [accountsDB]
// and storage slots to [storageDB].
func NewManager(accountsDB, storageDB database.Database) *Manager {
	return &Manager{
		accountsDB:    accountsDB,
		storageDB:     storageDB,
		accounts:      make(map[types.Address]*chain.Account),
		slots:         make(map[slotKey]types.Hash),
		loaded:        make(map[slotKey]bool),
		dirtyAccounts: make(map[types.Address]bool),
		dirtySlots:    make(map[slotKey]bool),
		destroyed:     make(map[types.Address]bool),
	}
}

// Lock, Unlock, RLock and RUnlock expose the manager's lock to the engine,
// which holds it across whole block applications and releases it around
// nothing smaller than one transaction.
func (m *Manager) Lock()    { m.mu.Lock() }
func (m *Manager) Unlock()  { m.mu.Unlock() }
func (m *Manager) RLock()   { m.mu.RLock() }
func (m *Manager) RUnlock() { m.mu.RUnlock() }

// load returns the live record for [addr], reading through to the database
// on first touch. nil means the account does not exist.
func (m *Manager) load(addr types.Address) *chain.Account {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if acc, ok := m.accounts[addr]; ok {
		return acc
	}
	raw, err := m.accountsDB.Get(addr.Bytes())
	if err != nil {
		m.accounts[addr] = nil
		return nil
	}
	acc, err := chain.DecodeAccount(codec.NewReader(raw))
	if err != nil {
		m.accounts[addr] = nil
		return nil
	}
	m.accounts[addr] = acc
	return acc
}

// Exists reports whether [addr] has an account.
func (m *Manager) Exists(addr types.Address) bool {
	return m.load(addr) != nil
}

// GetAccount returns a copy of the record for [addr].
func (m *Manager) GetAccount(addr types.Address) (*chain.Account, error) {
	acc := m.load(addr)
	if acc == nil {
		return nil, ErrNoSuchAccount
	}
	return acc.Copy(), nil
}

// Balance returns the balance of [addr]; absent accounts hold zero.
func (m *Manager) Balance(addr types.Address) types.Balance {
	acc := m.load(addr)
	if acc == nil {
		return types.Balance{}
	}
	return acc.Balance
}

// CreateClient creates an empty client account.
func (m *Manager) CreateClient(addr types.Address) (*chain.Account, error) {
	if m.load(addr) != nil {
		return nil, ErrAccountExists
	}
	acc := chain.NewClientAccount(addr)
	m.accounts[addr] = acc
	m.dirtyAccounts[addr] = true
	m.journal = append(m.journal, accountCreated{addr: addr})
	return acc.Copy(), nil
}

// CreateContract creates a contract account holding [code] and [abi].
func (m *Manager) CreateContract(addr types.Address, code, abi []byte) (*chain.Account, error) {
	if m.load(addr) != nil {
		return nil, ErrAccountExists
	}
	acc := chain.NewContractAccount(addr, code, abi)
	m.accounts[addr] = acc
	m.dirtyAccounts[addr] = true
	m.journal = append(m.journal, accountCreated{addr: addr})
	return acc.Copy(), nil
}

// getOrCreateClient loads [addr], creating a client account on first
// credit.
func (m *Manager) getOrCreateClient(addr types.Address) *chain.Account {
	if acc := m.load(addr); acc != nil {
		return acc
	}
	acc := chain.NewClientAccount(addr)
	m.accounts[addr] = acc
	m.dirtyAccounts[addr] = true
	m.journal = append(m.journal, accountCreated{addr: addr})
	return acc
}

func (m *Manager) setBalance(acc *chain.Account, v types.Balance) {
	m.journal = append(m.journal, balanceChange{addr: acc.Address, prev: acc.Balance})
	acc.Balance = v
	m.dirtyAccounts[acc.Address] = true
}

// AddBalance credits [addr], creating a client account if absent.
func (m *Manager) AddBalance(addr types.Address, amount types.Balance) error {
	acc := m.getOrCreateClient(addr)
	next, err := acc.Balance.Add(amount)
	if err != nil {
		return err
	}
	m.setBalance(acc, next)
	return nil
}

// SubBalance debits [addr]. ErrInsufficientFunds when the balance is below
// [amount].
func (m *Manager) SubBalance(addr types.Address, amount types.Balance) error {
	acc := m.load(addr)
	if acc == nil || acc.Balance.Lt(amount) {
		return ErrInsufficientFunds
	}
	next, err := acc.Balance.Sub(amount)
	if err != nil {
		return err
	}
	m.setBalance(acc, next)
	return nil
}

// Transfer atomically moves [amount] from one account to the other,
// creating the recipient client account if absent.
func (m *Manager) Transfer(from, to types.Address, amount types.Balance) error {
	if err := m.SubBalance(from, amount); err != nil {
		return err
	}
	return m.AddBalance(to, amount)
}

// Nonce returns the client nonce of [addr]; absent accounts report zero.
func (m *Manager) Nonce(addr types.Address) uint64 {
	acc := m.load(addr)
	if acc == nil {
		return 0
	}
	return acc.Nonce
}

// BumpNonce increments the monotonically increasing client nonce.
func (m *Manager) BumpNonce(addr types.Address) {
	acc := m.getOrCreateClient(addr)
	m.journal = append(m.journal, nonceChange{addr: addr, prev: acc.Nonce})
	acc.Nonce++
	m.dirtyAccounts[addr] = true
}

// RecordTx appends [txHash] to the account's transaction list. Contract
// accounts carry no list; the call is a no-op for them.
func (m *Manager) RecordTx(addr types.Address, txHash types.Hash) {
	acc := m.getOrCreateClient(addr)
	if acc.Type != chain.ClientAccount {
		return
	}
	m.journal = append(m.journal, txRecorded{addr: addr})
	acc.TxHashes = append(acc.TxHashes, txHash)
	m.dirtyAccounts[addr] = true
}

// GetCode returns the code of a contract account, nil otherwise.
func (m *Manager) GetCode(addr types.Address) []byte {
	acc := m.load(addr)
	if acc == nil || acc.Type != chain.ContractAccount {
		return nil
	}
	return append([]byte(nil), acc.Code...)
}

// SetCode replaces the code of a contract account. Used once per
// deployment, to store the runtime code an init run returns.
func (m *Manager) SetCode(addr types.Address, code []byte) error {
	acc := m.load(addr)
	if acc == nil || acc.Type != chain.ContractAccount {
		return ErrNotContract
	}
	m.journal = append(m.journal, codeChange{addr: addr, prev: acc.Code})
	acc.Code = append([]byte(nil), code...)
	m.dirtyAccounts[addr] = true
	return nil
}

// GetCodeHash returns SHA-256 of the contract code, or the null hash.
func (m *Manager) GetCodeHash(addr types.Address) types.Hash {
	acc := m.load(addr)
	if acc == nil || acc.Type != chain.ContractAccount {
		return types.NullHash
	}
	return types.HashOf(acc.Code)
}

// GetCodeSize returns the length of the contract code.
func (m *Manager) GetCodeSize(addr types.Address) int {
	acc := m.load(addr)
	if acc == nil || acc.Type != chain.ContractAccount {
		return 0
	}
	return len(acc.Code)
}

// GetABI returns the serialized ABI blob of a contract account.
func (m *Manager) GetABI(addr types.Address) []byte {
	acc := m.load(addr)
	if acc == nil || acc.Type != chain.ContractAccount {
		return nil
	}
	return append([]byte(nil), acc.ABI...)
}

func (m *Manager) loadSlot(k slotKey) types.Hash {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if m.loaded[k] {
		return m.slots[k]
	}
	var v types.Hash
	if raw, err := m.storageDB.Get(storageKeyBytes(k)); err == nil {
		v, _ = types.HashFromBytes(raw)
	}
	m.slots[k] = v
	m.loaded[k] = true
	return v
}

// GetStorage returns the 32-byte word at [key]; unwritten slots read as
// all-zero.
func (m *Manager) GetStorage(addr types.Address, key types.Hash) types.Hash {
	return m.loadSlot(slotKey{addr: addr, key: key})
}

// SetStorage writes [value] and reports the transition.
func (m *Manager) SetStorage(addr types.Address, key, value types.Hash) StorageStatus {
	k := slotKey{addr: addr, key: key}
	prev := m.loadSlot(k)
	if prev == value {
		return StorageUnchanged
	}
	m.journal = append(m.journal, storageChange{key: k, prev: prev})
	m.slots[k] = value
	m.dirtySlots[k] = true

	switch {
	case prev.IsNull():
		return StorageAdded
	case value.IsNull():
		return StorageDeleted
	default:
		return StorageModified
	}
}

// DestroyContract moves the remaining balance to [beneficiary] and marks
// the contract for deletion. Physical removal happens on Flush.
func (m *Manager) DestroyContract(addr, beneficiary types.Address) error {
	acc := m.load(addr)
	if acc == nil || acc.Type != chain.ContractAccount {
		return ErrNotContract
	}
	balance := acc.Balance
	if !balance.IsZero() {
		if err := m.Transfer(addr, beneficiary, balance); err != nil {
			return err
		}
	}
	m.journal = append(m.journal, contractDestroyed{addr: addr})
	m.destroyed[addr] = true
	return nil
}

func storageKeyBytes(k slotKey) []byte {
	out := make([]byte, 0, types.AddressLen+types.HashLen)
	out = append(out, k.addr.Bytes()...)
	return append(out, k.key.Bytes()...)
}
