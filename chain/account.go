package chain

import (
	"errors"

	"github.com/emberchain/ember/codec"
	"github.com/emberchain/ember/types"
)

// AccountType discriminates the two account variants.
type AccountType byte

const (
	ClientAccount AccountType = iota
	ContractAccount
)

func (t AccountType) String() string {
	if t == ContractAccount {
		return "contract"
	}
	return "client"
}

var ErrUnknownAccountType = errors.New("unknown account type tag")

// Account is the persistent record of one address. A client account
// carries a nonce and the hashes of transactions that touched it; a
// contract account carries code and an ABI blob. Contract storage lives in
// its own keyspace, not in the record.
type Account struct {
	Type     AccountType
	Address  types.Address
	Balance  types.Balance
	Nonce    uint64
	TxHashes []types.Hash
	Code     []byte
	ABI      []byte
}

// NewClientAccount returns an empty client account for [addr].
func NewClientAccount(addr types.Address) *Account {
	return &Account{Type: ClientAccount, Address: addr}
}

// NewContractAccount returns a contract account for [addr] holding [code]
// and [abi].
func NewContractAccount(addr types.Address, code, abi []byte) *Account {
	return &Account{Type: ContractAccount, Address: addr, Code: code, ABI: abi}
}

// Copy returns a deep copy. The state manager hands copies across its
// boundary so callers can never mutate managed state.
func (a *Account) Copy() *Account {
	cp := *a
	cp.TxHashes = make([]types.Hash, len(a.TxHashes))
	copy(cp.TxHashes, a.TxHashes)
	cp.Code = append([]byte(nil), a.Code...)
	cp.ABI = append([]byte(nil), a.ABI...)
	return &cp
}

// EncodeTo writes the canonical form: a variant tag, then the fields of
// that variant.
func (a *Account) EncodeTo(w *codec.Writer) {
	w.WriteUint8(byte(a.Type))
	w.WriteFixed(a.Address.Bytes())
	balance := a.Balance.Bytes32()
	w.WriteFixed(balance[:])
	switch a.Type {
	case ClientAccount:
		w.WriteUint64(a.Nonce)
		w.WriteUint32(uint32(len(a.TxHashes)))
		for _, h := range a.TxHashes {
			w.WriteFixed(h.Bytes())
		}
	case ContractAccount:
		w.WriteBytes(a.Code)
		w.WriteBytes(a.ABI)
	}
}

// DecodeAccount reads the canonical form produced by EncodeTo.
func DecodeAccount(r *codec.Reader) (*Account, error) {
	tag, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	rawAddr, err := r.ReadFixed(types.AddressLen)
	if err != nil {
		return nil, err
	}
	addr, _ := types.AddressFromBytes(rawAddr)
	rawBalance, err := r.ReadFixed(32)
	if err != nil {
		return nil, err
	}
	var balance32 [32]byte
	copy(balance32[:], rawBalance)

	a := &Account{
		Type:    AccountType(tag),
		Address: addr,
		Balance: types.BalanceFromBytes32(balance32),
	}
	switch a.Type {
	case ClientAccount:
		if a.Nonce, err = r.ReadUint64(); err != nil {
			return nil, err
		}
		count, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		a.TxHashes = make([]types.Hash, 0, count)
		for i := uint32(0); i < count; i++ {
			raw, err := r.ReadFixed(types.HashLen)
			if err != nil {
				return nil, err
			}
			h, _ := types.HashFromBytes(raw)
			a.TxHashes = append(a.TxHashes, h)
		}
	case ContractAccount:
		if a.Code, err = r.ReadBytes(); err != nil {
			return nil, err
		}
		if a.ABI, err = r.ReadBytes(); err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnknownAccountType
	}
	return a, nil
}
