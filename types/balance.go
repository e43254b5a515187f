package types

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	// ErrBalanceOverflow and ErrBalanceUnderflow report arithmetic that
	// would wrap. No operation ever returns a wrapped value.
	ErrBalanceOverflow  = errors.New("balance overflow")
	ErrBalanceUnderflow = errors.New("balance underflow")
)

// Balance is an unsigned 256-bit amount of chain currency.
type Balance struct {
	i uint256.Int
}

// NewBalance returns a Balance holding [v].
func NewBalance(v uint64) Balance {
	var b Balance
	b.i.SetUint64(v)
	return b
}

// BalanceFromBytes32 decodes the canonical 32-byte big-endian form.
func BalanceFromBytes32(raw [32]byte) Balance {
	var b Balance
	b.i.SetBytes(raw[:])
	return b
}

// BalanceFromString parses a decimal string.
func BalanceFromString(s string) (Balance, error) {
	bi, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Balance{}, errors.New("invalid decimal string")
	}
	i, overflow := uint256.FromBig(bi)
	if overflow {
		return Balance{}, ErrBalanceOverflow
	}
	return Balance{i: *i}, nil
}

// Add returns b + o, or ErrBalanceOverflow.
func (b Balance) Add(o Balance) (Balance, error) {
	var r Balance
	if _, overflow := r.i.AddOverflow(&b.i, &o.i); overflow {
		return Balance{}, ErrBalanceOverflow
	}
	return r, nil
}

// Sub returns b - o, or ErrBalanceUnderflow.
func (b Balance) Sub(o Balance) (Balance, error) {
	var r Balance
	if _, underflow := r.i.SubOverflow(&b.i, &o.i); underflow {
		return Balance{}, ErrBalanceUnderflow
	}
	return r, nil
}

// Cmp returns -1, 0 or 1 comparing b to o.
func (b Balance) Cmp(o Balance) int {
	return b.i.Cmp(&o.i)
}

func (b Balance) Lt(o Balance) bool {
	return b.i.Lt(&o.i)
}

func (b Balance) IsZero() bool {
	return b.i.IsZero()
}

// Uint64 truncates the balance to 64 bits. Used to hand the fee budget to
// the virtual machine as gas.
func (b Balance) Uint64() uint64 {
	return b.i.Uint64()
}

// Bytes32 returns the canonical 32-byte big-endian form.
func (b Balance) Bytes32() [32]byte {
	return b.i.Bytes32()
}

// String returns the decimal form.
func (b Balance) String() string {
	return b.i.ToBig().String()
}
