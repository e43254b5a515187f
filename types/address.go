package types

import (
	"crypto/sha256"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/mr-tron/base58"
)

// AddressLen is the byte length of every account identifier.
const AddressLen = 20

var (
	// NullAddress marks contract creation when used as a transaction
	// recipient, and is the coinbase of the genesis block.
	NullAddress = Address{}

	ErrInvalidAddressLength = errors.New("invalid address length")
)

// Address is a 20-byte account identifier.
type Address [AddressLen]byte

// AddressFromPublicKey derives the account identifier owned by [pub]:
// the first [AddressLen] bytes of the SHA-256 digest of the compressed key.
func AddressFromPublicKey(pub *secp256k1.PublicKey) Address {
	digest := sha256.Sum256(pub.SerializeCompressed())
	var a Address
	copy(a[:], digest[:AddressLen])
	return a
}

// AddressFromBytes converts a byte slice to an Address.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressLen {
		return NullAddress, ErrInvalidAddressLength
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// AddressFromBase58 parses the canonical external textual form.
func AddressFromBase58(s string) (Address, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return NullAddress, err
	}
	return AddressFromBytes(b)
}

func (a Address) IsNull() bool {
	return a == NullAddress
}

func (a Address) Bytes() []byte {
	return a[:]
}

// String returns the Base58 form used externally.
func (a Address) String() string {
	return base58.Encode(a[:])
}
