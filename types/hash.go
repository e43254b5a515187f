package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// HashLen is the byte length of every hash in the system.
const HashLen = 32

var (
	// NullHash is the all-zero hash. It marks the parent of the genesis block.
	NullHash = Hash{}

	ErrInvalidHashLength = errors.New("invalid hash length")
)

// Hash is a SHA-256 digest.
type Hash [HashLen]byte

// HashOf computes the SHA-256 digest of [data].
func HashOf(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// HashFromBytes converts a byte slice to a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	if len(b) != HashLen {
		return NullHash, ErrInvalidHashLength
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// HashFromHex parses the canonical lowercase-hex textual form.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NullHash, err
	}
	return HashFromBytes(b)
}

func (h Hash) IsNull() bool {
	return h == NullHash
}

func (h Hash) Bytes() []byte {
	return h[:]
}

// String returns the lowercase hex form used externally.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}
