package types

import (
	"bytes"
	"encoding/base64"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v3/ecdsa"

	"github.com/emberchain/ember/codec"
)

var (
	ErrNullSign = errors.New("operation on null sign")

	signTagNull   = byte(0)
	signTagSigned = byte(1)
)

// Sign is either null or the pair (signer public key, ECDSA signature over
// the hash of the signed payload). A null Sign is valid only on inert
// template values.
type Sign struct {
	pub *secp256k1.PublicKey
	sig []byte
}

// NewSign builds a signed Sign.
func NewSign(pub *secp256k1.PublicKey, sig []byte) Sign {
	return Sign{pub: pub, sig: sig}
}

// MakeSign signs [digest] with [priv].
func MakeSign(priv *secp256k1.PrivateKey, digest Hash) Sign {
	sig := ecdsa.Sign(priv, digest.Bytes())
	return Sign{pub: priv.PubKey(), sig: sig.Serialize()}
}

func (s Sign) IsNull() bool {
	return s.pub == nil
}

// PublicKey returns the signer's key, or ErrNullSign.
func (s Sign) PublicKey() (*secp256k1.PublicKey, error) {
	if s.IsNull() {
		return nil, ErrNullSign
	}
	return s.pub, nil
}

// Verify reports whether s is a valid signature of [digest] by its own
// public key. A null Sign never verifies.
func (s Sign) Verify(digest Hash) bool {
	if s.IsNull() {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(s.sig)
	if err != nil {
		return false
	}
	return sig.Verify(digest.Bytes(), s.pub)
}

// Equal compares two signs byte-for-byte.
func (s Sign) Equal(o Sign) bool {
	if s.IsNull() || o.IsNull() {
		return s.IsNull() == o.IsNull()
	}
	return bytes.Equal(s.pub.SerializeCompressed(), o.pub.SerializeCompressed()) &&
		bytes.Equal(s.sig, o.sig)
}

// EncodeTo writes the canonical form: a tag byte, then for a signed value
// the compressed public key and the signature bytes.
func (s Sign) EncodeTo(w *codec.Writer) {
	if s.IsNull() {
		w.WriteUint8(signTagNull)
		return
	}
	w.WriteUint8(signTagSigned)
	w.WriteBytes(s.pub.SerializeCompressed())
	w.WriteBytes(s.sig)
}

// DecodeSign reads the canonical form produced by EncodeTo.
func DecodeSign(r *codec.Reader) (Sign, error) {
	tag, err := r.ReadUint8()
	if err != nil {
		return Sign{}, err
	}
	if tag == signTagNull {
		return Sign{}, nil
	}
	rawPub, err := r.ReadBytes()
	if err != nil {
		return Sign{}, err
	}
	pub, err := secp256k1.ParsePubKey(rawPub)
	if err != nil {
		return Sign{}, err
	}
	sig, err := r.ReadBytes()
	if err != nil {
		return Sign{}, err
	}
	return Sign{pub: pub, sig: sig}, nil
}

// ToBase64 returns the external textual form.
func (s Sign) ToBase64() string {
	w := codec.NewWriter()
	s.EncodeTo(w)
	return base64.StdEncoding.EncodeToString(w.Bytes())
}

// SignFromBase64 parses the external textual form.
func SignFromBase64(s string) (Sign, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Sign{}, err
	}
	return DecodeSign(codec.NewReader(raw))
}
