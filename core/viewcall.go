package core

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v3"

	"github.com/emberchain/ember/codec"
	"github.com/emberchain/ember/types"
)

// ViewCall is a side-effect-free contract invocation used to query derived
// state. It carries no fee and persists nothing; a signature is optional
// but checked when present.
type ViewCall struct {
	from            types.Address
	contractAddress types.Address
	timestamp       uint64
	data            []byte
	sign            types.Sign
}

// NewViewCall assembles a view call.
func NewViewCall(from, contractAddress types.Address, timestamp uint64, data []byte) *ViewCall {
	return &ViewCall{
		from:            from,
		contractAddress: contractAddress,
		timestamp:       timestamp,
		data:            data,
	}
}

func (c *ViewCall) From() types.Address            { return c.from }
func (c *ViewCall) ContractAddress() types.Address { return c.contractAddress }
func (c *ViewCall) Timestamp() uint64              { return c.timestamp }
func (c *ViewCall) Data() []byte                   { return c.data }
func (c *ViewCall) Sign() types.Sign               { return c.sign }

func (c *ViewCall) encodeHeaderTo(w *codec.Writer) {
	w.WriteFixed(c.from.Bytes())
	w.WriteFixed(c.contractAddress.Bytes())
	w.WriteUint64(c.timestamp)
	w.WriteBytes(c.data)
}

// HashOfCall is the digest a signature covers.
func (c *ViewCall) HashOfCall() types.Hash {
	w := codec.NewWriter()
	c.encodeHeaderTo(w)
	return types.HashOf(w.Bytes())
}

// WithSign signs the call with [priv].
func (c *ViewCall) WithSign(priv *secp256k1.PrivateKey) *ViewCall {
	signed := *c
	signed.sign = types.MakeSign(priv, c.HashOfCall())
	return &signed
}

// WithRawSign attaches a signature made elsewhere, e.g. one submitted over
// RPC by a client that holds its own key.
func (c *ViewCall) WithRawSign(sign types.Sign) *ViewCall {
	signed := *c
	signed.sign = sign
	return &signed
}

// CheckSign accepts a null signature, and verifies a present one against
// the caller address.
func (c *ViewCall) CheckSign() bool {
	if c.sign.IsNull() {
		return true
	}
	pub, err := c.sign.PublicKey()
	if err != nil {
		return false
	}
	if types.AddressFromPublicKey(pub) != c.from {
		return false
	}
	return c.sign.Verify(c.HashOfCall())
}
