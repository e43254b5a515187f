// Package chain defines the block, transaction and account records of the
// ledger, their canonical encodings and their builders.
package chain

import (
	"bytes"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v3"

	"github.com/emberchain/ember/codec"
	"github.com/emberchain/ember/types"
)

var (
	ErrZeroAmount = errors.New("transaction amount must be positive")
	ErrZeroFee    = errors.New("transaction fee must be positive")
)

// TxType classifies a transaction by its shape.
type TxType byte

const (
	TxNone TxType = iota
	TxTransfer
	TxContractCall
	TxContractCreation
)

func (t TxType) String() string {
	switch t {
	case TxTransfer:
		return "transfer"
	case TxContractCall:
		return "contract_call"
	case TxContractCreation:
		return "contract_creation"
	default:
		return "none"
	}
}

// Transaction is an immutable signed transfer or contract interaction.
// Once built and signed it is never mutated.
type Transaction struct {
	from      types.Address
	to        types.Address
	amount    types.Balance
	fee       types.Balance
	timestamp uint64
	data      []byte
	sign      types.Sign
}

// NewTransaction assembles a transaction. Zero amount and zero fee are
// rejected.
func NewTransaction(
	from types.Address,
	to types.Address,
	amount types.Balance,
	fee types.Balance,
	timestamp uint64,
	data []byte,
	sign types.Sign,
) (*Transaction, error) {
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if fee.IsZero() {
		return nil, ErrZeroFee
	}
	return &Transaction{
		from:      from,
		to:        to,
		amount:    amount,
		fee:       fee,
		timestamp: timestamp,
		data:      data,
		sign:      sign,
	}, nil
}

func (t *Transaction) From() types.Address    { return t.from }
func (t *Transaction) To() types.Address      { return t.to }
func (t *Transaction) Amount() types.Balance  { return t.amount }
func (t *Transaction) Fee() types.Balance     { return t.fee }
func (t *Transaction) Timestamp() uint64      { return t.timestamp }
func (t *Transaction) Sign() types.Sign       { return t.sign }

// Data returns a copy of the payload.
func (t *Transaction) Data() []byte {
	out := make([]byte, len(t.data))
	copy(out, t.data)
	return out
}

// Type derives the action this transaction performs from its shape alone.
// Whether the recipient actually holds code is decided at execution time.
func (t *Transaction) Type() TxType {
	switch {
	case t.to.IsNull():
		return TxContractCreation
	case len(t.data) > 0:
		return TxContractCall
	default:
		return TxTransfer
	}
}

// encodeHeaderTo writes every field except the signature. This is the
// payload the signature covers.
func (t *Transaction) encodeHeaderTo(w *codec.Writer) {
	w.WriteFixed(t.from.Bytes())
	w.WriteFixed(t.to.Bytes())
	amount := t.amount.Bytes32()
	w.WriteFixed(amount[:])
	fee := t.fee.Bytes32()
	w.WriteFixed(fee[:])
	w.WriteUint64(t.timestamp)
	w.WriteBytes(t.data)
}

// EncodeTo writes the full canonical form: header then signature.
func (t *Transaction) EncodeTo(w *codec.Writer) {
	t.encodeHeaderTo(w)
	t.sign.EncodeTo(w)
}

// DecodeTransaction reads the canonical form produced by EncodeTo.
func DecodeTransaction(r *codec.Reader) (*Transaction, error) {
	rawFrom, err := r.ReadFixed(types.AddressLen)
	if err != nil {
		return nil, err
	}
	from, _ := types.AddressFromBytes(rawFrom)
	rawTo, err := r.ReadFixed(types.AddressLen)
	if err != nil {
		return nil, err
	}
	to, _ := types.AddressFromBytes(rawTo)
	rawAmount, err := r.ReadFixed(32)
	if err != nil {
		return nil, err
	}
	var amount32 [32]byte
	copy(amount32[:], rawAmount)
	rawFee, err := r.ReadFixed(32)
	if err != nil {
		return nil, err
	}
	var fee32 [32]byte
	copy(fee32[:], rawFee)
	timestamp, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	data, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	sign, err := types.DecodeSign(r)
	if err != nil {
		return nil, err
	}
	return NewTransaction(
		from,
		to,
		types.BalanceFromBytes32(amount32),
		types.BalanceFromBytes32(fee32),
		timestamp,
		data,
		sign,
	)
}

// SigningHash is the digest the signature covers: SHA-256 of the header
// serialization.
func (t *Transaction) SigningHash() types.Hash {
	w := codec.NewWriter()
	t.encodeHeaderTo(w)
	return types.HashOf(w.Bytes())
}

// Hash is SHA-256 of the full serialization, signature included.
func (t *Transaction) Hash() types.Hash {
	w := codec.NewWriter()
	t.EncodeTo(w)
	return types.HashOf(w.Bytes())
}

// WithSign signs the transaction with [priv] and returns the signed copy.
// The receiver is left untouched.
func (t *Transaction) WithSign(priv *secp256k1.PrivateKey) *Transaction {
	signed := *t
	signed.sign = types.MakeSign(priv, t.SigningHash())
	return &signed
}

// CheckSign reports whether the signature verifies and its public key
// derives the sender address.
func (t *Transaction) CheckSign() bool {
	if t.sign.IsNull() {
		return false
	}
	pub, err := t.sign.PublicKey()
	if err != nil {
		return false
	}
	if types.AddressFromPublicKey(pub) != t.from {
		return false
	}
	return t.sign.Verify(t.SigningHash())
}

// Equal compares every field except the signature.
func (t *Transaction) Equal(o *Transaction) bool {
	return t.from == o.from &&
		t.to == o.to &&
		t.amount.Cmp(o.amount) == 0 &&
		t.fee.Cmp(o.fee) == 0 &&
		t.timestamp == o.timestamp &&
		bytes.Equal(t.data, o.data)
}

// ContractInitData is the payload of a contract-creation transaction:
// deployable code plus constructor arguments.
type ContractInitData struct {
	Code []byte
	Init []byte
}

func (d *ContractInitData) EncodeTo(w *codec.Writer) {
	w.WriteBytes(d.Code)
	w.WriteBytes(d.Init)
}

func DecodeContractInitData(r *codec.Reader) (*ContractInitData, error) {
	code, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	init, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	return &ContractInitData{Code: code, Init: init}, nil
}
