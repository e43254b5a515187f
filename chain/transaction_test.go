package chain

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchain/ember/codec"
	"github.com/emberchain/ember/types"
)

func newTestKey(t *testing.T) (*secp256k1.PrivateKey, types.Address) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return priv, types.AddressFromPublicKey(priv.PubKey())
}

func newTestTransaction(t *testing.T, priv *secp256k1.PrivateKey, from, to types.Address) *Transaction {
	tx, err := NewTransaction(from, to, types.NewBalance(100), types.NewBalance(10), 1700000000, nil, types.Sign{})
	require.NoError(t, err)
	return tx.WithSign(priv)
}

func TestNewTransactionRejectsZeroAmountAndFee(t *testing.T) {
	assert := assert.New(t)
	_, from := newTestKey(t)
	_, to := newTestKey(t)

	_, err := NewTransaction(from, to, types.Balance{}, types.NewBalance(1), 0, nil, types.Sign{})
	assert.ErrorIs(err, ErrZeroAmount)

	_, err = NewTransaction(from, to, types.NewBalance(1), types.Balance{}, 0, nil, types.Sign{})
	assert.ErrorIs(err, ErrZeroFee)
}

func TestTransactionSignAndCheck(t *testing.T) {
	assert := assert.New(t)
	priv, from := newTestKey(t)
	_, to := newTestKey(t)

	unsigned, err := NewTransaction(from, to, types.NewBalance(5), types.NewBalance(1), 42, []byte("data"), types.Sign{})
	require.NoError(t, err)
	assert.False(unsigned.CheckSign())

	signed := unsigned.WithSign(priv)
	assert.True(signed.CheckSign())
}

func TestCheckSignRejectsForeignKey(t *testing.T) {
	assert := assert.New(t)
	_, from := newTestKey(t)
	otherPriv, _ := newTestKey(t)
	_, to := newTestKey(t)

	tx, err := NewTransaction(from, to, types.NewBalance(5), types.NewBalance(1), 42, nil, types.Sign{})
	require.NoError(t, err)

	// Signed by a key that does not derive the sender address.
	forged := tx.WithSign(otherPriv)
	assert.False(forged.CheckSign())
}

func TestTransactionEqualityIgnoresSign(t *testing.T) {
	assert := assert.New(t)
	priv, from := newTestKey(t)
	otherPriv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	_, to := newTestKey(t)

	tx, err := NewTransaction(from, to, types.NewBalance(5), types.NewBalance(1), 42, []byte("x"), types.Sign{})
	require.NoError(t, err)

	a := tx.WithSign(priv)
	b := tx.WithSign(otherPriv)
	assert.True(a.Equal(b))
	// The hash covers the signature, equality does not.
	assert.NotEqual(a.Hash(), b.Hash())
}

func TestTransactionCodecRoundTrip(t *testing.T) {
	assert := assert.New(t)
	priv, from := newTestKey(t)
	_, to := newTestKey(t)

	tx := newTestTransaction(t, priv, from, to)
	w := codec.NewWriter()
	tx.EncodeTo(w)

	decoded, err := DecodeTransaction(codec.NewReader(w.Bytes()))
	assert.NoError(err)
	assert.True(tx.Equal(decoded))
	assert.Equal(tx.Hash(), decoded.Hash())
	assert.True(decoded.CheckSign())
}

func TestTransactionHashDeterminism(t *testing.T) {
	assert := assert.New(t)
	priv, from := newTestKey(t)
	_, to := newTestKey(t)

	tx := newTestTransaction(t, priv, from, to)
	assert.Equal(tx.Hash(), tx.Hash())

	w := codec.NewWriter()
	tx.EncodeTo(w)
	decoded, err := DecodeTransaction(codec.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(tx.Hash(), decoded.Hash())
}

func TestTransactionType(t *testing.T) {
	assert := assert.New(t)
	_, from := newTestKey(t)
	_, to := newTestKey(t)

	creation, err := NewTransaction(from, types.NullAddress, types.NewBalance(1), types.NewBalance(1), 0, []byte("code"), types.Sign{})
	require.NoError(t, err)
	assert.Equal(TxContractCreation, creation.Type())

	call, err := NewTransaction(from, to, types.NewBalance(1), types.NewBalance(1), 0, []byte("input"), types.Sign{})
	require.NoError(t, err)
	assert.Equal(TxContractCall, call.Type())

	transfer, err := NewTransaction(from, to, types.NewBalance(1), types.NewBalance(1), 0, nil, types.Sign{})
	require.NoError(t, err)
	assert.Equal(TxTransfer, transfer.Type())
}

func TestTransactionBuilder(t *testing.T) {
	assert := assert.New(t)
	_, from := newTestKey(t)
	_, to := newTestKey(t)

	var incomplete TransactionBuilder
	incomplete.SetFrom(from)
	_, err := incomplete.Build()
	assert.Error(err)

	var b TransactionBuilder
	tx, err := b.
		SetFrom(from).
		SetTo(to).
		SetAmount(types.NewBalance(7)).
		SetFee(types.NewBalance(2)).
		SetTimestamp(99).
		SetData([]byte("payload")).
		Build()
	assert.NoError(err)
	assert.Equal(from, tx.From())
	assert.Equal(to, tx.To())
	assert.Equal(uint64(99), tx.Timestamp())
}

func TestContractInitDataRoundTrip(t *testing.T) {
	assert := assert.New(t)

	d := &ContractInitData{Code: []byte{0x60, 0x80}, Init: []byte("args")}
	w := codec.NewWriter()
	d.EncodeTo(w)

	decoded, err := DecodeContractInitData(codec.NewReader(w.Bytes()))
	assert.NoError(err)
	assert.Equal(d.Code, decoded.Code)
	assert.Equal(d.Init, decoded.Init)
}
