package core

import (
	"encoding/base64"
	"testing"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchain/ember/chain"
	"github.com/emberchain/ember/chain/store"
	"github.com/emberchain/ember/codec"
	"github.com/emberchain/ember/evm"
	"github.com/emberchain/ember/types"
)

// vmFunc adapts a closure to the interpreter plug-in interface.
type vmFunc func(host evm.Host, msg evm.Message, code []byte) evm.Result

func (f vmFunc) Execute(host evm.Host, msg evm.Message, code []byte) evm.Result {
	return f(host, msg, code)
}

func newTestKey(t *testing.T) (*secp256k1.PrivateKey, types.Address) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return priv, types.AddressFromPublicKey(priv.PubKey())
}

func newTestCore(t *testing.T, vm evm.VM, alloc map[types.Address]types.Balance) *Core {
	if vm == nil {
		vm = evm.UnavailableVM{}
	}
	c, err := New(memdb.New(), vm, types.Address{0xee}, alloc)
	require.NoError(t, err)
	return c
}

func signedTransfer(t *testing.T, priv *secp256k1.PrivateKey, from, to types.Address, amount, fee uint64) *chain.Transaction {
	tx, err := chain.NewTransaction(from, to, types.NewBalance(amount), types.NewBalance(fee), 1700000000, nil, types.Sign{})
	require.NoError(t, err)
	return tx.WithSign(priv)
}

func applyPending(t *testing.T, c *Core) *chain.Block {
	template := c.BlockTemplate()
	require.NoError(t, c.TryAddBlock(template))
	return template
}

// pad20 is the 32-byte word holding an address in its low 20 bytes.
func pad20(a types.Address) types.Hash {
	var h types.Hash
	copy(h[types.HashLen-types.AddressLen:], a.Bytes())
	return h
}

func TestTransferSuccess(t *testing.T) {
	assert := assert.New(t)
	privA, a := newTestKey(t)
	_, b := newTestKey(t)
	c := newTestCore(t, nil, map[types.Address]types.Balance{a: types.NewBalance(1000)})

	tx := signedTransfer(t, privA, a, b, 100, 10)
	status := c.AddPending(tx)
	require.True(t, status.OK(), status.Message)

	block := applyPending(t, c)
	coinbase := block.Coinbase()

	assert.Equal(types.NewBalance(890), c.st.Balance(a))
	assert.Equal(types.NewBalance(100), c.st.Balance(b))
	assert.Equal(types.NewBalance(10), c.st.Balance(coinbase))

	out, ok := c.TransactionOutput(tx.Hash())
	require.True(t, ok)
	assert.Equal(Success, out.Status)
	assert.Equal(chain.TxTransfer, out.Action)
	assert.True(out.FeeLeft.IsZero())

	// Balance conservation: nothing minted, nothing burned.
	total, err := c.st.Balance(a).Add(c.st.Balance(b))
	require.NoError(t, err)
	total, err = total.Add(c.st.Balance(coinbase))
	require.NoError(t, err)
	assert.Equal(types.NewBalance(1000), total)

	// The sender's nonce advanced and both endpoints recorded the hash.
	assert.Equal(uint64(1), c.st.Nonce(a))
	accB, err := c.GetAccount(b)
	require.NoError(t, err)
	assert.Contains(accB.TxHashes, tx.Hash())
}

func TestInsufficientFundsRejected(t *testing.T) {
	assert := assert.New(t)
	privA, a := newTestKey(t)
	_, b := newTestKey(t)
	c := newTestCore(t, nil, map[types.Address]types.Balance{a: types.NewBalance(50)})

	tx := signedTransfer(t, privA, a, b, 40, 20)
	status := c.AddPending(tx)
	assert.Equal(Rejected, status.Status)
	assert.Equal("insufficient funds", status.Message)
	assert.Zero(c.PendingSize())
	assert.Equal(types.NewBalance(50), c.st.Balance(a))
}

func TestAddPendingValidation(t *testing.T) {
	assert := assert.New(t)
	privA, a := newTestKey(t)
	otherPriv, _ := newTestKey(t)
	_, b := newTestKey(t)
	c := newTestCore(t, nil, map[types.Address]types.Balance{a: types.NewBalance(1000)})

	unsigned, err := chain.NewTransaction(a, b, types.NewBalance(1), types.NewBalance(1), 1, nil, types.Sign{})
	require.NoError(t, err)
	assert.Equal(Rejected, c.AddPending(unsigned).Status)

	forged := unsigned.WithSign(otherPriv)
	assert.Equal(Rejected, c.AddPending(forged).Status)

	tx := signedTransfer(t, privA, a, b, 100, 10)
	assert.True(c.AddPending(tx).OK())
	assert.Equal(1, c.PendingSize())

	// Duplicate admission is rejected, pool size unchanged.
	assert.Equal(Rejected, c.AddPending(tx).Status)
	assert.Equal(1, c.PendingSize())
}

func TestPoolExclusionAfterBlock(t *testing.T) {
	assert := assert.New(t)
	privA, a := newTestKey(t)
	_, b := newTestKey(t)
	c := newTestCore(t, nil, map[types.Address]types.Balance{a: types.NewBalance(1000)})

	tx := signedTransfer(t, privA, a, b, 100, 10)
	require.True(t, c.AddPending(tx).OK())
	applyPending(t, c)

	assert.Zero(c.PendingSize())
	status := c.AddPending(tx)
	assert.Equal(Rejected, status.Status)
	assert.Equal("transaction already committed", status.Message)
	assert.Zero(c.PendingSize())
}

func TestChainExtensionRejection(t *testing.T) {
	assert := assert.New(t)
	c := newTestCore(t, nil, nil)

	// Build the chain out to depth 5 with empty blocks.
	for c.TopBlock().Depth() < 5 {
		require.NoError(t, c.TryAddBlock(c.BlockTemplate()))
	}
	top := c.TopBlock()
	require.Equal(t, uint64(5), top.Depth())

	sameDepth := chain.NewBlock(5, 0, top.Timestamp()+1, top.PrevHash(), types.Address{1}, nil)
	assert.ErrorIs(c.TryAddBlock(sameDepth), store.ErrCannotLink)

	tooDeep := chain.NewBlock(7, 0, top.Timestamp()+1, top.Hash(), types.Address{1}, nil)
	assert.ErrorIs(c.TryAddBlock(tooDeep), store.ErrCannotLink)

	good := chain.NewBlock(6, 0, top.Timestamp()+1, top.Hash(), types.Address{1}, nil)
	assert.NoError(c.TryAddBlock(good))
	assert.Equal(uint64(6), c.TopBlock().Depth())

	assert.ErrorIs(c.TryAddBlock(good), store.ErrBlockKnown)
}

func TestBlockWithBadSignatureRejected(t *testing.T) {
	assert := assert.New(t)
	_, a := newTestKey(t)
	otherPriv, _ := newTestKey(t)
	_, b := newTestKey(t)
	c := newTestCore(t, nil, map[types.Address]types.Balance{a: types.NewBalance(1000)})

	forged := signedTransfer(t, otherPriv, a, b, 1, 1)
	txs := chain.NewTransactionsSet()
	txs.Add(forged)
	top := c.TopBlock()
	block := chain.NewBlock(top.Depth()+1, 0, top.Timestamp()+1, top.Hash(), types.Address{1}, txs)

	assert.ErrorIs(c.TryAddBlock(block), ErrInvalidBlock)
	assert.Equal(uint64(0), c.TopBlock().Depth())
	assert.Equal(types.NewBalance(1000), c.st.Balance(a))
}

func TestFailedBlockLeavesStateUntouched(t *testing.T) {
	assert := assert.New(t)
	privA, a := newTestKey(t)
	_, b := newTestKey(t)
	c := newTestCore(t, nil, map[types.Address]types.Balance{a: types.NewBalance(150)})

	// Both transactions verify, but the second cannot be funded once the
	// first lands: the whole block must be rejected atomically.
	tx1 := signedTransfer(t, privA, a, b, 100, 10)
	tx2, err := chain.NewTransaction(a, b, types.NewBalance(100), types.NewBalance(10), 1700000001, nil, types.Sign{})
	require.NoError(t, err)
	txs := chain.NewTransactionsSet()
	txs.Add(tx1)
	txs.Add(tx2.WithSign(privA))

	top := c.TopBlock()
	block := chain.NewBlock(top.Depth()+1, 0, top.Timestamp()+1, top.Hash(), types.Address{1}, txs)
	assert.ErrorIs(c.TryAddBlock(block), ErrInvalidBlock)

	assert.Equal(types.NewBalance(150), c.st.Balance(a))
	assert.Equal(types.Balance{}, c.st.Balance(b))
	assert.Equal(uint64(0), c.st.Nonce(a))
	assert.Equal(uint64(0), c.TopBlock().Depth())
}

// creationVM deploys runtime code {0xAA} and, on calls, stores the caller
// at slot zero. Static calls read slot zero back.
func creationVM() vmFunc {
	return func(host evm.Host, msg evm.Message, code []byte) evm.Result {
		switch {
		case msg.Kind == evm.Create:
			return evm.Result{Status: evm.Success, Output: []byte{0xaa}, GasLeft: msg.Gas - 3}
		case msg.Static:
			word := host.GetStorage(msg.Recipient, types.Hash{})
			return evm.Result{Status: evm.Success, Output: word.Bytes(), GasLeft: msg.Gas - 1}
		default:
			host.SetStorage(msg.Recipient, types.Hash{}, pad20(msg.Sender))
			return evm.Result{Status: evm.Success, GasLeft: msg.Gas - 5}
		}
	}
}

func creationData(t *testing.T) []byte {
	d := &chain.ContractInitData{Code: []byte{0x60, 0x80}, Init: nil}
	w := codec.NewWriter()
	d.EncodeTo(w)
	return w.Bytes()
}

func TestContractCreationAndCall(t *testing.T) {
	assert := assert.New(t)
	privA, a := newTestKey(t)
	c := newTestCore(t, creationVM(), map[types.Address]types.Balance{a: types.NewBalance(1000)})

	// Deploy.
	create, err := chain.NewTransaction(a, types.NullAddress, types.NewBalance(1), types.NewBalance(100), 1700000000, creationData(t), types.Sign{})
	require.NoError(t, err)
	status := c.AddPending(create.WithSign(privA))
	require.True(t, status.OK(), status.Message)

	contractAddr := DeriveContractAddress(a, 0)
	assert.Equal(contractAddr.String(), status.Message)
	applyPending(t, c)

	acc, err := c.GetAccount(contractAddr)
	require.NoError(t, err)
	assert.Equal(chain.ContractAccount, acc.Type)
	assert.Equal([]byte{0xaa}, acc.Code)
	assert.Equal(types.NewBalance(1), acc.Balance)

	// Deployment consumed 3 fee units.
	assert.Equal(types.NewBalance(1000-1-3), c.st.Balance(a))
	assert.Equal(types.NewBalance(3), c.st.Balance(types.Address{0xee}))

	// Call: stores the caller at slot zero.
	call, err := chain.NewTransaction(a, contractAddr, types.NewBalance(2), types.NewBalance(50), 1700000001, []byte{0x01}, types.Sign{})
	require.NoError(t, err)
	callStatus := c.AddPending(call.WithSign(privA))
	require.True(t, callStatus.OK(), callStatus.Message)
	applyPending(t, c)

	assert.Equal(pad20(a), c.st.GetStorage(contractAddr, types.Hash{}))
	out, ok := c.TransactionOutput(call.WithSign(privA).Hash())
	require.True(t, ok)
	assert.Equal(Success, out.Status)
	assert.Equal(chain.TxContractCall, out.Action)
	assert.Equal(types.NewBalance(45), out.FeeLeft)

	// The view reads the same slot through a read-only snapshot.
	view := NewViewCall(a, contractAddr, 1700000002, []byte{0x02})
	got, err := c.CallView(view)
	assert.NoError(err)
	expected := pad20(a)
	assert.Equal(expected.Bytes(), got)
}

func TestRevert(t *testing.T) {
	assert := assert.New(t)
	privA, a := newTestKey(t)
	revertPayload := []byte("insufficient allowance")

	vm := vmFunc(func(host evm.Host, msg evm.Message, code []byte) evm.Result {
		if msg.Kind == evm.Create {
			return evm.Result{Status: evm.Success, Output: []byte{0xaa}, GasLeft: msg.Gas}
		}
		host.SetStorage(msg.Recipient, types.Hash{}, pad20(msg.Sender))
		return evm.Result{Status: evm.Revert, Output: revertPayload, GasLeft: msg.Gas - 7}
	})
	c := newTestCore(t, vm, map[types.Address]types.Balance{a: types.NewBalance(1000)})

	create, err := chain.NewTransaction(a, types.NullAddress, types.NewBalance(1), types.NewBalance(100), 1700000000, creationData(t), types.Sign{})
	require.NoError(t, err)
	require.True(t, c.AddPending(create.WithSign(privA)).OK())
	contractAddr := DeriveContractAddress(a, 0)
	applyPending(t, c)

	balanceBefore := c.st.Balance(a)
	contractBefore := c.st.Balance(contractAddr)

	call, err := chain.NewTransaction(a, contractAddr, types.NewBalance(5), types.NewBalance(50), 1700000001, []byte{0x01}, types.Sign{})
	require.NoError(t, err)
	signed := call.WithSign(privA)

	// The dry-run already reports the revert, so the pool refuses it; feed
	// it through a block to exercise the committed path.
	require.Equal(t, Revert, c.AddPending(signed).Status)
	txs := chain.NewTransactionsSet()
	txs.Add(signed)
	top := c.TopBlock()
	block := chain.NewBlock(top.Depth()+1, 0, top.Timestamp()+1, top.Hash(), types.Address{0xcb}, txs)
	require.NoError(t, c.TryAddBlock(block))

	out, ok := c.TransactionOutput(signed.Hash())
	require.True(t, ok)
	assert.Equal(Revert, out.Status)
	assert.Equal(types.NewBalance(43), out.FeeLeft)
	assert.Equal(base64.StdEncoding.EncodeToString(revertPayload), out.Message)

	// Only the consumed fee left the sender; the contract saw no deltas.
	expected, err := balanceBefore.Sub(types.NewBalance(7))
	require.NoError(t, err)
	assert.Equal(expected, c.st.Balance(a))
	assert.Equal(contractBefore, c.st.Balance(contractAddr))
	assert.Equal(types.NullHash, c.st.GetStorage(contractAddr, types.Hash{}))
	assert.Equal(types.NewBalance(7), c.st.Balance(types.Address{0xcb}))
}

func TestFailedExecutionConsumesWholeFee(t *testing.T) {
	assert := assert.New(t)
	privA, a := newTestKey(t)

	vm := vmFunc(func(host evm.Host, msg evm.Message, code []byte) evm.Result {
		if msg.Kind == evm.Create {
			return evm.Result{Status: evm.Success, Output: []byte{0xaa}, GasLeft: msg.Gas}
		}
		return evm.Result{Status: evm.Failure}
	})
	c := newTestCore(t, vm, map[types.Address]types.Balance{a: types.NewBalance(1000)})

	create, err := chain.NewTransaction(a, types.NullAddress, types.NewBalance(1), types.NewBalance(10), 1700000000, creationData(t), types.Sign{})
	require.NoError(t, err)
	require.True(t, c.AddPending(create.WithSign(privA)).OK())
	contractAddr := DeriveContractAddress(a, 0)
	applyPending(t, c)

	balanceBefore := c.st.Balance(a)

	call, err := chain.NewTransaction(a, contractAddr, types.NewBalance(5), types.NewBalance(50), 1700000001, []byte{0x01}, types.Sign{})
	require.NoError(t, err)
	signed := call.WithSign(privA)
	txs := chain.NewTransactionsSet()
	txs.Add(signed)
	top := c.TopBlock()
	block := chain.NewBlock(top.Depth()+1, 0, top.Timestamp()+1, top.Hash(), types.Address{0xcb}, txs)
	require.NoError(t, c.TryAddBlock(block))

	out, ok := c.TransactionOutput(signed.Hash())
	require.True(t, ok)
	assert.Equal(Failed, out.Status)
	assert.True(out.FeeLeft.IsZero())

	// The whole fee burned to the coinbase, the amount came back.
	expected, err := balanceBefore.Sub(types.NewBalance(50))
	require.NoError(t, err)
	assert.Equal(expected, c.st.Balance(a))
	assert.Equal(types.NewBalance(50), c.st.Balance(types.Address{0xcb}))
}

func TestBlockTemplate(t *testing.T) {
	assert := assert.New(t)
	privA, a := newTestKey(t)
	_, b := newTestKey(t)
	c := newTestCore(t, nil, map[types.Address]types.Balance{a: types.NewBalance(1000)})

	tx1 := signedTransfer(t, privA, a, b, 10, 1)
	tx2 := signedTransfer(t, privA, a, b, 20, 1)
	require.True(t, c.AddPending(tx1).OK())
	require.True(t, c.AddPending(tx2).OK())

	template := c.BlockTemplate()
	top := c.TopBlock()
	assert.Equal(top.Depth()+1, template.Depth())
	assert.Equal(top.Hash(), template.PrevHash())
	assert.Equal(uint64(0), template.Nonce())
	assert.Equal(c.NodeAddress(), template.Coinbase())

	list := template.Transactions().List()
	require.Len(t, list, 2)
	assert.True(tx1.Equal(list[0]), "insertion order preserved")
	assert.True(tx2.Equal(list[1]))
}

func TestObservers(t *testing.T) {
	assert := assert.New(t)
	privA, a := newTestKey(t)
	_, b := newTestKey(t)
	c := newTestCore(t, nil, map[types.Address]types.Balance{a: types.NewBalance(1000)})

	var pending []*chain.Transaction
	var blocks []*chain.Block
	changed := make(map[types.Address]bool)
	c.SubscribePendingTransaction(func(tx *chain.Transaction) { pending = append(pending, tx) })
	unsubBlocks := c.SubscribeBlockAdded(func(blk *chain.Block) { blocks = append(blocks, blk) })
	c.SubscribeAccountChanged(func(addr types.Address) { changed[addr] = true })

	tx := signedTransfer(t, privA, a, b, 10, 1)
	require.True(t, c.AddPending(tx).OK())
	require.Len(t, pending, 1)

	block := applyPending(t, c)
	require.Len(t, blocks, 1)
	assert.Equal(block.Hash(), blocks[0].Hash())
	assert.True(changed[a])
	assert.True(changed[b])

	unsubBlocks()
	applyPending(t, c)
	assert.Len(blocks, 1, "unsubscribed observer stays silent")
}

func TestCallViewSignature(t *testing.T) {
	assert := assert.New(t)
	privA, a := newTestKey(t)
	otherPriv, _ := newTestKey(t)
	c := newTestCore(t, creationVM(), map[types.Address]types.Balance{a: types.NewBalance(1000)})

	create, err := chain.NewTransaction(a, types.NullAddress, types.NewBalance(1), types.NewBalance(100), 1700000000, creationData(t), types.Sign{})
	require.NoError(t, err)
	require.True(t, c.AddPending(create.WithSign(privA)).OK())
	contractAddr := DeriveContractAddress(a, 0)
	applyPending(t, c)

	view := NewViewCall(a, contractAddr, 1700000001, []byte{0x02})

	// A present signature is checked; the caller's own key passes.
	signed := view.WithSign(privA)
	_, err = c.CallView(signed)
	assert.NoError(err)

	// The same signature survives the detach/reattach round trip a remote
	// client goes through.
	reattached := view.WithRawSign(signed.Sign())
	_, err = c.CallView(reattached)
	assert.NoError(err)

	// A foreign key does not derive the caller address.
	forged := view.WithSign(otherPriv)
	_, err = c.CallView(forged)
	assert.ErrorIs(err, ErrBadSignature)
}

func TestCallViewUnknownContract(t *testing.T) {
	assert := assert.New(t)
	_, a := newTestKey(t)
	c := newTestCore(t, nil, nil)

	_, err := c.CallView(NewViewCall(a, types.Address{5}, 0, nil))
	assert.ErrorIs(err, ErrNoSuchContract)
}

func TestDeriveContractAddressDeterministic(t *testing.T) {
	assert := assert.New(t)
	_, a := newTestKey(t)

	assert.Equal(DeriveContractAddress(a, 0), DeriveContractAddress(a, 0))
	assert.NotEqual(DeriveContractAddress(a, 0), DeriveContractAddress(a, 1))
	assert.NotEqual(DeriveContractAddress(a, 0), DeriveContractAddress(types.Address{1}, 0))
}
