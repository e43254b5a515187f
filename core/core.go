// Package core is the node engine: transaction execution, block
// validation and application, the pending pool, block templates, view
// calls and the event surface the rest of the node subscribes to.
package core

import (
	"encoding/base64"
	"errors"
	"time"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/database/versiondb"
	log "github.com/inconshreveable/log15"

	"github.com/emberchain/ember/chain"
	"github.com/emberchain/ember/chain/store"
	"github.com/emberchain/ember/check"
	"github.com/emberchain/ember/codec"
	"github.com/emberchain/ember/event"
	"github.com/emberchain/ember/evm"
	"github.com/emberchain/ember/state"
	"github.com/emberchain/ember/types"
)

// viewGas bounds a single view call, which carries no fee of its own.
const viewGas = 10_000_000

var (
	// Database namespaces of the replicated state.
	accountsPrefix = []byte("accounts")
	storagePrefix  = []byte("storage")

	ErrInvalidBlock   = errors.New("invalid block")
	ErrBadSignature   = errors.New("bad signature")
	ErrNoSuchContract = errors.New("no such contract")
	ErrViewFailed     = errors.New("view call failed")
)

// Core ties the state manager, the blockchain store and the interpreter
// together. Lock order across its resources is always
// state -> pool -> store.
type Core struct {
	vm          evm.VM
	nodeAddress types.Address

	baseDB *versiondb.Database
	st     *state.Manager
	store  *store.Store

	pool *pendingPool

	outputs *outputTable

	blockAdded     *event.Observable[*chain.Block]
	pendingAdded   *event.Observable[*chain.Transaction]
	accountChanged *event.Observable[types.Address]
	logEmitted     *event.Observable[EmittedLog]
}

// New loads the chain from [db], installing genesis into an empty store,
// and returns a ready engine. An inconsistent store aborts initialization.
// [alloc] seeds balances at genesis; it must match across the network and
// is ignored on an already initialized store.
func New(db database.Database, vm evm.VM, nodeAddress types.Address, alloc map[types.Address]types.Balance) (*Core, error) {
	baseDB := versiondb.New(db)
	c := &Core{
		vm:             vm,
		nodeAddress:    nodeAddress,
		baseDB:         baseDB,
		st:             state.NewManager(prefixdb.New(accountsPrefix, baseDB), prefixdb.New(storagePrefix, baseDB)),
		store:          store.New(baseDB),
		pool:           newPendingPool(),
		outputs:        newOutputTable(),
		blockAdded:     event.NewObservable[*chain.Block](),
		pendingAdded:   event.NewObservable[*chain.Transaction](),
		accountChanged: event.NewObservable[types.Address](),
		logEmitted:     event.NewObservable[EmittedLog](),
	}
	if err := c.store.Load(); err != nil {
		return nil, err
	}
	if c.store.Empty() {
		genesis := chain.Genesis()
		for addr, balance := range alloc {
			if err := c.st.AddBalance(addr, balance); err != nil {
				return nil, err
			}
		}
		if err := c.st.Flush(); err != nil {
			return nil, err
		}
		if err := c.store.InstallGenesis(genesis); err != nil {
			return nil, err
		}
		if err := baseDB.Commit(); err != nil {
			return nil, err
		}
		log.Info("installed genesis block", "hash", genesis.Hash(), "allocations", len(alloc))
	}
	top := c.store.TopBlock()
	log.Info("chain loaded", "depth", top.Depth(), "top", top.Hash())
	return c, nil
}

// NodeAddress is this node's own address, used as template coinbase.
func (c *Core) NodeAddress() types.Address {
	return c.nodeAddress
}

// TopBlock returns the current tip.
func (c *Core) TopBlock() *chain.Block {
	return c.store.TopBlock()
}

// FindBlock returns the committed block with hash [h], or nil.
func (c *Core) FindBlock(h types.Hash) *chain.Block {
	b, err := c.store.GetBlock(h)
	if err != nil {
		return nil
	}
	return b
}

// FindBlockHash resolves the canonical hash at [depth].
func (c *Core) FindBlockHash(depth uint64) (types.Hash, bool) {
	h, err := c.store.GetBlockHashByDepth(depth)
	return h, err == nil
}

// FindTransaction returns a committed or pending transaction, or nil.
func (c *Core) FindTransaction(h types.Hash) *chain.Transaction {
	if tx, _, err := c.store.GetTransaction(h); err == nil {
		return tx
	}
	for _, tx := range c.pool.list() {
		if tx.Hash() == h {
			return tx
		}
	}
	return nil
}

// GetAccount returns a copy of the account record for [addr].
func (c *Core) GetAccount(addr types.Address) (*chain.Account, error) {
	c.st.RLock()
	defer c.st.RUnlock()
	return c.st.GetAccount(addr)
}

// TransactionOutput returns the recorded status for [h].
func (c *Core) TransactionOutput(h types.Hash) (TransactionStatus, bool) {
	return c.outputs.get(h)
}

// PendingSize reports the pending pool size.
func (c *Core) PendingSize() int {
	return c.pool.size()
}

// SubscribeBlockAdded registers [fn] to run after a block and all its
// state effects are committed. Callbacks must be non-blocking.
func (c *Core) SubscribeBlockAdded(fn func(*chain.Block)) func() {
	return c.blockAdded.Subscribe(fn)
}

// SubscribePendingTransaction registers [fn] to run after a transaction
// enters the pool, outside the pool lock.
func (c *Core) SubscribePendingTransaction(fn func(*chain.Transaction)) func() {
	return c.pendingAdded.Subscribe(fn)
}

// SubscribeAccountChanged registers [fn] to run for every account touched
// by a committed block.
func (c *Core) SubscribeAccountChanged(fn func(types.Address)) func() {
	return c.accountChanged.Subscribe(fn)
}

// SubscribeLogEmitted registers [fn] for contract logs observed during
// execution.
func (c *Core) SubscribeLogEmitted(fn func(EmittedLog)) func() {
	return c.logEmitted.Subscribe(fn)
}

// AddPending admits [tx] into the pending pool. The transaction must carry
// a valid signature, be new to both the pool and the chain, and pass a
// dry-run against a throwaway snapshot on the current top state.
func (c *Core) AddPending(tx *chain.Transaction) TransactionStatus {
	if !tx.CheckSign() {
		return newRejected(tx.Type(), "invalid signature")
	}
	h := tx.Hash()
	if c.pool.contains(h) {
		return newRejected(tx.Type(), "transaction already pending")
	}
	if c.store.HasTransaction(h) {
		return newRejected(tx.Type(), "transaction already committed")
	}

	c.st.Lock()
	template := c.templateLocked()
	cp := c.st.NewCheckpoint()
	status := c.tryPerform(tx, template)
	if err := c.st.Rollback(cp); err != nil {
		check.Failf("dry-run rollback failed: %v", err)
	}
	c.st.Unlock()

	if !status.OK() {
		return status
	}
	if !c.pool.add(tx) {
		return newRejected(tx.Type(), "transaction already pending")
	}
	c.outputs.put(h, status)
	log.Debug("transaction admitted to pool", "hash", h, "type", status.Action)
	c.pendingAdded.Notify(tx)
	return status
}

// BlockTemplate assembles the advisory next block: current pending
// transactions in insertion order, this node's address as coinbase, nonce
// zero. The miner may trim it or replace the nonce.
func (c *Core) BlockTemplate() *chain.Block {
	c.st.RLock()
	defer c.st.RUnlock()
	return c.templateLocked()
}

func (c *Core) templateLocked() *chain.Block {
	top := c.store.TopBlock()
	txs := chain.NewTransactionsSet()
	for _, tx := range c.pool.list() {
		txs.Add(tx)
	}
	return chain.NewBlock(
		top.Depth()+1,
		0,
		uint64(time.Now().Unix()),
		top.Hash(),
		c.nodeAddress,
		txs,
	)
}

// TryAddBlock validates [b] and appends it to the chain. Exactly the same
// path serves mined and synced blocks. On any hard failure the state is
// rolled back bit-for-bit and the block is rejected.
func (c *Core) TryAddBlock(b *chain.Block) error {
	c.st.Lock()
	defer c.st.Unlock()

	h := b.Hash()
	if c.store.HasBlock(h) {
		return store.ErrBlockKnown
	}
	top := c.store.TopBlock()
	if b.Depth() != top.Depth()+1 || b.PrevHash() != top.Hash() {
		return store.ErrCannotLink
	}
	txList := b.Transactions().List()
	for _, tx := range txList {
		if !tx.CheckSign() {
			log.Debug("rejecting block with unsigned transaction", "block", h, "tx", tx.Hash())
			return ErrInvalidBlock
		}
	}

	statuses := make(map[types.Hash]TransactionStatus, len(txList))
	touched := make(map[types.Address]bool)
	cp := c.st.NewCheckpoint()
	for _, tx := range txList {
		status := c.tryPerform(tx, b)
		if status.Status == Rejected {
			if err := c.st.Rollback(cp); err != nil {
				check.Failf("block rollback failed: %v", err)
			}
			c.baseDB.Abort()
			log.Debug("rejecting block", "block", h, "tx", tx.Hash(), "reason", status.Message)
			return ErrInvalidBlock
		}
		statuses[tx.Hash()] = status
		touched[tx.From()] = true
		if !tx.To().IsNull() {
			touched[tx.To()] = true
		}
		touched[b.Coinbase()] = true
	}
	if err := c.st.Commit(cp); err != nil {
		check.Failf("block commit failed: %v", err)
	}
	if err := c.st.Flush(); err != nil {
		c.baseDB.Abort()
		return err
	}
	if err := c.store.TryAddBlock(b); err != nil {
		// Structural placement was pre-checked under the state lock; only
		// an I/O fault can land here.
		c.baseDB.Abort()
		return err
	}
	if err := c.baseDB.Commit(); err != nil {
		return err
	}

	for txHash, status := range statuses {
		c.outputs.put(txHash, status)
	}
	for _, tx := range txList {
		c.pool.remove(tx.Hash())
	}

	log.Info("block applied", "depth", b.Depth(), "hash", h, "txs", len(txList))
	c.blockAdded.Notify(b)
	for addr := range touched {
		c.accountChanged.Notify(addr)
	}
	return nil
}

// CallView executes [call] against a read-only view of the current top
// state. Mutations attempted during execution are discarded.
func (c *Core) CallView(call *ViewCall) ([]byte, error) {
	if !call.CheckSign() {
		return nil, ErrBadSignature
	}
	c.st.RLock()
	defer c.st.RUnlock()

	code := c.st.GetCode(call.ContractAddress())
	if len(code) == 0 {
		return nil, ErrNoSuchContract
	}
	bridge := newHostBridge(c, c.st, c.store.TopBlock(), call.From())
	host := newViewHost(bridge)
	res := c.vm.Execute(host, evm.Message{
		Kind:      evm.Call,
		Sender:    call.From(),
		Recipient: call.ContractAddress(),
		Input:     call.Data(),
		Gas:       viewGas,
		Static:    true,
	}, code)
	if res.Status != evm.Success {
		return nil, ErrViewFailed
	}
	return res.Output, nil
}

// tryPerform executes one transaction against the current state under the
// held write lock. Every error becomes a status code; no partial mutation
// survives a non-success outcome beyond the consumed fee.
func (c *Core) tryPerform(tx *chain.Transaction, b *chain.Block) TransactionStatus {
	total, err := tx.Amount().Add(tx.Fee())
	if err != nil {
		return newRejected(tx.Type(), "amount plus fee overflows")
	}
	if err := c.st.SubBalance(tx.From(), total); err != nil {
		return newRejected(tx.Type(), "insufficient funds")
	}

	switch {
	case tx.To().IsNull():
		return c.performCreation(tx, b)
	case c.st.GetCodeSize(tx.To()) > 0:
		return c.performCall(tx, b)
	default:
		return c.performTransfer(tx, b)
	}
}

// performTransfer credits the recipient, creating the client account on
// first credit. A plain transfer consumes its whole fee.
func (c *Core) performTransfer(tx *chain.Transaction, b *chain.Block) TransactionStatus {
	cp := c.st.NewCheckpoint()
	if err := c.st.AddBalance(tx.To(), tx.Amount()); err != nil {
		_ = c.st.Rollback(cp)
		return c.consumeAll(tx, b, chain.TxTransfer, err.Error())
	}
	if err := c.st.AddBalance(b.Coinbase(), tx.Fee()); err != nil {
		_ = c.st.Rollback(cp)
		return c.consumeAll(tx, b, chain.TxTransfer, err.Error())
	}
	if err := c.st.Commit(cp); err != nil {
		check.Failf("transfer commit failed: %v", err)
	}
	c.settle(tx, true)
	return newSuccess(chain.TxTransfer, types.Balance{}, "")
}

// performCall credits the callee and runs its code with the transaction
// payload.
func (c *Core) performCall(tx *chain.Transaction, b *chain.Block) TransactionStatus {
	cp := c.st.NewCheckpoint()
	if err := c.st.AddBalance(tx.To(), tx.Amount()); err != nil {
		_ = c.st.Rollback(cp)
		return c.consumeAll(tx, b, chain.TxContractCall, err.Error())
	}
	bridge := newHostBridge(c, c.st, b, tx.From())
	res := c.vm.Execute(bridge, evm.Message{
		Kind:      evm.Call,
		Sender:    tx.From(),
		Recipient: tx.To(),
		Value:     tx.Amount(),
		Input:     tx.Data(),
		Gas:       tx.Fee().Uint64(),
	}, c.st.GetCode(tx.To()))
	if bridge.fault != nil {
		res.Status = evm.Failure
	}
	return c.settleVM(tx, b, chain.TxContractCall, cp, res, base64.StdEncoding.EncodeToString(res.Output))
}

// performCreation derives the new contract address from the sender and its
// current nonce, creates the account and runs the init code. The runtime
// code the init run returns becomes the contract's code.
func (c *Core) performCreation(tx *chain.Transaction, b *chain.Block) TransactionStatus {
	initData, err := chain.DecodeContractInitData(codec.NewReader(tx.Data()))
	if err != nil {
		return c.consumeAll(tx, b, chain.TxContractCreation, "malformed contract init data")
	}
	contractAddr := DeriveContractAddress(tx.From(), c.st.Nonce(tx.From()))

	cp := c.st.NewCheckpoint()
	if _, err := c.st.CreateContract(contractAddr, nil, nil); err != nil {
		_ = c.st.Rollback(cp)
		return c.consumeAll(tx, b, chain.TxContractCreation, err.Error())
	}
	bridge := newHostBridge(c, c.st, b, tx.From())
	res := c.vm.Execute(bridge, evm.Message{
		Kind:      evm.Create,
		Sender:    tx.From(),
		Recipient: contractAddr,
		Value:     tx.Amount(),
		Input:     initData.Init,
		Gas:       tx.Fee().Uint64(),
	}, initData.Code)
	if bridge.fault != nil {
		res.Status = evm.Failure
	}
	if res.Status == evm.Success {
		if err := c.st.SetCode(contractAddr, res.Output); err != nil {
			res.Status = evm.Failure
		} else if err := c.st.AddBalance(contractAddr, tx.Amount()); err != nil {
			res.Status = evm.Failure
		}
	}
	return c.settleVM(tx, b, chain.TxContractCreation, cp, res, contractAddr.String())
}

// settleVM finishes a VM-backed execution: commits or rolls back the
// action checkpoint, distributes the fee, and records the endpoints.
func (c *Core) settleVM(
	tx *chain.Transaction,
	b *chain.Block,
	action chain.TxType,
	cp state.Checkpoint,
	res evm.Result,
	successMessage string,
) TransactionStatus {
	gas := tx.Fee().Uint64()
	if res.GasLeft > gas {
		res.GasLeft = gas
	}
	feeLeft := types.NewBalance(res.GasLeft)
	consumed, err := tx.Fee().Sub(feeLeft)
	if err != nil {
		res.Status = evm.Failure
	}

	switch res.Status {
	case evm.Success:
		if err := c.st.Commit(cp); err != nil {
			check.Failf("transaction commit failed: %v", err)
		}
		c.credit(tx.From(), feeLeft)
		c.credit(b.Coinbase(), consumed)
		c.settle(tx, true)
		return newSuccess(action, feeLeft, successMessage)

	case evm.Revert:
		if err := c.st.Rollback(cp); err != nil {
			check.Failf("transaction rollback failed: %v", err)
		}
		// The amount comes back; the consumed fee does not.
		c.credit(tx.From(), tx.Amount())
		c.credit(tx.From(), feeLeft)
		c.credit(b.Coinbase(), consumed)
		c.settle(tx, false)
		return newRevert(action, feeLeft, base64.StdEncoding.EncodeToString(res.Output))

	default:
		if err := c.st.Rollback(cp); err != nil {
			check.Failf("transaction rollback failed: %v", err)
		}
		c.credit(tx.From(), tx.Amount())
		c.credit(b.Coinbase(), tx.Fee())
		c.settle(tx, false)
		return newFailed(action, "execution failed")
	}
}

// consumeAll marks as Failed an execution that never reached the VM in a
// way that still burns the whole fee: the amount comes back, the fee goes
// to the coinbase.
func (c *Core) consumeAll(tx *chain.Transaction, b *chain.Block, action chain.TxType, msg string) TransactionStatus {
	c.credit(tx.From(), tx.Amount())
	c.credit(b.Coinbase(), tx.Fee())
	c.settle(tx, false)
	return newFailed(action, msg)
}

// settle records the transaction on its endpoints' hash lists (client
// accounts only) and bumps the sender nonce.
func (c *Core) settle(tx *chain.Transaction, creditedRecipient bool) {
	h := tx.Hash()
	c.st.RecordTx(tx.From(), h)
	if creditedRecipient && !tx.To().IsNull() {
		if acc, err := c.st.GetAccount(tx.To()); err == nil && acc.Type == chain.ClientAccount {
			c.st.RecordTx(tx.To(), h)
		}
	}
	c.st.BumpNonce(tx.From())
}

func (c *Core) credit(addr types.Address, amount types.Balance) {
	if amount.IsZero() {
		return
	}
	if err := c.st.AddBalance(addr, amount); err != nil {
		check.Failf("credit overflow: %v", err)
	}
}

// DeriveContractAddress computes the address a creation by [creator] at
// [nonce] deploys to.
func DeriveContractAddress(creator types.Address, nonce uint64) types.Address {
	w := codec.NewWriter()
	w.WriteFixed(creator.Bytes())
	w.WriteUint64(nonce)
	digest := types.HashOf(w.Bytes())
	addr, _ := types.AddressFromBytes(digest.Bytes()[:types.AddressLen])
	return addr
}
