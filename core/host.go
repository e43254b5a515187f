package core

import (
	"errors"

	"github.com/emberchain/ember/chain"
	"github.com/emberchain/ember/evm"
	"github.com/emberchain/ember/state"
	"github.com/emberchain/ember/types"
)

var errHostFault = errors.New("host operation failed")

// maxCallDepth bounds message-call recursion, matching the conventional
// EVM limit.
const maxCallDepth = 1024

// EmittedLog is a contract log observed during execution. The engine
// publishes it and persists nothing.
type EmittedLog struct {
	Address types.Address
	Topics  []types.Hash
	Data    []byte
}

// hostBridge adapts the state manager plus the block and transaction an
// execution is bound to onto the interpreter's host contract. One bridge
// value serves exactly one transaction; re-entrant calls share it and each
// runs inside its own checkpoint frame of the state manager, never keyed
// by goroutine identity.
type hostBridge struct {
	core  *Core
	st    *state.Manager
	txCtx evm.TxContext

	// fault records a hard host failure; the enclosing transaction
	// becomes Failed.
	fault error
}

// newHostBridge binds one bridge to one (block, transaction, state) triple.
func newHostBridge(c *Core, st *state.Manager, block *chain.Block, origin types.Address) *hostBridge {
	return &hostBridge{
		core: c,
		st:   st,
		txCtx: evm.TxContext{
			Origin:     origin,
			GasPrice:   types.NewBalance(1),
			Coinbase:   block.Coinbase(),
			BlockDepth: block.Depth(),
			Timestamp:  block.Timestamp(),
		},
	}
}

var _ evm.Host = (*hostBridge)(nil)

func (h *hostBridge) AccountExists(addr types.Address) bool {
	return h.st.Exists(addr)
}

func (h *hostBridge) GetStorage(addr types.Address, key types.Hash) types.Hash {
	return h.st.GetStorage(addr, key)
}

func (h *hostBridge) SetStorage(addr types.Address, key, value types.Hash) state.StorageStatus {
	return h.st.SetStorage(addr, key, value)
}

func (h *hostBridge) GetBalance(addr types.Address) types.Balance {
	return h.st.Balance(addr)
}

func (h *hostBridge) GetCodeSize(addr types.Address) int {
	return h.st.GetCodeSize(addr)
}

func (h *hostBridge) GetCodeHash(addr types.Address) types.Hash {
	return h.st.GetCodeHash(addr)
}

func (h *hostBridge) CopyCode(addr types.Address) []byte {
	return h.st.GetCode(addr)
}

func (h *hostBridge) Selfdestruct(addr, beneficiary types.Address) {
	if err := h.st.DestroyContract(addr, beneficiary); err != nil {
		h.fault = err
	}
}

// CallMessage recurses into the engine with the same state handle. The
// callee runs inside its own checkpoint: a non-success outcome reverts the
// callee's effects and the value transfer, nothing more.
func (h *hostBridge) CallMessage(msg evm.Message) evm.Result {
	if msg.Depth > maxCallDepth {
		return evm.Result{Status: evm.Failure}
	}
	cp := h.st.NewCheckpoint()
	if !msg.Value.IsZero() {
		if err := h.st.Transfer(msg.Sender, msg.Recipient, msg.Value); err != nil {
			_ = h.st.Rollback(cp)
			return evm.Result{Status: evm.Revert, GasLeft: msg.Gas}
		}
	}
	code := h.st.GetCode(msg.Recipient)
	if len(code) == 0 {
		// Plain value transfer to a non-contract account.
		_ = h.st.Commit(cp)
		return evm.Result{Status: evm.Success, GasLeft: msg.Gas}
	}
	res := h.core.vm.Execute(h, msg, code)
	if h.fault != nil {
		res.Status = evm.Failure
	}
	if res.Status == evm.Success {
		_ = h.st.Commit(cp)
	} else {
		_ = h.st.Rollback(cp)
	}
	return res
}

func (h *hostBridge) GetTxContext() evm.TxContext {
	return h.txCtx
}

func (h *hostBridge) GetBlockHash(depth uint64) types.Hash {
	hash, err := h.core.store.GetBlockHashByDepth(depth)
	if err != nil {
		return types.NullHash
	}
	return hash
}

func (h *hostBridge) EmitLog(addr types.Address, topics []types.Hash, data []byte) {
	h.core.logEmitted.Notify(EmittedLog{Address: addr, Topics: topics, Data: data})
}

// viewHost wraps a bridge for view execution: reads pass through, writes
// land in a local overlay that is dropped when the call returns, and
// destructive operations are refused.
type viewHost struct {
	inner   *hostBridge
	overlay map[viewSlot]types.Hash
}

type viewSlot struct {
	addr types.Address
	key  types.Hash
}

var _ evm.Host = (*viewHost)(nil)

func newViewHost(inner *hostBridge) *viewHost {
	return &viewHost{inner: inner, overlay: make(map[viewSlot]types.Hash)}
}

func (v *viewHost) AccountExists(addr types.Address) bool { return v.inner.AccountExists(addr) }

func (v *viewHost) GetStorage(addr types.Address, key types.Hash) types.Hash {
	if val, ok := v.overlay[viewSlot{addr, key}]; ok {
		return val
	}
	return v.inner.GetStorage(addr, key)
}

func (v *viewHost) SetStorage(addr types.Address, key, value types.Hash) state.StorageStatus {
	prev := v.GetStorage(addr, key)
	v.overlay[viewSlot{addr, key}] = value
	switch {
	case prev == value:
		return state.StorageUnchanged
	case prev.IsNull():
		return state.StorageAdded
	case value.IsNull():
		return state.StorageDeleted
	default:
		return state.StorageModified
	}
}

func (v *viewHost) GetBalance(addr types.Address) types.Balance { return v.inner.GetBalance(addr) }
func (v *viewHost) GetCodeSize(addr types.Address) int          { return v.inner.GetCodeSize(addr) }
func (v *viewHost) GetCodeHash(addr types.Address) types.Hash   { return v.inner.GetCodeHash(addr) }
func (v *viewHost) CopyCode(addr types.Address) []byte          { return v.inner.CopyCode(addr) }

func (v *viewHost) Selfdestruct(addr, beneficiary types.Address) {
	v.inner.fault = errHostFault
}

// CallMessage executes nested calls against the same overlay so the whole
// view remains side-effect free.
func (v *viewHost) CallMessage(msg evm.Message) evm.Result {
	if msg.Depth > maxCallDepth {
		return evm.Result{Status: evm.Failure}
	}
	code := v.inner.st.GetCode(msg.Recipient)
	if len(code) == 0 {
		return evm.Result{Status: evm.Success, GasLeft: msg.Gas}
	}
	return v.inner.core.vm.Execute(v, msg, code)
}

func (v *viewHost) GetTxContext() evm.TxContext { return v.inner.GetTxContext() }

func (v *viewHost) GetBlockHash(depth uint64) types.Hash { return v.inner.GetBlockHash(depth) }

func (v *viewHost) EmitLog(addr types.Address, topics []types.Hash, data []byte) {}
