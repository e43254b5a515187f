// Package evm fixes the contract between the node engine and the embedded
// contract interpreter. The interpreter is a plug-in: it receives a Host,
// a Message and code bytes, and must express every effect through the Host
// and every outcome through the Result. Interpreter-specific error types
// never cross this boundary.
package evm

import (
	"github.com/emberchain/ember/state"
	"github.com/emberchain/ember/types"
)

// StatusCode is the tri-state outcome of one interpreter run.
type StatusCode int

const (
	// Success: effects stand, unused gas is refundable.
	Success StatusCode = iota
	// Revert: effects are rolled back, unused gas is refundable.
	Revert
	// Failure: effects are rolled back, all gas is consumed.
	Failure
)

func (s StatusCode) String() string {
	switch s {
	case Success:
		return "success"
	case Revert:
		return "revert"
	default:
		return "failure"
	}
}

// CallKind distinguishes an ordinary message call from contract creation.
type CallKind int

const (
	Call CallKind = iota
	Create
)

// Message is one invocation frame handed to the interpreter.
type Message struct {
	Kind      CallKind
	Sender    types.Address
	Recipient types.Address
	Value     types.Balance
	Input     []byte
	Gas       uint64
	Depth     int
	// Static marks a view execution; the view host keeps its storage
	// writes in an overlay that is discarded when the call returns.
	Static bool
}

// Result is everything the interpreter reports back.
type Result struct {
	Status  StatusCode
	Output  []byte
	GasLeft uint64
}

// TxContext describes the transaction and block an execution is bound to.
type TxContext struct {
	Origin      types.Address
	GasPrice    types.Balance
	Coinbase    types.Address
	BlockDepth  uint64
	Timestamp   uint64
}

// Host is the fixed interface the interpreter calls during execution.
// Each Host value is bound to exactly one (block, transaction, state
// handle) triple.
type Host interface {
	AccountExists(addr types.Address) bool

	GetStorage(addr types.Address, key types.Hash) types.Hash
	SetStorage(addr types.Address, key, value types.Hash) state.StorageStatus

	GetBalance(addr types.Address) types.Balance
	GetCodeSize(addr types.Address) int
	GetCodeHash(addr types.Address) types.Hash
	CopyCode(addr types.Address) []byte

	// Selfdestruct moves the remaining balance to [beneficiary] and marks
	// the contract for deletion on commit.
	Selfdestruct(addr, beneficiary types.Address)

	// CallMessage recurses into the engine with the same state handle.
	CallMessage(msg Message) Result

	GetTxContext() TxContext
	GetBlockHash(depth uint64) types.Hash

	// EmitLog is observed but not persisted by the engine.
	EmitLog(addr types.Address, topics []types.Hash, data []byte)
}

// VM is the embedded interpreter.
type VM interface {
	// Execute runs [code] against [host] for [msg] and reports the outcome.
	Execute(host Host, msg Message, code []byte) Result
}

// UnavailableVM is the placeholder interpreter for builds that do not link
// one: every contract execution fails, plain transfers are unaffected.
type UnavailableVM struct{}

var _ VM = UnavailableVM{}

func (UnavailableVM) Execute(Host, Message, []byte) Result {
	return Result{Status: Failure}
}
