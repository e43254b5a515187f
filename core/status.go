package core

import (
	"github.com/emberchain/ember/chain"
	"github.com/emberchain/ember/types"
)

// StatusCode is the recorded outcome of one transaction.
type StatusCode byte

const (
	// Success: the transaction was fully applied.
	Success StatusCode = iota
	// Rejected: the transaction was never applied (bad signature,
	// duplicate, insufficient funds).
	Rejected
	// Revert: the contract reverted; the consumed fee stands, everything
	// else was rolled back.
	Revert
	// Failed: execution failed hard, in the VM or before reaching it; the
	// whole fee was consumed.
	Failed
)

func (s StatusCode) String() string {
	switch s {
	case Success:
		return "success"
	case Rejected:
		return "rejected"
	case Revert:
		return "revert"
	default:
		return "failed"
	}
}

// TransactionStatus is the tuple recorded in the transaction-output table.
type TransactionStatus struct {
	Status  StatusCode
	Action  chain.TxType
	Message string
	FeeLeft types.Balance
}

func newSuccess(action chain.TxType, feeLeft types.Balance, message string) TransactionStatus {
	return TransactionStatus{Status: Success, Action: action, Message: message, FeeLeft: feeLeft}
}

func newRejected(action chain.TxType, message string) TransactionStatus {
	return TransactionStatus{Status: Rejected, Action: action, Message: message}
}

func newRevert(action chain.TxType, feeLeft types.Balance, message string) TransactionStatus {
	return TransactionStatus{Status: Revert, Action: action, Message: message, FeeLeft: feeLeft}
}

func newFailed(action chain.TxType, message string) TransactionStatus {
	return TransactionStatus{Status: Failed, Action: action, Message: message}
}

// OK reports whether the status is Success.
func (s TransactionStatus) OK() bool {
	return s.Status == Success
}
