package chain

import (
	"errors"

	"github.com/emberchain/ember/types"
)

var errBuilderIncomplete = errors.New("transaction builder missing required field")

// TransactionBuilder assembles a Transaction field by field. Build fails
// unless from, amount, fee and timestamp were all set; to defaults to the
// null address (contract creation) and data to empty.
type TransactionBuilder struct {
	from      *types.Address
	to        types.Address
	amount    *types.Balance
	fee       *types.Balance
	timestamp *uint64
	data      []byte
	sign      types.Sign
}

func (b *TransactionBuilder) SetFrom(from types.Address) *TransactionBuilder {
	b.from = &from
	return b
}

func (b *TransactionBuilder) SetTo(to types.Address) *TransactionBuilder {
	b.to = to
	return b
}

func (b *TransactionBuilder) SetAmount(amount types.Balance) *TransactionBuilder {
	b.amount = &amount
	return b
}

func (b *TransactionBuilder) SetFee(fee types.Balance) *TransactionBuilder {
	b.fee = &fee
	return b
}

func (b *TransactionBuilder) SetTimestamp(ts uint64) *TransactionBuilder {
	b.timestamp = &ts
	return b
}

func (b *TransactionBuilder) SetData(data []byte) *TransactionBuilder {
	b.data = data
	return b
}

func (b *TransactionBuilder) SetSign(sign types.Sign) *TransactionBuilder {
	b.sign = sign
	return b
}

// Build validates the collected fields and assembles the transaction.
func (b *TransactionBuilder) Build() (*Transaction, error) {
	if b.from == nil || b.amount == nil || b.fee == nil || b.timestamp == nil {
		return nil, errBuilderIncomplete
	}
	return NewTransaction(*b.from, b.to, *b.amount, *b.fee, *b.timestamp, b.data, b.sign)
}
