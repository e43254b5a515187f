package chain

import (
	"github.com/emberchain/ember/codec"
	"github.com/emberchain/ember/types"
)

// Block is one link of the ledger. Created from a template, mined (nonce
// assigned), then immutable.
type Block struct {
	depth     uint64
	nonce     uint64
	timestamp uint64
	prevHash  types.Hash
	coinbase  types.Address
	txs       *TransactionsSet
}

// NewBlock assembles a block. [txs] may be nil for an empty block.
func NewBlock(
	depth uint64,
	nonce uint64,
	timestamp uint64,
	prevHash types.Hash,
	coinbase types.Address,
	txs *TransactionsSet,
) *Block {
	if txs == nil {
		txs = NewTransactionsSet()
	}
	return &Block{
		depth:     depth,
		nonce:     nonce,
		timestamp: timestamp,
		prevHash:  prevHash,
		coinbase:  coinbase,
		txs:       txs,
	}
}

// Genesis returns the fixed parameterless first block: depth 0, null
// previous hash, timestamp 0, null coinbase, no transactions.
func Genesis() *Block {
	return NewBlock(0, 0, 0, types.NullHash, types.NullAddress, nil)
}

func (b *Block) Depth() uint64               { return b.depth }
func (b *Block) Nonce() uint64               { return b.nonce }
func (b *Block) Timestamp() uint64           { return b.timestamp }
func (b *Block) PrevHash() types.Hash        { return b.prevHash }
func (b *Block) Coinbase() types.Address     { return b.coinbase }
func (b *Block) Transactions() *TransactionsSet { return b.txs }

// WithNonce returns a copy of the block carrying [nonce]. Used by the
// miner, which owns the template and may replace the advisory nonce.
func (b *Block) WithNonce(nonce uint64) *Block {
	mined := *b
	mined.nonce = nonce
	return &mined
}

// EncodeTo writes the canonical form.
func (b *Block) EncodeTo(w *codec.Writer) {
	w.WriteUint64(b.depth)
	w.WriteUint64(b.nonce)
	w.WriteUint64(b.timestamp)
	w.WriteFixed(b.prevHash.Bytes())
	w.WriteFixed(b.coinbase.Bytes())
	w.WriteUint32(uint32(b.txs.Len()))
	for _, tx := range b.txs.List() {
		tx.EncodeTo(w)
	}
}

// DecodeBlock reads the canonical form produced by EncodeTo.
func DecodeBlock(r *codec.Reader) (*Block, error) {
	depth, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	nonce, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	timestamp, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	rawPrev, err := r.ReadFixed(types.HashLen)
	if err != nil {
		return nil, err
	}
	prevHash, _ := types.HashFromBytes(rawPrev)
	rawCoinbase, err := r.ReadFixed(types.AddressLen)
	if err != nil {
		return nil, err
	}
	coinbase, _ := types.AddressFromBytes(rawCoinbase)
	count, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	txs := NewTransactionsSet()
	for i := uint32(0); i < count; i++ {
		tx, err := DecodeTransaction(r)
		if err != nil {
			return nil, err
		}
		txs.Add(tx)
	}
	return NewBlock(depth, nonce, timestamp, prevHash, coinbase, txs), nil
}

// Hash is SHA-256 of the block's canonical serialization.
func (b *Block) Hash() types.Hash {
	w := codec.NewWriter()
	b.EncodeTo(w)
	return types.HashOf(w.Bytes())
}
